// Package metrics exposes Prometheus counters for feed/queue/job lifecycle
// events, grounded on cuemby-warren's use of prometheus/client_golang.
// Registration is left to the caller (see MustRegister); feedbroker never
// registers these collectors on its own and never starts its own HTTP handler — callers that want to
// serve /metrics mount promhttp.Handler() themselves.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// FeedsCreated/FeedsDeleted count Broker.CreateFeed/DeleteFeed calls by
	// feed type.
	FeedsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedbroker",
		Name:      "feeds_created_total",
		Help:      "Feeds created, by feed type.",
	}, []string{"type"})

	FeedsDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedbroker",
		Name:      "feeds_deleted_total",
		Help:      "Feeds deleted, by feed type.",
	}, []string{"type"})

	ItemsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedbroker",
		Name:      "items_published_total",
		Help:      "Items published or edited, by feed name.",
	}, []string{"feed"})

	ItemsRetracted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedbroker",
		Name:      "items_retracted_total",
		Help:      "Items retracted, by feed name.",
	}, []string{"feed"})

	JobsClaimed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedbroker",
		Name:      "jobs_claimed_total",
		Help:      "Jobs claimed via Job.Get, by feed name.",
	}, []string{"feed"})

	JobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedbroker",
		Name:      "jobs_finished_total",
		Help:      "Jobs finished, by feed name.",
	}, []string{"feed"})

	JobsCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedbroker",
		Name:      "jobs_cancelled_total",
		Help:      "Jobs cancelled back onto the queue, by feed name.",
	}, []string{"feed"})

	TransactionRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedbroker",
		Name:      "transaction_retries_total",
		Help:      "Optimistic-concurrency retries in Store.Transaction, by watched key.",
	}, []string{"key"})
)

// Registerer is satisfied by *prometheus.Registry and the default registry.
type Registerer interface {
	Register(prometheus.Collector) error
}

// MustRegister registers every feedbroker collector against reg. Call it
// once at process startup if you want these metrics exported; feedbroker
// itself never registers against the default registry implicitly, so tests
// and multi-broker processes don't collide on duplicate registration.
func MustRegister(reg Registerer) {
	for _, c := range []prometheus.Collector{
		FeedsCreated, FeedsDeleted, ItemsPublished, ItemsRetracted,
		JobsClaimed, JobsFinished, JobsCancelled, TransactionRetries,
	} {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				_ = are
				continue
			}
			panic(err)
		}
	}
}
