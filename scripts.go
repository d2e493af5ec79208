package feedbroker

import (
	"context"
	_ "embed"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relentnet/feedbroker/internal/metrics"
)

//go:embed scripts/job_finish.lua
var jobFinishSource string

var jobFinishScript = redis.NewScript(jobFinishSource)

// finishScripted is the optional server-side fast path for Job.Finish
// (spec §9 Design Notes: "a type may ship a script per verb and call it
// by hash to collapse a multi-step transaction to one round trip"). It
// performs exactly the same state transition as Finish's watch/transaction
// body, just evaluated on the server; go-redis caches the script's SHA
// and falls back to a full EVAL transparently if EVALSHA reports NOSCRIPT.
func (j *Job) finishScripted(ctx context.Context, id string, opts FinishOptions) error {
	hasResult := "0"
	if opts.HasResult {
		hasResult = "1"
	}
	ttlSeconds := int64(opts.TTL / time.Second)

	keys := []string{
		j.keys.claimed(), j.keys.items(), j.keys.cancelled(),
		j.keys.running(), j.keys.finishes(), j.keys.finished(id),
		j.keys.chanFinish(),
	}
	res, err := jobFinishScript.Run(ctx, j.store().Client, keys,
		id, hasResult, opts.Result, strconv.FormatInt(ttlSeconds, 10),
	).Result()
	if err != nil {
		return err
	}

	if claimed, _ := res.(int64); claimed == 0 {
		return nil
	}

	metrics.JobsFinished.WithLabelValues(j.name).Inc()
	return nil
}
