// Command feedbroker-demo dials a broker, creates one feed of each type and
// drives it through a representative sequence of operations. It's a
// walkthrough, not a server: no HTTP listener, no REPL (the Non-goals rule
// out an interactive shell).
package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/relentnet/feedbroker"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts := feedbroker.OptionsFromEnv()
	if opts.RedisURL == "" {
		opts.RedisURL = "redis://localhost:6379/0"
	}
	opts.Listen = true

	broker, err := feedbroker.Dial(ctx, opts)
	if err != nil {
		log.Fatalf("feedbroker: dial: %v", err)
	}
	defer broker.Close(ctx)

	handlerID, err := broker.RegisterHandler(feedbroker.EventPublish, func(feed, id, extra string) {
		log.Printf("publish on %s: id=%s item=%s", feed, id, extra)
	})
	if err != nil {
		log.Fatalf("feedbroker: register handler: %v", err)
	}
	defer broker.RemoveHandler(feedbroker.EventPublish, handlerID)

	if err := demoFeed(ctx, broker); err != nil {
		log.Fatalf("feed demo: %v", err)
	}
	if err := demoQueue(ctx, broker); err != nil {
		log.Fatalf("queue demo: %v", err)
	}
	if err := demoJob(ctx, broker); err != nil {
		log.Fatalf("job demo: %v", err)
	}
	if err := demoSortedFeed(ctx, broker); err != nil {
		log.Fatalf("sorted feed demo: %v", err)
	}

	log.Println("demo complete")
}

func demoFeed(ctx context.Context, broker *feedbroker.Broker) error {
	feed, err := broker.Feed(ctx, "demo.news", nil)
	if err != nil {
		return err
	}

	id, err := feed.Publish(ctx, "hello from the feed demo", "")
	if err != nil {
		return err
	}
	log.Printf("published %s to demo.news", id)

	ids, err := feed.GetIDs(ctx)
	if err != nil {
		return err
	}
	log.Printf("demo.news now has %d item(s)", len(ids))
	return nil
}

func demoQueue(ctx context.Context, broker *feedbroker.Broker) error {
	queue, err := broker.Queue(ctx, "demo.work", nil)
	if err != nil {
		return err
	}

	if _, err := queue.Put(ctx, "low priority task", feedbroker.PriorityNormal); err != nil {
		return err
	}
	if _, err := queue.Put(ctx, "urgent task", feedbroker.PriorityHigh); err != nil {
		return err
	}

	item, err := queue.Get(ctx, time.Second)
	if err != nil {
		return err
	}
	log.Printf("queue popped: %s", item)
	return nil
}

func demoJob(ctx context.Context, broker *feedbroker.Broker) error {
	job, err := broker.Job(ctx, "demo.jobs", nil)
	if err != nil {
		return err
	}

	id, err := job.Put(ctx, "resize-image:42", feedbroker.PriorityNormal)
	if err != nil {
		return err
	}

	claimedID, payload, _, err := job.Get(ctx, time.Second)
	if err != nil {
		return err
	}
	log.Printf("claimed job %s (%s): %s", claimedID, id, payload)

	return job.Finish(ctx, claimedID, feedbroker.FinishOptions{
		Result:    "resized",
		HasResult: true,
	})
}

func demoSortedFeed(ctx context.Context, broker *feedbroker.Broker) error {
	sorted, err := broker.SortedFeed(ctx, "demo.playlist", nil)
	if err != nil {
		return err
	}

	firstID, err := sorted.Append(ctx, "track one")
	if err != nil {
		return err
	}
	if _, err := sorted.Append(ctx, "track two"); err != nil {
		return err
	}
	if _, err := sorted.PublishBefore(ctx, firstID, "track zero"); err != nil {
		return err
	}

	ids, err := sorted.GetIDs(ctx)
	if err != nil {
		return err
	}
	log.Printf("demo.playlist order: %v", ids)
	return nil
}
