package feedbroker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Priority selects where Queue.Put inserts relative to the consumption end
// (spec §4.5 "optional head-priority insert").
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// Queue is a FIFO feed variant (spec §4.5): items are pushed, consumed by a
// single blocking pop, and never trigger publish/edit/retract events —
// queues deliver by consumption, not by broadcast.
type Queue struct {
	*feedBase
}

func newQueue(b *Broker, name string) *Queue {
	return &Queue{feedBase: newFeedBase(b, name, TypeQueue)}
}

// Channels returns no channels: queues deliver via blocking consumption,
// not pub/sub (spec §4.5).
func (q *Queue) Channels() []string { return nil }

// Put appends item to the queue (or jumps the line if priority is
// PriorityHigh) and returns the generated id. These are independent writes
// with no invariant that needs a watch, so they're issued directly (spec
// §4.1: "single-step mutations MAY use direct calls").
func (q *Queue) Put(ctx context.Context, item string, priority Priority) (string, error) {
	id := newItemID()

	var err error
	if priority == PriorityHigh {
		err = q.store().RPush(ctx, q.keys.ids(), id)
	} else {
		err = q.store().LPush(ctx, q.keys.ids(), id)
	}
	if err != nil {
		return "", err
	}
	if err := q.store().HSet(ctx, q.keys.items(), id, item); err != nil {
		return "", err
	}
	if _, err := q.store().Incr(ctx, q.keys.publishes()); err != nil {
		return "", err
	}
	return id, nil
}

// Get blocks up to timeout for the next item (0 blocks indefinitely), then
// fetches and removes its payload in one further pipelined round trip.
// Returns ErrEmpty on timeout.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (string, error) {
	id, ok, err := q.store().BRPop(ctx, q.keys.ids(), timeout)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errEmpty(q.name)
	}
	return q.takeItem(ctx, id)
}

// takeItem fetches and deletes an already-popped id's payload in one
// pipeline. The id is exclusively held by this caller (it came off a
// blocking list pop), so no watch is needed.
func (q *Queue) takeItem(ctx context.Context, id string) (string, error) {
	var get *redis.StringCmd
	_, err := q.store().Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, q.keys.items(), id)
		pipe.HDel(ctx, q.keys.items(), id)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	payload, err := get.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return payload, nil
}
