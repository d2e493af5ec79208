package feedbroker

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relentnet/feedbroker/internal/metrics"
	"github.com/relentnet/feedbroker/store"
)

// FinishOptions controls whether Job.Finish records and broadcasts a
// result (spec §4.6: "If a result was supplied, publish on job.finish:<f>
// ... A variant may also enqueue the result into a per-job finished list
// with optional TTL").
type FinishOptions struct {
	Result    string
	HasResult bool
	TTL       time.Duration
}

// Job is a Queue variant whose items move through a claim/finish/cancel/
// stall/retry state machine instead of being destroyed on retrieval (spec
// §4.6).
type Job struct {
	*feedBase
}

func newJob(b *Broker, name string) *Job {
	return &Job{feedBase: newFeedBase(b, name, TypeJob)}
}

// Channels returns every channel a Job advertises: the publish/retract
// pair plus the claim/cancel/stall/retry/finish lifecycle channels (spec
// §4.10, §6).
func (j *Job) Channels() []string {
	return []string{
		j.keys.chanPublish(), j.keys.chanRetract(),
		j.keys.chanClaimed(), j.keys.chanCancelled(),
		j.keys.chanStalled(), j.keys.chanRetried(),
		j.keys.chanFinish(),
	}
}

// Put enqueues item (as Queue.Put), additionally recording the publish
// time in feed.published and emitting a publish event.
func (j *Job) Put(ctx context.Context, item string, priority Priority) (string, error) {
	id := newItemID()
	now := float64(time.Now().UnixNano())

	_, err := j.store().Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if priority == PriorityHigh {
			pipe.RPush(ctx, j.keys.ids(), id)
		} else {
			pipe.LPush(ctx, j.keys.ids(), id)
		}
		pipe.HSet(ctx, j.keys.items(), id, item)
		pipe.Incr(ctx, j.keys.publishes())
		pipe.ZAdd(ctx, j.keys.published(), redis.Z{Score: now, Member: id})
		pipe.Publish(ctx, j.keys.chanPublish(), joinNUL(id, item))
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Get blocks up to timeout for the next job, claims it, and returns its id,
// payload and current cancel count (0 if it's never been cancelled). The
// id moves into feed.claimed and feed.running, but its item stays in
// feed.items until Finish or Retract removes it.
func (j *Job) Get(ctx context.Context, timeout time.Duration) (id, payload string, cancelCount int, err error) {
	id, ok, err := j.store().BRPop(ctx, j.keys.ids(), timeout)
	if err != nil {
		return "", "", 0, err
	}
	if !ok {
		return "", "", 0, errEmpty(j.name)
	}

	now := strconv.FormatInt(time.Now().UnixNano(), 10)

	var getItem, getCancel *redis.StringCmd
	_, err = j.store().Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, j.keys.claimed(), redis.Z{Score: float64(time.Now().UnixNano()), Member: id})
		pipe.HSet(ctx, j.keys.running(), id, now)
		getItem = pipe.HGet(ctx, j.keys.items(), id)
		getCancel = pipe.HGet(ctx, j.keys.cancelled(), id)
		pipe.Publish(ctx, j.keys.chanClaimed(), id)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", "", 0, err
	}

	payload, _ = getItem.Result()
	if raw, cerr := getCancel.Result(); cerr == nil {
		cancelCount, _ = strconv.Atoi(raw)
	}

	metrics.JobsClaimed.WithLabelValues(j.name).Inc()
	return id, payload, cancelCount, nil
}

// Finish completes a claimed job: if id isn't currently claimed this is a
// no-op, not an error (spec §4.6 "if id is not claimed do nothing"). When
// the backing store supports server-side scripts it uses the scripted
// fast path (scripts.go); otherwise it falls back to the watch/transaction
// protocol below.
func (j *Job) Finish(ctx context.Context, id string, opts FinishOptions) error {
	if j.store().SupportsScripts(ctx) {
		return j.finishScripted(ctx, id, opts)
	}

	claimedKey := j.keys.claimed()

	err := j.store().Transaction(ctx, []string{claimedKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		_, err := tx.ZRank(ctx, claimedKey, id).Result()
		if errors.Is(err, redis.Nil) {
			return store.ErrAbort
		}
		if err != nil {
			return err
		}

		pipe.ZRem(ctx, claimedKey, id)
		pipe.HDel(ctx, j.keys.cancelled(), id)
		pipe.HDel(ctx, j.keys.running(), id)
		pipe.HDel(ctx, j.keys.items(), id)
		pipe.Incr(ctx, j.keys.finishes())

		if opts.HasResult {
			finishedKey := j.keys.finished(id)
			pipe.LPush(ctx, finishedKey, opts.Result)
			if opts.TTL > 0 {
				pipe.Expire(ctx, finishedKey, opts.TTL)
			}
			pipe.Publish(ctx, j.keys.chanFinish(), joinNUL(id, opts.Result))
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.JobsFinished.WithLabelValues(j.name).Inc()
	return nil
}

// Cancel returns a claimed job to the head of the queue and increments its
// cancel counter. A no-op if id isn't currently claimed.
func (j *Job) Cancel(ctx context.Context, id string) error {
	claimedKey := j.keys.claimed()

	err := j.store().Transaction(ctx, []string{claimedKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		_, err := tx.ZRank(ctx, claimedKey, id).Result()
		if errors.Is(err, redis.Nil) {
			return store.ErrAbort
		}
		if err != nil {
			return err
		}

		pipe.HIncrBy(ctx, j.keys.cancelled(), id, 1)
		pipe.RPush(ctx, j.keys.ids(), id)
		pipe.ZRem(ctx, claimedKey, id)
		pipe.HDel(ctx, j.keys.running(), id)
		pipe.Publish(ctx, j.keys.chanCancelled(), id)
		return nil
	})
	if err != nil {
		return err
	}

	metrics.JobsCancelled.WithLabelValues(j.name).Inc()
	return nil
}

// Stall moves a claimed job out of circulation until Retry brings it back.
// A no-op if id isn't currently claimed.
func (j *Job) Stall(ctx context.Context, id string) error {
	claimedKey := j.keys.claimed()

	return j.store().Transaction(ctx, []string{claimedKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		_, err := tx.ZRank(ctx, claimedKey, id).Result()
		if errors.Is(err, redis.Nil) {
			return store.ErrAbort
		}
		if err != nil {
			return err
		}

		pipe.ZRem(ctx, claimedKey, id)
		pipe.HDel(ctx, j.keys.cancelled(), id)
		pipe.HDel(ctx, j.keys.running(), id)
		pipe.SAdd(ctx, j.keys.stalled(), id)
		pipe.ZRem(ctx, j.keys.published(), id)
		pipe.Publish(ctx, j.keys.chanStalled(), id)
		return nil
	})
}

// Retry brings a stalled job back onto the queue. A no-op if id isn't
// currently stalled.
func (j *Job) Retry(ctx context.Context, id string) error {
	stalledKey := j.keys.stalled()

	return j.store().Transaction(ctx, []string{stalledKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		isMember, err := tx.SIsMember(ctx, stalledKey, id).Result()
		if err != nil {
			return err
		}
		if !isMember {
			return store.ErrAbort
		}

		pipe.SRem(ctx, stalledKey, id)
		pipe.LPush(ctx, j.keys.ids(), id)
		pipe.ZAdd(ctx, j.keys.published(), redis.Z{Score: float64(time.Now().UnixNano()), Member: id})
		pipe.Publish(ctx, j.keys.chanRetried(), id)
		return nil
	})
}

// Retract removes id from every job-state key regardless of its current
// state (spec §4.6).
func (j *Job) Retract(ctx context.Context, id string) error {
	itemsKey := j.keys.items()

	return j.store().Transaction(ctx, []string{itemsKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		existed, err := tx.HExists(ctx, itemsKey, id).Result()
		if err != nil {
			return err
		}
		if !existed {
			return store.ErrAbort
		}

		pipe.HDel(ctx, itemsKey, id)
		pipe.HDel(ctx, j.keys.cancelled(), id)
		pipe.HDel(ctx, j.keys.running(), id)
		pipe.ZRem(ctx, j.keys.published(), id)
		pipe.SRem(ctx, j.keys.stalled(), id)
		pipe.ZRem(ctx, j.keys.claimed(), id)
		pipe.LRem(ctx, j.keys.ids(), 1, id)
		pipe.Del(ctx, j.keys.finished(id))
		return nil
	})
}

// GetResult blocks up to timeout for a finished result pushed by Finish
// with FinishOptions.HasResult set. Only useful when results were opted
// into for this job id.
func (j *Job) GetResult(ctx context.Context, id string, timeout time.Duration) (string, error) {
	val, ok, err := j.store().BRPop(ctx, j.keys.finished(id), timeout)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errEmpty(j.name)
	}
	return val, nil
}

// Maintenance requeues any id present in feed.items that isn't accounted
// for in the queued, claimed, stalled or running sets — recovery after a
// worker crash (spec §4.6; order of reconciliation is unspecified, any
// order that requeues every orphan satisfies the post-condition).
func (j *Job) Maintenance(ctx context.Context) error {
	itemIDs, err := j.store().HKeys(ctx, j.keys.items())
	if err != nil {
		return err
	}
	queued, err := j.store().LRange(ctx, j.keys.ids(), 0, -1)
	if err != nil {
		return err
	}
	claimed, err := j.store().ZRange(ctx, j.keys.claimed(), 0, -1)
	if err != nil {
		return err
	}
	stalled, err := j.store().SMembers(ctx, j.keys.stalled())
	if err != nil {
		return err
	}
	running, err := j.store().HKeys(ctx, j.keys.running())
	if err != nil {
		return err
	}

	accounted := make(map[string]bool, len(queued)+len(claimed)+len(stalled)+len(running))
	for _, id := range queued {
		accounted[id] = true
	}
	for _, id := range claimed {
		accounted[id] = true
	}
	for _, id := range stalled {
		accounted[id] = true
	}
	for _, id := range running {
		accounted[id] = true
	}

	for _, id := range itemIDs {
		if accounted[id] {
			continue
		}
		if err := j.store().LPush(ctx, j.keys.ids(), id); err != nil {
			return err
		}
	}
	return nil
}
