package feedbroker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobPutGetFinish(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	j, err := b.Job(ctx, "work", nil)
	require.NoError(t, err)

	putID, err := j.Put(ctx, "payload", PriorityNormal)
	require.NoError(t, err)

	id, payload, cancelCount, err := j.Get(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, putID, id)
	require.Equal(t, "payload", payload)
	require.Zero(t, cancelCount)

	require.NoError(t, j.Finish(ctx, id, FinishOptions{}))

	_, _, _, err = j.Get(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestJobFinishWithResultIsRetrievable(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	j, err := b.Job(ctx, "work", nil)
	require.NoError(t, err)

	id, err := j.Put(ctx, "payload", PriorityNormal)
	require.NoError(t, err)

	claimedID, _, _, err := j.Get(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, j.Finish(ctx, claimedID, FinishOptions{Result: "done", HasResult: true}))

	result, err := j.GetResult(ctx, id, time.Second)
	require.NoError(t, err)
	require.Equal(t, "done", result)
}

func TestJobFinishUnclaimedIsNoOp(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	j, err := b.Job(ctx, "work", nil)
	require.NoError(t, err)

	require.NoError(t, j.Finish(ctx, "ghost", FinishOptions{}))
}

func TestJobCancelReturnsToQueueAndIncrementsCount(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	j, err := b.Job(ctx, "work", nil)
	require.NoError(t, err)

	_, err = j.Put(ctx, "payload", PriorityNormal)
	require.NoError(t, err)

	id, _, _, err := j.Get(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, j.Cancel(ctx, id))

	gotID, _, cancelCount, err := j.Get(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
	require.Equal(t, 1, cancelCount)
}

func TestJobStallAndRetry(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	j, err := b.Job(ctx, "work", nil)
	require.NoError(t, err)

	_, err = j.Put(ctx, "payload", PriorityNormal)
	require.NoError(t, err)

	id, _, _, err := j.Get(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, j.Stall(ctx, id))

	_, _, _, err = j.Get(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, j.Retry(ctx, id))

	gotID, _, _, err := j.Get(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
}

func TestJobRetractRemovesFromEveryState(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	j, err := b.Job(ctx, "work", nil)
	require.NoError(t, err)

	id, err := j.Put(ctx, "payload", PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, j.Retract(ctx, id))

	_, _, _, err = j.Get(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestJobMaintenanceRequeuesOrphans(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	j, err := b.Job(ctx, "work", nil)
	require.NoError(t, err)

	id, err := j.Put(ctx, "payload", PriorityNormal)
	require.NoError(t, err)

	// Drain the queue id directly from the store, leaving feed.items
	// populated but nothing tracking it - simulates a worker process that
	// died mid-claim.
	_, _, err = b.store.BRPop(ctx, keysFor("work").ids(), time.Second)
	require.NoError(t, err)

	require.NoError(t, j.Maintenance(ctx))

	gotID, _, _, err := j.Get(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
}
