package feedbroker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueuePutGetFIFO(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	q, err := b.Queue(ctx, "work", nil)
	require.NoError(t, err)

	_, err = q.Put(ctx, "first", PriorityNormal)
	require.NoError(t, err)
	_, err = q.Put(ctx, "second", PriorityNormal)
	require.NoError(t, err)

	item, err := q.Get(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "first", item)

	item, err = q.Get(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "second", item)
}

func TestQueueHighPriorityJumpsLine(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	q, err := b.Queue(ctx, "work", nil)
	require.NoError(t, err)

	_, err = q.Put(ctx, "normal", PriorityNormal)
	require.NoError(t, err)
	_, err = q.Put(ctx, "urgent", PriorityHigh)
	require.NoError(t, err)

	item, err := q.Get(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "urgent", item)
}

func TestQueueGetTimesOutWhenEmpty(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	q, err := b.Queue(ctx, "work", nil)
	require.NoError(t, err)

	_, err = q.Get(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestQueueHasNoChannels(t *testing.T) {
	b, _ := newTestBroker(t, false)
	q, err := b.Queue(context.Background(), "work", nil)
	require.NoError(t, err)
	require.Empty(t, q.Channels())
}
