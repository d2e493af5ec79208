package feedbroker

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeedPublishAndGetIDs(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	fd, err := b.Feed(ctx, "news", nil)
	require.NoError(t, err)

	id1, err := fd.Publish(ctx, "first", "")
	require.NoError(t, err)
	id2, err := fd.Publish(ctx, "second", "")
	require.NoError(t, err)

	ids, err := fd.GetIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{id1, id2}, ids)

	item, ok, err := fd.GetItem(ctx, id2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", item)
}

func TestFeedPublishWithExplicitIDEdits(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	fd, err := b.Feed(ctx, "news", nil)
	require.NoError(t, err)

	id, err := fd.Publish(ctx, "v1", "")
	require.NoError(t, err)

	_, err = fd.Publish(ctx, "v2", id)
	require.NoError(t, err)

	ids, err := fd.GetIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	item, _, err := fd.GetItem(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "v2", item)
}

func TestFeedRetractIsNoOpForUnknownID(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	fd, err := b.Feed(ctx, "news", nil)
	require.NoError(t, err)

	require.NoError(t, fd.Retract(ctx, "ghost"))
}

func TestFeedRetractRemovesItem(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	fd, err := b.Feed(ctx, "news", nil)
	require.NoError(t, err)

	id, err := fd.Publish(ctx, "bye", "")
	require.NoError(t, err)
	require.NoError(t, fd.Retract(ctx, id))

	_, ok, err := fd.GetItem(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFeedMaxLengthEvictsOldest(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	fd, err := b.Feed(ctx, "news", Config{"max_length": "5"})
	require.NoError(t, err)

	var ids []string
	for i := 1; i <= 5; i++ {
		id, err := fd.Publish(ctx, strconv.Itoa(i), strconv.Itoa(i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	_, err = fd.Publish(ctx, "6", "6")
	require.NoError(t, err)

	remaining, err := fd.GetIDs(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 5)
	require.NotContains(t, remaining, ids[0])
	require.Contains(t, remaining, "6")
}
