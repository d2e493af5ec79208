package feedbroker

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/relentnet/feedbroker/store"
)

func newTestBroker(t *testing.T, listen bool) (*Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	b, err := New(store.New(client), Options{Listen: listen})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close(context.Background()) })

	return b, mr
}

func TestCreateFeedAndExists(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	_, err := b.CreateFeed(ctx, "news", Config{"type": TypeFeed})
	require.NoError(t, err)

	exists, err := b.FeedExists(ctx, "news")
	require.NoError(t, err)
	require.True(t, exists)

	names, err := b.GetFeedNames(ctx)
	require.NoError(t, err)
	require.Contains(t, names, "news")
}

func TestCreateFeedTwiceFails(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	_, err := b.CreateFeed(ctx, "news", nil)
	require.NoError(t, err)

	_, err = b.CreateFeed(ctx, "news", nil)
	require.ErrorIs(t, err, ErrFeedExists)
}

func TestDeleteFeedRemovesConfigAndKeys(t *testing.T) {
	b, mr := newTestBroker(t, false)
	ctx := context.Background()

	fd, err := b.Feed(ctx, "news", nil)
	require.NoError(t, err)
	_, err = fd.Publish(ctx, "hello", "")
	require.NoError(t, err)

	require.NoError(t, b.DeleteFeed(ctx, "news"))

	exists, err := b.FeedExists(ctx, "news")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = b.GetConfig(ctx, "news")
	require.ErrorIs(t, err, ErrFeedDoesNotExist)

	require.False(t, mr.Exists(keysFor("news").ids()))
	require.False(t, mr.Exists(keysFor("news").items()))
	require.False(t, mr.Exists(keysFor("news").publishes()))
}

func TestDeleteFeedDoesNotExist(t *testing.T) {
	b, _ := newTestBroker(t, false)
	err := b.DeleteFeed(context.Background(), "nope")
	require.ErrorIs(t, err, ErrFeedDoesNotExist)
}

func TestSetConfigCreatesFeedIfMissing(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	require.NoError(t, b.SetConfig(ctx, "news", Config{"max_length": "10"}))

	cfg, err := b.GetConfig(ctx, "news")
	require.NoError(t, err)
	require.Equal(t, 10, cfg.MaxLength())
}

func TestFeedOrCreateReturnsExistingHandle(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	q1, err := b.Queue(ctx, "work", nil)
	require.NoError(t, err)
	q2, err := b.Queue(ctx, "work", nil)
	require.NoError(t, err)
	require.Same(t, q1, q2)
}

func TestTypedAccessorWrongTypeErrors(t *testing.T) {
	b, _ := newTestBroker(t, false)
	ctx := context.Background()

	_, err := b.Feed(ctx, "work", nil)
	require.NoError(t, err)

	_, err = b.Queue(ctx, "work", nil)
	require.Error(t, err)
}
