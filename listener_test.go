package feedbroker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenerFiresCreateAndPublishEvents(t *testing.T) {
	b, _ := newTestBroker(t, true)
	ctx := context.Background()

	var mu sync.Mutex
	var created []string
	var published []string

	_, err := b.RegisterHandler(EventCreate, func(feed, id, extra string) {
		mu.Lock()
		created = append(created, feed)
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = b.RegisterHandler(EventPublish, func(feed, id, extra string) {
		mu.Lock()
		published = append(published, extra)
		mu.Unlock()
	})
	require.NoError(t, err)

	fd, err := b.Feed(ctx, "news", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(created) == 1 && created[0] == "news"
	}, time.Second, 10*time.Millisecond)

	_, err = fd.Publish(ctx, "hello", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(published) == 1 && published[0] == "hello"
	}, time.Second, 10*time.Millisecond)
}

func TestListenerFiresDeleteEventAndUnsubscribes(t *testing.T) {
	b, _ := newTestBroker(t, true)
	ctx := context.Background()

	var mu sync.Mutex
	var deleted []string

	_, err := b.RegisterHandler(EventDelete, func(feed, id, extra string) {
		mu.Lock()
		deleted = append(deleted, feed)
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = b.Feed(ctx, "news", nil)
	require.NoError(t, err)
	require.NoError(t, b.DeleteFeed(ctx, "news"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(deleted) == 1 && deleted[0] == "news"
	}, time.Second, 10*time.Millisecond)

	b.listener.subMu.Lock()
	_, subscribed := b.listener.feedChannels["news"]
	b.listener.subMu.Unlock()
	require.False(t, subscribed)
}

func TestListenerHandlerPanicIsRecovered(t *testing.T) {
	b, _ := newTestBroker(t, true)
	ctx := context.Background()

	fired := make(chan struct{}, 1)
	_, err := b.RegisterHandler(EventPublish, func(feed, id, extra string) {
		panic("boom")
	})
	require.NoError(t, err)
	_, err = b.RegisterHandler(EventPublish, func(feed, id, extra string) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	fd, err := b.Feed(ctx, "news", nil)
	require.NoError(t, err)
	_, err = fd.Publish(ctx, "hello", "")
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("second handler never ran after first panicked")
	}
}

func TestRegisterHandlerFailsWithoutListening(t *testing.T) {
	b, _ := newTestBroker(t, false)
	_, err := b.RegisterHandler(EventPublish, func(feed, id, extra string) {})
	require.ErrorIs(t, err, ErrNotListening)
}

func TestRemoveHandlerStopsDelivery(t *testing.T) {
	b, _ := newTestBroker(t, true)
	ctx := context.Background()

	var mu sync.Mutex
	count := 0

	id, err := b.RegisterHandler(EventPublish, func(feed, id, extra string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	fd, err := b.Feed(ctx, "news", nil)
	require.NoError(t, err)
	_, err = fd.Publish(ctx, "one", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.RemoveHandler(EventPublish, id))

	_, err = fd.Publish(ctx, "two", "")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, count)
}
