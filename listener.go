package feedbroker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/relentnet/feedbroker/internal/xlog"
)

// HandlerID identifies a registered Handler so it can later be removed.
type HandlerID int64

// channelPrefixes maps a per-feed channel's key-schema prefix to the event
// kind fired for messages on it (spec §4.10, §6).
var channelPrefixes = []struct {
	prefix string
	event  EventType
}{
	{"feed.publish:", EventPublish},
	{"feed.edit:", EventEdit},
	{"feed.retract:", EventRetract},
	{"feed.position:", EventPosition},
	{"job.finish:", EventFinish},
	{"feed.claimed:", EventClaimed},
	{"feed.cancelled:", EventCancelled},
	{"feed.stalled:", EventStalled},
	{"feed.retried:", EventRetried},
}

// listener is the dedicated subscriber of spec §4.10: one subscriber
// connection, background task, dynamic per-feed subscriptions, and
// dispatch to registered handlers. It is the only reader of its pubsub
// connection — everything else publishes over the shared command
// connection.
type listener struct {
	b      *Broker
	pubsub *redis.PubSub
	quitCh string

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	log zerolog.Logger

	mu       sync.Mutex
	handlers map[EventType]map[HandlerID]Handler
	nextID   HandlerID

	subMu        sync.Mutex
	feedChannels map[string][]string
}

func newListener(b *Broker) (*listener, error) {
	ctx, cancel := context.WithCancel(context.Background())

	l := &listener{
		b:            b,
		quitCh:       fmt.Sprintf("feedbroker.quit:%s", b.instance),
		ctx:          ctx,
		cancel:       cancel,
		log:          xlog.Component("listener"),
		handlers:     make(map[EventType]map[HandlerID]Handler),
		feedChannels: make(map[string][]string),
	}

	l.pubsub = b.store.Subscribe(ctx, chanNewFeed, chanDelFeed, chanConfig, l.quitCh)

	names, err := b.GetFeedNames(ctx)
	if err != nil {
		_ = l.pubsub.Close()
		cancel()
		return nil, err
	}
	for _, name := range names {
		h, err := b.cache.get(ctx, name)
		if err != nil {
			// Feed vanished between GetFeedNames and here; skip it, a
			// delfeed broadcast (or the absence of one, harmlessly) will
			// settle the listener's view either way.
			continue
		}
		if err := l.subscribeFeed(ctx, name, h.Channels()); err != nil {
			_ = l.pubsub.Close()
			cancel()
			return nil, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	l.g = g
	g.Go(func() error { return l.run(gctx) })

	return l, nil
}

func (l *listener) subscribeFeed(ctx context.Context, name string, channels []string) error {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	l.feedChannels[name] = channels
	if len(channels) == 0 {
		return nil
	}
	return l.pubsub.Subscribe(ctx, channels...)
}

func (l *listener) unsubscribeFeed(ctx context.Context, name string) {
	l.subMu.Lock()
	channels := l.feedChannels[name]
	delete(l.feedChannels, name)
	l.subMu.Unlock()

	if len(channels) > 0 {
		_ = l.pubsub.Unsubscribe(ctx, channels...)
	}
}

// run is the listener's only reader of the subscriber connection (spec
// §4.10). It returns when the quit channel fires or ctx is cancelled.
func (l *listener) run(ctx context.Context) error {
	ch := l.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Channel == l.quitCh {
				return nil
			}
			l.dispatch(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (l *listener) dispatch(ctx context.Context, channel, payload string) {
	switch channel {
	case chanNewFeed:
		l.handleNewFeed(ctx, payload)
		return
	case chanDelFeed:
		l.handleDelFeed(ctx, payload)
		return
	case chanConfig:
		l.handleConfig(payload)
		return
	}

	for _, p := range channelPrefixes {
		if feed, ok := strings.CutPrefix(channel, p.prefix); ok {
			id, extra := splitPayload(p.event, payload)
			l.fireEvent(p.event, feed, id, extra)
			return
		}
	}
}

// splitPayload decodes a wire payload per spec §6's per-event-type format.
func splitPayload(event EventType, payload string) (id, extra string) {
	switch event {
	case EventPublish, EventEdit, EventPosition, EventFinish:
		parts := splitNUL(payload, 2)
		if len(parts) == 2 {
			return parts[0], parts[1]
		}
		return parts[0], ""
	default:
		return payload, ""
	}
}

func (l *listener) handleNewFeed(ctx context.Context, payload string) {
	parts := splitNUL(payload, 2)
	name := parts[0]
	instance := ""
	if len(parts) == 2 {
		instance = parts[1]
	}

	h, err := l.b.cache.get(ctx, name)
	if err == nil {
		if err := l.subscribeFeed(ctx, name, h.Channels()); err != nil {
			l.log.Error().Err(err).Str("feed", name).Msg("subscribing to new feed's channels")
		}
	}

	l.fireEvent(EventCreate, name, instance, "")
}

func (l *listener) handleDelFeed(ctx context.Context, payload string) {
	parts := splitNUL(payload, 2)
	name := parts[0]
	instance := ""
	if len(parts) == 2 {
		instance = parts[1]
	}

	l.b.cache.invalidate(name, instance, true)
	l.unsubscribeFeed(ctx, name)
	l.fireEvent(EventDelete, name, instance, "")
}

func (l *listener) handleConfig(payload string) {
	parts := splitNUL(payload, 2)
	name := parts[0]
	instance := ""
	if len(parts) == 2 {
		instance = parts[1]
	}

	l.b.cache.invalidate(name, instance, false)
	l.fireEvent(EventConfig, name, instance, "")
}

func (l *listener) register(event EventType, fn Handler) HandlerID {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	if l.handlers[event] == nil {
		l.handlers[event] = make(map[HandlerID]Handler)
	}
	l.handlers[event][id] = fn
	return id
}

func (l *listener) remove(event EventType, id HandlerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers[event], id)
}

// fireEvent invokes every handler registered for event. A handler's panic
// is recovered and logged, never propagated — spec §7: "Event dispatch
// errors in user handlers ... must not terminate the listener."
func (l *listener) fireEvent(event EventType, feed, id, extra string) {
	l.mu.Lock()
	fns := make([]Handler, 0, len(l.handlers[event]))
	for _, fn := range l.handlers[event] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		l.safeCall(fn, feed, id, extra)
	}
}

func (l *listener) safeCall(fn Handler, feed, id, extra string) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Str("feed", feed).Msg("handler panic recovered")
		}
	}()
	fn(feed, id, extra)
}

// close publishes on the private quit channel so run() exits (cancelling
// the listener's context as a backstop), waits for it to finish, then
// closes the subscriber connection, which drops every subscription (spec §5).
func (l *listener) close(ctx context.Context) error {
	pubErr := l.b.store.Publish(ctx, l.quitCh, "quit")
	l.cancel()
	waitErr := l.g.Wait()
	closeErr := l.pubsub.Close()

	if pubErr != nil {
		return pubErr
	}
	if waitErr != nil {
		return waitErr
	}
	return closeErr
}
