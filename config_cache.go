package feedbroker

import (
	"context"
	"fmt"
	"sync"
)

// configCache maps feed name to a live handle (spec §4.3), constructing
// handles lazily from the feed's stored type and invalidating them on
// broadcast config/delete events from other processes. The map itself is
// guarded by mu; each handle guards its own cached config with its own
// lock (feedBase.mu).
type configCache struct {
	b *Broker

	mu      sync.Mutex
	handles map[string]Handle
}

func newConfigCache(b *Broker) *configCache {
	return &configCache{b: b, handles: make(map[string]Handle)}
}

// get returns the handle for name, constructing it on first use by reading
// feed.config:<name> and dispatching on its "type" field. Fails with
// errFeedDoesNotExist if the feed is unknown.
func (c *configCache) get(ctx context.Context, name string) (Handle, error) {
	c.mu.Lock()
	if h, ok := c.handles[name]; ok {
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	raw, err := c.b.store.Get(ctx, keysFor(name).config())
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errFeedDoesNotExist(name)
	}
	cfg, err := decodeConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: decoding config: %w", name, err)
	}

	h, err := c.b.registry.create(cfg.Type(), c.b, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.handles[name]; ok {
		return existing, nil
	}
	c.handles[name] = h
	return h, nil
}

// invalidate applies a conffeed/delfeed broadcast (spec §4.3): if
// instance matches this process's own instance id the change originated
// here and is ignored (this process already has the freshest state); an
// isDelete notification drops the cache entry outright, otherwise the
// entry's config is merely marked stale so the next read re-fetches it.
func (c *configCache) invalidate(name, instance string, isDelete bool) {
	if instance == c.b.instance {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if isDelete {
		delete(c.handles, name)
		return
	}
	if h, ok := c.handles[name]; ok {
		h.invalidateConfig()
	}
}

// invalidateLocal marks name's cached config stale regardless of
// originating instance. Used by Broker.SetConfig right after it commits a
// config write this process made itself — the Listener will never fire a
// conffeed handler for it locally (invalidate() ignores self-originated
// events), so the cache has to be told directly.
func (c *configCache) invalidateLocal(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[name]; ok {
		h.invalidateConfig()
	}
}

// drop removes name from the cache unconditionally, regardless of
// originating instance — used locally by Broker.DeleteFeed right after it
// publishes delfeed itself.
func (c *configCache) drop(name string) {
	c.mu.Lock()
	delete(c.handles, name)
	c.mu.Unlock()
}
