package feedbroker

import (
	"context"
	"fmt"
	"sync"

	"github.com/relentnet/feedbroker/store"
)

// Handle is the common contract every feed-type handle satisfies (spec
// §4.4, §9 "tagged variant over capabilities"; do not attempt deep
// inheritance). Broker, ConfigCache and Listener only ever talk to feeds
// through this interface plus each type's own exported methods.
type Handle interface {
	Name() string
	Type() string
	// Channels lists the pub/sub channels this feed advertises; the
	// Listener subscribes to them as the feed is created and unsubscribes
	// as it's destroyed (spec §4.10).
	Channels() []string

	invalidateConfig()
}

// feedBase is embedded by every feed type and implements the parts of
// Handle and the config-cache contract common to all of them (spec §9
// "property-based config accessor ... a versioned field behind a mutex
// whose read refreshes from the store iff invalidated").
type feedBase struct {
	name string
	typ  string
	b    *Broker
	keys keySchema

	mu          sync.Mutex
	config      Config
	configValid bool
}

func newFeedBase(b *Broker, name, typ string) *feedBase {
	return &feedBase{name: name, typ: typ, b: b, keys: keysFor(name)}
}

func (f *feedBase) Name() string { return f.name }
func (f *feedBase) Type() string { return f.typ }

func (f *feedBase) store() *store.Store { return f.b.store }

// invalidateConfig marks the cached config stale; the next Config call
// re-fetches it. Called by ConfigCache when a conffeed event arrives for
// this feed from another process (spec §4.3).
func (f *feedBase) invalidateConfig() {
	f.mu.Lock()
	f.configValid = false
	f.mu.Unlock()
}

// Config returns the feed's configuration, refreshing from the store the
// first time it's read or any time invalidateConfig has marked it stale.
func (f *feedBase) Config(ctx context.Context) (Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.configValid {
		return f.config.clone(), nil
	}

	raw, err := f.store().Get(ctx, f.keys.config())
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errFeedDoesNotExist(f.name)
	}
	cfg, err := decodeConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: decoding config: %w", f.name, err)
	}

	f.config = cfg
	f.configValid = true
	return cfg.clone(), nil
}

// publish joins parts with the spec's field separator and broadcasts on
// channel via the owning broker's command connection.
func (f *feedBase) publish(ctx context.Context, channel string, parts ...string) error {
	return f.b.publish(ctx, channel, parts...)
}
