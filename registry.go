package feedbroker

import (
	"fmt"
	"sync"
)

// FeedFactory constructs a feed-type handle for name, owned by b. Custom
// feed types register one via Broker.RegisterFeedType (spec §9: "Source
// uses attribute injection to expose broker.queue(...), broker.job(...)
// etc ... re-architect as an explicit registry with a create(type, name,
// config) call, plus a typed accessor per built-in type").
type FeedFactory func(b *Broker, name string) Handle

// typeRegistry maps a feed type name to the factory that constructs its
// handle.
type typeRegistry struct {
	mu        sync.RWMutex
	factories map[string]FeedFactory
}

func newTypeRegistry() *typeRegistry {
	return &typeRegistry{factories: make(map[string]FeedFactory)}
}

func (r *typeRegistry) register(name string, f FeedFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *typeRegistry) create(typ string, b *Broker, name string) (Handle, error) {
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("feedbroker: no feed type registered: %q", typ)
	}
	return f(b, name), nil
}

// registerBuiltinTypes wires the four built-in feed types (spec §4.4-§4.7)
// into a fresh registry.
func registerBuiltinTypes(r *typeRegistry) {
	r.register(TypeFeed, func(b *Broker, name string) Handle { return newFeed(b, name) })
	r.register(TypeQueue, func(b *Broker, name string) Handle { return newQueue(b, name) })
	r.register(TypeJob, func(b *Broker, name string) Handle { return newJob(b, name) })
	r.register(TypeSortedFeed, func(b *Broker, name string) Handle { return newSortedFeed(b, name) })
}

// RegisterFeedType registers a custom feed type's handle factory. Unlike
// the built-ins, custom types are reached through Broker.CreateFeed (with
// the type name as the config's "type") rather than a dedicated accessor
// method — Go has no equivalent to the source's runtime attribute injection.
func (b *Broker) RegisterFeedType(name string, factory FeedFactory) {
	b.registry.register(name, factory)
}
