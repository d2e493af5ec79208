package feedbroker

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/relentnet/feedbroker/internal/metrics"
	"github.com/relentnet/feedbroker/internal/xlog"
	"github.com/relentnet/feedbroker/store"
)

// Options configures a Broker (spec §6 "Connection parameters: {host,
// port, db, listen}").
type Options struct {
	// RedisURL is parsed with redis.ParseURL, e.g. "redis://localhost:6379/0".
	RedisURL string
	// Listen enables the background subscriber (spec §4.10).
	Listen bool
}

// OptionsFromEnv reads FEEDBROKER_REDIS_URL and FEEDBROKER_LISTEN, the way
// the teacher's main.go reads REDIS_URL/DATABASE_URL before ConnectDB.
// Pair it with godotenv.Load() in process main()s that want .env support.
func OptionsFromEnv() Options {
	return Options{
		RedisURL: os.Getenv("FEEDBROKER_REDIS_URL"),
		Listen:   envBool("FEEDBROKER_LISTEN"),
	}
}

func envBool(name string) bool {
	v, _ := strconv.ParseBool(os.Getenv(name))
	return v
}

// Broker is the facade (spec §4.9): it owns the store adapter, the
// instance id, the feed-type registry, the config cache, and, if
// listening, the Listener.
type Broker struct {
	store    *store.Store
	instance string
	registry *typeRegistry
	cache    *configCache
	listener *listener
	log      zerolog.Logger
}

// New wires a Broker around an already-connected store. Most callers
// should use Dial; New exists for tests and callers that already have a
// *store.Store (e.g. one pointed at miniredis).
func New(s *store.Store, opts Options) (*Broker, error) {
	b := &Broker{
		store:    s,
		instance: uuid.NewString(),
		registry: newTypeRegistry(),
		log:      xlog.Component("broker"),
	}
	b.cache = newConfigCache(b)
	registerBuiltinTypes(b.registry)

	if opts.Listen {
		l, err := newListener(b)
		if err != nil {
			return nil, fmt.Errorf("feedbroker: starting listener: %w", err)
		}
		b.listener = l
	}
	return b, nil
}

// Dial connects to a Redis-compatible backing store and wires a Broker
// around it.
func Dial(ctx context.Context, opts Options) (*Broker, error) {
	redisOpts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("feedbroker: parsing redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("feedbroker: connecting: %w", err)
	}
	return New(store.New(client), opts)
}

// Instance returns this process's instance id (spec glossary: "a per-
// process UUID used to suppress self-delivered cache invalidations").
func (b *Broker) Instance() string { return b.instance }

// Store exposes the underlying store adapter for callers that need raw
// access (health checks, metrics wiring) without reimplementing Dial.
func (b *Broker) Store() *store.Store { return b.store }

// publish joins parts with the spec's field separator and broadcasts on
// channel via the shared command connection.
func (b *Broker) publish(ctx context.Context, channel string, parts ...string) error {
	return b.store.Publish(ctx, channel, joinNUL(parts...))
}

// CreateFeed atomically adds name to the feeds set, writes config (default
// type=feed) and publishes newfeed (spec §4.9). Fails with ErrFeedExists if
// name is already a member.
func (b *Broker) CreateFeed(ctx context.Context, name string, config Config) (Handle, error) {
	config = withDefaultType(config)
	encoded, err := encodeConfig(config)
	if err != nil {
		return nil, err
	}

	err = b.store.Transaction(ctx, []string{keyFeeds}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		isMember, err := tx.SIsMember(ctx, keyFeeds, name).Result()
		if err != nil {
			return err
		}
		if isMember {
			return errFeedExists(name)
		}

		pipe.SAdd(ctx, keyFeeds, name)
		pipe.Set(ctx, keysFor(name).config(), encoded, 0)
		pipe.Publish(ctx, chanNewFeed, joinNUL(name, b.instance))
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.FeedsCreated.WithLabelValues(config.Type()).Inc()
	return b.cache.get(ctx, name)
}

// DeleteFeed removes name from the feeds set and deletes its config key
// atomically with the delfeed broadcast (preserving invariant 1: "name ∈
// feeds ⇔ feed.config:<name> exists"); the remaining per-feed keys are
// then deleted best-effort, aggregating any failures with go-multierror
// rather than stopping at the first one, since by that point the feed is
// already gone from the client's point of view.
func (b *Broker) DeleteFeed(ctx context.Context, name string) error {
	typ := TypeFeed
	if raw, err := b.store.Get(ctx, keysFor(name).config()); err == nil && raw != "" {
		if cfg, derr := decodeConfig(raw); derr == nil {
			typ = cfg.Type()
		}
	}

	configKey := keysFor(name).config()

	err := b.store.Transaction(ctx, []string{keyFeeds}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		isMember, err := tx.SIsMember(ctx, keyFeeds, name).Result()
		if err != nil {
			return err
		}
		if !isMember {
			return errFeedDoesNotExist(name)
		}

		pipe.SRem(ctx, keyFeeds, name)
		pipe.Del(ctx, configKey)
		pipe.Publish(ctx, chanDelFeed, joinNUL(name, b.instance))
		return nil
	})
	if err != nil {
		return err
	}

	b.cache.drop(name)
	metrics.FeedsDeleted.WithLabelValues(typ).Inc()

	var result *multierror.Error
	for _, k := range keysFor(name).allKeys() {
		if k == configKey {
			continue
		}
		if err := b.store.Del(ctx, k); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", k, err))
		}
	}
	return result.ErrorOrNil()
}

// SetConfig writes config for name (creating it, and publishing newfeed
// too, if it isn't already a feed) and publishes conffeed (spec §4.9).
func (b *Broker) SetConfig(ctx context.Context, name string, config Config) error {
	config = withDefaultType(config)
	encoded, err := encodeConfig(config)
	if err != nil {
		return err
	}

	err = b.store.Transaction(ctx, []string{keyFeeds}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		isMember, err := tx.SIsMember(ctx, keyFeeds, name).Result()
		if err != nil {
			return err
		}
		if !isMember {
			pipe.SAdd(ctx, keyFeeds, name)
		}
		pipe.Set(ctx, keysFor(name).config(), encoded, 0)
		pipe.Publish(ctx, chanConfig, joinNUL(name, b.instance))
		if !isMember {
			pipe.Publish(ctx, chanNewFeed, joinNUL(name, b.instance))
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.cache.invalidateLocal(name)
	return nil
}

func withDefaultType(config Config) Config {
	if config == nil {
		config = Config{}
	} else {
		config = config.clone()
	}
	if _, ok := config["type"]; !ok {
		config["type"] = TypeFeed
	}
	return config
}

// FeedExists reports whether name is a member of the feeds set.
func (b *Broker) FeedExists(ctx context.Context, name string) (bool, error) {
	return b.store.SIsMember(ctx, keyFeeds, name)
}

// GetFeedNames returns every known feed name.
func (b *Broker) GetFeedNames(ctx context.Context) ([]string, error) {
	return b.store.SMembers(ctx, keyFeeds)
}

// GetConfig reads a feed's configuration directly from the store.
func (b *Broker) GetConfig(ctx context.Context, name string) (Config, error) {
	raw, err := b.store.Get(ctx, keysFor(name).config())
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errFeedDoesNotExist(name)
	}
	return decodeConfig(raw)
}

// feedOrCreate returns the existing handle for name, or creates it with
// type=typ if it doesn't exist yet (spec §4.9: "register_feed_type ...
// exposes a shortcut method name(feed, config?) that returns the existing
// handle if the feed exists else creates one with type = name").
func (b *Broker) feedOrCreate(ctx context.Context, name, typ string, config Config) (Handle, error) {
	exists, err := b.FeedExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return b.cache.get(ctx, name)
	}

	if config == nil {
		config = Config{}
	} else {
		config = config.clone()
	}
	config["type"] = typ
	return b.CreateFeed(ctx, name, config)
}

// Feed returns the existing Feed handle for name, creating it as a plain
// feed if it doesn't exist.
func (b *Broker) Feed(ctx context.Context, name string, config Config) (*Feed, error) {
	h, err := b.feedOrCreate(ctx, name, TypeFeed, config)
	if err != nil {
		return nil, err
	}
	fd, ok := h.(*Feed)
	if !ok {
		return nil, fmt.Errorf("feedbroker: %s is a %s, not a feed", name, h.Type())
	}
	return fd, nil
}

// Queue returns the existing Queue handle for name, creating it if it
// doesn't exist.
func (b *Broker) Queue(ctx context.Context, name string, config Config) (*Queue, error) {
	h, err := b.feedOrCreate(ctx, name, TypeQueue, config)
	if err != nil {
		return nil, err
	}
	q, ok := h.(*Queue)
	if !ok {
		return nil, fmt.Errorf("feedbroker: %s is a %s, not a queue", name, h.Type())
	}
	return q, nil
}

// Job returns the existing Job handle for name, creating it if it doesn't
// exist.
func (b *Broker) Job(ctx context.Context, name string, config Config) (*Job, error) {
	h, err := b.feedOrCreate(ctx, name, TypeJob, config)
	if err != nil {
		return nil, err
	}
	j, ok := h.(*Job)
	if !ok {
		return nil, fmt.Errorf("feedbroker: %s is a %s, not a job", name, h.Type())
	}
	return j, nil
}

// SortedFeed returns the existing SortedFeed handle for name, creating it
// if it doesn't exist.
func (b *Broker) SortedFeed(ctx context.Context, name string, config Config) (*SortedFeed, error) {
	h, err := b.feedOrCreate(ctx, name, TypeSortedFeed, config)
	if err != nil {
		return nil, err
	}
	sf, ok := h.(*SortedFeed)
	if !ok {
		return nil, fmt.Errorf("feedbroker: %s is a %s, not a sorted_feed", name, h.Type())
	}
	return sf, nil
}

// RegisterHandler registers fn for event, returning an id to pass to
// RemoveHandler. Fails with ErrNotListening if this broker wasn't dialed
// with Options.Listen set.
func (b *Broker) RegisterHandler(event EventType, fn Handler) (HandlerID, error) {
	if b.listener == nil {
		return 0, ErrNotListening
	}
	return b.listener.register(event, fn), nil
}

// RemoveHandler unregisters a handler previously returned by
// RegisterHandler.
func (b *Broker) RemoveHandler(event EventType, id HandlerID) error {
	if b.listener == nil {
		return ErrNotListening
	}
	b.listener.remove(event, id)
	return nil
}

// Close tears the listener down (if any) and closes the store connection
// (spec §5 "close() ... the main connection is disconnected").
func (b *Broker) Close(ctx context.Context) error {
	if b.listener != nil {
		if err := b.listener.close(ctx); err != nil {
			return err
		}
	}
	return b.store.Client.Close()
}
