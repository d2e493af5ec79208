package feedbroker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relentnet/feedbroker/internal/metrics"
	"github.com/relentnet/feedbroker/store"
)

// Feed is the base feed type (spec §4.4): an unbounded or length-bounded
// collection of items ordered by publish time.
type Feed struct {
	*feedBase
}

func newFeed(b *Broker, name string) *Feed {
	return &Feed{feedBase: newFeedBase(b, name, TypeFeed)}
}

// Channels returns the channels a Feed advertises to the Listener. Spec
// §4.4's original get_channels() returns only publish and retract, but
// §6's wire-format table also defines feed.edit:<f>, and §4.10 fires edit
// handlers from it — so a Listener has to subscribe to it too.
func (fd *Feed) Channels() []string {
	return []string{fd.keys.chanPublish(), fd.keys.chanEdit(), fd.keys.chanRetract()}
}

// GetIDs returns every item id ordered by publish time, oldest first.
func (fd *Feed) GetIDs(ctx context.Context) ([]string, error) {
	return fd.store().ZRange(ctx, fd.keys.ids(), 0, -1)
}

// GetItem returns an item's payload; ok is false if id is unknown.
func (fd *Feed) GetItem(ctx context.Context, id string) (string, bool, error) {
	return fd.store().HGet(ctx, fd.keys.items(), id)
}

// GetAll returns every item keyed by id.
func (fd *Feed) GetAll(ctx context.Context) (map[string]string, error) {
	return fd.store().HGetAll(ctx, fd.keys.items())
}

// Publish inserts a new item, or edits an existing one if id already names
// one, under a watch on feed.ids (spec §4.4). If id is empty a fresh id is
// generated. Returns the id used.
func (fd *Feed) Publish(ctx context.Context, item, id string) (string, error) {
	if id == "" {
		id = newItemID()
	}

	cfg, err := fd.Config(ctx)
	if err != nil {
		return "", err
	}
	maxLength := cfg.MaxLength()

	idsKey := fd.keys.ids()
	itemsKey := fd.keys.items()

	err = fd.store().Transaction(ctx, []string{idsKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		existed, err := tx.HExists(ctx, itemsKey, id).Result()
		if err != nil {
			return err
		}

		var toEvict []string
		if maxLength > 0 {
			oldest, err := tx.ZRange(ctx, idsKey, 0, -int64(maxLength)).Result()
			if err != nil {
				return err
			}
			for _, evictID := range oldest {
				if evictID != id {
					toEvict = append(toEvict, evictID)
				}
			}
		}

		pipe.ZAdd(ctx, idsKey, redis.Z{Score: float64(time.Now().UnixNano()), Member: id})
		pipe.HSet(ctx, itemsKey, id, item)
		pipe.Incr(ctx, fd.keys.publishes())

		for _, evictID := range toEvict {
			pipe.ZRem(ctx, idsKey, evictID)
			pipe.HDel(ctx, itemsKey, evictID)
			pipe.Publish(ctx, fd.keys.chanRetract(), evictID)
		}

		channel := fd.keys.chanPublish()
		if existed {
			channel = fd.keys.chanEdit()
		}
		pipe.Publish(ctx, channel, joinNUL(id, item))

		return nil
	})
	if err != nil {
		return "", err
	}

	metrics.ItemsPublished.WithLabelValues(fd.name).Inc()
	return id, nil
}

// Retract removes id, if it exists, under a watch on feed.ids; removing an
// absent id is a no-op, not an error (spec §4.4).
func (fd *Feed) Retract(ctx context.Context, id string) error {
	idsKey := fd.keys.ids()
	itemsKey := fd.keys.items()

	err := fd.store().Transaction(ctx, []string{idsKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		existed, err := tx.HExists(ctx, itemsKey, id).Result()
		if err != nil {
			return err
		}
		if !existed {
			return store.ErrAbort
		}

		pipe.ZRem(ctx, idsKey, id)
		pipe.HDel(ctx, itemsKey, id)
		pipe.Publish(ctx, fd.keys.chanRetract(), id)
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ItemsRetracted.WithLabelValues(fd.name).Inc()
	return nil
}
