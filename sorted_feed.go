package feedbroker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/relentnet/feedbroker/internal/metrics"
	"github.com/relentnet/feedbroker/store"
)

// SortedFeed is a Feed variant with manually directed positional ordering
// instead of publish-time ordering (spec §4.7). feed.ids is a plain list
// here, not a sorted set — position is whatever the list order says it is.
type SortedFeed struct {
	*feedBase
}

func newSortedFeed(b *Broker, name string) *SortedFeed {
	return &SortedFeed{feedBase: newFeedBase(b, name, TypeSortedFeed)}
}

// Channels returns publish, retract and position — sorted feeds additionally
// broadcast position changes that plain Feeds don't have (spec §4.7).
func (sf *SortedFeed) Channels() []string {
	return []string{sf.keys.chanPublish(), sf.keys.chanRetract(), sf.keys.chanPosition()}
}

// sortedPosition is the parsed form of a position tag: "begin:", ":end",
// ":<refid>" (before refid) or "<refid>:" (after refid) — spec §4.7, §6.
type sortedPosition struct {
	begin, end bool
	before     bool
	ref        string
}

func parseSortedPosition(position string) (sortedPosition, error) {
	switch {
	case position == "begin:":
		return sortedPosition{begin: true}, nil
	case position == ":end":
		return sortedPosition{end: true}, nil
	case strings.HasPrefix(position, ":"):
		return sortedPosition{before: true, ref: position[1:]}, nil
	case strings.HasSuffix(position, ":"):
		return sortedPosition{ref: strings.TrimSuffix(position, ":")}, nil
	default:
		return sortedPosition{}, fmt.Errorf("feedbroker: malformed position %q", position)
	}
}

// GetIDs returns every item id in positional order.
func (sf *SortedFeed) GetIDs(ctx context.Context) ([]string, error) {
	return sf.store().LRange(ctx, sf.keys.ids(), 0, -1)
}

// GetItem returns an item's payload; ok is false if id is unknown.
func (sf *SortedFeed) GetItem(ctx context.Context, id string) (string, bool, error) {
	return sf.store().HGet(ctx, sf.keys.items(), id)
}

// GetAll returns every item keyed by id.
func (sf *SortedFeed) GetAll(ctx context.Context) (map[string]string, error) {
	return sf.store().HGetAll(ctx, sf.keys.items())
}

func (sf *SortedFeed) nextID(ctx context.Context) (string, error) {
	n, err := sf.store().Incr(ctx, sf.keys.idincr())
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

// Publish appends item to the end of the feed (spec §4.7; Append is an
// alias of Publish, matching the original).
func (sf *SortedFeed) Publish(ctx context.Context, item string) (string, error) {
	id, err := sf.nextID(ctx)
	if err != nil {
		return "", err
	}

	_, err = sf.store().Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, sf.keys.ids(), id)
		pipe.Incr(ctx, sf.keys.publishes())
		pipe.HSet(ctx, sf.keys.items(), id, item)
		pipe.Publish(ctx, sf.keys.chanPublish(), joinNUL(id, item))
		pipe.Publish(ctx, sf.keys.chanPosition(), joinNUL(id, ":end"))
		return nil
	})
	if err != nil {
		return "", err
	}

	metrics.ItemsPublished.WithLabelValues(sf.name).Inc()
	return id, nil
}

// Append is an alias of Publish (spec §4.7).
func (sf *SortedFeed) Append(ctx context.Context, item string) (string, error) {
	return sf.Publish(ctx, item)
}

// Prepend adds item to the beginning of the feed.
func (sf *SortedFeed) Prepend(ctx context.Context, item string) (string, error) {
	id, err := sf.nextID(ctx)
	if err != nil {
		return "", err
	}

	_, err = sf.store().Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, sf.keys.ids(), id)
		pipe.Incr(ctx, sf.keys.publishes())
		pipe.HSet(ctx, sf.keys.items(), id, item)
		pipe.Publish(ctx, sf.keys.chanPublish(), joinNUL(id, item))
		pipe.Publish(ctx, sf.keys.chanPosition(), joinNUL(id, "begin:"))
		return nil
	})
	if err != nil {
		return "", err
	}

	metrics.ItemsPublished.WithLabelValues(sf.name).Inc()
	return id, nil
}

// publishRelative implements PublishBefore/PublishAfter. Matching the
// original, the new id is minted from feed.idincr before the ref check, so
// a missing ref still consumes an id — a gap in the sequence, not an error.
func (sf *SortedFeed) publishRelative(ctx context.Context, refID, item string, before bool) (string, error) {
	id, err := sf.nextID(ctx)
	if err != nil {
		return "", err
	}

	itemsKey := sf.keys.items()
	idsKey := sf.keys.ids()

	posTag := refID + ":"
	if before {
		posTag = ":" + refID
	}

	err = sf.store().Transaction(ctx, []string{itemsKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		existed, err := tx.HExists(ctx, itemsKey, refID).Result()
		if err != nil {
			return err
		}
		if !existed {
			return store.ErrAbort
		}

		if before {
			pipe.LInsertBefore(ctx, idsKey, refID, id)
		} else {
			pipe.LInsertAfter(ctx, idsKey, refID, id)
		}
		pipe.HSet(ctx, itemsKey, id, item)
		pipe.Publish(ctx, sf.keys.chanPublish(), joinNUL(id, item))
		pipe.Publish(ctx, sf.keys.chanPosition(), joinNUL(id, posTag))
		return nil
	})
	if err != nil {
		return "", err
	}

	metrics.ItemsPublished.WithLabelValues(sf.name).Inc()
	return id, nil
}

// PublishBefore inserts item immediately before refID.
func (sf *SortedFeed) PublishBefore(ctx context.Context, refID, item string) (string, error) {
	return sf.publishRelative(ctx, refID, item, true)
}

// PublishAfter inserts item immediately after refID.
func (sf *SortedFeed) PublishAfter(ctx context.Context, refID, item string) (string, error) {
	return sf.publishRelative(ctx, refID, item, false)
}

// Edit updates an existing item's payload in place and emits a publish
// event (spec §4.7: "the position event layer treats it as edit").
func (sf *SortedFeed) Edit(ctx context.Context, id, item string) error {
	itemsKey := sf.keys.items()

	err := sf.store().Transaction(ctx, []string{itemsKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		existed, err := tx.HExists(ctx, itemsKey, id).Result()
		if err != nil {
			return err
		}
		if !existed {
			return store.ErrAbort
		}

		pipe.HSet(ctx, itemsKey, id, item)
		pipe.Incr(ctx, sf.keys.publishes())
		pipe.Publish(ctx, sf.keys.chanPublish(), joinNUL(id, item))
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ItemsPublished.WithLabelValues(sf.name).Inc()
	return nil
}

// Move relocates an existing item to the position described by position
// ("begin:", ":end", ":<refid>" or "<refid>:"). A no-op if id, or the
// referenced id, doesn't exist.
func (sf *SortedFeed) Move(ctx context.Context, id, position string) error {
	pos, err := parseSortedPosition(position)
	if err != nil {
		return err
	}

	itemsKey := sf.keys.items()
	idsKey := sf.keys.ids()

	return sf.store().Transaction(ctx, []string{itemsKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		existed, err := tx.HExists(ctx, itemsKey, id).Result()
		if err != nil {
			return err
		}
		if !existed {
			return store.ErrAbort
		}

		if !pos.begin && !pos.end {
			refExists, err := tx.HExists(ctx, itemsKey, pos.ref).Result()
			if err != nil {
				return err
			}
			if !refExists {
				return store.ErrAbort
			}
		}

		pipe.LRem(ctx, idsKey, 1, id)
		switch {
		case pos.begin:
			pipe.LPush(ctx, idsKey, id)
		case pos.end:
			pipe.RPush(ctx, idsKey, id)
		case pos.before:
			pipe.LInsertBefore(ctx, idsKey, pos.ref, id)
		default:
			pipe.LInsertAfter(ctx, idsKey, pos.ref, id)
		}
		pipe.Publish(ctx, sf.keys.chanPosition(), joinNUL(id, position))
		return nil
	})
}

// MoveBefore moves id to immediately before refID.
func (sf *SortedFeed) MoveBefore(ctx context.Context, id, refID string) error {
	return sf.Move(ctx, id, ":"+refID)
}

// MoveAfter moves id to immediately after refID.
func (sf *SortedFeed) MoveAfter(ctx context.Context, id, refID string) error {
	return sf.Move(ctx, id, refID+":")
}

// MoveFirst moves id to the start of the feed.
func (sf *SortedFeed) MoveFirst(ctx context.Context, id string) error {
	return sf.Move(ctx, id, "begin:")
}

// MoveLast moves id to the end of the feed.
func (sf *SortedFeed) MoveLast(ctx context.Context, id string) error {
	return sf.Move(ctx, id, ":end")
}

// Retract removes id from the feed, if present; a no-op otherwise.
func (sf *SortedFeed) Retract(ctx context.Context, id string) error {
	itemsKey := sf.keys.items()
	idsKey := sf.keys.ids()

	err := sf.store().Transaction(ctx, []string{itemsKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		existed, err := tx.HExists(ctx, itemsKey, id).Result()
		if err != nil {
			return err
		}
		if !existed {
			return store.ErrAbort
		}

		pipe.LRem(ctx, idsKey, 1, id)
		pipe.HDel(ctx, itemsKey, id)
		pipe.Publish(ctx, sf.keys.chanRetract(), id)
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ItemsRetracted.WithLabelValues(sf.name).Inc()
	return nil
}
