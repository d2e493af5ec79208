package feedbroker

import "fmt"

// Global, feed-independent keys and channels (spec §3 "Global keys").
const (
	keyFeeds    = "feeds"
	chanNewFeed = "newfeed"
	chanDelFeed = "delfeed"
	chanConfig  = "conffeed"
)

// keySchema holds every per-feed key and channel name derived from a feed's
// name, per spec §3. Pure functions of the feed name — no state, no I/O.
type keySchema struct {
	feed string
}

func keysFor(feed string) keySchema {
	return keySchema{feed: feed}
}

func (k keySchema) config() string     { return fmt.Sprintf("feed.config:%s", k.feed) }
func (k keySchema) ids() string        { return fmt.Sprintf("feed.ids:%s", k.feed) }
func (k keySchema) items() string      { return fmt.Sprintf("feed.items:%s", k.feed) }
func (k keySchema) publishes() string  { return fmt.Sprintf("feed.publishes:%s", k.feed) }
func (k keySchema) idincr() string     { return fmt.Sprintf("feed.idincr:%s", k.feed) }
func (k keySchema) published() string  { return fmt.Sprintf("feed.published:%s", k.feed) }
func (k keySchema) claimed() string    { return fmt.Sprintf("feed.claimed:%s", k.feed) }
func (k keySchema) stalled() string    { return fmt.Sprintf("feed.stalled:%s", k.feed) }
func (k keySchema) running() string    { return fmt.Sprintf("feed.running:%s", k.feed) }
func (k keySchema) cancelled() string  { return fmt.Sprintf("feed.cancelled:%s", k.feed) }
func (k keySchema) finishes() string   { return fmt.Sprintf("feed.finishes:%s", k.feed) }
func (k keySchema) finished(id string) string {
	return fmt.Sprintf("feed.finished:%s\x00%s", k.feed, id)
}

// Channel names. Per spec §6 a few of these are spelled identically to a
// per-feed store key from the table above (e.g. "feed.claimed:<f>" names
// both the claim-time sorted set and the claimed-event channel); that's not
// a collision because Redis keeps keys and pub/sub channels in separate
// namespaces, and the spec's own wire-format table uses the bare name.
func (k keySchema) chanPublish() string   { return fmt.Sprintf("feed.publish:%s", k.feed) }
func (k keySchema) chanEdit() string      { return fmt.Sprintf("feed.edit:%s", k.feed) }
func (k keySchema) chanRetract() string   { return fmt.Sprintf("feed.retract:%s", k.feed) }
func (k keySchema) chanPosition() string  { return fmt.Sprintf("feed.position:%s", k.feed) }
func (k keySchema) chanClaimed() string   { return fmt.Sprintf("feed.claimed:%s", k.feed) }
func (k keySchema) chanCancelled() string { return fmt.Sprintf("feed.cancelled:%s", k.feed) }
func (k keySchema) chanStalled() string   { return fmt.Sprintf("feed.stalled:%s", k.feed) }
func (k keySchema) chanRetried() string   { return fmt.Sprintf("feed.retried:%s", k.feed) }
func (k keySchema) chanFinish() string    { return fmt.Sprintf("job.finish:%s", k.feed) }

// allKeys returns every fixed per-feed key (not channel) that any feed type
// may have written, for use by Broker.DeleteFeed. It is deliberately a
// superset — deleting a key that was never written is a harmless no-op in
// the backing store. The per-job result lists (finished(id)) are keyed by
// job id and are not included.
func (k keySchema) allKeys() []string {
	keys := []string{
		k.config(), k.ids(), k.items(), k.publishes(), k.idincr(),
		k.published(), k.claimed(), k.stalled(), k.running(),
		k.cancelled(), k.finishes(),
	}
	return keys
}
