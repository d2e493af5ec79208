package feedbroker

import "strings"

// fieldSep is the universal in-payload field separator (spec §6: "The byte
// \x00 is the in-payload separator for every multi-field event." Earlier
// source revisions used ':'; spec mandates \x00 unconditionally).
const fieldSep = "\x00"

func joinNUL(parts ...string) string {
	return strings.Join(parts, fieldSep)
}

// splitNUL splits a wire payload into at most n fields. Fields beyond the
// first n-1 separators are left joined in the final element, so a payload
// value may itself contain \x00 without truncating earlier fields.
func splitNUL(payload string, n int) []string {
	return strings.SplitN(payload, fieldSep, n)
}

// EventType enumerates the kinds of event a Listener dispatches to
// registered handlers (spec §4.10).
type EventType string

const (
	EventCreate    EventType = "create"
	EventDelete    EventType = "delete"
	EventConfig    EventType = "config"
	EventPublish   EventType = "publish"
	EventEdit      EventType = "edit"
	EventRetract   EventType = "retract"
	EventPosition  EventType = "position"
	EventFinish    EventType = "finish"
	EventClaimed   EventType = "claimed"
	EventCancelled EventType = "cancelled"
	EventStalled   EventType = "stalled"
	EventRetried   EventType = "retried"
)

// Handler receives a dispatched event. feed is always the feed name; id and
// extra carry whatever additional fields that event's wire format defines
// (spec §6) — either may be empty depending on the event type.
type Handler func(feed, id, extra string)
