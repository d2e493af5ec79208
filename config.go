package feedbroker

import (
	"encoding/json"
	"strconv"
)

// Config is a feed's string->string configuration map (spec §3). The
// recognized keys are "type" and "max_length"; unrecognized keys are kept
// verbatim so a custom feed type can stash its own settings here.
type Config map[string]string

// Type returns the feed's configured type, defaulting to "feed" per spec §6
// ("type (one of feed, queue, job, sorted_feed, plus any registered
// extension)").
func (c Config) Type() string {
	if c == nil {
		return TypeFeed
	}
	if t, ok := c["type"]; ok && t != "" {
		return t
	}
	return TypeFeed
}

// MaxLength returns the configured max_length, or 0 (unbounded) if absent
// or unparsable.
func (c Config) MaxLength() int {
	if c == nil {
		return 0
	}
	raw, ok := c["max_length"]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// clone returns a shallow copy so callers can't mutate a handle's cached
// config through a returned map.
func (c Config) clone() Config {
	if c == nil {
		return nil
	}
	cp := make(Config, len(c))
	for k, v := range c {
		cp[k] = v
	}
	return cp
}

// encodeConfig and decodeConfig serialize Config as the JSON blob stored at
// feed.config:<f> (spec §3: "hash or JSON blob"; the original stores
// json.dumps(config) via a plain GET/SET, which is what this repo does).
func encodeConfig(c Config) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeConfig(raw string) (Config, error) {
	var c Config
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, err
	}
	return c, nil
}

// Built-in feed type names (spec §6).
const (
	TypeFeed       = "feed"
	TypeQueue      = "queue"
	TypeJob        = "job"
	TypeSortedFeed = "sorted_feed"
)
