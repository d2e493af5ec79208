package feedbroker

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, §7. Wrap with fmt.Errorf("...: %w") so callers can
// use errors.Is against these values regardless of the feed/job name
// attached to a given occurrence.
var (
	ErrFeedExists       = errors.New("feed already exists")
	ErrFeedDoesNotExist = errors.New("feed does not exist")
	ErrItemDoesNotExist = errors.New("item does not exist")
	ErrEmpty            = errors.New("blocking retrieval timed out")
	ErrJobDoesNotExist  = errors.New("job does not exist")
	ErrJobNotPending    = errors.New("job not pending")
	ErrNotListening     = errors.New("broker instance is not configured to listen")
)

func errFeedExists(feed string) error {
	return fmt.Errorf("%s: %w", feed, ErrFeedExists)
}

func errFeedDoesNotExist(feed string) error {
	return fmt.Errorf("%s: %w", feed, ErrFeedDoesNotExist)
}

func errItemDoesNotExist(feed, id string) error {
	return fmt.Errorf("%s/%s: %w", feed, id, ErrItemDoesNotExist)
}

func errJobDoesNotExist(feed, id string) error {
	return fmt.Errorf("%s/%s: %w", feed, id, ErrJobDoesNotExist)
}

func errJobNotPending(feed, id string) error {
	return fmt.Errorf("%s/%s: %w", feed, id, ErrJobNotPending)
}

func errEmpty(feed string) error {
	return fmt.Errorf("%s: %w", feed, ErrEmpty)
}
