package offline

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/trezcool/masomo-sync/core"
)

// UnknownStorePolicy decides what happens to an item whose store has no handler.
type UnknownStorePolicy string

const (
	// UnknownStoreRetry keeps the item queued with its attempts incremented.
	UnknownStoreRetry UnknownStorePolicy = "retry"
	// UnknownStoreDiscard removes the item; it still counts as failed.
	UnknownStoreDiscard UnknownStorePolicy = "discard"
)

func ParseUnknownStorePolicy(s string) (UnknownStorePolicy, error) {
	switch p := UnknownStorePolicy(core.CleanString(s, true)); p {
	case UnknownStoreRetry, UnknownStoreDiscard:
		return p, nil
	case "":
		return UnknownStoreRetry, nil
	}
	return "", fmt.Errorf("unknown store policy %q: want %q or %q", s, UnknownStoreRetry, UnknownStoreDiscard)
}

// RetryPolicy spaces out the submissions of failing items.
// The zero value retries every item on every run, forever.
type RetryPolicy struct {
	MaxAttempts     int // 0: unlimited
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Delay returns how long an item that failed `attempts` times waits before its next try.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts <= 0 || p.InitialInterval <= 0 {
		return 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.RandomizationFactor = 0
	b.Multiplier = 2
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.Reset()

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
		if d >= b.MaxInterval {
			return b.MaxInterval
		}
	}
	return d
}

// Exhausted reports whether the item reached MaxAttempts.
func (p RetryPolicy) Exhausted(item QueueItem) bool {
	return p.MaxAttempts > 0 && item.Attempts >= p.MaxAttempts
}

// Due reports whether the item may be submitted at `now`.
func (p RetryPolicy) Due(item QueueItem, now time.Time) bool {
	if item.Attempts == 0 || item.LastAttemptAt.IsZero() {
		return true
	}
	return !now.Before(item.LastAttemptAt.Add(p.Delay(item.Attempts)))
}
