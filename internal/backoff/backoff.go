// Package backoff implements the exponential backoff used by both the
// HTTP client's retry loop and the pub/sub connection's reconnect loop.
package backoff

import (
	"math/rand"
	"time"
)

// Backoff produces a sequence of exponentially increasing delays, capped
// at Max, with jitter to avoid thundering-herd reconnects.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	attempt int
}

// New returns a Backoff starting at initial and capped at max.
func New(initial, max time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: max}
}

// Next returns the delay to wait before the next attempt and advances the
// internal counter.
func (b *Backoff) Next() time.Duration {
	d := b.Initial << b.attempt
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	b.attempt++
	jitter := time.Duration(rand.Int63n(int64(d) / 4 + 1))
	return d - jitter/2 + jitter
}

// Reset restores the backoff to its initial state, called after a
// successful connection or request.
func (b *Backoff) Reset() { b.attempt = 0 }
