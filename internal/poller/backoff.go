package poller

import (
	"math/rand/v2"
	"time"
)

// Backoff computes decorrelated-jitter exponential delays: a uniform draw from
// [0, min(Max, Base*2^attempt)).
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	// Jitter returns a value in [0, n). Defaults to math/rand/v2.
	Jitter func(n int64) int64
}

// Ceiling returns the exclusive upper bound of the delay for attempt.
func (b Backoff) Ceiling(attempt int) time.Duration {
	if b.Base <= 0 || b.Max <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	// Shifting past the cap's bit length would overflow.
	if attempt >= 62 {
		return b.Max
	}
	ceil := b.Base << uint(attempt)
	if ceil <= 0 || ceil > b.Max || ceil>>uint(attempt) != b.Base {
		return b.Max
	}
	return ceil
}

// Delay draws the wait before the given attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	ceil := b.Ceiling(attempt)
	if ceil <= 0 {
		return 0
	}
	jitter := b.Jitter
	if jitter == nil {
		jitter = rand.Int64N
	}
	return time.Duration(jitter(int64(ceil)))
}
