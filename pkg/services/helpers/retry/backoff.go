/*
Package retry implements small retry helpers shared by the notifier and the
relay: a decorrelated jitter backoff, a retry policy built on top of it and a
consecutive-failure circuit breaker.
*/
package retry

import (
	"math/rand"
	"sync"
	"time"
)

// jitterFactor is the upper (exclusive) bound of the random multiplier applied
// to the previous delay.
const jitterFactor = 3

var (
	rngLock sync.Mutex
	rng     = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randFloat() float64 {
	rngLock.Lock()
	defer rngLock.Unlock()
	return rng.Float64()
}

// Backoff is a decorrelated jitter backoff calculator. Every delay is the
// previous one multiplied by a random factor in [0, 3) and clamped to
// [Seed, Max]. It's not safe for concurrent use, create one per retry
// sequence.
type Backoff struct {
	Seed time.Duration
	Max  time.Duration

	// Rand returns a number in [0, 1), math/rand is used if not set.
	Rand func() float64

	prev time.Duration
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.prev == 0 {
		b.prev = b.Seed
	}
	r := b.Rand
	if r == nil {
		r = randFloat
	}
	d := time.Duration(float64(b.prev) * r() * jitterFactor)
	if d < b.Seed {
		d = b.Seed
	}
	if d > b.Max {
		d = b.Max
	}
	b.prev = d
	return d
}

// Reset makes Backoff start from the seed delay again.
func (b *Backoff) Reset() {
	b.prev = 0
}
