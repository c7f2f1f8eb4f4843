package retry

import (
	"context"
	"time"
)

// Policy retries a call with decorrelated jitter backoff between attempts.
type Policy struct {
	// MaxAttempts is the total number of calls made, 0 means unlimited.
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	// OnRetry, if set, is called after every failed attempt that is going
	// to be retried, with the 1-based number of the failed attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Rand is passed to the Backoff used by Do.
	Rand func() float64
}

// Do calls f until it succeeds, attempts are exhausted or ctx is done. It
// returns nil on success, the last error of f on exhaustion and the context
// error if ctx was cancelled while waiting.
func (p Policy) Do(ctx context.Context, f func(attempt int) error) error {
	var b = Backoff{Seed: p.MinDelay, Max: p.MaxDelay, Rand: p.Rand}

	for attempt := 1; ; attempt++ {
		err := f(attempt)
		if err == nil {
			return nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return err
		}
		delay := b.Next()
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if werr := Sleep(ctx, delay); werr != nil {
			return werr
		}
	}
}

// Sleep waits for d or until ctx is done, whichever happens first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
