// Package retry provides backoff policies shared by the reconnecting store
// client and the pending-write queue.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy decides how long to wait before the next attempt.
// attempt is 0-based: 0 is the delay before the first retry.
type Policy interface {
	Delay(attempt int, lastErr error) (time.Duration, bool)
}

// Backoff is exponential backoff with optional jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// MaxAttempts caps the number of retries (0 means retry forever).
	MaxAttempts int

	// JitterFactor spreads each delay by up to +/- this fraction (0 disables).
	JitterFactor float64
}

// DefaultBackoff returns the backoff used for store reconnects.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Initial:      500 * time.Millisecond,
		Max:          30 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.2,
	}
}

// Delay implements Policy.
func (b *Backoff) Delay(attempt int, _ error) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(b.Initial) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.JitterFactor > 0 {
		//nolint:gosec // jitter only
		d += d * b.JitterFactor * (2*rand.Float64() - 1)
		if d < 0 {
			d = float64(b.Initial)
		}
	}
	return time.Duration(d), true
}

// Fixed waits the same delay between attempts.
type Fixed struct {
	Wait        time.Duration
	MaxAttempts int
}

// Delay implements Policy.
func (f Fixed) Delay(attempt int, _ error) (time.Duration, bool) {
	if f.MaxAttempts > 0 && attempt >= f.MaxAttempts {
		return 0, false
	}
	return f.Wait, true
}

// Sleep waits for d or until ctx is done. It returns ctx.Err() when cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
