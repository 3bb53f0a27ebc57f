package worker

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff computes retry delays for failed attempts.
type Backoff struct {
	Base          time.Duration
	Cap           time.Duration
	JitterPercent int
}

// DefaultBackoff is 2s doubling per attempt, capped at 60s, ±20%.
var DefaultBackoff = Backoff{Base: 2 * time.Second, Cap: 60 * time.Second, JitterPercent: 20}

// Delay returns the wait before the retry that follows failed attempt n
// (1-based): Base * 2^(n-1), jittered, never above Cap.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	var next retry.Backoff = retry.NewExponential(base)
	if b.JitterPercent > 0 {
		next = retry.WithJitterPercent(uint64(min(b.JitterPercent, 100)), next)
	}
	if b.Cap > 0 {
		next = retry.WithCappedDuration(b.Cap, next)
	}

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d, _ = next.Next()
	}
	return d
}
