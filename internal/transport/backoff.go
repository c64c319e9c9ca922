package transport

import (
	"math/rand"
	"time"
)

// Backoff spaces out connect attempts to a peer that may not be listening yet.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	// Jitter scales each delay by a factor drawn from [0.5, 1.5).
	Jitter bool
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    10 * time.Millisecond,
		Multiplier: 2.0,
		Max:        500 * time.Millisecond,
		Jitter:     true,
	}
}

// Delay returns the wait before attempt (1-based). The first attempt waits
// Initial; a nil rng applies the low end of the jitter range.
func (b Backoff) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	mult := max(b.Multiplier, 1.0)
	delay := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if b.Max > 0 && delay >= float64(b.Max) {
			delay = float64(b.Max)
			break
		}
	}
	if b.Jitter && attempt > 1 {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}
