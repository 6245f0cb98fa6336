package client

import (
	"math/rand"
	"time"
)

// BackoffConfig controls the pause between dial attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter draws the delay from [d/2, d] to spread reconnecting
	// participants after a relay restart.
	Jitter bool
}

// Delay is the pause after failed attempt n (1-based). Without an rng the
// jitter is skipped.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	d := b.InitialDelay
	if d <= 0 {
		return 0
	}
	growth := b.Multiplier
	if growth < 1 {
		growth = 1
	}
	for i := 1; i < attempt; i++ {
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			break
		}
		d = time.Duration(float64(d) * growth)
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	if b.Jitter && rng != nil && d > 1 {
		half := d / 2
		d = half + time.Duration(rng.Int63n(int64(d-half)+1))
	}
	return d
}
