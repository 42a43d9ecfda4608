package scheduler

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	DefaultMinDelay = 12 * time.Second
	DefaultSpread   = 10 * time.Second
)

// Jitter picks the wait between passes uniformly from [Min, Min+Spread).
type Jitter struct {
	Min    time.Duration
	Spread time.Duration

	// Rand is the random source; nil uses the package-level generator.
	Rand *rand.Rand
	// After creates the timer channel; nil uses time.After.
	After func(d time.Duration) <-chan time.Time
}

func DefaultJitter() *Jitter {
	return &Jitter{Min: DefaultMinDelay, Spread: DefaultSpread}
}

func (j *Jitter) Next() time.Duration {
	if j.Spread <= 0 {
		return j.Min
	}
	var n int64
	if j.Rand != nil {
		n = j.Rand.Int64N(int64(j.Spread))
	} else {
		n = rand.Int64N(int64(j.Spread))
	}
	return j.Min + time.Duration(n)
}

// Sleep blocks for d or until ctx is done.
func (j *Jitter) Sleep(ctx context.Context, d time.Duration) error {
	after := j.After
	if after == nil {
		after = time.After
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-after(d):
		return nil
	}
}
