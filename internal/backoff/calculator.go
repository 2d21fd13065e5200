package backoff

import (
	"context"
	"time"
)

// Calculator binds a Strategy to its parameters.
type Calculator struct {
	Strategy   Strategy
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Enabled reports whether the calculator produces non-zero delays.
func (c Calculator) Enabled() bool {
	return c.Initial > 0
}

// Delay returns the wait before retry step. prev is the delay returned for
// the previous step.
func (c Calculator) Delay(step int, prev time.Duration) time.Duration {
	if !c.Enabled() {
		return 0
	}
	strategy := c.Strategy
	if strategy == nil {
		strategy = Exponential{}
	}
	max := c.Max
	if max < c.Initial {
		max = c.Initial
	}
	return strategy.Calculate(step, prev, c.Initial, max, c.Multiplier, c.Jitter)
}

// Wait blocks for d or until ctx is done, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
