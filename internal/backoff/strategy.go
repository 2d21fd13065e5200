package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before the given retry step. prev is the delay
// used before the previous step, zero for the first one.
type Strategy interface {
	Calculate(step int, prev, initial, max time.Duration, multiplier, jitter float64) time.Duration
}

// Exponential grows the delay by multiplier per step and adds uniform jitter.
type Exponential struct{}

// Calculate implements Strategy. prev is ignored.
func (Exponential) Calculate(step int, _, initial, max time.Duration, multiplier, jitter float64) time.Duration {
	if step < 0 {
		step = 0
	}
	if step > 30 {
		step = 30
	}

	d := time.Duration(float64(initial) * Pow(multiplier, step))
	if d < 0 || d > max {
		d = max
	}

	if j := clampJitter(jitter); j > 0 {
		extra := time.Duration(float64(d) * j * rand.Float64())
		if d+extra > max {
			return max
		}
		d += extra
	}
	return d
}

// Decorrelated picks a random delay in [initial, min(max, prev*3)].
// See https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type Decorrelated struct{}

// Calculate implements Strategy. step, multiplier and jitter are ignored.
func (Decorrelated) Calculate(_ int, prev, initial, max time.Duration, _, _ float64) time.Duration {
	if prev < initial {
		prev = initial
	}

	base := float64(initial)
	upper := float64(prev) * 3
	if upper > float64(max) || upper < 0 {
		upper = float64(max)
	}
	if upper < base {
		return initial
	}

	d := time.Duration(base + rand.Float64()*(upper-base))
	if d < 0 || d > max {
		d = max
	}
	return d
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// Pow calculates base^exponent for small non-negative exponents.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
