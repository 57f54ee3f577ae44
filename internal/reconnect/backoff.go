package reconnect

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Base * Factor^(attempt-1), stretched by
// a random fraction in [0, Jitter). Jitter only ever lengthens a delay, so with
// Factor >= 2 and Jitter < 1 each delay is strictly longer than the previous one.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Jitter float64

	// rnd returns a value in [0,1). Nil means math/rand.
	rnd func() float64
}

// DefaultBackoff starts at one second, doubles, and adds up to 25% jitter.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Factor: 2, Jitter: 0.25}
}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}
	d := float64(b.Base) * math.Pow(factor, float64(attempt-1))
	if b.Jitter > 0 {
		r := b.rnd
		if r == nil {
			r = rand.Float64
		}
		d += d * b.Jitter * r()
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
