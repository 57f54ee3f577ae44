package reconnect

import (
	"testing"
	"time"
)

func TestBackoffDoubles(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Factor: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Fatalf("attempt %d: got %v want %v", i+1, got, w)
		}
	}
	if got := b.Delay(0); got != 100*time.Millisecond {
		t.Fatalf("attempt 0 clamps to first delay, got %v", got)
	}
}

func TestBackoffStrictlyIncreasingWithJitter(t *testing.T) {
	// worst case: previous attempt gets maximal jitter, next gets none
	high := Backoff{Base: time.Second, Factor: 2, Jitter: 0.25, rnd: func() float64 { return 0.999999 }}
	low := Backoff{Base: time.Second, Factor: 2, Jitter: 0.25, rnd: func() float64 { return 0 }}
	for n := 2; n <= 10; n++ {
		prev := high.Delay(n - 1)
		next := low.Delay(n)
		if next <= prev {
			t.Fatalf("attempt %d delay %v not greater than attempt %d delay %v", n, next, n-1, prev)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Base: time.Second, Factor: 2, Jitter: 0.25}
	for i := 0; i < 200; i++ {
		d := b.Delay(3)
		if d < 4*time.Second || d >= 5*time.Second {
			t.Fatalf("delay %v outside [4s,5s)", d)
		}
	}
}

func TestBackoffDefaultsFactor(t *testing.T) {
	b := Backoff{Base: time.Second}
	if got := b.Delay(2); got != 2*time.Second {
		t.Fatalf("zero factor should default to 2, got %v", got)
	}
}
