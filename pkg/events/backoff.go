package events

import (
	"math/rand/v2"
	"time"
)

// Reconnect defaults.
const (
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffCap  = 30 * time.Second
)

// Backoff computes exponential reconnect delays with full jitter:
// delay = rand[0, min(Cap, Base * 2^attempt)).
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.Float64.
	Rand func() float64
}

// NewBackoff returns a Backoff with the given bounds; zero values take the defaults.
func NewBackoff(base, maxDelay time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffCap
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &Backoff{Base: base, Cap: maxDelay}
}

// Ceiling returns the upper bound of the delay for the given attempt (0-based).
func (b *Backoff) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	ceiling := b.Base
	for i := 0; i < attempt; i++ {
		ceiling *= 2
		if ceiling >= b.Cap {
			return b.Cap
		}
	}
	return min(ceiling, b.Cap)
}

// Delay returns the jittered delay for the given attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	r := rand.Float64
	if b.Rand != nil {
		r = b.Rand
	}
	return time.Duration(r() * float64(b.Ceiling(attempt)))
}
