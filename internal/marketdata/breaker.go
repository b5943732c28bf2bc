package marketdata

import (
	"sync/atomic"
	"time"
)

// Breaker states.
const (
	breakerClosed int32 = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker is a circuit breaker for the external feed path. Consecutive
// failures past the threshold open it; while open, Allow rejects
// immediately so a dead broker cannot stall trade distribution. After
// the cooldown one probe is let through: its outcome closes the breaker
// or re-opens it for another cooldown.
type Breaker struct {
	state       atomic.Int32
	failures    atomic.Int32
	lastFailure atomic.Int64 // unix nanos

	threshold int32
	cooldown  time.Duration
}

// NewBreaker builds a closed breaker. threshold <= 0 means 5 failures;
// cooldown <= 0 means 10 seconds.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	return &Breaker{threshold: int32(threshold), cooldown: cooldown}
}

// Allow reports whether a call may proceed. At most one caller wins the
// half-open probe per cooldown; the rest keep getting false until the
// probe reports back.
func (b *Breaker) Allow() bool {
	switch b.state.Load() {
	case breakerClosed:
		return true
	case breakerOpen:
		last := time.Unix(0, b.lastFailure.Load())
		if time.Since(last) < b.cooldown {
			return false
		}
		return b.state.CompareAndSwap(breakerOpen, breakerHalfOpen)
	default: // half-open, probe in flight
		return false
	}
}

// Success records a completed call and closes the breaker.
func (b *Breaker) Success() {
	b.failures.Store(0)
	b.state.Store(breakerClosed)
}

// Failure records a failed call. The breaker opens when consecutive
// failures reach the threshold or a half-open probe fails.
func (b *Breaker) Failure() {
	b.lastFailure.Store(time.Now().UnixNano())
	if b.state.Load() == breakerHalfOpen {
		b.state.Store(breakerOpen)
		return
	}
	if b.failures.Add(1) >= b.threshold {
		b.state.Store(breakerOpen)
	}
}

// Open reports whether calls are currently rejected.
func (b *Breaker) Open() bool {
	return b.state.Load() != breakerClosed
}
