package receiver

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrQueueFull is returned by Limiter.Acquire when the in-flight batch
// queue is saturated (spec.md §4.5 "Backpressure"): the transport layer
// must turn this into HTTP 429 or gRPC ResourceExhausted without blocking
// the caller.
var ErrQueueFull = errors.New("receiver: in-flight batch queue is full")

// Limiter bounds the number of batches being processed concurrently and
// additionally smooths bursts with a token bucket, so a thundering herd of
// small batches can't starve the receiver the way an unbounded channel
// would.
type Limiter struct {
	inFlight chan struct{}
	burst    *rate.Limiter
}

// NewLimiter builds a Limiter admitting at most maxInFlight concurrent
// batches, additionally capped to ratePerSecond sustained admissions with
// burst headroom of maxInFlight.
func NewLimiter(maxInFlight int, ratePerSecond float64) *Limiter {
	if maxInFlight <= 0 {
		maxInFlight = 256
	}
	return &Limiter{
		inFlight: make(chan struct{}, maxInFlight),
		burst:    rate.NewLimiter(rate.Limit(ratePerSecond), maxInFlight),
	}
}

// Acquire admits one batch, or returns ErrQueueFull immediately (never
// blocks) if the in-flight queue is saturated or the rate limiter has no
// tokens available.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case l.inFlight <- struct{}{}:
	default:
		return nil, ErrQueueFull
	}
	if !l.burst.Allow() {
		<-l.inFlight
		return nil, ErrQueueFull
	}
	return func() { <-l.inFlight }, nil
}
