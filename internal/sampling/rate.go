package sampling

import (
	"math"
	"sync"
	"time"

	uatomic "go.uber.org/atomic"
)

const (
	minRate = 0.001
	maxRate = 1.0
)

// SystemMetrics is the input to AdaptiveRate.Adjust: observed load signals
// the controller reacts to.
type SystemMetrics struct {
	TracesPerSecond float64
	ErrorRate       float64
	StorageUsedPct  float64 // 0..1
	CPUPct          float64 // 0..1
	MemoryPct       float64 // 0..1
}

// AdaptiveRate is a clamped, atomically-readable sampling rate, adjusted by
// a closed-loop controller at most once per second (spec.md §4.4).
type AdaptiveRate struct {
	bits uatomic.Uint64 // float64 bits of the current rate

	mu       sync.Mutex
	lastTick time.Time
}

// NewAdaptiveRate returns a rate initialized to initial, clamped to
// [0.001, 1.0].
func NewAdaptiveRate(initial float64) *AdaptiveRate {
	r := &AdaptiveRate{}
	r.store(clampRate(initial))
	return r
}

func clampRate(r float64) float64 {
	if r < minRate {
		return minRate
	}
	if r > maxRate {
		return maxRate
	}
	return r
}

func (r *AdaptiveRate) store(v float64) {
	r.bits.Store(math.Float64bits(v))
}

// Load returns the current rate.
func (r *AdaptiveRate) Load() float64 {
	return math.Float64frombits(r.bits.Load())
}

// Set overrides the rate directly (used by config hot-reload), clamped.
func (r *AdaptiveRate) Set(rate float64) {
	r.store(clampRate(rate))
}

// Adjust reacts to system load. It is a no-op if called again within one
// second of the previous adjustment, per spec.md's "at most once per
// second" rule. now is passed in by the caller (the health-monitor ticker)
// rather than read from the clock here, keeping this package free of
// direct time-of-day dependencies on the hot path.
func (r *AdaptiveRate) Adjust(now time.Time, m SystemMetrics) {
	r.mu.Lock()
	if !r.lastTick.IsZero() && now.Sub(r.lastTick) < time.Second {
		r.mu.Unlock()
		return
	}
	r.lastTick = now
	r.mu.Unlock()

	current := r.Load()
	next := current

	switch {
	case m.StorageUsedPct > 0.9 || m.MemoryPct > 0.9 || m.CPUPct > 0.9:
		next = current * 0.5
	case m.ErrorRate > 0.1:
		// error-heavy traffic: back off volume, tail sampling already
		// guarantees error traces are kept regardless of this rate.
		next = current * 0.8
	case m.TracesPerSecond > 0 && m.StorageUsedPct < 0.5 && m.CPUPct < 0.5:
		next = current * 1.1
	}

	r.store(clampRate(next))
}
