// Package sampling implements the two-stage smart sampler (C4): a cheap
// head decision at receive time, and a definitive tail decision once a
// trace is judged complete, gated by a budget-aware admission controller.
// Grounded on original_source/src/sampling/budget.rs for the priority/cap
// table and EMA size estimator, expressed in the teacher's atomic-counter
// idiom (go.uber.org/atomic, as friggdb/pool/pool.go uses).
package sampling

import (
	"github.com/cespare/xxhash/v2"
)

// Decision is the outcome of a head-sampling call.
type Decision uint8

const (
	// Drop means the span must never be materialized.
	Drop Decision = iota
	// Keep means the span is admitted unconditionally.
	Keep
	// Defer means "buffer until the trace is complete, then ask the tail
	// sampler." Required to implement tail sampling correctly even though
	// the original source only distinguished Keep/Drop.
	Defer
)

func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case Drop:
		return "drop"
	default:
		return "defer"
	}
}

// headScale is the fixed-point denominator used by the deterministic hash
// comparison, matching spec.md's "mod 10_000" rule.
const headScale = 10_000

// HeadSampler makes the <100ns, lock-free, branchless-preferred decision at
// receive time, deterministic on trace id so that every span of the same
// trace gets the same head verdict.
type HeadSampler struct {
	rate      *AdaptiveRate
	deferRate bool // when true, spans that pass the rate check are Deferred rather than Kept
}

// NewHeadSampler builds a head sampler backed by an adaptive rate. When
// deferToTail is true, spans passing the head-rate check are Deferred so
// the tail sampler gets a final say (used whenever tail sampling is
// enabled); otherwise they are Kept immediately.
func NewHeadSampler(rate *AdaptiveRate, deferToTail bool) *HeadSampler {
	return &HeadSampler{rate: rate, deferRate: deferToTail}
}

// Decide returns the head decision for traceID at the sampler's current
// rate. The hash is computed once per call with no allocation.
func (h *HeadSampler) Decide(traceID string) Decision {
	threshold := uint64(h.rate.Load() * headScale)
	hash := xxhash.Sum64String(traceID) % headScale
	if hash >= threshold {
		return Drop
	}
	if h.deferRate {
		return Defer
	}
	return Keep
}
