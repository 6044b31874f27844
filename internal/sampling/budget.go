package sampling

import (
	"math"

	uatomic "go.uber.org/atomic"
)

// capFractions gives each priority's admission ceiling as a fraction of the
// total budget, per spec.md §4.4. Grounded on
// original_source/src/sampling/budget.rs's per-priority cap table.
var capFractions = map[Priority]float64{
	PriorityCritical: 1.0,
	PriorityHigh:     0.8,
	PriorityMedium:   0.6,
	PriorityLow:      0.4,
	PriorityMinimal:  0.2,
}

// reservedCriticalFraction is the share of the total budget below which
// Critical traces are admitted unconditionally. It is not subtracted from
// the other priorities' caps.
const reservedCriticalFraction = 0.2

// emaAlpha is the smoothing factor for the trace-size estimator.
const emaAlpha = 0.1

// Budget is the atomic, per-priority admission controller gating tail
// sampling's Low-priority fallback.
type Budget struct {
	totalBytes uatomic.Int64
	usedBytes  uatomic.Int64

	// estimatedSizeBits holds the float64 bits of the EMA trace-size
	// estimate, atomically updated by every Admit call that passes a
	// positive estimatedSize.
	estimatedSizeBits uatomic.Uint64
}

// NewBudget returns a budget controller for totalBytes capacity.
func NewBudget(totalBytes int64) *Budget {
	b := &Budget{}
	b.totalBytes.Store(totalBytes)
	return b
}

// SetUsed updates the controller's view of current storage usage; called by
// cmd/urpo's monitor loop with the store's memory usage on every tick.
func (b *Budget) SetUsed(usedBytes int64) {
	b.usedBytes.Store(usedBytes)
}

// Used returns the last reported usage.
func (b *Budget) Used() int64 {
	return b.usedBytes.Load()
}

func capFor(total int64, p Priority) int64 {
	return int64(float64(total) * capFractions[p])
}

// Admit decides whether a trace of estimatedSize bytes may be admitted at
// priority p: used + estimatedSize must stay under cap(p), a fraction of
// the whole total. Critical traces are admitted unconditionally while used
// is below the reserved share, and otherwise while used + estimatedSize
// stays under the total. A non-positive estimatedSize is replaced by the
// current EMA estimate.
func (b *Budget) Admit(p Priority, estimatedSize int64) bool {
	total := b.totalBytes.Load()
	used := b.usedBytes.Load()

	if estimatedSize <= 0 {
		estimatedSize = b.estimatedSize()
	} else {
		b.observe(estimatedSize)
	}

	if p == PriorityCritical {
		reserved := int64(float64(total) * reservedCriticalFraction)
		// Critical always has the full budget available, but is
		// guaranteed at least the reserved slice even under pressure.
		if used < reserved {
			return true
		}
		return used+estimatedSize < total
	}

	capBytes := capFor(total, p)
	return used+estimatedSize < capBytes
}

// observe folds a newly seen trace size into the EMA estimator.
func (b *Budget) observe(size int64) {
	for {
		old := b.estimatedSizeBits.Load()
		oldF := math.Float64frombits(old)
		var next float64
		if oldF == 0 {
			next = float64(size)
		} else {
			next = oldF*(1-emaAlpha) + float64(size)*emaAlpha
		}
		if b.estimatedSizeBits.CAS(old, math.Float64bits(next)) {
			return
		}
	}
}

func (b *Budget) estimatedSize() int64 {
	return int64(math.Float64frombits(b.estimatedSizeBits.Load()))
}

// CleanupTarget returns the fraction of used bytes the caller should free,
// per spec.md's cleanup-target table: >90% used -> free 20%, >80% -> free
// 10%, else 0.
func (b *Budget) CleanupTarget() float64 {
	total := b.totalBytes.Load()
	if total == 0 {
		return 0
	}
	usedPct := float64(b.usedBytes.Load()) / float64(total)
	switch {
	case usedPct > 0.9:
		return 0.2
	case usedPct > 0.8:
		return 0.1
	default:
		return 0
	}
}
