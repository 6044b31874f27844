package sampling

import "math/rand"

// Priority is the five-level trace importance used to arbitrate budget
// admission and, downstream, eviction order in the store.
type Priority uint8

const (
	PriorityMinimal Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "minimal"
	}
}

// TraceCharacteristics summarizes a completed (or idle-timed-out) trace for
// the tail-sampling rule set.
type TraceCharacteristics struct {
	HasError      bool
	DurationMs    int64
	SpanCount     int
	ServiceCount  int
	IsAnomalous   bool
	EstimatedSize int64 // bytes, passed to Budget.Admit on the Low-priority fallback
}

// TailConfig holds the tunable thresholds from spec.md §4.4.
type TailConfig struct {
	SlowThresholdMs    int64
	ComplexThreshold   int
}

// DefaultTailConfig matches the defaults named in spec.md.
func DefaultTailConfig() TailConfig {
	return TailConfig{SlowThresholdMs: 1000, ComplexThreshold: 100}
}

// TailSampler evaluates the first-match-wins rule set and consults the
// Budget (gated by the current adaptive rate) for the fallback case.
type TailSampler struct {
	cfg    TailConfig
	budget *Budget
	rate   *AdaptiveRate
}

// NewTailSampler builds a tail sampler around the given budget controller
// and the adaptive rate it falls back to for non-exceptional traces.
func NewTailSampler(cfg TailConfig, budget *Budget, rate *AdaptiveRate) *TailSampler {
	return &TailSampler{cfg: cfg, budget: budget, rate: rate}
}

// Decide applies the rule set top-down; the first matching rule wins.
// Returns whether to keep the trace and at what priority.
func (t *TailSampler) Decide(tc TraceCharacteristics) (keep bool, priority Priority) {
	switch {
	case tc.HasError:
		return true, PriorityCritical
	case tc.DurationMs > t.cfg.SlowThresholdMs:
		return true, PriorityHigh
	case tc.IsAnomalous || tc.SpanCount > t.cfg.ComplexThreshold:
		return true, PriorityMedium
	default:
		if rand.Float64() >= t.rate.Load() {
			return false, PriorityLow
		}
		admitted := t.budget.Admit(PriorityLow, tc.EstimatedSize)
		return admitted, PriorityLow
	}
}
