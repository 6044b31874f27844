// Package metrics implements the metrics/logs stores (C6): a fixed-size
// ring buffer of MetricPoint records and a bounded append-only log store.
// Per-service health aggregates live in internal/health, not here.
// Grounded on original_source/src/metrics/mod.rs and types.rs for the
// fixed-record-size ring idea, expressed with the teacher's atomic-counter
// idiom (go.uber.org/atomic).
package metrics

import (
	"sync"

	uatomic "go.uber.org/atomic"

	"github.com/urpo-dev/urpo/internal/model"
)

// Ring is a fixed-capacity, oldest-overwritten buffer of MetricPoint
// records, one per service+metric+timestamp observation.
type Ring struct {
	mu       sync.RWMutex
	buf      []model.MetricPoint
	capacity int
	next     int
	size     int

	dropped uatomic.Int64
}

// NewRing allocates a ring of the given capacity.
func NewRing(capacity int) *Ring {
	return &Ring{buf: make([]model.MetricPoint, capacity), capacity: capacity}
}

// Record appends a point, overwriting the oldest entry once full.
func (r *Ring) Record(p model.MetricPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = p
	r.next = (r.next + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	} else {
		r.dropped.Inc()
	}
}

// Snapshot returns up to limit most-recent points for serviceID, newest
// first. limit <= 0 means "all currently buffered".
func (r *Ring) Snapshot(serviceID uint16, limit int) []model.MetricPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.MetricPoint, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.next - 1 - i + r.capacity) % r.capacity
		p := r.buf[idx]
		if p.ServiceID != serviceID {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len reports the number of currently buffered points.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}
