package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	uatomic "go.uber.org/atomic"

	"github.com/urpo-dev/urpo/internal/intern"
	"github.com/urpo-dev/urpo/internal/model"
	"github.com/urpo-dev/urpo/internal/query"
	"github.com/urpo-dev/urpo/internal/sampling"
)

// Sentinel errors returned by Store, matching spec.md §4.3/§7's Capacity
// and Validation taxonomy.
var (
	ErrAtCapacity = errors.New("store: at capacity")
	ErrInvalid    = errors.New("store: invalid span")
)

// Archiver receives every span the store evicts for archival (C7): rows
// removed by capacity eviction, by Cleanup and by DropTrace alike. The
// store does not tell it whether the tail sampler kept the trace. The store
// depends on this narrow interface rather than the concrete archive
// package to avoid an import cycle; internal/archive implements it.
type Archiver interface {
	Archive(spans []*model.Span) error
}

// Config bounds the store's size and behavior.
type Config struct {
	MaxSpans              int
	DurationIndexCapacity int
	EvictionBatchSize     int
	RetentionDuration     time.Duration
}

// DefaultConfig matches spec.md's named defaults where given.
func DefaultConfig() Config {
	return Config{
		MaxSpans:              1_000_000,
		DurationIndexCapacity: 1000,
		EvictionBatchSize:     1024,
		RetentionDuration:     time.Hour,
	}
}

// Stats is the snapshot returned by Store.Stats().
type Stats struct {
	SpanCount    int
	TraceCount   int
	ServiceCount int
	MemoryBytes  int64
	MemoryMB     float64
}

// Store is the compact in-memory span store (C3).
type Store struct {
	cfg      Config
	pool     *intern.Pool
	archiver Archiver

	shards      [shardCount]*shard
	serviceIdx  *serviceIndex
	errorIdx    *errorIndex
	durationIdx *durationIndex
	recent      *recentRing

	seq          uatomic.Int64
	spanCount    uatomic.Int64
	invalidCount uatomic.Int64

	mu            sync.Mutex
	traceRefCount map[string]int
	serviceSet    map[intern.ID]struct{}
}

// New builds a Store. archiver may be nil, in which case evicted spans are
// discarded rather than archived (spec.md §3 "Lifecycle").
func New(cfg Config, pool *intern.Pool, archiver Archiver) *Store {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultConfig().MaxSpans
	}
	if cfg.DurationIndexCapacity <= 0 {
		cfg.DurationIndexCapacity = DefaultConfig().DurationIndexCapacity
	}
	if cfg.EvictionBatchSize <= 0 {
		cfg.EvictionBatchSize = DefaultConfig().EvictionBatchSize
	}

	st := &Store{
		cfg:           cfg,
		pool:          pool,
		archiver:      archiver,
		serviceIdx:    newServiceIndex(),
		errorIdx:      newErrorIndex(),
		durationIdx:   newDurationIndex(cfg.DurationIndexCapacity),
		recent:        newRecentRing(cfg.MaxSpans),
		traceRefCount: make(map[string]int),
		serviceSet:    make(map[intern.ID]struct{}),
	}
	prealloc := cfg.MaxSpans / shardCount
	for i := range st.shards {
		st.shards[i] = newShard(prealloc)
	}
	return st
}

// Store validates, interns, and inserts span at the given sampler
// priority, evicting the oldest row if the store is at capacity unless
// span's priority is lower than the eviction victim's (priority-aware
// admission, spec.md §4.3 "Failure semantics").
func (s *Store) Store(span *model.Span, priority sampling.Priority) error {
	if err := span.Validate(); err != nil {
		s.invalidCount.Inc()
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if victim, ok := s.recent.peekOldest(); ok {
		if vrow, live := s.shards[victim.shard()].get(victim.index()); live && priority < vrow.priority {
			return ErrAtCapacity
		}
	}

	serviceID, err := s.pool.Intern(span.Service)
	if err != nil {
		s.invalidCount.Inc()
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	operationID, err := s.pool.Intern(span.Operation)
	if err != nil {
		s.invalidCount.Inc()
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	r := row{
		serviceID:    serviceID,
		operationID:  operationID,
		traceID:      span.TraceID,
		spanID:       span.SpanID,
		parentSpanID: span.ParentSpanID,
		traceIDHash:  xxhash.Sum64String(span.TraceID),
		kind:         span.Kind,
		statusCode:   span.Status.Code,
		statusMsg:    span.Status.Message,
		startTime:    span.StartTimeUnixNano,
		duration:     span.DurationNano,
		attributes:   span.Attributes,
		events:       span.Events,
		insertedAt:   s.seq.Inc(),
		priority:     priority,
		live:         true,
	}

	shardIdx := shardFor(r.traceIDHash)
	id := s.shards[shardIdx].insert(shardIdx, r)

	s.serviceIdx.add(serviceID, id)
	if span.HasError() {
		s.errorIdx.add(id)
	}
	s.durationIdx.add(id, span.DurationNano)
	s.spanCount.Inc()

	s.mu.Lock()
	s.traceRefCount[span.TraceID]++
	s.serviceSet[serviceID] = struct{}{}
	s.mu.Unlock()

	if evicted, didEvict := s.recent.push(id); didEvict {
		s.evictRow(evicted)
	}

	return nil
}

// evictRow removes a row from every secondary index, optionally hands it to
// the archiver, and frees its slot. Safe to call from the insertion path
// (LRU eviction) or from Cleanup (retention).
func (s *Store) evictRow(id RowID) {
	sh := s.shards[id.shard()]
	r, live := sh.get(id.index())
	if !live {
		return
	}

	s.serviceIdx.remove(r.serviceID, id)
	s.errorIdx.remove(id)
	s.durationIdx.remove(id)

	if s.archiver != nil {
		span := s.rowToSpan(r)
		// best-effort: archival failures are not propagated to the hot
		// path; the archive package counts its own write failures.
		_ = s.archiver.Archive([]*model.Span{span})
	}

	sh.evict(id.index())
	s.spanCount.Dec()

	s.mu.Lock()
	s.traceRefCount[r.traceID]--
	if s.traceRefCount[r.traceID] <= 0 {
		delete(s.traceRefCount, r.traceID)
	}
	s.mu.Unlock()
}

func (s *Store) rowToSpan(r row) *model.Span {
	service, _ := s.pool.Resolve(r.serviceID)
	operation, _ := s.pool.Resolve(r.operationID)
	return &model.Span{
		TraceID:           r.traceID,
		SpanID:            r.spanID,
		ParentSpanID:      r.parentSpanID,
		Service:           service,
		Operation:         operation,
		Kind:              r.kind,
		StartTimeUnixNano: r.startTime,
		DurationNano:      r.duration,
		Status:            model.Status{Code: r.statusCode, Message: r.statusMsg},
		Attributes:        r.attributes,
		Events:            r.events,
	}
}

// GetTraceSpans returns every live span sharing traceID, in insertion
// order.
func (s *Store) GetTraceSpans(traceID string) []*model.Span {
	hash := xxhash.Sum64String(traceID)
	shardIdx := shardFor(hash)
	ids := s.shards[shardIdx].rowIDsForHash(hash)

	var out []seqSpan
	for _, id := range ids {
		r, live := s.shards[shardIdx].get(id.index())
		if !live || r.traceID != traceID {
			continue
		}
		out = append(out, seqSpan{seq: r.insertedAt, span: s.rowToSpan(r)})
	}
	sortBySeq(out)

	spans := make([]*model.Span, len(out))
	for i, o := range out {
		spans[i] = o.span
	}
	return spans
}

type seqSpan struct {
	seq  int64
	span *model.Span
}

func sortBySeq(out []seqSpan) {
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].seq > out[j].seq; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
}

// DropTrace evicts every currently live row belonging to traceID, used when
// the tail sampler rejects a deferred trace once it is judged complete
// (spec.md §4.5, "non-kept traces' rows are eagerly released"). Returns the
// number of rows removed.
func (s *Store) DropTrace(traceID string) int {
	hash := xxhash.Sum64String(traceID)
	shardIdx := shardFor(hash)
	ids := s.shards[shardIdx].rowIDsForHash(hash)

	removed := 0
	for _, id := range ids {
		r, live := s.shards[shardIdx].get(id.index())
		if !live || r.traceID != traceID {
			continue
		}
		s.evictRow(id)
		removed++
	}
	return removed
}

// UpgradeTracePriority rewrites the stored eviction priority of every live
// row belonging to traceID, called once the tail sampler's final verdict
// for the trace is known.
func (s *Store) UpgradeTracePriority(traceID string, priority sampling.Priority) {
	hash := xxhash.Sum64String(traceID)
	shardIdx := shardFor(hash)
	sh := s.shards[shardIdx]
	for _, id := range sh.rowIDsForHash(hash) {
		r, live := sh.get(id.index())
		if !live || r.traceID != traceID {
			continue
		}
		sh.setPriority(id.index(), priority)
	}
}

// GetServiceSpans returns spans for service with StartTimeUnixNano >=
// since, reverse-chronological (newest first).
func (s *Store) GetServiceSpans(service string, since int64) []*model.Span {
	id, ok := s.pool.Lookup(service)
	if !ok {
		return nil
	}
	ids := s.serviceIdx.snapshot(id)
	spans := make([]*model.Span, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		r, live := s.shards[ids[i].shard()].get(ids[i].index())
		if !live || r.startTime < since {
			continue
		}
		spans = append(spans, s.rowToSpan(r))
	}
	return spans
}

// SpansForService implements query.DataSource, limiting to the most recent
// limit spans for service (any start time).
func (s *Store) SpansForService(service string, limit int) []*model.Span {
	spans := s.GetServiceSpans(service, 0)
	if limit > 0 && len(spans) > limit {
		spans = spans[:limit]
	}
	return spans
}

// RecentSpans implements query.DataSource.
func (s *Store) RecentSpans(limit int) []*model.Span {
	ids := s.recent.snapshotReversed(limit)
	spans := make([]*model.Span, 0, len(ids))
	for _, id := range ids {
		r, live := s.shards[id.shard()].get(id.index())
		if !live {
			continue
		}
		spans = append(spans, s.rowToSpan(r))
	}
	return spans
}

// ErrorSpans implements query.DataSource and backs GetErrorTraces.
func (s *Store) ErrorSpans(limit int) []*model.Span {
	ids := s.errorIdx.snapshotReversed()
	spans := make([]*model.Span, 0, limit)
	for _, id := range ids {
		r, live := s.shards[id.shard()].get(id.index())
		if !live {
			continue
		}
		spans = append(spans, s.rowToSpan(r))
		if limit > 0 && len(spans) >= limit {
			break
		}
	}
	return spans
}

// SpanByTraceID implements query.DataSource.
func (s *Store) SpanByTraceID(traceID string) []*model.Span {
	return s.GetTraceSpans(traceID)
}

// GetErrorTraces scans by_error backwards and groups matches into traces,
// capped at limit traces.
func (s *Store) GetErrorTraces(limit int) []model.TraceInfo {
	ids := s.errorIdx.snapshotReversed()
	seen := make(map[string]bool)
	var infos []model.TraceInfo
	for _, id := range ids {
		r, live := s.shards[id.shard()].get(id.index())
		if !live || seen[r.traceID] {
			continue
		}
		seen[r.traceID] = true
		t := model.NewTrace(r.traceID, s.GetTraceSpans(r.traceID))
		infos = append(infos, model.InfoFromTrace(t))
		if len(infos) >= limit {
			break
		}
	}
	return infos
}

// GetSlowTraces walks the duration index for spans over threshold,
// grouping by trace, capped at limit traces.
func (s *Store) GetSlowTraces(threshold time.Duration, limit int) []model.TraceInfo {
	ids := s.durationIdx.above(int64(threshold), limit*4+16)
	seen := make(map[string]bool)
	var infos []model.TraceInfo
	for _, id := range ids {
		r, live := s.shards[id.shard()].get(id.index())
		if !live || seen[r.traceID] {
			continue
		}
		seen[r.traceID] = true
		t := model.NewTrace(r.traceID, s.GetTraceSpans(r.traceID))
		infos = append(infos, model.InfoFromTrace(t))
		if len(infos) >= limit {
			break
		}
	}
	return infos
}

// ListRecentTraces walks the recent ring, optionally filtered by service,
// newest first.
func (s *Store) ListRecentTraces(limit int, service string) []model.TraceInfo {
	ids := s.recent.snapshotReversed(s.recent.len())
	seen := make(map[string]bool)
	var infos []model.TraceInfo
	for _, id := range ids {
		r, live := s.shards[id.shard()].get(id.index())
		if !live || seen[r.traceID] {
			continue
		}
		if service != "" {
			name, _ := s.pool.Resolve(r.serviceID)
			if name != service {
				continue
			}
		}
		seen[r.traceID] = true
		t := model.NewTrace(r.traceID, s.GetTraceSpans(r.traceID))
		infos = append(infos, model.InfoFromTrace(t))
		if len(infos) >= limit {
			break
		}
	}
	return infos
}

// SearchTraces delegates to the query engine (C8), evaluating q over the
// store's DataSource surface and grouping matches into traces.
func (s *Store) SearchTraces(q *query.Query, limit int) ([]model.TraceInfo, error) {
	spans, err := query.Evaluate(s, q, s.cfg.MaxSpans)
	if err != nil {
		return nil, err
	}
	byTrace := make(map[string][]*model.Span)
	var order []string
	for _, sp := range spans {
		if _, ok := byTrace[sp.TraceID]; !ok {
			order = append(order, sp.TraceID)
		}
		byTrace[sp.TraceID] = append(byTrace[sp.TraceID], sp)
	}
	infos := make([]model.TraceInfo, 0, len(order))
	for _, tid := range order {
		t := model.NewTrace(tid, byTrace[tid])
		infos = append(infos, model.InfoFromTrace(t))
		if limit > 0 && len(infos) >= limit {
			break
		}
	}
	return infos, nil
}

// Stats reports current store utilization.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	traceCount := len(s.traceRefCount)
	serviceCount := len(s.serviceSet)
	s.mu.Unlock()

	spanCount := int(s.spanCount.Load())
	// ~100 bytes/span amortized budget target from spec.md §4.3, used as
	// the memory estimate since Go offers no cheap exact per-struct
	// accounting without runtime/pprof heap profiling.
	memBytes := int64(spanCount) * 100
	return Stats{
		SpanCount:    spanCount,
		TraceCount:   traceCount,
		ServiceCount: serviceCount,
		MemoryBytes:  memBytes,
		MemoryMB:     float64(memBytes) / (1024 * 1024),
	}
}

// Cleanup evicts every row older than retention (by start time), returning
// the number removed. It is safe to call concurrently with readers: each
// evicted row is removed from secondary indexes before its slot is reused.
func (s *Store) Cleanup(retention time.Duration, now time.Time) int {
	cutoff := now.Add(-retention).UnixNano()
	removed := 0
	for shardIdx, sh := range s.shards {
		sh.mu.RLock()
		var stale []RowID
		for idx := range sh.rows {
			r := sh.rows[idx]
			if r.live && r.startTime < cutoff {
				stale = append(stale, newRowID(shardIdx, uint32(idx)))
			}
		}
		sh.mu.RUnlock()

		for _, id := range stale {
			s.evictRow(id)
			removed++
		}
	}
	return removed
}
