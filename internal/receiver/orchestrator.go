package receiver

import (
	"context"
	"sync"
	"time"

	uatomic "go.uber.org/atomic"
	"go.uber.org/zap"

	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/urpo-dev/urpo/internal/health"
	"github.com/urpo-dev/urpo/internal/intern"
	"github.com/urpo-dev/urpo/internal/metrics"
	"github.com/urpo-dev/urpo/internal/model"
	"github.com/urpo-dev/urpo/internal/pool"
	"github.com/urpo-dev/urpo/internal/sampling"
	"github.com/urpo-dev/urpo/internal/store"
)

// spanPoolCapacity bounds the pre-warmed decode-buffer pool backing
// IngestTraces. Sized well above any single realistic OTLP batch so the
// common case never falls back to a heap allocation; TryGet's miss branch
// covers the rest.
const spanPoolCapacity = 4096

// DefaultIdleTimeout is the "idle for trace_idle_timeout" duration named in
// spec.md §4.5.
const DefaultIdleTimeout = 5 * time.Second

// pendingTrace accumulates the characteristics the tail sampler needs once
// a deferred trace is judged complete.
type pendingTrace struct {
	lastSeen     time.Time
	spanCount    int
	hasError     bool
	maxEndNano   int64
	minStartNano int64
	services     map[string]struct{}
}

func (p *pendingTrace) characteristics(cfg sampling.TailConfig) sampling.TraceCharacteristics {
	durationMs := (p.maxEndNano - p.minStartNano) / int64(time.Millisecond)
	return sampling.TraceCharacteristics{
		HasError:      p.hasError,
		DurationMs:    durationMs,
		SpanCount:     p.spanCount,
		ServiceCount:  len(p.services),
		IsAnomalous:   p.spanCount > cfg.ComplexThreshold*2,
		EstimatedSize: int64(p.spanCount) * 256,
	}
}

// Stats is the orchestrator's running counters, surfaced at /health.
type Stats struct {
	SpansAccepted  int64
	SpansHeadDropped int64
	TracesTailDropped int64
	DecodeErrors   int64
	QueueRejected  int64
}

// Orchestrator implements the per-batch pipeline (C10): head sampling,
// pooled-buffer population (spans are decoded into model.Span buffers
// borrowed from an internal/pool.SpanPool), store insertion, health
// aggregate updates, and deferred-trace tail sampling on idle timeout.
type Orchestrator struct {
	log         *zap.Logger
	store       *store.Store
	pool        *intern.Pool
	metricNames *intern.Pool
	spanPool    *pool.SpanPool

	head *sampling.HeadSampler
	tail *sampling.TailSampler

	health      *health.Monitor
	metricsRing *metrics.Ring
	logStore    *metrics.LogStore

	idleTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingTrace

	stats struct {
		accepted     uatomic.Int64
		headDropped  uatomic.Int64
		tailDropped  uatomic.Int64
		decodeErrors uatomic.Int64
		rejected     uatomic.Int64
	}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewOrchestrator wires the given components into a ready-to-use pipeline.
func NewOrchestrator(log *zap.Logger, st *store.Store, namePool *intern.Pool, head *sampling.HeadSampler, tail *sampling.TailSampler, mon *health.Monitor, ring *metrics.Ring, logs *metrics.LogStore, idleTimeout time.Duration) *Orchestrator {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Orchestrator{
		log:         log,
		store:       st,
		pool:        namePool,
		metricNames: intern.New(),
		spanPool:    pool.NewSpanPool(spanPoolCapacity),
		head:        head,
		tail:        tail,
		health:      mon,
		metricsRing: ring,
		logStore:    logs,
		idleTimeout: idleTimeout,
		pending:     make(map[string]*pendingTrace),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Run starts the idle-trace reaper; it returns once ctx is done or Stop is
// called.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.doneCh)
	ticker := time.NewTicker(o.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case now := <-ticker.C:
			o.reapIdleTraces(now)
		}
	}
}

// Stop signals Run to exit and waits for it to do so.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	<-o.doneCh
}

// Snapshot returns the orchestrator's running counters.
func (o *Orchestrator) Snapshot() Stats {
	return Stats{
		SpansAccepted:     o.stats.accepted.Load(),
		SpansHeadDropped:  o.stats.headDropped.Load(),
		TracesTailDropped: o.stats.tailDropped.Load(),
		DecodeErrors:      o.stats.decodeErrors.Load(),
		QueueRejected:     o.stats.rejected.Load(),
	}
}

// IngestTraces runs the receive-time pipeline over every span in td,
// returning the number of spans rejected outright (decode/validation
// failures and spans the store refused), counted against OTLP's
// partial-success field.
func (o *Orchestrator) IngestTraces(td ptrace.Traces, now time.Time) int {
	rejected := 0
	rs := td.ResourceSpans()
	for i := 0; i < rs.Len(); i++ {
		service, err := resourceService(rs.At(i).Resource())
		if err != nil {
			o.stats.decodeErrors.Inc()
			rejected++
			continue
		}

		scopeSpans := rs.At(i).ScopeSpans()
		for j := 0; j < scopeSpans.Len(); j++ {
			spans := scopeSpans.At(j).Spans()
			for k := 0; k < spans.Len(); k++ {
				if !o.ingestOTLPSpan(service, spans.At(k), now) {
					rejected++
				}
			}
		}
	}
	return rejected
}

// ingestOTLPSpan decodes s into a buffer borrowed from the span pool
// (falling back to a heap allocation on TryGet miss) and runs it through
// the sampling/store/health pipeline, releasing the buffer before
// returning. Safe to release immediately: Store copies every field it
// keeps (the row's attribute map and event slice reuse the same
// underlying backing arrays, but nothing downstream retains the *model.Span
// pointer itself).
func (o *Orchestrator) ingestOTLPSpan(service string, s ptrace.Span, now time.Time) bool {
	var span *model.Span
	handle, ok := o.spanPool.TryGet()
	if ok {
		span = handle.Span()
		defer handle.Release()
	} else {
		span = &model.Span{}
	}

	if err := convertSpanInto(service, s, span); err != nil {
		o.stats.decodeErrors.Inc()
		return false
	}
	return o.ingestSpan(span, now)
}

func (o *Orchestrator) ingestSpan(span *model.Span, now time.Time) bool {
	decision := o.head.Decide(span.TraceID)
	if decision == sampling.Drop {
		o.stats.headDropped.Inc()
		return true
	}

	priority := sampling.PriorityMedium
	if decision == sampling.Defer {
		priority = sampling.PriorityLow
	}

	if err := o.store.Store(span, priority); err != nil {
		o.stats.rejected.Inc()
		return false
	}
	o.stats.accepted.Inc()

	o.health.Record(o.serviceID(span.Service), now, time.Duration(span.DurationNano), span.HasError(), span.Status.Message)

	if decision == sampling.Defer {
		o.trackPending(span, now)
	}
	return true
}

func (o *Orchestrator) serviceID(service string) uint16 {
	id, err := o.pool.Intern(service)
	if err != nil {
		return 0
	}
	return uint16(id)
}

func (o *Orchestrator) trackPending(span *model.Span, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.pending[span.TraceID]
	if !ok {
		p = &pendingTrace{
			minStartNano: span.StartTimeUnixNano,
			services:     make(map[string]struct{}),
		}
		o.pending[span.TraceID] = p
	}
	p.lastSeen = now
	p.spanCount++
	if span.HasError() {
		p.hasError = true
	}
	if end := span.EndTimeUnixNano(); end > p.maxEndNano {
		p.maxEndNano = end
	}
	if span.StartTimeUnixNano < p.minStartNano {
		p.minStartNano = span.StartTimeUnixNano
	}
	p.services[span.Service] = struct{}{}
}

// reapIdleTraces runs the tail sampler over every pending trace that has
// been idle for at least idleTimeout.
func (o *Orchestrator) reapIdleTraces(now time.Time) {
	var ready []string
	var chars []sampling.TraceCharacteristics

	o.mu.Lock()
	for traceID, p := range o.pending {
		if now.Sub(p.lastSeen) < o.idleTimeout {
			continue
		}
		ready = append(ready, traceID)
		chars = append(chars, p.characteristics(sampling.DefaultTailConfig()))
		delete(o.pending, traceID)
	}
	o.mu.Unlock()

	for i, traceID := range ready {
		keep, priority := o.tail.Decide(chars[i])
		if !keep {
			o.store.DropTrace(traceID)
			o.stats.tailDropped.Inc()
			continue
		}
		o.store.UpgradeTracePriority(traceID, priority)
	}
}

// IngestMetrics flattens md's scalar data points into the metrics ring.
func (o *Orchestrator) IngestMetrics(md pmetric.Metrics) {
	rm := md.ResourceMetrics()
	for i := 0; i < rm.Len(); i++ {
		service, err := resourceService(rm.At(i).Resource())
		if err != nil {
			o.stats.decodeErrors.Inc()
			continue
		}
		serviceID := o.serviceID(service)
		points, skipped := metricPointsFromResourceMetrics(rm.At(i), serviceID, func(name string) uint16 {
			id, _ := o.metricNames.Intern(name)
			return uint16(id)
		})
		for _, pt := range points {
			o.metricsRing.Record(pt)
		}
		if skipped > 0 {
			o.log.Debug("skipped non-scalar metric data points", zap.Int("count", skipped))
		}
	}
}

// IngestLogs appends ld's records into the log store.
func (o *Orchestrator) IngestLogs(ld plog.Logs) {
	rl := ld.ResourceLogs()
	for i := 0; i < rl.Len(); i++ {
		service, err := resourceService(rl.At(i).Resource())
		if err != nil {
			o.stats.decodeErrors.Inc()
			continue
		}
		serviceID := o.serviceID(service)
		for _, rec := range logRecordsFromResourceLogs(rl.At(i), serviceID) {
			o.logStore.Append(rec)
		}
	}
}
