package receiver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/urpo-dev/urpo/internal/health"
	"github.com/urpo-dev/urpo/internal/intern"
	"github.com/urpo-dev/urpo/internal/logging"
	"github.com/urpo-dev/urpo/internal/metrics"
	"github.com/urpo-dev/urpo/internal/sampling"
	"github.com/urpo-dev/urpo/internal/store"
)

func newTestOrchestrator(t *testing.T, headRate float64, deferToTail bool, budgetBytes int64) (*Orchestrator, *store.Store) {
	t.Helper()
	pool := intern.New()
	st := store.New(store.DefaultConfig(), pool, nil)
	budget := sampling.NewBudget(budgetBytes)
	rate := sampling.NewAdaptiveRate(headRate)
	head := sampling.NewHeadSampler(rate, deferToTail)
	tail := sampling.NewTailSampler(sampling.DefaultTailConfig(), budget, rate)
	mon := health.NewMonitor()
	ring := metrics.NewRing(1024)
	logs := metrics.NewLogStore(metrics.DefaultLogStoreConfig())

	orch := NewOrchestrator(logging.Nop(), st, pool, head, tail, mon, ring, logs, 50*time.Millisecond)
	return orch, st
}

func buildTraces(service, traceIDHex, spanIDHex string, start time.Time, duration time.Duration, isError bool) ptrace.Traces {
	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	rs.Resource().Attributes().PutStr("service.name", service)

	span := rs.ScopeSpans().AppendEmpty().Spans().AppendEmpty()
	span.SetName("handle")
	span.SetKind(ptrace.SpanKindServer)
	span.SetStartTimestamp(pcommon.NewTimestampFromTime(start))
	span.SetEndTimestamp(pcommon.NewTimestampFromTime(start.Add(duration)))

	var tid [16]byte
	copy(tid[:], []byte(traceIDHex))
	span.SetTraceID(pcommon.TraceID(tid))

	var sid [8]byte
	copy(sid[:], []byte(spanIDHex))
	span.SetSpanID(pcommon.SpanID(sid))

	if isError {
		span.Status().SetCode(ptrace.StatusCodeError)
		span.Status().SetMessage("boom")
	}
	return td
}

func TestIngestTracesAcceptsKeptSpans(t *testing.T) {
	orch, st := newTestOrchestrator(t, 1.0, false, 10_000_000)
	td := buildTraces("checkout", "trace-one-16by", "span-one8", time.Now(), 5*time.Millisecond, false)

	rejected := orch.IngestTraces(td, time.Now())
	assert.Equal(t, 0, rejected)
	assert.Equal(t, int64(1), orch.Snapshot().SpansAccepted)
	assert.Equal(t, 1, st.Stats().SpanCount)
}

func TestIngestTracesRejectsMissingServiceName(t *testing.T) {
	orch, _ := newTestOrchestrator(t, 1.0, false, 10_000_000)
	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	rs.ScopeSpans().AppendEmpty().Spans().AppendEmpty()

	rejected := orch.IngestTraces(td, time.Now())
	assert.Equal(t, 1, rejected)
	assert.Equal(t, int64(1), orch.Snapshot().DecodeErrors)
}

func TestReapIdleTracesDropsTailRejected(t *testing.T) {
	// A zero-byte budget forces the tail sampler's fallback branch to
	// reject every non-exceptional trace, regardless of its estimated size.
	orch, st := newTestOrchestrator(t, 1.0, true, 0)
	td := buildTraces("checkout", "trace-two-16by", "span-two8", time.Now(), time.Millisecond, false)

	require.Equal(t, 0, orch.IngestTraces(td, time.Now()))
	require.Equal(t, 1, st.Stats().SpanCount)

	orch.reapIdleTraces(time.Now().Add(time.Hour))

	assert.Equal(t, 0, st.Stats().SpanCount)
	assert.Equal(t, int64(1), orch.Snapshot().TracesTailDropped)
}

func TestRunStopsWithoutLeakingTheReaperGoroutine(t *testing.T) {
	opts := goleak.IgnoreCurrent()
	orch, _ := newTestOrchestrator(t, 1.0, false, 10_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)

	orch.Stop()
	goleak.VerifyNone(t, opts)
}
