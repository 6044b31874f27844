package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpo-dev/urpo/internal/intern"
	"github.com/urpo-dev/urpo/internal/model"
	"github.com/urpo-dev/urpo/internal/sampling"
)

type fakeArchiver struct {
	spans []*model.Span
}

func (f *fakeArchiver) Archive(spans []*model.Span) error {
	f.spans = append(f.spans, spans...)
	return nil
}

func testSpan(service, traceID, spanID string, start time.Time) *model.Span {
	return &model.Span{
		TraceID:           traceID,
		SpanID:            spanID,
		Service:           service,
		Operation:         "handle",
		Kind:              model.KindServer,
		StartTimeUnixNano: start.UnixNano(),
		DurationNano:      int64(5 * time.Millisecond),
		Status:            model.Status{Code: model.StatusOk},
	}
}

func TestStoreRoundTripsSpan(t *testing.T) {
	st := New(DefaultConfig(), intern.New(), nil)
	span := testSpan("checkout", "trace-1", "span-1", time.Now())

	require.NoError(t, st.Store(span, sampling.PriorityMedium))

	got := st.GetTraceSpans("trace-1")
	require.Len(t, got, 1)
	assert.Equal(t, "checkout", got[0].Service)
	assert.Equal(t, 1, st.Stats().SpanCount)
	assert.Equal(t, 1, st.Stats().TraceCount)
}

func TestStoreRejectsInvalidSpan(t *testing.T) {
	st := New(DefaultConfig(), intern.New(), nil)
	err := st.Store(&model.Span{}, sampling.PriorityMedium)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 0, st.Stats().SpanCount)
}

func TestDropTraceEvictsAllRows(t *testing.T) {
	st := New(DefaultConfig(), intern.New(), nil)
	now := time.Now()
	require.NoError(t, st.Store(testSpan("checkout", "trace-1", "span-1", now), sampling.PriorityLow))
	require.NoError(t, st.Store(testSpan("checkout", "trace-1", "span-2", now), sampling.PriorityLow))
	require.NoError(t, st.Store(testSpan("checkout", "trace-2", "span-3", now), sampling.PriorityLow))

	removed := st.DropTrace("trace-1")
	assert.Equal(t, 2, removed)
	assert.Empty(t, st.GetTraceSpans("trace-1"))
	assert.Len(t, st.GetTraceSpans("trace-2"), 1)
	assert.Equal(t, 1, st.Stats().SpanCount)
}

func TestUpgradeTracePriorityProtectsFromEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpans = 2
	st := New(cfg, intern.New(), nil)
	now := time.Now()

	require.NoError(t, st.Store(testSpan("checkout", "trace-low", "span-1", now), sampling.PriorityLow))
	st.UpgradeTracePriority("trace-low", sampling.PriorityCritical)

	require.NoError(t, st.Store(testSpan("checkout", "trace-2", "span-2", now.Add(time.Millisecond)), sampling.PriorityLow))

	// A further Low-priority insert should be rejected outright: the oldest
	// row (trace-low) now outranks it, per the priority-aware admission
	// check at the top of Store.
	err := st.Store(testSpan("checkout", "trace-3", "span-3", now.Add(2*time.Millisecond)), sampling.PriorityLow)
	assert.ErrorIs(t, err, ErrAtCapacity)
	assert.Len(t, st.GetTraceSpans("trace-low"), 1)
}

func TestEvictRowArchivesWhenConfigured(t *testing.T) {
	arc := &fakeArchiver{}
	cfg := DefaultConfig()
	cfg.MaxSpans = 1
	st := New(cfg, intern.New(), arc)
	now := time.Now()

	require.NoError(t, st.Store(testSpan("checkout", "trace-1", "span-1", now), sampling.PriorityLow))
	require.NoError(t, st.Store(testSpan("checkout", "trace-2", "span-2", now.Add(time.Millisecond)), sampling.PriorityLow))

	require.Len(t, arc.spans, 1)
	assert.Equal(t, "trace-1", arc.spans[0].TraceID)
}

func TestCleanupEvictsByRetention(t *testing.T) {
	st := New(DefaultConfig(), intern.New(), nil)
	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now()

	require.NoError(t, st.Store(testSpan("checkout", "trace-old", "span-1", old), sampling.PriorityLow))
	require.NoError(t, st.Store(testSpan("checkout", "trace-new", "span-2", recent), sampling.PriorityLow))

	removed := st.Cleanup(time.Hour, time.Now())
	assert.Equal(t, 1, removed)
	assert.Empty(t, st.GetTraceSpans("trace-old"))
	assert.Len(t, st.GetTraceSpans("trace-new"), 1)
}

func TestGetServiceSpansFiltersBySince(t *testing.T) {
	st := New(DefaultConfig(), intern.New(), nil)
	base := time.Now()
	require.NoError(t, st.Store(testSpan("checkout", "trace-1", "span-1", base), sampling.PriorityMedium))
	require.NoError(t, st.Store(testSpan("checkout", "trace-2", "span-2", base.Add(time.Minute)), sampling.PriorityMedium))

	all := st.GetServiceSpans("checkout", 0)
	assert.Len(t, all, 2)

	since := st.GetServiceSpans("checkout", base.Add(30*time.Second).UnixNano())
	require.Len(t, since, 1)
	assert.Equal(t, "trace-2", since[0].TraceID)
}
