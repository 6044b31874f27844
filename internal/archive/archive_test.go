package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpo-dev/urpo/internal/intern"
	"github.com/urpo-dev/urpo/internal/model"
)

func testSpan(service, traceID string, start time.Time, hasError bool) *model.Span {
	status := model.Status{Code: model.StatusOk}
	if hasError {
		status = model.Status{Code: model.StatusError, Message: "boom"}
	}
	return &model.Span{
		TraceID:           traceID,
		SpanID:            "span-1",
		Service:           service,
		Operation:         "handle",
		Kind:              model.KindServer,
		StartTimeUnixNano: start.UnixNano(),
		DurationNano:      int64(5 * time.Millisecond),
		Status:            status,
	}
}

func TestWriterRoundTripsSpans(t *testing.T) {
	dir := t.TempDir()
	pool := intern.New()
	w, err := NewWriter(Config{RootDir: dir, Granularity: GranularityDay}, pool)
	require.NoError(t, err)

	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	spans := []*model.Span{
		testSpan("checkout", "trace-1", base, false),
		testSpan("checkout", "trace-2", base.Add(time.Second), true),
		testSpan("payments", "trace-3", base.Add(2*time.Second), false),
	}
	require.NoError(t, w.Archive(spans))
	require.NoError(t, w.Close())

	r := NewReader(Config{RootDir: dir, Granularity: GranularityDay})
	got, err := r.Query(Filter{}, TimeRange{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	byTrace := make(map[string]*model.Span, len(got))
	for _, s := range got {
		byTrace[s.TraceID] = s
	}
	assert.Equal(t, "checkout", byTrace["trace-1"].Service)
	assert.True(t, byTrace["trace-2"].HasError())
	assert.Equal(t, "payments", byTrace["trace-3"].Service)
}

func TestReaderFiltersByServiceAndError(t *testing.T) {
	dir := t.TempDir()
	pool := intern.New()
	w, err := NewWriter(Config{RootDir: dir, Granularity: GranularityDay}, pool)
	require.NoError(t, err)

	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.Archive([]*model.Span{
		testSpan("checkout", "trace-1", base, false),
		testSpan("checkout", "trace-2", base, true),
		testSpan("payments", "trace-3", base, true),
	}))
	require.NoError(t, w.Close())

	checkoutID, ok := pool.Lookup("checkout")
	require.True(t, ok)

	r := NewReader(Config{RootDir: dir, Granularity: GranularityDay})

	byService, err := r.Query(Filter{ServiceID: checkoutID}, TimeRange{})
	require.NoError(t, err)
	assert.Len(t, byService, 2)

	errorsOnly, err := r.Query(Filter{ErrorsOnly: true}, TimeRange{})
	require.NoError(t, err)
	assert.Len(t, errorsOnly, 2)

	both, err := r.Query(Filter{ServiceID: checkoutID, ErrorsOnly: true}, TimeRange{})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "trace-2", both[0].TraceID)
}

func TestReaderSkipsPartitionsOutsideTimeRange(t *testing.T) {
	dir := t.TempDir()
	pool := intern.New()
	w, err := NewWriter(Config{RootDir: dir, Granularity: GranularityDay}, pool)
	require.NoError(t, err)

	day1 := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, w.Archive([]*model.Span{testSpan("checkout", "trace-1", day1, false)}))
	require.NoError(t, w.Archive([]*model.Span{testSpan("checkout", "trace-2", day2, false)}))
	require.NoError(t, w.Close())

	r := NewReader(Config{RootDir: dir, Granularity: GranularityDay})
	got, err := r.Query(Filter{}, TimeRange{Start: day2.Add(-time.Hour), End: day2.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "trace-2", got[0].TraceID)
}

func TestWriterRollsOverOnPartitionBoundary(t *testing.T) {
	dir := t.TempDir()
	pool := intern.New()
	w, err := NewWriter(Config{RootDir: dir, Granularity: GranularityDay}, pool)
	require.NoError(t, err)

	day1 := time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 31, 0, 1, 0, 0, time.UTC)
	require.NoError(t, w.Archive([]*model.Span{
		testSpan("checkout", "trace-1", day1, false),
		testSpan("checkout", "trace-2", day2, false),
	}))
	require.NoError(t, w.Close())

	r := NewReader(Config{RootDir: dir, Granularity: GranularityDay})
	got, err := r.Query(Filter{}, TimeRange{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
