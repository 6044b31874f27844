package receiver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/urpo-dev/urpo/internal/model"
)

func TestSpanKindMapsEveryOTLPKind(t *testing.T) {
	cases := map[ptrace.SpanKind]model.Kind{
		ptrace.SpanKindInternal: model.KindInternal,
		ptrace.SpanKindServer:   model.KindServer,
		ptrace.SpanKindClient:   model.KindClient,
		ptrace.SpanKindProducer: model.KindProducer,
		ptrace.SpanKindConsumer: model.KindConsumer,
		ptrace.SpanKindUnspecified: model.KindUnspecified,
	}
	for in, want := range cases {
		assert.Equal(t, want, spanKind(in))
	}
}

func TestStatusCodeMapping(t *testing.T) {
	assert.Equal(t, model.StatusOk, statusCode(ptrace.StatusCodeOk))
	assert.Equal(t, model.StatusError, statusCode(ptrace.StatusCodeError))
	assert.Equal(t, model.StatusUnknown, statusCode(ptrace.StatusCodeUnset))
}

func TestIsZeroSpanIDAndTraceID(t *testing.T) {
	assert.True(t, isZeroSpanID(pcommon.SpanID{}))
	assert.True(t, isZeroTraceID(pcommon.TraceID{}))

	var sid pcommon.SpanID
	sid[0] = 1
	assert.False(t, isZeroSpanID(sid))

	var tid pcommon.TraceID
	tid[15] = 1
	assert.False(t, isZeroTraceID(tid))
}

func TestSeverityFromNumberBucketsByFloor(t *testing.T) {
	assert.Equal(t, model.SeverityTrace, severityFromNumber(plog.SeverityNumberTrace))
	assert.Equal(t, model.SeverityDebug, severityFromNumber(plog.SeverityNumberDebug))
	assert.Equal(t, model.SeverityInfo, severityFromNumber(plog.SeverityNumberInfo))
	assert.Equal(t, model.SeverityWarn, severityFromNumber(plog.SeverityNumberWarn))
	assert.Equal(t, model.SeverityError, severityFromNumber(plog.SeverityNumberError))
	assert.Equal(t, model.SeverityFatal, severityFromNumber(plog.SeverityNumberFatal))
	assert.Equal(t, model.SeverityUnspecified, severityFromNumber(plog.SeverityNumberUnspecified))
}

func TestConvertSpanIntoRejectsEndBeforeStart(t *testing.T) {
	now := time.Now()
	s := ptrace.NewSpan()
	s.SetStartTimestamp(pcommon.NewTimestampFromTime(now.Add(time.Second)))
	s.SetEndTimestamp(pcommon.NewTimestampFromTime(now))

	var out model.Span
	err := convertSpanInto("checkout", s, &out)
	require.Error(t, err)
}

func TestConvertSpanIntoFillsParentOnlyWhenNonZero(t *testing.T) {
	now := time.Now()
	s := ptrace.NewSpan()
	s.SetStartTimestamp(pcommon.NewTimestampFromTime(now))
	s.SetEndTimestamp(pcommon.NewTimestampFromTime(now))
	s.SetName("handle")

	var out model.Span
	require.NoError(t, convertSpanInto("checkout", s, &out))
	assert.Equal(t, "", out.ParentSpanID)
	assert.Equal(t, "checkout", out.Service)
	assert.Equal(t, "handle", out.Operation)

	s.SetParentSpanID(pcommon.SpanID{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, convertSpanInto("checkout", s, &out))
	assert.Equal(t, "0102030405060708", out.ParentSpanID)
}
