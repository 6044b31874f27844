// Package receiver implements the OTLP gRPC/HTTP ingestion front door (C5)
// and the per-batch orchestration pipeline (C10) tying it to sampling,
// the store, and the health monitor. Decoding is grounded on
// go.opentelemetry.io/collector/pdata's ptrace/pmetric/plog packages,
// the same OTLP in-memory representation the collector itself decodes
// into before handing data to a processor chain.
package receiver

import (
	"fmt"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/urpo-dev/urpo/internal/model"
)

const serviceNameKey = "service.name"

func attrsToMap(m pcommon.Map) map[string]string {
	if m.Len() == 0 {
		return nil
	}
	out := make(map[string]string, m.Len())
	m.Range(func(k string, v pcommon.Value) bool {
		out[k] = v.AsString()
		return true
	})
	return out
}

func resourceService(res pcommon.Resource) (string, error) {
	v, ok := res.Attributes().Get(serviceNameKey)
	if !ok || v.AsString() == "" {
		return "", fmt.Errorf("receiver: resource missing %s", serviceNameKey)
	}
	return v.AsString(), nil
}

func spanKind(k ptrace.SpanKind) model.Kind {
	switch k {
	case ptrace.SpanKindInternal:
		return model.KindInternal
	case ptrace.SpanKindServer:
		return model.KindServer
	case ptrace.SpanKindClient:
		return model.KindClient
	case ptrace.SpanKindProducer:
		return model.KindProducer
	case ptrace.SpanKindConsumer:
		return model.KindConsumer
	default:
		return model.KindUnspecified
	}
}

func statusCode(c ptrace.StatusCode) model.StatusCode {
	switch c {
	case ptrace.StatusCodeOk:
		return model.StatusOk
	case ptrace.StatusCodeError:
		return model.StatusError
	default:
		return model.StatusUnknown
	}
}

// convertSpanInto fills out, a caller-owned buffer, from s. The caller
// supplies out (typically borrowed from an internal/pool.SpanPool so the
// hot decode path allocates nothing) rather than convertSpanInto
// allocating its own *model.Span.
func convertSpanInto(service string, s ptrace.Span, out *model.Span) error {
	start := int64(s.StartTimestamp())
	end := int64(s.EndTimestamp())
	if end < start {
		return fmt.Errorf("receiver: span %s end before start", s.SpanID())
	}

	events := make([]model.Event, 0, s.Events().Len())
	for i := 0; i < s.Events().Len(); i++ {
		e := s.Events().At(i)
		events = append(events, model.Event{
			Name:       e.Name(),
			Timestamp:  int64(e.Timestamp()),
			Attributes: attrsToMap(e.Attributes()),
		})
	}

	traceID := s.TraceID()
	spanID := s.SpanID()
	parentID := s.ParentSpanID()

	out.TraceID = fmt.Sprintf("%x", traceID[:])
	out.SpanID = fmt.Sprintf("%x", spanID[:])
	out.ParentSpanID = ""
	out.Service = service
	out.Operation = s.Name()
	out.Kind = spanKind(s.Kind())
	out.StartTimeUnixNano = start
	out.DurationNano = end - start
	out.Status = model.Status{Code: statusCode(s.Status().Code()), Message: s.Status().Message()}
	out.Attributes = attrsToMap(s.Attributes())
	out.Events = events
	if !isZeroSpanID(parentID) {
		out.ParentSpanID = fmt.Sprintf("%x", parentID[:])
	}
	return nil
}

func isZeroSpanID(id pcommon.SpanID) bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}

// metricPointsFromResourceMetrics flattens the scalar (Gauge/Sum) data
// points of one ResourceMetrics into MetricPoint records. Histogram and
// exponential-histogram data points have no room in MetricPoint's fixed
// 32-byte layout and are dropped; their number is returned as the second
// result, which the caller logs at debug level.
func metricPointsFromResourceMetrics(rm pmetric.ResourceMetrics, serviceID uint16, metricID func(name string) uint16) ([]model.MetricPoint, int) {
	var out []model.MetricPoint
	skipped := 0

	scopeMetrics := rm.ScopeMetrics()
	for i := 0; i < scopeMetrics.Len(); i++ {
		metrics := scopeMetrics.At(i).Metrics()
		for j := 0; j < metrics.Len(); j++ {
			m := metrics.At(j)
			mid := metricID(m.Name())
			switch m.Type() {
			case pmetric.MetricTypeGauge:
				out = appendNumberPoints(out, m.Gauge().DataPoints(), serviceID, mid, model.MetricGauge)
			case pmetric.MetricTypeSum:
				out = appendNumberPoints(out, m.Sum().DataPoints(), serviceID, mid, model.MetricCounter)
			default:
				skipped++
			}
		}
	}
	return out, skipped
}

func appendNumberPoints(out []model.MetricPoint, dps pmetric.NumberDataPointSlice, serviceID, metricID uint16, kind model.MetricKind) []model.MetricPoint {
	for i := 0; i < dps.Len(); i++ {
		dp := dps.At(i)
		var value float64
		if dp.ValueType() == pmetric.NumberDataPointValueTypeInt {
			value = float64(dp.IntValue())
		} else {
			value = dp.DoubleValue()
		}
		out = append(out, model.MetricPoint{
			TimestampUnixNano: uint64(dp.Timestamp()),
			ServiceID:         serviceID,
			MetricID:          metricID,
			Value:             value,
			TypeFlags:         uint8(kind),
		})
	}
	return out
}

func logRecordsFromResourceLogs(rl plog.ResourceLogs, serviceID uint16) []model.LogRecord {
	var out []model.LogRecord
	scopeLogs := rl.ScopeLogs()
	for i := 0; i < scopeLogs.Len(); i++ {
		records := scopeLogs.At(i).LogRecords()
		for j := 0; j < records.Len(); j++ {
			r := records.At(j)
			traceID := r.TraceID()
			spanID := r.SpanID()
			rec := model.LogRecord{
				TimestampUnixNano: int64(r.Timestamp()),
				Severity:          severityFromNumber(r.SeverityNumber()),
				ServiceID:         serviceID,
				Body:              r.Body().AsString(),
				Attributes:        attrsToMap(r.Attributes()),
			}
			if !isZeroTraceID(traceID) {
				rec.TraceID = fmt.Sprintf("%x", traceID[:])
			}
			if !isZeroSpanID(spanID) {
				rec.SpanID = fmt.Sprintf("%x", spanID[:])
			}
			out = append(out, rec)
		}
	}
	return out
}

func isZeroTraceID(id pcommon.TraceID) bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}

func severityFromNumber(n plog.SeverityNumber) model.Severity {
	switch {
	case n >= plog.SeverityNumberFatal:
		return model.SeverityFatal
	case n >= plog.SeverityNumberError:
		return model.SeverityError
	case n >= plog.SeverityNumberWarn:
		return model.SeverityWarn
	case n >= plog.SeverityNumberInfo:
		return model.SeverityInfo
	case n >= plog.SeverityNumberDebug:
		return model.SeverityDebug
	case n >= plog.SeverityNumberTrace:
		return model.SeverityTrace
	default:
		return model.SeverityUnspecified
	}
}
