package model

// MetricKind tags the variant of a MetricPoint.
type MetricKind uint8

const (
	MetricCounter MetricKind = iota
	MetricGauge
	MetricHistogram
)

// MetricPoint is a fixed 32-byte record: timestamp(8) + service_id(2) +
// metric_id(2) + 4 bytes of alignment padding before value + value(8) +
// attr_hash(4) + type_flags(1) + padding(3). The ring buffer in
// internal/metrics/ring.go stores these records by value in a plain
// []MetricPoint.
type MetricPoint struct {
	TimestampUnixNano uint64
	ServiceID         uint16
	MetricID          uint16
	Value             float64
	AttrHash          uint32
	TypeFlags         uint8
	_                 [3]byte // pad to 32 bytes
}

// Kind extracts the MetricKind from TypeFlags (low 2 bits).
func (p MetricPoint) Kind() MetricKind {
	return MetricKind(p.TypeFlags & 0x3)
}

// Severity is the log record severity level, following OTLP's numeric scale
// collapsed to the handful of buckets urpo's UI distinguishes.
type Severity uint8

const (
	SeverityUnspecified Severity = iota
	SeverityTrace
	SeverityDebug
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityFatal
)

// LogRecord is an append-only log entry, optionally correlated to a trace.
type LogRecord struct {
	TimestampUnixNano int64
	Severity          Severity
	ServiceID         uint16
	Body              string
	Attributes        map[string]string
	TraceID           string // empty if uncorrelated
	SpanID            string
}
