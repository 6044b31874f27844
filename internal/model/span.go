// Package model holds the wire-independent data types shared by every
// component of the ingest and query pipeline: spans, traces, metric points
// and log records.
package model

import (
	"errors"
	"fmt"
)

// Kind is the OTLP span kind, canonicalized to an enum.
type Kind uint8

const (
	KindUnspecified Kind = iota
	KindInternal
	KindServer
	KindClient
	KindProducer
	KindConsumer
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindProducer:
		return "producer"
	case KindConsumer:
		return "consumer"
	default:
		return "unspecified"
	}
}

// StatusCode mirrors the OTLP status codes urpo cares about.
type StatusCode uint8

const (
	StatusUnknown StatusCode = iota
	StatusOk
	StatusError
)

func (s StatusCode) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the span's terminal status; Message is only meaningful when
// Code == StatusError.
type Status struct {
	Code    StatusCode
	Message string
}

// Event is a timestamped annotation attached to a span.
type Event struct {
	Name       string
	Timestamp  int64 // unix nanoseconds
	Attributes map[string]string
}

const (
	maxIDLabelLen = 255
)

// Validation errors returned by Span.Validate and the receiver decode path.
var (
	ErrEmptyTraceID   = errors.New("model: trace id is empty")
	ErrEmptySpanID    = errors.New("model: span id is empty")
	ErrEmptyService   = errors.New("model: service name is empty")
	ErrEmptyOperation = errors.New("model: operation name is empty")
	ErrLabelTooLong   = errors.New("model: service or operation name exceeds 255 bytes")
	ErrEndBeforeStart = errors.New("model: end_time is before start_time")
)

// Span is a single unit of work within a trace. It is immutable once
// constructed; the store and archive layers only ever hand out copies or
// read-only views.
type Span struct {
	TraceID      string // hex-encoded, ≤32 bytes of underlying binary id
	SpanID       string // hex-encoded, ≤8 bytes of underlying binary id
	ParentSpanID string // empty for a root span

	Service   string
	Operation string
	Kind      Kind

	StartTimeUnixNano int64
	DurationNano      int64

	Status Status

	Attributes map[string]string
	Events     []Event
}

// EndTimeUnixNano is a derived convenience accessor; stored spans only keep
// start+duration to stay fixed-width in the column store.
func (s *Span) EndTimeUnixNano() int64 {
	return s.StartTimeUnixNano + s.DurationNano
}

// Validate enforces the §3 invariants. It never allocates beyond building
// the returned error, so callers on the hot path should check the sentinel
// with errors.Is rather than formatting it.
func (s *Span) Validate() error {
	if s.TraceID == "" {
		return ErrEmptyTraceID
	}
	if s.SpanID == "" {
		return ErrEmptySpanID
	}
	if s.Service == "" {
		return ErrEmptyService
	}
	if s.Operation == "" {
		return ErrEmptyOperation
	}
	if len(s.Service) > maxIDLabelLen || len(s.Operation) > maxIDLabelLen {
		return ErrLabelTooLong
	}
	if s.DurationNano < 0 {
		return fmt.Errorf("%w: duration %d", ErrEndBeforeStart, s.DurationNano)
	}
	return nil
}

// HasError reports whether the span carries an error status.
func (s *Span) HasError() bool {
	return s.Status.Code == StatusError
}

// Trace is the read-side aggregate over the spans sharing a trace id. It is
// always computed on demand; nothing persists a Trace as such.
type Trace struct {
	TraceID     string
	Spans       []*Span
	RootService string
	RootName    string
	StartTime   int64
	Duration    int64
	HasError    bool
	SpanCount   int
}

// NewTrace derives trace-level aggregates from its member spans. Spans must
// all share the same TraceID; callers (the store's get_trace_spans path)
// are responsible for that grouping.
func NewTrace(traceID string, spans []*Span) *Trace {
	t := &Trace{TraceID: traceID, Spans: spans, SpanCount: len(spans)}
	if len(spans) == 0 {
		return t
	}

	bySpanID := make(map[string]*Span, len(spans))
	for _, s := range spans {
		bySpanID[s.SpanID] = s
	}

	var root *Span
	minStart := spans[0].StartTimeUnixNano
	maxEnd := spans[0].EndTimeUnixNano()
	for _, s := range spans {
		if s.HasError() {
			t.HasError = true
		}
		if s.StartTimeUnixNano < minStart {
			minStart = s.StartTimeUnixNano
		}
		if end := s.EndTimeUnixNano(); end > maxEnd {
			maxEnd = end
		}
		if s.ParentSpanID == "" {
			root = s
			continue
		}
		if _, ok := bySpanID[s.ParentSpanID]; !ok && root == nil {
			root = s
		}
	}
	if root == nil {
		root = spans[0]
	}

	t.RootService = root.Service
	t.RootName = root.Operation
	t.StartTime = minStart
	t.Duration = maxEnd - minStart
	return t
}

// TraceInfo is the lightweight summary returned by list/search operations
// that enumerate many traces without materializing every member span.
type TraceInfo struct {
	TraceID     string
	RootService string
	RootName    string
	SpanCount   int
	HasError    bool
	StartTime   int64
	Duration    int64
}

// InfoFromTrace projects a Trace down to its summary form.
func InfoFromTrace(t *Trace) TraceInfo {
	return TraceInfo{
		TraceID:     t.TraceID,
		RootService: t.RootService,
		RootName:    t.RootName,
		SpanCount:   t.SpanCount,
		HasError:    t.HasError,
		StartTime:   t.StartTime,
		Duration:    t.Duration,
	}
}
