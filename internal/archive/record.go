package archive

import (
	"bytes"
	"encoding/gob"

	"github.com/urpo-dev/urpo/internal/model"
)

// archivedSpan is the gob-serializable projection of a model.Span written
// to a partition's data file. Kept as its own type (rather than gob-tagging
// model.Span directly) so the archive's on-disk layout doesn't shift every
// time the hot-path span type changes.
type archivedSpan struct {
	TraceID       string
	SpanID        string
	ParentSpanID  string
	Service       string
	Operation     string
	Kind          model.Kind
	StartUnixNano int64
	DurationNano  int64
	StatusCode    model.StatusCode
	StatusMessage string
	Attributes    map[string]string
	Events        []model.Event
}

func toArchived(s *model.Span) archivedSpan {
	return archivedSpan{
		TraceID:       s.TraceID,
		SpanID:        s.SpanID,
		ParentSpanID:  s.ParentSpanID,
		Service:       s.Service,
		Operation:     s.Operation,
		Kind:          s.Kind,
		StartUnixNano: s.StartTimeUnixNano,
		DurationNano:  s.DurationNano,
		StatusCode:    s.Status.Code,
		StatusMessage: s.Status.Message,
		Attributes:    s.Attributes,
		Events:        s.Events,
	}
}

func (a archivedSpan) toSpan() *model.Span {
	return &model.Span{
		TraceID:           a.TraceID,
		SpanID:            a.SpanID,
		ParentSpanID:      a.ParentSpanID,
		Service:           a.Service,
		Operation:         a.Operation,
		Kind:              a.Kind,
		StartTimeUnixNano: a.StartUnixNano,
		DurationNano:      a.DurationNano,
		Status:            model.Status{Code: a.StatusCode, Message: a.StatusMessage},
		Attributes:        a.Attributes,
		Events:            a.Events,
	}
}

// encodeSpan gob-encodes s into a flat byte slice for zstd block
// compression (compress.go); records are not LZ4-compressed. Each record is self-contained (no shared gob stream state
// across records) so decoding one row never requires replaying the
// partition from its start.
func encodeSpan(s *model.Span) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toArchived(s)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSpan(b []byte) (*model.Span, error) {
	var a archivedSpan
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&a); err != nil {
		return nil, err
	}
	return a.toSpan(), nil
}
