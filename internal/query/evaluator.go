package query

import (
	"regexp"
	"strings"
	"sync"

	"github.com/urpo-dev/urpo/internal/model"
)

// DataSource is the minimal read surface a store must expose for the
// evaluator to run over it. The span store (internal/store) implements
// this so the query package never needs to import it back, avoiding an
// import cycle between store and query.
type DataSource interface {
	RecentSpans(limit int) []*model.Span
	SpansForService(service string, limit int) []*model.Span
	ErrorSpans(limit int) []*model.Span
	SpanByTraceID(traceID string) []*model.Span
}

// regexCache compiles and memoizes =~ patterns; queries are re-evaluated
// far more often than new patterns appear.
var regexCache = struct {
	mu sync.RWMutex
	m  map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	regexCache.mu.RLock()
	if re, ok := regexCache.m[pattern]; ok {
		regexCache.mu.RUnlock()
		return re, nil
	}
	regexCache.mu.RUnlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &RegexError{Pattern: pattern, Err: err}
	}

	regexCache.mu.Lock()
	regexCache.m[pattern] = re
	regexCache.mu.Unlock()
	return re, nil
}

// Evaluate runs q against src, choosing an index when the outermost
// conjunction contains an equality on service, trace_id, or status==error;
// otherwise it scans the recent window. limit bounds the number of
// candidate spans considered (not the number of matches), matching the
// store's own get_*_spans limit semantics.
func Evaluate(src DataSource, q *Query, limit int) ([]*model.Span, error) {
	if q == nil || q.Root == nil {
		return nil, nil
	}

	candidates, err := candidateSpans(src, q.Root, limit)
	if err != nil {
		return nil, err
	}

	out := make([]*model.Span, 0, len(candidates))
	for _, s := range candidates {
		ok, err := q.Root.Matches(s)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// candidateSpans picks the cheapest source of spans to scan: an index hit
// when the outermost AND-conjunction has an equality anchor, else recent.
func candidateSpans(src DataSource, root *Filter, limit int) ([]*model.Span, error) {
	for _, eq := range topLevelEqualities(root) {
		switch {
		case eq.Field.Name == FieldService && !eq.Field.Attribute && eq.Op == OpEq && eq.Value.Kind == ValueString:
			return src.SpansForService(eq.Value.Str, limit), nil
		case eq.Field.Name == FieldTraceID && !eq.Field.Attribute && eq.Op == OpEq && eq.Value.Kind == ValueString:
			return src.SpanByTraceID(eq.Value.Str), nil
		case eq.Field.Name == FieldStatus && !eq.Field.Attribute && eq.Op == OpEq && eq.Value.Kind == ValueStatus && eq.Value.Str == "error":
			return src.ErrorSpans(limit), nil
		}
	}
	return src.RecentSpans(limit), nil
}

// topLevelEqualities walks the chain of top-level ANDs (not descending
// into ORs or Groups) collecting direct Comparison equalities, mirroring
// which conjunctions are safe to short-circuit via an index.
func topLevelEqualities(f *Filter) []*Filter {
	switch f.Kind {
	case KindComparison:
		return []*Filter{f}
	case KindLogical:
		if f.LOp == LogicalAnd {
			return append(topLevelEqualities(f.Left), topLevelEqualities(f.Right)...)
		}
	}
	return nil
}

// Matches evaluates the filter against a single span.
func (f *Filter) Matches(s *model.Span) (bool, error) {
	switch f.Kind {
	case KindAll:
		return true, nil
	case KindGroup:
		return f.Inner.Matches(s)
	case KindLogical:
		left, err := f.Left.Matches(s)
		if err != nil {
			return false, err
		}
		if f.LOp == LogicalAnd && !left {
			return false, nil
		}
		if f.LOp == LogicalOr && left {
			return true, nil
		}
		return f.Right.Matches(s)
	case KindComparison:
		return f.matchComparison(s)
	default:
		return false, nil
	}
}

func (f *Filter) matchComparison(s *model.Span) (bool, error) {
	if f.Field.Attribute {
		v, ok := s.Attributes[f.Field.Name]
		if !ok {
			return false, nil
		}
		return compareString(v, f.Op, f.Value)
	}

	switch f.Field.Name {
	case FieldService:
		return compareString(s.Service, f.Op, f.Value)
	case FieldName:
		return compareString(s.Operation, f.Op, f.Value)
	case FieldTraceID:
		return compareString(s.TraceID, f.Op, f.Value)
	case FieldSpanID:
		return compareString(s.SpanID, f.Op, f.Value)
	case FieldParentSpanID:
		return compareString(s.ParentSpanID, f.Op, f.Value)
	case FieldSpanKind:
		return compareString(s.Kind.String(), f.Op, f.Value)
	case FieldStatus:
		if f.Value.Kind != ValueStatus {
			return false, &TypeMismatch{Field: f.Field.Name, Want: "status", Got: "other"}
		}
		return compareString(s.Status.Code.String(), f.Op, f.Value)
	case FieldDuration:
		var want int64
		switch f.Value.Kind {
		case ValueDuration:
			want = int64(f.Value.Dur)
		case ValueInt:
			want = f.Value.Int
		default:
			return false, &TypeMismatch{Field: f.Field.Name, Want: "duration", Got: "other"}
		}
		return compareInt(s.DurationNano, f.Op, want)
	default:
		return false, &UnknownField{Name: f.Field.Name}
	}
}

func compareInt(have int64, op Op, want int64) (bool, error) {
	switch op {
	case OpEq:
		return have == want, nil
	case OpNeq:
		return have != want, nil
	case OpGt:
		return have > want, nil
	case OpGte:
		return have >= want, nil
	case OpLt:
		return have < want, nil
	case OpLte:
		return have <= want, nil
	default:
		return false, &TypeMismatch{Want: "ordering operator", Got: op.String()}
	}
}

func compareString(have string, op Op, want Value) (bool, error) {
	switch op {
	case OpEq:
		return have == want.Str, nil
	case OpNeq:
		return have != want.Str, nil
	case OpContains:
		return strings.Contains(have, want.Str), nil
	case OpRegex:
		re, err := compileRegex(want.Str)
		if err != nil {
			return false, err
		}
		return re.MatchString(have), nil
	default:
		return false, &TypeMismatch{Want: "equality/regex operator", Got: op.String()}
	}
}
