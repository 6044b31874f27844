// Package query implements the trace/span query language (C8): an AST,
// a recursive-descent parser, and an evaluator that runs over a
// store-provided DataSource, choosing an index when the outermost
// conjunction allows it. Grounded in shape on
// original_source/src/query/ast.rs (the AST node set spec.md §4.8 distills
// from) and, for the Display round-trip idiom, on the teacher's traceql
// test fixtures (pkg/traceql/*_test.go) which exercise parse/display pairs.
package query

import (
	"fmt"
	"strconv"
	"time"
)

// Field identifies what a Comparison filters on.
type Field struct {
	Name      string // canonical field name, or attribute key when Attribute is true
	Attribute bool
}

func (f Field) String() string {
	if f.Attribute {
		return "." + f.Name
	}
	return f.Name
}

// Well-known (non-attribute) field names.
const (
	FieldService      = "service"
	FieldName         = "name"
	FieldDuration     = "duration"
	FieldStatus       = "status"
	FieldTraceID      = "trace_id"
	FieldSpanID       = "span_id"
	FieldParentSpanID = "parent_span_id"
	FieldSpanKind     = "span.kind"
)

var knownFields = map[string]bool{
	FieldService: true, FieldName: true, FieldDuration: true, FieldStatus: true,
	FieldTraceID: true, FieldSpanID: true, FieldParentSpanID: true, FieldSpanKind: true,
}

// Op is a comparison operator.
type Op uint8

const (
	OpEq Op = iota
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
	OpRegex   // =~
	OpContains
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNeq:
		return "!="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpRegex:
		return "=~"
	case OpContains:
		return "contains"
	default:
		return "?"
	}
}

// ValueKind tags a Value's underlying representation.
type ValueKind uint8

const (
	ValueString ValueKind = iota
	ValueInt
	ValueDuration
	ValueBool
	ValueStatus
)

// Value is a literal on the right-hand side of a Comparison.
type Value struct {
	Kind ValueKind
	Str  string
	Int  int64
	Dur  time.Duration
	Bool bool
}

func (v Value) String() string {
	switch v.Kind {
	case ValueString:
		return strconv.Quote(v.Str)
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueDuration:
		return formatDuration(v.Dur)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueStatus:
		return v.Str
	default:
		return ""
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", int64(d/time.Second))
	case d%time.Millisecond == 0:
		return fmt.Sprintf("%dms", int64(d/time.Millisecond))
	case d%time.Microsecond == 0:
		return fmt.Sprintf("%dus", int64(d/time.Microsecond))
	default:
		return fmt.Sprintf("%dns", int64(d))
	}
}

// LogicalOp joins two filters.
type LogicalOp uint8

const (
	LogicalAnd LogicalOp = iota
	LogicalOr
)

func (l LogicalOp) String() string {
	if l == LogicalOr {
		return "OR"
	}
	return "AND"
}

// Filter is the query AST. Exactly one of the concrete shapes is populated,
// selected by Kind.
type Filter struct {
	Kind FilterKind

	// Comparison
	Field Field
	Op    Op
	Value Value

	// Logical
	Left  *Filter
	Right *Filter
	LOp   LogicalOp

	// Group
	Inner *Filter
}

// FilterKind discriminates Filter's variant.
type FilterKind uint8

const (
	KindAll FilterKind = iota
	KindComparison
	KindLogical
	KindGroup
)

// Query is the top-level parsed query; today it is exactly a Filter, kept
// as a distinct type so future query forms (sort, limit clauses) have a
// home without changing Filter's shape.
type Query struct {
	Root *Filter
}

// Display renders the query back to canonical text. Parentheses are
// emitted only for Group nodes; no parentheses are added around nested
// Logical nodes, so Parse(q.Display()) reproduces q only when every OR
// operand of an AND, and every Logical right operand of a Logical, is
// wrapped in a Group. String values whose quoted form needs escapes other
// than \" and \\, and negative integers, do not parse back to the same
// Value.
func (q *Query) Display() string {
	if q.Root == nil {
		return ""
	}
	return q.Root.display()
}

func (f *Filter) display() string {
	switch f.Kind {
	case KindAll:
		return "*"
	case KindComparison:
		return fmt.Sprintf("%s %s %s", f.Field.String(), f.Op.String(), f.Value.String())
	case KindGroup:
		return "(" + f.Inner.display() + ")"
	case KindLogical:
		return fmt.Sprintf("%s %s %s", f.Left.display(), f.LOp.String(), f.Right.display())
	default:
		return ""
	}
}
