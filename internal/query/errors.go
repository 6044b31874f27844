package query

import "fmt"

// ParseError reports a syntax problem at a byte offset into the query text.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("query: parse error at %d: %s", e.Pos, e.Msg)
}

// UnknownField is returned when a Comparison names a field the evaluator
// does not recognize (and it isn't an attribute reference).
type UnknownField struct {
	Name string
}

func (e *UnknownField) Error() string {
	return fmt.Sprintf("query: unknown field %q", e.Name)
}

// TypeMismatch is returned when a Comparison's value kind cannot be
// compared against the field it targets (e.g. duration field vs string
// literal).
type TypeMismatch struct {
	Field string
	Want  string
	Got   string
}

func (e *TypeMismatch) Error() string {
	return fmt.Sprintf("query: field %q expects %s, got %s", e.Field, e.Want, e.Got)
}

// RegexError wraps a failure compiling an =~ pattern.
type RegexError struct {
	Pattern string
	Err     error
}

func (e *RegexError) Error() string {
	return fmt.Sprintf("query: invalid regex %q: %v", e.Pattern, e.Err)
}

func (e *RegexError) Unwrap() error { return e.Err }
