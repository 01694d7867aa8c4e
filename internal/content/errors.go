// Package content validates, repairs and merges generated city content.
//
// Nothing in this package performs I/O: every function maps its inputs to
// an output or an error.
package content

import "fmt"

// ParseError reports a response that is not well-formed JSON.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing generated content: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError reports well-formed JSON that does not match the content shape.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "invalid generated content: " + e.Reason
	}
	return fmt.Sprintf("invalid generated content: %s %s", e.Field, e.Reason)
}
