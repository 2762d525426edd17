package metadata

import (
	"errors"
	"fmt"
)

// Common metadata errors.
var (
	// ErrNotFound is returned when a metadata document does not exist.
	ErrNotFound = errors.New("metadata document not found")

	// ErrMalformed is returned when a document parses but does not have the
	// expected shape.
	ErrMalformed = errors.New("malformed metadata document")
)

// ParseError reports a document that is not valid JSON.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
