package pipeline

import (
	"errors"
	"fmt"

	"github.com/c360studio/madcsync/scanner"
)

// Sentinel errors for pipeline operations.
var (
	// ErrStudyNotFound is returned when the study folder does not exist below the source root.
	ErrStudyNotFound = errors.New("study not found")
	// ErrInvalidStudy is returned for names that are not a single path element.
	ErrInvalidStudy = errors.New("invalid study name")
)

// RecordError reports a repertoire record whose documents could not be used.
type RecordError struct {
	Mode   scanner.Mode
	Folder string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s record %s: %v", e.Mode, e.Folder, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
