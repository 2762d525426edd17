package scanner

import (
	"errors"
	"fmt"
)

// ErrUnknownMode is returned for a scan mode other than annotated or
// pre_processed.
var ErrUnknownMode = errors.New("unknown scan mode")

// FilesystemError reports a directory listing failure. It aborts the scan of
// the mode it occurred in.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
