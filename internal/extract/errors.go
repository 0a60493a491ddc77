package extract

import (
	"errors"
	"fmt"
)

// ErrExtraction marks any failure to derive symbols or references from a file.
var ErrExtraction = errors.New("extraction failed")

// FileError is a per-file failure. It unwraps to both ErrExtraction and the
// underlying cause, so errors.Is works for either.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() []error {
	return []error{ErrExtraction, e.Err}
}

func fileError(path, op string, err error) error {
	return &FileError{Path: path, Op: op, Err: err}
}
