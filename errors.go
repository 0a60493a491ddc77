package xref

import (
	"errors"
	"fmt"

	"github.com/jward/xref/internal/extract"
	"github.com/jward/xref/internal/runtime"
)

// Error taxonomy. Per-file errors (unsupported language, parse failure,
// extraction) are recovered during scans and reported through Stats.
// The rest are returned to the caller.
var (
	ErrUnsupportedLanguage = runtime.ErrUnsupportedLanguage
	ErrParseFailure        = runtime.ErrParseFailure
	ErrExtraction          = extract.ErrExtraction

	ErrNotInitialized  = errors.New("xref: graph not initialized")
	ErrLock            = errors.New("xref: graph is locked")
	ErrIO              = errors.New("xref: i/o error")
	ErrInvalidArgument = errors.New("xref: invalid argument")
)

// FileError is a per-file failure. errors.Is matches ErrExtraction and the
// underlying cause.
type FileError = extract.FileError

func ioError(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, path, err)
}
