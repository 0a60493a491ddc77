package runtime

import "errors"

var (
	// ErrUnsupportedLanguage is returned for files whose extension has no grammar.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrParseFailure is returned when the grammar rejects a source file.
	ErrParseFailure = errors.New("parse failure")
	// ErrQuery is returned when a structural query cannot be compiled.
	ErrQuery = errors.New("invalid query")
)
