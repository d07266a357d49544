package rag

import (
	"errors"
	"fmt"
)

// ErrIndexNotFound is returned when a query or load is attempted before any
// index has been successfully persisted.
var ErrIndexNotFound = errors.New("rag: no index available")

// ErrIndexCorrupt is returned when persisted index data cannot be parsed.
var ErrIndexCorrupt = errors.New("rag: index data is corrupt")

// EmbeddingError reports a failure of the embedding service while building
// an index or embedding a query.
type EmbeddingError struct {
	// Op names the stage that failed ("build" or "query").
	Op string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("rag: embedding failed during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EmbeddingError) Unwrap() error { return e.Err }

// corruptf wraps ErrIndexCorrupt with a formatted reason.
func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIndexCorrupt, fmt.Sprintf(format, args...))
}
