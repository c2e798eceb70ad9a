package docstore

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a document id does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnsupportedQuery is returned when the store cannot serve a
	// predicate shape, e.g. a range on a field it has no index for.
	ErrUnsupportedQuery = errors.New("unsupported query")

	// ErrBatchFailed is returned when an atomic batch is rolled back.
	ErrBatchFailed = errors.New("batch write failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BatchError reports which write aborted an atomic batch.
// The whole batch was rolled back; no write took effect.
type BatchError struct {
	Index int    // position of the failing write
	ID    string // target document id
	Cause error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch write %d (doc %s) failed: %v", e.Index, e.ID, e.Cause)
}

func (e *BatchError) Unwrap() error { return ErrBatchFailed }

// QueryError reports a query the store rejected.
type QueryError struct {
	Field string
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query on field %q rejected: %v", e.Field, e.Cause)
}

func (e *QueryError) Unwrap() error { return ErrUnsupportedQuery }

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
