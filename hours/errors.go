package hours

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnnormalizable is returned when a stored record carries no
	// usable day, creation timestamp, or period hint. Such records are
	// excluded from period views and reported, never silently coerced.
	ErrUnnormalizable = errors.New("record cannot be normalized")

	// ErrEmptyNote is returned when a rejection is attempted without a note.
	ErrEmptyNote = errors.New("rejection requires a non-empty note")

	// ErrEmptyDisputeMessage is returned when a dispute carries no message.
	ErrEmptyDisputeMessage = errors.New("dispute requires a non-empty message")

	// ErrBatchTooLarge is returned when a bulk transition exceeds the
	// store's batch-operation ceiling. The batch is rejected whole,
	// never silently truncated.
	ErrBatchTooLarge = errors.New("bulk transition exceeds batch ceiling")

	// ErrInvalidDeclaration is returned for malformed submissions.
	ErrInvalidDeclaration = errors.New("invalid declaration")

	// ErrEmptyPatch is returned when a field edit contains no changes.
	ErrEmptyPatch = errors.New("field patch is empty")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// NormalizeError identifies a record that could not be canonicalized.
type NormalizeError struct {
	DocID  string
	Reason string
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("doc %s: %s", e.DocID, e.Reason)
}

func (e *NormalizeError) Unwrap() error { return ErrUnnormalizable }

// ValidationError identifies the declaration field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("declaration field %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDeclaration }

// BatchSizeError reports a rejected oversized bulk transition.
type BatchSizeError struct {
	Requested int
	Ceiling   int
}

func (e *BatchSizeError) Error() string {
	return fmt.Sprintf("bulk transition of %d entries exceeds ceiling of %d", e.Requested, e.Ceiling)
}

func (e *BatchSizeError) Unwrap() error { return ErrBatchTooLarge }
