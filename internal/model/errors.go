package model

import "errors"

// Sentinel errors for the pipeline's failure taxonomy. Callers wrap these
// with context using fmt.Errorf("...: %w", err) and classify with errors.Is.
var (
	// ErrValidation marks a malformed message, missing content field, or an
	// out-of-domain state value. The specific item is skipped, never fatal.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks content that cannot be fetched or a record that does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an optimistic-concurrency check that failed, or a
	// retry budget exhausted while resolving one.
	ErrConflict = errors.New("version conflict")

	// ErrReasoning marks a reasoning-service call that timed out, failed, or
	// returned an unparseable response. Only that rule's result is discarded.
	ErrReasoning = errors.New("reasoning service failed")
)
