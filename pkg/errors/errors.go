package errors

import (
	"errors"
	"fmt"
)

// Standard errors
var (
	// ErrNotFound is returned when a requested record is not found
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned when the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrPermissionDenied is returned when the caller does not own the record
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConfiguration is returned when required configuration is missing or invalid at startup
	ErrConfiguration = errors.New("invalid configuration")

	// ErrOwnerContext is returned when an operation is attempted without a resolved owner
	ErrOwnerContext = errors.New("missing owner context")

	// ErrEmbeddingService is returned when the embedding provider fails
	ErrEmbeddingService = errors.New("embedding service failure")

	// ErrVectorService is returned when the vector index backend fails
	ErrVectorService = errors.New("vector index service failure")

	// ErrRelationalOp is returned when a relational store operation fails
	ErrRelationalOp = errors.New("relational store operation failed")

	// ErrSynthesis is returned when profile synthesis fails after all fallbacks
	ErrSynthesis = errors.New("profile synthesis failed")

	// ErrLockHeld is returned when a per-owner consolidation lease is already held
	ErrLockHeld = errors.New("consolidation lock already held")

	// ErrLockService is returned when the lease store backing the consolidation lock fails
	ErrLockService = errors.New("lock service failure")

	// ErrQueueService is returned when the trigger queue backend fails
	ErrQueueService = errors.New("trigger queue service failure")
)

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience function that wraps errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target, and if so, sets
// target to that error value and returns true. Otherwise, it returns false.
// This is a convenience function that wraps errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
