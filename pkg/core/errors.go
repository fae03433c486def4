package core

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotFound is returned when a record lookup must fail loudly. Plain
	// lookup misses (Get on an absent id) return nil instead.
	ErrNotFound = errors.New("memory not found")

	// ErrStoreClosed is returned when an operation hits a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidConfig is returned when configuration fails validation at
	// construction time.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyContent is returned when a record with empty content is added.
	ErrEmptyContent = errors.New("empty content")

	// ErrEmptyFilter is returned when a filtered delete carries no predicate.
	ErrEmptyFilter = errors.New("empty filter")
)

// StoreError wraps errors with operation context.
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("memvect: %v", e.Err)
	}
	return fmt.Sprintf("memvect: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// WrapError is the exported form used by sibling packages that share the
// store's error texture.
func WrapError(op string, err error) error {
	return wrapError(op, err)
}
