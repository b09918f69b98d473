package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a component or history version does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when serialized access to a component could not be obtained in time.
	ErrConflict = errors.New("conflict")
	// ErrStorage marks failures of the underlying persistence layer.
	ErrStorage = errors.New("storage failure")
)

// Error codes exposed at the API boundary.
const (
	CodeNotFound       = "not_found"
	CodeValidation     = "validation_error"
	CodeConflict       = "conflict"
	CodeStorageFailure = "storage_failure"
	CodeInternal       = "internal_error"
)

// ValidationError reports a proposed field value outside its allowed set or type.
type ValidationError struct {
	Field  Field
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field Field, value string, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// StorageError wraps a persistence failure; errors.Is(err, ErrStorage) holds for it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError wraps err as a storage failure of op. A nil err yields nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ErrorCode classifies err into one of the boundary error codes.
func ErrorCode(err error) string {
	var validation *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrStorage):
		return CodeStorageFailure
	default:
		return CodeInternal
	}
}
