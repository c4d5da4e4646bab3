// Package faceid implements face enrollment, gallery matching and attendance recording.
package faceid

import "errors"

var (
	// ErrDecode is returned when the uploaded bytes are not a readable image.
	ErrDecode = errors.New("image decode failed")

	// ErrNoFaceDetected is returned when the extractor finds zero faces.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrNoMatch is returned when no gallery entry clears the acceptance threshold.
	// It is an expected outcome, not a fault.
	ErrNoMatch = errors.New("no matching face found")
)

// ErrValidation matches any *ValidationError via errors.Is.
var ErrValidation = &ValidationError{}

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Field != "" {
		return "missing field: " + e.Field
	}
	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// ErrStorage matches any *StorageError via errors.Is.
var ErrStorage = &StorageError{}

// StorageError wraps a blob store or ledger failure. It is never retried here.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return "storage failure"
	}
	if e.Op == "" {
		return "storage failure: " + e.Err.Error()
	}
	return "storage failure: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *StorageError) Is(target error) bool {
	_, ok := target.(*StorageError)
	return ok
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
