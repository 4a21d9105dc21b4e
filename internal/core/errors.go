package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across components.
var (
	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a duplicate document identity raced a concurrent write.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates a malformed request rejected before any side effect.
	ErrValidation = errors.New("validation failed")

	// ErrStoreUnavailable indicates a non-authoritative store (cache, search
	// index) could not be reached. Callers degrade rather than fail.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// TransientProviderError wraps a failed call to an external provider
// (embedding, LLM, graph engine). It is recorded at the document level and
// never aborts a batch.
type TransientProviderError struct {
	Provider string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// Transient reports whether err is (or wraps) a TransientProviderError.
func Transient(err error) bool {
	var t *TransientProviderError
	return errors.As(err, &t)
}

// Validationf builds a validation error with a formatted reason.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}
