package service

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned synchronously by PostScheduler. Callers match them with
// errors.Is and turn them into user-facing replies.
var (
	// ErrValidation covers unparseable or past-dated input and operations
	// that the post's current status does not allow.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates that the referenced post does not exist.
	ErrNotFound = errors.New("post not found")
)

func validationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Reason strips the sentinel prefix from a validation error for display.
func Reason(err error) string {
	return strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")
}
