package types

import (
	"errors"
	"fmt"
)

// ValidationError marks input the caller controls as invalid. The
// service maps these to the VALIDATION_ERROR code; everything else
// surfaces as a database or internal error.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validationf creates a ValidationError
func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
