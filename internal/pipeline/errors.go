package pipeline

import (
	"errors"
	"fmt"
)

// ErrServiceUnavailable means a required stage got zero successful provider
// responses. It is one of the two failure modes a caller ever sees.
var ErrServiceUnavailable = errors.New("all providers failed")

// ValidationError marks a malformed request. Never retried; surfaced to the
// caller immediately.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is a request validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
