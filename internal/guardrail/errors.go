package guardrail

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is matched by every InvalidInputError via errors.Is
var ErrInvalidInput = errors.New("invalid guardrail input")

// InvalidInputError reports text the engine refuses to classify
type InvalidInputError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidInput) match
func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func newInvalidInputError(field, reason string) *InvalidInputError {
	return &InvalidInputError{Field: field, Reason: reason}
}
