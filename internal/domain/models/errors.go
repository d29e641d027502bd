package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingInput marks an absent product source. Recovered as an empty series.
	ErrMissingInput = errors.New("missing input")
	// ErrInvalidShape marks a source that is not a vector after flattening.
	ErrInvalidShape = errors.New("invalid series shape")
	// ErrDegenerateFit marks a regime that could not be fitted.
	ErrDegenerateFit = errors.New("degenerate fit")
	// ErrInsufficientSample marks a regime/step skipped for lack of usable observations.
	ErrInsufficientSample = errors.New("insufficient sample")
	// ErrNoFittedModel marks a requested regime absent from the model set.
	ErrNoFittedModel = errors.New("no fitted model")
	// ErrPrecondition marks a caller or configuration mistake; fatal to the call.
	ErrPrecondition = errors.New("precondition violation")
)

// PreconditionError describes which input broke a precondition.
type PreconditionError struct {
	Field  string
	Reason string
}

// NewPreconditionError creates a precondition error.
func NewPreconditionError(field, reason string) *PreconditionError {
	return &PreconditionError{Field: field, Reason: reason}
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrPrecondition, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrPrecondition.
func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// IsPrecondition reports whether err is a precondition violation.
func IsPrecondition(err error) bool { return errors.Is(err, ErrPrecondition) }
