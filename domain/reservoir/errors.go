package reservoir

import (
	"errors"
	"fmt"
)

// Error classes. Every error produced by the estimation path wraps exactly one of these.
var (
	ErrValidation   = errors.New("validation failed")
	ErrComputation  = errors.New("computation failed")
	ErrCollaborator = errors.New("collaborator failed")
)

// Validation errors
var (
	ErrEmptyCurve         = fmt.Errorf("%w: calibration curve is empty", ErrValidation)
	ErrUnknownMode        = fmt.Errorf("%w: unknown calibration mode", ErrValidation)
	ErrUnknownMethod      = fmt.Errorf("%w: unknown batch method", ErrValidation)
	ErrInvalidIterations  = fmt.Errorf("%w: iterations must be a positive integer", ErrValidation)
	ErrInvalidConfidence  = fmt.Errorf("%w: confidence level must lie strictly between 0 and 1", ErrValidation)
	ErrInvalidMeasurement = fmt.Errorf("%w: invalid dated measurement", ErrValidation)
	ErrInvalidGrid        = fmt.Errorf("%w: invalid age grid", ErrValidation)
	ErrMalformedColumn    = fmt.Errorf("%w: malformed column", ErrValidation)
	ErrEmptyTable         = fmt.Errorf("%w: table has no data columns", ErrValidation)
)

// Computation errors
var (
	ErrDegenerateSample = fmt.Errorf("%w: degenerate offset sample", ErrComputation)
	ErrNoPosteriorMass  = fmt.Errorf("%w: calibration left no calendar year with probability mass", ErrComputation)
)

// Collaborator errors
var (
	ErrCurveNotFound    = fmt.Errorf("%w: calibration curve not found", ErrCollaborator)
	ErrTableNotFound    = fmt.Errorf("%w: dataset table not found", ErrCollaborator)
	ErrConvolverMissing = fmt.Errorf("%w: no curve convolution provider configured", ErrCollaborator)
)

// NewValidationError reports an invalid input field.
func NewValidationError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrValidation, field, reason)
}

// NewCollaboratorError wraps a failure returned by an external provider.
func NewCollaboratorError(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCollaborator, provider, err)
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsComputationError(err error) bool {
	return errors.Is(err, ErrComputation)
}

func IsCollaboratorError(err error) bool {
	return errors.Is(err, ErrCollaborator)
}
