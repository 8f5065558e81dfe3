package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Validation errors
	ErrInvalidParameter    = errors.New("invalid statistical parameter")
	ErrNoTrials            = errors.New("no trials to test")
	ErrEdgeCountOutOfRange = errors.New("edge count out of range")
	ErrUnknownScoreFunc    = errors.New("unknown score function")

	// Lookup errors
	ErrMissingBatch = errors.New("batch key missing from outputs")

	// Configuration errors
	ErrPathConfig = errors.New("path sampling misconfigured")
	ErrEmptyPath  = errors.New("sampled path has no ablatable edge")
)

// NewParameterError reports a statistical parameter outside its valid range.
func NewParameterError(name string, value float64, reason string) error {
	return fmt.Errorf("%w: %s=%v %s", ErrInvalidParameter, name, value, reason)
}

// NewMissingBatchError reports a batch key absent from an output mapping.
func NewMissingBatchError(outputs string, key fmt.Stringer) error {
	return fmt.Errorf("%w: %s has no entry for batch %s", ErrMissingBatch, outputs, key)
}

func NewEdgeCountError(edgeCount, total int) error {
	return fmt.Errorf("%w: %d not in [0, %d]", ErrEdgeCountOutOfRange, edgeCount, total)
}

func NewPathConfigError(reason string) error {
	return fmt.Errorf("%w: %s", ErrPathConfig, reason)
}

// Error checking helpers
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, ErrNoTrials) ||
		errors.Is(err, ErrEdgeCountOutOfRange) ||
		errors.Is(err, ErrUnknownScoreFunc)
}

func IsLookupError(err error) bool {
	return errors.Is(err, ErrMissingBatch)
}

func IsConfigError(err error) bool {
	return errors.Is(err, ErrPathConfig) || errors.Is(err, ErrEmptyPath)
}
