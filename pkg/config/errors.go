package config

import "fmt"

// LoadError indicates a config file could not be read or parsed.
type LoadError struct {
	File string
	Err  error
}

// NewLoadError wraps a file-level load failure.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ValidationError indicates a config field failed validation. Validation
// errors are fatal before the pipeline starts.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a field-level validation failure.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}
