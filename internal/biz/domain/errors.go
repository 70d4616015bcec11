package domain

import "fmt"

// GenerationErrorKind classifies a failure of the generation API
type GenerationErrorKind string

const (
	GenRateLimited    GenerationErrorKind = "rate_limited"
	GenInvalidRequest GenerationErrorKind = "invalid_request"
	GenTimeout        GenerationErrorKind = "timeout"
	GenUnavailable    GenerationErrorKind = "unavailable"
)

// GenerationError wraps an upstream generation failure with its classification
type GenerationError struct {
	Kind GenerationErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("generation %s", e.Kind)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same request may succeed.
// Invalid requests never become valid on retry.
func (e *GenerationError) Transient() bool {
	switch e.Kind {
	case GenRateLimited, GenTimeout, GenUnavailable:
		return true
	}
	return false
}
