package imagegen

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPrompt is the validation error for blank prompts.
	ErrEmptyPrompt = errors.New("imagegen: prompt is empty")

	// ErrUnknownProvider is returned for provider names outside the table.
	ErrUnknownProvider = errors.New("imagegen: unknown provider")

	ErrMissingCredentials = errors.New("imagegen: api key is not configured")
	ErrNoArtifact         = errors.New("imagegen: response has no image payload")
	ErrEnginesExhausted   = errors.New("imagegen: every engine failed")
)

// IsValidationError reports whether err rejects the request before any network call.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyPrompt) || errors.Is(err, ErrUnknownProvider)
}

// EngineError describes a single failed engine attempt.
type EngineError struct {
	Provider Provider
	Engine   string
	Status   int // HTTP status, 0 when no response was received
	Reason   FailureReason
	Body     string // truncated response body
	Err      error
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s/%s: %s", e.Provider, e.Engine, e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// EngineErrors extracts every EngineError from an outcome's cause.
func EngineErrors(err error) []*EngineError {
	var out []*EngineError
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if engErr, ok := err.(*EngineError); ok {
			out = append(out, engErr)
			return
		}
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return out
}
