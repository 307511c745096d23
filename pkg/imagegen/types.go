// Package imagegen dispatches prompts to remote image providers, walking each
// provider's engine list and falling back to one alternate provider.
package imagegen

import (
	"fmt"
	"sort"
	"strings"
)

// Provider identifies a remote generation backend.
type Provider string

const (
	ProviderStability   Provider = "stability"
	ProviderHuggingFace Provider = "huggingface"
)

// Providers lists the supported providers in menu order.
var Providers = []Provider{ProviderStability, ProviderHuggingFace}

// Label is the human readable name shown on keyboards.
func (p Provider) Label() string {
	switch p {
	case ProviderStability:
		return "Stability AI"
	case ProviderHuggingFace:
		return "Hugging Face"
	default:
		return string(p)
	}
}

// ParseProvider accepts either the identifier or the label, case-insensitively.
func ParseProvider(s string) (Provider, error) {
	s = strings.TrimSpace(s)
	for _, p := range Providers {
		if strings.EqualFold(s, string(p)) || strings.EqualFold(s, p.Label()) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// EngineSpec is one entry of a provider's ordered engine list.
type EngineSpec struct {
	Name     string
	Width    int
	Height   int
	Priority int
}

// SortEngines returns a copy ordered by Priority, keeping list order for ties.
func SortEngines(engines []EngineSpec) []EngineSpec {
	out := make([]EngineSpec, len(engines))
	copy(out, engines)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// FailureReason classifies why an adapter produced no image.
type FailureReason string

const (
	FailureAuth       FailureReason = "auth_error"
	FailureNoArtifact FailureReason = "no_artifact"
	FailureTransport  FailureReason = "transport"
	FailureUnknown    FailureReason = "unknown"
)

// Outcome is either a success holding image bytes or a failure holding a reason.
// The zero value is a failure with reason unknown.
type Outcome struct {
	image  []byte
	reason FailureReason
	err    error
}

// Success wraps decoded image bytes. Empty bytes are not an image and become a
// NoArtifact failure.
func Success(image []byte) Outcome {
	if len(image) == 0 {
		return Failure(FailureNoArtifact, ErrNoArtifact)
	}
	return Outcome{image: image}
}

// Failure builds a failed outcome. An empty reason is treated as unknown.
func Failure(reason FailureReason, cause error) Outcome {
	if reason == "" {
		reason = FailureUnknown
	}
	if cause == nil {
		cause = fmt.Errorf("imagegen: generation failed (%s)", reason)
	}
	return Outcome{reason: reason, err: cause}
}

// Succeeded reports whether the outcome carries an image.
func (o Outcome) Succeeded() bool {
	return len(o.image) > 0
}

// Image returns the image bytes of a success, nil otherwise.
func (o Outcome) Image() []byte {
	return o.image
}

// Reason returns the failure classification, empty for a success.
func (o Outcome) Reason() FailureReason {
	if o.Succeeded() {
		return ""
	}
	if o.reason == "" {
		return FailureUnknown
	}
	return o.reason
}

// Err returns the failure cause, nil for a success.
func (o Outcome) Err() error {
	if o.Succeeded() {
		return nil
	}
	if o.err == nil {
		return fmt.Errorf("imagegen: generation failed (%s)", o.Reason())
	}
	return o.err
}

// GenerationRequest is built once per user prompt and never mutated afterwards.
// Adapters receive TranslatedPrompt with surrounding whitespace trimmed.
type GenerationRequest struct {
	ID                string
	RawPrompt         string // exactly as the user sent it
	TranslatedPrompt  string // equals RawPrompt when translation is skipped or fails
	PreferredProvider Provider
}

// Result is what Orchestrate hands back to the dialog.
type Result struct {
	Request  GenerationRequest
	Outcome  Outcome
	Provider Provider // provider that produced Outcome
	Attempts int      // adapter invocations, 1 or 2
}
