package imagegen

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HKUDS/imagebot-go/pkg/translator"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithLanguages sets the translation direction applied to every prompt.
func WithLanguages(source, target string) Option {
	return func(o *Orchestrator) {
		o.source = source
		o.target = target
	}
}

// WithFallback toggles the alternate provider hop.
func WithFallback(enabled bool) Option {
	return func(o *Orchestrator) {
		o.fallback = enabled
	}
}

// Orchestrator translates a prompt, runs the preferred adapter and, when that
// fails, at most one alternate. It holds only read-only configuration and is safe
// for concurrent use.
type Orchestrator struct {
	translator translator.Translator
	adapters   map[Provider]Adapter
	order      []Provider
	source     string
	target     string
	fallback   bool
	logger     zerolog.Logger
	newID      func() string
}

// NewOrchestrator registers adapters in priority order; the first registered
// adapter other than the preferred one is the alternate.
func NewOrchestrator(tr translator.Translator, adapters []Adapter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		translator: tr,
		adapters:   make(map[Provider]Adapter, len(adapters)),
		source:     "ru",
		target:     "en",
		fallback:   true,
		logger:     zerolog.Nop(),
		newID:      func() string { return uuid.NewString() },
	}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		if _, dup := o.adapters[a.Provider()]; !dup {
			o.order = append(o.order, a.Provider())
		}
		o.adapters[a.Provider()] = a
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Adapter returns the registered adapter for p.
func (o *Orchestrator) Adapter(p Provider) (Adapter, bool) {
	a, ok := o.adapters[p]
	return a, ok
}

// Alternate returns the adapter used when preferred fails: the first other
// provider with credentials. It reports false when fallback is disabled.
func (o *Orchestrator) Alternate(preferred Provider) (Adapter, bool) {
	if !o.fallback {
		return nil, false
	}
	for _, p := range o.order {
		if p == preferred {
			continue
		}
		if a := o.adapters[p]; a.HasCredentials() {
			return a, true
		}
	}
	return nil, false
}

// Orchestrate validates the prompt, translates it and generates an image. The
// returned error is only ever a validation error; provider problems come back as
// a failed Outcome.
func (o *Orchestrator) Orchestrate(ctx context.Context, rawPrompt string, preferred Provider) (*Result, error) {
	if strings.TrimSpace(rawPrompt) == "" {
		return nil, ErrEmptyPrompt
	}
	primary, ok := o.adapters[preferred]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, preferred)
	}

	req := GenerationRequest{
		ID:                o.newID(),
		RawPrompt:         rawPrompt,
		PreferredProvider: preferred,
	}
	ctx = WithRequestID(ctx, req.ID)
	log := o.logger.With().Str("request_id", req.ID).Str("preferred", string(preferred)).Logger()

	req.TranslatedPrompt = translator.BestEffort(ctx, o.translator, log, rawPrompt, o.source, o.target)
	prompt := strings.TrimSpace(req.TranslatedPrompt)
	log.Info().Str("prompt", rawPrompt).Str("translated", req.TranslatedPrompt).Msg("generation started")

	result := &Result{
		Request:  req,
		Outcome:  primary.Generate(ctx, prompt),
		Provider: preferred,
		Attempts: 1,
	}
	if result.Outcome.Succeeded() {
		log.Info().Str("provider", string(preferred)).Msg("generation succeeded")
		return result, nil
	}

	alternate, ok := o.Alternate(preferred)
	if !ok {
		log.Error().Err(result.Outcome.Err()).
			Str("reason", string(result.Outcome.Reason())).
			Msg("generation failed, no alternate provider available")
		return result, nil
	}

	log.Warn().Err(result.Outcome.Err()).
		Str("reason", string(result.Outcome.Reason())).
		Str("alternate", string(alternate.Provider())).
		Msg("preferred provider failed, trying alternate")

	result.Outcome = alternate.Generate(ctx, prompt)
	result.Provider = alternate.Provider()
	result.Attempts = 2

	if result.Outcome.Succeeded() {
		log.Info().Str("provider", string(result.Provider)).Msg("generation succeeded on alternate")
	} else {
		log.Error().Err(result.Outcome.Err()).
			Str("provider", string(result.Provider)).
			Str("reason", string(result.Outcome.Reason())).
			Msg("alternate provider failed")
	}
	return result, nil
}
