package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/HKUDS/imagebot-go/pkg/utils"
)

const (
	// DefaultTimeout bounds a single engine call.
	DefaultTimeout = 40 * time.Second

	maxResponseBytes = 32 << 20
	logBodyLimit     = 512
)

// Adapter is one remote provider.
type Adapter interface {
	Provider() Provider
	HasCredentials() bool
	Generate(ctx context.Context, prompt string) Outcome
}

// Backend is the provider-specific half of HTTPAdapter: how to ask an engine for
// an image and where the base64 payload sits in the answer.
type Backend interface {
	NewRequest(ctx context.Context, baseURL, apiKey string, engine EngineSpec, prompt string) (*http.Request, error)
	ExtractImage(body []byte) (string, error)
}

// AdapterOptions configures an HTTPAdapter.
type AdapterOptions struct {
	APIKey     string
	BaseURL    string
	Engines    []EngineSpec
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// HTTPAdapter walks an ordered engine list with one shared classification loop.
type HTTPAdapter struct {
	provider   Provider
	apiKey     string
	baseURL    string
	engines    []EngineSpec
	backend    Backend
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPAdapter wires a backend with its configuration. Empty BaseURL and Engines
// fall back to the given defaults.
func NewHTTPAdapter(provider Provider, backend Backend, defaultBaseURL string, defaultEngines []EngineSpec, opts AdapterOptions) *HTTPAdapter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	engines := opts.Engines
	if len(engines) == 0 {
		engines = defaultEngines
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &HTTPAdapter{
		provider:   provider,
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		engines:    SortEngines(engines),
		backend:    backend,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger.With().Str("provider", string(provider)).Logger(),
	}
}

func (a *HTTPAdapter) Provider() Provider {
	return a.provider
}

// HasCredentials reports whether the adapter can perform remote calls.
func (a *HTTPAdapter) HasCredentials() bool {
	return a.apiKey != ""
}

// Engines returns the engine list in attempt order.
func (a *HTTPAdapter) Engines() []EngineSpec {
	return append([]EngineSpec(nil), a.engines...)
}

// Generate tries each engine in order. The first decoded image wins; an auth
// rejection stops the walk because credentials are not engine specific.
func (a *HTTPAdapter) Generate(ctx context.Context, prompt string) Outcome {
	log := a.logger.With().Str("request_id", RequestID(ctx)).Logger()

	if !a.HasCredentials() {
		log.Warn().Msg("api key not configured, skipping provider")
		return Failure(FailureAuth, ErrMissingCredentials)
	}

	var errs []error
	for i, engine := range a.engines {
		engineLog := log.With().Str("engine", engine.Name).Int("engine_index", i).Logger()
		engineLog.Info().Int("width", engine.Width).Int("height", engine.Height).Msg("engine attempted")

		image, engErr := a.attempt(ctx, engine, prompt)
		if engErr == nil {
			engineLog.Info().Int("bytes", len(image)).Msg("engine produced image")
			return Success(image)
		}

		event := engineLog.Warn()
		if engErr.Reason == FailureAuth {
			event = engineLog.Error()
		}
		event.Err(engErr.Err).
			Int("status", engErr.Status).
			Str("reason", string(engErr.Reason)).
			Str("body", engErr.Body).
			Msg("engine failed")

		if engErr.Reason == FailureAuth {
			return Failure(FailureAuth, engErr)
		}
		errs = append(errs, engErr)
	}

	log.Error().Int("engines", len(a.engines)).Msg("all engines exhausted")
	return Failure(FailureUnknown, joinErrors(ErrEnginesExhausted, errs))
}

func (a *HTTPAdapter) attempt(ctx context.Context, engine EngineSpec, prompt string) ([]byte, *EngineError) {
	fail := func(reason FailureReason, status int, body []byte, err error) *EngineError {
		return &EngineError{
			Provider: a.provider,
			Engine:   engine.Name,
			Status:   status,
			Reason:   reason,
			Body:     utils.Truncate(strings.TrimSpace(string(body)), logBodyLimit),
			Err:      err,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := a.backend.NewRequest(ctx, a.baseURL, a.apiKey, engine, prompt)
	if err != nil {
		return nil, fail(FailureUnknown, 0, nil, fmt.Errorf("build request: %w", err))
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fail(FailureTransport, 0, nil, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fail(FailureTransport, resp.StatusCode, nil, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fail(FailureAuth, resp.StatusCode, raw, errors.New("credentials rejected"))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fail(FailureUnknown, resp.StatusCode, raw, errors.New("unexpected status"))
	}

	encoded, err := a.backend.ExtractImage(raw)
	if err != nil {
		return nil, fail(FailureNoArtifact, resp.StatusCode, raw, err)
	}
	image, err := decodeBase64(encoded)
	if err != nil {
		return nil, fail(FailureNoArtifact, resp.StatusCode, nil, fmt.Errorf("decode image: %w", err))
	}
	if len(image) == 0 {
		return nil, fail(FailureNoArtifact, resp.StatusCode, raw, ErrNoArtifact)
	}
	return image, nil
}

// decodeBase64 accepts plain base64 as well as data URLs.
func decodeBase64(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		if idx := strings.Index(encoded, ","); idx >= 0 {
			encoded = encoded[idx+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
	}
	return data, nil
}
