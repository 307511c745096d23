package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const DefaultStabilityBaseURL = "https://api.stability.ai"

// DefaultStabilityEngines tries SDXL first, then the smaller 1.6 model.
var DefaultStabilityEngines = []EngineSpec{
	{Name: "stable-diffusion-xl-1024-v1-0", Width: 1024, Height: 1024, Priority: 0},
	{Name: "stable-diffusion-v1-6", Width: 512, Height: 512, Priority: 1},
}

// StabilityBackend speaks the Stability AI v1 text-to-image API.
type StabilityBackend struct {
	CFGScale float64
	Steps    int
}

type stabilityTextPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type stabilityRequest struct {
	TextPrompts []stabilityTextPrompt `json:"text_prompts"`
	CFGScale    float64               `json:"cfg_scale"`
	Width       int                   `json:"width"`
	Height      int                   `json:"height"`
	Samples     int                   `json:"samples"`
	Steps       int                   `json:"steps"`
}

type stabilityResponse struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		Seed         int64  `json:"seed"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
}

// NewStabilityAdapter builds the Stability AI adapter.
func NewStabilityAdapter(opts AdapterOptions) *HTTPAdapter {
	return NewHTTPAdapter(ProviderStability, StabilityBackend{CFGScale: 7, Steps: 30}, DefaultStabilityBaseURL, DefaultStabilityEngines, opts)
}

func (b StabilityBackend) NewRequest(ctx context.Context, baseURL, apiKey string, engine EngineSpec, prompt string) (*http.Request, error) {
	payload := stabilityRequest{
		TextPrompts: []stabilityTextPrompt{{Text: prompt, Weight: 1}},
		CFGScale:    b.CFGScale,
		Width:       engine.Width,
		Height:      engine.Height,
		Samples:     1,
		Steps:       b.Steps,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := baseURL + "/v1/generation/" + url.PathEscape(engine.Name) + "/text-to-image"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req, nil
}

// ExtractImage returns the first usable artifact. Artifacts blocked by the
// content filter carry a placeholder image and are skipped.
func (StabilityBackend) ExtractImage(body []byte) (string, error) {
	var decoded stabilityResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoArtifact, err)
	}
	for _, artifact := range decoded.Artifacts {
		if strings.EqualFold(artifact.FinishReason, "CONTENT_FILTERED") {
			continue
		}
		if strings.TrimSpace(artifact.Base64) != "" {
			return artifact.Base64, nil
		}
	}
	return "", ErrNoArtifact
}
