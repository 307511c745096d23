package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const DefaultHuggingFaceBaseURL = "https://router.huggingface.co/nebius"

var DefaultHuggingFaceEngines = []EngineSpec{
	{Name: "black-forest-labs/flux-dev", Width: 1024, Height: 1024, Priority: 0},
	{Name: "black-forest-labs/flux-schnell", Width: 1024, Height: 1024, Priority: 1},
}

// HuggingFaceBackend speaks the OpenAI-style images endpoint of the inference router.
type HuggingFaceBackend struct{}

type huggingFaceRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	ResponseFormat string `json:"response_format"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

type huggingFaceResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// NewHuggingFaceAdapter builds the Hugging Face router adapter.
func NewHuggingFaceAdapter(opts AdapterOptions) *HTTPAdapter {
	return NewHTTPAdapter(ProviderHuggingFace, HuggingFaceBackend{}, DefaultHuggingFaceBaseURL, DefaultHuggingFaceEngines, opts)
}

func (HuggingFaceBackend) NewRequest(ctx context.Context, baseURL, apiKey string, engine EngineSpec, prompt string) (*http.Request, error) {
	body, err := json.Marshal(huggingFaceRequest{
		Model:          engine.Name,
		Prompt:         prompt,
		ResponseFormat: "b64_json",
		Width:          engine.Width,
		Height:         engine.Height,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req, nil
}

func (HuggingFaceBackend) ExtractImage(body []byte) (string, error) {
	var decoded huggingFaceResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoArtifact, err)
	}
	if len(decoded.Data) == 0 || decoded.Data[0].B64JSON == "" {
		return "", ErrNoArtifact
	}
	return decoded.Data[0].B64JSON, nil
}
