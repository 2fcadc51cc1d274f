package domain

import "context"

// GenerateRequest is a single-turn generation call. Image is optional and
// only honoured by providers with vision support.
type GenerateRequest struct {
	Prompt      string
	Image       []byte
	ImageMIME   string
	MaxTokens   int
	Temperature float64
}

type GenerateResponse struct {
	Text      string
	Provider  string
	LatencyMs int64
}

// Provider is the generative-AI capability used by the extractor.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Name() string
	SupportsVision() bool
	Healthy(ctx context.Context) error
}
