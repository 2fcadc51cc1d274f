package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"signalpush/internal/domain"
)

// LLM adapts langchaingo models to domain.Provider. Text and vision requests
// may go to different models of the same vendor.
type LLM struct {
	name      string
	text      llms.Model
	vision    llms.Model
	imagePart func(mime string, data []byte) llms.ContentPart
	logger    *zap.Logger
}

func (p *LLM) Name() string         { return p.name }
func (p *LLM) SupportsVision() bool { return p.vision != nil }

func (p *LLM) Healthy(ctx context.Context) error {
	if p.text == nil {
		return fmt.Errorf("%s: no text model configured", p.name)
	}
	return nil
}

// Generate performs one single-turn call. Errors are returned as
// *domain.ExtractionError; no retry is attempted here.
func (p *LLM) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	model := p.text
	parts := make([]llms.ContentPart, 0, 2)
	if len(req.Image) > 0 {
		if p.vision == nil {
			return nil, &domain.ExtractionError{Kind: domain.ErrConfig, Provider: p.name, Err: errors.New("vision not supported")}
		}
		model = p.vision
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, p.imagePart(mime, req.Image))
	}
	parts = append(parts, llms.TextPart(req.Prompt))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, []llms.MessageContent{
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}, opts...)
	latency := time.Since(start)
	if err != nil {
		p.logger.Debug("generation failed",
			zap.String("provider", p.name),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, classified(p.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, &domain.ExtractionError{Kind: domain.ErrSchema, Provider: p.name, Err: errors.New("empty response")}
	}

	return &domain.GenerateResponse{
		Text:      resp.Choices[0].Content,
		Provider:  p.name,
		LatencyMs: latency.Milliseconds(),
	}, nil
}

func binaryImagePart(mime string, data []byte) llms.ContentPart {
	return llms.BinaryPart(mime, data)
}

func dataURLImagePart(mime string, data []byte) llms.ContentPart {
	return llms.ImageURLPart("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data))
}
