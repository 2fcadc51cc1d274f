package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms/googleai"
	"go.uber.org/zap"

	"signalpush/internal/domain"
)

type GeminiConfig struct {
	Name        string
	APIKey      string
	TextModel   string
	VisionModel string
	Logger      *zap.Logger
}

// NewGemini builds a Google Gemini provider. A missing key is a CONFIG error.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*LLM, error) {
	if cfg.Name == "" {
		cfg.Name = "gemini"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, &domain.ExtractionError{Kind: domain.ErrConfig, Provider: cfg.Name, Err: errors.New("api key not set")}
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "gemini-1.5-flash"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.TextModel
	}

	text, err := googleai.New(ctx, googleai.WithAPIKey(cfg.APIKey), googleai.WithDefaultModel(cfg.TextModel))
	if err != nil {
		return nil, classified(cfg.Name, fmt.Errorf("init text model: %w", err))
	}
	vision := text
	if cfg.VisionModel != cfg.TextModel {
		vision, err = googleai.New(ctx, googleai.WithAPIKey(cfg.APIKey), googleai.WithDefaultModel(cfg.VisionModel))
		if err != nil {
			return nil, classified(cfg.Name, fmt.Errorf("init vision model: %w", err))
		}
	}

	cfg.Logger.Debug("gemini provider ready",
		zap.String("text_model", cfg.TextModel),
		zap.String("vision_model", cfg.VisionModel),
	)
	return &LLM{
		name:      cfg.Name,
		text:      text,
		vision:    vision,
		imagePart: binaryImagePart,
		logger:    cfg.Logger,
	}, nil
}
