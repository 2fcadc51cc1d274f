package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"signalpush/internal/domain"
)

// OpenAIConfig configures any OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	Name        string
	APIKey      string
	APIBase     string
	TextModel   string
	VisionModel string
	Timeout     time.Duration
	Logger      *zap.Logger
}

func NewOpenAI(cfg OpenAIConfig) (*LLM, error) {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, &domain.ExtractionError{Kind: domain.ErrConfig, Provider: cfg.Name, Err: errors.New("api key not set")}
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "gpt-4o-mini"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.TextModel
	}
	client := SharedHTTPClient(cfg.Timeout)

	build := func(model string) (*openai.LLM, error) {
		return openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithBaseURL(cfg.APIBase),
			openai.WithModel(model),
			openai.WithHTTPClient(client),
		)
	}

	text, err := build(cfg.TextModel)
	if err != nil {
		return nil, classified(cfg.Name, fmt.Errorf("init text model: %w", err))
	}
	vision := text
	if cfg.VisionModel != cfg.TextModel {
		if vision, err = build(cfg.VisionModel); err != nil {
			return nil, classified(cfg.Name, fmt.Errorf("init vision model: %w", err))
		}
	}

	return &LLM{
		name:      cfg.Name,
		text:      text,
		vision:    vision,
		imagePart: dataURLImagePart,
		logger:    cfg.Logger,
	}, nil
}
