package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"signalpush/internal/domain"
	"signalpush/internal/metrics"
)

const maxImageBytes = 20 << 20

// ErrImageUnavailable means the message's media could not be loaded as an
// image. No generation call was made.
var ErrImageUnavailable = errors.New("image unavailable")

type AIConfig struct {
	Provider    domain.Provider
	Pacer       *Pacer
	MaxTokens   int
	Temperature float64
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// AIExtractor drives the generative provider for text and chart images.
// After a CONFIG-class failure it stays degraded for the life of the process.
type AIExtractor struct {
	provider    domain.Provider
	pacer       *Pacer
	maxTokens   int
	temperature float64
	logger      *zap.Logger
	metrics     *metrics.Metrics

	degraded     atomic.Bool
	degradedOnce sync.Once
}

func NewAIExtractor(cfg AIConfig) *AIExtractor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	return &AIExtractor{
		provider:    cfg.Provider,
		pacer:       cfg.Pacer,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

func (a *AIExtractor) Degraded() bool { return a.degraded.Load() }

// Degrade switches the extractor to permanent fallback. Only the first call logs.
func (a *AIExtractor) Degrade(reason error) {
	a.degraded.Store(true)
	a.degradedOnce.Do(func() {
		a.logger.Error("ai extraction disabled for the rest of this process, using heuristic fallback",
			zap.Error(reason))
		a.metrics.SetDegraded(true)
	})
}

func (a *AIExtractor) ExtractFromText(ctx context.Context, msg domain.NormalizedMessage) (domain.TradingSignal, error) {
	out, err := a.generate(ctx, "text", domain.GenerateRequest{Prompt: textPrompt(msg)})
	if err != nil {
		return domain.TradingSignal{}, err
	}
	sig, err := parseSignal(out)
	if err != nil {
		return domain.TradingSignal{}, &domain.ExtractionError{Kind: domain.ErrSchema, Provider: a.provider.Name(), Err: err}
	}
	return sig, nil
}

// ExtractFromImage runs the two-stage chart flow: a vision call returning a
// fixed-field analysis, then a text call mapping it onto the schema. Both
// calls are paced.
func (a *AIExtractor) ExtractFromImage(ctx context.Context, msg domain.NormalizedMessage) (domain.TradingSignal, error) {
	img, mime, err := loadImage(msg.MediaRef)
	if err != nil {
		return domain.TradingSignal{}, fmt.Errorf("%w: %v", ErrImageUnavailable, err)
	}
	if !a.provider.SupportsVision() {
		return domain.TradingSignal{}, &domain.ExtractionError{Kind: domain.ErrConfig, Provider: a.provider.Name(), Err: errors.New("provider has no vision support")}
	}

	analysis, err := a.generate(ctx, "vision", domain.GenerateRequest{
		Prompt:    chartAnalysisPrompt,
		Image:     img,
		ImageMIME: mime,
	})
	if err != nil {
		return domain.TradingSignal{}, err
	}

	out, err := a.generate(ctx, "structure", domain.GenerateRequest{Prompt: structurePrompt(analysis, msg)})
	if err != nil {
		return domain.TradingSignal{}, err
	}

	sig, err := parseSignal(out)
	if err != nil {
		// the stage-one block is itself labelled
		sig, err = parseSignal(analysis)
		if err != nil {
			return domain.TradingSignal{}, &domain.ExtractionError{Kind: domain.ErrSchema, Provider: a.provider.Name(), Err: err}
		}
	}
	if sig.Narrative == "" {
		sig.Narrative = "Derived from chart image."
	}
	return sig, nil
}

// Verify sends a tiny prompt and checks the reply. Any failure, including an
// unexpected reply, is returned as an error; CONFIG failures also degrade.
func (a *AIExtractor) Verify(ctx context.Context) error {
	resp, err := a.provider.Generate(ctx, domain.GenerateRequest{
		Prompt:      VerifyPrompt,
		MaxTokens:   20,
		Temperature: 0.1,
	})
	if err != nil {
		if domain.KindOf(err) == domain.ErrConfig {
			a.Degrade(err)
		}
		return err
	}
	if !strings.Contains(strings.ToUpper(resp.Text), VerifyReply) {
		return fmt.Errorf("unexpected verification reply %q", domain.TruncateRunes(resp.Text, 60))
	}
	return nil
}

func (a *AIExtractor) generate(ctx context.Context, stage string, req domain.GenerateRequest) (string, error) {
	if err := a.pacer.Wait(ctx); err != nil {
		return "", &domain.ExtractionError{Kind: domain.ErrTransient, Provider: a.provider.Name(), Err: err}
	}
	req.MaxTokens = a.maxTokens
	req.Temperature = a.temperature

	resp, err := a.provider.Generate(ctx, req)
	if err != nil {
		kind := domain.KindOf(err)
		a.metrics.ObserveAICall(stage, string(kind), 0)
		if kind == domain.ErrConfig {
			a.Degrade(err)
		}
		return "", err
	}
	a.metrics.ObserveAICall(stage, "ok", resp.LatencyMs)
	a.logger.Debug("generation complete",
		zap.String("stage", stage),
		zap.String("provider", resp.Provider),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return resp.Text, nil
}

func loadImage(ref string) ([]byte, string, error) {
	if ref == "" {
		return nil, "", errors.New("no media reference")
	}
	info, err := os.Stat(ref)
	if err != nil {
		return nil, "", err
	}
	if info.IsDir() || info.Size() == 0 || info.Size() > maxImageBytes {
		return nil, "", fmt.Errorf("unusable image file (%d bytes)", info.Size())
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, "", err
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, "", fmt.Errorf("not an image: %s", mime)
	}
	return data, mime, nil
}
