package extract

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"signalpush/internal/domain"
	"signalpush/internal/format"
	"signalpush/internal/metrics"
)

// Extraction paths reported in Result.Path and metrics.
const (
	PathAIText    = "ai_text"
	PathAIImage   = "ai_image"
	PathHeuristic = "heuristic"
)

type PipelineConfig struct {
	// AI may be nil, in which case the pipeline is heuristic-only.
	AI        *AIExtractor
	Heuristic *HeuristicExtractor
	Formatter *format.Formatter
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Result carries the alert plus how it was produced.
type Result struct {
	Alert    domain.FormattedAlert
	Signal   domain.TradingSignal
	Path     string
	Fallback domain.ErrorKind // empty unless the AI path was tried and failed
}

// Pipeline composes the AI extractor with the heuristic fallback. Extract
// never returns an error.
type Pipeline struct {
	ai        *AIExtractor
	heuristic *HeuristicExtractor
	formatter *format.Formatter
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Heuristic == nil {
		cfg.Heuristic = NewHeuristic()
	}
	if cfg.Formatter == nil {
		cfg.Formatter = format.New(format.Config{})
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.AI == nil {
		cfg.Metrics.SetDegraded(true)
	}
	return &Pipeline{
		ai:        cfg.AI,
		heuristic: cfg.Heuristic,
		formatter: cfg.Formatter,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Degraded reports whether messages currently skip the AI path.
func (p *Pipeline) Degraded() bool {
	return p.ai == nil || p.ai.Degraded()
}

func (p *Pipeline) Extract(ctx context.Context, msg domain.NormalizedMessage) domain.FormattedAlert {
	return p.ExtractDetailed(ctx, msg).Alert
}

func (p *Pipeline) ExtractDetailed(ctx context.Context, msg domain.NormalizedMessage) Result {
	sig, path, fallback := p.signal(ctx, msg)
	p.metrics.Extraction(path)
	if fallback != "" {
		p.metrics.Fallback(string(fallback))
	}
	return Result{
		Alert:    p.formatter.Render(sig, msg),
		Signal:   sig,
		Path:     path,
		Fallback: fallback,
	}
}

func (p *Pipeline) signal(ctx context.Context, msg domain.NormalizedMessage) (domain.TradingSignal, string, domain.ErrorKind) {
	if p.Degraded() {
		return p.heuristic.Extract(msg), PathHeuristic, ""
	}

	log := p.logger.With(zap.String("message_id", msg.ID), zap.String("source", msg.Source))

	if msg.HasMedia && msg.MediaType.IsImage() {
		sig, err := p.ai.ExtractFromImage(ctx, msg)
		if err == nil {
			return sig, PathAIImage, ""
		}
		if !errors.Is(err, ErrImageUnavailable) {
			log.Warn("image extraction failed, using heuristic", zap.Error(err))
			return p.heuristic.Extract(msg), PathHeuristic, domain.KindOf(err)
		}
		log.Warn("image not readable, trying text only", zap.Error(err))
		if strings.TrimSpace(msg.Text) == "" {
			return p.heuristic.Extract(msg), PathHeuristic, domain.ErrTransient
		}
	}

	if strings.TrimSpace(msg.Text) == "" {
		return p.heuristic.Extract(msg), PathHeuristic, ""
	}

	sig, err := p.ai.ExtractFromText(ctx, msg)
	if err != nil {
		log.Warn("text extraction failed, using heuristic",
			zap.String("kind", string(domain.KindOf(err))),
			zap.Error(err),
		)
		return p.heuristic.Extract(msg), PathHeuristic, domain.KindOf(err)
	}
	return sig, PathAIText, ""
}

// Verify checks the AI path once. A negative result puts the pipeline into
// heuristic-only mode; it never stops the pipeline from running.
func (p *Pipeline) Verify(ctx context.Context) bool {
	if p.ai == nil {
		return false
	}
	if err := p.ai.Verify(ctx); err != nil {
		p.ai.Degrade(err)
		return false
	}
	return true
}
