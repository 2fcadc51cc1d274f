package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"signalpush/internal/config"
	"signalpush/internal/extract"
	"signalpush/internal/format"
	"signalpush/internal/ledger"
	"signalpush/internal/metrics"
	"signalpush/internal/notify"
	"signalpush/internal/provider"
)

// app holds the components shared by run, extract, verify and notify.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	formatter  *format.Formatter
	pipeline   *extract.Pipeline
	dispatcher *notify.Dispatcher
	ledger     *ledger.Store
}

// newApp wires the extraction pipeline, the ledger and the dispatcher. A
// provider that cannot be built leaves the pipeline heuristic-only instead
// of failing startup.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	a.formatter = format.New(format.Config{
		TitleMaxRunes:     cfg.Format.TitleMaxRunes,
		BodyMaxRunes:      cfg.Format.BodyMaxRunes,
		NarrativeMaxRunes: cfg.Format.NarrativeMaxRunes,
	})

	var ai *extract.AIExtractor
	prov, err := provider.NewFactory(cfg.AI, logger.Named("provider")).Build(ctx)
	if err != nil {
		logger.Warn("AI extraction unavailable, running heuristic only", zap.Error(err))
		a.metrics.SetDegraded(true)
	} else {
		ai = extract.NewAIExtractor(extract.AIConfig{
			Provider:    prov,
			Pacer:       extract.NewPacer(time.Duration(cfg.AI.RateLimitDelayMs)*time.Millisecond, cfg.AI.SharedLimiter),
			MaxTokens:   cfg.AI.MaxTokens,
			Temperature: cfg.AI.Temperature,
			Logger:      logger.Named("ai"),
			Metrics:     a.metrics,
		})
	}
	a.pipeline = extract.NewPipeline(extract.PipelineConfig{
		AI:        ai,
		Formatter: a.formatter,
		Logger:    logger.Named("extract"),
		Metrics:   a.metrics,
	})

	store, err := ledger.Open(logger.Named("ledger"))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.ledger = store

	a.dispatcher, err = notify.Build(notify.BuildConfig{
		Notifications: cfg.Notifications,
		BodyMax:       a.formatter.BodyMax(),
		Recorder:      store,
		Logger:        logger.Named("notify"),
		Metrics:       a.metrics,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}
	return a, nil
}

// shutdown waits for follow-up tasks up to the configured timeout and closes
// the ledger.
func (a *app) shutdown() error {
	timeout := time.Duration(a.cfg.General.ShutdownTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := a.dispatcher.Tasks().Shutdown(ctx)
	if cerr := a.ledger.Close(); err == nil {
		err = cerr
	}
	return err
}

// drain waits for pending follow-ups to finish on their own, for one-shot
// commands that should not cut a follow-up sequence short.
func (a *app) drain(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for a.dispatcher.Tasks().ActiveCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
