package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"signalpush/internal/bus"
	"signalpush/internal/channel"
	"signalpush/internal/config"
	"signalpush/internal/domain"
	"signalpush/internal/metrics"
	"signalpush/internal/relay"
)

const ledgerRetention = 24 * time.Hour

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay (chat sources + extraction + push)",
		Long:  "Starts every enabled chat source, the extraction relay and the notification dispatcher. Press Ctrl+C to stop.",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	for _, p := range a.dispatcher.ValidateConfig() {
		logger.Warn("notification config problem, alerts will fail until fixed", zap.String("problem", p))
	}
	if cfg.AI.VerifyOnStart && !a.pipeline.Degraded() {
		verifyCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.AI.CallTimeoutSeconds)*time.Second)
		ok := a.pipeline.Verify(verifyCtx)
		cancel()
		logger.Info("AI verification finished", zap.Bool("ok", ok))
	}

	if err := os.MkdirAll(cfg.General.MediaDir, 0o755); err != nil {
		logger.Warn("cannot create media directory, downloads will fail", zap.String("dir", cfg.General.MediaDir), zap.Error(err))
	}

	messageBus := bus.New(cfg.General.BusBufferSize, logger.Named("bus"))
	sources := buildSources(cfg, logger, a.metrics)
	if len(sources) == 0 {
		logger.Warn("no chat sources enabled, only /status and CLI commands will work")
	}

	r := relay.New(relay.Config{
		Bus:         messageBus,
		Extractor:   a.pipeline,
		Notifier:    a.dispatcher,
		Ledger:      a.ledger,
		Tasks:       a.dispatcher.Tasks(),
		Logger:      logger.Named("relay"),
		Concurrency: cfg.General.MaxConcurrentMessages,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Run(ctx)
	}()

	for _, src := range sources {
		wg.Add(1)
		go func(s domain.Source) {
			defer wg.Done()
			if err := s.Start(ctx, messageBus); err != nil {
				logger.Error("source stopped with error", zap.String("source", s.Name()), zap.Error(err))
			}
		}(src)
		logger.Info("source enabled", zap.String("source", src.Name()))
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(metrics.ServerConfig{
			Listen:     cfg.Metrics.Listen,
			Metrics:    a.metrics,
			Deliveries: a.ledger,
			Degraded:   a.pipeline.Degraded,
			Logger:     logger.Named("metrics"),
		})
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	go housekeeping(ctx, a, logger)

	logger.Info("signalpush started",
		zap.String("version", version),
		zap.String("primary", cfg.Notifications.Primary),
		zap.Bool("dry_run", cfg.Notifications.DryRun),
		zap.Bool("ai", !a.pipeline.Degraded()),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	for _, src := range sources {
		src.Stop()
	}

	shutdownTimeout := time.Duration(cfg.General.ShutdownTimeoutSeconds) * time.Second
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("sources did not stop in time")
	}
	messageBus.Close()

	if err := a.shutdown(); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func buildSources(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) []domain.Source {
	var sources []domain.Source
	if tg := cfg.Sources.Telegram; tg.Enabled && tg.Token != "" {
		sources = append(sources, channel.NewTelegram(channel.TelegramConfig{
			Token:         tg.Token,
			AllowChats:    tg.AllowChats,
			DownloadMedia: tg.DownloadMedia,
			MediaDir:      cfg.General.MediaDir,
			Logger:        logger.Named("telegram"),
			Metrics:       m,
		}))
	}
	if dc := cfg.Sources.Discord; dc.Enabled && dc.Token != "" {
		sources = append(sources, channel.NewDiscord(channel.DiscordConfig{
			Token:         dc.Token,
			GuildID:       dc.GuildID,
			AllowChannels: dc.AllowChannels,
			DownloadMedia: dc.DownloadMedia,
			MediaDir:      cfg.General.MediaDir,
			Logger:        logger.Named("discord"),
			Metrics:       m,
		}))
	}
	return sources
}

// housekeeping drops finished task records and old ledger rows once an hour.
func housekeeping(ctx context.Context, a *app, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tasks := a.dispatcher.Tasks().Clean(time.Hour)
			rows, err := a.ledger.Prune(ctx, ledgerRetention)
			if err != nil {
				logger.Warn("ledger prune failed", zap.Error(err))
			}
			logger.Debug("housekeeping", zap.Int("tasks_removed", tasks), zap.Int64("rows_pruned", rows))
		}
	}
}
