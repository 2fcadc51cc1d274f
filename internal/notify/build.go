package notify

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"signalpush/internal/config"
	"signalpush/internal/domain"
	"signalpush/internal/metrics"
)

// NewBackend constructs the named backend from its config section.
func NewBackend(name string, n config.NotificationsConfig, logger *zap.Logger) (domain.PushBackend, error) {
	log := logger.With(zap.String("backend", name))
	switch name {
	case "fcm":
		return NewFCM(FCMConfig{
			Settings:    n.FCM,
			Persistence: time.Duration(n.PersistenceSeconds) * time.Second,
			Logger:      log,
		}), nil
	case "pushbullet":
		return NewPushbullet(PushbulletConfig{Settings: n.Pushbullet, Logger: log}), nil
	case "telegram":
		return NewTelegram(TelegramConfig{Settings: n.Telegram, Logger: log}), nil
	case "webhook":
		return NewWebhook(WebhookConfig{Settings: n.Webhook, Logger: log}), nil
	default:
		return nil, fmt.Errorf("unknown notification backend: %s", name)
	}
}

type BuildConfig struct {
	Notifications config.NotificationsConfig
	BodyMax       int
	Recorder      Recorder
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Build assembles a Dispatcher with the primary and secondary backends named
// in the notifications section.
func Build(cfg BuildConfig) (*Dispatcher, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	n := cfg.Notifications

	primary, err := NewBackend(n.Primary, n, cfg.Logger)
	if err != nil {
		return nil, err
	}
	var secondary []domain.PushBackend
	for _, name := range n.Secondary {
		b, err := NewBackend(name, n, cfg.Logger)
		if err != nil {
			return nil, err
		}
		secondary = append(secondary, b)
	}

	return NewDispatcher(Config{
		Primary:      primary,
		Secondary:    secondary,
		DryRun:       n.DryRun,
		Persistence:  time.Duration(n.PersistenceSeconds) * time.Second,
		Interval:     time.Duration(n.FollowupIntervalSeconds) * time.Second,
		MaxFollowups: n.MaxFollowups,
		SendTimeout:  time.Duration(n.SendTimeoutSeconds) * time.Second,
		BodyMax:      cfg.BodyMax,
		Tasks:        NewTaskGroup(cfg.Logger.Named("tasks")),
		Recorder:     cfg.Recorder,
		Logger:       cfg.Logger,
		Metrics:      cfg.Metrics,
	}), nil
}

// Primary returns the primary backend, for diagnostics.
func (d *Dispatcher) Primary() domain.PushBackend { return d.primary }
