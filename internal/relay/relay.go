package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"signalpush/internal/domain"
	"signalpush/internal/extract"
)

const (
	defaultConcurrency = 3
	statusCommand      = "/status"
)

// Extractor turns a chat post into an alert. extract.Pipeline satisfies it.
type Extractor interface {
	ExtractDetailed(ctx context.Context, msg domain.NormalizedMessage) extract.Result
	Degraded() bool
}

// Notifier delivers an alert. notify.Dispatcher satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, alert domain.FormattedAlert, msg domain.NormalizedMessage) domain.DeliveryOutcome
}

// Ledger dedups re-delivered posts and reports delivery totals.
type Ledger interface {
	Seen(ctx context.Context, msg domain.NormalizedMessage) (bool, error)
	Stats(ctx context.Context) (map[domain.DeliveryOutcome]int, error)
}

// TaskCounter reports in-flight follow-up tasks.
type TaskCounter interface {
	ActiveCount() int
}

// Relay consumes the bus: receive post → extract → dispatch. It also answers
// /status requests from the chat sources.
type Relay struct {
	bus         domain.MessageBus
	extractor   Extractor
	notifier    Notifier
	ledger      Ledger
	tasks       TaskCounter
	logger      *zap.Logger
	concurrency int
	started     time.Time

	processed  atomic.Int64
	duplicates atomic.Int64
	wg         sync.WaitGroup
}

// Config holds the relay's dependencies. Ledger and Tasks are optional.
type Config struct {
	Bus         domain.MessageBus
	Extractor   Extractor
	Notifier    Notifier
	Ledger      Ledger
	Tasks       TaskCounter
	Logger      *zap.Logger
	Concurrency int // max posts processed in parallel (default 3)
}

func New(cfg Config) *Relay {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Relay{
		bus:         cfg.Bus,
		extractor:   cfg.Extractor,
		notifier:    cfg.Notifier,
		ledger:      cfg.Ledger,
		tasks:       cfg.Tasks,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		started:     time.Now(),
	}
}

// Run processes inbound posts with bounded concurrency until ctx is done or
// the bus is closed. It returns after in-flight posts finish.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("relay started", zap.Int("concurrency", r.concurrency))
	defer r.wg.Wait()

	sem := make(chan struct{}, r.concurrency)
	inbound := r.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				r.logger.Info("inbound bus closed, relay stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				r.logger.Warn("relay stopping, dropping message", zap.String("message_id", msg.ID))
				return
			}
			r.wg.Add(1)
			go func(m domain.NormalizedMessage) {
				defer func() {
					<-sem
					r.wg.Done()
				}()
				r.Handle(ctx, m)
			}(msg)
		}
	}
}

// Handle processes one post. It returns the delivery outcome and false when
// the post was a command or a duplicate and nothing was dispatched.
func (r *Relay) Handle(ctx context.Context, msg domain.NormalizedMessage) (domain.DeliveryOutcome, bool) {
	log := r.logger.With(
		zap.String("source", msg.Source),
		zap.String("chat_id", msg.ChatID),
		zap.String("message_id", msg.ID),
	)

	if strings.TrimSpace(msg.Text) == statusCommand && !msg.HasMedia {
		r.bus.SendOutbound(domain.OutboundMessage{
			Source:  msg.Source,
			ChatID:  msg.ChatID,
			Content: r.StatusText(ctx),
		})
		return "", false
	}

	if r.ledger != nil {
		seen, err := r.ledger.Seen(ctx, msg)
		if err != nil {
			log.Warn("dedup lookup failed, processing anyway", zap.Error(err))
		} else if seen {
			r.duplicates.Add(1)
			log.Debug("duplicate message skipped")
			return "", false
		}
	}

	start := time.Now()
	res := r.extractor.ExtractDetailed(ctx, msg)
	log.Info("signal extracted",
		zap.String("path", res.Path),
		zap.String("fallback", string(res.Fallback)),
		zap.String("instrument", res.Signal.Instrument),
		zap.String("direction", string(res.Signal.Direction)),
		zap.Duration("took", time.Since(start)),
	)

	outcome := r.notifier.Dispatch(ctx, res.Alert, msg)
	r.processed.Add(1)
	if outcome != domain.Delivered {
		log.Warn("alert not delivered", zap.String("outcome", string(outcome)))
	}
	return outcome, true
}

// StatusText renders the reply to /status.
func (r *Relay) StatusText(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("📊 signalpush status\n\n")
	fmt.Fprintf(&b, "Uptime: %s\n", time.Since(r.started).Round(time.Second))

	mode := "AI extraction"
	if r.extractor.Degraded() {
		mode = "heuristic fallback"
	}
	fmt.Fprintf(&b, "Mode: %s\n", mode)
	fmt.Fprintf(&b, "Processed: %d (duplicates skipped: %d)\n", r.processed.Load(), r.duplicates.Load())

	if r.tasks != nil {
		fmt.Fprintf(&b, "Follow-ups in flight: %d\n", r.tasks.ActiveCount())
	}
	if r.ledger != nil {
		stats, err := r.ledger.Stats(ctx)
		if err != nil {
			r.logger.Warn("ledger stats failed", zap.Error(err))
		} else {
			fmt.Fprintf(&b, "Deliveries: %d ok, %d transport errors, %d config errors\n",
				stats[domain.Delivered], stats[domain.TransportError], stats[domain.ConfigError])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
