package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signalpush/internal/domain"
	"signalpush/internal/format"
	"signalpush/internal/metrics"
)

const (
	defaultSendTimeout  = 10 * time.Second
	defaultInterval     = 5 * time.Second
	defaultMaxFollowups = 6
)

// Recorder persists delivery attempts. The ledger implements it.
type Recorder interface {
	RecordDelivery(ctx context.Context, rec domain.DeliveryRecord) error
}

type Config struct {
	Primary   domain.PushBackend
	Secondary []domain.PushBackend

	DryRun       bool
	Persistence  time.Duration // how long the alert should keep the device busy
	Interval     time.Duration // spacing between follow-ups
	MaxFollowups int
	SendTimeout  time.Duration
	BodyMax      int

	Tasks    *TaskGroup
	Recorder Recorder
	Logger   *zap.Logger
	Metrics  *metrics.Metrics

	// After is the clock used between follow-ups. Defaults to time.After.
	After func(time.Duration) <-chan time.Time
}

// Dispatcher sends a FormattedAlert to the primary backend and schedules
// follow-ups. It holds no per-message state and is safe for concurrent use.
type Dispatcher struct {
	primary   domain.PushBackend
	secondary []domain.PushBackend

	dryRun       bool
	persistence  time.Duration
	interval     time.Duration
	maxFollowups int
	sendTimeout  time.Duration
	bodyMax      int

	tasks    *TaskGroup
	recorder Recorder
	logger   *zap.Logger
	metrics  *metrics.Metrics
	after    func(time.Duration) <-chan time.Time
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxFollowups < 0 {
		cfg.MaxFollowups = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Tasks == nil {
		cfg.Tasks = NewTaskGroup(cfg.Logger)
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	return &Dispatcher{
		primary:      cfg.Primary,
		secondary:    cfg.Secondary,
		dryRun:       cfg.DryRun,
		persistence:  cfg.Persistence,
		interval:     cfg.Interval,
		maxFollowups: cfg.MaxFollowups,
		sendTimeout:  cfg.SendTimeout,
		bodyMax:      cfg.BodyMax,
		tasks:        cfg.Tasks,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		after:        cfg.After,
	}
}

// ValidateConfig lists configuration problems across every configured
// backend. Empty means Dispatch may call transports.
func (d *Dispatcher) ValidateConfig() []string {
	if d.primary == nil {
		return []string{"no primary notification backend configured"}
	}
	var problems []string
	for _, b := range d.backends() {
		for _, p := range b.Validate() {
			problems = append(problems, fmt.Sprintf("%s: %s", b.Name(), p))
		}
	}
	return problems
}

// Tasks exposes the follow-up task group for shutdown and diagnostics.
func (d *Dispatcher) Tasks() *TaskGroup { return d.tasks }

// FollowupCount returns how many follow-ups a successful initial send gets.
func (d *Dispatcher) FollowupCount() int {
	if d.primary == nil || !d.primary.SupportsFollowups() || d.persistence <= d.interval {
		return 0
	}
	return min(int(d.persistence/d.interval), d.maxFollowups)
}

// Dispatch delivers alert on the primary backend. The outcome only reflects
// the primary's initial send; secondaries and follow-ups never change it.
func (d *Dispatcher) Dispatch(ctx context.Context, alert domain.FormattedAlert, msg domain.NormalizedMessage) domain.DeliveryOutcome {
	dispatchID := uuid.NewString()
	log := d.logger.With(zap.String("dispatch_id", dispatchID), zap.String("message_id", msg.ID))

	if problems := d.ValidateConfig(); len(problems) > 0 {
		for _, p := range problems {
			log.Error("notification config invalid", zap.String("problem", p))
		}
		name := "none"
		if d.primary != nil {
			name = d.primary.Name()
		}
		d.metrics.Dispatch(name, string(domain.ConfigError))
		d.record(ctx, domain.DeliveryRecord{
			DispatchID: dispatchID,
			MessageID:  msg.ID,
			Source:     msg.Source,
			Backend:    name,
			Outcome:    domain.ConfigError,
			Detail:     problems[0],
		})
		return domain.ConfigError
	}

	job := domain.DeliveryJob{
		DispatchID:    dispatchID,
		Alert:         alert,
		Message:       msg,
		TargetBackend: d.primary.Name(),
		ScheduledAt:   time.Now(),
		Tag:           BaseTag(msg, dispatchID),
	}

	if d.dryRun {
		for _, b := range d.backends() {
			d.preview(log, b, job)
		}
		d.metrics.Dispatch(d.primary.Name(), string(domain.Delivered))
		return domain.Delivered
	}

	outcome := domain.Delivered
	if err := d.send(ctx, d.primary, job); err != nil {
		log.Error("primary delivery failed", zap.String("backend", d.primary.Name()), zap.Error(err))
		outcome = domain.TransportError
	} else {
		log.Info("alert delivered", zap.String("backend", d.primary.Name()), zap.String("tag", job.Tag))
	}
	d.metrics.Dispatch(d.primary.Name(), string(outcome))

	for _, b := range d.secondary {
		d.sendSecondary(b, job)
	}

	if outcome == domain.Delivered {
		if n := d.FollowupCount(); n > 0 {
			d.scheduleFollowups(job, n)
		}
	}
	return outcome
}

func (d *Dispatcher) backends() []domain.PushBackend {
	if d.primary == nil {
		return d.secondary
	}
	return append([]domain.PushBackend{d.primary}, d.secondary...)
}

func (d *Dispatcher) preview(log *zap.Logger, b domain.PushBackend, job domain.DeliveryJob) {
	job.TargetBackend = b.Name()
	payload, err := b.Preview(job)
	if err != nil {
		log.Warn("dry run: cannot render payload", zap.String("backend", b.Name()), zap.Error(err))
		return
	}
	log.Info("dry run: notification not sent",
		zap.String("backend", b.Name()),
		zap.ByteString("payload", payload),
		zap.Int("followups", d.FollowupCount()),
	)
}

// send performs one bounded transport call and records it.
func (d *Dispatcher) send(ctx context.Context, b domain.PushBackend, job domain.DeliveryJob) error {
	job.TargetBackend = b.Name()
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	// bounded even if the backend ignores ctx
	errc := make(chan error, 1)
	go func() { errc <- b.Send(sendCtx, job) }()
	var err error
	select {
	case err = <-errc:
	case <-sendCtx.Done():
		err = sendCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%s: send timed out after %s: %w", b.Name(), d.sendTimeout, err)
	}

	rec := domain.DeliveryRecord{
		DispatchID: job.DispatchID,
		MessageID:  job.Message.ID,
		Source:     job.Message.Source,
		Backend:    b.Name(),
		Sequence:   job.AttemptSequence,
		Tag:        job.Tag,
		Outcome:    domain.Delivered,
	}
	if err != nil {
		rec.Outcome = domain.TransportError
		rec.Detail = err.Error()
	}
	d.record(ctx, rec)
	return err
}

func (d *Dispatcher) sendSecondary(b domain.PushBackend, job domain.DeliveryJob) {
	d.tasks.Submit("secondary:"+b.Name(), func(ctx context.Context) error {
		err := d.send(ctx, b, job)
		outcome := domain.Delivered
		if err != nil {
			outcome = domain.TransportError
			d.logger.Warn("secondary delivery failed",
				zap.String("dispatch_id", job.DispatchID),
				zap.String("backend", b.Name()),
				zap.Error(err),
			)
		}
		d.metrics.Dispatch(b.Name(), string(outcome))
		return nil
	})
}

// scheduleFollowups runs n urgent re-sends, one per interval, in the task
// group. Failures are logged and never escalated.
func (d *Dispatcher) scheduleFollowups(job domain.DeliveryJob, n int) {
	b := d.primary
	base := job.Tag
	policy := b.TagPolicy()
	log := d.logger.With(zap.String("dispatch_id", job.DispatchID), zap.String("backend", b.Name()))

	d.metrics.FollowupStarted()
	id := d.tasks.Submit("followups:"+job.DispatchID, func(ctx context.Context) error {
		defer d.metrics.FollowupFinished()
		for seq := 1; seq <= n; seq++ {
			select {
			case <-ctx.Done():
				log.Info("follow-ups cancelled", zap.Int("sent", seq-1), zap.Int("planned", n))
				return ctx.Err()
			case <-d.after(d.interval):
			}

			f := job
			f.AttemptSequence = seq
			f.ScheduledAt = time.Now()
			f.Alert = format.Urgent(job.Alert, seq, n, d.bodyMax)
			f.Tag = FollowupTag(base, seq, policy)

			if err := d.send(ctx, b, f); err != nil {
				log.Warn("follow-up failed", zap.Int("seq", seq), zap.Error(err))
				d.metrics.Followup(b.Name(), "failed")
				continue
			}
			log.Debug("follow-up sent", zap.Int("seq", seq), zap.String("tag", f.Tag))
			d.metrics.Followup(b.Name(), "sent")
		}
		return nil
	})
	if id == "" {
		d.metrics.FollowupFinished()
	}
}

func (d *Dispatcher) record(ctx context.Context, rec domain.DeliveryRecord) {
	if d.recorder == nil {
		return
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	// the transport context may already be done
	if err := d.recorder.RecordDelivery(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Warn("cannot record delivery", zap.String("dispatch_id", rec.DispatchID), zap.Error(err))
	}
}

// BaseTag is the delivery tag of the initial send. It is stable per message.
func BaseTag(msg domain.NormalizedMessage, dispatchID string) string {
	if msg.ID != "" {
		return "message_" + msg.ID
	}
	return "message_" + dispatchID
}

// FollowupTag derives the tag of follow-up seq. Under TagReplace every
// follow-up reuses the initial tag so the device keeps a single entry.
func FollowupTag(base string, seq int, policy domain.TagPolicy) string {
	if policy == domain.TagReplace {
		return base
	}
	return fmt.Sprintf("%s_followup_%d", base, seq)
}
