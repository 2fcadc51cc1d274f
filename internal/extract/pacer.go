package extract

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer delays generation calls. In per-call mode every call sleeps the full
// delay independently, so concurrent calls can overlap. In shared mode all
// calls pass through one limiter admitting a call per delay.
type Pacer struct {
	delay   time.Duration
	limiter *rate.Limiter
}

func NewPacer(delay time.Duration, shared bool) *Pacer {
	p := &Pacer{delay: delay}
	if shared && delay > 0 {
		p.limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	return p
}

func (p *Pacer) Delay() time.Duration {
	if p == nil {
		return 0
	}
	return p.delay
}

func (p *Pacer) Shared() bool { return p != nil && p.limiter != nil }

// Wait blocks until the next call may proceed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.delay <= 0 {
		return ctx.Err()
	}
	if p.limiter != nil {
		return p.limiter.Wait(ctx)
	}
	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
