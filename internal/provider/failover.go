package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"signalpush/internal/domain"
)

// FailoverProvider tries providers in order and returns the first success.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *zap.Logger
}

// NewFailoverProvider creates a failover chain. At least one provider is required.
func NewFailoverProvider(providers []domain.Provider, logger *zap.Logger) *FailoverProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailoverProvider{providers: providers, logger: logger}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) SupportsVision() bool {
	for _, p := range fp.providers {
		if p.SupportsVision() {
			return true
		}
	}
	return false
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	for _, p := range fp.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

// Generate tries each capable provider in order. The returned error is
// CONFIG only when every attempted provider failed with CONFIG, so one
// misconfigured member does not degrade the whole chain.
func (fp *FailoverProvider) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	var (
		configErr error
		otherErr  error
	)
	for i, p := range fp.providers {
		if len(req.Image) > 0 && !p.SupportsVision() {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		resp, err := p.Generate(ctx, req)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider",
					zap.String("provider", p.Name()),
					zap.Int("attempt", i+1),
				)
			}
			return resp, nil
		}
		if Classify(err) == domain.ErrConfig {
			configErr = err
		} else {
			otherErr = err
		}
		fp.logger.Warn("failover: provider failed, trying next",
			zap.String("provider", p.Name()),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
	}

	switch {
	case otherErr != nil:
		return nil, fmt.Errorf("all providers in failover chain failed: %w", otherErr)
	case configErr != nil:
		return nil, fmt.Errorf("all providers in failover chain failed: %w", configErr)
	case ctx.Err() != nil:
		return nil, &domain.ExtractionError{Kind: domain.ErrTransient, Provider: fp.Name(), Err: ctx.Err()}
	default:
		return nil, &domain.ExtractionError{Kind: domain.ErrConfig, Provider: fp.Name(), Err: errors.New("no provider supports this request")}
	}
}
