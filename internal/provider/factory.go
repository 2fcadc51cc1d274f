package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"signalpush/internal/config"
	"signalpush/internal/domain"
)

// Constructor creates a provider from a config entry.
type Constructor func(ctx context.Context, name string, pc config.ProviderConfig, logger *zap.Logger) (domain.Provider, error)

// Factory creates and caches AI providers from config.
type Factory struct {
	cfg          config.AIConfig
	logger       *zap.Logger
	constructors map[string]Constructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

func NewFactory(cfg config.AIConfig, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds or replaces the constructor for a provider kind.
func (f *Factory) RegisterConstructor(kind string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	timeout := time.Duration(f.cfg.CallTimeoutSeconds) * time.Second

	f.constructors["gemini"] = func(ctx context.Context, name string, pc config.ProviderConfig, logger *zap.Logger) (domain.Provider, error) {
		return NewGemini(ctx, GeminiConfig{
			Name:        name,
			APIKey:      pc.APIKey,
			TextModel:   pc.TextModel,
			VisionModel: pc.VisionModel,
			Logger:      logger,
		})
	}
	f.constructors["openai"] = func(ctx context.Context, name string, pc config.ProviderConfig, logger *zap.Logger) (domain.Provider, error) {
		return NewOpenAI(OpenAIConfig{
			Name:        name,
			APIKey:      pc.APIKey,
			APIBase:     pc.APIBase,
			TextModel:   pc.TextModel,
			VisionModel: pc.VisionModel,
			Timeout:     timeout,
			Logger:      logger,
		})
	}
}

// Get returns the named provider, or the default when name is empty.
// Instances are cached; construction errors are not.
func (f *Factory) Get(ctx context.Context, name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, &domain.ExtractionError{Kind: domain.ErrConfig, Provider: name, Err: errors.New("unknown provider")}
	}
	if !pc.Enabled {
		return nil, &domain.ExtractionError{Kind: domain.ErrConfig, Provider: name, Err: errors.New("provider is disabled")}
	}
	ctor, found := f.constructors[pc.Kind]
	if !found {
		return nil, &domain.ExtractionError{Kind: domain.ErrConfig, Provider: name, Err: fmt.Errorf("no constructor for kind %q", pc.Kind)}
	}

	p, err := ctor(ctx, name, pc, f.logger.With(zap.String("provider", name)))
	if err != nil {
		return nil, err
	}
	f.cache[name] = p
	return p, nil
}

// Build returns the provider the extractor should use: the failover chain
// when one is configured, otherwise the default provider. Entries that fail
// to construct are skipped with a warning; if none survive the last
// construction error is returned.
func (f *Factory) Build(ctx context.Context) (domain.Provider, error) {
	if !f.cfg.Enabled {
		return nil, &domain.ExtractionError{Kind: domain.ErrConfig, Err: errors.New("ai extraction disabled")}
	}
	names := f.cfg.FailoverChain
	if len(names) == 0 {
		names = []string{f.cfg.DefaultProvider}
	}

	var (
		providers []domain.Provider
		lastErr   error
	)
	for _, name := range names {
		p, err := f.Get(ctx, name)
		if err != nil {
			f.logger.Warn("provider unavailable", zap.String("provider", name), zap.Error(err))
			lastErr = err
			continue
		}
		providers = append(providers, p)
	}

	switch len(providers) {
	case 0:
		if lastErr == nil {
			lastErr = &domain.ExtractionError{Kind: domain.ErrConfig, Err: errors.New("no providers configured")}
		}
		return nil, lastErr
	case 1:
		return providers[0], nil
	default:
		return NewFailoverProvider(providers, f.logger), nil
	}
}
