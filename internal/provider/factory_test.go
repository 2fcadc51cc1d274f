package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signalpush/internal/config"
	"signalpush/internal/domain"
)

func fakeCtor(p domain.Provider) Constructor {
	return func(ctx context.Context, name string, pc config.ProviderConfig, logger *zap.Logger) (domain.Provider, error) {
		return p, nil
	}
}

func TestFactory_MissingKeyIsConfigError(t *testing.T) {
	cfg := config.Defaults().AI
	f := NewFactory(cfg, zap.NewNop())

	_, err := f.Build(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ErrConfig, domain.KindOf(err))
}

func TestFactory_UnknownAndDisabled(t *testing.T) {
	f := NewFactory(config.Defaults().AI, zap.NewNop())

	_, err := f.Get(context.Background(), "nope")
	assert.Equal(t, domain.ErrConfig, domain.KindOf(err))

	_, err = f.Get(context.Background(), "openai") // disabled by default
	assert.Equal(t, domain.ErrConfig, domain.KindOf(err))
}

func TestFactory_CachesInstances(t *testing.T) {
	cfg := config.Defaults().AI
	f := NewFactory(cfg, zap.NewNop())
	mp := &mockProvider{name: "gemini"}
	f.RegisterConstructor("gemini", fakeCtor(mp))

	p1, err := f.Get(context.Background(), "")
	require.NoError(t, err)
	p2, err := f.Get(context.Background(), "gemini")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestFactory_BuildChainSkipsBroken(t *testing.T) {
	cfg := config.Defaults().AI
	cfg.FailoverChain = []string{"gemini", "openai"}
	f := NewFactory(cfg, zap.NewNop())
	f.RegisterConstructor("gemini", fakeCtor(&mockProvider{name: "gemini"}))

	// openai is disabled, so only gemini survives and no chain wrapper is built
	p, err := f.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	cfg.Providers["openai"] = config.ProviderConfig{Enabled: true, Kind: "openai"}
	f = NewFactory(cfg, zap.NewNop())
	f.RegisterConstructor("gemini", fakeCtor(&mockProvider{name: "gemini"}))
	f.RegisterConstructor("openai", fakeCtor(&mockProvider{name: "openai"}))
	p, err = f.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "failover(gemini→openai)", p.Name())
}

func TestFactory_Disabled(t *testing.T) {
	cfg := config.Defaults().AI
	cfg.Enabled = false
	_, err := NewFactory(cfg, zap.NewNop()).Build(context.Background())
	assert.Equal(t, domain.ErrConfig, domain.KindOf(err))
}
