package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Validate ---

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestValidate_Ranges(t *testing.T) {
	cases := map[string]func(c *Config){
		"logLevel":         func(c *Config) { c.General.LogLevel = "verbose" },
		"concurrency":      func(c *Config) { c.General.MaxConcurrentMessages = 0 },
		"temperature":      func(c *Config) { c.AI.Temperature = 3 },
		"maxTokens":        func(c *Config) { c.AI.MaxTokens = 1 },
		"negative delay":   func(c *Config) { c.AI.RateLimitDelayMs = -1 },
		"title cap":        func(c *Config) { c.Format.TitleMaxRunes = 51 },
		"body cap":         func(c *Config) { c.Format.BodyMaxRunes = 10 },
		"interval":         func(c *Config) { c.Notifications.FollowupIntervalSeconds = 0 },
		"followups":        func(c *Config) { c.Notifications.MaxFollowups = 99 },
		"primary":          func(c *Config) { c.Notifications.Primary = "sms" },
		"secondary dup":    func(c *Config) { c.Notifications.Secondary = []string{"fcm"} },
		"fcm mode":         func(c *Config) { c.Notifications.FCM.Mode = "v2" },
		"tag policy":       func(c *Config) { c.Notifications.FCM.TagPolicy = "merge" },
		"failover unknown": func(c *Config) { c.AI.FailoverChain = []string{"claude"} },
		"provider kind":    func(c *Config) { c.AI.Providers["x"] = ProviderConfig{Kind: "ollama"} },
		"metrics listen": func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Listen = ""
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "x"
	cfg.AI.MaxTokens = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "general.logLevel")
	assert.Contains(t, err.Error(), "ai.maxTokens")
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SP_TEST_KEY", "abc")
	assert.Equal(t, "key: abc", ExpandEnvVars("key: ${SP_TEST_KEY}"))
	assert.Equal(t, "key: fallback", ExpandEnvVars("key: ${SP_TEST_MISSING:-fallback}"))
	assert.Equal(t, "key: ${SP_TEST_MISSING}", ExpandEnvVars("key: ${SP_TEST_MISSING}"))
}

// --- Load / Save ---

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
ai:
  providers:
    gemini:
      apiKey: from-file
notifications:
  persistenceSeconds: 60
  fcm:
    deviceToken: tok
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	gem := cfg.AI.Providers["gemini"]
	assert.Equal(t, "from-file", gem.APIKey)
	assert.Equal(t, "gemini", gem.Kind, "kind should survive a partial provider entry")
	assert.True(t, gem.Enabled)
	assert.Equal(t, 60, cfg.Notifications.PersistenceSeconds)
	assert.Equal(t, 5, cfg.Notifications.FollowupIntervalSeconds)
	assert.Equal(t, "tok", cfg.Notifications.FCM.DeviceToken)
	assert.Equal(t, 400, cfg.Format.BodyMaxRunes)
	assert.InDelta(t, 0.3, cfg.AI.Temperature, 1e-9)
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("SIGNALPUSH_FCM_SERVER_KEY", "AAAA-from-env")
	t.Setenv("SIGNALPUSH_TEST_MODE", "true")
	path := writeConfig(t, "notifications:\n  fcm:\n    serverKey: from-file\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "AAAA-from-env", cfg.Notifications.FCM.ServerKey)
	assert.True(t, cfg.Notifications.DryRun)
}

func TestLoad_SubstitutesVars(t *testing.T) {
	t.Setenv("SP_TEST_TOKEN", "bot:123")
	path := writeConfig(t, "sources:\n  telegram:\n    token: ${SP_TEST_TOKEN}\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bot:123", cfg.Sources.Telegram.Token)
}

func TestLoad_InvalidFails(t *testing.T) {
	path := writeConfig(t, "notifications:\n  primary: carrier-pigeon\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifications.primary")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Defaults()
	cfg.Notifications.Secondary = []string{"pushbullet"}
	cfg.Notifications.Pushbullet.AccessToken = "o.abcdefghijkl"
	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"pushbullet"}, loaded.Notifications.Secondary)
	assert.Equal(t, "o.abcdefghijkl", loaded.Notifications.Pushbullet.AccessToken)
}

// --- accessors ---

func TestGetSetByPath(t *testing.T) {
	cfg := Defaults()

	v, err := GetByPath(cfg, "notifications.maxFollowups")
	require.NoError(t, err)
	assert.EqualValues(t, 6, v)

	require.NoError(t, SetByPath(cfg, "notifications.maxFollowups", "3"))
	assert.Equal(t, 3, cfg.Notifications.MaxFollowups)

	require.NoError(t, SetByPath(cfg, "notifications.dryRun", "true"))
	assert.True(t, cfg.Notifications.DryRun)

	require.NoError(t, SetByPath(cfg, "notifications.telegram.chatId", "123456"))
	assert.Equal(t, "123456", cfg.Notifications.Telegram.ChatID)

	require.NoError(t, SetByPath(cfg, "notifications.secondary", "pushbullet,webhook"))
	assert.Equal(t, []string{"pushbullet", "webhook"}, cfg.Notifications.Secondary)

	_, err = GetByPath(cfg, "notifications.nope")
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	cfg := Defaults()
	cfg.Notifications.FCM.ServerKey = "AAAA1234567890zzzz"
	cfg.AI.Providers["gemini"] = ProviderConfig{Kind: "gemini", APIKey: "short"}

	s := Sanitize(cfg)
	assert.Equal(t, "AAAA****zzzz", s.Notifications.FCM.ServerKey)
	assert.Equal(t, "***", s.AI.Providers["gemini"].APIKey)
	assert.Equal(t, "", s.Notifications.Pushbullet.AccessToken)
	// original untouched
	assert.Equal(t, "AAAA1234567890zzzz", cfg.Notifications.FCM.ServerKey)
}

func TestListPaths_Sorted(t *testing.T) {
	paths := ListPaths(Defaults())
	require.NotEmpty(t, paths)
	for i := 1; i < len(paths); i++ {
		assert.Less(t, paths[i-1].Path, paths[i].Path)
	}
}
