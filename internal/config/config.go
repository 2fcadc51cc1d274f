package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config is the root configuration for signalpush.
type Config struct {
	General       GeneralConfig       `yaml:"general" json:"general"`
	AI            AIConfig            `yaml:"ai" json:"ai"`
	Format        FormatConfig        `yaml:"format" json:"format"`
	Notifications NotificationsConfig `yaml:"notifications" json:"notifications"`
	Sources       SourcesConfig       `yaml:"sources" json:"sources"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
}

type GeneralConfig struct {
	LogLevel               string `yaml:"logLevel" json:"logLevel"`
	LogFormat              string `yaml:"logFormat" json:"logFormat"` // json | console
	LogFile                string `yaml:"logFile,omitempty" json:"logFile,omitempty"`
	MediaDir               string `yaml:"mediaDir" json:"mediaDir"`
	MaxConcurrentMessages  int    `yaml:"maxConcurrentMessages" json:"maxConcurrentMessages"`
	BusBufferSize          int    `yaml:"busBufferSize" json:"busBufferSize"`
	ShutdownTimeoutSeconds int    `yaml:"shutdownTimeoutSeconds" json:"shutdownTimeoutSeconds"`
}

type AIConfig struct {
	Enabled            bool                      `yaml:"enabled" json:"enabled"`
	DefaultProvider    string                    `yaml:"defaultProvider" json:"defaultProvider"`
	FailoverChain      []string                  `yaml:"failoverChain,omitempty" json:"failoverChain,omitempty"`
	Providers          map[string]ProviderConfig `yaml:"providers" json:"providers"`
	MaxTokens          int                       `yaml:"maxTokens" json:"maxTokens"`
	Temperature        float64                   `yaml:"temperature" json:"temperature"`
	RateLimitDelayMs   int                       `yaml:"rateLimitDelayMs" json:"rateLimitDelayMs"`
	SharedLimiter      bool                      `yaml:"sharedLimiter" json:"sharedLimiter"`
	CallTimeoutSeconds int                       `yaml:"callTimeoutSeconds" json:"callTimeoutSeconds"`
	VerifyOnStart      bool                      `yaml:"verifyOnStart" json:"verifyOnStart"`
}

type ProviderConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Kind        string `yaml:"kind" json:"kind"` // gemini | openai
	APIKey      string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	APIBase     string `yaml:"apiBase,omitempty" json:"apiBase,omitempty"`
	TextModel   string `yaml:"textModel,omitempty" json:"textModel,omitempty"`
	VisionModel string `yaml:"visionModel,omitempty" json:"visionModel,omitempty"`
}

type FormatConfig struct {
	TitleMaxRunes     int `yaml:"titleMaxRunes" json:"titleMaxRunes"`
	BodyMaxRunes      int `yaml:"bodyMaxRunes" json:"bodyMaxRunes"`
	NarrativeMaxRunes int `yaml:"narrativeMaxRunes" json:"narrativeMaxRunes"`
}

type NotificationsConfig struct {
	DryRun                  bool     `yaml:"dryRun" json:"dryRun"`
	PersistenceSeconds      int      `yaml:"persistenceSeconds" json:"persistenceSeconds"`
	FollowupIntervalSeconds int      `yaml:"followupIntervalSeconds" json:"followupIntervalSeconds"`
	MaxFollowups            int      `yaml:"maxFollowups" json:"maxFollowups"`
	SendTimeoutSeconds      int      `yaml:"sendTimeoutSeconds" json:"sendTimeoutSeconds"`
	Primary                 string   `yaml:"primary" json:"primary"`
	Secondary               []string `yaml:"secondary,omitempty" json:"secondary,omitempty"`

	FCM        FCMConfig        `yaml:"fcm" json:"fcm"`
	Pushbullet PushbulletConfig `yaml:"pushbullet" json:"pushbullet"`
	Telegram   TelegramPush     `yaml:"telegram" json:"telegram"`
	Webhook    WebhookConfig    `yaml:"webhook" json:"webhook"`
}

type FCMConfig struct {
	Mode            string `yaml:"mode" json:"mode"` // legacy | v1
	ServerKey       string `yaml:"serverKey,omitempty" json:"serverKey,omitempty"`
	DeviceToken     string `yaml:"deviceToken,omitempty" json:"deviceToken,omitempty"`
	CredentialsFile string `yaml:"credentialsFile,omitempty" json:"credentialsFile,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Priority        string `yaml:"priority" json:"priority"`
	Sound           string `yaml:"sound" json:"sound"`
	Icon            string `yaml:"icon" json:"icon"`
	Color           string `yaml:"color" json:"color"`
	ChannelID       string `yaml:"channelId" json:"channelId"`
	ClickAction     string `yaml:"clickAction" json:"clickAction"`
	TagPolicy       string `yaml:"tagPolicy" json:"tagPolicy"` // stack | replace
	Vibration       []int  `yaml:"vibration,omitempty" json:"vibration,omitempty"`
}

type PushbulletConfig struct {
	AccessToken string `yaml:"accessToken,omitempty" json:"accessToken,omitempty"`
	DeviceIden  string `yaml:"deviceIden,omitempty" json:"deviceIden,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

type TelegramPush struct {
	Token  string `yaml:"token,omitempty" json:"token,omitempty"`
	ChatID string `yaml:"chatId,omitempty" json:"chatId,omitempty"`
}

type WebhookConfig struct {
	URL    string `yaml:"url,omitempty" json:"url,omitempty"`
	Secret string `yaml:"secret,omitempty" json:"secret,omitempty"`
}

type SourcesConfig struct {
	Telegram TelegramSource `yaml:"telegram" json:"telegram"`
	Discord  DiscordSource  `yaml:"discord" json:"discord"`
}

type TelegramSource struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Token         string   `yaml:"token,omitempty" json:"token,omitempty"`
	AllowChats    []string `yaml:"allowChats,omitempty" json:"allowChats,omitempty"`
	DownloadMedia bool     `yaml:"downloadMedia" json:"downloadMedia"`
}

type DiscordSource struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Token         string   `yaml:"token,omitempty" json:"token,omitempty"`
	GuildID       string   `yaml:"guildId,omitempty" json:"guildId,omitempty"`
	AllowChannels []string `yaml:"allowChannels,omitempty" json:"allowChannels,omitempty"`
	DownloadMedia bool     `yaml:"downloadMedia" json:"downloadMedia"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// DefaultConfigDir returns the default config directory (~/.signalpush).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".signalpush"
	}
	return filepath.Join(home, ".signalpush")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// envOverrides maps environment variables onto config paths. Only secrets and
// the dry-run switch are overridable this way.
var envOverrides = map[string]string{
	"SIGNALPUSH_GEMINI_API_KEY":   "ai.providers.gemini.apiKey",
	"SIGNALPUSH_OPENAI_API_KEY":   "ai.providers.openai.apiKey",
	"SIGNALPUSH_FCM_SERVER_KEY":   "notifications.fcm.serverKey",
	"SIGNALPUSH_FCM_DEVICE_TOKEN": "notifications.fcm.deviceToken",
	"SIGNALPUSH_FCM_CREDENTIALS":  "notifications.fcm.credentialsFile",
	"SIGNALPUSH_PUSHBULLET_TOKEN": "notifications.pushbullet.accessToken",
	"SIGNALPUSH_TELEGRAM_TOKEN":   "sources.telegram.token",
	"SIGNALPUSH_DISCORD_TOKEN":    "sources.discord.token",
	"SIGNALPUSH_TEST_MODE":        "notifications.dryRun",
	"SIGNALPUSH_LOG_LEVEL":        "general.logLevel",
}

// Load reads a YAML config file, applies ${VAR} substitution and environment
// overrides, and validates the result on top of Defaults().
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	// Defaults are loaded as the first layer so partially written map entries
	// (e.g. a provider with only apiKey) merge instead of replacing.
	base, err := yamlv3.Marshal(Defaults())
	if err != nil {
		return nil, fmt.Errorf("cannot marshal defaults: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(base), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("cannot load defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if err := k.Load(env.Provider("SIGNALPUSH_", ".", func(s string) string {
		return envOverrides[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("cannot load environment overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("cannot decode config file %s: %w", path, err)
	}

	cfg.General.MediaDir = ExpandPath(cfg.General.MediaDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Notifications.FCM.CredentialsFile = ExpandPath(cfg.Notifications.FCM.CredentialsFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// credentials live in this file
	return os.WriteFile(path, data, 0o600)
}

// Validate checks ranges and cross-references. Credential plausibility is
// checked by the notification backends at dispatch time, not here.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, "general.logFormat must be one of: json, console")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.ShutdownTimeoutSeconds < 1 {
		errs = append(errs, "general.shutdownTimeoutSeconds must be >= 1")
	}

	if cfg.AI.MaxTokens < 16 {
		errs = append(errs, "ai.maxTokens must be >= 16")
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		errs = append(errs, "ai.temperature must be between 0 and 2")
	}
	if cfg.AI.RateLimitDelayMs < 0 {
		errs = append(errs, "ai.rateLimitDelayMs must be >= 0")
	}
	if cfg.AI.CallTimeoutSeconds < 1 {
		errs = append(errs, "ai.callTimeoutSeconds must be >= 1")
	}
	if cfg.AI.DefaultProvider != "" {
		if _, ok := cfg.AI.Providers[cfg.AI.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("ai.defaultProvider references unknown provider: %s", cfg.AI.DefaultProvider))
		}
	}
	for _, name := range cfg.AI.FailoverChain {
		if _, ok := cfg.AI.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("ai.failoverChain references unknown provider: %s", name))
		}
	}
	for name, pc := range cfg.AI.Providers {
		switch pc.Kind {
		case "gemini", "openai":
		default:
			errs = append(errs, fmt.Sprintf("ai.providers.%s: kind must be gemini or openai", name))
		}
	}

	if cfg.Format.TitleMaxRunes < 1 || cfg.Format.TitleMaxRunes > 50 {
		errs = append(errs, "format.titleMaxRunes must be between 1 and 50")
	}
	if cfg.Format.BodyMaxRunes < 120 {
		errs = append(errs, "format.bodyMaxRunes must be >= 120")
	}
	if cfg.Format.NarrativeMaxRunes < 0 {
		errs = append(errs, "format.narrativeMaxRunes must be >= 0")
	}

	n := cfg.Notifications
	if n.PersistenceSeconds < 0 {
		errs = append(errs, "notifications.persistenceSeconds must be >= 0")
	}
	if n.FollowupIntervalSeconds < 1 {
		errs = append(errs, "notifications.followupIntervalSeconds must be >= 1")
	}
	if n.MaxFollowups < 0 || n.MaxFollowups > 20 {
		errs = append(errs, "notifications.maxFollowups must be between 0 and 20")
	}
	if n.SendTimeoutSeconds < 1 {
		errs = append(errs, "notifications.sendTimeoutSeconds must be >= 1")
	}
	if !knownBackend(n.Primary) {
		errs = append(errs, fmt.Sprintf("notifications.primary: unknown backend %q", n.Primary))
	}
	for _, b := range n.Secondary {
		if !knownBackend(b) {
			errs = append(errs, fmt.Sprintf("notifications.secondary: unknown backend %q", b))
		} else if b == n.Primary {
			errs = append(errs, fmt.Sprintf("notifications.secondary: %q is already primary", b))
		}
	}
	switch n.FCM.Mode {
	case "legacy", "v1":
	default:
		errs = append(errs, "notifications.fcm.mode must be legacy or v1")
	}
	switch n.FCM.TagPolicy {
	case "stack", "replace":
	default:
		errs = append(errs, "notifications.fcm.tagPolicy must be stack or replace")
	}
	switch n.FCM.Priority {
	case "high", "normal":
	default:
		errs = append(errs, "notifications.fcm.priority must be high or normal")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Backends lists the notification backend names accepted in
// notifications.primary and notifications.secondary.
var Backends = []string{"fcm", "pushbullet", "telegram", "webhook"}

func knownBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
