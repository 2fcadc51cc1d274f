package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"signalpush/internal/config"
	"signalpush/internal/domain"
)

type TelegramConfig struct {
	Settings config.TelegramPush
	// APIEndpoint overrides tgbotapi.APIEndpoint (format with token and method).
	APIEndpoint string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Telegram echoes alerts into a Telegram chat through a bot.
type Telegram struct {
	cfg      config.TelegramPush
	endpoint string
	client   *http.Client
	logger   *zap.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = defaultHTTPClient
	}
	return &Telegram{
		cfg:      cfg.Settings,
		endpoint: cfg.APIEndpoint,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
	}
}

func (t *Telegram) Name() string                { return "telegram" }
func (t *Telegram) SupportsFollowups() bool     { return false }
func (t *Telegram) TagPolicy() domain.TagPolicy { return domain.TagStack }

func (t *Telegram) Validate() []string {
	var errs []string
	if t.cfg.Token == "" {
		errs = append(errs, "Telegram bot token is required")
	} else if !strings.Contains(t.cfg.Token, ":") {
		errs = append(errs, "Telegram bot token format appears invalid")
	}
	if t.cfg.ChatID == "" {
		errs = append(errs, "Telegram chat id is required")
	} else if _, err := strconv.ParseInt(t.cfg.ChatID, 10, 64); err != nil && !strings.HasPrefix(t.cfg.ChatID, "@") {
		errs = append(errs, "Telegram chat id must be numeric or an @channel name")
	}
	return errs
}

func (t *Telegram) message(job domain.DeliveryJob) tgbotapi.MessageConfig {
	if id, err := strconv.ParseInt(t.cfg.ChatID, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, job.Alert.Body)
	}
	return tgbotapi.NewMessageToChannel(t.cfg.ChatID, job.Alert.Body)
}

func (t *Telegram) Preview(job domain.DeliveryJob) ([]byte, error) {
	return json.MarshalIndent(map[string]string{
		"chat_id":    t.cfg.ChatID,
		"parse_mode": tgbotapi.ModeMarkdown,
		"text":       job.Alert.Body,
	}, "", "  ")
}

// Send tries Markdown first and falls back to plain text when Telegram
// rejects the entities. There is no retry beyond that. tgbotapi takes no
// context, so the dispatcher's timeout bounds the call.
func (t *Telegram) Send(_ context.Context, job domain.DeliveryJob) error {
	bot, err := t.botAPI()
	if err != nil {
		return err
	}
	msg := t.message(job)
	msg.ParseMode = tgbotapi.ModeMarkdown

	_, err = bot.Send(msg)
	if err != nil && strings.Contains(err.Error(), "can't parse entities") {
		t.logger.Warn("telegram markdown parse error, retrying as plain text", zap.Error(err))
		msg.ParseMode = ""
		_, err = bot.Send(msg)
	}
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *Telegram) botAPI() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.cfg.Token, t.endpoint, t.client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	return bot, nil
}
