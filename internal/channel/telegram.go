package channel

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"signalpush/internal/domain"
	"signalpush/internal/metrics"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram reads posts from the chats the bot is in and publishes them as
// NormalizedMessages.
type Telegram struct {
	token         string
	allow         allowList
	downloadMedia bool
	mediaDir      string
	endpoint      string
	client        *http.Client

	bot     *tgbotapi.BotAPI
	bus     domain.MessageBus
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type TelegramConfig struct {
	Token string
	// AllowChats holds chat ids or @usernames. Empty allows every chat.
	AllowChats    []string
	DownloadMedia bool
	MediaDir      string
	APIEndpoint   string
	HTTPClient    *http.Client
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &Telegram{
		token:         cfg.Token,
		allow:         newAllowList(cfg.AllowChats),
		downloadMedia: cfg.DownloadMedia,
		mediaDir:      cfg.MediaDir,
		endpoint:      cfg.APIEndpoint,
		client:        cfg.HTTPClient,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		zap.String("username", bot.Self.UserName),
		zap.Int64("id", bot.Self.ID),
	)

	bus.OnOutbound(t.Name(), func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		if err := t.Send(ctx, msg.ChatID, msg.Content); err != nil {
			t.logger.Error("telegram outbound failed", zap.String("chat_id", msg.ChatID), zap.Error(err))
		}
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "channel_post"}
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram source stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	if t.bot == nil {
		return fmt.Errorf("telegram source not started")
	}
	for _, chunk := range splitMessage(content, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, id, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	m := update.Message
	if m == nil {
		m = update.ChannelPost
	}
	if m == nil || m.Chat == nil {
		return
	}

	if !t.allow.allows(strconv.FormatInt(m.Chat.ID, 10), m.Chat.UserName) {
		t.logger.Debug("ignoring chat outside allow list",
			zap.Int64("chat_id", m.Chat.ID),
			zap.String("chat", m.Chat.Title),
		)
		return
	}

	if m.IsCommand() {
		if t.handleCommand(ctx, m) {
			return
		}
	}

	msg, fileID := normalizeTelegram(m)
	if strings.TrimSpace(msg.Text) == "" && !msg.HasMedia {
		return
	}
	if fileID != "" && t.downloadMedia {
		if path, err := t.fetchMedia(ctx, msg, fileID, mediaFileName(m)); err != nil {
			t.logger.Warn("telegram media download failed", zap.String("message_id", msg.ID), zap.Error(err))
		} else {
			msg.MediaRef = path
		}
	}

	t.logger.Info("telegram message received",
		zap.String("chat_id", msg.ChatID),
		zap.String("message_id", msg.ID),
		zap.Int("text_len", len(msg.Text)),
		zap.String("media", string(msg.MediaType)),
	)
	t.metrics.Inbound(t.Name())
	t.bus.Publish(msg)
}

// handleCommand answers bot commands locally. /status is forwarded to the
// relay, which replies through the bus.
func (t *Telegram) handleCommand(ctx context.Context, m *tgbotapi.Message) bool {
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	switch m.Command() {
	case "start", "help":
		_ = t.Send(ctx, chatID, "📈 signalpush relay\n\nTrading signals posted here are extracted and pushed to your phone.\n\nCommands:\n/status - relay status\n/help - this message")
		return true
	case "status":
		t.bus.Publish(domain.NormalizedMessage{
			ID:        strconv.Itoa(m.MessageID),
			Source:    t.Name(),
			ChatID:    chatID,
			Text:      "/status",
			Timestamp: time.Unix(int64(m.Date), 0),
		})
		return true
	}
	return false
}

func (t *Telegram) fetchMedia(ctx context.Context, msg domain.NormalizedMessage, fileID, name string) (string, error) {
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}
	path := MediaPath(t.mediaDir, msg.Source, msg.ChatID, msg.ID, msg.Timestamp, extFor(name, ""))
	if err := downloadFile(ctx, t.client, url, path); err != nil {
		return "", err
	}
	return path, nil
}

// normalizeTelegram converts a Telegram message and returns the file id of
// its attachment, if any.
func normalizeTelegram(m *tgbotapi.Message) (domain.NormalizedMessage, string) {
	msg := domain.NormalizedMessage{
		ID:        strconv.Itoa(m.MessageID),
		Source:    "telegram",
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		ChatTitle: chatTitle(m.Chat),
		Timestamp: time.Unix(int64(m.Date), 0),
		Text:      strings.TrimSpace(m.Text),
	}
	if msg.Text == "" {
		msg.Text = strings.TrimSpace(m.Caption)
	}

	switch {
	case m.From != nil:
		msg.SenderID = strconv.FormatInt(m.From.ID, 10)
		msg.SenderName = userName(m.From)
	case m.SenderChat != nil:
		msg.SenderID = strconv.FormatInt(m.SenderChat.ID, 10)
		msg.SenderName = chatTitle(m.SenderChat)
	default:
		msg.SenderName = msg.ChatTitle
	}

	mediaType, fileID := classifyTelegram(m)
	if mediaType != domain.MediaNone {
		msg.HasMedia = true
		msg.MediaType = mediaType
	}
	return msg, fileID
}

func classifyTelegram(m *tgbotapi.Message) (domain.MediaType, string) {
	switch {
	case len(m.Photo) > 0:
		// sizes are ordered smallest first
		return domain.MediaPhoto, m.Photo[len(m.Photo)-1].FileID
	case m.Document != nil:
		return MediaTypeFromMIME(m.Document.MimeType), m.Document.FileID
	case m.Video != nil:
		return domain.MediaVideo, m.Video.FileID
	case m.Audio != nil:
		return domain.MediaAudio, m.Audio.FileID
	case m.Voice != nil:
		return domain.MediaAudio, m.Voice.FileID
	case m.Sticker != nil, m.Animation != nil, m.VideoNote != nil:
		return domain.MediaOther, ""
	}
	return domain.MediaNone, ""
}

func mediaFileName(m *tgbotapi.Message) string {
	switch {
	case len(m.Photo) > 0:
		return "photo.jpg"
	case m.Document != nil:
		if m.Document.FileName != "" {
			return m.Document.FileName
		}
		return extFor("", m.Document.MimeType)
	case m.Video != nil:
		return "video.mp4"
	case m.Voice != nil:
		return "voice.ogg"
	case m.Audio != nil:
		return "audio.mp3"
	}
	return ""
}

func chatTitle(c *tgbotapi.Chat) string {
	switch {
	case c.Title != "":
		return c.Title
	case c.UserName != "":
		return "@" + c.UserName
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

func userName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" && u.UserName != "" {
		return "@" + u.UserName
	}
	return name
}

// sendChunk tries Markdown first, falls back to plain text on a parse error
// and backs off on rate limiting.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) error {
	var err error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 {
			msg.ParseMode = tgbotapi.ModeMarkdown
		}

		if _, err = t.bot.Send(msg); err == nil {
			return nil
		}
		errStr := err.Error()

		if attempt == 0 && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", zap.Error(err))
			continue
		}

		backoff := time.Duration(attempt+1) * time.Second
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			backoff = time.Duration(attempt+1) * 3 * time.Second
		}
		if attempt == telegramMaxSendRetries {
			break
		}
		t.logger.Warn("telegram send error, retrying", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("telegram send failed after retries: %w", err)
}
