package channel

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"signalpush/internal/domain"
	"signalpush/internal/metrics"
)

const (
	discordMaxMsgLen = 2000
)

// Discord reads guild and direct messages through a bot session.
type Discord struct {
	token         string
	guildID       string
	allow         allowList
	downloadMedia bool
	mediaDir      string
	client        *http.Client

	session *discordgo.Session
	bus     domain.MessageBus
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// DiscordConfig configures the Discord source.
type DiscordConfig struct {
	Token   string
	GuildID string
	// AllowChannels holds channel ids or names. Empty allows every channel.
	AllowChannels []string
	DownloadMedia bool
	MediaDir      string
	HTTPClient    *http.Client
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: downloadTimeout}
	}
	return &Discord{
		token:         cfg.Token,
		guildID:       cfg.GuildID,
		allow:         newAllowList(cfg.AllowChannels),
		downloadMedia: cfg.DownloadMedia,
		mediaDir:      cfg.MediaDir,
		client:        cfg.HTTPClient,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and listens until ctx is done.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	bus.OnOutbound(d.Name(), func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		if err := d.Send(ctx, msg.ChatID, msg.Content); err != nil {
			d.logger.Error("discord outbound failed", zap.String("channel_id", msg.ChatID), zap.Error(err))
		}
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
			return
		}
		if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
			return
		}
		d.handleMessage(ctx, m.Message, channelName(s, m.ChannelID))
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", zap.String("user", session.State.User.Username))

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error {
	return nil
}

func (d *Discord) Send(ctx context.Context, chatID string, content string) error {
	if d.session == nil {
		return fmt.Errorf("discord source not started")
	}
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(chatID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (d *Discord) handleMessage(ctx context.Context, m *discordgo.Message, chanName string) {
	if !d.allow.allows(m.ChannelID, chanName) {
		return
	}

	if strings.TrimSpace(m.Content) == "/status" {
		d.bus.Publish(domain.NormalizedMessage{
			ID: m.ID, Source: d.Name(), ChatID: m.ChannelID, Text: "/status", Timestamp: m.Timestamp,
		})
		return
	}

	msg, att := normalizeDiscord(m, chanName)
	if strings.TrimSpace(msg.Text) == "" && !msg.HasMedia {
		return
	}
	if att != nil && d.downloadMedia {
		path := MediaPath(d.mediaDir, msg.Source, msg.ChatID, msg.ID, msg.Timestamp, extFor(att.Filename, att.ContentType))
		if err := downloadFile(ctx, d.client, att.URL, path); err != nil {
			d.logger.Warn("discord media download failed", zap.String("message_id", msg.ID), zap.Error(err))
		} else {
			msg.MediaRef = path
		}
	}

	d.logger.Info("discord message received",
		zap.String("channel_id", msg.ChatID),
		zap.String("message_id", msg.ID),
		zap.Int("content_len", len(msg.Text)),
		zap.String("media", string(msg.MediaType)),
	)
	d.metrics.Inbound(d.Name())
	d.bus.Publish(msg)
}

// normalizeDiscord converts a message and returns the attachment worth
// downloading: the first image, otherwise the first attachment.
func normalizeDiscord(m *discordgo.Message, chanName string) (domain.NormalizedMessage, *discordgo.MessageAttachment) {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := domain.NormalizedMessage{
		ID:        m.ID,
		Source:    "discord",
		ChatID:    m.ChannelID,
		ChatTitle: chanName,
		Timestamp: ts,
		Text:      strings.TrimSpace(m.Content),
	}
	if m.Author != nil {
		msg.SenderID = m.Author.ID
		msg.SenderName = m.Author.DisplayName()
	}
	if msg.ChatTitle == "" {
		msg.ChatTitle = m.ChannelID
	}

	var pick *discordgo.MessageAttachment
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		mt := MediaTypeFromMIME(a.ContentType)
		if a.ContentType == "" {
			mt = MediaTypeFromMIME(mimeFromName(a.Filename))
		}
		if pick == nil || (mt.IsImage() && !msg.MediaType.IsImage()) {
			pick = a
			msg.MediaType = mt
		}
	}
	msg.HasMedia = pick != nil
	return msg, pick
}

func mimeFromName(name string) string {
	switch strings.ToLower(extFor(name, "")) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4", ".mov":
		return "video/mp4"
	case ".mp3", ".ogg", ".wav":
		return "audio/mpeg"
	case ".bin":
		return ""
	}
	return "application/octet-stream"
}

func channelName(s *discordgo.Session, channelID string) string {
	if s == nil || s.State == nil {
		return ""
	}
	if ch, err := s.State.Channel(channelID); err == nil && ch != nil {
		return ch.Name
	}
	return ""
}
