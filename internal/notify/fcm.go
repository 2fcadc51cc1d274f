package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"signalpush/internal/config"
	"signalpush/internal/domain"
)

const (
	fcmLegacyEndpoint  = "https://fcm.googleapis.com/fcm/send"
	fcmServerKeyPrefix = "AAAA"
	fcmMinTokenLen     = 50
)

type FCMConfig struct {
	Settings config.FCMConfig
	// Persistence is echoed to the device in the data payload.
	Persistence time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// FCM delivers alerts through Firebase Cloud Messaging, either the legacy
// HTTP endpoint (server key) or HTTP v1 through the Firebase Admin SDK
// (service account).
type FCM struct {
	cfg         config.FCMConfig
	persistence time.Duration
	client      *http.Client
	logger      *zap.Logger

	mu        sync.Mutex
	messaging *messaging.Client
}

func NewFCM(cfg FCMConfig) *FCM {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Settings.Endpoint == "" {
		cfg.Settings.Endpoint = fcmLegacyEndpoint
	}
	if cfg.Settings.Priority == "" {
		cfg.Settings.Priority = "high"
	}
	return &FCM{
		cfg:         cfg.Settings,
		persistence: cfg.Persistence,
		client:      cfg.HTTPClient,
		logger:      cfg.Logger,
	}
}

func (f *FCM) Name() string            { return "fcm" }
func (f *FCM) SupportsFollowups() bool { return true }

func (f *FCM) TagPolicy() domain.TagPolicy {
	if f.cfg.TagPolicy == string(domain.TagReplace) {
		return domain.TagReplace
	}
	return domain.TagStack
}

func (f *FCM) Validate() []string {
	var errs []string
	switch f.cfg.Mode {
	case "v1":
		if f.cfg.CredentialsFile == "" {
			errs = append(errs, "service account credentials file is required in v1 mode")
		} else if _, err := os.Stat(f.cfg.CredentialsFile); err != nil {
			errs = append(errs, fmt.Sprintf("credentials file not readable: %s", f.cfg.CredentialsFile))
		}
	default:
		if f.cfg.ServerKey == "" {
			errs = append(errs, "FCM server key is required")
		} else if !strings.HasPrefix(f.cfg.ServerKey, fcmServerKeyPrefix) {
			errs = append(errs, "FCM server key format appears invalid")
		}
	}
	if f.cfg.DeviceToken == "" {
		errs = append(errs, "FCM device token is required")
	} else if len(f.cfg.DeviceToken) < fcmMinTokenLen {
		errs = append(errs, "FCM device token appears too short")
	}
	return errs
}

func (f *FCM) Preview(job domain.DeliveryJob) ([]byte, error) {
	if f.cfg.Mode == "v1" {
		return json.MarshalIndent(f.v1Message(job), "", "  ")
	}
	return json.MarshalIndent(f.legacyPayload(job), "", "  ")
}

func (f *FCM) Send(ctx context.Context, job domain.DeliveryJob) error {
	if f.cfg.Mode == "v1" {
		return f.sendV1(ctx, job)
	}
	return f.sendLegacy(ctx, job)
}

type legacyNotification struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Sound       string `json:"sound,omitempty"`
	Badge       string `json:"badge,omitempty"`
	Tag         string `json:"tag"`
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
	ClickAction string `json:"click_action,omitempty"`
	ChannelID   string `json:"android_channel_id,omitempty"`
}

type androidNotification struct {
	ChannelID      string   `json:"channel_id,omitempty"`
	Sound          string   `json:"sound,omitempty"`
	VibrateTimings []string `json:"vibrate_timings,omitempty"`
	Priority       string   `json:"priority"`
	Visibility     string   `json:"visibility"`
	Ongoing        bool     `json:"ongoing"`
	AutoCancel     bool     `json:"auto_cancel"`
	Sticky         bool     `json:"sticky"`
	DefaultSound   bool     `json:"default_sound"`
}

type androidBlock struct {
	Priority     string              `json:"priority"`
	Notification androidNotification `json:"notification"`
}

type legacyPayload struct {
	To           string             `json:"to"`
	Priority     string             `json:"priority"`
	Notification legacyNotification `json:"notification"`
	Data         map[string]string  `json:"data"`
	Android      androidBlock       `json:"android"`
}

type legacyResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

func (f *FCM) legacyPayload(job domain.DeliveryJob) legacyPayload {
	return legacyPayload{
		To:       f.cfg.DeviceToken,
		Priority: f.cfg.Priority,
		Notification: legacyNotification{
			Title:       job.Alert.Title,
			Body:        job.Alert.Body,
			Sound:       f.cfg.Sound,
			Badge:       "1",
			Tag:         job.Tag,
			Icon:        f.cfg.Icon,
			Color:       f.cfg.Color,
			ClickAction: f.cfg.ClickAction,
			ChannelID:   f.cfg.ChannelID,
		},
		Data: messageData(job, f.persistence),
		Android: androidBlock{
			Priority: f.cfg.Priority,
			Notification: androidNotification{
				ChannelID:      f.cfg.ChannelID,
				Sound:          f.cfg.Sound,
				VibrateTimings: vibrateTimings(f.cfg.Vibration),
				Priority:       f.cfg.Priority,
				Visibility:     "public",
				Ongoing:        true,
				AutoCancel:     false,
				Sticky:         true,
				DefaultSound:   f.cfg.Sound == "default",
			},
		},
	}
}

// vibrateTimings renders millisecond steps as protobuf durations ("0.5s").
func vibrateTimings(ms []int) []string {
	if len(ms) == 0 {
		return nil
	}
	out := make([]string, 0, len(ms))
	for _, v := range ms {
		out = append(out, strconv.FormatFloat(float64(v)/1000, 'f', -1, 64)+"s")
	}
	return out
}

func (f *FCM) sendLegacy(ctx context.Context, job domain.DeliveryJob) error {
	body, err := json.Marshal(f.legacyPayload(job))
	if err != nil {
		return fmt.Errorf("fcm: encode payload: %w", err)
	}
	code, resp, err := postJSON(ctx, f.client, f.cfg.Endpoint, map[string]string{
		"Authorization": "key=" + f.cfg.ServerKey,
	}, body)
	if err != nil {
		return fmt.Errorf("fcm: %w", err)
	}
	if code != http.StatusOK {
		return statusError("fcm", code, resp)
	}

	var r legacyResponse
	if err := json.Unmarshal(resp, &r); err != nil {
		return fmt.Errorf("fcm: decode response: %w", err)
	}
	if r.Success > 0 {
		return nil
	}
	reason := "unknown error"
	if len(r.Results) > 0 && r.Results[0].Error != "" {
		reason = r.Results[0].Error
	}
	return fmt.Errorf("fcm: send rejected: %s", reason)
}

func (f *FCM) v1Message(job domain.DeliveryJob) *messaging.Message {
	vibration := make([]int64, 0, len(f.cfg.Vibration))
	for _, ms := range f.cfg.Vibration {
		vibration = append(vibration, int64(ms))
	}
	return &messaging.Message{
		Token: f.cfg.DeviceToken,
		Notification: &messaging.Notification{
			Title: job.Alert.Title,
			Body:  job.Alert.Body,
		},
		Data: messageData(job, f.persistence),
		Android: &messaging.AndroidConfig{
			Priority: f.cfg.Priority,
			Notification: &messaging.AndroidNotification{
				Sound:               f.cfg.Sound,
				Tag:                 job.Tag,
				Icon:                f.cfg.Icon,
				Color:               f.cfg.Color,
				ClickAction:         f.cfg.ClickAction,
				ChannelID:           f.cfg.ChannelID,
				Sticky:              true,
				Priority:            messaging.PriorityMax,
				Visibility:          messaging.VisibilityPublic,
				VibrateTimingMillis: vibration,
				DefaultSound:        f.cfg.Sound == "default",
			},
		},
	}
}

func (f *FCM) sendV1(ctx context.Context, job domain.DeliveryJob) error {
	client, err := f.messagingClient(ctx)
	if err != nil {
		return err
	}
	id, err := client.Send(ctx, f.v1Message(job))
	if err != nil {
		return fmt.Errorf("fcm v1: %w", err)
	}
	f.logger.Debug("fcm v1 accepted", zap.String("fcm_message_id", id), zap.String("tag", job.Tag))
	return nil
}

// messagingClient initializes the Firebase app once per backend.
func (f *FCM) messagingClient(ctx context.Context) (*messaging.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messaging != nil {
		return f.messaging, nil
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(f.cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("fcm v1: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm v1: messaging client: %w", err)
	}
	f.messaging = client
	return client, nil
}

// DeviceInfo describes the configured target device without exposing secrets.
type DeviceInfo struct {
	Mode        string `json:"mode"`
	DeviceToken string `json:"deviceToken"`
	Configured  bool   `json:"configured"`
}

func (f *FCM) DeviceInfo() DeviceInfo {
	token := f.cfg.DeviceToken
	if len(token) > 20 {
		token = token[:20] + "..."
	}
	return DeviceInfo{
		Mode:        f.cfg.Mode,
		DeviceToken: token,
		Configured:  len(f.Validate()) == 0,
	}
}

// messageData is the key/value data block echoed to the device app.
func messageData(job domain.DeliveryJob, persistence time.Duration) map[string]string {
	msg := job.Message
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = job.ScheduledAt
	}
	return map[string]string{
		"message_id":  msg.ID,
		"source":      msg.Source,
		"chat_id":     msg.ChatID,
		"chat_title":  msg.ChatTitle,
		"sender_name": msg.SenderName,
		"timestamp":   ts.UTC().Format(time.RFC3339),
		"has_media":   strconv.FormatBool(msg.HasMedia),
		"media_type":  string(msg.MediaType),
		"duration":    strconv.Itoa(int(persistence / time.Second)),
		"type":        "message_alert",
		"severity":    string(job.Alert.Severity),
		"dispatch_id": job.DispatchID,
		"sequence":    strconv.Itoa(job.AttemptSequence),
	}
}
