package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"signalpush/internal/config"
	"signalpush/internal/domain"
)

var (
	validServerKey = "AAAA" + strings.Repeat("k", 60)
	validToken     = strings.Repeat("t", 152)
)

func testJob() domain.DeliveryJob {
	return domain.DeliveryJob{
		DispatchID:  "d-1",
		Alert:       testAlert(),
		Message:     domain.NormalizedMessage{ID: "42", Source: "telegram", ChatID: "-100", ChatTitle: "Gold", SenderName: "Joe", HasMedia: true, MediaType: domain.MediaPhoto},
		ScheduledAt: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
		Tag:         "message_42",
	}
}

func fcmSettings(endpoint string) config.FCMConfig {
	s := config.Defaults().Notifications.FCM
	s.ServerKey = validServerKey
	s.DeviceToken = validToken
	s.Endpoint = endpoint
	return s
}

func TestFCM_Validate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*config.FCMConfig)
		want   []string
	}{
		"valid":       {func(*config.FCMConfig) {}, nil},
		"no key":      {func(c *config.FCMConfig) { c.ServerKey = "" }, []string{"FCM server key is required"}},
		"bad prefix":  {func(c *config.FCMConfig) { c.ServerKey = "BBBB1234" }, []string{"FCM server key format appears invalid"}},
		"no token":    {func(c *config.FCMConfig) { c.DeviceToken = "" }, []string{"FCM device token is required"}},
		"short token": {func(c *config.FCMConfig) { c.DeviceToken = "abc" }, []string{"FCM device token appears too short"}},
		"v1 no creds": {func(c *config.FCMConfig) { c.Mode = "v1"; c.ServerKey = "" }, []string{"service account credentials file is required in v1 mode"}},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			s := fcmSettings("")
			c.mutate(&s)
			assert.Equal(t, c.want, NewFCM(FCMConfig{Settings: s}).Validate())
		})
	}
}

func TestFCM_V1ValidateWithCredentialsFile(t *testing.T) {
	creds := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{}`), 0o600))
	s := fcmSettings("")
	s.Mode = "v1"
	s.ServerKey = ""
	s.CredentialsFile = creds
	assert.Empty(t, NewFCM(FCMConfig{Settings: s}).Validate())
}

func TestFCM_LegacySend(t *testing.T) {
	var got legacyPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key="+validServerKey, r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"multicast_id":1,"success":1,"failure":0,"results":[{"message_id":"m1"}]}`)
	}))
	defer srv.Close()

	f := NewFCM(FCMConfig{Settings: fcmSettings(srv.URL), Persistence: 30 * time.Second, Logger: zaptest.NewLogger(t)})
	require.NoError(t, f.Send(context.Background(), testJob()))

	assert.Equal(t, validToken, got.To)
	assert.Equal(t, "high", got.Priority)
	assert.Equal(t, "message_42", got.Notification.Tag)
	assert.Equal(t, testAlert().Title, got.Notification.Title)
	assert.Equal(t, testAlert().Body, got.Notification.Body)
	assert.Equal(t, "message_alerts", got.Notification.ChannelID)
	assert.Equal(t, "42", got.Data["message_id"])
	assert.Equal(t, "true", got.Data["has_media"])
	assert.Equal(t, "photo", got.Data["media_type"])
	assert.Equal(t, "30", got.Data["duration"])
	assert.Equal(t, "0", got.Data["sequence"])
}

func TestFCM_LegacyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":0,"failure":1,"results":[{"error":"NotRegistered"}]}`)
	}))
	defer srv.Close()

	err := NewFCM(FCMConfig{Settings: fcmSettings(srv.URL)}).Send(context.Background(), testJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotRegistered")
}

func TestFCM_LegacyHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewFCM(FCMConfig{Settings: fcmSettings(srv.URL)}).Send(context.Background(), testJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestFCM_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.Error(t, NewFCM(FCMConfig{Settings: fcmSettings(srv.URL)}).Send(ctx, testJob()))
}

func TestFCM_PreviewV1(t *testing.T) {
	s := fcmSettings("")
	s.Mode = "v1"
	out, err := NewFCM(FCMConfig{Settings: s}).Preview(testJob())
	require.NoError(t, err)
	assert.Contains(t, string(out), validToken)
	assert.Contains(t, string(out), "message_42")
	assert.Contains(t, string(out), "PRIORITY_MAX")
}

func TestFCM_LegacyPayloadAndroidBlock(t *testing.T) {
	out, err := NewFCM(FCMConfig{Settings: fcmSettings("")}).Preview(testJob())
	require.NoError(t, err)

	var payload struct {
		Android struct {
			Priority     string         `json:"priority"`
			Notification map[string]any `json:"notification"`
		} `json:"android"`
	}
	require.NoError(t, json.Unmarshal(out, &payload))
	assert.Equal(t, "high", payload.Android.Priority)

	n := payload.Android.Notification
	assert.Equal(t, "message_alerts", n["channel_id"])
	assert.Equal(t, "default", n["sound"])
	assert.Equal(t, "high", n["priority"])
	assert.Equal(t, "public", n["visibility"])
	assert.Equal(t, true, n["ongoing"])
	assert.Equal(t, false, n["auto_cancel"])
	assert.Equal(t, true, n["sticky"])
	assert.Equal(t, []any{"0s", "1s", "0.5s", "1s", "0.5s", "1s"}, n["vibrate_timings"])

	s := fcmSettings("")
	s.Vibration = nil
	out, err = NewFCM(FCMConfig{Settings: s}).Preview(testJob())
	require.NoError(t, err)
	assert.NotContains(t, string(out), "vibrate_timings")
}

func TestFCM_DeviceInfoMasksToken(t *testing.T) {
	info := NewFCM(FCMConfig{Settings: fcmSettings("")}).DeviceInfo()
	assert.True(t, info.Configured)
	assert.Equal(t, strings.Repeat("t", 20)+"...", info.DeviceToken)
}

func TestPushbullet_LoudNote(t *testing.T) {
	var note pushbulletNote
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "o.abcdefghijklmnopqrstuvwxyz", r.Header.Get("Access-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&note))
		_, _ = io.WriteString(w, `{"active":true}`)
	}))
	defer srv.Close()

	p := NewPushbullet(PushbulletConfig{Settings: config.PushbulletConfig{
		AccessToken: "o.abcdefghijklmnopqrstuvwxyz",
		Endpoint:    srv.URL,
	}})
	assert.Empty(t, p.Validate())
	assert.False(t, p.SupportsFollowups())

	job := testJob()
	job.Alert.Body = strings.Repeat("x", 2000)
	require.NoError(t, p.Send(context.Background(), job))

	assert.Equal(t, "note", note.Type)
	assert.Contains(t, note.Title, "URGENT")
	assert.LessOrEqual(t, utf8.RuneCountInString(note.Title), 100)
	assert.LessOrEqual(t, utf8.RuneCountInString(note.Body), 1000)
	assert.Equal(t, "d-1", note.GUID)
}

func TestPushbullet_Validate(t *testing.T) {
	assert.NotEmpty(t, NewPushbullet(PushbulletConfig{}).Validate())
	assert.NotEmpty(t, NewPushbullet(PushbulletConfig{Settings: config.PushbulletConfig{AccessToken: "short"}}).Validate())
}

func TestPushbullet_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	p := NewPushbullet(PushbulletConfig{Settings: config.PushbulletConfig{AccessToken: "o.abcdefghijklmnopqrstuvwxyz", Endpoint: srv.URL}})
	assert.ErrorContains(t, p.Send(context.Background(), testJob()), "HTTP 429")
}

func TestWebhook_SignedPost(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.True(t, VerifySignature(body, "s3cret", r.Header.Get(signatureHeader)))

		var p webhookPayload
		require.NoError(t, json.Unmarshal(body, &p))
		assert.Equal(t, "d-1", p.DispatchID)
		assert.Equal(t, "message_42", p.Tag)
		assert.Equal(t, "42", p.Message.ID)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := NewWebhook(WebhookConfig{Settings: config.WebhookConfig{URL: srv.URL, Secret: "s3cret"}})
	assert.Empty(t, w.Validate())
	require.NoError(t, w.Send(context.Background(), testJob()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhook_ErrorsAndValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(WebhookConfig{Settings: config.WebhookConfig{URL: srv.URL}})
	assert.ErrorContains(t, w.Send(context.Background(), testJob()), "HTTP 500")

	assert.NotEmpty(t, NewWebhook(WebhookConfig{}).Validate())
	assert.NotEmpty(t, NewWebhook(WebhookConfig{Settings: config.WebhookConfig{URL: "ftp://x"}}).Validate())
	assert.False(t, VerifySignature([]byte("a"), "k", Sign([]byte("b"), "k")))
}

type sentLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *sentLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *sentLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// telegramServer fakes the Bot API. Markdown sends fail when rejectMarkdown is set.
func telegramServer(t *testing.T, rejectMarkdown bool, sent *sentLog) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"relay","username":"relay_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if rejectMarkdown && r.FormValue("parse_mode") != "" {
				_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: unclosed"}`)
				return
			}
			sent.add(r.FormValue("parse_mode") + "|" + r.FormValue("chat_id") + "|" + r.FormValue("text"))
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":123,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestTelegram_SendFallsBackToPlainText(t *testing.T) {
	sent := &sentLog{}
	srv := telegramServer(t, true, sent)
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{
		Settings:    config.TelegramPush{Token: "123:abc", ChatID: "123"},
		APIEndpoint: srv.URL + "/bot%s/%s",
		HTTPClient:  srv.Client(),
		Logger:      zaptest.NewLogger(t),
	})
	assert.Empty(t, tg.Validate())
	require.NoError(t, tg.Send(context.Background(), testJob()))
	require.Len(t, sent.all(), 1)
	assert.Equal(t, "|123|"+testAlert().Body, sent.all()[0])
}

func TestTelegram_SendMarkdown(t *testing.T) {
	sent := &sentLog{}
	srv := telegramServer(t, false, sent)
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{
		Settings:    config.TelegramPush{Token: "123:abc", ChatID: "123"},
		APIEndpoint: srv.URL + "/bot%s/%s",
		HTTPClient:  srv.Client(),
	})
	require.NoError(t, tg.Send(context.Background(), testJob()))
	require.Len(t, sent.all(), 1)
	assert.True(t, strings.HasPrefix(sent.all()[0], "Markdown|123|"))
}

func TestTelegram_Validate(t *testing.T) {
	assert.Len(t, NewTelegram(TelegramConfig{}).Validate(), 2)
	assert.NotEmpty(t, NewTelegram(TelegramConfig{Settings: config.TelegramPush{Token: "nocolon", ChatID: "1"}}).Validate())
	assert.NotEmpty(t, NewTelegram(TelegramConfig{Settings: config.TelegramPush{Token: "1:a", ChatID: "abc"}}).Validate())
	assert.Empty(t, NewTelegram(TelegramConfig{Settings: config.TelegramPush{Token: "1:a", ChatID: "@signals"}}).Validate())
}

func TestBuild_FromConfig(t *testing.T) {
	n := config.Defaults().Notifications
	n.Secondary = []string{"pushbullet"}
	d, err := Build(BuildConfig{Notifications: n, BodyMax: 400})
	require.NoError(t, err)
	assert.Equal(t, "fcm", d.Primary().Name())
	assert.Equal(t, 6, d.FollowupCount())
	assert.NotEmpty(t, d.ValidateConfig(), "defaults carry no credentials")

	n.Primary = "carrier-pigeon"
	_, err = Build(BuildConfig{Notifications: n})
	assert.Error(t, err)
}
