package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"signalpush/internal/config"
	"signalpush/internal/domain"
)

const signatureHeader = "X-Signature-256"

type WebhookConfig struct {
	Settings   config.WebhookConfig
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Webhook POSTs each delivery job as JSON, signed with HMAC-SHA256 when a
// secret is configured.
type Webhook struct {
	cfg    config.WebhookConfig
	client *http.Client
	logger *zap.Logger
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Webhook{cfg: cfg.Settings, client: cfg.HTTPClient, logger: cfg.Logger}
}

func (w *Webhook) Name() string                { return "webhook" }
func (w *Webhook) SupportsFollowups() bool     { return true }
func (w *Webhook) TagPolicy() domain.TagPolicy { return domain.TagStack }

func (w *Webhook) Validate() []string {
	if w.cfg.URL == "" {
		return []string{"webhook url is required"}
	}
	u, err := url.Parse(w.cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []string{"webhook url must be an absolute http(s) URL"}
	}
	return nil
}

type webhookPayload struct {
	DispatchID string                   `json:"dispatchId"`
	Sequence   int                      `json:"sequence"`
	Tag        string                   `json:"tag"`
	Alert      domain.FormattedAlert    `json:"alert"`
	Message    domain.NormalizedMessage `json:"message"`
	SentAt     time.Time                `json:"sentAt"`
}

func (w *Webhook) payload(job domain.DeliveryJob) webhookPayload {
	return webhookPayload{
		DispatchID: job.DispatchID,
		Sequence:   job.AttemptSequence,
		Tag:        job.Tag,
		Alert:      job.Alert,
		Message:    job.Message,
		SentAt:     job.ScheduledAt.UTC(),
	}
}

func (w *Webhook) Preview(job domain.DeliveryJob) ([]byte, error) {
	return json.MarshalIndent(w.payload(job), "", "  ")
}

func (w *Webhook) Send(ctx context.Context, job domain.DeliveryJob) error {
	body, err := json.Marshal(w.payload(job))
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}
	headers := map[string]string{}
	if w.cfg.Secret != "" {
		headers[signatureHeader] = Sign(body, w.cfg.Secret)
	}
	code, resp, err := postJSON(ctx, w.client, w.cfg.URL, headers, body)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if code < 200 || code >= 300 {
		return statusError("webhook", code, resp)
	}
	return nil
}

// Sign returns the "sha256=<hex>" HMAC of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a value produced by Sign.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
