package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"signalpush/internal/config"
	"signalpush/internal/domain"
)

const (
	pushbulletEndpoint   = "https://api.pushbullet.com/v2/pushes"
	pushbulletTitleRunes = 100
	pushbulletBodyRunes  = 1000
	pushbulletMinToken   = 20

	loudTitle = "🚨🔊 URGENT SIGNAL 🔊🚨"
)

type PushbulletConfig struct {
	Settings   config.PushbulletConfig
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Pushbullet sends one loud note per dispatch. It never takes follow-ups.
type Pushbullet struct {
	cfg    config.PushbulletConfig
	client *http.Client
	logger *zap.Logger
}

func NewPushbullet(cfg PushbulletConfig) *Pushbullet {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Settings.Endpoint == "" {
		cfg.Settings.Endpoint = pushbulletEndpoint
	}
	return &Pushbullet{cfg: cfg.Settings, client: cfg.HTTPClient, logger: cfg.Logger}
}

func (p *Pushbullet) Name() string                { return "pushbullet" }
func (p *Pushbullet) SupportsFollowups() bool     { return false }
func (p *Pushbullet) TagPolicy() domain.TagPolicy { return domain.TagReplace }

func (p *Pushbullet) Validate() []string {
	switch {
	case p.cfg.AccessToken == "":
		return []string{"Pushbullet access token is required"}
	case len(p.cfg.AccessToken) < pushbulletMinToken:
		return []string{"Pushbullet access token appears too short"}
	}
	return nil
}

type pushbulletNote struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	DeviceIden string `json:"device_iden,omitempty"`
	GUID       string `json:"guid,omitempty"`
}

func (p *Pushbullet) note(job domain.DeliveryJob) pushbulletNote {
	body := fmt.Sprintf("🚨 IMPORTANT TRADING SIGNAL 🚨\n\n%s\n\n🔊 CHECK YOUR PHONE NOW! 🔊", job.Alert.Body)
	return pushbulletNote{
		Type:       "note",
		Title:      domain.TruncateRunes(loudTitle, pushbulletTitleRunes),
		Body:       domain.TruncateRunes(body, pushbulletBodyRunes),
		DeviceIden: p.cfg.DeviceIden,
		GUID:       job.DispatchID,
	}
}

func (p *Pushbullet) Preview(job domain.DeliveryJob) ([]byte, error) {
	return json.MarshalIndent(p.note(job), "", "  ")
}

func (p *Pushbullet) Send(ctx context.Context, job domain.DeliveryJob) error {
	body, err := json.Marshal(p.note(job))
	if err != nil {
		return fmt.Errorf("pushbullet: encode note: %w", err)
	}
	code, resp, err := postJSON(ctx, p.client, p.cfg.Endpoint, map[string]string{
		"Access-Token": p.cfg.AccessToken,
	}, body)
	if err != nil {
		return fmt.Errorf("pushbullet: %w", err)
	}
	if code != http.StatusOK {
		return statusError("pushbullet", code, resp)
	}
	return nil
}
