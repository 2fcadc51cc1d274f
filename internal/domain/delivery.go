package domain

import (
	"context"
	"time"
)

type Severity string

const (
	SeverityNormal Severity = "NORMAL"
	SeverityUrgent Severity = "URGENT"
)

// FormattedAlert is built once by the formatter and never mutated.
// Urgent and follow-up variants are derived copies.
type FormattedAlert struct {
	Title         string   `json:"title"`
	Body          string   `json:"body"`
	Severity      Severity `json:"severity"`
	SourceMessage string   `json:"sourceMessage"`
}

type DeliveryOutcome string

const (
	Delivered      DeliveryOutcome = "DELIVERED"
	ConfigError    DeliveryOutcome = "CONFIG_ERROR"
	TransportError DeliveryOutcome = "TRANSPORT_ERROR"
)

// TagPolicy decides whether follow-ups stack as separate notifications or
// replace the previous one on the device.
type TagPolicy string

const (
	TagStack   TagPolicy = "stack"
	TagReplace TagPolicy = "replace"
)

// DeliveryJob is one send attempt. Sequence 0 is the initial send.
type DeliveryJob struct {
	DispatchID      string
	Alert           FormattedAlert
	Message         NormalizedMessage
	TargetBackend   string
	AttemptSequence int
	ScheduledAt     time.Time
	Tag             string
}

// PushBackend is a notification transport (FCM, Pushbullet, Telegram echo...).
type PushBackend interface {
	Name() string
	// Validate returns human-readable configuration problems. Empty means usable.
	Validate() []string
	// Preview renders the payload Send would transmit, for dry runs.
	Preview(job DeliveryJob) ([]byte, error)
	Send(ctx context.Context, job DeliveryJob) error
	TagPolicy() TagPolicy
	// SupportsFollowups is false for single-shot backends.
	SupportsFollowups() bool
}

// DeliveryRecord is one row of the delivery ledger.
type DeliveryRecord struct {
	DispatchID string          `json:"dispatchId"`
	MessageID  string          `json:"messageId"`
	Source     string          `json:"source"`
	Backend    string          `json:"backend"`
	Sequence   int             `json:"sequence"`
	Tag        string          `json:"tag"`
	Outcome    DeliveryOutcome `json:"outcome"`
	Detail     string          `json:"detail,omitempty"`
	At         time.Time       `json:"at"`
}
