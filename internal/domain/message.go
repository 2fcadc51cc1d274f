package domain

import "time"

// MediaType classifies the attachment carried by a chat post.
type MediaType string

const (
	MediaNone     MediaType = ""
	MediaPhoto    MediaType = "photo"
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
	MediaOther    MediaType = "other"
)

// IsImage reports whether the media type needs visual analysis.
func (m MediaType) IsImage() bool {
	return m == MediaPhoto || m == MediaImage
}

// NormalizedMessage is a chat post reduced to the fields the pipeline needs.
// It is treated as immutable once published to the bus.
type NormalizedMessage struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"` // telegram | discord | system
	ChatID     string    `json:"chatId"`
	ChatTitle  string    `json:"chatTitle"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Timestamp  time.Time `json:"timestamp"`
	Text       string    `json:"text"`
	HasMedia   bool      `json:"hasMedia"`
	MediaType  MediaType `json:"mediaType,omitempty"`
	MediaRef   string    `json:"mediaRef,omitempty"` // local path of the downloaded asset
}

// WantsImageAnalysis reports whether the message carries a downloaded image.
// Readability of MediaRef is checked by the extractor, not here.
func (m NormalizedMessage) WantsImageAnalysis() bool {
	return m.HasMedia && m.MediaType.IsImage() && m.MediaRef != ""
}

// OutboundMessage is a reply sent back to a source chat (e.g. /status).
type OutboundMessage struct {
	Source  string
	ChatID  string
	Content string
}
