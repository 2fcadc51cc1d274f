package domain

import "context"

// Source is a chat platform connector that publishes NormalizedMessages.
type Source interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, chatID string, content string) error
}

// MessageBus routes messages between sources and the relay.
type MessageBus interface {
	Publish(msg NormalizedMessage)
	Subscribe() <-chan NormalizedMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(source string, handler func(OutboundMessage))
	Close()
}
