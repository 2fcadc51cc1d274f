package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"signalpush/internal/domain"
)

const (
	defaultBufferSize = 100
	publishTimeout    = 10 * time.Second
)

// InMemoryBus is a Go-channel based message bus between the chat sources and
// the relay.
type InMemoryBus struct {
	inbound  chan domain.NormalizedMessage
	handlers map[string]func(domain.OutboundMessage)
	mu       sync.RWMutex
	closed   bool
	logger   *zap.Logger
	timeout  time.Duration
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *zap.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryBus{
		inbound:  make(chan domain.NormalizedMessage, bufferSize),
		handlers: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
		timeout:  publishTimeout,
	}
}

// Publish blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(msg domain.NormalizedMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", zap.String("source", msg.Source))
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting", zap.String("source", msg.Source), zap.String("message_id", msg.ID))
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("message delivered after wait", zap.String("source", msg.Source))
		case <-timer.C:
			b.logger.Error("message dropped: bus full",
				zap.String("source", msg.Source),
				zap.String("chat_id", msg.ChatID),
				zap.String("message_id", msg.ID),
				zap.Duration("waited", b.timeout),
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.NormalizedMessage {
	return b.inbound
}

func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Source]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no outbound handler registered", zap.String("source", msg.Source))
		return
	}
	handler(msg)
}

func (b *InMemoryBus) OnOutbound(source string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[source] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
