package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when publishing to a stopped bus.
var ErrClosed = errors.New("bus: closed")

const defaultBuffer = 100

// MessageBus decouples the chat channel from the dialog controller.
type MessageBus struct {
	inbound  chan InboundMessage
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMessageBus creates a new MessageBus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultBuffer),
		stopChan: make(chan struct{}),
	}
}

// PublishInbound queues a message from a channel for the dialog. It blocks while
// the buffer is full, until ctx is done or the bus is stopped.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case <-b.stopChan:
		return ErrClosed
	default:
	}
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopChan:
		return ErrClosed
	}
}

// ConsumeInbound returns a channel to consume inbound messages.
func (b *MessageBus) ConsumeInbound() <-chan InboundMessage {
	return b.inbound
}

// Done is closed once Stop has been called.
func (b *MessageBus) Done() <-chan struct{} {
	return b.stopChan
}

// Stop releases publishers and consumers. It is safe to call more than once.
func (b *MessageBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
}
