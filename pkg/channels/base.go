package channels

import (
	"context"
	"strings"

	"github.com/HKUDS/imagebot-go/pkg/bus"
)

// Channel is the interface for chat channels.
type Channel interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus       *bus.MessageBus
	AllowFrom []string
}

// IsAllowed checks if a sender is allowed to use this bot.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.AllowFrom) == 0 {
		return true
	}

	for _, allowed := range c.AllowFrom {
		allowed = strings.TrimPrefix(strings.TrimSpace(allowed), "@")
		if allowed == senderID {
			return true
		}
		// Composite IDs look like "id|username"
		if strings.Contains(senderID, "|") {
			for _, part := range strings.Split(senderID, "|") {
				if part == allowed {
					return true
				}
			}
		}
	}
	return false
}

// HandleMessage forwards an allowed message to the bus. It reports false when
// the sender is not on the allow-list.
func (c *BaseChannel) HandleMessage(ctx context.Context, msg bus.InboundMessage) (bool, error) {
	if !c.IsAllowed(msg.SenderID) {
		return false, nil
	}
	return true, c.Bus.PublishInbound(ctx, msg)
}
