package bus

import (
	"strconv"
	"time"
)

// InboundMessage represents a message received from a chat channel.
type InboundMessage struct {
	Channel   string    `json:"channel"`
	SenderID  string    `json:"sender_id"`
	ChatID    int64     `json:"chat_id"`
	MessageID int       `json:"message_id"`
	Content   string    `json:"content"`
	Command   string    `json:"command,omitempty"` // bot command without the slash, e.g. "start"
	Timestamp time.Time `json:"timestamp"`
}

// SessionKey returns a unique key for session identification.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + strconv.FormatInt(m.ChatID, 10)
}

// IsCommand reports whether the message is the given bot command.
func (m *InboundMessage) IsCommand(name string) bool {
	return m.Command == name
}
