package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by prefix
// ("chat.", "message.", "session.").
const (
	ConversationsUpdated = "chat.conversations_updated"
	MessagesUpdated      = "chat.messages_updated"
	ActiveChanged        = "chat.active_changed"
	UnreadChanged        = "chat.unread_changed"
	ErrorRaised          = "chat.error"
	MessagesRead         = "message.read"
	SendAck              = "message.send_ack"
	SendFailed           = "message.send_failed"
	StatusChanged        = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
