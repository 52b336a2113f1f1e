package store

import "github.com/matheus3301/tilechat/internal/chat"

// ConversationRecord is a cached conversation with its peer resolved.
type ConversationRecord struct {
	chat.Conversation
	PeerID int64
	// PeerName falls back from the users table to "user #<id>".
	PeerName string
}

// SendEntry is one local send attempt.
type SendEntry struct {
	ID            int64
	ClientMsgID   string
	Kind          string // message, admin_contact
	ReceiverID    int64
	Body          string
	HasAttachment bool
	Status        string // sending, sent, failed
	ErrorMessage  string
	ServerMsgID   int64
	CreatedAt     int64
}

// Send log kinds and statuses.
const (
	SendKindMessage      = "message"
	SendKindAdminContact = "admin_contact"

	SendStatusSending = "sending"
	SendStatusSent    = "sent"
	SendStatusFailed  = "failed"
)

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	ConversationID int64
	Message        chat.Message
	Snippet        string
}
