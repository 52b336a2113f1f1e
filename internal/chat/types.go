// Package chat holds the messaging domain types and the typed calls to the
// shop backend's chat endpoints.
package chat

import (
	"strings"
	"time"
)

// Conversation is a thread between the viewer and one other participant.
// UnreadCount is scoped to the viewer.
type Conversation struct {
	ID           int64     `json:"id"`
	Participants []int64   `json:"participants"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	UnreadCount  int       `json:"unread_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Participants != nil {
		out.Participants = append([]int64(nil), c.Participants...)
	}
	if c.LastMessage != nil {
		m := *c.LastMessage
		out.LastMessage = &m
	}
	return out
}

// Peer returns the first participant that is not self, or 0.
func (c Conversation) Peer(self int64) int64 {
	for _, id := range c.Participants {
		if id != self {
			return id
		}
	}
	return 0
}

// Message is a single chat message as served by the backend.
type Message struct {
	ID               int64     `json:"id"`
	Sender           int64     `json:"sender"`
	SenderUsername   string    `json:"sender_username,omitempty"`
	Receiver         int64     `json:"receiver"`
	ReceiverUsername string    `json:"receiver_username,omitempty"`
	Content          string    `json:"content"`
	AttachmentURL    string    `json:"attachment_url,omitempty"`
	Status           Status    `json:"status"`
	IsAdminMessage   bool      `json:"is_admin_message"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NeedsRead reports whether the viewer received m and has not read it yet.
func (m Message) NeedsRead(viewer int64) bool {
	return m.Receiver == viewer && m.Status != StatusRead
}

// User is the authenticated account.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	IsStaff   bool   `json:"is_staff"`
}

// DisplayName prefers the full name over the username.
func (u User) DisplayName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	return u.Username
}

// Attachment is a binary file sent alongside a message.
type Attachment struct {
	Filename string
	Data     []byte
}

// SendMessageRequest is the input of a direct send.
type SendMessageRequest struct {
	ReceiverID int64
	Content    string
	Attachment *Attachment
}

// UnreadTotal sums the viewer-scoped unread counters.
func UnreadTotal(convs []Conversation) int {
	total := 0
	for _, c := range convs {
		total += c.UnreadCount
	}
	return total
}
