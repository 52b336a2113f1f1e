package sync

import (
	"github.com/matheus3301/tilechat/internal/chat"
	"github.com/matheus3301/tilechat/internal/status"
)

// State is a point-in-time copy of the synchronizer's view. Callers own it.
type State struct {
	Conversations []chat.Conversation
	Active        *chat.Conversation
	Messages      []chat.Message
	// MessagesFor is the conversation the message list was fetched for.
	// It can differ from Active.ID right after a switch.
	MessagesFor int64
	UnreadCount int
	HasUnread   bool
	Error       string
	Loading     bool
	Status      status.State
}

// Snapshot returns a deep copy of the current state.
func (s *Synchronizer) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		MessagesFor: s.messagesFor,
		UnreadCount: s.unread,
		HasUnread:   s.unread > 0,
		Error:       s.lastErr,
		Loading:     s.loading > 0,
	}
	if s.conversations != nil {
		st.Conversations = make([]chat.Conversation, len(s.conversations))
		for i, c := range s.conversations {
			st.Conversations[i] = c.Clone()
		}
	}
	if s.active != nil {
		a := s.active.Clone()
		st.Active = &a
	}
	if s.messages != nil {
		st.Messages = append([]chat.Message(nil), s.messages...)
	}
	if s.machine != nil {
		st.Status = s.machine.Current()
	}
	return st
}

// ClearError dismisses the error slot.
func (s *Synchronizer) ClearError() {
	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
}
