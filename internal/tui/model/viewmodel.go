package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/matheus3301/tilechat/internal/api"
	"github.com/matheus3301/tilechat/internal/chat"
	"github.com/matheus3301/tilechat/internal/tui/ui"
)

// Backend is the daemon surface the TUI needs. *client.Client implements it.
type Backend interface {
	GetStatus(ctx context.Context) (*api.StatusView, error)
	Login(ctx context.Context, username, password string) (*chat.User, error)
	Logout(ctx context.Context) error
	ListConversations(ctx context.Context, refresh bool) (*api.ConversationList, error)
	SetActiveConversation(ctx context.Context, conversationID int64) error
	ListMessages(ctx context.Context, req api.ListMessagesRequest) (*api.MessageList, error)
	SendMessage(ctx context.Context, req api.SendRequest) error
	ContactAdmin(ctx context.Context, req api.ContactAdminRequest) error
	ClearError(ctx context.Context) error
	SearchMessages(ctx context.Context, req api.SearchRequest) ([]api.SearchHit, error)
}

// ViewModel caches what the daemon last reported. It never changes chat
// state itself; every mutation goes through the daemon.
type ViewModel struct {
	mu sync.RWMutex

	backend       Backend
	status        *api.StatusView
	conversations []api.ConversationView
	activeID      int64
	unread        int
	messages      *api.MessageList
	lastError     string

	Flash *ui.FlashModel
}

// NewViewModel creates a new view model connected to the daemon.
func NewViewModel(b Backend) *ViewModel {
	return &ViewModel{
		backend: b,
		Flash:   ui.NewFlashModel(),
	}
}

// LoadStatus fetches the daemon status and surfaces a new error slot value
// as an error flash.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.backend.GetStatus(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = st
	vm.unread = st.UnreadCount
	changed := st.Error != "" && st.Error != vm.lastError
	vm.lastError = st.Error
	vm.mu.Unlock()

	if changed {
		vm.Flash.Err(errors.New(st.Error))
	}
	return nil
}

// LoadConversations fetches the conversation list. refresh asks the daemon
// to poll the backend first.
func (vm *ViewModel) LoadConversations(ctx context.Context, refresh bool) error {
	list, err := vm.backend.ListConversations(ctx, refresh)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = list.Conversations
	vm.activeID = list.ActiveID
	vm.unread = list.UnreadCount
	vm.mu.Unlock()
	return nil
}

// Open makes conversationID active and loads its messages.
func (vm *ViewModel) Open(ctx context.Context, conversationID int64) error {
	if err := vm.backend.SetActiveConversation(ctx, conversationID); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.activeID = conversationID
	vm.mu.Unlock()
	return vm.LoadMessages(ctx)
}

// LoadMessages fetches the active conversation's messages.
func (vm *ViewModel) LoadMessages(ctx context.Context) error {
	vm.mu.RLock()
	active := vm.activeID
	vm.mu.RUnlock()
	if active == 0 {
		return nil
	}

	list, err := vm.backend.ListMessages(ctx, api.ListMessagesRequest{ConversationID: active})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.messages = list
	vm.mu.Unlock()
	return nil
}

// Send posts text to the active conversation's peer.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := vm.backend.SendMessage(ctx, api.SendRequest{Content: text}); err != nil {
		return err
	}
	vm.Flash.Info("Message sent")
	return vm.LoadMessages(ctx)
}

// SendFile posts the file at path, with an optional caption, to the active
// conversation's peer.
func (vm *ViewModel) SendFile(ctx context.Context, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}
	req := api.SendRequest{
		Content:        strings.TrimSpace(caption),
		AttachmentName: filepath.Base(path),
		AttachmentData: data,
	}
	if err := vm.backend.SendMessage(ctx, req); err != nil {
		return err
	}
	vm.Flash.Info("Attachment sent")
	return vm.LoadMessages(ctx)
}

// ContactAdmin messages the shop admins.
func (vm *ViewModel) ContactAdmin(ctx context.Context, text string) error {
	if err := vm.backend.ContactAdmin(ctx, api.ContactAdminRequest{Message: strings.TrimSpace(text)}); err != nil {
		return err
	}
	vm.Flash.Info("Message sent to the shop admins")
	return vm.LoadConversations(ctx, false)
}

func (vm *ViewModel) Login(ctx context.Context, username, password string) error {
	user, err := vm.backend.Login(ctx, username, password)
	if err != nil {
		return err
	}
	vm.Flash.Info("Logged in as " + user.DisplayName())
	return vm.LoadStatus(ctx)
}

// Logout clears credentials on the daemon and drops cached view state.
func (vm *ViewModel) Logout(ctx context.Context) error {
	if err := vm.backend.Logout(ctx); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = nil
	vm.activeID = 0
	vm.unread = 0
	vm.messages = nil
	vm.lastError = ""
	vm.mu.Unlock()
	return vm.LoadStatus(ctx)
}

// DismissError clears the daemon's error slot.
func (vm *ViewModel) DismissError(ctx context.Context) error {
	if err := vm.backend.ClearError(ctx); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.lastError = ""
	if vm.status != nil {
		vm.status.Error = ""
	}
	vm.mu.Unlock()
	return nil
}

func (vm *ViewModel) Search(ctx context.Context, query string) ([]api.SearchHit, error) {
	return vm.backend.SearchMessages(ctx, api.SearchRequest{Query: query, Limit: 50})
}

// Status returns the last daemon status, or nil.
func (vm *ViewModel) Status() *api.StatusView {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return nil
	}
	st := *vm.status
	return &st
}

// Authenticated reports whether the daemon holds a live session.
func (vm *ViewModel) Authenticated() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status != nil && vm.status.Authenticated
}

// Self returns the logged-in user's id, or 0.
func (vm *ViewModel) Self() int64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil || vm.status.User == nil {
		return 0
	}
	return vm.status.User.ID
}

func (vm *ViewModel) Conversations() []api.ConversationView {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]api.ConversationView(nil), vm.conversations...)
}

func (vm *ViewModel) ActiveID() int64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeID
}

// Active returns the active conversation, or nil.
func (vm *ViewModel) Active() *api.ConversationView {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if c.ID == vm.activeID {
			cp := c
			return &cp
		}
	}
	return nil
}

// Unread is the aggregate unread count across conversations.
func (vm *ViewModel) Unread() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.unread
}

// ThreadMessages returns the loaded messages only when they belong to the
// active conversation, so a late response for a previous selection is
// never shown under the new one.
func (vm *ViewModel) ThreadMessages() []chat.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.messages == nil || vm.messages.ConversationID != vm.activeID {
		return nil
	}
	return append([]chat.Message(nil), vm.messages.Messages...)
}

// FindConversation resolves a conversation by id or by case-insensitive
// peer name prefix.
func (vm *ViewModel) FindConversation(query string) (int64, bool) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return 0, false
	}
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if fmt.Sprint(c.ID) == query {
			return c.ID, true
		}
	}
	for _, c := range vm.conversations {
		if strings.HasPrefix(strings.ToLower(c.PeerName), query) {
			return c.ID, true
		}
	}
	return 0, false
}
