package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/matheus3301/tilechat/internal/api"
	"github.com/matheus3301/tilechat/internal/chat"
)

type fakeBackend struct {
	status   api.StatusView
	convs    []api.ConversationView
	active   int64
	messages map[int64][]chat.Message
	sent     []api.SendRequest
	admin    []api.ContactAdminRequest
	cleared  int
	loggedIn bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		status: api.StatusView{Profile: "default", Status: "polling", Authenticated: true, User: &chat.User{ID: 1, Username: "me"}},
		convs: []api.ConversationView{
			{Conversation: chat.Conversation{ID: 42, UnreadCount: 1}, PeerID: 7, PeerName: "alice"},
			{Conversation: chat.Conversation{ID: 43}, PeerID: 9, PeerName: "bob"},
		},
		active: 42,
		messages: map[int64][]chat.Message{
			42: {{ID: 100, Sender: 7, Receiver: 1, Content: "hi"}},
			43: {{ID: 200, Sender: 9, Receiver: 1, Content: "yo"}},
		},
	}
}

func (f *fakeBackend) GetStatus(context.Context) (*api.StatusView, error) {
	st := f.status
	return &st, nil
}

func (f *fakeBackend) Login(_ context.Context, username, password string) (*chat.User, error) {
	if password != "secret" {
		return nil, errors.New("invalid credentials")
	}
	f.loggedIn = true
	f.status.Authenticated = true
	return &chat.User{ID: 1, Username: username}, nil
}

func (f *fakeBackend) Logout(context.Context) error {
	f.status.Authenticated = false
	f.status.User = nil
	return nil
}

func (f *fakeBackend) ListConversations(context.Context, bool) (*api.ConversationList, error) {
	return &api.ConversationList{Conversations: f.convs, ActiveID: f.active, UnreadCount: 1, HasUnread: true}, nil
}

func (f *fakeBackend) SetActiveConversation(_ context.Context, id int64) error {
	f.active = id
	return nil
}

func (f *fakeBackend) ListMessages(_ context.Context, req api.ListMessagesRequest) (*api.MessageList, error) {
	return &api.MessageList{ConversationID: req.ConversationID, Messages: f.messages[req.ConversationID], Live: true}, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, req api.SendRequest) error {
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeBackend) ContactAdmin(_ context.Context, req api.ContactAdminRequest) error {
	f.admin = append(f.admin, req)
	return nil
}

func (f *fakeBackend) ClearError(context.Context) error {
	f.cleared++
	f.status.Error = ""
	return nil
}

func (f *fakeBackend) SearchMessages(_ context.Context, req api.SearchRequest) ([]api.SearchHit, error) {
	return []api.SearchHit{{ConversationID: 42, Snippet: "<<" + req.Query + ">>"}}, nil
}

func TestLoadAndOpen(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	vm := NewViewModel(fb)

	if err := vm.LoadStatus(ctx); err != nil {
		t.Fatal(err)
	}
	if !vm.Authenticated() || vm.Self() != 1 {
		t.Fatalf("authenticated=%v self=%d", vm.Authenticated(), vm.Self())
	}
	if err := vm.LoadConversations(ctx, false); err != nil {
		t.Fatal(err)
	}
	if vm.ActiveID() != 42 || vm.Unread() != 1 || len(vm.Conversations()) != 2 {
		t.Fatalf("active=%d unread=%d convs=%d", vm.ActiveID(), vm.Unread(), len(vm.Conversations()))
	}

	if err := vm.Open(ctx, 43); err != nil {
		t.Fatal(err)
	}
	if fb.active != 43 {
		t.Fatalf("daemon active = %d", fb.active)
	}
	msgs := vm.ThreadMessages()
	if len(msgs) != 1 || msgs[0].ID != 200 {
		t.Fatalf("thread = %+v", msgs)
	}
	if a := vm.Active(); a == nil || a.PeerName != "bob" {
		t.Fatalf("Active = %+v", a)
	}
}

func TestThreadMessagesHiddenForStaleConversation(t *testing.T) {
	ctx := context.Background()
	vm := NewViewModel(newFakeBackend())
	if err := vm.LoadConversations(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := vm.LoadMessages(ctx); err != nil {
		t.Fatal(err)
	}
	if len(vm.ThreadMessages()) != 1 {
		t.Fatal("expected messages for the active conversation")
	}

	vm.mu.Lock()
	vm.activeID = 43
	vm.mu.Unlock()
	if got := vm.ThreadMessages(); got != nil {
		t.Fatalf("stale messages shown: %+v", got)
	}
}

func TestSendAndAttach(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	vm := NewViewModel(fb)
	if err := vm.LoadConversations(ctx, false); err != nil {
		t.Fatal(err)
	}

	if err := vm.Send(ctx, "   "); err != nil || len(fb.sent) != 0 {
		t.Fatalf("blank send: err=%v sent=%d", err, len(fb.sent))
	}
	if err := vm.Send(ctx, " hello "); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, []byte("png"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := vm.SendFile(ctx, path, "the blue one"); err != nil {
		t.Fatal(err)
	}
	if err := vm.SendFile(ctx, filepath.Join(t.TempDir(), "missing"), ""); err == nil {
		t.Fatal("expected error for a missing file")
	}

	if len(fb.sent) != 2 {
		t.Fatalf("sent = %d", len(fb.sent))
	}
	if fb.sent[0].Content != "hello" {
		t.Fatalf("content = %q", fb.sent[0].Content)
	}
	if fb.sent[1].AttachmentName != "photo.png" || string(fb.sent[1].AttachmentData) != "png" || fb.sent[1].Content != "the blue one" {
		t.Fatalf("attachment request = %+v", fb.sent[1])
	}
	if vm.Flash.Get() != "Attachment sent" {
		t.Fatalf("flash = %q", vm.Flash.Get())
	}
}

func TestErrorSlotFlashesOnce(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	vm := NewViewModel(fb)

	fb.status.Error = "failed to load conversations: boom"
	if err := vm.LoadStatus(ctx); err != nil {
		t.Fatal(err)
	}
	if got := vm.Flash.Get(); got != fb.status.Error {
		t.Fatalf("flash = %q", got)
	}

	vm.Flash.Clear()
	if err := vm.LoadStatus(ctx); err != nil {
		t.Fatal(err)
	}
	if got := vm.Flash.Get(); got != "" {
		t.Fatalf("same error flashed again: %q", got)
	}

	if err := vm.DismissError(ctx); err != nil {
		t.Fatal(err)
	}
	if fb.cleared != 1 || vm.Status().Error != "" {
		t.Fatalf("cleared=%d status error=%q", fb.cleared, vm.Status().Error)
	}
}

func TestLogoutDropsState(t *testing.T) {
	ctx := context.Background()
	vm := NewViewModel(newFakeBackend())
	if err := vm.LoadConversations(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := vm.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if vm.Authenticated() || vm.ActiveID() != 0 || len(vm.Conversations()) != 0 || vm.ThreadMessages() != nil {
		t.Fatal("state survived logout")
	}
}

func TestLoginError(t *testing.T) {
	vm := NewViewModel(newFakeBackend())
	if err := vm.Login(context.Background(), "me", "wrong"); err == nil {
		t.Fatal("expected login error")
	}
	if err := vm.Login(context.Background(), "me", "secret"); err != nil {
		t.Fatal(err)
	}
}

func TestFindConversation(t *testing.T) {
	vm := NewViewModel(newFakeBackend())
	if err := vm.LoadConversations(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	for query, want := range map[string]int64{"43": 43, "Al": 42, "bob": 43} {
		got, ok := vm.FindConversation(query)
		if !ok || got != want {
			t.Errorf("FindConversation(%q) = %d, %v", query, got, ok)
		}
	}
	if _, ok := vm.FindConversation("zed"); ok {
		t.Error("FindConversation(zed) matched")
	}
}
