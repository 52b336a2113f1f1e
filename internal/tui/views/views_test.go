package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/tilechat/internal/api"
	"github.com/matheus3301/tilechat/internal/chat"
	"github.com/matheus3301/tilechat/internal/tui/ui"
)

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"line one\nline two\ttab", "line one\nline two\ttab"},
		{"thumbs 👍\U0001F3FB", "thumbs 👍"},
		{"bell\x07 and \x1b[2Jclear", "bell and [2Jclear"},
		{"rtl \u202Eevil", "rtl evil"},
		{"heart ❤\uFE0F", "heart ❤"},
		{"bad \xff byte", "bad  byte"},
	}
	for _, tt := range tests {
		if got := sanitizeForTerminal(tt.in); got != tt.want {
			t.Errorf("sanitizeForTerminal(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPreview(t *testing.T) {
	if got := preview("hello\n  world", 20); got != "hello world" {
		t.Fatalf("preview = %q", got)
	}
	if got := preview("ñañañañaña", 5); got != "ñaña…" {
		t.Fatalf("preview = %q", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := formatTimestamp(time.Time{}); got != "" {
		t.Fatalf("zero time = %q", got)
	}
	now := time.Now()
	if got := formatTimestamp(now); got != now.Format("15:04") {
		t.Fatalf("today = %q", got)
	}
	old := time.Date(2001, 3, 4, 5, 6, 0, 0, time.Local)
	if got := formatTimestamp(old); got != "2001-03-04" {
		t.Fatalf("old = %q", got)
	}
}

func testConversations() []api.ConversationView {
	return []api.ConversationView{
		{Conversation: chat.Conversation{ID: 42, UnreadCount: 2, LastMessage: &chat.Message{Content: "is the table still available?"}}, PeerName: "alice", Active: true},
		{Conversation: chat.Conversation{ID: 43}, PeerName: "bob"},
		{Conversation: chat.Conversation{ID: 44, LastMessage: &chat.Message{Content: "thanks for the chairs"}}, PeerName: "carol"},
	}
}

func TestConversationListFilter(t *testing.T) {
	cl := NewConversationList(ui.DefaultTheme())
	cl.Update(testConversations())

	if got := cl.ByIndex(2); got != 43 {
		t.Fatalf("ByIndex(2) = %d, want 43", got)
	}

	cl.SetFilter("CHAIR")
	if got := cl.ByIndex(1); got != 44 {
		t.Fatalf("filtered ByIndex(1) = %d, want 44", got)
	}
	if got := cl.ByIndex(2); got != 0 {
		t.Fatalf("filtered ByIndex(2) = %d, want 0", got)
	}
	if got := cl.GetRowCount(); got != 2 {
		t.Fatalf("rows = %d, want header + 1", got)
	}

	cl.SetFilter("43")
	if got := cl.ByIndex(1); got != 43 {
		t.Fatalf("id filter ByIndex(1) = %d, want 43", got)
	}

	cl.ClearFilter()
	if got := cl.GetRowCount(); got != 4 {
		t.Fatalf("rows after clear = %d", got)
	}
}

func TestConversationListKeepsSelection(t *testing.T) {
	cl := NewConversationList(ui.DefaultTheme())
	cl.Update(testConversations())
	if !cl.Select(44) {
		t.Fatal("Select(44) = false")
	}

	reordered := testConversations()
	reordered[0], reordered[2] = reordered[2], reordered[0]
	cl.Update(reordered)
	if got := cl.Selected(); got != 44 {
		t.Fatalf("Selected = %d, want 44", got)
	}
	if cl.Select(99) {
		t.Fatal("Select(99) = true")
	}
}

func TestMessageThreadRendersAndTracksAttachment(t *testing.T) {
	mt := NewMessageThread(ui.DefaultTheme())
	mt.SetConversation(42, "alice")

	msgs := []chat.Message{
		{ID: 1, Sender: 7, SenderUsername: "alice", Content: "hi", AttachmentURL: "https://shop.test/a.png"},
		{ID: 2, Sender: 1, Content: "hello back", Status: chat.StatusRead},
	}
	mt.Update(msgs, 1)

	text := mt.Messages().GetText(true)
	for _, want := range []string{"alice", "hi", "You", "hello back", "https://shop.test/a.png"} {
		if !strings.Contains(text, want) {
			t.Errorf("thread text missing %q:\n%s", want, text)
		}
	}
	if got := mt.LastAttachment(); got != "https://shop.test/a.png" {
		t.Fatalf("LastAttachment = %q", got)
	}

	mt.SetConversation(43, "bob")
	if mt.LastAttachment() != "" || mt.Messages().GetText(true) != "" {
		t.Fatal("switching conversation kept old messages")
	}
	if mt.Name() != "bob" {
		t.Fatalf("Name = %q", mt.Name())
	}
}

func TestRenderQR(t *testing.T) {
	out := renderQR("https://shop.test/media/a.png")
	if strings.Contains(out, "failed") {
		t.Fatalf("renderQR failed: %s", out)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 10 {
		t.Fatalf("renderQR produced %d lines", len(lines))
	}
	if !strings.ContainsAny(out, "█▀▄") {
		t.Fatal("renderQR produced no blocks")
	}
}

func TestHighlight(t *testing.T) {
	got := highlight("a <<match>> b", ui.DefaultTheme())
	if strings.Contains(got, "<<") || strings.Contains(got, ">>") {
		t.Fatalf("markers left in %q", got)
	}
	if !strings.Contains(got, "match[-:-:-]") {
		t.Fatalf("no reset tag in %q", got)
	}
}

func TestSearchViewSelection(t *testing.T) {
	sv := NewSearchView(ui.DefaultTheme())
	sv.Update("tiles", []api.SearchHit{
		{ConversationID: 42, Snippet: "<<tiles>>"},
		{ConversationID: 43, Snippet: "more <<tiles>>"},
	}, map[int64]string{42: "alice"})

	if got := sv.SelectedConversation(); got != 42 {
		t.Fatalf("SelectedConversation = %d, want 42", got)
	}
	sv.Select(2, 0)
	if got := sv.SelectedConversation(); got != 43 {
		t.Fatalf("SelectedConversation = %d, want 43", got)
	}
}
