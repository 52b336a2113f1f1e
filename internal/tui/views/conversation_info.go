package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/tilechat/internal/api"
	"github.com/matheus3301/tilechat/internal/tui/ui"
)

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Init implements Component.
func (ci *ConversationInfo) Init() {}

// Start implements Component.
func (ci *ConversationInfo) Start() {}

// Stop implements Component.
func (ci *ConversationInfo) Stop() {}

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
	}
}

// Update renders conversation details.
func (ci *ConversationInfo) Update(c *api.ConversationView) {
	ci.Clear()
	if c == nil {
		return
	}

	fg := ui.ColorName(ci.theme.FgColor)
	ct := ui.ColorName(ci.theme.CounterColor)

	participants := make([]string, len(c.Participants))
	for i, id := range c.Participants {
		participants[i] = fmt.Sprintf("#%d", id)
	}
	last := "-"
	if c.LastMessage != nil {
		last = preview(c.LastMessage.Content, 80)
	}
	active := "no"
	if c.Active {
		active = "yes"
	}

	rows := [][2]string{
		{"Peer", fmt.Sprintf("%s (#%d)", c.PeerName, c.PeerID)},
		{"Conversation", fmt.Sprintf("%d", c.ID)},
		{"Participants", strings.Join(participants, ", ")},
		{"Active", active},
		{"Unread", fmt.Sprintf("%d", c.UnreadCount)},
		{"Created", formatTimestamp(c.CreatedAt)},
		{"Updated", formatTimestamp(c.UpdatedAt)},
		{"Last Message", last},
	}
	_, _ = fmt.Fprintln(ci)
	for _, r := range rows {
		_, _ = fmt.Fprintf(ci, " [%s::b]%-13s[-:-:-] [%s]%s[-]\n", fg, r[0]+":", ct, tview.Escape(r[1]))
	}
	ci.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(c.PeerName)))
}
