package views

import (
	"fmt"
	"strconv"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/tilechat/internal/api"
	"github.com/matheus3301/tilechat/internal/tui/ui"
)

// ConversationList is the main conversation table.
type ConversationList struct {
	*tview.Table
	theme  *ui.Theme
	convs  []api.ConversationView
	filter string
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
	}
}

// Name implements Component.
func (cl *ConversationList) Name() string { return "Conversations" }

// Init implements Component.
func (cl *ConversationList) Init() {}

// Start implements Component.
func (cl *ConversationList) Start() {}

// Stop implements Component.
func (cl *ConversationList) Stop() {}

// Hints implements Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "d", Description: "Details"},
		{Key: "r", Description: "Refresh"},
		{Key: "/", Description: "Filter"},
		{Key: "?", Description: "Search"},
		{Key: ":", Description: "Command"},
		{Key: "h", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// Update replaces the rows, keeping the cursor on the same conversation
// when it is still listed.
func (cl *ConversationList) Update(convs []api.ConversationView) {
	selected := cl.Selected()
	cl.convs = convs
	cl.render()
	if selected != 0 {
		cl.Select(selected)
	}
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.filter = ""
	cl.render()
}

// Filter returns the active filter text.
func (cl *ConversationList) Filter() string { return cl.filter }

func (cl *ConversationList) matches(c api.ConversationView) bool {
	if cl.filter == "" {
		return true
	}
	last := ""
	if c.LastMessage != nil {
		last = c.LastMessage.Content
	}
	return containsFold(c.PeerName, cl.filter) ||
		containsFold(last, cl.filter) ||
		strconv.FormatInt(c.ID, 10) == cl.filter
}

// visible returns the conversations that pass the filter, in order.
func (cl *ConversationList) visible() []api.ConversationView {
	out := make([]api.ConversationView, 0, len(cl.convs))
	for _, c := range cl.convs {
		if cl.matches(c) {
			out = append(out, c)
		}
	}
	return out
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" ", 0},
		{" PEER", 1},
		{" LAST MESSAGE", 3},
		{" UNREAD", 0},
		{" TIME", 0},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	rows := cl.visible()
	for i, c := range rows {
		row := i + 1
		marker := " "
		if c.Active {
			marker = "●"
		}
		fg := cl.theme.FgColor
		unread := ""
		if c.UnreadCount > 0 {
			fg = cl.theme.UnreadColor
			unread = strconv.Itoa(c.UnreadCount)
		}
		last, ts := "", formatTimestamp(c.UpdatedAt)
		if c.LastMessage != nil {
			last = preview(c.LastMessage.Content, 60)
			if last == "" && c.LastMessage.AttachmentURL != "" {
				last = "[attachment]"
			}
			ts = formatTimestamp(c.LastMessage.CreatedAt)
		}

		cl.SetCell(row, 0, tview.NewTableCell(marker).SetTextColor(cl.theme.TitleColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.PeerName))).SetExpansion(1).SetTextColor(fg))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(last)).SetExpansion(3).SetTextColor(fg))
		cl.SetCell(row, 3, tview.NewTableCell(unread).SetTextColor(cl.theme.UnreadColor).SetAlign(tview.AlignRight))
		cl.SetCell(row, 4, tview.NewTableCell(" "+ts).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", len(rows), len(cl.convs), tview.Escape(cl.filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}

// Selected returns the id of the conversation under the cursor, or 0.
func (cl *ConversationList) Selected() int64 {
	row, _ := cl.GetSelection()
	rows := cl.visible()
	if idx := row - 1; idx >= 0 && idx < len(rows) {
		return rows[idx].ID
	}
	return 0
}

// Select moves the cursor to conversationID if it is visible.
func (cl *ConversationList) Select(conversationID int64) bool {
	for i, c := range cl.visible() {
		if c.ID == conversationID {
			cl.Table.Select(i+1, 0)
			return true
		}
	}
	return false
}

// ByIndex returns the id of the Nth visible conversation (1-based), or 0.
func (cl *ConversationList) ByIndex(n int) int64 {
	rows := cl.visible()
	if n < 1 || n > len(rows) {
		return 0
	}
	return rows[n-1].ID
}
