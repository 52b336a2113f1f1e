package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/tilechat/internal/chat"
	"github.com/matheus3301/tilechat/internal/tui/ui"
)

// MessageThread displays messages and a composer for the active
// conversation.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	peerName string
	convID   int64
	last     []chat.Message
	onSend   func(text string)
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := strings.TrimSpace(composer.GetText())
			if text != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.peerName != "" {
		return mt.peerName
	}
	return "Messages"
}

// Init implements Component.
func (mt *MessageThread) Init() {}

// Start implements Component.
func (mt *MessageThread) Start() {}

// Stop implements Component.
func (mt *MessageThread) Stop() {}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "d", Description: "Details"},
		{Key: "a", Description: "Attachment QR"},
		{Key: "r", Description: "Refresh"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "h", Description: "Help"},
	}
}

// SetConversation binds the view to a conversation and clears any
// messages rendered for the previous one.
func (mt *MessageThread) SetConversation(id int64, peerName string) {
	if id != mt.convID {
		mt.last = nil
		mt.messages.Clear()
	}
	mt.convID = id
	mt.peerName = peerName
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(peerName)))
}

// ConversationID returns the conversation the view is bound to.
func (mt *MessageThread) ConversationID() int64 {
	return mt.convID
}

// SetOnSend sets the callback when a message is sent.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update renders msgs, oldest first. self is the viewer's user id.
func (mt *MessageThread) Update(msgs []chat.Message, self int64) {
	mt.last = msgs
	mt.messages.Clear()
	for _, m := range msgs {
		_, _ = fmt.Fprint(mt.messages, mt.formatMessage(m, self))
	}
	mt.messages.ScrollToEnd()
}

func (mt *MessageThread) formatMessage(m chat.Message, self int64) string {
	own := m.Sender == self
	sender := m.SenderUsername
	if sender == "" {
		sender = fmt.Sprintf("user #%d", m.Sender)
	}
	color := mt.theme.PeerMsgColor
	if own {
		sender = "You"
		color = mt.theme.OwnMsgColor
	}
	if m.IsAdminMessage {
		sender += " (admin)"
		color = mt.theme.AdminColor
	}

	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "[%s::b]%s[-:-:-] [::d]%s[-:-:-]", ui.ColorName(color),
		tview.Escape(sanitizeForTerminal(sender)), formatTimestamp(m.CreatedAt))
	if own {
		b.WriteString(" " + mt.statusMark(m.Status))
	}
	b.WriteString("\n")
	if m.Content != "" {
		b.WriteString(tview.Escape(sanitizeForTerminal(m.Content)))
		b.WriteString("\n")
	}
	if m.AttachmentURL != "" {
		_, _ = fmt.Fprintf(&b, "[::u]attachment:[-:-:-] %s\n", tview.Escape(m.AttachmentURL))
	}
	b.WriteString("\n")
	return b.String()
}

// statusMark renders the delivery state of an outgoing message.
func (mt *MessageThread) statusMark(s chat.Status) string {
	switch s {
	case chat.StatusRead:
		return fmt.Sprintf("[%s]✓✓[-]", ui.ColorName(mt.theme.ReadColor))
	case chat.StatusDelivered:
		return "[::d]✓✓[-:-:-]"
	case chat.StatusFailed:
		return fmt.Sprintf("[%s]failed[-]", ui.ColorName(mt.theme.FailedColor))
	default:
		return "[::d]✓[-:-:-]"
	}
}

// LastAttachment returns the newest attachment URL shown, or "".
func (mt *MessageThread) LastAttachment() string {
	for i := len(mt.last) - 1; i >= 0; i-- {
		if mt.last[i].AttachmentURL != "" {
			return mt.last[i].AttachmentURL
		}
	}
	return ""
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
