package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Logo displays a compact ASCII art logo.
type Logo struct {
	*tview.TextView
	theme *Theme
}

// NewLogo creates a new logo component.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	l := &Logo{
		TextView: tv,
		theme:    theme,
	}
	l.Render(false)
	return l
}

// Render redraws the logo. The subtitle turns into an unread marker while
// any conversation has unread messages.
func (l *Logo) Render(unread bool) {
	l.Clear()
	titleColor := ColorName(l.theme.TitleColor)
	sub := fmt.Sprintf("[%s]shop chat[-:-:-]", ColorName(l.theme.FgColor))
	if unread {
		sub = fmt.Sprintf("[%s::b]● new messages[-:-:-]", ColorName(l.theme.UnreadColor))
	}

	_, _ = fmt.Fprintf(l,
		"[%s::b]╔╦╗╦╦  ╔═╗[-:-:-]\n"+
			"[%s::b] ║ ║║  ║╣ [-:-:-]\n"+
			"[%s::b] ╩ ╩╩═╝╚═╝chat[-:-:-]\n"+
			"%s",
		titleColor, titleColor, titleColor, sub,
	)
}
