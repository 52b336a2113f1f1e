package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/tilechat/internal/tui/ui"
)

// HelpView displays the key binding and command reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// Name implements Component.
func (hv *HelpView) Name() string { return "Help" }

// Init implements Component.
func (hv *HelpView) Init() {}

// Start implements Component.
func (hv *HelpView) Start() {}

// Stop implements Component.
func (hv *HelpView) Stop() {}

// Hints implements Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

var helpSections = []struct {
	title string
	rows  [][2]string
}{
	{"Global", [][2]string{
		{":", "Command mode"},
		{"/", "Filter conversations"},
		{"?", "Search cached messages"},
		{"h", "This help"},
		{"x", "Dismiss the daemon error"},
		{"Esc", "Back"},
		{"q / Ctrl-C", "Quit"},
	}},
	{"Conversations", [][2]string{
		{"Enter", "Open conversation"},
		{"1-9", "Open the Nth conversation"},
		{"0", "Clear filter"},
		{"d", "Conversation details"},
		{"r", "Refresh from the shop"},
	}},
	{"Thread", [][2]string{
		{"i", "Focus composer"},
		{"Enter", "Send (in composer)"},
		{"a", "Show newest attachment as QR"},
		{"d", "Conversation details"},
		{"r", "Refresh messages"},
	}},
	{"Commands", [][2]string{
		{":open <id|name>", "Open a conversation"},
		{":search <text>", "Search cached messages"},
		{":attach <path> [caption]", "Send a file to the open conversation"},
		{":admin <text>", "Message the shop admins"},
		{":refresh", "Poll the shop now"},
		{":clear", "Dismiss the daemon error"},
		{":logout", "Log out of this profile"},
		{":help  :quit", ""},
	}},
}

func (hv *HelpView) render() {
	kc := ui.ColorName(hv.theme.MenuKeyColor)
	var b strings.Builder
	for _, s := range helpSections {
		_, _ = fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, r := range s.rows {
			_, _ = fmt.Fprintf(&b, "  [%s]%-26s[-:-:-] %s\n", kc, tview.Escape(r[0]), r[1])
		}
	}
	_, _ = fmt.Fprint(hv, b.String())
}
