package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
)

// ProfileData is what the header shows about the connected daemon.
type ProfileData struct {
	Profile       string
	User          string
	Status        string
	Conversations int
	Unread        int
	Cached        int64
	Uptime        time.Duration
	Loading       bool
}

// ProfileInfo displays profile and session metadata in the header.
type ProfileInfo struct {
	*tview.TextView
	theme *Theme
}

// NewProfileInfo creates a new profile info panel.
func NewProfileInfo(theme *Theme) *ProfileInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &ProfileInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the profile info.
func (pi *ProfileInfo) Update(data *ProfileData) {
	pi.Clear()
	if data == nil {
		return
	}
	_, _ = fmt.Fprint(pi, pi.format(data))
}

func (pi *ProfileInfo) format(data *ProfileData) string {
	fg := ColorName(pi.theme.FgColor)
	ct := ColorName(pi.theme.CounterColor)

	user := data.User
	if user == "" {
		user = "-"
	}
	status := strings.ToUpper(data.Status)
	if data.Loading {
		status += " …"
	}
	unreadColor := ct
	if data.Unread > 0 {
		unreadColor = ColorName(pi.theme.UnreadColor)
	}

	return fmt.Sprintf(
		"[%s::b]Profile:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]User:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Status:[-:-:-]  [%s]%s[-]\n"+
			"[%s::b]Chats:[-:-:-]   [%s]%d[-] [%s](%d unread)[-]\n"+
			"[%s::b]Cached:[-:-:-]  [%s]%d[-]\n"+
			"[%s::b]Uptime:[-:-:-]  [%s]%s[-]",
		fg, ct, tview.Escape(data.Profile),
		fg, ct, tview.Escape(user),
		fg, ColorName(pi.theme.StatusColor(data.Status)), status,
		fg, ct, data.Conversations, unreadColor, data.Unread,
		fg, ct, data.Cached,
		fg, ct, formatDuration(data.Uptime),
	)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
