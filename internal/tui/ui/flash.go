package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

var flashTTL = [...]time.Duration{
	FlashInfo: 5 * time.Second,
	FlashWarn: 8 * time.Second,
	FlashErr:  10 * time.Second,
}

// FlashMessage is one notice on the flash bar. Repeat counts how many
// times the same text was raised back to back while it was still visible.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Repeat  int
	Expires time.Time
}

// FlashModel holds the latest notice. Every change is signalled on the
// Watch channel; a slow reader only misses signals, never the message.
type FlashModel struct {
	mu      sync.Mutex
	msg     FlashMessage
	changed chan struct{}
	now     func() time.Time
}

func NewFlashModel() *FlashModel {
	return &FlashModel{
		changed: make(chan struct{}, 1),
		now:     time.Now,
	}
}

func (f *FlashModel) Info(msg string) { f.raise(msg, FlashInfo) }
func (f *FlashModel) Warn(msg string) { f.raise(msg, FlashWarn) }
func (f *FlashModel) Err(err error)   { f.raise(err.Error(), FlashErr) }

func (f *FlashModel) raise(text string, level FlashLevel) {
	f.mu.Lock()
	now := f.now()
	repeat := 1
	if f.live(now) && f.msg.Text == text && f.msg.Level == level {
		repeat = f.msg.Repeat + 1
	}
	f.msg = FlashMessage{Text: text, Level: level, Repeat: repeat, Expires: now.Add(flashTTL[level])}
	f.mu.Unlock()
	f.signal()
}

// Clear drops the current notice.
func (f *FlashModel) Clear() {
	f.mu.Lock()
	f.msg = FlashMessage{}
	f.mu.Unlock()
	f.signal()
}

func (f *FlashModel) signal() {
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

func (f *FlashModel) live(now time.Time) bool {
	return f.msg.Text != "" && now.Before(f.msg.Expires)
}

// Get returns the visible notice text, or "" once it expired.
func (f *FlashModel) Get() string {
	if m := f.GetMessage(); m != nil {
		return m.Text
	}
	return ""
}

// GetMessage returns a copy of the visible notice, or nil.
func (f *FlashModel) GetMessage() *FlashMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live(f.now()) {
		return nil
	}
	m := f.msg
	return &m
}

func (f *FlashModel) Watch() <-chan struct{} {
	return f.changed
}

// FlashBar renders the current notice under the page area.
type FlashBar struct {
	*tview.TextView
	colors [3]tcell.Color
}

func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{
		TextView: tv,
		colors:   [3]tcell.Color{theme.FlashInfoColor, theme.FlashWarnColor, theme.FlashErrColor},
	}
}

// Update shows msg, or blanks the bar when msg is nil.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg == nil {
		return
	}
	_, _ = fmt.Fprint(fb, renderFlash(msg, fb.colors[msg.Level]))
}

func renderFlash(msg *FlashMessage, color tcell.Color) string {
	text := tview.Escape(msg.Text)
	if msg.Repeat > 1 {
		text = fmt.Sprintf("%s (x%d)", text, msg.Repeat)
	}
	return fmt.Sprintf(" [%s]%s[-]", ColorName(color), text)
}
