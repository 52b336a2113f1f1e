package ui

import (
	"strings"

	"github.com/rivo/tview"
)

// Crumbs shows the page stack as a breadcrumb trail, current page last.
type Crumbs struct {
	*tview.TextView
	active, inactive string
}

func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &Crumbs{
		TextView: tv,
		active:   "[" + ColorName(theme.CrumbActiveFg) + ":" + ColorName(theme.CrumbActiveBg) + ":b]",
		inactive: "[" + ColorName(theme.CrumbInactiveFg) + ":" + ColorName(theme.CrumbInactiveBg) + ":]",
	}
}

func (c *Crumbs) Update(labels []string) {
	c.SetText(c.render(labels))
}

func (c *Crumbs) render(labels []string) string {
	var b strings.Builder
	for i, label := range labels {
		if i > 0 {
			b.WriteString(" > ")
		}
		style := c.inactive
		if i == len(labels)-1 {
			style = c.active
		}
		b.WriteString(style + " " + tview.Escape(label) + " [-:-:-]")
	}
	return b.String()
}
