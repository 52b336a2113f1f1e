package ui

import (
	"slices"

	"github.com/rivo/tview"
)

// Component is a page view the app can push. Start and Stop run when the
// page becomes or stops being the top of the stack.
type Component interface {
	Name() string
	Init()
	Start()
	Stop()
	Hints() []MenuHint
}

// Pages keeps a navigation stack over tview.Pages; only the top page is
// visible. onChange receives a copy of the stack after every change.
type Pages struct {
	*tview.Pages
	stack    []string
	onChange func(stack []string)
}

func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages()}
}

func (p *Pages) SetOnChange(fn func(stack []string)) {
	p.onChange = fn
}

// Push shows name on top of the stack. If name is already on the stack,
// everything above it is dropped instead.
func (p *Pages) Push(name string) {
	if i := slices.Index(p.stack, name); i >= 0 {
		p.setStack(p.stack[:i+1])
		return
	}
	p.setStack(append(slices.Clone(p.stack), name))
}

// Pop drops the top page and returns its name, or "" on an empty stack.
func (p *Pages) Pop() string {
	top := p.Current()
	if top == "" {
		return ""
	}
	p.setStack(p.stack[:len(p.stack)-1])
	return top
}

// Reset replaces the whole stack with name.
func (p *Pages) Reset(name string) {
	p.setStack([]string{name})
}

func (p *Pages) setStack(next []string) {
	if top := p.Current(); top != "" {
		p.HidePage(top)
	}
	p.stack = next
	if top := p.Current(); top != "" {
		p.ShowPage(top)
		p.SendToFront(top)
	}
	if p.onChange != nil {
		p.onChange(p.Stack())
	}
}

func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Stack returns a copy of the stack, bottom first.
func (p *Pages) Stack() []string { return slices.Clone(p.stack) }

func (p *Pages) Contains(name string) bool { return slices.Contains(p.stack, name) }

func (p *Pages) Depth() int { return len(p.stack) }
