package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/tilechat/internal/api"
	"github.com/matheus3301/tilechat/internal/tui/ui"
)

// SearchView lists cached messages matching a query.
type SearchView struct {
	*tview.Table
	theme *ui.Theme
	query string
	data  []api.SearchHit
	names map[int64]string
}

// NewSearchView creates a new search results view.
func NewSearchView(theme *ui.Theme) *SearchView {
	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitle(" Results ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	return &SearchView{
		Table: results,
		theme: theme,
	}
}

// Name implements Component.
func (sv *SearchView) Name() string { return "Search" }

// Init implements Component.
func (sv *SearchView) Init() {}

// Start implements Component.
func (sv *SearchView) Start() {}

// Stop implements Component.
func (sv *SearchView) Stop() {}

// Hints implements Component.
func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "?", Description: "New search"},
		{Key: "Esc", Description: "Back"},
	}
}

// Update shows results for query. names maps conversation ids to peer
// names for display.
func (sv *SearchView) Update(query string, results []api.SearchHit, names map[int64]string) {
	sv.query = query
	sv.data = results
	sv.names = names
	sv.Clear()

	headers := []string{" PEER", " SNIPPET", " TIME"}
	for col, h := range headers {
		sv.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}

	for i, r := range results {
		row := i + 1
		peer := sv.names[r.ConversationID]
		if peer == "" {
			peer = fmt.Sprintf("#%d", r.ConversationID)
		}
		sv.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(peer)).SetMaxWidth(25).SetTextColor(sv.theme.FgColor))
		sv.SetCell(row, 1, tview.NewTableCell(" "+highlight(preview(r.Snippet, 120), sv.theme)).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(r.Message.CreatedAt)).SetMaxWidth(12).SetTextColor(sv.theme.FgColor))
	}
	sv.SetTitle(fmt.Sprintf(" Results for %q (%d) ", tview.Escape(query), len(results)))
	if len(results) > 0 {
		sv.Select(1, 0)
	}
}

// SelectedConversation returns the conversation of the selected hit, or 0.
func (sv *SearchView) SelectedConversation() int64 {
	row, _ := sv.GetSelection()
	if idx := row - 1; idx >= 0 && idx < len(sv.data) {
		return sv.data[idx].ConversationID
	}
	return 0
}

// highlight swaps the daemon's <<match>> markers for color tags.
func highlight(snippet string, theme *ui.Theme) string {
	var out []rune
	in := []rune(tview.Escape(snippet))
	open := fmt.Sprintf("[%s::b]", ui.ColorName(theme.UnreadColor))
	for i := 0; i < len(in); i++ {
		switch {
		case i+1 < len(in) && in[i] == '<' && in[i+1] == '<':
			out = append(out, []rune(open)...)
			i++
		case i+1 < len(in) && in[i] == '>' && in[i+1] == '>':
			out = append(out, []rune("[-:-:-]")...)
			i++
		default:
			out = append(out, in[i])
		}
	}
	return string(out)
}
