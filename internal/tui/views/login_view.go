package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/tilechat/internal/tui/ui"
)

// LoginView is the username/password form shown while the daemon has no
// session.
type LoginView struct {
	*tview.Flex
	theme    *ui.Theme
	form     *tview.Form
	message  *tview.TextView
	onSubmit func(username, password string)
	busy     bool
}

// NewLoginView creates a new login form.
func NewLoginView(theme *ui.Theme) *LoginView {
	form := tview.NewForm().
		AddInputField("Username", "", 32, nil, nil).
		AddPasswordField("Password", "", 32, '*', nil)
	form.SetBorder(true)
	form.SetBorderColor(theme.BorderColor)
	form.SetBackgroundColor(theme.BgColor)
	form.SetTitle(" Login Required ")
	form.SetTitleColor(theme.TitleColor)
	form.SetFieldBackgroundColor(theme.BgColor)
	form.SetFieldTextColor(theme.FgColor)
	form.SetLabelColor(theme.MenuKeyColor)
	form.SetButtonBackgroundColor(theme.TableCursorBg)
	form.SetButtonTextColor(theme.TableCursorFg)

	message := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	message.SetBackgroundColor(theme.BgColor)

	lv := &LoginView{
		theme:   theme,
		form:    form,
		message: message,
	}
	form.AddButton("Login", lv.submit)

	// Enter in the password field submits directly.
	form.GetFormItem(1).(*tview.InputField).SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			lv.submit()
		}
	})

	lv.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(form, 50, 0, true).
			AddItem(nil, 0, 1, false), 9, 0, true).
		AddItem(message, 2, 0, false).
		AddItem(nil, 0, 1, false)
	lv.Flex.SetBackgroundColor(theme.BgColor)
	return lv
}

// Name implements Component.
func (lv *LoginView) Name() string { return "Login" }

// Init implements Component.
func (lv *LoginView) Init() {}

// Start implements Component.
func (lv *LoginView) Start() {
	lv.busy = false
	lv.form.SetFocus(0)
}

// Stop implements Component.
func (lv *LoginView) Stop() {
	lv.form.GetFormItem(1).(*tview.InputField).SetText("")
}

// Hints implements Component.
func (lv *LoginView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Tab", Description: "Next field"},
		{Key: "Enter", Description: "Login"},
		{Key: "Ctrl-C", Description: "Quit"},
	}
}

// SetOnSubmit sets the callback invoked with the entered credentials.
func (lv *LoginView) SetOnSubmit(fn func(username, password string)) {
	lv.onSubmit = fn
}

// Form returns the form for focus management.
func (lv *LoginView) Form() *tview.Form {
	return lv.form
}

func (lv *LoginView) submit() {
	if lv.busy || lv.onSubmit == nil {
		return
	}
	username := strings.TrimSpace(lv.form.GetFormItem(0).(*tview.InputField).GetText())
	password := lv.form.GetFormItem(1).(*tview.InputField).GetText()
	if username == "" || password == "" {
		lv.ShowError("username and password are required")
		return
	}
	lv.busy = true
	lv.ShowMessage("Logging in…")
	lv.onSubmit(username, password)
}

// ShowMessage displays a neutral status line under the form.
func (lv *LoginView) ShowMessage(msg string) {
	lv.message.Clear()
	_, _ = fmt.Fprintf(lv.message, "[%s]%s[-]", ui.ColorName(lv.theme.FgColor), tview.Escape(msg))
}

// ShowError displays an error under the form and re-enables submission.
func (lv *LoginView) ShowError(msg string) {
	lv.busy = false
	lv.message.Clear()
	_, _ = fmt.Fprintf(lv.message, "[%s]%s[-]", ui.ColorName(lv.theme.FlashErrColor), tview.Escape(msg))
}
