package tui

import (
	"context"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/tilechat/internal/tui/client"
	"github.com/matheus3301/tilechat/internal/tui/keys"
	"github.com/matheus3301/tilechat/internal/tui/model"
	"github.com/matheus3301/tilechat/internal/tui/ui"
	"github.com/matheus3301/tilechat/internal/tui/views"
)

const (
	pageLogin         = "login"
	pageConversations = "conversations"
	pageThread        = "thread"
	pageDetails       = "details"
	pageSearch        = "search"
	pageHelp          = "help"
	pageAttachment    = "attachment"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	client   *client.Client
	vm       *model.ViewModel
	registry *keys.Registry
	profile  string

	root        *tview.Flex
	header      *tview.Flex
	info        *ui.ProfileInfo
	menu        *ui.Menu
	logo        *ui.Logo
	prompt      *ui.Prompt
	pages       *ui.Pages
	crumbs      *ui.Crumbs
	flash       *ui.FlashBar
	promptShown bool

	login      *views.LoginView
	convList   *views.ConversationList
	thread     *views.MessageThread
	details    *views.ConversationInfo
	search     *views.SearchView
	help       *views.HelpView
	attachment *views.AttachmentView

	components map[string]ui.Component
	focus      map[string]tview.Primitive
	current    string
	detailsID  int64

	mu      sync.Mutex
	pending refreshKind
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application for the daemon behind c.
func NewApp(c *client.Client, profileName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:        tview.NewApplication(),
		theme:      theme,
		client:     c,
		vm:         model.NewViewModel(c),
		registry:   keys.NewRegistry(),
		profile:    profileName,
		info:       ui.NewProfileInfo(theme),
		menu:       ui.NewMenu(theme),
		logo:       ui.NewLogo(theme),
		prompt:     ui.NewPrompt(theme),
		pages:      ui.NewPages(),
		crumbs:     ui.NewCrumbs(theme),
		flash:      ui.NewFlashBar(theme),
		login:      views.NewLoginView(theme),
		convList:   views.NewConversationList(theme),
		thread:     views.NewMessageThread(theme),
		details:    views.NewConversationInfo(theme),
		search:     views.NewSearchView(theme),
		help:       views.NewHelpView(theme),
		attachment: views.NewAttachmentView(theme),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	a.setupPages()
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupPages() {
	a.components = map[string]ui.Component{
		pageLogin:         a.login,
		pageConversations: a.convList,
		pageThread:        a.thread,
		pageDetails:       a.details,
		pageSearch:        a.search,
		pageHelp:          a.help,
		pageAttachment:    a.attachment,
	}
	a.focus = map[string]tview.Primitive{
		pageLogin:         a.login.Form(),
		pageConversations: a.convList,
		pageThread:        a.thread.Messages(),
		pageDetails:       a.details,
		pageSearch:        a.search,
		pageHelp:          a.help,
		pageAttachment:    a.attachment,
	}
	pagePrimitives := map[string]tview.Primitive{
		pageLogin:         a.login,
		pageConversations: a.convList,
		pageThread:        a.thread,
		pageDetails:       a.details,
		pageSearch:        a.search,
		pageHelp:          a.help,
		pageAttachment:    a.attachment,
	}
	for name, p := range pagePrimitives {
		a.components[name].Init()
		a.pages.AddPage(name, p, true, false)
	}
	a.pages.SetOnChange(a.onPageChange)
}

func (a *App) setupLayout() {
	a.header = tview.NewFlex().
		AddItem(a.info, 42, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(a.logo, 22, 0, false)
	a.root = tview.NewFlex().SetDirection(tview.FlexRow)
	a.layout()

	a.prompt.SetOnSubmit(a.onPrompt)
	a.prompt.SetOnCancel(a.hidePrompt)

	a.app.SetRoot(a.root, true)
	a.app.SetInputCapture(a.onKey)
}

// layout rebuilds the root flex, with the prompt bar only while active.
func (a *App) layout() {
	a.root.Clear()
	a.root.AddItem(a.header, 7, 0, false)
	if a.promptShown {
		a.root.AddItem(a.prompt, 3, 0, true)
	}
	a.root.AddItem(a.pages, 0, 1, !a.promptShown)
	a.root.AddItem(a.crumbs, 1, 0, false)
	a.root.AddItem(a.flash, 1, 0, false)
}

// onPageChange keeps crumbs, menu and focus in step with the page stack.
func (a *App) onPageChange(stack []string) {
	if a.current != "" && a.current != a.pages.Current() {
		a.components[a.current].Stop()
	}
	a.current = a.pages.Current()

	labels := make([]string, 0, len(stack))
	for _, name := range stack {
		labels = append(labels, a.components[name].Name())
	}
	a.crumbs.Update(labels)

	comp, ok := a.components[a.current]
	if !ok {
		return
	}
	comp.Start()
	hints := comp.Hints()
	if a.current != pageLogin {
		hints = append(hints, a.registry.Hints()...)
	}
	a.menu.Update(hints)
	a.app.SetFocus(a.focus[a.current])
}

func (a *App) showPrompt(mode ui.PromptMode) {
	if a.current == pageLogin {
		return
	}
	a.prompt.Activate(mode)
	a.promptShown = true
	a.layout()
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.promptShown = false
	a.layout()
	if p, ok := a.focus[a.current]; ok {
		a.app.SetFocus(p)
	}
}

func (a *App) onKey(ev *tcell.EventKey) *tcell.EventKey {
	focused := a.app.GetFocus()

	if focused == a.thread.Composer() && ev.Key() == tcell.KeyEscape {
		a.app.SetFocus(a.thread.Messages())
		return nil
	}
	if a.current == pageLogin || a.promptShown {
		return ev
	}
	if _, ok := focused.(*tview.InputField); ok {
		return ev
	}

	if ev.Key() == tcell.KeyEscape {
		a.back()
		return nil
	}
	if a.current == pageConversations && ev.Key() == tcell.KeyRune && ev.Rune() >= '0' && ev.Rune() <= '9' {
		if ev.Rune() == '0' {
			a.convList.ClearFilter()
		} else if id := a.convList.ByIndex(int(ev.Rune() - '0')); id != 0 {
			a.open(id)
		}
		return nil
	}
	if a.registry.HandleEvent(a.current, ev) {
		return nil
	}
	return ev
}

func (a *App) back() {
	if a.current == pageConversations && a.convList.Filter() != "" {
		a.convList.ClearFilter()
		return
	}
	if a.pages.Depth() > 1 {
		a.pages.Pop()
	}
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	go a.boot()
	go a.refreshLoop()
	go a.watchLoop()
	go a.flashLoop()

	defer a.cancel()
	return a.app.Run()
}

// boot loads the initial state and shows the login form or the
// conversation list.
func (a *App) boot() {
	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	err := a.vm.LoadStatus(ctx)
	a.app.QueueUpdateDraw(func() {
		if err != nil {
			a.fail(err)
		}
		a.syncPage()
		a.render()
	})
	a.request(refreshAll)
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
