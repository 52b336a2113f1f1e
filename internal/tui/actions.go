package tui

import (
	"errors"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"google.golang.org/grpc/status"

	"github.com/matheus3301/tilechat/internal/tui/keys"
	"github.com/matheus3301/tilechat/internal/tui/ui"
)

func (a *App) setupBindings() {
	r := a.registry
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: ':', Label: ":", Description: "Command", Handler: func() { a.showPrompt(ui.PromptCommand) }})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: '?', Label: "?", Description: "Search", Handler: func() { a.showPrompt(ui.PromptSearch) }})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: 'x', Label: "x", Description: "Dismiss error", Visible: true, Handler: a.dismissError})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: 'h', Label: "h", Description: "Help", Handler: func() { a.pages.Push(pageHelp) }})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: 'q', Label: "q", Description: "Quit", Handler: a.Stop})

	r.AddView(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: '/', Handler: func() { a.showPrompt(ui.PromptFilter) }})
	r.AddView(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: 'd', Handler: func() { a.showDetails(a.convList.Selected()) }})
	r.AddView(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: 'r', Handler: a.refreshNow})

	r.AddView(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'i', Handler: func() { a.app.SetFocus(a.thread.Composer()) }})
	r.AddView(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'd', Handler: func() { a.showDetails(a.thread.ConversationID()) }})
	r.AddView(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'a', Handler: a.showAttachment})
	r.AddView(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'r', Handler: a.refreshNow})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(int, int) {
		if id := a.convList.Selected(); id != 0 {
			a.open(id)
		}
	})
	a.search.SetSelectedFunc(func(int, int) {
		if id := a.search.SelectedConversation(); id != 0 {
			a.open(id)
		}
	})

	a.thread.SetOnSend(func(text string) {
		go func() {
			if err := a.vm.Send(a.ctx, text); err != nil {
				a.fail(err)
			}
			a.request(refreshMessages | refreshConversations)
		}()
	})

	a.login.SetOnSubmit(func(username, password string) {
		go func() {
			err := a.vm.Login(a.ctx, username, password)
			a.app.QueueUpdateDraw(func() {
				if err != nil {
					a.login.ShowError(errMessage(err))
					return
				}
				a.syncPage()
				a.render()
			})
			if err == nil {
				a.request(refreshAll)
			}
		}()
	})
}

// onPrompt runs a submitted prompt line.
func (a *App) onPrompt(mode ui.PromptMode, text string) {
	a.hidePrompt()
	switch mode {
	case ui.PromptFilter:
		if a.current != pageConversations {
			a.pages.Push(pageConversations)
		}
		a.convList.SetFilter(text)
	case ui.PromptSearch:
		a.runSearch(text)
	case ui.PromptCommand:
		a.runCommand(ParseCommand(text))
	}
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.Stop()
	case "help":
		a.pages.Push(pageHelp)
	case "open":
		id, ok := a.vm.FindConversation(cmd.Args)
		if !ok {
			a.vm.Flash.Warn(fmt.Sprintf("No conversation matches %q", cmd.Args))
			return
		}
		a.open(id)
	case "search":
		a.runSearch(cmd.Args)
	case "admin":
		if cmd.Args == "" {
			a.vm.Flash.Warn("Usage: :admin <message>")
			return
		}
		go func() {
			if err := a.vm.ContactAdmin(a.ctx, cmd.Args); err != nil {
				a.fail(err)
			}
			a.request(refreshConversations)
		}()
	case "attach":
		path, caption := SplitFirst(cmd.Args)
		if path == "" {
			a.vm.Flash.Warn("Usage: :attach <path> [caption]")
			return
		}
		go func() {
			if err := a.vm.SendFile(a.ctx, path, caption); err != nil {
				a.fail(err)
			}
			a.request(refreshMessages | refreshConversations)
		}()
	case "refresh":
		a.refreshNow()
	case "clear":
		a.dismissError()
	case "logout":
		go func() {
			err := a.vm.Logout(a.ctx)
			a.app.QueueUpdateDraw(func() {
				if err != nil {
					a.fail(err)
					return
				}
				a.vm.Flash.Info("Logged out")
				a.syncPage()
				a.render()
			})
		}()
	default:
		a.vm.Flash.Warn(fmt.Sprintf("Unknown command %q", cmd.Name))
	}
}

// open makes id the active conversation and shows its thread.
func (a *App) open(id int64) {
	go func() {
		err := a.vm.Open(a.ctx, id)
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.fail(err)
				return
			}
			a.bindThread()
			a.pages.Push(pageThread)
		})
	}()
}

// bindThread points the thread view at the active conversation.
func (a *App) bindThread() {
	active := a.vm.Active()
	if active == nil {
		return
	}
	a.thread.SetConversation(active.ID, active.PeerName)
	a.thread.Update(a.vm.ThreadMessages(), a.vm.Self())
}

func (a *App) showDetails(id int64) {
	if id == 0 {
		return
	}
	for _, c := range a.vm.Conversations() {
		if c.ID == id {
			a.detailsID = id
			a.details.Update(&c)
			a.pages.Push(pageDetails)
			return
		}
	}
}

func (a *App) showAttachment() {
	url := a.thread.LastAttachment()
	if url == "" {
		a.vm.Flash.Warn("No attachment in this conversation")
		return
	}
	a.attachment.Show(url)
	a.pages.Push(pageAttachment)
}

func (a *App) runSearch(query string) {
	if query == "" {
		return
	}
	go func() {
		hits, err := a.vm.Search(a.ctx, query)
		if err != nil {
			a.fail(err)
			return
		}
		names := make(map[int64]string)
		for _, c := range a.vm.Conversations() {
			names[c.ID] = c.PeerName
		}
		a.app.QueueUpdateDraw(func() {
			a.search.Update(query, hits, names)
			a.pages.Push(pageSearch)
		})
	}()
}

func (a *App) refreshNow() {
	go func() {
		if err := a.vm.LoadConversations(a.ctx, true); err != nil {
			a.fail(err)
		}
		a.request(refreshAll)
	}()
}

func (a *App) dismissError() {
	go func() {
		if err := a.vm.DismissError(a.ctx); err != nil {
			a.fail(err)
			return
		}
		a.vm.Flash.Clear()
	}()
}

// fail flashes err using the daemon's message when it is a gRPC status.
func (a *App) fail(err error) {
	if err == nil || a.ctx.Err() != nil {
		return
	}
	a.vm.Flash.Err(errors.New(errMessage(err)))
}

func errMessage(err error) string {
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}

// syncPage switches between the login form and the conversation list when
// the daemon's session state disagrees with what is shown.
func (a *App) syncPage() {
	authed := a.vm.Authenticated()
	switch {
	case !authed && a.current != pageLogin:
		a.pages.Reset(pageLogin)
	case authed && (a.current == pageLogin || a.current == ""):
		a.pages.Reset(pageConversations)
	}
}

// render pushes view model state into the views. Runs on the UI goroutine.
func (a *App) render() {
	st := a.vm.Status()
	convs := a.vm.Conversations()

	data := &ui.ProfileData{Profile: a.profile, Status: "disconnected", Unread: a.vm.Unread(), Conversations: len(convs)}
	if st != nil {
		data.Status = st.Status
		data.Cached = st.CachedMessages
		data.Uptime = msDuration(st.UptimeMs)
		data.Loading = st.Loading
		if st.User != nil {
			data.User = st.User.DisplayName()
		}
		if len(convs) == 0 {
			data.Conversations = st.ConversationCount
		}
	}
	a.info.Update(data)
	a.logo.Render(data.Unread > 0)

	a.convList.Update(convs)

	if active := a.vm.ActiveID(); active != 0 && a.pages.Contains(pageThread) {
		if active != a.thread.ConversationID() {
			a.bindThread()
		} else {
			a.thread.Update(a.vm.ThreadMessages(), a.vm.Self())
		}
	}
	if a.current == pageDetails {
		for _, c := range convs {
			if c.ID == a.detailsID {
				a.details.Update(&c)
			}
		}
	}
}

