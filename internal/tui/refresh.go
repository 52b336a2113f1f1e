package tui

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/matheus3301/tilechat/internal/bus"
	"github.com/matheus3301/tilechat/internal/tui/ui"
)

// refreshKind is a bit set of view model parts to reload.
type refreshKind uint8

const (
	refreshStatus refreshKind = 1 << iota
	refreshConversations
	refreshMessages

	refreshAll = refreshStatus | refreshConversations | refreshMessages
)

// statusInterval is how often the header is refreshed without events.
const statusInterval = 5 * time.Second

// refreshFor maps a daemon event kind to the parts it invalidates.
func refreshFor(kind string) refreshKind {
	switch kind {
	case bus.ConversationsUpdated, bus.UnreadChanged:
		return refreshConversations | refreshStatus
	case bus.ActiveChanged:
		return refreshConversations | refreshMessages
	case bus.MessagesUpdated, bus.MessagesRead, bus.SendAck:
		return refreshMessages
	case bus.SendFailed, bus.ErrorRaised, bus.StatusChanged:
		return refreshStatus
	}
	switch {
	case strings.HasPrefix(kind, "chat."):
		return refreshConversations
	case strings.HasPrefix(kind, "message."):
		return refreshMessages
	default:
		return refreshStatus
	}
}

// request schedules a reload. Requests made while one is pending are
// merged into it.
func (a *App) request(k refreshKind) {
	a.mu.Lock()
	a.pending |= k
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *App) take() refreshKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := a.pending
	a.pending = 0
	return k
}

// refreshLoop serves reload requests and refreshes the status on a timer
// in case events are missed.
func (a *App) refreshLoop() {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.request(refreshStatus)
		case <-a.wake:
		}
		if k := a.take(); k != 0 {
			a.reload(k)
		}
	}
}

func (a *App) reload(k refreshKind) {
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()

	wasAuthed := a.vm.Authenticated()
	if k&refreshStatus != 0 {
		if err := a.vm.LoadStatus(ctx); err != nil {
			a.fail(err)
		}
	}
	authed := a.vm.Authenticated()
	if authed && !wasAuthed {
		k |= refreshConversations | refreshMessages
	}
	if authed {
		if k&refreshConversations != 0 {
			if err := a.vm.LoadConversations(ctx, false); err != nil {
				a.fail(err)
			}
		}
		if k&refreshMessages != 0 {
			if err := a.vm.LoadMessages(ctx); err != nil {
				a.fail(err)
			}
		}
	}

	a.app.QueueUpdateDraw(func() {
		a.syncPage()
		a.render()
	})
}

// watchLoop follows the daemon's event stream, reconnecting with
// exponential backoff when it drops.
func (a *App) watchLoop() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		err := a.watchOnce(bo)
		if a.ctx.Err() != nil {
			return
		}
		if err != nil {
			a.vm.Flash.Warn("Event stream lost: " + errMessage(err))
		}
		select {
		case <-time.After(bo.NextBackOff()):
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) watchOnce(bo backoff.BackOff) error {
	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()

	events, errs, err := a.client.WatchEvents(ctx, "chat.", "message.", "session.")
	if err != nil {
		return err
	}
	bo.Reset()
	a.request(refreshAll)

	for ev := range events {
		a.request(refreshFor(ev.Kind))
	}
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

// flashLoop redraws the flash bar on new messages and when the current one
// expires.
func (a *App) flashLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var shown ui.FlashMessage
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.vm.Flash.Watch():
		case <-ticker.C:
		}
		msg := a.vm.Flash.GetMessage()
		var cur ui.FlashMessage
		if msg != nil {
			cur = *msg
		}
		if cur == shown {
			continue
		}
		shown = cur
		a.app.QueueUpdateDraw(func() {
			a.flash.Update(msg)
		})
	}
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
