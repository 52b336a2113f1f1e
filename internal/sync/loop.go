package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/matheus3301/tilechat/internal/metrics"
	"github.com/matheus3301/tilechat/internal/status"
)

const (
	loopConversations = "conversations"
	loopMessages      = "messages"
)

// Start warms state from the cache and begins polling if credentials are
// present. Loops stop when ctx is cancelled or Stop is called.
func (s *Synchronizer) Start(ctx context.Context) {
	s.loopMu.Lock()
	s.runCtx = ctx
	s.loopMu.Unlock()

	if s.creds.Token() != "" {
		s.warm()
	}
	s.AuthChanged()
}

// Stop cancels both loops and waits for them to exit.
func (s *Synchronizer) Stop() {
	s.loopMu.Lock()
	s.cancelLoopsLocked()
	s.runCtx = nil
	s.polling = false
	s.loopMu.Unlock()

	s.wg.Wait()
}

// AuthChanged restarts both loops after a login, or stops them and drops
// in-memory state after a logout.
func (s *Synchronizer) AuthChanged() {
	authed := s.creds.Token() != ""

	s.loopMu.Lock()
	s.cancelLoopsLocked()
	s.polling = authed && s.runCtx != nil
	s.loopMu.Unlock()

	if !authed {
		s.wg.Wait()
		s.reset()
		s.transition(status.Unauthenticated)
		return
	}
	s.transition(status.Polling)

	s.loopMu.Lock()
	if s.polling {
		ctx, cancel := context.WithCancel(s.runCtx)
		s.convCancel = cancel
		s.wg.Add(1)
		go s.runLoop(ctx, loopConversations, s.cfg.ConversationsInterval, s.pollConversations)
	}
	s.loopMu.Unlock()

	s.restartMessageLoop()
}

// restartMessageLoop (re)binds the message loop to the active conversation.
// The active id is read under loopMu so concurrent switches bind in order.
func (s *Synchronizer) restartMessageLoop() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()

	s.mu.RLock()
	active := activeID(s.active)
	s.mu.RUnlock()

	if s.msgCancel != nil && s.msgLoopFor == active && s.polling {
		return
	}
	if s.msgCancel != nil {
		s.msgCancel()
		s.msgCancel = nil
	}
	s.msgLoopFor = 0
	if !s.polling || active == 0 {
		return
	}

	ctx, cancel := context.WithCancel(s.runCtx)
	s.msgCancel = cancel
	s.msgLoopFor = active
	s.wg.Add(1)
	go s.runLoop(ctx, loopMessages, s.cfg.MessagesInterval, func(ctx context.Context) error {
		return s.pollMessages(ctx, active)
	})
}

func (s *Synchronizer) cancelLoopsLocked() {
	if s.convCancel != nil {
		s.convCancel()
		s.convCancel = nil
	}
	if s.msgCancel != nil {
		s.msgCancel()
		s.msgCancel = nil
	}
	s.msgLoopFor = 0
}

// runLoop fires tick immediately and then every interval. After a failed
// tick the delay grows exponentially up to MaxBackoff when backoff is on.
func (s *Synchronizer) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	defer s.wg.Done()

	var bo *backoff.ExponentialBackOff
	if s.cfg.Backoff {
		bo = backoff.NewExponentialBackOff()
		bo.InitialInterval = interval
		bo.MaxInterval = s.cfg.MaxBackoff
		bo.MaxElapsedTime = 0
		bo.Reset()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		err := tick(ctx)
		if ctx.Err() != nil {
			return
		}

		next := interval
		if bo != nil {
			if err != nil {
				if d := bo.NextBackOff(); d != backoff.Stop && d > next {
					next = d
				}
			} else {
				bo.Reset()
			}
		}
		if err != nil {
			s.logger.Debug("poll failed", zap.String("loop", name), zap.Duration("next", next), zap.Error(err))
		}
		timer.Reset(next)
	}
}

// pollConversations is one conversation-loop tick. It is skipped while
// another conversation fetch is in flight.
func (s *Synchronizer) pollConversations(ctx context.Context) error {
	if !s.convInFlight.CompareAndSwap(0, 1) {
		s.metrics.Poll(loopConversations, metrics.PollSkipped)
		return nil
	}
	defer s.convInFlight.Add(-1)

	err := s.fetchConversations(ctx, true)
	s.observePoll(ctx, loopConversations, err)
	return err
}

// pollMessages is one message-loop tick for conversationID.
func (s *Synchronizer) pollMessages(ctx context.Context, conversationID int64) error {
	if !s.msgInFlight.acquire(conversationID, true) {
		s.metrics.Poll(loopMessages, metrics.PollSkipped)
		return nil
	}
	defer s.msgInFlight.release(conversationID)

	err := s.fetchMessages(ctx, conversationID, true)
	s.observePoll(ctx, loopMessages, err)
	return err
}

func (s *Synchronizer) observePoll(ctx context.Context, loop string, err error) {
	if ctx.Err() != nil || errors.Is(err, ErrNotAuthenticated) {
		return
	}
	if err != nil {
		s.metrics.Poll(loop, metrics.PollError)
		s.degrade(true)
		return
	}
	s.metrics.Poll(loop, metrics.PollOK)
	if loop == loopConversations {
		s.degrade(false)
	}
}

// degrade moves between Polling and Degraded. Other states are left alone.
func (s *Synchronizer) degrade(failing bool) {
	if s.machine == nil {
		return
	}
	cur := s.machine.Current()
	switch {
	case failing && cur == status.Polling:
		s.transition(status.Degraded)
	case !failing && cur == status.Degraded:
		s.transition(status.Polling)
	}
}

func (s *Synchronizer) transition(to status.State) {
	if s.machine == nil {
		return
	}
	if err := s.machine.Transition(to); err != nil {
		s.logger.Debug("status transition", zap.String("to", string(to)), zap.Error(err))
	}
}

// inflight counts running message fetches per conversation.
type inflight struct {
	mu stdsync.Mutex
	n  map[int64]int
}

// acquire registers a fetch for id. With exclusive set it fails instead
// when one is already running for the same id.
func (f *inflight) acquire(id int64, exclusive bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exclusive && f.n[id] > 0 {
		return false
	}
	if f.n == nil {
		f.n = make(map[int64]int)
	}
	f.n[id]++
	return true
}

func (f *inflight) release(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n[id]--; f.n[id] <= 0 {
		delete(f.n, id)
	}
}
