// Package sync keeps an eventually-consistent mirror of the user's
// conversations and messages by polling the shop backend.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matheus3301/tilechat/internal/auth"
	"github.com/matheus3301/tilechat/internal/bus"
	"github.com/matheus3301/tilechat/internal/chat"
	"github.com/matheus3301/tilechat/internal/config"
	"github.com/matheus3301/tilechat/internal/metrics"
	"github.com/matheus3301/tilechat/internal/status"
	"github.com/matheus3301/tilechat/internal/store"
)

// ChatAPI is the subset of the backend the synchronizer talks to.
type ChatAPI interface {
	ListConversations(ctx context.Context, token string) ([]chat.Conversation, error)
	ListMessages(ctx context.Context, token string, conversationID int64) ([]chat.Message, error)
	SendMessage(ctx context.Context, token string, req chat.SendMessageRequest) (*chat.Message, error)
	MarkRead(ctx context.Context, token string, ids []int64) error
	ContactAdmin(ctx context.Context, token, message string, attachment *chat.Attachment) (json.RawMessage, error)
}

// Cache is the local write-through snapshot. *store.DB implements it.
type Cache interface {
	ReplaceConversations(self int64, convs []chat.Conversation) error
	ListConversations() ([]store.ConversationRecord, error)
	ReplaceMessages(conversationID int64, msgs []chat.Message) error
	ListMessages(conversationID int64, limit int) ([]chat.Message, error)
	RecordSend(e *store.SendEntry) error
	MarkSendSent(clientMsgID string, serverMsgID int64) error
	MarkSendFailed(clientMsgID, errMsg string) error
	UpdateCheckpoint(key, value string) error
}

// Config controls polling.
type Config struct {
	ConversationsInterval time.Duration
	MessagesInterval      time.Duration
	Backoff               bool
	MaxBackoff            time.Duration
}

// DefaultConfig polls conversations every 30s and messages every 5s.
func DefaultConfig() Config {
	return Config{
		ConversationsInterval: 30 * time.Second,
		MessagesInterval:      5 * time.Second,
		Backoff:               true,
		MaxBackoff:            5 * time.Minute,
	}
}

// ConfigFrom converts the [poll] section of the config file.
func ConfigFrom(p config.PollConfig) Config {
	return Config{
		ConversationsInterval: p.ConversationsInterval.Duration,
		MessagesInterval:      p.MessagesInterval.Duration,
		Backoff:               p.Backoff,
		MaxBackoff:            p.MaxBackoff.Duration,
	}
}

type Option func(*Synchronizer)

func WithCache(c Cache) Option {
	return func(s *Synchronizer) { s.cache = c }
}

func WithBus(b *bus.Bus) Option {
	return func(s *Synchronizer) { s.bus = b }
}

func WithMachine(m *status.Machine) Option {
	return func(s *Synchronizer) { s.machine = m }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// Synchronizer owns the in-memory conversation list, the active
// conversation and its message list.
type Synchronizer struct {
	api     ChatAPI
	creds   auth.Provider
	cfg     Config
	cache   Cache
	bus     *bus.Bus
	machine *status.Machine
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu            stdsync.RWMutex
	conversations []chat.Conversation
	active        *chat.Conversation
	messages      []chat.Message
	messagesFor   int64
	unread        int
	loading       int
	lastErr       string
	// gen is bumped by reset; fetches started under an older generation
	// must not write their results back.
	gen           uint64

	convInFlight atomic.Int32
	msgInFlight  inflight

	loopMu     stdsync.Mutex
	runCtx     context.Context
	polling    bool
	convCancel context.CancelFunc
	msgCancel  context.CancelFunc
	msgLoopFor int64
	wg         stdsync.WaitGroup
}

// New creates a synchronizer. Zero intervals fall back to DefaultConfig.
func New(api ChatAPI, creds auth.Provider, cfg Config, opts ...Option) *Synchronizer {
	def := DefaultConfig()
	if cfg.ConversationsInterval <= 0 {
		cfg.ConversationsInterval = def.ConversationsInterval
	}
	if cfg.MessagesInterval <= 0 {
		cfg.MessagesInterval = def.MessagesInterval
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	s := &Synchronizer{
		api:    api,
		creds:  creds,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchConversations replaces the conversation list with the server's.
// Failures populate the error slot and keep the previous list.
func (s *Synchronizer) FetchConversations(ctx context.Context) error {
	s.convInFlight.Add(1)
	defer s.convInFlight.Add(-1)
	return s.fetchConversations(ctx, true)
}

func (s *Synchronizer) fetchConversations(ctx context.Context, surface bool) error {
	token := s.creds.Token()
	if token == "" {
		return ErrNotAuthenticated
	}

	gen := s.generation()
	s.beginLoading()
	defer s.endLoading()

	convs, err := s.api.ListConversations(ctx, token)
	if err != nil {
		if ctx.Err() == nil {
			if surface {
				s.setError("failed to load conversations", err)
			} else {
				s.logger.Warn("conversation refresh failed", zap.Error(err))
			}
		}
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	prevUnread := s.unread
	prevActive := activeID(s.active)
	s.conversations = convs
	s.unread = chat.UnreadTotal(convs)
	switch {
	case s.active == nil && len(convs) > 0:
		c := mostRecent(convs).Clone()
		s.active = &c
	case s.active != nil:
		for _, c := range convs {
			if c.ID == s.active.ID {
				cp := c.Clone()
				s.active = &cp
				break
			}
		}
	}
	unread := s.unread
	newActive := activeID(s.active)
	s.mu.Unlock()

	s.metrics.SetUnread(unread)
	s.bus.Emit(bus.ConversationsUpdated, map[string]any{"count": len(convs), "unread": unread})
	if unread != prevUnread {
		s.bus.Emit(bus.UnreadChanged, map[string]any{"unread": unread, "has_unread": unread > 0})
	}
	if newActive != prevActive {
		s.bus.Emit(bus.ActiveChanged, map[string]any{"conversation_id": newActive})
		s.restartMessageLoop()
	}

	if s.cache != nil {
		if err := s.cache.ReplaceConversations(s.creds.UserID(), convs); err != nil {
			s.logger.Error("cache conversations", zap.Error(err))
		} else {
			_ = s.cache.UpdateCheckpoint(store.CheckpointConversations, time.Now().UTC().Format(time.RFC3339))
		}
	}
	return nil
}

// SetActiveConversation selects the conversation subsequent message
// fetches target. nil clears the selection.
func (s *Synchronizer) SetActiveConversation(c *chat.Conversation) {
	s.mu.Lock()
	prev := activeID(s.active)
	if c == nil {
		s.active = nil
	} else {
		cp := c.Clone()
		s.active = &cp
	}
	next := activeID(s.active)
	s.mu.Unlock()

	if prev != next {
		s.bus.Emit(bus.ActiveChanged, map[string]any{"conversation_id": next})
		s.restartMessageLoop()
	}
}

// FetchMessages replaces the message list with the messages of
// conversationID, then marks the viewer's unread ones as read. The
// mark-as-read outcome never fails the fetch.
func (s *Synchronizer) FetchMessages(ctx context.Context, conversationID int64) error {
	s.msgInFlight.acquire(conversationID, false)
	defer s.msgInFlight.release(conversationID)
	return s.fetchMessages(ctx, conversationID, true)
}

func (s *Synchronizer) fetchMessages(ctx context.Context, conversationID int64, surface bool) error {
	token := s.creds.Token()
	if token == "" {
		return ErrNotAuthenticated
	}

	gen := s.generation()
	s.beginLoading()
	msgs, err := s.api.ListMessages(ctx, token, conversationID)
	s.endLoading()
	if err != nil {
		if ctx.Err() == nil {
			if surface {
				s.setError("failed to load messages", err)
			} else {
				s.logger.Warn("message refresh failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
			}
		}
		return fmt.Errorf("failed to load messages: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}

	self := s.creds.UserID()
	var unreadIDs []int64
	for _, m := range msgs {
		if m.NeedsRead(self) {
			unreadIDs = append(unreadIDs, m.ID)
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	s.messages = msgs
	s.messagesFor = conversationID
	s.mu.Unlock()

	s.bus.Emit(bus.MessagesUpdated, map[string]any{"conversation_id": conversationID, "count": len(msgs)})
	s.cacheMessages(conversationID, msgs)

	if len(unreadIDs) > 0 {
		_ = s.MarkAsRead(ctx, unreadIDs)
	}
	return nil
}

// MarkAsRead tells the backend the viewer has seen ids. On success the
// matching local messages advance to read and conversations are
// refreshed. Failures are logged and returned but never reach the error
// slot.
func (s *Synchronizer) MarkAsRead(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	token := s.creds.Token()
	if token == "" {
		return ErrNotAuthenticated
	}

	gen := s.generation()
	err := s.api.MarkRead(ctx, token, ids)
	s.metrics.MarkRead(err)
	if err != nil {
		s.logger.Warn("mark as read failed", zap.Int64s("message_ids", ids), zap.Error(err))
		return fmt.Errorf("mark as read: %w", err)
	}

	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	updated := make([]chat.Message, len(s.messages))
	for i, m := range s.messages {
		if _, ok := want[m.ID]; ok {
			m.Status = m.Status.Advance(chat.StatusRead)
		}
		updated[i] = m
	}
	s.messages = updated
	owner := s.messagesFor
	s.mu.Unlock()

	readIDs := make([]any, len(ids))
	for i, id := range ids {
		readIDs[i] = id
	}
	s.bus.Emit(bus.MessagesRead, map[string]any{"conversation_id": owner, "message_ids": readIDs})
	s.cacheMessages(owner, updated)

	if err := s.fetchConversations(ctx, false); err != nil && !errors.Is(err, ErrNotAuthenticated) {
		s.logger.Debug("conversation refresh after mark-read", zap.Error(err))
	}
	return nil
}

// SendMessage posts a message, as multipart when an attachment is present.
// A zero ReceiverID targets the active conversation's peer. On success the
// active conversation's messages and the conversation list are refreshed;
// on failure the error slot is set and nothing is added locally.
func (s *Synchronizer) SendMessage(ctx context.Context, req chat.SendMessageRequest) error {
	token := s.creds.Token()
	if token == "" {
		return ErrNotAuthenticated
	}

	if req.ReceiverID <= 0 {
		s.mu.RLock()
		if s.active != nil {
			req.ReceiverID = s.active.Peer(s.creds.UserID())
		}
		s.mu.RUnlock()
		if req.ReceiverID <= 0 {
			s.setError("failed to send message", ErrNoActiveConversation)
			return fmt.Errorf("failed to send message: %w", ErrNoActiveConversation)
		}
	}
	if req.Content == "" && req.Attachment == nil {
		s.setError("failed to send message", ErrEmptyMessage)
		return fmt.Errorf("failed to send message: %w", ErrEmptyMessage)
	}

	clientID := s.recordSend(store.SendKindMessage, req.ReceiverID, req.Content, req.Attachment != nil)

	s.beginLoading()
	msg, err := s.api.SendMessage(ctx, token, req)
	s.endLoading()
	s.metrics.Send(store.SendKindMessage, err)
	if err != nil {
		s.sendFailed(clientID, store.SendKindMessage, err)
		s.setError("failed to send message", err)
		return fmt.Errorf("failed to send message: %w", err)
	}

	var serverID int64
	if msg != nil {
		serverID = msg.ID
	}
	s.sendSent(clientID, store.SendKindMessage, serverID)

	s.mu.RLock()
	active := activeID(s.active)
	s.mu.RUnlock()

	var g errgroup.Group
	if active != 0 {
		g.Go(func() error {
			return s.fetchMessages(ctx, active, false)
		})
	}
	g.Go(func() error {
		return s.fetchConversations(ctx, false)
	})
	if err := g.Wait(); err != nil {
		s.logger.Debug("refresh after send", zap.Error(err))
	}
	return nil
}

// ContactAdmin sends a message to the shop admins through the fixed admin
// endpoint, then refreshes conversations so the admin thread appears.
func (s *Synchronizer) ContactAdmin(ctx context.Context, message string, attachment *chat.Attachment) error {
	token := s.creds.Token()
	if token == "" {
		return ErrNotAuthenticated
	}
	if message == "" && attachment == nil {
		s.setError("failed to contact admin", ErrEmptyMessage)
		return fmt.Errorf("failed to contact admin: %w", ErrEmptyMessage)
	}

	clientID := s.recordSend(store.SendKindAdminContact, 0, message, attachment != nil)

	s.beginLoading()
	_, err := s.api.ContactAdmin(ctx, token, message, attachment)
	s.endLoading()
	s.metrics.Send(store.SendKindAdminContact, err)
	if err != nil {
		s.sendFailed(clientID, store.SendKindAdminContact, err)
		s.setError("failed to contact admin", err)
		return fmt.Errorf("failed to contact admin: %w", err)
	}
	s.sendSent(clientID, store.SendKindAdminContact, 0)

	if err := s.fetchConversations(ctx, false); err != nil {
		s.logger.Debug("refresh after admin contact", zap.Error(err))
	}
	return nil
}

func (s *Synchronizer) recordSend(kind string, receiver int64, body string, hasAttachment bool) string {
	clientID := uuid.NewString()
	if s.cache != nil {
		if err := s.cache.RecordSend(&store.SendEntry{
			ClientMsgID:   clientID,
			Kind:          kind,
			ReceiverID:    receiver,
			Body:          body,
			HasAttachment: hasAttachment,
		}); err != nil {
			s.logger.Error("record send", zap.String("client_msg_id", clientID), zap.Error(err))
		}
	}
	return clientID
}

func (s *Synchronizer) sendFailed(clientID, kind string, err error) {
	s.logger.Error("send failed", zap.String("client_msg_id", clientID), zap.String("kind", kind), zap.Error(err))
	if s.cache != nil {
		if cerr := s.cache.MarkSendFailed(clientID, describe(err)); cerr != nil {
			s.logger.Error("mark send failed", zap.String("client_msg_id", clientID), zap.Error(cerr))
		}
	}
	s.bus.Emit(bus.SendFailed, map[string]any{"client_msg_id": clientID, "kind": kind, "error": describe(err)})
}

func (s *Synchronizer) sendSent(clientID, kind string, serverID int64) {
	if s.cache != nil {
		if err := s.cache.MarkSendSent(clientID, serverID); err != nil {
			s.logger.Error("mark send sent", zap.String("client_msg_id", clientID), zap.Error(err))
		}
	}
	s.bus.Emit(bus.SendAck, map[string]any{"client_msg_id": clientID, "kind": kind, "server_msg_id": serverID})
}

func (s *Synchronizer) cacheMessages(conversationID int64, msgs []chat.Message) {
	if s.cache == nil || conversationID == 0 {
		return
	}
	if err := s.cache.ReplaceMessages(conversationID, msgs); err != nil {
		s.logger.Error("cache messages", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return
	}
	_ = s.cache.UpdateCheckpoint(fmt.Sprintf(store.CheckpointMessagesFmt, conversationID), time.Now().UTC().Format(time.RFC3339))
}

func (s *Synchronizer) setError(op string, err error) {
	msg := op + ": " + describe(err)
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
	s.bus.Emit(bus.ErrorRaised, map[string]any{"message": msg})
}

func (s *Synchronizer) beginLoading() {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
}

func (s *Synchronizer) endLoading() {
	s.mu.Lock()
	s.loading--
	s.mu.Unlock()
}

func (s *Synchronizer) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// reset drops all in-memory state (logout).
func (s *Synchronizer) reset() {
	s.mu.Lock()
	hadUnread := s.unread != 0
	s.conversations = nil
	s.active = nil
	s.messages = nil
	s.messagesFor = 0
	s.unread = 0
	s.lastErr = ""
	s.gen++
	s.mu.Unlock()

	s.metrics.SetUnread(0)
	if hadUnread {
		s.bus.Emit(bus.UnreadChanged, map[string]any{"unread": 0, "has_unread": false})
	}
}

// warm seeds in-memory state from the cache so a restarted daemon has
// something to show before the first poll lands.
func (s *Synchronizer) warm() {
	if s.cache == nil {
		return
	}
	records, err := s.cache.ListConversations()
	if err != nil {
		s.logger.Warn("warm conversations from cache", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}
	convs := make([]chat.Conversation, len(records))
	for i, r := range records {
		convs[i] = r.Conversation
	}
	active := mostRecent(convs).Clone()
	msgs, err := s.cache.ListMessages(active.ID, 0)
	if err != nil {
		s.logger.Warn("warm messages from cache", zap.Error(err))
	}

	s.mu.Lock()
	s.conversations = convs
	s.unread = chat.UnreadTotal(convs)
	if s.active == nil {
		s.active = &active
		if msgs != nil {
			s.messages = msgs
			s.messagesFor = active.ID
		}
	}
	unread := s.unread
	s.mu.Unlock()

	s.metrics.SetUnread(unread)
	s.logger.Info("warmed from cache", zap.Int("conversations", len(convs)), zap.Int("messages", len(msgs)))
}

func activeID(c *chat.Conversation) int64 {
	if c == nil {
		return 0
	}
	return c.ID
}

// mostRecent returns the conversation with the latest UpdatedAt; ties keep
// server order. convs must be non-empty.
func mostRecent(convs []chat.Conversation) chat.Conversation {
	best := convs[0]
	for _, c := range convs[1:] {
		if c.UpdatedAt.After(best.UpdatedAt) {
			best = c
		}
	}
	return best
}
