package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matheus3301/tilechat/internal/bus"
	"github.com/matheus3301/tilechat/internal/chat"
	"github.com/matheus3301/tilechat/internal/httpclient"
	"github.com/matheus3301/tilechat/internal/status"
	"github.com/matheus3301/tilechat/internal/store"
)

const me = int64(3)

type fakeCreds struct {
	mu    stdsync.RWMutex
	token string
	id    int64
}

func (c *fakeCreds) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *fakeCreds) UserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *fakeCreds) set(token string, id int64) {
	c.mu.Lock()
	c.token, c.id = token, id
	c.mu.Unlock()
}

type fakeAPI struct {
	mu stdsync.Mutex

	convs    []chat.Conversation
	convErr  error
	msgs     map[int64][]chat.Message
	msgErr   error
	markErr  error
	sendErr  error
	adminErr error
	// convGate, when set, blocks ListConversations until closed.
	convGate chan struct{}

	convCalls  int
	msgCallIDs []int64
	markCalls  [][]int64
	sent       []chat.SendMessageRequest
	admin      []string
	tokens     []string
}

func (f *fakeAPI) ListConversations(ctx context.Context, token string) ([]chat.Conversation, error) {
	f.mu.Lock()
	gate := f.convGate
	f.convCalls++
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return nil, f.convErr
	}
	out := make([]chat.Conversation, len(f.convs))
	for i, c := range f.convs {
		out[i] = c.Clone()
	}
	return out, nil
}

func (f *fakeAPI) ListMessages(_ context.Context, _ string, id int64) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgCallIDs = append(f.msgCallIDs, id)
	if f.msgErr != nil {
		return nil, f.msgErr
	}
	return append([]chat.Message(nil), f.msgs[id]...), nil
}

func (f *fakeAPI) SendMessage(_ context.Context, _ string, req chat.SendMessageRequest) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &chat.Message{ID: 500, Receiver: req.ReceiverID, Content: req.Content, Status: chat.StatusSent}, nil
}

func (f *fakeAPI) MarkRead(_ context.Context, _ string, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, append([]int64(nil), ids...))
	return f.markErr
}

func (f *fakeAPI) ContactAdmin(_ context.Context, _ string, message string, _ *chat.Attachment) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admin = append(f.admin, message)
	if f.adminErr != nil {
		return nil, f.adminErr
	}
	return json.RawMessage(`{"id":1}`), nil
}

func (f *fakeAPI) counts() (conv int, msg int, mark int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convCalls, len(f.msgCallIDs), len(f.markCalls)
}

func at(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func newTestSync(t *testing.T, api *fakeAPI, opts ...Option) (*Synchronizer, *fakeCreds) {
	t.Helper()
	creds := &fakeCreds{token: "tok", id: me}
	cfg := Config{ConversationsInterval: time.Hour, MessagesInterval: time.Hour}
	return New(api, creds, cfg, opts...), creds
}

func TestUnreadAggregateIsSumOfCounters(t *testing.T) {
	api := &fakeAPI{convs: []chat.Conversation{
		{ID: 1, Participants: []int64{me, 9}, UnreadCount: 2},
		{ID: 2, Participants: []int64{me, 8}, UnreadCount: 0},
		{ID: 3, Participants: []int64{me, 7}, UnreadCount: 5},
	}}
	s, _ := newTestSync(t, api)

	require.NoError(t, s.FetchConversations(context.Background()))
	st := s.Snapshot()
	require.Equal(t, 7, st.UnreadCount)
	require.True(t, st.HasUnread)

	api.mu.Lock()
	api.convs = []chat.Conversation{{ID: 1, Participants: []int64{me, 9}}}
	api.mu.Unlock()

	require.NoError(t, s.FetchConversations(context.Background()))
	st = s.Snapshot()
	require.Equal(t, 0, st.UnreadCount)
	require.False(t, st.HasUnread)
}

func TestEmptyConversationListKeepsActiveNone(t *testing.T) {
	s, _ := newTestSync(t, &fakeAPI{})

	require.NoError(t, s.FetchConversations(context.Background()))
	st := s.Snapshot()
	require.Nil(t, st.Active)
	require.False(t, st.HasUnread)
	require.Empty(t, st.Conversations)
}

func TestDefaultActiveIsMostRecentlyUpdated(t *testing.T) {
	api := &fakeAPI{convs: []chat.Conversation{
		{ID: 1, Participants: []int64{me, 9}, UpdatedAt: at(100)},
		{ID: 2, Participants: []int64{me, 8}, UpdatedAt: at(300)},
		{ID: 3, Participants: []int64{me, 7}, UpdatedAt: at(300)},
	}}
	s, _ := newTestSync(t, api)

	require.NoError(t, s.FetchConversations(context.Background()))
	st := s.Snapshot()
	require.NotNil(t, st.Active)
	require.EqualValues(t, 2, st.Active.ID, "ties keep server order")
	require.EqualValues(t, 1, st.Conversations[0].ID, "list stays in server order")
}

func TestFetchConversationsRefreshesActiveInPlace(t *testing.T) {
	api := &fakeAPI{convs: []chat.Conversation{{ID: 1, Participants: []int64{me, 9}, UnreadCount: 1}}}
	s, _ := newTestSync(t, api)

	require.NoError(t, s.FetchConversations(context.Background()))
	api.mu.Lock()
	api.convs[0].UnreadCount = 0
	api.mu.Unlock()
	require.NoError(t, s.FetchConversations(context.Background()))

	st := s.Snapshot()
	require.EqualValues(t, 1, st.Active.ID)
	require.Equal(t, 0, st.Active.UnreadCount)
}

func TestFetchConversationsIsIdempotent(t *testing.T) {
	api := &fakeAPI{convs: []chat.Conversation{
		{ID: 1, Participants: []int64{me, 9}, UnreadCount: 2, UpdatedAt: at(10),
			LastMessage: &chat.Message{ID: 4, Content: "hi", Status: chat.StatusDelivered}},
		{ID: 2, Participants: []int64{me, 8}, UpdatedAt: at(5)},
	}}
	s, _ := newTestSync(t, api)

	require.NoError(t, s.FetchConversations(context.Background()))
	first := s.Snapshot()
	require.NoError(t, s.FetchConversations(context.Background()))
	second := s.Snapshot()

	require.Equal(t, first.Conversations, second.Conversations)
	require.Equal(t, first.UnreadCount, second.UnreadCount)
}

func TestFetchConversationsFailureKeepsStaleState(t *testing.T) {
	api := &fakeAPI{convs: []chat.Conversation{{ID: 1, Participants: []int64{me, 9}, UnreadCount: 1}}}
	s, _ := newTestSync(t, api)
	require.NoError(t, s.FetchConversations(context.Background()))

	api.mu.Lock()
	api.convErr = &httpclient.APIError{StatusCode: 500, Status: "500 Internal Server Error", Message: "boom"}
	api.mu.Unlock()

	err := s.FetchConversations(context.Background())
	require.Error(t, err)

	st := s.Snapshot()
	require.Len(t, st.Conversations, 1)
	require.Equal(t, 1, st.UnreadCount)
	require.Equal(t, "failed to load conversations: boom", st.Error)

	s.ClearError()
	require.Empty(t, s.Snapshot().Error)
}

func TestNetworkErrorSaysServerNotResponding(t *testing.T) {
	api := &fakeAPI{convErr: fmt.Errorf("GET /x: %w: dial tcp: refused", httpclient.ErrNoResponse)}
	s, _ := newTestSync(t, api)

	require.ErrorIs(t, s.FetchConversations(context.Background()), httpclient.ErrNoResponse)
	require.Equal(t, "failed to load conversations: server not responding", s.Snapshot().Error)
}

func TestUnauthenticatedCallsShortCircuit(t *testing.T) {
	api := &fakeAPI{}
	s, creds := newTestSync(t, api)
	creds.set("", 0)

	ctx := context.Background()
	require.ErrorIs(t, s.FetchConversations(ctx), ErrNotAuthenticated)
	require.ErrorIs(t, s.FetchMessages(ctx, 1), ErrNotAuthenticated)
	require.ErrorIs(t, s.MarkAsRead(ctx, []int64{1}), ErrNotAuthenticated)
	require.ErrorIs(t, s.SendMessage(ctx, chat.SendMessageRequest{ReceiverID: 2, Content: "x"}), ErrNotAuthenticated)
	require.ErrorIs(t, s.ContactAdmin(ctx, "x", nil), ErrNotAuthenticated)

	conv, msg, mark := api.counts()
	require.Zero(t, conv+msg+mark)
	require.Empty(t, api.sent)
	require.Empty(t, api.admin)
	require.Empty(t, s.Snapshot().Error)
}

func TestFetchMessagesMarksUnreadAsRead(t *testing.T) {
	api := &fakeAPI{msgs: map[int64][]chat.Message{
		42: {{ID: 7, Sender: 9, Receiver: me, Status: chat.StatusSent}},
	}}
	s, _ := newTestSync(t, api)

	require.NoError(t, s.FetchMessages(context.Background(), 42))

	require.Equal(t, [][]int64{{7}}, api.markCalls)
	st := s.Snapshot()
	require.EqualValues(t, 42, st.MessagesFor)
	require.Len(t, st.Messages, 1)
	require.Equal(t, chat.StatusRead, st.Messages[0].Status)
}

func TestFetchMessagesMarksOnlyQualifyingIDs(t *testing.T) {
	api := &fakeAPI{msgs: map[int64][]chat.Message{
		5: {
			{ID: 1, Sender: 9, Receiver: me, Status: chat.StatusRead},
			{ID: 2, Sender: 9, Receiver: me, Status: chat.StatusDelivered},
			{ID: 3, Sender: me, Receiver: 9, Status: chat.StatusSent},
			{ID: 4, Sender: 9, Receiver: me, Status: chat.StatusSent},
		},
	}}
	s, _ := newTestSync(t, api)

	require.NoError(t, s.FetchMessages(context.Background(), 5))
	require.Equal(t, [][]int64{{2, 4}}, api.markCalls, "exactly one mark-read call, only for unread messages addressed to the viewer")

	st := s.Snapshot()
	require.Equal(t, chat.StatusSent, st.Messages[2].Status, "own message untouched")
}

func TestFetchMessagesWithNothingUnreadSkipsMarkRead(t *testing.T) {
	api := &fakeAPI{msgs: map[int64][]chat.Message{
		5: {{ID: 1, Sender: me, Receiver: 9, Status: chat.StatusSent}},
	}}
	s, _ := newTestSync(t, api)

	require.NoError(t, s.FetchMessages(context.Background(), 5))
	require.Empty(t, api.markCalls)
}

func TestFetchMessagesFailureSetsErrorSlot(t *testing.T) {
	api := &fakeAPI{msgErr: &httpclient.APIError{StatusCode: 404, Message: "Not found."}}
	s, _ := newTestSync(t, api)

	require.Error(t, s.FetchMessages(context.Background(), 5))
	require.Equal(t, "failed to load messages: Not found.", s.Snapshot().Error)
}

func TestMarkAsReadSuccessUpdatesExactlyThoseAndRefetches(t *testing.T) {
	api := &fakeAPI{msgs: map[int64][]chat.Message{
		5: {
			{ID: 1, Sender: me, Receiver: 9, Status: chat.StatusSent},
			{ID: 2, Sender: me, Receiver: 9, Status: chat.StatusDelivered},
			{ID: 3, Sender: me, Receiver: 9, Status: chat.StatusSent},
		},
	}}
	s, _ := newTestSync(t, api)
	require.NoError(t, s.FetchMessages(context.Background(), 5))
	convBefore, _, _ := api.counts()

	require.NoError(t, s.MarkAsRead(context.Background(), []int64{1, 2}))

	st := s.Snapshot()
	require.Equal(t, chat.StatusRead, st.Messages[0].Status)
	require.Equal(t, chat.StatusRead, st.Messages[1].Status)
	require.Equal(t, chat.StatusSent, st.Messages[2].Status)

	convAfter, _, _ := api.counts()
	require.Equal(t, convBefore+1, convAfter, "conversations re-fetched after mark-read")
}

func TestMarkAsReadFailureLeavesStatusesAndErrorSlot(t *testing.T) {
	api := &fakeAPI{
		msgs: map[int64][]chat.Message{
			5: {{ID: 1, Sender: 9, Receiver: me, Status: chat.StatusDelivered}},
		},
		markErr: errors.New("mark failed"),
	}
	s, _ := newTestSync(t, api)

	require.NoError(t, s.FetchMessages(context.Background(), 5), "mark-read failure must not fail the fetch")
	st := s.Snapshot()
	require.Equal(t, chat.StatusDelivered, st.Messages[0].Status)
	require.Empty(t, st.Error)

	require.Error(t, s.MarkAsRead(context.Background(), []int64{1}))
	require.Empty(t, s.Snapshot().Error)

	conv, _, _ := api.counts()
	require.Zero(t, conv, "no conversation refresh after a failed mark-read")
}

func TestMarkAsReadEmptyIsNoop(t *testing.T) {
	api := &fakeAPI{}
	s, _ := newTestSync(t, api)
	require.NoError(t, s.MarkAsRead(context.Background(), nil))
	require.Empty(t, api.markCalls)
}

func TestSendMessageNetworkErrorAddsNothing(t *testing.T) {
	api := &fakeAPI{
		msgs:    map[int64][]chat.Message{1: {{ID: 10, Sender: me, Receiver: 9, Status: chat.StatusRead}}},
		sendErr: fmt.Errorf("POST /api/chat/messages/: %w: connection refused", httpclient.ErrNoResponse),
	}
	db := testDB(t)
	s, _ := newTestSync(t, api, WithCache(db))
	require.NoError(t, s.FetchMessages(context.Background(), 1))

	err := s.SendMessage(context.Background(), chat.SendMessageRequest{ReceiverID: 9, Content: "hello"})
	require.Error(t, err)

	st := s.Snapshot()
	require.True(t, strings.Contains(strings.ToLower(st.Error), "failed to send message"))
	require.Contains(t, st.Error, "server not responding")
	require.Len(t, st.Messages, 1, "no optimistic insert")

	failed, err := db.ListSends(store.SendStatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "hello", failed[0].Body)
	require.Equal(t, "server not responding", failed[0].ErrorMessage)
}

func TestSendMessageRefreshesMessagesAndConversations(t *testing.T) {
	api := &fakeAPI{
		convs: []chat.Conversation{{ID: 1, Participants: []int64{me, 9}}},
		msgs:  map[int64][]chat.Message{1: {{ID: 10, Sender: me, Receiver: 9, Status: chat.StatusSent}}},
	}
	db := testDB(t)
	s, _ := newTestSync(t, api, WithCache(db))
	require.NoError(t, s.FetchConversations(context.Background()))
	conv0, msg0, _ := api.counts()

	require.NoError(t, s.SendMessage(context.Background(), chat.SendMessageRequest{Content: "hi"}))

	require.Len(t, api.sent, 1)
	require.EqualValues(t, 9, api.sent[0].ReceiverID, "receiver resolved from the active conversation")
	conv1, msg1, _ := api.counts()
	require.Equal(t, conv0+1, conv1)
	require.Equal(t, msg0+1, msg1)

	sent, err := db.ListSends(store.SendStatusSent, 10)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.EqualValues(t, 500, sent[0].ServerMsgID)
}

func TestSendMessageValidation(t *testing.T) {
	api := &fakeAPI{}
	s, _ := newTestSync(t, api)

	err := s.SendMessage(context.Background(), chat.SendMessageRequest{Content: "hi"})
	require.ErrorIs(t, err, ErrNoActiveConversation)

	err = s.SendMessage(context.Background(), chat.SendMessageRequest{ReceiverID: 9})
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Contains(t, s.Snapshot().Error, "failed to send message")

	require.NoError(t, s.SendMessage(context.Background(), chat.SendMessageRequest{
		ReceiverID: 9,
		Attachment: &chat.Attachment{Filename: "a.png", Data: []byte{1}},
	}), "attachment without text is allowed")
	require.Empty(t, api.sent[0].Content)
}

func TestSendMessageRequestShapes(t *testing.T) {
	var mu stdsync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/chat/messages/":
			ct := r.Header.Get("Content-Type")
			mu.Lock()
			defer mu.Unlock()
			if strings.HasPrefix(ct, "multipart/form-data") {
				require.NoError(t, r.ParseMultipartForm(1<<20))
				require.ElementsMatch(t, []string{"receiver_id", "content"}, keys(r.MultipartForm.Value))
				require.Contains(t, r.MultipartForm.File, "attachment")
				bodies = append(bodies, "multipart")
			} else {
				require.Equal(t, "application/json", ct)
				raw, _ := io.ReadAll(r.Body)
				var body map[string]any
				require.NoError(t, json.Unmarshal(raw, &body))
				require.ElementsMatch(t, []string{"receiver_id", "content"}, keys(body))
				bodies = append(bodies, "json")
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":1}`)
		default:
			_, _ = io.WriteString(w, `[]`)
		}
	}))
	defer server.Close()

	api := chat.NewAPI(httpclient.New(server.URL))
	s := New(api, &fakeCreds{token: "tok", id: me}, Config{})

	require.NoError(t, s.SendMessage(context.Background(), chat.SendMessageRequest{ReceiverID: 9, Content: "plain"}))
	require.NoError(t, s.SendMessage(context.Background(), chat.SendMessageRequest{
		ReceiverID: 9, Content: "with file",
		Attachment: &chat.Attachment{Filename: "tile.png", Data: []byte("png")},
	}))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"json", "multipart"}, bodies)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestContactAdminRefreshesConversations(t *testing.T) {
	api := &fakeAPI{convs: []chat.Conversation{{ID: 8, Participants: []int64{me, 1}}}}
	s, _ := newTestSync(t, api)

	require.NoError(t, s.ContactAdmin(context.Background(), "need a quote", nil))
	require.Equal(t, []string{"need a quote"}, api.admin)
	st := s.Snapshot()
	require.Len(t, st.Conversations, 1)
	require.EqualValues(t, 8, st.Active.ID)

	api.mu.Lock()
	api.adminErr = &httpclient.APIError{StatusCode: 400, Message: "message required"}
	api.mu.Unlock()
	require.Error(t, s.ContactAdmin(context.Background(), "again", nil))
	require.Equal(t, "failed to contact admin: message required", s.Snapshot().Error)

	require.ErrorIs(t, s.ContactAdmin(context.Background(), "", nil), ErrEmptyMessage)
}

func TestEventsArePublished(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(16, "chat.")
	defer unsub()

	api := &fakeAPI{convs: []chat.Conversation{{ID: 1, Participants: []int64{me, 9}, UnreadCount: 2}}}
	s, _ := newTestSync(t, api, WithBus(b))
	require.NoError(t, s.FetchConversations(context.Background()))

	seen := map[string]bool{}
	for len(ch) > 0 {
		evt := <-ch
		seen[evt.Kind] = true
	}
	require.True(t, seen[bus.ConversationsUpdated])
	require.True(t, seen[bus.UnreadChanged])
	require.True(t, seen[bus.ActiveChanged])
}

func TestPollingLoopsFetchAndStop(t *testing.T) {
	api := &fakeAPI{
		convs: []chat.Conversation{{ID: 4, Participants: []int64{me, 9}}},
		msgs:  map[int64][]chat.Message{4: {{ID: 1, Sender: me, Receiver: 9, Status: chat.StatusSent}}},
	}
	creds := &fakeCreds{token: "tok", id: me}
	machine := status.NewMachine(nil)
	s := New(api, creds, Config{ConversationsInterval: 20 * time.Millisecond, MessagesInterval: 10 * time.Millisecond}, WithMachine(machine))

	s.Start(context.Background())
	defer s.Stop()

	require.Equal(t, status.Polling, machine.Current())
	require.Eventually(t, func() bool {
		conv, msg, _ := api.counts()
		return conv >= 2 && msg >= 2
	}, 2*time.Second, 5*time.Millisecond)

	api.mu.Lock()
	for _, id := range api.msgCallIDs {
		require.EqualValues(t, 4, id)
	}
	api.mu.Unlock()

	creds.set("", 0)
	s.AuthChanged()
	require.Equal(t, status.Unauthenticated, machine.Current())
	require.Nil(t, s.Snapshot().Active)

	conv, msg, _ := api.counts()
	time.Sleep(60 * time.Millisecond)
	conv2, msg2, _ := api.counts()
	require.LessOrEqual(t, conv2-conv, 1, "conversation loop stopped after logout")
	require.LessOrEqual(t, msg2-msg, 1, "message loop stopped after logout")
}

func TestSetActiveConversationRetargetsMessageLoop(t *testing.T) {
	api := &fakeAPI{
		convs: []chat.Conversation{
			{ID: 1, Participants: []int64{me, 9}, UpdatedAt: at(20)},
			{ID: 2, Participants: []int64{me, 8}, UpdatedAt: at(10)},
		},
		msgs: map[int64][]chat.Message{},
	}
	s := New(api, &fakeCreds{token: "tok", id: me}, Config{ConversationsInterval: time.Hour, MessagesInterval: 10 * time.Millisecond})
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.msgCallIDs) > 0 && api.msgCallIDs[len(api.msgCallIDs)-1] == 1
	}, 2*time.Second, 5*time.Millisecond)

	s.SetActiveConversation(&chat.Conversation{ID: 2, Participants: []int64{me, 8}})

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.msgCallIDs[len(api.msgCallIDs)-1] == 2
	}, 2*time.Second, 5*time.Millisecond)

	s.SetActiveConversation(nil)
	require.Nil(t, s.Snapshot().Active)
}

func TestPollSkippedWhileFetchInFlight(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{convGate: gate}
	s, _ := newTestSync(t, api)

	done := make(chan error, 1)
	go func() { done <- s.FetchConversations(context.Background()) }()

	require.Eventually(t, func() bool {
		conv, _, _ := api.counts()
		return conv == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.pollConversations(context.Background()))
	conv, _, _ := api.counts()
	require.Equal(t, 1, conv, "poll tick skipped while a fetch is in flight")

	close(gate)
	require.NoError(t, <-done)
}

func TestPollFailureDegradesAndRecovers(t *testing.T) {
	api := &fakeAPI{convErr: fmt.Errorf("%w", httpclient.ErrNoResponse)}
	machine := status.NewMachine(nil)
	s, _ := newTestSync(t, api, WithMachine(machine))
	require.NoError(t, machine.Transition(status.Polling))

	require.Error(t, s.pollConversations(context.Background()))
	require.Equal(t, status.Degraded, machine.Current())
	require.Equal(t, status.Degraded, s.Snapshot().Status)

	api.mu.Lock()
	api.convErr = nil
	api.mu.Unlock()

	require.NoError(t, s.pollConversations(context.Background()))
	require.Equal(t, status.Polling, machine.Current())
}

func TestBackoffDelaysFailingLoop(t *testing.T) {
	api := &fakeAPI{convErr: errors.New("down")}
	s := New(api, &fakeCreds{token: "tok", id: me}, Config{
		ConversationsInterval: 5 * time.Millisecond,
		MessagesInterval:      time.Hour,
		Backoff:               true,
		MaxBackoff:            time.Second,
	})
	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	conv, _, _ := api.counts()
	// Without backoff this would be ~30 ticks; with doubling delays it is far fewer.
	require.Less(t, conv, 15)
	require.GreaterOrEqual(t, conv, 2)
}

func TestStartWarmsFromCache(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.ReplaceConversations(me, []chat.Conversation{
		{ID: 1, Participants: []int64{me, 9}, UnreadCount: 1, UpdatedAt: at(10)},
		{ID: 2, Participants: []int64{me, 8}, UnreadCount: 2, UpdatedAt: at(20)},
	}))
	require.NoError(t, db.ReplaceMessages(2, []chat.Message{{ID: 5, Sender: 8, Receiver: me, Content: "cached", Status: chat.StatusRead}}))

	gate := make(chan struct{})
	defer close(gate)
	api := &fakeAPI{convGate: gate, msgErr: errors.New("offline")}
	s := New(api, &fakeCreds{token: "tok", id: me}, Config{ConversationsInterval: time.Hour, MessagesInterval: time.Hour}, WithCache(db))
	s.Start(context.Background())
	defer s.Stop()

	st := s.Snapshot()
	require.Len(t, st.Conversations, 2)
	require.Equal(t, 3, st.UnreadCount)
	require.EqualValues(t, 2, st.Active.ID)
	require.EqualValues(t, 2, st.MessagesFor)
	require.Equal(t, "cached", st.Messages[0].Content, "a failing message poll keeps the cached list")
}

func TestFetchWritesThroughToCache(t *testing.T) {
	db := testDB(t)
	api := &fakeAPI{
		convs: []chat.Conversation{{ID: 6, Participants: []int64{me, 9}}},
		msgs:  map[int64][]chat.Message{6: {{ID: 1, Sender: 9, SenderUsername: "admin", Receiver: me, Status: chat.StatusSent}}},
	}
	s, _ := newTestSync(t, api, WithCache(db))

	require.NoError(t, s.FetchConversations(context.Background()))
	require.NoError(t, s.FetchMessages(context.Background(), 6))

	rec, err := db.GetConversation(6)
	require.NoError(t, err)
	require.Equal(t, "admin", rec.PeerName)

	msgs, err := db.ListMessages(6, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, chat.StatusRead, msgs[0].Status, "mark-read result cached")

	cp, err := db.GetCheckpoint(store.CheckpointConversations)
	require.NoError(t, err)
	require.NotEmpty(t, cp)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLogoutDiscardsFetchInFlight(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{convGate: gate, convs: []chat.Conversation{
		{ID: 1, Participants: []int64{me, 9}, UnreadCount: 4},
	}}
	s, creds := newTestSync(t, api)

	done := make(chan error, 1)
	go func() { done <- s.FetchConversations(context.Background()) }()
	require.Eventually(t, func() bool {
		conv, _, _ := api.counts()
		return conv == 1
	}, time.Second, time.Millisecond)

	creds.set("", 0)
	s.AuthChanged()
	close(gate)

	require.ErrorIs(t, <-done, ErrNotAuthenticated)
	st := s.Snapshot()
	require.Empty(t, st.Conversations)
	require.Nil(t, st.Active)
	require.Zero(t, st.UnreadCount)
}

func TestMessagePollGuardIsPerConversation(t *testing.T) {
	api := &fakeAPI{msgs: map[int64][]chat.Message{}}
	s, _ := newTestSync(t, api)

	require.True(t, s.msgInFlight.acquire(1, false))
	defer s.msgInFlight.release(1)

	require.NoError(t, s.pollMessages(context.Background(), 2))
	require.NoError(t, s.pollMessages(context.Background(), 1))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Equal(t, []int64{2}, api.msgCallIDs)
}

func TestMessageLoopFollowsLastActiveSwitch(t *testing.T) {
	api := &fakeAPI{msgs: map[int64][]chat.Message{}}
	s, _ := newTestSync(t, api)
	s.Start(context.Background())
	defer s.Stop()

	convs := []chat.Conversation{
		{ID: 1, Participants: []int64{me, 9}},
		{ID: 2, Participants: []int64{me, 8}},
	}
	for round := 0; round < 200; round++ {
		var wg stdsync.WaitGroup
		for i := range convs {
			wg.Add(1)
			go func(c chat.Conversation) {
				defer wg.Done()
				s.SetActiveConversation(&c)
			}(convs[i])
		}
		wg.Wait()

		active := s.Snapshot().Active
		require.NotNil(t, active)
		s.loopMu.Lock()
		bound := s.msgLoopFor
		s.loopMu.Unlock()
		require.Equal(t, active.ID, bound, "round %d", round)
	}
}
