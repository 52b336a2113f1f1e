package api_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/matheus3301/tilechat/internal/api"
	"github.com/matheus3301/tilechat/internal/auth"
	"github.com/matheus3301/tilechat/internal/bus"
	"github.com/matheus3301/tilechat/internal/chat"
	"github.com/matheus3301/tilechat/internal/httpclient"
	"github.com/matheus3301/tilechat/internal/status"
	"github.com/matheus3301/tilechat/internal/store"
	intsync "github.com/matheus3301/tilechat/internal/sync"
	"github.com/matheus3301/tilechat/internal/tui/client"
)

// backend is a minimal shop API serving one user with two conversations.
type backend struct {
	mu       stdsync.Mutex
	markRead [][]int64
	sent     []map[string]any
}

func (b *backend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Token tok" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token."})
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("/api/auth/login/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "secret" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": "tok", "user": map[string]any{"id": 1, "username": "ana"}})
	})
	mux.HandleFunc("/api/chat/conversations/", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": 43, "participants": []int{1, 9}, "unread_count": 0, "updated_at": "2026-01-01T10:00:00Z"},
			{"id": 42, "participants": []int{1, 7}, "unread_count": 1, "updated_at": "2026-01-02T10:00:00Z"},
		})
	}))
	mux.HandleFunc("/api/chat/messages/", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			b.mu.Lock()
			b.sent = append(b.sent, body)
			b.mu.Unlock()
			writeJSON(w, http.StatusCreated, map[string]any{"id": 101, "sender": 1, "receiver": 7, "content": body["content"], "status": "sent"})
			return
		}
		switch r.URL.Query().Get("conversation") {
		case "42":
			writeJSON(w, http.StatusOK, []map[string]any{
				{"id": 100, "sender": 7, "receiver": 1, "content": "hello, the tiles shipped", "status": "delivered"},
			})
		case "43":
			writeJSON(w, http.StatusOK, []map[string]any{
				{"id": 200, "sender": 1, "receiver": 9, "content": "which grout?", "status": "read"},
			})
		default:
			writeJSON(w, http.StatusOK, []any{})
		}
	}))
	mux.HandleFunc("/api/chat/messages/mark-read/", authed(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MessageIDs []int64 `json:"message_ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		b.mu.Lock()
		b.markRead = append(b.markRead, body.MessageIDs)
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	mux.HandleFunc("/api/chat/admin-contact/", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": 44})
	}))
	return mux
}

type harness struct {
	client *client.Client
	sync   *intsync.Synchronizer
	bus    *bus.Bus
	be     *backend
}

func newHarness(t *testing.T, baseURL string) *harness {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	machine := status.NewMachine(b)
	hc := httpclient.New(baseURL, httpclient.WithTimeout(2*time.Second))
	creds := auth.NewStore(db)
	syncer := intsync.New(chat.NewAPI(hc), creds, intsync.DefaultConfig(),
		intsync.WithCache(db), intsync.WithBus(b), intsync.WithMachine(machine))
	creds.OnChange(syncer.AuthChanged)

	svc := api.NewChatService(api.Deps{
		Profile: "test",
		BaseURL: baseURL,
		Sync:    syncer,
		Auth:    auth.NewAuthenticator(hc, creds, nil),
		Creds:   creds,
		DB:      db,
		Machine: machine,
		Bus:     b,
	})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	api.RegisterChatServiceServer(srv, svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{client: client.NewFromConn(conn), sync: syncer, bus: b}
}

func newBackendHarness(t *testing.T) *harness {
	t.Helper()
	be := &backend{}
	ts := httptest.NewServer(be.handler(t))
	t.Cleanup(ts.Close)
	h := newHarness(t, ts.URL)
	h.be = be
	return h
}

func login(t *testing.T, h *harness) {
	t.Helper()
	user, err := h.client.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)
	require.Equal(t, int64(1), user.ID)
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, grpcstatus.Code(err), "error: %v", err)
}

func TestGetStatusBeforeLogin(t *testing.T) {
	h := newBackendHarness(t)

	st, err := h.client.GetStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, "test", st.Profile)
	require.Equal(t, string(status.Booting), st.Status)
	require.False(t, st.Authenticated)
	require.Nil(t, st.User)
	require.Zero(t, st.UnreadCount)
}

func TestLoginValidationAndRejection(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()

	_, err := h.client.Login(ctx, "", "secret")
	requireCode(t, err, codes.InvalidArgument)

	_, err = h.client.Login(ctx, "ana", "wrong")
	requireCode(t, err, codes.InvalidArgument)
	require.Contains(t, grpcstatus.Convert(err).Message(), "Invalid credentials")
}

func TestCallsBeforeLoginAreUnauthenticated(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()

	_, err := h.client.ListConversations(ctx, true)
	requireCode(t, err, codes.Unauthenticated)

	err = h.client.SendMessage(ctx, api.SendRequest{ReceiverID: 7, Content: "hi"})
	requireCode(t, err, codes.Unauthenticated)
}

func TestLoginThenListConversations(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	login(t, h)

	st, err := h.client.GetStatus(ctx)
	require.NoError(t, err)
	require.True(t, st.Authenticated)
	require.Equal(t, "ana", st.User.Username)
	require.Equal(t, string(status.Polling), st.Status)

	list, err := h.client.ListConversations(ctx, true)
	require.NoError(t, err)
	require.Len(t, list.Conversations, 2)
	require.Equal(t, int64(42), list.ActiveID, "most recently updated is active")
	require.Equal(t, 1, list.UnreadCount)
	require.True(t, list.HasUnread)

	byID := map[int64]api.ConversationView{}
	for _, c := range list.Conversations {
		byID[c.ID] = c
	}
	require.True(t, byID[42].Active)
	require.Equal(t, int64(7), byID[42].PeerID)
	require.Equal(t, "user #7", byID[42].PeerName)
	require.Equal(t, int64(9), byID[43].PeerID)
}

func TestListMessagesMarksUnreadAsRead(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	login(t, h)
	_, err := h.client.ListConversations(ctx, true)
	require.NoError(t, err)

	list, err := h.client.ListMessages(ctx, api.ListMessagesRequest{})
	require.NoError(t, err)
	require.True(t, list.Live)
	require.Equal(t, int64(42), list.ConversationID)
	require.Len(t, list.Messages, 1)
	require.Equal(t, chat.StatusRead, list.Messages[0].Status)

	h.be.mu.Lock()
	defer h.be.mu.Unlock()
	require.Equal(t, [][]int64{{100}}, h.be.markRead)
}

func TestInactiveConversationServedFromCache(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	login(t, h)
	_, err := h.client.ListConversations(ctx, true)
	require.NoError(t, err)

	list, err := h.client.ListMessages(ctx, api.ListMessagesRequest{ConversationID: 43})
	require.NoError(t, err)
	require.False(t, list.Live)
	require.Empty(t, list.Messages)
}

func TestSetActiveConversation(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	login(t, h)
	_, err := h.client.ListConversations(ctx, true)
	require.NoError(t, err)

	requireCode(t, h.client.SetActiveConversation(ctx, 999), codes.InvalidArgument)

	require.NoError(t, h.client.SetActiveConversation(ctx, 43))
	list, err := h.client.ListMessages(ctx, api.ListMessagesRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(43), list.ConversationID)
	require.Len(t, list.Messages, 1)
	require.Equal(t, "which grout?", list.Messages[0].Content)

	st, err := h.client.GetStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(43), st.ActiveConversationID)
}

func TestSendMessageTargetsActivePeer(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	login(t, h)
	_, err := h.client.ListConversations(ctx, true)
	require.NoError(t, err)

	requireCode(t, h.client.SendMessage(ctx, api.SendRequest{}), codes.InvalidArgument)

	require.NoError(t, h.client.SendMessage(ctx, api.SendRequest{Content: "hi"}))

	h.be.mu.Lock()
	defer h.be.mu.Unlock()
	require.Len(t, h.be.sent, 1)
	require.Equal(t, float64(7), h.be.sent[0]["receiver_id"])
	require.Equal(t, "hi", h.be.sent[0]["content"])
}

func TestContactAdminAndMarkRead(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	login(t, h)

	require.NoError(t, h.client.ContactAdmin(ctx, api.ContactAdminRequest{Message: "need a quote"}))
	requireCode(t, h.client.MarkRead(ctx, nil), codes.InvalidArgument)
	require.NoError(t, h.client.MarkRead(ctx, []int64{5, 6}))

	h.be.mu.Lock()
	defer h.be.mu.Unlock()
	require.Equal(t, [][]int64{{5, 6}}, h.be.markRead)
}

func TestSearchMessages(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	login(t, h)
	_, err := h.client.ListConversations(ctx, true)
	require.NoError(t, err)
	_, err = h.client.ListMessages(ctx, api.ListMessagesRequest{})
	require.NoError(t, err)

	_, err = h.client.SearchMessages(ctx, api.SearchRequest{Query: "  "})
	requireCode(t, err, codes.InvalidArgument)

	hits, err := h.client.SearchMessages(ctx, api.SearchRequest{Query: "TILES"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, int64(42), hits[0].ConversationID)
	require.Equal(t, int64(100), hits[0].Message.ID)
	require.Contains(t, hits[0].Snippet, "<<tiles>>")
}

func TestLoginAgainstDeadBackend(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	h := newHarness(t, url)
	ctx := context.Background()

	_, err := h.client.Login(ctx, "ana", "secret")
	requireCode(t, err, codes.Unavailable)
}

func TestRefreshFailureKeepsListAndReportsError(t *testing.T) {
	be := &backend{}
	up := true
	var mu stdsync.Mutex
	inner := be.handler(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := up
		mu.Unlock()
		if !ok && r.URL.Path == "/api/chat/conversations/" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"detail":"database is locked"}`))
			return
		}
		inner.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	h := newHarness(t, ts.URL)
	ctx := context.Background()
	login(t, h)

	_, err := h.client.ListConversations(ctx, true)
	require.NoError(t, err)

	mu.Lock()
	up = false
	mu.Unlock()

	list, err := h.client.ListConversations(ctx, true)
	require.NoError(t, err)
	require.Len(t, list.Conversations, 2, "stale list kept")
	require.Equal(t, "failed to load conversations: database is locked", list.Error)

	require.NoError(t, h.client.ClearError(ctx))
	st, err := h.client.GetStatus(ctx)
	require.NoError(t, err)
	require.Empty(t, st.Error)
}

func TestLogoutDropsState(t *testing.T) {
	h := newBackendHarness(t)
	ctx := context.Background()
	login(t, h)
	_, err := h.client.ListConversations(ctx, true)
	require.NoError(t, err)

	require.NoError(t, h.client.Logout(ctx))

	st, err := h.client.GetStatus(ctx)
	require.NoError(t, err)
	require.False(t, st.Authenticated)
	require.Equal(t, string(status.Unauthenticated), st.Status)
	require.Zero(t, st.ConversationCount)
}

func TestWatchEventsStreamsBusEvents(t *testing.T) {
	h := newBackendHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _, err := h.client.WatchEvents(ctx, "chat.")
	require.NoError(t, err)

	// The subscription is registered asynchronously; keep emitting until
	// the first event arrives.
	deadline := time.After(3 * time.Second)
	for {
		h.bus.Emit(bus.StatusChanged, status.StatusChange{From: status.Booting, To: status.Polling})
		h.bus.Emit(bus.UnreadChanged, map[string]any{"unread": 3, "has_unread": true})
		select {
		case evt := <-events:
			require.Equal(t, bus.UnreadChanged, evt.Kind)
			require.Equal(t, "test", evt.Profile)
			require.NotEmpty(t, evt.EventID)
			require.Equal(t, float64(3), evt.Payload["unread"])
			require.Equal(t, true, evt.Payload["has_unread"])
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}
