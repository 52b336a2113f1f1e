// Package api serves the daemon's ChatService over gRPC.
package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/tilechat/internal/auth"
	"github.com/matheus3301/tilechat/internal/bus"
	"github.com/matheus3301/tilechat/internal/chat"
	"github.com/matheus3301/tilechat/internal/status"
	"github.com/matheus3301/tilechat/internal/store"
	intsync "github.com/matheus3301/tilechat/internal/sync"
)

const (
	defaultSearchLimit = 50
	eventBuffer        = 256
)

// Deps are the daemon components the service reads from and drives.
type Deps struct {
	Profile string
	BaseURL string
	Sync    *intsync.Synchronizer
	Auth    *auth.Authenticator
	Creds   *auth.Store
	DB      *store.DB
	Machine *status.Machine
	Bus     *bus.Bus
	Logger  *zap.Logger
}

// ChatService implements ChatServiceServer.
type ChatService struct {
	d         Deps
	startedAt time.Time
	logger    *zap.Logger
}

var _ ChatServiceServer = (*ChatService)(nil)

// NewChatService creates a chat service.
func NewChatService(d Deps) *ChatService {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{d: d, startedAt: time.Now(), logger: logger}
}

func (s *ChatService) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap := s.d.Sync.Snapshot()
	view := StatusView{
		Profile:           s.d.Profile,
		Status:            string(s.d.Machine.Current()),
		Authenticated:     s.d.Creds.Authenticated(),
		User:              s.d.Creds.User(),
		ConversationCount: len(snap.Conversations),
		UnreadCount:       snap.UnreadCount,
		HasUnread:         snap.HasUnread,
		Error:             snap.Error,
		Loading:           snap.Loading,
		UptimeMs:          time.Since(s.startedAt).Milliseconds(),
		BaseURL:           s.d.BaseURL,
	}
	if snap.Active != nil {
		view.ActiveConversationID = snap.Active.ID
	}
	if s.d.DB != nil {
		if n, err := s.d.DB.MessageCount(); err == nil {
			view.CachedMessages = n
		}
	}
	return respond(view)
}

func (s *ChatService) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req LoginRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "username and password are required")
	}
	user, err := s.d.Auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(user)
}

func (s *ChatService) Logout(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.d.Auth.Logout(); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "logout: %v", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ChatService) ListConversations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListConversationsRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if req.Refresh {
		// A failed refresh still answers with the last known list and the
		// error slot filled in.
		if err := s.d.Sync.FetchConversations(ctx); err != nil && isAuthError(err) {
			return nil, toStatus(err)
		}
	}

	snap := s.d.Sync.Snapshot()
	names := s.peerNames()
	self := s.d.Creds.UserID()

	list := ConversationList{
		Conversations: make([]ConversationView, 0, len(snap.Conversations)),
		UnreadCount:   snap.UnreadCount,
		HasUnread:     snap.HasUnread,
		Error:         snap.Error,
	}
	if snap.Active != nil {
		list.ActiveID = snap.Active.ID
	}
	for _, c := range snap.Conversations {
		peer := c.Peer(self)
		list.Conversations = append(list.Conversations, ConversationView{
			Conversation: c,
			PeerID:       peer,
			PeerName:     peerName(names, c.ID, peer),
			Active:       c.ID == list.ActiveID,
		})
	}
	return respond(list)
}

func (s *ChatService) SetActiveConversation(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SetActiveRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if req.ConversationID == 0 {
		s.d.Sync.SetActiveConversation(nil)
		return respond(req)
	}

	snap := s.d.Sync.Snapshot()
	for _, c := range snap.Conversations {
		if c.ID == req.ConversationID {
			s.d.Sync.SetActiveConversation(&c)
			return respond(req)
		}
	}
	return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown conversation %d", req.ConversationID)
}

func (s *ChatService) ListMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListMessagesRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}

	snap := s.d.Sync.Snapshot()
	var active int64
	if snap.Active != nil {
		active = snap.Active.ID
	}
	id := req.ConversationID
	if id == 0 {
		id = active
	}
	if id == 0 {
		return nil, toStatus(intsync.ErrNoActiveConversation)
	}

	if id != active {
		// Not the active thread: answer from the cache without steering
		// the polling loops.
		out := MessageList{ConversationID: id, Messages: []chat.Message{}}
		if s.d.DB != nil {
			msgs, err := s.d.DB.ListMessages(id, req.Limit)
			if err != nil {
				return nil, grpcstatus.Errorf(codes.Internal, "list cached messages: %v", err)
			}
			if msgs != nil {
				out.Messages = msgs
			}
		}
		return respond(out)
	}

	if req.Refresh || snap.MessagesFor != id {
		if err := s.d.Sync.FetchMessages(ctx, id); err != nil && isAuthError(err) {
			return nil, toStatus(err)
		}
		snap = s.d.Sync.Snapshot()
	}

	out := MessageList{ConversationID: id, Messages: []chat.Message{}, Live: true}
	if snap.MessagesFor == id && snap.Messages != nil {
		out.Messages = snap.Messages
	}
	if req.Limit > 0 && len(out.Messages) > req.Limit {
		out.Messages = out.Messages[len(out.Messages)-req.Limit:]
	}
	return respond(out)
}

func (s *ChatService) SendMessage(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req SendRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	err := s.d.Sync.SendMessage(ctx, chat.SendMessageRequest{
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Attachment: attachment(req.AttachmentName, req.AttachmentData),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ChatService) ContactAdmin(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req ContactAdminRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := s.d.Sync.ContactAdmin(ctx, req.Message, attachment(req.AttachmentName, req.AttachmentData)); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ChatService) MarkRead(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req MarkReadRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if len(req.MessageIDs) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message_ids is required")
	}
	if err := s.d.Sync.MarkAsRead(ctx, req.MessageIDs); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ChatService) ClearError(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.d.Sync.ClearError()
	return &emptypb.Empty{}, nil
}

func (s *ChatService) SearchMessages(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SearchRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	if s.d.DB == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "cache not initialized")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	results, err := s.d.DB.SearchMessages(req.Query, req.ConversationID, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	out := SearchResponse{Results: make([]SearchHit, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchHit{
			ConversationID: r.ConversationID,
			Message:        r.Message,
			Snippet:        r.Snippet,
		})
	}
	return respond(out)
}

func (s *ChatService) WatchEvents(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var req WatchRequest
	if err := decodeRequest(in, &req); err != nil {
		return err
	}
	if s.d.Bus == nil {
		return grpcstatus.Error(codes.Unavailable, "event bus not initialized")
	}

	ch, unsub := s.d.Bus.Subscribe(eventBuffer, req.Namespaces...)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return grpcstatus.Error(codes.Unavailable, "daemon is shutting down")
			}
			msg, err := Encode(Event{
				EventID:          uuid.New().String(),
				Profile:          s.d.Profile,
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Payload:          payloadMap(evt.Payload),
			})
			if err != nil {
				s.logger.Warn("encode event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// peerNames maps conversation id to the cached peer display name.
func (s *ChatService) peerNames() map[int64]string {
	names := map[int64]string{}
	if s.d.DB == nil {
		return names
	}
	records, err := s.d.DB.ListConversations()
	if err != nil {
		s.logger.Warn("list cached conversations", zap.Error(err))
		return names
	}
	for _, r := range records {
		names[r.ID] = r.PeerName
	}
	return names
}

func peerName(names map[int64]string, conversationID, peer int64) string {
	if name, ok := names[conversationID]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("user #%d", peer)
}
