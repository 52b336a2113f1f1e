package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/tilechat/internal/chat"
)

// Encode converts v to a structpb document through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return out, nil
}

// Decode fills v from a structpb document. A nil document leaves v alone.
func Decode(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func respond(v any) (*structpb.Struct, error) {
	out, err := Encode(v)
	if err != nil {
		return nil, grpcstatus.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// decodeRequest rejects payloads that do not fit the request type.
func decodeRequest(in *structpb.Struct, v any) error {
	if err := Decode(in, v); err != nil {
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

// payloadMap turns a bus payload into a JSON object. Payloads that are not
// objects end up under "value"; ones that cannot be marshaled are dropped.
func payloadMap(p any) map[string]any {
	if p == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err == nil {
		return out
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	return map[string]any{"value": value}
}

type StatusView struct {
	Profile              string     `json:"profile"`
	Status               string     `json:"status"`
	Authenticated        bool       `json:"authenticated"`
	User                 *chat.User `json:"user,omitempty"`
	ConversationCount    int        `json:"conversation_count"`
	CachedMessages       int64      `json:"cached_messages"`
	UnreadCount          int        `json:"unread_count"`
	HasUnread            bool       `json:"has_unread"`
	ActiveConversationID int64      `json:"active_conversation_id"`
	Error                string     `json:"error,omitempty"`
	Loading              bool       `json:"loading"`
	UptimeMs             int64      `json:"uptime_ms"`
	BaseURL              string     `json:"base_url,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ListConversationsRequest struct {
	// Refresh fetches from the backend before answering.
	Refresh bool `json:"refresh"`
}

// ConversationView is a conversation with its peer resolved for display.
type ConversationView struct {
	chat.Conversation
	PeerID   int64  `json:"peer_id"`
	PeerName string `json:"peer_name"`
	Active   bool   `json:"active"`
}

type ConversationList struct {
	Conversations []ConversationView `json:"conversations"`
	ActiveID      int64              `json:"active_id"`
	UnreadCount   int                `json:"unread_count"`
	HasUnread     bool               `json:"has_unread"`
	Error         string             `json:"error,omitempty"`
}

type SetActiveRequest struct {
	ConversationID int64 `json:"conversation_id"`
}

type ListMessagesRequest struct {
	// ConversationID defaults to the active conversation.
	ConversationID int64 `json:"conversation_id"`
	Refresh        bool  `json:"refresh"`
	Limit          int   `json:"limit"`
}

type MessageList struct {
	ConversationID int64          `json:"conversation_id"`
	Messages       []chat.Message `json:"messages"`
	// Live is false when the list was served from the local cache because
	// the conversation is not the active one.
	Live bool `json:"live"`
}

type SendRequest struct {
	// ReceiverID defaults to the active conversation's peer.
	ReceiverID     int64  `json:"receiver_id,omitempty"`
	Content        string `json:"content"`
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentData []byte `json:"attachment_data,omitempty"`
}

type ContactAdminRequest struct {
	Message        string `json:"message"`
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentData []byte `json:"attachment_data,omitempty"`
}

type MarkReadRequest struct {
	MessageIDs []int64 `json:"message_ids"`
}

type SearchRequest struct {
	Query          string `json:"query"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type SearchHit struct {
	ConversationID int64        `json:"conversation_id"`
	Message        chat.Message `json:"message"`
	Snippet        string       `json:"snippet"`
}

type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

type WatchRequest struct {
	// Namespaces filters events by kind prefix. Empty means all.
	Namespaces []string `json:"namespaces,omitempty"`
}

// Event is one bus event as delivered by WatchEvents.
type Event struct {
	EventID          string         `json:"event_id"`
	Profile          string         `json:"profile"`
	Kind             string         `json:"kind"`
	OccurredAtUnixMs int64          `json:"occurred_at_unix_ms"`
	Payload          map[string]any `json:"payload,omitempty"`
}

func attachment(name string, data []byte) *chat.Attachment {
	if len(data) == 0 {
		return nil
	}
	if name == "" {
		name = "attachment"
	}
	return &chat.Attachment{Filename: name, Data: data}
}
