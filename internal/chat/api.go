package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/matheus3301/tilechat/internal/httpclient"
)

const (
	conversationsPath = "/api/chat/conversations/"
	messagesPath      = "/api/chat/messages/"
	markReadPath      = "/api/chat/messages/mark-read/"
	adminContactPath  = "/api/chat/admin-contact/"
)

// API calls the chat endpoints of the shop backend. Every call takes the
// caller's token; an empty token omits the Authorization header.
type API struct {
	http *httpclient.Client
}

// NewAPI wraps an HTTP client.
func NewAPI(client *httpclient.Client) *API {
	return &API{http: client}
}

// ListConversations returns the viewer's conversations in server order.
func (a *API) ListConversations(ctx context.Context, token string) ([]Conversation, error) {
	var out []Conversation
	if err := a.http.Get(ctx, conversationsPath, token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages returns the messages of one conversation in server order.
func (a *API) ListMessages(ctx context.Context, token string, conversationID int64) ([]Message, error) {
	q := url.Values{"conversation": {strconv.FormatInt(conversationID, 10)}}
	var out []Message
	if err := a.http.Get(ctx, messagesPath+"?"+q.Encode(), token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type sendMessageBody struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
}

// SendMessage posts a message. With an attachment the body is multipart,
// otherwise JSON.
func (a *API) SendMessage(ctx context.Context, token string, req SendMessageRequest) (*Message, error) {
	var out Message
	var err error
	if req.Attachment != nil {
		form := httpclient.NewForm().
			Field("receiver_id", strconv.FormatInt(req.ReceiverID, 10)).
			Field("content", req.Content).
			File("attachment", req.Attachment.Filename, bytes.NewReader(req.Attachment.Data))
		err = a.http.Upload(ctx, messagesPath, form, token, &out)
	} else {
		err = a.http.Post(ctx, messagesPath, sendMessageBody{ReceiverID: req.ReceiverID, Content: req.Content}, token, &out)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type markReadBody struct {
	MessageIDs []int64 `json:"message_ids"`
}

// MarkRead flags the given messages as read for the viewer.
func (a *API) MarkRead(ctx context.Context, token string, ids []int64) error {
	if len(ids) == 0 {
		return fmt.Errorf("mark read: no message ids")
	}
	return a.http.Post(ctx, markReadPath, markReadBody{MessageIDs: ids}, token, nil)
}

type adminContactBody struct {
	Message string `json:"message"`
}

// ContactAdmin opens or continues the viewer's thread with the shop admins.
// The backend picks the recipient. The raw response is returned since it
// may be either a conversation or a message.
func (a *API) ContactAdmin(ctx context.Context, token, message string, attachment *Attachment) (json.RawMessage, error) {
	var out json.RawMessage
	var err error
	if attachment != nil {
		form := httpclient.NewForm().
			Field("message", message).
			File("attachment", attachment.Filename, bytes.NewReader(attachment.Data))
		err = a.http.Upload(ctx, adminContactPath, form, token, &out)
	} else {
		err = a.http.Post(ctx, adminContactPath, adminContactBody{Message: message}, token, &out)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
