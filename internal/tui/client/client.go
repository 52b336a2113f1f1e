// Package client is the typed gRPC client of chatd's ChatService.
package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/tilechat/internal/api"
	"github.com/matheus3301/tilechat/internal/chat"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn grpc.ClientConnInterface
	// closer is nil when the connection is owned by the caller.
	closer interface{ Close() error }
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, closer: conn}, nil
}

// NewFromConn wraps an existing connection. Close leaves it open.
func NewFromConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) GetStatus(ctx context.Context) (*api.StatusView, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(api.MethodGetStatus), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var view api.StatusView
	if err := api.Decode(out, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*chat.User, error) {
	var user chat.User
	if err := c.call(ctx, api.MethodLogin, api.LoginRequest{Username: username, Password: password}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.conn.Invoke(ctx, api.FullMethod(api.MethodLogout), &emptypb.Empty{}, &emptypb.Empty{})
}

// ListConversations returns the daemon's conversation list. refresh asks
// the daemon to poll the backend first.
func (c *Client) ListConversations(ctx context.Context, refresh bool) (*api.ConversationList, error) {
	var list api.ConversationList
	if err := c.call(ctx, api.MethodListConversations, api.ListConversationsRequest{Refresh: refresh}, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) SetActiveConversation(ctx context.Context, conversationID int64) error {
	return c.call(ctx, api.MethodSetActiveConversation, api.SetActiveRequest{ConversationID: conversationID}, nil)
}

func (c *Client) ListMessages(ctx context.Context, req api.ListMessagesRequest) (*api.MessageList, error) {
	var list api.MessageList
	if err := c.call(ctx, api.MethodListMessages, req, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) SendMessage(ctx context.Context, req api.SendRequest) error {
	return c.callEmpty(ctx, api.MethodSendMessage, req)
}

func (c *Client) ContactAdmin(ctx context.Context, req api.ContactAdminRequest) error {
	return c.callEmpty(ctx, api.MethodContactAdmin, req)
}

func (c *Client) MarkRead(ctx context.Context, ids []int64) error {
	return c.callEmpty(ctx, api.MethodMarkRead, api.MarkReadRequest{MessageIDs: ids})
}

func (c *Client) ClearError(ctx context.Context) error {
	return c.conn.Invoke(ctx, api.FullMethod(api.MethodClearError), &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) SearchMessages(ctx context.Context, req api.SearchRequest) ([]api.SearchHit, error) {
	var res api.SearchResponse
	if err := c.call(ctx, api.MethodSearchMessages, req, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

// WatchEvents streams daemon events until ctx is cancelled. The returned
// channel is closed when the stream ends; the error channel receives at
// most one value.
func (c *Client) WatchEvents(ctx context.Context, namespaces ...string) (<-chan api.Event, <-chan error, error) {
	in, err := api.Encode(api.WatchRequest{Namespaces: namespaces})
	if err != nil {
		return nil, nil, err
	}
	cs, err := c.conn.NewStream(ctx, api.WatchEventsStreamDesc, api.FullMethod(api.MethodWatchEvents))
	if err != nil {
		return nil, nil, err
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	if err := stream.SendMsg(in); err != nil {
		return nil, nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, nil, err
	}

	events := make(chan api.Event, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			msg, err := stream.Recv()
			if err != nil {
				if ctx.Err() == nil {
					errs <- err
				}
				return
			}
			var evt api.Event
			if err := api.Decode(msg, &evt); err != nil {
				continue
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, errs, nil
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	in, err := api.Encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return api.Decode(out, resp)
}

func (c *Client) callEmpty(ctx context.Context, method string, req any) error {
	in, err := api.Encode(req)
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, api.FullMethod(method), in, &emptypb.Empty{})
}
