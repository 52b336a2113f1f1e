package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name served by chatd.
const ServiceName = "tilechat.v1.ChatService"

// Method names of ChatService.
const (
	MethodGetStatus             = "GetStatus"
	MethodLogin                 = "Login"
	MethodLogout                = "Logout"
	MethodListConversations     = "ListConversations"
	MethodSetActiveConversation = "SetActiveConversation"
	MethodListMessages          = "ListMessages"
	MethodSendMessage           = "SendMessage"
	MethodContactAdmin          = "ContactAdmin"
	MethodMarkRead              = "MarkRead"
	MethodClearError            = "ClearError"
	MethodSearchMessages        = "SearchMessages"
	MethodWatchEvents           = "WatchEvents"
)

// FullMethod returns the "/service/method" path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ChatServiceServer is the server API for ChatService. Requests and
// responses are structpb documents shaped like the types in wire.go.
type ChatServiceServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetActiveConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ContactAdmin(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	MarkRead(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ClearError(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes ChatService for grpc.Server and grpc.ClientConn.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetStatus, newEmpty, ChatServiceServer.GetStatus),
		unary(MethodLogin, newStruct, ChatServiceServer.Login),
		unary(MethodLogout, newEmpty, ChatServiceServer.Logout),
		unary(MethodListConversations, newStruct, ChatServiceServer.ListConversations),
		unary(MethodSetActiveConversation, newStruct, ChatServiceServer.SetActiveConversation),
		unary(MethodListMessages, newStruct, ChatServiceServer.ListMessages),
		unary(MethodSendMessage, newStruct, ChatServiceServer.SendMessage),
		unary(MethodContactAdmin, newStruct, ChatServiceServer.ContactAdmin),
		unary(MethodMarkRead, newStruct, ChatServiceServer.MarkRead),
		unary(MethodClearError, newEmpty, ChatServiceServer.ClearError),
		unary(MethodSearchMessages, newStruct, ChatServiceServer.SearchMessages),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "tilechat/v1/chat.proto",
}

// WatchEventsStreamDesc is the client-side descriptor of WatchEvents.
var WatchEventsStreamDesc = &ServiceDesc.Streams[0]

func newEmpty() *emptypb.Empty   { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }

func unary[Req, Res any](method string, newReq func() Req, call func(ChatServiceServer, context.Context, Req) (Res, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServiceServer), ctx, req.(Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServiceServer).WatchEvents(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}
