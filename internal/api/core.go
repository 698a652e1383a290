// Package api exposes the local store to presentation processes over gRPC.
// The Core service is described by hand; every message is a
// google.protobuf.Struct, so no generated stubs are needed.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "msgcore.v1.Core"

// Method names.
const (
	MethodListConversations        = "ListConversations"
	MethodGetConversation          = "GetConversation"
	MethodCreateDirectConversation = "CreateDirectConversation"
	MethodCreateGroupConversation  = "CreateGroupConversation"
	MethodListMessages             = "ListMessages"
	MethodSendMessage              = "SendMessage"
	MethodRetryMessage             = "RetryMessage"
	MethodMarkRead                 = "MarkRead"
	MethodMarkDelivered            = "MarkDelivered"
	MethodUnreadCount              = "UnreadCount"
	MethodListActionItems          = "ListActionItems"
	MethodCompleteActionItem       = "CompleteActionItem"
	MethodSearchUsers              = "SearchUsers"
	MethodSyncStatus               = "SyncStatus"
	MethodListAIMessages           = "ListAIMessages"
	MethodAppendAIMessage          = "AppendAIMessage"
	MethodClearAIConversation      = "ClearAIConversation"
	MethodWatchConversations       = "WatchConversations"
	MethodWatchMessages            = "WatchMessages"
)

// FullMethod returns the gRPC path of a Core method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// CoreServer is the server API for the Core service.
type CoreServer interface {
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateDirectConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateGroupConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkDelivered(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnreadCount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListActionItems(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompleteActionItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchUsers(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SyncStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAIMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AppendAIMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearAIConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchConversations(*structpb.Struct, grpc.ServerStream) error
	WatchMessages(*structpb.Struct, grpc.ServerStream) error
}

// ServiceDesc describes the Core service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodListConversations, CoreServer.ListConversations),
		unary(MethodGetConversation, CoreServer.GetConversation),
		unary(MethodCreateDirectConversation, CoreServer.CreateDirectConversation),
		unary(MethodCreateGroupConversation, CoreServer.CreateGroupConversation),
		unary(MethodListMessages, CoreServer.ListMessages),
		unary(MethodSendMessage, CoreServer.SendMessage),
		unary(MethodRetryMessage, CoreServer.RetryMessage),
		unary(MethodMarkRead, CoreServer.MarkRead),
		unary(MethodMarkDelivered, CoreServer.MarkDelivered),
		unary(MethodUnreadCount, CoreServer.UnreadCount),
		unary(MethodListActionItems, CoreServer.ListActionItems),
		unary(MethodCompleteActionItem, CoreServer.CompleteActionItem),
		unary(MethodSearchUsers, CoreServer.SearchUsers),
		unary(MethodSyncStatus, CoreServer.SyncStatus),
		unary(MethodListAIMessages, CoreServer.ListAIMessages),
		unary(MethodAppendAIMessage, CoreServer.AppendAIMessage),
		unary(MethodClearAIConversation, CoreServer.ClearAIConversation),
	},
	Streams: []grpc.StreamDesc{
		serverStream(MethodWatchConversations, CoreServer.WatchConversations),
		serverStream(MethodWatchMessages, CoreServer.WatchMessages),
	},
	Metadata: "msgcore/v1/core.proto",
}

// RegisterCoreServer registers srv on s.
func RegisterCoreServer(s grpc.ServiceRegistrar, srv CoreServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary(name string, call func(CoreServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CoreServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(CoreServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func serverStream(name string, call func(CoreServer, *structpb.Struct, grpc.ServerStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(CoreServer), in, stream)
		},
	}
}
