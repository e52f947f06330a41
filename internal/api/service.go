package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the control service.
const ServiceName = "chatsync.v1.Control"

// WatchMethod is the server-streaming method that relays bus events.
const WatchMethod = "Watch"

// ControlServer is the handler type registered for ServiceName.
type ControlServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

type unaryMethod func(*Control, context.Context, *structpb.Struct) (*structpb.Struct, error)

// FullMethod returns the gRPC path of a control method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary(name string, m unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			c := srv.(*Control)
			if interceptor == nil {
				return m(c, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return m(c, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Control).Watch(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", (*Control).Status),
		unary("Login", (*Control).Login),
		unary("Logout", (*Control).Logout),
		unary("ListChats", (*Control).ListChats),
		unary("ListMessages", (*Control).ListMessages),
		unary("SendMessage", (*Control).SendMessage),
		unary("ReadChat", (*Control).ReadChat),
		unary("SetActiveChat", (*Control).SetActiveChat),
		unary("SendTyping", (*Control).SendTyping),
		unary("ListFriends", (*Control).ListFriends),
		unary("SendFriendRequest", (*Control).SendFriendRequest),
		unary("DismissSuggestion", (*Control).DismissSuggestion),
		unary("RespondFriendRequest", (*Control).RespondFriendRequest),
		unary("SearchMessages", (*Control).SearchMessages),
		unary("Refresh", (*Control).Refresh),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    WatchMethod,
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chatsync/v1/control",
}

// Methods lists the unary method names, in registration order.
func Methods() []string {
	names := make([]string, 0, len(serviceDesc.Methods))
	for _, m := range serviceDesc.Methods {
		names = append(names, m.MethodName)
	}
	return names
}

// Register registers the control service on s.
func Register(s *grpc.Server, c *Control) {
	s.RegisterService(&serviceDesc, c)
}
