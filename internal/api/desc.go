package api

import (
	"context"

	"github.com/czeful/goalchat/internal/composer"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Full method names, shared with internal/client.
const (
	SessionStatusMethod = "/goalchat.v1.Session/Status"
	SessionLoginMethod  = "/goalchat.v1.Session/Login"
	SessionLogoutMethod = "/goalchat.v1.Session/Logout"
	SessionWhoAmIMethod = "/goalchat.v1.Session/WhoAmI"

	ChatSelectMethod   = "/goalchat.v1.Chat/Select"
	ChatReloadMethod   = "/goalchat.v1.Chat/Reload"
	ChatSnapshotMethod = "/goalchat.v1.Chat/Snapshot"
	ChatFriendsMethod  = "/goalchat.v1.Chat/Friends"

	ComposerKeystrokeMethod  = "/goalchat.v1.Composer/Keystroke"
	ComposerStageFileMethod  = "/goalchat.v1.Composer/StageFile"
	ComposerStageAudioMethod = "/goalchat.v1.Composer/StageAudio"
	ComposerBeginAudioMethod = "/goalchat.v1.Composer/BeginAudio"
	ComposerEndAudioMethod   = "/goalchat.v1.Composer/EndAudio"
	ComposerDiscardMethod    = "/goalchat.v1.Composer/Discard"
	ComposerSendMethod       = "/goalchat.v1.Composer/Send"

	EventsWatchMethod = "/goalchat.v1.Events/Watch"
)

// SessionServer is the server API of the Session service.
type SessionServer interface {
	Status(context.Context, *emptypb.Empty) (*SessionStatus, error)
	Login(context.Context, *LoginRequest) (*Identity, error)
	Logout(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	WhoAmI(context.Context, *emptypb.Empty) (*Identity, error)
}

// ChatServer is the server API of the Chat service.
type ChatServer interface {
	Select(context.Context, *SelectRequest) (*ChatState, error)
	Reload(context.Context, *emptypb.Empty) (*ChatState, error)
	Snapshot(context.Context, *emptypb.Empty) (*ChatState, error)
	Friends(context.Context, *FriendsRequest) (*FriendList, error)
}

// ComposerServer is the server API of the Composer service.
type ComposerServer interface {
	Keystroke(context.Context, *KeystrokeRequest) (*composer.State, error)
	StageFile(context.Context, *PathRequest) (*composer.Pending, error)
	StageAudio(context.Context, *PathRequest) (*composer.Pending, error)
	BeginAudio(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	EndAudio(context.Context, *emptypb.Empty) (*composer.Pending, error)
	Discard(context.Context, *DiscardRequest) (*composer.State, error)
	Send(context.Context, *emptypb.Empty) (*SendReply, error)
}

// EventsServer is the server API of the Events service.
type EventsServer interface {
	Watch(*WatchRequest, EventsWatchServer) error
}

// EventsWatchServer is the server side of a Watch stream.
type EventsWatchServer interface {
	Send(*Event) error
	grpc.ServerStream
}

type eventsWatchServer struct {
	grpc.ServerStream
}

func (s *eventsWatchServer) Send(e *Event) error {
	return s.ServerStream.SendMsg(e)
}

// unary builds a method descriptor around a typed handler.
func unary[S any, Req any, Resp any](fullMethod string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: methodName(fullMethod),
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

func methodName(fullMethod string) string {
	for i := len(fullMethod) - 1; i >= 0; i-- {
		if fullMethod[i] == '/' {
			return fullMethod[i+1:]
		}
	}
	return fullMethod
}

const descMetadata = "goalchat/v1/api"

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: "goalchat.v1.Session",
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionStatusMethod, SessionServer.Status),
		unary(SessionLoginMethod, SessionServer.Login),
		unary(SessionLogoutMethod, SessionServer.Logout),
		unary(SessionWhoAmIMethod, SessionServer.WhoAmI),
	},
	Metadata: descMetadata,
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: "goalchat.v1.Chat",
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ChatSelectMethod, ChatServer.Select),
		unary(ChatReloadMethod, ChatServer.Reload),
		unary(ChatSnapshotMethod, ChatServer.Snapshot),
		unary(ChatFriendsMethod, ChatServer.Friends),
	},
	Metadata: descMetadata,
}

var composerServiceDesc = grpc.ServiceDesc{
	ServiceName: "goalchat.v1.Composer",
	HandlerType: (*ComposerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ComposerKeystrokeMethod, ComposerServer.Keystroke),
		unary(ComposerStageFileMethod, ComposerServer.StageFile),
		unary(ComposerStageAudioMethod, ComposerServer.StageAudio),
		unary(ComposerBeginAudioMethod, ComposerServer.BeginAudio),
		unary(ComposerEndAudioMethod, ComposerServer.EndAudio),
		unary(ComposerDiscardMethod, ComposerServer.Discard),
		unary(ComposerSendMethod, ComposerServer.Send),
	},
	Metadata: descMetadata,
}

// EventsWatchStream describes the Watch stream for clients.
var EventsWatchStream = &grpc.StreamDesc{
	StreamName:    "Watch",
	ServerStreams: true,
}

var eventsServiceDesc = grpc.ServiceDesc{
	ServiceName: "goalchat.v1.Events",
	HandlerType: (*EventsServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(WatchRequest)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return srv.(EventsServer).Watch(in, &eventsWatchServer{stream})
		},
	}},
	Metadata: descMetadata,
}

func RegisterSessionServer(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&sessionServiceDesc, srv)
}

func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&chatServiceDesc, srv)
}

func RegisterComposerServer(s grpc.ServiceRegistrar, srv ComposerServer) {
	s.RegisterService(&composerServiceDesc, srv)
}

func RegisterEventsServer(s grpc.ServiceRegistrar, srv EventsServer) {
	s.RegisterService(&eventsServiceDesc, srv)
}
