package rpc

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/wfunc/xoserver/apperr"
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/matchmaking"
	"github.com/wfunc/xoserver/models"
	"github.com/wfunc/xoserver/room"
)

const (
	ServiceName = "xoserver.Commands"
	// UserIDHeader carries the acting user's id in call metadata.
	UserIDHeader = "x-user-id"
)

// Commands is the request/response subset of the session protocol that is
// also offered over gRPC.
type Commands interface {
	CreateRoom(userID string, opts room.CreateOptions) (room.RoomView, error)
	ListRooms() []room.RoomView
	ListInvitations(userID string) []room.Invitation
	RespondInvitation(userID, invitationID string, accept bool) (room.Invitation, *room.RoomView, error)
	JoinMatchmaking(userID string) (matchmaking.Result, error)
	LeaveMatchmaking(userID string) bool
	PlayerStats(ctx context.Context, userID string) (*models.PlayerStats, error)
	ChatHistory(ctx context.Context, q models.ChatQuery) ([]models.ChatMessage, error)
}

// CommandsServer is the handler type registered under ServiceName.
type CommandsServer interface {
	CreateRoom(context.Context, *CreateRoomRequest) (*RoomReply, error)
	ListRooms(context.Context, *ListRoomsRequest) (*ListRoomsReply, error)
	ListInvitations(context.Context, *ListInvitationsRequest) (*ListInvitationsReply, error)
	RespondInvitation(context.Context, *RespondInvitationRequest) (*RespondInvitationReply, error)
	JoinMatchmaking(context.Context, *JoinMatchmakingRequest) (*JoinMatchmakingReply, error)
	LeaveMatchmaking(context.Context, *LeaveMatchmakingRequest) (*LeaveMatchmakingReply, error)
	PlayerStats(context.Context, *PlayerStatsRequest) (*PlayerStatsReply, error)
	ChatHistory(context.Context, *ChatHistoryRequest) (*ChatHistoryReply, error)
}

// Service adapts Commands to CommandsServer.
type Service struct {
	commands Commands
}

func NewService(commands Commands) *Service {
	return &Service{commands: commands}
}

func (s *Service) CreateRoom(ctx context.Context, in *CreateRoomRequest) (*RoomReply, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	view, err := s.commands.CreateRoom(userID, room.CreateOptions{
		Name:          in.Name,
		Visibility:    room.Visibility(in.Visibility),
		MaxSpectators: in.MaxSpectators,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &RoomReply{Room: view}, nil
}

func (s *Service) ListRooms(ctx context.Context, _ *ListRoomsRequest) (*ListRoomsReply, error) {
	return &ListRoomsReply{Rooms: s.commands.ListRooms()}, nil
}

func (s *Service) ListInvitations(ctx context.Context, _ *ListInvitationsRequest) (*ListInvitationsReply, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	return &ListInvitationsReply{Invitations: s.commands.ListInvitations(userID)}, nil
}

func (s *Service) RespondInvitation(ctx context.Context, in *RespondInvitationRequest) (*RespondInvitationReply, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	inv, view, err := s.commands.RespondInvitation(userID, in.InvitationID, in.Accept)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RespondInvitationReply{Invitation: inv, Room: view}, nil
}

func (s *Service) JoinMatchmaking(ctx context.Context, _ *JoinMatchmakingRequest) (*JoinMatchmakingReply, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.commands.JoinMatchmaking(userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &JoinMatchmakingReply{Matched: res.Matched, Position: res.Position, Room: res.Room}, nil
}

func (s *Service) LeaveMatchmaking(ctx context.Context, _ *LeaveMatchmakingRequest) (*LeaveMatchmakingReply, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	return &LeaveMatchmakingReply{Removed: s.commands.LeaveMatchmaking(userID)}, nil
}

func (s *Service) PlayerStats(ctx context.Context, in *PlayerStatsRequest) (*PlayerStatsReply, error) {
	userID := in.UserID
	if userID == "" {
		var err error
		if userID, err = callerID(ctx); err != nil {
			return nil, err
		}
	}
	stats, err := s.commands.PlayerStats(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PlayerStatsReply{Stats: *stats}, nil
}

func (s *Service) ChatHistory(ctx context.Context, in *ChatHistoryRequest) (*ChatHistoryReply, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := s.commands.ChatHistory(ctx, models.ChatQuery{
		UserID: userID,
		PeerID: in.PeerID,
		RoomID: in.RoomID,
		Before: in.Before,
		Limit:  in.Limit,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &ChatHistoryReply{Messages: msgs}, nil
}

func callerID(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if v := md.Get(UserIDHeader); len(v) > 0 && v[0] != "" && v[0] != room.AIUserID {
			return v[0], nil
		}
	}
	return "", status.Error(codes.Unauthenticated, "missing "+UserIDHeader)
}

// toStatus maps an error kind onto a gRPC code. The apperr code leads the
// message so clients can match on it.
func toStatus(err error) error {
	var code codes.Code
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		code = codes.InvalidArgument
	case apperr.KindConflict:
		code = codes.FailedPrecondition
	case apperr.KindNotFound:
		code = codes.NotFound
	case apperr.KindAuthorization:
		code = codes.PermissionDenied
	default:
		code = codes.Internal
	}
	return status.Error(code, apperr.CodeOf(err)+": "+err.Error())
}

func unary[Req, Resp any](name string, call func(CommandsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(CommandsServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CommandsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateRoom", CommandsServer.CreateRoom),
		unary("ListRooms", CommandsServer.ListRooms),
		unary("ListInvitations", CommandsServer.ListInvitations),
		unary("RespondInvitation", CommandsServer.RespondInvitation),
		unary("JoinMatchmaking", CommandsServer.JoinMatchmaking),
		unary("LeaveMatchmaking", CommandsServer.LeaveMatchmaking),
		unary("PlayerStats", CommandsServer.PlayerStats),
		unary("ChatHistory", CommandsServer.ChatHistory),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "xoserver/commands",
}

// Server manages the gRPC listener.
type Server struct {
	grpcServer *grpc.Server
}

// NewServer creates a gRPC server exposing commands.
func NewServer(commands Commands, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(logCalls),
	}, opts...)
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&ServiceDesc, NewService(commands))
	return &Server{grpcServer: gs}
}

// Serve blocks until lis fails or Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	logger.Log.Infow("RPC server listening", "address", lis.Addr().String())
	err := s.grpcServer.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *Server) Stop() {
	logger.Log.Info("Stopping RPC server.")
	s.grpcServer.GracefulStop()
}

func logCalls(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	if code == codes.Internal || code == codes.Unknown {
		logger.Log.Errorw("rpc call failed", "method", info.FullMethod, "error", err)
	} else {
		logger.Log.Debugw("rpc call", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start))
	}
	return resp, err
}
