package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client calls the command surface as one user.
type Client struct {
	conn   *grpc.ClientConn
	userID string
}

// Dial connects to target. Extra options are appended after the defaults
// (plaintext transport, JSON codec).
func Dial(target, userID string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, userID: userID}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out interface{}) error {
	ctx = metadata.AppendToOutgoingContext(ctx, UserIDHeader, c.userID)
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
}

func (c *Client) CreateRoom(ctx context.Context, in *CreateRoomRequest) (*RoomReply, error) {
	out := new(RoomReply)
	return out, c.invoke(ctx, "CreateRoom", in, out)
}

func (c *Client) ListRooms(ctx context.Context) (*ListRoomsReply, error) {
	out := new(ListRoomsReply)
	return out, c.invoke(ctx, "ListRooms", &ListRoomsRequest{}, out)
}

func (c *Client) ListInvitations(ctx context.Context) (*ListInvitationsReply, error) {
	out := new(ListInvitationsReply)
	return out, c.invoke(ctx, "ListInvitations", &ListInvitationsRequest{}, out)
}

func (c *Client) RespondInvitation(ctx context.Context, in *RespondInvitationRequest) (*RespondInvitationReply, error) {
	out := new(RespondInvitationReply)
	return out, c.invoke(ctx, "RespondInvitation", in, out)
}

func (c *Client) JoinMatchmaking(ctx context.Context) (*JoinMatchmakingReply, error) {
	out := new(JoinMatchmakingReply)
	return out, c.invoke(ctx, "JoinMatchmaking", &JoinMatchmakingRequest{}, out)
}

func (c *Client) LeaveMatchmaking(ctx context.Context) (*LeaveMatchmakingReply, error) {
	out := new(LeaveMatchmakingReply)
	return out, c.invoke(ctx, "LeaveMatchmaking", &LeaveMatchmakingRequest{}, out)
}

func (c *Client) PlayerStats(ctx context.Context, in *PlayerStatsRequest) (*PlayerStatsReply, error) {
	out := new(PlayerStatsReply)
	return out, c.invoke(ctx, "PlayerStats", in, out)
}

func (c *Client) ChatHistory(ctx context.Context, in *ChatHistoryRequest) (*ChatHistoryReply, error) {
	out := new(ChatHistoryReply)
	return out, c.invoke(ctx, "ChatHistory", in, out)
}
