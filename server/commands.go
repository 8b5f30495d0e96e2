package server

import (
	"context"

	"github.com/wfunc/xoserver/apperr"
	"github.com/wfunc/xoserver/matchmaking"
	"github.com/wfunc/xoserver/models"
	"github.com/wfunc/xoserver/room"
)

// commands implements rpc.Commands on top of the live server state.
type commands struct {
	s *GameServer
}

func (c commands) CreateRoom(userID string, opts room.CreateOptions) (room.RoomView, error) {
	return c.s.roomManager.CreateRoom(userID, opts)
}

func (c commands) ListRooms() []room.RoomView {
	return c.s.roomManager.ListRooms()
}

func (c commands) ListInvitations(userID string) []room.Invitation {
	return c.s.roomManager.ListInvitations(userID)
}

func (c commands) RespondInvitation(userID, invitationID string, accept bool) (room.Invitation, *room.RoomView, error) {
	return c.s.roomManager.RespondInvitation(invitationID, userID, accept)
}

// JoinMatchmaking only queues users holding a socket: disconnect is what
// takes a user back out of the queue.
func (c commands) JoinMatchmaking(userID string) (matchmaking.Result, error) {
	if !c.s.sessionManager.IsOnline(userID) {
		return matchmaking.Result{}, apperr.ErrNotConnected
	}
	return c.s.matchmaker.Join(userID)
}

func (c commands) LeaveMatchmaking(userID string) bool {
	return c.s.matchmaker.Leave(userID)
}

func (c commands) PlayerStats(ctx context.Context, userID string) (*models.PlayerStats, error) {
	if c.s.playerService == nil {
		return &models.PlayerStats{UserID: userID}, nil
	}
	return c.s.playerService.GetPlayerWithStats(ctx, userID)
}

// ChatHistory only returns room history to the room's members.
func (c commands) ChatHistory(ctx context.Context, q models.ChatQuery) ([]models.ChatMessage, error) {
	if q.RoomID != "" {
		view, err := c.s.roomManager.GetRoom(q.RoomID)
		if err != nil {
			return nil, err
		}
		if _, ok := view.RoleOf(q.UserID); !ok {
			return nil, apperr.Wrap(apperr.ErrNotAuthorized, "not a member of room %s", q.RoomID)
		}
	}
	return c.s.chatService.History(ctx, q)
}
