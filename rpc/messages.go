package rpc

import (
	"time"

	"github.com/wfunc/xoserver/models"
	"github.com/wfunc/xoserver/room"
)

type CreateRoomRequest struct {
	Name          string `json:"name"`
	Visibility    string `json:"visibility"`
	MaxSpectators int    `json:"maxSpectators"`
}

type RoomReply struct {
	Room room.RoomView `json:"room"`
}

type ListRoomsRequest struct{}

type ListRoomsReply struct {
	Rooms []room.RoomView `json:"rooms"`
}

type ListInvitationsRequest struct{}

type ListInvitationsReply struct {
	Invitations []room.Invitation `json:"invitations"`
}

type RespondInvitationRequest struct {
	InvitationID string `json:"invitationId"`
	Accept       bool   `json:"accept"`
}

type RespondInvitationReply struct {
	Invitation room.Invitation `json:"invitation"`
	Room       *room.RoomView  `json:"room,omitempty"`
}

type JoinMatchmakingRequest struct{}

type JoinMatchmakingReply struct {
	Matched  bool           `json:"matched"`
	Position int            `json:"position,omitempty"`
	Room     *room.RoomView `json:"room,omitempty"`
}

type LeaveMatchmakingRequest struct{}

type LeaveMatchmakingReply struct {
	Removed bool `json:"removed"`
}

// PlayerStatsRequest looks up UserID, or the caller when empty.
type PlayerStatsRequest struct {
	UserID string `json:"userId"`
}

type PlayerStatsReply struct {
	Stats models.PlayerStats `json:"stats"`
}

type ChatHistoryRequest struct {
	PeerID string    `json:"peerId"`
	RoomID string    `json:"roomId"`
	Before time.Time `json:"before"`
	Limit  int       `json:"limit"`
}

type ChatHistoryReply struct {
	Messages []models.ChatMessage `json:"messages"`
}
