package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wfunc/xoserver/apperr"
)

// 客户端 -> 服务器
const (
	MsgAuth             = "auth"
	MsgPing             = "ping"
	MsgCreateRoom       = "create_room"
	MsgJoinRoom         = "join_room"
	MsgLeaveRoom        = "leave_room"
	MsgCloseRoom        = "close_room"
	MsgInvite           = "invite"
	MsgInviteRespond    = "invite_respond"
	MsgMove             = "move"
	MsgStartAIGame      = "start_ai_game"
	MsgRematch          = "rematch"
	MsgResync           = "resync"
	MsgSendChat         = "send_chat_message"
	MsgMatchmakingJoin  = "matchmaking_join"
	MsgMatchmakingLeave = "matchmaking_leave"
)

// 服务器 -> 客户端
const (
	MsgError              = "error"
	MsgPong               = "pong"
	MsgAuthenticated      = "authenticated"
	MsgRoomCreated        = "room_created"
	MsgRoomUpdate         = "room_update"
	MsgRoomClosed         = "room_closed"
	MsgRoomInvitation     = "room_invitation"
	MsgInvitationSent     = "invitation_sent"
	MsgInvitationResolved = "invitation_resolved"
	MsgGameStarted        = "game_started"
	MsgGameOver           = "game_over"
	MsgGameExpired        = "game_expired"
	MsgGameAbandoned      = "game_abandoned"
	MsgGameReconnection   = "game_reconnection"
	MsgOnlineUsersUpdate  = "online_users_update"
	MsgChatReceived       = "chat_message_received"
	MsgChatSent           = "chat_message_sent"
	MsgMatchmakingWaiting = "matchmaking_waiting"
	MsgMatchmakingMatched = "matchmaking_matched"
	MsgMatchmakingLeft    = "matchmaking_left"
)

const (
	RolePlayer    = "player"
	RoleSpectator = "spectator"

	ResponseAccept = "accept"
	ResponseReject = "reject"
)

// Inbound is every field any client envelope may carry. Which fields are
// required depends on Type; see Validate.
type Inbound struct {
	Type          string `json:"type"`
	UserID        string `json:"userId,omitempty"`
	Token         string `json:"token,omitempty"`
	RoomID        string `json:"roomId,omitempty"`
	Code          string `json:"code,omitempty"`
	Role          string `json:"role,omitempty"`
	ToUserID      string `json:"toUserId,omitempty"`
	Message       string `json:"message,omitempty"`
	GameID        string `json:"gameId,omitempty"`
	Position      *int   `json:"position,omitempty"`
	InvitationID  string `json:"invitationId,omitempty"`
	Response      string `json:"response,omitempty"`
	InviteeID     string `json:"inviteeId,omitempty"`
	Difficulty    string `json:"difficulty,omitempty"`
	Name          string `json:"name,omitempty"`
	Visibility    string `json:"visibility,omitempty"`
	MaxSpectators int    `json:"maxSpectators,omitempty"`
}

// Decode parses and validates one inbound frame.
func Decode(raw []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, apperr.Wrap(apperr.ErrMalformedEnvelope, "%v", err)
	}
	if in.Type == "" {
		return nil, apperr.Wrap(apperr.ErrMalformedEnvelope, "missing type")
	}
	if err := in.Validate(); err != nil {
		return &in, err
	}
	return &in, nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperr.Wrap(apperr.ErrInvalidInput, "%s is required", field)
	}
	return nil
}

// Validate checks the fields Type needs. It does not consult server state.
func (in *Inbound) Validate() error {
	switch in.Type {
	case MsgAuth:
		return required("userId", in.UserID)
	case MsgPing, MsgMatchmakingJoin, MsgMatchmakingLeave:
		return nil
	case MsgCreateRoom:
		if in.Visibility != "" && in.Visibility != "public" && in.Visibility != "private" {
			return apperr.Wrap(apperr.ErrInvalidInput, "visibility must be public or private")
		}
		if in.MaxSpectators < 0 {
			return apperr.Wrap(apperr.ErrInvalidInput, "maxSpectators must not be negative")
		}
		return nil
	case MsgJoinRoom:
		if in.RoomID == "" && in.Code == "" {
			return apperr.Wrap(apperr.ErrInvalidInput, "roomId or code is required")
		}
		if in.Role != "" && in.Role != RolePlayer && in.Role != RoleSpectator {
			return apperr.Wrap(apperr.ErrInvalidInput, "role must be player or spectator")
		}
		return nil
	case MsgLeaveRoom, MsgCloseRoom, MsgRematch, MsgResync:
		return required("roomId", in.RoomID)
	case MsgInvite:
		if err := required("roomId", in.RoomID); err != nil {
			return err
		}
		return required("inviteeId", in.InviteeID)
	case MsgInviteRespond:
		if err := required("invitationId", in.InvitationID); err != nil {
			return err
		}
		if in.Response != ResponseAccept && in.Response != ResponseReject {
			return apperr.Wrap(apperr.ErrInvalidInput, "response must be accept or reject")
		}
		return nil
	case MsgMove:
		if err := required("gameId", in.GameID); err != nil {
			return err
		}
		if in.Position == nil {
			return apperr.Wrap(apperr.ErrInvalidInput, "position is required")
		}
		return nil
	case MsgStartAIGame:
		switch in.Difficulty {
		case "", "easy", "medium", "hard":
			return nil
		}
		return apperr.Wrap(apperr.ErrInvalidInput, "unknown difficulty %q", in.Difficulty)
	case MsgSendChat:
		if in.ToUserID == "" && in.RoomID == "" {
			return apperr.Wrap(apperr.ErrInvalidInput, "toUserId or roomId is required")
		}
		return required("message", in.Message)
	default:
		return apperr.Wrap(apperr.ErrUnknownType, "%q", in.Type)
	}
}

// Envelope is an outbound message. Data must marshal to a JSON object (or
// be nil); its fields are flattened next to "type".
type Envelope struct {
	Type string
	Data any
}

func NewEnvelope(msgType string, data any) Envelope {
	return Envelope{Type: msgType, Data: data}
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	head, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(head)

	if e.Data != nil {
		body, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		body = bytes.TrimSpace(body)
		if len(body) < 2 || body[0] != '{' {
			if string(body) != "null" {
				return nil, fmt.Errorf("envelope %s: payload is not an object", e.Type)
			}
		} else if len(body) > 2 {
			buf.WriteByte(',')
			buf.Write(body[1 : len(body)-1])
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Encode marshals env for the wire.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// ErrorPayload is the body of an "error" envelope.
type ErrorPayload struct {
	Code        string `json:"code"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	RequestType string `json:"requestType,omitempty"`
}

// NewErrorEnvelope renders err for the connection that caused it.
func NewErrorEnvelope(requestType string, err error) Envelope {
	return NewEnvelope(MsgError, ErrorPayload{
		Code:        apperr.CodeOf(err),
		Kind:        apperr.KindOf(err).String(),
		Message:     err.Error(),
		RequestType: requestType,
	})
}

type OnlineUsersPayload struct {
	Count int `json:"count"`
}

type PongPayload struct {
	ServerTime int64 `json:"serverTime"`
}
