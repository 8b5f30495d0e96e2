package server

import (
	"context"
	"time"

	"github.com/wfunc/xoserver/apperr"
	"github.com/wfunc/xoserver/broadcast"
	"github.com/wfunc/xoserver/game"
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/matchmaking"
	"github.com/wfunc/xoserver/models"
	"github.com/wfunc/xoserver/monitor"
	"github.com/wfunc/xoserver/network"
	"github.com/wfunc/xoserver/room"
	"github.com/wfunc/xoserver/services"
	"github.com/wfunc/xoserver/session"
)

const chatTimeout = 3 * time.Second

// Authenticator resolves the identity claimed in an auth envelope.
type Authenticator interface {
	Authenticate(userID, token string) (string, error)
}

// TrustAuthenticator accepts any non-empty user id.
type TrustAuthenticator struct{}

func (TrustAuthenticator) Authenticate(userID, _ string) (string, error) {
	if userID == "" {
		return "", apperr.Wrap(apperr.ErrInvalidInput, "userId is required")
	}
	return userID, nil
}

type AuthenticatedPayload struct {
	UserID             string            `json:"userId"`
	SessionID          string            `json:"sessionId"`
	ServerTime         int64             `json:"serverTime"`
	PendingInvitations []room.Invitation `json:"pendingInvitations"`
}

// ChatPayload carries fromUser as the sender's id; display names belong to
// the profile collaborator.
type ChatPayload struct {
	FromUserID string             `json:"fromUserId"`
	FromUser   string             `json:"fromUser"`
	Message    models.ChatMessage `json:"message"`
	Delivered  bool               `json:"delivered"`
}

// Dispatcher routes decoded envelopes to the room store, the matchmaking
// queue and chat. It is the only place that turns an error into an error
// envelope, and that envelope goes to the originating session alone.
type Dispatcher struct {
	sessions        *session.Manager
	rooms           *room.Manager
	matchmaker      *matchmaking.Matchmaker
	chat            *services.ChatService
	broadcaster     *broadcast.Broadcaster
	clock           room.Scheduler
	monitor         *monitor.Monitor
	auth            Authenticator
	disconnectGrace time.Duration
	now             func() time.Time
}

func disconnectKey(userID string) string {
	return "disconnect:" + userID
}

// Handle processes one raw frame from s.
func (d *Dispatcher) Handle(s *session.Session, raw []byte) {
	start := d.now()
	s.Touch()

	in, err := network.Decode(raw)
	reqType := ""
	if in != nil {
		reqType = in.Type
	}
	if err == nil {
		d.monitor.IncMessagesReceived(in.Type)
		err = d.dispatch(s, in)
	}
	if err != nil {
		d.fail(s, reqType, err)
	}
	d.monitor.ObserveMessageLatency(d.now().Sub(start))
}

func (d *Dispatcher) fail(s *session.Session, reqType string, err error) {
	code := apperr.CodeOf(err)
	switch apperr.KindOf(err) {
	case apperr.KindAuthorization:
		logger.Log.Warnw("unauthorized request", "session", s.ID, "user", s.UserID(), "type", reqType, "error", err)
	case apperr.KindFatal, apperr.KindInternal:
		logger.Log.Errorw("request failed", "session", s.ID, "user", s.UserID(), "type", reqType, "error", err)
	default:
		logger.Log.Debugw("request rejected", "session", s.ID, "type", reqType, "code", code, "error", err)
	}
	d.monitor.IncErrors(code)
	if sendErr := s.SendEnvelope(network.NewErrorEnvelope(reqType, err)); sendErr != nil {
		logger.Log.Debugw("error reply not delivered", "session", s.ID, "error", sendErr)
	}
}

func (d *Dispatcher) dispatch(s *session.Session, in *network.Inbound) error {
	switch in.Type {
	case network.MsgAuth:
		return d.authenticate(s, in)
	case network.MsgPing:
		return s.SendEnvelope(network.NewEnvelope(network.MsgPong, network.PongPayload{ServerTime: d.now().UnixMilli()}))
	}

	userID := s.UserID()
	if userID == "" {
		return apperr.ErrNotAuthenticated
	}

	switch in.Type {
	case network.MsgCreateRoom:
		_, err := d.rooms.CreateRoom(userID, room.CreateOptions{
			Name:          in.Name,
			Visibility:    room.Visibility(in.Visibility),
			MaxSpectators: in.MaxSpectators,
		})
		return err
	case network.MsgJoinRoom:
		_, err := d.rooms.JoinRoom(in.RoomID, in.Code, userID, in.Role)
		return err
	case network.MsgLeaveRoom:
		return d.rooms.LeaveRoom(in.RoomID, userID)
	case network.MsgCloseRoom:
		return d.rooms.CloseRoom(in.RoomID, userID)
	case network.MsgInvite:
		_, err := d.rooms.Invite(in.RoomID, userID, in.InviteeID)
		return err
	case network.MsgInviteRespond:
		_, _, err := d.rooms.RespondInvitation(in.InvitationID, userID, in.Response == network.ResponseAccept)
		return err
	case network.MsgMove:
		_, err := d.rooms.Move(userID, in.GameID, *in.Position)
		return err
	case network.MsgStartAIGame:
		difficulty, err := game.ParseDifficulty(in.Difficulty)
		if err != nil {
			return err
		}
		d.matchmaker.Leave(userID)
		_, err = d.rooms.StartAIGame(userID, difficulty)
		return err
	case network.MsgRematch:
		_, err := d.rooms.Rematch(in.RoomID, userID)
		return err
	case network.MsgResync:
		_, err := d.rooms.Resync(in.RoomID, userID)
		return err
	case network.MsgSendChat:
		return d.sendChat(s, userID, in)
	case network.MsgMatchmakingJoin:
		_, err := d.matchmaker.Join(userID)
		return err
	case network.MsgMatchmakingLeave:
		removed := d.matchmaker.Leave(userID)
		return s.SendEnvelope(network.NewEnvelope(network.MsgMatchmakingLeft, matchmaking.LeftPayload{Removed: removed}))
	}
	return apperr.Wrap(apperr.ErrUnknownType, "%q", in.Type)
}

func (d *Dispatcher) authenticate(s *session.Session, in *network.Inbound) error {
	userID, err := d.auth.Authenticate(in.UserID, in.Token)
	if err != nil {
		return err
	}
	if userID == room.AIUserID {
		return apperr.Wrap(apperr.ErrNotAuthorized, "user id %q is reserved", userID)
	}

	if current := s.UserID(); current != "" {
		if current != userID {
			return apperr.Wrap(apperr.ErrInvalidInput, "connection is already authenticated as %s", current)
		}
		return s.SendEnvelope(d.authenticatedEnvelope(s, userID))
	}

	d.sessions.Register(userID, s)
	if d.clock != nil {
		d.clock.Cancel(disconnectKey(userID))
	}
	logger.Log.Infow("user authenticated", "user", userID, "session", s.ID, "remote", s.Conn.RemoteAddr().String())

	if err := s.SendEnvelope(d.authenticatedEnvelope(s, userID)); err != nil {
		return err
	}
	d.presence()
	d.rooms.ResumeUser(userID)
	return nil
}

func (d *Dispatcher) authenticatedEnvelope(s *session.Session, userID string) network.Envelope {
	pending := d.rooms.ListInvitations(userID)
	if pending == nil {
		pending = []room.Invitation{}
	}
	return network.NewEnvelope(network.MsgAuthenticated, AuthenticatedPayload{
		UserID:             userID,
		SessionID:          s.ID,
		ServerTime:         d.now().UnixMilli(),
		PendingInvitations: pending,
	})
}

func (d *Dispatcher) sendChat(s *session.Session, userID string, in *network.Inbound) error {
	var recipients []string
	if in.RoomID != "" {
		view, err := d.rooms.GetRoom(in.RoomID)
		if err != nil {
			return err
		}
		if _, ok := view.RoleOf(userID); !ok {
			return apperr.Wrap(apperr.ErrNotAuthorized, "not a member of room %s", in.RoomID)
		}
		for _, p := range view.Participants {
			if p.UserID != userID && p.UserID != room.AIUserID {
				recipients = append(recipients, p.UserID)
			}
		}
	} else {
		if in.ToUserID == room.AIUserID {
			return apperr.Wrap(apperr.ErrInvalidInput, "cannot message %s", room.AIUserID)
		}
		recipients = []string{in.ToUserID}
	}

	ctx, cancel := context.WithTimeout(context.Background(), chatTimeout)
	defer cancel()
	msg, err := d.chat.Post(ctx, userID, in.ToUserID, in.RoomID, in.Message)
	if err != nil {
		return err
	}

	payload := ChatPayload{FromUserID: userID, FromUser: userID, Message: msg, Delivered: true}
	d.broadcaster.Publish(recipients, network.NewEnvelope(network.MsgChatReceived, payload))
	payload.Delivered = in.RoomID != "" || d.sessions.IsOnline(in.ToUserID)
	return s.SendEnvelope(network.NewEnvelope(network.MsgChatSent, payload))
}

// Disconnect runs when s's read loop ends.
func (d *Dispatcher) Disconnect(s *session.Session) {
	if !d.sessions.Unregister(s) {
		// never authenticated, or superseded by a newer connection
		return
	}
	userID := s.UserID()
	d.matchmaker.Leave(userID)
	logger.Log.Infow("user disconnected", "user", userID, "session", s.ID)

	if d.disconnectGrace > 0 && d.clock != nil {
		d.clock.Schedule(disconnectKey(userID), d.now().Add(d.disconnectGrace), func() {
			d.expireDisconnected(userID)
		})
	}
	d.presence()
}

// expireDisconnected forfeits the seats of a user who did not come back.
func (d *Dispatcher) expireDisconnected(userID string) {
	if d.sessions.IsOnline(userID) {
		return
	}
	for _, roomID := range d.rooms.RoomsOf(userID) {
		if err := d.rooms.LeaveRoom(roomID, userID); err != nil {
			logger.Log.Debugw("grace leave skipped", "user", userID, "room", roomID, "error", err)
		}
	}
	logger.Log.Infow("disconnect grace expired", "user", userID)
}

// Timeout is the turn clock's entry point.
func (d *Dispatcher) Timeout(gameID string) {
	if d.rooms.Timeout(gameID) {
		d.monitor.IncTurnTimeouts()
	}
}

func (d *Dispatcher) presence() {
	count := d.sessions.OnlineCount()
	d.monitor.SetOnlinePlayers(count)
	d.broadcaster.PublishAll(network.NewEnvelope(network.MsgOnlineUsersUpdate, network.OnlineUsersPayload{Count: count}))
}
