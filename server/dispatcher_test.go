package server

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/xoserver/config"
	"github.com/wfunc/xoserver/room"
	"github.com/wfunc/xoserver/session"
)

type MockConnection struct {
	mu     sync.Mutex
	frames []map[string]interface{}
	closed bool
}

func (m *MockConnection) Send(data []byte) error {
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
	return nil
}

func (m *MockConnection) ReadMessage() ([]byte, error) { return nil, net.ErrClosed }

func (m *MockConnection) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MockConnection) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}

func (m *MockConnection) all(msgType string) []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]interface{}
	for _, f := range m.frames {
		if f["type"] == msgType {
			out = append(out, f)
		}
	}
	return out
}

func (m *MockConnection) last(t *testing.T, msgType string) map[string]interface{} {
	t.Helper()
	frames := m.all(msgType)
	require.NotEmpty(t, frames, "no %s frame", msgType)
	return frames[len(frames)-1]
}

func (m *MockConnection) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type client struct {
	conn *MockConnection
	sess *session.Session
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *GameServer {
	t.Helper()
	cfg := config.Default()
	for _, f := range mutate {
		f(cfg)
	}
	s := NewGameServer(cfg, nil)
	t.Cleanup(s.timers.Stop)
	return s
}

func connect(s *GameServer) *client {
	conn := &MockConnection{}
	return &client{conn: conn, sess: session.NewSession(conn)}
}

func (c *client) send(s *GameServer, frame string) {
	s.dispatcher.Handle(c.sess, []byte(frame))
}

func login(t *testing.T, s *GameServer, userID string) *client {
	t.Helper()
	c := connect(s)
	c.send(s, `{"type":"auth","userId":"`+userID+`"}`)
	require.Equal(t, userID, c.conn.last(t, "authenticated")["userId"])
	return c
}

func TestDispatcher_AuthGate(t *testing.T) {
	s := newTestServer(t)
	c := connect(s)

	c.send(s, `{"type":"ping"}`)
	assert.Len(t, c.conn.all("pong"), 1, "ping works before auth")

	c.send(s, `{"type":"create_room","name":"x"}`)
	errFrame := c.conn.last(t, "error")
	assert.Equal(t, "NotAuthenticated", errFrame["code"])
	assert.Equal(t, "create_room", errFrame["requestType"])

	c.send(s, `{"type":"auth","userId":"@ai"}`)
	assert.Equal(t, "NotAuthorized", c.conn.last(t, "error")["code"])
	assert.False(t, c.sess.IsAuthenticated())
}

func TestDispatcher_MalformedAndInvalid(t *testing.T) {
	s := newTestServer(t)
	c := login(t, s, "alice")

	c.send(s, `not json`)
	errFrame := c.conn.last(t, "error")
	assert.Equal(t, "MalformedEnvelope", errFrame["code"])
	assert.Equal(t, "validation", errFrame["kind"])
	_, hasType := errFrame["requestType"]
	assert.False(t, hasType)

	c.send(s, `{"type":"move","gameId":"g1"}`)
	errFrame = c.conn.last(t, "error")
	assert.Equal(t, "InvalidInput", errFrame["code"])
	assert.Equal(t, "move", errFrame["requestType"])

	c.send(s, `{"type":"teleport"}`)
	assert.Equal(t, "UnknownType", c.conn.last(t, "error")["code"])
}

func TestDispatcher_PresenceBroadcast(t *testing.T) {
	s := newTestServer(t)
	alice := login(t, s, "alice")
	bob := login(t, s, "bob")

	assert.Equal(t, 2.0, alice.conn.last(t, "online_users_update")["count"])
	assert.Equal(t, 2.0, bob.conn.last(t, "online_users_update")["count"])

	s.dispatcher.Disconnect(bob.sess)
	assert.Equal(t, 1.0, alice.conn.last(t, "online_users_update")["count"])
	assert.False(t, s.sessionManager.IsOnline("bob"))
}

func TestDispatcher_SupersededSessionDisconnectIsNoOp(t *testing.T) {
	s := newTestServer(t)
	first := login(t, s, "alice")
	second := login(t, s, "alice")

	assert.True(t, first.conn.isClosed())
	s.dispatcher.Disconnect(first.sess)
	assert.True(t, s.sessionManager.IsOnline("alice"))

	second.send(s, `{"type":"auth","userId":"bob"}`)
	assert.Equal(t, "InvalidInput", second.conn.last(t, "error")["code"])
}

func TestDispatcher_RoomGameFlow(t *testing.T) {
	s := newTestServer(t)
	alice := login(t, s, "alice")
	bob := login(t, s, "bob")
	carol := login(t, s, "carol")

	alice.send(s, `{"type":"create_room","name":"duel","visibility":"public"}`)
	created := alice.conn.last(t, "room_created")["room"].(map[string]interface{})
	code := created["code"].(string)
	roomID := created["id"].(string)

	bob.send(s, `{"type":"join_room","code":"`+code+`"}`)
	started := bob.conn.last(t, "game_started")
	gameID := started["game"].(map[string]interface{})["id"].(string)
	assert.NotEmpty(t, started["expiresAt"])
	assert.NotZero(t, started["serverTime"])
	require.Len(t, alice.conn.all("game_started"), 1)

	carol.send(s, `{"type":"join_room","roomId":"`+roomID+`","role":"player"}`)
	assert.Equal(t, "RoomFull", carol.conn.last(t, "error")["code"])
	carol.send(s, `{"type":"join_room","roomId":"`+roomID+`","role":"spectator"}`)
	assert.Empty(t, carol.conn.all("error")[1:])

	// bob is O and must wait
	bob.send(s, `{"type":"move","gameId":"`+gameID+`","position":4}`)
	assert.Equal(t, "NotYourTurn", bob.conn.last(t, "error")["code"])
	assert.Empty(t, alice.conn.all("error"), "errors only reach the originator")

	for i, mv := range []struct {
		who *client
		pos string
	}{{alice, "0"}, {bob, "10"}, {alice, "1"}, {bob, "11"}, {alice, "2"}} {
		mv.who.send(s, `{"type":"move","gameId":"`+gameID+`","position":`+mv.pos+`}`)
		require.Len(t, mv.who.conn.all("error"), map[int]int{0: 0, 1: 1, 2: 0, 3: 1, 4: 0}[i])
	}

	for _, c := range []*client{alice, bob, carol} {
		over := c.conn.last(t, "game_over")
		assert.Equal(t, "alice", over["winner"])
	}

	bob.send(s, `{"type":"move","gameId":"`+gameID+`","position":3}`)
	assert.Equal(t, "GameNotActive", bob.conn.last(t, "error")["code"])

	bob.send(s, `{"type":"rematch","roomId":"`+roomID+`"}`)
	assert.Len(t, alice.conn.all("game_started"), 2)
}

func TestDispatcher_InvitationsOnAuth(t *testing.T) {
	s := newTestServer(t)
	alice := login(t, s, "alice")
	alice.send(s, `{"type":"create_room","name":"private","visibility":"private"}`)
	roomID := alice.conn.last(t, "room_created")["room"].(map[string]interface{})["id"].(string)

	alice.send(s, `{"type":"invite","roomId":"`+roomID+`","inviteeId":"bob"}`)
	require.Len(t, alice.conn.all("invitation_sent"), 1)

	bob := login(t, s, "bob")
	pending := bob.conn.last(t, "authenticated")["pendingInvitations"].([]interface{})
	require.Len(t, pending, 1)
	invID := pending[0].(map[string]interface{})["id"].(string)

	bob.send(s, `{"type":"invite_respond","invitationId":"`+invID+`","response":"accept"}`)
	assert.Len(t, alice.conn.all("invitation_resolved"), 1)
	assert.Len(t, bob.conn.all("game_started"), 1)

	bob.send(s, `{"type":"invite_respond","invitationId":"`+invID+`","response":"accept"}`)
	assert.Equal(t, "AlreadyResolved", bob.conn.last(t, "error")["code"])
}

func TestDispatcher_Chat(t *testing.T) {
	s := newTestServer(t)
	alice := login(t, s, "alice")
	bob := login(t, s, "bob")
	carol := login(t, s, "carol")

	alice.send(s, `{"type":"send_chat_message","toUserId":"bob","message":"hi bob"}`)
	received := bob.conn.last(t, "chat_message_received")
	assert.Equal(t, "alice", received["fromUserId"])
	got := received["message"].(map[string]interface{})
	assert.Equal(t, "hi bob", got["body"])
	assert.Equal(t, "alice", got["senderId"])
	assert.Equal(t, true, alice.conn.last(t, "chat_message_sent")["delivered"])
	assert.Empty(t, carol.conn.all("chat_message_received"))

	alice.send(s, `{"type":"send_chat_message","toUserId":"dave","message":"hello?"}`)
	assert.Equal(t, false, alice.conn.last(t, "chat_message_sent")["delivered"])

	alice.send(s, `{"type":"create_room","name":"r"}`)
	roomID := alice.conn.last(t, "room_created")["room"].(map[string]interface{})["id"].(string)
	bob.send(s, `{"type":"join_room","roomId":"`+roomID+`"}`)

	carol.send(s, `{"type":"send_chat_message","roomId":"`+roomID+`","message":"let me in"}`)
	assert.Equal(t, "NotAuthorized", carol.conn.last(t, "error")["code"])

	bob.send(s, `{"type":"send_chat_message","roomId":"`+roomID+`","message":"gl hf"}`)
	assert.Equal(t, "gl hf", alice.conn.last(t, "chat_message_received")["message"].(map[string]interface{})["body"])
	assert.Len(t, bob.conn.all("chat_message_received"), 1, "the sender gets an ack, not a copy")
	assert.Len(t, bob.conn.all("chat_message_sent"), 1)
}

func TestDispatcher_Matchmaking(t *testing.T) {
	s := newTestServer(t)
	alice := login(t, s, "alice")
	bob := login(t, s, "bob")

	alice.send(s, `{"type":"matchmaking_join"}`)
	assert.Equal(t, 1.0, alice.conn.last(t, "matchmaking_waiting")["position"])
	alice.send(s, `{"type":"matchmaking_join"}`)
	assert.Equal(t, "AlreadyQueued", alice.conn.last(t, "error")["code"])

	alice.send(s, `{"type":"matchmaking_leave"}`)
	assert.Equal(t, true, alice.conn.last(t, "matchmaking_left")["removed"])
	alice.send(s, `{"type":"matchmaking_leave"}`)
	assert.Equal(t, false, alice.conn.last(t, "matchmaking_left")["removed"])

	alice.send(s, `{"type":"matchmaking_join"}`)
	bob.send(s, `{"type":"matchmaking_join"}`)
	assert.Equal(t, "bob", alice.conn.last(t, "matchmaking_matched")["opponent"])
	assert.Len(t, bob.conn.all("game_started"), 1)
}

func TestDispatcher_DisconnectLeavesQueue(t *testing.T) {
	s := newTestServer(t)
	alice := login(t, s, "alice")
	alice.send(s, `{"type":"matchmaking_join"}`)
	require.Equal(t, 1, s.matchmaker.Queue().Len())

	s.dispatcher.Disconnect(alice.sess)
	assert.Equal(t, 0, s.matchmaker.Queue().Len())
}

func TestDispatcher_DisconnectGraceHoldsSeatByDefault(t *testing.T) {
	s := newTestServer(t)
	alice := login(t, s, "alice")
	alice.send(s, `{"type":"create_room","name":"r"}`)

	s.dispatcher.Disconnect(alice.sess)
	assert.Len(t, s.roomManager.RoomsOf("alice"), 1)
	assert.False(t, s.timers.Pending(disconnectKey("alice")))
}

func TestDispatcher_DisconnectGraceForfeits(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Room.DisconnectGrace = 50 * time.Millisecond
		cfg.Timer.Resolution = 10 * time.Millisecond
	})
	alice := login(t, s, "alice")
	bob := login(t, s, "bob")
	alice.send(s, `{"type":"matchmaking_join"}`)
	bob.send(s, `{"type":"matchmaking_join"}`)
	require.True(t, s.roomManager.IsInActiveGame("alice"))

	s.dispatcher.Disconnect(alice.sess)
	require.True(t, s.timers.Pending(disconnectKey("alice")))

	require.Eventually(t, func() bool {
		return len(bob.conn.all("game_abandoned")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, s.roomManager.RoomsOf("alice"))
}

func TestDispatcher_ReconnectCancelsGrace(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Room.DisconnectGrace = time.Hour
	})
	alice := login(t, s, "alice")
	bob := login(t, s, "bob")
	alice.send(s, `{"type":"matchmaking_join"}`)
	bob.send(s, `{"type":"matchmaking_join"}`)

	s.dispatcher.Disconnect(alice.sess)
	require.True(t, s.timers.Pending(disconnectKey("alice")))

	back := login(t, s, "alice")
	assert.False(t, s.timers.Pending(disconnectKey("alice")))
	resumed := back.conn.last(t, "game_reconnection")
	assert.Equal(t, string(room.RolePlayerX), resumed["role"])
}

func TestDispatcher_TimeoutCountsOnlyRealExpiry(t *testing.T) {
	s := newTestServer(t)
	s.dispatcher.Timeout("no-such-game")
	assert.Empty(t, s.roomManager.RoomsOf("anyone"))
}
