package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/xoserver/apperr"
	"github.com/wfunc/xoserver/config"
	"github.com/wfunc/xoserver/game"
	"github.com/wfunc/xoserver/models"
	"github.com/wfunc/xoserver/room"
)

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(frame string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// await reads frames until one of msgType arrives.
func (c *wsClient) await(msgType string) map[string]interface{} {
	c.t.Helper()
	return c.awaitWhere(msgType, func(map[string]interface{}) bool { return true })
}

func (c *wsClient) awaitWhere(msgType string, match func(map[string]interface{}) bool) map[string]interface{} {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", msgType)
		var frame map[string]interface{}
		require.NoError(c.t, json.Unmarshal(data, &frame))
		if frame["type"] == msgType && match(frame) {
			return frame
		}
	}
}

func newHTTPServer(t *testing.T) (*GameServer, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Heartbeat = 0
	s := NewGameServer(cfg, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.timers.Stop()
	})
	return s, srv
}

func TestWebSocket_MatchmakingGame(t *testing.T) {
	_, srv := newHTTPServer(t)
	alice, bob := dialWS(t, srv), dialWS(t, srv)

	alice.send(`{"type":"auth","userId":"alice"}`)
	alice.await("authenticated")
	bob.send(`{"type":"auth","userId":"bob"}`)
	bob.await("authenticated")

	alice.send(`{"type":"matchmaking_join"}`)
	assert.Equal(t, 1.0, alice.await("matchmaking_waiting")["position"])
	bob.send(`{"type":"matchmaking_join"}`)

	matched := alice.await("matchmaking_matched")
	assert.Equal(t, "bob", matched["opponent"])
	started := alice.await("game_started")
	gameID := started["game"].(map[string]interface{})["id"].(string)
	bob.await("game_started")

	moves := []struct {
		c   *wsClient
		pos int
	}{{alice, 0}, {bob, 5}, {alice, 1}, {bob, 6}, {alice, 2}}
	for _, mv := range moves {
		b, _ := json.Marshal(map[string]interface{}{"type": "move", "gameId": gameID, "position": mv.pos})
		mv.c.send(string(b))
		for _, c := range []*wsClient{alice, bob} {
			c.awaitWhere("move", func(f map[string]interface{}) bool { return f["position"] == float64(mv.pos) })
		}
	}

	over := bob.await("game_over")
	assert.Equal(t, "alice", over["winner"])
	assert.Equal(t, string(game.StatusWon), over["status"])
}

func TestWebSocket_ErrorStaysWithOriginator(t *testing.T) {
	_, srv := newHTTPServer(t)
	c := dialWS(t, srv)

	c.send(`{"type":"join_room","roomId":"nope"}`)
	assert.Equal(t, "NotAuthenticated", c.await("error")["code"])

	c.send(`{"type":"auth","userId":"carol"}`)
	c.await("authenticated")
	c.send(`{"type":"join_room","roomId":"nope"}`)
	errFrame := c.await("error")
	assert.Equal(t, "RoomNotFound", errFrame["code"])
	assert.Equal(t, "not_found", errFrame["kind"])

	// the connection stays usable after errors
	c.send(`{"type":"ping"}`)
	assert.NotZero(t, c.await("pong")["serverTime"])
}

func TestWebSocket_AIGame(t *testing.T) {
	_, srv := newHTTPServer(t)
	c := dialWS(t, srv)
	c.send(`{"type":"auth","userId":"dana"}`)
	c.await("authenticated")

	c.send(`{"type":"start_ai_game","difficulty":"easy"}`)
	started := c.await("game_started")
	g := started["game"].(map[string]interface{})
	assert.Equal(t, "dana", g["playerX"])
	assert.Equal(t, room.AIUserID, g["playerO"])

	b, _ := json.Marshal(map[string]interface{}{"type": "move", "gameId": g["id"], "position": 7})
	c.send(string(b))
	first := c.await("move")
	assert.Equal(t, 7.0, first["position"])
	reply := c.await("move")
	assert.NotEqual(t, 7.0, reply["position"], "the computer answers on another cell")
}

func TestWebSocket_DisconnectBroadcastsPresence(t *testing.T) {
	s, srv := newHTTPServer(t)
	alice, bob := dialWS(t, srv), dialWS(t, srv)
	alice.send(`{"type":"auth","userId":"alice"}`)
	alice.await("authenticated")
	bob.send(`{"type":"auth","userId":"bob"}`)
	bob.await("authenticated")
	countIs := func(n float64) func(map[string]interface{}) bool {
		return func(f map[string]interface{}) bool { return f["count"] == n }
	}
	alice.awaitWhere("online_users_update", countIs(2))

	bob.conn.Close()
	require.Eventually(t, func() bool { return !s.sessionManager.IsOnline("bob") }, 2*time.Second, 10*time.Millisecond)
	alice.awaitWhere("online_users_update", countIs(1))
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	_, srv := newHTTPServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health healthPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)

	c := dialWS(t, srv)
	c.send(`{"type":"ping"}`)
	c.await("pong")

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `xoserver_messages_received_total{type="ping"} 1`)
}

func TestCommands_ShareLiveState(t *testing.T) {
	s, _ := newHTTPServer(t)
	cmds := commands{s: s}
	ctx := context.Background()

	view, err := cmds.CreateRoom("alice", room.CreateOptions{Name: "via rpc", Visibility: room.Public})
	require.NoError(t, err)
	listed := cmds.ListRooms()
	require.Len(t, listed, 1)
	assert.Equal(t, view.ID, listed[0].ID)

	stats, err := cmds.PlayerStats(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, stats.Games, "no database means empty stats")

	_, err = cmds.ChatHistory(ctx, models.ChatQuery{UserID: "mallory", RoomID: view.ID})
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	history, err := cmds.ChatHistory(ctx, models.ChatQuery{UserID: "alice", RoomID: view.ID})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCommands_JoinMatchmakingNeedsLiveConnection(t *testing.T) {
	s, _ := newHTTPServer(t)
	cmds := commands{s: s}

	_, err := cmds.JoinMatchmaking("ghost")
	assert.ErrorIs(t, err, apperr.ErrNotConnected)
	assert.Equal(t, 0, s.matchmaker.Queue().Len())

	alice := login(t, s, "alice")
	res, err := cmds.JoinMatchmaking("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Position)

	s.dispatcher.Disconnect(alice.sess)
	assert.Equal(t, 0, s.matchmaker.Queue().Len(), "the socket closing takes the entry out")
}
