package monitor

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_Counters(t *testing.T) {
	m := NewMonitor("xo_test")

	m.IncMessagesReceived("move")
	m.IncMessagesReceived("move")
	m.IncMessagesReceived("ping")
	m.IncErrors("NotYourTurn")
	m.IncDropped("game_over")
	m.IncGamesFinished("won")
	m.IncTurnTimeouts()
	m.SetOnlinePlayers(3)
	m.SetRoomStats(2, 1)
	m.SetQueueLength(1)
	m.ObserveMessageLatency(5 * time.Millisecond)

	mt := m.Metrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(mt.MessagesReceived.WithLabelValues("move")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.MessagesReceived.WithLabelValues("ping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.Errors.WithLabelValues("NotYourTurn")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.DroppedDeliveries.WithLabelValues("game_over")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.GamesFinished.WithLabelValues("won")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.TurnTimeouts))
	assert.Equal(t, 3.0, testutil.ToFloat64(mt.OnlinePlayers))
	assert.Equal(t, 2.0, testutil.ToFloat64(mt.ActiveRooms))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.ActiveGames))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.QueueLength))
	assert.Equal(t, 1, testutil.CollectAndCount(mt.MessageLatency))
}

func TestMonitor_InstancesDoNotCollide(t *testing.T) {
	a := NewMonitor("xo_test")
	b := NewMonitor("xo_test")
	a.SetOnlinePlayers(5)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Metrics().OnlinePlayers))
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor("xo_test")
	m.SetOnlinePlayers(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), "xo_test_online_players 7"), string(body))
	assert.Contains(t, string(body), "xo_test_uptime_seconds")
}
