package room

import (
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/xoserver/apperr"
	"github.com/wfunc/xoserver/game"
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/network"
	"github.com/wfunc/xoserver/state"
)

// startGameLocked creates a game for the two seated players and enters the
// playing phase, which arms the turn clock.
func (m *Manager) startGameLocked(r *Room, now time.Time, out *outbox) {
	x, o := r.seat(RolePlayerX), r.seat(RolePlayerO)
	g := game.New(uuid.NewString(), r.ID, x.UserID, o.UserID, now)
	r.game = g
	r.gameIDs = append(r.gameIDs, g.ID)
	m.indexGame(g.ID, r)
	r.setPhase(state.PhasePlaying)

	out.send(r.members(), network.MsgGameStarted, m.gamePayload(r, now))
	logger.Log.Infow("game started", "room", r.ID, "game", g.ID, "x", g.PlayerX, "o", g.PlayerO)
}

// finishLocked publishes the end of r.game, which must be terminal.
func (m *Manager) finishLocked(r *Room, out *outbox) {
	r.setPhase(state.PhaseFinished)
	out.send(r.members(), network.MsgGameOver, gameOverPayload(r))
	out.archive(r.game)
	logger.Log.Infow("game over", "room", r.ID, "game", r.game.ID, "status", r.game.Status, "winner", r.game.Winner)
}

// forceAbandonLocked ends a game whose state can no longer be trusted.
func (m *Manager) forceAbandonLocked(r *Room, cause error, now time.Time, out *outbox) {
	g := r.game
	logger.Log.Errorw("abandoning corrupted game", "room", r.ID, "game", g.ID, "error", cause)
	g.Abandon(now)
	r.setPhase(state.PhaseFinished)
	out.send(r.members(), network.MsgGameAbandoned, GameAbandonedPayload{
		GameID:  g.ID,
		RoomID:  r.ID,
		Message: "game ended due to an internal error",
	})
	out.archive(g)
}

// Move applies userID's move at position to gameID.
func (m *Manager) Move(userID, gameID string, position int) (game.Move, error) {
	m.mutex.RLock()
	r, ok := m.games[gameID]
	m.mutex.RUnlock()
	if !ok {
		return game.Move{}, apperr.ErrGameNotFound
	}

	r.mu.Lock()
	if r.game == nil || r.game.ID != gameID {
		r.mu.Unlock()
		return game.Move{}, apperr.ErrGameNotActive
	}
	var out outbox
	mv, err := m.applyMoveLocked(r, userID, position, m.now(), &out)
	if err != nil && apperr.KindOf(err) != apperr.KindFatal {
		r.mu.Unlock()
		return game.Move{}, err
	}
	m.commit(r, &out)
	return mv, err
}

func (m *Manager) applyMoveLocked(r *Room, userID string, position int, now time.Time, out *outbox) (game.Move, error) {
	g := r.game
	mv, err := g.Play(userID, position, now)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindFatal {
			m.forceAbandonLocked(r, err, now, out)
		}
		return game.Move{}, err
	}

	out.send(r.members(), network.MsgMove, m.movePayload(r, mv, now))
	if g.Status.Terminal() {
		m.finishLocked(r, out)
	} else {
		// rescheduling the same key replaces the pending deadline
		r.ArmTurnClock()
	}
	return mv, nil
}

// playAI computes the computer's move on a snapshot without holding the
// room lock, then applies it only if the game has not moved on.
func (m *Manager) playAI(r *Room, gameID string) {
	r.mu.Lock()
	if !r.aiTurn() || r.game.ID != gameID {
		r.aiPending = false
		r.mu.Unlock()
		return
	}
	board := r.game.Board
	seq := len(r.game.Moves)
	mark := r.game.Turn
	difficulty := r.difficulty
	r.mu.Unlock()

	position := game.ComputeMove(board, mark, difficulty, m.opts.AI)

	r.mu.Lock()
	r.aiPending = false
	if !r.aiTurn() || r.game.ID != gameID || len(r.game.Moves) != seq || position < 0 {
		r.mu.Unlock()
		return
	}
	var out outbox
	if _, err := m.applyMoveLocked(r, AIUserID, position, m.now(), &out); err != nil {
		logger.Log.Errorw("ai move rejected", "room", r.ID, "game", gameID, "position", position, "error", err)
	}
	m.commit(r, &out)
}

// StartAIGame opens a private room where userID plays X against the computer.
func (m *Manager) StartAIGame(userID string, difficulty game.Difficulty) (RoomView, error) {
	if m.IsInActiveGame(userID) {
		return RoomView{}, apperr.ErrAlreadyInGame
	}

	now := m.now()
	r := newRoom(m, uuid.NewString(), userID, CreateOptions{
		Name:       "vs AI (" + string(difficulty) + ")",
		Visibility: Private,
	}, now)
	r.difficulty = difficulty

	r.mu.Lock()
	r.participants = append(r.participants,
		&Participant{UserID: userID, Role: RolePlayerX, JoinedAt: now},
		&Participant{UserID: AIUserID, Role: RolePlayerO, JoinedAt: now},
	)
	m.addRoom(r)
	m.indexUser(userID, r.ID)

	var out outbox
	out.send([]string{userID}, network.MsgRoomCreated, RoomPayload{Room: r.view()})
	m.startGameLocked(r, now, &out)
	view := r.view()
	m.commit(r, &out)
	return view, nil
}

// CreateMatchRoom opens a public room for a matchmaking pair and starts the
// game immediately. playerX moves first.
func (m *Manager) CreateMatchRoom(playerX, playerO string) (RoomView, error) {
	now := m.now()
	r := newRoom(m, uuid.NewString(), playerX, CreateOptions{
		Name:          "Match " + playerX + " vs " + playerO,
		Visibility:    Public,
		MaxSpectators: m.opts.MaxSpectators,
	}, now)

	r.mu.Lock()
	r.participants = append(r.participants,
		&Participant{UserID: playerX, Role: RolePlayerX, JoinedAt: now},
		&Participant{UserID: playerO, Role: RolePlayerO, JoinedAt: now},
	)
	m.addRoom(r)
	m.indexUser(playerX, r.ID)
	m.indexUser(playerO, r.ID)

	var out outbox
	view := r.view()
	out.send([]string{playerX}, network.MsgMatchmakingMatched, MatchedPayload{RoomID: r.ID, Opponent: playerO, Room: view})
	out.send([]string{playerO}, network.MsgMatchmakingMatched, MatchedPayload{RoomID: r.ID, Opponent: playerX, Room: view})
	m.startGameLocked(r, now, &out)
	view = r.view()
	m.commit(r, &out)

	logger.Log.Infow("match room created", "room", r.ID, "x", playerX, "o", playerO)
	return view, nil
}

// Rematch starts a new game in a finished room with the seats swapped.
func (m *Manager) Rematch(roomID, userID string) (RoomView, error) {
	r, err := m.lookup(roomID, "")
	if err != nil {
		return RoomView{}, err
	}

	r.mu.Lock()
	if r.closed() {
		r.mu.Unlock()
		return RoomView{}, apperr.ErrRoomNotFound
	}
	p := r.participant(userID)
	if p == nil || !p.Role.IsPlayer() {
		r.mu.Unlock()
		return RoomView{}, apperr.Wrap(apperr.ErrNotAuthorized, "only players can ask for a rematch")
	}
	if r.phase() != state.PhaseFinished || r.playerCount() != 2 {
		r.mu.Unlock()
		return RoomView{}, apperr.ErrRematchNotReady
	}

	for _, part := range r.participants {
		switch part.Role {
		case RolePlayerX:
			part.Role = RolePlayerO
		case RolePlayerO:
			part.Role = RolePlayerX
		}
	}
	var out outbox
	m.startGameLocked(r, m.now(), &out)
	view := r.view()
	m.commit(r, &out)
	return view, nil
}

// Resync sends userID a fresh game_reconnection snapshot for roomID.
func (m *Manager) Resync(roomID, userID string) (ReconnectionPayload, error) {
	r, err := m.lookup(roomID, "")
	if err != nil {
		return ReconnectionPayload{}, err
	}

	r.mu.Lock()
	if r.closed() {
		r.mu.Unlock()
		return ReconnectionPayload{}, apperr.ErrRoomNotFound
	}
	if r.participant(userID) == nil {
		r.mu.Unlock()
		return ReconnectionPayload{}, apperr.Wrap(apperr.ErrNotAuthorized, "not a member of room %s", roomID)
	}
	payload := m.reconnectionPayload(r, userID, m.now())
	var out outbox
	out.send([]string{userID}, network.MsgGameReconnection, payload)
	m.commit(r, &out)
	return payload, nil
}

// ResumeUser sends game_reconnection for every in-progress game userID
// belongs to. It returns how many were sent.
func (m *Manager) ResumeUser(userID string) int {
	sent := 0
	for _, id := range m.RoomsOf(userID) {
		r, err := m.lookup(id, "")
		if err != nil {
			continue
		}
		r.mu.Lock()
		if r.closed() || r.activeGame() == nil || r.participant(userID) == nil {
			r.mu.Unlock()
			continue
		}
		var out outbox
		out.send([]string{userID}, network.MsgGameReconnection, m.reconnectionPayload(r, userID, m.now()))
		m.commit(r, &out)
		sent++
	}
	return sent
}

type expiredPayload struct {
	GameID     string      `json:"gameId"`
	RoomID     string      `json:"roomId"`
	Status     game.Status `json:"status"`
	Winner     string      `json:"winner,omitempty"`
	WinnerMark game.Cell   `json:"winnerMark"`
	Game       *game.Game  `json:"game"`
}

// Timeout expires gameID if its deadline has passed. A fire for a game that
// already ended or moved since the clock was armed is a no-op.
func (m *Manager) Timeout(gameID string) bool {
	m.mutex.RLock()
	r, ok := m.games[gameID]
	m.mutex.RUnlock()
	if !ok {
		return false
	}

	r.mu.Lock()
	g := r.activeGame()
	now := m.now()
	if g == nil || g.ID != gameID || now.Before(g.Deadline(m.opts.TurnWindow)) {
		r.mu.Unlock()
		return false
	}
	if !g.Expire(m.opts.ExpiryPolicy, now) {
		r.mu.Unlock()
		return false
	}

	var out outbox
	r.setPhase(state.PhaseFinished)
	out.send(r.members(), network.MsgGameExpired, expiredPayload{
		GameID:     g.ID,
		RoomID:     r.ID,
		Status:     g.Status,
		Winner:     g.UserOf(g.Winner),
		WinnerMark: g.Winner,
		Game:       g.Clone(),
	})
	out.archive(g)
	winner := g.Winner
	m.commit(r, &out)

	logger.Log.Infow("game expired", "room", r.ID, "game", gameID, "winner", winner)
	return true
}
