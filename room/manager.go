package room

import (
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/xoserver/apperr"
	"github.com/wfunc/xoserver/game"
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/network"
	"github.com/wfunc/xoserver/state"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

type Options struct {
	TurnWindow    time.Duration
	ExpiryPolicy  game.ExpiryPolicy
	InvitationTTL time.Duration
	EmptyGrace    time.Duration
	// MaxSpectators caps rooms created without their own cap. 0 is unbounded.
	MaxSpectators int
	AI            game.AIOptions
}

type CreateOptions struct {
	Name          string
	Visibility    Visibility
	MaxSpectators int
}

// Manager owns every room and its indexes. Lock order is room.mu before
// Manager.mutex; the manager lock is never held while a room lock is acquired.
type Manager struct {
	opts      Options
	publisher Publisher
	clock     Scheduler
	archiver  Archiver

	rooms           map[string]*Room
	codes           map[string]*Room
	games           map[string]*Room
	userRooms       map[string]map[string]struct{}
	invitationRooms map[string]*Room
	mutex           sync.RWMutex

	timeoutHandler func(gameID string)
	now            func() time.Time
	async          func(func())
}

// NewRoomManager builds a manager. clock and archiver may be nil.
func NewRoomManager(opts Options, publisher Publisher, clock Scheduler, archiver Archiver) *Manager {
	if opts.TurnWindow <= 0 {
		opts.TurnWindow = 10 * time.Minute
	}
	if opts.InvitationTTL <= 0 {
		opts.InvitationTTL = 10 * time.Minute
	}
	m := &Manager{
		opts:            opts,
		publisher:       publisher,
		clock:           clock,
		archiver:        archiver,
		rooms:           make(map[string]*Room),
		codes:           make(map[string]*Room),
		games:           make(map[string]*Room),
		userRooms:       make(map[string]map[string]struct{}),
		invitationRooms: make(map[string]*Room),
		now:             time.Now,
		async:           func(f func()) { go f() },
	}
	m.timeoutHandler = func(gameID string) { m.Timeout(gameID) }
	return m
}

// SetTimeoutHandler routes turn clock expirations through h instead of
// calling Timeout directly.
func (m *Manager) SetTimeoutHandler(h func(gameID string)) {
	m.timeoutHandler = h
}

// commit publishes out in order and releases r.mu. It must be called with
// r.mu held.
func (m *Manager) commit(r *Room, out *outbox) {
	spawnAI := r.aiTurn() && !r.aiPending
	var gameID string
	if spawnAI {
		r.aiPending = true
		gameID = r.game.ID
	}

	r.publishMu.Lock()
	r.mu.Unlock()
	if m.publisher != nil {
		for _, d := range out.deliveries {
			m.publisher.Publish(d.to, d.env)
		}
	}
	r.publishMu.Unlock()

	if m.archiver != nil {
		for _, g := range out.games {
			m.archiver.GameFinished(g)
		}
		for _, inv := range out.invitations {
			m.archiver.InvitationChanged(inv)
		}
	}
	if spawnAI {
		m.async(func() { m.playAI(r, gameID) })
	}
}

// --- indexes ---

func (m *Manager) lookup(roomID, code string) (*Room, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if roomID != "" {
		if r, ok := m.rooms[roomID]; ok {
			return r, nil
		}
		return nil, apperr.ErrRoomNotFound
	}
	if r, ok := m.codes[strings.ToUpper(code)]; ok {
		return r, nil
	}
	return nil, apperr.ErrRoomNotFound
}

func (m *Manager) snapshotRooms() []*Room {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// addRoom assigns r a unique code and indexes it.
func (m *Manager) addRoom(r *Room) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for {
		code := randomCode()
		if _, taken := m.codes[code]; !taken {
			r.Code = code
			m.codes[code] = r
			break
		}
	}
	m.rooms[r.ID] = r
}

func randomCode() string {
	var b strings.Builder
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rand.IntN(len(codeAlphabet))])
	}
	return b.String()
}

func (m *Manager) indexUser(userID, roomID string) {
	if userID == AIUserID {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	set, ok := m.userRooms[userID]
	if !ok {
		set = make(map[string]struct{})
		m.userRooms[userID] = set
	}
	set[roomID] = struct{}{}
}

func (m *Manager) unindexUser(userID, roomID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if set, ok := m.userRooms[userID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(m.userRooms, userID)
		}
	}
}

func (m *Manager) indexGame(gameID string, r *Room) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.games[gameID] = r
}

func (m *Manager) indexInvitation(invitationID string, r *Room) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.invitationRooms[invitationID] = r
}

// removeRoom drops every index entry pointing at r. r.mu must be held.
func (m *Manager) removeRoom(r *Room) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.rooms, r.ID)
	if m.codes[r.Code] == r {
		delete(m.codes, r.Code)
	}
	for _, id := range r.gameIDs {
		delete(m.games, id)
	}
	for id := range r.invitations {
		delete(m.invitationRooms, id)
	}
	for _, p := range r.participants {
		if set, ok := m.userRooms[p.UserID]; ok {
			delete(set, r.ID)
			if len(set) == 0 {
				delete(m.userRooms, p.UserID)
			}
		}
	}
}

// --- lifecycle ---

// CreateRoom opens a room with creatorID seated as X.
func (m *Manager) CreateRoom(creatorID string, opts CreateOptions) (RoomView, error) {
	if creatorID == "" {
		return RoomView{}, apperr.Wrap(apperr.ErrInvalidInput, "creator is required")
	}
	if opts.Visibility != "" && opts.Visibility != Public && opts.Visibility != Private {
		return RoomView{}, apperr.Wrap(apperr.ErrInvalidInput, "unknown visibility %q", opts.Visibility)
	}
	if opts.MaxSpectators == 0 {
		opts.MaxSpectators = m.opts.MaxSpectators
	}

	now := m.now()
	r := newRoom(m, uuid.NewString(), creatorID, opts, now)
	r.mu.Lock()
	r.participants = append(r.participants, &Participant{UserID: creatorID, Role: RolePlayerX, JoinedAt: now})
	m.addRoom(r)
	m.indexUser(creatorID, r.ID)

	view := r.view()
	var out outbox
	out.send([]string{creatorID}, network.MsgRoomCreated, RoomPayload{Room: view})
	m.commit(r, &out)

	logger.Log.Infow("room created", "room", r.ID, "code", r.Code, "creator", creatorID, "visibility", r.Visibility)
	return view, nil
}

// JoinRoom adds userID to the room identified by roomID or, when roomID is
// empty, by code. role is network.RolePlayer, network.RoleSpectator or
// empty for whichever is available.
func (m *Manager) JoinRoom(roomID, code, userID, role string) (RoomView, error) {
	r, err := m.lookup(roomID, code)
	if err != nil {
		return RoomView{}, err
	}

	r.mu.Lock()
	var out outbox
	if err := m.joinLocked(r, userID, role, false, m.now(), &out); err != nil {
		r.mu.Unlock()
		return RoomView{}, err
	}
	view := r.view()
	m.commit(r, &out)
	return view, nil
}

func (m *Manager) joinLocked(r *Room, userID, role string, invited bool, now time.Time, out *outbox) error {
	if r.closed() {
		return apperr.ErrRoomNotFound
	}
	if r.participant(userID) != nil {
		return apperr.ErrAlreadyMember
	}
	if r.Visibility == Private && !invited && userID != r.CreatorID {
		logger.Log.Warnw("join of private room without invitation", "room", r.ID, "user", userID)
		return apperr.Wrap(apperr.ErrNotAuthorized, "room %s is private", r.ID)
	}

	spectatorSlot := r.MaxSpectators <= 0 || r.spectatorCount() < r.MaxSpectators
	var assigned Role
	switch role {
	case network.RolePlayer:
		seat, ok := r.freeSeat()
		if !ok {
			return apperr.Wrap(apperr.ErrRoomFull, "both player seats are taken")
		}
		assigned = seat
	case network.RoleSpectator:
		if !spectatorSlot {
			return apperr.Wrap(apperr.ErrRoomFull, "spectator limit reached")
		}
		assigned = RoleSpectator
	default:
		if seat, ok := r.freeSeat(); ok {
			assigned = seat
		} else if spectatorSlot {
			assigned = RoleSpectator
		} else {
			return apperr.ErrRoomFull
		}
	}

	r.participants = append(r.participants, &Participant{UserID: userID, Role: assigned, JoinedAt: now})
	r.emptySince = time.Time{}
	m.indexUser(userID, r.ID)
	out.send(r.members(), network.MsgRoomUpdate, RoomUpdatePayload{Event: EventJoined, UserID: userID, Room: r.view()})

	if assigned.IsPlayer() && r.playerCount() == 2 && r.activeGame() == nil {
		m.startGameLocked(r, now, out)
	}
	logger.Log.Infow("joined room", "room", r.ID, "user", userID, "role", assigned)
	return nil
}

// LeaveRoom removes userID from the room. A player leaving mid-game
// abandons the game.
func (m *Manager) LeaveRoom(roomID, userID string) error {
	r, err := m.lookup(roomID, "")
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed() {
		r.mu.Unlock()
		return apperr.ErrRoomNotFound
	}
	if r.participant(userID) == nil {
		r.mu.Unlock()
		return apperr.Wrap(apperr.ErrNotAuthorized, "not a member of room %s", roomID)
	}
	var out outbox
	m.leaveLocked(r, userID, m.now(), &out)
	m.commit(r, &out)
	return nil
}

func (m *Manager) leaveLocked(r *Room, userID string, now time.Time, out *outbox) {
	p := r.removeParticipant(userID)
	m.unindexUser(userID, r.ID)

	if p.Role.IsPlayer() {
		if g := r.activeGame(); g != nil {
			g.Abandon(now)
			r.setPhase(state.PhaseFinished)
			out.send(r.members(), network.MsgGameAbandoned, GameAbandonedPayload{
				GameID:  g.ID,
				RoomID:  r.ID,
				UserID:  userID,
				Message: userID + " left the game",
			})
			out.archive(g)
			logger.Log.Infow("game abandoned", "room", r.ID, "game", g.ID, "user", userID)
		}
		if r.phase() == state.PhaseFinished {
			r.setPhase(state.PhaseWaiting)
		}
	}
	out.send(r.members(), network.MsgRoomUpdate, RoomUpdatePayload{Event: EventLeft, UserID: userID, Room: r.view()})

	if r.humanCount() == 0 {
		if r.isAI() {
			m.closeLocked(r, "empty", now, out)
			return
		}
		r.emptySince = now
	}
}

// CloseRoom removes the room at its creator's request.
func (m *Manager) CloseRoom(roomID, userID string) error {
	r, err := m.lookup(roomID, "")
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed() {
		r.mu.Unlock()
		return apperr.ErrRoomNotFound
	}
	if r.CreatorID != userID {
		r.mu.Unlock()
		logger.Log.Warnw("close by non-creator", "room", roomID, "user", userID)
		return apperr.Wrap(apperr.ErrNotAuthorized, "only the creator can close room %s", roomID)
	}
	var out outbox
	m.closeLocked(r, "closed_by_creator", m.now(), &out)
	m.commit(r, &out)
	return nil
}

func (m *Manager) closeLocked(r *Room, reason string, now time.Time, out *outbox) {
	members := r.members()
	if g := r.activeGame(); g != nil {
		g.Abandon(now)
		r.setPhase(state.PhaseFinished)
		out.send(members, network.MsgGameAbandoned, GameAbandonedPayload{
			GameID:  g.ID,
			RoomID:  r.ID,
			Message: "room closed",
		})
		out.archive(g)
	}
	for _, inv := range r.invitations {
		if inv.Status == InvitationPending {
			inv.Status = InvitationExpired
			t := now
			inv.RespondedAt = &t
			out.send([]string{inv.InviteeID}, network.MsgInvitationResolved, invitationResolvedPayload{Invitation: *inv})
			out.invitations = append(out.invitations, *inv)
		}
	}
	out.send(members, network.MsgRoomClosed, RoomClosedPayload{RoomID: r.ID, Reason: reason})

	m.removeRoom(r)
	r.participants = nil
	r.setPhase(state.PhaseClosed)
	logger.Log.Infow("room closed", "room", r.ID, "reason", reason)
}

// Cleanup expires stale invitations and removes rooms that stayed empty
// past the grace period.
func (m *Manager) Cleanup(now time.Time) (closedRooms, expiredInvitations int) {
	for _, r := range m.snapshotRooms() {
		r.mu.Lock()
		if r.closed() {
			r.mu.Unlock()
			continue
		}
		var out outbox
		for _, inv := range r.invitations {
			if r.expireIfStale(inv, now, &out) {
				expiredInvitations++
			}
		}
		if r.humanCount() == 0 && !r.emptySince.IsZero() && now.Sub(r.emptySince) >= m.opts.EmptyGrace {
			m.closeLocked(r, "empty", now, &out)
			closedRooms++
		}
		m.commit(r, &out)
	}
	if closedRooms > 0 || expiredInvitations > 0 {
		logger.Log.Debugw("cleanup", "rooms", closedRooms, "invitations", expiredInvitations)
	}
	return closedRooms, expiredInvitations
}

// --- queries ---

func (m *Manager) GetRoom(roomID string) (RoomView, error) {
	r, err := m.lookup(roomID, "")
	if err != nil {
		return RoomView{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed() {
		return RoomView{}, apperr.ErrRoomNotFound
	}
	return r.view(), nil
}

// ListRooms returns public rooms, oldest first.
func (m *Manager) ListRooms() []RoomView {
	var views []RoomView
	for _, r := range m.snapshotRooms() {
		r.mu.Lock()
		if !r.closed() && r.Visibility == Public {
			views = append(views, r.view())
		}
		r.mu.Unlock()
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].ID < views[j].ID
		}
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views
}

// RoomsOf returns the ids of the rooms userID belongs to.
func (m *Manager) RoomsOf(userID string) []string {
	m.mutex.RLock()
	ids := make([]string, 0, len(m.userRooms[userID]))
	for id := range m.userRooms[userID] {
		ids = append(ids, id)
	}
	m.mutex.RUnlock()
	sort.Strings(ids)
	return ids
}

// IsInActiveGame reports whether userID is a player in an in-progress game.
func (m *Manager) IsInActiveGame(userID string) bool {
	for _, id := range m.RoomsOf(userID) {
		r, err := m.lookup(id, "")
		if err != nil {
			continue
		}
		r.mu.Lock()
		g := r.activeGame()
		playing := g != nil && g.MarkOf(userID) != game.Empty
		r.mu.Unlock()
		if playing {
			return true
		}
	}
	return false
}

// Stats returns the number of open rooms and in-progress games.
func (m *Manager) Stats() (rooms, activeGames int) {
	for _, r := range m.snapshotRooms() {
		r.mu.Lock()
		if !r.closed() {
			rooms++
			if r.activeGame() != nil {
				activeGames++
			}
		}
		r.mu.Unlock()
	}
	return rooms, activeGames
}
