// session/session.go
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/network"
)

// Session is one live transport. UserID is empty until the connection
// authenticates.
type Session struct {
	ID         string
	Conn       network.Connection
	CreatedAt  time.Time
	userID     string
	lastActive time.Time
	mutex      sync.RWMutex
}

func NewSession(conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		Conn:       conn,
		CreatedAt:  now,
		lastActive: now,
	}
}

func (s *Session) UserID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.userID
}

func (s *Session) IsAuthenticated() bool {
	return s.UserID() != ""
}

func (s *Session) Touch() {
	s.mutex.Lock()
	s.lastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

func (s *Session) Send(data []byte) error {
	return s.Conn.Send(data)
}

// SendEnvelope encodes env and queues it on the connection.
func (s *Session) SendEnvelope(env network.Envelope) error {
	data, err := network.Encode(env)
	if err != nil {
		return err
	}
	return s.Conn.Send(data)
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Manager maps user ids to their single live session.
type Manager struct {
	sessions map[string]*Session // userID -> session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// Register binds s to userID. A prior session for the same user is closed
// and returned.
func (m *Manager) Register(userID string, s *Session) *Session {
	s.mutex.Lock()
	s.userID = userID
	s.mutex.Unlock()

	m.mutex.Lock()
	prev := m.sessions[userID]
	m.sessions[userID] = s
	m.mutex.Unlock()

	if prev != nil && prev != s {
		logger.Log.Infow("superseding connection", "user", userID, "old", prev.ID, "new", s.ID)
		_ = prev.Close()
		return prev
	}
	return nil
}

// Unregister removes s if it is still the user's current session. It
// reports whether the user went offline.
func (m *Manager) Unregister(s *Session) bool {
	userID := s.UserID()
	if userID == "" {
		return false
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if current, ok := m.sessions[userID]; ok && current == s {
		delete(m.sessions, userID)
		return true
	}
	return false
}

func (m *Manager) Get(userID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, ok := m.sessions[userID]
	return s, ok
}

func (m *Manager) IsOnline(userID string) bool {
	_, ok := m.Get(userID)
	return ok
}

func (m *Manager) OnlineCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// OnlineUsers returns the connected user ids in sorted order.
func (m *Manager) OnlineUsers() []string {
	m.mutex.RLock()
	users := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		users = append(users, id)
	}
	m.mutex.RUnlock()
	sort.Strings(users)
	return users
}

// Deliver queues data for userID. Offline users and failed sends are
// logged and dropped; the return value only feeds metrics.
func (m *Manager) Deliver(userID string, data []byte) bool {
	s, ok := m.Get(userID)
	if !ok {
		logger.Log.Debugw("dropping message for offline user", "user", userID)
		return false
	}
	if err := s.Send(data); err != nil {
		logger.Log.Warnw("delivery failed", "user", userID, "session", s.ID, "error", err)
		return false
	}
	return true
}
