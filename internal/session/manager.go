package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarunkv/recall/internal/memory"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrExchangeInFlight = errors.New("an exchange is already streaming for this session")
)

// Session owns the conversational memory for one web client. Clients present
// their own session key; the ID is assigned server-side. Manager accessors
// hand out copies, so callers may read fields freely while the manager keeps
// mutating its own instance under lock.
type Session struct {
	ID             string    `json:"session_id"`
	Key            string    `json:"session_key"`
	Status         Status    `json:"status"`
	ActiveTurnID   string    `json:"active_turn_id,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// Buffer is shared, not copied, by Manager accessors; it carries its own
	// lock.
	Buffer *memory.Buffer `json:"-"`

	streaming bool
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	byKey             map[string]string
	defaultWindow     int
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(defaultWindow int, inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		byKey:             make(map[string]string),
		defaultWindow:     defaultWindow,
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// GetOrCreate resolves a client-supplied session key to its session, creating
// one with a fresh buffer on first use. Each session's buffer is isolated.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[key]; ok {
		if s, ok := m.sessions[id]; ok && s.Status == StatusActive {
			s.LastActivityAt = time.Now().UTC()
			return clone(s)
		}
	}

	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Key:            key,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
		Buffer:         memory.NewBuffer(m.defaultWindow),
	}
	m.sessions[s.ID] = s
	m.byKey[key] = s.ID
	return clone(s)
}

func (m *Manager) Get(key string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := m.sessions[id]
	if !ok || s.Status != StatusActive {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok {
		return ErrNotFound
	}
	m.sessions[id].LastActivityAt = time.Now().UTC()
	return nil
}

// BeginExchange marks a streaming completion in flight. At most one exchange
// streams per session; concurrent attempts get ErrExchangeInFlight.
func (m *Manager) BeginExchange(key, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok {
		return ErrNotFound
	}
	s := m.sessions[id]
	if s.streaming {
		return ErrExchangeInFlight
	}
	s.streaming = true
	s.ActiveTurnID = turnID
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) EndExchange(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok {
		return
	}
	s := m.sessions[id]
	s.streaming = false
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
}

func (m *Manager) End(key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	s := m.sessions[id]
	s.Status = StatusEnded
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
	delete(m.byKey, key)
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		// A session mid-stream is active by definition.
		if s.streaming || now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.ActiveTurnID = ""
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		delete(m.byKey, s.Key)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

// clone copies the session struct. The Buffer pointer is shared on purpose:
// it carries its own lock, and every clone must see the same conversation.
func clone(s *Session) *Session {
	c := *s
	return &c
}
