package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrEnded        = errors.New("session already ended")
	ErrUserMismatch = errors.New("session belongs to another user")
)

// Session is one counseling conversation between a user and a persona. It
// accumulates what the relationship tracker needs when the session closes.
type Session struct {
	ID                    string            `json:"session_id"`
	UserID                string            `json:"user_id"`
	Status                Status            `json:"status"`
	PersonaID             string            `json:"persona_id"`
	TurnCount             int               `json:"turn_count"`
	SharedMemories        []string          `json:"shared_memories,omitempty"`
	EffectiveTechniques   []string          `json:"effective_techniques,omitempty"`
	IneffectiveTechniques []string          `json:"ineffective_techniques,omitempty"`
	ProgressUpdates       map[string]string `json:"progress_updates,omitempty"`
	StartedAt             time.Time         `json:"started_at"`
	LastActivityAt        time.Time         `json:"last_activity_at"`
	EndedAt               time.Time         `json:"ended_at,omitempty"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

// SetExpireHook registers a callback for sessions ended by the janitor.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID, personaID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:              uuid.NewString(),
		UserID:          userID,
		PersonaID:       personaID,
		Status:          StatusActive,
		ProgressUpdates: map[string]string{},
		StartedAt:       now,
		LastActivityAt:  now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// BeginTurn validates that the session is active and owned by userID, then
// counts the turn.
func (m *Manager) BeginTurn(sessionID, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.activeLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, ErrUserMismatch
	}
	s.TurnCount++
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

// AddSharedMemories records memory ids surfaced or created during the session.
func (m *Manager) AddSharedMemories(sessionID string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.activeLocked(sessionID)
	if err != nil {
		return err
	}
	s.SharedMemories = appendUnique(s.SharedMemories, ids...)
	return nil
}

// RecordTechnique notes whether a coping technique helped. The latest verdict
// for a technique wins.
func (m *Manager) RecordTechnique(sessionID, technique string, effective bool) error {
	if technique == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.activeLocked(sessionID)
	if err != nil {
		return err
	}
	if effective {
		s.IneffectiveTechniques = remove(s.IneffectiveTechniques, technique)
		s.EffectiveTechniques = appendUnique(s.EffectiveTechniques, technique)
	} else {
		s.EffectiveTechniques = remove(s.EffectiveTechniques, technique)
		s.IneffectiveTechniques = appendUnique(s.IneffectiveTechniques, technique)
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetProgress records a progress note for the session. Empty keys are ignored.
func (m *Manager) SetProgress(sessionID, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.activeLocked(sessionID)
	if err != nil {
		return err
	}
	s.ProgressUpdates[key] = value
	return nil
}

// End closes an active session. Ending twice returns ErrEnded so the caller
// never applies a session's relationship update more than once.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.activeLocked(sessionID)
	if err != nil {
		return nil, err
	}
	m.endLocked(s, time.Now().UTC())
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
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

func (m *Manager) activeLocked(sessionID string) (*Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusActive {
		return nil, ErrEnded
	}
	return s, nil
}

func (m *Manager) endLocked(s *Session, now time.Time) {
	s.Status = StatusEnded
	s.LastActivityAt = now
	s.EndedAt = now
}

// expireInactive ends idle sessions and forgets sessions that ended more than
// one timeout ago.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status != StatusActive {
			if now.Sub(s.EndedAt) >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		m.endLocked(s, now)
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	c.SharedMemories = append([]string(nil), s.SharedMemories...)
	c.EffectiveTechniques = append([]string(nil), s.EffectiveTechniques...)
	c.IneffectiveTechniques = append([]string(nil), s.IneffectiveTechniques...)
	c.ProgressUpdates = make(map[string]string, len(s.ProgressUpdates))
	for k, v := range s.ProgressUpdates {
		c.ProgressUpdates[k] = v
	}
	return &c
}

func appendUnique(set []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		found := false
		for _, have := range set {
			if have == v {
				found = true
				break
			}
		}
		if !found {
			set = append(set, v)
		}
	}
	return set
}

func remove(set []string, value string) []string {
	out := set[:0]
	for _, v := range set {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}
