package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lmarchetti42/chatform/config"
	"github.com/lmarchetti42/chatform/domain"
	"github.com/lmarchetti42/chatform/store"
)

// ErrSessionNotFound is returned when a session id is neither live nor
// persisted.
var ErrSessionNotFound = errors.New("session not found")

// Manager owns the live coordinators, one per open conversation. No two
// coordinators ever share a session.
type Manager struct {
	opener Opener
	store  store.Store
	sink   Sink
	cfg    *config.Config
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Coordinator
}

// NewManager creates a manager.
func NewManager(opener Opener, st store.Store, sink Sink, cfg *config.Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		opener:   opener,
		store:    st,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Coordinator),
	}
}

// Create opens a brand new session.
func (m *Manager) Create(ctx context.Context) (*Coordinator, error) {
	session := &domain.Session{
		SessionID: "sess_" + uuid.New().String()[:8],
		CreatedAt: time.Now(),
	}
	if m.store != nil {
		if err := m.store.CreateSession(ctx, session); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
	}

	coord := NewCoordinator(session, m.opener, m.store, m.sink, m.cfg, m.logger)
	m.mu.Lock()
	m.sessions[session.SessionID] = coord
	m.mu.Unlock()
	return coord, nil
}

// Open returns the live coordinator for a session, hydrating it from
// persisted history when it is not yet loaded.
func (m *Manager) Open(ctx context.Context, sessionID string) (*Coordinator, error) {
	m.mu.Lock()
	if coord, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return coord, nil
	}
	m.mu.Unlock()

	if m.store == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	history, err := m.store.GetMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate messages: %w", err)
	}
	for i := range history {
		session.Messages = append(session.Messages, &history[i])
	}

	coord := NewCoordinator(session, m.opener, m.store, m.sink, m.cfg, m.logger)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[sessionID]; ok {
		// Another caller hydrated first; theirs wins.
		return existing, nil
	}
	m.sessions[sessionID] = coord
	return coord, nil
}

// List returns all known sessions, persisted ones included.
func (m *Manager) List(ctx context.Context) ([]domain.Session, error) {
	if m.store != nil {
		return m.store.ListSessions(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Session
	for _, coord := range m.sessions {
		out = append(out, coord.Session())
	}
	return out, nil
}

// Close tears down one session; its open channel, if any, is cancelled.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	coord, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		coord.Close()
	}
}

// Shutdown closes every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	coords := make([]*Coordinator, 0, len(m.sessions))
	for _, coord := range m.sessions {
		coords = append(coords, coord)
	}
	m.sessions = make(map[string]*Coordinator)
	m.mu.Unlock()

	for _, coord := range coords {
		coord.Close()
	}
}
