package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tulparlabs/agentrun/types"
)

// Memory is an in-process Store for tests and single-node setups. It
// hands out copies, so callers can never mutate stored state through a
// returned session.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	active   map[[2]string]string
	history  map[string][]types.HistoryEntry

	now func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory session store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*Session),
		active:   make(map[[2]string]string),
		history:  make(map[string][]types.HistoryEntry),
		now:      time.Now,
	}
}

func (m *Memory) GetOrCreate(_ context.Context, userID, agentID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pair := [2]string{userID, agentID}
	if id, ok := m.active[pair]; ok {
		if sess, found := m.sessions[id]; found && sess.Active {
			return cloneSession(sess), nil
		}
	}

	now := m.now().UTC()
	sess := &Session{
		SessionID:    uuid.New().String(),
		UserID:       userID,
		AgentID:      agentID,
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
		Context:      map[string]any{},
	}
	m.sessions[sess.SessionID] = sess
	m.active[pair] = sess.SessionID
	return cloneSession(sess), nil
}

func (m *Memory) Get(_ context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "session %s not found", sessionID)
	}
	return cloneSession(sess), nil
}

func (m *Memory) List(_ context.Context, filter Filter) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if filter.UserID != "" && sess.UserID != filter.UserID {
			continue
		}
		if filter.AgentID != "" && sess.AgentID != filter.AgentID {
			continue
		}
		sessions = append(sessions, cloneSession(sess))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	if len(sessions) > listLimit {
		sessions = sessions[:listLimit]
	}
	return sessions, nil
}

func (m *Memory) UpdateContext(_ context.Context, sessionID string, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return types.Errorf(types.ErrNotFound, "session %s not found", sessionID)
	}
	if sess.Context == nil {
		sess.Context = map[string]any{}
	}
	for key, value := range updates {
		sess.Context[key] = value
	}
	sess.LastActivity = m.now().UTC()
	return nil
}

func (m *Memory) AppendHistory(_ context.Context, entry types.HistoryEntry) error {
	if entry.SessionID == "" {
		return types.NewError(types.ErrValidation, "history entry has no session id")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[entry.SessionID] = append(m.history[entry.SessionID], entry)
	return nil
}

func (m *Memory) History(_ context.Context, sessionID string, limit int) ([]types.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history[sessionID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]types.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *Memory) End(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return types.Errorf(types.ErrNotFound, "session %s not found", sessionID)
	}
	sess.Active = false
	delete(m.active, [2]string{sess.UserID, sess.AgentID})
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func cloneSession(sess *Session) *Session {
	out := *sess
	out.Context = make(map[string]any, len(sess.Context))
	for key, value := range sess.Context {
		out.Context[key] = value
	}
	return &out
}
