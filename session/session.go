package session

import (
	"context"
	"time"

	"github.com/tulparlabs/agentrun/types"
)

// Session is one user's conversation with one agent. Context carries
// the variables the conversation has accumulated; it is merged into a
// run's initial context so workflows see what earlier turns learned.
type Session struct {
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	AgentID      string         `json:"agent_id"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Active       bool           `json:"active"`
	Context      map[string]any `json:"context"`
}

// Filter narrows List results. Zero-value fields are ignored.
type Filter struct {
	UserID  string
	AgentID string
}

// listLimit caps List results the way the original session listing did.
const listLimit = 100

// Store persists sessions and their conversation history.
//
// GetOrCreate returns the active session for (user, agent), creating
// one when none exists. End marks a session inactive; the next
// GetOrCreate for the pair starts fresh. History returns the most
// recent entries ordered oldest first, ready to expand into chat turns.
type Store interface {
	GetOrCreate(ctx context.Context, userID, agentID string) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	List(ctx context.Context, filter Filter) ([]*Session, error)
	UpdateContext(ctx context.Context, sessionID string, updates map[string]any) error
	AppendHistory(ctx context.Context, entry types.HistoryEntry) error
	History(ctx context.Context, sessionID string, limit int) ([]types.HistoryEntry, error)
	End(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
	Close() error
}
