package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/types"
)

// DefaultKeyPrefix namespaces all session keys.
const DefaultKeyPrefix = "agentrun:sess:"

// Config connects a Redis session store.
type Config struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
	// TTL expires idle sessions and their history. Zero keeps them
	// forever.
	TTL time.Duration
}

// Redis stores sessions as JSON values with an activity-ordered index
// and per-session history lists. Every write refreshes the TTL, so a
// conversation stays alive as long as it keeps moving.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger

	now func() time.Time
}

var _ Store = (*Redis)(nil)

// NewRedis connects and pings the Redis backend.
func NewRedis(cfg Config, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrStore, "connect to redis").WithCause(err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "session_store")),
		now:    time.Now,
	}, nil
}

func (r *Redis) dataKey(sessionID string) string {
	return r.prefix + "data:" + sessionID
}

// activeKey points the (user, agent) pair at its current session.
func (r *Redis) activeKey(userID, agentID string) string {
	return r.prefix + "active:" + userID + ":" + agentID
}

func (r *Redis) historyKey(sessionID string) string {
	return r.prefix + "hist:" + sessionID
}

// indexKey is the all-sessions index scored by last activity.
func (r *Redis) indexKey() string {
	return r.prefix + "index"
}

// GetOrCreate returns the pair's active session, creating one when the
// pointer is missing or its session expired.
func (r *Redis) GetOrCreate(ctx context.Context, userID, agentID string) (*Session, error) {
	sessionID, err := r.client.Get(ctx, r.activeKey(userID, agentID)).Result()
	if err != nil && err != redis.Nil {
		return nil, types.NewError(types.ErrStore, "read active session pointer").WithCause(err)
	}
	if err == nil {
		sess, getErr := r.Get(ctx, sessionID)
		if getErr == nil && sess.Active {
			return sess, nil
		}
		if getErr != nil && types.GetCode(getErr) != types.ErrNotFound {
			return nil, getErr
		}
		// Pointer is stale, fall through and create a fresh session.
	}

	now := r.now().UTC()
	sess := &Session{
		SessionID:    uuid.New().String(),
		UserID:       userID,
		AgentID:      agentID,
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
		Context:      map[string]any{},
	}
	if err := r.write(ctx, sess, true); err != nil {
		return nil, err
	}

	r.logger.Info("session created",
		zap.String("session_id", sess.SessionID),
		zap.String("user_id", userID),
		zap.String("agent_id", agentID))
	return sess, nil
}

// Get loads one session by id.
func (r *Redis) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.client.Get(ctx, r.dataKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, types.Errorf(types.ErrNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStore, "read session").WithCause(err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, types.NewError(types.ErrStore, "decode session").WithCause(err)
	}
	return &sess, nil
}

// List returns sessions most recently active first, capped at 100.
func (r *Redis) List(ctx context.Context, filter Filter) ([]*Session, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStore, "read session index").WithCause(err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := r.Get(ctx, id)
		if err != nil {
			// Expired sessions linger in the index; skip them.
			continue
		}
		if filter.UserID != "" && sess.UserID != filter.UserID {
			continue
		}
		if filter.AgentID != "" && sess.AgentID != filter.AgentID {
			continue
		}
		sessions = append(sessions, sess)
		if len(sessions) == listLimit {
			break
		}
	}
	return sessions, nil
}

// UpdateContext merges updates into the session context and bumps
// last_activity.
func (r *Redis) UpdateContext(ctx context.Context, sessionID string, updates map[string]any) error {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Context == nil {
		sess.Context = map[string]any{}
	}
	for key, value := range updates {
		sess.Context[key] = value
	}
	sess.LastActivity = r.now().UTC()
	return r.write(ctx, sess, false)
}

// AppendHistory pushes one exchange onto the session's history list.
func (r *Redis) AppendHistory(ctx context.Context, entry types.HistoryEntry) error {
	if entry.SessionID == "" {
		return types.NewError(types.ErrValidation, "history entry has no session id")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return types.NewError(types.ErrStore, "encode history entry").WithCause(err)
	}

	key := r.historyKey(entry.SessionID)
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStore, "append history").WithCause(err)
	}
	return nil
}

// History returns the last limit exchanges ordered oldest first. A
// non-positive limit returns everything.
func (r *Redis) History(ctx context.Context, sessionID string, limit int) ([]types.HistoryEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := r.client.LRange(ctx, r.historyKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStore, "read history").WithCause(err)
	}

	entries := make([]types.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry types.HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			r.logger.Warn("skipping unreadable history entry",
				zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// End marks the session inactive and drops the active pointer, so the
// pair's next message starts a new conversation.
func (r *Redis) End(ctx context.Context, sessionID string) error {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Active = false

	data, err := json.Marshal(sess)
	if err != nil {
		return types.NewError(types.ErrStore, "encode session").WithCause(err)
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.dataKey(sessionID), data, r.ttl)
	pipe.Del(ctx, r.activeKey(sess.UserID, sess.AgentID))
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStore, "end session").WithCause(err)
	}

	r.logger.Info("session ended", zap.String("session_id", sessionID))
	return nil
}

// Ping verifies the backend is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// write stores the session document and refreshes its indexes. The
// withPointer flag also sets the (user, agent) active pointer; updates
// that cannot change which session is active skip it.
func (r *Redis) write(ctx context.Context, sess *Session, withPointer bool) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return types.NewError(types.ErrStore, "encode session").WithCause(err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.dataKey(sess.SessionID), data, r.ttl)
	if withPointer {
		pipe.Set(ctx, r.activeKey(sess.UserID, sess.AgentID), sess.SessionID, r.ttl)
	} else if r.ttl > 0 {
		pipe.Expire(ctx, r.activeKey(sess.UserID, sess.AgentID), r.ttl)
	}
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{
		Score:  float64(sess.LastActivity.UnixNano()),
		Member: sess.SessionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStore, "write session").WithCause(err)
	}
	return nil
}
