package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/engine"
)

const (
	// DefaultSubscriberBuffer is the per-socket send queue depth.
	DefaultSubscriberBuffer = 16

	wsWriteTimeout = 5 * time.Second
)

// WSMessage is the JSON envelope pushed to subscribers.
type WSMessage struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type subscriber struct {
	ch   chan []byte
	slow func()
}

// Hub is the WebSocket response channel. Each user may hold any number
// of open sockets; Deliver fans a response out to all of them. A
// subscriber whose send queue is full gets disconnected rather than
// stalling delivery for everyone else.
type Hub struct {
	buffer int
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

var (
	_ engine.ResponseSink = (*Hub)(nil)
	_ http.Handler        = (*Hub)(nil)
)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSubscriberBuffer sets the per-socket queue depth.
func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHubLogger sets the logger.
func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		buffer: DefaultSubscriberBuffer,
		logger: zap.NewNop(),
		subs:   make(map[string]map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(zap.String("component", "ws_hub"))
	return h
}

// Deliver queues the response on every socket the user holds. A user
// with no open socket loses the message; this channel is live push,
// not a mailbox.
func (h *Hub) Deliver(ctx context.Context, userID, message string) error {
	payload, err := json.Marshal(WSMessage{
		Type:      "response",
		UserID:    userID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs[userID]))
	for sub := range h.subs[userID] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		h.logger.Debug("no subscribers for response",
			zap.String("user_id", userID))
		return nil
	}

	dropped := 0
	for _, sub := range targets {
		select {
		case sub.ch <- payload:
		default:
			dropped++
			go sub.slow()
		}
	}

	h.logger.Info("response fanned out",
		zap.String("user_id", userID),
		zap.Int("sockets", len(targets)-dropped),
		zap.Int("dropped", dropped))
	return nil
}

// Subscribers reports how many sockets a user currently holds.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// ServeHTTP upgrades the request to a WebSocket subscription for the
// user named in the user_id query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	err = h.subscribe(r.Context(), conn, userID)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return
	}
	if err != nil && ctxErr(err) {
		return
	}
	if err != nil {
		h.logger.Debug("subscriber closed",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

func ctxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// subscribe pumps queued responses to one socket until it closes or
// falls too far behind.
func (h *Hub) subscribe(ctx context.Context, conn *websocket.Conn, userID string) error {
	sub := &subscriber{
		ch: make(chan []byte, h.buffer),
		slow: func() {
			conn.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
		},
	}
	h.add(userID, sub)
	defer h.remove(userID, sub)

	// Inbound frames are discarded; the socket is push only. CloseRead
	// also cancels the context when the peer goes away.
	ctx = conn.CloseRead(ctx)

	for {
		select {
		case payload := <-sub.ch:
			if err := writeWithTimeout(ctx, conn, payload); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeWithTimeout(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (h *Hub) add(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	h.logger.Info("subscriber joined",
		zap.String("user_id", userID),
		zap.Int("sockets", len(h.subs[userID])))
}

func (h *Hub) remove(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[userID], sub)
	if len(h.subs[userID]) == 0 {
		delete(h.subs, userID)
	}
}
