package channel

import (
	"context"
	"sync"
	"time"

	"github.com/tulparlabs/agentrun/engine"
)

// Delivery is one captured response.
type Delivery struct {
	UserID  string
	Message string
	At      time.Time
}

// Buffer collects responses in memory. It backs tests and the HTTP
// execute endpoint, where the caller wants the response in hand rather
// than pushed somewhere.
type Buffer struct {
	mu         sync.Mutex
	deliveries []Delivery
}

var _ engine.ResponseSink = (*Buffer)(nil)

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Deliver records the response.
func (b *Buffer) Deliver(ctx context.Context, userID, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliveries = append(b.deliveries, Delivery{
		UserID:  userID,
		Message: message,
		At:      time.Now().UTC(),
	})
	return nil
}

// Deliveries returns a copy of everything captured so far.
func (b *Buffer) Deliveries() []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Delivery, len(b.deliveries))
	copy(out, b.deliveries)
	return out
}

// Messages returns the captured message texts for one user, in order.
func (b *Buffer) Messages(userID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, d := range b.deliveries {
		if d.UserID == userID {
			out = append(out, d.Message)
		}
	}
	return out
}

// Len reports how many responses were captured.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deliveries)
}

// Reset drops everything captured.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliveries = nil
}
