package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tulparlabs/agentrun/types"
)

// Both stores run the same conformance suite; Redis-only behavior
// (expiry, stale pointers) is covered separately in redis_test.go.
func eachStore(t *testing.T, run func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		s := NewMemory()
		t.Cleanup(func() { s.Close() })
		run(t, s)
	})

	t.Run("redis", func(t *testing.T) {
		t.Parallel()
		mr := miniredis.RunT(t)
		s, err := NewRedis(Config{Addr: mr.Addr()}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		run(t, s)
	})
}

func TestStore_GetOrCreateReturnsSameActiveSession(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.GetOrCreate(ctx, "u1", "musteri-takip")
		require.NoError(t, err)
		assert.NotEmpty(t, first.SessionID)
		assert.True(t, first.Active)
		assert.Equal(t, "u1", first.UserID)
		assert.Equal(t, "musteri-takip", first.AgentID)
		assert.NotNil(t, first.Context)
		assert.False(t, first.CreatedAt.IsZero())

		second, err := s.GetOrCreate(ctx, "u1", "musteri-takip")
		require.NoError(t, err)
		assert.Equal(t, first.SessionID, second.SessionID)

		// A different pair gets its own session.
		other, err := s.GetOrCreate(ctx, "u2", "musteri-takip")
		require.NoError(t, err)
		assert.NotEqual(t, first.SessionID, other.SessionID)
	})
}

func TestStore_EndStartsFreshNextTime(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.GetOrCreate(ctx, "u1", "musteri-takip")
		require.NoError(t, err)
		require.NoError(t, s.End(ctx, first.SessionID))

		ended, err := s.Get(ctx, first.SessionID)
		require.NoError(t, err)
		assert.False(t, ended.Active, "ended session stays readable but inactive")

		next, err := s.GetOrCreate(ctx, "u1", "musteri-takip")
		require.NoError(t, err)
		assert.NotEqual(t, first.SessionID, next.SessionID)
	})
}

func TestStore_UpdateContextMerges(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		sess, err := s.GetOrCreate(ctx, "u1", "musteri-takip")
		require.NoError(t, err)

		require.NoError(t, s.UpdateContext(ctx, sess.SessionID, map[string]any{"ad": "Ali", "sehir": "Ankara"}))
		require.NoError(t, s.UpdateContext(ctx, sess.SessionID, map[string]any{"sehir": "İzmir"}))

		got, err := s.Get(ctx, sess.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "Ali", got.Context["ad"], "untouched keys survive later updates")
		assert.Equal(t, "İzmir", got.Context["sehir"])
		assert.False(t, got.LastActivity.Before(sess.LastActivity))

		err = s.UpdateContext(ctx, "olmayan-id", map[string]any{"x": 1})
		require.Error(t, err)
		assert.Equal(t, types.ErrNotFound, types.GetCode(err))
	})
}

func TestStore_HistoryOldestFirstWithLimit(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		sess, err := s.GetOrCreate(ctx, "u1", "musteri-takip")
		require.NoError(t, err)

		for i := 1; i <= 5; i++ {
			require.NoError(t, s.AppendHistory(ctx, types.HistoryEntry{
				SessionID:     sess.SessionID,
				UserMessage:   fmt.Sprintf("soru %d", i),
				AgentResponse: fmt.Sprintf("cevap %d", i),
			}))
		}

		last3, err := s.History(ctx, sess.SessionID, 3)
		require.NoError(t, err)
		require.Len(t, last3, 3)
		assert.Equal(t, "soru 3", last3[0].UserMessage, "window keeps the newest entries, oldest first")
		assert.Equal(t, "soru 5", last3[2].UserMessage)
		assert.False(t, last3[0].Timestamp.IsZero(), "append stamps missing timestamps")

		all, err := s.History(ctx, sess.SessionID, 0)
		require.NoError(t, err)
		assert.Len(t, all, 5)

		none, err := s.History(ctx, "olmayan-id", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestStore_HistoryEntriesExpandToTurns(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		sess, err := s.GetOrCreate(ctx, "u1", "musteri-takip")
		require.NoError(t, err)
		require.NoError(t, s.AppendHistory(ctx, types.HistoryEntry{
			SessionID:     sess.SessionID,
			UserMessage:   "Merhaba",
			AgentResponse: "Hoş geldiniz",
		}))

		entries, err := s.History(ctx, sess.SessionID, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		turns := entries[0].Turns()
		require.Len(t, turns, 2)
		assert.Equal(t, types.RoleUser, turns[0].Role)
		assert.Equal(t, "Merhaba", turns[0].Content)
		assert.Equal(t, types.RoleAssistant, turns[1].Role)
	})
}

func TestStore_AppendHistoryRequiresSessionID(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		err := s.AppendHistory(context.Background(), types.HistoryEntry{UserMessage: "kayıp"})
		require.Error(t, err)
		assert.Equal(t, types.ErrValidation, types.GetCode(err))
	})
}

func TestStore_ListFiltersAndOrders(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		a, err := s.GetOrCreate(ctx, "u1", "ajan-a")
		require.NoError(t, err)
		_, err = s.GetOrCreate(ctx, "u2", "ajan-a")
		require.NoError(t, err)
		_, err = s.GetOrCreate(ctx, "u1", "ajan-b")
		require.NoError(t, err)

		// Touching a makes it most recent.
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, s.UpdateContext(ctx, a.SessionID, map[string]any{"x": 1}))

		all, err := s.List(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, a.SessionID, all[0].SessionID, "most recently active first")

		u1, err := s.List(ctx, Filter{UserID: "u1"})
		require.NoError(t, err)
		assert.Len(t, u1, 2)

		ab := Filter{UserID: "u1", AgentID: "ajan-b"}
		one, err := s.List(ctx, ab)
		require.NoError(t, err)
		require.Len(t, one, 1)
		assert.Equal(t, "ajan-b", one[0].AgentID)
	})
}

func TestStore_GetUnknownSession(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.Get(context.Background(), "olmayan-id")
		require.Error(t, err)
		assert.Equal(t, types.ErrNotFound, types.GetCode(err))
	})
}
