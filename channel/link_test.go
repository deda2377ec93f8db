package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tulparlabs/agentrun/store"
	"github.com/tulparlabs/agentrun/types"
)

func newTestLinker(t *testing.T) *Linker {
	t.Helper()
	return NewLinker(store.NewMemory(nil), nil)
}

func TestIsLinkCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want bool
	}{
		{"ABCD2345", true},
		{"ZZZZZZZZ", true},
		{"abcd2345", false},
		{"ABC2345", false},
		{"ABCD23456", false},
		{"ABCD 345", false},
		{"ABCD0345", false},
		{"ABCD1345", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsLinkCode(tc.text), "text=%q", tc.text)
	}
}

func TestLinker_FullLinkFlow(t *testing.T) {
	t.Parallel()
	l := newTestLinker(t)
	ctx := context.Background()

	code, err := l.CreateLinkCode(ctx, "ayse-1")
	require.NoError(t, err)
	assert.True(t, IsLinkCode(code), "generated code %q must match its own pattern", code)

	// Before verification the user has no chat.
	_, err = l.ChatIDForUser(ctx, "ayse-1")
	assert.Equal(t, types.ErrNotFound, types.GetCode(err))

	userID, err := l.VerifyLinkCode(ctx, code, 777001)
	require.NoError(t, err)
	assert.Equal(t, "ayse-1", userID)

	chatID, err := l.ChatIDForUser(ctx, "ayse-1")
	require.NoError(t, err)
	assert.Equal(t, int64(777001), chatID)

	back, err := l.UserForChatID(ctx, 777001)
	require.NoError(t, err)
	assert.Equal(t, "ayse-1", back)

	// A code is single use.
	_, err = l.VerifyLinkCode(ctx, code, 777002)
	assert.Equal(t, types.ErrNotFound, types.GetCode(err))
}

func TestLinker_NewCodeReplacesPending(t *testing.T) {
	t.Parallel()
	l := newTestLinker(t)
	ctx := context.Background()

	first, err := l.CreateLinkCode(ctx, "kemal-2")
	require.NoError(t, err)
	second, err := l.CreateLinkCode(ctx, "kemal-2")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = l.VerifyLinkCode(ctx, first, 5001)
	assert.Equal(t, types.ErrNotFound, types.GetCode(err), "replaced code must stop working")

	userID, err := l.VerifyLinkCode(ctx, second, 5001)
	require.NoError(t, err)
	assert.Equal(t, "kemal-2", userID)
}

func TestLinker_ExpiredCode(t *testing.T) {
	t.Parallel()
	l := newTestLinker(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	code, err := l.CreateLinkCode(ctx, "zeynep-3")
	require.NoError(t, err)

	l.now = func() time.Time { return base.Add(LinkCodeTTL + time.Minute) }

	_, err = l.VerifyLinkCode(ctx, code, 9001)
	assert.Equal(t, types.ErrNotFound, types.GetCode(err))

	// The expired record is gone, not just rejected.
	n, err := l.docs.Count(ctx, LinkCollection, map[string]any{"auth_code": code})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLinker_Revoke(t *testing.T) {
	t.Parallel()
	l := newTestLinker(t)
	ctx := context.Background()

	code, err := l.CreateLinkCode(ctx, "murat-4")
	require.NoError(t, err)
	_, err = l.VerifyLinkCode(ctx, code, 3131)
	require.NoError(t, err)

	removed, err := l.Revoke(ctx, "murat-4")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = l.ChatIDForUser(ctx, "murat-4")
	assert.Equal(t, types.ErrNotFound, types.GetCode(err))

	removed, err = l.Revoke(ctx, "murat-4")
	require.NoError(t, err)
	assert.False(t, removed, "second revoke finds nothing")
}

func TestLinker_CleanupExpired(t *testing.T) {
	t.Parallel()
	l := newTestLinker(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	_, err := l.CreateLinkCode(ctx, "eski-1")
	require.NoError(t, err)
	_, err = l.CreateLinkCode(ctx, "eski-2")
	require.NoError(t, err)

	// A completed link from the same era must survive cleanup.
	oldVerified, err := l.CreateLinkCode(ctx, "bagli-5")
	require.NoError(t, err)
	_, err = l.VerifyLinkCode(ctx, oldVerified, 4242)
	require.NoError(t, err)

	l.now = func() time.Time { return base.Add(LinkCodeTTL + time.Minute) }
	fresh, err := l.CreateLinkCode(ctx, "taze-6")
	require.NoError(t, err)

	removed, err := l.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	// The fresh code still verifies, the verified link still resolves.
	_, err = l.VerifyLinkCode(ctx, fresh, 6006)
	require.NoError(t, err)
	chatID, err := l.ChatIDForUser(ctx, "bagli-5")
	require.NoError(t, err)
	assert.Equal(t, int64(4242), chatID)
}

func TestLinker_CreateRequiresUser(t *testing.T) {
	t.Parallel()
	l := newTestLinker(t)

	_, err := l.CreateLinkCode(context.Background(), "")
	assert.Equal(t, types.ErrValidation, types.GetCode(err))
}
