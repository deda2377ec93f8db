package channel

import (
	"context"
	"crypto/rand"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/store"
	"github.com/tulparlabs/agentrun/types"
)

// LinkCollection holds chat-to-user link records.
const LinkCollection = "telegram_auth"

const (
	linkCodeLength = 8
	// LinkCodeTTL is how long an unverified code stays redeemable.
	LinkCodeTTL = 10 * time.Minute
)

// linkCodeAlphabet avoids 0/O and 1/I, which read alike on a phone.
// 32 characters, so a random byte masks onto it without bias.
const linkCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var linkCodePattern = regexp.MustCompile(`^[A-Z2-9]{8}$`)

// IsLinkCode reports whether text has the shape of a link code.
func IsLinkCode(text string) bool {
	return linkCodePattern.MatchString(text)
}

// Linker maps platform users to Telegram chats. A user requests a code
// on the platform, sends it to the bot from their phone, and the bot
// verifies it, binding the chat id to the user. Codes expire after ten
// minutes.
type Linker struct {
	docs   store.DocumentStore
	logger *zap.Logger
	now    func() time.Time
}

// NewLinker creates a linker over the document store.
func NewLinker(docs store.DocumentStore, logger *zap.Logger) *Linker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Linker{
		docs:   docs,
		logger: logger.With(zap.String("component", "telegram_links")),
		now:    time.Now,
	}
}

// CreateLinkCode starts a link attempt for the user and returns the
// code they must send to the bot. Any earlier unverified code for the
// same user is discarded.
func (l *Linker) CreateLinkCode(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", types.NewError(types.ErrValidation, "user id is required")
	}

	code, err := l.freshCode(ctx)
	if err != nil {
		return "", err
	}

	if _, err := l.docs.Delete(ctx, LinkCollection, map[string]any{
		"user_id":     userID,
		"is_verified": false,
	}); err != nil {
		return "", types.NewError(types.ErrStore, "could not clear previous link codes").WithCause(err)
	}

	_, err = l.docs.Insert(ctx, LinkCollection, map[string]any{
		"user_id":     userID,
		"chat_id":     "",
		"auth_code":   code,
		"is_verified": false,
		"created_at":  l.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", types.NewError(types.ErrStore, "could not store link code").WithCause(err)
	}

	l.logger.Info("link code created", zap.String("user_id", userID))
	return code, nil
}

// VerifyLinkCode redeems a code sent from a Telegram chat and returns
// the platform user it belongs to. Unknown and expired codes both come
// back as NOT_FOUND so the bot's reply cannot leak which one it was.
func (l *Linker) VerifyLinkCode(ctx context.Context, code string, chatID int64) (string, error) {
	docs, err := l.docs.Find(ctx, LinkCollection, map[string]any{
		"auth_code":   code,
		"is_verified": false,
	}, nil, 1)
	if err != nil {
		return "", types.NewError(types.ErrStore, "link code lookup failed").WithCause(err)
	}
	if len(docs) == 0 {
		return "", types.Errorf(types.ErrNotFound, "link code is invalid or already used")
	}
	rec := docs[0]

	createdAt, _ := rec["created_at"].(string)
	created, parseErr := time.Parse(time.RFC3339, createdAt)
	if parseErr != nil || l.now().UTC().Sub(created) > LinkCodeTTL {
		_, _ = l.docs.Delete(ctx, LinkCollection, map[string]any{"auth_code": code})
		return "", types.Errorf(types.ErrNotFound, "link code has expired")
	}

	_, _, err = l.docs.Update(ctx, LinkCollection,
		map[string]any{"auth_code": code},
		map[string]any{"$set": map[string]any{
			"chat_id":     strconv.FormatInt(chatID, 10),
			"is_verified": true,
			"verified_at": l.now().UTC().Format(time.RFC3339),
		}})
	if err != nil {
		return "", types.NewError(types.ErrStore, "could not confirm link code").WithCause(err)
	}

	userID, _ := rec["user_id"].(string)
	l.logger.Info("telegram chat linked",
		zap.String("user_id", userID),
		zap.Int64("chat_id", chatID))
	return userID, nil
}

// ChatIDForUser returns the Telegram chat linked to the user, or
// NOT_FOUND when the user never completed a link.
func (l *Linker) ChatIDForUser(ctx context.Context, userID string) (int64, error) {
	docs, err := l.docs.Find(ctx, LinkCollection, map[string]any{
		"user_id":     userID,
		"is_verified": true,
	}, nil, 1)
	if err != nil {
		return 0, types.NewError(types.ErrStore, "chat lookup failed").WithCause(err)
	}
	if len(docs) == 0 {
		return 0, types.Errorf(types.ErrNotFound, "user %s has no linked telegram chat", userID)
	}

	raw, _ := docs[0]["chat_id"].(string)
	chatID, parseErr := strconv.ParseInt(raw, 10, 64)
	if parseErr != nil {
		return 0, types.Errorf(types.ErrInternal, "stored chat id %q is not numeric", raw)
	}
	return chatID, nil
}

// UserForChatID returns the platform user a Telegram chat is linked to.
func (l *Linker) UserForChatID(ctx context.Context, chatID int64) (string, error) {
	docs, err := l.docs.Find(ctx, LinkCollection, map[string]any{
		"chat_id":     strconv.FormatInt(chatID, 10),
		"is_verified": true,
	}, nil, 1)
	if err != nil {
		return "", types.NewError(types.ErrStore, "user lookup failed").WithCause(err)
	}
	if len(docs) == 0 {
		return "", types.Errorf(types.ErrNotFound, "chat %d is not linked", chatID)
	}
	userID, _ := docs[0]["user_id"].(string)
	return userID, nil
}

// Revoke unlinks the user, removing every link record they own.
// Reports whether anything was removed.
func (l *Linker) Revoke(ctx context.Context, userID string) (bool, error) {
	total := int64(0)
	for {
		n, err := l.docs.Delete(ctx, LinkCollection, map[string]any{"user_id": userID})
		if err != nil {
			return total > 0, types.NewError(types.ErrStore, "could not revoke link").WithCause(err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total > 0 {
		l.logger.Info("telegram link revoked",
			zap.String("user_id", userID),
			zap.Int64("records", total))
	}
	return total > 0, nil
}

// CleanupExpired removes unverified codes older than the TTL and
// returns how many were dropped.
func (l *Linker) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := l.now().UTC().Add(-LinkCodeTTL).Format(time.RFC3339)
	total := int64(0)
	for {
		n, err := l.docs.Delete(ctx, LinkCollection, map[string]any{
			"is_verified": false,
			"created_at":  map[string]any{"$lt": cutoff},
		})
		if err != nil {
			return total, types.NewError(types.ErrStore, "link cleanup failed").WithCause(err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total > 0 {
		l.logger.Info("expired link codes removed", zap.Int64("count", total))
	}
	return total, nil
}

// freshCode generates a code no other pending link is using.
func (l *Linker) freshCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		buf := make([]byte, linkCodeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", types.NewError(types.ErrInternal, "random source unavailable").WithCause(err)
		}
		code := make([]byte, linkCodeLength)
		for i, b := range buf {
			code[i] = linkCodeAlphabet[int(b)&31]
		}

		n, err := l.docs.Count(ctx, LinkCollection, map[string]any{
			"auth_code":   string(code),
			"is_verified": false,
		})
		if err != nil {
			return "", types.NewError(types.ErrStore, "link code uniqueness check failed").WithCause(err)
		}
		if n == 0 {
			return string(code), nil
		}
	}
	return "", types.NewError(types.ErrInternal, "could not generate a unique link code")
}
