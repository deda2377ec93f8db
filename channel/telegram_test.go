package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tulparlabs/agentrun/types"
)

type fakeTelegramSender struct {
	mu    sync.Mutex
	calls []*bot.SendMessageParams
	fail  bool
}

func (f *fakeTelegramSender) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("bot api 502")
	}
	f.calls = append(f.calls, params)
	return &models.Message{ID: len(f.calls)}, nil
}

func (f *fakeTelegramSender) sent() []*bot.SendMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*bot.SendMessageParams, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeTelegramSender) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1].Text
}

func newTestTelegram(t *testing.T, opts ...TelegramOption) (*Telegram, *fakeTelegramSender, *Linker) {
	t.Helper()
	sender := &fakeTelegramSender{}
	links := newTestLinker(t)
	return NewTelegram(sender, links, TelegramConfig{}, opts...), sender, links
}

// linkUser completes a code round trip so the user has a chat.
func linkUser(t *testing.T, links *Linker, userID string, chatID int64) {
	t.Helper()
	code, err := links.CreateLinkCode(context.Background(), userID)
	require.NoError(t, err)
	_, err = links.VerifyLinkCode(context.Background(), code, chatID)
	require.NoError(t, err)
}

func chatUpdate(chatID int64, name, text string) *models.Update {
	return &models.Update{
		ID: 1,
		Message: &models.Message{
			ID:   10,
			Text: text,
			Chat: models.Chat{ID: chatID},
			From: &models.User{ID: chatID, FirstName: name},
		},
	}
}

func TestTelegram_DeliverToLinkedChat(t *testing.T) {
	t.Parallel()
	tg, sender, links := newTestTelegram(t)
	linkUser(t, links, "ayse-1", 777001)

	err := tg.Deliver(context.Background(), "ayse-1", "Günlük raporunuz hazır.")
	require.NoError(t, err)

	calls := sender.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(777001), calls[0].ChatID)
	assert.Equal(t, "Günlük raporunuz hazır.", calls[0].Text)
	assert.Equal(t, models.ParseModeMarkdownV1, calls[0].ParseMode)
}

func TestTelegram_DeliverUnlinkedUser(t *testing.T) {
	t.Parallel()
	tg, sender, _ := newTestTelegram(t)

	err := tg.Deliver(context.Background(), "yabanci-9", "kayıp mesaj")
	assert.Equal(t, types.ErrNotFound, types.GetCode(err))
	assert.Empty(t, sender.sent())
}

func TestTelegram_DeliverSendFailure(t *testing.T) {
	t.Parallel()
	tg, sender, links := newTestTelegram(t)
	linkUser(t, links, "ayse-1", 777001)
	sender.fail = true

	err := tg.Deliver(context.Background(), "ayse-1", "ulaşmayacak")
	assert.Equal(t, types.ErrToolDeliveryFailed, types.GetCode(err))
}

func TestTelegram_DeliverSplitsLongMessages(t *testing.T) {
	t.Parallel()
	tg, sender, links := newTestTelegram(t)
	linkUser(t, links, "ayse-1", 777001)

	long := strings.Repeat("Uzun rapor satırı.\n", 400) // well past 4096 runes
	require.NoError(t, tg.Deliver(context.Background(), "ayse-1", long))

	calls := sender.sent()
	require.Greater(t, len(calls), 1)
	for _, call := range calls {
		assert.LessOrEqual(t, len([]rune(call.Text)), telegramTextLimit)
		assert.NotEmpty(t, call.Text)
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()

	t.Run("short text passes through", func(t *testing.T) {
		assert.Equal(t, []string{"kısa"}, splitText("kısa", 10))
	})

	t.Run("exact limit passes through", func(t *testing.T) {
		text := strings.Repeat("a", 10)
		assert.Equal(t, []string{text}, splitText(text, 10))
	})

	t.Run("breaks at newline past halfway", func(t *testing.T) {
		text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
		assert.Equal(t, []string{strings.Repeat("a", 6), strings.Repeat("b", 6)}, splitText(text, 10))
	})

	t.Run("hard break without newline", func(t *testing.T) {
		text := strings.Repeat("a", 15)
		assert.Equal(t, []string{strings.Repeat("a", 10), strings.Repeat("a", 5)}, splitText(text, 10))
	})

	t.Run("early newline is not a break point", func(t *testing.T) {
		text := "ab\n" + strings.Repeat("c", 12)
		chunks := splitText(text, 10)
		require.Len(t, chunks, 2)
		assert.Equal(t, "ab\n"+strings.Repeat("c", 7), chunks[0])
		assert.Equal(t, strings.Repeat("c", 5), chunks[1])
	})
}

func TestTelegram_HandleUpdate_LinkCode(t *testing.T) {
	t.Parallel()
	tg, sender, links := newTestTelegram(t)

	code, err := links.CreateLinkCode(context.Background(), "ayse-1")
	require.NoError(t, err)

	tg.HandleUpdate(context.Background(), nil, chatUpdate(777001, "Ayşe", code))
	assert.Contains(t, sender.lastText(), "başarıyla bağlandı")

	chatID, err := links.ChatIDForUser(context.Background(), "ayse-1")
	require.NoError(t, err)
	assert.Equal(t, int64(777001), chatID)
}

func TestTelegram_HandleUpdate_BadLinkCode(t *testing.T) {
	t.Parallel()
	tg, sender, _ := newTestTelegram(t)

	tg.HandleUpdate(context.Background(), nil, chatUpdate(777001, "Ayşe", "WRONGC0D"))
	// WRONGC0D has a zero, so it is not even code shaped; the bot
	// ignores it like any other stranger message.
	assert.Empty(t, sender.sent())

	tg.HandleUpdate(context.Background(), nil, chatUpdate(777001, "Ayşe", "WRONGCOD"))
	assert.Contains(t, sender.lastText(), "Geçersiz")
}

func TestTelegram_HandleUpdate_Commands(t *testing.T) {
	t.Parallel()
	tg, sender, links := newTestTelegram(t)

	tg.HandleUpdate(context.Background(), nil, chatUpdate(100, "Kemal", "/start"))
	assert.Contains(t, sender.lastText(), "8 haneli")

	tg.HandleUpdate(context.Background(), nil, chatUpdate(100, "Kemal", "/help"))
	assert.Contains(t, sender.lastText(), "/status")

	tg.HandleUpdate(context.Background(), nil, chatUpdate(100, "Kemal", "/status"))
	assert.Contains(t, sender.lastText(), "bağlı değil")

	linkUser(t, links, "kemal-2", 100)

	tg.HandleUpdate(context.Background(), nil, chatUpdate(100, "Kemal", "/start"))
	assert.Contains(t, sender.lastText(), "zaten bağlı")

	tg.HandleUpdate(context.Background(), nil, chatUpdate(100, "Kemal", "/status"))
	assert.Contains(t, sender.lastText(), "✅")
}

func TestTelegram_HandleUpdate_RoutesChatToHandler(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []InboundMessage
	)
	handler := func(ctx context.Context, msg InboundMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
	}

	sender := &fakeTelegramSender{}
	links := newTestLinker(t)
	tg := NewTelegram(sender, links, TelegramConfig{}, WithInboundHandler(handler))
	linkUser(t, links, "ayse-1", 777001)

	tg.HandleUpdate(context.Background(), nil, chatUpdate(777001, "Ayşe", "sipariş 42 nerede"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, InboundMessage{UserID: "ayse-1", ChatID: 777001, Text: "sipariş 42 nerede"}, got[0])
	assert.Empty(t, sender.sent(), "routed messages get no canned acknowledgement")
}

func TestTelegram_HandleUpdate_AcknowledgesWithoutHandler(t *testing.T) {
	t.Parallel()
	tg, sender, links := newTestTelegram(t)
	linkUser(t, links, "ayse-1", 777001)

	tg.HandleUpdate(context.Background(), nil, chatUpdate(777001, "Ayşe", "merhaba"))
	assert.Contains(t, sender.lastText(), "Mesajınızı aldım")
}

func TestTelegram_HandleUpdate_IgnoresStrangers(t *testing.T) {
	t.Parallel()

	called := false
	tg, sender, _ := newTestTelegram(t, WithInboundHandler(func(context.Context, InboundMessage) {
		called = true
	}))

	tg.HandleUpdate(context.Background(), nil, chatUpdate(31337, "Davetsiz", "merhaba"))
	assert.Empty(t, sender.sent())
	assert.False(t, called)
}
