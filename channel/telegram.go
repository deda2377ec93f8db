package channel

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/types"
)

// telegramTextLimit matches the Bot API message ceiling.
const telegramTextLimit = 4096

// MessageSender is the slice of the Telegram client the channel needs.
// *bot.Bot satisfies it.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramConfig tunes the Telegram channel.
type TelegramConfig struct {
	// MessagesPerSecond throttles outgoing sends across all agents
	// sharing the bot token. Telegram enforces roughly 30/s.
	MessagesPerSecond float64
	Burst             int
	ParseMode         models.ParseMode
}

// DefaultTelegramConfig returns sensible defaults.
func DefaultTelegramConfig() TelegramConfig {
	return TelegramConfig{
		MessagesPerSecond: 25,
		Burst:             5,
		ParseMode:         models.ParseModeMarkdownV1,
	}
}

// InboundMessage is a chat message from a linked user.
type InboundMessage struct {
	UserID string
	ChatID int64
	Text   string
}

// InboundHandler routes a linked user's message into the platform,
// typically through trigger resolution and a workflow dispatch.
type InboundHandler func(ctx context.Context, msg InboundMessage)

// Telegram is the Telegram response channel. Deliver pushes a workflow
// response to the chat linked to the user; HandleUpdate services the
// bot side of account linking and hands linked users' chat messages to
// the inbound handler.
type Telegram struct {
	sender    MessageSender
	links     *Linker
	config    TelegramConfig
	limiter   *rate.Limiter
	onMessage InboundHandler
	logger    *zap.Logger
}

var _ engine.ResponseSink = (*Telegram)(nil)

// TelegramOption configures the channel.
type TelegramOption func(*Telegram)

// WithInboundHandler routes linked users' messages to h instead of the
// stock acknowledgement reply.
func WithInboundHandler(h InboundHandler) TelegramOption {
	return func(t *Telegram) { t.onMessage = h }
}

// WithTelegramLogger sets the logger.
func WithTelegramLogger(logger *zap.Logger) TelegramOption {
	return func(t *Telegram) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTelegram creates the channel over a sender and a linker.
func NewTelegram(sender MessageSender, links *Linker, config TelegramConfig, opts ...TelegramOption) *Telegram {
	defaults := DefaultTelegramConfig()
	if config.MessagesPerSecond <= 0 {
		config.MessagesPerSecond = defaults.MessagesPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.ParseMode == "" {
		config.ParseMode = defaults.ParseMode
	}

	t := &Telegram{
		sender:  sender,
		links:   links,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.MessagesPerSecond), config.Burst),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("component", "telegram_channel"))
	return t
}

// NewBot builds a long-polling bot that routes every update through
// the channel and becomes its sender when none was set. Call Start on
// the returned bot to begin polling.
func NewBot(token string, t *Telegram) (*bot.Bot, error) {
	b, err := bot.New(token, bot.WithDefaultHandler(t.HandleUpdate))
	if err != nil {
		return nil, types.NewError(types.ErrConfig, "telegram bot init failed").WithCause(err)
	}
	if t.sender == nil {
		t.sender = b
	}
	return b, nil
}

// Deliver sends a workflow response to the user's linked chat. Long
// responses are split at the Bot API size ceiling, preferring newline
// boundaries.
func (t *Telegram) Deliver(ctx context.Context, userID, message string) error {
	if t.sender == nil {
		return types.NewError(types.ErrConfig, "telegram channel has no bot configured")
	}

	chatID, err := t.links.ChatIDForUser(ctx, userID)
	if err != nil {
		return err
	}

	chunks := splitText(message, telegramTextLimit)
	for _, chunk := range chunks {
		if err := t.limiter.Wait(ctx); err != nil {
			return types.Errorf(types.ErrToolDeliveryFailed, "telegram send cancelled while throttled").WithCause(err)
		}
		if _, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      chunk,
			ParseMode: t.config.ParseMode,
		}); err != nil {
			return types.Errorf(types.ErrToolDeliveryFailed, "telegram send to chat failed").WithCause(err)
		}
	}

	t.logger.Info("response delivered",
		zap.String("user_id", userID),
		zap.Int64("chat_id", chatID),
		zap.Int("parts", len(chunks)))
	return nil
}

// HandleUpdate is the bot's default handler. It services link codes and
// the /start, /help, /status commands, and routes everything else from
// linked users to the inbound handler.
func (t *Telegram) HandleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil {
		return
	}
	msg := update.Message
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	name := "Kullanıcı"
	if msg.From != nil && msg.From.FirstName != "" {
		name = msg.From.FirstName
	}

	switch {
	case IsLinkCode(text):
		t.handleLinkCode(ctx, chatID, name, text)
	case strings.HasPrefix(text, "/start"):
		t.handleStart(ctx, chatID, name)
	case strings.HasPrefix(text, "/help"):
		t.reply(ctx, chatID,
			"🆘 Yardım\n\n"+
				"Komutlar:\n"+
				"/start - Botu başlat\n"+
				"/help - Bu mesaj\n"+
				"/status - Bağlantı durumu\n\n"+
				"Hesap bağlama: platformdan aldığınız 8 haneli kodu bu sohbete gönderin. Kod 10 dakika geçerlidir.")
	case strings.HasPrefix(text, "/status"):
		t.handleStatus(ctx, chatID)
	default:
		t.handleChat(ctx, chatID, text)
	}
}

func (t *Telegram) handleLinkCode(ctx context.Context, chatID int64, name, code string) {
	userID, err := t.links.VerifyLinkCode(ctx, code, chatID)
	if err != nil {
		t.reply(ctx, chatID,
			"❌ Geçersiz veya süresi dolmuş kod!\n\n"+
				"Lütfen platformdan yeni bir kod alın ve 10 dakika içinde gönderin.")
		return
	}
	t.logger.Info("chat linked via code",
		zap.String("user_id", userID),
		zap.Int64("chat_id", chatID))
	t.reply(ctx, chatID,
		"🎉 Harika "+name+"! Telegram hesabınız başarıyla bağlandı.\n\n"+
			"Artık agent'larınız size bu sohbetten mesaj gönderebilir.")
}

func (t *Telegram) handleStart(ctx context.Context, chatID int64, name string) {
	if _, err := t.links.UserForChatID(ctx, chatID); err == nil {
		t.reply(ctx, chatID,
			"👋 Merhaba "+name+"!\n\n"+
				"Telegram hesabınız zaten bağlı. Agent'larınız size bu sohbetten mesaj gönderebilir.")
		return
	}
	t.reply(ctx, chatID,
		"👋 Merhaba "+name+"! Hesabınızı bağlamak için platformdan aldığınız 8 haneli kodu bu sohbete gönderin.\n\n"+
			"Yardım için: /help")
}

func (t *Telegram) handleStatus(ctx context.Context, chatID int64) {
	if _, err := t.links.UserForChatID(ctx, chatID); err == nil {
		t.reply(ctx, chatID, "✅ Telegram hesabınız bağlı.")
		return
	}
	t.reply(ctx, chatID,
		"❌ Telegram hesabınız henüz bağlı değil.\n\nBağlamak için platformdan bir kod alın.")
}

func (t *Telegram) handleChat(ctx context.Context, chatID int64, text string) {
	userID, err := t.links.UserForChatID(ctx, chatID)
	if err != nil {
		// Strangers get no reply; the bot only talks to linked users.
		return
	}
	if t.onMessage != nil {
		t.onMessage(ctx, InboundMessage{UserID: userID, ChatID: chatID, Text: text})
		return
	}
	t.reply(ctx, chatID, "Mesajınızı aldım! Agent'larınız size bu sohbetten yanıt verecek. 🤖")
}

// reply sends a plain service message. Service replies skip the parse
// mode so a user name with markdown characters cannot break the send.
func (t *Telegram) reply(ctx context.Context, chatID int64, text string) {
	if t.sender == nil {
		return
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		t.logger.Warn("service reply failed",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}

// splitText cuts text into chunks of at most limit runes, breaking at
// the last newline in the window when one sits past the halfway mark.
func splitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
