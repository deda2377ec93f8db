package tools

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/types"
)

// telegramTextLimit matches the Bot API message ceiling.
const telegramTextLimit = 4096

// MessageSender is the slice of the Telegram client the handler needs.
// *bot.Bot satisfies it.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramConfig tunes the telegram tool handler.
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

// TelegramHandler executes "telegram" tools: a single message send to a
// chat resolved from the call parameters or the tool spec.
type TelegramHandler struct {
	sender  MessageSender
	config  TelegramConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewTelegramHandler creates the telegram tool handler.
func NewTelegramHandler(sender MessageSender, config TelegramConfig, logger *zap.Logger) *TelegramHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MessagesPerSecond <= 0 {
		config.MessagesPerSecond = DefaultTelegramConfig().MessagesPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = DefaultTelegramConfig().Burst
	}
	return &TelegramHandler{
		sender:  sender,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.MessagesPerSecond), config.Burst),
		logger:  logger.With(zap.String("component", "telegram_tool")),
	}
}

func (h *TelegramHandler) Execute(ctx context.Context, call *engine.ToolRequest) (map[string]any, error) {
	if h.sender == nil {
		return nil, types.Errorf(types.ErrConfig, "telegram tool %s has no bot configured", call.Spec.ToolID)
	}

	text := paramString(call.Params, "text")
	if text == "" {
		text = paramString(call.Params, "message")
	}
	if strings.TrimSpace(text) == "" {
		return nil, types.Errorf(types.ErrValidation, "telegram tool %s called without message text", call.Spec.ToolID)
	}
	text = TruncateRunes(text, telegramTextLimit)

	chatID, err := resolveChatID(call)
	if err != nil {
		return nil, err
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return nil, types.Errorf(types.ErrToolDeliveryFailed, "telegram send cancelled while throttled").WithCause(err)
	}

	start := time.Now()
	msg, err := h.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: h.config.ParseMode,
	})
	if err != nil {
		return nil, types.Errorf(types.ErrToolDeliveryFailed, "telegram send to chat failed").WithCause(err)
	}

	h.logger.Info("telegram message sent",
		zap.String("tool_id", call.Spec.ToolID),
		zap.Int("message_id", msg.ID),
		zap.Duration("elapsed", time.Since(start)))

	return map[string]any{
		"success":    true,
		"message_id": msg.ID,
	}, nil
}

// resolveChatID picks the destination chat. Parameters win over the
// spec config so a workflow can route per user. Numeric strings are
// converted because the Bot API treats "123" and 123 differently.
func resolveChatID(call *engine.ToolRequest) (any, error) {
	var raw any
	if v, ok := call.Params["chat_id"]; ok {
		raw = v
	} else if v, ok := call.Spec.Config["chat_id"]; ok {
		raw = v
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			break
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
		return v, nil
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	}
	return nil, types.Errorf(types.ErrValidation, "telegram tool %s has no chat_id", call.Spec.ToolID)
}
