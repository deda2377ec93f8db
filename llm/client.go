package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/internal/ctxkeys"
	"github.com/tulparlabs/agentrun/types"
)

// Observer is notified after every provider call, successful or not.
// Usage is zero when the call failed.
type Observer func(provider, model string, success bool, elapsed time.Duration, usage Usage)

// Client adapts the provider registry to the engine's LLM seam. It
// resolves the provider named in the agent's llmConfig and assembles
// the provider request from system prompt, trimmed history, and the
// node prompt.
type Client struct {
	registry  *Registry
	budget    int
	observers []Observer
	logger    *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHistoryBudget overrides the token budget for conversation history.
func WithHistoryBudget(tokens int) ClientOption {
	return func(c *Client) { c.budget = tokens }
}

// WithObserver adds a completion observer. Every installed observer is
// notified after each provider call.
func WithObserver(obs Observer) ClientOption {
	return func(c *Client) { c.observers = append(c.observers, obs) }
}

// NewClient creates the engine-facing LLM client.
func NewClient(registry *Registry, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		registry: registry,
		budget:   DefaultHistoryBudget,
		logger:   logger.With(zap.String("component", "llm_client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Generate(ctx context.Context, req *engine.GenerateRequest) (string, error) {
	provider, ok := c.registry.Provider(req.Config.Provider)
	if !ok {
		return "", types.Errorf(types.ErrConfig, "unknown llm provider %q", req.Config.Provider)
	}

	trimmed := TrimHistory(req.History, c.budget)
	messages := make([]types.Message, 0, len(trimmed)+1)
	messages = append(messages, trimmed...)
	messages = append(messages, types.NewMessage(types.RoleUser, req.Prompt))

	start := time.Now()
	resp, err := provider.Complete(ctx, &Request{
		Model:        req.Config.Model,
		SystemPrompt: req.SystemPrompt,
		Messages:     messages,
		Temperature:  req.Config.Temperature,
		MaxTokens:    req.Config.MaxTokens,
	})
	if len(c.observers) > 0 {
		var usage Usage
		model := req.Config.Model
		if resp != nil {
			usage = resp.Usage
			model = resp.Model
		}
		elapsed := time.Since(start)
		for _, obs := range c.observers {
			obs(provider.Name(), model, err == nil, elapsed, usage)
		}
	}
	if err != nil {
		return "", err
	}

	runID, _ := ctxkeys.RunID(ctx)
	c.logger.Debug("completion finished",
		zap.String("run_id", runID),
		zap.String("provider", provider.Name()),
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return resp.Text, nil
}

var _ engine.LLMClient = (*Client)(nil)
