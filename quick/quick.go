// Package quick assembles a single-agent runtime in one call, for
// embedding agents in other programs and for experiments: in-memory
// document and session stores, no scheduler, no file watcher, no
// run history. Production deployments build agentrun.App from a full
// config instead.
//
// Usage:
//
//	app, err := quick.New(ctx, def, quick.WithDeepSeek("deepseek-chat"))
//	answer, err := quick.Ask(ctx, def, "ayse", "merhaba",
//		quick.WithProvider(myProvider))
package quick

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun"
	"github.com/tulparlabs/agentrun/config"
	"github.com/tulparlabs/agentrun/llm"
	"github.com/tulparlabs/agentrun/types"
)

// Option configures the runtime built by New.
type Option func(*options)

type options struct {
	provider llm.Provider
	logger   *zap.Logger
	dir      string

	// Provider shortcut fields, used when provider is nil.
	providerName string
	model        string
	apiKey       string
}

// WithProvider sets a pre-built LLM provider.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithOpenAI configures the OpenAI provider with the given model. The
// API key is read from the OPENAI_API_KEY environment variable unless
// WithAPIKey overrides it.
func WithOpenAI(model string) Option {
	return shortcut("openai", model, "OPENAI_API_KEY")
}

// WithDeepSeek configures the DeepSeek provider with the given model.
// The API key is read from the DEEPSEEK_API_KEY environment variable
// unless WithAPIKey overrides it.
func WithDeepSeek(model string) Option {
	return shortcut("deepseek", model, "DEEPSEEK_API_KEY")
}

// WithGemini configures the Gemini provider with the given model. The
// API key is read from the GEMINI_API_KEY environment variable unless
// WithAPIKey overrides it.
func WithGemini(model string) Option {
	return shortcut("gemini", model, "GEMINI_API_KEY")
}

func shortcut(name, model, envKey string) Option {
	return func(o *options) {
		o.providerName = name
		o.model = model
		if o.apiKey == "" {
			o.apiKey = os.Getenv(envKey)
		}
	}
}

// WithAPIKey overrides the API key for provider shortcuts.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDir sets the directory the definition is written to. Without it
// New creates a fresh directory under the system temp dir; that
// directory is not removed when the app closes.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// New assembles a runtime around one agent definition. The definition
// is validated and saved before the app is returned, so a broken
// workflow fails here rather than on the first run. Close the returned
// app when done.
func New(ctx context.Context, def *types.AgentDefinition, opts ...Option) (*agentrun.App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.provider == nil && o.providerName == "" {
		return nil, types.NewError(types.ErrConfig,
			"a provider is required: use WithProvider or a provider shortcut")
	}
	if o.provider == nil && o.apiKey == "" {
		return nil, types.Errorf(types.ErrConfig,
			"an api key is required for %s: set the environment variable or use WithAPIKey", o.providerName)
	}

	dir := o.dir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "agentrun-quick-")
		if err != nil {
			return nil, types.NewError(types.ErrConfig, "create agents directory").WithCause(err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.Agents.Dir = dir
	cfg.Agents.Watch = false
	cfg.Mongo.URI = ""
	cfg.Sessions.Backend = "memory"
	cfg.Scheduler.Enabled = false
	cfg.Metrics.Enabled = false

	creds := config.ProviderCreds{APIKey: o.apiKey, Model: o.model}
	switch o.providerName {
	case "openai":
		cfg.LLM.OpenAI = creds
	case "deepseek":
		cfg.LLM.DeepSeek = creds
	case "gemini":
		cfg.LLM.Gemini = creds
	}

	appOpts := []agentrun.Option{}
	if o.logger != nil {
		appOpts = append(appOpts, agentrun.WithLogger(o.logger))
	}
	if o.provider != nil {
		appOpts = append(appOpts, agentrun.WithProvider(o.provider))
	}

	app, err := agentrun.New(ctx, cfg, appOpts...)
	if err != nil {
		return nil, err
	}
	if err := app.Agents().Save(def); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

// Ask routes one message through the definition's trigger-matched
// workflow and returns the emitted responses joined with newlines. The
// runtime is torn down before Ask returns; use New directly to keep
// session history across messages.
func Ask(ctx context.Context, def *types.AgentDefinition, userID, message string, opts ...Option) (string, error) {
	app, err := New(ctx, def, opts...)
	if err != nil {
		return "", err
	}
	defer app.Close(ctx)

	result, err := app.HandleMessage(ctx, def.AgentID, userID, message)
	if err != nil {
		return "", err
	}
	return strings.Join(result.Responses, "\n"), nil
}
