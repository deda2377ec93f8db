// Package agentrun assembles the workflow runtime from configuration:
// agent definitions on disk, the execution engine over its LLM, tool,
// store and delivery seams, trigger resolution, and cron schedules.
//
// Usage:
//
//	cfg := config.MustLoad("config.yaml")
//	app, err := agentrun.New(ctx, cfg)
//	defer app.Close(ctx)
//
//	result, err := app.Run(ctx, "rapor-botu", "gunluk-rapor",
//		map[string]any{"user_id": "ayse", "message": "bugünü özetle"})
package agentrun

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/agents"
	"github.com/tulparlabs/agentrun/channel"
	"github.com/tulparlabs/agentrun/config"
	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/internal/database"
	"github.com/tulparlabs/agentrun/internal/metrics"
	"github.com/tulparlabs/agentrun/internal/records"
	"github.com/tulparlabs/agentrun/llm"
	"github.com/tulparlabs/agentrun/llm/providers"
	"github.com/tulparlabs/agentrun/session"
	"github.com/tulparlabs/agentrun/store"
	"github.com/tulparlabs/agentrun/tools"
	"github.com/tulparlabs/agentrun/trigger"
	"github.com/tulparlabs/agentrun/types"
)

// App owns every runtime component. Construction wires them together;
// Close tears them down in reverse dependency order.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	agents   *agents.FileStore
	watcher  *agents.Watcher
	docs     store.DocumentStore
	ops      *store.Operations
	sessions session.Store

	providers *llm.Registry
	client    *llm.Client
	tools     *tools.Registry

	pool     *database.Pool
	recorder *records.Recorder
	engine   *engine.Engine

	resolver   *trigger.Resolver
	dispatcher *trigger.Dispatcher
	scheduler  *trigger.Scheduler

	buffer   *channel.Buffer
	hub      *channel.Hub
	telegram *channel.Telegram
	bot      *bot.Bot

	collector *metrics.Collector

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	logger    *zap.Logger
	docs      store.DocumentStore
	sessions  session.Store
	providers []llm.Provider
	sink      engine.ResponseSink
	collector *metrics.Collector
	recorders []engine.Recorder
	observers []llm.Observer
}

// Option configures New beyond what the config file carries.
type Option func(*options)

// WithLogger sets the root logger. Components derive their own child
// loggers from it. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDocumentStore replaces the config-driven document store. Tests
// pass store.NewMemory to avoid a running Mongo.
func WithDocumentStore(docs store.DocumentStore) Option {
	return func(o *options) { o.docs = docs }
}

// WithSessionStore replaces the config-driven session store.
func WithSessionStore(s session.Store) Option {
	return func(o *options) { o.sessions = s }
}

// WithProvider registers an extra LLM provider ahead of the ones the
// config declares. A config provider with the same name is skipped, so
// tests can stand in for deepseek or openai.
func WithProvider(p llm.Provider) Option {
	return func(o *options) {
		if p != nil {
			o.providers = append(o.providers, p)
		}
	}
}

// WithResponseSink sets the engine's default delivery sink. Without it
// responses land in the app's inspectable buffer.
func WithResponseSink(sink engine.ResponseSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithCollector attaches a metrics collector. The collector's run,
// tool, and LLM adapters are wired through the corresponding seams.
// Callers own registration; the app never touches the Prometheus
// registry itself.
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithRecorder appends an execution recorder alongside the SQL one the
// config may enable.
func WithRecorder(r engine.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorders = append(o.recorders, r)
		}
	}
}

// WithLLMObserver appends an observer to the LLM client, alongside the
// collector's. The serve command uses this for the OTel instruments.
func WithLLMObserver(obs llm.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// New builds the runtime. The context bounds external connections made
// during construction (Mongo, the records database); it does not bound
// the app's lifetime.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	app := &App{
		cfg:       cfg,
		logger:    o.logger.With(zap.String("component", "app")),
		collector: o.collector,
		buffer:    channel.NewBuffer(),
	}

	var err error
	if app.agents, err = agents.NewFileStore(cfg.Agents.Dir, agents.WithStoreLogger(o.logger)); err != nil {
		return nil, err
	}

	if err := app.buildStores(ctx, o); err != nil {
		return nil, err
	}
	if err := app.buildLLM(o); err != nil {
		app.closeStores(ctx)
		return nil, err
	}
	app.buildTools(o)
	if err := app.buildEngine(o); err != nil {
		app.closeStores(ctx)
		return nil, err
	}
	app.buildTriggers(o)
	if err := app.buildChannels(o); err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.logger.Info("runtime assembled",
		zap.Int("agents", len(app.agents.List(""))),
		zap.Strings("llm_providers", app.providers.Names()),
		zap.Bool("records", app.recorder != nil),
		zap.Bool("telegram", app.telegram != nil))
	return app, nil
}

func (a *App) buildStores(ctx context.Context, o *options) error {
	if o.docs != nil {
		a.docs = o.docs
	} else if a.cfg.Mongo.URI != "" {
		mongo, err := store.NewMongo(ctx, store.MongoConfig{
			URI:            a.cfg.Mongo.URI,
			Database:       a.cfg.Mongo.Database,
			ConnectTimeout: a.cfg.Mongo.ConnectTimeout,
			MaxPoolSize:    uint64(a.cfg.Mongo.MaxPoolSize),
		}, o.logger)
		if err != nil {
			return err
		}
		a.docs = mongo
	} else {
		a.logger.Warn("no mongo uri configured, documents are held in memory")
		a.docs = store.NewMemory(o.logger)
	}
	a.ops = store.NewOperations(a.docs, o.logger)

	if o.sessions != nil {
		a.sessions = o.sessions
		return nil
	}
	switch strings.ToLower(a.cfg.Sessions.Backend) {
	case "redis":
		redis, err := session.NewRedis(session.Config{
			Addr:      a.cfg.Redis.Addr,
			Password:  a.cfg.Redis.Password,
			DB:        a.cfg.Redis.DB,
			PoolSize:  a.cfg.Redis.PoolSize,
			KeyPrefix: a.cfg.Redis.KeyPrefix,
			TTL:       a.cfg.Sessions.TTL,
		}, o.logger)
		if err != nil {
			return err
		}
		a.sessions = redis
	default:
		a.sessions = session.NewMemory()
	}
	return nil
}

func (a *App) buildLLM(o *options) error {
	a.providers = llm.NewRegistry(o.logger)
	for _, p := range o.providers {
		if err := a.providers.Register(p); err != nil {
			return err
		}
	}

	creds := []struct {
		name  string
		creds config.ProviderCreds
		build func(config.ProviderCreds) llm.Provider
	}{
		{"openai", a.cfg.LLM.OpenAI, func(c config.ProviderCreds) llm.Provider {
			return providers.NewOpenAIProvider(providers.OpenAIConfig{
				APIKey:  c.APIKey,
				BaseURL: c.BaseURL,
				Model:   c.Model,
				Timeout: a.cfg.LLM.Timeout,
			}, o.logger)
		}},
		{"deepseek", a.cfg.LLM.DeepSeek, func(c config.ProviderCreds) llm.Provider {
			return providers.NewDeepSeekProvider(providers.OpenAIConfig{
				APIKey:  c.APIKey,
				BaseURL: c.BaseURL,
				Model:   c.Model,
				Timeout: a.cfg.LLM.Timeout,
			}, o.logger)
		}},
		{"gemini", a.cfg.LLM.Gemini, func(c config.ProviderCreds) llm.Provider {
			return providers.NewGeminiProvider(providers.GeminiConfig{
				APIKey:  c.APIKey,
				BaseURL: c.BaseURL,
				Model:   c.Model,
				Timeout: a.cfg.LLM.Timeout,
			}, o.logger)
		}},
	}
	for _, entry := range creds {
		if entry.creds.APIKey == "" {
			continue
		}
		if _, taken := a.providers.Provider(entry.name); taken {
			continue
		}
		if err := a.providers.Register(entry.build(entry.creds)); err != nil {
			return err
		}
	}

	clientOpts := []llm.ClientOption{llm.WithHistoryBudget(a.cfg.LLM.HistoryBudget)}
	if a.collector != nil {
		clientOpts = append(clientOpts, llm.WithObserver(a.collector.LLMObserver()))
	}
	for _, obs := range o.observers {
		clientOpts = append(clientOpts, llm.WithObserver(obs))
	}
	a.client = llm.NewClient(a.providers, o.logger, clientOpts...)
	return nil
}

func (a *App) buildTools(o *options) {
	var regOpts []tools.RegistryOption
	if a.collector != nil {
		regOpts = append(regOpts, tools.WithObserver(a.collector.ToolObserver()))
	}
	a.tools = tools.NewRegistry(o.logger, regOpts...)

	// Registration cannot fail here: the registry is empty and every
	// type below is distinct.
	_ = a.tools.Register(types.ToolAPI, tools.NewAPIHandler(tools.DefaultAPIConfig(), o.logger))
	_ = a.tools.Register(types.ToolDatabase, tools.NewDatabaseHandler(a.ops, o.logger))
	_ = a.tools.Register(types.ToolRSS, tools.NewRSSHandler(o.logger))
}

func (a *App) buildEngine(o *options) error {
	recorders := append([]engine.Recorder(nil), o.recorders...)

	if a.cfg.Records.Enabled {
		db, err := records.Open(a.cfg.Records, o.logger)
		if err != nil {
			return err
		}
		pool, err := database.NewPool(db, database.PoolConfig{
			MaxIdleConns:    a.cfg.Records.MaxIdleConns,
			MaxOpenConns:    a.cfg.Records.MaxOpenConns,
			ConnMaxLifetime: a.cfg.Records.ConnMaxLifetime,
		}, o.logger)
		if err != nil {
			return err
		}
		a.pool = pool
		a.recorder = records.NewRecorder(pool.DB(), o.logger,
			records.WithQueueSize(a.cfg.Records.QueueSize))
		recorders = append(recorders, a.recorder)

		if a.collector != nil {
			a.collector.RegisterRecordsDropped(func() float64 {
				return float64(a.recorder.Dropped())
			})
		}
	}
	if a.collector != nil {
		recorders = append(recorders, a.collector.RunRecorder())
	}

	sink := o.sink
	if sink == nil {
		sink = a.buffer
	}

	engineOpts := []engine.Option{engine.WithLogger(o.logger)}
	if a.cfg.Engine.MaxSteps > 0 {
		engineOpts = append(engineOpts, engine.WithMaxSteps(a.cfg.Engine.MaxSteps))
	}
	switch len(recorders) {
	case 0:
	case 1:
		engineOpts = append(engineOpts, engine.WithRecorder(recorders[0]))
	default:
		engineOpts = append(engineOpts, engine.WithRecorder(engine.MultiRecorder(recorders)))
	}
	a.engine = engine.New(a.client, a.tools, a.ops, sink, engineOpts...)
	return nil
}

func (a *App) buildTriggers(o *options) {
	a.resolver = trigger.NewResolver(o.logger)
	a.dispatcher = trigger.NewDispatcher(a.engine,
		trigger.WithMaxConcurrent(a.cfg.Engine.MaxConcurrentRuns),
		trigger.WithDispatcherLogger(o.logger))
	a.scheduler = trigger.NewScheduler(a.agents, a.dispatcher,
		trigger.WithSchedulerLogger(o.logger),
		trigger.WithSessions(a.sessions),
		trigger.WithExecutionLog(a.docs))
	a.scheduler.RegisterAll(a.agents.List(""))
}

func (a *App) buildChannels(o *options) error {
	a.hub = channel.NewHub(channel.WithHubLogger(o.logger))

	if a.cfg.Telegram.Enabled && a.cfg.Telegram.Token != "" {
		links := channel.NewLinker(a.docs, o.logger)
		a.telegram = channel.NewTelegram(nil, links, channel.TelegramConfig{
			MessagesPerSecond: a.cfg.Telegram.MessagesPerSecond,
			Burst:             a.cfg.Telegram.Burst,
		},
			channel.WithTelegramLogger(o.logger),
			channel.WithInboundHandler(a.inboundTelegram))
		b, err := channel.NewBot(a.cfg.Telegram.Token, a.telegram)
		if err != nil {
			return err
		}
		a.bot = b

		// Workflows may call telegram tools only when a bot exists to
		// send through. Registered here rather than in buildTools so an
		// unconfigured deployment gets TOOL_UNSUPPORTED_OPERATION
		// instead of a nil sender.
		tcfg := tools.DefaultTelegramConfig()
		tcfg.MessagesPerSecond = a.cfg.Telegram.MessagesPerSecond
		tcfg.Burst = a.cfg.Telegram.Burst
		_ = a.tools.Register(types.ToolTelegram, tools.NewTelegramHandler(b, tcfg, o.logger))
	}

	if a.cfg.Agents.Watch {
		w, err := agents.NewWatcher(a.cfg.Agents.Dir,
			agents.WithPollInterval(a.cfg.Agents.PollInterval),
			agents.WithDebounceDelay(a.cfg.Agents.DebounceDelay),
			agents.WithWatcherLogger(o.logger))
		if err != nil {
			return err
		}
		w.OnChange(a.onAgentFileChange)
		a.watcher = w
	}
	return nil
}

// Start begins background work: cron schedules, the agent file
// watcher, and Telegram long polling. It returns immediately; the bot
// poller stops when ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.Scheduler.Enabled {
		a.scheduler.Start()
	}
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			return err
		}
	}
	if a.bot != nil {
		go a.bot.Start(ctx)
		a.logger.Info("telegram polling started")
	}
	return nil
}

// Run executes one workflow of one agent. The initial context seeds
// substitution variables; user_id inside it scopes data operations and
// run serialization, and defaults to the agent's owner when absent.
func (a *App) Run(ctx context.Context, agentID, workflowID string, initial map[string]any, opts ...engine.RunOption) (*types.RunResult, error) {
	def, ok := a.agents.Get(agentID)
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "unknown agent %q", agentID)
	}
	wf, ok := def.Workflow(workflowID)
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "agent %q has no workflow %q", agentID, workflowID)
	}
	return a.dispatcher.Dispatch(ctx, def, wf, userIDFrom(initial, def), initial, opts...)
}

// HandleMessage routes one inbound chat message: resolve the workflow
// from the message, replay session history into the run, and record
// the exchange. Messages matching no workflow and no default fall back
// to a plain LLM conversation with the agent's system prompt.
func (a *App) HandleMessage(ctx context.Context, agentID, userID, message string, opts ...engine.RunOption) (*types.RunResult, error) {
	def, ok := a.agents.Get(agentID)
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "unknown agent %q", agentID)
	}

	sess, err := a.sessions.GetOrCreate(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	history := a.history(ctx, sess.SessionID)

	wf, ok := a.resolver.Resolve(def, message)
	if !ok {
		return a.chat(ctx, def, sess, userID, message, history)
	}

	initial := map[string]any{"message": message}
	runOpts := append([]engine.RunOption{engine.WithHistory(history)}, opts...)
	result, err := a.dispatcher.Dispatch(ctx, def, wf, userID, initial, runOpts...)
	if err != nil {
		return result, err
	}

	a.appendExchange(ctx, sess.SessionID, message, strings.Join(result.Responses, "\n"))
	return result, nil
}

// chat answers outside any workflow: one completion with history, sent
// through the default sink and recorded as a normal exchange.
func (a *App) chat(ctx context.Context, def *types.AgentDefinition, sess *session.Session, userID, message string, history []types.Message) (*types.RunResult, error) {
	started := time.Now().UTC()
	text, err := a.client.Generate(ctx, &engine.GenerateRequest{
		Config:       def.LLMConfig,
		SystemPrompt: def.SystemPrompt,
		History:      history,
		Prompt:       message,
	})
	if err != nil {
		return nil, err
	}

	sink := a.engineSink()
	if err := sink.Deliver(ctx, userID, text); err != nil {
		a.logger.Warn("chat delivery failed",
			zap.String("agent_id", def.AgentID),
			zap.String("user_id", userID),
			zap.Error(err))
	}
	a.appendExchange(ctx, sess.SessionID, message, text)

	return &types.RunResult{
		AgentID:   def.AgentID,
		UserID:    userID,
		State:     types.RunCompleted,
		Responses: []string{text},
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
	}, nil
}

func (a *App) history(ctx context.Context, sessionID string) []types.Message {
	limit := a.cfg.Sessions.HistoryLimit
	entries, err := a.sessions.History(ctx, sessionID, limit)
	if err != nil {
		a.logger.Warn("history load failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	msgs := make([]types.Message, 0, len(entries)*2)
	for _, e := range entries {
		msgs = append(msgs, e.Turns()...)
	}
	return msgs
}

func (a *App) appendExchange(ctx context.Context, sessionID, userMessage, agentResponse string) {
	err := a.sessions.AppendHistory(ctx, types.HistoryEntry{
		SessionID:     sessionID,
		Timestamp:     time.Now().UTC(),
		UserMessage:   userMessage,
		AgentResponse: agentResponse,
	})
	if err != nil {
		a.logger.Warn("history append failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// inboundTelegram adapts linked Telegram users' messages onto
// HandleMessage against their linked agent, delivering back through
// the Telegram channel.
func (a *App) inboundTelegram(ctx context.Context, msg channel.InboundMessage) {
	agentID, ok := a.agentFor(msg.UserID)
	if !ok {
		a.logger.Warn("telegram message for user with no agent", zap.String("user_id", msg.UserID))
		return
	}
	_, err := a.HandleMessage(ctx, agentID, msg.UserID, msg.Text,
		engine.WithRunSink(a.telegram))
	if err != nil {
		a.logger.Warn("telegram-triggered run failed",
			zap.String("agent_id", agentID),
			zap.String("user_id", msg.UserID),
			zap.Error(err))
		// The user still gets an answer; the failure detail stays in
		// the logs and the execution record.
		if derr := a.telegram.Deliver(ctx, msg.UserID, types.GenericFailureMessage); derr != nil {
			a.logger.Warn("failure reply not delivered",
				zap.String("user_id", msg.UserID),
				zap.Error(derr))
		}
	}
}

// agentFor picks the agent handling a channel user's free-form chat:
// the user's most recently active session wins, otherwise the sole
// registered agent when there is exactly one.
func (a *App) agentFor(userID string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessions, err := a.sessions.List(ctx, session.Filter{UserID: userID})
	if err == nil && len(sessions) > 0 {
		return sessions[0].AgentID, true
	}
	defs := a.agents.List("")
	if len(defs) == 1 {
		return defs[0].AgentID, true
	}
	return "", false
}

// onAgentFileChange reloads the store and refreshes cron jobs when a
// definition file changes on disk.
func (a *App) onAgentFileChange(event agents.FileEvent) {
	if err := a.agents.Reload(); err != nil {
		a.logger.Warn("agent reload failed", zap.String("agent_id", event.AgentID), zap.Error(err))
		return
	}
	a.scheduler.RefreshAgent(event.AgentID)
	a.logger.Info("agent definition reloaded",
		zap.String("agent_id", event.AgentID),
		zap.String("op", string(event.Op)))
}

// EnsureCollections provisions every agent's document collection.
// Typically called once at startup after definitions load.
func (a *App) EnsureCollections(ctx context.Context) error {
	for _, def := range a.agents.List("") {
		if err := agents.EnsureCollection(ctx, a.docs, def, a.logger); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) engineSink() engine.ResponseSink {
	if a.telegram != nil {
		return a.telegram
	}
	return a.buffer
}

func userIDFrom(initial map[string]any, def *types.AgentDefinition) string {
	if id, ok := initial["user_id"].(string); ok && id != "" {
		return id
	}
	return def.Owner
}

// Agents exposes the definition store.
func (a *App) Agents() *agents.FileStore { return a.agents }

// Sessions exposes the session store.
func (a *App) Sessions() session.Store { return a.sessions }

// Documents exposes the document store.
func (a *App) Documents() store.DocumentStore { return a.docs }

// Scheduler exposes the cron scheduler.
func (a *App) Scheduler() *trigger.Scheduler { return a.scheduler }

// Hub exposes the websocket delivery hub for HTTP mounting.
func (a *App) Hub() *channel.Hub { return a.hub }

// Responses exposes the default buffered sink. Runs started without an
// explicit sink deliver here.
func (a *App) Responses() *channel.Buffer { return a.buffer }

// Records exposes the SQL execution recorder, nil when disabled.
func (a *App) Records() *records.Recorder { return a.recorder }

// RecordsPoolStats reports the records database pool state. The second
// return is false when records are disabled.
func (a *App) RecordsPoolStats() (sql.DBStats, bool) {
	if a.pool == nil {
		return sql.DBStats{}, false
	}
	return a.pool.Stats(), true
}

// Providers exposes the LLM provider registry.
func (a *App) Providers() *llm.Registry { return a.providers }

// Health pings the external dependencies that are actually wired.
func (a *App) Health(ctx context.Context) error {
	if err := a.docs.Ping(ctx); err != nil {
		return types.NewError(types.ErrStore, "document store unreachable").WithCause(err)
	}
	if err := a.sessions.Ping(ctx); err != nil {
		return types.NewError(types.ErrStore, "session store unreachable").WithCause(err)
	}
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return types.NewError(types.ErrStore, "records database unreachable").WithCause(err)
		}
	}
	return nil
}

// Close stops schedules, drains in-flight runs, flushes the recorder,
// and releases store connections. Safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.watcher != nil {
			a.watcher.Stop()
		}
		if a.scheduler != nil {
			if err := a.scheduler.Stop(ctx); err != nil {
				a.closeErr = err
			}
		}
		if a.dispatcher != nil {
			a.dispatcher.Shutdown()
		}
		if a.recorder != nil {
			if err := a.recorder.Close(ctx); err != nil && a.closeErr == nil {
				a.closeErr = err
			}
		}
		a.closeStores(ctx)
		a.logger.Info("runtime closed")
	})
	return a.closeErr
}

func (a *App) closeStores(ctx context.Context) {
	if a.pool != nil {
		if err := a.pool.Close(); err != nil && a.closeErr == nil {
			a.closeErr = err
		}
		a.pool = nil
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil && a.closeErr == nil {
			a.closeErr = err
		}
	}
	if a.docs != nil {
		if err := a.docs.Close(ctx); err != nil && a.closeErr == nil {
			a.closeErr = err
		}
	}
}
