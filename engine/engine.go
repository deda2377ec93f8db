package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/internal/ctxkeys"
	"github.com/tulparlabs/agentrun/types"
)

// DefaultMaxSteps caps node executions per run. Backward jumps are
// legal, so the cap is what turns a cyclic workflow definition into a
// clean failure instead of a hung run.
const DefaultMaxSteps = 100

// Engine interprets workflow definitions node by node. One Engine is
// shared across runs; each Execute call owns its run state, so the
// engine itself is safe for concurrent use as long as the injected
// collaborators are.
type Engine struct {
	llm      LLMClient
	tools    ToolInvoker
	store    DataStore
	sink     ResponseSink
	recorder Recorder
	logger   *zap.Logger
	maxSteps int
	sleep    func(context.Context, time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder sets where run and node execution records go.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithMaxSteps overrides the per-run step cap.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// New builds an engine around the four collaborators. Any of them may
// be nil; nodes needing a missing collaborator fail with a config
// error instead of panicking.
func New(llm LLMClient, tools ToolInvoker, store DataStore, sink ResponseSink, opts ...Option) *Engine {
	e := &Engine{
		llm:      llm,
		tools:    tools,
		store:    store,
		sink:     sink,
		recorder: NopRecorder{},
		logger:   zap.NewNop(),
		maxSteps: DefaultMaxSteps,
		sleep:    ctxSleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "engine"))
	return e
}

// runState is the per-run working set threaded through node execution.
type runState struct {
	runID   string
	def     *types.AgentDefinition
	wf      *types.WorkflowSpec
	vars    *Context
	userID  string
	history []types.Message
	retries int
}

type runOptions struct {
	runID   string
	history []types.Message
	sink    ResponseSink
}

// RunOption configures one Execute call.
type RunOption func(*runOptions)

// WithRunID pins the run id instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithHistory supplies prior conversation turns for llm_prompt nodes.
func WithHistory(history []types.Message) RunOption {
	return func(o *runOptions) { o.history = history }
}

// WithRunSink routes this run's send_response output to a different
// sink than the engine default.
func WithRunSink(sink ResponseSink) RunOption {
	return func(o *runOptions) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// Execute runs one workflow to a terminal state. The returned result is
// never nil; the error mirrors result.Err and is non-nil only when the
// run failed. Node order follows declaration order unless a conditional
// jumps; a successful send_response completes the run.
func (e *Engine) Execute(ctx context.Context, def *types.AgentDefinition, wf *types.WorkflowSpec, initial map[string]any, opts ...RunOption) (*types.RunResult, error) {
	ro := runOptions{sink: e.sink}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.runID == "" {
		ro.runID = "run_" + uuid.NewString()
	}
	// Everything the run calls out to can recover the run id from ctx.
	ctx = ctxkeys.WithRunID(ctx, ro.runID)

	result := &types.RunResult{
		RunID:     ro.runID,
		State:     types.RunPending,
		StartedAt: time.Now(),
	}
	if def == nil || wf == nil {
		return e.finish(ctx, result, nil, types.NewError(types.ErrConfig, "agent definition and workflow are required"))
	}
	result.AgentID = def.AgentID
	result.WorkflowID = wf.WorkflowID

	vars := NewContext(initial)
	if _, ok := vars.Get("current_date"); !ok {
		vars.Set("current_date", time.Now().Format("2006-01-02"))
	}
	userID, _ := vars.Get("user_id")
	userStr, _ := userID.(string)
	result.UserID = userStr

	rs := &runState{
		runID:   ro.runID,
		def:     def,
		wf:      wf,
		vars:    vars,
		userID:  userStr,
		history: ro.history,
	}
	ex := &nodeExecutor{
		llm:      e.llm,
		tools:    e.tools,
		store:    e.store,
		sink:     ro.sink,
		recorder: e.recorder,
		logger:   e.logger,
		sleep:    e.sleep,
	}

	result.State = types.RunRunning
	e.logger.Info("run started",
		zap.String("run_id", rs.runID),
		zap.String("agent_id", def.AgentID),
		zap.String("workflow_id", wf.WorkflowID),
		zap.String("user_id", userStr),
		zap.Int("nodes", len(wf.Nodes)))

	idx := 0
	for {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, result, rs, types.NewError(types.ErrInternal, "run cancelled").WithCause(err))
		}
		if idx >= len(wf.Nodes) {
			result.State = types.RunCompleted
			return e.finish(ctx, result, rs, nil)
		}
		if result.Steps >= e.maxSteps {
			return e.finish(ctx, result, rs, types.Errorf(types.ErrStepLimitExceeded, "run exceeded step cap of %d", e.maxSteps))
		}
		result.Steps++

		node := &wf.Nodes[idx]
		output, directive := ex.Execute(ctx, rs, node)
		if directive.Kind != DirectiveFail && node.OutputVariable != "" {
			rs.vars.Set(node.OutputVariable, output)
		}

		switch directive.Kind {
		case DirectiveFail:
			return e.finish(ctx, result, rs, directive.Err)
		case DirectiveHalt:
			result.State = types.RunHalted
			return e.finish(ctx, result, rs, nil)
		case DirectiveJump:
			j, _ := wf.NodeByID(directive.Target)
			if j < 0 {
				return e.finish(ctx, result, rs, types.Errorf(types.ErrUnknownNode, "node %s jumps to unknown node %q", node.NodeID, directive.Target))
			}
			idx = j
		default:
			// A delivered response ends the run. A send_response that
			// was absorbed by continue_on_error yields an error-marker
			// map instead of the sent text, so the run keeps going.
			if node.Type == types.NodeSendResponse {
				if msg, ok := output.(string); ok {
					result.Responses = append(result.Responses, msg)
					result.State = types.RunCompleted
					return e.finish(ctx, result, rs, nil)
				}
			}
			idx++
		}
	}
}

// finish stamps the terminal state, records the run, and logs it.
// A non-nil failure forces RunFailed and fills the serialized failure
// fields; the user-facing message stays generic while the cause goes to
// the record.
func (e *Engine) finish(ctx context.Context, result *types.RunResult, rs *runState, failure error) (*types.RunResult, error) {
	if rs != nil {
		result.Context = rs.vars.Snapshot()
		result.Retries = rs.retries
	}
	result.EndedAt = time.Now()
	if failure != nil {
		result.State = types.RunFailed
		result.Err = failure
		result.FailureCode = types.GetCode(failure)
		result.FailureMessage = failure.Error()
	}
	e.recorder.RecordRun(ctx, result)

	switch {
	case failure != nil:
		e.logger.Error("run failed",
			zap.String("run_id", result.RunID),
			zap.String("agent_id", result.AgentID),
			zap.String("workflow_id", result.WorkflowID),
			zap.Int("steps", result.Steps),
			zap.Int("retries", result.Retries),
			zap.String("failure_code", string(result.FailureCode)),
			zap.Duration("duration", result.Duration()),
			zap.Error(failure))
	default:
		e.logger.Info("run finished",
			zap.String("run_id", result.RunID),
			zap.String("agent_id", result.AgentID),
			zap.String("workflow_id", result.WorkflowID),
			zap.String("state", string(result.State)),
			zap.Int("steps", result.Steps),
			zap.Int("retries", result.Retries),
			zap.Int("responses", len(result.Responses)),
			zap.Duration("duration", result.Duration()))
	}
	return result, failure
}

// NopSink discards responses. Scheduled runs and tests use it when no
// outbound channel applies; the text still lands in RunResult.Responses.
type NopSink struct{}

func (NopSink) Deliver(context.Context, string, string) error { return nil }

// ctxSleep waits for d or until ctx is done, whichever comes first.
func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
