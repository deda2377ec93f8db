package trigger

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/types"
)

// DefaultMaxConcurrent bounds runs in flight across all users.
const DefaultMaxConcurrent = 16

// Executor runs one workflow to completion. *engine.Engine satisfies
// it.
type Executor interface {
	Execute(ctx context.Context, def *types.AgentDefinition, wf *types.WorkflowSpec, initial map[string]any, opts ...engine.RunOption) (*types.RunResult, error)
}

var _ Executor = (*engine.Engine)(nil)

// Dispatcher fans runs out to the executor with two rules: runs for the
// same (user, agent) pair execute one at a time, in arrival order, and
// total parallelism is capped. Different users never wait on each
// other's locks, only on free slots.
type Dispatcher struct {
	exec   Executor
	logger *zap.Logger
	group  *errgroup.Group

	mu    sync.Mutex
	locks map[pairKey]*pairLock
}

type pairKey struct {
	userID  string
	agentID string
}

// pairLock is refcounted so idle pairs do not accumulate in the map.
type pairLock struct {
	mu   sync.Mutex
	refs int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher, *int)

// WithMaxConcurrent caps runs in flight. Zero or negative means
// unlimited.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(_ *Dispatcher, limit *int) { *limit = n }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher, _ *int) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher wraps an executor.
func NewDispatcher(exec Executor, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		exec:   exec,
		logger: zap.NewNop(),
		group:  new(errgroup.Group),
		locks:  make(map[pairKey]*pairLock),
	}
	limit := DefaultMaxConcurrent
	for _, opt := range opts {
		opt(d, &limit)
	}
	if limit > 0 {
		d.group.SetLimit(limit)
	}
	d.logger = d.logger.With(zap.String("component", "dispatcher"))
	return d
}

// Dispatch runs the workflow and waits for its result. The call blocks
// while the concurrency cap is reached and while an earlier run for
// the same (user, agent) pair is still executing.
func (d *Dispatcher) Dispatch(ctx context.Context, def *types.AgentDefinition, wf *types.WorkflowSpec, userID string, initial map[string]any, opts ...engine.RunOption) (*types.RunResult, error) {
	type outcome struct {
		result *types.RunResult
		err    error
	}
	ch := make(chan outcome, 1)
	d.group.Go(func() error {
		result, err := d.run(ctx, def, wf, userID, initial, opts...)
		ch <- outcome{result, err}
		return nil
	})
	out := <-ch
	return out.result, out.err
}

// Submit schedules the run without waiting. The done callback, when
// non-nil, receives the outcome on the run's goroutine.
func (d *Dispatcher) Submit(ctx context.Context, def *types.AgentDefinition, wf *types.WorkflowSpec, userID string, initial map[string]any, done func(*types.RunResult, error)) {
	d.group.Go(func() error {
		result, err := d.run(ctx, def, wf, userID, initial)
		if err != nil {
			d.logger.Warn("submitted run failed",
				zap.String("user_id", userID),
				zap.String("agent_id", agentIDOf(def)),
				zap.Error(err))
		}
		if done != nil {
			done(result, err)
		}
		return nil
	})
}

// Shutdown waits for every in-flight run to finish.
func (d *Dispatcher) Shutdown() {
	d.group.Wait()
}

func (d *Dispatcher) run(ctx context.Context, def *types.AgentDefinition, wf *types.WorkflowSpec, userID string, initial map[string]any, opts ...engine.RunOption) (*types.RunResult, error) {
	if def == nil || wf == nil {
		return nil, types.NewError(types.ErrConfig, "agent definition and workflow are required")
	}

	seeded := make(map[string]any, len(initial)+1)
	for key, value := range initial {
		seeded[key] = value
	}
	seeded["user_id"] = userID

	unlock := d.lockPair(userID, def.AgentID)
	defer unlock()

	return d.exec.Execute(ctx, def, wf, seeded, opts...)
}

// lockPair serializes runs for one (user, agent) pair.
func (d *Dispatcher) lockPair(userID, agentID string) (unlock func()) {
	key := pairKey{userID, agentID}

	d.mu.Lock()
	pl, ok := d.locks[key]
	if !ok {
		pl = &pairLock{}
		d.locks[key] = pl
	}
	pl.refs++
	d.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		d.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(d.locks, key)
		}
		d.mu.Unlock()
	}
}

func agentIDOf(def *types.AgentDefinition) string {
	if def == nil {
		return ""
	}
	return def.AgentID
}
