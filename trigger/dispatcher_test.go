package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/types"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []map[string]any
	fn    func(ctx context.Context, def *types.AgentDefinition, wf *types.WorkflowSpec, initial map[string]any) (*types.RunResult, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, def *types.AgentDefinition, wf *types.WorkflowSpec, initial map[string]any, _ ...engine.RunOption) (*types.RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, initial)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, def, wf, initial)
	}
	return &types.RunResult{RunID: "run_test", State: types.RunCompleted, Context: initial}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func dispatchAgent(id string) *types.AgentDefinition {
	return &types.AgentDefinition{
		AgentID:    id,
		DataSchema: types.DataSchema{CollectionName: "veriler"},
	}
}

func dispatchWorkflow() *types.WorkflowSpec {
	return &types.WorkflowSpec{WorkflowID: "wf", Nodes: []types.Node{}}
}

func TestDispatcher_SeedsUserIDWithoutMutatingCaller(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{}
	d := NewDispatcher(exec)

	initial := map[string]any{"message": "selam"}
	result, err := d.Dispatch(context.Background(), dispatchAgent("a1"), dispatchWorkflow(), "u1", initial)
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Equal(t, 1, exec.callCount())
	assert.Equal(t, "u1", exec.calls[0]["user_id"])
	assert.Equal(t, "selam", exec.calls[0]["message"])
	assert.NotContains(t, initial, "user_id", "the caller's map stays untouched")
}

func TestDispatcher_NilDefinitionFails(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(&fakeExecutor{})

	_, err := d.Dispatch(context.Background(), nil, dispatchWorkflow(), "u1", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.GetCode(err))
}

func TestDispatcher_SamePairRunsSequentially(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight int32
	exec := &fakeExecutor{
		fn: func(context.Context, *types.AgentDefinition, *types.WorkflowSpec, map[string]any) (*types.RunResult, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				seen := atomic.LoadInt32(&maxInFlight)
				if n <= seen || atomic.CompareAndSwapInt32(&maxInFlight, seen, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return &types.RunResult{State: types.RunCompleted}, nil
		},
	}
	d := NewDispatcher(exec, WithMaxConcurrent(8))

	def := dispatchAgent("a1")
	wf := dispatchWorkflow()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Dispatch(context.Background(), def, wf, "u1", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight),
		"one user's runs on one agent never overlap")
	assert.Equal(t, 4, exec.callCount())
}

func TestDispatcher_DifferentUsersRunConcurrently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan string, 2)
	exec := &fakeExecutor{
		fn: func(_ context.Context, _ *types.AgentDefinition, _ *types.WorkflowSpec, initial map[string]any) (*types.RunResult, error) {
			entered <- initial["user_id"].(string)
			<-release
			return &types.RunResult{State: types.RunCompleted}, nil
		},
	}
	d := NewDispatcher(exec)

	def := dispatchAgent("a1")
	wf := dispatchWorkflow()
	d.Submit(context.Background(), def, wf, "u1", nil, nil)
	d.Submit(context.Background(), def, wf, "u2", nil, nil)

	// Both runs are inside the executor at once.
	users := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case u := <-entered:
			users[u] = true
		case <-time.After(2 * time.Second):
			t.Fatal("second user's run is blocked behind the first")
		}
	}
	assert.Len(t, users, 2)
	close(release)
	d.Shutdown()
}

func TestDispatcher_BoundedParallelism(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight int32
	exec := &fakeExecutor{
		fn: func(context.Context, *types.AgentDefinition, *types.WorkflowSpec, map[string]any) (*types.RunResult, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				seen := atomic.LoadInt32(&maxInFlight)
				if n <= seen || atomic.CompareAndSwapInt32(&maxInFlight, seen, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return &types.RunResult{State: types.RunCompleted}, nil
		},
	}
	d := NewDispatcher(exec, WithMaxConcurrent(2))

	wf := dispatchWorkflow()
	for i := 0; i < 6; i++ {
		// Distinct users so the pair lock is not what limits them.
		d.Submit(context.Background(), dispatchAgent("a1"), wf, "u"+string(rune('0'+i)), nil, nil)
	}
	d.Shutdown()

	assert.Equal(t, 6, exec.callCount())
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}

func TestDispatcher_SubmitDeliversOutcome(t *testing.T) {
	t.Parallel()
	wantErr := types.NewError(types.ErrProvider, "model kapalı")
	exec := &fakeExecutor{
		fn: func(context.Context, *types.AgentDefinition, *types.WorkflowSpec, map[string]any) (*types.RunResult, error) {
			return &types.RunResult{State: types.RunFailed}, wantErr
		},
	}
	d := NewDispatcher(exec)

	got := make(chan error, 1)
	d.Submit(context.Background(), dispatchAgent("a1"), dispatchWorkflow(), "u1", nil, func(_ *types.RunResult, err error) {
		got <- err
	})

	select {
	case err := <-got:
		assert.ErrorIs(t, err, wantErr)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
	d.Shutdown()
}
