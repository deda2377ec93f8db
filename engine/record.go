package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tulparlabs/agentrun/types"
)

// outputTruncateLimit caps the serialized node output stored in
// execution records.
const outputTruncateLimit = 1000

// NodeOutcome classifies one node execution for the record.
type NodeOutcome string

const (
	OutcomeSuccess NodeOutcome = "success"
	OutcomeError   NodeOutcome = "error"
	OutcomeRetried NodeOutcome = "retried"
	OutcomeSkipped NodeOutcome = "skipped"
)

// NodeExecution is the record of one node attempt sequence: which node
// ran, how many attempts it took, what it produced (truncated), and how
// it ended.
type NodeExecution struct {
	RunID     string         `json:"run_id"`
	AgentID   string         `json:"agent_id"`
	NodeID    string         `json:"node_id"`
	NodeType  types.NodeType `json:"node_type"`
	Attempts  int            `json:"attempts"`
	Retries   int            `json:"retries"`
	Outcome   NodeOutcome    `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Output    string         `json:"output,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
}

// Recorder receives execution records as a run progresses. Correctness
// never depends on it; it is the observability and testing seam.
// Implementations must tolerate concurrent runs.
type Recorder interface {
	RecordRun(ctx context.Context, result *types.RunResult)
	RecordNode(ctx context.Context, exec *NodeExecution)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordRun(context.Context, *types.RunResult) {}
func (NopRecorder) RecordNode(context.Context, *NodeExecution)  {}

// MultiRecorder fans records out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) RecordRun(ctx context.Context, r *types.RunResult) {
	for _, rec := range m {
		rec.RecordRun(ctx, r)
	}
}

func (m MultiRecorder) RecordNode(ctx context.Context, e *NodeExecution) {
	for _, rec := range m {
		rec.RecordNode(ctx, e)
	}
}

// MemoryRecorder keeps the most recent records in memory. Handy in
// tests and as the default when no SQL record store is configured.
type MemoryRecorder struct {
	mu       sync.Mutex
	capacity int
	runs     []*types.RunResult
	nodes    []*NodeExecution
}

// NewMemoryRecorder creates a recorder that retains up to capacity
// entries of each kind, oldest dropped first.
func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryRecorder{capacity: capacity}
}

func (m *MemoryRecorder) RecordRun(_ context.Context, r *types.RunResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	if len(m.runs) > m.capacity {
		m.runs = m.runs[len(m.runs)-m.capacity:]
	}
}

func (m *MemoryRecorder) RecordNode(_ context.Context, e *NodeExecution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = append(m.nodes, e)
	if len(m.nodes) > m.capacity {
		m.nodes = m.nodes[len(m.nodes)-m.capacity:]
	}
}

// Runs returns a copy of the recorded run results.
func (m *MemoryRecorder) Runs() []*types.RunResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.RunResult, len(m.runs))
	copy(out, m.runs)
	return out
}

// Nodes returns a copy of the recorded node executions.
func (m *MemoryRecorder) Nodes() []*NodeExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*NodeExecution, len(m.nodes))
	copy(out, m.nodes)
	return out
}

// NodesFor filters recorded node executions by run id.
func (m *MemoryRecorder) NodesFor(runID string) []*NodeExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*NodeExecution
	for _, e := range m.nodes {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// TruncateOutput serializes a node output for the record, capped at the
// record limit.
func TruncateOutput(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		s = string(data)
	}
	if len(s) > outputTruncateLimit {
		return s[:outputTruncateLimit]
	}
	return s
}
