package records

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/types"
)

// contextTruncateLimit caps the serialized run context stored per row.
const contextTruncateLimit = 8192

// Run is one finished workflow run as stored in the runs table.
type Run struct {
	ID             uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	RunID          string    `gorm:"column:run_id;size:64;uniqueIndex:idx_runs_run_id;not null"`
	AgentID        string    `gorm:"column:agent_id;size:128;index:idx_runs_agent_id;not null"`
	WorkflowID     string    `gorm:"column:workflow_id;size:128"`
	UserID         string    `gorm:"column:user_id;size:128;index:idx_runs_user_id"`
	State          string    `gorm:"column:state;size:16;index:idx_runs_state;not null"`
	Steps          int       `gorm:"column:steps"`
	Retries        int       `gorm:"column:retries"`
	ResponseCount  int       `gorm:"column:response_count"`
	Context        string    `gorm:"column:context;type:text"`
	FailureCode    string    `gorm:"column:failure_code;size:32"`
	FailureMessage string    `gorm:"column:failure_message;type:text"`
	StartedAt      time.Time `gorm:"column:started_at;index:idx_runs_started_at;not null"`
	EndedAt        time.Time `gorm:"column:ended_at;not null"`
	DurationMS     int64     `gorm:"column:duration_ms"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (Run) TableName() string { return "runs" }

// NodeExecution is one node attempt sequence as stored in the
// node_executions table.
type NodeExecution struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string    `gorm:"column:run_id;size:64;index:idx_node_execs_run_id;not null"`
	AgentID    string    `gorm:"column:agent_id;size:128"`
	NodeID     string    `gorm:"column:node_id;size:128;index:idx_node_execs_node_id;not null"`
	NodeType   string    `gorm:"column:node_type;size:32;not null"`
	Attempts   int       `gorm:"column:attempts"`
	Retries    int       `gorm:"column:retries"`
	Outcome    string    `gorm:"column:outcome;size:16;index:idx_node_execs_outcome;not null"`
	Error      string    `gorm:"column:error;type:text"`
	ErrorCode  string    `gorm:"column:error_code;size:32"`
	Output     string    `gorm:"column:output;type:text"`
	StartedAt  time.Time `gorm:"column:started_at;not null"`
	EndedAt    time.Time `gorm:"column:ended_at;not null"`
	DurationMS int64     `gorm:"column:duration_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (NodeExecution) TableName() string { return "node_executions" }

// AutoMigrate creates or updates the record tables. Deployments with a
// schema migration pipeline use internal/migration instead; this is
// for sqlite setups and tests.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Run{}, &NodeExecution{}); err != nil {
		return types.NewError(types.ErrStore, "failed to migrate record tables").WithCause(err)
	}
	return nil
}

func newRun(result *types.RunResult) Run {
	return Run{
		RunID:          result.RunID,
		AgentID:        result.AgentID,
		WorkflowID:     result.WorkflowID,
		UserID:         result.UserID,
		State:          string(result.State),
		Steps:          result.Steps,
		Retries:        result.Retries,
		ResponseCount:  len(result.Responses),
		Context:        marshalContext(result.Context),
		FailureCode:    string(result.FailureCode),
		FailureMessage: result.FailureMessage,
		StartedAt:      result.StartedAt,
		EndedAt:        result.EndedAt,
		DurationMS:     result.Duration().Milliseconds(),
	}
}

func newNodeExecution(exec *engine.NodeExecution) NodeExecution {
	return NodeExecution{
		RunID:      exec.RunID,
		AgentID:    exec.AgentID,
		NodeID:     exec.NodeID,
		NodeType:   string(exec.NodeType),
		Attempts:   exec.Attempts,
		Retries:    exec.Retries,
		Outcome:    string(exec.Outcome),
		Error:      exec.Error,
		ErrorCode:  exec.ErrorCode,
		Output:     exec.Output,
		StartedAt:  exec.StartedAt,
		EndedAt:    exec.EndedAt,
		DurationMS: exec.EndedAt.Sub(exec.StartedAt).Milliseconds(),
	}
}

// marshalContext serializes the run context for the record, truncating
// oversized payloads. A truncated value is no longer valid JSON; the
// record is diagnostic, not a restore point.
func marshalContext(ctx map[string]any) string {
	if len(ctx) == 0 {
		return ""
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return ""
	}
	if len(data) > contextTruncateLimit {
		data = data[:contextTruncateLimit]
	}
	return string(data)
}
