package types

import (
	"time"
)

// RunState is a workflow run's life cycle state.
// Transitions: Pending -> Running -> {Completed, Halted, Failed}.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunHalted    RunState = "halted"
	RunFailed    RunState = "failed"
)

// Terminal reports whether the state ends a run.
func (s RunState) Terminal() bool {
	switch s {
	case RunCompleted, RunHalted, RunFailed:
		return true
	}
	return false
}

// RunResult is what one workflow run produced: the terminal state, the
// final variable context, every response emitted by send_response nodes,
// and, for failed runs, the error that ended it. Partial context is
// preserved on failure for diagnostics.
type RunResult struct {
	RunID      string         `json:"run_id"`
	AgentID    string         `json:"agent_id"`
	WorkflowID string         `json:"workflow_id"`
	UserID     string         `json:"user_id"`
	State      RunState       `json:"state"`
	Context    map[string]any `json:"context,omitempty"`
	Responses  []string       `json:"responses,omitempty"`
	Steps      int            `json:"steps"`
	Retries    int            `json:"retries"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`

	// Err is the failure cause for RunFailed results; nil otherwise.
	Err error `json:"-"`

	// FailureCode and FailureMessage mirror Err for serialization.
	FailureCode    ErrorCode `json:"failure_code,omitempty"`
	FailureMessage string    `json:"failure_message,omitempty"`
}

// Failed reports whether the run ended in RunFailed.
func (r *RunResult) Failed() bool { return r.State == RunFailed }

// Duration returns the wall-clock run time.
func (r *RunResult) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// GenericFailureMessage is the user-visible reply for failed runs. The
// real cause stays in the execution record for operator inspection.
const GenericFailureMessage = "Sorry, something went wrong while handling your request. Please try again."
