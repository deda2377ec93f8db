package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/session"
	"github.com/tulparlabs/agentrun/store"
	"github.com/tulparlabs/agentrun/types"
)

// ExecutionsCollection holds one document per scheduled tick.
const ExecutionsCollection = "schedule_executions"

// JobID is the cron job identity for one agent schedule.
func JobID(agentID, scheduleID string) string {
	return "agent_" + agentID + "_schedule_" + scheduleID
}

// SystemUserID is the synthetic user a scheduled run executes as.
func SystemUserID(scheduleID string) string {
	return "system_scheduler_" + scheduleID
}

// AgentSource looks up agent definitions at tick time, so a schedule
// always runs the definition as it is now, not as it was registered.
// *agents.FileStore satisfies it.
type AgentSource interface {
	Get(agentID string) (*types.AgentDefinition, bool)
}

// JobInfo describes one registered cron job.
type JobInfo struct {
	JobID       string    `json:"job_id"`
	AgentID     string    `json:"agent_id"`
	ScheduleID  string    `json:"schedule_id"`
	WorkflowID  string    `json:"workflow_id"`
	Cron        string    `json:"cron"`
	Description string    `json:"description,omitempty"`
	Next        time.Time `json:"next,omitempty"`
}

// ExecutionRecord is one tick's outcome in schedule_executions.
type ExecutionRecord struct {
	AgentID      string    `json:"agent_id"`
	ScheduleID   string    `json:"schedule_id"`
	WorkflowID   string    `json:"workflow_id"`
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

func (r ExecutionRecord) doc() map[string]any {
	doc := map[string]any{
		"agent_id":    r.AgentID,
		"schedule_id": r.ScheduleID,
		"workflow_id": r.WorkflowID,
		"timestamp":   r.Timestamp,
		"success":     r.Success,
	}
	if r.ErrorMessage != "" {
		doc["error_message"] = r.ErrorMessage
	}
	return doc
}

// Scheduler drives agents' cron schedules. Each tick loads the agent
// fresh, runs the scheduled workflow as a system user through the
// dispatcher, folds the final context back into the system session, and
// records the outcome.
type Scheduler struct {
	cron       *cron.Cron
	agents     AgentSource
	dispatcher *Dispatcher
	sessions   session.Store
	docs       store.DocumentStore
	logger     *zap.Logger

	mu   sync.Mutex
	jobs map[string][]cron.EntryID
	meta map[cron.EntryID]JobInfo
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSessions lets scheduled runs keep per-schedule session state.
func WithSessions(sessions session.Store) SchedulerOption {
	return func(s *Scheduler) { s.sessions = sessions }
}

// WithExecutionLog records tick outcomes to the document store.
func WithExecutionLog(docs store.DocumentStore) SchedulerOption {
	return func(s *Scheduler) { s.docs = docs }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler creates a stopped scheduler; call Start to begin
// ticking.
func NewScheduler(agents AgentSource, dispatcher *Dispatcher, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		agents:     agents,
		dispatcher: dispatcher,
		logger:     zap.NewNop(),
		jobs:       make(map[string][]cron.EntryID),
		meta:       make(map[cron.EntryID]JobInfo),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "scheduler"))

	cronLogger := cron.PrintfLogger(zap.NewStdLog(s.logger))
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger)))
	return s
}

// RegisterAgent adds cron jobs for every schedule the agent declares
// and returns how many were registered. Schedules that reference a
// missing workflow or carry an unparsable cron expression are skipped
// with a warning, never failing the rest.
func (s *Scheduler) RegisterAgent(def *types.AgentDefinition) int {
	if def == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	registered := 0
	for _, sched := range def.Schedules {
		if _, ok := def.Workflow(sched.WorkflowID); !ok {
			s.logger.Warn("schedule references missing workflow",
				zap.String("agent_id", def.AgentID),
				zap.String("schedule_id", sched.ScheduleID),
				zap.String("workflow_id", sched.WorkflowID))
			continue
		}

		agentID, workflowID, scheduleID := def.AgentID, sched.WorkflowID, sched.ScheduleID
		entryID, err := s.cron.AddFunc(sched.Cron, func() {
			s.runScheduled(agentID, workflowID, scheduleID)
		})
		if err != nil {
			s.logger.Warn("schedule has invalid cron expression",
				zap.String("agent_id", agentID),
				zap.String("schedule_id", scheduleID),
				zap.String("cron", sched.Cron),
				zap.Error(err))
			continue
		}

		s.jobs[agentID] = append(s.jobs[agentID], entryID)
		s.meta[entryID] = JobInfo{
			JobID:       JobID(agentID, scheduleID),
			AgentID:     agentID,
			ScheduleID:  scheduleID,
			WorkflowID:  workflowID,
			Cron:        sched.Cron,
			Description: sched.Description,
		}
		registered++

		s.logger.Info("schedule registered",
			zap.String("job_id", JobID(agentID, scheduleID)),
			zap.String("cron", sched.Cron))
	}
	return registered
}

// RegisterAll registers every definition and returns the total job
// count.
func (s *Scheduler) RegisterAll(defs []*types.AgentDefinition) int {
	total := 0
	for _, def := range defs {
		total += s.RegisterAgent(def)
	}
	return total
}

// RemoveAgent drops all of the agent's cron jobs and returns how many
// were removed.
func (s *Scheduler) RemoveAgent(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.jobs[agentID]
	for _, entryID := range entries {
		s.cron.Remove(entryID)
		delete(s.meta, entryID)
	}
	delete(s.jobs, agentID)

	if len(entries) > 0 {
		s.logger.Info("schedules removed",
			zap.String("agent_id", agentID),
			zap.Int("count", len(entries)))
	}
	return len(entries)
}

// RefreshAgent re-registers an agent after its definition changed. An
// agent that no longer exists just loses its jobs.
func (s *Scheduler) RefreshAgent(agentID string) int {
	s.RemoveAgent(agentID)
	def, ok := s.agents.Get(agentID)
	if !ok {
		s.logger.Warn("cannot refresh schedules for unknown agent",
			zap.String("agent_id", agentID))
		return 0
	}
	return s.RegisterAgent(def)
}

// Jobs returns the registered jobs with their next fire times.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.meta))
	for entryID, info := range s.meta {
		info.Next = s.cron.Entry(entryID).Next
		infos = append(infos, info)
	}
	return infos
}

// Start begins ticking in the scheduler's own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts ticking and waits for running jobs, up to the context
// deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return types.NewError(types.ErrTimeout, "scheduler jobs still running").WithCause(ctx.Err())
	}
}

// runScheduled is one cron tick. Failures are recorded, never
// propagated; the next tick gets a clean slate.
func (s *Scheduler) runScheduled(agentID, workflowID, scheduleID string) {
	ctx := context.Background()
	start := time.Now().UTC()
	s.logger.Info("scheduled run starting",
		zap.String("job_id", JobID(agentID, scheduleID)))

	def, ok := s.agents.Get(agentID)
	if !ok {
		s.record(ctx, agentID, scheduleID, workflowID, false, "agent "+agentID+" not found")
		return
	}
	wf, ok := def.Workflow(workflowID)
	if !ok {
		s.record(ctx, agentID, scheduleID, workflowID, false, "workflow "+workflowID+" not found")
		return
	}

	userID := SystemUserID(scheduleID)
	initial := map[string]any{
		"scheduled_execution": true,
		"schedule_id":         scheduleID,
		"execution_time":      start.Format(time.RFC3339),
	}

	var sessionID string
	if s.sessions != nil {
		sess, err := s.sessions.GetOrCreate(ctx, userID, agentID)
		if err != nil {
			s.logger.Warn("scheduled run proceeding without session",
				zap.String("job_id", JobID(agentID, scheduleID)), zap.Error(err))
		} else {
			sessionID = sess.SessionID
			initial["session_id"] = sessionID
		}
	}

	result, err := s.dispatcher.Dispatch(ctx, def, wf, userID, initial)
	if err != nil {
		s.logger.Error("scheduled run failed",
			zap.String("job_id", JobID(agentID, scheduleID)),
			zap.Error(err))
		s.record(ctx, agentID, scheduleID, workflowID, false, err.Error())
		return
	}

	if s.sessions != nil && sessionID != "" && result != nil {
		if err := s.sessions.UpdateContext(ctx, sessionID, result.Context); err != nil {
			s.logger.Warn("could not persist scheduled run context",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	s.logger.Info("scheduled run finished",
		zap.String("job_id", JobID(agentID, scheduleID)),
		zap.String("run_id", result.RunID),
		zap.String("state", string(result.State)),
		zap.Duration("took", time.Since(start)))
	s.record(ctx, agentID, scheduleID, workflowID, true, "")
}

func (s *Scheduler) record(ctx context.Context, agentID, scheduleID, workflowID string, success bool, errMsg string) {
	if s.docs == nil {
		return
	}
	rec := ExecutionRecord{
		AgentID:      agentID,
		ScheduleID:   scheduleID,
		WorkflowID:   workflowID,
		Timestamp:    time.Now().UTC(),
		Success:      success,
		ErrorMessage: errMsg,
	}
	if _, err := s.docs.Insert(ctx, ExecutionsCollection, rec.doc()); err != nil {
		s.logger.Warn("could not record schedule execution",
			zap.String("job_id", JobID(agentID, scheduleID)),
			zap.Error(err))
	}
}
