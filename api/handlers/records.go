package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/api"
	"github.com/tulparlabs/agentrun/internal/records"
	"github.com/tulparlabs/agentrun/types"
)

// =============================================================================
// Run History Handler
// =============================================================================

// RunArchive is the query surface of the execution record store.
// *records.Recorder satisfies it.
type RunArchive interface {
	Runs(ctx context.Context, f records.RunFilter) ([]records.Run, error)
	RunByID(ctx context.Context, runID string) (*records.Run, error)
	NodesFor(ctx context.Context, runID string) ([]records.NodeExecution, error)
	StateCounts(ctx context.Context) (map[string]int64, error)
}

// RecordHandler serves archived run history. A nil archive means
// records are disabled in the config; every endpoint then answers 503.
type RecordHandler struct {
	archive RunArchive
	logger  *zap.Logger
}

// NewRecordHandler creates the run history handler.
func NewRecordHandler(archive RunArchive, logger *zap.Logger) *RecordHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordHandler{
		archive: archive,
		logger:  logger.With(zap.String("component", "record_handler")),
	}
}

// HandleList lists archived runs, newest first.
// @Summary List runs
// @Description List archived runs with optional agent, user, and state filters
// @Tags records
// @Produce json
// @Param agent_id query string false "Agent filter"
// @Param user_id query string false "User filter"
// @Param state query string false "Terminal state filter (completed, halted, failed)"
// @Param limit query int false "Page size"
// @Success 200 {object} Response{data=api.RunListResponse} "Run history"
// @Failure 503 {object} Response "Records disabled"
// @Router /api/v1/runs [get]
func (h *RecordHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	filter, err := parseRunFilter(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	runs, qerr := h.archive.Runs(r.Context(), filter)
	if qerr != nil {
		h.writeArchiveError(w, qerr)
		return
	}

	out := make([]api.RunRecord, 0, len(runs))
	for i := range runs {
		out = append(out, toRunRecord(&runs[i]))
	}
	WriteSuccess(w, api.RunListResponse{Runs: out, Count: len(out)})
}

// HandleGet returns one archived run with its node executions.
// @Summary Get run
// @Description Get one archived run and its node executions
// @Tags records
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} Response{data=api.RunDetailResponse} "Run detail"
// @Failure 404 {object} Response "Unknown run"
// @Failure 503 {object} Response "Records disabled"
// @Router /api/v1/runs/{id} [get]
func (h *RecordHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	runID := extractRunID(r)
	if runID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "run id is required", h.logger)
		return
	}

	run, err := h.archive.RunByID(r.Context(), runID)
	if err != nil {
		h.writeArchiveError(w, err)
		return
	}
	nodes, err := h.archive.NodesFor(r.Context(), runID)
	if err != nil {
		h.writeArchiveError(w, err)
		return
	}

	detail := api.RunDetailResponse{
		Run:   toRunRecord(run),
		Nodes: make([]api.NodeRecord, 0, len(nodes)),
	}
	for i := range nodes {
		detail.Nodes = append(detail.Nodes, toNodeRecord(&nodes[i]))
	}
	WriteSuccess(w, detail)
}

// HandleStats aggregates archived runs by terminal state.
// @Summary Run statistics
// @Description Count archived runs per terminal state
// @Tags records
// @Produce json
// @Success 200 {object} Response{data=api.StatsResponse} "Run statistics"
// @Failure 503 {object} Response "Records disabled"
// @Router /api/v1/stats [get]
func (h *RecordHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	counts, err := h.archive.StateCounts(r.Context())
	if err != nil {
		h.writeArchiveError(w, err)
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	WriteSuccess(w, api.StatsResponse{States: counts, Total: total})
}

func (h *RecordHandler) available(w http.ResponseWriter) bool {
	if h.archive == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrConfig,
			"run records are not enabled", h.logger)
		return false
	}
	return true
}

func (h *RecordHandler) writeArchiveError(w http.ResponseWriter, err error) {
	var appErr *types.Error
	if errors.As(err, &appErr) {
		WriteError(w, appErr, h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrStore, "record query failed", h.logger)
}

func parseRunFilter(r *http.Request) (records.RunFilter, *types.Error) {
	q := r.URL.Query()
	filter := records.RunFilter{
		AgentID: q.Get("agent_id"),
		UserID:  q.Get("user_id"),
		State:   q.Get("state"),
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, types.Errorf(types.ErrValidation, "invalid limit %q", raw)
		}
		filter.Limit = limit
	}

	switch filter.State {
	case "", string(types.RunCompleted), string(types.RunHalted), string(types.RunFailed):
	default:
		return filter, types.Errorf(types.ErrValidation, "invalid state %q", filter.State)
	}
	return filter, nil
}

func toRunRecord(run *records.Run) api.RunRecord {
	return api.RunRecord{
		RunID:          run.RunID,
		AgentID:        run.AgentID,
		WorkflowID:     run.WorkflowID,
		UserID:         run.UserID,
		State:          run.State,
		Steps:          run.Steps,
		Retries:        run.Retries,
		ResponseCount:  run.ResponseCount,
		FailureCode:    run.FailureCode,
		FailureMessage: run.FailureMessage,
		StartedAt:      run.StartedAt,
		EndedAt:        run.EndedAt,
		DurationMS:     run.DurationMS,
	}
}

func toNodeRecord(exec *records.NodeExecution) api.NodeRecord {
	return api.NodeRecord{
		NodeID:     exec.NodeID,
		NodeType:   exec.NodeType,
		Attempts:   exec.Attempts,
		Retries:    exec.Retries,
		Outcome:    exec.Outcome,
		Error:      exec.Error,
		ErrorCode:  exec.ErrorCode,
		Output:     exec.Output,
		StartedAt:  exec.StartedAt,
		EndedAt:    exec.EndedAt,
		DurationMS: exec.DurationMS,
	}
}

// extractRunID reads the {id} path value, with a prefix trim fallback
// for muxes registered without patterns.
func extractRunID(r *http.Request) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if idx := strings.Index(path, "/"); idx >= 0 {
		path = path[:idx]
	}
	return path
}
