package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/api"
	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/types"
)

// =============================================================================
// Run Handler
// =============================================================================

// Runner starts workflow runs. *agentrun.App satisfies it.
type Runner interface {
	Run(ctx context.Context, agentID, workflowID string, initial map[string]any, opts ...engine.RunOption) (*types.RunResult, error)
	HandleMessage(ctx context.Context, agentID, userID, message string, opts ...engine.RunOption) (*types.RunResult, error)
}

// RunHandler serves run starts and inbound messages.
type RunHandler struct {
	runner Runner
	logger *zap.Logger
}

// NewRunHandler creates the run handler.
func NewRunHandler(runner Runner, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		runner: runner,
		logger: logger.With(zap.String("component", "run_handler")),
	}
}

// HandleStart executes one workflow run synchronously.
// @Summary Start run
// @Description Execute a workflow and return its result
// @Tags runs
// @Accept json
// @Produce json
// @Param request body api.RunRequest true "Run request"
// @Success 200 {object} Response{data=types.RunResult} "Run result"
// @Failure 400 {object} Response "Invalid request"
// @Failure 404 {object} Response "Unknown agent or workflow"
// @Router /api/v1/runs [post]
func (h *RunHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req api.RunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.AgentID == "" || req.WorkflowID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"agent_id and workflow_id are required", h.logger)
		return
	}

	start := time.Now()
	result, err := h.runner.Run(r.Context(), req.AgentID, req.WorkflowID, req.Initial)
	h.writeRunOutcome(w, result, err, time.Since(start))
}

// HandleMessage routes one user message through an agent.
// @Summary Send message
// @Description Route a user message through the agent's trigger-matched workflow
// @Tags runs
// @Accept json
// @Produce json
// @Param request body api.MessageRequest true "Message request"
// @Success 200 {object} Response{data=types.RunResult} "Run result"
// @Failure 400 {object} Response "Invalid request"
// @Failure 404 {object} Response "Unknown agent"
// @Router /api/v1/messages [post]
func (h *RunHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req api.MessageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.AgentID == "" || req.UserID == "" || req.Message == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"agent_id, user_id and message are required", h.logger)
		return
	}

	start := time.Now()
	result, err := h.runner.HandleMessage(r.Context(), req.AgentID, req.UserID, req.Message)
	h.writeRunOutcome(w, result, err, time.Since(start))
}

// writeRunOutcome maps run errors onto status codes: unknown ids are
// 404, run failures still return the result body with 200 because the
// failure detail lives in the RunResult itself.
func (h *RunHandler) writeRunOutcome(w http.ResponseWriter, result *types.RunResult, err error, elapsed time.Duration) {
	if err != nil {
		var appErr *types.Error
		if errors.As(err, &appErr) && appErr.Code == types.ErrNotFound {
			WriteError(w, appErr, h.logger)
			return
		}
		if result == nil {
			WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternal,
				"run execution failed", h.logger)
			return
		}
	}

	h.logger.Info("run served",
		zap.String("run_id", result.RunID),
		zap.String("agent_id", result.AgentID),
		zap.String("state", string(result.State)),
		zap.Int("steps", result.Steps),
		zap.Duration("elapsed", elapsed))
	WriteSuccess(w, result)
}
