package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/api"
	"github.com/tulparlabs/agentrun/internal/ctxkeys"
	"github.com/tulparlabs/agentrun/types"
)

// =============================================================================
// Agent Definition Handler
// =============================================================================

// AgentStore is the slice of the definition store the handler needs.
// *agents.FileStore satisfies it.
type AgentStore interface {
	List(owner string) []*types.AgentDefinition
	Get(agentID string) (*types.AgentDefinition, bool)
	Save(def *types.AgentDefinition) error
	Delete(agentID string) error
}

// AgentHandler serves agent definition CRUD. Definitions are validated
// by the store on save, so a broken workflow never reaches disk.
type AgentHandler struct {
	store    AgentStore
	onChange func(agentID string, def *types.AgentDefinition)
	logger   *zap.Logger
}

// AgentHandlerOption configures an AgentHandler.
type AgentHandlerOption func(*AgentHandler)

// WithAgentChangeHook registers a callback invoked after every
// successful save or delete. The serve command uses it to refresh cron
// schedules without waiting for the file watcher. A nil def means the
// agent was deleted.
func WithAgentChangeHook(hook func(agentID string, def *types.AgentDefinition)) AgentHandlerOption {
	return func(h *AgentHandler) { h.onChange = hook }
}

// NewAgentHandler creates the agent definition handler.
func NewAgentHandler(store AgentStore, logger *zap.Logger, opts ...AgentHandlerOption) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &AgentHandler{
		store:  store,
		logger: logger.With(zap.String("component", "agent_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// HandleList lists agent definitions.
// @Summary List agents
// @Description List agent definitions, optionally filtered by owner
// @Tags agents
// @Produce json
// @Param owner query string false "Owner filter"
// @Success 200 {object} Response{data=api.AgentListResponse} "Agent list"
// @Router /api/v1/agents [get]
func (h *AgentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	defs := h.store.List(r.URL.Query().Get("owner"))

	summaries := make([]api.AgentSummary, 0, len(defs))
	for _, def := range defs {
		summaries = append(summaries, toAgentSummary(def))
	}

	WriteSuccess(w, api.AgentListResponse{Agents: summaries, Count: len(summaries)})
}

// HandleGet returns one full agent definition.
// @Summary Get agent
// @Description Get one agent definition by id
// @Tags agents
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} Response{data=types.AgentDefinition} "Agent definition"
// @Failure 404 {object} Response "Unknown agent"
// @Router /api/v1/agents/{id} [get]
func (h *AgentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	agentID := extractAgentID(r)
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "agent id is required", h.logger)
		return
	}

	def, ok := h.store.Get(agentID)
	if !ok {
		WriteError(w, types.Errorf(types.ErrNotFound, "unknown agent %q", agentID), h.logger)
		return
	}
	WriteSuccess(w, def)
}

// HandleCreate stores a new agent definition.
// @Summary Create agent
// @Description Validate and store a new agent definition
// @Tags agents
// @Accept json
// @Produce json
// @Param request body types.AgentDefinition true "Agent definition"
// @Success 200 {object} Response{data=types.AgentDefinition} "Stored definition"
// @Failure 400 {object} Response "Invalid definition"
// @Failure 409 {object} Response "Agent id already taken"
// @Router /api/v1/agents [post]
func (h *AgentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var def types.AgentDefinition
	if err := DecodeJSONBody(w, r, &def, h.logger); err != nil {
		return
	}
	if _, exists := h.store.Get(def.AgentID); exists {
		WriteErrorMessage(w, http.StatusConflict, types.ErrValidation,
			"agent id is already taken, update it with PUT", h.logger)
		return
	}

	h.save(w, r, &def)
}

// HandleUpdate replaces an existing agent definition.
// @Summary Update agent
// @Description Validate and replace an agent definition
// @Tags agents
// @Accept json
// @Produce json
// @Param id path string true "Agent ID"
// @Param request body types.AgentDefinition true "Agent definition"
// @Success 200 {object} Response{data=types.AgentDefinition} "Stored definition"
// @Failure 400 {object} Response "Invalid definition"
// @Failure 404 {object} Response "Unknown agent"
// @Router /api/v1/agents/{id} [put]
func (h *AgentHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	agentID := extractAgentID(r)
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "agent id is required", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var def types.AgentDefinition
	if err := DecodeJSONBody(w, r, &def, h.logger); err != nil {
		return
	}
	if def.AgentID == "" {
		def.AgentID = agentID
	}
	if def.AgentID != agentID {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"agentId in the body does not match the path", h.logger)
		return
	}
	if _, exists := h.store.Get(agentID); !exists {
		WriteError(w, types.Errorf(types.ErrNotFound, "unknown agent %q", agentID), h.logger)
		return
	}

	h.save(w, r, &def)
}

// HandleDelete removes an agent definition.
// @Summary Delete agent
// @Description Delete an agent definition and its schedules
// @Tags agents
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} Response "Deleted"
// @Failure 404 {object} Response "Unknown agent"
// @Router /api/v1/agents/{id} [delete]
func (h *AgentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	agentID := extractAgentID(r)
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "agent id is required", h.logger)
		return
	}

	if err := h.store.Delete(agentID); err != nil {
		h.writeStoreError(w, err)
		return
	}
	if h.onChange != nil {
		h.onChange(agentID, nil)
	}

	h.logger.Info("agent deleted via api", mutationFields(r, zap.String("agent_id", agentID))...)
	WriteSuccess(w, map[string]string{"agent_id": agentID, "status": "deleted"})
}

func (h *AgentHandler) save(w http.ResponseWriter, r *http.Request, def *types.AgentDefinition) {
	if err := h.store.Save(def); err != nil {
		h.writeStoreError(w, err)
		return
	}
	if h.onChange != nil {
		h.onChange(def.AgentID, def)
	}

	h.logger.Info("agent saved via api", mutationFields(r,
		zap.String("agent_id", def.AgentID),
		zap.String("owner", def.Owner),
		zap.Int("workflows", len(def.Workflows)))...)
	WriteSuccess(w, def)
}

// mutationFields appends the authenticated caller, when the auth
// middleware stamped one, so mutations are attributable in the logs.
func mutationFields(r *http.Request, fields ...zap.Field) []zap.Field {
	if caller, ok := ctxkeys.Caller(r.Context()); ok {
		fields = append(fields, zap.String("caller", caller))
	}
	return fields
}

func (h *AgentHandler) writeStoreError(w http.ResponseWriter, err error) {
	var appErr *types.Error
	if errors.As(err, &appErr) {
		WriteError(w, appErr, h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrStore, "agent store operation failed", h.logger)
}

func toAgentSummary(def *types.AgentDefinition) api.AgentSummary {
	return api.AgentSummary{
		AgentID:   def.AgentID,
		Owner:     def.Owner,
		AgentName: def.AgentName,
		Version:   def.Version,
		Tools:     len(def.Tools),
		Workflows: len(def.Workflows),
		Schedules: len(def.Schedules),
	}
}

// extractAgentID reads the {id} path value, with a prefix trim fallback
// for muxes registered without patterns.
func extractAgentID(r *http.Request) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/")
	if idx := strings.Index(path, "/"); idx >= 0 {
		path = path[:idx]
	}
	return path
}
