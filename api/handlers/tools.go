package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/api"
	"github.com/tulparlabs/agentrun/tools/openapi"
	"github.com/tulparlabs/agentrun/types"
)

// =============================================================================
// Tool Import Handler
// =============================================================================

// ToolImportHandler converts OpenAPI documents into tool specs for the
// agent editor. It never registers anything; the caller pastes the
// generated specs into an agent definition.
type ToolImportHandler struct {
	importer *openapi.Importer
	logger   *zap.Logger
}

// NewToolImportHandler creates the tool import handler.
func NewToolImportHandler(importer *openapi.Importer, logger *zap.Logger) *ToolImportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolImportHandler{
		importer: importer,
		logger:   logger.With(zap.String("component", "tool_import_handler")),
	}
}

// HandleImport converts one OpenAPI document into api tool specs.
// @Summary Import OpenAPI tools
// @Description Convert an OpenAPI 3.x document into api tool specs
// @Tags tools
// @Accept json
// @Produce json
// @Param request body api.ToolImportRequest true "Import request"
// @Success 200 {object} Response{data=api.ToolImportResponse} "Generated tool specs"
// @Failure 400 {object} Response "Invalid request or document"
// @Failure 502 {object} Response "Document fetch failed"
// @Router /api/v1/tools/openapi [post]
func (h *ToolImportHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ToolImportRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if (req.SourceURL == "") == (req.Document == "") {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"exactly one of source_url and document must be set", h.logger)
		return
	}

	var doc *openapi.Document
	var err error
	if req.SourceURL != "" {
		doc, err = h.importer.Load(r.Context(), req.SourceURL)
	} else {
		doc, err = openapi.Parse([]byte(req.Document))
	}
	if err != nil {
		h.writeImportError(w, err)
		return
	}

	specs := h.importer.Tools(doc, openapi.Options{
		BaseURL:     req.BaseURL,
		IncludeTags: req.IncludeTags,
		ExcludeTags: req.ExcludeTags,
		Prefix:      req.Prefix,
	})

	h.logger.Info("openapi import served",
		zap.String("title", doc.Info.Title),
		zap.Int("tools", len(specs)))
	WriteSuccess(w, api.ToolImportResponse{
		Title:   doc.Info.Title,
		Version: doc.Info.Version,
		Tools:   specs,
		Count:   len(specs),
	})
}

func (h *ToolImportHandler) writeImportError(w http.ResponseWriter, err error) {
	var appErr *types.Error
	if errors.As(err, &appErr) {
		WriteError(w, appErr, h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "openapi import failed", h.logger)
}
