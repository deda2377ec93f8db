package tools

import (
	"context"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/types"
)

// DocumentOps runs a named document operation against a collection on
// behalf of one user. store.Operations satisfies it.
type DocumentOps interface {
	Apply(ctx context.Context, collection, userID, operation string, params map[string]any) (map[string]any, error)
}

// DatabaseHandler executes "database" tools by delegating to the
// document store. It only resolves the collection and operation; data
// semantics live in the store layer.
type DatabaseHandler struct {
	ops    DocumentOps
	logger *zap.Logger
}

// NewDatabaseHandler creates the database tool handler.
func NewDatabaseHandler(ops DocumentOps, logger *zap.Logger) *DatabaseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatabaseHandler{
		ops:    ops,
		logger: logger.With(zap.String("component", "database_tool")),
	}
}

func (h *DatabaseHandler) Execute(ctx context.Context, call *engine.ToolRequest) (map[string]any, error) {
	if h.ops == nil {
		return nil, types.Errorf(types.ErrConfig, "database tool %s has no store configured", call.Spec.ToolID)
	}

	operation := paramString(call.Params, "operation")
	if operation == "" {
		operation = call.Spec.ConfigString("operation")
	}
	if operation == "" {
		return nil, types.Errorf(types.ErrValidation, "database tool %s called without operation", call.Spec.ToolID)
	}

	collection := paramString(call.Params, "collection")
	if collection == "" {
		collection = call.Spec.ConfigString("collection")
	}
	if collection == "" && call.Agent != nil {
		collection = call.Agent.DataSchema.CollectionName
	}
	if collection == "" {
		return nil, types.Errorf(types.ErrValidation, "database tool %s has no collection to target", call.Spec.ToolID)
	}

	h.logger.Debug("database operation",
		zap.String("tool_id", call.Spec.ToolID),
		zap.String("operation", operation),
		zap.String("collection", collection))

	return h.ops.Apply(ctx, collection, call.UserID, operation, call.Params)
}
