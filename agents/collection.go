package agents

import (
	"context"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/store"
	"github.com/tulparlabs/agentrun/types"
)

// EnsureCollection provisions the agent's private collection: the
// dataSchema becomes a $jsonSchema validator (refreshed when the
// collection already exists) and the user scoping field gets an index
// so per-user reads stay cheap as the collection grows.
func EnsureCollection(ctx context.Context, docs store.DocumentStore, def *types.AgentDefinition, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := def.DataSchema.CollectionName
	if name == "" {
		return types.NewError(types.ErrValidation, "dataSchema.collectionName is empty")
	}

	created, err := docs.EnsureCollection(ctx, name, def.DataSchema.Schema)
	if err != nil {
		return types.NewError(types.ErrStore, "ensure collection "+name).WithCause(err)
	}
	if err := docs.EnsureIndex(ctx, name, store.UserField); err != nil {
		return types.NewError(types.ErrStore, "ensure index on "+name).WithCause(err)
	}

	logger.Info("agent collection ready",
		zap.String("agent_id", def.AgentID),
		zap.String("collection", name),
		zap.Bool("created", created))
	return nil
}
