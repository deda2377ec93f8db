package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/types"
)

// UserField is the document field every scoped operation stamps and
// filters on. It matches the engine's reserved user_id context binding
// so workflows can also query it explicitly.
const UserField = "user_id"

const defaultFindLimit = 10

// Operations dispatches named document operations with user scoping,
// timestamp stamping, and the result shapes workflow nodes consume.
// It serves both seams: the engine's data_store nodes (DataStore) and
// the database tool handler (DocumentOps).
type Operations struct {
	store  DocumentStore
	logger *zap.Logger
}

var _ engine.DataStore = (*Operations)(nil)

// NewOperations wraps a backend.
func NewOperations(store DocumentStore, logger *zap.Logger) *Operations {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Operations{
		store:  store,
		logger: logger.With(zap.String("component", "store_ops")),
	}
}

// Execute runs a data_store node operation.
func (o *Operations) Execute(ctx context.Context, op *engine.DataOp) (map[string]any, error) {
	return o.Apply(ctx, op.Collection, op.UserID, op.Action, op.Payload)
}

// Apply runs one named operation against a collection on behalf of
// userID. An empty userID skips scoping; that path is reserved for
// operator tooling, every engine and tool call carries a user.
func (o *Operations) Apply(ctx context.Context, collection, userID, operation string, params map[string]any) (map[string]any, error) {
	o.logger.Debug("database operation",
		zap.String("collection", collection),
		zap.String("operation", operation),
		zap.String("user_id", userID))

	switch operation {
	case "create_collection":
		return o.createCollection(ctx, collection, params)
	case "insert_document":
		return o.insertDocument(ctx, collection, userID, params)
	case "find_documents":
		return o.findDocuments(ctx, collection, userID, params)
	case "update_document":
		return o.updateDocument(ctx, collection, userID, params)
	case "delete_document":
		return o.deleteDocument(ctx, collection, userID, params)
	case "aggregate":
		return o.aggregate(ctx, collection, userID, params)
	case "count_documents":
		return o.countDocuments(ctx, collection, userID, params)
	case "get_collection_stats":
		return o.collectionStats(ctx, collection, userID)
	default:
		return nil, types.Errorf(types.ErrToolUnsupportedOp, "unknown database operation %q", operation)
	}
}

func (o *Operations) createCollection(ctx context.Context, collection string, params map[string]any) (map[string]any, error) {
	schema, _ := params["schema"].(map[string]any)
	created, err := o.store.EnsureCollection(ctx, collection, schema)
	if err != nil {
		return nil, err
	}
	if !created {
		return map[string]any{
			"success": true,
			"message": "Collection " + collection + " already exists",
		}, nil
	}
	return map[string]any{
		"success": true,
		"message": "Collection " + collection + " created successfully",
	}, nil
}

func (o *Operations) insertDocument(ctx context.Context, collection, userID string, params map[string]any) (map[string]any, error) {
	document, ok := params["document"].(map[string]any)
	if !ok {
		return nil, types.NewError(types.ErrValidation, "insert_document needs a document parameter")
	}

	doc := cloneDoc(document)
	if _, ok := doc["created_at"]; !ok {
		doc["created_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	if userID != "" {
		doc[UserField] = userID
	}

	id, err := o.store.Insert(ctx, collection, doc)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":     true,
		"inserted_id": id,
		"message":     "Document inserted successfully",
	}, nil
}

func (o *Operations) findDocuments(ctx context.Context, collection, userID string, params map[string]any) (map[string]any, error) {
	query := scopedFilter(mapParam(params, "query"), userID)
	sortBy, err := parseSort(params["sort"])
	if err != nil {
		return nil, err
	}
	limit := int64(intParam(params, "limit", defaultFindLimit))
	if limit < 0 {
		limit = defaultFindLimit
	}

	docs, err := o.store.Find(ctx, collection, query, sortBy, limit)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []map[string]any{}
	}
	return map[string]any{
		"success":   true,
		"documents": docs,
		"count":     len(docs),
	}, nil
}

func (o *Operations) updateDocument(ctx context.Context, collection, userID string, params map[string]any) (map[string]any, error) {
	query, ok := params["query"].(map[string]any)
	if !ok {
		return nil, types.NewError(types.ErrValidation, "update_document needs a query parameter")
	}
	update, ok := params["update"].(map[string]any)
	if !ok {
		return nil, types.NewError(types.ErrValidation, "update_document needs an update parameter")
	}

	matched, modified, err := o.store.Update(ctx, collection, scopedFilter(query, userID), stampedUpdate(update))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":        true,
		"matched_count":  matched,
		"modified_count": modified,
		"message":        "Document updated successfully",
	}, nil
}

func (o *Operations) deleteDocument(ctx context.Context, collection, userID string, params map[string]any) (map[string]any, error) {
	query, ok := params["query"].(map[string]any)
	if !ok {
		return nil, types.NewError(types.ErrValidation, "delete_document needs a query parameter")
	}

	deleted, err := o.store.Delete(ctx, collection, scopedFilter(query, userID))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":       true,
		"deleted_count": deleted,
		"message":       "Document deleted successfully",
	}, nil
}

func (o *Operations) aggregate(ctx context.Context, collection, userID string, params map[string]any) (map[string]any, error) {
	rawPipeline, ok := params["pipeline"].([]any)
	if !ok {
		return nil, types.NewError(types.ErrValidation, "aggregate needs a pipeline parameter")
	}
	pipeline := make([]map[string]any, 0, len(rawPipeline)+1)
	if userID != "" {
		pipeline = append(pipeline, map[string]any{"$match": map[string]any{UserField: userID}})
	}
	for i, rawStage := range rawPipeline {
		stage, ok := rawStage.(map[string]any)
		if !ok {
			return nil, types.Errorf(types.ErrValidation, "pipeline stage %d is not a document", i)
		}
		pipeline = append(pipeline, stage)
	}

	results, err := o.store.Aggregate(ctx, collection, pipeline)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []map[string]any{}
	}
	return map[string]any{
		"success": true,
		"results": results,
		"count":   len(results),
	}, nil
}

func (o *Operations) countDocuments(ctx context.Context, collection, userID string, params map[string]any) (map[string]any, error) {
	count, err := o.store.Count(ctx, collection, scopedFilter(mapParam(params, "query"), userID))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"count":   count,
	}, nil
}

// collectionStats mixes scoped and physical numbers: document_count and
// sample_document see only the caller's documents, size numbers are
// collection-wide.
func (o *Operations) collectionStats(ctx context.Context, collection, userID string) (map[string]any, error) {
	stats, err := o.store.Stats(ctx, collection)
	if err != nil {
		return nil, err
	}
	count, err := o.store.Count(ctx, collection, scopedFilter(nil, userID))
	if err != nil {
		return nil, err
	}
	sample, err := o.store.Find(ctx, collection, scopedFilter(nil, userID), nil, 1)
	if err != nil {
		return nil, err
	}

	var sampleDoc any
	if len(sample) > 0 {
		sampleDoc = sample[0]
	}
	return map[string]any{
		"success":         true,
		"collection_name": collection,
		"document_count":  count,
		"size":            stats.SizeBytes,
		"avg_obj_size":    stats.AvgObjSize,
		"sample_document": sampleDoc,
	}, nil
}

// scopedFilter merges the user scope into a query. The scope always
// wins over a caller-supplied user_id, so a workflow cannot read or
// write another user's documents.
func scopedFilter(query map[string]any, userID string) map[string]any {
	out := make(map[string]any, len(query)+1)
	for k, v := range query {
		out[k] = v
	}
	if userID != "" {
		out[UserField] = userID
	}
	return out
}

// stampedUpdate normalizes an update into operator form and stamps
// $set.updated_at.
func stampedUpdate(update map[string]any) map[string]any {
	out := make(map[string]any, len(update)+1)
	plain := map[string]any{}
	for k, v := range update {
		if len(k) > 0 && k[0] == '$' {
			out[k] = v
		} else {
			plain[k] = v
		}
	}
	set, _ := out["$set"].(map[string]any)
	if set == nil {
		set = map[string]any{}
	} else {
		set = cloneDoc(set)
	}
	for k, v := range plain {
		set[k] = v
	}
	set["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	out["$set"] = set
	return out
}

func mapParam(params map[string]any, key string) map[string]any {
	if v, ok := params[key].(map[string]any); ok {
		return v
	}
	return nil
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// parseSort accepts either a {"field": 1|-1} document or an ordered
// [["field", 1|-1], ...] pair list.
func parseSort(raw any) ([]SortField, error) {
	switch spec := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(spec) == 0 {
			return nil, nil
		}
		fields, err := sortFieldsFromSpec(spec)
		if err != nil {
			return nil, types.NewError(types.ErrValidation, "invalid sort specification").WithCause(err)
		}
		return fields, nil
	case []any:
		fields := make([]SortField, 0, len(spec))
		for _, rawPair := range spec {
			pair, ok := rawPair.([]any)
			if !ok || len(pair) != 2 {
				return nil, types.NewError(types.ErrValidation, "sort pairs must be [field, direction]")
			}
			name, ok := pair[0].(string)
			if !ok {
				return nil, types.NewError(types.ErrValidation, "sort field name must be a string")
			}
			dir, ok := toFloat(pair[1])
			if !ok || (dir != 1 && dir != -1) {
				return nil, types.Errorf(types.ErrValidation, "sort direction for %s must be 1 or -1", name)
			}
			fields = append(fields, SortField{Field: name, Desc: dir < 0})
		}
		return fields, nil
	default:
		return nil, types.NewError(types.ErrValidation, "sort must be a document or a pair list")
	}
}
