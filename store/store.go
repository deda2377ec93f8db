package store

import (
	"context"
)

// SortField orders find results by one document field.
type SortField struct {
	Field string
	Desc  bool
}

// CollectionStats is the physical size summary of one collection.
// Document counts and samples are read through Find/Count so they stay
// user-scoped; size numbers are collection-wide.
type CollectionStats struct {
	SizeBytes  int64
	AvgObjSize int64
}

// DocumentStore is the backend seam under Operations. Backends move
// documents verbatim: user scoping, timestamp stamping, and result
// shaping all happen one layer up, so Mongo and Memory stay
// interchangeable in tests.
//
// Updates arrive in operator form ($set, $unset, $inc, ...); plain
// replacement documents are wrapped before they reach a backend.
type DocumentStore interface {
	// EnsureCollection creates the collection if it does not exist,
	// attaching a $jsonSchema validator when schema is non-nil. An
	// existing collection gets its validator refreshed instead.
	// Reports whether a collection was actually created.
	EnsureCollection(ctx context.Context, name string, schema map[string]any) (bool, error)

	// EnsureIndex creates a single-field ascending index.
	EnsureIndex(ctx context.Context, collection, field string) error

	// Insert stores one document and returns its id as a string.
	Insert(ctx context.Context, collection string, doc map[string]any) (string, error)

	// Find returns documents matching filter in sort order. A limit of
	// zero means no limit. Document ids come back as strings.
	Find(ctx context.Context, collection string, filter map[string]any, sort []SortField, limit int64) ([]map[string]any, error)

	// Update applies an operator-form update to the first document
	// matching filter and reports matched and modified counts.
	Update(ctx context.Context, collection string, filter, update map[string]any) (matched, modified int64, err error)

	// Delete removes the first document matching filter.
	Delete(ctx context.Context, collection string, filter map[string]any) (int64, error)

	// Aggregate runs a pipeline and returns its result documents.
	Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]map[string]any, error)

	// Count returns the number of documents matching filter.
	Count(ctx context.Context, collection string, filter map[string]any) (int64, error)

	// Stats returns the collection's physical size summary.
	Stats(ctx context.Context, collection string) (*CollectionStats, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}
