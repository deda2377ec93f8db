package store

import (
	"context"
	"encoding/json"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/types"
)

// Memory is an in-process DocumentStore for tests and single-binary
// runs. Documents are deep-copied on both write and read, so callers
// can never mutate stored state through a returned map.
type Memory struct {
	mu     sync.RWMutex
	colls  map[string][]map[string]any
	logger *zap.Logger
}

var _ DocumentStore = (*Memory)(nil)

// NewMemory creates an empty in-memory document store.
func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		colls:  make(map[string][]map[string]any),
		logger: logger.With(zap.String("component", "memory_store")),
	}
}

// EnsureCollection registers the collection name. The schema is
// accepted and ignored; $jsonSchema validation is a server feature.
func (m *Memory) EnsureCollection(ctx context.Context, name string, schema map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.colls[name]; ok {
		return false, nil
	}
	m.colls[name] = []map[string]any{}
	m.logger.Info("collection created", zap.String("collection", name))
	return true, nil
}

// EnsureIndex is a no-op; lookups scan.
func (m *Memory) EnsureIndex(ctx context.Context, collection, field string) error {
	return nil
}

func (m *Memory) Insert(ctx context.Context, collection string, doc map[string]any) (string, error) {
	stored := cloneDoc(doc)
	id, ok := stored["_id"].(string)
	if !ok || id == "" {
		id = uuid.NewString()
		stored["_id"] = id
	}

	m.mu.Lock()
	m.colls[collection] = append(m.colls[collection], stored)
	m.mu.Unlock()

	m.logger.Debug("document inserted",
		zap.String("collection", collection),
		zap.String("id", id))
	return id, nil
}

func (m *Memory) Find(ctx context.Context, collection string, filter map[string]any, sortBy []SortField, limit int64) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []map[string]any{}
	for _, doc := range m.colls[collection] {
		match, err := matchFilter(doc, filter)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, cloneDoc(doc))
		}
	}

	sortDocs(out, sortBy)
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Update(ctx context.Context, collection string, filter, update map[string]any) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range m.colls[collection] {
		match, err := matchFilter(doc, filter)
		if err != nil {
			return 0, 0, err
		}
		if !match {
			continue
		}
		changed, err := applyUpdate(doc, update)
		if err != nil {
			return 0, 0, err
		}
		if changed {
			return 1, 1, nil
		}
		return 1, 0, nil
	}
	return 0, 0, nil
}

func (m *Memory) Delete(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.colls[collection]
	for i, doc := range docs {
		match, err := matchFilter(doc, filter)
		if err != nil {
			return 0, err
		}
		if match {
			m.colls[collection] = append(docs[:i], docs[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (m *Memory) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, doc := range m.colls[collection] {
		match, err := matchFilter(doc, filter)
		if err != nil {
			return 0, err
		}
		if match {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]map[string]any, error) {
	m.mu.RLock()
	docs := make([]map[string]any, 0, len(m.colls[collection]))
	for _, doc := range m.colls[collection] {
		docs = append(docs, cloneDoc(doc))
	}
	m.mu.RUnlock()

	var err error
	for _, stage := range pipeline {
		docs, err = applyStage(docs, stage)
		if err != nil {
			return nil, err
		}
	}
	if docs == nil {
		docs = []map[string]any{}
	}
	return docs, nil
}

func (m *Memory) Stats(ctx context.Context, collection string) (*CollectionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs, ok := m.colls[collection]
	if !ok {
		return nil, types.Errorf(types.ErrStore, "collection %s does not exist", collection)
	}

	var size int64
	for _, doc := range docs {
		if raw, err := json.Marshal(doc); err == nil {
			size += int64(len(raw))
		}
	}
	stats := &CollectionStats{SizeBytes: size}
	if len(docs) > 0 {
		stats.AvgObjSize = size / int64(len(docs))
	}
	return stats, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close(ctx context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Filter matching
// ---------------------------------------------------------------------------

// matchFilter reports whether doc satisfies a query document. Filter
// values that are documents with $-prefixed keys are operator
// conditions; everything else matches by equality. A nil condition
// matches both null values and missing fields, as the server does.
func matchFilter(doc, filter map[string]any) (bool, error) {
	for key, cond := range filter {
		actual, exists := lookupPath(doc, key)

		if condDoc, ok := cond.(map[string]any); ok && hasOperator(condDoc) {
			match, err := matchOperators(actual, exists, condDoc)
			if err != nil || !match {
				return false, err
			}
			continue
		}

		if cond == nil {
			if exists && actual != nil {
				return false, nil
			}
			continue
		}
		if !exists || !equalValues(actual, cond) {
			return false, nil
		}
	}
	return true, nil
}

func hasOperator(doc map[string]any) bool {
	for k := range doc {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func matchOperators(actual any, exists bool, cond map[string]any) (bool, error) {
	for op, want := range cond {
		switch op {
		case "$eq":
			if !exists || !equalValues(actual, want) {
				return false, nil
			}
		case "$ne":
			if exists && equalValues(actual, want) {
				return false, nil
			}
		case "$gt", "$gte", "$lt", "$lte":
			cmp, ok := compareValues(actual, want)
			if !exists || !ok {
				return false, nil
			}
			hold := false
			switch op {
			case "$gt":
				hold = cmp > 0
			case "$gte":
				hold = cmp >= 0
			case "$lt":
				hold = cmp < 0
			case "$lte":
				hold = cmp <= 0
			}
			if !hold {
				return false, nil
			}
		case "$in":
			if !exists || !valueIn(actual, want) {
				return false, nil
			}
		case "$nin":
			if exists && valueIn(actual, want) {
				return false, nil
			}
		case "$exists":
			if truthy(want) != exists {
				return false, nil
			}
		case "$regex":
			pattern, ok := want.(string)
			if !ok {
				return false, types.Errorf(types.ErrStore, "$regex needs a string pattern")
			}
			if opts, ok := cond["$options"].(string); ok && strings.Contains(opts, "i") {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return false, types.Errorf(types.ErrStore, "invalid $regex pattern %q", pattern).WithCause(err)
			}
			s, ok := actual.(string)
			if !exists || !ok || !re.MatchString(s) {
				return false, nil
			}
		case "$options":
			// Consumed together with $regex.
		default:
			return false, types.Errorf(types.ErrStore, "unsupported query operator %q", op)
		}
	}
	return true, nil
}

func valueIn(actual, want any) bool {
	list, ok := want.([]any)
	if !ok {
		return false
	}
	for _, v := range list {
		if equalValues(actual, v) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Updates
// ---------------------------------------------------------------------------

// applyUpdate applies an operator-form update document in place and
// reports whether anything changed.
func applyUpdate(doc, update map[string]any) (bool, error) {
	changed := false
	for op, rawFields := range update {
		fields, ok := rawFields.(map[string]any)
		if !ok {
			return changed, types.Errorf(types.ErrStore, "update operator %s needs a document", op)
		}
		switch op {
		case "$set":
			for path, v := range fields {
				before, had := lookupPath(doc, path)
				setPath(doc, path, cloneValue(v))
				if !had || !equalValues(before, v) {
					changed = true
				}
			}
		case "$unset":
			for path := range fields {
				if _, had := lookupPath(doc, path); had {
					unsetPath(doc, path)
					changed = true
				}
			}
		case "$inc":
			for path, v := range fields {
				delta, ok := toFloat(v)
				if !ok {
					return changed, types.Errorf(types.ErrStore, "$inc value for %s is not numeric", path)
				}
				before, had := lookupPath(doc, path)
				current := 0.0
				if had {
					current, ok = toFloat(before)
					if !ok {
						return changed, types.Errorf(types.ErrStore, "$inc target %s is not numeric", path)
					}
				}
				setPath(doc, path, current+delta)
				if !had || delta != 0 {
					changed = true
				}
			}
		default:
			return changed, types.Errorf(types.ErrStore, "unsupported update operator %q", op)
		}
	}
	return changed, nil
}

// ---------------------------------------------------------------------------
// Aggregation pipeline
// ---------------------------------------------------------------------------

func applyStage(docs []map[string]any, stage map[string]any) ([]map[string]any, error) {
	if len(stage) != 1 {
		return nil, types.Errorf(types.ErrStore, "pipeline stage must have exactly one operator, got %d", len(stage))
	}

	for op, rawSpec := range stage {
		switch op {
		case "$match":
			spec, ok := rawSpec.(map[string]any)
			if !ok {
				return nil, types.Errorf(types.ErrStore, "$match needs a query document")
			}
			out := docs[:0:0]
			for _, doc := range docs {
				match, err := matchFilter(doc, spec)
				if err != nil {
					return nil, err
				}
				if match {
					out = append(out, doc)
				}
			}
			return out, nil

		case "$sort":
			spec, ok := rawSpec.(map[string]any)
			if !ok {
				return nil, types.Errorf(types.ErrStore, "$sort needs a document")
			}
			fields, err := sortFieldsFromSpec(spec)
			if err != nil {
				return nil, err
			}
			sortDocs(docs, fields)
			return docs, nil

		case "$skip":
			n, ok := toFloat(rawSpec)
			if !ok || n < 0 {
				return nil, types.Errorf(types.ErrStore, "$skip needs a non-negative number")
			}
			if int(n) >= len(docs) {
				return []map[string]any{}, nil
			}
			return docs[int(n):], nil

		case "$limit":
			n, ok := toFloat(rawSpec)
			if !ok || n < 0 {
				return nil, types.Errorf(types.ErrStore, "$limit needs a non-negative number")
			}
			if int(n) < len(docs) {
				return docs[:int(n)], nil
			}
			return docs, nil

		case "$count":
			name, ok := rawSpec.(string)
			if !ok || name == "" {
				return nil, types.Errorf(types.ErrStore, "$count needs a field name")
			}
			return []map[string]any{{name: len(docs)}}, nil

		case "$project":
			spec, ok := rawSpec.(map[string]any)
			if !ok {
				return nil, types.Errorf(types.ErrStore, "$project needs a document")
			}
			return projectDocs(docs, spec)

		case "$group":
			spec, ok := rawSpec.(map[string]any)
			if !ok {
				return nil, types.Errorf(types.ErrStore, "$group needs a document")
			}
			return groupDocs(docs, spec)

		default:
			return nil, types.Errorf(types.ErrStore, "unsupported pipeline stage %q", op)
		}
	}
	return docs, nil
}

// sortFieldsFromSpec converts a {"field": 1|-1} document. Go maps do
// not preserve key order, so multi-field sorts apply fields in name
// order.
func sortFieldsFromSpec(spec map[string]any) ([]SortField, error) {
	names := make([]string, 0, len(spec))
	for name := range spec {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]SortField, 0, len(names))
	for _, name := range names {
		dir, ok := toFloat(spec[name])
		if !ok || (dir != 1 && dir != -1) {
			return nil, types.Errorf(types.ErrStore, "sort direction for %s must be 1 or -1", name)
		}
		fields = append(fields, SortField{Field: name, Desc: dir < 0})
	}
	return fields, nil
}

func projectDocs(docs []map[string]any, spec map[string]any) ([]map[string]any, error) {
	include := false
	exclude := false
	for name, v := range spec {
		if name == "_id" {
			continue
		}
		if truthy(v) {
			include = true
		} else {
			exclude = true
		}
	}
	if include && exclude {
		return nil, types.Errorf(types.ErrStore, "$project cannot mix inclusion and exclusion")
	}

	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		if include {
			projected := map[string]any{}
			if id, ok := doc["_id"]; ok {
				projected["_id"] = id
			}
			for name, v := range spec {
				if name == "_id" {
					if !truthy(v) {
						delete(projected, "_id")
					}
					continue
				}
				if val, exists := lookupPath(doc, name); exists {
					projected[name] = val
				}
			}
			out = append(out, projected)
			continue
		}
		projected := cloneDoc(doc)
		for name, v := range spec {
			if !truthy(v) {
				delete(projected, name)
			}
		}
		out = append(out, projected)
	}
	return out, nil
}

type groupAcc struct {
	key    any
	sums   map[string]float64
	counts map[string]int64
	mins   map[string]any
	maxs   map[string]any
	firsts map[string]any
}

// groupDocs implements $group with the $sum, $avg, $min, $max, and
// $first accumulators. Groups keep first-seen order.
func groupDocs(docs []map[string]any, spec map[string]any) ([]map[string]any, error) {
	idExpr, ok := spec["_id"]
	if !ok {
		return nil, types.Errorf(types.ErrStore, "$group needs an _id expression")
	}

	order := []string{}
	groups := map[string]*groupAcc{}

	for _, doc := range docs {
		keyVal := evalExpr(doc, idExpr)
		key := canonicalKey(keyVal)
		acc, ok := groups[key]
		if !ok {
			acc = &groupAcc{
				key:    keyVal,
				sums:   map[string]float64{},
				counts: map[string]int64{},
				mins:   map[string]any{},
				maxs:   map[string]any{},
				firsts: map[string]any{},
			}
			groups[key] = acc
			order = append(order, key)
		}

		for field, rawAccum := range spec {
			if field == "_id" {
				continue
			}
			accum, ok := rawAccum.(map[string]any)
			if !ok || len(accum) != 1 {
				return nil, types.Errorf(types.ErrStore, "accumulator for %s must be a single-operator document", field)
			}
			for op, operand := range accum {
				val := evalExpr(doc, operand)
				switch op {
				case "$sum", "$avg":
					if n, ok := toFloat(val); ok {
						acc.sums[field+op] += n
						acc.counts[field+op]++
					}
				case "$min":
					cur, seen := acc.mins[field]
					if cmp, ok := compareValues(val, cur); !seen || (ok && cmp < 0) {
						acc.mins[field] = val
					}
				case "$max":
					cur, seen := acc.maxs[field]
					if cmp, ok := compareValues(val, cur); !seen || (ok && cmp > 0) {
						acc.maxs[field] = val
					}
				case "$first":
					if _, seen := acc.firsts[field]; !seen {
						acc.firsts[field] = val
					}
				default:
					return nil, types.Errorf(types.ErrStore, "unsupported accumulator %q", op)
				}
			}
		}
	}

	out := make([]map[string]any, 0, len(order))
	for _, key := range order {
		acc := groups[key]
		doc := map[string]any{"_id": acc.key}
		for field, rawAccum := range spec {
			if field == "_id" {
				continue
			}
			accum := rawAccum.(map[string]any)
			for op := range accum {
				switch op {
				case "$sum":
					doc[field] = acc.sums[field+op]
				case "$avg":
					if n := acc.counts[field+op]; n > 0 {
						doc[field] = acc.sums[field+op] / float64(n)
					} else {
						doc[field] = nil
					}
				case "$min":
					doc[field] = acc.mins[field]
				case "$max":
					doc[field] = acc.maxs[field]
				case "$first":
					doc[field] = acc.firsts[field]
				}
			}
		}
		out = append(out, doc)
	}
	return out, nil
}

// evalExpr resolves a $group operand: "$field" references read from
// the document, anything else is a literal.
func evalExpr(doc map[string]any, expr any) any {
	if ref, ok := expr.(string); ok && strings.HasPrefix(ref, "$") {
		val, _ := lookupPath(doc, ref[1:])
		return val
	}
	return cloneValue(expr)
}

func canonicalKey(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(raw)
}

// ---------------------------------------------------------------------------
// Value helpers
// ---------------------------------------------------------------------------

// lookupPath reads a possibly dotted field path.
func lookupPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = doc
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setPath writes a dotted field path, creating intermediate documents.
func setPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	node := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[part] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
}

func unsetPath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	node := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]any)
		if !ok {
			return
		}
		node = next
	}
	delete(node, parts[len(parts)-1])
}

func cloneDoc(doc map[string]any) map[string]any {
	return cloneValue(doc).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// equalValues compares with numeric normalization so an int filter
// matches a float64 document value and vice versa.
func equalValues(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values of the same family: numbers,
// strings, or booleans. Nil sorts lowest.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, true
		case a == nil:
			return -1, true
		default:
			return 1, true
		}
	}

	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}

	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}

	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		default:
			return 1, true
		}
	}

	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	default:
		if n, ok := toFloat(v); ok {
			return n != 0
		}
		return false
	}
}

// sortDocs stable-sorts in place. Values from different type families
// compare as equal, so mixed-type fields keep insertion order.
func sortDocs(docs []map[string]any, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			av, _ := lookupPath(docs[i], f.Field)
			bv, _ := lookupPath(docs[j], f.Field)
			cmp, ok := compareValues(av, bv)
			if !ok || cmp == 0 {
				continue
			}
			if f.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
