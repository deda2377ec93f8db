package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// tokenPattern matches $name and $name.path.segments references.
var tokenPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)`)

// Context is the per-run variable store threaded between nodes. It is
// not safe for concurrent use; a run executes nodes strictly in
// sequence, so no locking is needed.
type Context struct {
	values map[string]any
}

// NewContext creates a context seeded with the initial bindings.
// The initial map is copied, not retained.
func NewContext(initial map[string]any) *Context {
	c := &Context{values: make(map[string]any, len(initial)+4)}
	for k, v := range initial {
		c.values[k] = v
	}
	return c
}

// Get returns a top-level variable.
func (c *Context) Get(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Set stores a variable, replacing any previous value.
func (c *Context) Set(name string, value any) {
	c.values[name] = value
}

// Len returns the number of top-level variables.
func (c *Context) Len() int { return len(c.values) }

// Snapshot returns a deep copy of all variables, safe to retain after
// the run mutates the context further.
func (c *Context) Snapshot() map[string]any {
	return deepCopyMap(c.values)
}

// Resolve follows a dotted path ("name.seg1.seg2") into the context.
// Maps resolve by key; slices resolve by scanning for the first element
// map that carries the key, matching dotted-field access semantics
// rather than numeric indexing.
func (c *Context) Resolve(path string) (any, bool) {
	segments := strings.Split(path, ".")
	current, ok := c.values[segments[0]]
	if !ok {
		return nil, false
	}
	for _, seg := range segments[1:] {
		current, ok = descend(current, seg)
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func descend(v any, key string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		out, ok := t[key]
		return out, ok
	case []any:
		for _, elem := range t {
			if m, ok := elem.(map[string]any); ok {
				if out, ok := m[key]; ok {
					return out, true
				}
			}
		}
	}
	return nil, false
}

// Substitute produces a deep copy of value with every $token replaced by
// its context value. Unresolved tokens stay as literal text so partial
// data remains visible to the next node. A string that is exactly one
// token takes the resolved value's native type; a token embedded in a
// larger string always renders as text.
func (c *Context) Substitute(value any) any {
	switch t := value.(type) {
	case string:
		return c.substituteString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = c.Substitute(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = c.Substitute(v)
		}
		return out
	default:
		return deepCopyValue(value)
	}
}

// SubstituteString renders value through Substitute and flattens the
// result to a string, serializing structured values as compact JSON.
func (c *Context) SubstituteString(value string) string {
	return renderValue(c.Substitute(value))
}

func (c *Context) substituteString(s string) any {
	loc := tokenPattern.FindStringIndex(s)
	if loc == nil {
		return s
	}
	// Whole-string single token keeps the native type.
	if loc[0] == 0 && loc[1] == len(s) {
		if v, ok := c.Resolve(s[1:]); ok {
			return deepCopyValue(v)
		}
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		if v, ok := c.Resolve(token[1:]); ok {
			return renderValue(v)
		}
		return token
	})
}

// HasUnresolvedToken reports whether s still carries $token syntax.
func HasUnresolvedToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// renderValue flattens a value for embedding into a string. Strings
// pass through; everything else serializes as compact JSON, so objects
// written by a data_store node read back identically in a message.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}
