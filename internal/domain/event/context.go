package event

import (
	"fmt"
	"strings"
)

// Context is the open key/value payload carried by an event.
type Context map[string]any

// Has reports whether key is present with a non-nil value.
func (c Context) Has(key string) bool {
	v, ok := c[key]
	return ok && v != nil
}

// String returns the value at key as a string, or "" when absent.
func (c Context) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Lookup resolves a dotted path such as "selected.color" through nested maps.
// A nil value counts as absent.
func (c Context) Lookup(path string) (any, bool) {
	var cur any = map[string]any(c)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a deep copy of the context.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	return Context(CloneValue(map[string]any(c)).(map[string]any))
}

// CloneValue deep-copies maps and slices so the result shares no mutable
// state with v. Scalars are returned as-is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case Context:
		return CloneValue(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CloneValue(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Context:
		return map[string]any(t), true
	}
	return nil, false
}
