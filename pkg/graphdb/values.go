package graphdb

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Record accessors. Missing keys and mismatched types yield zero values,
// matching how optional properties come back from Cypher.

func String(r *neo4j.Record, key string) string {
	v, _ := get(r, key)
	return AsString(v)
}

func Int(r *neo4j.Record, key string) int64 {
	v, _ := get(r, key)
	return AsInt(v)
}

func Float(r *neo4j.Record, key string) float64 {
	v, _ := get(r, key)
	return AsFloat(v)
}

func Bool(r *neo4j.Record, key string) bool {
	v, _ := get(r, key)
	b, _ := v.(bool)
	return b
}

func Value(r *neo4j.Record, key string) any {
	v, _ := get(r, key)
	return v
}

func Strings(r *neo4j.Record, key string) []string {
	v, _ := get(r, key)
	return AsStrings(v)
}

func Map(r *neo4j.Record, key string) map[string]any {
	v, _ := get(r, key)
	return AsMap(v)
}

func Maps(r *neo4j.Record, key string) []map[string]any {
	v, _ := get(r, key)
	return AsMaps(v)
}

func Vector(r *neo4j.Record, key string) []float32 {
	v, _ := get(r, key)
	return AsVector(v)
}

// NodeValue unwraps a node returned by the driver, by value or pointer.
func NodeValue(v any) (neo4j.Node, bool) {
	switch n := v.(type) {
	case neo4j.Node:
		return n, true
	case *neo4j.Node:
		if n == nil {
			return neo4j.Node{}, false
		}
		return *n, true
	default:
		return neo4j.Node{}, false
	}
}

func RelationshipValue(v any) (neo4j.Relationship, bool) {
	switch r := v.(type) {
	case neo4j.Relationship:
		return r, true
	case *neo4j.Relationship:
		if r == nil {
			return neo4j.Relationship{}, false
		}
		return *r, true
	default:
		return neo4j.Relationship{}, false
	}
}

func get(r *neo4j.Record, key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	return r.Get(key)
}

func AsString(v any) string {
	s, _ := v.(string)
	return s
}

func AsInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func AsFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func AsStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func AsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func AsMaps(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// AsVector converts a stored list property into an embedding. It returns nil
// when v is not a numeric list.
func AsVector(v any) []float32 {
	switch list := v.(type) {
	case []float32:
		return list
	case []float64:
		out := make([]float32, len(list))
		for i, f := range list {
			out[i] = float32(f)
		}
		return out
	case []any:
		if len(list) == 0 {
			return nil
		}
		out := make([]float32, 0, len(list))
		for _, item := range list {
			switch f := item.(type) {
			case float64:
				out = append(out, float32(f))
			case float32:
				out = append(out, f)
			case int64:
				out = append(out, float32(f))
			default:
				return nil
			}
		}
		return out
	default:
		return nil
	}
}

// Plain rewrites driver temporal values as ISO-8601 strings, recursively
// through lists and maps, so results can be JSON encoded as-is.
func Plain(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case neo4j.Date:
		return t.Time().Format(time.DateOnly)
	case neo4j.LocalDateTime:
		return t.Time().Format("2006-01-02T15:04:05.999999999")
	case neo4j.LocalTime:
		return t.Time().Format("15:04:05.999999999")
	case neo4j.Time:
		return t.Time().Format("15:04:05.999999999Z07:00")
	case neo4j.Duration:
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Plain(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Plain(item)
		}
		return out
	default:
		return v
	}
}
