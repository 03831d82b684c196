// Package serialize converts graph values into JSON-safe structures
// for transport. The conversion is total: values that have no natural
// JSON form are rendered as strings rather than failing.
package serialize

import (
	"fmt"
	"time"

	"github.com/graphserve-ai/graphserve/graph"
)

// NonJSON recursively converts a value into a JSON-safe structure.
// Messages become tagged maps, maps and slices recurse, primitives
// pass through, timestamps become RFC 3339 strings, and everything
// else is rendered with fmt.
func NonJSON(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case graph.Message:
		return MessageDict(val)
	case *graph.Message:
		if val == nil {
			return nil
		}
		return MessageDict(*val)
	case []graph.Message:
		out := make([]any, len(val))
		for i, m := range val {
			out[i] = MessageDict(m)
		}
		return out
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NonJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NonJSON(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// MessageDict converts a message into its tagged map form.
func MessageDict(m graph.Message) map[string]any {
	out := map[string]any{
		"type":    string(m.Type),
		"content": m.Content,
	}
	if m.ID != "" {
		out["id"] = m.ID
	}
	if len(m.Metadata) > 0 {
		out["metadata"] = NonJSON(m.Metadata)
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]any, len(m.ToolCalls))
		for i, call := range m.ToolCalls {
			callMap := map[string]any{
				"id":   call.ID,
				"name": call.Name,
			}
			if len(call.Args) > 0 {
				callMap["args"] = NonJSON(call.Args)
			}
			calls[i] = callMap
		}
		out["tool_calls"] = calls
	}
	if m.ToolCallID != "" {
		out["tool_call_id"] = m.ToolCallID
	}
	return out
}

// Snapshot serializes a state snapshot for transport.
func Snapshot(s *graph.StateSnapshot) map[string]any {
	if s == nil {
		return nil
	}

	out := map[string]any{
		"values":     NonJSON(s.Values),
		"next":       NonJSON(s.Next),
		"config":     configDict(&s.Config),
		"metadata":   NonJSON(s.Metadata),
		"created_at": s.CreatedAt.Format(time.RFC3339Nano),
	}
	if s.ParentConfig != nil {
		out["parent_config"] = configDict(s.ParentConfig)
	}
	return out
}

// Snapshots serializes a snapshot history.
func Snapshots(snapshots []*graph.StateSnapshot) []any {
	out := make([]any, len(snapshots))
	for i, s := range snapshots {
		out[i] = Snapshot(s)
	}
	return out
}

func configDict(c *graph.Config) map[string]any {
	if c == nil {
		return nil
	}
	return map[string]any{
		"configurable": NonJSON(c.Configurable),
	}
}
