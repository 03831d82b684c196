package graph

import (
	"fmt"

	"github.com/google/uuid"
)

// MessageType identifies the role of a message in a conversation.
type MessageType string

const (
	MessageTypeAI     MessageType = "ai"
	MessageTypeHuman  MessageType = "human"
	MessageTypeSystem MessageType = "system"
	MessageTypeTool   MessageType = "tool"

	// MessageTypeRemove marks a message for deletion when merged
	// with AddMessages. Only the ID field is meaningful.
	MessageTypeRemove MessageType = "remove"
)

// ToolCall represents a tool invocation requested by an AI message.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is a single conversation entry. The zero ID is replaced with
// a generated UUID the first time the message passes through AddMessages.
type Message struct {
	Type     MessageType    `json:"type"`
	Content  string         `json:"content"`
	ID       string         `json:"id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// ToolCalls is populated on AI messages that request tool use.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// NewAIMessage creates an AI message with the given content.
func NewAIMessage(content string) Message {
	return Message{Type: MessageTypeAI, Content: content}
}

// NewHumanMessage creates a human message with the given content.
func NewHumanMessage(content string) Message {
	return Message{Type: MessageTypeHuman, Content: content}
}

// NewSystemMessage creates a system message with the given content.
func NewSystemMessage(content string) Message {
	return Message{Type: MessageTypeSystem, Content: content}
}

// NewToolMessage creates a tool message answering the given tool call.
func NewToolMessage(content, toolCallID string) Message {
	return Message{Type: MessageTypeTool, Content: content, ToolCallID: toolCallID}
}

// NewRemoveMessage creates a message that deletes the message with the
// given ID when merged via AddMessages.
func NewRemoveMessage(id string) Message {
	return Message{Type: MessageTypeRemove, ID: id}
}

// AddMessages merges two message sequences by identity. It is the
// reducer registered for the "messages" key on message schemas.
//
// Messages without an ID are assigned one. A right-hand message whose
// ID already exists on the left replaces the existing message in place,
// or marks it for removal if it is a remove message; the ID match takes
// precedence over content deduplication. A right-hand message with a
// new ID is appended unless an existing message has the same content
// and type, in which case it is skipped. A remove message referencing
// an unknown ID is an error.
func AddMessages(current, new any) (any, error) {
	left, err := normalizeMessages(current)
	if err != nil {
		return nil, fmt.Errorf("invalid current messages: %w", err)
	}
	right, err := normalizeMessages(new)
	if err != nil {
		return nil, fmt.Errorf("invalid new messages: %w", err)
	}

	merged := make([]Message, 0, len(left)+len(right))
	indexByID := make(map[string]int, len(left))

	type contentKey struct {
		content string
		msgType MessageType
	}
	seen := make(map[contentKey]bool, len(left))

	for _, m := range left {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		indexByID[m.ID] = len(merged)
		seen[contentKey{m.Content, m.Type}] = true
		merged = append(merged, m)
	}

	removed := make(map[string]bool)

	for _, m := range right {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}

		if idx, ok := indexByID[m.ID]; ok {
			if m.Type == MessageTypeRemove {
				removed[m.ID] = true
				continue
			}
			delete(removed, m.ID)
			merged[idx] = m
			continue
		}

		if m.Type == MessageTypeRemove {
			return nil, fmt.Errorf("cannot remove message with id %s: no message with that id", m.ID)
		}

		key := contentKey{m.Content, m.Type}
		if seen[key] {
			continue
		}
		seen[key] = true
		indexByID[m.ID] = len(merged)
		merged = append(merged, m)
	}

	if len(removed) == 0 {
		return merged, nil
	}

	result := make([]Message, 0, len(merged))
	for _, m := range merged {
		if !removed[m.ID] {
			result = append(result, m)
		}
	}
	return result, nil
}

// normalizeMessages converts a reducer operand into a message slice.
// It accepts nil, a single message, a message slice, or the map form
// produced by JSON round-trips through a checkpoint store.
func normalizeMessages(v any) ([]Message, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case Message:
		return []Message{val}, nil
	case *Message:
		if val == nil {
			return nil, nil
		}
		return []Message{*val}, nil
	case []Message:
		out := make([]Message, len(val))
		copy(out, val)
		return out, nil
	case []*Message:
		out := make([]Message, 0, len(val))
		for _, m := range val {
			if m != nil {
				out = append(out, *m)
			}
		}
		return out, nil
	case map[string]any:
		m, err := messageFromMap(val)
		if err != nil {
			return nil, err
		}
		return []Message{m}, nil
	case []any:
		out := make([]Message, 0, len(val))
		for _, item := range val {
			items, err := normalizeMessages(item)
			if err != nil {
				return nil, err
			}
			out = append(out, items...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported message value of type %T", v)
	}
}

func messageFromMap(m map[string]any) (Message, error) {
	typeStr, ok := m["type"].(string)
	if !ok {
		return Message{}, fmt.Errorf("message map missing type field")
	}

	msg := Message{Type: MessageType(typeStr)}
	if content, ok := m["content"].(string); ok {
		msg.Content = content
	}
	if id, ok := m["id"].(string); ok {
		msg.ID = id
	}
	if metadata, ok := m["metadata"].(map[string]any); ok {
		msg.Metadata = metadata
	}
	if toolCallID, ok := m["tool_call_id"].(string); ok {
		msg.ToolCallID = toolCallID
	}
	if rawCalls, ok := m["tool_calls"].([]any); ok {
		for _, rawCall := range rawCalls {
			callMap, ok := rawCall.(map[string]any)
			if !ok {
				continue
			}
			call := ToolCall{}
			if id, ok := callMap["id"].(string); ok {
				call.ID = id
			}
			if name, ok := callMap["name"].(string); ok {
				call.Name = name
			}
			if args, ok := callMap["args"].(map[string]any); ok {
				call.Args = args
			}
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
	}

	return msg, nil
}
