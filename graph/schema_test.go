package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSchemaDefaultOverwrite(t *testing.T) {
	schema := NewMapSchema()

	result, err := schema.Update(
		map[string]any{"counter": 1, "name": "a"},
		map[string]any{"counter": 2},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, result["counter"])
	assert.Equal(t, "a", result["name"])
}

func TestMapSchemaDoesNotMutateCurrent(t *testing.T) {
	schema := NewMapSchema()
	current := map[string]any{"counter": 1}

	_, err := schema.Update(current, map[string]any{"counter": 2})
	require.NoError(t, err)
	assert.Equal(t, 1, current["counter"])
}

func TestMapSchemaReducer(t *testing.T) {
	schema := NewMapSchema()
	schema.RegisterReducer("total", func(current, new any) (any, error) {
		if current == nil {
			return new, nil
		}
		return current.(int) + new.(int), nil
	})

	result, err := schema.Update(map[string]any{"total": 3}, map[string]any{"total": 4})
	require.NoError(t, err)
	assert.Equal(t, 7, result["total"])
}

func TestMapSchemaReducerErrorPropagates(t *testing.T) {
	wantErr := errors.New("boom")
	schema := NewMapSchema()
	schema.RegisterReducer("bad", func(current, new any) (any, error) {
		return nil, wantErr
	})

	_, err := schema.Update(map[string]any{}, map[string]any{"bad": 1})
	assert.ErrorIs(t, err, wantErr)
}

func TestMessageSchemaMergesMessages(t *testing.T) {
	schema := NewMessageSchema()

	state, err := schema.Update(
		map[string]any{"messages": []Message{NewHumanMessage("hi")}},
		map[string]any{"messages": []Message{NewAIMessage("hello")}},
	)
	require.NoError(t, err)

	messages, ok := state["messages"].([]Message)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestAppendReducer(t *testing.T) {
	result, err := AppendReducer([]string{"a"}, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, result)

	result, err = AppendReducer([]string{"a"}, []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, result)

	result, err = AppendReducer(nil, "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, result)

	_, err = AppendReducer("not a slice", "x")
	assert.Error(t, err)
}

func TestOverwriteReducer(t *testing.T) {
	result, err := OverwriteReducer("old", "new")
	require.NoError(t, err)
	assert.Equal(t, "new", result)
}
