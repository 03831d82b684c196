package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphserve-ai/graphserve/store/memory"
)

// echoGraph appends a reply to the incoming messages and ends.
func echoGraph(t *testing.T) *Runnable {
	t.Helper()
	g := NewMessageGraph()
	g.AddNode("echo", "echoes the last human message", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		messages, err := normalizeMessages(state["messages"])
		if err != nil {
			return nil, err
		}
		last := ""
		for _, m := range messages {
			if m.Type == MessageTypeHuman {
				last = m.Content
			}
		}
		return map[string]any{
			"messages": []Message{NewAIMessage("echo: " + last)},
		}, nil
	})
	g.AddEdge("echo", END)
	g.SetEntryPoint("echo")

	runnable, err := g.Compile()
	require.NoError(t, err)
	return runnable
}

func TestCompileRequiresEntryPoint(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("a", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return nil, nil
	})

	_, err := g.Compile()
	assert.ErrorIs(t, err, ErrEntryPointNotSet)

	g.SetEntryPoint("missing")
	_, err = g.Compile()
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestInvokeLinearGraph(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("double", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"value": state["value"].(int) * 2}, nil
	})
	g.AddNode("inc", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"value": state["value"].(int) + 1}, nil
	})
	g.AddEdge("double", "inc")
	g.AddEdge("inc", END)
	g.SetEntryPoint("double")

	runnable, err := g.Compile()
	require.NoError(t, err)

	result, err := runnable.Invoke(context.Background(), map[string]any{"value": 3})
	require.NoError(t, err)
	assert.Equal(t, 7, result["value"])
}

func TestInvokeConditionalEdge(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("classify", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return nil, nil
	})
	g.AddNode("big", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"label": "big"}, nil
	})
	g.AddNode("small", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"label": "small"}, nil
	})
	g.AddConditionalEdge("classify", func(ctx context.Context, state map[string]any) string {
		if state["value"].(int) > 10 {
			return "big"
		}
		return "small"
	})
	g.AddEdge("big", END)
	g.AddEdge("small", END)
	g.SetEntryPoint("classify")

	runnable, err := g.Compile()
	require.NoError(t, err)

	result, err := runnable.Invoke(context.Background(), map[string]any{"value": 42})
	require.NoError(t, err)
	assert.Equal(t, "big", result["label"])

	result, err = runnable.Invoke(context.Background(), map[string]any{"value": 1})
	require.NoError(t, err)
	assert.Equal(t, "small", result["label"])
}

func TestInvokeNoOutgoingEdge(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("lonely", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return nil, nil
	})
	g.SetEntryPoint("lonely")

	runnable, err := g.Compile()
	require.NoError(t, err)

	_, err = runnable.Invoke(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, ErrNoOutgoingEdge)
}

func TestInvokeNodeErrorPropagates(t *testing.T) {
	wantErr := errors.New("node failed")
	g := NewStateGraph()
	g.AddNode("fail", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return nil, wantErr
	})
	g.AddEdge("fail", END)
	g.SetEntryPoint("fail")

	runnable, err := g.Compile()
	require.NoError(t, err)

	_, err = runnable.Invoke(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, wantErr)
}

func TestInvokeRecoversNodePanic(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("panics", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		panic("boom")
	})
	g.AddEdge("panics", END)
	g.SetEntryPoint("panics")

	runnable, err := g.Compile()
	require.NoError(t, err)

	_, err = runnable.Invoke(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in node panics")
}

func TestInvokeRecursionLimit(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("loop", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return nil, nil
	})
	g.AddEdge("loop", "loop")
	g.SetEntryPoint("loop")

	runnable, err := g.Compile()
	require.NoError(t, err)

	_, err = runnable.Invoke(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, ErrRecursionLimit)

	_, err = runnable.InvokeWithConfig(context.Background(), map[string]any{}, &Config{RecursionLimit: 3})
	assert.ErrorIs(t, err, ErrRecursionLimit)
}

func TestInvokeInterruptBefore(t *testing.T) {
	ran := false
	g := NewStateGraph()
	g.AddNode("first", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"first": true}, nil
	})
	g.AddNode("second", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		ran = true
		return nil, nil
	})
	g.AddEdge("first", "second")
	g.AddEdge("second", END)
	g.SetEntryPoint("first")

	runnable, err := g.Compile()
	require.NoError(t, err)

	state, err := runnable.InvokeWithConfig(context.Background(), map[string]any{}, WithInterruptBefore("second"))
	var interrupt *GraphInterrupt
	require.ErrorAs(t, err, &interrupt)
	assert.Equal(t, "second", interrupt.Node)
	assert.Equal(t, []string{"second"}, interrupt.NextNodes)
	assert.Equal(t, true, state["first"])
	assert.False(t, ran)
}

func TestInvokeInterruptBeforeWildcard(t *testing.T) {
	g := echoGraph(t)

	_, err := g.InvokeWithConfig(context.Background(), map[string]any{}, WithInterruptBefore(InterruptAll))
	var interrupt *GraphInterrupt
	require.ErrorAs(t, err, &interrupt)
	assert.Equal(t, "echo", interrupt.Node)
}

func TestInvokeInterruptAfter(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("first", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"first": true}, nil
	})
	g.AddNode("second", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"second": true}, nil
	})
	g.AddEdge("first", "second")
	g.AddEdge("second", END)
	g.SetEntryPoint("first")

	runnable, err := g.Compile()
	require.NoError(t, err)

	state, err := runnable.InvokeWithConfig(context.Background(), map[string]any{}, WithInterruptAfter("first"))
	var interrupt *GraphInterrupt
	require.ErrorAs(t, err, &interrupt)
	assert.Equal(t, "first", interrupt.Node)
	assert.Equal(t, []string{"second"}, interrupt.NextNodes)
	assert.Equal(t, true, state["first"])
	assert.Nil(t, state["second"])
}

func TestNodeInterruptAndResume(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("ask", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		answer, err := Interrupt(ctx, "what is your name?")
		if err != nil {
			return nil, err
		}
		return map[string]any{"name": answer}, nil
	})
	g.AddEdge("ask", END)
	g.SetEntryPoint("ask")

	runnable, err := g.Compile()
	require.NoError(t, err)

	_, err = runnable.Invoke(context.Background(), map[string]any{})
	var interrupt *GraphInterrupt
	require.ErrorAs(t, err, &interrupt)
	assert.Equal(t, "ask", interrupt.Node)
	assert.Equal(t, "what is your name?", interrupt.InterruptValue)

	result, err := runnable.InvokeWithConfig(context.Background(), map[string]any{}, &Config{
		ResumeFrom:  interrupt.NextNodes,
		ResumeValue: "gopher",
	})
	require.NoError(t, err)
	assert.Equal(t, "gopher", result["name"])
}

func TestInvokeSavesCheckpoints(t *testing.T) {
	runnable := echoGraph(t)
	cs := memory.NewMemoryCheckpointStore()
	runnable.SetCheckpointStore(cs)

	ctx := context.Background()
	_, err := runnable.InvokeWithConfig(ctx, map[string]any{
		"messages": []Message{NewHumanMessage("hi")},
	}, WithThreadID("thread-1"))
	require.NoError(t, err)

	checkpoints, err := cs.List(ctx, "thread-1")
	require.NoError(t, err)
	require.NotEmpty(t, checkpoints)
	assert.Equal(t, "echo", checkpoints[0].NodeName)
	assert.Empty(t, checkpoints[0].Next)
}

func TestInvokeResumesFromThreadState(t *testing.T) {
	runnable := echoGraph(t)
	cs := memory.NewMemoryCheckpointStore()
	runnable.SetCheckpointStore(cs)

	ctx := context.Background()
	config := WithThreadID("thread-1")

	first, err := runnable.InvokeWithConfig(ctx, map[string]any{
		"messages": []Message{NewHumanMessage("one")},
	}, config)
	require.NoError(t, err)
	assert.Len(t, first["messages"].([]Message), 2)

	// Second turn on the same thread accumulates history.
	second, err := runnable.InvokeWithConfig(ctx, map[string]any{
		"messages": []Message{NewHumanMessage("two")},
	}, config)
	require.NoError(t, err)
	messages := second["messages"].([]Message)
	require.Len(t, messages, 4)
	assert.Equal(t, "one", messages[0].Content)
	assert.Equal(t, "echo: one", messages[1].Content)
	assert.Equal(t, "two", messages[2].Content)
	assert.Equal(t, "echo: two", messages[3].Content)
}

func TestGetStateAndHistory(t *testing.T) {
	runnable := echoGraph(t)
	cs := memory.NewMemoryCheckpointStore()
	runnable.SetCheckpointStore(cs)

	ctx := context.Background()
	config := WithThreadID("thread-1")

	for i := 0; i < 2; i++ {
		_, err := runnable.InvokeWithConfig(ctx, map[string]any{
			"messages": []Message{NewHumanMessage(fmt.Sprintf("turn %d", i))},
		}, config)
		require.NoError(t, err)
	}

	snapshot, err := runnable.GetState(ctx, config)
	require.NoError(t, err)
	assert.Equal(t, "thread-1", snapshot.Config.ThreadID())
	assert.NotEmpty(t, snapshot.Config.CheckpointID())
	assert.NotNil(t, snapshot.Values["messages"])

	history, err := runnable.GetStateHistory(ctx, config)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Most recent first, linked through parent configs
	assert.True(t, history[0].CreatedAt.After(history[1].CreatedAt) || history[0].CreatedAt.Equal(history[1].CreatedAt))
	require.NotNil(t, history[0].ParentConfig)
	assert.Equal(t, history[1].Config.CheckpointID(), history[0].ParentConfig.CheckpointID())
}

func TestGetStateByCheckpointID(t *testing.T) {
	runnable := echoGraph(t)
	cs := memory.NewMemoryCheckpointStore()
	runnable.SetCheckpointStore(cs)

	ctx := context.Background()
	config := WithThreadID("thread-1")
	_, err := runnable.InvokeWithConfig(ctx, map[string]any{
		"messages": []Message{NewHumanMessage("hi")},
	}, config)
	require.NoError(t, err)

	history, err := runnable.GetStateHistory(ctx, config)
	require.NoError(t, err)
	require.NotEmpty(t, history)

	byID, err := runnable.GetState(ctx, &Config{
		Configurable: map[string]any{
			"checkpoint_id": history[0].Config.CheckpointID(),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, history[0].Config.CheckpointID(), byID.Config.CheckpointID())
}

func TestUpdateState(t *testing.T) {
	runnable := echoGraph(t)
	cs := memory.NewMemoryCheckpointStore()
	runnable.SetCheckpointStore(cs)

	ctx := context.Background()
	config := WithThreadID("thread-1")
	_, err := runnable.InvokeWithConfig(ctx, map[string]any{
		"messages": []Message{NewHumanMessage("hi")},
	}, config)
	require.NoError(t, err)

	newConfig, err := runnable.UpdateState(ctx, config, map[string]any{
		"messages": []Message{NewSystemMessage("injected")},
	}, "manual")
	require.NoError(t, err)
	assert.NotEmpty(t, newConfig.CheckpointID())

	snapshot, err := runnable.GetState(ctx, config)
	require.NoError(t, err)
	messages := snapshot.Values["messages"].([]Message)
	assert.Equal(t, "injected", messages[len(messages)-1].Content)
	assert.Equal(t, "manual", snapshot.Metadata["updated_by"])
}

func TestStreamValues(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("first", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"step": 1}, nil
	})
	g.AddNode("second", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"step": 2}, nil
	})
	g.AddEdge("first", "second")
	g.AddEdge("second", END)
	g.SetEntryPoint("first")

	runnable, err := g.Compile()
	require.NoError(t, err)

	var events []StreamEvent
	for ev := range runnable.Stream(context.Background(), map[string]any{}, nil) {
		require.NoError(t, ev.Err)
		events = append(events, ev)
	}

	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Node)
	assert.Equal(t, 1, events[0].State["step"])
	assert.Equal(t, "second", events[1].Node)
	assert.Equal(t, 2, events[1].State["step"])
}

func TestStreamUpdatesMode(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("first", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"a": 1}, nil
	})
	g.AddNode("second", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"b": 2}, nil
	})
	g.AddEdge("first", "second")
	g.AddEdge("second", END)
	g.SetEntryPoint("first")

	runnable, err := g.Compile()
	require.NoError(t, err)

	var events []StreamEvent
	for ev := range runnable.Stream(context.Background(), map[string]any{}, &Config{StreamMode: StreamModeUpdates}) {
		require.NoError(t, ev.Err)
		events = append(events, ev)
	}

	require.Len(t, events, 2)
	assert.Equal(t, map[string]any{"a": 1}, events[0].Update)
	assert.Nil(t, events[0].State)
	assert.Equal(t, map[string]any{"b": 2}, events[1].Update)
}

func TestStreamOutputKeysFilter(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("node", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"wanted": 1, "noise": 2}, nil
	})
	g.AddEdge("node", END)
	g.SetEntryPoint("node")

	runnable, err := g.Compile()
	require.NoError(t, err)

	var events []StreamEvent
	for ev := range runnable.Stream(context.Background(), map[string]any{}, &Config{OutputKeys: []string{"wanted"}}) {
		events = append(events, ev)
	}

	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{"wanted": 1}, events[0].State)
}

func TestStreamEmitsErrorEvent(t *testing.T) {
	wantErr := errors.New("node failed")
	g := NewStateGraph()
	g.AddNode("fail", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return nil, wantErr
	})
	g.AddEdge("fail", END)
	g.SetEntryPoint("fail")

	runnable, err := g.Compile()
	require.NoError(t, err)

	var events []StreamEvent
	for ev := range runnable.Stream(context.Background(), map[string]any{}, nil) {
		events = append(events, ev)
	}

	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Err, wantErr)
}

func TestStreamCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	g := NewStateGraph()
	g.AddNode("loop", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return nil, nil
	})
	g.AddEdge("loop", "loop")
	g.SetEntryPoint("loop")

	runnable, err := g.Compile()
	require.NoError(t, err)

	events := runnable.Stream(ctx, map[string]any{}, &Config{RecursionLimit: 1000})

	// Consume one event, then cancel; the channel must close.
	<-events
	cancel()
	for range events {
	}
}

func TestGraphPreview(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("b", "second node", func(ctx context.Context, state map[string]any) (map[string]any, error) { return nil, nil })
	g.AddNode("a", "first node", func(ctx context.Context, state map[string]any) (map[string]any, error) { return nil, nil })
	g.AddEdge("a", "b")
	g.AddConditionalEdge("b", func(ctx context.Context, state map[string]any) string { return END })
	g.SetEntryPoint("a")

	preview := g.Preview()
	assert.Equal(t, "a", preview.EntryPoint)
	require.Len(t, preview.Nodes, 2)
	assert.Equal(t, "a", preview.Nodes[0].Name)
	assert.Equal(t, []Edge{{From: "a", To: "b"}}, preview.Edges)
	assert.Equal(t, []string{"b"}, preview.ConditionalFroms)
}
