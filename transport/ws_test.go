package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphserve-ai/graphserve/graph"
	"github.com/graphserve-ai/graphserve/log"
	"github.com/graphserve-ai/graphserve/registry"
	"github.com/graphserve-ai/graphserve/service"
	"github.com/graphserve-ai/graphserve/store/memory"
)

func newTestService(t *testing.T) *service.GraphService {
	t.Helper()

	reg := registry.New()
	require.NoError(t, reg.Register(&registry.Entry{
		Name: "echo",
		Compile: func(ctx context.Context) (*graph.Runnable, error) {
			g := graph.NewMessageGraph()
			g.AddNode("echo", "echoes the last human message", func(ctx context.Context, state map[string]any) (map[string]any, error) {
				return map[string]any{
					"messages": []graph.Message{graph.NewAIMessage("echo")},
				}, nil
			})
			g.AddEdge("echo", graph.END)
			g.SetEntryPoint("echo")
			return g.Compile()
		},
	}))
	require.NoError(t, reg.Register(&registry.Entry{
		Name: "failing",
		Compile: func(ctx context.Context) (*graph.Runnable, error) {
			g := graph.NewStateGraph()
			g.AddNode("fail", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
				return nil, errors.New("node exploded")
			})
			g.AddEdge("fail", graph.END)
			g.SetEntryPoint("fail")
			return g.Compile()
		},
	}))

	return service.New(reg, service.Options{
		Checkpoints: memory.NewMemoryCheckpointStore(),
		Logger:      &log.NoOpLogger{},
	})
}

func dialWS(t *testing.T) *websocket.Conn {
	t.Helper()

	handler := NewWSHandler(newTestService(t), WSOptions{Logger: &log.NoOpLogger{}})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWSStreamEmitsResponsesAndEndSentinel(t *testing.T) {
	conn := dialWS(t)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"graph_name": "echo",
		"input": map[string]any{
			"messages": []map[string]any{
				{"type": "human", "content": "hi"},
			},
		},
		"stream_mode": "values",
	}))

	first := readFrame(t, conn)
	assert.Equal(t, "response", first["action"])
	state, ok := first["data"].(map[string]any)
	require.True(t, ok)
	messages, ok := state["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)

	last := readFrame(t, conn)
	assert.Equal(t, "response", last["action"])
	assert.Equal(t, EndSentinel, last["data"])
}

func TestWSDefaultsToDebugMode(t *testing.T) {
	conn := dialWS(t)

	// No stream_mode in the frame.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"graph_name": "echo",
		"input":      map[string]any{},
	}))

	frame := readFrame(t, conn)
	require.Equal(t, "response", frame["action"])
	data := frame["data"].(map[string]any)
	assert.Equal(t, "echo", data["node"])
	assert.NotNil(t, data["state"])
	assert.NotNil(t, data["update"])

	last := readFrame(t, conn)
	assert.Equal(t, EndSentinel, last["data"])
}

func TestWSParseErrorKeepsConnectionOpen(t *testing.T) {
	conn := dialWS(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["action"])
	assert.NotEmpty(t, frame["message"])

	// The same connection must accept a subsequent valid request.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"graph_name": "echo",
		"input":      map[string]any{},
	}))

	next := readFrame(t, conn)
	assert.Equal(t, "response", next["action"])
}

func TestWSMissingGraphNameIsError(t *testing.T) {
	conn := dialWS(t)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"input": map[string]any{},
	}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["action"])
	assert.Contains(t, frame["message"], "graph_name")
}

func TestWSUnknownGraphIsError(t *testing.T) {
	conn := dialWS(t)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"graph_name": "missing",
		"input":      map[string]any{},
	}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["action"])
	assert.Contains(t, frame["message"], "missing")
}

func TestWSExecutionErrorEndsStreamWithErrorFrame(t *testing.T) {
	conn := dialWS(t)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"graph_name": "failing",
		"input":      map[string]any{},
	}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["action"])
	assert.Contains(t, frame["message"], "node exploded")

	// Connection survives the failed run.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"graph_name": "echo",
		"input":      map[string]any{},
	}))
	next := readFrame(t, conn)
	assert.Equal(t, "response", next["action"])
}

func TestWSUpdatesMode(t *testing.T) {
	conn := dialWS(t)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"graph_name":  "echo",
		"input":       map[string]any{},
		"stream_mode": "updates",
	}))

	frame := readFrame(t, conn)
	require.Equal(t, "response", frame["action"])
	data := frame["data"].(map[string]any)
	assert.Equal(t, "echo", data["node"])
	assert.NotNil(t, data["update"])

	last := readFrame(t, conn)
	assert.Equal(t, EndSentinel, last["data"])
}

func TestWSUpgradeRequired(t *testing.T) {
	handler := NewWSHandler(newTestService(t), WSOptions{Logger: &log.NoOpLogger{}})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
