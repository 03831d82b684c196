// Package transport exposes the graph service over WebSocket and HTTP.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/graphserve-ai/graphserve/graph"
	"github.com/graphserve-ai/graphserve/log"
	"github.com/graphserve-ai/graphserve/serialize"
	"github.com/graphserve-ai/graphserve/service"
)

// EndSentinel terminates a successful stream on the wire.
const EndSentinel = "__end__"

// WSOptions configures the WebSocket handler.
type WSOptions struct {
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin defaults to accepting all origins.
	CheckOrigin func(r *http.Request) bool

	Logger log.Logger
}

// WSHandler streams graph executions over a WebSocket connection.
// Each request frame starts one execution; the connection carries any
// number of sequential requests.
type WSHandler struct {
	service  *service.GraphService
	upgrader websocket.Upgrader
	logger   log.Logger
}

// NewWSHandler creates a WebSocket handler over the given service.
func NewWSHandler(svc *service.GraphService, opts WSOptions) *WSHandler {
	if opts.ReadBufferSize == 0 {
		opts.ReadBufferSize = 1024
	}
	if opts.WriteBufferSize == 0 {
		opts.WriteBufferSize = 1024
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	return &WSHandler{
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// streamRequest is one execution request frame.
type streamRequest struct {
	GraphName       string           `json:"graph_name"`
	Input           map[string]any   `json:"input"`
	Config          *graph.Config    `json:"config,omitempty"`
	StreamMode      graph.StreamMode `json:"stream_mode,omitempty"`
	OutputKeys      []string         `json:"output_keys,omitempty"`
	InterruptBefore []string         `json:"interrupt_before,omitempty"`
	InterruptAfter  []string         `json:"interrupt_after,omitempty"`
}

// config folds the frame's top-level stream settings into its config.
// Frames that name no stream mode get debug mode.
func (req *streamRequest) config() *graph.Config {
	config := req.Config
	if config == nil {
		config = &graph.Config{}
	}
	if req.StreamMode != "" {
		config.StreamMode = req.StreamMode
	} else if config.StreamMode == "" {
		config.StreamMode = graph.StreamModeDebug
	}
	if len(req.OutputKeys) > 0 {
		config.OutputKeys = req.OutputKeys
	}
	if len(req.InterruptBefore) > 0 {
		config.InterruptBefore = req.InterruptBefore
	}
	if len(req.InterruptAfter) > 0 {
		config.InterruptAfter = req.InterruptAfter
	}
	return config
}

type responseFrame struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
}

type errorFrame struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed: %v", err)
			}
			return
		}

		var req streamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			// Malformed frame; report and keep the connection open.
			if !h.writeError(conn, "invalid request: "+err.Error()) {
				return
			}
			continue
		}
		if req.GraphName == "" {
			if !h.writeError(conn, "graph_name is required") {
				return
			}
			continue
		}

		if !h.stream(conn, r, &req) {
			return
		}
	}
}

// stream runs one execution and writes its frames. It reports whether
// the connection is still usable.
func (h *WSHandler) stream(conn *websocket.Conn, r *http.Request, req *streamRequest) bool {
	ctx := r.Context()
	config := req.config()

	events, err := h.service.Stream(ctx, req.GraphName, req.Input, config)
	if err != nil {
		return h.writeError(conn, err.Error())
	}

	for ev := range events {
		if ev.Err != nil {
			h.logger.Error("graph %s stream failed: %v", req.GraphName, ev.Err)
			return h.writeError(conn, ev.Err.Error())
		}
		if err := conn.WriteJSON(responseFrame{Action: "response", Data: eventPayload(ev, config.StreamMode)}); err != nil {
			return false
		}
	}

	return conn.WriteJSON(responseFrame{Action: "response", Data: EndSentinel}) == nil
}

func (h *WSHandler) writeError(conn *websocket.Conn, message string) bool {
	return conn.WriteJSON(errorFrame{Action: "error", Message: message}) == nil
}

func eventPayload(ev graph.StreamEvent, mode graph.StreamMode) any {
	switch mode {
	case graph.StreamModeUpdates:
		return map[string]any{
			"node":   ev.Node,
			"update": serialize.NonJSON(ev.Update),
		}
	case graph.StreamModeDebug:
		return map[string]any{
			"node":   ev.Node,
			"state":  serialize.NonJSON(ev.State),
			"update": serialize.NonJSON(ev.Update),
		}
	default:
		return serialize.NonJSON(ev.State)
	}
}
