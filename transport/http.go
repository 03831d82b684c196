package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/graphserve-ai/graphserve/graph"
	"github.com/graphserve-ai/graphserve/log"
	"github.com/graphserve-ai/graphserve/registry"
	"github.com/graphserve-ai/graphserve/serialize"
	"github.com/graphserve-ai/graphserve/service"
	"github.com/graphserve-ai/graphserve/store"
)

// HTTPHandlers exposes the graph service as synchronous HTTP endpoints.
type HTTPHandlers struct {
	service *service.GraphService
	logger  log.Logger
}

// NewHTTPHandlers creates the HTTP handler set over the given service.
func NewHTTPHandlers(svc *service.GraphService, logger log.Logger) *HTTPHandlers {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &HTTPHandlers{service: svc, logger: logger}
}

// Register attaches all routes to the mux.
func (h *HTTPHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /graphs/list/{$}", h.List)
	mux.HandleFunc("GET /graphs/{name}/schemas/", h.Schemas)
	mux.HandleFunc("POST /graphs/{name}/invoke/", h.Invoke)
	mux.HandleFunc("POST /graphs/state-history/{$}", h.StateHistory)
	mux.HandleFunc("POST /graphs/{name}/state/", h.State)
	mux.HandleFunc("PUT /graphs/{name}/update-state/", h.UpdateState)
}

// List returns all registered graph schemas with a count envelope.
func (h *HTTPHandlers) List(w http.ResponseWriter, r *http.Request) {
	schemas := h.service.GetAllGraphSchemas(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(schemas),
		"data":  schemas,
	})
}

// Schemas returns the schema of a single graph.
func (h *HTTPHandlers) Schemas(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	schema, err := h.service.GetGraphSchema(r.Context(), name)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": schema})
}

type invokeRequest struct {
	Input           map[string]any `json:"input"`
	Config          *graph.Config  `json:"config,omitempty"`
	InterruptBefore []string       `json:"interrupt_before,omitempty"`
	InterruptAfter  []string       `json:"interrupt_after,omitempty"`
}

// Invoke runs a graph to completion and returns the final state.
func (h *HTTPHandlers) Invoke(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	config := req.Config
	if len(req.InterruptBefore) > 0 || len(req.InterruptAfter) > 0 {
		if config == nil {
			config = &graph.Config{}
		}
		config.InterruptBefore = req.InterruptBefore
		config.InterruptAfter = req.InterruptAfter
	}

	result, err := h.service.Invoke(r.Context(), name, req.Input, config)
	if err != nil {
		var interrupt *graph.GraphInterrupt
		if errors.As(err, &interrupt) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data":        serialize.NonJSON(result),
				"interrupted": true,
				"node":        interrupt.Node,
				"next":        interrupt.NextNodes,
			})
			return
		}
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": serialize.NonJSON(result)})
}

type stateHistoryRequest struct {
	GraphName string        `json:"graph_name"`
	Config    *graph.Config `json:"config"`
}

// StateHistory returns the serialized snapshot history of a thread.
func (h *HTTPHandlers) StateHistory(w http.ResponseWriter, r *http.Request) {
	var req stateHistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.GraphName == "" {
		writeError(w, http.StatusBadRequest, "graph_name is required")
		return
	}
	if req.Config.ThreadID() == "" {
		writeError(w, http.StatusBadRequest, "config.configurable.thread_id is required")
		return
	}

	history, err := h.service.GetStateHistory(r.Context(), req.GraphName, req.Config)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(history),
		"data":  serialize.Snapshots(history),
	})
}

type stateRequest struct {
	Config *graph.Config `json:"config"`
}

// State returns the latest serialized snapshot of a thread.
func (h *HTTPHandlers) State(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Config.ThreadID() == "" && req.Config.CheckpointID() == "" {
		writeError(w, http.StatusBadRequest, "config.configurable.thread_id is required")
		return
	}

	snapshot, err := h.service.GetState(r.Context(), name, req.Config)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": serialize.Snapshot(snapshot)})
}

type updateStateRequest struct {
	Config *graph.Config  `json:"config"`
	Values map[string]any `json:"values"`
	AsNode string         `json:"as_node,omitempty"`
}

// UpdateState merges values into a thread's state and returns the new
// checkpoint config.
func (h *HTTPHandlers) UpdateState(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req updateStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Config.ThreadID() == "" {
		writeError(w, http.StatusBadRequest, "config.configurable.thread_id is required")
		return
	}

	newConfig, err := h.service.UpdateState(r.Context(), name, req.Config, req.Values, req.AsNode)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"configurable": serialize.NonJSON(newConfig.Configurable),
		},
	})
}

// writeServiceError maps service errors to status codes. Unknown names
// and missing threads are 404; anything else is a 500 without internal
// detail.
func (h *HTTPHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
