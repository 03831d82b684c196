// GraphServe - Serving Compiled LLM Graphs over HTTP and WebSockets
//
// GraphServe executes registered, compiled state graphs and exposes them as a
// streaming service. Graphs are built and compiled once, registered by name,
// and then invoked or streamed over HTTP and WebSocket transports with
// per-thread checkpointing behind them.
//
// # Quick Start
//
// Install the module:
//
//	go get github.com/graphserve-ai/graphserve
//
// Register a graph and serve it:
//
//	package main
//
//	import (
//		"context"
//		"net/http"
//
//		"github.com/graphserve-ai/graphserve/graph"
//		"github.com/graphserve-ai/graphserve/registry"
//		"github.com/graphserve-ai/graphserve/service"
//		"github.com/graphserve-ai/graphserve/store/memory"
//		"github.com/graphserve-ai/graphserve/transport"
//	)
//
//	func main() {
//		reg := registry.New()
//		reg.Register(&registry.Entry{
//			Name: "echo",
//			Compile: func(ctx context.Context) (*graph.Runnable, error) {
//				g := graph.NewMessageGraph()
//				g.AddNode("echo", "", func(ctx context.Context, state map[string]any) (map[string]any, error) {
//					return map[string]any{
//						"messages": []graph.Message{graph.NewAIMessage("hello")},
//					}, nil
//				})
//				g.AddEdge("echo", graph.END)
//				g.SetEntryPoint("echo")
//				return g.Compile()
//			},
//		})
//
//		svc := service.New(reg, service.Options{
//			Checkpoints: memory.NewMemoryCheckpointStore(),
//		})
//
//		mux := http.NewServeMux()
//		transport.NewHTTPHandlers(svc, nil).Register(mux)
//		mux.Handle("/ws/graphs/stream/", transport.NewWSHandler(svc, transport.WSOptions{}))
//		http.ListenAndServe(":8000", mux)
//	}
//
// # Packages
//
//   - graph: state graphs, message merging, execution, streaming, interrupts
//   - registry: named graph entries with input/config schemas
//   - service: compile-once cache over the registry, thread state access
//   - transport: WebSocket streaming protocol and HTTP handlers
//   - store: checkpoint stores (memory, postgres, redis, sqlite)
//   - kb: pgvector knowledge base with embeddings and similarity search
//   - tasks: background execution with retry and interval schedules
//   - workspace: workspace members, permissions and workflow bindings
//   - serialize: JSON-safe conversion of states and snapshots
//   - log: logging interface with a kataras/golog implementation
//
// See the ./examples directory for runnable demos.
package graphserve // import "github.com/graphserve-ai/graphserve"
