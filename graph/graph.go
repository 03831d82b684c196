package graph

import (
	"context"
	"fmt"
	"sort"
)

// END is a special constant used to represent the end node in the graph.
const END = "END"

// Node represents a node in the graph.
type Node struct {
	// Name is the unique identifier for the node.
	Name string

	// Description describes the functionality of the node.
	Description string

	// Function is the function associated with the node.
	// It takes a context and the current state as input and returns
	// the state update and an error.
	Function func(ctx context.Context, state map[string]any) (map[string]any, error)
}

// Edge represents an edge in the graph.
type Edge struct {
	// From is the name of the node from which the edge originates.
	From string

	// To is the name of the node to which the edge points.
	To string
}

// StateGraph represents a state-based graph whose nodes read and update
// a shared map state.
type StateGraph struct {
	// nodes is a map of node names to their corresponding Node objects
	nodes map[string]Node

	// edges is a slice of Edge objects representing the connections between nodes
	edges []Edge

	// conditionalEdges maps a "From" node to a function deriving the "To" node at runtime
	conditionalEdges map[string]func(ctx context.Context, state map[string]any) string

	// entryPoint is the name of the entry point node in the graph
	entryPoint string

	// Schema defines the state structure and update logic
	Schema StateSchema
}

// NewStateGraph creates a new instance of StateGraph without a schema.
// For chat-based graphs that need message merging, use NewMessageGraph.
func NewStateGraph() *StateGraph {
	return &StateGraph{
		nodes:            make(map[string]Node),
		conditionalEdges: make(map[string]func(ctx context.Context, state map[string]any) string),
	}
}

// NewMessageGraph creates a StateGraph with a schema that merges the
// "messages" key using the AddMessages reducer.
func NewMessageGraph() *StateGraph {
	g := NewStateGraph()
	g.SetSchema(NewMessageSchema())
	return g
}

// AddNode adds a new node to the state graph with the given name, description and function
func (g *StateGraph) AddNode(name string, description string, fn func(ctx context.Context, state map[string]any) (map[string]any, error)) {
	g.nodes[name] = Node{
		Name:        name,
		Description: description,
		Function:    fn,
	}
}

// AddEdge adds a new edge to the state graph between the "from" and "to" nodes
func (g *StateGraph) AddEdge(from, to string) {
	g.edges = append(g.edges, Edge{
		From: from,
		To:   to,
	})
}

// AddConditionalEdge adds a conditional edge where the target node is determined at runtime
func (g *StateGraph) AddConditionalEdge(from string, condition func(ctx context.Context, state map[string]any) string) {
	g.conditionalEdges[from] = condition
}

// SetEntryPoint sets the entry point node name for the state graph
func (g *StateGraph) SetEntryPoint(name string) {
	g.entryPoint = name
}

// SetSchema sets the state schema for the graph
func (g *StateGraph) SetSchema(schema StateSchema) {
	g.Schema = schema
}

// Compile validates the graph and returns a Runnable instance
func (g *StateGraph) Compile() (*Runnable, error) {
	if g.entryPoint == "" {
		return nil, ErrEntryPointNotSet
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, g.entryPoint)
	}

	return &Runnable{
		graph: g,
	}, nil
}

// NodePreview describes a single node in a structural preview.
type NodePreview struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Preview is a structural description of a graph, used for schema
// listings and visualization.
type Preview struct {
	EntryPoint       string        `json:"entry_point"`
	Nodes            []NodePreview `json:"nodes"`
	Edges            []Edge        `json:"edges"`
	ConditionalFroms []string      `json:"conditional_edges,omitempty"`
}

// Preview returns a structural description of the graph. Nodes and
// conditional edge sources are sorted by name for stable output.
func (g *StateGraph) Preview() Preview {
	nodes := make([]NodePreview, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, NodePreview{Name: node.Name, Description: node.Description})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	froms := make([]string, 0, len(g.conditionalEdges))
	for from := range g.conditionalEdges {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	edges := make([]Edge, len(g.edges))
	copy(edges, g.edges)

	return Preview{
		EntryPoint:       g.entryPoint,
		Nodes:            nodes,
		Edges:            edges,
		ConditionalFroms: froms,
	}
}
