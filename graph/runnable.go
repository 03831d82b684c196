package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/graphserve-ai/graphserve/store"
)

// Runnable is a compiled state graph. It executes nodes step by step,
// merging each node's update into the state through the graph schema,
// and persists a checkpoint per step when a store is attached and the
// config carries a thread_id.
type Runnable struct {
	graph       *StateGraph
	checkpoints store.CheckpointStore
}

// SetCheckpointStore attaches a checkpoint store. Runs configured with
// a thread_id will persist a checkpoint after every step and resume
// from the latest checkpoint of the thread.
func (r *Runnable) SetCheckpointStore(cs store.CheckpointStore) {
	r.checkpoints = cs
}

// Graph returns the underlying state graph.
func (r *Runnable) Graph() *StateGraph {
	return r.graph
}

// Invoke executes the compiled state graph with the given input state.
func (r *Runnable) Invoke(ctx context.Context, input map[string]any) (map[string]any, error) {
	return r.InvokeWithConfig(ctx, input, nil)
}

// InvokeWithConfig executes the compiled state graph with the given
// input state and config. On interrupt it returns the state reached so
// far together with a *GraphInterrupt error.
func (r *Runnable) InvokeWithConfig(ctx context.Context, input map[string]any, config *Config) (map[string]any, error) {
	return r.run(ctx, input, config, nil)
}

// StreamEvent is a single step result emitted by Stream.
type StreamEvent struct {
	// Node is the node that produced this event. Empty for the final
	// values event.
	Node string `json:"node,omitempty"`

	// State is the full state after the step (values and debug modes).
	State map[string]any `json:"state,omitempty"`

	// Update is the raw node update (updates mode).
	Update map[string]any `json:"update,omitempty"`

	// Err is set on the terminal event when execution failed.
	Err error `json:"-"`
}

// Stream executes the graph and emits an event per node step. The
// channel is closed when execution completes, fails, or the context is
// cancelled. The event mode is selected by config.StreamMode and
// defaults to StreamModeValues.
func (r *Runnable) Stream(ctx context.Context, input map[string]any, config *Config) <-chan StreamEvent {
	events := make(chan StreamEvent)

	mode := StreamModeValues
	if config != nil && config.StreamMode != "" {
		mode = config.StreamMode
	}
	var outputKeys []string
	if config != nil {
		outputKeys = config.OutputKeys
	}

	emit := func(ev StreamEvent) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(events)

		_, err := r.run(ctx, input, config, func(node string, update, state map[string]any) error {
			switch mode {
			case StreamModeUpdates:
				return emit(StreamEvent{Node: node, Update: filterKeys(update, outputKeys)})
			case StreamModeDebug:
				return emit(StreamEvent{Node: node, State: filterKeys(state, outputKeys), Update: filterKeys(update, outputKeys)})
			default:
				return emit(StreamEvent{Node: node, State: filterKeys(state, outputKeys)})
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			var interrupt *GraphInterrupt
			if errors.As(err, &interrupt) {
				return
			}
			_ = emit(StreamEvent{Err: err})
		}
	}()

	return events
}

// stepFunc observes a completed node step during a run.
type stepFunc func(node string, update, state map[string]any) error

func (r *Runnable) run(ctx context.Context, input map[string]any, config *Config, onStep stepFunc) (map[string]any, error) {
	state := r.initState()
	frontier := []string{r.graph.entryPoint}
	threadID := config.ThreadID()
	parentID := ""
	version := 0
	step := 0

	if config != nil {
		ctx = WithConfig(ctx, config)
		if config.ResumeValue != nil {
			ctx = WithResumeValue(ctx, config.ResumeValue)
		}
	}

	// Resume from the latest checkpoint of the thread, if any. A
	// checkpoint with pending next nodes continues from them; a
	// completed thread starts over from the entry point with the
	// checkpointed state merged in.
	if threadID != "" && r.checkpoints != nil && (config == nil || config.ResumeFrom == nil) {
		latest, err := r.checkpoints.Latest(ctx, threadID)
		switch {
		case err == nil:
			state, err = r.mergeUpdate(latest.State, nil)
			if err != nil {
				return nil, err
			}
			if len(latest.Next) > 0 && !slices.Contains(latest.Next, END) {
				frontier = slices.Clone(latest.Next)
			}
			parentID = latest.ID
			version = latest.Version
		case errors.Is(err, store.ErrNotFound):
			// Fresh thread
		default:
			return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
		}
	}
	if config != nil && len(config.ResumeFrom) > 0 {
		frontier = slices.Clone(config.ResumeFrom)
	}

	var err error
	state, err = r.mergeUpdate(state, input)
	if err != nil {
		return nil, err
	}

	limit := config.recursionLimit()

	for len(frontier) > 0 {
		frontier = dropEnd(frontier)
		if len(frontier) == 0 {
			break
		}
		sort.Strings(frontier)

		if err := ctx.Err(); err != nil {
			return state, err
		}

		if step >= limit {
			return state, fmt.Errorf("%w: %d steps", ErrRecursionLimit, limit)
		}
		step++

		if config != nil && interruptMatches(config.InterruptBefore, frontier) != "" {
			node := interruptMatches(config.InterruptBefore, frontier)
			return state, &GraphInterrupt{Node: node, State: state, NextNodes: frontier}
		}

		ran := slices.Clone(frontier)
		var next []string

		for _, name := range frontier {
			node, ok := r.graph.nodes[name]
			if !ok {
				return state, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
			}

			update, nodeErr := runNode(ctx, node, state)
			if nodeErr != nil {
				var nodeInterrupt *NodeInterrupt
				if errors.As(nodeErr, &nodeInterrupt) {
					nodeInterrupt.Node = name
					if serr := r.saveCheckpoint(ctx, threadID, name, frontier, state, config, &version, &parentID, "interrupt", step); serr != nil {
						return state, serr
					}
					return state, &GraphInterrupt{
						Node:           name,
						State:          state,
						NextNodes:      []string{name},
						InterruptValue: nodeInterrupt.Value,
					}
				}
				return state, fmt.Errorf("error in node %s: %w", name, nodeErr)
			}

			state, nodeErr = r.mergeUpdate(state, update)
			if nodeErr != nil {
				return state, nodeErr
			}

			targets, nodeErr := r.nextNodes(ctx, name, state)
			if nodeErr != nil {
				return state, nodeErr
			}
			next = appendUnique(next, targets)

			if onStep != nil {
				if err := onStep(name, update, state); err != nil {
					return state, err
				}
			}
		}

		frontier = dropEnd(next)

		if err := r.saveCheckpoint(ctx, threadID, stepName(ran), frontier, state, config, &version, &parentID, "loop", step); err != nil {
			return state, err
		}

		if config != nil {
			if node := interruptMatches(config.InterruptAfter, ran); node != "" {
				return state, &GraphInterrupt{Node: node, State: state, NextNodes: frontier}
			}
		}
	}

	return state, nil
}

func (r *Runnable) initState() map[string]any {
	if r.graph.Schema != nil {
		return r.graph.Schema.Init()
	}
	return make(map[string]any)
}

// mergeUpdate merges an update into the state through the schema, or by
// key overwrite when no schema is set.
func (r *Runnable) mergeUpdate(state, update map[string]any) (map[string]any, error) {
	if state == nil {
		state = make(map[string]any)
	}
	if update == nil {
		update = make(map[string]any)
	}
	if r.graph.Schema != nil {
		merged, err := r.graph.Schema.Update(state, update)
		if err != nil {
			return nil, fmt.Errorf("schema update failed: %w", err)
		}
		return merged, nil
	}
	merged := make(map[string]any, len(state)+len(update))
	maps.Copy(merged, state)
	maps.Copy(merged, update)
	return merged, nil
}

func (r *Runnable) nextNodes(ctx context.Context, name string, state map[string]any) ([]string, error) {
	if condition, ok := r.graph.conditionalEdges[name]; ok {
		target := condition(ctx, state)
		if target == "" {
			return nil, fmt.Errorf("conditional edge returned empty next node from %s", name)
		}
		return []string{target}, nil
	}

	var targets []string
	for _, edge := range r.graph.edges {
		if edge.From == name {
			targets = append(targets, edge.To)
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, name)
	}
	return targets, nil
}

func (r *Runnable) saveCheckpoint(ctx context.Context, threadID, nodeName string, next []string, state map[string]any, config *Config, version *int, parentID *string, source string, step int) error {
	if r.checkpoints == nil || threadID == "" {
		return nil
	}

	metadata := map[string]any{
		"source": source,
		"step":   step,
	}
	if config != nil {
		for k, v := range config.Metadata {
			metadata[k] = v
		}
		if len(config.Tags) > 0 {
			metadata["tags"] = config.Tags
		}
	}

	*version++
	cp := &store.Checkpoint{
		ID:        newCheckpointID(),
		ThreadID:  threadID,
		NodeName:  nodeName,
		Next:      slices.Clone(next),
		State:     state,
		Metadata:  metadata,
		Timestamp: time.Now(),
		Version:   *version,
		ParentID:  *parentID,
	}

	if err := r.checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	*parentID = cp.ID
	return nil
}

// GetState returns the snapshot addressed by the config: the checkpoint
// named by checkpoint_id, or the latest checkpoint of the thread.
func (r *Runnable) GetState(ctx context.Context, config *Config) (*StateSnapshot, error) {
	if r.checkpoints == nil {
		return nil, fmt.Errorf("no checkpoint store attached")
	}

	var cp *store.Checkpoint
	var err error

	if checkpointID := config.CheckpointID(); checkpointID != "" {
		cp, err = r.checkpoints.Load(ctx, checkpointID)
	} else if threadID := config.ThreadID(); threadID != "" {
		cp, err = r.checkpoints.Latest(ctx, threadID)
	} else {
		return nil, fmt.Errorf("config must provide thread_id or checkpoint_id")
	}
	if err != nil {
		return nil, err
	}

	return snapshotFromCheckpoint(cp), nil
}

// GetStateHistory returns all snapshots of the thread, most recent first.
func (r *Runnable) GetStateHistory(ctx context.Context, config *Config) ([]*StateSnapshot, error) {
	if r.checkpoints == nil {
		return nil, fmt.Errorf("no checkpoint store attached")
	}
	threadID := config.ThreadID()
	if threadID == "" {
		return nil, fmt.Errorf("config must provide thread_id")
	}

	checkpoints, err := r.checkpoints.List(ctx, threadID)
	if err != nil {
		return nil, err
	}

	snapshots := make([]*StateSnapshot, 0, len(checkpoints))
	for _, cp := range checkpoints {
		snapshots = append(snapshots, snapshotFromCheckpoint(cp))
	}
	return snapshots, nil
}

// UpdateState merges the given values into the latest state of the
// thread through the schema, persists a new checkpoint attributed to
// asNode, and returns a config addressing it.
func (r *Runnable) UpdateState(ctx context.Context, config *Config, values map[string]any, asNode string) (*Config, error) {
	if r.checkpoints == nil {
		return nil, fmt.Errorf("no checkpoint store attached")
	}
	threadID := config.ThreadID()
	if threadID == "" {
		return nil, fmt.Errorf("config must provide thread_id")
	}

	current := r.initState()
	version := 0
	parentID := ""
	var next []string

	latest, err := r.checkpoints.Latest(ctx, threadID)
	switch {
	case err == nil:
		current = latest.State
		version = latest.Version
		parentID = latest.ID
		next = latest.Next
	case errors.Is(err, store.ErrNotFound):
		// First write on this thread
	default:
		return nil, err
	}

	newState, err := r.mergeUpdate(current, values)
	if err != nil {
		return nil, err
	}

	cp := &store.Checkpoint{
		ID:       newCheckpointID(),
		ThreadID: threadID,
		NodeName: asNode,
		Next:     next,
		State:    newState,
		Metadata: map[string]any{
			"source":     "update",
			"updated_by": asNode,
		},
		Timestamp: time.Now(),
		Version:   version + 1,
		ParentID:  parentID,
	}

	if err := r.checkpoints.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return &Config{
		Configurable: map[string]any{
			"thread_id":     threadID,
			"checkpoint_id": cp.ID,
		},
	}, nil
}

func snapshotFromCheckpoint(cp *store.Checkpoint) *StateSnapshot {
	snapshot := &StateSnapshot{
		Values: cp.State,
		Next:   cp.Next,
		Config: Config{
			Configurable: map[string]any{
				"thread_id":     cp.ThreadID,
				"checkpoint_id": cp.ID,
			},
		},
		Metadata:  cp.Metadata,
		CreatedAt: cp.Timestamp,
	}
	if cp.ParentID != "" {
		snapshot.ParentConfig = &Config{
			Configurable: map[string]any{
				"thread_id":     cp.ThreadID,
				"checkpoint_id": cp.ParentID,
			},
		}
	}
	return snapshot
}

func runNode(ctx context.Context, node Node, state map[string]any) (result map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in node %s: %v", node.Name, p)
		}
	}()
	return node.Function(ctx, state)
}

func interruptMatches(patterns, nodes []string) string {
	if len(patterns) == 0 {
		return ""
	}
	for _, node := range nodes {
		if slices.Contains(patterns, InterruptAll) || slices.Contains(patterns, node) {
			return node
		}
	}
	return ""
}

func dropEnd(nodes []string) []string {
	out := nodes[:0]
	for _, n := range nodes {
		if n != END {
			out = append(out, n)
		}
	}
	return out
}

func appendUnique(dst, src []string) []string {
	for _, s := range src {
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func stepName(ran []string) string {
	if len(ran) == 1 {
		return ran[0]
	}
	return fmt.Sprintf("step:%v", ran)
}

func filterKeys(state map[string]any, keys []string) map[string]any {
	if len(keys) == 0 || state == nil {
		return state
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := state[k]; ok {
			out[k] = v
		}
	}
	return out
}

func newCheckpointID() string {
	return fmt.Sprintf("checkpoint_%s", uuid.New().String())
}
