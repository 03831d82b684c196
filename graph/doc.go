// Package graph provides the state graph model and its execution engine.
//
// A StateGraph is a set of named nodes connected by static and conditional
// edges. State is a map merged key by key through the schema's reducers; the
// messages key uses AddMessages, which upserts by message ID and deduplicates
// by content. Compile validates the graph and returns a Runnable, which
// supports Invoke, Stream, interrupts with resume, and per-thread
// checkpointing through a store.CheckpointStore.
package graph
