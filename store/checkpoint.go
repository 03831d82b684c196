package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a checkpoint cannot be located.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint represents a saved graph state at a specific point in execution
type Checkpoint struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	NodeName  string         `json:"node_name"`
	Next      []string       `json:"next"`
	State     map[string]any `json:"state"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
	Version   int            `json:"version"`
	ParentID  string         `json:"parent_id,omitempty"`
}

// CheckpointStore defines the interface for checkpoint persistence
type CheckpointStore interface {
	// Save stores a checkpoint
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// Load retrieves a checkpoint by ID
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// List returns all checkpoints for a thread, most recent first
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Latest returns the most recent checkpoint for a thread
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// Delete removes a checkpoint
	Delete(ctx context.Context, checkpointID string) error

	// Clear removes all checkpoints for a thread
	Clear(ctx context.Context, threadID string) error
}
