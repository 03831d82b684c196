// Package memory provides an in-memory checkpoint store, suitable for
// tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/graphserve-ai/graphserve/store"
)

// MemoryCheckpointStore implements store.CheckpointStore in memory
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*store.Checkpoint
	byThread    map[string][]string
}

var _ store.CheckpointStore = (*MemoryCheckpointStore)(nil)

// NewMemoryCheckpointStore creates a new in-memory checkpoint store
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]*store.Checkpoint),
		byThread:    make(map[string][]string),
	}
}

// Save stores a checkpoint
func (s *MemoryCheckpointStore) Save(_ context.Context, checkpoint *store.Checkpoint) error {
	if checkpoint.ID == "" {
		return fmt.Errorf("checkpoint ID must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.checkpoints[checkpoint.ID]; !exists && checkpoint.ThreadID != "" {
		s.byThread[checkpoint.ThreadID] = append(s.byThread[checkpoint.ThreadID], checkpoint.ID)
	}

	cp := *checkpoint
	s.checkpoints[checkpoint.ID] = &cp
	return nil
}

// Load retrieves a checkpoint by ID
func (s *MemoryCheckpointStore) Load(_ context.Context, checkpointID string) (*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, checkpointID)
	}
	out := *cp
	return &out, nil
}

// List returns all checkpoints for a thread, most recent first
func (s *MemoryCheckpointStore) List(_ context.Context, threadID string) ([]*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byThread[threadID]
	checkpoints := make([]*store.Checkpoint, 0, len(ids))
	for _, id := range ids {
		if cp, ok := s.checkpoints[id]; ok {
			out := *cp
			checkpoints = append(checkpoints, &out)
		}
	}

	sort.SliceStable(checkpoints, func(i, j int) bool {
		return checkpoints[i].Version > checkpoints[j].Version
	})

	return checkpoints, nil
}

// Latest returns the most recent checkpoint for a thread
func (s *MemoryCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	checkpoints, err := s.List(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, fmt.Errorf("%w: no checkpoints for thread %s", store.ErrNotFound, threadID)
	}
	return checkpoints[0], nil
}

// Delete removes a checkpoint
func (s *MemoryCheckpointStore) Delete(_ context.Context, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, checkpointID)
	}
	delete(s.checkpoints, checkpointID)

	ids := s.byThread[cp.ThreadID]
	for i, id := range ids {
		if id == checkpointID {
			s.byThread[cp.ThreadID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Clear removes all checkpoints for a thread
func (s *MemoryCheckpointStore) Clear(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byThread[threadID] {
		delete(s.checkpoints, id)
	}
	delete(s.byThread, threadID)
	return nil
}
