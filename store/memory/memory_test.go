package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphserve-ai/graphserve/store"
)

func newCheckpoint(id, threadID string, version int) *store.Checkpoint {
	return &store.Checkpoint{
		ID:        id,
		ThreadID:  threadID,
		NodeName:  "node",
		Next:      []string{"next_node"},
		State:     map[string]any{"value": version},
		Timestamp: time.Now(),
		Version:   version,
	}
}

func TestMemoryStoreSaveAndLoad(t *testing.T) {
	s := NewMemoryCheckpointStore()
	ctx := context.Background()

	cp := newCheckpoint("cp-1", "thread-1", 1)
	require.NoError(t, s.Save(ctx, cp))

	loaded, err := s.Load(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", loaded.ID)
	assert.Equal(t, "thread-1", loaded.ThreadID)
	assert.Equal(t, []string{"next_node"}, loaded.Next)
}

func TestMemoryStoreLoadNotFound(t *testing.T) {
	s := NewMemoryCheckpointStore()

	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStoreSaveEmptyID(t *testing.T) {
	s := NewMemoryCheckpointStore()

	err := s.Save(context.Background(), &store.Checkpoint{ThreadID: "thread-1"})
	assert.Error(t, err)
}

func TestMemoryStoreListOrderedByVersion(t *testing.T) {
	s := NewMemoryCheckpointStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newCheckpoint("cp-1", "thread-1", 1)))
	require.NoError(t, s.Save(ctx, newCheckpoint("cp-3", "thread-1", 3)))
	require.NoError(t, s.Save(ctx, newCheckpoint("cp-2", "thread-1", 2)))
	require.NoError(t, s.Save(ctx, newCheckpoint("cp-other", "thread-2", 1)))

	checkpoints, err := s.List(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, checkpoints, 3)
	assert.Equal(t, "cp-3", checkpoints[0].ID)
	assert.Equal(t, "cp-2", checkpoints[1].ID)
	assert.Equal(t, "cp-1", checkpoints[2].ID)
}

func TestMemoryStoreLatest(t *testing.T) {
	s := NewMemoryCheckpointStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newCheckpoint("cp-1", "thread-1", 1)))
	require.NoError(t, s.Save(ctx, newCheckpoint("cp-2", "thread-1", 2)))

	latest, err := s.Latest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-2", latest.ID)

	_, err = s.Latest(ctx, "empty-thread")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStoreSaveOverwrites(t *testing.T) {
	s := NewMemoryCheckpointStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newCheckpoint("cp-1", "thread-1", 1)))

	updated := newCheckpoint("cp-1", "thread-1", 1)
	updated.State = map[string]any{"value": "updated"}
	require.NoError(t, s.Save(ctx, updated))

	loaded, err := s.Load(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "updated", loaded.State["value"])

	checkpoints, err := s.List(ctx, "thread-1")
	require.NoError(t, err)
	assert.Len(t, checkpoints, 1)
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryCheckpointStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newCheckpoint("cp-1", "thread-1", 1)))
	require.NoError(t, s.Delete(ctx, "cp-1"))

	_, err := s.Load(ctx, "cp-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	checkpoints, err := s.List(ctx, "thread-1")
	require.NoError(t, err)
	assert.Empty(t, checkpoints)

	assert.ErrorIs(t, s.Delete(ctx, "cp-1"), store.ErrNotFound)
}

func TestMemoryStoreClear(t *testing.T) {
	s := NewMemoryCheckpointStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newCheckpoint("cp-1", "thread-1", 1)))
	require.NoError(t, s.Save(ctx, newCheckpoint("cp-2", "thread-1", 2)))
	require.NoError(t, s.Save(ctx, newCheckpoint("cp-3", "thread-2", 1)))

	require.NoError(t, s.Clear(ctx, "thread-1"))

	checkpoints, err := s.List(ctx, "thread-1")
	require.NoError(t, err)
	assert.Empty(t, checkpoints)

	other, err := s.List(ctx, "thread-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestMemoryStoreLoadReturnsCopy(t *testing.T) {
	s := NewMemoryCheckpointStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newCheckpoint("cp-1", "thread-1", 1)))

	loaded, err := s.Load(ctx, "cp-1")
	require.NoError(t, err)
	loaded.NodeName = "mutated"

	reloaded, err := s.Load(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "node", reloaded.NodeName)
}
