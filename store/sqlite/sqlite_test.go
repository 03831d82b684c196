package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphserve-ai/graphserve/store"
)

func newTestStore(t *testing.T) *SQLiteCheckpointStore {
	t.Helper()
	s, err := NewSQLiteCheckpointStore(SQLiteOptions{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteCheckpointStoreSaveLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := &store.Checkpoint{
		ID:        "cp-1",
		ThreadID:  "thread-1",
		NodeName:  "node-a",
		Next:      []string{"node-b", "node-c"},
		State:     map[string]any{"foo": "bar"},
		Metadata:  map[string]any{"step": float64(1)},
		Timestamp: time.Now().UTC(),
		Version:   1,
	}

	require.NoError(t, s.Save(ctx, cp))

	loaded, err := s.Load(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", loaded.ID)
	assert.Equal(t, "thread-1", loaded.ThreadID)
	assert.Equal(t, []string{"node-b", "node-c"}, loaded.Next)
	assert.Equal(t, "bar", loaded.State["foo"])
	assert.Equal(t, float64(1), loaded.Metadata["step"])
}

func TestSQLiteCheckpointStoreUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := &store.Checkpoint{
		ID:        "cp-1",
		ThreadID:  "thread-1",
		NodeName:  "node-a",
		State:     map[string]any{"foo": "bar"},
		Timestamp: time.Now().UTC(),
		Version:   1,
	}
	require.NoError(t, s.Save(ctx, cp))

	cp.State = map[string]any{"foo": "baz"}
	require.NoError(t, s.Save(ctx, cp))

	loaded, err := s.Load(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "baz", loaded.State["foo"])

	list, err := s.List(ctx, "thread-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteCheckpointStoreListAndLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var parentID string
	for i := 1; i <= 3; i++ {
		cp := &store.Checkpoint{
			ID:        fmt.Sprintf("cp-%d", i),
			ThreadID:  "thread-1",
			NodeName:  "node",
			State:     map[string]any{"step": float64(i)},
			Timestamp: time.Now().UTC(),
			Version:   i,
			ParentID:  parentID,
		}
		require.NoError(t, s.Save(ctx, cp))
		parentID = cp.ID
	}

	list, err := s.List(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "cp-3", list[0].ID)
	assert.Equal(t, "cp-2", list[0].ParentID)
	assert.Equal(t, "cp-1", list[2].ID)

	latest, err := s.Latest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-3", latest.ID)
}

func TestSQLiteCheckpointStoreNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Latest(ctx, "missing-thread")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "missing"), store.ErrNotFound)
}

func TestSQLiteCheckpointStoreDeleteAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		cp := &store.Checkpoint{
			ID:        fmt.Sprintf("cp-%d", i),
			ThreadID:  "thread-1",
			NodeName:  "node",
			State:     map[string]any{},
			Timestamp: time.Now().UTC(),
			Version:   i,
		}
		require.NoError(t, s.Save(ctx, cp))
	}

	require.NoError(t, s.Delete(ctx, "cp-1"))
	list, err := s.List(ctx, "thread-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Clear(ctx, "thread-1"))
	list, err = s.List(ctx, "thread-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}
