// Package sqlite provides a SQLite-backed checkpoint store, suitable
// for single-process deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/graphserve-ai/graphserve/store"
)

// SQLiteCheckpointStore implements store.CheckpointStore using SQLite
type SQLiteCheckpointStore struct {
	db        *sql.DB
	tableName string
}

var _ store.CheckpointStore = (*SQLiteCheckpointStore)(nil)

// SQLiteOptions configuration for SQLite connection
type SQLiteOptions struct {
	Path      string // Database file path, ":memory:" for in-memory
	TableName string // Table name, default "checkpoints"
}

// NewSQLiteCheckpointStore creates a new SQLite checkpoint store
func NewSQLiteCheckpointStore(opts SQLiteOptions) (*SQLiteCheckpointStore, error) {
	if opts.Path == "" {
		opts.Path = ":memory:"
	}
	if opts.TableName == "" {
		opts.TableName = "checkpoints"
	}

	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	s := &SQLiteCheckpointStore{
		db:        db,
		tableName: opts.TableName,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteCheckpointStore) initSchema() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			node_name TEXT,
			next TEXT,
			state TEXT NOT NULL,
			metadata TEXT,
			timestamp DATETIME NOT NULL,
			version INTEGER NOT NULL,
			parent_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_%s_thread_id ON %s(thread_id);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return nil
}

// Save stores a checkpoint
func (s *SQLiteCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	stateJSON, err := json.Marshal(checkpoint.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	metadataJSON, err := json.Marshal(checkpoint.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	nextJSON, err := json.Marshal(checkpoint.Next)
	if err != nil {
		return fmt.Errorf("failed to marshal next nodes: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, node_name, next, state, metadata, timestamp, version, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			thread_id = excluded.thread_id,
			node_name = excluded.node_name,
			next = excluded.next,
			state = excluded.state,
			metadata = excluded.metadata,
			timestamp = excluded.timestamp,
			version = excluded.version,
			parent_id = excluded.parent_id
	`, s.tableName)

	_, err = s.db.ExecContext(ctx, query,
		checkpoint.ID,
		checkpoint.ThreadID,
		checkpoint.NodeName,
		string(nextJSON),
		string(stateJSON),
		string(metadataJSON),
		checkpoint.Timestamp,
		checkpoint.Version,
		checkpoint.ParentID,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

// Load retrieves a checkpoint by ID
func (s *SQLiteCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, node_name, next, state, metadata, timestamp, version, parent_id
		FROM %s WHERE id = ?
	`, s.tableName)

	row := s.db.QueryRowContext(ctx, query, checkpointID)
	checkpoint, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, checkpointID)
		}
		return nil, err
	}

	return checkpoint, nil
}

// List returns all checkpoints for a thread, most recent first
func (s *SQLiteCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, node_name, next, state, metadata, timestamp, version, parent_id
		FROM %s WHERE thread_id = ?
		ORDER BY version DESC
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []*store.Checkpoint{}
	for rows.Next() {
		checkpoint, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, checkpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}

	return checkpoints, nil
}

// Latest returns the most recent checkpoint for a thread
func (s *SQLiteCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, node_name, next, state, metadata, timestamp, version, parent_id
		FROM %s WHERE thread_id = ?
		ORDER BY version DESC LIMIT 1
	`, s.tableName)

	row := s.db.QueryRowContext(ctx, query, threadID)
	checkpoint, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no checkpoints for thread %s", store.ErrNotFound, threadID)
		}
		return nil, err
	}

	return checkpoint, nil
}

// Delete removes a checkpoint
func (s *SQLiteCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.tableName)

	result, err := s.db.ExecContext(ctx, query, checkpointID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, checkpointID)
	}

	return nil
}

// Clear removes all checkpoints for a thread
func (s *SQLiteCheckpointStore) Clear(ctx context.Context, threadID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE thread_id = ?`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}

	return nil
}

// Close closes the underlying database connection
func (s *SQLiteCheckpointStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*store.Checkpoint, error) {
	var checkpoint store.Checkpoint
	var nextJSON, stateJSON, metadataJSON string
	var timestamp time.Time

	err := row.Scan(
		&checkpoint.ID,
		&checkpoint.ThreadID,
		&checkpoint.NodeName,
		&nextJSON,
		&stateJSON,
		&metadataJSON,
		&timestamp,
		&checkpoint.Version,
		&checkpoint.ParentID,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(nextJSON), &checkpoint.Next); err != nil {
		return nil, fmt.Errorf("failed to unmarshal next nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &checkpoint.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &checkpoint.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	checkpoint.Timestamp = timestamp

	return &checkpoint, nil
}
