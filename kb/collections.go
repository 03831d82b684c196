package kb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PoolOptions configures the Postgres connection pool.
type PoolOptions struct {
	ConnString string

	// MinConns and MaxConns default to 1 and 10.
	MinConns int32
	MaxConns int32
}

// NewPool creates a pgx connection pool for the knowledge base. The
// caller owns the pool and closes it explicitly.
func NewPool(ctx context.Context, opts PoolOptions) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	config.MinConns = opts.MinConns
	if config.MinConns == 0 {
		config.MinConns = 1
	}
	config.MaxConns = opts.MaxConns
	if config.MaxConns == 0 {
		config.MaxConns = 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return pool, nil
}

// CollectionService manages document collections.
type CollectionService struct {
	pool DBPool
}

// NewCollectionService creates a collection service over the pool.
func NewCollectionService(pool DBPool) *CollectionService {
	return &CollectionService{pool: pool}
}

// InitSchema creates the pgvector extension and the knowledge base
// tables if they don't exist.
func (s *CollectionService) InitSchema(ctx context.Context) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS kb_collections (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS kb_documents (
			id UUID PRIMARY KEY,
			collection_id UUID NOT NULL REFERENCES kb_collections(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			embeddings vector,
			uri TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (collection_id, title)
		);
		CREATE INDEX IF NOT EXISTS idx_kb_documents_collection_id ON kb_documents (collection_id);
	`

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create knowledge base schema: %w", err)
	}
	return nil
}

// CreateCollection creates a collection. The name is slugified.
func (s *CollectionService) CreateCollection(ctx context.Context, name, description string) (*Collection, error) {
	collection := &Collection{
		ID:          uuid.New(),
		Name:        Slugify(name),
		Description: description,
	}

	query := `
		INSERT INTO kb_collections (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query, collection.ID, collection.Name, collection.Description).
		Scan(&collection.CreatedAt, &collection.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return collection, nil
}

// GetCollection returns the collection with the given ID.
func (s *CollectionService) GetCollection(ctx context.Context, id uuid.UUID) (*Collection, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM kb_collections
		WHERE id = $1
	`
	return s.scanCollection(s.pool.QueryRow(ctx, query, id))
}

// GetCollectionByName returns the collection with the given slugified name.
func (s *CollectionService) GetCollectionByName(ctx context.Context, name string) (*Collection, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM kb_collections
		WHERE name = $1
	`
	return s.scanCollection(s.pool.QueryRow(ctx, query, Slugify(name)))
}

// CollectionList is a paginated collection listing with the total count.
type CollectionList struct {
	Count    int          `json:"count"`
	Response []Collection `json:"response"`
}

// ListCollections returns collections ordered by last update, with the
// total count.
func (s *CollectionService) ListCollections(ctx context.Context, limit, offset int) (*CollectionList, error) {
	if limit <= 0 {
		limit = 10
	}

	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM kb_collections`).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count collections: %w", err)
	}

	query := `
		SELECT id, name, description, created_at, updated_at
		FROM kb_collections
		ORDER BY updated_at
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	list := &CollectionList{Count: count, Response: []Collection{}}
	for rows.Next() {
		var c Collection
		var description *string
		if err := rows.Scan(&c.ID, &c.Name, &description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		if description != nil {
			c.Description = *description
		}
		list.Response = append(list.Response, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collections: %w", err)
	}

	return list, nil
}

// UpdateCollection updates name and description. The name is slugified.
func (s *CollectionService) UpdateCollection(ctx context.Context, id uuid.UUID, name, description string) (*Collection, error) {
	query := `
		UPDATE kb_collections
		SET name = $2, description = $3, updated_at = now()
		WHERE id = $1
		RETURNING id, name, description, created_at, updated_at
	`
	return s.scanCollection(s.pool.QueryRow(ctx, query, id, Slugify(name), description))
}

// DeleteCollection removes the collection and, by cascade, its documents.
func (s *CollectionService) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM kb_collections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: collection %s", ErrNotFound, id)
	}
	return nil
}

// ResetCollection removes all documents from the collection, keeping
// the collection itself.
func (s *CollectionService) ResetCollection(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetCollection(ctx, id); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM kb_documents WHERE collection_id = $1`, id); err != nil {
		return fmt.Errorf("failed to reset collection: %w", err)
	}
	return nil
}

func (s *CollectionService) scanCollection(row pgx.Row) (*Collection, error) {
	var c Collection
	var description *string

	err := row.Scan(&c.ID, &c.Name, &description, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: collection", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	if description != nil {
		c.Description = *description
	}
	return &c, nil
}
