package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DocumentService manages the documents of a single collection. All
// writes regenerate the document embedding from its content first, so
// stored vectors never drift from the stored text. An embedding
// failure aborts the write.
type DocumentService struct {
	pool       DBPool
	embedder   Embedder
	collection *Collection
}

// NewDocumentService creates a document service scoped to the collection.
func NewDocumentService(pool DBPool, embedder Embedder, collection *Collection) *DocumentService {
	return &DocumentService{pool: pool, embedder: embedder, collection: collection}
}

// ForCollection resolves the collection by name and returns a document
// service scoped to it.
func ForCollection(ctx context.Context, pool DBPool, embedder Embedder, name string) (*DocumentService, error) {
	collection, err := NewCollectionService(pool).GetCollectionByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewDocumentService(pool, embedder, collection), nil
}

// Collection returns the collection this service is scoped to.
func (s *DocumentService) Collection() *Collection {
	return s.collection
}

// CreateDocument embeds the document content and inserts it. The title
// is slugified.
func (s *DocumentService) CreateDocument(ctx context.Context, doc *Document) (*Document, error) {
	if err := s.embed(ctx, doc); err != nil {
		return nil, err
	}

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.CollectionID = s.collection.ID
	doc.Title = Slugify(doc.Title)

	metadata, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO kb_documents (id, collection_id, title, content, metadata, embeddings, uri)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7)
		RETURNING created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		doc.ID, doc.CollectionID, doc.Title, doc.Content, metadata, vectorLiteral(doc.Embeddings), doc.URI).
		Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return doc, nil
}

// UpdateDocument re-embeds the content and updates the stored document.
func (s *DocumentService) UpdateDocument(ctx context.Context, doc *Document) (*Document, error) {
	if err := s.embed(ctx, doc); err != nil {
		return nil, err
	}

	doc.Title = Slugify(doc.Title)

	metadata, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE kb_documents
		SET title = $3, content = $4, metadata = $5, embeddings = $6::vector, uri = $7, updated_at = now()
		WHERE id = $1 AND collection_id = $2
		RETURNING created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		doc.ID, s.collection.ID, doc.Title, doc.Content, metadata, vectorLiteral(doc.Embeddings), doc.URI).
		Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: document %s", ErrNotFound, doc.ID)
		}
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	doc.CollectionID = s.collection.ID
	return doc, nil
}

// GetDocument returns the document with the given ID from the collection.
func (s *DocumentService) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `
		SELECT id, collection_id, title, content, metadata, embeddings::text, uri, created_at, updated_at
		FROM kb_documents
		WHERE id = $1 AND collection_id = $2
	`
	rows, err := s.pool.Query(ctx, query, id, s.collection.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to load document: %w", err)
		}
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}

	return scanDocument(rows)
}

// DocumentList is a paginated document listing with the total count for
// the collection.
type DocumentList struct {
	Count    int        `json:"count"`
	Response []Document `json:"response"`
}

// ListDocuments returns the collection's documents ordered by title,
// with the total count.
func (s *DocumentService) ListDocuments(ctx context.Context, limit, offset int) (*DocumentList, error) {
	if limit <= 0 {
		limit = 10
	}

	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM kb_documents WHERE collection_id = $1`, s.collection.ID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	query := `
		SELECT id, collection_id, title, content, metadata, embeddings::text, uri, created_at, updated_at
		FROM kb_documents
		WHERE collection_id = $1
		ORDER BY title
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query, s.collection.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	list := &DocumentList{Count: count, Response: []Document{}}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		list.Response = append(list.Response, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return list, nil
}

// DeleteDocument removes the document from the collection.
func (s *DocumentService) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM kb_documents WHERE id = $1 AND collection_id = $2`, id, s.collection.ID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return nil
}

// BulkCreateDocuments embeds all document contents, then inserts them
// in a single transaction. If any embedding or insert fails, nothing is
// written.
func (s *DocumentService) BulkCreateDocuments(ctx context.Context, docs []*Document) ([]*Document, error) {
	if len(docs) == 0 {
		return docs, nil
	}
	if err := s.embedAll(ctx, docs); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO kb_documents (id, collection_id, title, content, metadata, embeddings, uri)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7)
		RETURNING created_at, updated_at
	`
	for _, doc := range docs {
		if doc.ID == uuid.Nil {
			doc.ID = uuid.New()
		}
		doc.CollectionID = s.collection.ID
		doc.Title = Slugify(doc.Title)

		metadata, err := marshalMetadata(doc.Metadata)
		if err != nil {
			return nil, err
		}
		err = tx.QueryRow(ctx, query,
			doc.ID, doc.CollectionID, doc.Title, doc.Content, metadata, vectorLiteral(doc.Embeddings), doc.URI).
			Scan(&doc.CreatedAt, &doc.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to create document %s: %w", doc.Title, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return docs, nil
}

// BulkUpdateDocuments embeds all document contents, then updates them
// in a single transaction. A missing document fails the whole batch.
func (s *DocumentService) BulkUpdateDocuments(ctx context.Context, docs []*Document) ([]*Document, error) {
	if len(docs) == 0 {
		return docs, nil
	}
	if err := s.embedAll(ctx, docs); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE kb_documents
		SET title = $3, content = $4, metadata = $5, embeddings = $6::vector, uri = $7, updated_at = now()
		WHERE id = $1 AND collection_id = $2
		RETURNING created_at, updated_at
	`
	for _, doc := range docs {
		doc.Title = Slugify(doc.Title)

		metadata, err := marshalMetadata(doc.Metadata)
		if err != nil {
			return nil, err
		}
		err = tx.QueryRow(ctx, query,
			doc.ID, s.collection.ID, doc.Title, doc.Content, metadata, vectorLiteral(doc.Embeddings), doc.URI).
			Scan(&doc.CreatedAt, &doc.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: document %s", ErrNotFound, doc.ID)
			}
			return nil, fmt.Errorf("failed to update document %s: %w", doc.ID, err)
		}
		doc.CollectionID = s.collection.ID
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return docs, nil
}

// BulkDeleteDocuments removes the documents in a single transaction. A
// missing document fails the whole batch.
func (s *DocumentService) BulkDeleteDocuments(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, id := range ids {
		tag, err := tx.Exec(ctx,
			`DELETE FROM kb_documents WHERE id = $1 AND collection_id = $2`, id, s.collection.ID)
		if err != nil {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: document %s", ErrNotFound, id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SimilaritySearch embeds the query and returns the topK closest
// documents in the collection by vector distance, closest first.
func (s *DocumentService) SimilaritySearch(ctx context.Context, query string, topK int) ([]Document, error) {
	scored, err := s.SimilaritySearchWithScores(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(scored))
	for i, sd := range scored {
		docs[i] = sd.Document
	}
	return docs, nil
}

// SimilaritySearchWithScores is SimilaritySearch with each document's
// vector distance attached.
func (s *DocumentService) SimilaritySearchWithScores(ctx context.Context, query string, topK int) ([]ScoredDocument, error) {
	if topK <= 0 {
		topK = 4
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	sql := `
		SELECT id, collection_id, title, content, metadata, uri, created_at, updated_at,
			embeddings <-> $1::vector AS distance
		FROM kb_documents
		WHERE collection_id = $2
		ORDER BY distance
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, sql, vectorLiteral(vector), s.collection.ID, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []ScoredDocument
	for rows.Next() {
		var sd ScoredDocument
		var metadata []byte
		var uri *string
		err := rows.Scan(&sd.ID, &sd.CollectionID, &sd.Title, &sd.Content, &metadata, &uri,
			&sd.CreatedAt, &sd.UpdatedAt, &sd.Distance)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if err := unmarshalMetadata(metadata, &sd.Metadata); err != nil {
			return nil, err
		}
		if uri != nil {
			sd.URI = *uri
		}
		results = append(results, sd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}

	return results, nil
}

func (s *DocumentService) embed(ctx context.Context, doc *Document) error {
	vectors, err := s.embedder.EmbedDocuments(ctx, []string{doc.Content})
	if err != nil {
		return err
	}
	doc.Embeddings = vectors[0]
	return nil
}

func (s *DocumentService) embedAll(ctx context.Context, docs []*Document) error {
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	for i, doc := range docs {
		doc.Embeddings = vectors[i]
	}
	return nil
}

func scanDocument(rows pgx.Rows) (*Document, error) {
	var doc Document
	var metadata []byte
	var embeddings, uri *string

	err := rows.Scan(&doc.ID, &doc.CollectionID, &doc.Title, &doc.Content, &metadata, &embeddings,
		&uri, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	if err := unmarshalMetadata(metadata, &doc.Metadata); err != nil {
		return nil, err
	}
	if embeddings != nil {
		doc.Embeddings, err = parseVector(*embeddings)
		if err != nil {
			return nil, err
		}
	}
	if uri != nil {
		doc.URI = *uri
	}
	return &doc, nil
}

// vectorLiteral renders a vector in the pgvector text format, e.g.
// "[0.1,0.2,0.3]".
func vectorLiteral(vector []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector reads the pgvector text format back into a vector.
func parseVector(literal string) ([]float32, error) {
	s := strings.TrimSpace(literal)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	vector := make([]float32, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector element %q: %w", part, err)
		}
		vector[i] = float32(v)
	}
	return vector, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte, out *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}
