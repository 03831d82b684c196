// Package kb is a pgvector-backed knowledge base: collections of
// documents with embeddings, similarity search, and a retriever
// adapter for chains.
package kb

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Collection groups documents under a unique slugified name.
type Collection struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Document is a single entry in a collection. Embeddings are generated
// from Content before every persist.
type Document struct {
	ID           uuid.UUID      `json:"id"`
	CollectionID uuid.UUID      `json:"collection_id"`
	Title        string         `json:"title"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Embeddings   []float32      `json:"embeddings,omitempty"`
	URI          string         `json:"uri,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ScoredDocument pairs a document with its raw distance to the query
// embedding. Smaller distance means more similar.
type ScoredDocument struct {
	Document
	Distance float64 `json:"distance"`
}

var (
	slugInvalid  = regexp.MustCompile(`[^a-z0-9]+`)
	slugTrimDash = regexp.MustCompile(`^-+|-+$`)
)

// Slugify normalizes a name to lowercase ASCII words joined by dashes,
// matching how collection and document names are stored.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugInvalid.ReplaceAllString(s, "-")
	return slugTrimDash.ReplaceAllString(s, "")
}
