package kb

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/schema"
)

// Search types supported by the retriever.
const (
	SearchSimilarity           = "similarity_search"
	SearchSimilarityWithScores = "similarity_search_with_relevance_scores"
)

// DefaultTopK is the number of documents retrieved when none is configured.
const DefaultTopK = 4

type similaritySearcher interface {
	SimilaritySearch(ctx context.Context, query string, topK int) ([]Document, error)
	SimilaritySearchWithScores(ctx context.Context, query string, topK int) ([]ScoredDocument, error)
}

// PgVectorRetriever exposes a collection's similarity search as a
// langchaingo retriever, so compiled graphs can plug the knowledge base
// into their RAG nodes.
type PgVectorRetriever struct {
	searcher   similaritySearcher
	searchType string
	topK       int
}

var _ schema.Retriever = (*PgVectorRetriever)(nil)

// NewRetriever creates a retriever over the document service. The
// search type must be one of SearchSimilarity or
// SearchSimilarityWithScores. topK <= 0 falls back to DefaultTopK.
func NewRetriever(docs *DocumentService, searchType string, topK int) (*PgVectorRetriever, error) {
	return newRetriever(docs, searchType, topK)
}

func newRetriever(searcher similaritySearcher, searchType string, topK int) (*PgVectorRetriever, error) {
	switch searchType {
	case SearchSimilarity, SearchSimilarityWithScores:
	default:
		return nil, &ValidationError{
			Message: fmt.Sprintf("unsupported search type %q, expected %q or %q",
				searchType, SearchSimilarity, SearchSimilarityWithScores),
		}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &PgVectorRetriever{searcher: searcher, searchType: searchType, topK: topK}, nil
}

// GetRelevantDocuments returns the documents closest to the query,
// closest first. With the scored search type each document carries its
// vector distance in the "relevance_score" metadata key.
func (r *PgVectorRetriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	if r.searchType == SearchSimilarityWithScores {
		scored, err := r.searcher.SimilaritySearchWithScores(ctx, query, r.topK)
		if err != nil {
			return nil, err
		}
		results := make([]schema.Document, len(scored))
		for i, sd := range scored {
			doc := schemaDocument(sd.Document)
			doc.Metadata["relevance_score"] = sd.Distance
			doc.Score = float32(sd.Distance)
			results[i] = doc
		}
		return results, nil
	}

	docs, err := r.searcher.SimilaritySearch(ctx, query, r.topK)
	if err != nil {
		return nil, err
	}
	results := make([]schema.Document, len(docs))
	for i, doc := range docs {
		results[i] = schemaDocument(doc)
	}
	return results, nil
}

func schemaDocument(doc Document) schema.Document {
	metadata := map[string]any{
		"id":            doc.ID.String(),
		"collection_id": doc.CollectionID.String(),
		"title":         doc.Title,
	}
	if doc.URI != "" {
		metadata["uri"] = doc.URI
	}
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	return schema.Document{PageContent: doc.Content, Metadata: metadata}
}
