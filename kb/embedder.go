package kb

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder generates vector embeddings for documents and queries.
type Embedder interface {
	// EmbedDocuments returns one embedding per input text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery returns the embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector length.
	Dimension() int
}

// openaiEmbeddingClient is the part of the OpenAI client used here,
// extracted so tests can substitute it.
type openaiEmbeddingClient interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIOptions configures an OpenAIEmbedder.
type OpenAIOptions struct {
	APIKey string

	// Model defaults to text-embedding-3-small.
	Model openai.EmbeddingModel

	// Dimension defaults to 1536.
	Dimension int
}

// OpenAIEmbedder implements Embedder using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    openaiEmbeddingClient
	model     openai.EmbeddingModel
	dimension int
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder backed by the OpenAI API.
func NewOpenAIEmbedder(opts OpenAIOptions) *OpenAIEmbedder {
	model := opts.Model
	if model == "" {
		model = openai.SmallEmbedding3
	}
	dimension := opts.Dimension
	if dimension == 0 {
		dimension = 1536
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(opts.APIKey),
		model:     model,
		dimension: dimension,
	}
}

// EmbedDocuments returns one embedding per input text.
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, &EmbeddingError{Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))}
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		embeddings[i] = item.Embedding
	}
	return embeddings, nil
}

// EmbedQuery returns the embedding for a single query.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// Dimension returns the embedding vector length.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}
