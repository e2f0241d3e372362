package rag

import (
	"context"
	"fmt"

	"roomrag/internal/vectorstore"
)

// Embedder generates embedding vectors for query text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs similarity search over the vector store: it embeds the query
// once and delegates filtering, threshold cutoff, and ranking to the store.
type Searcher struct {
	embedder Embedder
	store    vectorstore.VectorStore
}

// NewSearcher creates a searcher.
func NewSearcher(embedder Embedder, store vectorstore.VectorStore) *Searcher {
	return &Searcher{embedder: embedder, store: store}
}

// Search embeds the query and returns ranked results. Defaults for Limit and
// MinSimilarity are applied by the store.
func (s *Searcher) Search(ctx context.Context, query string, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	if query == "" {
		return nil, &ValidationError{Field: "query", Message: "must not be empty"}
	}

	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.store.SimilaritySearch(ctx, vector, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector store: %w", err)
	}
	return results, nil
}
