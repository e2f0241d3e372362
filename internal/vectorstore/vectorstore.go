// Package vectorstore defines the chunk data model and the vector storage
// contract used by indexing and retrieval.
package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks roomrag/internal/vectorstore VectorStore

import (
	"context"
	"time"
)

// SourceType identifies the kind of content a chunk was derived from.
type SourceType string

const (
	// SourceMessage is a chat message indexed as a single chunk.
	SourceMessage SourceType = "message"
	// SourceAttachment is an uploaded file processed into chunks.
	SourceAttachment SourceType = "attachment"
	// SourceDocument is standalone document content.
	SourceDocument SourceType = "document"
)

// Chunk is the atomic indexed unit: a bounded text segment, its embedding and
// its position among siblings from the same source. Chunks are never updated
// in place; a re-index deletes the chunk set for a source and writes a fresh
// one.
type Chunk struct {
	ID         string
	SourceType SourceType
	SourceID   string
	OrgID      string
	RoomID     string
	Content    string
	ChunkIndex int
	ChunkTotal int
	Embedding  []float32
	Metadata   map[string]any
	CreatedAt  time.Time
}

// SearchResult is a chunk ranked against one query vector. It is never
// persisted.
type SearchResult struct {
	Chunk
	Similarity float32
}

// SearchOptions restrict a similarity search. OrgID and RoomID scope results
// to one tenant; RoomIDs may widen the scope to several rooms of the same
// org. Results below MinSimilarity are excluded even when fewer than Limit
// remain.
type SearchOptions struct {
	OrgID         string
	RoomID        string
	RoomIDs       []string
	SourceTypes   []SourceType
	Limit         int
	MinSimilarity float32
}

// DefaultLimit is the result bound applied when SearchOptions.Limit is zero.
const DefaultLimit = 10

// DefaultMinSimilarity is the cosine floor applied when
// SearchOptions.MinSimilarity is zero.
const DefaultMinSimilarity = 0.7

// VectorStore is the storage contract for chunk embeddings. Implementations
// must keep delete-then-insert for one source from being observed half-done
// by a concurrent search; callers additionally serialize re-indexing per
// source id.
type VectorStore interface {
	// UpsertChunks writes a batch of chunks with their embeddings.
	UpsertChunks(ctx context.Context, chunks []Chunk) error

	// DeleteBySource removes every chunk sharing (sourceType, sourceID) and
	// returns how many were removed.
	DeleteBySource(ctx context.Context, sourceType SourceType, sourceID string) (int, error)

	// DeleteByRoom removes every chunk scoped to a room and returns the count.
	DeleteByRoom(ctx context.Context, roomID string) (int, error)

	// SimilaritySearch returns chunks ranked by cosine similarity against the
	// query vector, filtered by opts, descending.
	SimilaritySearch(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error)

	// CountByRoom returns the number of chunks scoped to a room.
	CountByRoom(ctx context.Context, roomID string) (int, error)

	// ExistsForSource reports whether any chunk exists for (sourceType, sourceID).
	ExistsForSource(ctx context.Context, sourceType SourceType, sourceID string) (bool, error)
}
