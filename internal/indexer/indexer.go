// Package indexer writes room content into the vector store: it chunks,
// embeds, and upserts documents, and keeps re-indexing of the same source
// serialized so delete-then-rebuild never interleaves.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"roomrag/internal/chunker"
	"roomrag/internal/contextutil"
	"roomrag/internal/processor"
	"roomrag/internal/vectorstore"
)

// MinIndexableRunes is the shortest content IndexShortText will store.
// Anything below carries no retrievable signal.
const MinIndexableRunes = 10

// embedBatchSize caps how many chunk texts go into one embeddings request.
const embedBatchSize = 64

// ErrContentTooShort signals that content was skipped, not that indexing
// failed. Callers check it with errors.Is.
var ErrContentTooShort = errors.New("content too short to index")

// Embedder generates embedding vectors for texts.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Source identifies one piece of room content to index.
type Source struct {
	Type      vectorstore.SourceType
	ID        string
	OrgID     string
	RoomID    string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Indexer chunks, embeds, and stores content.
type Indexer struct {
	embedder Embedder
	store    vectorstore.VectorStore

	// one mutex per (sourceType, sourceID), lazily created
	locks sync.Map
}

// New creates an indexer over the given embedder and vector store.
func New(embedder Embedder, store vectorstore.VectorStore) *Indexer {
	return &Indexer{
		embedder: embedder,
		store:    store,
	}
}

// lockSource serializes indexing work per source. The returned func releases
// the lock.
func (ix *Indexer) lockSource(sourceType vectorstore.SourceType, sourceID string) func() {
	key := string(sourceType) + ":" + sourceID
	v, _ := ix.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// IndexDocument replaces all stored chunks for the source with freshly
// chunked and embedded content. Returns the number of chunks written.
// Zero chunks (empty content) still clears the old ones.
func (ix *Indexer) IndexDocument(ctx context.Context, src Source, opts ...chunker.Option) (int, error) {
	unlock := ix.lockSource(src.Type, src.ID)
	defer unlock()

	cleaned := chunker.CleanText(src.Content)
	parts := chunker.Split(cleaned, opts...)

	return ix.rebuild(ctx, src, parts, src.Metadata)
}

// IndexProcessed replaces all stored chunks for the source with the output
// of a document processor. Per-chunk metadata from the processor wins over
// source metadata on key collisions.
func (ix *Indexer) IndexProcessed(ctx context.Context, src Source, processed []processor.ProcessedChunk) (int, error) {
	unlock := ix.lockSource(src.Type, src.ID)
	defer unlock()

	parts := make([]string, len(processed))
	for i, p := range processed {
		parts[i] = p.Content
	}

	count, err := ix.rebuildWithMeta(ctx, src, parts, func(i int) map[string]any {
		merged := make(map[string]any, len(src.Metadata)+len(processed[i].Metadata))
		for k, v := range src.Metadata {
			merged[k] = v
		}
		for k, v := range processed[i].Metadata {
			merged[k] = v
		}
		return merged
	})
	return count, err
}

func (ix *Indexer) rebuild(ctx context.Context, src Source, parts []string, meta map[string]any) (int, error) {
	return ix.rebuildWithMeta(ctx, src, parts, func(int) map[string]any { return meta })
}

func (ix *Indexer) rebuildWithMeta(ctx context.Context, src Source, parts []string, metaAt func(int) map[string]any) (int, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if _, err := ix.store.DeleteBySource(ctx, src.Type, src.ID); err != nil {
		return 0, fmt.Errorf("failed to delete existing chunks: %w", err)
	}

	if len(parts) == 0 {
		logger.DebugContext(ctx, "no chunks to index", "source_type", src.Type, "source_id", src.ID)
		return 0, nil
	}

	embeddings, err := ix.embedBatched(ctx, parts)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	createdAt := src.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	chunks := make([]vectorstore.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = vectorstore.Chunk{
			ID:         uuid.New().String(),
			SourceType: src.Type,
			SourceID:   src.ID,
			OrgID:      src.OrgID,
			RoomID:     src.RoomID,
			Content:    part,
			ChunkIndex: i,
			ChunkTotal: len(parts),
			Embedding:  embeddings[i],
			Metadata:   metaAt(i),
			CreatedAt:  createdAt,
		}
	}

	if err := ix.store.UpsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to upsert chunks: %w", err)
	}

	logger.InfoContext(ctx, "indexed source",
		"source_type", src.Type, "source_id", src.ID, "chunks", len(chunks))
	return len(chunks), nil
}

func (ix *Indexer) embedBatched(ctx context.Context, parts []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(parts))
	for start := 0; start < len(parts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(parts))

		batch, err := ix.embedder.EmbedTexts(ctx, parts[start:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}

	if len(embeddings) != len(parts) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(parts), len(embeddings))
	}
	return embeddings, nil
}

// IndexShortText indexes a short piece of content (a chat message) as a
// single chunk. Content under MinIndexableRunes returns ErrContentTooShort,
// and sources that are already indexed are left untouched.
func (ix *Indexer) IndexShortText(ctx context.Context, src Source) error {
	cleaned := chunker.CleanText(src.Content)
	if utf8.RuneCountInString(cleaned) < MinIndexableRunes {
		return ErrContentTooShort
	}

	unlock := ix.lockSource(src.Type, src.ID)
	defer unlock()

	exists, err := ix.store.ExistsForSource(ctx, src.Type, src.ID)
	if err != nil {
		return fmt.Errorf("failed to check existing source: %w", err)
	}
	if exists {
		return nil
	}

	embedding, err := ix.embedder.EmbedText(ctx, cleaned)
	if err != nil {
		return fmt.Errorf("failed to generate embedding: %w", err)
	}

	createdAt := src.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	chunk := vectorstore.Chunk{
		ID:         uuid.New().String(),
		SourceType: src.Type,
		SourceID:   src.ID,
		OrgID:      src.OrgID,
		RoomID:     src.RoomID,
		Content:    cleaned,
		ChunkIndex: 0,
		ChunkTotal: 1,
		Embedding:  embedding,
		Metadata:   src.Metadata,
		CreatedAt:  createdAt,
	}

	if err := ix.store.UpsertChunks(ctx, []vectorstore.Chunk{chunk}); err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

// DeleteBySource removes all chunks for a source and returns the count.
func (ix *Indexer) DeleteBySource(ctx context.Context, sourceType vectorstore.SourceType, sourceID string) (int, error) {
	unlock := ix.lockSource(sourceType, sourceID)
	defer unlock()

	return ix.store.DeleteBySource(ctx, sourceType, sourceID)
}

// DeleteByRoom removes all chunks for a room and returns the count.
func (ix *Indexer) DeleteByRoom(ctx context.Context, roomID string) (int, error) {
	return ix.store.DeleteByRoom(ctx, roomID)
}
