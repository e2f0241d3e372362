package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a brute-force in-memory VectorStore. It backs tests and
// single-node deployments without a Qdrant dependency.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks []Chunk
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// UpsertChunks appends chunks, replacing any stored chunk with the same ID.
func (s *MemoryStore) UpsertChunks(_ context.Context, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		replaced := false
		for i := range s.chunks {
			if s.chunks[i].ID == c.ID {
				s.chunks[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			s.chunks = append(s.chunks, c)
		}
	}
	return nil
}

// DeleteBySource removes every chunk sharing (sourceType, sourceID).
func (s *MemoryStore) DeleteBySource(_ context.Context, sourceType SourceType, sourceID string) (int, error) {
	return s.deleteWhere(func(c Chunk) bool {
		return c.SourceType == sourceType && c.SourceID == sourceID
	}), nil
}

// DeleteByRoom removes every chunk scoped to a room.
func (s *MemoryStore) DeleteByRoom(_ context.Context, roomID string) (int, error) {
	return s.deleteWhere(func(c Chunk) bool {
		return c.RoomID == roomID
	}), nil
}

// SimilaritySearch scores every candidate chunk with cosine similarity.
func (s *MemoryStore) SimilaritySearch(_ context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	minSimilarity := opts.MinSimilarity
	if minSimilarity == 0 {
		minSimilarity = DefaultMinSimilarity
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []SearchResult
	for _, c := range s.chunks {
		if !matchesScope(c, opts) {
			continue
		}
		if len(c.Embedding) != len(query) {
			return nil, fmt.Errorf("embedding dimension mismatch: chunk %q has %d, query has %d", c.ID, len(c.Embedding), len(query))
		}
		sim := cosineSimilarity(query, c.Embedding)
		if sim < minSimilarity {
			continue
		}
		results = append(results, SearchResult{Chunk: c, Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// CountByRoom returns the number of chunks in a room.
func (s *MemoryStore) CountByRoom(_ context.Context, roomID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, c := range s.chunks {
		if c.RoomID == roomID {
			count++
		}
	}
	return count, nil
}

// ExistsForSource reports whether any chunk exists for (sourceType, sourceID).
func (s *MemoryStore) ExistsForSource(_ context.Context, sourceType SourceType, sourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.chunks {
		if c.SourceType == sourceType && c.SourceID == sourceID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) deleteWhere(match func(Chunk) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.chunks[:0]
	deleted := 0
	for _, c := range s.chunks {
		if match(c) {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	s.chunks = kept
	return deleted
}

func matchesScope(c Chunk, opts SearchOptions) bool {
	if opts.OrgID != "" && c.OrgID != opts.OrgID {
		return false
	}
	if opts.RoomID != "" && c.RoomID != opts.RoomID {
		return false
	}
	if len(opts.RoomIDs) > 0 && opts.RoomID == "" {
		found := false
		for _, id := range opts.RoomIDs {
			if c.RoomID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(opts.SourceTypes) > 0 {
		found := false
		for _, st := range opts.SourceTypes {
			if c.SourceType == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// A zero vector yields 0.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
