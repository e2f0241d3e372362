package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"roomrag/internal/contextutil"
)

// QdrantStore implements VectorStore on a Qdrant collection. One collection
// holds chunks for all tenants; every query carries org/room filter
// conditions so cross-tenant results are impossible at the store boundary.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore creates a Qdrant-backed store. urlStr is the HTTP URL of the
// Qdrant node ("http://host:6333"); the gRPC port is derived from it.
func NewQdrantStore(urlStr, collection string) (*QdrantStore, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	// gRPC listens one above the HTTP port by Qdrant convention.
	port := 6334
	if parsedURL.Port() != "" {
		if httpPort, err := strconv.Atoi(parsedURL.Port()); err == nil {
			port = httpPort + 1
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantStore{client: client, collection: collection}, nil
}

// HealthCheck verifies the Qdrant node is reachable and the collection
// exists.
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant unreachable: %w", err)
	}
	if !exists {
		return fmt.Errorf("collection %s does not exist", s.collection)
	}
	return nil
}

// EnsureCollection creates the collection with a cosine-distance vector index
// if it does not exist, and validates the vector size when it does.
func (s *QdrantStore) EnsureCollection(ctx context.Context, vectorSize int) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		logger.InfoContext(ctx, "collection created", "collection", s.collection, "vector_size", vectorSize)
		return nil
	}

	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to get collection info: %w", err)
	}
	if config := info.Config; config != nil && config.Params != nil {
		if vc := config.Params.GetVectorsConfig(); vc != nil {
			if params := vc.GetParams(); params != nil && int(params.Size) != vectorSize {
				return fmt.Errorf("collection %q has vector size %d, expected %d", s.collection, params.Size, vectorSize)
			}
		}
	}
	return nil
}

// UpsertChunks writes a batch of chunks as Qdrant points.
func (s *QdrantStore) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		payload := map[string]any{
			"source_type": string(c.SourceType),
			"source_id":   c.SourceID,
			"org_id":      c.OrgID,
			"room_id":     c.RoomID,
			"content":     c.Content,
			"chunk_index": int64(c.ChunkIndex),
			"chunk_total": int64(c.ChunkTotal),
			"created_at":  c.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if len(c.Metadata) > 0 {
			payload["metadata"] = c.Metadata
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to upsert chunks", "collection", s.collection, "count", len(chunks), "error", err)
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	logger.DebugContext(ctx, "upserted chunks", "collection", s.collection, "count", len(chunks))
	return nil
}

// SimilaritySearch runs a filtered cosine-similarity query. The score
// threshold is applied server-side; ordering ties are broken by recency
// client-side for determinism.
func (s *QdrantStore) SimilaritySearch(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	minSimilarity := opts.MinSimilarity
	if minSimilarity == 0 {
		minSimilarity = DefaultMinSimilarity
	}

	filter := scopeFilter(opts)
	qLimit := uint64(limit)
	req := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &qLimit,
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: &minSimilarity,
	}
	if filter != nil {
		req.Filter = filter
	}

	scored, err := s.client.Query(ctx, req)
	if err != nil {
		logger.ErrorContext(ctx, "similarity search failed", "collection", s.collection, "error", err)
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(scored))
	for _, point := range scored {
		r := SearchResult{Similarity: point.Score}
		if point.Id != nil {
			r.ID = point.Id.GetUuid()
		}
		if point.Payload != nil {
			fillChunkFromPayload(&r.Chunk, point.Payload)
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	logger.DebugContext(ctx, "similarity search completed", "collection", s.collection, "results", len(results))
	return results, nil
}

// DeleteBySource removes all chunks for (sourceType, sourceID).
func (s *QdrantStore) DeleteBySource(ctx context.Context, sourceType SourceType, sourceID string) (int, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatch("source_type", string(sourceType)),
		qdrant.NewMatch("source_id", sourceID),
	}}
	return s.deleteByFilter(ctx, filter)
}

// DeleteByRoom removes all chunks scoped to a room.
func (s *QdrantStore) DeleteByRoom(ctx context.Context, roomID string) (int, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatch("room_id", roomID),
	}}
	return s.deleteByFilter(ctx, filter)
}

// CountByRoom returns the number of chunks in a room.
func (s *QdrantStore) CountByRoom(ctx context.Context, roomID string) (int, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatch("room_id", roomID),
	}}
	count, err := s.count(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks for room %q: %w", roomID, err)
	}
	return count, nil
}

// ExistsForSource reports whether any chunk exists for (sourceType, sourceID).
func (s *QdrantStore) ExistsForSource(ctx context.Context, sourceType SourceType, sourceID string) (bool, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatch("source_type", string(sourceType)),
		qdrant.NewMatch("source_id", sourceID),
	}}
	count, err := s.count(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("failed to check source %s:%s: %w", sourceType, sourceID, err)
	}
	return count > 0, nil
}

func (s *QdrantStore) deleteByFilter(ctx context.Context, filter *qdrant.Filter) (int, error) {
	logger := contextutil.LoggerFromContext(ctx)

	// Qdrant's delete result carries no count; count first so callers can
	// report how many chunks were purged.
	count, err := s.count(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks before delete: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to delete chunks", "collection", s.collection, "error", err)
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}

	logger.DebugContext(ctx, "deleted chunks", "collection", s.collection, "count", count)
	return count, nil
}

func (s *QdrantStore) count(ctx context.Context, filter *qdrant.Filter) (int, error) {
	exact := true
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// scopeFilter builds the Must conditions for tenant scope and source types.
func scopeFilter(opts SearchOptions) *qdrant.Filter {
	var must []*qdrant.Condition

	if opts.OrgID != "" {
		must = append(must, qdrant.NewMatch("org_id", opts.OrgID))
	}
	switch {
	case opts.RoomID != "":
		must = append(must, qdrant.NewMatch("room_id", opts.RoomID))
	case len(opts.RoomIDs) > 0:
		must = append(must, qdrant.NewMatchKeywords("room_id", opts.RoomIDs...))
	}
	if len(opts.SourceTypes) > 0 {
		keywords := make([]string, len(opts.SourceTypes))
		for i, st := range opts.SourceTypes {
			keywords[i] = string(st)
		}
		must = append(must, qdrant.NewMatchKeywords("source_type", keywords...))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// fillChunkFromPayload reconstructs the chunk projection stored in a point's
// payload. The embedding itself is not read back.
func fillChunkFromPayload(c *Chunk, payload map[string]*qdrant.Value) {
	m := convertPayloadToMap(payload)

	if v, ok := m["source_type"].(string); ok {
		c.SourceType = SourceType(v)
	}
	if v, ok := m["source_id"].(string); ok {
		c.SourceID = v
	}
	if v, ok := m["org_id"].(string); ok {
		c.OrgID = v
	}
	if v, ok := m["room_id"].(string); ok {
		c.RoomID = v
	}
	if v, ok := m["content"].(string); ok {
		c.Content = v
	}
	if v, ok := m["chunk_index"].(int64); ok {
		c.ChunkIndex = int(v)
	}
	if v, ok := m["chunk_total"].(int64); ok {
		c.ChunkTotal = int(v)
	}
	if v, ok := m["created_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			c.CreatedAt = ts
		}
	}
	if v, ok := m["metadata"].(map[string]any); ok {
		c.Metadata = v
	}
}

// convertPayloadToMap converts a Qdrant payload to map[string]any.
func convertPayloadToMap(payload map[string]*qdrant.Value) map[string]any {
	result := make(map[string]any, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		result[k] = convertValue(v)
	}
	return result
}

// convertValue converts a Qdrant Value to a Go value.
func convertValue(v *qdrant.Value) any {
	switch val := v.Kind.(type) {
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_ListValue:
		list := make([]any, len(val.ListValue.Values))
		for i, item := range val.ListValue.Values {
			list[i] = convertValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return convertPayloadToMap(val.StructValue.Fields)
	default:
		return nil
	}
}
