package rag

// AskOptions tunes a single question.
type AskOptions struct {
	// IncludeAttachments widens retrieval to document chunks as well as
	// messages.
	IncludeAttachments bool `json:"includeAttachments,omitempty"`
	// MaxSources caps the semantic results used as context. Zero uses the
	// default.
	MaxSources int `json:"maxSources,omitempty"`
	// MinSimilarity overrides the Q&A similarity cutoff. Zero uses the
	// default.
	MinSimilarity float32 `json:"minSimilarity,omitempty"`
}

// Source is one piece of retrieved context shown alongside an answer.
type Source struct {
	// Type is "message", "attachment", or "document".
	Type string `json:"type"`
	// ID is the source record's ID.
	ID string `json:"id"`
	// Content is a display excerpt, truncated to 200 characters.
	Content string `json:"content"`
	// Score is the similarity score, 0 when the source came from the
	// recency fallback.
	Score float32 `json:"score"`
	// Metadata carries per-chunk metadata from indexing.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueryResult is a complete answer to a question.
type QueryResult struct {
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	Confidence float32  `json:"confidence"`
}

// IndexingResult aggregates the outcome of indexing one room.
type IndexingResult struct {
	Indexed int      `json:"indexed"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// BulkIndexingResult aggregates the outcome of indexing every room in an
// organization.
type BulkIndexingResult struct {
	TotalRooms      int      `json:"totalRooms"`
	SuccessfulRooms int      `json:"successfulRooms"`
	TotalIndexed    int      `json:"totalIndexed"`
	TotalSkipped    int      `json:"totalSkipped"`
	Errors          []string `json:"errors"`
}

// RoomStats reports vector-store usage for a room.
type RoomStats struct {
	TotalEmbeddings int `json:"totalEmbeddings"`
}
