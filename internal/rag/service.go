// Package rag composes retrieval and generation: similarity search with a
// recency fallback, context assembly, answer generation, and the indexing
// entry points the rest of the system calls into.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"roomrag/internal/contextutil"
	"roomrag/internal/indexer"
	"roomrag/internal/llm"
	"roomrag/internal/processor"
	"roomrag/internal/storage"
	"roomrag/internal/vectorstore"
)

const (
	// qaMinSimilarity is the Q&A-path cutoff; looser than the search
	// default so borderline matches still feed the answer.
	qaMinSimilarity = 0.6

	// defaultMaxSources caps semantic results used as context.
	defaultMaxSources = 10

	// recencyCount is how many recent messages the recency stage fetches.
	recencyCount = 20

	// recencyTopUp caps how many recency messages are appended to a
	// non-empty semantic context.
	recencyTopUp = 5

	// fallbackSourceCount is how many recent messages become sources when
	// the LLM pick fails on the fallback path.
	fallbackSourceCount = 3

	// roomErrorCap bounds how many of one room's errors bulk indexing
	// carries into the aggregate result.
	roomErrorCap = 5

	// noContextAnswer is returned without calling the LLM when neither
	// retrieval stage produced anything.
	noContextAnswer = "No relevant context was found to answer this question."

	// sourceExcerptLen bounds the content excerpt carried per source.
	sourceExcerptLen = 200
)

const qaSystemPrompt = `You are an assistant that answers questions about a chat room using the provided context from messages and documents.

Rules:
- Answer only from the information in the context.
- If the context does not contain the answer, say so clearly.
- Be concise and accurate.
- When multiple sources agree, synthesize them.`

// ChatClient is the LLM generation contract the service depends on.
type ChatClient interface {
	ChatWithMessages(ctx context.Context, messages []llm.Message, params llm.ChatParams) (string, error)
	StreamChatWithMessages(ctx context.Context, messages []llm.Message, params llm.ChatParams, callback func(chunk string) error) error
}

// ContentIndexer is the indexing contract the service depends on.
type ContentIndexer interface {
	IndexShortText(ctx context.Context, src indexer.Source) error
	IndexProcessed(ctx context.Context, src indexer.Source, processed []processor.ProcessedChunk) (int, error)
	DeleteByRoom(ctx context.Context, roomID string) (int, error)
}

// ContextSearcher runs similarity search for the Q&A path.
type ContextSearcher interface {
	Search(ctx context.Context, query string, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error)
}

// Downloader fetches raw attachment bytes from the file store.
type Downloader interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// DocumentProcessor converts attachment bytes into text chunks.
type DocumentProcessor interface {
	CanProcess(mimeType string) bool
	Process(ctx context.Context, content []byte, meta processor.Metadata) ([]processor.ProcessedChunk, error)
}

// Service orchestrates retrieval-augmented question answering and indexing
// for chat rooms.
type Service struct {
	searcher    ContextSearcher
	indexer     ContentIndexer
	store       vectorstore.VectorStore
	messages    storage.MessageStore
	rooms       storage.RoomStore
	attachments storage.AttachmentStore
	members     storage.MemberStore
	files       Downloader
	processors  DocumentProcessor
	chat        ChatClient
}

// NewService creates the RAG service.
func NewService(
	searcher ContextSearcher,
	contentIndexer ContentIndexer,
	store vectorstore.VectorStore,
	messages storage.MessageStore,
	rooms storage.RoomStore,
	attachments storage.AttachmentStore,
	members storage.MemberStore,
	files Downloader,
	processors DocumentProcessor,
	chat ChatClient,
) *Service {
	return &Service{
		searcher:    searcher,
		indexer:     contentIndexer,
		store:       store,
		messages:    messages,
		rooms:       rooms,
		attachments: attachments,
		members:     members,
		files:       files,
		processors:  processors,
		chat:        chat,
	}
}

// CheckMembership returns ErrForbidden unless the user belongs to the room.
func (s *Service) CheckMembership(ctx context.Context, roomID, userID string) error {
	isMember, err := s.members.IsMember(ctx, roomID, userID)
	if err != nil {
		return WrapError(err, "failed to check membership")
	}
	if !isMember {
		return ErrForbidden
	}
	return nil
}

// Ask answers a question about a room's content.
func (s *Service) Ask(ctx context.Context, roomID, orgID, question string, opts AskOptions) (QueryResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if utf8.RuneCountInString(strings.TrimSpace(question)) < 3 {
		return QueryResult{}, &ValidationError{Field: "question", Message: "must be at least 3 characters"}
	}

	retrieved, err := s.retrieve(ctx, roomID, orgID, question, opts)
	if err != nil {
		return QueryResult{}, err
	}

	if retrieved.empty() {
		logger.InfoContext(ctx, "no context for question", "room_id", roomID)
		return QueryResult{
			Answer:     noContextAnswer,
			Sources:    []Source{},
			Confidence: 0,
		}, nil
	}

	answer, err := s.generate(ctx, question, retrieved.contextBlock)
	if err != nil {
		return QueryResult{}, WrapError(err, "failed to generate answer")
	}

	sources, err := s.resolveSources(ctx, question, retrieved)
	if err != nil {
		return QueryResult{}, err
	}

	return QueryResult{
		Answer:     answer,
		Sources:    sources,
		Confidence: retrieved.confidence,
	}, nil
}

// retrieved holds the outcome of both retrieval stages.
type retrieved struct {
	semantic     []vectorstore.SearchResult
	recent       []storage.Message
	contextBlock string
	confidence   float32
}

func (r retrieved) empty() bool {
	return len(r.semantic) == 0 && len(r.recent) == 0
}

// retrieve runs the semantic stage and the mandatory recency stage, then
// merges them into one context block.
func (s *Service) retrieve(ctx context.Context, roomID, orgID, question string, opts AskOptions) (retrieved, error) {
	logger := contextutil.LoggerFromContext(ctx)

	maxSources := opts.MaxSources
	if maxSources <= 0 {
		maxSources = defaultMaxSources
	}
	minSimilarity := opts.MinSimilarity
	if minSimilarity <= 0 {
		minSimilarity = qaMinSimilarity
	}

	sourceTypes := []vectorstore.SourceType{vectorstore.SourceMessage}
	if opts.IncludeAttachments {
		sourceTypes = append(sourceTypes, vectorstore.SourceAttachment)
	}

	semantic, err := s.searcher.Search(ctx, question, vectorstore.SearchOptions{
		OrgID:         orgID,
		RoomID:        roomID,
		SourceTypes:   sourceTypes,
		Limit:         maxSources,
		MinSimilarity: minSimilarity,
	})
	if err != nil {
		return retrieved{}, fmt.Errorf("semantic search failed: %w: %v", ErrUnavailable, err)
	}

	// Recency stage runs regardless of semantic hits: "what did we just
	// decide" needs fresh messages even when they don't embed-match.
	recent, err := s.messages.ListRecent(ctx, roomID, recencyCount)
	if err != nil {
		return retrieved{}, WrapError(err, "failed to fetch recent messages")
	}

	logger.InfoContext(ctx, "retrieval complete",
		"room_id", roomID, "semantic_results", len(semantic), "recent_messages", len(recent))

	result := retrieved{semantic: semantic, recent: recent}
	if result.empty() {
		return result, nil
	}

	result.contextBlock = buildContext(semantic, recent)
	if len(semantic) > 0 {
		var sum float32
		for _, r := range semantic {
			sum += r.Similarity
		}
		result.confidence = sum / float32(len(semantic))
	}
	return result, nil
}

// buildContext assembles the context block: semantic matches first, then a
// recency top-up deduplicated by source id and capped, or the full recency
// set when the semantic stage came back empty.
func buildContext(semantic []vectorstore.SearchResult, recent []storage.Message) string {
	var parts []string

	seen := make(map[string]bool, len(semantic))
	for _, r := range semantic {
		seen[r.SourceID] = true
	}

	if len(semantic) > 0 {
		parts = append(parts, "=== Relevant Context (Semantic Search) ===")
		for _, r := range semantic {
			label := "Document"
			if r.SourceType == vectorstore.SourceMessage {
				label = "Message"
			}
			parts = append(parts, fmt.Sprintf("[%s] (relevance: %.1f%%)", label, r.Similarity*100))
			parts = append(parts, r.Content)
			parts = append(parts, "")
		}
	}

	topUp := len(recent)
	if len(semantic) > 0 && topUp > recencyTopUp {
		topUp = recencyTopUp
	}

	added := 0
	var recentLines []string
	for _, msg := range recent {
		if added >= topUp {
			break
		}
		if len(semantic) > 0 && seen[msg.ID] {
			continue
		}
		recentLines = append(recentLines, fmt.Sprintf("[%s] User %s: %s",
			msg.CreatedAt.UTC().Format(time.RFC3339), msg.UserID, msg.Content))
		added++
	}

	if len(recentLines) > 0 {
		parts = append(parts, "=== Recent Messages ===")
		parts = append(parts, recentLines...)
	}

	return strings.Join(parts, "\n")
}

func (s *Service) generate(ctx context.Context, question, contextBlock string) (string, error) {
	return s.chat.ChatWithMessages(ctx, s.buildMessages(question, contextBlock), s.chatParams())
}

func (s *Service) chatParams() llm.ChatParams {
	return llm.ChatParams{Temperature: 0.3}
}

func (s *Service) buildMessages(question, contextBlock string) []llm.Message {
	userPrompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlock, question)
	return []llm.Message{
		{Role: "system", Content: qaSystemPrompt},
		{Role: "user", Content: userPrompt},
	}
}

// resolveSources picks what to display alongside the answer. Semantic
// matches are already ranked; the fallback path asks the LLM to pick the
// most relevant recent messages and degrades to most-recent-N.
func (s *Service) resolveSources(ctx context.Context, question string, r retrieved) ([]Source, error) {
	if len(r.semantic) > 0 {
		sources := make([]Source, len(r.semantic))
		for i, res := range r.semantic {
			sources[i] = Source{
				Type:     string(res.SourceType),
				ID:       res.SourceID,
				Content:  excerpt(res.Content),
				Score:    res.Similarity,
				Metadata: res.Metadata,
			}
		}
		return sources, nil
	}
	return s.pickFallbackSources(ctx, question, r.recent), nil
}

var jsonBlock = regexp.MustCompile(`\{[\s\S]*\}`)

// pickFallbackSources asks the LLM which recent messages best match the
// question. Any failure falls back to the most recent messages; sources are
// never empty when recency context existed.
func (s *Service) pickFallbackSources(ctx context.Context, question string, recent []storage.Message) []Source {
	logger := contextutil.LoggerFromContext(ctx)

	byID := make(map[string]storage.Message, len(recent))
	var lines []string
	for _, msg := range recent {
		byID[msg.ID] = msg
		lines = append(lines, fmt.Sprintf("[MSG_ID: %s] [%s] User %s: %s",
			msg.ID, msg.CreatedAt.UTC().Format(time.RFC3339), msg.UserID, msg.Content))
	}

	prompt := fmt.Sprintf(
		"Given these recent messages:\n%s\n\nWhich 1-3 messages are most relevant to the question: %q?\n"+
			`Return JSON only: {"sourceIds": ["msg_id_1", "msg_id_2"]}`,
		strings.Join(lines, "\n"), question)

	reply, err := s.chat.ChatWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, llm.ChatParams{})
	if err == nil {
		if match := jsonBlock.FindString(reply); match != "" {
			var parsed struct {
				SourceIDs []string `json:"sourceIds"`
			}
			if jsonErr := json.Unmarshal([]byte(match), &parsed); jsonErr == nil {
				var sources []Source
				for _, id := range parsed.SourceIDs {
					msg, ok := byID[id]
					if !ok {
						continue
					}
					sources = append(sources, messageSource(msg))
					if len(sources) == fallbackSourceCount {
						break
					}
				}
				if len(sources) > 0 {
					return sources
				}
			}
		}
	} else {
		logger.WarnContext(ctx, "fallback source pick failed", "error", err)
	}

	// Most-recent-N fallback.
	n := min(fallbackSourceCount, len(recent))
	sources := make([]Source, 0, n)
	for _, msg := range recent[:n] {
		sources = append(sources, messageSource(msg))
	}
	return sources
}

func messageSource(msg storage.Message) Source {
	return Source{
		Type:    string(vectorstore.SourceMessage),
		ID:      msg.ID,
		Content: excerpt(msg.Content),
		Score:   0,
		Metadata: map[string]any{
			"user_id":    msg.UserID,
			"created_at": msg.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
}

func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= sourceExcerptLen {
		return content
	}
	return string(runes[:sourceExcerptLen]) + "..."
}

// IndexMessage indexes one chat message. Messages under the minimum length
// are silently skipped.
func (s *Service) IndexMessage(ctx context.Context, msg *storage.Message) error {
	src := indexer.Source{
		Type:    vectorstore.SourceMessage,
		ID:      msg.ID,
		OrgID:   msg.OrgID,
		RoomID:  msg.RoomID,
		Content: msg.Content,
		Metadata: map[string]any{
			"user_id":    msg.UserID,
			"created_at": msg.CreatedAt.UTC().Format(time.RFC3339),
			"thread_id":  msg.ThreadID,
		},
		CreatedAt: msg.CreatedAt,
	}

	err := s.indexer.IndexShortText(ctx, src)
	if errors.Is(err, indexer.ErrContentTooShort) {
		return nil
	}
	return err
}

// IndexAttachment downloads, processes, and indexes one attachment.
// Returns the number of chunks written.
func (s *Service) IndexAttachment(ctx context.Context, attachmentID string) (int, error) {
	att, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%w: attachment %s", ErrNotFound, attachmentID)
		}
		return 0, WrapError(err, "failed to load attachment")
	}

	if !s.processors.CanProcess(att.MimeType) {
		return 0, fmt.Errorf("%w: unsupported file type %s", ErrInvalidInput, att.MimeType)
	}

	content, err := s.files.Download(ctx, att.FileID)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to download file: %v", ErrExternalService, err)
	}

	processed, err := s.processors.Process(ctx, content, processor.Metadata{
		FileName: att.FileName,
		MimeType: att.MimeType,
		SourceID: att.ID,
	})
	if err != nil {
		return 0, WrapError(err, "failed to process attachment")
	}
	if len(processed) == 0 {
		return 0, fmt.Errorf("%w: no content extracted from document", ErrInvalidInput)
	}

	src := indexer.Source{
		Type:   vectorstore.SourceAttachment,
		ID:     att.ID,
		OrgID:  att.OrgID,
		RoomID: att.RoomID,
		Metadata: map[string]any{
			"file_name":  att.FileName,
			"message_id": att.MessageID,
		},
		CreatedAt: att.CreatedAt,
	}

	return s.indexer.IndexProcessed(ctx, src, processed)
}

// IndexRoom indexes every message in a room, paging through the store.
// Per-message failures are recorded and do not stop the run.
func (s *Service) IndexRoom(ctx context.Context, roomID, orgID string) (*IndexingResult, error) {
	result := &IndexingResult{Errors: []string{}}

	token := ""
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page, err := s.messages.ListByRoom(ctx, roomID, storage.Page{Size: 100, Token: token})
		if err != nil {
			return nil, WrapError(err, "failed to list room messages")
		}

		for _, msg := range page.Items {
			if utf8.RuneCountInString(strings.TrimSpace(msg.Content)) < indexer.MinIndexableRunes {
				result.Skipped++
				continue
			}
			if err := s.IndexMessage(ctx, &msg); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("Message %s: %v", msg.ID, err))
				continue
			}
			result.Indexed++
		}

		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	return result, nil
}

// IndexAllRooms indexes every room in an organization. Room-level failures
// are recorded and iteration continues; each room contributes at most
// roomErrorCap errors to the aggregate.
func (s *Service) IndexAllRooms(ctx context.Context, orgID string) (*BulkIndexingResult, error) {
	logger := contextutil.LoggerFromContext(ctx)
	result := &BulkIndexingResult{Errors: []string{}}

	var roomIDs []string
	token := ""
	for {
		page, err := s.rooms.ListByOrg(ctx, orgID, storage.Page{Size: 100, Token: token})
		if err != nil {
			return nil, WrapError(err, "failed to list org rooms")
		}
		for _, room := range page.Items {
			roomIDs = append(roomIDs, room.ID)
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	result.TotalRooms = len(roomIDs)
	logger.InfoContext(ctx, "bulk indexing started", "org_id", orgID, "rooms", len(roomIDs))

	for _, roomID := range roomIDs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		roomResult, err := s.IndexRoom(ctx, roomID, orgID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Room %s: %v", roomID, err))
			continue
		}

		result.TotalIndexed += roomResult.Indexed
		result.TotalSkipped += roomResult.Skipped
		if len(roomResult.Errors) > 0 {
			capped := roomResult.Errors
			if len(capped) > roomErrorCap {
				capped = capped[:roomErrorCap]
			}
			result.Errors = append(result.Errors, capped...)
		}
		result.SuccessfulRooms++
	}

	logger.InfoContext(ctx, "bulk indexing complete",
		"org_id", orgID, "rooms", result.TotalRooms, "successful", result.SuccessfulRooms,
		"indexed", result.TotalIndexed, "skipped", result.TotalSkipped, "errors", len(result.Errors))

	return result, nil
}

// ClearRoomEmbeddings deletes every stored chunk for a room and returns the
// count.
func (s *Service) ClearRoomEmbeddings(ctx context.Context, roomID string) (int, error) {
	return s.indexer.DeleteByRoom(ctx, roomID)
}

// GetRoomStats reports how many chunks a room has in the vector store.
func (s *Service) GetRoomStats(ctx context.Context, roomID string) (*RoomStats, error) {
	count, err := s.store.CountByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to count room embeddings: %w: %v", ErrUnavailable, err)
	}
	return &RoomStats{TotalEmbeddings: count}, nil
}
