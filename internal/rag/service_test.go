package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"roomrag/internal/indexer"
	"roomrag/internal/llm"
	"roomrag/internal/processor"
	"roomrag/internal/storage"
	"roomrag/internal/vectorstore"
	vectorstore_mocks "roomrag/internal/vectorstore/mocks"
)

type fakeSearcher struct {
	results []vectorstore.SearchResult
	err     error
	gotOpts vectorstore.SearchOptions
}

func (f *fakeSearcher) Search(_ context.Context, _ string, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	f.gotOpts = opts
	return f.results, f.err
}

// fakeChat replays queued replies; Ask calls it once for generation and,
// on the fallback path, a second time for source selection.
type fakeChat struct {
	replies      []string
	err          error
	chunks       []string
	streamErr    error
	calls        int
	lastMessages []llm.Message
}

func (f *fakeChat) ChatWithMessages(_ context.Context, messages []llm.Message, _ llm.ChatParams) (string, error) {
	f.calls++
	f.lastMessages = messages
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("no reply queued")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeChat) StreamChatWithMessages(_ context.Context, messages []llm.Message, _ llm.ChatParams, callback func(string) error) error {
	f.calls++
	f.lastMessages = messages
	for _, chunk := range f.chunks {
		if err := callback(chunk); err != nil {
			return err
		}
	}
	return f.streamErr
}

type fakeMessages struct {
	storage.MessageStore
	msgs      []storage.Message
	recentErr error
	listErr   error
}

func (f *fakeMessages) ListRecent(_ context.Context, _ string, limit int) ([]storage.Message, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	if len(f.msgs) < limit {
		limit = len(f.msgs)
	}
	return f.msgs[:limit], nil
}

func (f *fakeMessages) ListByRoom(_ context.Context, _ string, page storage.Page) (*storage.MessagePage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	offset := 0
	if page.Token != "" {
		offset, _ = strconv.Atoi(page.Token)
	}
	end := offset + page.Size
	next := ""
	if end < len(f.msgs) {
		next = strconv.Itoa(end)
	} else {
		end = len(f.msgs)
	}
	return &storage.MessagePage{Items: f.msgs[offset:end], NextToken: next}, nil
}

type fakeRooms struct {
	storage.RoomStore
	rooms []storage.Room
}

func (f *fakeRooms) ListByOrg(_ context.Context, _ string, page storage.Page) (*storage.RoomPage, error) {
	offset := 0
	if page.Token != "" {
		offset, _ = strconv.Atoi(page.Token)
	}
	end := offset + page.Size
	next := ""
	if end < len(f.rooms) {
		next = strconv.Itoa(end)
	} else {
		end = len(f.rooms)
	}
	return &storage.RoomPage{Items: f.rooms[offset:end], NextToken: next}, nil
}

type fakeAttachments struct {
	storage.AttachmentStore
	att *storage.Attachment
}

func (f *fakeAttachments) GetByID(_ context.Context, id string) (*storage.Attachment, error) {
	if f.att == nil || f.att.ID != id {
		return nil, storage.ErrNotFound
	}
	return f.att, nil
}

type fakeMembers struct {
	storage.MemberStore
	member bool
}

func (f *fakeMembers) IsMember(_ context.Context, _, _ string) (bool, error) {
	return f.member, nil
}

type fakeDownloader struct {
	content []byte
	err     error
}

func (f *fakeDownloader) Download(_ context.Context, _ string) ([]byte, error) {
	return f.content, f.err
}

type fakeProcessors struct {
	supported bool
	chunks    []processor.ProcessedChunk
	err       error
}

func (f *fakeProcessors) CanProcess(_ string) bool { return f.supported }

func (f *fakeProcessors) Process(_ context.Context, _ []byte, _ processor.Metadata) ([]processor.ProcessedChunk, error) {
	return f.chunks, f.err
}

type fakeIndexer struct {
	shortSources  []indexer.Source
	shortErrByID  map[string]error
	processedSrc  *indexer.Source
	deletedRoom   string
	deletedChunks int
}

func (f *fakeIndexer) IndexShortText(_ context.Context, src indexer.Source) error {
	if err, ok := f.shortErrByID[src.ID]; ok {
		return err
	}
	f.shortSources = append(f.shortSources, src)
	return nil
}

func (f *fakeIndexer) IndexProcessed(_ context.Context, src indexer.Source, processed []processor.ProcessedChunk) (int, error) {
	f.processedSrc = &src
	return len(processed), nil
}

func (f *fakeIndexer) DeleteByRoom(_ context.Context, roomID string) (int, error) {
	f.deletedRoom = roomID
	return f.deletedChunks, nil
}

type serviceFixture struct {
	searcher    *fakeSearcher
	chat        *fakeChat
	messages    *fakeMessages
	rooms       *fakeRooms
	attachments *fakeAttachments
	members     *fakeMembers
	files       *fakeDownloader
	processors  *fakeProcessors
	indexer     *fakeIndexer
	svc         *Service
}

func newFixture() *serviceFixture {
	f := &serviceFixture{
		searcher:    &fakeSearcher{},
		chat:        &fakeChat{},
		messages:    &fakeMessages{},
		rooms:       &fakeRooms{},
		attachments: &fakeAttachments{},
		members:     &fakeMembers{member: true},
		files:       &fakeDownloader{},
		processors:  &fakeProcessors{},
		indexer:     &fakeIndexer{shortErrByID: map[string]error{}},
	}
	f.svc = NewService(f.searcher, f.indexer, vectorstore.NewMemoryStore(),
		f.messages, f.rooms, f.attachments, f.members, f.files, f.processors, f.chat)
	return f
}

func result(sourceID string, sim float32, content string) vectorstore.SearchResult {
	return vectorstore.SearchResult{
		Chunk: vectorstore.Chunk{
			SourceType: vectorstore.SourceMessage,
			SourceID:   sourceID,
			Content:    content,
		},
		Similarity: sim,
	}
}

func message(id, content string, at time.Time) storage.Message {
	return storage.Message{
		ID: id, RoomID: "room-1", OrgID: "org-1", UserID: "user-1",
		Content: content, CreatedAt: at,
	}
}

func TestAsk_RejectsShortQuestion(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Ask(context.Background(), "room-1", "org-1", "  a ", AskOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, f.chat.calls)
}

func TestAsk_NoContextNeverCallsLLM(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Ask(context.Background(), "room-1", "org-1", "what was decided?", AskOptions{})

	require.NoError(t, err)
	assert.Equal(t, noContextAnswer, res.Answer)
	assert.Empty(t, res.Sources)
	assert.Zero(t, res.Confidence)
	assert.Equal(t, 0, f.chat.calls)
}

func TestAsk_SemanticPath(t *testing.T) {
	f := newFixture()
	long := strings.Repeat("x", 250)
	f.searcher.results = []vectorstore.SearchResult{
		result("msg-1", 0.9, "We ship on Friday"),
		result("msg-2", 0.7, long),
	}
	f.chat.replies = []string{"The team ships on Friday."}

	res, err := f.svc.Ask(context.Background(), "room-1", "org-1", "when do we ship?", AskOptions{})

	require.NoError(t, err)
	assert.Equal(t, "The team ships on Friday.", res.Answer)
	assert.InDelta(t, 0.8, res.Confidence, 1e-6)

	require.Len(t, res.Sources, 2)
	assert.Equal(t, "msg-1", res.Sources[0].ID)
	assert.Equal(t, float32(0.9), res.Sources[0].Score)
	assert.Equal(t, strings.Repeat("x", 200)+"...", res.Sources[1].Content)

	// Default search knobs on the Q&A path.
	assert.Equal(t, float32(qaMinSimilarity), f.searcher.gotOpts.MinSimilarity)
	assert.Equal(t, defaultMaxSources, f.searcher.gotOpts.Limit)
	assert.Equal(t, []vectorstore.SourceType{vectorstore.SourceMessage}, f.searcher.gotOpts.SourceTypes)
}

func TestAsk_ContextBlockFormat(t *testing.T) {
	f := newFixture()
	f.searcher.results = []vectorstore.SearchResult{result("msg-1", 0.853, "We ship on Friday")}
	at := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	f.messages.msgs = []storage.Message{message("msg-2", "standup at ten", at)}
	f.chat.replies = []string{"answer"}

	_, err := f.svc.Ask(context.Background(), "room-1", "org-1", "when do we ship?", AskOptions{})
	require.NoError(t, err)

	require.Len(t, f.chat.lastMessages, 2)
	prompt := f.chat.lastMessages[1].Content
	assert.Contains(t, prompt, "=== Relevant Context (Semantic Search) ===")
	assert.Contains(t, prompt, "[Message] (relevance: 85.3%)")
	assert.Contains(t, prompt, "We ship on Friday")
	assert.Contains(t, prompt, "=== Recent Messages ===")
	assert.Contains(t, prompt, "[2026-03-10T09:30:00Z] User user-1: standup at ten")
	assert.Contains(t, prompt, "Question: when do we ship?")
}

func TestAsk_RecencyTopUpDedupsAndCaps(t *testing.T) {
	f := newFixture()
	f.searcher.results = []vectorstore.SearchResult{result("msg-1", 0.9, "semantic hit")}
	now := time.Now().UTC()
	var msgs []storage.Message
	// msg-1 duplicates the semantic hit and must not reappear.
	for i := 1; i <= 10; i++ {
		msgs = append(msgs, message(fmt.Sprintf("msg-%d", i), fmt.Sprintf("note %d", i), now.Add(-time.Duration(i)*time.Minute)))
	}
	f.messages.msgs = msgs
	f.chat.replies = []string{"answer"}

	_, err := f.svc.Ask(context.Background(), "room-1", "org-1", "what happened?", AskOptions{})
	require.NoError(t, err)

	prompt := f.chat.lastMessages[1].Content
	assert.NotContains(t, prompt, "User user-1: note 1\n")
	for i := 2; i <= 6; i++ {
		assert.Contains(t, prompt, fmt.Sprintf("note %d", i))
	}
	// Capped at 5 top-up messages.
	assert.NotContains(t, prompt, "note 7")
}

func TestAsk_FallbackSourcesFromLLMPick(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()
	f.messages.msgs = []storage.Message{
		message("msg-a", "the deploy failed on staging because of migrations", now),
		message("msg-b", "lunch at noon works for everyone", now.Add(-time.Minute)),
		message("msg-c", "retrying the deploy after the migration fix", now.Add(-2*time.Minute)),
	}
	f.chat.replies = []string{
		"The deploy failed because of migrations.",
		`Here you go: {"sourceIds": ["msg-a", "msg-c"]}`,
	}

	res, err := f.svc.Ask(context.Background(), "room-1", "org-1", "why did the deploy fail?", AskOptions{})

	require.NoError(t, err)
	assert.Equal(t, "The deploy failed because of migrations.", res.Answer)
	assert.Zero(t, res.Confidence)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "msg-a", res.Sources[0].ID)
	assert.Equal(t, "msg-c", res.Sources[1].ID)
	assert.Zero(t, res.Sources[0].Score)
}

func TestAsk_FallbackSourcesDegradeToMostRecent(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		f.messages.msgs = append(f.messages.msgs,
			message(fmt.Sprintf("msg-%d", i), "something happened here today", now.Add(-time.Duration(i)*time.Minute)))
	}
	f.chat.replies = []string{"an answer", "I cannot produce JSON, sorry"}

	res, err := f.svc.Ask(context.Background(), "room-1", "org-1", "what happened?", AskOptions{})

	require.NoError(t, err)
	require.Len(t, res.Sources, fallbackSourceCount)
	assert.Equal(t, "msg-0", res.Sources[0].ID)
	assert.Equal(t, "msg-1", res.Sources[1].ID)
	assert.Equal(t, "msg-2", res.Sources[2].ID)
}

func TestAsk_IncludeAttachmentsWidensSourceTypes(t *testing.T) {
	f := newFixture()
	f.searcher.results = []vectorstore.SearchResult{result("msg-1", 0.9, "hit")}
	f.chat.replies = []string{"answer"}

	_, err := f.svc.Ask(context.Background(), "room-1", "org-1", "question?", AskOptions{IncludeAttachments: true})

	require.NoError(t, err)
	assert.Equal(t, []vectorstore.SourceType{vectorstore.SourceMessage, vectorstore.SourceAttachment},
		f.searcher.gotOpts.SourceTypes)
}

func TestAsk_SearchErrorWrapped(t *testing.T) {
	f := newFixture()
	f.searcher.err = errors.New("qdrant unreachable")

	_, err := f.svc.Ask(context.Background(), "room-1", "org-1", "question?", AskOptions{})

	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "semantic search failed")
}

func TestCheckMembership(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.svc.CheckMembership(context.Background(), "room-1", "user-1"))

	f.members.member = false
	err := f.svc.CheckMembership(context.Background(), "room-1", "user-1")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestIndexMessage_SkipsShortContent(t *testing.T) {
	f := newFixture()
	f.indexer.shortErrByID["msg-1"] = indexer.ErrContentTooShort

	msg := message("msg-1", "hi", time.Now())
	require.NoError(t, f.svc.IndexMessage(context.Background(), &msg))
	assert.Empty(t, f.indexer.shortSources)
}

func TestIndexMessage_CarriesMetadata(t *testing.T) {
	f := newFixture()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	msg := message("msg-1", "a long enough message to index", at)
	msg.ThreadID = "thread-9"

	require.NoError(t, f.svc.IndexMessage(context.Background(), &msg))

	require.Len(t, f.indexer.shortSources, 1)
	src := f.indexer.shortSources[0]
	assert.Equal(t, vectorstore.SourceMessage, src.Type)
	assert.Equal(t, "msg-1", src.ID)
	assert.Equal(t, "user-1", src.Metadata["user_id"])
	assert.Equal(t, "2026-03-10T09:00:00Z", src.Metadata["created_at"])
	assert.Equal(t, "thread-9", src.Metadata["thread_id"])
}

func TestIndexAttachment(t *testing.T) {
	att := &storage.Attachment{
		ID: "att-1", MessageID: "msg-1", RoomID: "room-1", OrgID: "org-1",
		FileID: "file-1", FileName: "notes.md", MimeType: "text/markdown",
		CreatedAt: time.Now(),
	}

	t.Run("not found", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.IndexAttachment(context.Background(), "att-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unsupported type", func(t *testing.T) {
		f := newFixture()
		f.attachments.att = att
		f.processors.supported = false

		_, err := f.svc.IndexAttachment(context.Background(), "att-1")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("download failure", func(t *testing.T) {
		f := newFixture()
		f.attachments.att = att
		f.processors.supported = true
		f.files.err = errors.New("presign failed")

		_, err := f.svc.IndexAttachment(context.Background(), "att-1")
		assert.ErrorIs(t, err, ErrExternalService)
	})

	t.Run("no content extracted", func(t *testing.T) {
		f := newFixture()
		f.attachments.att = att
		f.processors.supported = true
		f.files.content = []byte("data")

		_, err := f.svc.IndexAttachment(context.Background(), "att-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no content extracted")
	})

	t.Run("success", func(t *testing.T) {
		f := newFixture()
		f.attachments.att = att
		f.processors.supported = true
		f.files.content = []byte("data")
		f.processors.chunks = []processor.ProcessedChunk{
			{Content: "part one", ChunkIndex: 0, ChunkTotal: 2},
			{Content: "part two", ChunkIndex: 1, ChunkTotal: 2},
		}

		n, err := f.svc.IndexAttachment(context.Background(), "att-1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		require.NotNil(t, f.indexer.processedSrc)
		assert.Equal(t, vectorstore.SourceAttachment, f.indexer.processedSrc.Type)
		assert.Equal(t, "notes.md", f.indexer.processedSrc.Metadata["file_name"])
		assert.Equal(t, "msg-1", f.indexer.processedSrc.Metadata["message_id"])
	})
}

func TestIndexRoom_CountsAndErrors(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()
	f.messages.msgs = []storage.Message{
		message("msg-1", "a long enough message to index", now),
		message("msg-2", "ok", now), // too short
		message("msg-3", "another long enough message here", now),
		message("msg-4", "this one fails during embedding today", now),
	}
	f.indexer.shortErrByID["msg-4"] = errors.New("embedding provider down")

	res, err := f.svc.IndexRoom(context.Background(), "room-1", "org-1")

	require.NoError(t, err)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Message msg-4:")
}

func TestIndexRoom_Paginates(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()
	for i := 0; i < 250; i++ {
		f.messages.msgs = append(f.messages.msgs,
			message(fmt.Sprintf("msg-%d", i), "a long enough message to index", now))
	}

	res, err := f.svc.IndexRoom(context.Background(), "room-1", "org-1")

	require.NoError(t, err)
	assert.Equal(t, 250, res.Indexed)
	assert.Len(t, f.indexer.shortSources, 250)
}

func TestIndexAllRooms_ContinuesPastRoomFailure(t *testing.T) {
	f := newFixture()
	f.rooms.rooms = []storage.Room{
		{ID: "room-1", OrgID: "org-1"},
		{ID: "room-2", OrgID: "org-1"},
		{ID: "room-3", OrgID: "org-1"},
	}
	now := time.Now().UTC()
	f.messages.msgs = []storage.Message{message("msg-1", "a long enough message to index", now)}

	// room-2 fails to list; svc must still process room-3. The fake keys
	// failure off a sentinel set per call count, so wrap the store.
	base := f.messages
	failing := &roomAwareMessages{fakeMessages: base, failRoom: "room-2"}
	f.svc = NewService(f.searcher, f.indexer, vectorstore.NewMemoryStore(),
		failing, f.rooms, f.attachments, f.members, f.files, f.processors, f.chat)

	res, err := f.svc.IndexAllRooms(context.Background(), "org-1")

	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRooms)
	assert.Equal(t, 2, res.SuccessfulRooms)
	assert.Equal(t, 2, res.TotalIndexed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Room room-2:")
}

type roomAwareMessages struct {
	*fakeMessages
	failRoom string
}

func (r *roomAwareMessages) ListByRoom(ctx context.Context, roomID string, page storage.Page) (*storage.MessagePage, error) {
	if roomID == r.failRoom {
		return nil, errors.New("listing blew up")
	}
	return r.fakeMessages.ListByRoom(ctx, roomID, page)
}

func TestIndexAllRooms_CapsPerRoomErrors(t *testing.T) {
	f := newFixture()
	f.rooms.rooms = []storage.Room{{ID: "room-1", OrgID: "org-1"}}
	now := time.Now().UTC()
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("msg-%d", i)
		f.messages.msgs = append(f.messages.msgs, message(id, "a long enough message to index", now))
		f.indexer.shortErrByID[id] = errors.New("boom")
	}

	res, err := f.svc.IndexAllRooms(context.Background(), "org-1")

	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessfulRooms)
	assert.Len(t, res.Errors, roomErrorCap)
}

func TestGetRoomStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := vectorstore_mocks.NewMockVectorStore(ctrl)
	store.EXPECT().CountByRoom(gomock.Any(), "room-1").Return(128, nil)

	f := newFixture()
	svc := NewService(f.searcher, f.indexer, store,
		f.messages, f.rooms, f.attachments, f.members, f.files, f.processors, f.chat)

	stats, err := svc.GetRoomStats(context.Background(), "room-1")

	require.NoError(t, err)
	assert.Equal(t, 128, stats.TotalEmbeddings)
}

func TestGetRoomStats_StoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := vectorstore_mocks.NewMockVectorStore(ctrl)
	store.EXPECT().CountByRoom(gomock.Any(), "room-1").Return(0, errors.New("qdrant unreachable"))

	f := newFixture()
	svc := NewService(f.searcher, f.indexer, store,
		f.messages, f.rooms, f.attachments, f.members, f.files, f.processors, f.chat)

	_, err := svc.GetRoomStats(context.Background(), "room-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to count room embeddings")
}

func TestClearRoomEmbeddings(t *testing.T) {
	f := newFixture()
	f.indexer.deletedChunks = 42

	n, err := f.svc.ClearRoomEmbeddings(context.Background(), "room-1")

	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.Equal(t, "room-1", f.indexer.deletedRoom)
}
