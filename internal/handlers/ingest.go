package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"roomrag/internal/contextutil"
	"roomrag/internal/storage"
)

// IngestService is the indexing contract the ingest handler depends on.
type IngestService interface {
	IndexMessage(ctx context.Context, msg *storage.Message) error
	IndexAttachment(ctx context.Context, attachmentID string) (int, error)
}

// IngestHandler accepts message and attachment ingestion events: it persists
// the record and triggers indexing in one call.
type IngestHandler struct {
	ingest      IngestService
	messages    storage.MessageStore
	attachments storage.AttachmentStore
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(ingest IngestService, messages storage.MessageStore, attachments storage.AttachmentStore) *IngestHandler {
	return &IngestHandler{ingest: ingest, messages: messages, attachments: attachments}
}

// IngestMessageRequest represents an incoming chat message event.
type IngestMessageRequest struct {
	ID        string    `json:"id,omitempty"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	ThreadID  string    `json:"threadId,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// IngestAttachmentRequest represents an incoming attachment event.
type IngestAttachmentRequest struct {
	ID        string `json:"id,omitempty"`
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	FileID    string `json:"fileId"`
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType"`
	FileSize  int64  `json:"fileSize,omitempty"`
}

// Message persists a chat message and indexes it. Messages below the
// indexable length are stored but not indexed.
func (h *IngestHandler) Message(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	id := identityFromRequest(r)
	if id.OrgID == "" {
		writeError(w, http.StatusBadRequest, "Missing identity headers")
		return
	}

	var req IngestMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RoomID == "" || req.UserID == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "roomId, userId and content are required")
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	msg := &storage.Message{
		ID:        req.ID,
		RoomID:    req.RoomID,
		OrgID:     id.OrgID,
		UserID:    req.UserID,
		Content:   req.Content,
		ThreadID:  req.ThreadID,
		CreatedAt: req.CreatedAt,
	}

	if err := h.messages.Insert(ctx, msg); err != nil {
		handleServiceError(w, ctx, err, "Failed to store message")
		return
	}

	if err := h.ingest.IndexMessage(ctx, msg); err != nil {
		handleServiceError(w, ctx, err, "Failed to index message")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": msg.ID})
}

// Attachment persists an attachment record and indexes its content.
func (h *IngestHandler) Attachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	id := identityFromRequest(r)
	if id.OrgID == "" {
		writeError(w, http.StatusBadRequest, "Missing identity headers")
		return
	}

	var req IngestAttachmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.MessageID == "" || req.RoomID == "" || req.FileID == "" || req.MimeType == "" {
		writeError(w, http.StatusBadRequest, "messageId, roomId, fileId and mimeType are required")
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	att := &storage.Attachment{
		ID:        req.ID,
		MessageID: req.MessageID,
		RoomID:    req.RoomID,
		OrgID:     id.OrgID,
		FileID:    req.FileID,
		FileName:  req.FileName,
		MimeType:  req.MimeType,
		FileSize:  req.FileSize,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.attachments.Insert(ctx, att); err != nil {
		handleServiceError(w, ctx, err, "Failed to store attachment")
		return
	}

	chunks, err := h.ingest.IndexAttachment(ctx, att.ID)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to index attachment")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": att.ID, "chunks": chunks})
}
