package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"roomrag/internal/contextutil"
	"roomrag/internal/rag"
)

// QAService is the question-answering contract the ask handler depends on.
type QAService interface {
	CheckMembership(ctx context.Context, roomID, userID string) error
	Ask(ctx context.Context, roomID, orgID, question string, opts rag.AskOptions) (rag.QueryResult, error)
	AskStream(ctx context.Context, roomID, orgID, question string, opts rag.AskOptions) <-chan rag.StreamEvent
}

// AskHandler handles room question-answering requests.
type AskHandler struct {
	qa QAService
}

// NewAskHandler creates a new AskHandler.
func NewAskHandler(qa QAService) *AskHandler {
	return &AskHandler{qa: qa}
}

// AskRequest represents the HTTP request payload for room questions.
type AskRequest struct {
	Question           string  `json:"question"`
	IncludeAttachments bool    `json:"includeAttachments,omitempty"`
	MaxSources         int     `json:"maxSources,omitempty"`
	MinSimilarity      float32 `json:"minSimilarity,omitempty"`
}

// ServeHTTP answers a question about a room. With ?stream=true the answer is
// delivered as Server-Sent Events, sources first.
func (h *AskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	roomID := chi.URLParam(r, "roomID")
	id := identityFromRequest(r)
	if id.OrgID == "" || id.UserID == "" {
		writeError(w, http.StatusBadRequest, "Missing identity headers")
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "Question is required")
		return
	}

	if err := h.qa.CheckMembership(ctx, roomID, id.UserID); err != nil {
		handleServiceError(w, ctx, err, "Failed to check membership")
		return
	}

	opts := rag.AskOptions{
		IncludeAttachments: req.IncludeAttachments,
		MaxSources:         req.MaxSources,
		MinSimilarity:      req.MinSimilarity,
	}

	if r.URL.Query().Get("stream") == "true" {
		h.streamAnswer(w, r, roomID, id.OrgID, req.Question, opts)
		return
	}

	result, err := h.qa.Ask(ctx, roomID, id.OrgID, req.Question, opts)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to answer question")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// streamAnswer relays AskStream events as SSE frames. Each event becomes an
// "event: <type>" / "data: <json>" pair; the stream ends after the terminal
// done or error frame.
func (h *AskHandler) streamAnswer(w http.ResponseWriter, r *http.Request, roomID, orgID, question string, opts rag.AskOptions) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.ErrorContext(ctx, "streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeFrame := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			logger.ErrorContext(ctx, "failed to marshal SSE payload", "error", err)
			return
		}
		_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	for ev := range h.qa.AskStream(ctx, roomID, orgID, question, opts) {
		switch ev.Type {
		case rag.EventSources:
			writeFrame("sources", map[string]any{"sources": ev.Sources})
		case rag.EventChunk:
			writeFrame("chunk", map[string]any{"content": ev.Content})
		case rag.EventDone:
			writeFrame("done", ev.Result)
		case rag.EventError:
			logger.ErrorContext(ctx, "answer stream failed", "room_id", roomID, "error", ev.Err)
			writeFrame("error", ErrorResponse{Error: ev.Err.Error()})
		}
	}
}
