package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"roomrag/internal/contextutil"
	"roomrag/internal/rag"
)

// IndexingService is the indexing/maintenance contract the maintenance
// handler depends on.
type IndexingService interface {
	IndexRoom(ctx context.Context, roomID, orgID string) (*rag.IndexingResult, error)
	IndexAllRooms(ctx context.Context, orgID string) (*rag.BulkIndexingResult, error)
	ClearRoomEmbeddings(ctx context.Context, roomID string) (int, error)
	GetRoomStats(ctx context.Context, roomID string) (*rag.RoomStats, error)
}

// MaintenanceHandler handles index-management requests: re-indexing rooms,
// clearing embeddings, and stats.
type MaintenanceHandler struct {
	indexing IndexingService
}

// NewMaintenanceHandler creates a new MaintenanceHandler.
func NewMaintenanceHandler(indexing IndexingService) *MaintenanceHandler {
	return &MaintenanceHandler{indexing: indexing}
}

// IndexRoom re-indexes every message in one room.
func (h *MaintenanceHandler) IndexRoom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	roomID := chi.URLParam(r, "roomID")
	id := identityFromRequest(r)
	if id.OrgID == "" {
		writeError(w, http.StatusBadRequest, "Missing identity headers")
		return
	}

	result, err := h.indexing.IndexRoom(ctx, roomID, id.OrgID)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to index room")
		return
	}

	logger.InfoContext(ctx, "room indexed", "room_id", roomID,
		"indexed", result.Indexed, "skipped", result.Skipped, "errors", len(result.Errors))
	writeJSON(w, http.StatusOK, result)
}

// IndexOrg re-indexes every room in an organization.
func (h *MaintenanceHandler) IndexOrg(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID := chi.URLParam(r, "orgID")
	result, err := h.indexing.IndexAllRooms(ctx, orgID)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to index organization")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ClearEmbeddings deletes every stored chunk for a room.
func (h *MaintenanceHandler) ClearEmbeddings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roomID := chi.URLParam(r, "roomID")
	deleted, err := h.indexing.ClearRoomEmbeddings(ctx, roomID)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to clear embeddings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// Stats reports how many chunks a room has in the vector store.
func (h *MaintenanceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roomID := chi.URLParam(r, "roomID")
	stats, err := h.indexing.GetRoomStats(ctx, roomID)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to get room stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
