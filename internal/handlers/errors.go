package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"roomrag/internal/contextutil"
	"roomrag/internal/rag"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// identity carries the caller identity the gateway forwarded on the request.
type identity struct {
	OrgID  string
	UserID string
}

// identityFromRequest reads the gateway-set identity headers. OrgID is
// required on every tenant-scoped route; UserID only where membership is
// checked.
func identityFromRequest(r *http.Request) identity {
	return identity{
		OrgID:  r.Header.Get("X-Org-ID"),
		UserID: r.Header.Get("X-User-ID"),
	}
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// handleServiceError maps service errors to appropriate HTTP status codes.
func handleServiceError(w http.ResponseWriter, ctx context.Context, err error, defaultMsg string) {
	logger := contextutil.LoggerFromContext(ctx)
	logger.ErrorContext(ctx, "service error", "error", err)

	var validationErr *rag.ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Validation error: %s", validationErr.Error()))
		return
	}

	if errors.Is(err, rag.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}

	if errors.Is(err, rag.ErrForbidden) {
		writeError(w, http.StatusForbidden, "Not a member of this room")
		return
	}

	if errors.Is(err, rag.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Resource not found")
		return
	}

	if errors.Is(err, rag.ErrExternalService) {
		writeError(w, http.StatusBadGateway, "External service error")
		return
	}

	if errors.Is(err, rag.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "Vector store unavailable")
		return
	}

	writeError(w, http.StatusInternalServerError, defaultMsg)
}
