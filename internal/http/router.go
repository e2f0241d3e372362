package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"roomrag/internal/handlers"
	"roomrag/internal/rag"
	"roomrag/internal/storage"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	RAG          *rag.Service
	Messages     storage.MessageStore
	Attachments  storage.AttachmentStore
	HealthChecks map[string]handlers.HealthCheck
}

// NewRouter creates the HTTP router.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(CORS)

	askHandler := handlers.NewAskHandler(deps.RAG)
	maintenanceHandler := handlers.NewMaintenanceHandler(deps.RAG)
	ingestHandler := handlers.NewIngestHandler(deps.RAG, deps.Messages, deps.Attachments)
	healthHandler := handlers.NewHealthHandler(deps.HealthChecks)

	r.Route("/api", func(r chi.Router) {
		r.Route("/rooms/{roomID}", func(r chi.Router) {
			r.Method(http.MethodPost, "/ask", askHandler)
			r.Post("/index", maintenanceHandler.IndexRoom)
			r.Delete("/embeddings", maintenanceHandler.ClearEmbeddings)
			r.Get("/stats", maintenanceHandler.Stats)
		})
		r.Post("/orgs/{orgID}/index", maintenanceHandler.IndexOrg)
		r.Route("/ingest", func(r chi.Router) {
			r.Post("/message", ingestHandler.Message)
			r.Post("/attachment", ingestHandler.Attachment)
		})
	})

	r.Method(http.MethodGet, "/healthz", healthHandler)

	return r
}
