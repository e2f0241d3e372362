package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomrag/internal/config"
	"roomrag/internal/filestore"
	"roomrag/internal/handlers"
	"roomrag/internal/http"
	"roomrag/internal/indexer"
	"roomrag/internal/llm"
	"roomrag/internal/processor"
	"roomrag/internal/rag"
	"roomrag/internal/storage"
	"roomrag/internal/vectorstore"
)

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	// Initialize database
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	messages := storage.NewMessageRepo(db)
	rooms := storage.NewRoomRepo(db)
	attachments := storage.NewAttachmentRepo(db)
	members := storage.NewMemberRepo(db)

	ctx := context.Background()

	// Initialize Qdrant vector store
	vectorStore, err := vectorstore.NewQdrantStore(cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		log.Fatalf("Failed to create Qdrant client: %v", err)
	}

	if err := vectorStore.EnsureCollection(ctx, cfg.QdrantVectorSize); err != nil {
		log.Fatalf("Failed to ensure Qdrant collection: %v", err)
	}
	slog.Info("Qdrant collection ready", "collection", cfg.QdrantCollection, "vector_size", cfg.QdrantVectorSize)

	// Validate embedding client vector size (fail-fast)
	embedder := llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.QdrantVectorSize, nil)
	embedder.SetTimeout(cfg.EmbedTimeout)
	testEmbeddings, err := embedder.EmbedTexts(ctx, []string{"test"})
	if err != nil {
		log.Fatalf("Failed to validate embedding client: %v", err)
	}
	if len(testEmbeddings) == 0 || len(testEmbeddings[0]) != cfg.QdrantVectorSize {
		log.Fatalf("Embedding vector size mismatch: expected %d, got %d", cfg.QdrantVectorSize, len(testEmbeddings[0]))
	}
	slog.Info("Embedding client validated", "vector_size", cfg.QdrantVectorSize)

	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, nil)
	llmClient.SetTimeout(cfg.ChatTimeout)

	// Transcription is optional; without it audio attachments index as
	// zero chunks.
	var transcriber processor.Transcriber
	if cfg.TranscriptionBaseURL != "" {
		transcriber = llm.NewTranscriptionClient(cfg.TranscriptionBaseURL, cfg.TranscriptionAPIKey, cfg.TranscriptionModel, nil)
		slog.Info("Transcription enabled", "model", cfg.TranscriptionModel)
	}

	registry := processor.NewRegistry(
		processor.NewTextProcessor(),
		processor.NewAudioProcessor(transcriber),
	)

	files := filestore.NewClient(cfg.FileStorageURL)
	contentIndexer := indexer.New(embedder, vectorStore)
	searcher := rag.NewSearcher(embedder, vectorStore)

	ragService := rag.NewService(
		searcher,
		contentIndexer,
		vectorStore,
		messages,
		rooms,
		attachments,
		members,
		files,
		registry,
		llmClient,
	)
	slog.Info("RAG service initialized")

	deps := &http.Deps{
		RAG:         ragService,
		Messages:    messages,
		Attachments: attachments,
		HealthChecks: map[string]handlers.HealthCheck{
			"database":     db.PingContext,
			"vector_store": vectorStore.HealthCheck,
		},
	}
	router := http.NewRouter(deps)

	addr := ":" + cfg.APIPort
	server := &nethttp.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Starting API server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	slog.Info("Shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}
