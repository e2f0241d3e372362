package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	APIPort   string
	LogLevel  slog.Level
	LogFormat string

	DBPath string

	QdrantURL        string
	QdrantCollection string
	QdrantVectorSize int

	LLMBaseURL  string
	LLMModel    string
	LLMAPIKey   string
	ChatTimeout time.Duration

	EmbeddingBaseURL string
	EmbeddingModel   string
	EmbeddingAPIKey  string
	EmbedTimeout     time.Duration

	TranscriptionBaseURL string
	TranscriptionModel   string
	TranscriptionAPIKey  string

	FileStorageURL string
}

// Load reads configuration from environment variables and returns a Config
// struct. It applies defaults for optional fields and validates required
// fields. If a .env file exists in the current directory or project root, it
// is loaded automatically; variables already set take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	// Walk up toward the project root looking for a .env file.
	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	cfg := &Config{
		APIPort:   getEnv("API_PORT", "9000"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DBPath: getEnv("DB_PATH", "./data/roomrag.db"),

		QdrantURL:        getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "room_chunks"),

		LLMBaseURL: getEnv("LLM_BASE_URL", "http://localhost:8080"),
		LLMModel:   getEnv("LLM_MODEL", "Llama-3.1-8B-Instruct"),
		LLMAPIKey:  getEnv("LLM_API_KEY", "dummy-key"),

		EmbeddingBaseURL: getEnv("EMBEDDING_BASE_URL", "http://localhost:8081"),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "granite-embedding-278m-multilingual"),
		EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", "dummy-key"),

		// Transcription is optional: audio attachments are skipped when
		// TRANSCRIPTION_BASE_URL is unset.
		TranscriptionBaseURL: getEnv("TRANSCRIPTION_BASE_URL", ""),
		TranscriptionModel:   getEnv("TRANSCRIPTION_MODEL", "whisper-1"),
		TranscriptionAPIKey:  getEnv("TRANSCRIPTION_API_KEY", "dummy-key"),

		FileStorageURL: getEnv("FILE_STORAGE_URL", "http://localhost:8082"),
	}

	logLevel, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = logLevel

	chatTimeout, err := getDurationEnv("CHAT_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.ChatTimeout = chatTimeout

	embedTimeout, err := getDurationEnv("EMBED_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.EmbedTimeout = embedTimeout

	// Must match the output vector size of the embeddings model. If the
	// size changes, the Qdrant collection must be recreated.
	vectorSizeStr := getEnv("QDRANT_VECTOR_SIZE", "")
	if vectorSizeStr == "" {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE is required")
	}
	vectorSize, err := strconv.Atoi(vectorSizeStr)
	if err != nil {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE must be a valid integer: %w", err)
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE must be greater than 0")
	}
	cfg.QdrantVectorSize = vectorSize

	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseLogLevel maps a LOG_LEVEL value to a slog level.
func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: got %q", value)
	}
}

// getDurationEnv parses a duration environment variable ("45s", "2m") or
// returns the default.
func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return d, nil
}
