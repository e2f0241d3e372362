package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTranscribeTimeout bounds a single transcription round trip. Audio
// uploads are slow, so this is deliberately generous.
const DefaultTranscribeTimeout = 120 * time.Second

// TranscriptionClient is a client for an OpenAI-compatible audio
// transcriptions API (Whisper).
type TranscriptionClient struct {
	BaseURL string
	APIKey  string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewTranscriptionClient creates a new transcription client. A nil limiter
// installs the default of 10 requests/sec with a burst of 30.
func NewTranscriptionClient(baseURL, apiKey, model string, limiter *rate.Limiter) *TranscriptionClient {
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	return &TranscriptionClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: DefaultTranscribeTimeout},
		limiter: limiter,
	}
}

// Model returns the transcription model name sent with each request.
func (c *TranscriptionClient) Model() string {
	return c.model
}

// Transcribe uploads audio as multipart form data and returns the plain-text
// transcript.
func (c *TranscriptionClient) Transcribe(ctx context.Context, audio []byte, fileName string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio payload")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "text"); err != nil {
		return "", fmt.Errorf("failed to write format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	url := fmt.Sprintf("%s/v1/audio/transcriptions", c.BaseURL)

	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	return strings.TrimSpace(string(raw)), nil
}
