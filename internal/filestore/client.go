// Package filestore is an HTTP client for the external file-storage service.
// The RAG pipeline only reads: it resolves a presigned download URL for a
// file ID and fetches the bytes.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxDownloadBytes caps how much of a file the indexer will pull down.
const maxDownloadBytes = 32 << 20 // 32 MiB

// Client calls the file-storage service.
type Client struct {
	BaseURL string
	client  *http.Client
}

// NewClient creates a file-storage client.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type presignedGetRequest struct {
	ID            string `json:"id"`
	ExpirySeconds int    `json:"expirySeconds"`
}

type presignedGetResponse struct {
	Data struct {
		ID           string `json:"id"`
		PresignedURL string `json:"presignedUrl"`
		ExpiresIn    int    `json:"expiresIn"`
	} `json:"data"`
}

// PresignedGetURL resolves a short-lived download URL for a stored file.
func (c *Client) PresignedGetURL(ctx context.Context, fileID string) (string, error) {
	payload := presignedGetRequest{ID: fileID, ExpirySeconds: 3600}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/files/presigned-get-url", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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

	var parsed presignedGetResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Data.PresignedURL == "" {
		return "", fmt.Errorf("empty presigned URL for file %s", fileID)
	}

	return parsed.Data.PresignedURL, nil
}

// Download resolves a presigned URL for the file and fetches its content.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	presigned, err := c.PresignedGetURL(ctx, fileID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", presigned, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad download status %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}
	if len(content) > maxDownloadBytes {
		return nil, fmt.Errorf("file %s exceeds %d byte download limit", fileID, maxDownloadBytes)
	}

	return content, nil
}
