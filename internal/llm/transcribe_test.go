package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTranscriptionClient_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("expected /v1/audio/transcriptions, got %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("expected multipart content type, got %s", r.Header.Get("Content-Type"))
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("expected model whisper-1, got %s", got)
		}
		if got := r.FormValue("response_format"); got != "text" {
			t.Errorf("expected response_format text, got %s", got)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		defer func() {
			_ = file.Close()
		}()
		if header.Filename != "memo.mp3" {
			t.Errorf("expected filename memo.mp3, got %s", header.Filename)
		}

		_, _ = w.Write([]byte("this is the transcript\n"))
	}))
	defer server.Close()

	client := NewTranscriptionClient(server.URL, "test-key", "whisper-1", nil)

	transcript, err := client.Transcribe(context.Background(), []byte{0x1, 0x2, 0x3}, "memo.mp3")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if transcript != "this is the transcript" {
		t.Errorf("Transcribe() = %q, want %q", transcript, "this is the transcript")
	}
	if client.Model() != "whisper-1" {
		t.Errorf("Model() = %q, want whisper-1", client.Model())
	}
}

func TestTranscriptionClient_Transcribe_EmptyPayload(t *testing.T) {
	client := NewTranscriptionClient("http://localhost:1", "test-key", "whisper-1", nil)

	if _, err := client.Transcribe(context.Background(), nil, "memo.mp3"); err == nil {
		t.Error("Transcribe() expected error for empty payload")
	}
}

func TestTranscriptionClient_Transcribe_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewTranscriptionClient(server.URL, "test-key", "whisper-1", nil)

	if _, err := client.Transcribe(context.Background(), []byte{0x1}, "memo.mp3"); err == nil {
		t.Error("Transcribe() expected error for bad status")
	}
}
