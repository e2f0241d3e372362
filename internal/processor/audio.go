package processor

import (
	"context"
	"fmt"
	"strings"

	"roomrag/internal/chunker"
	"roomrag/internal/contextutil"
)

var audioTypes = []string{
	"audio/mpeg",
	"audio/mp4",
	"audio/wav",
	"audio/webm",
	"audio/ogg",
	"audio/flac",
	"audio/x-m4a",
}

// Transcriber converts an audio payload into text. Implementations report
// which model produced the transcript so it can be recorded per chunk.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, fileName string) (string, error)
	Model() string
}

// AudioProcessor transcribes audio attachments and chunks the transcript.
// The transcriber is optional: when nil the processor degrades to producing
// zero chunks instead of failing the whole indexing run.
type AudioProcessor struct {
	transcriber Transcriber
	opts        []chunker.Option
}

func NewAudioProcessor(transcriber Transcriber, opts ...chunker.Option) *AudioProcessor {
	return &AudioProcessor{transcriber: transcriber, opts: opts}
}

func (p *AudioProcessor) CanProcess(mimeType string) bool {
	for _, t := range audioTypes {
		if mimeType == t {
			return true
		}
	}
	return strings.HasPrefix(mimeType, "audio/")
}

func (p *AudioProcessor) SupportedTypes() []string {
	return append([]string(nil), audioTypes...)
}

func (p *AudioProcessor) Process(ctx context.Context, content []byte, meta Metadata) ([]ProcessedChunk, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if p.transcriber == nil {
		logger.Warn("transcription provider not configured, skipping audio", "file", meta.FileName)
		return nil, nil
	}

	transcript, err := p.transcriber.Transcribe(ctx, content, meta.FileName)
	if err != nil {
		return nil, fmt.Errorf("transcribing %s: %w", meta.FileName, err)
	}
	if strings.TrimSpace(transcript) == "" {
		logger.Warn("empty transcription", "file", meta.FileName)
		return nil, nil
	}

	cleaned := chunker.CleanText(transcript)
	parts := chunker.Split(cleaned, p.opts...)

	chunks := make([]ProcessedChunk, len(parts))
	for i, part := range parts {
		chunks[i] = ProcessedChunk{
			Content:    part,
			ChunkIndex: i,
			ChunkTotal: len(parts),
			Metadata: map[string]any{
				"file_name":           meta.FileName,
				"mime_type":           meta.MimeType,
				"source_id":           meta.SourceID,
				"processor":           "audio",
				"transcription_model": p.transcriber.Model(),
			},
		}
	}
	return chunks, nil
}
