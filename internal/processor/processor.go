// Package processor turns uploaded documents into plain-text chunks ready
// for embedding. Each DocumentProcessor handles a family of mime types; the
// Registry dispatches to the first processor that claims the type.
package processor

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupportedType is returned when no registered processor can handle a
// document's mime type. Callers treat it as a data problem, not a system one.
var ErrUnsupportedType = errors.New("unsupported document type")

// Metadata describes the document being processed.
type Metadata struct {
	FileName string
	MimeType string
	SourceID string
}

// ProcessedChunk is one embedding-ready slice of a processed document.
type ProcessedChunk struct {
	Content    string
	ChunkIndex int
	ChunkTotal int
	Metadata   map[string]any
}

// DocumentProcessor converts a raw document into text chunks.
// Implementations are stateless per call and safe for concurrent use.
type DocumentProcessor interface {
	// CanProcess reports whether the processor handles the given mime type.
	CanProcess(mimeType string) bool

	// SupportedTypes lists the mime types the processor accepts.
	SupportedTypes() []string

	// Process extracts text from content and returns ordered chunks.
	Process(ctx context.Context, content []byte, meta Metadata) ([]ProcessedChunk, error)
}

// Registry dispatches documents to processors in registration order.
type Registry struct {
	processors []DocumentProcessor
}

// NewRegistry creates a registry over the given processors. Order matters:
// the first processor whose CanProcess returns true wins.
func NewRegistry(processors ...DocumentProcessor) *Registry {
	return &Registry{processors: processors}
}

// CanProcess reports whether any registered processor handles mimeType.
func (r *Registry) CanProcess(mimeType string) bool {
	for _, p := range r.processors {
		if p.CanProcess(mimeType) {
			return true
		}
	}
	return false
}

// SupportedTypes returns the union of all registered processors' types.
func (r *Registry) SupportedTypes() []string {
	var types []string
	for _, p := range r.processors {
		types = append(types, p.SupportedTypes()...)
	}
	return types
}

// Process runs the document through the first matching processor.
func (r *Registry) Process(ctx context.Context, content []byte, meta Metadata) ([]ProcessedChunk, error) {
	for _, p := range r.processors {
		if p.CanProcess(meta.MimeType) {
			return p.Process(ctx, content, meta)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, meta.MimeType)
}
