// Package chunker splits text into overlapping segments for embedding.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultOverlap is the default number of characters shared between
// consecutive chunks.
const DefaultOverlap = 200

// separators lists split points in order of preference. A separator is only
// accepted if the resulting chunk is at least half the chunk size, so a
// paragraph break early in the window never produces a tiny chunk.
var separators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " "}

type config struct {
	chunkSize int
	overlap   int
}

// Option configures chunking behavior.
type Option func(*config)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *config) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// Split breaks text into ordered, overlapping chunks.
//
// Text no longer than the chunk size is returned as a single chunk. Otherwise
// the text is scanned in windows of chunkSize characters; at each window
// boundary the chunker searches backward for the most preferred separator and
// cuts there, falling back to a hard cut at the boundary when no separator
// lands in the second half of the window. The next window starts overlap
// characters before the previous cut.
//
// Empty or whitespace-only text yields no chunks. Callers are expected to
// clean text (see CleanText) before splitting; Split itself never rewrites
// content beyond trimming chunk edges.
func Split(text string, opts ...Option) []string {
	cfg := &config{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.overlap >= cfg.chunkSize {
		cfg.overlap = cfg.chunkSize / 4
	}
	// A separator cut can land just past the half-window mark, so an overlap
	// larger than half a window would move the next start backwards.
	if cfg.overlap > cfg.chunkSize/2 {
		cfg.overlap = cfg.chunkSize / 2
	}

	if strings.TrimSpace(text) == "" {
		return nil
	}

	// Sizes are measured in runes, not bytes, so a hard cut never lands in
	// the middle of a multi-byte character.
	runes := []rune(text)
	if len(runes) <= cfg.chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0

	for start < len(runes) {
		end := start + cfg.chunkSize
		if end > len(runes) {
			end = len(runes)
		}

		if end < len(runes) {
			window := string(runes[start:end])
			for _, sep := range separators {
				idx := strings.LastIndex(window, sep)
				if idx == -1 {
					continue
				}
				sepStart := start + utf8.RuneCountInString(window[:idx])
				if sepStart > start+cfg.chunkSize/2 {
					end = sepStart + utf8.RuneCountInString(sep)
					break
				}
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		start = end - cfg.overlap
		if start >= len(runes)-cfg.overlap {
			break
		}
	}

	return chunks
}

// CleanText normalizes raw text before chunking: horizontal whitespace runs
// collapse to one space, runs of three or more newlines collapse to a blank
// line, NUL bytes are dropped and every line is trimmed. Line breaks are
// preserved so separator-based splitting still sees paragraph structure.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))

	lastSpace := false
	newlines := 0
	for _, r := range text {
		switch {
		case r == 0:
			// strip NUL
		case r == '\n':
			newlines++
			if newlines <= 2 {
				b.WriteRune('\n')
			}
			lastSpace = false
		case r == ' ' || r == '\t' || r == '\r':
			if !lastSpace {
				b.WriteByte(' ')
			}
			lastSpace = true
		default:
			b.WriteRune(r)
			lastSpace = false
			newlines = 0
		}
	}

	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
