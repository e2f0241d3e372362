package processor

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gmtext "github.com/yuin/goldmark/text"

	"roomrag/internal/chunker"
)

var textTypes = []string{
	"text/plain",
	"text/markdown",
	"text/csv",
	"text/html",
	"application/json",
	"application/xml",
}

var (
	scriptTag     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlComments  = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockElements = regexp.MustCompile(`(?i)</?(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table)[^>]*>`)
	allTags       = regexp.MustCompile(`<[^>]+>`)
)

// TextProcessor handles textual mime types. Markdown is flattened through a
// goldmark AST walk and HTML has its tags stripped before chunking, so the
// stored chunks carry no markup noise into the embedding space.
type TextProcessor struct {
	markdown goldmark.Markdown
	opts     []chunker.Option
}

// NewTextProcessor creates a text processor. Chunker options apply to every
// document it processes.
func NewTextProcessor(opts ...chunker.Option) *TextProcessor {
	return &TextProcessor{
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
		opts: opts,
	}
}

func (p *TextProcessor) CanProcess(mimeType string) bool {
	for _, t := range textTypes {
		if mimeType == t {
			return true
		}
	}
	return strings.HasPrefix(mimeType, "text/")
}

func (p *TextProcessor) SupportedTypes() []string {
	return append([]string(nil), textTypes...)
}

func (p *TextProcessor) Process(ctx context.Context, content []byte, meta Metadata) ([]ProcessedChunk, error) {
	text := string(content)

	switch {
	case meta.MimeType == "text/markdown":
		text = p.flattenMarkdown(content)
	case meta.MimeType == "text/html":
		text = stripHTML(text)
	}

	cleaned := chunker.CleanText(text)
	parts := chunker.Split(cleaned, p.opts...)

	chunks := make([]ProcessedChunk, len(parts))
	for i, part := range parts {
		chunks[i] = ProcessedChunk{
			Content:    part,
			ChunkIndex: i,
			ChunkTotal: len(parts),
			Metadata: map[string]any{
				"file_name": meta.FileName,
				"mime_type": meta.MimeType,
				"source_id": meta.SourceID,
				"processor": "text",
			},
		}
	}
	return chunks, nil
}

// flattenMarkdown renders markdown to plain text by walking the goldmark AST
// and collecting text nodes, with newlines restored at block boundaries.
func (p *TextProcessor) flattenMarkdown(source []byte) string {
	doc := p.markdown.Parser().Parse(gmtext.NewReader(source))

	var sb strings.Builder
	blockBreak := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading, *ast.Paragraph, *ast.ListItem, *ast.Blockquote:
			blockBreak()
		case *ast.Text:
			sb.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.CodeBlock:
			blockBreak()
			writeLines(&sb, node, source)
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			blockBreak()
			writeLines(&sb, node, source)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return sb.String()
}

func writeLines(sb *strings.Builder, node ast.Node, source []byte) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		sb.Write(line.Value(source))
	}
}

// stripHTML removes tags and decodes entities, keeping newlines at block
// element boundaries so paragraph structure survives into the chunker.
func stripHTML(content string) string {
	content = scriptTag.ReplaceAllString(content, "")
	content = styleTag.ReplaceAllString(content, "")
	content = htmlComments.ReplaceAllString(content, "")
	content = blockElements.ReplaceAllString(content, "\n")
	content = allTags.ReplaceAllString(content, "")
	return html.UnescapeString(content)
}
