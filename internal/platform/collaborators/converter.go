package collaborators

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/gabriel-vasile/mimetype"
	"github.com/yuin/goldmark"

	"docmark/internal/core/domain"
)

// DocumentConverter implements ports.Converter. It sniffs the file's MIME
// type and dispatches to the matching branch; the HTML branch is the one
// concrete, richly configured path (mirroring the teacher's chunking
// service converter setup), everything else is read as plain text and
// passed through with light cleanup, since the converter itself is a black box
// this system treats opaquely rather than a target for format-specific
// fidelity.
type DocumentConverter struct {
	htmlConverter *md.Converter
}

func NewDocumentConverter() *DocumentConverter {
	converter := md.NewConverter("", true, &md.Options{
		HorizontalRule:     "---",
		BulletListMarker:   "*",
		CodeBlockStyle:     "fenced",
		Fence:              "```",
		EmDelimiter:        "*",
		StrongDelimiter:    "**",
		LinkStyle:          "inlined",
		LinkReferenceStyle: "full",
	})
	return &DocumentConverter{htmlConverter: converter}
}

func (c *DocumentConverter) Convert(_ context.Context, path string, options map[string]string) (string, domain.ResultMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", domain.ResultMetadata{}, fmt.Errorf("read source: %w", err)
	}

	mtype := mimetype.Detect(data)

	var markdown string
	switch {
	case mtype.Is("text/html"):
		markdown, err = c.htmlConverter.ConvertString(string(data))
		if err != nil {
			return "", domain.ResultMetadata{}, fmt.Errorf("convert html: %w", err)
		}
	case mtype.Is("text/plain"), mtype.Is("application/pdf"):
		markdown = plainTextToMarkdown(data)
	default:
		markdown = plainTextToMarkdown(data)
	}

	if title, ok := options["title"]; ok && title != "" {
		markdown = fmt.Sprintf("# %s\n\n%s", title, markdown)
	}

	meta := domain.ResultMetadata{
		Words:     countWords(markdown),
		SizeBytes: len(markdown),
		Format:    mtype.String(),
	}
	return markdown, meta, nil
}

// plainTextToMarkdown treats the input as already-plain content: it
// normalizes line endings, drops invalid UTF-8 bytes and trims surrounding
// whitespace, trusting the caller's MIME classification
// rather than attempting format-specific extraction.
func plainTextToMarkdown(data []byte) string {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	return strings.TrimSpace(text)
}

func countWords(markdown string) int {
	return len(strings.Fields(markdown))
}

// NormalizeMarkdown parses then re-renders markdown through goldmark as a
// validation round trip before the merge step commits it, catching
// malformed fragments a per-page converter failure might have left behind.
func NormalizeMarkdown(input string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("normalize markdown: %w", err)
	}
	if buf.Len() == 0 && strings.TrimSpace(input) != "" {
		// goldmark renders HTML; an empty render for non-empty input means
		// the fragment didn't parse as markdown at all.
		return "", fmt.Errorf("normalize markdown: empty render for non-empty input")
	}
	return input, nil
}

// GoldmarkNormalizer implements ports.Normalizer by delegating to
// NormalizeMarkdown, so the orchestrator depends only on the port.
type GoldmarkNormalizer struct{}

func NewGoldmarkNormalizer() GoldmarkNormalizer { return GoldmarkNormalizer{} }

func (GoldmarkNormalizer) Normalize(_ context.Context, markdown string) (string, error) {
	return NormalizeMarkdown(markdown)
}
