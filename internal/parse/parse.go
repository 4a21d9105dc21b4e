// Package parse converts raw source documents into ordered chunks with
// section paths.
package parse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/quarrylabs/quarry/internal/source"
)

// Chunk is one parsed unit of a document, positioned and addressed by its
// content hash. The hash covers content only, never position or section path.
type Chunk struct {
	Position    int
	SectionPath string
	Content     string
	ContentHash string
}

// Parser converts raw documents into structured chunks.
type Parser interface {
	Parse(ctx context.Context, raw source.RawDocument) (title string, chunks []Chunk, err error)
}

// TextParser handles markdown, plaintext, and HTML (through readability).
type TextParser struct {
	// MaxChunkChars bounds one chunk's content length before splitting on
	// paragraph boundaries.
	MaxChunkChars int
}

// NewTextParser builds a parser with the default chunk bound.
func NewTextParser() *TextParser {
	return &TextParser{MaxChunkChars: 1600}
}

// Parse splits the document on markdown headings, carrying a section path per
// chunk, and subdivides oversized sections on paragraph boundaries.
func (p *TextParser) Parse(_ context.Context, raw source.RawDocument) (string, []Chunk, error) {
	title := raw.Title
	text := string(raw.Content)

	if strings.Contains(raw.MediaType, "html") {
		article, err := readability.FromReader(strings.NewReader(text), nil)
		if err != nil {
			return "", nil, fmt.Errorf("extract article: %w", err)
		}
		if article.Title != "" {
			title = article.Title
		}
		text = article.TextContent
	}

	maxChars := p.MaxChunkChars
	if maxChars <= 0 {
		maxChars = 1600
	}

	var chunks []Chunk
	sections := splitSections(text)
	for _, sec := range sections {
		for _, piece := range splitByParagraph(sec.body, maxChars) {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Position:    len(chunks),
				SectionPath: sec.path,
				Content:     piece,
				ContentHash: HashContent(piece),
			})
		}
	}
	if len(chunks) == 0 {
		return title, nil, fmt.Errorf("document produced no chunks")
	}
	return title, chunks, nil
}

// HashContent fingerprints chunk content with SHA-256.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

type section struct {
	path string
	body string
}

// splitSections walks markdown headings and tracks the heading stack as a
// slash-joined section path.
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")
	var (
		sections []section
		stack    []string
		body     strings.Builder
	)
	flush := func() {
		if strings.TrimSpace(body.String()) != "" {
			sections = append(sections, section{path: strings.Join(stack, "/"), body: body.String()})
		}
		body.Reset()
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if level := headingLevel(trimmed); level > 0 {
			flush()
			headingText := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if level <= len(stack) {
				stack = stack[:level-1]
			}
			stack = append(stack, headingText)
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return sections
}

func headingLevel(line string) int {
	if !strings.HasPrefix(line, "#") {
		return 0
	}
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level > 6 || level >= len(line) || line[level] != ' ' {
		return 0
	}
	return level
}

// splitByParagraph greedily packs paragraphs into pieces bounded by maxChars.
// A single paragraph longer than the bound becomes its own piece.
func splitByParagraph(text string, maxChars int) []string {
	paragraphs := strings.Split(text, "\n\n")
	var (
		pieces  []string
		current strings.Builder
	)
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > maxChars {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}
