// Package parser is the thin HTTP boundary to the document parser / OCR /
// VLM service. That service is external and implementation-defined: this
// package defines the wire contract it expects and the structured document
// it hands back, and never parses a PDF, DOCX, or spreadsheet byte itself.
package parser

import "context"

// ExtractedImage is an image the parser service found in the document,
// returned inline with the structured document so ingestion can run a
// separate captioning pass over it.
type ExtractedImage struct {
	Data       []byte
	MIMEType   string // "image/jpeg" or "image/png"
	PageNumber int    // page/slide number (0 when the format has none)
	Width      int
	Height     int
}

// ParseResult is what the parser service produces from a document file.
type ParseResult struct {
	Sections []Section
	Images   []ExtractedImage
	Method   string // "external", "external-ocr", "external-vlm" — the engine the service chose
	Metadata map[string]string
}

// Section represents a logical section of a parsed document.
type Section struct {
	Heading    string
	Content    string
	Level      int // heading level (1=top, 2=sub, etc.)
	PageNumber int
	Type       string // "section", "table", "definition", "requirement", "paragraph", "annex"
	Children   []Section
	Metadata   map[string]string
}

// Parser parses a document at path into a structured document. The sole
// production implementation is Client, which delegates to the external
// service; tests substitute a fake.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
}
