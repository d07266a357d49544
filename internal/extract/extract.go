// Package extract turns document files into per-page plain text.
// PDF files are parsed with github.com/ledongthuc/pdf; .txt and .md files are
// read as a single page. Extraction failures are reported as
// *ExtractionError so the ingest flow can skip the document and continue.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Page is the text of one document page.
type Page struct {
	// Number is the 1-based page number in the source file.
	Number int
	// Text is the extracted page text, trimmed of surrounding whitespace.
	Text string
}

// Document is the ordered, non-empty pages extracted from one source file.
type Document struct {
	// Source is the file path the document was read from.
	Source string
	// Pages holds the non-empty pages in order. Empty pages are omitted.
	Pages []Page
}

// PageSpan records where a page's text sits inside Document.Text, in runes.
type PageSpan struct {
	// Number is the 1-based page number.
	Number int
	// Start is the rune offset of the page label.
	Start int
	// End is the rune offset just past the page text and its trailing break.
	End int
}

// Text renders the document as one string with a markdown label per page:
//
//	\n\n### Page N\n\n<text>\n\n
//
// The returned spans are ordered and cover the whole string.
func (d Document) Text() (string, []PageSpan) {
	var sb strings.Builder
	spans := make([]PageSpan, 0, len(d.Pages))
	offset := 0
	for _, p := range d.Pages {
		section := fmt.Sprintf("\n\n### Page %d\n\n%s\n\n", p.Number, p.Text)
		n := len([]rune(section))
		spans = append(spans, PageSpan{Number: p.Number, Start: offset, End: offset + n})
		sb.WriteString(section)
		offset += n
	}
	return sb.String(), spans
}

// Empty reports whether no text was extracted.
func (d Document) Empty() bool { return len(d.Pages) == 0 }

// ExtractionError reports an unreadable or corrupt document.
type ExtractionError struct {
	// Source is the path of the document that failed.
	Source string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor converts one file into a Document.
// Implementations must be safe to call from multiple goroutines.
type Extractor interface {
	// Extract reads path and returns its pages. Failures are *ExtractionError.
	Extract(ctx context.Context, path string) (Document, error)
}

// Auto dispatches to an Extractor by file extension.
type Auto struct {
	// byExt maps a lower-case extension (with dot) to its extractor.
	byExt map[string]Extractor
}

// NewAuto returns an Extractor that handles .pdf, .txt and .md files.
func NewAuto() *Auto {
	text := TextExtractor{}
	return &Auto{byExt: map[string]Extractor{
		".pdf":      PDFExtractor{},
		".txt":      text,
		".md":       text,
		".markdown": text,
	}}
}

// Extract selects the extractor for path's extension.
func (a *Auto) Extract(ctx context.Context, path string) (Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	ex, ok := a.byExt[ext]
	if !ok {
		return Document{}, &ExtractionError{Source: path, Err: fmt.Errorf("unsupported file type %q", ext)}
	}
	return ex.Extract(ctx, path)
}
