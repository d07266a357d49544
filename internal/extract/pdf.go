package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads the text layer of a PDF file page by page. Scanned
// pages with no text layer produce no text and are dropped.
type PDFExtractor struct{}

// Extract parses path as a PDF. The parser panics on some malformed inputs;
// those panics are recovered and reported as *ExtractionError.
func (PDFExtractor) Extract(ctx context.Context, path string) (doc Document, err error) {
	doc.Source = path
	defer func() {
		if r := recover(); r != nil {
			doc = Document{}
			err = &ExtractionError{Source: path, Err: fmt.Errorf("malformed pdf: %v", r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return Document{}, &ExtractionError{Source: path, Err: err}
	}
	defer f.Close()

	n := r.NumPage()
	if n == 0 {
		return Document{}, &ExtractionError{Source: path, Err: errors.New("pdf has no pages")}
	}

	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return Document{}, &ExtractionError{Source: path, Err: fmt.Errorf("page %d: %w", i, err)}
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		doc.Pages = append(doc.Pages, Page{Number: i, Text: text})
	}
	return doc, nil
}

// TextExtractor reads a plain-text or markdown file as a single page.
type TextExtractor struct{}

// Extract reads path in full.
func (TextExtractor) Extract(ctx context.Context, path string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, &ExtractionError{Source: path, Err: err}
	}
	doc := Document{Source: path}
	if text := strings.TrimSpace(string(data)); text != "" {
		doc.Pages = []Page{{Number: 1, Text: text}}
	}
	return doc, nil
}
