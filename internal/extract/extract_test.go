package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func Test_Document_Text(t *testing.T) {
	t.Parallel()
	doc := Document{Source: "a.pdf", Pages: []Page{
		{Number: 1, Text: "first"},
		{Number: 3, Text: "third"},
	}}

	text, spans := doc.Text()
	want := "\n\n### Page 1\n\nfirst\n\n\n\n### Page 3\n\nthird\n\n"
	if text != want {
		t.Fatalf("text mismatch:\nwant %q\ngot  %q", want, text)
	}
	if len(spans) != 2 {
		t.Fatalf("want 2 spans, got %d", len(spans))
	}
	if spans[0].Start != 0 || spans[1].Start != spans[0].End || spans[1].End != len([]rune(text)) {
		t.Errorf("spans do not tile the text: %+v", spans)
	}
	if spans[1].Number != 3 {
		t.Errorf("want page number 3, got %d", spans[1].Number)
	}
}

func Test_Document_TextCountsRunes(t *testing.T) {
	t.Parallel()
	doc := Document{Pages: []Page{{Number: 1, Text: "Cukai pendapatan ✓"}}}
	text, spans := doc.Text()
	if spans[0].End != len([]rune(text)) {
		t.Errorf("span end %d, rune length %d", spans[0].End, len([]rune(text)))
	}
}

func Test_Document_Empty(t *testing.T) {
	t.Parallel()
	if !(Document{}).Empty() {
		t.Error("zero document should be empty")
	}
	text, spans := Document{}.Text()
	if text != "" || len(spans) != 0 {
		t.Errorf("want empty text and spans, got %q %v", text, spans)
	}
}

func Test_TextExtractor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	tests := []struct {
		name      string
		content   string
		wantPages int
	}{
		{name: "plain text", content: "  Tax relief for 2024.\n", wantPages: 1},
		{name: "whitespace only", content: " \n\t\n", wantPages: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "_")+".txt")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}
			doc, err := TextExtractor{}.Extract(context.Background(), path)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if len(doc.Pages) != tc.wantPages {
				t.Fatalf("want %d pages, got %d", tc.wantPages, len(doc.Pages))
			}
			if tc.wantPages == 1 && doc.Pages[0].Text != strings.TrimSpace(tc.content) {
				t.Errorf("text not trimmed: %q", doc.Pages[0].Text)
			}
			if doc.Source != path {
				t.Errorf("want source %s, got %s", path, doc.Source)
			}
		})
	}
}

func Test_Auto_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "broken.pdf")
	if err := os.WriteFile(corrupt, []byte("this is not a pdf at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	unsupported := filepath.Join(dir, "sheet.xlsx")
	if err := os.WriteFile(unsupported, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "nope.pdf")},
		{name: "corrupt pdf", path: corrupt},
		{name: "unsupported extension", path: unsupported},
		{name: "missing text file", path: filepath.Join(dir, "nope.md")},
	}
	ex := NewAuto()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ex.Extract(context.Background(), tc.path)
			var exErr *ExtractionError
			if !errors.As(err, &exErr) {
				t.Fatalf("want *ExtractionError, got %T: %v", err, err)
			}
			if exErr.Source != tc.path {
				t.Errorf("want source %s, got %s", tc.path, exErr.Source)
			}
		})
	}
}

func Test_Auto_CanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewAuto().Extract(ctx, path); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
