// Package chunker splits long text into overlapping, bounded-length windows.
//
// Lengths are measured in runes. Every chunk is at most Size runes long and
// consecutive chunks share exactly Overlap runes: the next window starts
// Overlap runes before the previous one ended. Each window is cut at the most
// natural boundary found near its end, preferring a paragraph break, then a
// line break, then a sentence end, then any whitespace, and falling back to a
// hard cut at exactly Size runes. Only the last chunk may be shorter than
// Size-Overlap runes.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/54b3r/docqa-go/internal/extract"
	"github.com/54b3r/docqa-go/internal/rag"
)

const (
	// DefaultSize is the default maximum chunk length in runes.
	DefaultSize = 10000
	// DefaultOverlap is the default number of runes shared by consecutive chunks.
	DefaultOverlap = 1000
)

// ErrInvalidConfig is returned by New when size and overlap do not satisfy
// 0 <= overlap < size.
var ErrInvalidConfig = errors.New("chunker: invalid size/overlap")

// Splitter is a configured sliding-window splitter. It is stateless and safe
// for concurrent use.
type Splitter struct {
	size    int
	overlap int
}

// New returns a Splitter producing chunks of at most size runes that overlap
// by exactly overlap runes.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidConfig, size, overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Size returns the maximum chunk length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the number of runes shared by consecutive chunks.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the chunks of text in order of appearance. Empty or
// whitespace-only input yields an empty slice.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	out := make([]string, 0)
	for _, w := range s.windows(runes) {
		out = append(out, string(runes[w.start:w.end]))
	}
	return out
}

// SplitDocument chunks the labeled text of doc and attributes each chunk to
// the range of pages it covers. Positions are relative to the document.
func (s *Splitter) SplitDocument(doc extract.Document) []rag.Chunk {
	text, spans := doc.Text()
	runes := []rune(text)
	windows := s.windows(runes)

	chunks := make([]rag.Chunk, 0, len(windows))
	for i, w := range windows {
		first, last := pageRange(spans, w.start, w.end)
		chunks = append(chunks, rag.Chunk{
			Position:  i,
			Text:      string(runes[w.start:w.end]),
			Source:    doc.Source,
			PageStart: first,
			PageEnd:   last,
		})
	}
	return chunks
}

// window is a half-open rune range [start, end).
type window struct {
	start, end int
}

// windows computes the chunk ranges over runes. Whitespace-only windows are
// dropped but still advance the cursor, so overlap is measured against the
// source text.
func (s *Splitter) windows(runes []rune) []window {
	var out []window
	n := len(runes)
	start := 0
	for start < n {
		end := n
		if n-start > s.size {
			end = s.cut(runes, start)
		}
		if !blank(runes[start:end]) {
			out = append(out, window{start: start, end: end})
		}
		if end == n {
			break
		}
		start = end - s.overlap
	}
	return out
}

// cut picks the end of the window that begins at start. Candidates lie in
// the last fifth of the window but no further back than overlap runes, so a
// cut chunk keeps at least size-overlap runes. They are never at or before
// start+overlap so the next window always advances.
func (s *Splitter) cut(runes []rune, start int) int {
	hi := start + s.size
	lookback := min(s.size/5, s.overlap)
	lo := max(hi-lookback, start+s.overlap+1)
	if lo > hi {
		return hi
	}

	for _, isBoundary := range boundaries {
		for p := hi; p >= lo; p-- {
			if isBoundary(runes, p) {
				return p
			}
		}
	}
	return hi
}

// boundaries are tried in order; each reports whether cutting before
// runes[p] falls right after a boundary of its kind.
var boundaries = []func(runes []rune, p int) bool{
	// paragraph break
	func(r []rune, p int) bool { return p >= 2 && r[p-1] == '\n' && r[p-2] == '\n' },
	// line break
	func(r []rune, p int) bool { return p >= 1 && r[p-1] == '\n' },
	// sentence end followed by a space
	func(r []rune, p int) bool {
		return p >= 2 && unicode.IsSpace(r[p-1]) && strings.ContainsRune(".!?", r[p-2])
	},
	// any whitespace
	func(r []rune, p int) bool { return p >= 1 && unicode.IsSpace(r[p-1]) },
}

func blank(r []rune) bool {
	for _, c := range r {
		if !unicode.IsSpace(c) {
			return false
		}
	}
	return true
}

// pageRange returns the first and last page numbers whose spans intersect
// [start, end). Zero values mean the document had no page spans.
func pageRange(spans []extract.PageSpan, start, end int) (int, int) {
	first, last := 0, 0
	for _, sp := range spans {
		if sp.End <= start || sp.Start >= end {
			continue
		}
		if first == 0 {
			first = sp.Number
		}
		last = sp.Number
	}
	return first, last
}
