package rag

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
)

// FlatIndex is an exact, in-memory index. Search compares the query against
// every stored vector, which is adequate for the few hundred chunks a fixed
// document set produces. It is immutable after construction.
type FlatIndex struct {
	// embedder embeds queries; it must be the embedder used to build vectors.
	embedder Embedder

	// chunks is ordered by Position.
	chunks []Chunk

	// vectors is parallel to chunks.
	vectors [][]float32

	// norms caches the L2 norm of each vector.
	norms []float64

	// dim is the shared vector dimension (0 when empty).
	dim int
}

// NewFlatIndex constructs a FlatIndex from chunks and their parallel vectors.
// Chunks are re-numbered so Position matches slice order. Every vector must
// have the same non-zero dimension.
func NewFlatIndex(embedder Embedder, chunks []Chunk, vectors [][]float32) (*FlatIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("rag: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	ix := &FlatIndex{
		embedder: embedder,
		chunks:   make([]Chunk, len(chunks)),
		vectors:  make([][]float32, len(vectors)),
		norms:    make([]float64, len(vectors)),
	}
	for i, c := range chunks {
		v := vectors[i]
		if len(v) == 0 {
			return nil, fmt.Errorf("rag: empty vector for chunk %d", i)
		}
		if ix.dim == 0 {
			ix.dim = len(v)
		}
		if len(v) != ix.dim {
			return nil, fmt.Errorf("rag: vector %d has dimension %d, want %d", i, len(v), ix.dim)
		}
		c.Position = i
		if c.ID == "" {
			c.ID = ChunkID(c.Source, i)
		}
		ix.chunks[i] = c
		ix.vectors[i] = slices.Clone(v)
		ix.norms[i] = norm(v)
	}
	return ix, nil
}

// buildFlat embeds chunks with embedder and returns the resulting FlatIndex.
// Shared by every Store implementation.
func buildFlat(ctx context.Context, embedder Embedder, chunks []Chunk) (*FlatIndex, error) {
	if len(chunks) == 0 {
		return NewFlatIndex(embedder, nil, nil)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, &EmbeddingError{Op: "build", Err: err}
	}
	if len(vectors) != len(chunks) {
		return nil, &EmbeddingError{
			Op:  "build",
			Err: fmt.Errorf("expected %d embeddings, got %d", len(chunks), len(vectors)),
		}
	}

	ix, err := NewFlatIndex(embedder, chunks, vectors)
	if err != nil {
		// Ragged or empty vectors mean the service returned malformed output.
		return nil, &EmbeddingError{Op: "build", Err: err}
	}
	return ix, nil
}

// Len returns the number of chunks in the index.
func (ix *FlatIndex) Len() int { return len(ix.chunks) }

// Dimension returns the vector dimension, or 0 when the index is empty.
func (ix *FlatIndex) Dimension() int { return ix.dim }

// Chunks returns a copy of the indexed chunks in Position order.
func (ix *FlatIndex) Chunks() []Chunk { return slices.Clone(ix.chunks) }

// Search embeds query and returns the top-k chunks by cosine similarity.
// Ties keep insertion order.
func (ix *FlatIndex) Search(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if len(ix.chunks) == 0 {
		return []ScoredChunk{}, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	qv, err := embedQuery(ctx, ix.embedder, query, ix.dim)
	if err != nil {
		return nil, err
	}
	qn := norm(qv)

	scored := make([]ScoredChunk, len(ix.chunks))
	for i, c := range ix.chunks {
		scored[i] = ScoredChunk{Chunk: c, Score: cosine(qv, qn, ix.vectors[i], ix.norms[i])}
	}
	return topK(scored, k), nil
}

// embedQuery embeds a single query and checks it against the index dimension.
func embedQuery(ctx context.Context, embedder Embedder, query string, dim int) ([]float32, error) {
	vecs, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &EmbeddingError{Op: "query", Err: err}
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, &EmbeddingError{Op: "query", Err: fmt.Errorf("embedder returned %d vectors for one query", len(vecs))}
	}
	if dim > 0 && len(vecs[0]) != dim {
		return nil, &EmbeddingError{
			Op:  "query",
			Err: fmt.Errorf("query vector has dimension %d, index has %d", len(vecs[0]), dim),
		}
	}
	return vecs[0], nil
}

// topK stable-sorts scored by descending score and truncates it to k.
// scored must already be in Position order.
func topK(scored []ScoredChunk, k int) []ScoredChunk {
	slices.SortStableFunc(scored, func(a, b ScoredChunk) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

// cosine returns the cosine similarity of a and b given their norms.
// Zero vectors score 0.
func cosine(a []float32, an float64, b []float32, bn float64) float32 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (an * bn))
}

// norm returns the L2 norm of v.
func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
