// Package rag defines the retrieval core of docqa: chunks, embeddings, the
// searchable index and the stores that build, persist and restore it.
// Concrete backends (SQLite file, Qdrant) satisfy [Store] so the pipeline
// never depends on a specific persistence layer.
package rag

import (
	"context"
)

// DefaultTopK is the number of chunks returned by a search when the caller
// passes k <= 0.
const DefaultTopK = 4

// Chunk is a bounded-length text segment produced from one document.
type Chunk struct {
	// ID is the stable identifier of the chunk (derived from source and position).
	ID string

	// Position is the insertion order of the chunk within its index. Search
	// ties are broken by ascending Position.
	Position int

	// Text is the raw chunk content.
	Text string

	// Source is the path or name of the originating document.
	Source string

	// PageStart is the first page (1-based) the chunk draws text from.
	// Zero when the source has no page structure.
	PageStart int

	// PageEnd is the last page (1-based) the chunk draws text from.
	PageEnd int
}

// ScoredChunk is a Chunk returned by a similarity search.
type ScoredChunk struct {
	Chunk

	// Score is the cosine similarity between the query and the chunk (-1..1).
	Score float32
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is a read-only searchable collection of embedded chunks.
// Implementations must be safe for concurrent Search calls.
type Index interface {
	// Search embeds query with the Embedder used at build time and returns up
	// to k chunks ordered by descending similarity. k <= 0 selects DefaultTopK.
	// An empty index yields an empty slice without calling the embedder.
	Search(ctx context.Context, query string, k int) ([]ScoredChunk, error)

	// Len returns the number of chunks in the index.
	Len() int

	// Dimension returns the embedding dimension, or 0 for an empty index.
	Dimension() int
}

// Store builds indexes and moves them to and from durable storage.
// Build is safe for concurrent use; Persist calls targeting the same location
// must be serialised by the caller.
type Store interface {
	// Build embeds every chunk and returns a searchable index over them.
	// Embedding failures are reported as *EmbeddingError.
	Build(ctx context.Context, chunks []Chunk) (Index, error)

	// Persist writes idx to location, replacing whatever was stored there.
	Persist(ctx context.Context, idx Index, location string) error

	// Load restores the index previously persisted at location. It returns an
	// error wrapping ErrIndexNotFound when nothing is stored there and
	// ErrIndexCorrupt when the stored data cannot be parsed. Only data written
	// by Persist may be loaded.
	Load(ctx context.Context, location string) (Index, error)

	// Close releases any resources held by the store.
	Close() error
}
