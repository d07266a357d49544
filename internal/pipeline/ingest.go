// Package pipeline wires extraction, chunking, indexing and answer synthesis
// into the two flows docqa exposes: ingest a document set into a persisted
// index, and answer a question against that index.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/54b3r/docqa-go/internal/chunker"
	"github.com/54b3r/docqa-go/internal/extract"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// locationLocks serialises ingestions that target the same location.
var locationLocks sync.Map // map[string]*sync.Mutex

func lockFor(location string) *sync.Mutex {
	mu, _ := locationLocks.LoadOrStore(location, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// IngestorConfig holds the dependencies of an Ingestor.
type IngestorConfig struct {
	// Extractor reads documents. Defaults to extract.NewAuto().
	Extractor extract.Extractor

	// Splitter chunks extracted text. Required.
	Splitter *chunker.Splitter

	// Store builds and persists the index. Required.
	Store rag.Store

	// Location is where the index is persisted: a directory for the SQLite
	// store, a collection name for Qdrant. Required.
	Location string

	// Metrics is optional.
	Metrics *Metrics
}

// Ingestor runs the ingest flow: extract → chunk → embed → persist.
type Ingestor struct {
	extractor extract.Extractor
	splitter  *chunker.Splitter
	store     rag.Store
	location  string
	metrics   *Metrics
}

// IngestReport summarises one ingestion.
type IngestReport struct {
	// Location is where the index was persisted.
	Location string

	// Documents is the number of documents that contributed text.
	Documents int

	// Skipped lists documents that failed extraction or had no text.
	Skipped []string

	// Chunks is the number of chunks in the persisted index.
	Chunks int

	// Index is the freshly built index, ready to be handed to an Engine.
	Index rag.Index

	// Elapsed is the wall-clock time of the ingestion.
	Elapsed time.Duration
}

// NewIngestor validates cfg and returns an Ingestor.
func NewIngestor(cfg *IngestorConfig) (*Ingestor, error) {
	if cfg.Splitter == nil {
		return nil, fmt.Errorf("pipeline: splitter must not be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("pipeline: store must not be nil")
	}
	if cfg.Location == "" {
		return nil, fmt.Errorf("pipeline: index location must not be empty")
	}
	ex := cfg.Extractor
	if ex == nil {
		ex = extract.NewAuto()
	}
	return &Ingestor{
		extractor: ex,
		splitter:  cfg.Splitter,
		store:     cfg.Store,
		location:  cfg.Location,
		metrics:   cfg.Metrics,
	}, nil
}

// Location returns the configured index location.
func (in *Ingestor) Location() string { return in.location }

// Ingest extracts every path, chunks each document separately, embeds all
// chunks and persists the resulting index, replacing the previous one.
// Documents that fail extraction are logged and skipped. If nothing is
// extracted an empty index is persisted. Embedding and persistence failures
// abort the whole ingestion and leave the previous index in place.
func (in *Ingestor) Ingest(ctx context.Context, paths []string) (*IngestReport, error) {
	mu := lockFor(in.location)
	mu.Lock()
	defer mu.Unlock()

	log := logging.FromContext(ctx).With(slog.String("component", "ingest"))
	start := time.Now()
	report := &IngestReport{Location: in.location}

	var chunks []rag.Chunk
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pipeline: ingest canceled: %w", err)
		}

		doc, err := in.extractor.Extract(ctx, path)
		if err != nil {
			var exErr *extract.ExtractionError
			if !errors.As(err, &exErr) {
				return nil, fmt.Errorf("pipeline: extract %s: %w", path, err)
			}
			log.Warn("skipping document", slog.String("source", path), slog.String("error", exErr.Err.Error()))
			report.Skipped = append(report.Skipped, path)
			continue
		}
		if doc.Empty() {
			log.Warn("skipping document with no extractable text", slog.String("source", path))
			report.Skipped = append(report.Skipped, path)
			continue
		}

		docChunks := in.splitter.SplitDocument(doc)
		log.Debug("document chunked",
			slog.String("source", path),
			slog.Int("pages", len(doc.Pages)),
			slog.Int("chunks", len(docChunks)),
		)
		chunks = append(chunks, docChunks...)
		report.Documents++
	}

	if len(chunks) == 0 {
		log.Warn("no text extracted; persisting an empty index", slog.Int("documents", len(paths)))
	}

	idx, err := in.store.Build(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build index: %w", err)
	}
	if err := in.store.Persist(ctx, idx, in.location); err != nil {
		return nil, fmt.Errorf("pipeline: persist index: %w", err)
	}

	report.Index = idx
	report.Chunks = idx.Len()
	report.Elapsed = time.Since(start)
	in.metrics.observeIngest(report)

	log.Info("index persisted",
		slog.String("location", in.location),
		slog.Int("documents", report.Documents),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("chunks", report.Chunks),
		slog.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}
