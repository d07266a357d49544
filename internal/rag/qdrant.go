package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// upsertBatchSize bounds the number of points sent per Upsert RPC.
const upsertBatchSize = 256

// Collection metadata keys written by Persist. A collection is only loadable
// once its state is stateComplete.
const (
	metaEmbedder  = "embedder"
	metaState     = "state"
	stateBuilding = "building"
	stateComplete = "complete"
)

// QdrantConfig holds connection parameters for a Qdrant instance. The
// collection name is not part of the config: it is the location passed to
// Persist and Load.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements Store with Qdrant as the durable backend. Indexes
// are built in memory and persisted as one collection per location;
// loaded indexes search server-side.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// embedder builds vectors and embeds queries.
	embedder Embedder

	// embedderName is recorded in the collection metadata and checked on Load.
	embedderName string
}

// NewQdrantStore connects to Qdrant and returns a ready-to-use store.
// embedderName identifies the embedding model, as for NewSQLiteStore.
func NewQdrantStore(cfg *QdrantConfig, embedder Embedder, embedderName string) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("qdrant: embedder must not be nil")
	}
	if embedderName == "" {
		return nil, fmt.Errorf("qdrant: embedder name must not be empty")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, embedder: embedder, embedderName: embedderName}, nil
}

// Client exposes the underlying client for readiness probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// Build embeds every chunk and returns an in-memory FlatIndex.
func (s *QdrantStore) Build(ctx context.Context, chunks []Chunk) (Index, error) {
	return buildFlat(ctx, s.embedder, chunks)
}

// Persist drops and recreates the collection named by location, then uploads
// every chunk of idx as a point. The replace is not atomic: the previous
// collection is gone before the upload starts. A collection whose upload did
// not finish is left marked as building, so Load rejects it.
func (s *QdrantStore) Persist(ctx context.Context, idx Index, collection string) error {
	flat, ok := idx.(*FlatIndex)
	if !ok {
		return fmt.Errorf("qdrant: can only persist a *FlatIndex, got %T", idx)
	}

	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", collection, err)
		}
	}

	// Qdrant rejects zero-sized vectors; an empty index keeps a 1-dim
	// collection with no points.
	size := uint64(max(flat.dim, 1)) //nolint:gosec // dimension is positive
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     size,
			Distance: qdrant.Distance_Cosine,
		}),
		Metadata: qdrant.NewValueMap(map[string]any{
			metaEmbedder: s.embedderName,
			metaState:    stateBuilding,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", collection, err)
	}

	wait := true
	for start := 0; start < len(flat.chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(flat.chunks))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			c := flat.chunks[i]
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(c.ID),
				Vectors: qdrant.NewVectors(flat.vectors[i]...),
				Payload: qdrant.NewValueMap(map[string]any{
					"text":       c.Text,
					"source":     c.Source,
					"page_start": c.PageStart,
					"page_end":   c.PageEnd,
					"position":   c.Position,
				}),
			})
		}
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("qdrant: upsert failed: %w", err)
		}
	}

	err = s.client.UpdateCollection(ctx, &qdrant.UpdateCollection{
		CollectionName: collection,
		Metadata:       qdrant.NewValueMap(map[string]any{metaState: stateComplete}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to mark collection %q complete: %w", collection, err)
	}
	return nil
}

// Load returns a handle on the collection named by location.
func (s *QdrantStore) Load(ctx context.Context, collection string) (Index, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: qdrant collection %q", ErrIndexNotFound, collection)
	}

	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("qdrant: collection info: %w", err)
	}
	if err := checkCollectionMeta(collection, info.GetConfig().GetMetadata(), s.embedderName); err != nil {
		return nil, err
	}
	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size == 0 {
		return nil, corruptf("qdrant collection %q has no single unnamed vector config", collection)
	}

	exact := true
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: count failed: %w", err)
	}

	dim := int(size) //nolint:gosec // bounded by collection config
	if count == 0 {
		dim = 0
	}
	return &QdrantIndex{
		client:     s.client,
		embedder:   s.embedder,
		collection: collection,
		dim:        dim,
		count:      int(count), //nolint:gosec // bounded by collection size
	}, nil
}

// checkCollectionMeta accepts a collection only when Persist finished writing
// it with the configured embedder.
func checkCollectionMeta(collection string, meta map[string]*qdrant.Value, embedderName string) error {
	if state := meta[metaState].GetStringValue(); state != stateComplete {
		if state == "" {
			state = "unknown"
		}
		return corruptf("qdrant collection %q is in state %s; re-run ingest", collection, state)
	}
	if got := meta[metaEmbedder].GetStringValue(); got != embedderName {
		return corruptf("qdrant collection %q was built with embedder %q but %q is configured; re-run ingest", collection, got, embedderName)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// QdrantIndex is an Index whose vectors live in a Qdrant collection.
type QdrantIndex struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	dim        int
	count      int
}

// Len returns the number of points in the collection at load time.
func (ix *QdrantIndex) Len() int { return ix.count }

// Dimension returns the collection vector size, or 0 when it is empty.
func (ix *QdrantIndex) Dimension() int { return ix.dim }

// Search performs a cosine similarity query and returns the top-k chunks.
func (ix *QdrantIndex) Search(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if ix.count == 0 {
		return []ScoredChunk{}, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	qv, err := embedQuery(ctx, ix.embedder, query, ix.dim)
	if err != nil {
		return nil, err
	}

	limit := uint64(k) //nolint:gosec // k is positive
	results, err := ix.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: ix.collection,
		Query:          qdrant.NewQuery(qv...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		c, err := chunkFromPayload(r.GetPayload())
		if err != nil {
			return nil, err
		}
		c.ID = r.GetId().GetUuid()
		scored = append(scored, ScoredChunk{Chunk: c, Score: r.GetScore()})
	}
	return topK(scored, k), nil
}

// chunkFromPayload rebuilds a Chunk from a point payload written by Persist.
func chunkFromPayload(p map[string]*qdrant.Value) (Chunk, error) {
	text, ok := p["text"]
	if !ok {
		return Chunk{}, corruptf("qdrant point without text payload")
	}
	pos, ok := p["position"]
	if !ok {
		return Chunk{}, corruptf("qdrant point without position payload")
	}
	return Chunk{
		Position:  int(pos.GetIntegerValue()),
		Text:      text.GetStringValue(),
		Source:    p["source"].GetStringValue(),
		PageStart: int(p["page_start"].GetIntegerValue()),
		PageEnd:   int(p["page_end"].GetIntegerValue()),
	}, nil
}
