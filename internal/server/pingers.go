package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docqa-go/internal/rag"
)

// probe adapts a plain function to Pinger.
type probe struct {
	name string
	ping func(ctx context.Context) error
}

func (p probe) Name() string                   { return p.name }
func (p probe) Ping(ctx context.Context) error { return p.ping(ctx) }

// Probe returns a Pinger named name that calls ping.
func Probe(name string, ping func(ctx context.Context) error) Pinger {
	return probe{name: name, ping: ping}
}

// IndexProbe is ready once current returns a non-nil index. current is
// usually (*pipeline.Engine).Index.
func IndexProbe(current func() rag.Index) Pinger {
	return Probe("index", func(context.Context) error {
		if current() == nil {
			return rag.ErrIndexNotFound
		}
		return nil
	})
}

// errCollectionMissing is reported when Qdrant answers but the index
// collection has not been created yet.
var errCollectionMissing = errors.New("collection does not exist")

// QdrantProbe is ready when Qdrant passes its health check and collection
// exists.
func QdrantProbe(client *qdrant.Client, collection string) Pinger {
	return Probe("qdrant", func(ctx context.Context) error {
		if _, err := client.HealthCheck(ctx); err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		ok, err := client.CollectionExists(ctx, collection)
		if err != nil {
			return fmt.Errorf("collection %q: %w", collection, err)
		}
		if !ok {
			return fmt.Errorf("%q: %w", collection, errCollectionMissing)
		}
		return nil
	})
}
