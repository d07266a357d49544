package rag

import (
	"fmt"

	"github.com/google/uuid"
)

// chunkNamespace scopes the name-based UUIDs generated for chunk IDs.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/54b3r/docqa-go/chunk"))

// ChunkID returns a deterministic UUID for the chunk at position within
// source. Re-ingesting an unchanged document set yields the same IDs, and the
// UUID form is accepted as a Qdrant point ID.
func ChunkID(source string, position int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", source, position))).String()
}
