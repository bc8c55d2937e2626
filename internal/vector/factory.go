package vector

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hyperjump/shashin/internal/config"
)

// Backend names the storage used for collections.
type Backend string

const (
	// BackendSQLite keeps every collection in one SQLite file and scans it per query.
	BackendSQLite Backend = "sqlite"
	// BackendMemory keeps collections in memory and persists them to a file on close.
	BackendMemory Backend = "memory"
	// BackendQdrant stores collections in a Qdrant server.
	BackendQdrant Backend = "qdrant"
)

// Collection names used by the indexer and the search engine.
const (
	ImagesCollection = "images"
	TextsCollection  = "texts"
)

// Open returns the collection called name on the configured backend.
// dims may be 0 when the embedding size is not known up front.
func Open(ctx context.Context, cfg *config.Config, name string, dims int) (Collection, error) {
	switch Backend(cfg.Vector.Backend) {
	case BackendSQLite, "":
		return OpenSQLiteCollection(ctx, filepath.Join(cfg.Storage.VectorDir, "vectors.db"), name, dims)
	case BackendMemory:
		return OpenMemoryCollection(name, dims, filepath.Join(cfg.Storage.VectorDir, name+".vec"))
	case BackendQdrant:
		q := cfg.Vector.Qdrant
		return OpenQdrantCollection(QdrantOptions{
			Host:   q.Host,
			Port:   q.Port,
			APIKey: q.APIKey,
			UseTLS: q.UseTLS,
		}, q.CollectionPrefix+name, dims)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: sqlite, memory, qdrant)", cfg.Vector.Backend)
	}
}
