package store

import (
	"context"
	"fmt"

	"github.com/xhad/newsdesk/internal/types"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and configures an index backend.
type Config struct {
	Backend     string
	Path        string
	DatabaseURL string
	TableName   string
	VectorDim   int
}

// Open returns the IndexStore for the configured backend.
func Open(ctx context.Context, config Config) (types.IndexStore, error) {
	switch config.Backend {
	case "", BackendSQLite:
		return NewFileStore(FileStoreConfig{
			Path:      config.Path,
			VectorDim: config.VectorDim,
		})
	case BackendPostgres:
		return NewWithConfig(ctx, VectorStoreConfig{
			ConnString: config.DatabaseURL,
			TableName:  config.TableName,
			VectorDim:  config.VectorDim,
		})
	default:
		return nil, fmt.Errorf("unknown index backend %q", config.Backend)
	}
}
