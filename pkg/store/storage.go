package store

import (
	"context"

	"github.com/biomedkg/kgx/pkg/common"
)

// GraphStorage persists merged knowledge graphs. Implementations exist for
// the local filesystem and Neo4j.
type GraphStorage interface {
	// SaveGraph stores fragment under graphID.
	SaveGraph(ctx context.Context, graphID string, fragment common.Fragment) error
	// DeleteGraph removes everything stored under graphID.
	DeleteGraph(ctx context.Context, graphID string) error
	Close(ctx context.Context) error
}
