// Package storage provides the durable persistence layer for the engine:
// confirmed experiment assignments and audience occurrence records.
//
// Three backends implement the same Store contract: an embedded SQLite
// database (the default), PostgreSQL for server-side deployments, and Redis
// for multi-instance deployments. A process-lifetime memory store backs tests
// and preview modes.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tollgate-sdk/tollgate/internal/config"
	"github.com/tollgate-sdk/tollgate/model"
)

// Store is the persistence contract consumed by the assignment store and the
// occurrence tracker. Implementations must be safe for concurrent use.
type Store interface {
	// LoadAssignments returns every persisted assignment.
	LoadAssignments(ctx context.Context) ([]model.Assignment, error)

	// SaveAssignment inserts or replaces the assignment for its experiment id.
	SaveAssignment(ctx context.Context, a model.Assignment) error

	// CountOccurrences counts occurrence records for the key created at or
	// after since. A zero since counts every record.
	CountOccurrences(ctx context.Context, key string, since time.Time) (int, error)

	// SaveOccurrence appends one occurrence record.
	SaveOccurrence(ctx context.Context, key string, at time.Time) error

	// Reset deletes all assignments and occurrence records. Used for
	// logout/uninstall-equivalent flows.
	Reset(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// New builds the Store selected by the configuration.
func New(ctx context.Context, cfg *config.StorageConfig, log *slog.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage: config cannot be nil")
	}

	switch cfg.Driver {
	case config.StorageDriverMemory:
		return NewMemoryStore(), nil
	case config.StorageDriverSQLite:
		return NewSQLiteStore(ctx, cfg.Path)
	case config.StorageDriverPostgres:
		return NewPostgresStoreFromDSN(ctx, cfg.DSN)
	case config.StorageDriverRedis:
		client, err := NewRedisClient(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
