package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tollgate-sdk/tollgate/model"
)

// Compile-time check to verify that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore backs the engine with PostgreSQL for server-side deployments,
// where many engine instances share one durable assignment set.
type PostgresStore struct {
	db *pgxpool.Pool
	// ownsPool is true when the store created the pool and must close it.
	ownsPool bool
}

// NewPostgresStore wraps an existing connection pool. The caller keeps
// ownership of the pool's lifecycle.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	if db == nil {
		panic("storage: database pool cannot be nil")
	}
	return &PostgresStore{db: db}
}

// NewPostgresStoreFromDSN creates a pool from the connection string, verifies
// connectivity and ensures the schema exists.
func NewPostgresStoreFromDSN(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse config: %w", err)
	}

	// A decision engine issues short point queries; a small warm pool is
	// enough and avoids starving the shared database.
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(initCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create connection pool: %w", err)
	}
	if err := pool.Ping(initCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}

	store := &PostgresStore{db: pool, ownsPool: true}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the assignment and occurrence tables if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS assignments (
			experiment_id  TEXT PRIMARY KEY,
			variant_id     TEXT NOT NULL,
			variant_type   TEXT NOT NULL,
			paywall_id     TEXT NOT NULL DEFAULT '',
			sent_to_server BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS occurrences (
			id             BIGSERIAL PRIMARY KEY,
			occurrence_key TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_key_created
			ON occurrences(occurrence_key, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

// LoadAssignments returns every persisted assignment.
func (s *PostgresStore) LoadAssignments(ctx context.Context) ([]model.Assignment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT experiment_id, variant_id, variant_type, paywall_id, sent_to_server
		FROM assignments`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load assignments: %w", err)
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.ExperimentID, &a.Variant.ID, &a.Variant.Type, &a.Variant.PaywallID, &a.SentToServer); err != nil {
			return nil, fmt.Errorf("postgres: scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate assignments: %w", err)
	}
	return out, nil
}

// SaveAssignment inserts or replaces the assignment for its experiment id.
func (s *PostgresStore) SaveAssignment(ctx context.Context, a model.Assignment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO assignments (experiment_id, variant_id, variant_type, paywall_id, sent_to_server)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (experiment_id) DO UPDATE SET
			variant_id = EXCLUDED.variant_id,
			variant_type = EXCLUDED.variant_type,
			paywall_id = EXCLUDED.paywall_id,
			sent_to_server = EXCLUDED.sent_to_server`,
		a.ExperimentID, a.Variant.ID, string(a.Variant.Type), a.Variant.PaywallID, a.SentToServer)
	if err != nil {
		return fmt.Errorf("postgres: save assignment %s: %w", a.ExperimentID, err)
	}
	return nil
}

// CountOccurrences counts records for the key created at or after since.
func (s *PostgresStore) CountOccurrences(ctx context.Context, key string, since time.Time) (int, error) {
	if since.IsZero() {
		since = time.Unix(0, 0)
	}

	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM occurrences
		WHERE occurrence_key = $1 AND created_at >= $2`,
		key, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count occurrences for %s: %w", key, err)
	}
	return count, nil
}

// SaveOccurrence appends one occurrence record.
func (s *PostgresStore) SaveOccurrence(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO occurrences (occurrence_key, created_at) VALUES ($1, $2)`,
		key, at)
	if err != nil {
		return fmt.Errorf("postgres: save occurrence for %s: %w", key, err)
	}
	return nil
}

// Reset deletes all assignments and occurrence records.
func (s *PostgresStore) Reset(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{"DELETE FROM assignments", "DELETE FROM occurrences"} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: reset: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Close closes the pool when this store created it.
func (s *PostgresStore) Close() error {
	if s.ownsPool {
		s.db.Close()
	}
	return nil
}
