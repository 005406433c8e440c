package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tollgate-sdk/tollgate/model"
)

// Compile-time check to verify that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the default embedded Store, backed by modernc.org/sqlite.
// One database file per SDK instance; WAL mode keeps concurrent readers cheap
// while mutation stays single-writer.
type SQLiteStore struct {
	db *sql.DB
}

// migration is one step of the linear schema chain. Steps are applied in
// order at open; PRAGMA user_version records the last applied step.
type migration struct {
	version int
	stmts   []string
}

// The chain is append-only. Version 1 is the original layout without the
// sent-to-server flag; version 2 adds it, defaulting existing rows to
// unsent so they are re-confirmed on the next flush.
var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS assignments (
				experiment_id TEXT PRIMARY KEY,
				variant_id    TEXT NOT NULL,
				variant_type  TEXT NOT NULL,
				paywall_id    TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS occurrences (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				occurrence_key TEXT NOT NULL,
				created_at     INTEGER NOT NULL
			)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`ALTER TABLE assignments ADD COLUMN sent_to_server INTEGER NOT NULL DEFAULT 0`,
			`CREATE INDEX IF NOT EXISTS idx_occurrences_key_created
				ON occurrences(occurrence_key, created_at)`,
		},
	},
}

// NewSQLiteStore opens (or creates) the database at path, configures the
// connection and applies any pending schema migrations.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// migrate applies the pending tail of the migration chain inside one
// transaction per step, bumping user_version as it goes.
func migrate(ctx context.Context, db *sql.DB) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("sqlite: migration %d: %w", m.version, err)
			}
		}
		// PRAGMA does not support placeholders.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: bump schema version to %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

// LoadAssignments returns every persisted assignment.
func (s *SQLiteStore) LoadAssignments(ctx context.Context) ([]model.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT experiment_id, variant_id, variant_type, paywall_id, sent_to_server
		FROM assignments`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load assignments: %w", err)
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		var (
			a    model.Assignment
			sent int
		)
		if err := rows.Scan(&a.ExperimentID, &a.Variant.ID, &a.Variant.Type, &a.Variant.PaywallID, &sent); err != nil {
			return nil, fmt.Errorf("sqlite: scan assignment: %w", err)
		}
		a.SentToServer = sent != 0
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate assignments: %w", err)
	}
	return out, nil
}

// SaveAssignment inserts or replaces the assignment for its experiment id.
func (s *SQLiteStore) SaveAssignment(ctx context.Context, a model.Assignment) error {
	sent := 0
	if a.SentToServer {
		sent = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (experiment_id, variant_id, variant_type, paywall_id, sent_to_server)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(experiment_id) DO UPDATE SET
			variant_id = excluded.variant_id,
			variant_type = excluded.variant_type,
			paywall_id = excluded.paywall_id,
			sent_to_server = excluded.sent_to_server`,
		a.ExperimentID, a.Variant.ID, string(a.Variant.Type), a.Variant.PaywallID, sent)
	if err != nil {
		return fmt.Errorf("sqlite: save assignment %s: %w", a.ExperimentID, err)
	}
	return nil
}

// CountOccurrences counts records for the key created at or after since.
func (s *SQLiteStore) CountOccurrences(ctx context.Context, key string, since time.Time) (int, error) {
	var sinceNanos int64
	if !since.IsZero() {
		sinceNanos = since.UnixNano()
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM occurrences
		WHERE occurrence_key = ? AND created_at >= ?`,
		key, sinceNanos).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count occurrences for %s: %w", key, err)
	}
	return count, nil
}

// SaveOccurrence appends one occurrence record.
func (s *SQLiteStore) SaveOccurrence(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO occurrences (occurrence_key, created_at) VALUES (?, ?)`,
		key, at.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: save occurrence for %s: %w", key, err)
	}
	return nil
}

// Reset deletes all assignments and occurrence records.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin reset: %w", err)
	}
	for _, stmt := range []string{"DELETE FROM assignments", "DELETE FROM occurrences"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: reset: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
