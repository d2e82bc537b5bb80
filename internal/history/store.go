// Package history journals finished update attempts to a local sqlite
// database so failed uploads can be diagnosed after the fact.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"trapmon/device/otad/internal/update"
)

type Store struct {
	logger zerolog.Logger
	db     *sql.DB
}

func New(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	schema := `CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		bytes INTEGER NOT NULL,
		state TEXT NOT NULL,
		version TEXT,
		error TEXT
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create attempts table: %w", err)
	}
	return &Store{
		logger: logger.With().Str("component", "history").Logger(),
		db:     db,
	}, nil
}

// Append records one terminal attempt. Failures are logged, not returned:
// the journal must never break the update path.
func (s *Store) Append(a update.Attempt) {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO attempts (id, started_at, finished_at, bytes, state, version, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.StartedAt.UnixMilli(), a.FinishedAt.UnixMilli(), a.Bytes, string(a.State), a.Version, a.Error,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("attempt", a.ID).Msg("failed to journal attempt")
	}
}

// Recent returns up to n attempts, newest first.
func (s *Store) Recent(n int) ([]update.Attempt, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, bytes, state, version, error FROM attempts ORDER BY finished_at DESC, id LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []update.Attempt
	for rows.Next() {
		var a update.Attempt
		var started, finished int64
		var state string
		if err := rows.Scan(&a.ID, &started, &finished, &a.Bytes, &state, &a.Version, &a.Error); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.StartedAt = time.UnixMilli(started).UTC()
		a.FinishedAt = time.UnixMilli(finished).UTC()
		a.State = update.State(state)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Prune keeps only the newest keep attempts.
func (s *Store) Prune(keep int) error {
	_, err := s.db.Exec(
		`DELETE FROM attempts WHERE id NOT IN (SELECT id FROM attempts ORDER BY finished_at DESC, id LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("prune attempts: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
