// Package statstore tracks a rolling spam/ham ratio per envelope
// sender and domain, backed by the embedded SQL-capable database
// spec.md §5 calls for ("the embedded SQL-capable database used by
// modules that keep per-sender/per-domain statistics"). It is consumed
// by the SenderReputation filter module.
package statstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Config selects the driver and DSN. Driver defaults to "sqlite3".
type Config struct {
	Driver string
	DSN    string
}

// Store is a thin wrapper around database/sql exposing only the
// per-sender/per-domain counters the SenderReputation module needs.
// Every query runs in a short, independent transaction per spec.md §5's
// "accessed via short transactions; readers and writers must tolerate
// concurrent access".
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the configured database and ensures the schema
// exists.
func Open(cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	dsn := cfg.DSN
	if dsn == "" && driver == "sqlite3" {
		dsn = "decency_reputation.db"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("statstore: open %s: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS sender_reputation (
	address    TEXT PRIMARY KEY,
	spam_count INTEGER NOT NULL DEFAULT 0,
	ham_count  INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP
)`)
	if err != nil {
		return fmt.Errorf("statstore: migrate: %w", err)
	}
	return nil
}

// Reputation is the accumulated spam/ham tally for one address or
// domain key.
type Reputation struct {
	SpamCount int64
	HamCount  int64
}

// Ratio returns spam_count / (spam_count + ham_count), or 0 when there
// is no history.
func (r Reputation) Ratio() float64 {
	total := r.SpamCount + r.HamCount
	if total == 0 {
		return 0
	}
	return float64(r.SpamCount) / float64(total)
}

// Lookup fetches the reputation row for key (a full address or a bare
// domain — callers decide which to pass).
func (s *Store) Lookup(ctx context.Context, key string) (Reputation, error) {
	key = strings.ToLower(key)
	row := s.db.QueryRowContext(ctx,
		`SELECT spam_count, ham_count FROM sender_reputation WHERE address = ?`, key)

	var rep Reputation
	if err := row.Scan(&rep.SpamCount, &rep.HamCount); err != nil {
		if err == sql.ErrNoRows {
			return Reputation{}, nil
		}
		return Reputation{}, fmt.Errorf("statstore: lookup %q: %w", key, err)
	}
	return rep, nil
}

// RecordSpam increments key's spam_count, creating the row if absent.
func (s *Store) RecordSpam(ctx context.Context, key string) error {
	return s.bump(ctx, key, "spam_count")
}

// RecordHam increments key's ham_count, creating the row if absent.
func (s *Store) RecordHam(ctx context.Context, key string) error {
	return s.bump(ctx, key, "ham_count")
}

func (s *Store) bump(ctx context.Context, key, column string) error {
	key = strings.ToLower(key)
	if column != "spam_count" && column != "ham_count" {
		return fmt.Errorf("statstore: invalid column %q", column)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var query string
	if s.driver == "mysql" {
		query = fmt.Sprintf(`
INSERT INTO sender_reputation (address, %s, updated_at) VALUES (?, 1, ?)
ON DUPLICATE KEY UPDATE %s = %s + 1, updated_at = VALUES(updated_at)
`, column, column, column)
	} else {
		query = fmt.Sprintf(`
INSERT INTO sender_reputation (address, %s, updated_at) VALUES (?, 1, ?)
ON CONFLICT(address) DO UPDATE SET %s = %s + 1, updated_at = excluded.updated_at
`, column, column, column)
	}

	if _, err := tx.ExecContext(ctx, query, key, time.Now()); err != nil {
		return fmt.Errorf("statstore: bump %s for %q: %w", column, key, err)
	}
	return tx.Commit()
}
