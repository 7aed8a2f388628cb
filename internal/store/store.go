package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists API descriptions in SQLite. A database holds the output of
// one session; writing replaces whatever was there.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS roots (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS units (
  id              INTEGER PRIMARY KEY,
  name            TEXT NOT NULL,
  version         TEXT NOT NULL,
  fingerprint     TEXT NOT NULL DEFAULT '',
  state           TEXT NOT NULL,
  features        TEXT,
  failure         TEXT,
  UNIQUE (name, version, fingerprint)
);

CREATE TABLE IF NOT EXISTS items (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  kind            TEXT NOT NULL,
  visibility      TEXT NOT NULL,
  exclusive_safe  TEXT,
  shared_safe     TEXT,
  file            TEXT,
  line            INTEGER,
  body            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS members (
  id              INTEGER PRIMARY KEY,
  item_id         INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
  kind            TEXT NOT NULL,
  name            TEXT,
  ordinal         INTEGER NOT NULL,
  type_text       TEXT,
  type_path       TEXT,
  resolved        BOOLEAN DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS implementations (
  id              INTEGER PRIMARY KEY,
  impl_path       TEXT NOT NULL UNIQUE,
  interface_path  TEXT,
  type_path       TEXT,
  unit            TEXT NOT NULL,
  interface_local BOOLEAN DEFAULT FALSE,
  type_local      BOOLEAN DEFAULT FALSE,
  negative        BOOLEAN DEFAULT FALSE,
  unsafe          BOOLEAN DEFAULT FALSE,
  body            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS diagnostics (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  reason          TEXT NOT NULL,
  cause           TEXT
);

CREATE INDEX IF NOT EXISTS idx_items_kind ON items(kind);
CREATE INDEX IF NOT EXISTS idx_members_item ON members(item_id);
CREATE INDEX IF NOT EXISTS idx_members_type ON members(type_path);
CREATE INDEX IF NOT EXISTS idx_impls_interface ON implementations(interface_path);
CREATE INDEX IF NOT EXISTS idx_impls_type ON implementations(type_path);
CREATE INDEX IF NOT EXISTS idx_diagnostics_kind ON diagnostics(kind);
`
