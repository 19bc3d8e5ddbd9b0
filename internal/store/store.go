package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite mirror of published declaration snapshots, read by
// tools running outside the host process.
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
CREATE TABLE IF NOT EXISTS meta (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

-- Declarations

CREATE TABLE IF NOT EXISTS modules (
  id              INTEGER PRIMARY KEY,
  project         TEXT NOT NULL,
  name            TEXT NOT NULL,
  fold_key        TEXT NOT NULL UNIQUE,
  kind            TEXT,
  status          TEXT NOT NULL,
  provenance      TEXT NOT NULL,
  digest          TEXT,
  set_hash        TEXT,
  error           TEXT,
  indexed_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS declarations (
  id              INTEGER PRIMARY KEY,
  module_id       INTEGER NOT NULL REFERENCES modules(id),
  parent_id       INTEGER REFERENCES declarations(id),
  seq             INTEGER NOT NULL,
  name            TEXT NOT NULL,
  qualified_name  TEXT NOT NULL,
  kind            TEXT NOT NULL,
  accessibility   TEXT,
  as_type         TEXT,
  type_hint       TEXT,
  is_array        BOOLEAN DEFAULT FALSE,
  is_builtin      BOOLEAN DEFAULT FALSE,
  signature_hash  TEXT,
  value           TEXT,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER
);

CREATE TABLE IF NOT EXISTS parameters (
  id              INTEGER PRIMARY KEY,
  declaration_id  INTEGER NOT NULL REFERENCES declarations(id),
  ordinal         INTEGER NOT NULL,
  optional        BOOLEAN DEFAULT FALSE,
  by_ref          BOOLEAN DEFAULT FALSE,
  param_array     BOOLEAN DEFAULT FALSE,
  default_expr    TEXT
);

CREATE TABLE IF NOT EXISTS annotations (
  id              INTEGER PRIMARY KEY,
  declaration_id  INTEGER NOT NULL REFERENCES declarations(id),
  name            TEXT NOT NULL,
  arguments       TEXT,
  line            INTEGER,
  col             INTEGER
);

CREATE TABLE IF NOT EXISTS attributes (
  id              INTEGER PRIMARY KEY,
  declaration_id  INTEGER NOT NULL REFERENCES declarations(id),
  name            TEXT NOT NULL,
  value_list      TEXT
);

-- Resolution

CREATE TABLE IF NOT EXISTS bindings (
  id              INTEGER PRIMARY KEY,
  module_id       INTEGER NOT NULL REFERENCES modules(id),
  scope_id        INTEGER REFERENCES declarations(id),
  name            TEXT NOT NULL,
  qualifier       TEXT,
  use_kind        TEXT,
  line            INTEGER,
  col             INTEGER,
  end_line        INTEGER,
  end_col         INTEGER,
  target_id       INTEGER NOT NULL REFERENCES declarations(id)
);

CREATE TABLE IF NOT EXISTS diagnostics (
  id              INTEGER PRIMARY KEY,
  module_id       INTEGER NOT NULL REFERENCES modules(id),
  name            TEXT NOT NULL,
  reason          TEXT NOT NULL,
  message         TEXT NOT NULL,
  candidates      INTEGER DEFAULT 0,
  line            INTEGER,
  col             INTEGER
);

CREATE TABLE IF NOT EXISTS unavailable_libraries (
  name            TEXT PRIMARY KEY,
  error           TEXT NOT NULL
);

-- Indexes

CREATE INDEX IF NOT EXISTS idx_declarations_module ON declarations(module_id);
CREATE INDEX IF NOT EXISTS idx_declarations_name ON declarations(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_declarations_kind ON declarations(kind);
CREATE INDEX IF NOT EXISTS idx_declarations_parent ON declarations(parent_id);
CREATE INDEX IF NOT EXISTS idx_parameters_declaration ON parameters(declaration_id);
CREATE INDEX IF NOT EXISTS idx_annotations_declaration ON annotations(declaration_id);
CREATE INDEX IF NOT EXISTS idx_attributes_declaration ON attributes(declaration_id);
CREATE INDEX IF NOT EXISTS idx_bindings_module ON bindings(module_id);
CREATE INDEX IF NOT EXISTS idx_bindings_target ON bindings(target_id);
CREATE INDEX IF NOT EXISTS idx_diagnostics_module ON diagnostics(module_id);
`

// DeleteModuleData transactionally removes a module and everything that
// points into it. Deletes run in reverse-dependency order to respect FK
// constraints.
func (s *Store) DeleteModuleData(moduleID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := deleteModuleTx(tx, moduleID, true); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteModuleTx removes the module's declarations and any binding that
// targets them. The module row itself is kept unless dropRow is set.
func deleteModuleTx(tx *sql.Tx, moduleID int64, dropRow bool) error {
	rows, err := tx.Query("SELECT id FROM declarations WHERE module_id = ?", moduleID)
	if err != nil {
		return fmt.Errorf("query declarations: %w", err)
	}
	var declIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan declaration id: %w", err)
		}
		declIDs = append(declIDs, id)
	}
	rows.Close()

	for _, chunk := range chunks(declIDs, maxParams/2) {
		placeholders := placeholderList(len(chunk))
		args := int64sToArgs(chunk)
		for _, q := range []string{
			"DELETE FROM bindings WHERE target_id IN (" + placeholders + ") OR scope_id IN (" + placeholders + ")",
			"DELETE FROM attributes WHERE declaration_id IN (" + placeholders + ")",
			"DELETE FROM annotations WHERE declaration_id IN (" + placeholders + ")",
			"DELETE FROM parameters WHERE declaration_id IN (" + placeholders + ")",
		} {
			expanded := args
			if n := countSubstring(q, "("+placeholders+")"); n > 1 {
				expanded = repeatArgs(args, n)
			}
			if _, err := tx.Exec(q, expanded...); err != nil {
				return fmt.Errorf("delete declaration data: %w", err)
			}
		}
	}

	for _, q := range []string{
		"DELETE FROM bindings WHERE module_id = ?",
		"DELETE FROM diagnostics WHERE module_id = ?",
		"DELETE FROM declarations WHERE module_id = ?",
	} {
		if _, err := tx.Exec(q, moduleID); err != nil {
			return fmt.Errorf("delete module data: %w", err)
		}
	}
	if dropRow {
		if _, err := tx.Exec("DELETE FROM modules WHERE id = ?", moduleID); err != nil {
			return fmt.Errorf("delete module: %w", err)
		}
	}
	return nil
}
