package store

import (
	"database/sql"
	"fmt"
	"strconv"
)

// --- Binding operations ---

func insertBinding(db execer, b *Binding) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO bindings (module_id, scope_id, name, qualifier, use_kind, line, col, end_line, end_col, target_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ModuleID, b.ScopeID, b.Name, b.Qualifier, b.UseKind, b.Line, b.Col, b.EndLine, b.EndCol, b.TargetID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert binding: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertBinding(b *Binding) (int64, error) {
	id, err := insertBinding(s.db, b)
	if err != nil {
		return 0, err
	}
	b.ID = id
	return id, nil
}

func (s *Store) queryBindings(query string, args ...any) ([]*Binding, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bindings: %w", err)
	}
	defer rows.Close()
	var out []*Binding
	for rows.Next() {
		b := &Binding{}
		var scope sql.NullInt64
		var qualifier, kind sql.NullString
		var endLine, endCol sql.NullInt64
		if err := rows.Scan(&b.ID, &b.ModuleID, &scope, &b.Name, &qualifier, &kind, &b.Line, &b.Col, &endLine, &endCol, &b.TargetID); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		if scope.Valid {
			b.ScopeID = &scope.Int64
		}
		b.Qualifier, b.UseKind = qualifier.String, kind.String
		b.EndLine, b.EndCol = int(endLine.Int64), int(endCol.Int64)
		out = append(out, b)
	}
	return out, rows.Err()
}

const bindingColumns = "id, module_id, scope_id, name, qualifier, use_kind, line, col, end_line, end_col, target_id"

// BindingsTo returns every use bound to the declaration.
func (s *Store) BindingsTo(targetID int64) ([]*Binding, error) {
	return s.queryBindings("SELECT "+bindingColumns+" FROM bindings WHERE target_id = ? ORDER BY module_id, line, col", targetID)
}

func (s *Store) BindingsByModule(moduleID int64) ([]*Binding, error) {
	return s.queryBindings("SELECT "+bindingColumns+" FROM bindings WHERE module_id = ? ORDER BY line, col", moduleID)
}

// --- Diagnostic operations ---

func insertDiagnostic(db execer, d *Diagnostic) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO diagnostics (module_id, name, reason, message, candidates, line, col) VALUES (?, ?, ?, ?, ?, ?, ?)",
		d.ModuleID, d.Name, d.Reason, d.Message, d.Candidates, d.Line, d.Col,
	)
	if err != nil {
		return 0, fmt.Errorf("insert diagnostic: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertDiagnostic(d *Diagnostic) (int64, error) {
	id, err := insertDiagnostic(s.db, d)
	if err != nil {
		return 0, err
	}
	d.ID = id
	return id, nil
}

// Diagnostics returns every diagnostic ordered by module and position.
func (s *Store) Diagnostics() ([]*Diagnostic, error) {
	rows, err := s.db.Query(
		"SELECT id, module_id, name, reason, message, candidates, line, col FROM diagnostics ORDER BY module_id, line, col",
	)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: %w", err)
	}
	defer rows.Close()
	var out []*Diagnostic
	for rows.Next() {
		d := &Diagnostic{}
		if err := rows.Scan(&d.ID, &d.ModuleID, &d.Name, &d.Reason, &d.Message, &d.Candidates, &d.Line, &d.Col); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Snapshot metadata ---

const versionKey = "snapshot_version"

// Version returns the mirrored snapshot version, 0 when nothing has been
// mirrored.
func (s *Store) Version() (uint64, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", versionKey).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("version: %w", err)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("version: %w", err)
	}
	return n, nil
}

func setVersion(db execer, v uint64) error {
	_, err := db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		versionKey, strconv.FormatUint(v, 10),
	)
	if err != nil {
		return fmt.Errorf("set version: %w", err)
	}
	return nil
}

// Unavailable returns referenced libraries that failed to load, by name.
func (s *Store) Unavailable() (map[string]string, error) {
	rows, err := s.db.Query("SELECT name, error FROM unavailable_libraries ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("unavailable libraries: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name, msg string
		if err := rows.Scan(&name, &msg); err != nil {
			return nil, fmt.Errorf("scan unavailable library: %w", err)
		}
		out[name] = msg
	}
	return out, rows.Err()
}
