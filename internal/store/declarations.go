package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jward/mallard/internal/naming"
)

// foldKey identifies a module case-insensitively.
func foldKey(project, name string) string {
	return naming.Fold(project) + "." + naming.Fold(name)
}

// --- Module operations ---

const moduleColumns = "id, project, name, kind, status, provenance, digest, set_hash, error, indexed_at"

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertModule(db execer, m *Module) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO modules (project, name, fold_key, kind, status, provenance, digest, set_hash, error, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Project, m.Name, foldKey(m.Project, m.Name), m.Kind, m.Status, m.Provenance, m.Digest, m.SetHash, m.Error, m.IndexedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert module: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	return id, nil
}

func updateModule(db execer, m *Module) error {
	_, err := db.Exec(
		`UPDATE modules SET project = ?, name = ?, kind = ?, status = ?, provenance = ?, digest = ?, set_hash = ?, error = ?, indexed_at = ?
		 WHERE id = ?`,
		m.Project, m.Name, m.Kind, m.Status, m.Provenance, m.Digest, m.SetHash, m.Error, m.IndexedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update module: %w", err)
	}
	return nil
}

func (s *Store) InsertModule(m *Module) (int64, error) {
	return insertModule(s.db, m)
}

func (s *Store) UpdateModule(m *Module) error {
	return updateModule(s.db, m)
}

func scanModule(scanner interface{ Scan(...any) error }) (*Module, error) {
	m := &Module{}
	var kind, digest, hash, errText sql.NullString
	var indexed sql.NullTime
	if err := scanner.Scan(&m.ID, &m.Project, &m.Name, &kind, &m.Status, &m.Provenance, &digest, &hash, &errText, &indexed); err != nil {
		return nil, err
	}
	m.Kind, m.Digest, m.SetHash, m.Error = kind.String, digest.String, hash.String, errText.String
	m.IndexedAt = indexed.Time
	return m, nil
}

// ModuleByName returns the module, matching case-insensitively, or nil.
func (s *Store) ModuleByName(project, name string) (*Module, error) {
	m, err := scanModule(s.db.QueryRow("SELECT "+moduleColumns+" FROM modules WHERE fold_key = ?", foldKey(project, name)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("module by name: %w", err)
	}
	return m, nil
}

func (s *Store) ModuleByID(id int64) (*Module, error) {
	m, err := scanModule(s.db.QueryRow("SELECT "+moduleColumns+" FROM modules WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("module by id: %w", err)
	}
	return m, nil
}

// Modules returns every module ordered by project then name.
func (s *Store) Modules() ([]*Module, error) {
	rows, err := s.db.Query("SELECT " + moduleColumns + " FROM modules ORDER BY fold_key")
	if err != nil {
		return nil, fmt.Errorf("modules: %w", err)
	}
	defer rows.Close()
	var out []*Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Declaration operations ---

// DeclarationColumns lists the declaration columns in scan order.
var DeclarationColumns = strings.Fields(strings.ReplaceAll(declarationColumns, ",", " "))

const declarationColumns = `id, module_id, parent_id, seq, name, qualified_name, kind, accessibility, as_type, type_hint,
	is_array, is_builtin, signature_hash, value, start_line, start_col, end_line, end_col`

func insertDeclaration(db execer, d *Declaration) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO declarations (module_id, parent_id, seq, name, qualified_name, kind, accessibility, as_type, type_hint,
			is_array, is_builtin, signature_hash, value, start_line, start_col, end_line, end_col)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ModuleID, d.ParentID, d.Seq, d.Name, d.QualifiedName, d.Kind, d.Accessibility, d.AsType, d.TypeHint,
		d.IsArray, d.IsBuiltIn, d.SignatureHash, d.Value, d.StartLine, d.StartCol, d.EndLine, d.EndCol,
	)
	if err != nil {
		return 0, fmt.Errorf("insert declaration: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertDeclaration(d *Declaration) (int64, error) {
	id, err := insertDeclaration(s.db, d)
	if err != nil {
		return 0, err
	}
	d.ID = id
	return id, nil
}

// ScanDeclarationRow scans a row selected with the declaration columns.
// Columns selected after them are scanned into extra.
func ScanDeclarationRow(scanner interface{ Scan(...any) error }, extra ...any) (*Declaration, error) {
	d := &Declaration{}
	var parent sql.NullInt64
	var access, asType, hint, hash, value sql.NullString
	dest := []any{&d.ID, &d.ModuleID, &parent, &d.Seq, &d.Name, &d.QualifiedName, &d.Kind, &access, &asType, &hint,
		&d.IsArray, &d.IsBuiltIn, &hash, &value, &d.StartLine, &d.StartCol, &d.EndLine, &d.EndCol}
	err := scanner.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		d.ParentID = &parent.Int64
	}
	d.Accessibility, d.AsType, d.TypeHint = access.String, asType.String, hint.String
	d.SignatureHash, d.Value = hash.String, value.String
	return d, nil
}

func (s *Store) queryDeclarations(query string, args ...any) ([]*Declaration, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query declarations: %w", err)
	}
	defer rows.Close()
	var out []*Declaration
	for rows.Next() {
		d, err := ScanDeclarationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan declaration: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeclarationByID(id int64) (*Declaration, error) {
	d, err := ScanDeclarationRow(s.db.QueryRow("SELECT "+declarationColumns+" FROM declarations WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("declaration by id: %w", err)
	}
	return d, nil
}

func (s *Store) DeclarationsByModule(moduleID int64) ([]*Declaration, error) {
	return s.queryDeclarations("SELECT "+declarationColumns+" FROM declarations WHERE module_id = ? ORDER BY seq", moduleID)
}

// DeclarationsByName matches names case-insensitively.
func (s *Store) DeclarationsByName(name string) ([]*Declaration, error) {
	return s.queryDeclarations("SELECT "+declarationColumns+" FROM declarations WHERE name = ? COLLATE NOCASE ORDER BY module_id, seq", name)
}

func (s *Store) DeclarationsByKind(kind string) ([]*Declaration, error) {
	return s.queryDeclarations("SELECT "+declarationColumns+" FROM declarations WHERE kind = ? ORDER BY module_id, seq", kind)
}

func (s *Store) DeclarationChildren(id int64) ([]*Declaration, error) {
	return s.queryDeclarations("SELECT "+declarationColumns+" FROM declarations WHERE parent_id = ? ORDER BY seq", id)
}

// AllDeclarations returns every declaration in module then set order.
func (s *Store) AllDeclarations() ([]*Declaration, error) {
	return s.queryDeclarations("SELECT " + declarationColumns + " FROM declarations ORDER BY module_id, seq")
}

// DeclarationAt returns the narrowest declaration of the module whose span
// contains the position, or nil.
func (s *Store) DeclarationAt(moduleID int64, line, col int) (*Declaration, error) {
	decls, err := s.queryDeclarations(
		`SELECT `+declarationColumns+` FROM declarations
		 WHERE module_id = ? AND start_line > 0
		   AND (start_line < ? OR (start_line = ? AND start_col <= ?))
		   AND (end_line > ? OR (end_line = ? AND end_col >= ?))
		 ORDER BY (end_line - start_line) ASC, (end_col - start_col) ASC, seq DESC
		 LIMIT 1`,
		moduleID, line, line, col, line, line, col,
	)
	if err != nil || len(decls) == 0 {
		return nil, err
	}
	return decls[0], nil
}

// --- Parameter operations ---

func insertParameter(db execer, p *Parameter) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO parameters (declaration_id, ordinal, optional, by_ref, param_array, default_expr) VALUES (?, ?, ?, ?, ?, ?)",
		p.DeclarationID, p.Ordinal, p.Optional, p.ByRef, p.ParamArray, p.Default,
	)
	if err != nil {
		return 0, fmt.Errorf("insert parameter: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertParameter(p *Parameter) (int64, error) {
	id, err := insertParameter(s.db, p)
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// ParameterOf returns the parameter details of a Parameter declaration.
func (s *Store) ParameterOf(declarationID int64) (*Parameter, error) {
	p := &Parameter{}
	var def sql.NullString
	err := s.db.QueryRow(
		"SELECT id, declaration_id, ordinal, optional, by_ref, param_array, default_expr FROM parameters WHERE declaration_id = ?",
		declarationID,
	).Scan(&p.ID, &p.DeclarationID, &p.Ordinal, &p.Optional, &p.ByRef, &p.ParamArray, &def)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parameter of: %w", err)
	}
	p.Default = def.String
	return p, nil
}

// --- Annotation and attribute operations ---

func insertAnnotation(db execer, a *Annotation) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO annotations (declaration_id, name, arguments, line, col) VALUES (?, ?, ?, ?, ?)",
		a.DeclarationID, a.Name, marshalList(a.Args), a.Line, a.Col,
	)
	if err != nil {
		return 0, fmt.Errorf("insert annotation: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertAnnotation(a *Annotation) (int64, error) {
	id, err := insertAnnotation(s.db, a)
	if err != nil {
		return 0, err
	}
	a.ID = id
	return id, nil
}

func (s *Store) Annotations(declarationID int64) ([]*Annotation, error) {
	rows, err := s.db.Query(
		"SELECT id, declaration_id, name, arguments, line, col FROM annotations WHERE declaration_id = ? ORDER BY id",
		declarationID,
	)
	if err != nil {
		return nil, fmt.Errorf("annotations: %w", err)
	}
	defer rows.Close()
	var out []*Annotation
	for rows.Next() {
		a := &Annotation{}
		var args sql.NullString
		if err := rows.Scan(&a.ID, &a.DeclarationID, &a.Name, &args, &a.Line, &a.Col); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		a.Args = UnmarshalList(args.String)
		out = append(out, a)
	}
	return out, rows.Err()
}

func insertAttribute(db execer, a *Attribute) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO attributes (declaration_id, name, value_list) VALUES (?, ?, ?)",
		a.DeclarationID, a.Name, marshalList(a.Values),
	)
	if err != nil {
		return 0, fmt.Errorf("insert attribute: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertAttribute(a *Attribute) (int64, error) {
	id, err := insertAttribute(s.db, a)
	if err != nil {
		return 0, err
	}
	a.ID = id
	return id, nil
}

// Attributes returns the declaration's attribute statements in source
// order.
func (s *Store) Attributes(declarationID int64) ([]*Attribute, error) {
	rows, err := s.db.Query(
		"SELECT id, declaration_id, name, value_list FROM attributes WHERE declaration_id = ? ORDER BY id",
		declarationID,
	)
	if err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	defer rows.Close()
	var out []*Attribute
	for rows.Next() {
		a := &Attribute{}
		var values sql.NullString
		if err := rows.Scan(&a.ID, &a.DeclarationID, &a.Name, &values); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		a.Values = UnmarshalList(values.String)
		out = append(out, a)
	}
	return out, rows.Err()
}
