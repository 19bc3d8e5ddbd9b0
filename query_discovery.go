package mallard

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/store"
	"github.com/jward/mallard/internal/symbols"
)

// --- Common Types ---

// Pagination controls offset+limit paging on list/search results.
type Pagination struct {
	Offset int // skip this many results (default 0)
	Limit  int // max results to return (default 50, max 500)
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// normalize returns a Pagination with defaults applied and bounds enforced.
func (p Pagination) normalize() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// SortField specifies how to order results.
type SortField string

const (
	SortByName             SortField = "name"
	SortByKind             SortField = "kind"
	SortByModule           SortField = "module"
	SortByRefCount         SortField = "ref_count"
	SortByExternalRefCount SortField = "external_ref_count"
)

// SortOrder specifies ascending or descending.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Sort controls result ordering.
type Sort struct {
	Field SortField
	Order SortOrder
}

// DeclarationResult extends Declaration with computed fields useful for
// discovery.
type DeclarationResult struct {
	store.Declaration
	Project          string
	Module           string // empty for project and library declarations
	RefCount         int    // uses bound to this declaration
	ExternalRefCount int    // uses from other modules
	InternalRefCount int    // uses from the declaring module
}

// PagedResult wraps a page of results with total count for pagination.
type PagedResult[T any] struct {
	Items      []T
	TotalCount int // total matching results (before pagination)
}

// DeclarationFilter specifies which declarations to include.
type DeclarationFilter struct {
	Kinds         []string // match any of these kinds
	Accessibility *string  // exact match
	Project       *string  // case-insensitive match
	ModuleID      *int64   // restrict to a single module
	ParentID      *int64   // restrict to direct children of this declaration
	Annotations   []string // declaration must carry ALL of these annotations
	BuiltIn       *bool    // reflection (true) or source (false) declarations
}

// --- Internal Helpers ---

// declarationSortColumn returns the SQL ORDER BY expression for
// declaration queries. Falls back to the name for unknown fields.
func declarationSortColumn(field SortField) string {
	switch field {
	case SortByKind:
		return "d.kind"
	case SortByModule:
		return "m.fold_key"
	case SortByRefCount:
		return "ref_count"
	case SortByExternalRefCount:
		return "external_ref_count"
	default:
		return "d.name COLLATE NOCASE"
	}
}

// sortDirection returns "ASC" or "DESC".
func sortDirection(order SortOrder) string {
	if order == Desc {
		return "DESC"
	}
	return "ASC"
}

// filterClauses turns a DeclarationFilter into WHERE conditions over
// declarations d joined to modules m.
func filterClauses(filter DeclarationFilter) ([]string, []any) {
	var where []string
	var args []any

	if len(filter.Kinds) > 0 {
		where = append(where, "d.kind IN ("+placeholders(len(filter.Kinds))+")")
		for _, k := range filter.Kinds {
			args = append(args, k)
		}
	}
	if filter.Accessibility != nil {
		where = append(where, "d.accessibility = ?")
		args = append(args, *filter.Accessibility)
	}
	if filter.Project != nil {
		where = append(where, "m.project = ? COLLATE NOCASE")
		args = append(args, *filter.Project)
	}
	if filter.ModuleID != nil {
		where = append(where, "d.module_id = ?")
		args = append(args, *filter.ModuleID)
	}
	if filter.ParentID != nil {
		where = append(where, "d.parent_id = ?")
		args = append(args, *filter.ParentID)
	}
	if filter.BuiltIn != nil {
		where = append(where, "d.is_builtin = ?")
		args = append(args, *filter.BuiltIn)
	}
	for _, a := range filter.Annotations {
		where = append(where, "EXISTS (SELECT 1 FROM annotations a WHERE a.declaration_id = d.id AND a.name = ? COLLATE NOCASE)")
		args = append(args, a)
	}
	return where, args
}

func placeholders(n int) string {
	return strings.Repeat("?,", n-1) + "?"
}

func whereClause(where []string) string {
	if len(where) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(where, " AND ")
}

// pageDeclarations runs the count and data queries for a filtered,
// sorted page of declarations.
func (q *QueryBuilder) pageDeclarations(op string, where []string, args []any, sort Sort, page Pagination) (*PagedResult[DeclarationResult], error) {
	page = page.normalize()
	clause := whereClause(where)

	countSQL := `SELECT COUNT(*) FROM declarations d JOIN modules m ON d.module_id = m.id ` + clause
	var totalCount int
	if err := q.store.DB().QueryRow(countSQL, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("%s: count: %w", op, err)
	}

	dataSQL := fmt.Sprintf(
		`SELECT %s FROM declarations d
		 JOIN modules m ON d.module_id = m.id
		 %s
		 ORDER BY %s %s, d.module_id, d.seq
		 LIMIT ? OFFSET ?`,
		resultCols, clause, declarationSortColumn(sort.Field), sortDirection(sort.Order),
	)
	dataArgs := append(append([]any{}, args...), page.Limit, page.Offset)

	items, err := q.queryDeclarationResults(dataSQL, dataArgs...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &PagedResult[DeclarationResult]{Items: items, TotalCount: totalCount}, nil
}

// --- Enumeration Endpoints ---

// Declarations is the primary listing/filtering endpoint. All filter
// fields are optional.
func (q *QueryBuilder) Declarations(filter DeclarationFilter, sort Sort, page Pagination) (*PagedResult[DeclarationResult], error) {
	where, args := filterClauses(filter)
	return q.pageDeclarations("declarations", where, args, sort, page)
}

// Members lists the module-level members of a module: procedures,
// properties, variables, constants, types and enums.
func (q *QueryBuilder) Members(moduleID int64, sort Sort, page Pagination) (*PagedResult[DeclarationResult], error) {
	var moduleDecl int64
	err := q.store.DB().QueryRow(
		"SELECT id FROM declarations WHERE module_id = ? AND seq = 0", moduleID,
	).Scan(&moduleDecl)
	if err == sql.ErrNoRows {
		return &PagedResult[DeclarationResult]{Items: []DeclarationResult{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("members: module declaration: %w", err)
	}
	return q.Declarations(DeclarationFilter{ModuleID: &moduleID, ParentID: &moduleDecl}, sort, page)
}

// --- Search ---

// SearchDeclarations performs glob-style search on declaration names,
// case-insensitively. '*' is the wildcard (mapped to SQL '%').
func (q *QueryBuilder) SearchDeclarations(pattern string, filter DeclarationFilter, sort Sort, page Pagination) (*PagedResult[DeclarationResult], error) {
	var where []string
	var args []any

	// Pattern matching: escape literal % and _ first, then convert * to %
	if pattern != "" && pattern != "*" {
		likePattern := escapeLike(pattern)
		likePattern = strings.ReplaceAll(likePattern, "*", "%")
		where = append(where, "d.name LIKE ? ESCAPE '\\'")
		args = append(args, likePattern)
	}

	fw, fa := filterClauses(filter)
	return q.pageDeclarations("search declarations", append(where, fw...), append(args, fa...), sort, page)
}

// --- Digest Endpoints ---

// ProjectStats provides a per-project breakdown for WorkspaceSummary.
type ProjectStats struct {
	Name             string
	ModuleCount      int
	DeclarationCount int
	KindCounts       map[string]int
	StatusCounts     map[string]int // module status -> modules
}

// WorkspaceSummary provides a high-level overview of the mirrored
// snapshot.
type WorkspaceSummary struct {
	Version         uint64
	Projects        []ProjectStats
	Libraries       []string
	Unavailable     map[string]string
	DiagnosticCount int
	TopDeclarations []DeclarationResult
}

// WorkspaceSummary returns an overview of every project plus the topN
// source declarations by uses from other modules.
func (q *QueryBuilder) WorkspaceSummary(topN int) (*WorkspaceSummary, error) {
	summary := &WorkspaceSummary{}
	var err error

	if summary.Version, err = q.store.Version(); err != nil {
		return nil, fmt.Errorf("workspace summary: %w", err)
	}

	unitRows, err := q.store.DB().Query(
		`SELECT project, provenance FROM modules WHERE name = '' ORDER BY fold_key`,
	)
	if err != nil {
		return nil, fmt.Errorf("workspace summary: units: %w", err)
	}
	byKey := make(map[string]*ProjectStats)
	var order []string
	for unitRows.Next() {
		var name, prov string
		if err := unitRows.Scan(&name, &prov); err != nil {
			unitRows.Close()
			return nil, fmt.Errorf("workspace summary: scan unit: %w", err)
		}
		if prov == symbols.FromReflection.String() {
			summary.Libraries = append(summary.Libraries, name)
			continue
		}
		key := naming.Fold(name)
		byKey[key] = &ProjectStats{Name: name, KindCounts: map[string]int{}, StatusCounts: map[string]int{}}
		order = append(order, key)
	}
	unitRows.Close()
	if err := unitRows.Err(); err != nil {
		return nil, fmt.Errorf("workspace summary: unit rows: %w", err)
	}

	// Module counts by status
	statusRows, err := q.store.DB().Query(
		`SELECT project, status, COUNT(*) FROM modules WHERE name != '' GROUP BY project, status`,
	)
	if err != nil {
		return nil, fmt.Errorf("workspace summary: statuses: %w", err)
	}
	for statusRows.Next() {
		var project, status string
		var count int
		if err := statusRows.Scan(&project, &status, &count); err != nil {
			statusRows.Close()
			return nil, fmt.Errorf("workspace summary: scan status: %w", err)
		}
		if ps := byKey[naming.Fold(project)]; ps != nil {
			ps.StatusCounts[status] += count
			ps.ModuleCount += count
		}
	}
	statusRows.Close()
	if err := statusRows.Err(); err != nil {
		return nil, fmt.Errorf("workspace summary: status rows: %w", err)
	}

	// Declaration counts by kind
	kindRows, err := q.store.DB().Query(
		`SELECT m.project, d.kind, COUNT(*) FROM declarations d
		 JOIN modules m ON d.module_id = m.id
		 WHERE d.is_builtin = FALSE
		 GROUP BY m.project, d.kind`,
	)
	if err != nil {
		return nil, fmt.Errorf("workspace summary: kind counts: %w", err)
	}
	for kindRows.Next() {
		var project, kind string
		var count int
		if err := kindRows.Scan(&project, &kind, &count); err != nil {
			kindRows.Close()
			return nil, fmt.Errorf("workspace summary: scan kind: %w", err)
		}
		if ps := byKey[naming.Fold(project)]; ps != nil {
			ps.KindCounts[kind] += count
			ps.DeclarationCount += count
		}
	}
	kindRows.Close()
	if err := kindRows.Err(); err != nil {
		return nil, fmt.Errorf("workspace summary: kind rows: %w", err)
	}

	summary.Projects = make([]ProjectStats, 0, len(order))
	for _, key := range order {
		summary.Projects = append(summary.Projects, *byKey[key])
	}
	if summary.Libraries == nil {
		summary.Libraries = []string{}
	}

	if summary.Unavailable, err = q.store.Unavailable(); err != nil {
		return nil, fmt.Errorf("workspace summary: %w", err)
	}
	if err := q.store.DB().QueryRow(`SELECT COUNT(*) FROM diagnostics`).Scan(&summary.DiagnosticCount); err != nil {
		return nil, fmt.Errorf("workspace summary: diagnostic count: %w", err)
	}

	summary.TopDeclarations = []DeclarationResult{}
	if topN > 0 {
		topSQL := fmt.Sprintf(
			`SELECT %s FROM declarations d
			 JOIN modules m ON d.module_id = m.id
			 WHERE d.is_builtin = FALSE
			   AND EXISTS (SELECT 1 FROM bindings b2 WHERE b2.target_id = d.id)
			 ORDER BY external_ref_count DESC, ref_count DESC, d.module_id, d.seq
			 LIMIT ?`,
			resultCols,
		)
		top, err := q.queryDeclarationResults(topSQL, topN)
		if err != nil {
			return nil, fmt.Errorf("workspace summary: top declarations: %w", err)
		}
		summary.TopDeclarations = top
	}
	return summary, nil
}

// ModuleSummary provides a summary of a single module.
type ModuleSummary struct {
	Module          *Module
	Members         []DeclarationResult // public module-level members, most used first
	KindCounts      map[string]int
	DiagnosticCount int
	Dependencies    []string // modules this module binds into
	Dependents      []string // modules binding into this module
}

// ModuleSummary returns a summary of the named module. Returns nil with no
// error if the module does not exist.
func (q *QueryBuilder) ModuleSummary(project, module string) (*ModuleSummary, error) {
	m, err := q.store.ModuleByName(project, module)
	if err != nil {
		return nil, fmt.Errorf("module summary: %w", err)
	}
	if m == nil {
		return nil, nil
	}
	summary := &ModuleSummary{Module: m, KindCounts: map[string]int{}}

	kindRows, err := q.store.DB().Query(`SELECT kind, COUNT(*) FROM declarations WHERE module_id = ? GROUP BY kind`, m.ID)
	if err != nil {
		return nil, fmt.Errorf("module summary: kind counts: %w", err)
	}
	for kindRows.Next() {
		var kind string
		var count int
		if err := kindRows.Scan(&kind, &count); err != nil {
			kindRows.Close()
			return nil, fmt.Errorf("module summary: scan kind: %w", err)
		}
		summary.KindCounts[kind] = count
	}
	kindRows.Close()
	if err := kindRows.Err(); err != nil {
		return nil, fmt.Errorf("module summary: kind rows: %w", err)
	}

	memberSQL := fmt.Sprintf(
		`SELECT %s FROM declarations d
		 JOIN modules m ON d.module_id = m.id
		 WHERE d.module_id = ?
		   AND d.accessibility IN ('Public', 'Global', 'Friend', 'Implicit')
		   AND d.parent_id = (SELECT id FROM declarations WHERE module_id = ? AND seq = 0)
		 ORDER BY external_ref_count DESC, d.seq`,
		resultCols,
	)
	if summary.Members, err = q.queryDeclarationResults(memberSQL, m.ID, m.ID); err != nil {
		return nil, fmt.Errorf("module summary: members: %w", err)
	}

	if err := q.store.DB().QueryRow(`SELECT COUNT(*) FROM diagnostics WHERE module_id = ?`, m.ID).Scan(&summary.DiagnosticCount); err != nil {
		return nil, fmt.Errorf("module summary: diagnostic count: %w", err)
	}

	if summary.Dependencies, err = q.moduleNames(
		`SELECT DISTINCT tm.project, tm.name FROM bindings b
		 JOIN declarations t ON t.id = b.target_id
		 JOIN modules tm ON tm.id = t.module_id
		 WHERE b.module_id = ? AND tm.id != b.module_id
		 ORDER BY tm.fold_key`, m.ID); err != nil {
		return nil, fmt.Errorf("module summary: dependencies: %w", err)
	}
	if summary.Dependents, err = q.moduleNames(
		`SELECT DISTINCT sm.project, sm.name FROM bindings b
		 JOIN declarations t ON t.id = b.target_id
		 JOIN modules sm ON sm.id = b.module_id
		 WHERE t.module_id = ? AND b.module_id != t.module_id
		 ORDER BY sm.fold_key`, m.ID); err != nil {
		return nil, fmt.Errorf("module summary: dependents: %w", err)
	}
	return summary, nil
}

// moduleNames runs a query selecting (project, name) pairs and returns
// their qualified names.
func (q *QueryBuilder) moduleNames(query string, args ...any) ([]string, error) {
	rows, err := q.store.DB().Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var unit naming.QualifiedModuleName
		if err := rows.Scan(&unit.Project, &unit.Module); err != nil {
			return nil, err
		}
		out = append(out, unit.String())
	}
	return out, rows.Err()
}

// --- Scan Helpers ---

// resultCols selects a DeclarationResult from declarations d joined to
// modules m.
var resultCols = prefixDeclarationCols("d") + `, m.project, m.name,
	(SELECT COUNT(*) FROM bindings b WHERE b.target_id = d.id) AS ref_count,
	(SELECT COUNT(*) FROM bindings b WHERE b.target_id = d.id AND b.module_id != d.module_id) AS external_ref_count`

// prefixDeclarationCols returns the declaration columns with a table
// prefix applied.
func prefixDeclarationCols(prefix string) string {
	prefixed := make([]string, len(store.DeclarationColumns))
	for i, c := range store.DeclarationColumns {
		prefixed[i] = prefix + "." + c
	}
	return strings.Join(prefixed, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

// scanDeclarationResult scans a row selected with resultCols.
func scanDeclarationResult(row scanner) (DeclarationResult, error) {
	var dr DeclarationResult
	d, err := store.ScanDeclarationRow(row, &dr.Project, &dr.Module, &dr.RefCount, &dr.ExternalRefCount)
	if err != nil {
		return dr, err
	}
	dr.Declaration = *d
	dr.InternalRefCount = dr.RefCount - dr.ExternalRefCount
	return dr, nil
}

func (q *QueryBuilder) queryDeclarationResults(query string, args ...any) ([]DeclarationResult, error) {
	rows, err := q.store.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	items := []DeclarationResult{}
	for rows.Next() {
		dr, err := scanDeclarationResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		items = append(items, dr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return items, nil
}

// escapeLike escapes SQL LIKE special characters (% and _) with backslash.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
