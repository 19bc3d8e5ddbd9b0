package mallard

import (
	"fmt"

	"github.com/jward/mallard/internal/store"
)

// QueryBuilder provides a host-facing query API over the mirror.
type QueryBuilder struct {
	store *store.Store
}

// Location is a named source span within a module. Module is empty for
// project and library level declarations.
type Location struct {
	Project   string
	Module    string
	Name      string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// DiagnosticResult is a diagnostic with the names of its module.
type DiagnosticResult struct {
	store.Diagnostic
	Project string
	Module  string
}

// Modules returns every mirrored unit: projects, libraries and modules.
func (q *QueryBuilder) Modules() ([]*Module, error) {
	return q.store.Modules()
}

// Module returns the named module or nil. Names match case-insensitively.
func (q *QueryBuilder) Module(project, name string) (*Module, error) {
	return q.store.ModuleByName(project, name)
}

// Unavailable returns the referenced libraries that failed to load, by
// name.
func (q *QueryBuilder) Unavailable() (map[string]string, error) {
	return q.store.Unavailable()
}

// DeclarationAt returns the narrowest declaration of the module whose span
// contains the 1-based position. Returns nil with no error when the module
// or declaration does not exist.
func (q *QueryBuilder) DeclarationAt(project, module string, line, col int) (*Declaration, error) {
	m, err := q.store.ModuleByName(project, module)
	if err != nil {
		return nil, fmt.Errorf("declaration at: lookup module: %w", err)
	}
	if m == nil {
		return nil, nil
	}
	d, err := q.store.DeclarationAt(m.ID, line, col)
	if err != nil {
		return nil, fmt.Errorf("declaration at: %w", err)
	}
	return d, nil
}

// DefinitionAt finds the declaration(s) of the use at the given position.
// It looks up bindings in the module whose span covers (line, col) and
// returns the target declaration locations.
func (q *QueryBuilder) DefinitionAt(project, module string, line, col int) ([]Location, error) {
	m, err := q.store.ModuleByName(project, module)
	if err != nil {
		return nil, fmt.Errorf("definition at: lookup module: %w", err)
	}
	if m == nil {
		return nil, nil
	}
	bindings, err := q.store.BindingsByModule(m.ID)
	if err != nil {
		return nil, fmt.Errorf("definition at: bindings: %w", err)
	}

	modules, err := q.moduleIndex()
	if err != nil {
		return nil, fmt.Errorf("definition at: %w", err)
	}
	var locations []Location
	for _, b := range bindings {
		if !b.Contains(line, col) {
			continue
		}
		loc, err := q.declarationLocation(b.TargetID, modules)
		if err != nil {
			return nil, fmt.Errorf("definition at: declaration location: %w", err)
		}
		if loc != nil {
			locations = append(locations, *loc)
		}
	}
	return locations, nil
}

// ReferencesTo finds every use bound to the given declaration.
func (q *QueryBuilder) ReferencesTo(declarationID int64) ([]Location, error) {
	bindings, err := q.store.BindingsTo(declarationID)
	if err != nil {
		return nil, fmt.Errorf("references to: %w", err)
	}
	modules, err := q.moduleIndex()
	if err != nil {
		return nil, fmt.Errorf("references to: %w", err)
	}
	locations := make([]Location, 0, len(bindings))
	for _, b := range bindings {
		loc := Location{Name: b.Name, StartLine: b.Line, StartCol: b.Col, EndLine: b.EndLine, EndCol: b.EndCol}
		if m := modules[b.ModuleID]; m != nil {
			loc.Project, loc.Module = m.Project, m.Name
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// Diagnostics returns every unresolved or ambiguous use, ordered by module
// and position.
func (q *QueryBuilder) Diagnostics() ([]DiagnosticResult, error) {
	diags, err := q.store.Diagnostics()
	if err != nil {
		return nil, fmt.Errorf("diagnostics: %w", err)
	}
	modules, err := q.moduleIndex()
	if err != nil {
		return nil, fmt.Errorf("diagnostics: %w", err)
	}
	out := make([]DiagnosticResult, 0, len(diags))
	for _, d := range diags {
		r := DiagnosticResult{Diagnostic: *d}
		if m := modules[d.ModuleID]; m != nil {
			r.Project, r.Module = m.Project, m.Name
		}
		out = append(out, r)
	}
	return out, nil
}

// moduleIndex loads every module keyed by ID.
func (q *QueryBuilder) moduleIndex() (map[int64]*Module, error) {
	mods, err := q.store.Modules()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*Module, len(mods))
	for _, m := range mods {
		out[m.ID] = m
	}
	return out, nil
}

// declarationLocation returns the location of a declaration, or nil if it
// does not exist.
func (q *QueryBuilder) declarationLocation(id int64, modules map[int64]*Module) (*Location, error) {
	d, err := q.store.DeclarationByID(id)
	if err != nil || d == nil {
		return nil, err
	}
	loc := &Location{
		Name:      d.Name,
		StartLine: d.StartLine,
		StartCol:  d.StartCol,
		EndLine:   d.EndLine,
		EndCol:    d.EndCol,
	}
	if m := modules[d.ModuleID]; m != nil {
		loc.Project, loc.Module = m.Project, m.Name
	}
	return loc, nil
}
