package store

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/registry"
	"github.com/jward/mallard/internal/symbols"
)

// MirrorStats summarizes one Mirror call.
type MirrorStats struct {
	Version      uint64
	Written      int // units whose declarations were rewritten
	Kept         int // units whose declaration rows were reused
	Removed      int
	Declarations int
	Bindings     int
	Diagnostics  int
	// Skipped counts bindings whose target set is no longer published,
	// which happens for modules kept at their last good parse.
	Skipped int
}

// unitRows tracks the database view of one snapshot unit during a mirror.
type unitRows struct {
	entry   registry.Entry
	module  *Module
	changed bool
	ids     []int64 // declaration id by set index; fake until commit
}

// Mirror replaces the database contents with snap in one transaction.
// Units whose set hash, digest and declaration count are unchanged keep
// their declaration rows; everything else is rewritten. Bindings and
// diagnostics are always rewritten.
func (s *Store) Mirror(snap *registry.Snapshot) (MirrorStats, error) {
	stats := MirrorStats{Version: snap.Version()}

	existing, err := s.Modules()
	if err != nil {
		return stats, err
	}
	seqs, err := s.declarationIDs()
	if err != nil {
		return stats, err
	}
	byKey := make(map[string]*Module, len(existing))
	for _, m := range existing {
		byKey[foldKey(m.Project, m.Name)] = m
	}

	entries := snap.Entries()
	units := make([]*unitRows, 0, len(entries))
	live := make(map[string]bool, len(entries))
	projectChanged := make(map[string]bool)

	// Entries are ordered project first, so a project's verdict is known
	// before its modules are examined.
	for _, e := range entries {
		key := foldKey(e.Unit.Project, e.Unit.Module)
		live[key] = true
		u := &unitRows{entry: e, module: byKey[key]}
		u.changed = u.module == nil || rowsDiffer(u.module, e, seqs[u.module.ID])
		if !e.Unit.IsProject() && projectChanged[naming.Fold(e.Unit.Project)] {
			u.changed = true
		}
		if e.Unit.IsProject() && u.changed {
			projectChanged[naming.Fold(e.Unit.Project)] = true
		}
		if !u.changed {
			u.ids = seqs[u.module.ID]
		}
		units = append(units, u)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return stats, fmt.Errorf("mirror: begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{"DELETE FROM bindings", "DELETE FROM diagnostics", "DELETE FROM unavailable_libraries"} {
		if _, err := tx.Exec(q); err != nil {
			return stats, fmt.Errorf("mirror: clear: %w", err)
		}
	}

	// Drop stale rows, modules before projects: module declarations point
	// at their project's root declaration.
	for _, projects := range []bool{false, true} {
		for _, m := range existing {
			if (m.Name == "") != projects {
				continue
			}
			key := foldKey(m.Project, m.Name)
			if !live[key] {
				if err := deleteModuleTx(tx, m.ID, true); err != nil {
					return stats, err
				}
				stats.Removed++
			}
		}
		for _, u := range units {
			if u.changed && u.module != nil && u.entry.Unit.IsProject() == projects {
				if err := deleteModuleTx(tx, u.module.ID, false); err != nil {
					return stats, err
				}
			}
		}
	}

	now := time.Now().UTC()
	for _, u := range units {
		m := moduleRow(u.entry)
		m.IndexedAt = now
		if u.module == nil {
			if _, err := insertModule(tx, m); err != nil {
				return stats, fmt.Errorf("mirror %s: %w", u.entry.Unit, err)
			}
		} else {
			m.ID = u.module.ID
			if !u.changed {
				m.IndexedAt = u.module.IndexedAt
			}
			if err := updateModule(tx, m); err != nil {
				return stats, fmt.Errorf("mirror %s: %w", u.entry.Unit, err)
			}
		}
		u.module = m
	}

	batch := NewBatchedStore(s)
	resolveID := func(h symbols.Handle, sets map[symbols.SetID]*unitRows) (int64, bool) {
		u, ok := sets[h.Set()]
		if !ok {
			return 0, false
		}
		i := h.Index()
		if i < 0 || i >= len(u.ids) || u.ids[i] == 0 {
			return 0, false
		}
		return u.ids[i], true
	}
	sets := make(map[symbols.SetID]*unitRows, len(units))
	for _, u := range units {
		if u.entry.Set != nil {
			sets[u.entry.Set.ID()] = u
		}
	}

	// Project and library roots first: module roots take their parent id
	// from them.
	var modules []*unitRows
	for _, u := range units {
		switch {
		case u.entry.Set == nil:
			continue
		case !u.changed:
			stats.Kept++
			continue
		case !u.entry.Unit.IsProject():
			modules = append(modules, u)
			continue
		}
		ids, err := convertSet(batch, u.module.ID, u.entry.Set, func(h symbols.Handle) (int64, bool) { return resolveID(h, sets) })
		if err != nil {
			return stats, fmt.Errorf("mirror %s: %w", u.entry.Unit, err)
		}
		u.ids = ids
		stats.Written++
		stats.Declarations += len(ids)
	}

	converted := make([][]int64, len(modules))
	g := new(errgroup.Group)
	for i, u := range modules {
		g.Go(func() error {
			ids, err := convertSet(batch, u.module.ID, u.entry.Set, func(h symbols.Handle) (int64, bool) { return resolveID(h, sets) })
			if err != nil {
				return fmt.Errorf("mirror %s: %w", u.entry.Unit, err)
			}
			converted[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	for i, u := range modules {
		u.ids = converted[i]
		stats.Written++
		stats.Declarations += len(u.ids)
	}

	for _, u := range units {
		res := u.entry.Result
		if res == nil {
			continue
		}
		for _, b := range res.Bindings {
			target, ok := resolveID(b.Target, sets)
			if !ok {
				stats.Skipped++
				continue
			}
			row := &Binding{
				ModuleID:  u.module.ID,
				Name:      b.Use.Name,
				Qualifier: b.Use.Qualifier,
				UseKind:   b.Use.Kind.String(),
				Line:      b.Use.Selection.StartLine,
				Col:       b.Use.Selection.StartCol,
				EndLine:   b.Use.Selection.EndLine,
				EndCol:    b.Use.Selection.EndCol,
				TargetID:  target,
			}
			if scope, ok := resolveID(b.Use.Scope, sets); ok {
				row.ScopeID = &scope
			}
			if _, err := batch.InsertBinding(row); err != nil {
				return stats, err
			}
			stats.Bindings++
		}
		for _, d := range res.Diagnostics {
			if _, err := batch.InsertDiagnostic(&Diagnostic{
				ModuleID:   u.module.ID,
				Name:       d.Use.Name,
				Reason:     d.Reason.String(),
				Message:    d.Message,
				Candidates: len(d.Candidates),
				Line:       d.Use.Selection.StartLine,
				Col:        d.Use.Selection.StartCol,
			}); err != nil {
				return stats, err
			}
			stats.Diagnostics++
		}
	}

	if err := commitBatchTx(tx, batch); err != nil {
		return stats, err
	}
	for name, lerr := range snap.Unavailable() {
		msg := "unavailable"
		if lerr != nil {
			msg = lerr.Error()
		}
		if _, err := tx.Exec("INSERT INTO unavailable_libraries (name, error) VALUES (?, ?)", name, msg); err != nil {
			return stats, fmt.Errorf("mirror: unavailable library %q: %w", name, err)
		}
	}
	if err := setVersion(tx, snap.Version()); err != nil {
		return stats, err
	}
	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("mirror: commit: %w", err)
	}
	return stats, nil
}

// rowsDiffer reports whether the stored declaration rows of m no longer
// match the entry's set.
func rowsDiffer(m *Module, e registry.Entry, ids []int64) bool {
	if e.Set == nil {
		return len(ids) > 0
	}
	return m.SetHash != e.Set.Hash() || m.Digest != e.Digest || len(ids) != e.Set.Len()
}

func moduleRow(e registry.Entry) *Module {
	m := &Module{
		Project:    e.Unit.Project,
		Name:       e.Unit.Module,
		Status:     e.Status.String(),
		Provenance: symbols.FromSource.String(),
		Digest:     e.Digest,
	}
	if e.Kind != 0 {
		m.Kind = e.Kind.String()
	}
	if e.Set != nil {
		m.Provenance = e.Set.Provenance().String()
		m.SetHash = e.Set.Hash()
	}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	return m
}

// convertSet writes the set's declarations to ds in set order and returns
// the assigned ids by set index. Parents outside the set are resolved
// through foreign.
func convertSet(ds DataStore, moduleID int64, set *symbols.Set, foreign func(symbols.Handle) (int64, bool)) ([]int64, error) {
	decls := set.All()
	ids := make([]int64, len(decls))
	for i, d := range decls {
		row := &Declaration{
			ModuleID:      moduleID,
			Seq:           i,
			Name:          d.Name(),
			QualifiedName: d.QualifiedName().String(),
			Kind:          d.Kind().String(),
			Accessibility: d.Accessibility().String(),
			AsType:        d.AsTypeName(),
			TypeHint:      d.TypeHint(),
			IsArray:       d.IsArray(),
			IsBuiltIn:     d.IsBuiltIn(),
			SignatureHash: symbols.ComputeSignatureHash(d, set.Get),
		}
		sel := d.Selection()
		row.StartLine, row.StartCol, row.EndLine, row.EndCol = sel.StartLine, sel.StartCol, sel.EndLine, sel.EndCol
		if c, ok := d.Constant(); ok {
			row.Value = c.Value
		}
		if p := d.Parent(); p != symbols.NoHandle {
			var parent int64
			if p.Set() == set.ID() {
				j := p.Index()
				if j < 0 || j >= i {
					return nil, fmt.Errorf("declaration %s: parent %s not yet written", d, p)
				}
				parent = ids[j]
			} else {
				var ok bool
				if parent, ok = foreign(p); !ok {
					return nil, fmt.Errorf("declaration %s: parent %s not mirrored", d, p)
				}
			}
			row.ParentID = &parent
		}
		id, err := ds.InsertDeclaration(row)
		if err != nil {
			return nil, err
		}
		ids[i] = id

		if info, ok := d.Parameter(); ok {
			if _, err := ds.InsertParameter(&Parameter{
				DeclarationID: id,
				Ordinal:       info.Ordinal,
				Optional:      info.Optional,
				ByRef:         info.ByRef,
				ParamArray:    info.ParamArray,
				Default:       info.Default,
			}); err != nil {
				return nil, err
			}
		}
		for _, a := range d.Annotations() {
			if _, err := ds.InsertAnnotation(&Annotation{
				DeclarationID: id,
				Name:          a.Name,
				Args:          a.Args,
				Line:          a.Selection.StartLine,
				Col:           a.Selection.StartCol,
			}); err != nil {
				return nil, err
			}
		}
		for _, a := range d.Attributes() {
			if _, err := ds.InsertAttribute(&Attribute{DeclarationID: id, Name: a.Name, Values: a.Values}); err != nil {
				return nil, err
			}
		}
	}
	return ids, nil
}

// declarationIDs returns every module's declaration ids by seq. A module
// whose seq numbers have gaps is omitted so that it gets rewritten.
func (s *Store) declarationIDs() (map[int64][]int64, error) {
	rows, err := s.db.Query("SELECT module_id, seq, id FROM declarations ORDER BY module_id, seq")
	if err != nil {
		return nil, fmt.Errorf("declaration ids: %w", err)
	}
	defer rows.Close()
	out := make(map[int64][]int64)
	broken := make(map[int64]bool)
	for rows.Next() {
		var module, id int64
		var seq int
		if err := rows.Scan(&module, &seq, &id); err != nil {
			return nil, fmt.Errorf("scan declaration id: %w", err)
		}
		if seq != len(out[module]) {
			broken[module] = true
		}
		out[module] = append(out[module], id)
	}
	for m := range broken {
		out[m] = nil
	}
	return out, rows.Err()
}
