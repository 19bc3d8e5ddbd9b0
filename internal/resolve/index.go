// Package resolve binds identifier uses to declarations. Resolution runs in
// two phases over an Index of every set in a snapshot: Within binds names
// that resolve inside the referencing module, Across binds the rest
// through the module's project and its references.
package resolve

import (
	"slices"

	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/symbols"
)

// Index is a read-only view over the sets of one snapshot. It is safe for
// concurrent use once built.
type Index struct {
	sets        map[symbols.SetID]*symbols.Set
	projects    map[string]*project
	unavailable map[string]error
	scopes      map[symbols.SetID]map[symbols.Handle][]*symbols.Declaration
}

// project is a source project or a reflected library together with the
// names it makes visible.
type project struct {
	name     string
	library  bool
	set      *symbols.Set
	refs     []string
	modules  map[string]*symbols.Set
	internal map[string][]*symbols.Declaration
	external map[string][]*symbols.Declaration
}

// NewIndex indexes sets. unavailable maps referenced library names that
// could not be loaded to the load error.
func NewIndex(sets []*symbols.Set, unavailable map[string]error) *Index {
	ix := &Index{
		sets:        make(map[symbols.SetID]*symbols.Set, len(sets)),
		projects:    make(map[string]*project),
		unavailable: make(map[string]error, len(unavailable)),
		scopes:      make(map[symbols.SetID]map[symbols.Handle][]*symbols.Declaration, len(sets)),
	}
	for name, err := range unavailable {
		ix.unavailable[naming.Fold(name)] = err
	}

	ordered := slices.Clone(sets)
	slices.SortFunc(ordered, func(a, b *symbols.Set) int {
		switch {
		case a.Unit().Less(b.Unit()):
			return -1
		case b.Unit().Less(a.Unit()):
			return 1
		}
		return 0
	})

	for _, s := range ordered {
		ix.sets[s.ID()] = s
		ix.scopes[s.ID()] = scopeIndex(s)

		p := ix.project(s.Unit().Project)
		switch {
		case s.Provenance() == symbols.FromReflection:
			p.library = true
			p.set = s
		case s.Unit().IsProject():
			p.set = s
			if root := s.Root(); root != nil {
				if info, ok := root.ProjectInfo(); ok {
					p.refs = info.References
				}
			}
		default:
			p.modules[naming.Fold(s.Unit().Module)] = s
		}
	}

	for _, p := range ix.projects {
		if p.library {
			ix.librarySurface(p)
		} else {
			ix.projectSurface(p, ordered)
		}
	}
	return ix
}

func (ix *Index) project(name string) *project {
	k := naming.Fold(name)
	p, ok := ix.projects[k]
	if !ok {
		p = &project{
			name:     name,
			modules:  make(map[string]*symbols.Set),
			internal: make(map[string][]*symbols.Declaration),
			external: make(map[string][]*symbols.Declaration),
		}
		ix.projects[k] = p
	}
	return p
}

// scopeIndex groups declarations by the scope their names are visible in.
// Parameters are visible in their owner; everything else in its
// ParentScope.
func scopeIndex(s *symbols.Set) map[symbols.Handle][]*symbols.Declaration {
	out := make(map[symbols.Handle][]*symbols.Declaration)
	for _, d := range s.All() {
		key := d.ParentScope()
		if d.Kind() == symbols.Parameter {
			key = d.Parent()
		}
		if key != symbols.NoHandle {
			out[key] = append(out[key], d)
		}
	}
	return out
}

func addName(m map[string][]*symbols.Declaration, d *symbols.Declaration) {
	k := naming.Fold(d.Name())
	m[k] = append(m[k], d)
}

// projectSurface collects what a source project's modules expose: module
// names, members of standard modules, and enums and types of any module.
// internal is what the project itself sees; external is what referencing
// projects see.
func (ix *Index) projectSurface(p *project, ordered []*symbols.Set) {
	for _, m := range ordered {
		if m.Unit().IsProject() || !naming.EqualFold(m.Unit().Project, p.name) {
			continue
		}
		root := m.Root()
		if root == nil {
			continue
		}
		exported := root.Accessibility().IsExported()
		addName(p.internal, root)
		if exported {
			addName(p.external, root)
		}
		for _, d := range ix.scopes[m.ID()][root.Handle()] {
			if d.Kind() == symbols.Parameter || !d.Accessibility().IsExported() {
				continue
			}
			if root.Kind() != symbols.ProceduralModule && !sharedFromClass(d.Kind()) {
				continue
			}
			addName(p.internal, d)
			if exported {
				addName(p.external, d)
			}
		}
	}
}

// sharedFromClass reports kinds a class-like module exposes to the whole
// project.
func sharedFromClass(k symbols.DeclarationType) bool {
	return k == symbols.Enumeration || k == symbols.EnumerationMember || k == symbols.UserDefinedType
}

// librarySurface collects a library's top-level types and modules, the
// members of its standard modules, and its enum members.
func (ix *Index) librarySurface(p *project) {
	root := p.set.Root()
	if root == nil {
		return
	}
	scopes := ix.scopes[p.set.ID()]
	for _, d := range scopes[root.Handle()] {
		addName(p.internal, d)
		if d.Kind() != symbols.ProceduralModule {
			continue
		}
		for _, m := range scopes[d.Handle()] {
			if m.Kind() != symbols.Parameter && m.Accessibility().IsExported() {
				addName(p.internal, m)
			}
		}
	}
	p.external = p.internal
}

// Lookup resolves a handle from any indexed set.
func (ix *Index) Lookup(h symbols.Handle) (*symbols.Declaration, bool) {
	s, ok := ix.sets[h.Set()]
	if !ok {
		return nil, false
	}
	return s.Get(h)
}

// SetOf returns the set that owns h.
func (ix *Index) SetOf(h symbols.Handle) (*symbols.Set, bool) {
	s, ok := ix.sets[h.Set()]
	return s, ok
}

// searchOrder lists the projects visible from a project: itself first,
// then its references in priority order. References with no loaded set
// are returned as missing.
func (ix *Index) searchOrder(name string) (levels []*project, missing []string) {
	own, ok := ix.projects[naming.Fold(name)]
	if !ok {
		return nil, nil
	}
	levels = append(levels, own)
	for _, ref := range own.refs {
		p, ok := ix.projects[naming.Fold(ref)]
		if !ok || p.set == nil {
			missing = append(missing, ref)
			continue
		}
		levels = append(levels, p)
	}
	return levels, missing
}

// Unavailable returns the load error of a referenced library that could
// not be loaded, or nil.
func (ix *Index) Unavailable(name string) error {
	return ix.unavailable[naming.Fold(name)]
}

// moduleMembers returns the declarations visible at module level of a
// source module or inside a library type, plus its direct children so that
// Enum.Member forms resolve.
func (ix *Index) moduleMembers(d *symbols.Declaration) []*symbols.Declaration {
	s, ok := ix.SetOf(d.Handle())
	if !ok {
		return nil
	}
	out := slices.Clone(ix.scopes[s.ID()][d.Handle()])
	for _, ch := range s.Children(d.Handle()) {
		if ch.ParentScope() != d.Handle() {
			out = append(out, ch)
		}
	}
	return out
}
