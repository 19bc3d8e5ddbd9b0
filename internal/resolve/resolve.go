package resolve

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/symbols"
)

// Reason says why a use could not be bound.
type Reason uint8

const (
	Unbound Reason = iota + 1
	Ambiguous
)

func (r Reason) String() string {
	switch r {
	case Unbound:
		return "unbound"
	case Ambiguous:
		return "ambiguous"
	}
	return "unknown"
}

// Binding ties a use to the declaration it names.
type Binding struct {
	Use    symbols.Use
	Target symbols.Handle
}

// Diagnostic is a resolution conflict attached to the declaration whose
// body contains the use.
type Diagnostic struct {
	Module      naming.QualifiedModuleName
	Declaration symbols.Handle
	Use         symbols.Use
	Reason      Reason
	Candidates  []symbols.Handle
	Message     string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%s: %s", d.Module, d.Use.Selection, d.Message)
}

// Partial is the outcome of Within: bindings made inside the module and
// the uses left for Across.
type Partial struct {
	Set      *symbols.Set
	Bindings []Binding
	Pending  []symbols.Use
}

// Result is the resolution outcome for one module set.
type Result struct {
	Module      naming.QualifiedModuleName
	Bindings    []Binding
	Diagnostics []Diagnostic
	// DependsOn lists the other units this module binds into, sorted.
	DependsOn []naming.QualifiedModuleName
	// Unavailable lists referenced libraries that could not be loaded.
	Unavailable []string
}

// Resolved reports whether every use was bound.
func (r *Result) Resolved() bool {
	return r != nil && len(r.Diagnostics) == 0
}

const checkEvery = 256

// Resolve runs Within and Across for one set.
func (ix *Index) Resolve(ctx context.Context, s *symbols.Set) (*Result, error) {
	p, err := ix.Within(ctx, s)
	if err != nil {
		return nil, err
	}
	return ix.Across(ctx, p)
}

// Within binds declared types and unqualified uses that resolve in the
// module itself: procedure locals and parameters first, then module-level
// members and enum members.
func (ix *Index) Within(ctx context.Context, s *symbols.Set) (*Partial, error) {
	out := &Partial{Set: s}
	uses := append(typeUses(s), s.Uses()...)
	for i, u := range uses {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if u.Qualifier != "" {
			out.Pending = append(out.Pending, u)
			continue
		}
		cands := ix.local(s, u.Scope, u.Name, u.Kind)
		if len(cands) == 1 {
			out.Bindings = append(out.Bindings, Binding{Use: u, Target: cands[0].Handle()})
			continue
		}
		// Zero or several local candidates are settled in Across, which
		// reports the conflict with the full picture.
		out.Pending = append(out.Pending, u)
	}
	return out, nil
}

// typeUses turns non-intrinsic As-clause types into uses scoped to the
// declaring declaration.
func typeUses(s *symbols.Set) []symbols.Use {
	var out []symbols.Use
	for _, d := range s.All() {
		t := d.AsTypeName()
		if t == "" || d.Kind() == symbols.Project || d.Kind().IsModule() || symbols.IsIntrinsicType(t) {
			continue
		}
		u := symbols.Use{Name: t, Kind: symbols.UseType, Selection: d.Selection(), Scope: d.Handle()}
		if i := strings.LastIndexByte(t, '.'); i > 0 {
			u.Qualifier, u.Name = t[:i], t[i+1:]
		}
		out = append(out, u)
	}
	return out
}

func accepts(kind symbols.UseKind, d *symbols.Declaration) bool {
	switch kind {
	case symbols.UseEvent:
		return d.Kind() == symbols.Event
	case symbols.UseType:
		return d.Kind().IsType()
	}
	return d.Kind() != symbols.Event
}

func matching(decls []*symbols.Declaration, name string, kind symbols.UseKind, keep func(*symbols.Declaration) bool) []*symbols.Declaration {
	var out []*symbols.Declaration
	for _, d := range decls {
		if naming.EqualFold(d.Name(), name) && accepts(kind, d) && (keep == nil || keep(d)) {
			out = append(out, d)
		}
	}
	return collapse(out)
}

// collapse removes duplicates and folds a property's Get/Let/Set
// accessors into one candidate.
func collapse(cands []*symbols.Declaration) []*symbols.Declaration {
	if len(cands) < 2 {
		return cands
	}
	seen := make(map[symbols.Handle]bool, len(cands))
	out := make([]*symbols.Declaration, 0, len(cands))
	for _, d := range cands {
		if !seen[d.Handle()] {
			seen[d.Handle()] = true
			out = append(out, d)
		}
	}
	first := out[0]
	for _, d := range out[1:] {
		if !isProperty(d.Kind()) || !isProperty(first.Kind()) || d.Parent() != first.Parent() {
			return out
		}
	}
	return out[:1]
}

func isProperty(k symbols.DeclarationType) bool {
	return k == symbols.PropertyGet || k == symbols.PropertyLet || k == symbols.PropertySet
}

// local walks the scope chain from scope up to the module, returning the
// candidates of the innermost scope that has any.
func (ix *Index) local(s *symbols.Set, scope symbols.Handle, name string, kind symbols.UseKind) []*symbols.Declaration {
	scopes := ix.scopes[s.ID()]
	root := s.Root()
	cur := scope
	for range symbols.MaxDepth {
		if c := matching(scopes[cur], name, kind, nil); len(c) > 0 {
			return c
		}
		if root == nil || cur == root.Handle() {
			return nil
		}
		d, ok := s.Get(cur)
		if !ok {
			return nil
		}
		cur = d.Parent()
	}
	return nil
}

// Across binds the uses Within left pending and records conflicts.
func (ix *Index) Across(ctx context.Context, p *Partial) (*Result, error) {
	s := p.Set
	res := &Result{Module: s.Unit(), Bindings: slices.Clone(p.Bindings)}
	levels, missing := ix.searchOrder(s.Unit().Project)
	for _, m := range missing {
		if ix.Unavailable(m) != nil {
			res.Unavailable = append(res.Unavailable, m)
		}
	}

	for i, u := range p.Pending {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var (
			bound symbols.Use
			cands []*symbols.Declaration
		)
		if u.Qualifier != "" {
			bound, cands = ix.qualified(s, levels, u)
		} else {
			bound, cands = u, ix.unqualified(s, levels, u)
		}
		switch len(cands) {
		case 1:
			res.Bindings = append(res.Bindings, Binding{Use: bound, Target: cands[0].Handle()})
		case 0:
			res.Diagnostics = append(res.Diagnostics, ix.conflict(s, bound, Unbound, nil, res.Unavailable))
		default:
			res.Diagnostics = append(res.Diagnostics, ix.conflict(s, bound, Ambiguous, cands, nil))
		}
	}

	res.DependsOn = ix.dependsOn(s, res.Bindings)
	return res, nil
}

// unqualified searches the module, then its own project, then each
// reference in order. The first level with a candidate decides.
func (ix *Index) unqualified(s *symbols.Set, levels []*project, u symbols.Use) []*symbols.Declaration {
	if c := ix.local(s, u.Scope, u.Name, u.Kind); len(c) > 0 {
		return c
	}
	for i, p := range levels {
		surface := p.external
		if i == 0 {
			surface = p.internal
		}
		if c := matching(surface[naming.Fold(u.Name)], u.Name, u.Kind, nil); len(c) > 0 {
			return c
		}
	}
	return nil
}

// qualified binds Project.Member, Project.Module.Member, Module.Member
// and Type.Member forms. When the qualifier names no project or module
// the head is taken to be a variable and bound instead, since its member
// is resolved late.
func (ix *Index) qualified(s *symbols.Set, levels []*project, u symbols.Use) (symbols.Use, []*symbols.Declaration) {
	parts := strings.Split(u.Qualifier, ".")
	head := parts[0]

	for i, p := range levels {
		if !naming.EqualFold(p.name, head) {
			continue
		}
		if len(parts) == 1 {
			surface := p.external
			if i == 0 {
				surface = p.internal
			}
			return u, matching(surface[naming.Fold(u.Name)], u.Name, u.Kind, nil)
		}
		if mod := ix.module(p, parts[1], i == 0); mod != nil {
			return u, ix.member(s, mod, u)
		}
		return u, nil
	}

	for i, p := range levels {
		if mod := ix.module(p, head, i == 0); mod != nil {
			return u, ix.member(s, mod, u)
		}
	}

	hu := symbols.Use{Name: head, Kind: symbols.UseValue, Selection: u.Selection, Scope: u.Scope}
	return hu, ix.unqualified(s, levels, hu)
}

// module finds a module, class or library type by name within p.
func (ix *Index) module(p *project, name string, own bool) *symbols.Declaration {
	if p.library {
		for _, d := range p.internal[naming.Fold(name)] {
			if d.Parent() == p.set.Root().Handle() {
				return d
			}
		}
		return nil
	}
	m, ok := p.modules[naming.Fold(name)]
	if !ok || m.Root() == nil {
		return nil
	}
	if !own && !m.Root().Accessibility().IsExported() {
		return nil
	}
	return m.Root()
}

// member finds name among mod's members. Private members are visible only
// from mod's own set.
func (ix *Index) member(from *symbols.Set, mod *symbols.Declaration, u symbols.Use) []*symbols.Declaration {
	same := mod.Handle().Set() == from.ID()
	return matching(ix.moduleMembers(mod), u.Name, u.Kind, func(d *symbols.Declaration) bool {
		return d.Kind() != symbols.Parameter && (same || d.Accessibility().IsExported())
	})
}

func (ix *Index) conflict(s *symbols.Set, u symbols.Use, reason Reason, cands []*symbols.Declaration, unavailable []string) Diagnostic {
	name := u.Name
	if u.Qualifier != "" {
		name = u.Qualifier + "." + u.Name
	}
	d := Diagnostic{Module: s.Unit(), Declaration: u.Scope, Use: u, Reason: reason}
	switch reason {
	case Ambiguous:
		names := make([]string, 0, len(cands))
		for _, c := range cands {
			d.Candidates = append(d.Candidates, c.Handle())
			names = append(names, c.QualifiedName().String())
		}
		d.Message = fmt.Sprintf("%q is ambiguous between %s", name, strings.Join(names, ", "))
	default:
		d.Message = fmt.Sprintf("%q is not declared", name)
		if len(unavailable) > 0 {
			d.Message += fmt.Sprintf(" (referenced library %s unavailable)", strings.Join(unavailable, ", "))
		}
	}
	return d
}

func (ix *Index) dependsOn(s *symbols.Set, bindings []Binding) []naming.QualifiedModuleName {
	seen := make(map[naming.QualifiedModuleName]bool)
	var out []naming.QualifiedModuleName
	for _, b := range bindings {
		if b.Target.Set() == s.ID() {
			continue
		}
		ts, ok := ix.SetOf(b.Target)
		if !ok {
			continue
		}
		if u := ts.Unit(); !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b naming.QualifiedModuleName) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return out
}
