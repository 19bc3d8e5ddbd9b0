// Package registry holds published declaration snapshots. A Snapshot is
// immutable; changes are made on a Draft and published atomically, so
// readers always see either the whole previous state or the whole next
// one.
package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/resolve"
	"github.com/jward/mallard/internal/symbols"
	"github.com/jward/mallard/internal/vba"
)

// ErrStale is returned when publishing a snapshot that is not newer than
// the current one.
var ErrStale = errors.New("registry: snapshot is not newer than the published one")

// Status is the per-unit outcome of the last cycle that touched it.
type Status uint8

const (
	// Ready: parsed and every use bound.
	Ready Status = iota + 1
	// Unresolved: parsed, but some uses are unbound or ambiguous.
	Unresolved
	// ParserError: the last parse failed; Set is the last good one, if any.
	ParserError
	// Blocked: not resolved because a module it depends on failed to parse.
	Blocked
)

var statusNames = map[Status]string{
	Ready:       "ready",
	Unresolved:  "unresolved",
	ParserError: "parser-error",
	Blocked:     "blocked",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Entry is one unit of a snapshot: a project, a library or a module.
type Entry struct {
	Unit   naming.QualifiedModuleName
	Set    *symbols.Set
	Status Status
	// Err is the parse error of a ParserError entry.
	Err error
	// Result is the resolution outcome of a module entry.
	Result *resolve.Result
	// Kind, Source and Digest record what a module set was built from so
	// the module can be ingested again when its project changes.
	Kind   vba.ModuleKind
	Source []byte
	Digest string
}

// Reference is a binding found in some module.
type Reference struct {
	Module  naming.QualifiedModuleName
	Binding resolve.Binding
}

// Snapshot is an immutable view of every published unit.
type Snapshot struct {
	version     uint64
	entries     map[naming.QualifiedModuleName]Entry
	sets        map[symbols.SetID]*symbols.Set
	unavailable map[string]error
}

// Empty returns the version-0 snapshot.
func Empty() *Snapshot {
	return &Snapshot{
		entries:     make(map[naming.QualifiedModuleName]Entry),
		sets:        make(map[symbols.SetID]*symbols.Set),
		unavailable: make(map[string]error),
	}
}

func (s *Snapshot) Version() uint64 { return s.version }

// Len returns the number of units.
func (s *Snapshot) Len() int { return len(s.entries) }

// Lookup resolves a handle from any set of the snapshot.
func (s *Snapshot) Lookup(h symbols.Handle) (*symbols.Declaration, bool) {
	set, ok := s.sets[h.Set()]
	if !ok {
		return nil, false
	}
	return set.Get(h)
}

// Entry returns the unit's entry. Unit names match case-insensitively.
func (s *Snapshot) Entry(unit naming.QualifiedModuleName) (Entry, bool) {
	e, ok := s.entries[unit.Fold()]
	return e, ok
}

// Entries returns every entry ordered by unit, projects before their
// modules.
func (s *Snapshot) Entries() []Entry {
	return sortedEntries(s.entries)
}

func sortedEntries(m map[naming.QualifiedModuleName]Entry) []Entry {
	keys := slices.Collect(maps.Keys(m))
	slices.SortFunc(keys, func(a, b naming.QualifiedModuleName) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// Sets returns every set in unit order.
func (s *Snapshot) Sets() []*symbols.Set {
	var out []*symbols.Set
	for _, e := range s.Entries() {
		if e.Set != nil {
			out = append(out, e.Set)
		}
	}
	return out
}

// Declarations returns the declarations matching pred in a stable order:
// units ordered by name, declarations in set order. A nil pred matches
// everything.
func (s *Snapshot) Declarations(pred func(*symbols.Declaration) bool) []*symbols.Declaration {
	var out []*symbols.Declaration
	for _, set := range s.Sets() {
		for _, d := range set.All() {
			if pred == nil || pred(d) {
				out = append(out, d)
			}
		}
	}
	return out
}

// Diagnostics returns the resolution conflicts of every module.
func (s *Snapshot) Diagnostics() []resolve.Diagnostic {
	var out []resolve.Diagnostic
	for _, e := range s.Entries() {
		if e.Result != nil {
			out = append(out, e.Result.Diagnostics...)
		}
	}
	return out
}

// BindingsTo returns every use bound to h.
func (s *Snapshot) BindingsTo(h symbols.Handle) []Reference {
	var out []Reference
	for _, e := range s.Entries() {
		if e.Result == nil {
			continue
		}
		for _, b := range e.Result.Bindings {
			if b.Target == h {
				out = append(out, Reference{Module: e.Unit, Binding: b})
			}
		}
	}
	return out
}

// Unavailable returns the referenced libraries that failed to load.
func (s *Snapshot) Unavailable() map[string]error {
	return maps.Clone(s.unavailable)
}

// Validate checks every declaration's parent chain.
func (s *Snapshot) Validate() error {
	return validate(s.Sets(), s.Lookup)
}

func validate(sets []*symbols.Set, lookup symbols.Lookup) error {
	for _, set := range sets {
		if err := set.Validate(lookup); err != nil {
			return fmt.Errorf("%s: %w", set.Unit(), err)
		}
	}
	return nil
}

// Edit starts a draft from s. Maps are copied; sets are shared.
func (s *Snapshot) Edit() *Draft {
	return &Draft{
		base:        s.version,
		entries:     maps.Clone(s.entries),
		sets:        maps.Clone(s.sets),
		unavailable: maps.Clone(s.unavailable),
	}
}

// Registry publishes snapshots. Current never blocks.
type Registry struct {
	cur atomic.Pointer[Snapshot]
}

// New creates a registry holding the empty snapshot.
func New() *Registry {
	r := &Registry{}
	r.cur.Store(Empty())
	return r
}

// Current returns the last published snapshot.
func (r *Registry) Current() *Snapshot {
	return r.cur.Load()
}

// Publish makes s current if it is newer than the current snapshot.
func (r *Registry) Publish(s *Snapshot) error {
	for {
		cur := r.cur.Load()
		if s.version <= cur.version {
			return fmt.Errorf("%w: %d <= %d", ErrStale, s.version, cur.version)
		}
		if r.cur.CompareAndSwap(cur, s) {
			return nil
		}
	}
}
