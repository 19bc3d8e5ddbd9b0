package registry

import (
	"errors"
	"maps"

	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/symbols"
)

// ErrDraftFrozen is returned by a Draft after Freeze.
var ErrDraftFrozen = errors.New("registry: draft is frozen")

// Draft is a private, mutable copy of a snapshot. Nothing in a draft is
// visible to readers until it is frozen and published; a discarded draft
// leaves no trace.
type Draft struct {
	base        uint64
	entries     map[naming.QualifiedModuleName]Entry
	sets        map[symbols.SetID]*symbols.Set
	unavailable map[string]error
	frozen      bool
}

// Base returns the version the draft was started from.
func (d *Draft) Base() uint64 { return d.base }

// Put stores e, replacing any entry for the same unit and dropping the
// replaced set.
func (d *Draft) Put(e Entry) error {
	if d.frozen {
		return ErrDraftFrozen
	}
	k := e.Unit.Fold()
	if old, ok := d.entries[k]; ok && old.Set != nil && old.Set != e.Set {
		delete(d.sets, old.Set.ID())
	}
	if e.Set != nil {
		d.sets[e.Set.ID()] = e.Set
	}
	d.entries[k] = e
	return nil
}

// Remove deletes the unit and its set. It reports whether the unit
// existed.
func (d *Draft) Remove(unit naming.QualifiedModuleName) (bool, error) {
	if d.frozen {
		return false, ErrDraftFrozen
	}
	k := unit.Fold()
	old, ok := d.entries[k]
	if !ok {
		return false, nil
	}
	if old.Set != nil {
		delete(d.sets, old.Set.ID())
	}
	delete(d.entries, k)
	return true, nil
}

// Update applies fn to the unit's entry if present. Unit and Set are kept;
// replace a set with Put.
func (d *Draft) Update(unit naming.QualifiedModuleName, fn func(*Entry)) (bool, error) {
	if d.frozen {
		return false, ErrDraftFrozen
	}
	k := unit.Fold()
	e, ok := d.entries[k]
	if !ok {
		return false, nil
	}
	unit, set := e.Unit, e.Set
	fn(&e)
	e.Unit, e.Set = unit, set
	d.entries[k] = e
	return true, nil
}

// SetUnavailable records a referenced library that failed to load; a nil
// err clears it.
func (d *Draft) SetUnavailable(name string, err error) error {
	if d.frozen {
		return ErrDraftFrozen
	}
	k := naming.Fold(name)
	if err == nil {
		delete(d.unavailable, k)
		return nil
	}
	d.unavailable[k] = err
	return nil
}

func (d *Draft) Unavailable() map[string]error {
	return maps.Clone(d.unavailable)
}

func (d *Draft) Entry(unit naming.QualifiedModuleName) (Entry, bool) {
	e, ok := d.entries[unit.Fold()]
	return e, ok
}

func (d *Draft) Entries() []Entry {
	return sortedEntries(d.entries)
}

// Sets returns the draft's sets in unit order.
func (d *Draft) Sets() []*symbols.Set {
	var out []*symbols.Set
	for _, e := range d.Entries() {
		if e.Set != nil {
			out = append(out, e.Set)
		}
	}
	return out
}

func (d *Draft) Lookup(h symbols.Handle) (*symbols.Declaration, bool) {
	set, ok := d.sets[h.Set()]
	if !ok {
		return nil, false
	}
	return set.Get(h)
}

// Validate checks every declaration's parent chain in the draft.
func (d *Draft) Validate() error {
	return validate(d.Sets(), d.Lookup)
}

// Freeze ends the draft and returns the snapshot one version past its
// base.
func (d *Draft) Freeze() (*Snapshot, error) {
	if d.frozen {
		return nil, ErrDraftFrozen
	}
	d.frozen = true
	return &Snapshot{
		version:     d.base + 1,
		entries:     d.entries,
		sets:        d.sets,
		unavailable: d.unavailable,
	}, nil
}
