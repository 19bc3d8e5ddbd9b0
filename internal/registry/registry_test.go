package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/resolve"
	"github.com/jward/mallard/internal/symbols"
)

func projectSet(t *testing.T, name string) *symbols.Set {
	t.Helper()
	unit := naming.ProjectUnit(name)
	b := symbols.NewBuilder(unit, symbols.FromSource)
	_, err := b.Add(symbols.Fields{Name: unit.QualifyMember(name), Kind: symbols.Project}, symbols.ProjectInfo{})
	require.NoError(t, err)
	s, err := b.Freeze()
	require.NoError(t, err)
	return s
}

func moduleSet(t *testing.T, project *symbols.Set, module string, members ...string) *symbols.Set {
	t.Helper()
	unit := naming.QualifiedModuleName{Project: project.Unit().Project, Module: module}
	b := symbols.NewBuilder(unit, symbols.FromSource)
	mod, err := b.Add(symbols.Fields{
		Name:          unit.QualifyMember(module),
		Parent:        project.Root().Handle(),
		Kind:          symbols.ProceduralModule,
		Accessibility: symbols.Public,
	}, symbols.ModuleInfo{})
	require.NoError(t, err)
	for _, m := range members {
		_, err := b.Add(symbols.Fields{
			Name:          unit.QualifyMember(m),
			Parent:        mod,
			Kind:          symbols.Procedure,
			Accessibility: symbols.Public,
		})
		require.NoError(t, err)
	}
	s, err := b.Freeze()
	require.NoError(t, err)
	return s
}

// publish applies edit to a draft of r's current snapshot and publishes it.
func publish(t *testing.T, r *Registry, edit func(*Draft)) *Snapshot {
	t.Helper()
	d := r.Current().Edit()
	edit(d)
	s, err := d.Freeze()
	require.NoError(t, err)
	require.NoError(t, r.Publish(s))
	return s
}

// =============================================================================
// Drafts
// =============================================================================

func TestDraft_CopyOnWrite(t *testing.T) {
	t.Parallel()
	r := New()
	proj := projectSet(t, "P")
	m1 := moduleSet(t, proj, "Module1", "Foo")

	first := publish(t, r, func(d *Draft) {
		require.NoError(t, d.Put(Entry{Unit: proj.Unit(), Set: proj, Status: Ready}))
		require.NoError(t, d.Put(Entry{Unit: m1.Unit(), Set: m1, Status: Ready}))
	})
	assert.Equal(t, uint64(1), first.Version())

	d := first.Edit()
	m1b := moduleSet(t, proj, "Module1", "Foo", "Bar")
	require.NoError(t, d.Put(Entry{Unit: m1b.Unit(), Set: m1b, Status: Ready}))
	removed, err := d.Remove(proj.Unit())
	require.NoError(t, err)
	assert.True(t, removed)

	// The published snapshot is untouched by the draft.
	e, ok := first.Entry(m1.Unit())
	require.True(t, ok)
	assert.Same(t, m1, e.Set)
	_, ok = first.Entry(proj.Unit())
	assert.True(t, ok)
	_, ok = first.Lookup(m1.Root().Handle())
	assert.True(t, ok)

	// The draft no longer resolves handles of the replaced set.
	_, ok = d.Lookup(m1.Root().Handle())
	assert.False(t, ok)
	_, ok = d.Lookup(m1b.Root().Handle())
	assert.True(t, ok)
}

func TestDraft_FrozenRejectsChanges(t *testing.T) {
	t.Parallel()
	d := Empty().Edit()
	_, err := d.Freeze()
	require.NoError(t, err)

	assert.ErrorIs(t, d.Put(Entry{Unit: naming.ProjectUnit("P")}), ErrDraftFrozen)
	_, err = d.Remove(naming.ProjectUnit("P"))
	assert.ErrorIs(t, err, ErrDraftFrozen)
	_, err = d.Update(naming.ProjectUnit("P"), func(*Entry) {})
	assert.ErrorIs(t, err, ErrDraftFrozen)
	assert.ErrorIs(t, d.SetUnavailable("Excel", errors.New("x")), ErrDraftFrozen)
	_, err = d.Freeze()
	assert.ErrorIs(t, err, ErrDraftFrozen)
}

func TestDraft_UpdateKeepsUnitAndSet(t *testing.T) {
	t.Parallel()
	proj := projectSet(t, "P")
	m1 := moduleSet(t, proj, "Module1")
	d := Empty().Edit()
	require.NoError(t, d.Put(Entry{Unit: m1.Unit(), Set: m1, Status: Ready}))

	ok, err := d.Update(naming.QualifiedModuleName{Project: "p", Module: "MODULE1"}, func(e *Entry) {
		e.Status = Blocked
		e.Unit = naming.ProjectUnit("Other")
		e.Set = nil
	})
	require.NoError(t, err)
	require.True(t, ok)

	e, _ := d.Entry(m1.Unit())
	assert.Equal(t, Blocked, e.Status)
	assert.Equal(t, m1.Unit(), e.Unit)
	assert.Same(t, m1, e.Set)

	ok, err = d.Update(naming.ProjectUnit("Missing"), func(*Entry) {})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDraft_Unavailable(t *testing.T) {
	t.Parallel()
	d := Empty().Edit()
	boom := errors.New("not registered")
	require.NoError(t, d.SetUnavailable("Excel", boom))
	assert.Equal(t, map[string]error{"excel": boom}, d.Unavailable())

	require.NoError(t, d.SetUnavailable("EXCEL", nil))
	assert.Empty(t, d.Unavailable())
}

// =============================================================================
// Snapshots
// =============================================================================

func TestSnapshot_DeclarationsDeterministic(t *testing.T) {
	t.Parallel()
	r := New()
	proj := projectSet(t, "P")
	b := moduleSet(t, proj, "B", "Two")
	a := moduleSet(t, proj, "A", "One")

	s := publish(t, r, func(d *Draft) {
		for _, set := range []*symbols.Set{b, proj, a} {
			require.NoError(t, d.Put(Entry{Unit: set.Unit(), Set: set, Status: Ready}))
		}
	})

	var names []string
	for _, d := range s.Declarations(nil) {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{"P", "A", "One", "B", "Two"}, names)

	procs := s.Declarations(func(d *symbols.Declaration) bool { return d.Kind() == symbols.Procedure })
	assert.Len(t, procs, 2)
	assert.Equal(t, 3, s.Len())
}

func TestSnapshot_Validate(t *testing.T) {
	t.Parallel()
	proj := projectSet(t, "P")
	m1 := moduleSet(t, proj, "Module1", "Foo")

	d := Empty().Edit()
	require.NoError(t, d.Put(Entry{Unit: m1.Unit(), Set: m1}))
	err := d.Validate()
	assert.ErrorIs(t, err, symbols.ErrInvariant, "module without its project")

	require.NoError(t, d.Put(Entry{Unit: proj.Unit(), Set: proj}))
	assert.NoError(t, d.Validate())
	s, err := d.Freeze()
	require.NoError(t, err)
	assert.NoError(t, s.Validate())
}

func TestSnapshot_BindingsAndDiagnostics(t *testing.T) {
	t.Parallel()
	proj := projectSet(t, "P")
	m1 := moduleSet(t, proj, "Module1", "Foo")
	m2 := moduleSet(t, proj, "Module2", "Bar")
	foo := m1.Children(m1.Root().Handle())[0]
	bar := m2.Children(m2.Root().Handle())[0]

	use := symbols.Use{Name: "Foo", Scope: bar.Handle()}
	res := &resolve.Result{
		Module:      m2.Unit(),
		Bindings:    []resolve.Binding{{Use: use, Target: foo.Handle()}},
		Diagnostics: []resolve.Diagnostic{{Module: m2.Unit(), Reason: resolve.Unbound, Message: `"Baz" is not declared`}},
	}
	d := Empty().Edit()
	require.NoError(t, d.Put(Entry{Unit: m1.Unit(), Set: m1, Status: Ready}))
	require.NoError(t, d.Put(Entry{Unit: m2.Unit(), Set: m2, Status: Unresolved, Result: res}))
	s, err := d.Freeze()
	require.NoError(t, err)

	refs := s.BindingsTo(foo.Handle())
	require.Len(t, refs, 1)
	assert.Equal(t, m2.Unit(), refs[0].Module)
	assert.Len(t, s.Diagnostics(), 1)
	assert.Empty(t, s.BindingsTo(bar.Handle()))
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_PublishRejectsStale(t *testing.T) {
	t.Parallel()
	r := New()
	base := r.Current()
	a, err := base.Edit().Freeze()
	require.NoError(t, err)
	b, err := base.Edit().Freeze()
	require.NoError(t, err)

	require.NoError(t, r.Publish(a))
	assert.ErrorIs(t, r.Publish(b), ErrStale)
	assert.Same(t, a, r.Current())
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	t.Parallel()
	r := New()
	proj := projectSet(t, "P")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				s := r.Current()
				// A snapshot never shows a module without its project.
				for _, e := range s.Entries() {
					if !e.Unit.IsProject() {
						_, ok := s.Entry(proj.Unit())
						assert.True(t, ok)
					}
				}
			}
		}()
	}
	for i := range 50 {
		publish(t, r, func(d *Draft) {
			require.NoError(t, d.Put(Entry{Unit: proj.Unit(), Set: proj, Status: Ready}))
			m := moduleSet(t, proj, "Module"+string(rune('A'+i%26)))
			require.NoError(t, d.Put(Entry{Unit: m.Unit(), Set: m, Status: Ready}))
		})
	}
	wg.Wait()
	assert.Equal(t, uint64(50), r.Current().Version())
}
