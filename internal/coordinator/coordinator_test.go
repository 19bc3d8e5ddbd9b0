package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/mallard/internal/extract"
	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/registry"
	"github.com/jward/mallard/internal/resolve"
	"github.com/jward/mallard/internal/symbols"
	"github.com/jward/mallard/internal/typelib"
	"github.com/jward/mallard/internal/vba"
)

const (
	helpersSrc = "Public Function Helper() As Long\n    Helper = 1\nEnd Function\n"
	callerSrc  = "Public Sub Run()\n    Dim n As Long\n    n = Helper\nEnd Sub\n"
	aloneSrc   = "Public Sub Alone()\n    Dim x As Long\n    x = 1\nEnd Sub\n"
	brokenSrc  = "Public Function Helper() As Long\n"
	beeperSrc  = "Public Sub Go()\n    Beep\nEnd Sub\n"
)

func newTestCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(append([]Option{WithLogger(logger), WithWorkers(2)}, opts...)...)
	t.Cleanup(c.Close)
	return c
}

func unit(module string) naming.QualifiedModuleName {
	return naming.QualifiedModuleName{Project: "P", Module: module}
}

func mod(module, src string) ModuleRequest {
	return ModuleRequest{Module: unit(module), Kind: vba.Procedural, Source: []byte(src)}
}

func vbaLib() *typelib.Library {
	return &typelib.Library{Name: "VBA", Types: []typelib.Type{
		{Name: "Interaction", Kind: typelib.KindModule, Members: []typelib.Member{
			{Name: "Beep", Kind: typelib.MemberSub},
		}},
	}}
}

// project registers project P and its modules, and requires the cycle to
// settle in Ready.
func project(t *testing.T, c *Coordinator, refs []string, modules ...ModuleRequest) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.UpdateProjects(ctx, Project{Name: "P", References: refs}))
	if len(modules) > 0 {
		require.NoError(t, c.RequestReparse(ctx, modules...))
	}
	require.Equal(t, Ready, c.CurrentState())
}

// next reads n transitions and returns their target states.
func next(t *testing.T, ch <-chan Transition, n int) []State {
	t.Helper()
	var out []State
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case tr, ok := <-ch:
			require.True(t, ok, "subscription closed after %v", out)
			out = append(out, tr.To)
		case <-timeout:
			t.Fatalf("timed out after %v", out)
		}
	}
	return out
}

func entry(t *testing.T, c *Coordinator, module string) registry.Entry {
	t.Helper()
	e, ok := c.Snapshot().Entry(unit(module))
	require.True(t, ok, "no entry for %s", module)
	return e
}

func named(c *Coordinator, kind symbols.DeclarationType, name string) []*symbols.Declaration {
	return c.Declarations(func(d *symbols.Declaration) bool {
		return d.Kind() == kind && naming.EqualFold(d.Name(), name)
	})
}

// requireLiveBindings checks that every published binding and candidate
// points at a declaration the snapshot holds.
func requireLiveBindings(t *testing.T, snap *registry.Snapshot) {
	t.Helper()
	for _, e := range snap.Entries() {
		if e.Result == nil {
			continue
		}
		for _, b := range e.Result.Bindings {
			_, ok := snap.Lookup(b.Target)
			require.True(t, ok, "%s binds %s to a declaration that is not published", e.Unit, b.Use.Name)
		}
		for _, d := range e.Result.Diagnostics {
			for _, h := range d.Candidates {
				_, ok := snap.Lookup(h)
				require.True(t, ok, "%s has a candidate for %s that is not published", e.Unit, d.Use.Name)
			}
		}
	}
}

// =============================================================================
// Cycles
// =============================================================================

func TestCoordinator_StateSequence(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ch, cancel := c.Subscribe()
	defer cancel()
	assert.Equal(t, Pending, c.CurrentState())

	require.NoError(t, c.UpdateProjects(context.Background(), Project{Name: "P"}))
	assert.Equal(t, []State{LoadingReferences, Parsing, ResolvingDeclarations, ResolvingReferences, Ready}, next(t, ch, 5))

	require.NoError(t, c.RequestReparse(context.Background(), mod("Helpers", helpersSrc), mod("Caller", callerSrc)))
	assert.Equal(t, []State{Pending, LoadingReferences, Parsing, ResolvingDeclarations, ResolvingReferences, Ready}, next(t, ch, 6))
	assert.Equal(t, Ready, c.CurrentState())

	caller := entry(t, c, "Caller")
	assert.Equal(t, registry.Ready, caller.Status)
	require.NotNil(t, caller.Result)
	assert.Equal(t, []naming.QualifiedModuleName{unit("Helpers")}, caller.Result.DependsOn)
	assert.Equal(t, Digest([]byte(callerSrc)), caller.Digest)

	helper := named(c, symbols.Function, "Helper")
	require.Len(t, helper, 1)
	refs := c.Snapshot().BindingsTo(helper[0].Handle())
	require.NotEmpty(t, refs)
	assert.Equal(t, unit("Caller"), refs[0].Module)
}

func TestCoordinator_ReparseIsIdempotent(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	project(t, c, nil, mod("Helpers", helpersSrc), mod("Caller", callerSrc))
	before := c.Snapshot()

	require.NoError(t, c.RequestReparse(context.Background(), mod("Helpers", helpersSrc), mod("Caller", callerSrc)))
	after := c.Snapshot()

	assert.Equal(t, before.Version()+1, after.Version())
	require.Equal(t, before.Len(), after.Len())
	for _, name := range []string{"Helpers", "Caller"} {
		b, _ := before.Entry(unit(name))
		a, _ := after.Entry(unit(name))
		assert.NotSame(t, b.Set, a.Set)
		assert.True(t, symbols.Equivalent(b.Set, a.Set), name)
		assert.Equal(t, b.Status, a.Status)
	}
}

func TestCoordinator_OtherModulesKeepTheirSets(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	project(t, c, nil, mod("Helpers", helpersSrc), mod("Alone", aloneSrc))
	alone := entry(t, c, "Alone").Set

	require.NoError(t, c.RequestReparse(context.Background(), mod("Helpers", helpersSrc+"\nPublic Sub Extra()\nEnd Sub\n")))
	assert.Same(t, alone, entry(t, c, "Alone").Set)
	assert.Len(t, named(c, symbols.Procedure, "Extra"), 1)
}

func TestCoordinator_RemoveModule(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	project(t, c, nil, mod("Helpers", helpersSrc), mod("Caller", callerSrc))

	require.NoError(t, c.RequestReparse(context.Background(), ModuleRequest{Module: unit("helpers"), Remove: true}))
	_, ok := c.Snapshot().Entry(unit("Helpers"))
	assert.False(t, ok)
	assert.Empty(t, named(c, symbols.Function, "Helper"))

	caller := entry(t, c, "Caller")
	assert.Equal(t, registry.Unresolved, caller.Status)
	require.Len(t, caller.Result.Diagnostics, 1)
	assert.Equal(t, resolve.Unbound, caller.Result.Diagnostics[0].Reason)
	assert.NoError(t, c.Snapshot().Validate())
}

// =============================================================================
// Cancellation
// =============================================================================

func TestCoordinator_CancelRollsBack(t *testing.T) {
	t.Parallel()
	phases := []State{LoadingReferences, Parsing, ResolvingDeclarations, ResolvingReferences}
	for i, phase := range phases {
		t.Run(phase.String(), func(t *testing.T) {
			t.Parallel()
			c := newTestCoordinator(t)
			project(t, c, nil, mod("Helpers", helpersSrc))
			before := c.Snapshot()
			ch, unsubscribe := c.Subscribe()
			defer unsubscribe()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			c.beforePhase = func(s State) {
				if s == phase {
					cancel()
				}
			}

			err := c.RequestReparse(ctx, mod("Helpers", helpersSrc+"\nPublic Sub Extra()\nEnd Sub\n"))
			require.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, CancellationRequested, Classify(err))

			want := append([]State{Pending}, phases[:i+1]...)
			want = append(want, Pending, Ready)
			assert.Equal(t, want, next(t, ch, len(want)))

			assert.Equal(t, Ready, c.CurrentState())
			assert.Same(t, before, c.Snapshot())
			assert.Empty(t, named(c, symbols.Procedure, "Extra"))
		})
	}
}

func TestCoordinator_CancelledBeforeStart(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	project(t, c, nil)
	before := c.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.RequestReparse(ctx, mod("Helpers", helpersSrc))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Ready, c.CurrentState())
	assert.Same(t, before, c.Snapshot())
}

func TestCoordinator_ReadsDuringCycleSeePublishedSnapshot(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	project(t, c, nil, mod("Helpers", helpersSrc))
	before := c.Snapshot()

	var (
		seenState State
		seenSnap  *registry.Snapshot
		seenExtra int
	)
	c.beforePhase = func(s State) {
		if s == ResolvingReferences {
			seenState = c.CurrentState()
			seenSnap = c.Snapshot()
			seenExtra = len(named(c, symbols.Procedure, "Extra"))
		}
	}
	require.NoError(t, c.RequestReparse(context.Background(), mod("Helpers", helpersSrc+"\nPublic Sub Extra()\nEnd Sub\n")))

	assert.Equal(t, ResolvingReferences, seenState)
	assert.Same(t, before, seenSnap)
	assert.Zero(t, seenExtra)
	assert.Len(t, named(c, symbols.Procedure, "Extra"), 1)
}

// =============================================================================
// Syntax error policy
// =============================================================================

func TestCoordinator_IsolatePolicy(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	project(t, c, nil, mod("Helpers", helpersSrc), mod("Caller", callerSrc), mod("Alone", aloneSrc))
	good := entry(t, c, "Helpers").Set
	ch, cancel := c.Subscribe()
	defer cancel()

	require.NoError(t, c.RequestReparse(context.Background(), mod("Helpers", brokenSrc)))
	assert.Equal(t, ParserError, c.CurrentState())
	assert.Equal(t, []State{Pending, LoadingReferences, Parsing, ResolvingDeclarations, ResolvingReferences, ParserError}, next(t, ch, 6))

	helpers := entry(t, c, "Helpers")
	assert.Equal(t, registry.ParserError, helpers.Status)
	assert.Equal(t, SyntaxError, Classify(helpers.Err))
	assert.Same(t, good, helpers.Set, "last good declarations are kept")
	assert.Equal(t, []byte(brokenSrc), helpers.Source)

	assert.Equal(t, registry.Blocked, entry(t, c, "Caller").Status)
	assert.Equal(t, registry.Ready, entry(t, c, "Alone").Status)
	assert.Len(t, named(c, symbols.Function, "Helper"), 1)

	require.NoError(t, c.RequestReparse(context.Background(), mod("Helpers", helpersSrc)))
	assert.Equal(t, Ready, c.CurrentState())
	for _, name := range []string{"Helpers", "Caller", "Alone"} {
		assert.Equal(t, registry.Ready, entry(t, c, name).Status, name)
	}
}

func TestCoordinator_BlockAllPolicy(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t, WithPolicy(BlockAll))
	project(t, c, nil, mod("Helpers", helpersSrc), mod("Caller", callerSrc), mod("Alone", aloneSrc))
	version := c.Snapshot().Version()
	ch, cancel := c.Subscribe()
	defer cancel()

	require.NoError(t, c.RequestReparse(context.Background(), mod("Helpers", brokenSrc)))
	assert.Equal(t, ParserError, c.CurrentState())
	assert.Equal(t, []State{Pending, LoadingReferences, Parsing, ParserError}, next(t, ch, 4))
	assert.Equal(t, version+1, c.Snapshot().Version())

	assert.Equal(t, registry.ParserError, entry(t, c, "Helpers").Status)
	assert.Equal(t, registry.Blocked, entry(t, c, "Caller").Status)
	assert.Equal(t, registry.Blocked, entry(t, c, "Alone").Status)
	assert.Equal(t, BlockAll, c.Policy())
}

func TestCoordinator_NewModuleWithSyntaxError(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	project(t, c, nil, mod("Alone", aloneSrc))

	require.NoError(t, c.RequestReparse(context.Background(), mod("Broken", brokenSrc)))
	assert.Equal(t, ParserError, c.CurrentState())
	broken := entry(t, c, "Broken")
	assert.Nil(t, broken.Set)
	var se *vba.SyntaxError
	assert.ErrorAs(t, broken.Err, &se)
	assert.Equal(t, registry.Ready, entry(t, c, "Alone").Status)
	assert.NoError(t, c.Snapshot().Validate())
}

const extendedHelpersSrc = helpersSrc + "\nPublic Function Extra() As Long\n    Extra = 2\nEnd Function\n"

func TestCoordinator_FailedModuleResolvesAgainstReplacedSets(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	project(t, c, nil, mod("Helpers", helpersSrc), mod("Caller", callerSrc))
	kept := entry(t, c, "Caller").Set

	require.NoError(t, c.RequestReparse(context.Background(),
		mod("Helpers", extendedHelpersSrc), mod("Caller", "Public Sub Run()\n")))
	assert.Equal(t, ParserError, c.CurrentState())

	caller := entry(t, c, "Caller")
	assert.Equal(t, registry.ParserError, caller.Status)
	assert.Equal(t, SyntaxError, Classify(caller.Err))
	assert.Same(t, kept, caller.Set)
	require.NotNil(t, caller.Result)
	requireLiveBindings(t, c.Snapshot())

	helper := named(c, symbols.Function, "Helper")
	require.Len(t, helper, 1)
	var from []string
	for _, r := range c.Snapshot().BindingsTo(helper[0].Handle()) {
		from = append(from, r.Module.Module)
	}
	assert.Contains(t, from, "Caller")
}

func TestCoordinator_BlockAllDropsResultsIntoReplacedSets(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t, WithPolicy(BlockAll))
	project(t, c, nil, mod("Helpers", helpersSrc), mod("Caller", callerSrc), mod("Alone", aloneSrc))
	alone := entry(t, c, "Alone").Result

	require.NoError(t, c.RequestReparse(context.Background(),
		mod("Helpers", extendedHelpersSrc), mod("Caller", "Public Sub Run()\n")))
	assert.Equal(t, ParserError, c.CurrentState())

	caller := entry(t, c, "Caller")
	assert.Equal(t, registry.ParserError, caller.Status)
	assert.NotNil(t, caller.Set)
	assert.Nil(t, caller.Result)
	assert.Equal(t, registry.Blocked, entry(t, c, "Helpers").Status)
	assert.Same(t, alone, entry(t, c, "Alone").Result)
	requireLiveBindings(t, c.Snapshot())
}

// =============================================================================
// References
// =============================================================================

func TestCoordinator_LoadsReferencedLibraries(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t, WithProvider(typelib.StaticProvider{"VBA": vbaLib()}))
	project(t, c, []string{"VBA"}, mod("Beeper", beeperSrc))

	assert.Equal(t, registry.Ready, entry(t, c, "Beeper").Status)
	beep := named(c, symbols.Procedure, "Beep")
	require.Len(t, beep, 1)
	assert.Equal(t, symbols.FromReflection, beep[0].Provenance())
	assert.Empty(t, c.Snapshot().Unavailable())
}

func TestCoordinator_UnavailableLibrary(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t, WithProvider(typelib.StaticProvider{"VBA": vbaLib()}))
	require.NoError(t, c.UpdateProjects(context.Background(), Project{Name: "P", References: []string{"VBA", "Excel"}}))
	require.NoError(t, c.RequestReparse(context.Background(),
		mod("Beeper", "Public Sub Go()\n    Beep\n    Calculate\nEnd Sub\n")))

	assert.Equal(t, Ready, c.CurrentState())
	unavailable := c.Snapshot().Unavailable()
	require.Contains(t, unavailable, "excel")
	assert.Equal(t, ReflectionUnavailable, Classify(unavailable["excel"]))

	beeper := entry(t, c, "Beeper")
	assert.Equal(t, registry.Unresolved, beeper.Status)
	require.Len(t, beeper.Result.Diagnostics, 1)
	assert.Contains(t, beeper.Result.Diagnostics[0].Message, "Excel unavailable")

	err := c.ModuleErr(unit("beeper"))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, beeper.Result.Diagnostics[0], conflict.Diagnostic)
	assert.ErrorIs(t, err, ErrResolutionConflict)
	assert.Equal(t, ResolutionConflict, Classify(err))
}

func TestCoordinator_ProjectReferenceChangeReingestsModules(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t, WithProvider(typelib.StaticProvider{"VBA": vbaLib()}))
	project(t, c, nil, mod("Beeper", beeperSrc))
	assert.Equal(t, registry.Unresolved, entry(t, c, "Beeper").Status)
	oldProject, _ := c.Snapshot().Entry(naming.ProjectUnit("P"))

	require.NoError(t, c.UpdateProjects(context.Background(), Project{Name: "P", References: []string{"VBA"}}))
	assert.Equal(t, Ready, c.CurrentState())

	newProject, _ := c.Snapshot().Entry(naming.ProjectUnit("P"))
	assert.NotSame(t, oldProject.Set, newProject.Set)
	beeper := entry(t, c, "Beeper")
	assert.Equal(t, registry.Ready, beeper.Status)
	assert.Equal(t, newProject.Set.Root().Handle(), beeper.Set.Root().Parent())
	assert.NoError(t, c.Snapshot().Validate())

	// Unchanged references do not replace the project.
	require.NoError(t, c.UpdateProjects(context.Background(), Project{Name: "P", References: []string{"VBA"}}))
	again, _ := c.Snapshot().Entry(naming.ProjectUnit("P"))
	assert.Same(t, newProject.Set, again.Set)
}

func TestCoordinator_LateRegisteredProjectIsNotUnavailable(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	ctx := context.Background()
	require.NoError(t, c.UpdateProjects(ctx, Project{Name: "P", References: []string{"Shared"}}))
	require.Contains(t, c.Snapshot().Unavailable(), "shared")

	require.NoError(t, c.UpdateProjects(ctx, Project{Name: "Shared"}))
	assert.Empty(t, c.Snapshot().Unavailable())

	require.NoError(t, c.RequestReparse(ctx,
		ModuleRequest{Module: naming.QualifiedModuleName{Project: "Shared", Module: "Helpers"}, Kind: vba.Procedural, Source: []byte(helpersSrc)},
		mod("Caller", callerSrc)))
	assert.Equal(t, Ready, c.CurrentState())
	caller := entry(t, c, "Caller")
	assert.Equal(t, registry.Ready, caller.Status)
	assert.Empty(t, caller.Result.Diagnostics)
	assert.Empty(t, c.Snapshot().Unavailable())
}

// =============================================================================
// Failures
// =============================================================================

// danglingIngester builds module sets whose parent is in no registered set.
type danglingIngester struct{}

func (danglingIngester) Ingest(_ context.Context, _ *symbols.Declaration, req extract.Request) (*symbols.Set, error) {
	b := symbols.NewBuilder(req.Module, symbols.FromSource)
	if _, err := b.Add(symbols.Fields{
		Name:   req.Module.QualifyMember(req.Module.Module),
		Parent: symbols.MakeHandle(symbols.NewSetID(), 0),
		Kind:   symbols.ProceduralModule,
	}, symbols.ModuleInfo{}); err != nil {
		return nil, err
	}
	return b.Freeze()
}

func TestCoordinator_InvariantViolation(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t, WithIngester(danglingIngester{}))
	project(t, c, nil)
	before := c.Snapshot()
	ch, cancel := c.Subscribe()
	defer cancel()

	err := c.RequestReparse(context.Background(), mod("Module1", aloneSrc))
	require.ErrorIs(t, err, ErrInvariant)
	assert.ErrorIs(t, err, symbols.ErrInvariant)
	assert.Equal(t, InternalInvariantViolation, Classify(err))
	assert.Equal(t, ResolverError, c.CurrentState())
	assert.Equal(t, []State{Pending, LoadingReferences, Parsing, ResolvingDeclarations, ResolverError}, next(t, ch, 5))
	assert.Same(t, before, c.Snapshot())

	// A later cycle starts again from Pending.
	require.NoError(t, c.RequestReparse(context.Background(), ModuleRequest{Module: unit("Module1"), Remove: true}))
	assert.Equal(t, Ready, c.CurrentState())
}

func TestCoordinator_RejectsBadRequests(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	project(t, c, nil)
	before := c.Snapshot()

	err := c.RequestReparse(context.Background(), ModuleRequest{Module: naming.QualifiedModuleName{Project: "Nope", Module: "M"}})
	assert.ErrorIs(t, err, ErrUnknownProject)
	assert.Error(t, c.RequestReparse(context.Background(), ModuleRequest{Module: naming.ProjectUnit("P")}))

	var nilCtx context.Context
	assert.ErrorIs(t, c.RequestReparse(nilCtx, mod("M", aloneSrc)), ErrNilContext)

	assert.Equal(t, Ready, c.CurrentState())
	assert.Same(t, before, c.Snapshot())
}

func TestCoordinator_Close(t *testing.T) {
	t.Parallel()
	c := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ch, _ := c.Subscribe()
	require.NoError(t, c.UpdateProjects(context.Background(), Project{Name: "P"}))
	c.Close()
	c.Close()

	var got []State
	for tr := range ch {
		got = append(got, tr.To)
	}
	assert.Equal(t, []State{LoadingReferences, Parsing, ResolvingDeclarations, ResolvingReferences, Ready}, got)
	assert.ErrorIs(t, c.RequestReparse(context.Background(), mod("M", aloneSrc)), ErrClosed)
}

// =============================================================================
// States and errors
// =============================================================================

func TestCoordinator_ModuleErr(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	project(t, c, nil, mod("Helpers", helpersSrc), mod("Caller", callerSrc))
	assert.NoError(t, c.ModuleErr(unit("Caller")))
	assert.NoError(t, c.ModuleErr(unit("Nope")))

	require.NoError(t, c.RequestReparse(context.Background(), mod("Helpers", brokenSrc), mod("Lost", "Public Sub Go()\n    Nowhere\nEnd Sub\n")))
	helpers := c.ModuleErr(unit("Helpers"))
	var se *vba.SyntaxError
	assert.ErrorAs(t, helpers, &se)
	assert.Equal(t, SyntaxError, Classify(helpers))

	lost := c.ModuleErr(unit("Lost"))
	require.Error(t, lost)
	assert.Equal(t, ResolutionConflict, Classify(lost))
	assert.Contains(t, lost.Error(), "Nowhere")
	assert.NoError(t, c.ModuleErr(unit("Caller")), "a blocked module has no error of its own")
}

func TestTransitions(t *testing.T) {
	t.Parallel()
	assert.True(t, legal(Pending, LoadingReferences))
	assert.True(t, legal(Parsing, ParserError))
	assert.True(t, legal(ResolvingDeclarations, ResolverError))
	assert.True(t, legal(ResolvingReferences, Pending))
	assert.False(t, legal(Ready, Parsing))
	assert.False(t, legal(LoadingReferences, Ready))
	assert.False(t, legal(ResolverError, Ready))
	assert.False(t, legal(Pending, Pending))
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Policy{"": Isolate, "isolate": Isolate, "block-all": BlockAll} {
		got, err := ParsePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePolicy("strict")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want Category
	}{
		{nil, Unknown},
		{errors.New("x"), Unknown},
		{context.DeadlineExceeded, CancellationRequested},
		{&vba.SyntaxError{Module: "M"}, SyntaxError},
		{&typelib.UnavailableError{Library: "Excel", Err: typelib.ErrNotFound}, ReflectionUnavailable},
		{invariantError("boom"), InternalInvariantViolation},
		{&ConflictError{}, ResolutionConflict},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
	assert.Equal(t, "SyntaxError", SyntaxError.String())
}
