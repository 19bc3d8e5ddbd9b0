package mallard

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/mallard/internal/config"
	"github.com/jward/mallard/internal/coordinator"
	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/vba"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	base := []Option{
		WithLogger(quietLogger()),
		WithWorkers(2),
		WithTypelibDirs(filepath.Join("testdata", "typelibs")),
		WithCacheDir(filepath.Join(t.TempDir(), "cache")),
	}
	e, err := New(dbPath, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// copyModules copies testdata/vba into a fresh directory.
func copyModules(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	entries, err := os.ReadDir(filepath.Join("testdata", "vba"))
	require.NoError(t, err)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join("testdata", "vba", e.Name()))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, e.Name()), data, 0o644))
	}
	return dir
}

func writeModule(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

// newIndexedEngine registers project P over a copy of testdata/vba,
// referencing Scripting, and indexes it.
func newIndexedEngine(t *testing.T, opts ...Option) (*Engine, string) {
	t.Helper()
	e := newTestEngine(t, opts...)
	dir := copyModules(t)
	ctx := context.Background()
	_, err := e.RegisterProjects(ctx, config.Project{Name: "P", Root: dir, References: []string{"Scripting"}})
	require.NoError(t, err)
	_, err = e.IndexDirectory(ctx, "P")
	require.NoError(t, err)
	return e, dir
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_CreatesStoreAndCoordinator(t *testing.T) {
	e := newTestEngine(t)

	require.NotNil(t, e.Store())
	require.NotNil(t, e.Query())
	assert.Equal(t, coordinator.Pending, e.State())
	assert.Equal(t, Isolate, e.Policy())

	v, err := e.Store().Version()
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/dir/db.sqlite")
	require.Error(t, err)
}

func TestClose(t *testing.T) {
	e, err := New(filepath.Join(t.TempDir(), "test.db"), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func TestWithPolicy(t *testing.T) {
	e := newTestEngine(t, WithPolicy(BlockAll))
	assert.Equal(t, BlockAll, e.Policy())
}

func TestOpen_RegistersProjects(t *testing.T) {
	dir := copyModules(t)
	cfg := &config.Config{
		Root: dir,
		Workspace: config.Workspace{
			Database:    filepath.Join(dir, ".mallard", "index.db"),
			Policy:      "block-all",
			TypelibDirs: []string{filepath.Join("testdata", "typelibs")},
		},
		Projects: []config.Project{{Name: "P", Root: dir, References: []string{"Scripting"}}},
	}
	e, err := Open(context.Background(), cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, BlockAll, e.Policy())
	require.Len(t, e.Projects(), 1)
	assert.Equal(t, "P", e.Projects()[0].Name)
	assert.Equal(t, coordinator.Ready, e.State())

	m, err := e.Query().Module("p", "")
	require.NoError(t, err)
	require.NotNil(t, m, "project unit is mirrored")
	assert.FileExists(t, cfg.Workspace.Database)
}

func TestOpen_BadPolicy(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Root:      dir,
		Workspace: config.Workspace{Database: filepath.Join(dir, "index.db"), Policy: "sometimes"},
		Projects:  []config.Project{{Name: "P", Root: dir}},
	}
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown syntax error policy")
}

// =============================================================================
// Indexing
// =============================================================================

func TestIndexDirectory_IndexesModules(t *testing.T) {
	e := newTestEngine(t)
	dir := copyModules(t)
	ctx := context.Background()
	_, err := e.RegisterProjects(ctx, config.Project{Name: "P", Root: dir, References: []string{"Scripting"}})
	require.NoError(t, err)

	stats, err := e.IndexDirectory(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 3, stats.Changed)
	assert.Zero(t, stats.Unchanged)
	assert.Equal(t, coordinator.Ready, stats.State)
	assert.Equal(t, 3, stats.Mirror.Written)

	for _, name := range []string{"Helpers", "Caller", "Widget"} {
		m, err := e.Query().Module("P", name)
		require.NoError(t, err)
		require.NotNil(t, m, name)
		assert.Equal(t, "source", m.Provenance)
	}
	widget, err := e.Query().Module("P", "widget")
	require.NoError(t, err)
	assert.Equal(t, vba.Class.String(), widget.Kind)

	unavailable, err := e.Query().Unavailable()
	require.NoError(t, err)
	assert.Empty(t, unavailable)
}

func TestIndexDirectory_SkipsUnchanged(t *testing.T) {
	e, _ := newIndexedEngine(t)
	before, err := e.Store().Version()
	require.NoError(t, err)

	stats, err := e.IndexDirectory(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Zero(t, stats.Changed)
	assert.Equal(t, 3, stats.Unchanged)
	assert.Zero(t, stats.Mirror.Version, "no cycle ran")

	after, err := e.Store().Version()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestIndexDirectory_ReindexesChanged(t *testing.T) {
	e, dir := newIndexedEngine(t)
	helper, err := e.Query().DeclarationAt("P", "Helpers", 4, 17)
	require.NoError(t, err)
	require.NotNil(t, helper)

	writeModule(t, dir, "Caller.bas", "Attribute VB_Name = \"Caller\"\nPublic Sub Run()\n    Dim total As Long\n    total = Helper + Helper\nEnd Sub\n")

	stats, err := e.IndexDirectory(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Changed)
	assert.Equal(t, 2, stats.Unchanged)
	assert.Equal(t, 1, stats.Mirror.Written)

	same, err := e.Query().DeclarationAt("P", "Helpers", 4, 17)
	require.NoError(t, err)
	require.NotNil(t, same)
	assert.Equal(t, helper.ID, same.ID, "unchanged modules keep their rows")

	refs, err := e.Query().ReferencesTo(helper.ID)
	require.NoError(t, err)
	var fromCaller int
	for _, r := range refs {
		if r.Module == "Caller" {
			fromCaller++
		}
	}
	assert.Equal(t, 2, fromCaller)
}

func TestIndexDirectory_RemovesDeletedModules(t *testing.T) {
	e, dir := newIndexedEngine(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "Caller.bas")))

	stats, err := e.IndexDirectory(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 1, stats.Mirror.Removed)

	m, err := e.Query().Module("P", "Caller")
	require.NoError(t, err)
	assert.Nil(t, m)
	_, ok := e.Snapshot().Entry(naming.QualifiedModuleName{Project: "P", Module: "Caller"})
	assert.False(t, ok)
}

func TestIndexDirectory_SkipsHiddenAndVendorDirs(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	writeModule(t, dir, "Main.bas", "Public Sub Main()\nEnd Sub\n")
	writeModule(t, dir, filepath.Join(".backup", "Old.bas"), "Public Sub Old()\nEnd Sub\n")
	writeModule(t, dir, filepath.Join("vendor", "Lib.bas"), "Public Sub Lib()\nEnd Sub\n")
	writeModule(t, dir, filepath.Join("forms", "Nested.bas"), "Public Sub Nested()\nEnd Sub\n")

	ctx := context.Background()
	_, err := e.RegisterProjects(ctx, config.Project{Name: "P", Root: dir})
	require.NoError(t, err)
	stats, err := e.IndexDirectory(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)

	nested, err := e.Query().Module("P", "Nested")
	require.NoError(t, err)
	assert.NotNil(t, nested)
	old, err := e.Query().Module("P", "Old")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestIndexDirectory_UnknownProject(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.IndexDirectory(context.Background(), "Nope")
	assert.ErrorIs(t, err, coordinator.ErrUnknownProject)
}

func TestIndexFiles_IgnoresOtherExtensions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_, err := e.RegisterProjects(ctx, config.Project{Name: "P", Root: t.TempDir()})
	require.NoError(t, err)

	readme := writeModule(t, t.TempDir(), "readme.txt", "hello")
	stats, err := e.IndexFiles(ctx, "P", []string{readme})
	require.NoError(t, err)
	assert.Zero(t, stats.Files)
	assert.Zero(t, stats.Changed)
}

func TestIndexFiles_CollectsErrors(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	ctx := context.Background()
	_, err := e.RegisterProjects(ctx, config.Project{Name: "P", Root: dir})
	require.NoError(t, err)

	good := writeModule(t, dir, "Good.bas", "Public Sub Go()\nEnd Sub\n")
	stats, err := e.IndexFiles(ctx, "P", []string{filepath.Join(dir, "Gone.bas"), good})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing had 1 error(s)")
	assert.Equal(t, 1, stats.Changed)

	m, err := e.Query().Module("P", "Good")
	require.NoError(t, err)
	assert.NotNil(t, m, "the remaining files are still indexed")
}

func TestIndexFiles_DuplicateModuleName(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	ctx := context.Background()
	_, err := e.RegisterProjects(ctx, config.Project{Name: "P", Root: dir})
	require.NoError(t, err)

	a := writeModule(t, dir, filepath.Join("a", "Foo.bas"), "Public Sub A()\nEnd Sub\n")
	b := writeModule(t, dir, filepath.Join("b", "foo.bas"), "Public Sub B()\nEnd Sub\n")
	_, err = e.IndexFiles(ctx, "P", []string{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already read from")
}

func TestIndexFiles_SyntaxErrorIsolatesModule(t *testing.T) {
	e, dir := newIndexedEngine(t)
	broken := writeModule(t, dir, "Helpers.bas", "Attribute VB_Name = \"Helpers\"\nPublic Function Helper() As Long\n")

	stats, err := e.IndexFiles(context.Background(), "P", []string{broken})
	require.NoError(t, err, "a syntax error settles the cycle")
	assert.Equal(t, coordinator.ParserError, stats.State)

	helpers, err := e.Query().Module("P", "Helpers")
	require.NoError(t, err)
	assert.Equal(t, "parser-error", helpers.Status)
	assert.Contains(t, helpers.Error, "End")

	caller, err := e.Query().Module("P", "Caller")
	require.NoError(t, err)
	assert.Equal(t, "blocked", caller.Status)

	helper, err := e.Query().DeclarationAt("P", "Helpers", 4, 17)
	require.NoError(t, err)
	require.NotNil(t, helper, "last good declarations stay queryable")
	assert.Equal(t, "Helper", helper.Name)
}

func TestIndexWorkspace(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	one, two := t.TempDir(), t.TempDir()
	writeModule(t, one, "A.bas", "Public Sub A()\nEnd Sub\n")
	writeModule(t, two, "B.bas", "Public Sub B()\n    A\nEnd Sub\n")
	_, err := e.RegisterProjects(ctx,
		config.Project{Name: "One", Root: one},
		config.Project{Name: "Two", Root: two, References: []string{"One"}},
	)
	require.NoError(t, err)

	stats, err := e.IndexWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 2, stats.Changed)
	assert.Equal(t, coordinator.Ready, stats.State)

	diags, err := e.Query().Diagnostics()
	require.NoError(t, err)
	assert.Empty(t, diags, "B binds A through the project reference")
}

// =============================================================================
// Live snapshot
// =============================================================================

func TestRequestReparse_InMemory(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_, err := e.RegisterProjects(ctx, config.Project{Name: "P", Root: t.TempDir()})
	require.NoError(t, err)

	stats, err := e.RequestReparse(ctx, ModuleRequest{
		Module: naming.QualifiedModuleName{Project: "P", Module: "Scratch"},
		Kind:   vba.Procedural,
		Source: []byte("Public Function Answer() As Long\n    Answer = 42\nEnd Function\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)

	live := e.Declarations(func(d *Symbol) bool { return d.Name() == "Answer" })
	require.Len(t, live, 1)
	assert.Equal(t, "Scratch", live[0].Module().Module)

	m, err := e.Query().Module("P", "Scratch")
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestRequestReparse_UnknownProject(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RequestReparse(context.Background(), ModuleRequest{
		Module: naming.QualifiedModuleName{Project: "Ghost", Module: "M"},
		Kind:   vba.Procedural,
		Source: []byte("Sub M()\nEnd Sub\n"),
	})
	assert.ErrorIs(t, err, coordinator.ErrUnknownProject)
}

func TestSubscribe_ReceivesTransitions(t *testing.T) {
	e := newTestEngine(t)
	ch, cancel := e.Subscribe()
	defer cancel()

	dir := copyModules(t)
	ctx := context.Background()
	_, err := e.RegisterProjects(ctx, config.Project{Name: "P", Root: dir})
	require.NoError(t, err)
	_, err = e.IndexDirectory(ctx, "P")
	require.NoError(t, err)

	var seen []State
	timeout := time.After(5 * time.Second)
	for readies := 0; readies < 2; {
		select {
		case tr := <-ch:
			seen = append(seen, tr.To)
			if tr.To == coordinator.Ready {
				readies++
			}
		case <-timeout:
			t.Fatalf("timed out; saw %v", seen)
		}
	}
	assert.Contains(t, seen, coordinator.Parsing)
	assert.Contains(t, seen, coordinator.ResolvingReferences)
}

// =============================================================================
// Scripts
// =============================================================================

func TestFilter(t *testing.T) {
	e, _ := newIndexedEngine(t)
	page, err := e.Query().Declarations(DeclarationFilter{}, Sort{}, Pagination{Limit: maxLimit})
	require.NoError(t, err)

	decls := make([]*Declaration, len(page.Items))
	for i := range page.Items {
		decls[i] = &page.Items[i].Declaration
	}
	got, err := e.Filter(context.Background(), `d.kind == "Function" && d.module == "Helpers"`, decls)
	require.NoError(t, err)

	var names []string
	for _, d := range got {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"Helper", "Orphan"}, names)
}

func TestRunSource(t *testing.T) {
	e, _ := newIndexedEngine(t)
	res, err := e.RunSource(context.Background(), `len(declarations_by_name("helper"))`, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", res.Inspect())
}

func TestModuleName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Module1", moduleName("/src/Module1.bas"))
	assert.Equal(t, "ThisWorkbook", moduleName("ThisWorkbook.doccls"))
	assert.Equal(t, "My.Form", moduleName("My.Form.frm"))
}
