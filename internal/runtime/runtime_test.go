package runtime

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/risor-io/risor/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/mallard/internal/store"
)

func quietRuntime(s *store.Store, dir string, opts ...RuntimeOption) *Runtime {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRuntime(s, dir, append([]RuntimeOption{WithRuntimeLogger(logger)}, opts...)...)
}

// seededStore holds one module with a function, its parameter and a
// caller binding.
type seededStore struct {
	*store.Store
	module *store.Module
	fn     *store.Declaration
	param  *store.Declaration
	sub    *store.Declaration
}

func newSeededStore(t *testing.T) *seededStore {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	m := &store.Module{Project: "VBAProject", Name: "Helpers", Kind: "procedural", Status: "ready", Provenance: "source"}
	_, err = s.InsertModule(m)
	require.NoError(t, err)

	fn := &store.Declaration{ModuleID: m.ID, Name: "Helper", QualifiedName: "VBAProject.Helpers.Helper", Kind: "Function",
		Accessibility: "Public", AsType: "Long", StartLine: 1, StartCol: 1, EndLine: 3, EndCol: 13}
	_, err = s.InsertDeclaration(fn)
	require.NoError(t, err)
	param := &store.Declaration{ModuleID: m.ID, ParentID: &fn.ID, Seq: 1, Name: "value", QualifiedName: "VBAProject.Helpers.value",
		Kind: "Parameter", Accessibility: "Implicit", AsType: "Variant", StartLine: 1, StartCol: 24, EndLine: 1, EndCol: 28}
	_, err = s.InsertDeclaration(param)
	require.NoError(t, err)
	_, err = s.InsertParameter(&store.Parameter{DeclarationID: param.ID, Optional: true, ByRef: true, Default: "0"})
	require.NoError(t, err)
	sub := &store.Declaration{ModuleID: m.ID, Seq: 2, Name: "Run", QualifiedName: "VBAProject.Helpers.Run", Kind: "Procedure",
		Accessibility: "Private", StartLine: 5, StartCol: 1, EndLine: 7, EndCol: 7}
	_, err = s.InsertDeclaration(sub)
	require.NoError(t, err)
	_, err = s.InsertAnnotation(&store.Annotation{DeclarationID: sub.ID, Name: "Ignore", Args: []string{"ProcedureNotUsed"}})
	require.NoError(t, err)
	_, err = s.InsertBinding(&store.Binding{ModuleID: m.ID, ScopeID: &sub.ID, Name: "Helper", UseKind: "value", Line: 6, Col: 5, TargetID: fn.ID})
	require.NoError(t, err)
	_, err = s.InsertDiagnostic(&store.Diagnostic{ModuleID: m.ID, Name: "Missing", Reason: "unbound", Message: "Missing is not declared", Line: 6, Col: 12})
	require.NoError(t, err)
	_, err = s.DB().Exec("INSERT INTO unavailable_libraries (name, error) VALUES ('excel', 'type library Excel unavailable')")
	require.NoError(t, err)

	return &seededStore{Store: s, module: m, fn: fn, param: param, sub: sub}
}

// =============================================================================
// Host functions
// =============================================================================

func TestRunSource_PureHelpers(t *testing.T) {
	t.Parallel()
	rt := quietRuntime(nil, "")

	script := `
assert(fold("HeLLo") == fold("hello"), "fold is case-insensitive")
assert(module_kind("src/Sheet1.cls") == "class", 'got {module_kind("src/Sheet1.cls")}')
assert(module_kind("notes.txt") == nil, "non-module files have no kind")
assert(len(digest("Sub A()\nEnd Sub\n")) > 0, "digest is non-empty")
assert(digest("a") != digest("b"), "digest differs by content")
`
	_, err := rt.RunSource(context.Background(), script, nil)
	require.NoError(t, err)
}

func TestRunSource_Parse(t *testing.T) {
	t.Parallel()
	rt := quietRuntime(nil, "")

	res, err := rt.RunSource(context.Background(), `
decls := parse("Helpers", src)
names := []
for _, d := range decls {
	names.append(d["kind"] + ":" + d["name"])
}
names
`, map[string]any{"src": "Public Function Helper() As Long\n    Helper = 1\nEnd Function\n"})
	require.NoError(t, err)

	list, ok := res.(*object.List)
	require.True(t, ok, "got %s", res.Type())
	var names []string
	for _, o := range list.Value() {
		names = append(names, o.(*object.String).Value())
	}
	assert.Equal(t, []string{"ProceduralModule:Helpers", "Function:Helper"}, names)
}

func TestRunSource_ParseSyntaxError(t *testing.T) {
	t.Parallel()
	rt := quietRuntime(nil, "")

	_, err := rt.RunSource(context.Background(), `
res := parse("Broken", "Public Function Helper() As Long\n")
assert(type(res) == "map", 'expected map, got {type(res)}')
assert(res["line"] > 0, "syntax errors carry a line")
assert(len(res["error"]) > 0, "syntax errors carry a message")
`, nil)
	require.NoError(t, err)
}

func TestRunSource_ParseUnknownKind(t *testing.T) {
	t.Parallel()
	rt := quietRuntime(nil, "")
	_, err := rt.RunSource(context.Background(), `parse("M", "", "macro")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown module kind")
}

// =============================================================================
// Store functions
// =============================================================================

func TestRunSource_StoreQueries(t *testing.T) {
	t.Parallel()
	s := newSeededStore(t)
	rt := quietRuntime(s.Store, "")

	script := `
mods := modules()
assert(len(mods) == 1, 'expected 1 module, got {len(mods)}')
m := module("vbaproject", "helpers")
assert(m["name"] == "Helpers", "module lookup folds case")
assert(module("VBAProject", "Nope") == nil, "missing module is nil")

fns := declarations_by_name("helper")
assert(len(fns) == 1, 'expected 1 Helper, got {len(fns)}')
fn := fns[0]
assert(fn["module"] == "Helpers", 'module name attached, got {fn["module"]}')
assert(fn["as_type"] == "Long", "as type")
assert(fn["parent_id"] == nil, "top-level function has no parent in this fixture")

kids := children(fn["id"])
assert(len(kids) == 1 && kids[0]["name"] == "value", "parameter is a child")
p := parameter_of(kids[0]["id"])
assert(p["optional"] && p["by_ref"] && p["default"] == "0", "parameter info")

assert(len(declarations_by_kind("Procedure")) == 1, "one procedure")
assert(len(declarations_by_module(m["id"])) == 3, "three declarations")

at := declaration_at(m["id"], 6, 3)
assert(at["name"] == "Run", 'declaration at 6:3 is Run, got {at["name"]}')

anns := annotations(at["id"])
assert(len(anns) == 1 && anns[0]["args"][0] == "ProcedureNotUsed", "annotation args")
assert(len(attributes(at["id"])) == 0, "no attributes")

refs := bindings_to(fn["id"])
assert(len(refs) == 1 && refs[0]["scope_id"] == at["id"], "binding from Run")

diags := diagnostics()
assert(len(diags) == 1 && diags[0]["reason"] == "unbound", "one unbound diagnostic")
assert(unavailable()["excel"] == "type library Excel unavailable", "unavailable library")

rows := db_query("SELECT name FROM declarations WHERE kind = ?", "Function")
assert(len(rows) == 1 && rows[0]["name"] == "Helper", "db_query rows")
`
	_, err := rt.RunSource(context.Background(), script, nil)
	require.NoError(t, err)
}

func TestRunSource_DBQueryRejectsWrites(t *testing.T) {
	t.Parallel()
	s := newSeededStore(t)
	rt := quietRuntime(s.Store, "")
	_, err := rt.RunSource(context.Background(), `db_query("DELETE FROM declarations")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only SELECT")
}

func TestRunSource_StoreFunctionsNeedStore(t *testing.T) {
	t.Parallel()
	rt := quietRuntime(nil, "")
	_, err := rt.RunSource(context.Background(), `modules()`, nil)
	require.Error(t, err)
}

// =============================================================================
// Filter
// =============================================================================

func TestFilter(t *testing.T) {
	t.Parallel()
	s := newSeededStore(t)
	rt := quietRuntime(s.Store, "")
	all, err := s.AllDeclarations()
	require.NoError(t, err)
	require.Len(t, all, 3)

	tests := []struct {
		expr string
		want []string
	}{
		{"", []string{"Helper", "value", "Run"}},
		{`d["kind"] == "Function"`, []string{"Helper"}},
		{`d["accessibility"] != "Private" && d["module"] == "Helpers"`, []string{"Helper", "value"}},
		{`fold(d["name"]) == "run"`, []string{"Run"}},
		{`d["start_line"] > 100`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := rt.Filter(context.Background(), tt.expr, all)
			require.NoError(t, err)
			var names []string
			for _, d := range got {
				names = append(names, d.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestFilter_BadExpression(t *testing.T) {
	t.Parallel()
	rt := quietRuntime(nil, "")
	_, err := rt.Filter(context.Background(), `d[`, []*store.Declaration{{Name: "A"}})
	require.Error(t, err)
}

// =============================================================================
// Script loading
// =============================================================================

func TestLoadScript_FromFSFS(t *testing.T) {
	t.Parallel()

	content := `x := 42`
	mapFS := fstest.MapFS{
		"queries/unused.risor": &fstest.MapFile{Data: []byte(content)},
	}

	rt := quietRuntime(nil, "", WithRuntimeFS(mapFS))

	got, err := rt.LoadScript("queries/unused.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	got, err = rt.LoadScript("/queries/unused.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLoadScript_FromFSFS_NotFound(t *testing.T) {
	t.Parallel()

	rt := quietRuntime(nil, "", WithRuntimeFS(fstest.MapFS{}))

	_, err := rt.LoadScript("nonexistent.risor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from fs")
}

func TestLoadScript_FallsBackToDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `z := 7`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.risor"), []byte(content), 0644))

	rt := quietRuntime(nil, dir)

	got, err := rt.LoadScript("test.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestRunScript_ReturnsLastValue(t *testing.T) {
	t.Parallel()
	mapFS := fstest.MapFS{
		"test.risor": &fstest.MapFile{Data: []byte("result := 1 + 1\nresult")},
	}

	rt := quietRuntime(nil, "", WithRuntimeFS(mapFS))
	res, err := rt.RunScript(context.Background(), "test.risor", nil)
	require.NoError(t, err)
	i, ok := res.(*object.Int)
	require.True(t, ok)
	assert.Equal(t, int64(2), i.Value())
}

// =============================================================================
// Importer wiring
// =============================================================================

func TestImport_FSImporter(t *testing.T) {
	mapFS := fstest.MapFS{
		"lib_helpers.risor": &fstest.MapFile{Data: []byte(`
func public_only(decls) {
	out := []
	for _, d := range decls {
		if d["accessibility"] == "Public" {
			out.append(d)
		}
	}
	return out
}
`)},
	}

	rt := quietRuntime(nil, "", WithRuntimeFS(mapFS))

	script := `
import lib_helpers

decls := [{"accessibility": "Public"}, {"accessibility": "Private"}]
assert(len(lib_helpers.public_only(decls)) == 1, "one public declaration")
`
	_, err := rt.RunSource(context.Background(), script, nil)
	require.NoError(t, err)
}

func TestImport_GlobalsAvailableInImportedModules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helper.risor"), []byte(`
func do_log(msg) {
	log.Info(fold(msg))
}
`), 0644))

	rt := quietRuntime(nil, dir)

	script := `
import helper
helper.do_log("Test Message")
`
	_, err := rt.RunSource(context.Background(), script, nil)
	require.NoError(t, err)
}
