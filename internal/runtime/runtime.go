// Package runtime embeds a Risor VM for scripted queries over the
// mirrored declaration store.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/mallard/internal/store"
)

// Runtime embeds a Risor VM and provides VBA helper functions and Store
// access to query scripts.
type Runtime struct {
	store      *store.Store
	scriptsDir string
	fsys       fs.FS
	logger     *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk. Also configures the Risor importer to use
// FSImporter for import statement resolution.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithRuntimeLogger sets the logger behind the scripts' log object.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a Runtime wired to the given Store and scripts directory.
// The Store may be nil, in which case only the pure helpers are available.
func NewRuntime(s *store.Store, scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		store:      s,
		scriptsDir: scriptsDir,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller, returning the value of
// its last expression.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) (object.Object, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals)
}

// RunSource executes Risor source code directly with all standard globals
// plus any extra globals.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) (object.Object, error) {
	return r.eval(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) (object.Object, error) {
	globals := r.buildGlobals(extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}

	// Wire importer so Risor import statements resolve correctly.
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	result, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return result, nil
}

// buildImporter returns a Risor importer configured for the Runtime's script source.
// Returns nil if neither fs.FS nor scriptsDir is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code.
// When an fs.FS is configured, uses fs.ReadFile on the embedded filesystem.
// Otherwise, uses os.ReadFile with scriptsDir as the base directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// filterTemplate wraps a boolean expression over d into a script that
// returns the indexes of the matching declarations.
const filterTemplate = `
func __keep(d) {
	return (%s)
}
__out := []
for __i, __d := range __decls {
	if __keep(__d) {
		__out.append(__i)
	}
}
__out
`

// Filter returns the declarations for which expr, evaluated with the
// declaration bound to d, is truthy. Order is preserved.
func (r *Runtime) Filter(ctx context.Context, expr string, decls []*store.Declaration) ([]*store.Declaration, error) {
	if strings.TrimSpace(expr) == "" {
		return decls, nil
	}
	names := newModuleNames(r.store)
	items := make([]object.Object, len(decls))
	for i, d := range decls {
		items[i] = declarationToMap(d, names)
	}
	res, err := r.eval(ctx, fmt.Sprintf(filterTemplate, expr), "<where>", map[string]any{"__decls": object.NewList(items)})
	if err != nil {
		return nil, err
	}
	list, ok := res.(*object.List)
	if !ok {
		return nil, fmt.Errorf("runtime: filter returned %s", res.Type())
	}
	out := make([]*store.Declaration, 0, len(list.Value()))
	for _, o := range list.Value() {
		i, err := toInt64(o)
		if err != nil || i < 0 || int(i) >= len(decls) {
			return nil, fmt.Errorf("runtime: filter returned bad index %s", o.Inspect())
		}
		out = append(out, decls[i])
	}
	return out, nil
}

// buildGlobals constructs the full set of globals exposed to Risor scripts.
func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"fold":        makeFoldFn(),
		"digest":      makeDigestFn(),
		"module_kind": makeModuleKindFn(),
		"parse":       makeParseFn(),
		"log":         mustProxy(&logObject{logger: r.logger.With("component", "script")}),
	}

	// Expose the Store if available (nil during some tests).
	if r.store != nil {
		globals["db"] = mustProxy(r.store)
		// Thin query host functions. Risor cannot use Go struct pointers
		// directly, so rows are returned as maps.
		names := newModuleNames(r.store)
		globals["modules"] = makeModulesFn(r.store)
		globals["module"] = makeModuleFn(r.store)
		globals["declaration"] = makeDeclarationFn(r.store, names)
		globals["declarations_by_name"] = makeDeclarationsByNameFn(r.store, names)
		globals["declarations_by_kind"] = makeDeclarationsByKindFn(r.store, names)
		globals["declarations_by_module"] = makeDeclarationsByModuleFn(r.store, names)
		globals["children"] = makeChildrenFn(r.store, names)
		globals["declaration_at"] = makeDeclarationAtFn(r.store, names)
		globals["parameter_of"] = makeParameterOfFn(r.store)
		globals["annotations"] = makeAnnotationsFn(r.store)
		globals["attributes"] = makeAttributesFn(r.store)
		globals["bindings_to"] = makeBindingsToFn(r.store)
		globals["diagnostics"] = makeDiagnosticsFn(r.store)
		globals["unavailable"] = makeUnavailableFn(r.store)
		globals["db_query"] = makeDBQueryFn(r.store)
	}

	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
