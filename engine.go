package mallard

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/risor-io/risor/object"
	"go.opentelemetry.io/otel/trace"

	"github.com/jward/mallard/internal/config"
	"github.com/jward/mallard/internal/coordinator"
	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/runtime"
	"github.com/jward/mallard/internal/store"
	"github.com/jward/mallard/internal/typelib"
	"github.com/jward/mallard/internal/vba"
)

// Engine orchestrates the mallard pipeline: module discovery, change
// detection, parse and resolution cycles, the SQLite mirror and query
// access.
type Engine struct {
	store   *store.Store
	coord   *coordinator.Coordinator
	runtime *runtime.Runtime
	logger  *slog.Logger

	provider    typelib.Provider
	typelibDirs []string
	cacheDir    string
	policy      coordinator.Policy
	workers     int
	tracer      trace.Tracer
	scriptsDir  string
	scriptsFS   fs.FS

	// mu serialises a cycle with the mirror write that follows it.
	mu       sync.Mutex
	projects map[string]config.Project // folded name -> project
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger used by the engine, the
// coordinator and scripts. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPolicy sets how a syntax error in one module affects the others.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithWorkers bounds parallel ingestion. Zero keeps the coordinator's
// default.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithProvider sets where referenced libraries are loaded from. It takes
// precedence over WithTypelibDirs.
func WithProvider(p typelib.Provider) Option {
	return func(e *Engine) { e.provider = p }
}

// WithTypelibDirs reads library descriptors from dirs, first match wins.
func WithTypelibDirs(dirs ...string) Option {
	return func(e *Engine) { e.typelibDirs = append(e.typelibDirs, dirs...) }
}

// WithCacheDir caches decoded library descriptors under dir.
func WithCacheDir(dir string) Option {
	return func(e *Engine) { e.cacheDir = dir }
}

// WithTracer sets the tracer for cycle spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithScriptsDir sets the directory Risor scripts and their imports are
// loaded from.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) { e.scriptsDir = dir }
}

// WithScriptsFS loads Risor scripts from fsys instead of disk. This
// enables embedding scripts via go:embed.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) { e.scriptsFS = fsys }
}

// New creates an Engine backed by a SQLite database at dbPath. No project
// is registered yet.
func New(dbPath string, opts ...Option) (*Engine, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("mallard: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("mallard: migrate: %w", err)
	}

	e := &Engine{
		store:    s,
		logger:   slog.Default(),
		projects: make(map[string]config.Project),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.provider == nil && len(e.typelibDirs) > 0 {
		var cache *typelib.Cache
		if e.cacheDir != "" {
			cache, err = typelib.NewCache(e.cacheDir)
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("mallard: %w", err)
			}
		}
		e.provider = typelib.NewDirProvider(cache, e.typelibDirs...)
	}

	rtOpts := []runtime.RuntimeOption{runtime.WithRuntimeLogger(e.logger)}
	if e.scriptsFS != nil {
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(e.scriptsFS))
	}
	e.runtime = runtime.NewRuntime(s, e.scriptsDir, rtOpts...)

	coordOpts := []coordinator.Option{
		coordinator.WithLogger(e.logger),
		coordinator.WithPolicy(e.policy),
	}
	if e.provider != nil {
		coordOpts = append(coordOpts, coordinator.WithProvider(e.provider))
	}
	if e.workers > 0 {
		coordOpts = append(coordOpts, coordinator.WithWorkers(e.workers))
	}
	if e.tracer != nil {
		coordOpts = append(coordOpts, coordinator.WithTracer(e.tracer))
	}
	e.coord = coordinator.New(coordOpts...)
	return e, nil
}

// Open creates an Engine for a loaded workspace and registers its
// projects. Options override the workspace settings.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	policy, err := coordinator.ParsePolicy(cfg.Workspace.Policy)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Workspace.Database), 0o755); err != nil {
		return nil, fmt.Errorf("mallard: create database dir: %w", err)
	}
	base := []Option{
		WithPolicy(policy),
		WithWorkers(cfg.Workspace.Workers),
		WithTypelibDirs(cfg.Workspace.TypelibDirs...),
		WithCacheDir(cfg.Workspace.CacheDir),
	}
	e, err := New(cfg.Workspace.Database, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if _, err := e.RegisterProjects(ctx, cfg.Projects...); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Close stops the coordinator and releases the database.
func (e *Engine) Close() error {
	e.coord.Close()
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Query returns a new QueryBuilder over the mirror.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{store: e.store}
}

// State returns the coordinator's current state. It never blocks.
func (e *Engine) State() State {
	return e.coord.CurrentState()
}

// Subscribe delivers every state transition in order until cancel is
// called or the engine is closed.
func (e *Engine) Subscribe() (<-chan Transition, func()) {
	return e.coord.Subscribe()
}

// Snapshot returns the last published snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.coord.Snapshot()
}

// Declarations queries the live snapshot. It is safe to call from any
// goroutine while a cycle runs.
func (e *Engine) Declarations(pred func(*Symbol) bool) []*Symbol {
	return e.coord.Declarations(pred)
}

// ModuleErr returns the syntax error and resolution conflicts of a module
// in the live snapshot, joined. Classify maps the result to its category.
func (e *Engine) ModuleErr(project, module string) error {
	return e.coord.ModuleErr(naming.QualifiedModuleName{Project: project, Module: module})
}

// Policy returns the syntax error policy in effect.
func (e *Engine) Policy() Policy {
	return e.coord.Policy()
}

// Projects returns the registered projects ordered by name.
func (e *Engine) Projects() []config.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]config.Project, 0, len(e.projects))
	for _, p := range e.projects {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b config.Project) int { return strings.Compare(naming.Fold(a.Name), naming.Fold(b.Name)) })
	return out
}

// RegisterProjects registers projects or changes their references, then
// mirrors the resulting snapshot.
func (e *Engine) RegisterProjects(ctx context.Context, projects ...config.Project) (MirrorStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cps := make([]coordinator.Project, len(projects))
	for i, p := range projects {
		cps[i] = coordinator.Project{Name: p.Name, References: p.References}
	}
	if err := e.coord.UpdateProjects(ctx, cps...); err != nil {
		return MirrorStats{}, fmt.Errorf("mallard: register projects: %w", err)
	}
	for _, p := range projects {
		e.projects[naming.Fold(p.Name)] = p
	}
	return e.mirror()
}

// RequestReparse hands modules held in memory to the coordinator, then
// mirrors the resulting snapshot. Requests naming an unregistered
// project fail with coordinator.ErrUnknownProject.
func (e *Engine) RequestReparse(ctx context.Context, reqs ...ModuleRequest) (MirrorStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.coord.RequestReparse(ctx, reqs...); err != nil {
		return MirrorStats{}, fmt.Errorf("mallard: reparse: %w", err)
	}
	return e.mirror()
}

func (e *Engine) mirror() (MirrorStats, error) {
	stats, err := e.store.Mirror(e.coord.Snapshot())
	if err != nil {
		return stats, fmt.Errorf("mallard: mirror: %w", err)
	}
	e.logger.Debug("mirror.write",
		"version", stats.Version, "written", stats.Written, "kept", stats.Kept,
		"removed", stats.Removed, "skipped", stats.Skipped)
	return stats, nil
}

// IndexStats summarises one indexing run.
type IndexStats struct {
	Files     int // module files found
	Changed   int // files sent for ingestion
	Unchanged int // files whose content matched the published module
	Removed   int // modules whose file disappeared
	State     State
	Mirror    MirrorStats
}

func (s *IndexStats) add(o *IndexStats) {
	s.Files += o.Files
	s.Changed += o.Changed
	s.Unchanged += o.Unchanged
	s.Removed += o.Removed
	s.State = o.State
	if o.Mirror.Version != 0 {
		s.Mirror = o.Mirror
	}
}

// IndexFiles ingests the given module files into project. Module names
// are the file names without extension.
//
// For each file:
//  1. Detect the module kind from the extension; skip other files
//  2. Skip files whose content digest matches the published module
//  3. Collect the rest into one reparse request
//
// Errors on individual files are collected and the remaining files are
// still indexed.
func (e *Engine) IndexFiles(ctx context.Context, project string, paths []string) (*IndexStats, error) {
	return e.index(ctx, project, paths, false)
}

func (e *Engine) index(ctx context.Context, project string, paths []string, prune bool) (*IndexStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.coord.Snapshot()
	stats := &IndexStats{}
	seen := make(map[string]string) // folded module name -> path
	var (
		reqs []coordinator.ModuleRequest
		errs []error
	)
	for _, path := range paths {
		kind, ok := vba.ModuleKindForFile(path)
		if !ok {
			continue
		}
		stats.Files++
		name := moduleName(path)
		key := naming.Fold(name)
		if prev, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("index %s: module %s already read from %s", path, name, prev))
			continue
		}
		seen[key] = path

		src, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("index %s: read file: %w", path, err))
			continue
		}
		unit := naming.QualifiedModuleName{Project: project, Module: name}
		if entry, ok := snap.Entry(unit); ok && entry.Kind == kind && entry.Digest == coordinator.Digest(src) {
			stats.Unchanged++
			continue
		}
		reqs = append(reqs, coordinator.ModuleRequest{Module: unit, Kind: kind, Source: src})
	}
	stats.Changed = len(reqs)

	if prune {
		for _, entry := range snap.Entries() {
			if entry.Unit.IsProject() || !naming.EqualFold(entry.Unit.Project, project) {
				continue
			}
			if _, ok := seen[naming.Fold(entry.Unit.Module)]; !ok {
				reqs = append(reqs, coordinator.ModuleRequest{Module: entry.Unit, Remove: true})
				stats.Removed++
			}
		}
	}

	if len(reqs) > 0 {
		e.logger.Info("index.submit", "project", project, "changed", stats.Changed, "removed", stats.Removed)
		if err := e.coord.RequestReparse(ctx, reqs...); err != nil {
			stats.State = e.coord.CurrentState()
			return stats, fmt.Errorf("mallard: index %s: %w", project, err)
		}
		m, err := e.mirror()
		if err != nil {
			return stats, err
		}
		stats.Mirror = m
		for _, r := range reqs {
			if r.Remove {
				continue
			}
			if err := e.coord.ModuleErr(r.Module); err != nil {
				e.logger.Warn("index.module", "module", r.Module.String(), "category", coordinator.Classify(err).String(), "error", err)
			}
		}
	}
	stats.State = e.coord.CurrentState()

	if len(errs) > 0 {
		return stats, fmt.Errorf("indexing had %d error(s): %w", len(errs), errs[0])
	}
	return stats, nil
}

// moduleName derives a module name from its file: Module1.bas -> Module1.
func moduleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IndexDirectory indexes every module file under the project's root and
// removes modules whose file is gone. If the root is inside a git
// repository, git ls-files is used to respect .gitignore; otherwise the
// filesystem is walked, skipping hidden directories and skipDirs.
func (e *Engine) IndexDirectory(ctx context.Context, project string) (*IndexStats, error) {
	e.mu.Lock()
	p, ok := e.projects[naming.Fold(project)]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mallard: %w: %s", coordinator.ErrUnknownProject, project)
	}

	paths, err := e.gitListFiles(p.Root)
	if err != nil {
		paths, err = e.walkListFiles(p.Root)
		if err != nil {
			return nil, err
		}
	}
	return e.index(ctx, p.Name, paths, true)
}

// IndexWorkspace indexes the directory of every registered project.
func (e *Engine) IndexWorkspace(ctx context.Context) (*IndexStats, error) {
	total := &IndexStats{State: e.coord.CurrentState()}
	var errs []error
	for _, p := range e.Projects() {
		stats, err := e.IndexDirectory(ctx, p.Name)
		if stats != nil {
			total.add(stats)
		}
		if err != nil {
			if ctx.Err() != nil {
				return total, err
			}
			errs = append(errs, fmt.Errorf("project %s: %w", p.Name, err))
		}
	}
	if len(errs) > 0 {
		return total, fmt.Errorf("indexing had %d error(s): %w", len(errs), errs[0])
	}
	return total, nil
}

// skipDirs are excluded from directory walks.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"bin":          true,
	"obj":          true,
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) module files under root.
func (e *Engine) gitListFiles(root string) ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		absPath := filepath.Join(root, line)
		if _, ok := vba.ModuleKindForFile(absPath); !ok {
			continue
		}
		// Tracked files deleted from the worktree are still listed.
		if _, err := os.Stat(absPath); err != nil {
			continue
		}
		paths = append(paths, absPath)
	}
	return paths, nil
}

// walkListFiles discovers module files by walking the filesystem, used as
// a fallback when git is not available.
func (e *Engine) walkListFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := vba.ModuleKindForFile(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

// Filter keeps the declarations for which the Risor expression is truthy.
// The expression sees the declaration as d.
func (e *Engine) Filter(ctx context.Context, expr string, decls []*Declaration) ([]*Declaration, error) {
	return e.runtime.Filter(ctx, expr, decls)
}

// RunScript runs a Risor script against the mirror and returns its
// result.
func (e *Engine) RunScript(ctx context.Context, path string, globals map[string]any) (object.Object, error) {
	return e.runtime.RunScript(ctx, path, globals)
}

// RunSource evaluates Risor source against the mirror.
func (e *Engine) RunSource(ctx context.Context, source string, globals map[string]any) (object.Object, error) {
	return e.runtime.RunSource(ctx, source, globals)
}
