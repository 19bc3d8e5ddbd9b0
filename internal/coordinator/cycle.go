package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jward/mallard/internal/extract"
	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/registry"
	"github.com/jward/mallard/internal/resolve"
	"github.com/jward/mallard/internal/symbols"
	"github.com/jward/mallard/internal/typelib"
)

// cycle is the working state of one run. It lives on the actor goroutine;
// only the worker pools inside a phase run concurrently, and they never
// write to the draft.
type cycle struct {
	c      *Coordinator
	ctx    context.Context
	id     uuid.UUID
	log    *slog.Logger
	pre    State
	draft  *registry.Draft
	failed map[naming.QualifiedModuleName]bool
}

// run executes one request as a full cycle. A request rejected up front
// changes nothing and emits no transition.
func (c *Coordinator) run(r *request) (err error) {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if err := c.check(r); err != nil {
		return err
	}

	cy := &cycle{
		c:      c,
		id:     uuid.New(),
		pre:    c.CurrentState(),
		draft:  c.reg.Current().Edit(),
		failed: make(map[naming.QualifiedModuleName]bool),
	}
	cy.log = c.logger.With("cycle", cy.id.String())

	ctx, span := c.tracer.Start(r.ctx, "coordinator.cycle", trace.WithAttributes(
		attribute.String("cycle.id", cy.id.String()),
		attribute.Int("cycle.modules", len(r.modules)),
		attribute.Int("cycle.projects", len(r.projects)),
	))
	defer span.End()
	cy.ctx = ctx

	defer func() {
		if p := recover(); p != nil {
			err = cy.fail(invariantError("panic: %v", p))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	start := time.Now()
	cy.log.Info("cycle.start", "from", cy.pre.String(), "modules", len(r.modules), "projects", len(r.projects))
	if cy.pre != Pending {
		if err := cy.enter(Pending); err != nil {
			return cy.fail(err)
		}
	}

	final, err := cy.execute(r)
	switch {
	case err == nil:
		cy.log.Info("cycle.done",
			"state", final.String(),
			"version", c.reg.Current().Version(),
			"failed", len(cy.failed),
			"duration", time.Since(start))
		return nil
	case ctx.Err() != nil:
		return cy.rollback()
	default:
		return cy.fail(err)
	}
}

// check rejects requests that name projects the registry does not know.
func (c *Coordinator) check(r *request) error {
	cur := c.reg.Current()
	known := make(map[string]bool)
	for _, e := range cur.Entries() {
		if e.Unit.IsProject() && e.Set != nil && e.Set.Provenance() == symbols.FromSource {
			known[naming.Fold(e.Unit.Project)] = true
		}
	}
	for _, p := range r.projects {
		if p.Name == "" {
			return errors.New("coordinator: project has no name")
		}
		if e, ok := cur.Entry(naming.ProjectUnit(p.Name)); ok && e.Set != nil && e.Set.Provenance() == symbols.FromReflection {
			return fmt.Errorf("coordinator: project %q collides with a referenced library", p.Name)
		}
		known[naming.Fold(p.Name)] = true
	}
	for _, m := range r.modules {
		if m.Module.Module == "" {
			return fmt.Errorf("coordinator: request for project %q has no module name", m.Module.Project)
		}
		if !known[naming.Fold(m.Module.Project)] {
			return fmt.Errorf("%w: %q", ErrUnknownProject, m.Module.Project)
		}
	}
	return nil
}

// enter moves the coordinator to state to and notifies subscribers.
func (cy *cycle) enter(to State) error {
	c := cy.c
	from := c.CurrentState()
	if !legal(from, to) {
		return invariantError("illegal transition %s -> %s", from, to)
	}
	c.state.Store(uint32(to))
	c.hub.publish(Transition{From: from, To: to, Cycle: cy.id, At: time.Now()})
	cy.log.Debug("cycle.phase", "from", from.String(), "to", to.String())
	if hook := c.beforePhase; hook != nil && !to.Settled() {
		hook(to)
	}
	return nil
}

func (cy *cycle) span(s State) func() {
	_, span := cy.c.tracer.Start(cy.ctx, "coordinator.phase", trace.WithAttributes(attribute.String("phase", s.String())))
	return func() { span.End() }
}

// rollback discards the draft and returns to the state the cycle started
// from.
func (cy *cycle) rollback() error {
	err := context.Cause(cy.ctx)
	cy.log.Info("cycle.rollback", "phase", cy.c.CurrentState().String(), "restore", cy.pre.String(), "reason", err)
	if cy.c.CurrentState() != Pending {
		if e := cy.enter(Pending); e != nil {
			return cy.fail(e)
		}
	}
	if cy.pre != Pending {
		if e := cy.enter(cy.pre); e != nil {
			return cy.fail(e)
		}
	}
	return cy.ctx.Err()
}

// fail ends the cycle in ResolverError without publishing.
func (cy *cycle) fail(err error) error {
	if !errors.Is(err, ErrInvariant) {
		err = fmt.Errorf("%w: %w", ErrInvariant, err)
	}
	cy.log.Error("cycle.invariant", "phase", cy.c.CurrentState().String(), "error", err)
	c := cy.c
	if from := c.CurrentState(); from != ResolverError {
		c.state.Store(uint32(ResolverError))
		c.hub.publish(Transition{From: from, To: ResolverError, Cycle: cy.id, At: time.Now()})
	}
	return err
}

// execute runs the phases and publishes the result. It returns the settled
// state it entered.
func (cy *cycle) execute(r *request) (State, error) {
	ctx := cy.ctx

	if err := cy.enter(LoadingReferences); err != nil {
		return 0, err
	}
	end := cy.span(LoadingReferences)
	changed, err := cy.applyProjects(r.projects)
	if err == nil {
		err = cy.loadLibraries()
	}
	end()
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := cy.enter(Parsing); err != nil {
		return 0, err
	}
	end = cy.span(Parsing)
	err = cy.parse(cy.plan(r.modules, changed))
	end()
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if len(cy.failed) > 0 && cy.c.policy == BlockAll {
		cy.blockAll()
		if err := cy.publish(); err != nil {
			return 0, err
		}
		return ParserError, cy.enter(ParserError)
	}

	if err := cy.enter(ResolvingDeclarations); err != nil {
		return 0, err
	}
	end = cy.span(ResolvingDeclarations)
	if err := cy.draft.Validate(); err != nil {
		end()
		return 0, err
	}
	ix := resolve.NewIndex(cy.draft.Sets(), cy.draft.Unavailable())
	targets := cy.targets()
	partials, err := cy.within(ix, targets)
	end()
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := cy.enter(ResolvingReferences); err != nil {
		return 0, err
	}
	end = cy.span(ResolvingReferences)
	results, err := cy.across(ix, partials)
	end()
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cy.apply(targets, results)
	if err := cy.publish(); err != nil {
		return 0, err
	}
	final := Ready
	if len(cy.failed) > 0 {
		final = ParserError
	}
	return final, cy.enter(final)
}

// applyProjects stores a new project set for every project that is new or
// whose references changed, and clears any unavailable-library record under
// its name. It returns the folded names of those projects.
func (cy *cycle) applyProjects(projects []Project) (map[string]bool, error) {
	changed := make(map[string]bool)
	for _, p := range projects {
		unit := naming.ProjectUnit(p.Name)
		if e, ok := cy.draft.Entry(unit); ok && e.Set != nil {
			if info, ok := e.Set.Root().ProjectInfo(); ok && slices.Equal(info.References, p.References) {
				continue
			}
		}
		b := symbols.NewBuilder(unit, symbols.FromSource)
		if _, err := b.Add(symbols.Fields{
			Name:          unit.QualifyMember(p.Name),
			Kind:          symbols.Project,
			Accessibility: symbols.Public,
		}, symbols.ProjectInfo{References: slices.Clone(p.References)}); err != nil {
			return nil, err
		}
		set, err := b.Freeze()
		if err != nil {
			return nil, err
		}
		if err := cy.draft.Put(registry.Entry{Unit: unit, Set: set, Status: registry.Ready}); err != nil {
			return nil, err
		}
		if err := cy.draft.SetUnavailable(p.Name, nil); err != nil {
			return nil, err
		}
		changed[naming.Fold(p.Name)] = true
		cy.log.Info("project.updated", "project", p.Name, "references", len(p.References))
	}
	return changed, nil
}

// loadLibraries loads every referenced library that is not loaded yet or
// failed to load before. Failures are recorded, not returned.
func (cy *cycle) loadLibraries() error {
	var names []string
	seen := make(map[string]bool)
	unavailable := cy.draft.Unavailable()
	for _, e := range cy.draft.Entries() {
		if !e.Unit.IsProject() || e.Set == nil || e.Set.Provenance() != symbols.FromSource {
			continue
		}
		info, _ := e.Set.Root().ProjectInfo()
		for _, ref := range info.References {
			k := naming.Fold(ref)
			if seen[k] {
				continue
			}
			seen[k] = true
			if le, ok := cy.draft.Entry(naming.ProjectUnit(ref)); ok && le.Set != nil {
				if _, down := unavailable[k]; le.Set.Provenance() == symbols.FromSource || !down {
					continue
				}
			}
			names = append(names, ref)
		}
	}
	if len(names) == 0 {
		return nil
	}

	type loaded struct {
		set *symbols.Set
		err error
	}
	out := make([]loaded, len(names))
	g, gctx := errgroup.WithContext(cy.ctx)
	g.SetLimit(cy.c.workers)
	for i, name := range names {
		g.Go(func() error {
			set, err := typelib.Ingest(gctx, cy.c.provider, name)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			out[i] = loaded{set, err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, name := range names {
		if err := out[i].err; err != nil {
			cy.log.Warn("typelib.unavailable", "library", name, "error", err)
			if err := cy.draft.SetUnavailable(name, err); err != nil {
				return err
			}
			continue
		}
		set := out[i].set
		if err := cy.draft.Put(registry.Entry{Unit: set.Unit(), Set: set, Status: registry.Ready}); err != nil {
			return err
		}
		if err := cy.draft.SetUnavailable(name, nil); err != nil {
			return err
		}
		cy.log.Debug("typelib.loaded", "library", name, "declarations", set.Len())
	}
	return nil
}

// plan applies removals and returns the modules to ingest: the requested
// ones plus every module of a project whose set was replaced.
func (cy *cycle) plan(modules []ModuleRequest, changed map[string]bool) []ModuleRequest {
	var jobs []ModuleRequest
	requested := make(map[naming.QualifiedModuleName]bool)
	for _, m := range modules {
		requested[m.Module.Fold()] = true
		if m.Remove {
			if ok, _ := cy.draft.Remove(m.Module); ok {
				cy.log.Info("module.removed", "module", m.Module.String())
			}
			continue
		}
		jobs = append(jobs, m)
	}
	if len(changed) == 0 {
		return jobs
	}
	for _, e := range cy.draft.Entries() {
		if e.Unit.IsProject() || !changed[naming.Fold(e.Unit.Project)] || requested[e.Unit.Fold()] {
			continue
		}
		jobs = append(jobs, ModuleRequest{Module: e.Unit, Kind: e.Kind, Source: e.Source})
	}
	return jobs
}

// parse ingests jobs on the worker pool and stores the outcomes. A module
// that fails keeps its last good set while that set's project still
// exists.
func (cy *cycle) parse(jobs []ModuleRequest) error {
	projects := make(map[string]*symbols.Declaration)
	for _, j := range jobs {
		k := naming.Fold(j.Module.Project)
		if _, ok := projects[k]; ok {
			continue
		}
		e, ok := cy.draft.Entry(naming.ProjectUnit(j.Module.Project))
		if !ok || e.Set == nil {
			return invariantError("module %s has no project", j.Module)
		}
		projects[k] = e.Set.Root()
	}

	type parsed struct {
		set *symbols.Set
		err error
	}
	out := make([]parsed, len(jobs))
	g, gctx := errgroup.WithContext(cy.ctx)
	g.SetLimit(cy.c.workers)
	for i, j := range jobs {
		g.Go(func() error {
			set, err := cy.c.ingester.Ingest(gctx, projects[naming.Fold(j.Module.Project)], extract.Request{
				Module: j.Module,
				Kind:   j.Kind,
				Source: j.Source,
			})
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			out[i] = parsed{set, err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, j := range jobs {
		entry := registry.Entry{
			Unit:   j.Module,
			Set:    out[i].set,
			Status: registry.Ready,
			Kind:   j.Kind,
			Source: j.Source,
			Digest: Digest(j.Source),
		}
		if err := out[i].err; err != nil {
			if errors.Is(err, symbols.ErrInvariant) || errors.Is(err, symbols.ErrInvalidParent) {
				return err
			}
			cy.log.Warn("module.syntax_error", "module", j.Module.String(), "error", err)
			entry.Status, entry.Err = registry.ParserError, err
			if old, ok := cy.draft.Entry(j.Module); ok && old.Set != nil {
				if _, alive := cy.draft.Lookup(old.Set.Root().Parent()); alive {
					entry.Set, entry.Result = old.Set, old.Result
				}
			}
		}
		if err := cy.draft.Put(entry); err != nil {
			return err
		}
	}

	for _, e := range cy.draft.Entries() {
		if e.Status == registry.ParserError {
			cy.failed[e.Unit.Fold()] = true
		}
	}
	return nil
}

// blockAll marks every source module that parsed as Blocked. Results that
// bind into a replaced or removed set are dropped.
func (cy *cycle) blockAll() {
	for _, e := range cy.draft.Entries() {
		if e.Unit.IsProject() {
			continue
		}
		failed := cy.failed[e.Unit.Fold()]
		stale := e.Result != nil && !cy.live(e.Result)
		if failed && !stale {
			continue
		}
		_, _ = cy.draft.Update(e.Unit, func(e *registry.Entry) {
			if !failed {
				e.Status = registry.Blocked
			}
			if stale {
				e.Result = nil
			}
		})
	}
}

// live reports whether every declaration res points at is in the draft.
func (cy *cycle) live(res *resolve.Result) bool {
	for _, b := range res.Bindings {
		if _, ok := cy.draft.Lookup(b.Target); !ok {
			return false
		}
	}
	for _, d := range res.Diagnostics {
		for _, h := range d.Candidates {
			if _, ok := cy.draft.Lookup(h); !ok {
				return false
			}
		}
	}
	return true
}

// targets returns the module entries to resolve. A module that failed to
// parse is resolved against its last good set.
func (cy *cycle) targets() []registry.Entry {
	var out []registry.Entry
	for _, e := range cy.draft.Entries() {
		if e.Unit.IsProject() || e.Set == nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (cy *cycle) within(ix *resolve.Index, targets []registry.Entry) ([]*resolve.Partial, error) {
	out := make([]*resolve.Partial, len(targets))
	g, gctx := errgroup.WithContext(cy.ctx)
	g.SetLimit(cy.c.workers)
	for i, e := range targets {
		g.Go(func() error {
			p, err := ix.Within(gctx, e.Set)
			out[i] = p
			return err
		})
	}
	return out, g.Wait()
}

func (cy *cycle) across(ix *resolve.Index, partials []*resolve.Partial) ([]*resolve.Result, error) {
	out := make([]*resolve.Result, len(partials))
	g, gctx := errgroup.WithContext(cy.ctx)
	g.SetLimit(cy.c.workers)
	for i, p := range partials {
		g.Go(func() error {
			r, err := ix.Across(gctx, p)
			out[i] = r
			return err
		})
	}
	return out, g.Wait()
}

// apply stores resolution results. A module that binds into a module that
// failed to parse is Blocked. A module that failed to parse keeps its
// status and error.
func (cy *cycle) apply(targets []registry.Entry, results []*resolve.Result) {
	for i, e := range targets {
		res := results[i]
		if cy.failed[e.Unit.Fold()] {
			_, _ = cy.draft.Update(e.Unit, func(e *registry.Entry) { e.Result = res })
			continue
		}
		status := registry.Ready
		if !res.Resolved() {
			status = registry.Unresolved
		}
		for _, dep := range res.DependsOn {
			if cy.failed[dep.Fold()] {
				status = registry.Blocked
				break
			}
		}
		_, _ = cy.draft.Update(e.Unit, func(e *registry.Entry) {
			e.Status, e.Result, e.Err = status, res, nil
		})
	}
}

func (cy *cycle) publish() error {
	snap, err := cy.draft.Freeze()
	if err != nil {
		return err
	}
	if err := cy.c.reg.Publish(snap); err != nil {
		return invariantError("%v", err)
	}
	return nil
}
