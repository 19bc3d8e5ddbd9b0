// Package coordinator drives parse and resolution cycles over the
// declaration registry. One goroutine owns every state transition and
// every publication; readers query the last published snapshot and never
// block on a running cycle.
package coordinator

import (
	"context"
	"encoding/hex"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jward/mallard/internal/extract"
	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/registry"
	"github.com/jward/mallard/internal/symbols"
	"github.com/jward/mallard/internal/typelib"
	"github.com/jward/mallard/internal/vba"
)

const tracerName = "github.com/jward/mallard/internal/coordinator"

// Ingester builds one module's declaration set from source.
type Ingester interface {
	Ingest(ctx context.Context, project *symbols.Declaration, req extract.Request) (*symbols.Set, error)
}

// Project is a source project and the projects or libraries it
// references, in priority order.
type Project struct {
	Name       string
	References []string
}

// ModuleRequest asks for one module to be ingested again, or removed.
type ModuleRequest struct {
	Module naming.QualifiedModuleName
	Kind   vba.ModuleKind
	Source []byte
	Remove bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithProvider sets where referenced libraries are loaded from. Without
// one every library reference is unavailable.
func WithProvider(p typelib.Provider) Option {
	return func(c *Coordinator) { c.provider = p }
}

// WithIngester replaces the source ingester.
func WithIngester(i Ingester) Option {
	return func(c *Coordinator) { c.ingester = i }
}

// WithPolicy sets the syntax error policy. Defaults to Isolate.
func WithPolicy(p Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithWorkers bounds parallel ingestion and resolution. Defaults to
// runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(c *Coordinator) { c.workers = n }
}

// WithTracer sets the tracer for cycle and phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// Coordinator serialises cycles and publishes their results.
type Coordinator struct {
	logger   *slog.Logger
	provider typelib.Provider
	ingester Ingester
	policy   Policy
	workers  int
	tracer   trace.Tracer

	reg   *registry.Registry
	state atomic.Uint32
	hub   hub

	reqs      chan *request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// beforePhase, when set, runs on the cycle goroutine right after each
	// in-cycle state is entered.
	beforePhase func(State)
}

type request struct {
	ctx      context.Context
	projects []Project
	modules  []ModuleRequest
	reply    chan error
}

// New starts a coordinator in the Pending state with an empty registry.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:   slog.Default(),
		ingester: extract.NewIngester(nil),
		workers:  runtime.NumCPU(),
		tracer:   otel.Tracer(tracerName),
		reg:      registry.New(),
		reqs:     make(chan *request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.provider == nil {
		c.provider = typelib.StaticProvider{}
	}
	if c.workers < 1 {
		c.workers = 1
	}
	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case r := <-c.reqs:
			r.reply <- c.run(r)
		}
	}
}

// Close stops the coordinator after any running cycle finishes.
// Subscribers receive the transitions already queued and then see their
// channel closed.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.done
		c.hub.closeAll()
	})
}

func (c *Coordinator) submit(ctx context.Context, projects []Project, modules []ModuleRequest) error {
	if ctx == nil {
		return ErrNilContext
	}
	r := &request{ctx: ctx, projects: projects, modules: modules, reply: make(chan error, 1)}
	select {
	case c.reqs <- r:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-r.reply
}

// RequestReparse ingests the given modules again, or removes them, and
// resolves the whole registry. Other modules keep their declarations. It
// returns once the cycle has settled: nil for Ready or ParserError, the
// context error after a rollback, or an error matching ErrInvariant for
// ResolverError.
func (c *Coordinator) RequestReparse(ctx context.Context, modules ...ModuleRequest) error {
	return c.submit(ctx, nil, modules)
}

// UpdateProjects registers projects or changes their references, loads
// newly referenced libraries and ingests the affected modules again.
func (c *Coordinator) UpdateProjects(ctx context.Context, projects ...Project) error {
	return c.submit(ctx, projects, nil)
}

// CurrentState returns the current state. It never blocks.
func (c *Coordinator) CurrentState() State {
	return State(c.state.Load())
}

// Subscribe returns a channel receiving every transition in order, and a
// function that ends the subscription.
func (c *Coordinator) Subscribe() (<-chan Transition, func()) {
	s := c.hub.subscribe()
	select {
	case <-c.quit:
		c.hub.unsubscribe(s)
	default:
	}
	return s.out, func() { c.hub.unsubscribe(s) }
}

// Snapshot returns the last published snapshot.
func (c *Coordinator) Snapshot() *registry.Snapshot {
	return c.reg.Current()
}

// Declarations queries the last published snapshot. It is safe to call
// from any goroutine in any state.
func (c *Coordinator) Declarations(pred func(*symbols.Declaration) bool) []*symbols.Declaration {
	return c.reg.Current().Declarations(pred)
}

// Policy returns the syntax error policy in effect.
func (c *Coordinator) Policy() Policy {
	return c.policy
}

// Digest identifies module source text; it is stored on registry entries.
func Digest(src []byte) string {
	h := xxh3.New()
	_, _ = h.Write(src)
	return hex.EncodeToString(h.Sum(nil))
}
