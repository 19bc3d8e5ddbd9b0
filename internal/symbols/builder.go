package symbols

import (
	"errors"
	"fmt"
	"slices"

	"fortio.org/safecast"

	"github.com/jward/mallard/internal/naming"
)

var (
	ErrFrozen           = errors.New("symbols: declaration set is frozen")
	ErrSelfReference    = errors.New("symbols: declaration references itself")
	ErrInvalidParent    = errors.New("symbols: invalid parent handle")
	ErrMissingParent    = errors.New("symbols: declaration requires a parent")
	ErrNotParameterized = errors.New("symbols: declaration does not take parameters")
	ErrPayloadMismatch  = errors.New("symbols: payload does not match declaration kind")
	ErrTypeHintConflict = errors.New("symbols: type hint contradicts declared type")
	ErrInvariant        = errors.New("symbols: invariant violation")
)

// UseKind distinguishes what an identifier use may bind to.
type UseKind uint8

const (
	// UseValue binds to any declaration visible by name.
	UseValue UseKind = iota
	// UseEvent binds only to Event declarations (RaiseEvent targets).
	UseEvent
	// UseType binds only to declarations that can name a type.
	UseType
)

func (k UseKind) String() string {
	switch k {
	case UseEvent:
		return "event"
	case UseType:
		return "type"
	}
	return "value"
}

// Use is an identifier reference found in source, recorded by ingestion
// and bound by resolution. Scope is the innermost enclosing declaration.
type Use struct {
	Name      string
	Qualifier string
	Kind      UseKind
	Selection naming.Selection
	Scope     Handle
}

// Builder assembles one declaration set. Declarations may be appended
// until Freeze; the frozen Set is what gets published.
type Builder struct {
	id     SetID
	unit   naming.QualifiedModuleName
	prov   Provenance
	decls  []*Declaration
	uses   []Use
	frozen bool
}

// NewBuilder starts a set for unit with a freshly allocated SetID.
func NewBuilder(unit naming.QualifiedModuleName, prov Provenance) *Builder {
	return &Builder{id: NewSetID(), unit: unit, prov: prov}
}

// ID returns the id the set will carry.
func (b *Builder) ID() SetID {
	return b.id
}

// Len returns the number of declarations added so far.
func (b *Builder) Len() int {
	return len(b.decls)
}

// Get returns a declaration added to this builder.
func (b *Builder) Get(h Handle) (*Declaration, bool) {
	if h.Set() != b.id {
		return nil, false
	}
	i := h.Index()
	if i < 0 || i >= len(b.decls) {
		return nil, false
	}
	return b.decls[i], true
}

// Add appends a declaration and returns its handle. Parameters must go
// through AddParameter.
func (b *Builder) Add(f Fields, payloads ...Payload) (Handle, error) {
	if f.Kind == Parameter {
		return NoHandle, fmt.Errorf("%w: parameters are added with AddParameter", ErrPayloadMismatch)
	}
	return b.add(f, payloads...)
}

// AddParameter appends a parameter to a parameterized declaration of this
// set. The ordinal is assigned from the append position.
func (b *Builder) AddParameter(owner Handle, f Fields, info ParameterInfo) (Handle, error) {
	if b.frozen {
		return NoHandle, ErrFrozen
	}
	od, ok := b.Get(owner)
	if !ok {
		return NoHandle, fmt.Errorf("%w: parameter owner %s not in set %d", ErrInvalidParent, owner, b.id)
	}
	if !od.f.Kind.IsParameterized() {
		return NoHandle, fmt.Errorf("%w: %s", ErrNotParameterized, od)
	}
	if f.Parent == NoHandle {
		f.Parent = owner
	}
	if f.Parent != owner {
		return NoHandle, fmt.Errorf("%w: parameter parent %s is not its owner %s", ErrInvalidParent, f.Parent, owner)
	}
	f.Kind = Parameter
	info.Ordinal = len(od.params)
	h, err := b.add(f, info)
	if err != nil {
		return NoHandle, err
	}
	od.params = append(od.params, h)
	return h, nil
}

// AddUse records an identifier use for resolution.
func (b *Builder) AddUse(u Use) error {
	if b.frozen {
		return ErrFrozen
	}
	b.uses = append(b.uses, u)
	return nil
}

func (b *Builder) add(f Fields, payloads ...Payload) (Handle, error) {
	if b.frozen {
		return NoHandle, ErrFrozen
	}
	next, err := safecast.Conv[uint32](len(b.decls) + 1)
	if err != nil {
		return NoHandle, fmt.Errorf("symbols: set %d is full: %w", b.id, err)
	}
	h := MakeHandle(b.id, next-1)

	if err := b.checkLinks(h, &f); err != nil {
		return NoHandle, fmt.Errorf("%s %s: %w", f.Kind, f.Name, err)
	}
	if err := reconcileTypeHint(&f); err != nil {
		return NoHandle, fmt.Errorf("%s %s: %w", f.Kind, f.Name, err)
	}

	d := &Declaration{handle: h, f: f}
	d.f.Annotations = cloneAnnotations(f.Annotations)
	d.f.Attributes = f.Attributes.clone()
	for _, p := range payloads {
		if err := d.attach(p); err != nil {
			return NoHandle, fmt.Errorf("%s %s: %w", f.Kind, f.Name, err)
		}
	}
	if f.Kind == Parameter && d.parameter == nil {
		return NoHandle, fmt.Errorf("%s %s: %w: missing ParameterInfo", f.Kind, f.Name, ErrPayloadMismatch)
	}
	b.decls = append(b.decls, d)
	return h, nil
}

func (b *Builder) checkLinks(h Handle, f *Fields) error {
	if f.Kind == 0 {
		return fmt.Errorf("%w: missing declaration kind", ErrPayloadMismatch)
	}
	if f.Kind == Project {
		if f.Parent != NoHandle || f.ParentScope != NoHandle {
			return fmt.Errorf("%w: projects have no parent", ErrInvalidParent)
		}
		return nil
	}
	if f.Parent == NoHandle {
		return ErrMissingParent
	}
	if f.ParentScope == NoHandle {
		f.ParentScope = f.Parent
	}
	for _, link := range []Handle{f.Parent, f.ParentScope} {
		if link == h {
			return ErrSelfReference
		}
		if link.Set() == b.id {
			if i := link.Index(); i < 0 || i >= len(b.decls) {
				return fmt.Errorf("%w: %s", ErrInvalidParent, link)
			}
		}
	}
	return nil
}

// reconcileTypeHint makes AsTypeName and TypeHint agree: a hint alone
// supplies the type name; a hint that names a different type is an error.
func reconcileTypeHint(f *Fields) error {
	if f.TypeHint == "" {
		return nil
	}
	t, ok := TypeForHint(f.TypeHint)
	if !ok {
		return fmt.Errorf("%w: unknown hint %q", ErrTypeHintConflict, f.TypeHint)
	}
	if f.AsTypeName == "" {
		f.AsTypeName = t
		return nil
	}
	if !naming.EqualFold(f.AsTypeName, t) {
		return fmt.Errorf("%w: %q is %s, declared As %s", ErrTypeHintConflict, f.TypeHint, t, f.AsTypeName)
	}
	return nil
}

func (d *Declaration) attach(p Payload) error {
	k := d.f.Kind
	switch v := p.(type) {
	case ParameterInfo:
		if k != Parameter {
			return ErrPayloadMismatch
		}
		d.parameter = &v
	case ConstantInfo:
		if k != Constant && k != EnumerationMember {
			return ErrPayloadMismatch
		}
		d.constant = &v
	case LibraryInfo:
		if k != LibraryProcedure && k != LibraryFunction {
			return ErrPayloadMismatch
		}
		d.library = &v
	case ModuleInfo:
		if !k.IsModule() {
			return ErrPayloadMismatch
		}
		v.Implements = slices.Clone(v.Implements)
		v.Options = slices.Clone(v.Options)
		d.module = &v
	case ProjectInfo:
		if k != Project {
			return ErrPayloadMismatch
		}
		v.References = slices.Clone(v.References)
		d.project = &v
	default:
		return fmt.Errorf("%w: %T", ErrPayloadMismatch, p)
	}
	return nil
}

// Freeze ends construction and returns the immutable set. The builder
// rejects every later call.
func (b *Builder) Freeze() (*Set, error) {
	if b.frozen {
		return nil, ErrFrozen
	}
	b.frozen = true
	s := &Set{
		id:       b.id,
		unit:     b.unit,
		prov:     b.prov,
		decls:    b.decls,
		uses:     b.uses,
		children: make(map[Handle][]Handle),
	}
	for _, d := range s.decls {
		if d.f.Parent != NoHandle {
			s.children[d.f.Parent] = append(s.children[d.f.Parent], d.handle)
		}
	}
	s.hash = computeSetHash(s)
	return s, nil
}

// Lookup resolves a handle to its declaration across sets.
type Lookup func(Handle) (*Declaration, bool)

// Set is a frozen, immutable group of declarations that is published and
// replaced as a unit: one module, one project root, or one type library.
type Set struct {
	id       SetID
	unit     naming.QualifiedModuleName
	prov     Provenance
	decls    []*Declaration
	uses     []Use
	children map[Handle][]Handle
	hash     string
}

func (s *Set) ID() SetID { return s.id }
func (s *Set) Unit() naming.QualifiedModuleName { return s.unit }
func (s *Set) Provenance() Provenance { return s.prov }
func (s *Set) Len() int { return len(s.decls) }

// Hash is the location-insensitive signature of the whole set.
func (s *Set) Hash() string { return s.hash }

// Root returns the first declaration: the module or project the set is for.
func (s *Set) Root() *Declaration {
	if len(s.decls) == 0 {
		return nil
	}
	return s.decls[0]
}

// Get resolves a handle owned by this set.
func (s *Set) Get(h Handle) (*Declaration, bool) {
	if h.Set() != s.id {
		return nil, false
	}
	i := h.Index()
	if i < 0 || i >= len(s.decls) {
		return nil, false
	}
	return s.decls[i], true
}

// All returns the declarations in insertion order.
func (s *Set) All() []*Declaration {
	return slices.Clone(s.decls)
}

// Children returns the declarations whose parent is h, in insertion order.
func (s *Set) Children(h Handle) []*Declaration {
	var out []*Declaration
	for _, ch := range s.children[h] {
		if d, ok := s.Get(ch); ok {
			out = append(out, d)
		}
	}
	return out
}

// Uses returns the identifier uses recorded during ingestion.
func (s *Set) Uses() []Use {
	return slices.Clone(s.uses)
}
