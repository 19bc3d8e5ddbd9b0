package typelib

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/symbols"
)

// ErrUnavailable matches every *UnavailableError.
var ErrUnavailable = errors.New("typelib: library unavailable")

// UnavailableError reports a referenced library that could not be opened
// or read.
type UnavailableError struct {
	Library string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("typelib: library %q unavailable: %v", e.Library, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Ingest opens the library called name and builds its declaration set. The
// handle is closed on every path. Cancellation returns ctx.Err(); any other
// failure is an *UnavailableError.
func Ingest(ctx context.Context, p Provider, name string) (*symbols.Set, error) {
	h, err := p.Open(ctx, name)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &UnavailableError{Library: name, Err: err}
	}
	defer h.Close()

	lib, err := h.Library(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &UnavailableError{Library: name, Err: err}
	}
	set, err := Build(ctx, lib)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &UnavailableError{Library: name, Err: err}
	}
	return set, nil
}

// Build converts a descriptor to a reflection set. Every declaration is
// built-in with a Home selection and no syntax node.
func Build(ctx context.Context, lib *Library) (*symbols.Set, error) {
	if lib == nil || lib.Name == "" {
		return nil, errors.New("typelib: descriptor has no name")
	}
	unit := naming.ProjectUnit(lib.Name)
	r := &reflector{lib: lib.Name, b: symbols.NewBuilder(unit, symbols.FromReflection)}

	project, err := r.b.Add(symbols.Fields{
		Name:          unit.QualifyMember(lib.Name),
		Kind:          symbols.Project,
		Accessibility: symbols.Global,
		IsBuiltIn:     true,
	}, symbols.ProjectInfo{})
	if err != nil {
		return nil, err
	}

	for _, t := range lib.Types {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.typ(project, t); err != nil {
			return nil, fmt.Errorf("typelib %s.%s: %w", lib.Name, t.Name, err)
		}
	}
	return r.b.Freeze()
}

type reflector struct {
	lib string
	b   *symbols.Builder
}

func (r *reflector) qualify(module, member string) naming.QualifiedMemberName {
	return naming.QualifiedModuleName{Project: r.lib, Module: module}.QualifyMember(member)
}

func orVariant(t string) string {
	if t == "" {
		return symbols.VariantType
	}
	return t
}

func (r *reflector) typ(project symbols.Handle, t Type) error {
	switch t.Kind {
	case KindEnum:
		h, err := r.b.Add(symbols.Fields{
			Name:          r.qualify(t.Name, t.Name),
			Parent:        project,
			AsTypeName:    "Long",
			Accessibility: symbols.Global,
			Kind:          symbols.Enumeration,
			IsBuiltIn:     true,
		})
		if err != nil {
			return err
		}
		for _, f := range t.Fields {
			if _, err := r.b.Add(symbols.Fields{
				Name:          r.qualify(t.Name, f.Name),
				Parent:        h,
				ParentScope:   project,
				AsTypeName:    "Long",
				Accessibility: symbols.Global,
				Kind:          symbols.EnumerationMember,
				IsBuiltIn:     true,
			}, symbols.ConstantInfo{Value: f.Value}); err != nil {
				return err
			}
		}
		return nil

	case KindRecord:
		h, err := r.b.Add(symbols.Fields{
			Name:          r.qualify(t.Name, t.Name),
			Parent:        project,
			Accessibility: symbols.Global,
			Kind:          symbols.UserDefinedType,
			IsBuiltIn:     true,
		})
		if err != nil {
			return err
		}
		for _, f := range t.Fields {
			if _, err := r.b.Add(symbols.Fields{
				Name:          r.qualify(t.Name, f.Name),
				Parent:        h,
				AsTypeName:    orVariant(f.Type),
				Accessibility: symbols.Implicit,
				Kind:          symbols.UserDefinedTypeMember,
				IsArray:       f.Array,
				IsBuiltIn:     true,
			}); err != nil {
				return err
			}
		}
		return nil

	case KindModule, KindClass, KindInterface:
		kind := symbols.ClassModule
		if t.Kind == KindModule {
			kind = symbols.ProceduralModule
		}
		mod, err := r.b.Add(symbols.Fields{
			Name:          r.qualify(t.Name, t.Name),
			Parent:        project,
			Accessibility: symbols.Global,
			Kind:          kind,
			IsBuiltIn:     true,
		}, symbols.ModuleInfo{})
		if err != nil {
			return err
		}
		for _, m := range t.Members {
			if err := r.member(t.Name, mod, m); err != nil {
				return fmt.Errorf("%s: %w", m.Name, err)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown type kind %q", t.Kind)
}

var memberKinds = map[MemberKind]symbols.DeclarationType{
	MemberSub:         symbols.Procedure,
	MemberFunction:    symbols.Function,
	MemberPropertyGet: symbols.PropertyGet,
	MemberPropertyLet: symbols.PropertyLet,
	MemberPropertySet: symbols.PropertySet,
	MemberEvent:       symbols.Event,
	MemberConst:       symbols.Constant,
}

func (r *reflector) member(module string, mod symbols.Handle, m Member) error {
	kind, ok := memberKinds[m.Kind]
	if !ok {
		return fmt.Errorf("unknown member kind %q", m.Kind)
	}

	f := symbols.Fields{
		Name:          r.qualify(module, m.Name),
		Parent:        mod,
		Accessibility: symbols.Global,
		Kind:          kind,
		IsBuiltIn:     true,
	}
	var payloads []symbols.Payload
	switch kind {
	case symbols.Function, symbols.PropertyGet:
		f.AsTypeName = orVariant(m.ReturnType)
		f.IsArray = m.ReturnArray
	case symbols.Constant:
		f.AsTypeName = orVariant(m.ReturnType)
		payloads = append(payloads, symbols.ConstantInfo{Value: m.Value})
	}
	h, err := r.b.Add(f, payloads...)
	if err != nil {
		return err
	}
	if !kind.IsParameterized() {
		return nil
	}

	// Event parameters are visible at module scope, like their source
	// counterparts.
	scope := h
	if kind == symbols.Event {
		scope = mod
	}
	params := slices.Clone(m.Parameters)
	slices.SortStableFunc(params, func(a, b Parameter) int {
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})
	for _, p := range params {
		if _, err := r.b.AddParameter(h, symbols.Fields{
			Name:          r.qualify(module, p.Name),
			ParentScope:   scope,
			AsTypeName:    orVariant(p.Type),
			Accessibility: symbols.Implicit,
			IsArray:       p.Array,
			IsBuiltIn:     true,
		}, symbols.ParameterInfo{
			Optional:   p.Optional,
			ByRef:      p.ByRef,
			ParamArray: p.ParamArray,
			Default:    p.Default,
		}); err != nil {
			return err
		}
	}
	return nil
}
