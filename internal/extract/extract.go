// Package extract turns parsed VBA modules into declaration sets.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/symbols"
	"github.com/jward/mallard/internal/vba"
)

// ErrNoModuleName is returned when neither the request nor the source's
// VB_Name attribute names the module.
var ErrNoModuleName = errors.New("extract: module has no name")

// SourceParser parses one module's source text.
type SourceParser interface {
	Parse(ctx context.Context, name string, kind vba.ModuleKind, src []byte) (*vba.Module, error)
}

// Request is one module to ingest. An empty Module.Module takes the name
// from the source's VB_Name attribute.
type Request struct {
	Module naming.QualifiedModuleName
	Kind   vba.ModuleKind
	Source []byte
}

// Ingester builds source declaration sets.
type Ingester struct {
	parser SourceParser
}

// NewIngester creates an Ingester. A nil parser selects vba.Parser.
func NewIngester(p SourceParser) *Ingester {
	if p == nil {
		p = vba.Parser{}
	}
	return &Ingester{parser: p}
}

// Ingest parses req and builds its declaration set under project, which
// must be the Project declaration the module belongs to. Syntax errors are
// returned as *vba.SyntaxError; a cancelled ctx returns ctx.Err().
func (in *Ingester) Ingest(ctx context.Context, project *symbols.Declaration, req Request) (*symbols.Set, error) {
	if project == nil || project.Kind() != symbols.Project {
		return nil, fmt.Errorf("extract %s: %w: parent is not a project", req.Module, symbols.ErrInvalidParent)
	}
	mod, err := in.parser.Parse(ctx, req.Module.Module, req.Kind, req.Source)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := req.Module.Module
	if name == "" {
		name = mod.VBName()
	}
	if name == "" {
		return nil, ErrNoModuleName
	}
	unit := naming.QualifiedModuleName{Project: project.Module().Project, Module: name}

	w := &walker{
		unit:  unit,
		b:     symbols.NewBuilder(unit, symbols.FromSource),
		attrs: memberAttributes(mod.Attributes),
	}
	if err := w.module(project.Handle(), mod, req.Kind); err != nil {
		return nil, fmt.Errorf("extract %s: %w", unit, err)
	}
	set, err := w.b.Freeze()
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", unit, err)
	}
	return set, nil
}

type walker struct {
	unit  naming.QualifiedModuleName
	b     *symbols.Builder
	mod   symbols.Handle
	attrs map[string][]vba.Attribute
}

// memberAttributes groups module-level "Attribute Member.VB_X" statements
// by folded member name.
func memberAttributes(attrs []vba.Attribute) map[string][]vba.Attribute {
	out := make(map[string][]vba.Attribute)
	for _, a := range attrs {
		if a.Target != "" {
			k := naming.Fold(a.Target)
			out[k] = append(out[k], a)
		}
	}
	return out
}

func (w *walker) name(member string) naming.QualifiedMemberName {
	return w.unit.QualifyMember(member)
}

func (w *walker) module(project symbols.Handle, mod *vba.Module, kind vba.ModuleKind) error {
	var attrs symbols.Attributes
	for _, a := range mod.Attributes {
		if a.Target == "" {
			attrs.Add(a.Name, a.Values...)
		}
	}
	h, err := w.b.Add(symbols.Fields{
		Name:          w.name(w.unit.Module),
		Parent:        project,
		Kind:          moduleKind(kind),
		Accessibility: moduleAccessibility(kind, mod, attrs),
		Context:       mod,
		Selection:     mod.Sel,
		Annotations:   annotations(mod.Annotations),
		Attributes:    attrs,
	}, symbols.ModuleInfo{Implements: mod.Implements, Options: mod.Options})
	if err != nil {
		return err
	}
	w.mod = h

	for _, m := range mod.Members {
		if err := w.member(m); err != nil {
			return err
		}
	}
	return nil
}

func moduleKind(k vba.ModuleKind) symbols.DeclarationType {
	switch k {
	case vba.Class:
		return symbols.ClassModule
	case vba.Document:
		return symbols.Document
	case vba.UserForm:
		return symbols.UserForm
	}
	return symbols.ProceduralModule
}

// moduleAccessibility: standard modules are public unless Option Private
// Module; other module kinds are private to their project unless exposed.
func moduleAccessibility(k vba.ModuleKind, mod *vba.Module, attrs symbols.Attributes) symbols.Accessibility {
	if k == vba.Procedural || k == 0 {
		for _, o := range mod.Options {
			if naming.EqualFold(o, "Private Module") {
				return symbols.Private
			}
		}
		return symbols.Public
	}
	if v, ok := attrs.Get("VB_Exposed"); ok && len(v) > 0 && naming.EqualFold(v[0], "True") {
		return symbols.Public
	}
	return symbols.Private
}

func accessibility(keyword string) symbols.Accessibility {
	switch naming.Fold(keyword) {
	case "private", "dim":
		return symbols.Private
	case "public":
		return symbols.Public
	case "global":
		return symbols.Global
	case "friend":
		return symbols.Friend
	}
	return symbols.Implicit
}

func annotations(in []vba.Annotation) []symbols.Annotation {
	if len(in) == 0 {
		return nil
	}
	out := make([]symbols.Annotation, len(in))
	for i, a := range in {
		out[i] = symbols.Annotation{Name: a.Name, Args: a.Args, Selection: a.Sel}
	}
	return out
}

// typeName is the declared type; an untyped value without a hint is a
// Variant.
func typeName(t vba.TypeRef) string {
	if t.Name == "" && t.Hint == "" {
		return symbols.VariantType
	}
	return t.Name
}

func (w *walker) memberAttrs(name string, own []vba.Attribute) symbols.Attributes {
	var out symbols.Attributes
	for _, a := range w.attrs[naming.Fold(name)] {
		out.Add(a.Name, a.Values...)
	}
	for _, a := range own {
		if a.Target == "" || naming.EqualFold(a.Target, name) {
			out.Add(a.Name, a.Values...)
		}
	}
	return out
}

func (w *walker) member(m vba.Member) error {
	switch v := m.(type) {
	case *vba.VarDecl:
		_, err := w.b.Add(symbols.Fields{
			Name:          w.name(v.Name),
			Parent:        w.mod,
			AsTypeName:    typeName(v.Type),
			TypeHint:      v.Type.Hint,
			Accessibility: accessibility(v.Access),
			Kind:          symbols.Variable,
			Context:       v,
			Selection:     v.NameSel,
			IsArray:       v.Type.IsArray,
			Annotations:   annotations(v.Annotations),
			Attributes:    w.memberAttrs(v.Name, nil),
		})
		return err

	case *vba.ConstDecl:
		_, err := w.b.Add(symbols.Fields{
			Name:          w.name(v.Name),
			Parent:        w.mod,
			AsTypeName:    typeName(v.Type),
			TypeHint:      v.Type.Hint,
			Accessibility: accessibility(v.Access),
			Kind:          symbols.Constant,
			Context:       v,
			Selection:     v.NameSel,
			Annotations:   annotations(v.Annotations),
			Attributes:    w.memberAttrs(v.Name, nil),
		}, symbols.ConstantInfo{Value: v.Value})
		if err != nil {
			return err
		}
		return w.uses(w.mod, v.Uses)

	case *vba.TypeDecl:
		return w.udt(v)

	case *vba.EnumDecl:
		return w.enum(v)

	case *vba.EventDecl:
		h, err := w.b.Add(symbols.Fields{
			Name:          w.name(v.Name),
			Parent:        w.mod,
			Accessibility: accessibility(v.Access),
			Kind:          symbols.Event,
			Context:       v,
			Selection:     v.NameSel,
			Annotations:   annotations(v.Annotations),
			Attributes:    w.memberAttrs(v.Name, nil),
		})
		if err != nil {
			return err
		}
		// Event parameters are visible at module scope.
		return w.params(h, w.mod, v.Params)

	case *vba.DeclareDecl:
		kind := symbols.LibraryProcedure
		ret := ""
		if v.Function {
			kind = symbols.LibraryFunction
			ret = typeName(v.Return)
		}
		h, err := w.b.Add(symbols.Fields{
			Name:          w.name(v.Name),
			Parent:        w.mod,
			AsTypeName:    ret,
			TypeHint:      v.Return.Hint,
			Accessibility: accessibility(v.Access),
			Kind:          kind,
			Context:       v,
			Selection:     v.NameSel,
			IsArray:       v.Return.IsArray,
			Annotations:   annotations(v.Annotations),
			Attributes:    w.memberAttrs(v.Name, nil),
		}, symbols.LibraryInfo{Lib: v.Lib, Alias: v.Alias})
		if err != nil {
			return err
		}
		return w.params(h, h, v.Params)

	case *vba.ProcDecl:
		return w.proc(v)
	}
	return fmt.Errorf("unsupported member %T", m)
}

var procKinds = map[vba.ProcKind]symbols.DeclarationType{
	vba.Sub:         symbols.Procedure,
	vba.Function:    symbols.Function,
	vba.PropertyGet: symbols.PropertyGet,
	vba.PropertyLet: symbols.PropertyLet,
	vba.PropertySet: symbols.PropertySet,
}

func (w *walker) proc(v *vba.ProcDecl) error {
	kind := procKinds[v.Kind]
	ret := ""
	if kind == symbols.Function || kind == symbols.PropertyGet {
		ret = typeName(v.Return)
	}
	h, err := w.b.Add(symbols.Fields{
		Name:          w.name(v.Name),
		Parent:        w.mod,
		AsTypeName:    ret,
		TypeHint:      v.Return.Hint,
		Accessibility: accessibility(v.Access),
		Kind:          kind,
		Context:       v,
		Selection:     v.NameSel,
		IsArray:       v.Return.IsArray,
		Annotations:   annotations(v.Annotations),
		Attributes:    w.memberAttrs(v.Name, v.Attributes),
	})
	if err != nil {
		return err
	}
	if err := w.params(h, h, v.Params); err != nil {
		return err
	}

	for _, l := range v.Locals {
		lk, payload := symbols.Variable, []symbols.Payload(nil)
		if l.Const {
			lk = symbols.Constant
			payload = append(payload, symbols.ConstantInfo{Value: l.Value})
		}
		if _, err := w.b.Add(symbols.Fields{
			Name:          w.name(l.Name),
			Parent:        h,
			AsTypeName:    typeName(l.Type),
			TypeHint:      l.Type.Hint,
			Accessibility: symbols.Implicit,
			Kind:          lk,
			Context:       l,
			Selection:     l.Sel,
			IsArray:       l.Type.IsArray,
			Annotations:   annotations(l.Annotations),
		}, payload...); err != nil {
			return err
		}
	}
	return w.uses(h, v.Uses)
}

// params appends parameters to owner in source order; scope is where the
// parameter names are visible.
func (w *walker) params(owner, scope symbols.Handle, params []*vba.Param) error {
	for _, p := range params {
		_, err := w.b.AddParameter(owner, symbols.Fields{
			Name:          w.name(p.Name),
			ParentScope:   scope,
			AsTypeName:    typeName(p.Type),
			TypeHint:      p.Type.Hint,
			Accessibility: symbols.Implicit,
			Context:       p,
			Selection:     p.Sel,
			IsArray:       p.Type.IsArray,
		}, symbols.ParameterInfo{
			Optional:   p.Optional,
			ByRef:      !p.ByVal,
			ParamArray: p.ParamArray,
			Default:    p.Default,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) udt(v *vba.TypeDecl) error {
	h, err := w.b.Add(symbols.Fields{
		Name:          w.name(v.Name),
		Parent:        w.mod,
		Accessibility: accessibility(v.Access),
		Kind:          symbols.UserDefinedType,
		Context:       v,
		Selection:     v.NameSel,
		Annotations:   annotations(v.Annotations),
	})
	if err != nil {
		return err
	}
	for _, f := range v.Fields {
		if _, err := w.b.Add(symbols.Fields{
			Name:          w.name(f.Name),
			Parent:        h,
			AsTypeName:    typeName(f.Type),
			TypeHint:      f.Type.Hint,
			Accessibility: symbols.Implicit,
			Kind:          symbols.UserDefinedTypeMember,
			Context:       f,
			Selection:     f.NameSel,
			IsArray:       f.Type.IsArray,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) enum(v *vba.EnumDecl) error {
	access := accessibility(v.Access)
	h, err := w.b.Add(symbols.Fields{
		Name:          w.name(v.Name),
		Parent:        w.mod,
		AsTypeName:    "Long",
		Accessibility: access,
		Kind:          symbols.Enumeration,
		Context:       v,
		Selection:     v.NameSel,
		Annotations:   annotations(v.Annotations),
	})
	if err != nil {
		return err
	}
	for _, m := range v.Members {
		// Enum members are visible at module scope, unqualified.
		if _, err := w.b.Add(symbols.Fields{
			Name:          w.name(m.Name),
			Parent:        h,
			ParentScope:   w.mod,
			AsTypeName:    "Long",
			Accessibility: access,
			Kind:          symbols.EnumerationMember,
			Context:       m,
			Selection:     m.Sel,
		}, symbols.ConstantInfo{Value: m.Value}); err != nil {
			return err
		}
		if err := w.uses(w.mod, m.Uses); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) uses(scope symbols.Handle, uses []vba.Use) error {
	for _, u := range uses {
		kind := symbols.UseValue
		if u.Event {
			kind = symbols.UseEvent
		}
		if err := w.b.AddUse(symbols.Use{
			Name:      u.Name,
			Qualifier: u.Qualifier,
			Kind:      kind,
			Selection: u.Sel,
			Scope:     scope,
		}); err != nil {
			return err
		}
	}
	return nil
}
