package symbols

import (
	"slices"

	"github.com/jward/mallard/internal/naming"
)

// SyntaxNode is the syntax-tree node a source declaration was built from.
type SyntaxNode interface {
	Span() naming.Selection
}

// Fields are the attributes shared by every declaration variant.
type Fields struct {
	Name          naming.QualifiedMemberName
	Parent        Handle
	ParentScope   Handle
	AsTypeName    string
	TypeHint      string
	Accessibility Accessibility
	Kind          DeclarationType
	Context       SyntaxNode
	Selection     naming.Selection
	IsArray       bool
	IsBuiltIn     bool
	Annotations   []Annotation
	Attributes    Attributes
}

// Payload is variant-specific data selected by the declaration kind.
type Payload interface {
	payload()
}

// ParameterInfo is the payload of a Parameter declaration. Ordinal is the
// 0-based position in the owner's parameter list.
type ParameterInfo struct {
	Ordinal    int
	Optional   bool
	ByRef      bool
	ParamArray bool
	Default    string
}

// ConstantInfo is the payload of a Constant or EnumerationMember.
type ConstantInfo struct {
	Value string
}

// LibraryInfo is the payload of a Declare statement.
type LibraryInfo struct {
	Lib   string
	Alias string
}

// ModuleInfo is the payload of a module declaration.
type ModuleInfo struct {
	Implements []string
	Options    []string
}

// ProjectInfo is the payload of a Project declaration. References lists
// referenced projects and libraries in priority order.
type ProjectInfo struct {
	References []string
}

func (ParameterInfo) payload() {}
func (ConstantInfo) payload() {}
func (LibraryInfo) payload() {}
func (ModuleInfo) payload() {}
func (ProjectInfo) payload() {}

// Declaration is one symbol-table entry. Shared fields live on the struct;
// variant data is reachable through the payload accessors, which return ok
// only for the kinds that carry it.
type Declaration struct {
	handle Handle
	f      Fields

	params    []Handle
	parameter *ParameterInfo
	constant  *ConstantInfo
	library   *LibraryInfo
	module    *ModuleInfo
	project   *ProjectInfo
}

func (d *Declaration) Handle() Handle { return d.handle }
func (d *Declaration) QualifiedName() naming.QualifiedMemberName { return d.f.Name }
func (d *Declaration) Name() string { return d.f.Name.Member }
func (d *Declaration) Module() naming.QualifiedModuleName { return d.f.Name.Module }
func (d *Declaration) Parent() Handle { return d.f.Parent }
func (d *Declaration) ParentScope() Handle { return d.f.ParentScope }
func (d *Declaration) AsTypeName() string { return d.f.AsTypeName }
func (d *Declaration) TypeHint() string { return d.f.TypeHint }
func (d *Declaration) Accessibility() Accessibility { return d.f.Accessibility }
func (d *Declaration) Kind() DeclarationType { return d.f.Kind }
func (d *Declaration) Context() SyntaxNode { return d.f.Context }
func (d *Declaration) Selection() naming.Selection { return d.f.Selection }
func (d *Declaration) IsArray() bool { return d.f.IsArray }
func (d *Declaration) IsBuiltIn() bool { return d.f.IsBuiltIn }

// Provenance is derived from IsBuiltIn: built-in declarations come from
// reflected type libraries and are never invalidated by source edits.
func (d *Declaration) Provenance() Provenance {
	if d.f.IsBuiltIn {
		return FromReflection
	}
	return FromSource
}

// Annotations returns the attached annotations in source order.
func (d *Declaration) Annotations() []Annotation {
	return cloneAnnotations(d.f.Annotations)
}

// HasAnnotation reports whether an annotation named name is attached.
func (d *Declaration) HasAnnotation(name string) bool {
	for _, a := range d.f.Annotations {
		if naming.EqualFold(a.Name, name) {
			return true
		}
	}
	return false
}

func (d *Declaration) Attributes() Attributes {
	return d.f.Attributes.clone()
}

// Parameters returns the ordered parameter handles of a parameterized
// declaration; nil for other kinds.
func (d *Declaration) Parameters() []Handle {
	return slices.Clone(d.params)
}

func (d *Declaration) Parameter() (ParameterInfo, bool) {
	if d.parameter == nil {
		return ParameterInfo{}, false
	}
	return *d.parameter, true
}

func (d *Declaration) Constant() (ConstantInfo, bool) {
	if d.constant == nil {
		return ConstantInfo{}, false
	}
	return *d.constant, true
}

func (d *Declaration) Library() (LibraryInfo, bool) {
	if d.library == nil {
		return LibraryInfo{}, false
	}
	return *d.library, true
}

func (d *Declaration) ModuleInfo() (ModuleInfo, bool) {
	if d.module == nil {
		return ModuleInfo{}, false
	}
	return ModuleInfo{
		Implements: slices.Clone(d.module.Implements),
		Options:    slices.Clone(d.module.Options),
	}, true
}

func (d *Declaration) ProjectInfo() (ProjectInfo, bool) {
	if d.project == nil {
		return ProjectInfo{}, false
	}
	return ProjectInfo{References: slices.Clone(d.project.References)}, true
}

func (d *Declaration) String() string {
	return d.f.Kind.String() + " " + d.f.Name.String()
}
