package vba

import (
	"path/filepath"
	"strings"

	"github.com/jward/mallard/internal/naming"
)

// ModuleKind is the kind of VBA component a source file holds.
type ModuleKind uint8

const (
	Procedural ModuleKind = iota + 1
	Class
	Document
	UserForm
)

func (k ModuleKind) String() string {
	switch k {
	case Procedural:
		return "procedural"
	case Class:
		return "class"
	case Document:
		return "document"
	case UserForm:
		return "userform"
	}
	return "unknown"
}

var moduleExtensions = map[string]ModuleKind{
	".bas":    Procedural,
	".cls":    Class,
	".frm":    UserForm,
	".doccls": Document,
}

// ModuleKindForFile returns the module kind for a file path based on its
// extension.
func ModuleKindForFile(path string) (ModuleKind, bool) {
	k, ok := moduleExtensions[strings.ToLower(filepath.Ext(path))]
	return k, ok
}

// Extensions returns the recognised module file extensions.
func Extensions() []string {
	return []string{".bas", ".cls", ".frm", ".doccls"}
}

// Module is the syntax tree of one module.
type Module struct {
	Name        string
	Kind        ModuleKind
	Attributes  []Attribute
	Options     []string
	Implements  []string
	Annotations []Annotation
	Members     []Member
	Sel         naming.Selection
}

func (m *Module) Span() naming.Selection { return m.Sel }

// VBName returns the value of the module's VB_Name attribute.
func (m *Module) VBName() string {
	for i := len(m.Attributes) - 1; i >= 0; i-- {
		a := m.Attributes[i]
		if a.Target == "" && naming.EqualFold(a.Name, "VB_Name") && len(a.Values) > 0 {
			return a.Values[0]
		}
	}
	return ""
}

// Attribute is an "Attribute [Target.]Name = v1, v2" statement.
type Attribute struct {
	Target string
	Name   string
	Values []string
	Sel    naming.Selection
}

// Annotation is a '@Name(args) comment.
type Annotation struct {
	Name string
	Args []string
	Sel  naming.Selection
}

// TypeRef is an As clause or type hint.
type TypeRef struct {
	Name    string
	Hint    string
	IsArray bool
	New     bool
	Sel     naming.Selection
}

// Decl holds what every member node carries. Access is the leading
// keyword as written (Private, Public, Global, Friend, Dim), or "".
type Decl struct {
	Name        string
	Access      string
	Annotations []Annotation
	Sel         naming.Selection
	NameSel     naming.Selection
}

func (d *Decl) Span() naming.Selection { return d.Sel }

// Member is a module-level declaration.
type Member interface {
	Span() naming.Selection
	decl() *Decl
}

func (d *Decl) decl() *Decl { return d }

// MemberDecl exposes the common part of a member.
func MemberDecl(m Member) *Decl { return m.decl() }

type VarDecl struct {
	Decl
	Type       TypeRef
	WithEvents bool
	Static     bool
}

type ConstDecl struct {
	Decl
	Type  TypeRef
	Value string
	Uses  []Use
}

type TypeDecl struct {
	Decl
	Fields []*VarDecl
}

type EnumDecl struct {
	Decl
	Members []*EnumMember
}

type EnumMember struct {
	Name  string
	Value string
	Sel   naming.Selection
	Uses  []Use
}

func (e *EnumMember) Span() naming.Selection { return e.Sel }

type EventDecl struct {
	Decl
	Params []*Param
}

type DeclareDecl struct {
	Decl
	Function bool
	PtrSafe  bool
	Lib      string
	Alias    string
	Params   []*Param
	Return   TypeRef
}

// ProcKind distinguishes Sub, Function and the property accessors.
type ProcKind uint8

const (
	Sub ProcKind = iota + 1
	Function
	PropertyGet
	PropertyLet
	PropertySet
)

func (k ProcKind) String() string {
	switch k {
	case Sub:
		return "Sub"
	case Function:
		return "Function"
	case PropertyGet, PropertyLet, PropertySet:
		return "Property"
	}
	return "?"
}

type ProcDecl struct {
	Decl
	Kind       ProcKind
	Static     bool
	Params     []*Param
	Return     TypeRef
	Attributes []Attribute
	Locals     []*Local
	Uses       []Use
}

type Param struct {
	Name       string
	Type       TypeRef
	Optional   bool
	ByVal      bool
	ByRef      bool
	ParamArray bool
	Default    string
	Sel        naming.Selection
}

func (p *Param) Span() naming.Selection { return p.Sel }

// Local is a Dim, Static or Const inside a procedure body.
type Local struct {
	Name        string
	Const       bool
	Static      bool
	Type        TypeRef
	Value       string
	Annotations []Annotation
	Sel         naming.Selection
}

func (l *Local) Span() naming.Selection { return l.Sel }

// Use is an identifier reference in executable code. Qualifier holds the
// dotted prefix of a member access, e.g. "Module1" in Module1.Foo.
type Use struct {
	Name      string
	Qualifier string
	Event     bool
	Sel       naming.Selection
}
