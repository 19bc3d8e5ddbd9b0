package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/symbols"
	"github.com/jward/mallard/internal/vba"
)

func newProject(t *testing.T, name string) (*symbols.Set, *symbols.Declaration) {
	t.Helper()
	unit := naming.ProjectUnit(name)
	b := symbols.NewBuilder(unit, symbols.FromSource)
	h, err := b.Add(symbols.Fields{
		Name:          unit.QualifyMember(name),
		Kind:          symbols.Project,
		Accessibility: symbols.Public,
	}, symbols.ProjectInfo{})
	require.NoError(t, err)
	set, err := b.Freeze()
	require.NoError(t, err)
	d, _ := set.Get(h)
	return set, d
}

func ingest(t *testing.T, module string, kind vba.ModuleKind, src string) (*symbols.Set, symbols.Lookup) {
	t.Helper()
	pset, project := newProject(t, "VBAProject")
	set, err := NewIngester(nil).Ingest(context.Background(), project, Request{
		Module: naming.QualifiedModuleName{Project: "VBAProject", Module: module},
		Kind:   kind,
		Source: []byte(src),
	})
	require.NoError(t, err)
	lookup := func(h symbols.Handle) (*symbols.Declaration, bool) {
		if d, ok := set.Get(h); ok {
			return d, true
		}
		return pset.Get(h)
	}
	return set, lookup
}

func find(t *testing.T, s *symbols.Set, kind symbols.DeclarationType, name string) *symbols.Declaration {
	t.Helper()
	for _, d := range s.All() {
		if d.Kind() == kind && naming.EqualFold(d.Name(), name) {
			return d
		}
	}
	t.Fatalf("no %s %q", kind, name)
	return nil
}

// =============================================================================
// Module and members
// =============================================================================

func TestIngest_EventParameters(t *testing.T) {
	t.Parallel()
	set, lookup := ingest(t, "Class1", vba.Class, "Public Event Foo(x As Long, y As String)\n")

	mod := set.Root()
	assert.Equal(t, symbols.ClassModule, mod.Kind())
	assert.Equal(t, "Class1", mod.Name())

	foo := find(t, set, symbols.Event, "Foo")
	assert.Equal(t, mod.Handle(), foo.Parent())
	assert.Equal(t, symbols.Public, foo.Accessibility())

	params := foo.Parameters()
	require.Len(t, params, 2)
	for i, want := range []struct{ name, typ string }{{"x", "Long"}, {"y", "String"}} {
		p, ok := set.Get(params[i])
		require.True(t, ok)
		assert.Equal(t, want.name, p.Name())
		assert.Equal(t, want.typ, p.AsTypeName())
		assert.Equal(t, foo.Handle(), p.Parent())
		assert.Equal(t, mod.Handle(), p.ParentScope(), "event parameters are scoped to the module")
		info, _ := p.Parameter()
		assert.Equal(t, i, info.Ordinal)
		assert.True(t, info.ByRef)
		assert.Equal(t, symbols.FromSource, p.Provenance())
	}

	require.NoError(t, set.Validate(lookup))
}

func TestIngest_ProcedureScoping(t *testing.T) {
	t.Parallel()
	src := `Attribute VB_Name = "Module1"
Option Explicit
Private counter As Long

Public Function Twice(ByVal n As Long) As Long
    Dim tmp As Long
    Const factor = 2
    tmp = n * factor
    counter = counter + 1
    Twice = tmp
End Function

Sub Run(Optional label$ = "x")
End Sub
`
	set, lookup := ingest(t, "Module1", vba.Procedural, src)
	require.NoError(t, set.Validate(lookup))

	mod := set.Root()
	assert.Equal(t, symbols.ProceduralModule, mod.Kind())
	assert.Equal(t, symbols.Public, mod.Accessibility())
	info, ok := mod.ModuleInfo()
	require.True(t, ok)
	assert.Equal(t, []string{"Explicit"}, info.Options)

	counter := find(t, set, symbols.Variable, "counter")
	assert.Equal(t, symbols.Private, counter.Accessibility())
	assert.Equal(t, mod.Handle(), counter.Parent())

	twice := find(t, set, symbols.Function, "Twice")
	assert.Equal(t, "Long", twice.AsTypeName())

	n, _ := set.Get(twice.Parameters()[0])
	assert.Equal(t, twice.Handle(), n.ParentScope())
	ni, _ := n.Parameter()
	assert.False(t, ni.ByRef)

	tmp := find(t, set, symbols.Variable, "tmp")
	assert.Equal(t, twice.Handle(), tmp.Parent())
	assert.Equal(t, symbols.Implicit, tmp.Accessibility())

	factor := find(t, set, symbols.Constant, "factor")
	c, ok := factor.Constant()
	require.True(t, ok)
	assert.Equal(t, "2", c.Value)
	assert.Equal(t, symbols.VariantType, factor.AsTypeName())

	run := find(t, set, symbols.Procedure, "Run")
	assert.Equal(t, symbols.Implicit, run.Accessibility())
	assert.Empty(t, run.AsTypeName())
	label, _ := set.Get(run.Parameters()[0])
	assert.Equal(t, "String", label.AsTypeName())
	assert.Equal(t, "$", label.TypeHint())
	li, _ := label.Parameter()
	assert.True(t, li.Optional)

	var names []string
	for _, u := range set.Uses() {
		if u.Scope == twice.Handle() {
			names = append(names, u.Name)
		}
	}
	assert.Contains(t, names, "counter")
	assert.Contains(t, names, "factor")
}

func TestIngest_EnumAndType(t *testing.T) {
	t.Parallel()
	src := `Public Enum Color
    Red = 1
    Green
End Enum

Private Type Pair
    Key As String
    Items() As Variant
End Type
`
	set, _ := ingest(t, "Shapes", vba.Procedural, src)
	mod := set.Root()

	enum := find(t, set, symbols.Enumeration, "Color")
	green := find(t, set, symbols.EnumerationMember, "Green")
	assert.Equal(t, enum.Handle(), green.Parent())
	assert.Equal(t, mod.Handle(), green.ParentScope())
	assert.Equal(t, symbols.Public, green.Accessibility())

	pair := find(t, set, symbols.UserDefinedType, "Pair")
	assert.Equal(t, symbols.Private, pair.Accessibility())
	items := find(t, set, symbols.UserDefinedTypeMember, "Items")
	assert.Equal(t, pair.Handle(), items.Parent())
	assert.True(t, items.IsArray())
}

func TestIngest_DeclareStatement(t *testing.T) {
	t.Parallel()
	src := `Private Declare PtrSafe Function GetTickCount Lib "kernel32" Alias "GetTickCount" () As Long` + "\n"
	set, _ := ingest(t, "Win", vba.Procedural, src)

	fn := find(t, set, symbols.LibraryFunction, "GetTickCount")
	lib, ok := fn.Library()
	require.True(t, ok)
	assert.Equal(t, "kernel32", lib.Lib)
	assert.Equal(t, "Long", fn.AsTypeName())
}

func TestIngest_AttributesAndAnnotations(t *testing.T) {
	t.Parallel()
	src := `VERSION 1.0 CLASS
BEGIN
  MultiUse = -1  'True
END
Attribute VB_Name = "Widget"
Attribute VB_Exposed = True
'@Folder("Shapes.Widgets")

'@Description("Draws it")
Public Sub Draw()
Attribute Draw.VB_Description = "Draws it"
End Sub
`
	set, _ := ingest(t, "", vba.Class, src)
	mod := set.Root()
	assert.Equal(t, "Widget", mod.Name(), "name falls back to VB_Name")
	assert.Equal(t, symbols.Public, mod.Accessibility(), "exposed classes are public")
	assert.True(t, mod.HasAnnotation("Folder"))

	draw := find(t, set, symbols.Procedure, "Draw")
	assert.True(t, draw.HasAnnotation("Description"))
	v, ok := draw.Attributes().Get("VB_Description")
	require.True(t, ok)
	assert.Equal(t, []string{"Draws it"}, v)
}

func TestIngest_ClassDefaultsPrivate(t *testing.T) {
	t.Parallel()
	set, _ := ingest(t, "Hidden", vba.Class, "Private x As Long\n")
	assert.Equal(t, symbols.Private, set.Root().Accessibility())

	priv, _ := ingest(t, "Helpers", vba.Procedural, "Option Private Module\n")
	assert.Equal(t, symbols.Private, priv.Root().Accessibility())
}

// =============================================================================
// Failures
// =============================================================================

func TestIngest_SyntaxError(t *testing.T) {
	t.Parallel()
	_, project := newProject(t, "P")
	_, err := NewIngester(nil).Ingest(context.Background(), project, Request{
		Module: naming.QualifiedModuleName{Project: "P", Module: "Bad"},
		Kind:   vba.Procedural,
		Source: []byte("Sub Foo()\n"),
	})
	var se *vba.SyntaxError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Bad", se.Module)
}

func TestIngest_NoName(t *testing.T) {
	t.Parallel()
	_, project := newProject(t, "P")
	_, err := NewIngester(nil).Ingest(context.Background(), project, Request{
		Module: naming.ProjectUnit("P"),
		Source: []byte("Dim x\n"),
	})
	assert.ErrorIs(t, err, ErrNoModuleName)
}

func TestIngest_RequiresProject(t *testing.T) {
	t.Parallel()
	_, err := NewIngester(nil).Ingest(context.Background(), nil, Request{})
	assert.ErrorIs(t, err, symbols.ErrInvalidParent)
}

func TestIngest_Cancelled(t *testing.T) {
	t.Parallel()
	_, project := newProject(t, "P")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewIngester(nil).Ingest(ctx, project, Request{
		Module: naming.QualifiedModuleName{Project: "P", Module: "M"},
		Source: []byte("Dim x\n"),
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Idempotence
// =============================================================================

func TestIngest_Idempotent(t *testing.T) {
	t.Parallel()
	src := "Public Event Foo(x As Long, y As String)\nPublic Sub Bar()\n    RaiseEvent Foo(1, \"a\")\nEnd Sub\n"
	a, _ := ingest(t, "C", vba.Class, src)
	b, _ := ingest(t, "C", vba.Class, src)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.True(t, symbols.Equivalent(a, b))

	moved, _ := ingest(t, "C", vba.Class, "\n\n"+src)
	assert.True(t, symbols.Equivalent(a, moved), "selections do not affect equivalence")

	changed, _ := ingest(t, "C", vba.Class, "Public Event Foo(x As Long, y As Long)\n")
	assert.False(t, symbols.Equivalent(a, changed))
}
