package mallard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclarationDetail_Procedure(t *testing.T) {
	e, _ := newIndexedEngine(t)
	q := e.Query()

	detail, err := q.DeclarationDetailAt("P", "Widget", 13, 13)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, "Draw", detail.Declaration.Name)
	assert.Equal(t, "Procedure", detail.Declaration.Kind)
	assert.Equal(t, "Widget", detail.Declaration.Module)
	assert.Nil(t, detail.Parameter)

	assert.Equal(t, []string{"times", "label"}, names(detail.Parameters))
	assert.Equal(t, []string{"i"}, names(detail.Children))

	require.Len(t, detail.Annotations, 1)
	assert.Equal(t, "Description", detail.Annotations[0].Name)
	assert.Equal(t, []string{"Draws it"}, detail.Annotations[0].Args)

	require.Len(t, detail.Attributes, 1)
	assert.Equal(t, "VB_Description", detail.Attributes[0].Name)

	require.Len(t, detail.ScopeChain, 2)
	assert.Equal(t, "ClassModule", detail.ScopeChain[0].Kind)
	assert.Equal(t, "Widget", detail.ScopeChain[0].Name)
	assert.Equal(t, "Project", detail.ScopeChain[1].Kind)
	assert.Equal(t, "P", detail.ScopeChain[1].Name)
}

func TestDeclarationDetail_Parameter(t *testing.T) {
	e, _ := newIndexedEngine(t)
	q := e.Query()

	draw, err := q.DeclarationDetailAt("P", "Widget", 13, 13)
	require.NoError(t, err)
	require.Len(t, draw.Parameters, 2)

	label, err := q.DeclarationDetail(draw.Parameters[1].ID)
	require.NoError(t, err)
	require.NotNil(t, label)
	require.NotNil(t, label.Parameter)
	assert.Equal(t, 1, label.Parameter.Ordinal)
	assert.True(t, label.Parameter.Optional)
	assert.True(t, label.Parameter.ByRef, "parameters are ByRef unless ByVal")
	assert.Equal(t, `"x"`, label.Parameter.Default)
	assert.Empty(t, label.Annotations)
	assert.Empty(t, label.Attributes)

	times, err := q.DeclarationDetail(draw.Parameters[0].ID)
	require.NoError(t, err)
	assert.False(t, times.Parameter.ByRef)
	assert.Equal(t, "Draw", times.ScopeChain[0].Name)
}

func TestDeclarationDetail_NotFound(t *testing.T) {
	e, _ := newIndexedEngine(t)
	q := e.Query()

	detail, err := q.DeclarationDetail(99999)
	require.NoError(t, err)
	assert.Nil(t, detail)

	detail, err = q.DeclarationDetailAt("P", "Nope", 1, 1)
	require.NoError(t, err)
	assert.Nil(t, detail)
}

func TestScopeChain_Project(t *testing.T) {
	e, _ := newIndexedEngine(t)
	q := e.Query()

	res, err := q.Declarations(DeclarationFilter{Kinds: []string{"Project"}, BuiltIn: boolPtr(false)}, Sort{}, Pagination{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	chain, err := q.ScopeChain(res.Items[0].ID)
	require.NoError(t, err)
	assert.Empty(t, chain)
}
