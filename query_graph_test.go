package mallard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeNames(g *ModuleGraph) []string {
	out := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		out[i] = n.Module.Name
	}
	return out
}

func moduleID(t *testing.T, q *QueryBuilder, project, name string) int64 {
	t.Helper()
	m, err := q.Module(project, name)
	require.NoError(t, err)
	require.NotNil(t, m, "%s.%s", project, name)
	return m.ID
}

// =============================================================================
// Module graph
// =============================================================================

func TestModuleGraph(t *testing.T) {
	e, _ := newIndexedEngine(t)
	q := e.Query()

	g, err := q.ModuleGraph()
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 5, "P, Scripting and three modules")

	helpers := moduleID(t, q, "P", "Helpers")
	caller := moduleID(t, q, "P", "Caller")
	widget := moduleID(t, q, "P", "Widget")
	scripting := moduleID(t, q, "Scripting", "")

	assert.Contains(t, g.Edges, ModuleEdge{From: caller, To: helpers, Uses: 1})
	assert.Contains(t, g.Edges, ModuleEdge{From: widget, To: helpers, Uses: 1})
	assert.Contains(t, g.Edges, ModuleEdge{From: widget, To: scripting, Uses: 1})
	for _, edge := range g.Edges {
		assert.NotEqual(t, edge.From, edge.To, "same-module uses are not edges")
	}
}

func TestModuleGraph_Empty(t *testing.T) {
	e := newTestEngine(t)
	g, err := e.Query().ModuleGraph()
	require.NoError(t, err)
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Edges)
}

// =============================================================================
// Traversal
// =============================================================================

func TestDependents(t *testing.T) {
	e, _ := newIndexedEngine(t)
	q := e.Query()

	g, err := q.Dependents("P", "Helpers", 5)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, moduleID(t, q, "P", "Helpers"), g.Root)
	assert.Equal(t, []string{"Helpers", "Caller", "Widget"}, nodeNames(g))
	assert.Equal(t, 1, g.Depth)
	assert.Len(t, g.Edges, 2)
}

func TestDependencies_Transitive(t *testing.T) {
	e, dir := newIndexedEngine(t)
	writeModule(t, dir, "Top.bas", "Public Sub Top()\n    Run\nEnd Sub\n")
	_, err := e.IndexDirectory(t.Context(), "P")
	require.NoError(t, err)
	q := e.Query()

	g, err := q.Dependencies("P", "Top", 10)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, []string{"Top", "Caller", "Helpers"}, nodeNames(g))
	assert.Equal(t, 2, g.Depth)
	assert.Equal(t, 1, g.Nodes[1].Depth)
	assert.Equal(t, 2, g.Nodes[2].Depth)

	shallow, err := q.Dependencies("P", "Top", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Top", "Caller"}, nodeNames(shallow))

	root, err := q.Dependencies("P", "Top", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Top"}, nodeNames(root))
	assert.Empty(t, root.Edges)
}

func TestTraverse_Limits(t *testing.T) {
	e, _ := newIndexedEngine(t)
	q := e.Query()

	_, err := q.Dependents("P", "Helpers", -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-negative")

	g, err := q.Dependents("P", "Nope", 3)
	require.NoError(t, err)
	assert.Nil(t, g)

	capped, err := q.Dependents("P", "Helpers", 1000)
	require.NoError(t, err)
	assert.Len(t, capped.Nodes, 3)
}

// =============================================================================
// Unused declarations
// =============================================================================

func TestUnusedDeclarations(t *testing.T) {
	e, _ := newIndexedEngine(t)
	q := e.Query()

	res, err := q.UnusedDeclarations(DeclarationFilter{Kinds: []string{"Function"}}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Orphan"}, names(res.Items))

	all, err := q.UnusedDeclarations(DeclarationFilter{}, Sort{Field: SortByName}, Pagination{Limit: maxLimit})
	require.NoError(t, err)
	got := names(all.Items)
	assert.Contains(t, got, "mItems")
	assert.Contains(t, got, "Orphan")
	assert.NotContains(t, got, "Unused", "annotated @Ignore")
	assert.NotContains(t, got, "Helper")
	assert.NotContains(t, got, "Widget", "modules are never unused")
	assert.NotContains(t, got, "Dictionary", "library declarations are left out")
}
