package mallard

import (
	"fmt"
	"slices"
	"strings"
)

// ModuleGraph is the graph of modules binding into each other. Nodes and
// edges are bulk-loaded then traversed with BFS; no recursive SQL or N+1
// queries.
type ModuleGraph struct {
	Root  int64        // starting module ID; 0 for the whole graph
	Nodes []ModuleNode // every module reachable within depth
	Edges []ModuleEdge // every edge between reached modules
	Depth int          // actual max depth reached
}

// ModuleNode is a module in the graph with its distance from the root.
type ModuleNode struct {
	Module *Module
	Depth  int // BFS depth from root (0 = root itself)
}

// ModuleEdge says From has Uses bindings to declarations of To.
type ModuleEdge struct {
	From int64
	To   int64
	Uses int
}

// moduleGraphData holds the bulk-loaded adjacency maps and module index.
type moduleGraphData struct {
	forward map[int64][]int64 // user -> used
	reverse map[int64][]int64 // used -> users
	edges   []ModuleEdge
	modules map[int64]*Module
}

// buildModuleGraph loads every cross-module edge and every module.
func (q *QueryBuilder) buildModuleGraph() (*moduleGraphData, error) {
	modules, err := q.moduleIndex()
	if err != nil {
		return nil, fmt.Errorf("build module graph: load modules: %w", err)
	}
	rows, err := q.store.DB().Query(
		`SELECT b.module_id, t.module_id, COUNT(*) FROM bindings b
		 JOIN declarations t ON t.id = b.target_id
		 WHERE t.module_id != b.module_id
		 GROUP BY b.module_id, t.module_id
		 ORDER BY b.module_id, t.module_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("build module graph: load edges: %w", err)
	}
	defer rows.Close()

	data := &moduleGraphData{
		forward: make(map[int64][]int64),
		reverse: make(map[int64][]int64),
		modules: modules,
	}
	for rows.Next() {
		var e ModuleEdge
		if err := rows.Scan(&e.From, &e.To, &e.Uses); err != nil {
			return nil, fmt.Errorf("build module graph: scan edge: %w", err)
		}
		data.forward[e.From] = append(data.forward[e.From], e.To)
		data.reverse[e.To] = append(data.reverse[e.To], e.From)
		data.edges = append(data.edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("build module graph: rows: %w", err)
	}
	return data, nil
}

// ModuleGraph returns every module and every cross-module edge.
func (q *QueryBuilder) ModuleGraph() (*ModuleGraph, error) {
	data, err := q.buildModuleGraph()
	if err != nil {
		return nil, err
	}
	g := &ModuleGraph{Nodes: []ModuleNode{}, Edges: data.edges}
	if g.Edges == nil {
		g.Edges = []ModuleEdge{}
	}
	for _, m := range data.modules {
		g.Nodes = append(g.Nodes, ModuleNode{Module: m})
	}
	sortNodes(g.Nodes)
	return g, nil
}

// Dependents returns every module that binds, directly or transitively,
// into the named module, up to maxDepth. maxDepth of 0 returns only the
// root node. Negative returns an error. Capped at 100. Returns nil, nil if
// the module does not exist.
func (q *QueryBuilder) Dependents(project, module string, maxDepth int) (*ModuleGraph, error) {
	return q.traverse("dependents", project, module, maxDepth, true)
}

// Dependencies returns every module the named module binds into,
// directly or transitively, up to maxDepth. Same limits as Dependents.
func (q *QueryBuilder) Dependencies(project, module string, maxDepth int) (*ModuleGraph, error) {
	return q.traverse("dependencies", project, module, maxDepth, false)
}

func (q *QueryBuilder) traverse(op, project, module string, maxDepth int, reverse bool) (*ModuleGraph, error) {
	if maxDepth < 0 {
		return nil, fmt.Errorf("%s: maxDepth must be non-negative, got %d", op, maxDepth)
	}
	if maxDepth > 100 {
		maxDepth = 100
	}

	root, err := q.store.ModuleByName(project, module)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if root == nil {
		return nil, nil
	}

	result := &ModuleGraph{
		Root:  root.ID,
		Nodes: []ModuleNode{{Module: root, Depth: 0}},
		Edges: []ModuleEdge{},
	}
	if maxDepth == 0 {
		return result, nil
	}

	data, err := q.buildModuleGraph()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	adj := data.forward
	if reverse {
		adj = data.reverse
	}

	visited := map[int64]int{root.ID: 0} // module ID -> depth
	type bfsEntry struct {
		id    int64
		depth int
	}
	queue := []bfsEntry{{id: root.ID, depth: 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}
		for _, next := range adj[current.id] {
			if _, seen := visited[next]; seen {
				continue
			}
			depth := current.depth + 1
			visited[next] = depth
			result.Depth = max(result.Depth, depth)
			queue = append(queue, bfsEntry{id: next, depth: depth})
		}
	}

	for id, depth := range visited {
		if m := data.modules[id]; m != nil && id != root.ID {
			result.Nodes = append(result.Nodes, ModuleNode{Module: m, Depth: depth})
		}
	}
	sortNodes(result.Nodes[1:])

	// An edge is relevant when both ends were reached.
	for _, e := range data.edges {
		_, from := visited[e.From]
		_, to := visited[e.To]
		if from && to {
			result.Edges = append(result.Edges, e)
		}
	}
	return result, nil
}

func sortNodes(nodes []ModuleNode) {
	slices.SortFunc(nodes, func(a, b ModuleNode) int {
		if a.Depth != b.Depth {
			return a.Depth - b.Depth
		}
		if c := strings.Compare(strings.ToLower(a.Module.Project), strings.ToLower(b.Module.Project)); c != 0 {
			return c
		}
		return strings.Compare(strings.ToLower(a.Module.Name), strings.ToLower(b.Module.Name))
	})
}

// unusedExcludedKinds are never reported unused: projects and modules are
// not referenced by name in ordinary code.
var unusedExcludedKinds = []any{"Project", "ProceduralModule", "ClassModule", "Document", "UserForm"}

// UnusedDeclarations returns source declarations no use is bound to.
// Declarations annotated '@Ignore are left out. Supports the same
// DeclarationFilter and Pagination as Declarations.
func (q *QueryBuilder) UnusedDeclarations(filter DeclarationFilter, sort Sort, page Pagination) (*PagedResult[DeclarationResult], error) {
	where := []string{
		"d.is_builtin = FALSE",
		"d.kind NOT IN (" + placeholders(len(unusedExcludedKinds)) + ")",
		"NOT EXISTS (SELECT 1 FROM bindings b3 WHERE b3.target_id = d.id)",
		"NOT EXISTS (SELECT 1 FROM annotations a3 WHERE a3.declaration_id = d.id AND a3.name = 'Ignore' COLLATE NOCASE)",
	}
	args := append([]any{}, unusedExcludedKinds...)
	fw, fa := filterClauses(filter)
	return q.pageDeclarations("unused declarations", append(where, fw...), append(args, fa...), sort, page)
}
