package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jward/mallard"
)

// --- Graph Analysis Commands ---

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show the module dependency graph",
	Args:  cobra.NoArgs,
	RunE:  runGraph,
}

var dependentsCmd = &cobra.Command{
	Use:   "dependents <project> <module>",
	Short: "Find modules that bind into a module, transitively",
	Args:  cobra.ExactArgs(2),
	RunE:  runDependents,
}

var dependenciesCmd = &cobra.Command{
	Use:   "dependencies <project> <module>",
	Short: "Find modules a module binds into, transitively",
	Args:  cobra.ExactArgs(2),
	RunE:  runDependencies,
}

var unusedCmd = &cobra.Command{
	Use:   "unused",
	Short: "List source declarations no use binds to",
	Long:  "List source declarations no use binds to. Declarations annotated '@Ignore are left out.",
	Args:  cobra.NoArgs,
	RunE:  runUnused,
}

func init() {
	dependentsCmd.Flags().Int("max-depth", 5, "maximum traversal depth (0-100)")
	dependenciesCmd.Flags().Int("max-depth", 5, "maximum traversal depth (0-100)")
	addFilterFlags(unusedCmd)
}

func graphToCLI(g *mallard.ModuleGraph) CLIModuleGraph {
	out := CLIModuleGraph{
		Root:  g.Root,
		Nodes: make([]CLIModuleNode, len(g.Nodes)),
		Edges: make([]CLIModuleEdge, len(g.Edges)),
		Depth: g.Depth,
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = CLIModuleNode{Module: moduleToCLI(n.Module), Depth: n.Depth}
	}
	for i, e := range g.Edges {
		out.Edges[i] = CLIModuleEdge(e)
	}
	return out
}

func runGraph(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("graph", err)
	}
	defer engine.Close()

	g, err := engine.Query().ModuleGraph()
	if err != nil {
		return outputError("graph", err)
	}
	return outputResult(CLIResult{Command: "graph", Results: graphToCLI(g)})
}

func runDependents(cmd *cobra.Command, args []string) error {
	return runTraversal(cmd, "dependents", args, (*mallard.QueryBuilder).Dependents)
}

func runDependencies(cmd *cobra.Command, args []string) error {
	return runTraversal(cmd, "dependencies", args, (*mallard.QueryBuilder).Dependencies)
}

type traversal func(q *mallard.QueryBuilder, project, module string, maxDepth int) (*mallard.ModuleGraph, error)

func runTraversal(cmd *cobra.Command, command string, args []string, fn traversal) error {
	engine, err := openEngine()
	if err != nil {
		return outputError(command, err)
	}
	defer engine.Close()

	maxDepth, _ := cmd.Flags().GetInt("max-depth")
	g, err := fn(engine.Query(), args[0], args[1], maxDepth)
	if err != nil {
		return outputError(command, err)
	}
	if g == nil {
		return outputError(command, fmt.Errorf("module not found: %s.%s", args[0], args[1]))
	}
	return outputResult(CLIResult{Command: command, Results: graphToCLI(g)})
}

func runUnused(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter()
	if err != nil {
		return outputError("unused", err)
	}
	engine, err := openEngine()
	if err != nil {
		return outputError("unused", err)
	}
	defer engine.Close()

	result, err := engine.Query().UnusedDeclarations(filter, buildSort(), buildPagination())
	if err != nil {
		return outputError("unused", err)
	}
	return outputResult(CLIResult{
		Command:    "unused",
		Results:    declarationsToCLI(result.Items),
		TotalCount: &result.TotalCount,
	})
}
