package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jward/mallard"
)

// --- Discovery / Search Commands ---

var (
	flagKind          string
	flagAccessibility string
	flagFilterProject string
	flagAnnotations   []string
	flagBuiltIn       string
	flagWhere         string
)

// addFilterFlags registers the DeclarationFilter flags on cmd.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagKind, "kind", "", "filter by declaration kind (e.g. Function, Variable)")
	cmd.Flags().StringVar(&flagAccessibility, "accessibility", "", "filter by accessibility (Public, Private, Friend, ...)")
	cmd.Flags().StringVar(&flagFilterProject, "project", "", "filter by project or library")
	cmd.Flags().StringSliceVar(&flagAnnotations, "annotation", nil, "require an annotation (repeatable)")
	cmd.Flags().StringVar(&flagBuiltIn, "builtin", "", "true for library declarations, false for source declarations")
}

var declarationsCmd = &cobra.Command{
	Use:   "declarations",
	Short: "List declarations with optional filters",
	Long:  "List declarations with optional filters. --where takes a Risor expression over the declaration d, e.g. 'd.kind == \"Function\" && d.as_type == \"Long\"'.",
	Args:  cobra.NoArgs,
	RunE:  runDeclarations,
}

var searchCmd = &cobra.Command{
	Use:   "search <pattern>",
	Short: "Search declarations by glob pattern",
	Long:  "Search for declarations matching a glob pattern, case-insensitively. Use * as wildcard (e.g. 'Get*Range*').",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var membersCmd = &cobra.Command{
	Use:   "members <project> <module>",
	Short: "List the module-level members of a module",
	Args:  cobra.ExactArgs(2),
	RunE:  runMembers,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarise the workspace",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

var moduleSummaryCmd = &cobra.Command{
	Use:   "module-summary <project> <module>",
	Short: "Summarise one module",
	Args:  cobra.ExactArgs(2),
	RunE:  runModuleSummary,
}

func init() {
	addFilterFlags(declarationsCmd)
	declarationsCmd.Flags().StringVar(&flagWhere, "where", "", "Risor expression over d keeping matching declarations")
	addFilterFlags(searchCmd)
	summaryCmd.Flags().Int("top", 10, "number of most used declarations to return")
}

// buildFilter creates a DeclarationFilter from CLI flags.
func buildFilter() (mallard.DeclarationFilter, error) {
	var filter mallard.DeclarationFilter
	if flagKind != "" {
		filter.Kinds = []string{flagKind}
	}
	if flagAccessibility != "" {
		filter.Accessibility = &flagAccessibility
	}
	if flagFilterProject != "" {
		filter.Project = &flagFilterProject
	}
	filter.Annotations = flagAnnotations
	switch flagBuiltIn {
	case "":
	case "true":
		filter.BuiltIn = boolPtr(true)
	case "false":
		filter.BuiltIn = boolPtr(false)
	default:
		return filter, fmt.Errorf("invalid --builtin %q: must be true or false", flagBuiltIn)
	}
	return filter, nil
}

func boolPtr(b bool) *bool { return &b }

func runDeclarations(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter()
	if err != nil {
		return outputError("declarations", err)
	}
	engine, err := openEngine()
	if err != nil {
		return outputError("declarations", err)
	}
	defer engine.Close()

	q := engine.Query()
	if flagWhere == "" {
		result, err := q.Declarations(filter, buildSort(), buildPagination())
		if err != nil {
			return outputError("declarations", err)
		}
		return outputResult(CLIResult{
			Command:    "declarations",
			Results:    declarationsToCLI(result.Items),
			TotalCount: &result.TotalCount,
		})
	}

	matched, err := whereDeclarations(cmd.Context(), engine, filter)
	if err != nil {
		return outputError("declarations", err)
	}
	total := len(matched)
	page := buildPagination()
	start := min(max(page.Offset, 0), total)
	limit := page.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	end := min(start+limit, total)
	return outputResult(CLIResult{
		Command:    "declarations",
		Results:    declarationsToCLI(matched[start:end]),
		TotalCount: &total,
	})
}

// whereDeclarations pages through every declaration matching filter and
// keeps those the --where expression accepts.
func whereDeclarations(ctx context.Context, engine *mallard.Engine, filter mallard.DeclarationFilter) ([]mallard.DeclarationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	q := engine.Query()
	var matched []mallard.DeclarationResult
	for offset := 0; ; offset += 500 {
		page, err := q.Declarations(filter, buildSort(), mallard.Pagination{Offset: offset, Limit: 500})
		if err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			return matched, nil
		}
		decls := make([]*mallard.Declaration, len(page.Items))
		byID := make(map[int64]mallard.DeclarationResult, len(page.Items))
		for i := range page.Items {
			decls[i] = &page.Items[i].Declaration
			byID[page.Items[i].ID] = page.Items[i]
		}
		kept, err := engine.Filter(ctx, flagWhere, decls)
		if err != nil {
			return nil, fmt.Errorf("--where: %w", err)
		}
		for _, d := range kept {
			matched = append(matched, byID[d.ID])
		}
		if offset+len(page.Items) >= page.TotalCount {
			return matched, nil
		}
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter()
	if err != nil {
		return outputError("search", err)
	}
	engine, err := openEngine()
	if err != nil {
		return outputError("search", err)
	}
	defer engine.Close()

	result, err := engine.Query().SearchDeclarations(args[0], filter, buildSort(), buildPagination())
	if err != nil {
		return outputError("search", err)
	}
	return outputResult(CLIResult{
		Command:    "search",
		Results:    declarationsToCLI(result.Items),
		TotalCount: &result.TotalCount,
	})
}

func runMembers(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("members", err)
	}
	defer engine.Close()

	q := engine.Query()
	m, err := q.Module(args[0], args[1])
	if err != nil {
		return outputError("members", err)
	}
	if m == nil {
		return outputError("members", fmt.Errorf("module not found: %s.%s", args[0], args[1]))
	}
	result, err := q.Members(m.ID, buildSort(), buildPagination())
	if err != nil {
		return outputError("members", err)
	}
	return outputResult(CLIResult{
		Command:    "members",
		Results:    declarationsToCLI(result.Items),
		TotalCount: &result.TotalCount,
	})
}

func runSummary(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("summary", err)
	}
	defer engine.Close()

	top, _ := cmd.Flags().GetInt("top")
	s, err := engine.Query().WorkspaceSummary(top)
	if err != nil {
		return outputError("summary", err)
	}

	out := CLIWorkspaceSummary{
		Version:         s.Version,
		Projects:        make([]CLIProjectStats, len(s.Projects)),
		Libraries:       s.Libraries,
		Unavailable:     s.Unavailable,
		DiagnosticCount: s.DiagnosticCount,
		TopDeclarations: declarationsToCLI(s.TopDeclarations),
	}
	for i, p := range s.Projects {
		out.Projects[i] = CLIProjectStats(p)
	}
	return outputResult(CLIResult{Command: "summary", Results: out})
}

func runModuleSummary(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("module-summary", err)
	}
	defer engine.Close()

	s, err := engine.Query().ModuleSummary(args[0], args[1])
	if err != nil {
		return outputError("module-summary", err)
	}
	if s == nil {
		return outputError("module-summary", fmt.Errorf("module not found: %s.%s", args[0], args[1]))
	}
	return outputResult(CLIResult{Command: "module-summary", Results: CLIModuleSummary{
		Module:          moduleToCLI(s.Module),
		Members:         declarationsToCLI(s.Members),
		KindCounts:      s.KindCounts,
		DiagnosticCount: s.DiagnosticCount,
		Dependencies:    s.Dependencies,
		Dependents:      s.Dependents,
	}})
}
