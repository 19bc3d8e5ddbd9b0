package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jward/mallard"
	"github.com/jward/mallard/internal/config"
	"github.com/jward/mallard/internal/store"
)

var (
	flagLimit      int
	flagOffset     int
	flagSort       string
	flagOrder      string
	flagScriptsDir string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the declaration index",
	Long:  "Run queries against an indexed workspace. Line and column numbers are 1-based.",
}

func init() {
	queryCmd.PersistentFlags().IntVar(&flagLimit, "limit", 50, "pagination limit (max 500)")
	queryCmd.PersistentFlags().IntVar(&flagOffset, "offset", 0, "pagination offset")
	queryCmd.PersistentFlags().StringVar(&flagSort, "sort", "", "sort field: name|kind|module|ref_count|external_ref_count")
	queryCmd.PersistentFlags().StringVar(&flagOrder, "order", "asc", "sort order: asc|desc")
	queryCmd.PersistentFlags().StringVar(&flagScriptsDir, "scripts-dir", "", "directory Risor scripts and their imports load from")

	queryCmd.AddCommand(modulesCmd)
	queryCmd.AddCommand(declarationAtCmd)
	queryCmd.AddCommand(definitionCmd)
	queryCmd.AddCommand(referencesCmd)
	queryCmd.AddCommand(diagnosticsCmd)
	queryCmd.AddCommand(declarationsCmd)
	queryCmd.AddCommand(searchCmd)
	queryCmd.AddCommand(membersCmd)
	queryCmd.AddCommand(summaryCmd)
	queryCmd.AddCommand(moduleSummaryCmd)
	queryCmd.AddCommand(detailCmd)
	queryCmd.AddCommand(graphCmd)
	queryCmd.AddCommand(dependentsCmd)
	queryCmd.AddCommand(dependenciesCmd)
	queryCmd.AddCommand(unusedCmd)
	queryCmd.AddCommand(scriptCmd)
}

// --- Helpers ---

// openEngine opens the indexed database named by --db, or the one of the
// workspace found from the working directory.
func openEngine() (*mallard.Engine, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	var cfg *config.Config
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
	} else {
		cfg, err = config.Discover(cwd)
	}
	if err != nil {
		return nil, err
	}
	dbPath := cfg.Workspace.Database
	if flagDB != "" {
		dbPath = resolveDBPath(cwd)
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'mallard index' first)", dbPath)
	}

	opts := []mallard.Option{mallard.WithLogger(newLogger(cfg))}
	if flagScriptsDir != "" {
		dir, err := filepath.Abs(flagScriptsDir)
		if err != nil {
			return nil, fmt.Errorf("resolving scripts dir: %w", err)
		}
		opts = append(opts, mallard.WithScriptsDir(dir))
	}
	return mallard.New(dbPath, opts...)
}

// parseIntArg parses a positional argument as a positive integer with a
// clear error.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", name, value)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s %q: must be at least 1", name, value)
	}
	return n, nil
}

// position is a <project> <module> <line> <col> argument list.
type position struct {
	project, module string
	line, col       int
}

func parsePosition(args []string) (position, error) {
	if len(args) != 4 {
		return position{}, fmt.Errorf("requires <project> <module> <line> <col> arguments")
	}
	line, err := parseIntArg(args[2], "line")
	if err != nil {
		return position{}, err
	}
	col, err := parseIntArg(args[3], "col")
	if err != nil {
		return position{}, err
	}
	return position{project: args[0], module: args[1], line: line, col: col}, nil
}

// resolveDeclarationID resolves a declaration ID from either positional
// args (<project> <module> <line> <col>) or the --id flag.
func resolveDeclarationID(cmd *cobra.Command, args []string, q *mallard.QueryBuilder) (int64, error) {
	idFlag, _ := cmd.Flags().GetInt64("id")
	if idFlag != 0 {
		return idFlag, nil
	}
	pos, err := parsePosition(args)
	if err != nil {
		return 0, fmt.Errorf("%w, or the --id flag", err)
	}
	d, err := q.DeclarationAt(pos.project, pos.module, pos.line, pos.col)
	if err != nil {
		return 0, fmt.Errorf("looking up declaration: %w", err)
	}
	if d == nil {
		return 0, fmt.Errorf("no declaration found at %s.%s:%d:%d", pos.project, pos.module, pos.line, pos.col)
	}
	return d.ID, nil
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(os.Stdout, result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorLabel.Sprint("Error:"), err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// buildPagination creates a Pagination from CLI flags.
func buildPagination() mallard.Pagination {
	return mallard.Pagination{
		Limit:  flagLimit,
		Offset: flagOffset,
	}
}

// buildSort creates a Sort from CLI flags.
func buildSort() mallard.Sort {
	var field mallard.SortField
	switch flagSort {
	case "kind":
		field = mallard.SortByKind
	case "module":
		field = mallard.SortByModule
	case "ref_count":
		field = mallard.SortByRefCount
	case "external_ref_count":
		field = mallard.SortByExternalRefCount
	default:
		field = mallard.SortByName
	}

	var order mallard.SortOrder
	switch flagOrder {
	case "desc":
		order = mallard.Desc
	default:
		order = mallard.Asc
	}

	return mallard.Sort{Field: field, Order: order}
}

func declarationToCLI(d mallard.DeclarationResult) CLIDeclaration {
	return CLIDeclaration{
		ID:               d.ID,
		Name:             d.Name,
		QualifiedName:    d.QualifiedName,
		Kind:             d.Kind,
		Accessibility:    d.Accessibility,
		AsType:           d.AsType,
		Project:          d.Project,
		Module:           d.Module,
		BuiltIn:          d.IsBuiltIn,
		StartLine:        d.StartLine,
		StartCol:         d.StartCol,
		EndLine:          d.EndLine,
		EndCol:           d.EndCol,
		RefCount:         d.RefCount,
		ExternalRefCount: d.ExternalRefCount,
		InternalRefCount: d.InternalRefCount,
	}
}

func declarationsToCLI(items []mallard.DeclarationResult) []CLIDeclaration {
	out := make([]CLIDeclaration, len(items))
	for i, d := range items {
		out[i] = declarationToCLI(d)
	}
	return out
}

func moduleToCLI(m *store.Module) CLIModule {
	return CLIModule{
		ID:         m.ID,
		Project:    m.Project,
		Name:       m.Name,
		Kind:       m.Kind,
		Status:     m.Status,
		Provenance: m.Provenance,
		Error:      m.Error,
	}
}

func locationsToCLI(locs []mallard.Location) []CLILocation {
	out := make([]CLILocation, len(locs))
	for i, l := range locs {
		out[i] = CLILocation(l)
	}
	return out
}

// --- Position Commands ---

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List mirrored projects, libraries and modules with their status",
	Args:  cobra.NoArgs,
	RunE:  runModules,
}

func runModules(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("modules", err)
	}
	defer engine.Close()

	mods, err := engine.Query().Modules()
	if err != nil {
		return outputError("modules", err)
	}
	out := make([]CLIModule, len(mods))
	for i, m := range mods {
		out[i] = moduleToCLI(m)
	}
	return outputResult(CLIResult{Command: "modules", Results: out})
}

var declarationAtCmd = &cobra.Command{
	Use:   "declaration-at <project> <module> <line> <col>",
	Short: "Find the declaration at a position",
	Args:  cobra.ExactArgs(4),
	RunE:  runDeclarationAt,
}

func runDeclarationAt(cmd *cobra.Command, args []string) error {
	pos, err := parsePosition(args)
	if err != nil {
		return outputError("declaration-at", err)
	}
	engine, err := openEngine()
	if err != nil {
		return outputError("declaration-at", err)
	}
	defer engine.Close()

	q := engine.Query()
	d, err := q.DeclarationAt(pos.project, pos.module, pos.line, pos.col)
	if err != nil {
		return outputError("declaration-at", err)
	}
	if d == nil {
		return outputResult(CLIResult{Command: "declaration-at", Results: nil})
	}
	detail, err := q.DeclarationDetail(d.ID)
	if err != nil {
		return outputError("declaration-at", err)
	}
	return outputResult(CLIResult{Command: "declaration-at", Results: declarationToCLI(detail.Declaration)})
}

var definitionCmd = &cobra.Command{
	Use:   "definition <project> <module> <line> <col>",
	Short: "Go to the declaration a use binds to",
	Args:  cobra.ExactArgs(4),
	RunE:  runDefinition,
}

func runDefinition(cmd *cobra.Command, args []string) error {
	pos, err := parsePosition(args)
	if err != nil {
		return outputError("definition", err)
	}
	engine, err := openEngine()
	if err != nil {
		return outputError("definition", err)
	}
	defer engine.Close()

	locs, err := engine.Query().DefinitionAt(pos.project, pos.module, pos.line, pos.col)
	if err != nil {
		return outputError("definition", err)
	}
	return outputResult(CLIResult{Command: "definition", Results: locationsToCLI(locs)})
}

var referencesCmd = &cobra.Command{
	Use:   "references [<project> <module> <line> <col>]",
	Short: "Find every use bound to a declaration",
	Long:  "Accepts either <project> <module> <line> <col> positional args or --id <declaration id>.",
	Args:  cobra.MaximumNArgs(4),
	RunE:  runReferences,
}

func init() {
	referencesCmd.Flags().Int64("id", 0, "declaration ID to query")
}

func runReferences(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("references", err)
	}
	defer engine.Close()

	q := engine.Query()
	id, err := resolveDeclarationID(cmd, args, q)
	if err != nil {
		return outputError("references", err)
	}
	locs, err := q.ReferencesTo(id)
	if err != nil {
		return outputError("references", err)
	}
	return outputResult(CLIResult{Command: "references", Results: locationsToCLI(locs)})
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "List unresolved and ambiguous uses",
	Args:  cobra.NoArgs,
	RunE:  runDiagnostics,
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("diagnostics", err)
	}
	defer engine.Close()

	diags, err := engine.Query().Diagnostics()
	if err != nil {
		return outputError("diagnostics", err)
	}
	out := make([]CLIDiagnostic, len(diags))
	for i, d := range diags {
		out[i] = CLIDiagnostic{
			Project:    d.Project,
			Module:     d.Module,
			Name:       d.Name,
			Reason:     d.Reason,
			Message:    d.Message,
			Candidates: d.Candidates,
			Line:       d.Line,
			Col:        d.Col,
		}
	}
	return outputResult(CLIResult{Command: "diagnostics", Results: out})
}
