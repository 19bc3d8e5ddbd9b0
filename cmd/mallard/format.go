package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

var (
	errorLabel  = color.New(color.FgRed, color.Bold)
	readyColor  = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	failedColor = color.New(color.FgRed)
	headerColor = color.New(color.Bold)
)

// statusText colours a module status or coordinator state.
func statusText(status string) string {
	switch status {
	case "ready", "Ready":
		return readyColor.Sprint(status)
	case "unresolved", "blocked":
		return warnColor.Sprint(status)
	case "parser-error", "ParserError", "ResolverError":
		return failedColor.Sprint(status)
	}
	return status
}

// moduleName renders a module as project.module, or project alone for a
// project or library.
func moduleName(project, module string) string {
	if module == "" {
		return project
	}
	return project + "." + module
}

// formatLocationsText formats CLILocation results as
// "project.module:line:col name" lines.
func formatLocationsText(w io.Writer, locs []CLILocation) {
	for _, loc := range locs {
		fmt.Fprintf(w, "%s:%d:%d %s\n", moduleName(loc.Project, loc.Module), loc.StartLine, loc.StartCol, loc.Name)
	}
}

// formatDeclarationsText formats CLIDeclaration results as aligned columns.
func formatDeclarationsText(w io.Writer, decls []CLIDeclaration) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tACCESS\tMODULE\tLINE\tREFS")
	for _, d := range decls {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\n",
			d.ID, d.Name, d.Kind, d.Accessibility, moduleName(d.Project, d.Module), d.StartLine, d.RefCount)
	}
	tw.Flush()
}

// formatModulesText formats CLIModule results as aligned columns.
func formatModulesText(w io.Writer, mods []CLIModule) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODULE\tKIND\tSTATUS\tERROR")
	for _, m := range mods {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			m.ID, moduleName(m.Project, m.Name), m.Kind, statusText(m.Status), m.Error)
	}
	tw.Flush()
}

// formatDiagnosticsText formats CLIDiagnostic results as compiler-style
// lines.
func formatDiagnosticsText(w io.Writer, diags []CLIDiagnostic) {
	for _, d := range diags {
		fmt.Fprintf(w, "%s:%d:%d: %s: %s\n",
			moduleName(d.Project, d.Module), d.Line, d.Col, warnColor.Sprint(d.Reason), d.Message)
	}
}

// formatIndexText formats an index run.
func formatIndexText(w io.Writer, s CLIIndexSummary) {
	fmt.Fprintf(w, "State: %s\n", statusText(s.State))
	fmt.Fprintf(w, "Files: %d (changed %d, unchanged %d, removed %d)\n", s.Files, s.Changed, s.Unchanged, s.Removed)
	fmt.Fprintln(w)
	if len(s.Modules) > 0 {
		formatModulesText(w, s.Modules)
	}
	if len(s.Unavailable) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Unavailable libraries:")
		for _, name := range sortedKeys(s.Unavailable) {
			fmt.Fprintf(w, "  %s: %s\n", failedColor.Sprint(name), s.Unavailable[name])
		}
	}
}

// formatSummaryText formats CLIWorkspaceSummary as readable text.
func formatSummaryText(w io.Writer, summary CLIWorkspaceSummary) {
	fmt.Fprintln(w, headerColor.Sprint("Workspace Summary"))
	fmt.Fprintln(w, "=================")
	fmt.Fprintf(w, "Version: %d\n", summary.Version)
	fmt.Fprintf(w, "Diagnostics: %d\n", summary.DiagnosticCount)
	fmt.Fprintln(w)

	for _, p := range summary.Projects {
		fmt.Fprintf(w, "Project %s: %d modules, %d declarations\n", p.Name, p.ModuleCount, p.DeclarationCount)
		for _, status := range sortedKeys(p.StatusCounts) {
			fmt.Fprintf(w, "  %s: %d\n", statusText(status), p.StatusCounts[status])
		}
	}
	if len(summary.Libraries) > 0 {
		fmt.Fprintf(w, "\nLibraries: %s\n", strings.Join(summary.Libraries, ", "))
	}
	if len(summary.Unavailable) > 0 {
		fmt.Fprintf(w, "Unavailable: %s\n", failedColor.Sprint(strings.Join(sortedKeys(summary.Unavailable), ", ")))
	}

	if len(summary.TopDeclarations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Top Declarations by External References:")
		for _, d := range summary.TopDeclarations {
			fmt.Fprintf(w, "  %s (%s) - %d refs\n", d.QualifiedName, d.Kind, d.ExternalRefCount)
		}
	}
}

// formatModuleSummaryText formats CLIModuleSummary as readable text.
func formatModuleSummaryText(w io.Writer, s CLIModuleSummary) {
	fmt.Fprintf(w, "Module: %s\n", moduleName(s.Module.Project, s.Module.Name))
	fmt.Fprintf(w, "Kind: %s\n", s.Module.Kind)
	fmt.Fprintf(w, "Status: %s\n", statusText(s.Module.Status))
	fmt.Fprintf(w, "Diagnostics: %d\n", s.DiagnosticCount)
	fmt.Fprintln(w)

	if len(s.KindCounts) > 0 {
		fmt.Fprintln(w, "Declaration Kinds:")
		for _, kind := range sortedKeys(s.KindCounts) {
			fmt.Fprintf(w, "  %s: %d\n", kind, s.KindCounts[kind])
		}
		fmt.Fprintln(w)
	}

	if len(s.Members) > 0 {
		fmt.Fprintln(w, "Public Members:")
		formatDeclarationsText(w, s.Members)
		fmt.Fprintln(w)
	}

	if len(s.Dependencies) > 0 {
		fmt.Fprintln(w, "Dependencies:")
		for _, dep := range s.Dependencies {
			fmt.Fprintf(w, "  %s\n", dep)
		}
		fmt.Fprintln(w)
	}

	if len(s.Dependents) > 0 {
		fmt.Fprintln(w, "Dependents:")
		for _, dep := range s.Dependents {
			fmt.Fprintf(w, "  %s\n", dep)
		}
	}
}

// formatDetailText formats CLIDeclarationDetail as readable text.
func formatDetailText(w io.Writer, d CLIDeclarationDetail) {
	decl := d.Declaration
	fmt.Fprintf(w, "%s %s (%s)\n", headerColor.Sprint(decl.Kind), decl.QualifiedName, decl.Accessibility)
	fmt.Fprintf(w, "At: %s:%d:%d\n", moduleName(decl.Project, decl.Module), decl.StartLine, decl.StartCol)
	if decl.AsType != "" {
		fmt.Fprintf(w, "As: %s\n", decl.AsType)
	}
	fmt.Fprintf(w, "References: %d (%d external)\n", decl.RefCount, decl.ExternalRefCount)

	if p := d.Parameter; p != nil {
		mode := "ByVal"
		if p.ByRef {
			mode = "ByRef"
		}
		fmt.Fprintf(w, "Parameter: #%d %s", p.Ordinal, mode)
		if p.Optional {
			fmt.Fprintf(w, " Optional = %s", p.Default)
		}
		fmt.Fprintln(w)
	}
	if len(d.Parameters) > 0 {
		names := make([]string, len(d.Parameters))
		for i, p := range d.Parameters {
			names[i] = p.Name
		}
		fmt.Fprintf(w, "Parameters: %s\n", strings.Join(names, ", "))
	}
	for _, a := range d.Annotations {
		fmt.Fprintf(w, "@%s %s\n", a.Name, strings.Join(a.Args, ", "))
	}
	for _, a := range d.Attributes {
		fmt.Fprintf(w, "Attribute %s = %s\n", a.Name, strings.Join(a.Values, ", "))
	}
	if len(d.Children) > 0 {
		fmt.Fprintln(w)
		formatDeclarationsText(w, d.Children)
	}
	if len(d.ScopeChain) > 0 {
		scope := make([]string, len(d.ScopeChain))
		for i, s := range d.ScopeChain {
			scope[i] = s.Name
		}
		fmt.Fprintf(w, "\nScope: %s\n", strings.Join(scope, " < "))
	}
}

// formatGraphText formats CLIModuleGraph as nodes then edges.
func formatGraphText(w io.Writer, g CLIModuleGraph) {
	names := make(map[int64]string, len(g.Nodes))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEPTH\tMODULE\tSTATUS")
	for _, n := range g.Nodes {
		name := moduleName(n.Module.Project, n.Module.Name)
		names[n.Module.ID] = name
		fmt.Fprintf(tw, "%d\t%s\t%s\n", n.Depth, name, statusText(n.Module.Status))
	}
	tw.Flush()
	if len(g.Edges) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, e := range g.Edges {
		fmt.Fprintf(w, "%s -> %s (%d)\n", names[e.From], names[e.To], e.Uses)
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []CLILocation:
		formatLocationsText(w, v)
	case []CLIDeclaration:
		formatDeclarationsText(w, v)
	case CLIDeclaration:
		formatDeclarationsText(w, []CLIDeclaration{v})
	case []CLIModule:
		formatModulesText(w, v)
	case []CLIDiagnostic:
		formatDiagnosticsText(w, v)
	case CLIIndexSummary:
		formatIndexText(w, v)
	case CLIWorkspaceSummary:
		formatSummaryText(w, v)
	case CLIModuleSummary:
		formatModuleSummaryText(w, v)
	case CLIDeclarationDetail:
		formatDetailText(w, v)
	case CLIModuleGraph:
		formatGraphText(w, v)
	case nil:
		// No output for nil results (e.g., declaration-at with no match).
	default:
		fmt.Fprintf(w, "%v\n", v)
	}

	// Pagination footer.
	if result.TotalCount != nil {
		count := *result.TotalCount
		shown := resultLen(result.Results)
		if shown < count {
			fmt.Fprintf(w, "\nShowing %d of %d results\n", shown, count)
		}
	}
	if result.Error != "" {
		fmt.Fprintf(w, "%s %s\n", errorLabel.Sprint("Error:"), result.Error)
	}
	return nil
}

// resultLen returns the length of a result slice, or 1 for a single value.
func resultLen(v any) int {
	switch r := v.(type) {
	case []CLILocation:
		return len(r)
	case []CLIDeclaration:
		return len(r)
	case []CLIModule:
		return len(r)
	case []CLIDiagnostic:
		return len(r)
	case nil:
		return 0
	default:
		return 1
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
