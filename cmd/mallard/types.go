package main

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIDeclaration is a JSON-friendly declaration representation.
type CLIDeclaration struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	QualifiedName    string `json:"qualified_name"`
	Kind             string `json:"kind"`
	Accessibility    string `json:"accessibility"`
	AsType           string `json:"as_type,omitempty"`
	Project          string `json:"project"`
	Module           string `json:"module,omitempty"`
	BuiltIn          bool   `json:"builtin,omitempty"`
	StartLine        int    `json:"start_line"`
	StartCol         int    `json:"start_col"`
	EndLine          int    `json:"end_line"`
	EndCol           int    `json:"end_col"`
	RefCount         int    `json:"ref_count"`
	ExternalRefCount int    `json:"external_ref_count"`
	InternalRefCount int    `json:"internal_ref_count"`
}

// CLILocation is a named span within a module.
type CLILocation struct {
	Project   string `json:"project"`
	Module    string `json:"module,omitempty"`
	Name      string `json:"name"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}

// CLIModule is a mirrored module and its status.
type CLIModule struct {
	ID         int64  `json:"id"`
	Project    string `json:"project"`
	Name       string `json:"name,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Status     string `json:"status"`
	Provenance string `json:"provenance"`
	Error      string `json:"error,omitempty"`
}

// CLIDiagnostic is an unresolved or ambiguous use.
type CLIDiagnostic struct {
	Project    string `json:"project"`
	Module     string `json:"module"`
	Name       string `json:"name"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
	Candidates int    `json:"candidates,omitempty"`
	Line       int    `json:"line"`
	Col        int    `json:"col"`
}

// CLIIndexSummary reports one index run.
type CLIIndexSummary struct {
	State       string            `json:"state"`
	Files       int               `json:"files"`
	Changed     int               `json:"changed"`
	Unchanged   int               `json:"unchanged"`
	Removed     int               `json:"removed"`
	Version     uint64            `json:"version,omitempty"`
	Modules     []CLIModule       `json:"modules"`
	Unavailable map[string]string `json:"unavailable,omitempty"`
}

// CLIProjectStats is one project of a workspace summary.
type CLIProjectStats struct {
	Name             string         `json:"name"`
	ModuleCount      int            `json:"module_count"`
	DeclarationCount int            `json:"declaration_count"`
	KindCounts       map[string]int `json:"kind_counts"`
	StatusCounts     map[string]int `json:"status_counts"`
}

// CLIWorkspaceSummary is a JSON-friendly workspace summary.
type CLIWorkspaceSummary struct {
	Version         uint64            `json:"version"`
	Projects        []CLIProjectStats `json:"projects"`
	Libraries       []string          `json:"libraries"`
	Unavailable     map[string]string `json:"unavailable,omitempty"`
	DiagnosticCount int               `json:"diagnostic_count"`
	TopDeclarations []CLIDeclaration  `json:"top_declarations"`
}

// CLIModuleSummary is a JSON-friendly module summary.
type CLIModuleSummary struct {
	Module          CLIModule        `json:"module"`
	Members         []CLIDeclaration `json:"members"`
	KindCounts      map[string]int   `json:"kind_counts"`
	DiagnosticCount int              `json:"diagnostic_count"`
	Dependencies    []string         `json:"dependencies"`
	Dependents      []string         `json:"dependents"`
}

// CLIParameter carries the parameter details of a Parameter declaration.
type CLIParameter struct {
	Ordinal    int    `json:"ordinal"`
	Optional   bool   `json:"optional,omitempty"`
	ByRef      bool   `json:"by_ref"`
	ParamArray bool   `json:"param_array,omitempty"`
	Default    string `json:"default,omitempty"`
}

// CLIAnnotation is an '@ annotation.
type CLIAnnotation struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
	Line int      `json:"line"`
}

// CLIAttribute is a VB_ attribute.
type CLIAttribute struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// CLIDeclarationDetail bundles a declaration with its structure.
type CLIDeclarationDetail struct {
	Declaration CLIDeclaration   `json:"declaration"`
	Parameter   *CLIParameter    `json:"parameter,omitempty"`
	Parameters  []CLIDeclaration `json:"parameters"`
	Children    []CLIDeclaration `json:"children"`
	Annotations []CLIAnnotation  `json:"annotations"`
	Attributes  []CLIAttribute   `json:"attributes"`
	ScopeChain  []CLIDeclaration `json:"scope_chain"`
}

// CLIModuleNode is a module reached by a graph traversal.
type CLIModuleNode struct {
	Module CLIModule `json:"module"`
	Depth  int       `json:"depth"`
}

// CLIModuleEdge says From binds Uses times into To.
type CLIModuleEdge struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
	Uses int   `json:"uses"`
}

// CLIModuleGraph is a JSON-friendly module graph.
type CLIModuleGraph struct {
	Root  int64           `json:"root,omitempty"`
	Nodes []CLIModuleNode `json:"nodes"`
	Edges []CLIModuleEdge `json:"edges"`
	Depth int             `json:"depth"`
}
