package store

import "time"

// Declaration domain types

// Module is one unit of a snapshot: a source module, a project or a
// referenced library (Name empty for the latter two).
type Module struct {
	ID         int64
	Project    string
	Name       string
	Kind       string
	Status     string
	Provenance string
	Digest     string
	SetHash    string
	Error      string
	IndexedAt  time.Time
}

type Declaration struct {
	ID            int64
	ModuleID      int64
	ParentID      *int64
	Seq           int
	Name          string
	QualifiedName string
	Kind          string
	Accessibility string
	AsType        string
	TypeHint      string
	IsArray       bool
	IsBuiltIn     bool
	SignatureHash string
	Value         string
	StartLine     int
	StartCol      int
	EndLine       int
	EndCol        int
}

type Parameter struct {
	ID            int64
	DeclarationID int64
	Ordinal       int
	Optional      bool
	ByRef         bool
	ParamArray    bool
	Default       string
}

type Annotation struct {
	ID            int64
	DeclarationID int64
	Name          string
	Args          []string
	Line          int
	Col           int
}

type Attribute struct {
	ID            int64
	DeclarationID int64
	Name          string
	Values        []string
}

// Resolution domain types

// Binding is a use bound to a declaration. EndLine and EndCol close the
// use's span, qualifier and type hint included; EndCol is exclusive.
type Binding struct {
	ID        int64
	ModuleID  int64
	ScopeID   *int64
	Name      string
	Qualifier string
	UseKind   string
	Line      int
	Col       int
	EndLine   int
	EndCol    int
	TargetID  int64
}

// Contains reports whether line:col falls inside the use.
func (b *Binding) Contains(line, col int) bool {
	if line < b.Line || line > b.EndLine {
		return false
	}
	if line == b.Line && col < b.Col {
		return false
	}
	return line < b.EndLine || col < b.EndCol
}

type Diagnostic struct {
	ID         int64
	ModuleID   int64
	Name       string
	Reason     string
	Message    string
	Candidates int
	Line       int
	Col        int
}
