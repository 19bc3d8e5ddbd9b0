// Package naming holds the value types that identify modules, members and
// source spans across projects.
package naming

import (
	"fmt"

	"golang.org/x/text/cases"
)

// QualifiedModuleName identifies a module within a project. A zero Module
// names the project (or referenced library) itself.
type QualifiedModuleName struct {
	Project string
	Module  string
}

// ProjectUnit returns the name of the project-level unit for project.
func ProjectUnit(project string) QualifiedModuleName {
	return QualifiedModuleName{Project: project}
}

// IsProject reports whether q names a project rather than a module.
func (q QualifiedModuleName) IsProject() bool {
	return q.Module == ""
}

// QualifyMember returns the qualified name of a member of this module.
func (q QualifiedModuleName) QualifyMember(member string) QualifiedMemberName {
	return QualifiedMemberName{Module: q, Member: member}
}

// Fold returns a case-folded copy suitable for case-insensitive comparison.
func (q QualifiedModuleName) Fold() QualifiedModuleName {
	return QualifiedModuleName{Project: Fold(q.Project), Module: Fold(q.Module)}
}

func (q QualifiedModuleName) String() string {
	if q.Module == "" {
		return q.Project
	}
	return q.Project + "." + q.Module
}

// Less orders module names by project then module.
func (q QualifiedModuleName) Less(o QualifiedModuleName) bool {
	if q.Project != o.Project {
		return q.Project < o.Project
	}
	return q.Module < o.Module
}

// QualifiedMemberName identifies a member of a module. It is unique within
// a module's scope but not globally: shadowing across scopes is legal.
type QualifiedMemberName struct {
	Module QualifiedModuleName
	Member string
}

func (q QualifiedMemberName) String() string {
	if q.Member == "" {
		return q.Module.String()
	}
	return q.Module.String() + "." + q.Member
}

// Selection is a 1-based source span. The zero value is Home.
type Selection struct {
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// Home marks a declaration with no concrete source text, such as one
// reflected from a compiled type library.
var Home = Selection{}

// NewSelection builds a Selection from start and end positions.
func NewSelection(startLine, startCol, endLine, endCol int) Selection {
	return Selection{StartLine: startLine, StartCol: startCol, EndLine: endLine, EndCol: endCol}
}

func (s Selection) IsHome() bool {
	return s == Home
}

// Contains reports whether the position falls inside the span, inclusive.
func (s Selection) Contains(line, col int) bool {
	if s.IsHome() {
		return false
	}
	if line < s.StartLine || line > s.EndLine {
		return false
	}
	if line == s.StartLine && col < s.StartCol {
		return false
	}
	if line == s.EndLine && col > s.EndCol {
		return false
	}
	return true
}

// Encloses reports whether o lies entirely within s.
func (s Selection) Encloses(o Selection) bool {
	return s.Contains(o.StartLine, o.StartCol) && s.Contains(o.EndLine, o.EndCol)
}

// Lines returns the number of lines the span covers.
func (s Selection) Lines() int {
	if s.IsHome() {
		return 0
	}
	return s.EndLine - s.StartLine + 1
}

func (s Selection) String() string {
	if s.IsHome() {
		return "home"
	}
	return fmt.Sprintf("L%dC%d-L%dC%d", s.StartLine, s.StartCol, s.EndLine, s.EndCol)
}

// Fold returns the case-insensitive key for an identifier.
// A Caser is stateful, so each call gets its own.
func Fold(name string) string {
	return cases.Fold().String(name)
}

// EqualFold reports whether two identifiers denote the same name.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}
