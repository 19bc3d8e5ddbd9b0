package mallard

import (
	"fmt"

	"github.com/jward/mallard/internal/store"
)

// DeclarationDetail is a combined response that bundles a declaration
// with its structural metadata. One call replaces several Store lookups.
type DeclarationDetail struct {
	Declaration DeclarationResult   // the declaration itself with ref counts
	Parameter   *store.Parameter    // parameter details; nil unless a Parameter
	Parameters  []DeclarationResult // parameters of a member, in order
	Children    []DeclarationResult // other direct children (locals, type and enum members)
	Annotations []*store.Annotation // '@ annotations (empty if none)
	Attributes  []*store.Attribute  // VB_ attributes (empty if none)
	ScopeChain  []DeclarationResult // enclosing declarations, innermost first
}

// DeclarationDetail returns the declaration and its structural metadata.
// Returns nil with no error if the declaration ID does not exist.
func (q *QueryBuilder) DeclarationDetail(id int64) (*DeclarationDetail, error) {
	dr, err := q.declarationResultByID(id)
	if err != nil {
		return nil, fmt.Errorf("declaration detail: %w", err)
	}
	if dr == nil {
		return nil, nil
	}

	detail := &DeclarationDetail{
		Declaration: *dr,
		Parameters:  []DeclarationResult{},
		Children:    []DeclarationResult{},
	}

	if detail.Parameter, err = q.store.ParameterOf(id); err != nil {
		return nil, fmt.Errorf("declaration detail: parameter: %w", err)
	}

	children, err := q.queryDeclarationResults(
		`SELECT `+resultCols+` FROM declarations d
		 JOIN modules m ON d.module_id = m.id
		 WHERE d.parent_id = ?
		 ORDER BY d.module_id, d.seq`, id)
	if err != nil {
		return nil, fmt.Errorf("declaration detail: children: %w", err)
	}
	for _, c := range children {
		if c.Kind == "Parameter" {
			detail.Parameters = append(detail.Parameters, c)
		} else {
			detail.Children = append(detail.Children, c)
		}
	}

	if detail.Annotations, err = q.store.Annotations(id); err != nil {
		return nil, fmt.Errorf("declaration detail: annotations: %w", err)
	}
	if detail.Attributes, err = q.store.Attributes(id); err != nil {
		return nil, fmt.Errorf("declaration detail: attributes: %w", err)
	}
	if detail.Annotations == nil {
		detail.Annotations = []*store.Annotation{}
	}
	if detail.Attributes == nil {
		detail.Attributes = []*store.Attribute{}
	}

	if detail.ScopeChain, err = q.ScopeChain(id); err != nil {
		return nil, fmt.Errorf("declaration detail: %w", err)
	}
	return detail, nil
}

// DeclarationDetailAt is a position-based convenience that finds the
// narrowest declaration at (line, col) in the module and returns its
// detail. Returns nil with no error if no declaration exists there.
func (q *QueryBuilder) DeclarationDetailAt(project, module string, line, col int) (*DeclarationDetail, error) {
	d, err := q.DeclarationAt(project, module, line, col)
	if err != nil {
		return nil, fmt.Errorf("declaration detail at: %w", err)
	}
	if d == nil {
		return nil, nil
	}
	return q.DeclarationDetail(d.ID)
}

// ScopeChain returns the enclosing declarations of id, innermost first,
// ending at its project or library.
func (q *QueryBuilder) ScopeChain(id int64) ([]DeclarationResult, error) {
	chain := []DeclarationResult{}
	d, err := q.store.DeclarationByID(id)
	if err != nil {
		return nil, fmt.Errorf("scope chain: %w", err)
	}
	seen := map[int64]bool{id: true}
	for d != nil && d.ParentID != nil {
		pid := *d.ParentID
		if seen[pid] {
			return nil, fmt.Errorf("scope chain: cycle at declaration %d", pid)
		}
		seen[pid] = true
		parent, err := q.declarationResultByID(pid)
		if err != nil {
			return nil, fmt.Errorf("scope chain: %w", err)
		}
		if parent == nil {
			break
		}
		chain = append(chain, *parent)
		d = &parent.Declaration
	}
	return chain, nil
}

// declarationResultByID loads one declaration with its ref counts, or nil.
func (q *QueryBuilder) declarationResultByID(id int64) (*DeclarationResult, error) {
	items, err := q.queryDeclarationResults(
		`SELECT `+resultCols+` FROM declarations d
		 JOIN modules m ON d.module_id = m.id
		 WHERE d.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}
