package symbols

import (
	"slices"

	"github.com/jward/mallard/internal/naming"
)

// Annotation is a '@Name directive comment attached to a declaration.
type Annotation struct {
	Name      string
	Args      []string
	Selection naming.Selection
}

// Attribute is one VB attribute statement, e.g. VB_Description = "...".
type Attribute struct {
	Name   string
	Values []string
}

// Attributes keeps every attribute statement in source order. Names are not
// unique: a repeated statement is retained, Get is last-wins and All returns
// each statement's values.
type Attributes []Attribute

// Add appends a statement.
func (a *Attributes) Add(name string, values ...string) {
	*a = append(*a, Attribute{Name: name, Values: slices.Clone(values)})
}

// Get returns the values of the last statement named name.
func (a Attributes) Get(name string) ([]string, bool) {
	for i := len(a) - 1; i >= 0; i-- {
		if naming.EqualFold(a[i].Name, name) {
			return slices.Clone(a[i].Values), true
		}
	}
	return nil, false
}

// All returns the values of every statement named name, in source order.
func (a Attributes) All(name string) [][]string {
	var out [][]string
	for _, attr := range a {
		if naming.EqualFold(attr.Name, name) {
			out = append(out, slices.Clone(attr.Values))
		}
	}
	return out
}

// Has reports whether any statement is named name.
func (a Attributes) Has(name string) bool {
	_, ok := a.Get(name)
	return ok
}

func (a Attributes) clone() Attributes {
	if len(a) == 0 {
		return nil
	}
	out := make(Attributes, len(a))
	for i, attr := range a {
		out[i] = Attribute{Name: attr.Name, Values: slices.Clone(attr.Values)}
	}
	return out
}

func cloneAnnotations(in []Annotation) []Annotation {
	if len(in) == 0 {
		return nil
	}
	out := make([]Annotation, len(in))
	for i, a := range in {
		out[i] = Annotation{Name: a.Name, Args: slices.Clone(a.Args), Selection: a.Selection}
	}
	return out
}
