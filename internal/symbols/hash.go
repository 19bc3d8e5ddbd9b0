package symbols

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jward/mallard/internal/naming"
)

// ComputeSignatureHash computes a deterministic hash from a declaration's
// semantic identity: name, kind, accessibility, type, array flag,
// provenance, annotations, attributes and the ordered parameter shapes.
// Location changes do NOT affect the hash.
func ComputeSignatureHash(d *Declaration, lookup Lookup) string {
	h := sha256.New()
	writeSignature(h, d, lookup)
	fmt.Fprintf(h, "builtin:%v\n", d.f.IsBuiltIn)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func writeSignature(w io.Writer, d *Declaration, lookup Lookup) {
	fmt.Fprintf(w, "name:%s\n", d.f.Name.Member)
	fmt.Fprintf(w, "kind:%s\n", d.f.Kind)
	fmt.Fprintf(w, "access:%s\n", d.f.Accessibility)
	fmt.Fprintf(w, "type:%s:%s:%v\n", d.f.AsTypeName, d.f.TypeHint, d.f.IsArray)

	for _, a := range d.f.Annotations {
		fmt.Fprintf(w, "annotation:%s:%s\n", a.Name, strings.Join(a.Args, ","))
	}
	for _, a := range d.f.Attributes {
		fmt.Fprintf(w, "attribute:%s:%s\n", a.Name, strings.Join(a.Values, ","))
	}
	if d.parameter != nil {
		p := d.parameter
		fmt.Fprintf(w, "param:%d:%v:%v:%v:%s\n", p.Ordinal, p.Optional, p.ByRef, p.ParamArray, p.Default)
	}
	if d.constant != nil {
		fmt.Fprintf(w, "value:%s\n", d.constant.Value)
	}
	if d.library != nil {
		fmt.Fprintf(w, "lib:%s:%s\n", d.library.Lib, d.library.Alias)
	}
	if d.module != nil {
		fmt.Fprintf(w, "implements:%s\n", strings.Join(d.module.Implements, ","))
		fmt.Fprintf(w, "options:%s\n", strings.Join(d.module.Options, ","))
	}
	if d.project != nil {
		fmt.Fprintf(w, "references:%s\n", strings.Join(d.project.References, ","))
	}
	// Parameters in ordinal order, which is their list order.
	for _, ph := range d.params {
		if p, ok := lookup(ph); ok {
			fmt.Fprintf(w, "arg:%s:%s:%v\n", p.f.Name.Member, p.f.AsTypeName, p.f.IsArray)
		}
	}
}

// computeSetHash hashes each declaration's signature prefixed by its parent
// path, sorted so insertion order does not matter. Unit and provenance are
// left out so a reflected library and its source equivalent compare equal.
func computeSetHash(s *Set) string {
	lines := make([]string, 0, len(s.decls))
	for _, d := range s.decls {
		var b strings.Builder
		b.WriteString(parentPath(s, d))
		b.WriteByte('|')
		writeSignature(&b, d, s.Get)
		lines = append(lines, b.String())
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// parentPath names the chain of in-set ancestors, e.g. "Module1/Foo".
func parentPath(s *Set, d *Declaration) string {
	var parts []string
	cur := d.f.Parent
	for range MaxDepth {
		p, ok := s.Get(cur)
		if !ok {
			break
		}
		parts = append(parts, p.f.Kind.String()+":"+p.f.Name.Member)
		cur = p.f.Parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Equivalent reports whether two sets have the same structure: names,
// kinds, types and parameter orders, ignoring locations and handles.
func Equivalent(a, b *Set) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.hash == b.hash
}

// SameShape reports whether two declarations, possibly from different
// ingestion paths, have the same kind, name, type and parameter list.
func SameShape(a *Declaration, la Lookup, b *Declaration, lb Lookup) bool {
	if a.f.Kind != b.f.Kind || !naming.EqualFold(a.f.Name.Member, b.f.Name.Member) ||
		!naming.EqualFold(a.f.AsTypeName, b.f.AsTypeName) || a.f.IsArray != b.f.IsArray ||
		len(a.params) != len(b.params) {
		return false
	}
	for i := range a.params {
		pa, okA := la(a.params[i])
		pb, okB := lb(b.params[i])
		if !okA || !okB {
			return false
		}
		ia, _ := pa.Parameter()
		ib, _ := pb.Parameter()
		if ia.Ordinal != ib.Ordinal || !naming.EqualFold(pa.f.Name.Member, pb.f.Name.Member) ||
			!naming.EqualFold(pa.f.AsTypeName, pb.f.AsTypeName) || pa.f.IsArray != pb.f.IsArray {
			return false
		}
	}
	return true
}
