package symbols

import "fmt"

// MaxDepth bounds the parent chain: Project -> Module -> Type/Procedure ->
// member/parameter/local, with room for nested UDT and enum members.
const MaxDepth = 8

// ValidateChain follows parent handles from h and checks that the chain ends
// at a Project with no parent within MaxDepth steps.
func ValidateChain(lookup Lookup, h Handle) error {
	seen := make(map[Handle]bool, MaxDepth)
	cur := h
	for step := 0; step <= MaxDepth; step++ {
		if seen[cur] {
			return fmt.Errorf("%w: parent cycle through %s", ErrInvariant, cur)
		}
		seen[cur] = true

		d, ok := lookup(cur)
		if !ok {
			return fmt.Errorf("%w: dangling handle %s in chain of %s", ErrInvariant, cur, h)
		}
		if d.f.Parent == NoHandle {
			if d.f.Kind != Project {
				return fmt.Errorf("%w: %s has no parent and is not a project", ErrInvariant, d)
			}
			return nil
		}
		cur = d.f.Parent
	}
	return fmt.Errorf("%w: parent chain of %s exceeds depth %d", ErrInvariant, h, MaxDepth)
}

// Validate checks every declaration's parent chain and that scope handles
// resolve.
func (s *Set) Validate(lookup Lookup) error {
	for _, d := range s.decls {
		if err := ValidateChain(lookup, d.handle); err != nil {
			return err
		}
		if d.f.ParentScope != NoHandle {
			if _, ok := lookup(d.f.ParentScope); !ok {
				return fmt.Errorf("%w: %s has dangling scope %s", ErrInvariant, d, d.f.ParentScope)
			}
		}
	}
	return nil
}
