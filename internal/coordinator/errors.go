package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/resolve"
	"github.com/jward/mallard/internal/symbols"
	"github.com/jward/mallard/internal/typelib"
	"github.com/jward/mallard/internal/vba"
)

var (
	ErrClosed             = errors.New("coordinator: closed")
	ErrUnknownProject     = errors.New("coordinator: unknown project")
	ErrNilContext         = errors.New("coordinator: nil context")
	ErrResolutionConflict = errors.New("coordinator: resolution conflict")
	// ErrInvariant marks a cycle that failed with ResolverError. It wraps
	// symbols.ErrInvariant so either sentinel matches.
	ErrInvariant = fmt.Errorf("coordinator: internal invariant violation: %w", symbols.ErrInvariant)
)

// Category is the error taxonomy hosts branch on.
type Category uint8

const (
	Unknown Category = iota
	SyntaxError
	ReflectionUnavailable
	ResolutionConflict
	CancellationRequested
	InternalInvariantViolation
)

var categoryNames = [...]string{
	Unknown:                    "Unknown",
	SyntaxError:                "SyntaxError",
	ReflectionUnavailable:      "ReflectionUnavailable",
	ResolutionConflict:         "ResolutionConflict",
	CancellationRequested:      "CancellationRequested",
	InternalInvariantViolation: "InternalInvariantViolation",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// Classify maps an error from this package or its collaborators to its
// category.
func Classify(err error) Category {
	var se *vba.SyntaxError
	switch {
	case err == nil:
		return Unknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CancellationRequested
	case errors.Is(err, symbols.ErrInvariant):
		return InternalInvariantViolation
	case errors.As(err, &se):
		return SyntaxError
	case errors.Is(err, typelib.ErrUnavailable):
		return ReflectionUnavailable
	case errors.Is(err, ErrResolutionConflict):
		return ResolutionConflict
	}
	return Unknown
}

// ConflictError presents a resolution diagnostic as an error.
type ConflictError struct {
	Diagnostic resolve.Diagnostic
}

func (e *ConflictError) Error() string {
	return e.Diagnostic.String()
}

func (e *ConflictError) Is(target error) bool { return target == ErrResolutionConflict }

// ModuleErr returns what kept a module of the last published snapshot from
// Ready: its syntax error and one *ConflictError per resolution diagnostic,
// joined. It is nil for a clean module or one the snapshot does not hold.
func (c *Coordinator) ModuleErr(unit naming.QualifiedModuleName) error {
	e, ok := c.reg.Current().Entry(unit)
	if !ok {
		return nil
	}
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Result != nil {
		for _, d := range e.Result.Diagnostics {
			errs = append(errs, &ConflictError{Diagnostic: d})
		}
	}
	return errors.Join(errs...)
}

// invariantError wraps a cause so that it matches ErrInvariant.
func invariantError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
