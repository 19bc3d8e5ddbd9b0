package mallard

import (
	"github.com/jward/mallard/internal/coordinator"
	"github.com/jward/mallard/internal/registry"
	"github.com/jward/mallard/internal/store"
	"github.com/jward/mallard/internal/symbols"
)

// Public type aliases for internal types used in the Engine and
// QueryBuilder APIs.

type Store = store.Store
type Module = store.Module
type Declaration = store.Declaration
type Parameter = store.Parameter
type Annotation = store.Annotation
type Attribute = store.Attribute
type Binding = store.Binding
type Diagnostic = store.Diagnostic
type MirrorStats = store.MirrorStats

// Symbol is a declaration of the live snapshot.
type Symbol = symbols.Declaration
type Snapshot = registry.Snapshot

type State = coordinator.State
type Transition = coordinator.Transition
type Policy = coordinator.Policy
type ModuleRequest = coordinator.ModuleRequest

const (
	Isolate  = coordinator.Isolate
	BlockAll = coordinator.BlockAll
)

type Category = coordinator.Category
type ConflictError = coordinator.ConflictError

const (
	SyntaxError                = coordinator.SyntaxError
	ReflectionUnavailable      = coordinator.ReflectionUnavailable
	ResolutionConflict         = coordinator.ResolutionConflict
	CancellationRequested      = coordinator.CancellationRequested
	InternalInvariantViolation = coordinator.InternalInvariantViolation
)

// Classify maps an engine error to its category.
func Classify(err error) Category {
	return coordinator.Classify(err)
}
