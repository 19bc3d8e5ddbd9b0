package coordinator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the coordinator's position in a parse/resolve cycle.
type State uint8

const (
	Pending State = iota
	LoadingReferences
	Parsing
	ParserError
	ResolvingDeclarations
	ResolvingReferences
	Ready
	ResolverError
)

var stateNames = [...]string{
	Pending:               "Pending",
	LoadingReferences:     "LoadingReferences",
	Parsing:               "Parsing",
	ParserError:           "ParserError",
	ResolvingDeclarations: "ResolvingDeclarations",
	ResolvingReferences:   "ResolvingReferences",
	Ready:                 "Ready",
	ResolverError:         "ResolverError",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Settled reports whether s is a state a new cycle may start from.
func (s State) Settled() bool {
	switch s {
	case Pending, Ready, ParserError, ResolverError:
		return true
	}
	return false
}

// transitions lists the legal successors of each state. Pending may also
// return to the settled state a cancelled cycle started from. Every
// in-cycle state may unwind to Pending on cancellation or fail to
// ResolverError; those edges are added in init.
var transitions = map[State][]State{
	Pending:               {LoadingReferences, Ready, ParserError},
	LoadingReferences:     {Parsing},
	Parsing:               {ResolvingDeclarations, ParserError},
	ResolvingDeclarations: {ResolvingReferences},
	ResolvingReferences:   {Ready, ParserError},
	Ready:                 {Pending},
	ParserError:           {Pending},
	ResolverError:         {Pending},
}

func init() {
	for _, s := range []State{Pending, LoadingReferences, Parsing, ResolvingDeclarations, ResolvingReferences} {
		transitions[s] = append(transitions[s], ResolverError)
		if s != Pending {
			transitions[s] = append(transitions[s], Pending)
		}
	}
}

func legal(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one state change, delivered to subscribers in order.
type Transition struct {
	From  State
	To    State
	Cycle uuid.UUID
	At    time.Time
}

func (t Transition) String() string {
	return fmt.Sprintf("%s -> %s", t.From, t.To)
}

// Policy decides how a syntax error in one module affects the cycle.
type Policy uint8

const (
	// Isolate keeps the failed module's last good declarations, blocks
	// modules that bind into it and resolves everything else.
	Isolate Policy = iota
	// BlockAll skips resolution and blocks every source module.
	BlockAll
)

func (p Policy) String() string {
	if p == BlockAll {
		return "block-all"
	}
	return "isolate"
}

// ParsePolicy parses "isolate" or "block-all".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "isolate":
		return Isolate, nil
	case "block-all", "blockall":
		return BlockAll, nil
	}
	return Isolate, fmt.Errorf("coordinator: unknown syntax error policy %q", s)
}
