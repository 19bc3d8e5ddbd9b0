package symbols

import (
	"fmt"
	"sync/atomic"
)

// DeclarationType discriminates the declaration variants. It never changes
// after construction.
type DeclarationType uint8

const (
	Project DeclarationType = iota + 1
	ProceduralModule
	ClassModule
	Document
	UserForm
	Procedure
	Function
	PropertyGet
	PropertyLet
	PropertySet
	Event
	Variable
	Parameter
	Constant
	UserDefinedType
	UserDefinedTypeMember
	Enumeration
	EnumerationMember
	LibraryProcedure
	LibraryFunction
)

var declarationTypeNames = map[DeclarationType]string{
	Project:               "Project",
	ProceduralModule:      "ProceduralModule",
	ClassModule:           "ClassModule",
	Document:              "Document",
	UserForm:              "UserForm",
	Procedure:             "Procedure",
	Function:              "Function",
	PropertyGet:           "PropertyGet",
	PropertyLet:           "PropertyLet",
	PropertySet:           "PropertySet",
	Event:                 "Event",
	Variable:              "Variable",
	Parameter:             "Parameter",
	Constant:              "Constant",
	UserDefinedType:       "UserDefinedType",
	UserDefinedTypeMember: "UserDefinedTypeMember",
	Enumeration:           "Enumeration",
	EnumerationMember:     "EnumerationMember",
	LibraryProcedure:      "LibraryProcedure",
	LibraryFunction:       "LibraryFunction",
}

func (k DeclarationType) String() string {
	if s, ok := declarationTypeNames[k]; ok {
		return s
	}
	return fmt.Sprintf("DeclarationType(%d)", uint8(k))
}

// ParseDeclarationType maps a kind name back to its DeclarationType.
func ParseDeclarationType(s string) (DeclarationType, bool) {
	for k, name := range declarationTypeNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// IsModule reports whether k is one of the module kinds.
func (k DeclarationType) IsModule() bool {
	switch k {
	case ProceduralModule, ClassModule, Document, UserForm:
		return true
	}
	return false
}

// IsParameterized reports whether declarations of kind k own a parameter list.
func (k DeclarationType) IsParameterized() bool {
	switch k {
	case Procedure, Function, PropertyGet, PropertyLet, PropertySet, Event,
		LibraryProcedure, LibraryFunction:
		return true
	}
	return false
}

// IsMember reports whether k is a module-level member kind.
func (k DeclarationType) IsMember() bool {
	switch k {
	case Procedure, Function, PropertyGet, PropertyLet, PropertySet, Event,
		Variable, Constant, UserDefinedType, Enumeration,
		LibraryProcedure, LibraryFunction:
		return true
	}
	return false
}

// IsType reports whether a declaration of kind k can be named in an As clause.
func (k DeclarationType) IsType() bool {
	switch k {
	case ClassModule, Document, UserForm, UserDefinedType, Enumeration:
		return true
	}
	return false
}

// Accessibility is the declared visibility of a symbol.
type Accessibility uint8

const (
	Implicit Accessibility = iota
	Private
	Public
	Friend
	Global
)

func (a Accessibility) String() string {
	switch a {
	case Implicit:
		return "Implicit"
	case Private:
		return "Private"
	case Public:
		return "Public"
	case Friend:
		return "Friend"
	case Global:
		return "Global"
	}
	return fmt.Sprintf("Accessibility(%d)", uint8(a))
}

// IsExported reports whether the symbol is visible outside its module.
// Implicit members of procedural modules are public in VBA.
func (a Accessibility) IsExported() bool {
	return a != Private
}

// Provenance records where a declaration came from.
type Provenance uint8

const (
	FromSource Provenance = iota
	FromReflection
)

func (p Provenance) String() string {
	if p == FromReflection {
		return "reflection"
	}
	return "source"
}

// SetID identifies a declaration set. IDs are never reused within a process.
type SetID uint32

var lastSetID atomic.Uint32

// NewSetID allocates a fresh set identifier.
func NewSetID() SetID {
	return SetID(lastSetID.Add(1))
}

// Handle is a stable reference to a declaration inside its set: the set id
// in the high 32 bits and the 1-based index in the low 32 bits. Parent
// links are handles, never pointers.
type Handle uint64

// NoHandle is the absent handle; project declarations have it as parent.
const NoHandle Handle = 0

// MakeHandle builds the handle for the index-th (0-based) declaration of set.
func MakeHandle(set SetID, index uint32) Handle {
	return Handle(uint64(set)<<32 | uint64(index+1))
}

// Set returns the id of the set that owns the handle.
func (h Handle) Set() SetID {
	return SetID(h >> 32)
}

// Index returns the 0-based position of the declaration in its set.
func (h Handle) Index() int {
	return int(uint32(h)) - 1
}

func (h Handle) String() string {
	if h == NoHandle {
		return "#none"
	}
	return fmt.Sprintf("#%d:%d", h.Set(), h.Index())
}
