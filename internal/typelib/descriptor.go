// Package typelib ingests referenced type libraries. A library is described
// by a Library descriptor (read from YAML by DirProvider) and converted to a
// reflection-provenance declaration set shaped like the source path's.
package typelib

// TypeKind classifies a library type.
type TypeKind string

const (
	KindModule    TypeKind = "module"
	KindClass     TypeKind = "class"
	KindInterface TypeKind = "interface"
	KindEnum      TypeKind = "enum"
	KindRecord    TypeKind = "record"
)

// MemberKind classifies a member of a module, class or interface.
type MemberKind string

const (
	MemberSub         MemberKind = "sub"
	MemberFunction    MemberKind = "function"
	MemberPropertyGet MemberKind = "propertyget"
	MemberPropertyLet MemberKind = "propertylet"
	MemberPropertySet MemberKind = "propertyset"
	MemberEvent       MemberKind = "event"
	MemberConst       MemberKind = "const"
)

// Library describes one referenced type library.
type Library struct {
	Name    string `yaml:"name" msgpack:"name"`
	GUID    string `yaml:"guid,omitempty" msgpack:"guid"`
	Version string `yaml:"version,omitempty" msgpack:"version"`
	Types   []Type `yaml:"types" msgpack:"types"`
}

// Type is a module, class, interface, enum or record of a library.
type Type struct {
	Name    string   `yaml:"name" msgpack:"name"`
	Kind    TypeKind `yaml:"kind" msgpack:"kind"`
	Members []Member `yaml:"members,omitempty" msgpack:"members"`
	Fields  []Field  `yaml:"fields,omitempty" msgpack:"fields"`
}

// Member is a callable, event or constant. Parameters may appear in any
// order; Ordinal is authoritative.
type Member struct {
	Name        string      `yaml:"name" msgpack:"name"`
	Kind        MemberKind  `yaml:"kind" msgpack:"kind"`
	ReturnType  string      `yaml:"returns,omitempty" msgpack:"returns"`
	ReturnArray bool        `yaml:"returns_array,omitempty" msgpack:"returns_array"`
	Value       string      `yaml:"value,omitempty" msgpack:"value"`
	Parameters  []Parameter `yaml:"parameters,omitempty" msgpack:"parameters"`
}

// Parameter describes one parameter of a member.
type Parameter struct {
	Name       string `yaml:"name" msgpack:"name"`
	Type       string `yaml:"type,omitempty" msgpack:"type"`
	Array      bool   `yaml:"array,omitempty" msgpack:"array"`
	Ordinal    int    `yaml:"ordinal" msgpack:"ordinal"`
	Optional   bool   `yaml:"optional,omitempty" msgpack:"optional"`
	ByRef      bool   `yaml:"byref,omitempty" msgpack:"byref"`
	ParamArray bool   `yaml:"paramarray,omitempty" msgpack:"paramarray"`
	Default    string `yaml:"default,omitempty" msgpack:"default"`
}

// Field is an enum member or record field.
type Field struct {
	Name  string `yaml:"name" msgpack:"name"`
	Type  string `yaml:"type,omitempty" msgpack:"type"`
	Array bool   `yaml:"array,omitempty" msgpack:"array"`
	Value string `yaml:"value,omitempty" msgpack:"value"`
}
