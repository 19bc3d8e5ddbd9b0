package symbols

import "github.com/jward/mallard/internal/naming"

// VariantType is the placeholder type for declarations whose type cannot be
// computed, e.g. a reflected member without a return type name.
const VariantType = "Variant"

var intrinsicTypes = map[string]string{}

func init() {
	for _, name := range []string{
		"Boolean", "Byte", "Integer", "Long", "LongLong", "LongPtr",
		"Single", "Double", "Currency", "Decimal", "Date", "String",
		"Object", "Variant", "Any",
	} {
		intrinsicTypes[naming.Fold(name)] = name
	}
}

// IsIntrinsicType reports whether name is a built-in VBA data type.
func IsIntrinsicType(name string) bool {
	_, ok := intrinsicTypes[naming.Fold(name)]
	return ok
}

var hintTypes = map[string]string{
	"%": "Integer",
	"&": "Long",
	"^": "LongLong",
	"@": "Currency",
	"!": "Single",
	"#": "Double",
	"$": "String",
}

// TypeForHint returns the type a shorthand type marker denotes.
func TypeForHint(hint string) (string, bool) {
	t, ok := hintTypes[hint]
	return t, ok
}
