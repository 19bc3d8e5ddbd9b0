package vba

import (
	"strings"

	"github.com/jward/mallard/internal/naming"
)

var moduleAnnotations = map[string]bool{
	"folder":            true,
	"moduledescription": true,
	"testmodule":        true,
	"predeclaredid":     true,
	"exposed":           true,
	"ignoremodule":      true,
	"interface":         true,
	"moduleattribute":   true,
}

func isModuleAnnotation(name string) bool {
	return moduleAnnotations[naming.Fold(name)]
}

// parseAnnotation reads a comment of the form '@Name, '@Name arg1, arg2 or
// '@Name("arg1", "arg2").
func parseAnnotation(c Token) (Annotation, bool) {
	text := strings.TrimSpace(c.Text)
	if !strings.HasPrefix(text, "@") {
		return Annotation{}, false
	}
	text = text[1:]
	n := 0
	for n < len(text) && isIdentPart([]byte(text[n:])) {
		n++
	}
	if n == 0 {
		return Annotation{}, false
	}
	a := Annotation{Name: text[:n], Sel: c.Span()}

	rest := strings.TrimSpace(text[n:])
	if strings.HasPrefix(rest, "(") {
		if end := strings.LastIndex(rest, ")"); end > 0 {
			rest = rest[1:end]
		} else {
			rest = rest[1:]
		}
	}
	a.Args = splitArgs(rest)
	return a, true
}

// splitArgs splits on commas outside double quotes and unquotes each part.
func splitArgs(s string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		arg := strings.TrimSpace(cur.String())
		cur.Reset()
		if len(arg) >= 2 && arg[0] == '"' && arg[len(arg)-1] == '"' {
			arg = strings.ReplaceAll(arg[1:len(arg)-1], `""`, `"`)
		}
		if arg != "" {
			out = append(out, arg)
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inQuote = !inQuote
			cur.WriteByte(ch)
		case ch == ',' && !inQuote:
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return out
}
