package vba

import (
	"strings"

	"github.com/jward/mallard/internal/naming"
)

// statementKeywords are words that never name a declaration in executable
// code.
var statementKeywords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`
		and as byref byval call case const dim do each else elseif empty end
		eqv erase error exit explicit false for friend function get global
		gosub goto if imp in is let like loop me mod new next not nothing null
		on optional or paramarray preserve private property public raiseevent
		redim resume select set static step stop sub then to true typeof until
		wend while with withevents xor`) {
		statementKeywords[w] = true
	}
}

// IsKeyword reports whether word is reserved in executable statements.
func IsKeyword(word string) bool {
	return statementKeywords[naming.Fold(word)]
}

// collectUses extracts identifier uses from a run of executable tokens.
// A dotted chain records its last part as Name and the preceding parts
// (at most two) as Qualifier; members of a With block or of keywords such
// as Me are skipped.
func collectUses(toks []Token) []Use {
	var out []Use
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.Kind != Ident {
			continue
		}
		if i > 0 && (toks[i-1].IsPunct(".") || toks[i-1].IsPunct("!")) {
			continue
		}
		if statementKeywords[naming.Fold(t.Text)] {
			switch {
			case t.Is("RaiseEvent") && i+1 < len(toks) && toks[i+1].Kind == Ident:
				i++
				out = append(out, Use{Name: toks[i].Text, Event: true, Sel: toks[i].Span()})
			case t.Is("GoTo"), t.Is("GoSub"):
				i++
			case t.Is("Resume") && i+1 < len(toks) && !toks[i+1].Is("Next"):
				i++
			}
			continue
		}
		if i+1 < len(toks) && toks[i+1].IsPunct(":=") {
			continue
		}

		parts := []Token{t}
		j := i
		for j+2 < len(toks) && toks[j+1].IsPunct(".") && toks[j+2].Kind == Ident {
			parts = append(parts, toks[j+2])
			j += 2
		}
		i = j

		last := parts[len(parts)-1]
		if len(parts) > 3 {
			parts = parts[:3]
			last = parts[2]
		}
		u := Use{Name: last.Text, Sel: span(t, last)}
		if len(parts) > 1 {
			names := make([]string, 0, len(parts)-1)
			for _, q := range parts[:len(parts)-1] {
				names = append(names, q.Text)
			}
			u.Qualifier = strings.Join(names, ".")
		}
		out = append(out, u)
	}
	return out
}
