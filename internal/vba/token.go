// Package vba reads VBA module source at declaration level: module headers,
// attributes, options, member declarations, procedure bodies' local
// declarations and identifier uses. It is not a full expression grammar.
package vba

import (
	"fmt"

	"github.com/jward/mallard/internal/naming"
)

// Kind classifies a token.
type Kind uint8

const (
	EOF Kind = iota
	Newline
	Colon
	Ident
	Number
	String
	Date
	Comment
	Directive
	Punct
)

var kindNames = [...]string{
	EOF:       "EOF",
	Newline:   "Newline",
	Colon:     "Colon",
	Ident:     "Ident",
	Number:    "Number",
	String:    "String",
	Date:      "Date",
	Comment:   "Comment",
	Directive: "Directive",
	Punct:     "Punct",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Token is one lexeme. Line and Col are 1-based; Off and End are byte
// offsets into the source. Hint holds an identifier's type marker (e.g. "$").
type Token struct {
	Kind    Kind
	Text    string
	Hint    string
	Line    int
	Col     int
	EndLine int
	EndCol  int
	Off     int
	End     int
}

// Span returns the token's source selection.
func (t Token) Span() naming.Selection {
	return naming.NewSelection(t.Line, t.Col, t.EndLine, t.EndCol)
}

// Is reports whether t is the identifier word, compared case-insensitively.
func (t Token) Is(word string) bool {
	return t.Kind == Ident && naming.EqualFold(t.Text, word)
}

// IsPunct reports whether t is the punctuation p.
func (t Token) IsPunct(p string) bool {
	return t.Kind == Punct && t.Text == p
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d:%d", t.Kind, t.Text, t.Line, t.Col)
}
