package vba

import "fmt"

// SyntaxError is a parse failure at a source position. The first error
// ends the parse of its module.
type SyntaxError struct {
	Module string
	Line   int
	Col    int
	Msg    string
}

func newSyntaxError(module string, line, col int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Module: module, Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Module, e.Line, e.Col, e.Msg)
}
