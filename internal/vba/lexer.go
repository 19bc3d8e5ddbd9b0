package vba

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const typeHints = "%&!#@$^"

// lexer turns module source into tokens. Line continuations are folded
// away, so a logical line spanning " _" breaks is one run of tokens.
type lexer struct {
	module string
	src    []byte
	off    int
	line   int
	col    int
	toks   []Token
}

// Tokenize lexes src. module names the source in errors.
func Tokenize(module string, src []byte) ([]Token, error) {
	lx := &lexer{module: module, src: src, line: 1, col: 1}
	if err := lx.run(); err != nil {
		return nil, err
	}
	return lx.toks, nil
}

func (lx *lexer) eof() bool { return lx.off >= len(lx.src) }

func (lx *lexer) peek() byte {
	if lx.eof() {
		return 0
	}
	return lx.src[lx.off]
}

func (lx *lexer) peekAt(n int) byte {
	if lx.off+n >= len(lx.src) {
		return 0
	}
	return lx.src[lx.off+n]
}

// bump advances one rune, tracking line and column.
func (lx *lexer) bump() {
	if lx.eof() {
		return
	}
	if lx.src[lx.off] == '\n' {
		lx.off++
		lx.line++
		lx.col = 1
		return
	}
	_, size := utf8.DecodeRune(lx.src[lx.off:])
	lx.off += size
	lx.col++
}

// atLineStart reports whether the next token would be the first on its
// logical line.
func (lx *lexer) atLineStart() bool {
	if len(lx.toks) == 0 {
		return true
	}
	k := lx.toks[len(lx.toks)-1].Kind
	return k == Newline
}

// atStatementStart also accepts a ':' separator.
func (lx *lexer) atStatementStart() bool {
	return lx.atLineStart() || lx.toks[len(lx.toks)-1].Kind == Colon
}

func (lx *lexer) emit(kind Kind, text string, off, line, col int) {
	lx.toks = append(lx.toks, Token{
		Kind:    kind,
		Text:    text,
		Line:    line,
		Col:     col,
		EndLine: lx.line,
		EndCol:  lx.col,
		Off:     off,
		End:     lx.off,
	})
}

func (lx *lexer) errorf(line, col int, format string, args ...any) error {
	return newSyntaxError(lx.module, line, col, format, args...)
}

func (lx *lexer) run() error {
	for !lx.eof() {
		c := lx.peek()
		off, line, col := lx.off, lx.line, lx.col

		switch {
		case c == ' ' || c == '\t' || c == '\f':
			lx.bump()

		case c == '_' && lx.isContinuation():
			lx.skipContinuation()

		case c == '\r':
			lx.bump()
			if lx.peek() == '\n' {
				lx.bump()
			} else {
				lx.line++
				lx.col = 1
			}
			lx.emit(Newline, "\n", off, line, col)

		case c == '\n':
			lx.bump()
			lx.emit(Newline, "\n", off, line, col)

		case c == '\'':
			lx.bump()
			start := lx.off
			lx.skipToEOL()
			lx.emit(Comment, string(lx.src[start:lx.off]), off, line, col)

		case c == '"':
			if err := lx.scanString(); err != nil {
				return err
			}

		case c == '#' && lx.atLineStart():
			lx.skipToEOL()
			lx.emit(Directive, strings.TrimSpace(string(lx.src[off:lx.off])), off, line, col)

		case c == '#':
			lx.scanDateOrHash()

		case c == '[':
			if err := lx.scanBracketIdent(); err != nil {
				return err
			}

		case isDigit(c) || (c == '.' && isDigit(lx.peekAt(1))):
			lx.scanNumber()

		case c == '&' && isRadixPrefix(lx.peekAt(1)):
			lx.scanNumber()

		case isIdentStart(lx.src[lx.off:]):
			lx.scanIdent()

		case c == ':':
			lx.bump()
			if lx.peek() == '=' {
				lx.bump()
				lx.emit(Punct, ":=", off, line, col)
			} else {
				lx.emit(Colon, ":", off, line, col)
			}

		case c == '<' || c == '>':
			lx.bump()
			if n := lx.peek(); n == '=' || (c == '<' && n == '>') {
				lx.bump()
			}
			lx.emit(Punct, string(lx.src[off:lx.off]), off, line, col)

		default:
			lx.bump()
			lx.emit(Punct, string(lx.src[off:lx.off]), off, line, col)
		}
	}
	lx.emit(EOF, "", lx.off, lx.line, lx.col)
	return nil
}

// isContinuation reports whether the '_' at off is a line continuation:
// preceded by whitespace and followed only by whitespace up to a newline.
func (lx *lexer) isContinuation() bool {
	if lx.off > 0 {
		if p := lx.src[lx.off-1]; p != ' ' && p != '\t' {
			return false
		}
	}
	for i := lx.off + 1; i < len(lx.src); i++ {
		switch lx.src[i] {
		case ' ', '\t':
			continue
		case '\r', '\n':
			return true
		default:
			return false
		}
	}
	return true
}

func (lx *lexer) skipContinuation() {
	for !lx.eof() {
		c := lx.peek()
		lx.bump()
		if c == '\n' {
			return
		}
		if c == '\r' {
			if lx.peek() == '\n' {
				lx.bump()
			} else {
				lx.line++
				lx.col = 1
			}
			return
		}
	}
}

func (lx *lexer) skipToEOL() {
	for !lx.eof() {
		if c := lx.peek(); c == '\n' || c == '\r' {
			return
		}
		lx.bump()
	}
}

func (lx *lexer) scanString() error {
	off, line, col := lx.off, lx.line, lx.col
	lx.bump()
	var b strings.Builder
	for {
		if lx.eof() || lx.peek() == '\n' || lx.peek() == '\r' {
			return lx.errorf(line, col, "unterminated string literal")
		}
		c := lx.peek()
		if c == '"' {
			if lx.peekAt(1) == '"' {
				b.WriteByte('"')
				lx.bump()
				lx.bump()
				continue
			}
			lx.bump()
			break
		}
		start := lx.off
		lx.bump()
		b.Write(lx.src[start:lx.off])
	}
	lx.emit(String, b.String(), off, line, col)
	return nil
}

// scanDateOrHash reads a #...# date literal, or a lone '#' (file numbers
// as in "Print #1") when no closing '#' follows on the line.
func (lx *lexer) scanDateOrHash() {
	off, line, col := lx.off, lx.line, lx.col
	end := -1
	for i := lx.off + 1; i < len(lx.src); i++ {
		c := lx.src[i]
		if c == '\n' || c == '\r' {
			break
		}
		if c == '#' {
			end = i
			break
		}
	}
	if end < 0 || !looksLikeDate(lx.src[lx.off+1:end]) {
		lx.bump()
		lx.emit(Punct, "#", off, line, col)
		return
	}
	for lx.off <= end {
		lx.bump()
	}
	lx.emit(Date, string(lx.src[off+1:end]), off, line, col)
}

func looksLikeDate(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if !isDigit(c) && !strings.ContainsRune("/-:., APMapm", rune(c)) &&
			!unicode.IsLetter(rune(c)) {
			return false
		}
	}
	return isDigit(b[0]) || unicode.IsLetter(rune(b[0]))
}

func (lx *lexer) scanBracketIdent() error {
	off, line, col := lx.off, lx.line, lx.col
	lx.bump()
	start := lx.off
	for lx.peek() != ']' {
		if lx.eof() || lx.peek() == '\n' || lx.peek() == '\r' {
			return lx.errorf(line, col, "unterminated bracketed identifier")
		}
		lx.bump()
	}
	text := string(lx.src[start:lx.off])
	lx.bump()
	lx.emit(Ident, text, off, line, col)
	return nil
}

func (lx *lexer) scanNumber() {
	off, line, col := lx.off, lx.line, lx.col
	if lx.peek() == '&' {
		lx.bump()
		lx.bump()
		for isHexDigit(lx.peek()) {
			lx.bump()
		}
	} else {
		for isDigit(lx.peek()) || lx.peek() == '.' {
			lx.bump()
		}
		if c := lx.peek(); (c == 'e' || c == 'E' || c == 'd' || c == 'D') &&
			(isDigit(lx.peekAt(1)) || ((lx.peekAt(1) == '+' || lx.peekAt(1) == '-') && isDigit(lx.peekAt(2)))) {
			lx.bump()
			if c := lx.peek(); c == '+' || c == '-' {
				lx.bump()
			}
			for isDigit(lx.peek()) {
				lx.bump()
			}
		}
	}
	text := string(lx.src[off:lx.off])
	hint := ""
	if c := lx.peek(); c != 0 && strings.IndexByte(typeHints, c) >= 0 && !isIdentStart(lx.src[min(lx.off+1, len(lx.src)):]) {
		hint = string(c)
		lx.bump()
	}
	lx.emit(Number, text, off, line, col)
	lx.toks[len(lx.toks)-1].Hint = hint
}

func (lx *lexer) scanIdent() {
	off, line, col := lx.off, lx.line, lx.col
	for !lx.eof() && isIdentPart(lx.src[lx.off:]) {
		lx.bump()
	}
	text := string(lx.src[off:lx.off])

	if strings.EqualFold(text, "rem") && lx.atStatementStart() {
		if c := lx.peek(); c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == 0 {
			start := lx.off
			lx.skipToEOL()
			lx.emit(Comment, strings.TrimPrefix(string(lx.src[start:lx.off]), " "), off, line, col)
			return
		}
	}

	hint := ""
	// A hint character is part of the identifier unless an identifier
	// follows directly, as in the bang operator rs!Field.
	if c := lx.peek(); c != 0 && strings.IndexByte(typeHints, c) >= 0 {
		rest := lx.src[lx.off+1:]
		if !isIdentStart(rest) && !(c == '#' && len(rest) > 0 && isDigit(rest[0])) {
			hint = string(c)
			lx.bump()
		}
	}
	lx.emit(Ident, text, off, line, col)
	lx.toks[len(lx.toks)-1].Hint = hint
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isRadixPrefix(c byte) bool {
	return c == 'h' || c == 'H' || c == 'o' || c == 'O'
}

func isIdentStart(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	r, _ := utf8.DecodeRune(b)
	return unicode.IsLetter(r)
}

func isIdentPart(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	r, _ := utf8.DecodeRune(b)
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
