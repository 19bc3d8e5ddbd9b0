package vba

import (
	"context"
	"strings"

	"github.com/jward/mallard/internal/naming"
)

// Parser parses module source. The zero value is ready to use.
type Parser struct{}

// Parse reads one module. It checks ctx before every statement and returns
// ctx.Err() once cancelled; syntax problems come back as *SyntaxError.
func (Parser) Parse(ctx context.Context, name string, kind ModuleKind, src []byte) (*Module, error) {
	return Parse(ctx, name, kind, src)
}

// Parse is Parser.Parse without a receiver.
func Parse(ctx context.Context, name string, kind ModuleKind, src []byte) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	toks, err := Tokenize(name, src)
	if err != nil {
		return nil, err
	}
	p := &parser{
		ctx:    ctx,
		module: name,
		src:    src,
		stmts:  split(toks),
		mod:    &Module{Name: name, Kind: kind, Sel: moduleSpan(toks)},
	}
	if err := p.parseModule(); err != nil {
		return nil, err
	}
	return p.mod, nil
}

// stmt is one logical statement: the tokens between separators, plus the
// comment that ended its line, if any.
type stmt struct {
	toks      []Token
	comment   *Token
	lineStart bool
	colon     bool
}

func split(toks []Token) []stmt {
	var out []stmt
	cur := stmt{lineStart: true}
	flush := func(lineStart, colon bool) {
		cur.colon = colon
		if len(cur.toks) > 0 || cur.comment != nil {
			out = append(out, cur)
		}
		cur = stmt{lineStart: lineStart}
	}
	for _, t := range toks {
		switch t.Kind {
		case EOF:
			flush(false, false)
			return out
		case Newline:
			flush(true, false)
		case Colon:
			flush(false, true)
		case Comment:
			c := t
			cur.comment = &c
		default:
			cur.toks = append(cur.toks, t)
		}
	}
	flush(false, false)
	return out
}

func moduleSpan(toks []Token) naming.Selection {
	var first, last *Token
	for i := range toks {
		switch toks[i].Kind {
		case EOF, Newline:
			continue
		}
		if first == nil {
			first = &toks[i]
		}
		last = &toks[i]
	}
	if first == nil {
		return naming.NewSelection(1, 1, 1, 1)
	}
	return span(*first, *last)
}

func span(a, b Token) naming.Selection {
	return naming.NewSelection(a.Line, a.Col, b.EndLine, b.EndCol)
}

type parser struct {
	ctx     context.Context
	module  string
	src     []byte
	stmts   []stmt
	pos     int
	pending []Annotation
	mod     *Module
}

func (p *parser) errAt(t Token, format string, args ...any) error {
	return newSyntaxError(p.module, t.Line, t.Col, format, args...)
}

func (p *parser) text(toks []Token) string {
	if len(toks) == 0 {
		return ""
	}
	return strings.TrimSpace(string(p.src[toks[0].Off:toks[len(toks)-1].End]))
}

func (p *parser) takePending() []Annotation {
	out := p.pending
	p.pending = nil
	return out
}

// noteComment records an annotation comment. Module-scoped annotations go
// straight to the module; the rest wait for the next declaration.
func (p *parser) noteComment(st stmt, body bool) {
	if st.comment == nil {
		return
	}
	a, ok := parseAnnotation(*st.comment)
	if !ok {
		return
	}
	if !body && isModuleAnnotation(a.Name) {
		p.mod.Annotations = append(p.mod.Annotations, a)
		return
	}
	p.pending = append(p.pending, a)
}

func (p *parser) parseModule() error {
	for p.pos < len(p.stmts) {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		st := p.stmts[p.pos]
		p.pos++
		p.noteComment(st, false)
		if len(st.toks) == 0 {
			continue
		}
		if err := p.moduleStatement(st); err != nil {
			return err
		}
	}
	// Annotations with nothing after them belong to the module.
	p.mod.Annotations = append(p.mod.Annotations, p.takePending()...)
	return nil
}

func (p *parser) moduleStatement(st stmt) error {
	head := st.toks[0]
	switch {
	case head.Kind == Directive:
		return nil
	case head.Is("VERSION"):
		return nil
	case head.Is("BEGIN"):
		return p.skipDesigner(head)
	case head.Is("Attribute"):
		a, err := p.parseAttribute(st)
		if err != nil {
			return err
		}
		p.mod.Attributes = append(p.mod.Attributes, a)
		return nil
	case head.Is("Option"):
		if len(st.toks) < 2 {
			return p.errAt(head, "expected option name")
		}
		p.mod.Options = append(p.mod.Options, p.text(st.toks[1:]))
		return nil
	case head.Is("Implements"):
		if len(st.toks) < 2 {
			return p.errAt(head, "expected interface name after Implements")
		}
		p.mod.Implements = append(p.mod.Implements, p.text(st.toks[1:]))
		return nil
	case isDefType(head):
		return nil
	case head.Is("End"):
		return p.errAt(head, "unexpected %q outside a block", p.text(st.toks))
	}
	return p.parseMember(st)
}

// skipDesigner skips a BEGIN .. END designer block, including nested
// control blocks of a form.
func (p *parser) skipDesigner(begin Token) error {
	depth := 1
	for p.pos < len(p.stmts) {
		st := p.stmts[p.pos]
		p.pos++
		if len(st.toks) == 0 {
			continue
		}
		switch h := st.toks[0]; {
		case h.Is("Begin"):
			depth++
		case h.Is("End") && len(st.toks) == 1:
			depth--
			if depth == 0 {
				return nil
			}
		}
	}
	return p.errAt(begin, "missing END for BEGIN block")
}

func (p *parser) parseAttribute(st stmt) (Attribute, error) {
	c := newCursor(st.toks)
	head := c.next()
	first := c.next()
	if first.Kind != Ident {
		return Attribute{}, p.errAt(first, "expected attribute name")
	}
	a := Attribute{Name: first.Text}
	if c.acceptPunct(".") {
		n := c.next()
		if n.Kind != Ident {
			return Attribute{}, p.errAt(n, "expected attribute name after %q", first.Text)
		}
		a.Target, a.Name = first.Text, n.Text
	}
	if !c.acceptPunct("=") {
		return Attribute{}, p.errAt(c.peek(), "expected '=' in attribute statement")
	}
	for _, g := range splitTop(c.rest(), ",") {
		a.Values = append(a.Values, attributeValue(g))
	}
	a.Sel = span(head, st.toks[len(st.toks)-1])
	return a, nil
}

func attributeValue(g []Token) string {
	if len(g) == 1 && g[0].Kind == String {
		return g[0].Text
	}
	var b strings.Builder
	for _, t := range g {
		b.WriteString(t.Text)
	}
	return b.String()
}

var accessKeywords = map[string]string{
	"private": "Private",
	"public":  "Public",
	"global":  "Global",
	"friend":  "Friend",
	"dim":     "Dim",
}

func (p *parser) parseMember(st stmt) error {
	c := newCursor(st.toks)
	start := c.peek()
	var access string
	var static bool
	for {
		t := c.peek()
		if t.Kind != Ident {
			break
		}
		if a, ok := accessKeywords[naming.Fold(t.Text)]; ok {
			access = a
			c.next()
			continue
		}
		if t.Is("Static") {
			static = true
			c.next()
			continue
		}
		break
	}

	kw := c.peek()
	switch {
	case kw.Is("Sub"), kw.Is("Function"), kw.Is("Property"):
		proc, err := p.parseProc(c, start, access, static)
		if err != nil {
			return err
		}
		p.mod.Members = append(p.mod.Members, proc)
		return nil
	case kw.Is("Const"):
		c.next()
		consts, err := p.parseConsts(c, start, access)
		if err != nil {
			return err
		}
		for _, k := range consts {
			p.mod.Members = append(p.mod.Members, k)
		}
		return nil
	case kw.Is("Type"):
		c.next()
		return p.parseType(c, start, access)
	case kw.Is("Enum"):
		c.next()
		return p.parseEnum(c, start, access)
	case kw.Is("Event"):
		c.next()
		return p.parseEvent(st, c, start, access)
	case kw.Is("Declare"):
		c.next()
		return p.parseDeclare(st, c, start, access)
	case access != "" || static:
		return p.parseModuleVars(c, start, access, static)
	}
	return p.errAt(start, "%q is not valid outside a procedure", p.text(st.toks))
}

func (p *parser) parseModuleVars(c *cursor, start Token, access string, static bool) error {
	ds, err := p.parseDeclarators(c, false)
	if err != nil {
		return err
	}
	ann := p.takePending()
	for _, d := range ds {
		v := &VarDecl{
			Decl: Decl{
				Name:        d.name.Text,
				Access:      access,
				Annotations: ann,
				Sel:         span(start, d.last),
				NameSel:     d.name.Span(),
			},
			Type:       d.typ,
			WithEvents: d.withEvents,
			Static:     static,
		}
		ann = nil
		p.mod.Members = append(p.mod.Members, v)
	}
	return nil
}

// declarator is one name of a Dim/Const/field list.
type declarator struct {
	name       Token
	last       Token
	withEvents bool
	typ        TypeRef
	value      []Token
	uses       []Use
}

func (p *parser) parseDeclarators(c *cursor, isConst bool) ([]declarator, error) {
	if c.done() {
		return nil, p.errAt(c.peek(), "expected declaration name")
	}
	var out []declarator
	for _, g := range splitTop(c.rest(), ",") {
		if len(g) == 0 {
			return nil, p.errAt(c.peek(), "expected declaration name after ','")
		}
		gc := newCursor(g)
		d := declarator{last: g[len(g)-1]}
		if !isConst && gc.accept("WithEvents") {
			d.withEvents = true
		}
		d.name = gc.next()
		if d.name.Kind != Ident {
			return nil, p.errAt(d.name, "expected declaration name, found %q", d.name.Text)
		}
		isArray := false
		if gc.peek().IsPunct("(") {
			inner, err := p.parenGroup(gc)
			if err != nil {
				return nil, err
			}
			isArray = true
			d.uses = append(d.uses, collectUses(inner)...)
		}
		typ, err := p.parseAsClause(gc, d.name.Hint)
		if err != nil {
			return nil, err
		}
		typ.IsArray = isArray
		d.typ = typ
		if isConst {
			if !gc.acceptPunct("=") {
				return nil, p.errAt(gc.peek(), "expected '=' after constant %s", d.name.Text)
			}
			d.value = gc.rest()
			if len(d.value) == 0 {
				return nil, p.errAt(d.last, "missing value for constant %s", d.name.Text)
			}
			d.uses = append(d.uses, collectUses(d.value)...)
		} else if !gc.done() {
			return nil, p.errAt(gc.peek(), "unexpected %q in declaration", gc.peek().Text)
		}
		out = append(out, d)
	}
	return out, nil
}

func (p *parser) parseConsts(c *cursor, start Token, access string) ([]*ConstDecl, error) {
	ds, err := p.parseDeclarators(c, true)
	if err != nil {
		return nil, err
	}
	ann := p.takePending()
	out := make([]*ConstDecl, 0, len(ds))
	for _, d := range ds {
		out = append(out, &ConstDecl{
			Decl: Decl{
				Name:        d.name.Text,
				Access:      access,
				Annotations: ann,
				Sel:         span(start, d.last),
				NameSel:     d.name.Span(),
			},
			Type:  d.typ,
			Value: p.text(d.value),
			Uses:  d.uses,
		})
		ann = nil
	}
	return out, nil
}

// parseAsClause reads an optional "As [New] Name[.Name] [* n]".
func (p *parser) parseAsClause(c *cursor, hint string) (TypeRef, error) {
	tr := TypeRef{Hint: hint}
	if !c.accept("As") {
		return tr, nil
	}
	if c.accept("New") {
		tr.New = true
	}
	first := c.next()
	if first.Kind != Ident {
		return tr, p.errAt(first, "expected type name after As")
	}
	if hint != "" {
		return tr, p.errAt(first, "type hint %q cannot be combined with an As clause", hint)
	}
	name, last := first.Text, first
	for c.peek().IsPunct(".") {
		c.next()
		n := c.next()
		if n.Kind != Ident {
			return tr, p.errAt(n, "expected type name after '.'")
		}
		name += "." + n.Text
		last = n
	}
	if c.acceptPunct("*") {
		last = c.next()
	}
	tr.Name = name
	tr.Sel = span(first, last)
	return tr, nil
}

// parenGroup consumes a parenthesised group and returns its inner tokens.
func (p *parser) parenGroup(c *cursor) ([]Token, error) {
	open := c.next()
	depth := 1
	start := c.i
	for !c.done() {
		t := c.next()
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
			if depth == 0 {
				return c.toks[start : c.i-1], nil
			}
		}
	}
	return nil, p.errAt(open, "missing ')'")
}

func (p *parser) parseParams(c *cursor) ([]*Param, error) {
	if !c.peek().IsPunct("(") {
		return nil, nil
	}
	inner, err := p.parenGroup(c)
	if err != nil {
		return nil, err
	}
	if len(inner) == 0 {
		return nil, nil
	}
	var out []*Param
	for _, g := range splitTop(inner, ",") {
		if len(g) == 0 {
			return nil, p.errAt(inner[0], "empty parameter")
		}
		prm, err := p.parseParam(g)
		if err != nil {
			return nil, err
		}
		out = append(out, prm)
	}
	return out, nil
}

func (p *parser) parseParam(g []Token) (*Param, error) {
	c := newCursor(g)
	prm := &Param{}
modifiers:
	for {
		switch t := c.peek(); {
		case t.Is("Optional"):
			prm.Optional = true
		case t.Is("ByVal"):
			prm.ByVal = true
		case t.Is("ByRef"):
			prm.ByRef = true
		case t.Is("ParamArray"):
			prm.ParamArray = true
		default:
			break modifiers
		}
		c.next()
	}
	n := c.next()
	if n.Kind != Ident {
		return nil, p.errAt(n, "expected parameter name")
	}
	prm.Name = n.Text
	prm.Sel = n.Span()
	isArray := false
	if c.acceptPunct("(") {
		if !c.acceptPunct(")") {
			return nil, p.errAt(c.peek(), "expected ')' after array parameter %s", n.Text)
		}
		isArray = true
	}
	typ, err := p.parseAsClause(c, n.Hint)
	if err != nil {
		return nil, err
	}
	typ.IsArray = isArray
	prm.Type = typ
	if c.acceptPunct("=") {
		if c.done() {
			return nil, p.errAt(n, "missing default value for %s", n.Text)
		}
		prm.Default = p.text(c.rest())
	}
	if !c.done() {
		return nil, p.errAt(c.peek(), "unexpected %q in parameter %s", c.peek().Text, n.Text)
	}
	return prm, nil
}

func (p *parser) parseProc(c *cursor, start Token, access string, static bool) (*ProcDecl, error) {
	kw := c.next()
	proc := &ProcDecl{Static: static}
	switch {
	case kw.Is("Sub"):
		proc.Kind = Sub
	case kw.Is("Function"):
		proc.Kind = Function
	default:
		acc := c.next()
		switch {
		case acc.Is("Get"):
			proc.Kind = PropertyGet
		case acc.Is("Let"):
			proc.Kind = PropertyLet
		case acc.Is("Set"):
			proc.Kind = PropertySet
		default:
			return nil, p.errAt(acc, "expected Get, Let or Set after Property")
		}
	}
	name := c.next()
	if name.Kind != Ident {
		return nil, p.errAt(name, "expected %s name", proc.Kind)
	}
	params, err := p.parseParams(c)
	if err != nil {
		return nil, err
	}
	ret, err := p.parseAsClause(c, name.Hint)
	if err != nil {
		return nil, err
	}
	if c.acceptPunct("(") {
		if !c.acceptPunct(")") {
			return nil, p.errAt(c.peek(), "expected ')' in return type")
		}
		ret.IsArray = true
	}
	if !c.done() {
		return nil, p.errAt(c.peek(), "unexpected %q after %s header", c.peek().Text, proc.Kind)
	}
	proc.Decl = Decl{Name: name.Text, Access: access, Annotations: p.takePending(), NameSel: name.Span()}
	proc.Params = params
	proc.Return = ret

	for {
		if p.pos >= len(p.stmts) {
			return nil, p.errAt(start, "missing End %s for %s", proc.Kind, name.Text)
		}
		if err := p.ctx.Err(); err != nil {
			return nil, err
		}
		body := p.stmts[p.pos]
		p.pos++
		p.noteComment(body, true)
		if len(body.toks) == 0 {
			continue
		}
		h := body.toks[0]
		if h.Is("End") && len(body.toks) >= 2 && isProcKeyword(body.toks[1]) {
			if !closes(proc.Kind, body.toks[1]) {
				return nil, p.errAt(h, "End %s does not close %s %s", body.toks[1].Text, proc.Kind, name.Text)
			}
			proc.Sel = span(start, body.toks[len(body.toks)-1])
			p.pending = nil
			return proc, nil
		}
		if startsProc(body.toks) {
			return nil, p.errAt(start, "missing End %s for %s", proc.Kind, name.Text)
		}
		if err := p.bodyStatement(proc, body); err != nil {
			return nil, err
		}
	}
}

func isProcKeyword(t Token) bool {
	return t.Is("Sub") || t.Is("Function") || t.Is("Property")
}

func closes(k ProcKind, t Token) bool {
	switch k {
	case Sub:
		return t.Is("Sub")
	case Function:
		return t.Is("Function")
	}
	return t.Is("Property")
}

// startsProc reports whether toks open a new procedure.
func startsProc(toks []Token) bool {
	for _, t := range toks {
		switch {
		case isProcKeyword(t):
			return true
		case t.Is("Private"), t.Is("Public"), t.Is("Friend"), t.Is("Static"):
			continue
		}
		return false
	}
	return false
}

func (p *parser) bodyStatement(proc *ProcDecl, st stmt) error {
	h := st.toks[0]
	switch {
	case h.Kind == Directive:
		return nil
	case h.Is("Attribute"):
		a, err := p.parseAttribute(st)
		if err != nil {
			return err
		}
		proc.Attributes = append(proc.Attributes, a)
		return nil
	case h.Is("Dim"), h.Is("Static"), h.Is("Const"):
		c := newCursor(st.toks)
		c.next()
		isConst := h.Is("Const")
		ds, err := p.parseDeclarators(c, isConst)
		if err != nil {
			return err
		}
		ann := p.takePending()
		for _, d := range ds {
			proc.Locals = append(proc.Locals, &Local{
				Name:        d.name.Text,
				Const:       isConst,
				Static:      h.Is("Static"),
				Type:        d.typ,
				Value:       p.text(d.value),
				Annotations: ann,
				Sel:         d.name.Span(),
			})
			proc.Uses = append(proc.Uses, d.uses...)
			ann = nil
		}
		return nil
	case st.lineStart && st.colon && len(st.toks) == 1 && h.Kind == Ident:
		// line label
		return nil
	}
	p.pending = nil
	proc.Uses = append(proc.Uses, collectUses(st.toks)...)
	return nil
}

func (p *parser) parseType(c *cursor, start Token, access string) error {
	name := c.next()
	if name.Kind != Ident {
		return p.errAt(name, "expected Type name")
	}
	if !c.done() {
		return p.errAt(c.peek(), "unexpected %q after Type name", c.peek().Text)
	}
	td := &TypeDecl{Decl: Decl{Name: name.Text, Access: access, Annotations: p.takePending(), NameSel: name.Span()}}
	for {
		if p.pos >= len(p.stmts) {
			return p.errAt(start, "missing End Type for %s", name.Text)
		}
		if err := p.ctx.Err(); err != nil {
			return err
		}
		st := p.stmts[p.pos]
		p.pos++
		if len(st.toks) == 0 {
			continue
		}
		h := st.toks[0]
		if h.Is("End") {
			if len(st.toks) == 2 && st.toks[1].Is("Type") {
				td.Sel = span(start, st.toks[1])
				p.mod.Members = append(p.mod.Members, td)
				return nil
			}
			return p.errAt(h, "expected End Type for %s", name.Text)
		}
		if h.Kind == Directive {
			continue
		}
		if startsProc(st.toks) {
			return p.errAt(start, "missing End Type for %s", name.Text)
		}
		ds, err := p.parseDeclarators(newCursor(st.toks), false)
		if err != nil {
			return err
		}
		for _, d := range ds {
			td.Fields = append(td.Fields, &VarDecl{
				Decl: Decl{Name: d.name.Text, Sel: span(h, d.last), NameSel: d.name.Span()},
				Type: d.typ,
			})
		}
	}
}

func (p *parser) parseEnum(c *cursor, start Token, access string) error {
	name := c.next()
	if name.Kind != Ident {
		return p.errAt(name, "expected Enum name")
	}
	if !c.done() {
		return p.errAt(c.peek(), "unexpected %q after Enum name", c.peek().Text)
	}
	ed := &EnumDecl{Decl: Decl{Name: name.Text, Access: access, Annotations: p.takePending(), NameSel: name.Span()}}
	for {
		if p.pos >= len(p.stmts) {
			return p.errAt(start, "missing End Enum for %s", name.Text)
		}
		if err := p.ctx.Err(); err != nil {
			return err
		}
		st := p.stmts[p.pos]
		p.pos++
		if len(st.toks) == 0 {
			continue
		}
		h := st.toks[0]
		if h.Is("End") {
			if len(st.toks) == 2 && st.toks[1].Is("Enum") {
				ed.Sel = span(start, st.toks[1])
				p.mod.Members = append(p.mod.Members, ed)
				return nil
			}
			return p.errAt(h, "expected End Enum for %s", name.Text)
		}
		if h.Kind == Directive {
			continue
		}
		if startsProc(st.toks) {
			return p.errAt(start, "missing End Enum for %s", name.Text)
		}
		if h.Kind != Ident {
			return p.errAt(h, "expected enum member name")
		}
		m := &EnumMember{Name: h.Text, Sel: h.Span()}
		if len(st.toks) > 1 {
			if !st.toks[1].IsPunct("=") || len(st.toks) < 3 {
				return p.errAt(st.toks[1], "expected '=' and a value for enum member %s", h.Text)
			}
			m.Value = p.text(st.toks[2:])
			m.Uses = collectUses(st.toks[2:])
		}
		ed.Members = append(ed.Members, m)
	}
}

func (p *parser) parseEvent(st stmt, c *cursor, start Token, access string) error {
	name := c.next()
	if name.Kind != Ident {
		return p.errAt(name, "expected Event name")
	}
	params, err := p.parseParams(c)
	if err != nil {
		return err
	}
	if !c.done() {
		return p.errAt(c.peek(), "unexpected %q after Event %s", c.peek().Text, name.Text)
	}
	p.mod.Members = append(p.mod.Members, &EventDecl{
		Decl: Decl{
			Name:        name.Text,
			Access:      access,
			Annotations: p.takePending(),
			Sel:         span(start, st.toks[len(st.toks)-1]),
			NameSel:     name.Span(),
		},
		Params: params,
	})
	return nil
}

func (p *parser) parseDeclare(st stmt, c *cursor, start Token, access string) error {
	d := &DeclareDecl{}
	if c.accept("PtrSafe") {
		d.PtrSafe = true
	}
	switch kw := c.next(); {
	case kw.Is("Sub"):
	case kw.Is("Function"):
		d.Function = true
	default:
		return p.errAt(kw, "expected Sub or Function after Declare")
	}
	name := c.next()
	if name.Kind != Ident {
		return p.errAt(name, "expected Declare name")
	}
	if !c.accept("Lib") {
		return p.errAt(c.peek(), "expected Lib in Declare %s", name.Text)
	}
	lib := c.next()
	if lib.Kind != String {
		return p.errAt(lib, "expected library name string")
	}
	d.Lib = lib.Text
	if c.accept("Alias") {
		alias := c.next()
		if alias.Kind != String {
			return p.errAt(alias, "expected alias string")
		}
		d.Alias = alias.Text
	}
	params, err := p.parseParams(c)
	if err != nil {
		return err
	}
	ret, err := p.parseAsClause(c, name.Hint)
	if err != nil {
		return err
	}
	if !c.done() {
		return p.errAt(c.peek(), "unexpected %q after Declare %s", c.peek().Text, name.Text)
	}
	d.Decl = Decl{
		Name:        name.Text,
		Access:      access,
		Annotations: p.takePending(),
		Sel:         span(start, st.toks[len(st.toks)-1]),
		NameSel:     name.Span(),
	}
	d.Params = params
	d.Return = ret
	p.mod.Members = append(p.mod.Members, d)
	return nil
}

func isDefType(t Token) bool {
	if t.Kind != Ident || len(t.Text) < 4 {
		return false
	}
	switch naming.Fold(t.Text) {
	case "defbool", "defbyte", "defint", "deflng", "deflnglng", "deflngptr",
		"defcur", "defsng", "defdbl", "defdate", "defstr", "defobj", "defvar", "defdec":
		return true
	}
	return false
}

// splitTop splits toks on the punctuation sep outside parentheses.
func splitTop(toks []Token, sep string) [][]Token {
	var out [][]Token
	depth, start := 0, 0
	for i, t := range toks {
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth == 0 && t.IsPunct(sep):
			out = append(out, toks[start:i])
			start = i + 1
		}
	}
	return append(out, toks[start:])
}

type cursor struct {
	toks []Token
	i    int
}

func newCursor(toks []Token) *cursor { return &cursor{toks: toks} }

func (c *cursor) done() bool { return c.i >= len(c.toks) }

func (c *cursor) peek() Token {
	if c.i < len(c.toks) {
		return c.toks[c.i]
	}
	if len(c.toks) == 0 {
		return Token{Kind: EOF}
	}
	last := c.toks[len(c.toks)-1]
	return Token{Kind: EOF, Line: last.EndLine, Col: last.EndCol, EndLine: last.EndLine, EndCol: last.EndCol}
}

func (c *cursor) next() Token {
	t := c.peek()
	if c.i < len(c.toks) {
		c.i++
	}
	return t
}

func (c *cursor) accept(word string) bool {
	if c.peek().Is(word) {
		c.i++
		return true
	}
	return false
}

func (c *cursor) acceptPunct(s string) bool {
	if c.peek().IsPunct(s) {
		c.i++
		return true
	}
	return false
}

func (c *cursor) rest() []Token {
	out := c.toks[c.i:]
	c.i = len(c.toks)
	return out
}
