// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package parse turns template text into a tree of Text, Conditional and
// Repeat nodes.
package parse

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/canonical/sqlprune/internal/errs"
	"github.com/canonical/sqlprune/internal/expr"
)

// tagAttrs lists the recognised tags and the attributes each accepts.
var tagAttrs = map[string][]string{
	"if":    {"c"},
	"elsif": {"c"},
	"else":  nil,
	"a":     {"pre", "sep", "post"},
}

// Parse parses a template. A '<' starts a tag only when what follows is a
// well formed tag, otherwise it is literal SQL, so "rownum < 20" needs no
// escaping. Quoted literals in the SQL are never searched for tags. Tags in
// comments are markup like any other, a comment only stops quotes in it from
// starting a literal.
func Parse(input string) (*Tree, error) {
	p := &parser{}
	p.init(input)
	nodes, err := p.parseNodes(nil)
	if err != nil {
		return nil, err
	}
	return &Tree{Input: input, Nodes: nodes}, nil
}

type parser struct {
	input string
	pos   int
	// nextPos is start of the next char.
	nextPos int
	// char is the rune starting at pos. char is set to 0 when pos reaches the
	// end of input.
	char rune
	// lineNum is the number of the current line of the input.
	lineNum int
	// lineStart is the position of the first char of the current line in the
	// input.
	lineStart int
	multiline bool
	// comment is the kind of SQL comment the parser is in. It stays open
	// across tags until the comment ends.
	comment commentKind
}

type commentKind int

const (
	noComment commentKind = iota
	lineComment
	blockComment
)

// tag is a start or end tag.
type tag struct {
	pos         errs.Position
	name        string
	closing     bool
	selfClosing bool
	attrs       []attr
}

type attr struct {
	name, value string
}

func (t *tag) attr(name string) (string, bool) {
	for _, a := range t.attrs {
		if a.name == name {
			return a.value, true
		}
	}
	return "", false
}

// init resets the state of the parser and sets the input string.
func (p *parser) init(input string) {
	p.input = input
	p.pos = 0
	p.nextPos = 0
	p.char = 0
	p.lineNum = 1
	p.lineStart = 0
	p.multiline = strings.ContainsRune(input, '\n')
	p.comment = noComment
	p.advanceChar()
}

// here returns the current position.
func (p *parser) here() errs.Position {
	return errs.NewPosition(p.lineNum, p.pos-p.lineStart+1, p.multiline)
}

// advanceChar moves the parser to the next character in the input. It also
// takes care of updating the line and column numbers if it encounters line
// breaks.
func (p *parser) advanceChar() bool {
	if p.nextPos >= len(p.input) {
		p.char = 0
		p.pos = p.nextPos
		return false
	}
	if p.char == '\n' {
		p.lineStart = p.nextPos
		p.lineNum++
	}
	var size int
	p.char, size = utf8.DecodeRuneInString(p.input[p.nextPos:])
	p.pos = p.nextPos
	p.nextPos += size
	return true
}

// A checkpoint struct for saving parser state to restore later.
type checkpoint struct {
	parser    *parser
	pos       int
	nextPos   int
	char      rune
	lineNum   int
	lineStart int
}

// save takes a snapshot of the state of the parser and returns a pointer to a
// checkpoint that represents it.
func (p *parser) save() *checkpoint {
	return &checkpoint{
		parser:    p,
		pos:       p.pos,
		nextPos:   p.nextPos,
		char:      p.char,
		lineNum:   p.lineNum,
		lineStart: p.lineStart,
	}
}

// restore sets the internal state of the parser to the values stored in the
// checkpoint.
func (cp *checkpoint) restore() {
	cp.parser.pos = cp.pos
	cp.parser.nextPos = cp.nextPos
	cp.parser.char = cp.char
	cp.parser.lineNum = cp.lineNum
	cp.parser.lineStart = cp.lineStart
}

// parseNodes parses the nodes up to the end tag matching open, or up to the
// end of input when open is nil.
func (p *parser) parseNodes(open *tag) ([]Node, error) {
	var nodes []Node
	textStart, textPos := p.pos, p.here()
	flush := func(end int) {
		if end > textStart {
			nodes = append(nodes, &Text{pos: textPos, Text: p.input[textStart:end]})
		}
	}
	for p.pos < len(p.input) {
		if p.comment == noComment {
			if ok, err := p.skipStringLiteral(); err != nil {
				return nil, err
			} else if ok {
				continue
			}
		}
		if p.skipComment() {
			continue
		}
		if p.char != '<' {
			p.advanceChar()
			continue
		}

		tagStart := p.pos
		t, ok, err := p.parseTag()
		if err != nil {
			return nil, err
		} else if !ok {
			p.advanceChar()
			continue
		}
		flush(tagStart)

		if t.closing {
			if open == nil {
				return nil, errs.Syntaxf(t.pos, "unexpected closing tag </%s>", t.name)
			}
			if t.name != open.name {
				return nil, errs.Syntaxf(t.pos, "closing tag </%s> does not match <%s> at %s", t.name, open.name, open.pos)
			}
			return nodes, nil
		}
		n, err := p.parseElement(t, nodes)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
		textStart, textPos = p.pos, p.here()
	}
	flush(len(p.input))
	if open != nil {
		return nil, errs.Syntaxf(open.pos, "missing closing tag </%s>", open.name)
	}
	return nodes, nil
}

// parseElement builds the node for the start tag t, parsing its body.
// siblings are the nodes preceding it under the same parent.
func (p *parser) parseElement(t *tag, siblings []Node) (Node, error) {
	allowed := tagAttrs[t.name]
	for i, a := range t.attrs {
		if !contains(allowed, a.name) {
			return nil, errs.Syntaxf(t.pos, "unknown attribute %q in <%s>", a.name, t.name)
		}
		for _, prev := range t.attrs[:i] {
			if prev.name == a.name {
				return nil, errs.Syntaxf(t.pos, "duplicate attribute %q in <%s>", a.name, t.name)
			}
		}
	}

	if t.name == "a" {
		r := &Repeat{pos: t.pos}
		r.Prefix, _ = t.attr("pre")
		r.Sep, _ = t.attr("sep")
		r.Suffix, _ = t.attr("post")
		if !t.selfClosing {
			children, err := p.parseNodes(t)
			if err != nil {
				return nil, err
			}
			r.Children = children
		}
		return r, nil
	}

	c := &Conditional{pos: t.pos}
	switch t.name {
	case "if":
		c.Kind = If
	case "elsif":
		c.Kind = ElseIf
	case "else":
		c.Kind = Else
	}
	if c.Kind != If && !continuesChain(siblings) {
		return nil, errs.Syntaxf(t.pos, "<%s> must follow <if> or <elsif>", t.name)
	}
	if cond, ok := t.attr("c"); ok {
		e, err := expr.Compile(cond)
		if err != nil {
			return nil, &errs.SyntaxError{
				Pos:    t.pos,
				Source: "condition",
				Msg:    fmt.Sprintf("invalid condition %q: %s", cond, err),
			}
		}
		c.Cond, c.Expr = cond, e
	}
	if !t.selfClosing {
		children, err := p.parseNodes(t)
		if err != nil {
			return nil, err
		}
		c.Children = children
	}
	if c.Kind != Else && c.Expr == nil && hasElements(c.Children) {
		return nil, &errs.ConditionInferenceError{Pos: t.pos, Tag: t.name, Reason: "body contains tags, a c attribute is required"}
	}
	return c, nil
}

// continuesChain reports whether the last non blank node of siblings is an
// <if> or <elsif>.
func continuesChain(siblings []Node) bool {
	for i := len(siblings) - 1; i >= 0; i-- {
		switch n := siblings[i].(type) {
		case *Text:
			if n.IsBlank() {
				continue
			}
		case *Conditional:
			return n.Kind != Else
		}
		return false
	}
	return false
}

func hasElements(nodes []Node) bool {
	for _, n := range nodes {
		if _, ok := n.(*Text); !ok {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// parseTag parses a start or end tag at the current '<'. If what follows is
// not a well formed tag, the parser state is left unchanged and false is
// returned, so that "x<a AND y>1" stays literal SQL. It is a syntax error
// instead when the name is recognised and the tag is clearly meant as markup,
// being an end tag, having started an attribute value or being cut off by
// the end of input. Well formed tags
// with other names are reported as unsupported.
func (p *parser) parseTag() (*tag, bool, error) {
	cp := p.save()
	t := &tag{pos: p.here()}
	p.skipChar('<')
	t.closing = p.skipChar('/')
	nameStart := p.pos
	if !p.skipName() {
		cp.restore()
		return nil, false, nil
	}
	t.name = p.input[nameStart:p.pos]
	_, known := tagAttrs[t.name]

	committed := t.closing
	malformed := func(msg string) (*tag, bool, error) {
		if !known || !committed {
			cp.restore()
			return nil, false, nil
		}
		slash := ""
		if t.closing {
			slash = "/"
		}
		return nil, false, errs.Syntaxf(t.pos, "malformed tag <%s%s>: %s", slash, t.name, msg)
	}

	if t.closing {
		p.skipBlanks()
		if !p.skipChar('>') {
			return malformed("expected >")
		}
	} else {
		for {
			blank := p.skipBlanks()
			if p.skipChar('>') {
				break
			}
			if p.skipString("/>") {
				t.selfClosing = true
				break
			}
			if p.pos == len(p.input) {
				// A recognised tag name cut off by the end of input can only
				// be unterminated markup.
				committed = true
				return malformed("unexpected end of template")
			}
			if !blank {
				return malformed(fmt.Sprintf("unexpected %q", p.char))
			}
			a, started, err := p.parseAttr()
			committed = committed || started
			if err != nil {
				return malformed(err.Error())
			}
			t.attrs = append(t.attrs, a)
		}
	}
	if !known {
		return nil, false, &errs.UnsupportedTagError{Pos: t.pos, Tag: t.name}
	}
	return t, true, nil
}

// parseAttr parses name="value" or name='value'. Entities in the value are
// decoded. started reports whether the parser got past the '='.
func (p *parser) parseAttr() (a attr, started bool, err error) {
	start := p.pos
	if !p.skipName() {
		return attr{}, false, fmt.Errorf("expected attribute name")
	}
	a.name = p.input[start:p.pos]
	p.skipBlanks()
	if !p.skipChar('=') {
		return attr{}, false, fmt.Errorf("expected = after attribute %s", a.name)
	}
	p.skipBlanks()
	q := p.char
	if !p.skipChar('"') && !p.skipChar('\'') {
		return attr{}, true, fmt.Errorf("value of attribute %s must be quoted", a.name)
	}
	valueStart := p.pos
	if !p.skipCharFind(q) {
		return attr{}, true, fmt.Errorf("missing closing quote in attribute %s", a.name)
	}
	a.value = html.UnescapeString(p.input[valueStart : p.pos-1])
	return a, true, nil
}

// skipComment jumps over the text of -- and /* */ comments up to the next
// '<'. It reports whether anything was skipped.
func (p *parser) skipComment() bool {
	start := p.pos
	if p.comment == noComment {
		switch {
		case p.skipString("--"):
			p.comment = lineComment
		case p.skipString("/*"):
			p.comment = blockComment
		default:
			return false
		}
	}
	// Stop at '<', which may start a tag.
	for p.pos < len(p.input) && p.char != '<' {
		if p.comment == lineComment && p.char == '\n' {
			p.comment = noComment
			break
		}
		if p.comment == blockComment && p.skipString("*/") {
			p.comment = noComment
			break
		}
		p.advanceChar()
	}
	return p.pos != start
}

// skipStringLiteral jumps over single and double quoted sections of input.
// Doubled up quotes are escaped.
func (p *parser) skipStringLiteral() (bool, error) {
	cp := p.save()
	start := p.here()

	c := p.char
	if p.skipChar('"') || p.skipChar('\'') {

		// We keep track of whether the next quote has been previously
		// escaped. If not, it might be a closing quote.
		maybeCloser := true
		for p.skipCharFind(c) {
			// If this looks like a closing quote, check if it might be an
			// escape for a following quote. If not, we're done.
			if maybeCloser && !p.peekChar(c) {
				return true, nil
			}
			maybeCloser = !maybeCloser
		}

		// Reached end of string and didn't find the closing quote
		cp.restore()
		return false, errs.Syntaxf(start, "missing closing quote in string literal")
	}
	return false, nil
}

// peekChar returns true if the current char equals the one passed as parameter.
func (p *parser) peekChar(c rune) bool {
	return p.pos < len(p.input) && p.char == c
}

// skipChar jumps over the current char if it matches the char passed as a
// parameter. Returns true in that case, false otherwise.
func (p *parser) skipChar(c rune) bool {
	if p.pos < len(p.input) && p.char == c {
		p.advanceChar()
		return true
	}
	return false
}

// skipCharFind looks for a char that matches the one passed as parameter and
// then advances the parser to jump over it. In that case returns true. If the
// end of the string is reached and no matching char was found, it returns
// false and it does not change the parser.
func (p *parser) skipCharFind(c rune) bool {
	cp := p.save()
	for p.pos < len(p.input) {
		if p.char == c {
			p.advanceChar()
			return true
		}
		p.advanceChar()
	}
	cp.restore()
	return false
}

// skipBlanks advances the parser past spaces, tabs and newlines. Returns
// whether the parser position was changed.
func (p *parser) skipBlanks() bool {
	mark := p.pos
	for p.pos < len(p.input) {
		switch p.char {
		case ' ', '\t', '\r', '\n':
			p.advanceChar()
		default:
			return p.pos != mark
		}
	}
	return p.pos != mark
}

// skipString jumps over s if the input continues with it. s must not
// contain a line break.
func (p *parser) skipString(s string) bool {
	if strings.HasPrefix(p.input[p.pos:], s) {
		p.nextPos = p.pos + len(s)
		p.advanceChar()
		return true
	}
	return false
}

// skipName advances the parser past a tag or attribute name.
func (p *parser) skipName() bool {
	mark := p.pos
	if p.pos < len(p.input) && isInitialNameChar(p.char) {
		p.advanceChar()
		for p.pos < len(p.input) && isNameChar(p.char) {
			p.advanceChar()
		}
	}
	return p.pos > mark
}

func isInitialNameChar(r rune) bool {
	return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || r == '_'
}

func isNameChar(r rune) bool {
	return isInitialNameChar(r) || ('0' <= r && r <= '9') || r == '-'
}
