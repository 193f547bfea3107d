// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/canonical/sqlprune/internal/errs"
	"github.com/canonical/sqlprune/internal/value"
)

// Compile parses a condition such as `$a = "1" and not($b)` and returns the
// compiled expression.
func Compile(input string) (*Expr, error) {
	p := &parser{}
	p.init(input)
	p.skipBlanks()
	if p.pos == len(p.input) {
		return nil, p.errorf("empty condition")
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipBlanks()
	if p.pos < len(p.input) {
		return nil, p.errorf("unexpected %q", p.rest())
	}
	return &Expr{input: input, root: root}, nil
}

type parser struct {
	input string
	pos   int
	// nextPos is start of the next char.
	nextPos int
	// char is the rune starting at pos. char is set to 0 when pos reaches the
	// end of input.
	char rune
}

// init resets the state of the parser and sets the input string.
func (p *parser) init(input string) {
	p.input = input
	p.pos = 0
	p.nextPos = 0
	p.char = 0
	p.advanceChar()
}

// advanceChar moves the parser to the next character in the input.
func (p *parser) advanceChar() bool {
	if p.nextPos >= len(p.input) {
		p.char = 0
		p.pos = p.nextPos
		return false
	}
	var size int
	p.char, size = utf8.DecodeRuneInString(p.input[p.nextPos:])
	p.pos = p.nextPos
	p.nextPos += size
	return true
}

// checkpoint holds parser state to be restored after a failed attempt.
type checkpoint struct {
	parser  *parser
	pos     int
	nextPos int
	char    rune
}

func (p *parser) save() *checkpoint {
	return &checkpoint{parser: p, pos: p.pos, nextPos: p.nextPos, char: p.char}
}

func (cp *checkpoint) restore() {
	cp.parser.pos = cp.pos
	cp.parser.nextPos = cp.nextPos
	cp.parser.char = cp.char
}

// errorf returns a condition SyntaxError at the current position.
func (p *parser) errorf(format string, args ...any) error {
	return p.errorAt(p.pos, format, args...)
}

func (p *parser) errorAt(pos int, format string, args ...any) error {
	return &errs.SyntaxError{
		Pos:    errs.At(p.input, pos),
		Source: "condition",
		Msg:    fmt.Sprintf(format, args...),
	}
}

// rest returns a short excerpt of the unparsed input for error messages.
func (p *parser) rest() string {
	s := p.input[p.pos:]
	if len(s) > 10 {
		return s[:10] + "..."
	}
	return s
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

// skipChar jumps over the current char if it matches the char passed as a
// parameter. Returns true in that case, false otherwise.
func (p *parser) skipChar(c rune) bool {
	if p.pos < len(p.input) && p.char == c {
		p.advanceChar()
		return true
	}
	return false
}

// skipString jumps over s if the input continues with it. The match is
// case insensitive.
func (p *parser) skipString(s string) bool {
	if p.pos+len(s) <= len(p.input) && strings.EqualFold(p.input[p.pos:p.pos+len(s)], s) {
		p.nextPos = p.pos + len(s)
		p.advanceChar()
		return true
	}
	return false
}

// skipKeyword jumps over the keyword kw when it is not the prefix of a
// longer name.
func (p *parser) skipKeyword(kw string) bool {
	cp := p.save()
	if !p.skipString(kw) {
		return false
	}
	if p.pos < len(p.input) && isNameChar(p.char) {
		cp.restore()
		return false
	}
	return true
}

// skipName advances the parser past a parameter name.
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
	return r == '_' || unicode.IsLetter(r)
}

func isNameChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// parseOr parses: and-expr { "or" and-expr }.
func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		p.skipBlanks()
		if !p.skipKeyword("or") {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: opOr, left: left, right: right}
	}
}

// parseAnd parses: comparison { "and" comparison }.
func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		p.skipBlanks()
		if !p.skipKeyword("and") {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: opAnd, left: left, right: right}
	}
}

// comparisonOps is ordered so that two char operators are tried first.
var comparisonOps = []operator{opLe, opGe, opNe, opEq, opLt, opGt}

// parseComparison parses: unary { comparison-op unary }.
func (p *parser) parseComparison() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
loop:
	for {
		p.skipBlanks()
		for _, op := range comparisonOps {
			if p.skipString(string(op)) {
				right, err := p.parseUnary()
				if err != nil {
					return nil, err
				}
				left = &binaryExpr{op: op, left: left, right: right}
				continue loop
			}
		}
		return left, nil
	}
}

// parseUnary parses: "not" unary | primary.
func (p *parser) parseUnary() (node, error) {
	p.skipBlanks()
	if p.skipKeyword("not") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notExpr{operand: operand}, nil
	}
	return p.parsePrimary()
}

// parsePrimary parses a grouping, a variable or a literal.
func (p *parser) parsePrimary() (node, error) {
	p.skipBlanks()
	start := p.pos
	switch {
	case p.pos == len(p.input):
		return nil, p.errorf("unexpected end of condition")
	case p.skipChar('('):
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.skipBlanks()
		if !p.skipChar(')') {
			return nil, p.errorAt(start, "missing closing parenthesis")
		}
		return inner, nil
	case p.skipChar('$'):
		nameStart := p.pos
		if !p.skipName() {
			return nil, p.errorAt(start, "expected parameter name after $")
		}
		return &varRef{name: p.input[nameStart:p.pos]}, nil
	case p.char == '"' || p.char == '\'':
		return p.parseStringLiteral()
	case p.char == '-' || p.char == '.' || unicode.IsDigit(p.char):
		return p.parseNumber()
	}
	return nil, p.errorf("unexpected %q", p.rest())
}

// parseStringLiteral parses a single or double quoted string. A doubled
// quote inside the literal stands for one quote.
func (p *parser) parseStringLiteral() (node, error) {
	start := p.pos
	q := p.char
	p.advanceChar()
	var sb strings.Builder
	for p.pos < len(p.input) {
		if p.skipChar(q) {
			if !p.skipChar(q) {
				return &literal{value: value.StringValue(sb.String()), text: p.input[start:p.pos]}, nil
			}
			sb.WriteRune(q)
			continue
		}
		sb.WriteRune(p.char)
		p.advanceChar()
	}
	return nil, p.errorAt(start, "missing closing quote in string literal")
}

// parseNumber parses -?digits[.digits].
func (p *parser) parseNumber() (node, error) {
	start := p.pos
	p.skipChar('-')
	for p.pos < len(p.input) && (unicode.IsDigit(p.char) || p.char == '.') {
		p.advanceChar()
	}
	text := p.input[start:p.pos]
	r, ok := value.ParseNumber(text)
	if !ok || strings.HasPrefix(strings.TrimPrefix(text, "-"), ".") {
		return nil, p.errorAt(start, "invalid number %q", text)
	}
	return &literal{value: value.DecimalValue(r), text: text}, nil
}
