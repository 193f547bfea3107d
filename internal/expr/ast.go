package expr

import (
	"strings"

	"github.com/canonical/sqlprune/internal/value"
)

type operator string

const (
	opAnd operator = "and"
	opOr  operator = "or"
	opEq  operator = "="
	opNe  operator = "!="
	opLt  operator = "<"
	opGt  operator = ">"
	opLe  operator = "<="
	opGe  operator = ">="
)

// node is a node of the condition AST.
type node interface {
	String() string
	eval(env Env) (value.Value, error)
}

// varRef is a $name reference to a bound parameter.
type varRef struct {
	name string
}

func (v *varRef) String() string {
	return "$" + v.name
}

// literal is a quoted string or a bare number.
type literal struct {
	value value.Value
	// text is the literal as written.
	text string
}

func (l *literal) String() string {
	return l.text
}

type notExpr struct {
	operand node
}

func (n *notExpr) String() string {
	return "not(" + n.operand.String() + ")"
}

type binaryExpr struct {
	op          operator
	left, right node
}

func (b *binaryExpr) String() string {
	return "(" + b.left.String() + " " + string(b.op) + " " + b.right.String() + ")"
}

// Expr is a compiled condition. It holds no evaluation state and may be
// evaluated concurrently.
type Expr struct {
	input string
	root  node
}

// All returns the conjunction of the truthiness of the named parameters,
// the condition implied by an <if> without an explicit one. It panics if
// names is empty.
func All(names []string) *Expr {
	if len(names) == 0 {
		panic("internal error: empty conjunction")
	}
	var root node = &varRef{name: names[0]}
	parts := []string{"$" + names[0]}
	for _, name := range names[1:] {
		root = &binaryExpr{op: opAnd, left: root, right: &varRef{name: name}}
		parts = append(parts, "$"+name)
	}
	return &Expr{input: strings.Join(parts, " and "), root: root}
}

// Input returns the condition text the expression was compiled from.
func (e *Expr) Input() string {
	return e.input
}

// String returns the fully parenthesised form of the expression.
func (e *Expr) String() string {
	return e.root.String()
}
