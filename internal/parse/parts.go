package parse

import (
	"fmt"
	"strings"

	"github.com/canonical/sqlprune/internal/errs"
	"github.com/canonical/sqlprune/internal/expr"
)

// Node is a node of a parsed template: *Text, *Conditional or *Repeat.
type Node interface {
	// Pos returns the position of the start of the node in the template.
	Pos() errs.Position

	// String returns the node's representation for debugging purposes.
	String() string

	node()
}

// Text is literal SQL, kept verbatim including whitespace.
type Text struct {
	pos  errs.Position
	Text string
}

func (t *Text) Pos() errs.Position { return t.pos }

func (t *Text) String() string {
	return fmt.Sprintf("Text[%q]", t.Text)
}

func (*Text) node() {}

// IsBlank reports whether the text is whitespace only.
func (t *Text) IsBlank() bool {
	return strings.TrimSpace(t.Text) == ""
}

// Kind is the kind of a Conditional.
type Kind int

const (
	If Kind = iota
	ElseIf
	Else
)

// Tag returns the tag name of the kind.
func (k Kind) Tag() string {
	switch k {
	case If:
		return "if"
	case ElseIf:
		return "elsif"
	default:
		return "else"
	}
}

// Conditional is an <if>, <elsif> or <else> block.
type Conditional struct {
	pos  errs.Position
	Kind Kind
	// Cond is the source of the c attribute and Expr its compiled form. Expr
	// is nil when the tag has no c attribute, in which case the condition is
	// inferred from the parameters of the body. Else never has one.
	Cond     string
	Expr     *expr.Expr
	Children []Node
}

func (c *Conditional) Pos() errs.Position { return c.pos }

func (c *Conditional) String() string {
	var parts []string
	if c.Expr != nil {
		parts = append(parts, "c="+c.Expr.String())
	}
	for _, n := range c.Children {
		parts = append(parts, n.String())
	}
	return [...]string{"If", "ElseIf", "Else"}[c.Kind] + "[" + strings.Join(parts, " ") + "]"
}

func (*Conditional) node() {}

// Repeat is an <a> block, whose body is repeated once per element of a
// list parameter.
type Repeat struct {
	pos      errs.Position
	Prefix   string
	Sep      string
	Suffix   string
	Children []Node
}

func (r *Repeat) Pos() errs.Position { return r.pos }

func (r *Repeat) String() string {
	var parts []string
	for _, attr := range []struct{ name, val string }{{"pre", r.Prefix}, {"sep", r.Sep}, {"post", r.Suffix}} {
		if attr.val != "" {
			parts = append(parts, fmt.Sprintf("%s=%q", attr.name, attr.val))
		}
	}
	for _, n := range r.Children {
		parts = append(parts, n.String())
	}
	return "Repeat[" + strings.Join(parts, " ") + "]"
}

func (*Repeat) node() {}

// Tree is a parsed template. It is not modified after parsing and may be
// shared between goroutines.
type Tree struct {
	Input string
	Nodes []Node
}

func (t *Tree) String() string {
	var sb strings.Builder
	sb.WriteString("Tree[")
	writeNodes(&sb, t.Nodes)
	sb.WriteString("]")
	return sb.String()
}

func writeNodes(sb *strings.Builder, nodes []Node) {
	for i, n := range nodes {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(n.String())
	}
}
