// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package prune decides which parts of a parsed template survive for a set
// of bindings and renders the final SQL.
//
// Pruning runs in two passes over the tree. The mark pass visits the nodes
// depth first in document order and records the removed ones, never
// modifying the tree, so that an <elsif> or <else> can inspect the outcome of
// the preceding members of its chain. The render pass then concatenates the
// text of the nodes that were not removed.
package prune

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/canonical/sqlprune/internal/errs"
	"github.com/canonical/sqlprune/internal/expr"
	"github.com/canonical/sqlprune/internal/params"
	"github.com/canonical/sqlprune/internal/parse"
	"github.com/canonical/sqlprune/internal/value"
)

// Positional identifies the list element a positional parameter, such as
// id1 from <a>:id</a>, stands for.
type Positional struct {
	// Name is the list parameter.
	Name  string
	Index int
}

// Result is the output of pruning a template.
type Result struct {
	// SQL is the final query text, free of markup.
	SQL string
	// Params are the parameters referenced in SQL, distinct ignoring case, in
	// order of first appearance and with their first spelling.
	Params []string
	// positionals is keyed by the lower case positional name.
	positionals map[string]Positional
}

// Positional returns the list element the parameter name stands for, if it
// was produced by a repeat block.
func (r *Result) Positional(name string) (Positional, bool) {
	pos, ok := r.positionals[strings.ToLower(name)]
	return pos, ok
}

// Prune prunes tree with bindings. The tree is not modified and may be
// pruned concurrently with other bindings.
func Prune(tree *parse.Tree, bindings *value.Bindings) (*Result, error) {
	p := &pruner{
		bindings:    bindings,
		removed:     map[parse.Node]bool{},
		expanded:    map[*parse.Repeat]string{},
		positionals: map[string]Positional{},
	}
	if err := p.mark(tree.Nodes); err != nil {
		return nil, err
	}
	var sb strings.Builder
	p.render(&sb, tree.Nodes)
	sql := sb.String()
	return &Result{
		SQL:         sql,
		Params:      params.Names(sql).Names(),
		positionals: p.positionals,
	}, nil
}

type pruner struct {
	bindings *value.Bindings
	removed  map[parse.Node]bool
	// expanded holds the output of the repeat blocks that were kept.
	expanded    map[*parse.Repeat]string
	positionals map[string]Positional
}

// mark records which of nodes, and of their descendants, are removed.
func (p *pruner) mark(nodes []parse.Node) error {
	for i, n := range nodes {
		switch n := n.(type) {
		case *parse.Conditional:
			var keep bool
			var err error
			switch n.Kind {
			case parse.If:
				keep, err = p.test(n)
			case parse.ElseIf:
				if !p.chainTaken(nodes, i) {
					keep, err = p.test(n)
				}
			case parse.Else:
				keep = !p.chainTaken(nodes, i)
			}
			if err != nil {
				return err
			}
			if !keep {
				p.remove(n)
				continue
			}
			if err := p.mark(n.Children); err != nil {
				return err
			}
		case *parse.Repeat:
			if err := p.expand(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// remove marks n and everything under it as removed. Nothing under a
// removed node is evaluated.
func (p *pruner) remove(n parse.Node) {
	p.removed[n] = true
	for _, child := range children(n) {
		p.remove(child)
	}
}

func children(n parse.Node) []parse.Node {
	switch n := n.(type) {
	case *parse.Conditional:
		return n.Children
	case *parse.Repeat:
		return n.Children
	}
	return nil
}

// chainTaken reports whether a member of the chain ending before
// siblings[i] was kept. The chain is the run of <elsif> back to the nearest
// <if>, blank text between them being ignored.
func (p *pruner) chainTaken(siblings []parse.Node, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch n := siblings[j].(type) {
		case *parse.Text:
			if n.IsBlank() {
				continue
			}
		case *parse.Conditional:
			if !p.removed[n] {
				return true
			}
			if n.Kind == parse.ElseIf {
				continue
			}
		}
		return false
	}
	return false
}

// test evaluates the condition of an <if> or <elsif>. Without a c attribute
// the condition is that every parameter referenced in the body is truthy.
func (p *pruner) test(c *parse.Conditional) (bool, error) {
	e := c.Expr
	if e == nil {
		names := params.Names(text(c.Children))
		if names.Len() == 0 {
			return false, &errs.ConditionInferenceError{
				Pos:    c.Pos(),
				Tag:    c.Kind.Tag(),
				Reason: "body references no parameter",
			}
		}
		e = expr.All(names.Names())
	}
	ok, err := expr.Evaluate(e, p.bindings)
	if err != nil {
		return false, fmt.Errorf("%s: cannot evaluate condition %q of <%s>: %w", c.Pos(), e.Input(), c.Kind.Tag(), err)
	}
	return ok, nil
}

// text concatenates the text nodes of nodes.
func text(nodes []parse.Node) string {
	var sb strings.Builder
	for _, n := range nodes {
		if t, ok := n.(*parse.Text); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// allText concatenates the text nodes of nodes and of everything under them.
func allText(nodes []parse.Node) string {
	var sb strings.Builder
	for _, n := range nodes {
		if t, ok := n.(*parse.Text); ok {
			sb.WriteString(t.Text)
			continue
		}
		sb.WriteString(allText(children(n)))
	}
	return sb.String()
}

// expand renders a repeat block once per element of the list bound to the
// only parameter of its body, renaming the parameter to its positional
// variants. A null or empty list removes the block.
func (p *pruner) expand(r *parse.Repeat) error {
	// A block whose whole body names one parameter is removed without
	// evaluating the conditions in it when that parameter has no elements.
	if names := params.Names(allText(r.Children)).Names(); len(names) == 1 {
		if v, ok := p.bindings.Lookup(names[0]); ok && (v.Kind() == value.Null || v.Kind() == value.List && v.Len() == 0) {
			p.remove(r)
			return nil
		}
	}
	if err := p.mark(r.Children); err != nil {
		return err
	}
	var sb strings.Builder
	p.render(&sb, r.Children)
	body := sb.String()

	names := params.Names(body).Names()
	switch {
	case len(names) == 0:
		return &errs.ConditionInferenceError{Pos: r.Pos(), Tag: "a", Reason: "body references no parameter"}
	case len(names) > 1:
		return &errs.AmbiguousParameterError{Pos: r.Pos(), Names: names}
	}
	name := names[0]
	v, ok := p.bindings.Lookup(name)
	if !ok {
		return fmt.Errorf("%s: cannot expand <a>: %w", r.Pos(), &errs.UnboundVariableError{Name: name})
	}
	switch v.Kind() {
	case value.Null:
		p.remove(r)
		return nil
	case value.List:
	default:
		return fmt.Errorf("%s: cannot expand <a>: parameter %q is %s, expected a list", r.Pos(), name, v.Kind())
	}
	if v.Len() == 0 {
		p.remove(r)
		return nil
	}

	sb.Reset()
	sb.WriteString(r.Prefix)
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			sb.WriteString(r.Sep)
		}
		suffix := strconv.Itoa(i)
		sb.WriteString(params.Rewrite(body, name, suffix))
		p.positionals[strings.ToLower(name+suffix)] = Positional{Name: name, Index: i}
	}
	sb.WriteString(r.Suffix)
	p.expanded[r] = sb.String()
	return nil
}

// render writes the text of the nodes that were not removed.
func (p *pruner) render(sb *strings.Builder, nodes []parse.Node) {
	for _, n := range nodes {
		if p.removed[n] {
			continue
		}
		switch n := n.(type) {
		case *parse.Text:
			sb.WriteString(n.Text)
		case *parse.Conditional:
			p.render(sb, n.Children)
		case *parse.Repeat:
			sb.WriteString(p.expanded[n])
		}
	}
}
