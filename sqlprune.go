// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlprune

import (
	"database/sql"
	"fmt"
	"reflect"

	"github.com/canonical/sqlprune/internal/errs"
	"github.com/canonical/sqlprune/internal/params"
	"github.com/canonical/sqlprune/internal/parse"
	"github.com/canonical/sqlprune/internal/prune"
	"github.com/canonical/sqlprune/internal/typeinfo"
	"github.com/canonical/sqlprune/internal/value"
)

// M is a convenience type for passing bindings by name. M is not a special
// type, any map type with string keys can be used.
//
// Example:
//
//	t := sqlprune.MustParse("SELECT * FROM person <if>WHERE name = :name</if>")
//	q, err := t.Prune(sqlprune.M{"name": "Fred"})
type M map[string]any

// The failures reported by Parse and Prune. They are wrapped, use
// errors.As to get at them.
type (
	SyntaxError             = errs.SyntaxError
	UnsupportedTagError     = errs.UnsupportedTagError
	ConditionInferenceError = errs.ConditionInferenceError
	AmbiguousParameterError = errs.AmbiguousParameterError
	UnboundVariableError    = errs.UnboundVariableError
	ComparisonError         = errs.ComparisonError
	Position                = errs.Position
)

// Template is a parsed SQL template. A Template holds no per-query state;
// it can be pruned any number of times, concurrently, and run on any DB.
type Template struct {
	// cacheID is used to look up the driver prepared statements associated
	// with this template.
	cacheID uint64
	tree    *parse.Tree
}

// Parse parses a template and reports malformed markup and conditions.
func Parse(text string) (*Template, error) {
	tree, err := parse.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("cannot parse template: %w", err)
	}
	return stmtCache.newTemplate(tree), nil
}

// MustParse is the same as [Parse] except that it panics on error.
func MustParse(text string) *Template {
	t, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template text.
func (t *Template) String() string {
	return t.tree.Input
}

// Params returns every parameter referenced in the SQL text of the template,
// whatever the bindings, distinct ignoring case.
func (t *Template) Params() []string {
	set := params.NewSet()
	var walk func(nodes []parse.Node)
	walk = func(nodes []parse.Node) {
		for _, n := range nodes {
			switch n := n.(type) {
			case *parse.Text:
				for _, tok := range params.Scan(n.Text) {
					set.Add(tok.Name)
				}
			case *parse.Conditional:
				walk(n.Children)
			case *parse.Repeat:
				walk(n.Children)
			}
		}
	}
	walk(t.tree.Nodes)
	return set.Names()
}

// Options changes how a template is pruned.
type Options struct {
	// AllowUnbound makes parameters that have no binding null instead of
	// failing, in conditions and repeat blocks as well as in query
	// arguments.
	AllowUnbound bool
}

// Prune evaluates the template's markup with bindings, which is nil, a map
// with string keys, or a struct whose "db" tagged fields are the
// parameters. List values (slices and arrays) are only useful to repeat
// blocks.
func (t *Template) Prune(bindings any) (*PrunedQuery, error) {
	return t.PruneWith(bindings, Options{})
}

// PruneWith is [Template.Prune] with options.
func (t *Template) PruneWith(bindings any, opts Options) (pq *PrunedQuery, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot prune template: %w", err)
		}
	}()

	named, err := typeinfo.Named(bindings)
	if err != nil {
		return nil, err
	}
	b, err := value.NewBindings(named)
	if err != nil {
		return nil, err
	}
	if opts.AllowUnbound {
		b = b.AllowUnbound()
	}
	res, err := prune.Prune(t.tree, b)
	if err != nil {
		return nil, err
	}
	return &PrunedQuery{result: res, bindings: b, allowUnbound: opts.AllowUnbound}, nil
}

// Prune parses and prunes text in one go.
func Prune(text string, bindings any) (*PrunedQuery, error) {
	tree, err := parse.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("cannot parse template: %w", err)
	}
	return (&Template{tree: tree}).Prune(bindings)
}

// Params returns the parameters referenced by text, ignoring markup.
func Params(text string) []string {
	return params.Names(text).Names()
}

// PrunedQuery is the outcome of pruning a template: the final SQL and the
// parameters it uses.
type PrunedQuery struct {
	result       *prune.Result
	bindings     *value.Bindings
	allowUnbound bool
}

// SQL returns the final query text.
func (pq *PrunedQuery) SQL() string {
	return pq.result.SQL
}

// ParamNames returns the parameters used by the final query, distinct
// ignoring case, in order of first appearance.
func (pq *PrunedQuery) ParamNames() []string {
	return append([]string{}, pq.result.Params...)
}

// Args returns the query arguments as [sql.NamedArg] values, one per
// parameter spelling in the final query. Positional parameters produced by
// repeat blocks take the matching element of their list. It fails if a
// parameter has no binding, unless the query was pruned with
// [Options.AllowUnbound] in which case the argument is nil.
func (pq *PrunedQuery) Args() ([]any, error) {
	var args []any
	seen := map[string]bool{}
	for _, tok := range params.Scan(pq.result.SQL) {
		if seen[tok.Name] {
			continue
		}
		seen[tok.Name] = true
		raw, err := pq.arg(tok.Name)
		if err != nil {
			return nil, err
		}
		args = append(args, sql.Named(tok.Name, raw))
	}
	return args, nil
}

func (pq *PrunedQuery) arg(name string) (any, error) {
	if b, ok := pq.bindings.Get(name); ok {
		return b.Raw, nil
	}
	pos, ok := pq.result.Positional(name)
	if !ok {
		if pq.allowUnbound {
			return nil, nil
		}
		return nil, fmt.Errorf("parameter %q has no binding", name)
	}
	b, _ := pq.bindings.Get(pos.Name)
	v := reflect.ValueOf(b.Raw)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) || pos.Index >= v.Len() {
		return nil, fmt.Errorf("internal error: parameter %q is not element %d of %q", name, pos.Index, pos.Name)
	}
	return v.Index(pos.Index).Interface(), nil
}
