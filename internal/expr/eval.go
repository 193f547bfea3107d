package expr

import (
	"github.com/canonical/sqlprune/internal/errs"
	"github.com/canonical/sqlprune/internal/value"
)

// Env resolves variable names to values. *value.Bindings is an Env.
type Env interface {
	// Lookup returns the value of name. The second result is false when
	// name is unbound.
	Lookup(name string) (value.Value, bool)
}

// Evaluate evaluates e against env and returns the truthiness of the
// result.
func Evaluate(e *Expr, env Env) (bool, error) {
	v, err := e.root.eval(env)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// Evaluate is shorthand for Evaluate(e, env).
func (e *Expr) Evaluate(env Env) (bool, error) {
	return Evaluate(e, env)
}

func (v *varRef) eval(env Env) (value.Value, error) {
	val, ok := env.Lookup(v.name)
	if !ok {
		return value.Value{}, &errs.UnboundVariableError{Name: v.name}
	}
	return val, nil
}

func (l *literal) eval(Env) (value.Value, error) {
	return l.value, nil
}

func (n *notExpr) eval(env Env) (value.Value, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return value.Value{}, err
	}
	return value.BoolValue(!v.Truthy()), nil
}

func (b *binaryExpr) eval(env Env) (value.Value, error) {
	left, err := b.left.eval(env)
	if err != nil {
		return value.Value{}, err
	}
	switch b.op {
	case opAnd:
		if !left.Truthy() {
			return value.BoolValue(false), nil
		}
		return b.evalTruth(b.right, env)
	case opOr:
		if left.Truthy() {
			return value.BoolValue(true), nil
		}
		return b.evalTruth(b.right, env)
	}
	right, err := b.right.eval(env)
	if err != nil {
		return value.Value{}, err
	}
	ok, err := compare(b.op, left, right)
	if err != nil {
		return value.Value{}, err
	}
	return value.BoolValue(ok), nil
}

func (b *binaryExpr) evalTruth(n node, env Env) (value.Value, error) {
	v, err := n.eval(env)
	if err != nil {
		return value.Value{}, err
	}
	return value.BoolValue(v.Truthy()), nil
}
