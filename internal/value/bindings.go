package value

import (
	"fmt"
	"sort"
	"strings"
)

// Binding is a single named parameter.
type Binding struct {
	// Name is the name as supplied by the caller.
	Name string
	// Raw is the Go value as supplied by the caller. It is what gets passed
	// to the database driver.
	Raw   any
	Value Value
}

// Bindings maps case-insensitive parameter names to values. A Bindings is
// not modified after construction and may be shared between goroutines.
type Bindings struct {
	byKey map[string]Binding
	// allowUnbound makes Lookup resolve unknown names to Null.
	allowUnbound bool
}

// NewBindings converts the named Go values into Bindings. It fails if two
// names differ only in case or a value cannot be converted.
func NewBindings(named map[string]any) (*Bindings, error) {
	b := &Bindings{byKey: make(map[string]Binding, len(named))}
	// Sort for deterministic error messages.
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		key := strings.ToLower(name)
		if dupe, ok := b.byKey[key]; ok {
			return nil, fmt.Errorf("parameter %q bound more than once (as %q and %q)", key, dupe.Name, name)
		}
		v, err := Of(named[name])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %s", name, err)
		}
		b.byKey[key] = Binding{Name: name, Raw: named[name], Value: v}
	}
	return b, nil
}

// AllowUnbound returns a copy of b in which names without a binding resolve
// to Null instead of being reported as unbound.
func (b *Bindings) AllowUnbound() *Bindings {
	return &Bindings{byKey: b.byKey, allowUnbound: true}
}

// Lookup returns the value bound to name. The second result is false only
// when name has no binding and unbound names are not allowed.
func (b *Bindings) Lookup(name string) (Value, bool) {
	if bd, ok := b.byKey[strings.ToLower(name)]; ok {
		return bd.Value, true
	}
	return Value{}, b.allowUnbound
}

// Get returns the binding of name.
func (b *Bindings) Get(name string) (Binding, bool) {
	bd, ok := b.byKey[strings.ToLower(name)]
	return bd, ok
}

// Len returns the number of bindings.
func (b *Bindings) Len() int {
	return len(b.byKey)
}
