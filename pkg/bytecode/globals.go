package bytecode

import "sort"

// Globals is the binding table shared by OpLoadGlobal and by every
// payload evaluated through OpExecXor.
//
// The caller creates it, hands it to NewVM, and owns it after the run;
// nested evaluations mutate it in place. It is not safe for concurrent
// use.
type Globals struct {
	bindings map[string]Value
}

// NewGlobals creates an empty binding table.
func NewGlobals() *Globals {
	return &Globals{bindings: make(map[string]Value)}
}

// Lookup returns the value bound to name.
func (g *Globals) Lookup(name string) (Value, bool) {
	v, ok := g.bindings[name]
	return v, ok
}

// Bind sets name to value, replacing any previous binding.
func (g *Globals) Bind(name string, value Value) {
	g.bindings[name] = value
}

// BindAll binds every entry of values.
func (g *Globals) BindAll(values map[string]Value) {
	for name, v := range values {
		g.bindings[name] = v
	}
}

// Delete removes the binding for name.
func (g *Globals) Delete(name string) {
	delete(g.bindings, name)
}

// Names returns the bound names in sorted order.
func (g *Globals) Names() []string {
	names := make([]string, 0, len(g.bindings))
	for name := range g.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of bindings.
func (g *Globals) Len() int {
	return len(g.bindings)
}

// Callable is a value OpCallFunc can invoke.
type Callable interface {
	Call(args ...Value) (Value, error)
}

// Func adapts an ordinary function to Callable.
type Func func(args ...Value) (Value, error)

// Call calls f(args...).
func (f Func) Call(args ...Value) (Value, error) {
	return f(args...)
}

// Evaluator runs decrypted payload source against a binding table.
// Implementations decide what language the payload is written in.
type Evaluator interface {
	Evaluate(source string, scope *Globals) error
}

// EvaluatorFunc adapts an ordinary function to Evaluator.
type EvaluatorFunc func(source string, scope *Globals) error

// Evaluate calls f(source, scope).
func (f EvaluatorFunc) Evaluate(source string, scope *Globals) error {
	return f(source, scope)
}
