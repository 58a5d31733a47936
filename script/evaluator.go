// Package script evaluates decrypted JavaScript payloads with goja,
// keeping the script's global scope in step with a bytecode.Globals table.
//
// Both global object properties (var, function, undeclared assignment)
// and top-level let, const and class bindings are copied back into
// Globals. Lexical bindings inside destructuring patterns are not.
package script

import (
	"fmt"
	"reflect"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"

	"github.com/chazu/shroud/pkg/bytecode"
)

// binding records a value exchanged between Globals and the runtime: the
// JS value as the runtime holds it and the Go value as Globals holds it.
type binding struct {
	js  goja.Value
	val bytecode.Value
}

// Evaluator runs JavaScript source against a bytecode.Globals table.
//
// One goja runtime backs the evaluator for its whole lifetime, so values
// created by one payload keep their identity (closures, prototypes,
// constructors) when later payloads or instructions use them. Bindings
// whose Go value has not changed since they were exchanged are not
// republished. Switching to a different Globals table starts the
// bookkeeping over. Not safe for concurrent use.
type Evaluator struct {
	rt *goja.Runtime

	scope     *bytecode.Globals
	published map[string]binding
	lexical   map[string]struct{}
}

// NewEvaluator creates an evaluator with a fresh runtime.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		rt:        goja.New(),
		published: make(map[string]binding),
		lexical:   make(map[string]struct{}),
	}
}

// Runtime exposes the underlying goja runtime.
func (e *Evaluator) Runtime() *goja.Runtime {
	return e.rt
}

// Evaluate publishes the bindings of scope as globals, runs source, then
// copies the script's globals back into scope. Script exceptions are
// returned as errors; scope is left as it was before the failing run.
func (e *Evaluator) Evaluate(source string, scope *bytecode.Globals) error {
	prog, err := goja.Parse("", source)
	if err != nil {
		return fmt.Errorf("script: %w", err)
	}
	compiled, err := goja.CompileAST(prog, false)
	if err != nil {
		return fmt.Errorf("script: %w", err)
	}

	if scope != e.scope {
		e.scope = scope
		e.published = make(map[string]binding)
	}
	if err := e.publish(scope); err != nil {
		return err
	}

	if _, err := e.rt.RunProgram(compiled); err != nil {
		return fmt.Errorf("script: %w", err)
	}

	for _, name := range lexicalNames(prog) {
		e.lexical[name] = struct{}{}
	}
	e.writeBack(scope)
	return nil
}

func (e *Evaluator) publish(scope *bytecode.Globals) error {
	for _, name := range scope.Names() {
		v, _ := scope.Lookup(name)
		if b, ok := e.published[name]; ok && sameValue(b.val, v) {
			if cur := e.rt.Get(name); cur != nil && cur.SameAs(b.js) {
				continue
			}
		}
		if err := e.rt.Set(name, e.toJS(v)); err != nil {
			return fmt.Errorf("script: publish %q: %w", name, err)
		}
		e.published[name] = binding{js: e.rt.Get(name), val: v}
	}
	return nil
}

func (e *Evaluator) writeBack(scope *bytecode.Globals) {
	names := e.rt.GlobalObject().Keys()
	for name := range e.lexical {
		names = append(names, name)
	}
	for _, name := range names {
		jv := e.rt.Get(name)
		if jv == nil {
			continue
		}
		if prev, ok := e.published[name]; ok && prev.js.SameAs(jv) {
			continue
		}
		v := e.fromJS(jv)
		scope.Bind(name, v)
		e.published[name] = binding{js: jv, val: v}
	}
}

// lexicalNames lists the identifiers bound by top-level let, const and
// class declarations. goja keeps these outside the global object.
func lexicalNames(prog *ast.Program) []string {
	var names []string
	for _, st := range prog.Body {
		switch d := st.(type) {
		case *ast.LexicalDeclaration:
			for _, b := range d.List {
				if id, ok := b.Target.(*ast.Identifier); ok {
					names = append(names, id.Name.String())
				}
			}
		case *ast.ClassDeclaration:
			if d.Class != nil && d.Class.Name != nil {
				names = append(names, d.Class.Name.Name.String())
			}
		}
	}
	return names
}

// sameValue reports whether a Globals value is still the one last
// exchanged with the runtime. Reference kinds compare by identity.
func sameValue(a, b bytecode.Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	case reflect.Func:
		// closures share code pointers
		return false
	}
	if !va.Type().Comparable() {
		return false
	}
	return a == b
}

// jsFunc is a JS function held in Globals. It converts back to the
// original function object, so constructors and properties survive.
type jsFunc struct {
	e  *Evaluator
	fn goja.Callable
	v  goja.Value
}

// Call invokes the function with an undefined receiver.
func (f *jsFunc) Call(args ...bytecode.Value) (bytecode.Value, error) {
	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = f.e.toJS(a)
	}
	result, err := f.fn(goja.Undefined(), jsArgs...)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	return f.e.fromJS(result), nil
}

// toJS converts a Go value for publication. Functions that came from this
// runtime are returned as they were; other callables become native
// functions; everything else goes through goja's reflection.
func (e *Evaluator) toJS(v bytecode.Value) goja.Value {
	if f, ok := v.(*jsFunc); ok && f.e == e {
		return f.v
	}
	c, ok := v.(bytecode.Callable)
	if !ok {
		return e.rt.ToValue(v)
	}
	return e.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		args := make([]bytecode.Value, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = e.fromJS(a)
		}
		result, err := c.Call(args...)
		if err != nil {
			panic(e.rt.NewGoError(err))
		}
		return e.toJS(result)
	})
}

// fromJS converts a JS value for storage in Globals. JS functions become
// callables so CALL_FUNC can invoke them.
func (e *Evaluator) fromJS(v goja.Value) bytecode.Value {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if fn, ok := goja.AssertFunction(v); ok {
		return &jsFunc{e: e, fn: fn, v: v}
	}
	return v.Export()
}
