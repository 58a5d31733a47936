package bytecode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/shroud/cipher"
)

// MockEvaluator records every payload it is asked to evaluate.
type MockEvaluator struct {
	Sources []string
	Err     error
}

func (m *MockEvaluator) Evaluate(source string, scope *Globals) error {
	m.Sources = append(m.Sources, source)
	return m.Err
}

// sumEvaluator understands statements of the form "name = a + b + ..."
// over integer literals and binds the sum in the scope.
func sumEvaluator(source string, scope *Globals) error {
	name, expr, ok := strings.Cut(source, "=")
	if !ok {
		return fmt.Errorf("not an assignment: %q", source)
	}
	var sum int64
	for _, term := range strings.Split(expr, "+") {
		n, err := strconv.ParseInt(strings.TrimSpace(term), 10, 64)
		if err != nil {
			return err
		}
		sum += n
	}
	scope.Bind(strings.TrimSpace(name), sum)
	return nil
}

// Helper to create a program with raw code
func programWithCode(code ...byte) *Program {
	p := NewProgram()
	p.Code = code
	return p
}

func TestVMCompiledProgramBindsGlobal(t *testing.T) {
	p, _ := NewCompiler().Compile("x = 1 + 1", 7)

	globals := NewGlobals()
	vm := NewVM(globals, EvaluatorFunc(sumEvaluator))
	result, err := vm.Run(p)
	require.NoError(t, err)

	assert.Nil(t, result, "EXEC_XOR pushes nothing")
	x, ok := globals.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, int64(2), x)
}

func TestVMExecXorPassesDecryptedSource(t *testing.T) {
	source := "console.log('ünïcode')"
	p, _ := NewCompiler().Compile(source, 0xC3)

	eval := &MockEvaluator{}
	_, err := NewVM(nil, eval).Run(p)
	require.NoError(t, err)
	assert.Equal(t, []string{source}, eval.Sources)
}

func TestVMExecXorMasksKey(t *testing.T) {
	p := NewProgram()
	idx := p.AddConstant(cipher.XORByte([]byte("k = 5"), 0x07))
	p.EmitExecXor(idx, 0xABCD07) // only the low byte matters
	p.EmitHalt()

	eval := &MockEvaluator{}
	_, err := NewVM(nil, eval).Run(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"k = 5"}, eval.Sources)
}

func TestVMExecXorSharesScope(t *testing.T) {
	globals := NewGlobals()
	globals.Bind("seen", "before")

	var observed Value
	eval := EvaluatorFunc(func(source string, scope *Globals) error {
		observed, _ = scope.Lookup("seen")
		scope.Bind("seen", source)
		return nil
	})

	p, _ := NewCompiler().Compile("after", 9)
	_, err := NewVM(globals, eval).Run(p)
	require.NoError(t, err)

	assert.Equal(t, "before", observed)
	v, _ := globals.Lookup("seen")
	assert.Equal(t, "after", v)
}

func TestVMExecXorEvaluatorError(t *testing.T) {
	boom := errors.New("boom")
	p, _ := NewCompiler().Compile("x", 1)

	_, err := NewVM(nil, &MockEvaluator{Err: boom}).Run(p)
	assert.ErrorIs(t, err, boom)
}

func TestVMExecXorWithoutEvaluator(t *testing.T) {
	p, _ := NewCompiler().Compile("x", 1)

	_, err := NewVM(nil, nil).Run(p)
	assert.ErrorIs(t, err, ErrNoEvaluator)
}

func TestVMExecXorInvalidText(t *testing.T) {
	p := NewProgram()
	// 0xFF ^ 0x00 is never valid UTF-8
	idx := p.AddConstant([]byte{0xFF, 0xFE})
	p.EmitExecXor(idx, 0)
	p.EmitHalt()

	eval := &MockEvaluator{}
	_, err := NewVM(nil, eval).Run(p)
	assert.ErrorIs(t, err, ErrPayloadNotText)
	assert.Empty(t, eval.Sources)
}

func TestVMExecXorNonBufferConstant(t *testing.T) {
	p := NewProgram()
	idx := p.AddConstant(int64(3))
	p.EmitExecXor(idx, 0)

	_, err := NewVM(nil, &MockEvaluator{}).Run(p)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestVMLoadConstThenHalt(t *testing.T) {
	p := NewProgram()
	p.EmitConstant("hello")
	p.EmitHalt()

	result, err := NewVM(nil, nil).Run(p)
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestVMResultIsTopOfStack(t *testing.T) {
	p := NewProgram()
	p.EmitConstant("first")
	p.EmitConstant("second")

	result, err := NewVM(nil, nil).Run(p)
	require.NoError(t, err)
	assert.Equal(t, "second", result)
}

func TestVMEmptyProgram(t *testing.T) {
	result, err := NewVM(nil, nil).Run(NewProgram())
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestVMHaltStopsImmediately(t *testing.T) {
	p := NewProgram()
	p.EmitConstant("kept")
	p.EmitHalt()
	// Garbage after HALT is never decoded
	p.Code = append(p.Code, 0x99, 0x01)

	result, err := NewVM(nil, nil).Run(p)
	require.NoError(t, err)
	assert.Equal(t, "kept", result)
}

func TestVMLoadGlobal(t *testing.T) {
	globals := NewGlobals()
	globals.Bind("answer", int64(42))

	p := NewProgram()
	p.EmitGlobal("answer")
	p.EmitHalt()

	result, err := NewVM(globals, nil).Run(p)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result)
}

func TestVMLoadGlobalUnbound(t *testing.T) {
	p := NewProgram()
	p.EmitConstant("marker")
	p.EmitGlobal("missing")
	p.EmitHalt()

	result, err := NewVM(nil, nil).Run(p)
	require.NoError(t, err, "an unbound global is not an error")
	assert.Nil(t, result)
}

func TestVMLoadGlobalNameMustBeText(t *testing.T) {
	p := NewProgram()
	idx := p.AddConstant(int64(1))
	p.Emit(OpLoadGlobal, idx)

	_, err := NewVM(nil, nil).Run(p)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestVMCallFuncPreservesArgumentOrder(t *testing.T) {
	var got []Value
	f := Func(func(args ...Value) (Value, error) {
		got = args
		return "called", nil
	})

	p := NewProgram()
	p.EmitConstant("below") // must survive the call
	p.EmitConstant(f)
	p.EmitConstant("arg1")
	p.EmitConstant("arg2")
	p.EmitCall(2)
	p.EmitHalt()

	vm := NewVM(nil, nil)
	result, err := vm.Run(p)
	require.NoError(t, err)

	assert.Equal(t, []Value{"arg1", "arg2"}, got)
	assert.Equal(t, "called", result)
}

func TestVMCallFuncGlobalCallable(t *testing.T) {
	globals := NewGlobals()
	globals.Bind("add", Func(func(args ...Value) (Value, error) {
		return args[0].(int64) - args[1].(int64), nil
	}))

	p := NewProgram()
	p.EmitGlobal("add")
	p.EmitConstant(int64(10))
	p.EmitConstant(int64(3))
	p.EmitCall(2)
	p.EmitHalt()

	result, err := NewVM(globals, nil).Run(p)
	require.NoError(t, err)
	assert.Equal(t, int64(7), result)
}

func TestVMCallFuncPlainFunction(t *testing.T) {
	globals := NewGlobals()
	globals.Bind("zero", func(args ...Value) (Value, error) { return len(args), nil })

	p := NewProgram()
	p.EmitGlobal("zero")
	p.EmitCall(0)

	result, err := NewVM(globals, nil).Run(p)
	require.NoError(t, err)
	assert.Equal(t, 0, result)
}

func TestVMCallFuncNotInvocable(t *testing.T) {
	p := NewProgram()
	p.EmitConstant("not a function")
	p.EmitConstant(int64(1))
	p.EmitCall(1)

	_, err := NewVM(nil, nil).Run(p)
	assert.ErrorIs(t, err, ErrNotInvocable)
}

func TestVMCallFuncError(t *testing.T) {
	boom := errors.New("boom")
	globals := NewGlobals()
	globals.Bind("fail", Func(func(args ...Value) (Value, error) { return nil, boom }))

	p := NewProgram()
	p.EmitGlobal("fail")
	p.EmitCall(0)

	_, err := NewVM(globals, nil).Run(p)
	assert.ErrorIs(t, err, boom)
}

func TestVMCallFuncStackUnderflow(t *testing.T) {
	p := NewProgram()
	p.EmitConstant("only one")
	p.EmitCall(1) // needs two values

	_, err := NewVM(nil, nil).Run(p)
	assert.ErrorIs(t, err, ErrStackUnderflow)

	// A huge argc must not allocate before the check
	p = programWithCode(byte(OpCallFunc), 0xFF, 0xFF, 0xFF, 0xFF)
	_, err = NewVM(nil, nil).Run(p)
	assert.ErrorIs(t, err, ErrStackUnderflow)
}

func TestVMUnknownOpcode(t *testing.T) {
	result, err := NewVM(nil, nil).Run(programWithCode(0x99))

	assert.Nil(t, result)
	require.ErrorIs(t, err, ErrDecode)
	de, ok := IsDecodeError(err)
	require.True(t, ok)
	assert.Equal(t, 0, de.Offset)
	assert.Equal(t, Opcode(0x99), de.Op)
}

func TestVMTruncatedOperand(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"load const no operand", []byte{byte(OpLoadConst)}},
		{"load const short operand", []byte{byte(OpLoadConst), 0, 0}},
		{"load global short operand", []byte{byte(OpLoadGlobal), 0, 0, 0}},
		{"call short operand", []byte{byte(OpCallFunc), 0}},
		{"exec xor missing key", []byte{byte(OpExecXor), 0, 0, 0, 0}},
		{"exec xor short key", []byte{byte(OpExecXor), 0, 0, 0, 0, 0, 0, 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := programWithCode(tt.code...)
			p.AddConstant(cipher.XORByte([]byte("x = 1"), 7))

			eval := &MockEvaluator{}
			result, err := NewVM(nil, eval).Run(p)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrDecode)
			assert.Empty(t, eval.Sources)
		})
	}
}

func TestVMTruncatedCompiledProgram(t *testing.T) {
	p, _ := NewCompiler().Compile("x = 1 + 1", 7)
	p.Code = p.Code[:7] // cut inside the key operand

	eval := &MockEvaluator{}
	_, err := NewVM(nil, eval).Run(p)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Empty(t, eval.Sources)
}

func TestVMConstantIndexOutOfRange(t *testing.T) {
	p := NewProgram()
	p.Emit(OpLoadConst, 3)

	_, err := NewVM(nil, nil).Run(p)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestVMRunResetsState(t *testing.T) {
	vm := NewVM(nil, nil)

	p := NewProgram()
	p.EmitConstant("leftover")
	_, err := vm.Run(p)
	require.NoError(t, err)

	result, err := vm.Run(NewProgram())
	require.NoError(t, err)
	assert.Nil(t, result, "stack does not survive between runs")
}

func TestVMTrace(t *testing.T) {
	p, _ := NewCompiler().Compile("x = 4", 2)

	vm := NewVM(nil, EvaluatorFunc(sumEvaluator))
	vm.Trace = true
	_, err := vm.Run(p)
	require.NoError(t, err)

	x, _ := vm.Globals().Lookup("x")
	assert.Equal(t, int64(4), x)
}

func TestGlobals(t *testing.T) {
	g := NewGlobals()
	g.BindAll(map[string]Value{"b": 2, "a": 1})
	g.Bind("c", 3)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []string{"a", "b", "c"}, g.Names())

	g.Delete("b")
	_, ok := g.Lookup("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "c"}, g.Names())
}
