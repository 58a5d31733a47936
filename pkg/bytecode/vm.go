package bytecode

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/chazu/shroud/cipher"
)

// VM executes programs. A VM owns its operand stack and program counter;
// the binding table and evaluator are supplied at construction.
type VM struct {
	// Current execution state, reset by every Run
	program *Program
	ip      int // Instruction pointer
	stack   []Value

	globals   *Globals
	evaluator Evaluator

	// Debug/trace mode
	Trace bool
}

// NewVM creates a VM bound to globals. A nil globals gets a fresh table.
// A nil evaluator is allowed; OpExecXor then fails with ErrNoEvaluator.
func NewVM(globals *Globals, evaluator Evaluator) *VM {
	if globals == nil {
		globals = NewGlobals()
	}
	return &VM{
		globals:   globals,
		evaluator: evaluator,
	}
}

// Globals returns the binding table the VM resolves and evaluates against.
func (vm *VM) Globals() *Globals {
	return vm.globals
}

// Run executes program from offset 0 until the code ends or OpHalt is
// decoded. Returns the top of the stack, or nil when the stack is empty.
// Every error is fatal; no partial result is returned with it.
func (vm *VM) Run(program *Program) (Value, error) {
	vm.program = program
	vm.ip = 0
	vm.stack = vm.stack[:0]

	result, err := vm.run()
	vm.program = nil
	vm.stack = vm.stack[:0]
	return result, err
}

// run is the main execution loop.
func (vm *VM) run() (Value, error) {
	code := vm.program.Code

	for vm.ip < len(code) {
		start := vm.ip
		op := Opcode(code[vm.ip])
		vm.ip++

		if vm.Trace {
			log.Debugf("[%04x] %-12s sp=%d", start, op, len(vm.stack))
		}

		switch op {
		case OpLoadConst:
			idx, err := vm.readOperand(start, op)
			if err != nil {
				return nil, err
			}
			value, err := vm.constant(start, op, idx)
			if err != nil {
				return nil, err
			}
			vm.push(value)

		case OpLoadGlobal:
			idx, err := vm.readOperand(start, op)
			if err != nil {
				return nil, err
			}
			name, err := vm.constantName(start, op, idx)
			if err != nil {
				return nil, err
			}
			// Unbound names push nil.
			value, _ := vm.globals.Lookup(name)
			vm.push(value)

		case OpCallFunc:
			argc, err := vm.readOperand(start, op)
			if err != nil {
				return nil, err
			}
			if uint64(argc)+1 > uint64(len(vm.stack)) {
				return nil, fmt.Errorf("%w: %s at offset %d needs %d values, have %d",
					ErrStackUnderflow, op, start, uint64(argc)+1, len(vm.stack))
			}

			// Pop args in reverse order
			args := make([]Value, argc)
			for i := int(argc) - 1; i >= 0; i-- {
				args[i] = vm.pop()
			}
			callee := vm.pop()

			result, err := call(callee, args)
			if err != nil {
				return nil, fmt.Errorf("%s at offset %d: %w", op, start, err)
			}
			vm.push(result)

		case OpExecXor:
			idx, err := vm.readOperand(start, op)
			if err != nil {
				return nil, err
			}
			key, err := vm.readOperand(start, op)
			if err != nil {
				return nil, err
			}
			if err := vm.execXor(start, idx, key); err != nil {
				return nil, err
			}

		case OpHalt:
			return vm.result(), nil

		default:
			return nil, &DecodeError{Offset: start, Op: op, Reason: "unknown opcode"}
		}
	}

	return vm.result(), nil
}

// execXor decrypts the payload constant and evaluates it synchronously in
// the VM's binding table.
func (vm *VM) execXor(offset int, idx, key uint32) error {
	value, err := vm.constant(offset, OpExecXor, idx)
	if err != nil {
		return err
	}

	var payload []byte
	switch v := value.(type) {
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	default:
		return &DecodeError{Offset: offset, Op: OpExecXor,
			Reason: fmt.Sprintf("constant %d is %T, not an encrypted buffer", idx, value)}
	}

	decrypted := cipher.XORByte(payload, byte(key&0xFF))
	if !utf8.Valid(decrypted) {
		return fmt.Errorf("%w: constant %d at offset %d", ErrPayloadNotText, idx, offset)
	}

	if vm.evaluator == nil {
		return fmt.Errorf("%w: %s at offset %d", ErrNoEvaluator, OpExecXor, offset)
	}
	if err := vm.evaluator.Evaluate(string(decrypted), vm.globals); err != nil {
		return fmt.Errorf("%s at offset %d: %w", OpExecXor, offset, err)
	}
	return nil
}

func call(callee Value, args []Value) (Value, error) {
	switch fn := callee.(type) {
	case Callable:
		return fn.Call(args...)
	case func(...Value) (Value, error):
		return fn(args...)
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotInvocable, callee)
	}
}

func (vm *VM) result() Value {
	if len(vm.stack) > 0 {
		return vm.stack[len(vm.stack)-1]
	}
	return nil
}

// Stack helpers

func (vm *VM) push(val Value) {
	vm.stack = append(vm.stack, val)
}

func (vm *VM) pop() Value {
	top := len(vm.stack) - 1
	val := vm.stack[top]
	vm.stack[top] = nil
	vm.stack = vm.stack[:top]
	return val
}

// Bytecode reading helpers

// readOperand reads a 4-byte big-endian operand for the instruction at offset.
func (vm *VM) readOperand(offset int, op Opcode) (uint32, error) {
	code := vm.program.Code
	if len(code)-vm.ip < OperandSize {
		return 0, &DecodeError{Offset: offset, Op: op,
			Reason: fmt.Sprintf("truncated operand: need %d bytes, have %d", OperandSize, len(code)-vm.ip)}
	}
	val := binary.BigEndian.Uint32(code[vm.ip:])
	vm.ip += OperandSize
	return val, nil
}

func (vm *VM) constant(offset int, op Opcode, idx uint32) (Value, error) {
	value, ok := vm.program.Constant(idx)
	if !ok {
		return nil, &DecodeError{Offset: offset, Op: op,
			Reason: fmt.Sprintf("constant index %d out of range (pool has %d)", idx, vm.program.ConstantCount())}
	}
	return value, nil
}

func (vm *VM) constantName(offset int, op Opcode, idx uint32) (string, error) {
	value, err := vm.constant(offset, op, idx)
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", &DecodeError{Offset: offset, Op: op,
			Reason: fmt.Sprintf("constant %d is %T, not a name", idx, value)}
	}
}
