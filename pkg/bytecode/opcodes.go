package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// The tag values are the wire contract between the compiler, the VM and
// rendered artifacts; never renumber them.
type Opcode byte

const (
	OpLoadConst  Opcode = 0x01 // Push constant from pool: OpLoadConst <index:u32>
	OpLoadGlobal Opcode = 0x04 // Push global named by constant: OpLoadGlobal <index:u32>
	OpCallFunc   Opcode = 0x50 // Pop argc args and a callable, push result: OpCallFunc <argc:u32>
	OpExecXor    Opcode = 0x70 // Decrypt and evaluate payload: OpExecXor <index:u32> <key:u32>
	OpHalt       Opcode = 0xFF // Stop execution
)

// OperandSize is the width of every operand in bytes.
const OperandSize = 4

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpLoadConst:  {"LOAD_CONST", 0, 1, OperandSize},
	OpLoadGlobal: {"LOAD_GLOBAL", 0, 1, OperandSize},
	OpCallFunc:   {"CALL_FUNC", -1, 1, OperandSize},    // Pops callable + argc args
	OpExecXor:    {"EXEC_XOR", 0, 0, 2 * OperandSize}, // index then raw key
	OpHalt:       {"HALT", 0, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// AllOpcodes returns all defined opcodes in tag order.
func AllOpcodes() []Opcode {
	return []Opcode{OpLoadConst, OpLoadGlobal, OpCallFunc, OpExecXor, OpHalt}
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
