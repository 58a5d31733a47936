package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the program.
func (p *Program) Disassemble() string {
	return p.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable bytecode listing with a name header.
func (p *Program) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Shroud Bytecode v%d\n\n", p.Version))

	// Constants
	if len(p.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range p.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, describeConstant(c, 40)))
		}
		sb.WriteString("\n")
	}

	// Code section
	sb.WriteString("; Code:\n")
	for _, line := range p.DisassembleToLines() {
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	return sb.String()
}

// disassembleInstruction disassembles a single instruction at the given offset.
// Returns the formatted string and the instruction length. A truncated
// instruction consumes the rest of the code.
func (p *Program) disassembleInstruction(offset int) (string, int) {
	if offset >= len(p.Code) {
		return "<end of code>", 0
	}

	op := Opcode(p.Code[offset])
	if !op.IsValid() {
		return fmt.Sprintf("UNKNOWN 0x%02X", byte(op)), 1
	}
	if offset+op.InstructionLen() > len(p.Code) {
		return fmt.Sprintf("%s <truncated: %d of %d operand bytes>",
			op, len(p.Code)-offset-1, op.OperandLen()), len(p.Code) - offset
	}

	switch op {
	case OpLoadConst:
		idx := p.readUint32(offset + 1)
		return fmt.Sprintf("LOAD_CONST %d ; %s", idx, p.constantComment(idx)), op.InstructionLen()

	case OpLoadGlobal:
		idx := p.readUint32(offset + 1)
		return fmt.Sprintf("LOAD_GLOBAL %d ; %s", idx, p.constantComment(idx)), op.InstructionLen()

	case OpCallFunc:
		argc := p.readUint32(offset + 1)
		return fmt.Sprintf("CALL_FUNC argc=%d", argc), op.InstructionLen()

	case OpExecXor:
		idx := p.readUint32(offset + 1)
		key := p.readUint32(offset + 5)
		return fmt.Sprintf("EXEC_XOR %d key=0x%02X ; %s", idx, key&0xFF, p.constantComment(idx)), op.InstructionLen()

	default:
		return op.String(), op.InstructionLen()
	}
}

// DisassembleInstruction returns a human-readable representation of a single instruction.
func (p *Program) DisassembleInstruction(offset int) string {
	line, _ := p.disassembleInstruction(offset)
	return line
}

// DisassembleToLines returns the disassembly as a slice of lines.
func (p *Program) DisassembleToLines() []string {
	var lines []string
	offset := 0
	for offset < len(p.Code) {
		line, instrLen := p.disassembleInstruction(offset)
		lines = append(lines, fmt.Sprintf("%04X  %s", offset, line))
		offset += instrLen
	}
	return lines
}

// InstructionCount returns the number of instructions in the program.
// Note: This iterates through all code, so it's O(n).
func (p *Program) InstructionCount() int {
	count := 0
	offset := 0
	for offset < len(p.Code) {
		_, instrLen := p.disassembleInstruction(offset)
		offset += instrLen
		count++
	}
	return count
}

// readUint32 reads a big-endian uint32 from the code at the given offset.
func (p *Program) readUint32(offset int) uint32 {
	if offset+4 > len(p.Code) {
		return 0
	}
	return binary.BigEndian.Uint32(p.Code[offset:])
}

func (p *Program) constantComment(idx uint32) string {
	c, ok := p.Constant(idx)
	if !ok {
		return "<out of range>"
	}
	return describeConstant(c, 20)
}

func describeConstant(c Value, limit int) string {
	switch v := c.(type) {
	case []byte:
		return fmt.Sprintf("bytes[%d]", len(v))
	case string:
		// Truncate long strings for readability
		if len(v) > limit {
			v = v[:limit-3] + "..."
		}
		return fmt.Sprintf("%q", v)
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("%T %v", c, c)
	}
}
