package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// Magic bytes for serialized programs: "SHBC" (SHroud ByteCode)
var BytecodeMagic = []byte{'S', 'H', 'B', 'C'}

// Value is anything the VM can hold on its operand stack or in the
// constant pool.
type Value = any

// Constant tags used by Serialize.
const (
	constNil    byte = 0
	constBytes  byte = 1
	constString byte = 2
	constInt    byte = 3
	constFloat  byte = 4
	constBool   byte = 5
)

// Program is a compiled unit: a constant pool and a linear instruction
// sequence referencing it. A Program is built once and not mutated after
// compilation.
type Program struct {
	Version uint16

	// Code section
	Code []byte

	// Constant pool, indexed by position
	Constants []Value
}

// NewProgram creates a new empty program with the current version.
func NewProgram() *Program {
	return &Program{
		Version:   BytecodeVersion,
		Code:      make([]byte, 0, 16),
		Constants: make([]Value, 0, 4),
	}
}

// AddConstant adds a value to the pool and returns its index.
// If an equal constant already exists, returns the existing index.
func (p *Program) AddConstant(value Value) uint32 {
	for i, c := range p.Constants {
		if constantEqual(c, value) {
			return uint32(i)
		}
	}
	idx := uint32(len(p.Constants))
	p.Constants = append(p.Constants, value)
	return idx
}

// Constant returns the constant at index, or false if out of range.
func (p *Program) Constant(index uint32) (Value, bool) {
	if uint64(index) >= uint64(len(p.Constants)) {
		return nil, false
	}
	return p.Constants[index], true
}

// constantEqual compares pool entries. Byte buffers compare by content and
// never equal a string; everything else must be comparable and ==.
func constantEqual(a, b Value) bool {
	ab, aIsBytes := a.([]byte)
	bb, bIsBytes := b.([]byte)
	if aIsBytes || bIsBytes {
		return aIsBytes && bIsBytes && bytes.Equal(ab, bb)
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// Emit appends an opcode followed by each operand as a 4-byte big-endian
// unsigned integer. Returns the offset of the opcode.
func (p *Program) Emit(op Opcode, operands ...uint32) int {
	offset := len(p.Code)
	p.Code = append(p.Code, byte(op))
	for _, operand := range operands {
		p.Code = binary.BigEndian.AppendUint32(p.Code, operand)
	}
	return offset
}

// EmitConstant emits an OpLoadConst for value, adding it to the pool if needed.
func (p *Program) EmitConstant(value Value) int {
	return p.Emit(OpLoadConst, p.AddConstant(value))
}

// EmitGlobal emits an OpLoadGlobal resolving name at run time.
func (p *Program) EmitGlobal(name string) int {
	return p.Emit(OpLoadGlobal, p.AddConstant(name))
}

// EmitCall emits an OpCallFunc consuming argc arguments and a callable.
func (p *Program) EmitCall(argc uint32) int {
	return p.Emit(OpCallFunc, argc)
}

// EmitExecXor emits an OpExecXor for the encrypted payload at index,
// followed by the raw key operand.
func (p *Program) EmitExecXor(index uint32, key uint32) int {
	return p.Emit(OpExecXor, index, key)
}

// EmitHalt emits an OpHalt.
func (p *Program) EmitHalt() int {
	return p.Emit(OpHalt)
}

// CodeLen returns the length of the code section.
func (p *Program) CodeLen() int {
	return len(p.Code)
}

// ConstantCount returns the number of constants in the pool.
func (p *Program) ConstantCount() int {
	return len(p.Constants)
}

// Serialize encodes the program to bytes for storage/transport.
// Format:
//
//	[magic:4] [version:2]
//	[code_len:4] [code:...]
//	[const_count:4] ([tag:1] [payload:...])...
//
// Byte and string payloads are length-prefixed with a u32; int64 and
// float64 take 8 bytes; bool takes 1; nil has no payload.
func (p *Program) Serialize() ([]byte, error) {
	buf := make([]byte, 0, 14+len(p.Code)+len(p.Constants)*16)

	buf = append(buf, BytecodeMagic...)
	buf = binary.BigEndian.AppendUint16(buf, p.Version)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Code)))
	buf = append(buf, p.Code...)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Constants)))
	for i, c := range p.Constants {
		switch v := c.(type) {
		case nil:
			buf = append(buf, constNil)
		case []byte:
			buf = append(buf, constBytes)
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
			buf = append(buf, v...)
		case string:
			buf = append(buf, constString)
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
			buf = append(buf, v...)
		case int64:
			buf = append(buf, constInt)
			buf = binary.BigEndian.AppendUint64(buf, uint64(v))
		case float64:
			buf = append(buf, constFloat)
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
		case bool:
			buf = append(buf, constBool)
			if v {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		default:
			return nil, fmt.Errorf("cannot serialize constant %d of type %T", i, c)
		}
	}

	return buf, nil
}

// Deserialize decodes a program from bytes.
func Deserialize(data []byte) (*Program, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("bytecode too short: need at least 6 bytes, got %d", len(data))
	}

	if !bytes.Equal(data[0:4], BytecodeMagic) {
		return nil, fmt.Errorf("invalid bytecode magic: expected %q, got %q", BytecodeMagic, data[0:4])
	}

	p := &Program{Version: binary.BigEndian.Uint16(data[4:6])}
	if p.Version > BytecodeVersion {
		return nil, fmt.Errorf("bytecode version %d is newer than supported version %d", p.Version, BytecodeVersion)
	}

	pos := 6

	// Code section
	if pos+4 > len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading code length at pos %d", pos)
	}
	codeLen := int(binary.BigEndian.Uint32(data[pos:]))
	pos += 4

	if codeLen > len(data)-pos {
		return nil, fmt.Errorf("unexpected end of bytecode reading code section: need %d bytes at pos %d", codeLen, pos)
	}
	p.Code = make([]byte, codeLen)
	copy(p.Code, data[pos:pos+codeLen])
	pos += codeLen

	// Constants
	if pos+4 > len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading constant count")
	}
	constCount := int(binary.BigEndian.Uint32(data[pos:]))
	pos += 4

	// Every constant takes at least its tag byte.
	if constCount > len(data)-pos {
		return nil, fmt.Errorf("constant count %d exceeds remaining %d bytes", constCount, len(data)-pos)
	}

	p.Constants = make([]Value, constCount)
	for i := range p.Constants {
		if pos >= len(data) {
			return nil, fmt.Errorf("unexpected end of bytecode reading constant %d tag", i)
		}
		tag := data[pos]
		pos++

		switch tag {
		case constNil:
			p.Constants[i] = nil

		case constBytes, constString:
			if pos+4 > len(data) {
				return nil, fmt.Errorf("unexpected end of bytecode reading constant %d length", i)
			}
			n := int(binary.BigEndian.Uint32(data[pos:]))
			pos += 4
			if n > len(data)-pos {
				return nil, fmt.Errorf("unexpected end of bytecode reading constant %d", i)
			}
			if tag == constBytes {
				b := make([]byte, n)
				copy(b, data[pos:pos+n])
				p.Constants[i] = b
			} else {
				p.Constants[i] = string(data[pos : pos+n])
			}
			pos += n

		case constInt, constFloat:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("unexpected end of bytecode reading constant %d", i)
			}
			bits := binary.BigEndian.Uint64(data[pos:])
			pos += 8
			if tag == constInt {
				p.Constants[i] = int64(bits)
			} else {
				p.Constants[i] = math.Float64frombits(bits)
			}

		case constBool:
			if pos >= len(data) {
				return nil, fmt.Errorf("unexpected end of bytecode reading constant %d", i)
			}
			p.Constants[i] = data[pos] != 0
			pos++

		default:
			return nil, fmt.Errorf("unknown constant tag 0x%02X for constant %d", tag, i)
		}
	}

	if pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after constant pool", len(data)-pos)
	}

	return p, nil
}
