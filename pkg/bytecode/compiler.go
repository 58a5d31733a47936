package bytecode

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/shroud/cipher"
)

var log = commonlog.GetLogger("shroud.bytecode")

// Compiler turns script source into a Program whose only work is to
// decrypt and evaluate that source at run time.
type Compiler struct {
	program *Program
}

// NewCompiler creates a compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile encrypts source with the single-byte xorKey, stores the result
// as the program's only constant and emits:
//
//	EXEC_XOR <codeIndex> <xorKey>
//	HALT
//
// It returns the program and the key the VM will decrypt with. Each call
// starts from an empty program.
func (c *Compiler) Compile(source string, xorKey byte) (*Program, byte) {
	c.program = NewProgram()

	encrypted := cipher.XORByte([]byte(source), xorKey)
	codeIndex := c.program.AddConstant(encrypted)

	c.program.EmitExecXor(codeIndex, uint32(xorKey))
	c.program.EmitHalt()

	log.Debugf("compiled %d source bytes into %d code bytes, %d constants",
		len(source), c.program.CodeLen(), c.program.ConstantCount())

	return c.program, xorKey
}
