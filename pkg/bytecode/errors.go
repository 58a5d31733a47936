package bytecode

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode is wrapped by every *DecodeError.
	ErrDecode = errors.New("bytecode: decode error")

	// ErrNotInvocable is returned when OpCallFunc pops a value that cannot be called.
	ErrNotInvocable = errors.New("bytecode: call target is not invocable")

	// ErrPayloadNotText is returned when a decrypted OpExecXor payload is not valid UTF-8.
	ErrPayloadNotText = errors.New("bytecode: decrypted payload is not valid text")

	// ErrStackUnderflow is returned when an instruction pops more values than the stack holds.
	ErrStackUnderflow = errors.New("bytecode: stack underflow")

	// ErrNoEvaluator is returned when OpExecXor runs on a VM without an Evaluator.
	ErrNoEvaluator = errors.New("bytecode: no evaluator configured")
)

// DecodeError reports malformed bytecode: a truncated operand, an unknown
// opcode, or an operand that does not reference a usable constant.
type DecodeError struct {
	Offset int    // Offset of the failing instruction
	Op     Opcode // Opcode being decoded
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bytecode: decode error at offset %d (%s): %s", e.Offset, e.Op, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

// IsDecodeError checks if an error is a decode error and returns it.
func IsDecodeError(err error) (*DecodeError, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
