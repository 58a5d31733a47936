// Package bytecode provides the compiler and stack-based virtual machine
// that carry an encrypted script inside a tiny linear program.
//
// The bytecode format is designed for:
//   - A fixed wire contract (one-byte opcode tags that never change)
//   - Simple decoding (every operand is a 4-byte big-endian unsigned integer)
//   - Easy serialization (see Program.Serialize, the "SHBC" container)
//
// # Architecture Overview
//
//   - Opcodes: LOAD_CONST, LOAD_GLOBAL, CALL_FUNC, EXEC_XOR and HALT. There is
//     no branching, no looping and no local storage.
//
//   - Program: a deduplicating constant pool plus a packed instruction
//     sequence with no padding and no length prefix. The VM knows from the
//     opcode how many operand bytes follow.
//
//   - Compiler: encrypts source under a single-byte key, stores it as the
//     only constant and emits EXEC_XOR followed by HALT.
//
//   - VM: decodes and dispatches instructions against an operand stack.
//     EXEC_XOR decrypts its payload and hands it to an Evaluator, which runs
//     it against the same Globals table LOAD_GLOBAL resolves from.
//
// # Extension Opcodes
//
// The compiler only emits EXEC_XOR and HALT. LOAD_CONST, LOAD_GLOBAL and
// CALL_FUNC are part of the instruction set all the same: the VM and the
// rendered artifacts execute them, and Program exposes emitters for
// hand-built programs.
//
// # Errors
//
// Every failure aborts the run. Malformed code yields a *DecodeError
// wrapping ErrDecode; calling a non-callable yields ErrNotInvocable; a
// payload that does not decrypt to UTF-8 yields ErrPayloadNotText.
package bytecode
