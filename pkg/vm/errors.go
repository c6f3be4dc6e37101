package vm

import (
	"errors"
	"fmt"
)

// Fatal interpreter errors. The machine has no recovery path; every one
// of these aborts the run.
var (
	// ErrIllegalWord is returned when an operand word is outside both the
	// literal range and the register reference range.
	ErrIllegalWord = errors.New("illegal word")

	// ErrExpectedRegister is returned when a destination operand is a
	// literal instead of a register reference.
	ErrExpectedRegister = errors.New("expected register, got literal")

	// ErrUnknownOpcode is returned when the word at the instruction
	// pointer does not name an opcode.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrStackUnderflow is returned when pop or ret runs on an empty stack.
	ErrStackUnderflow = errors.New("stack underflow")

	// ErrDivisionByZero is returned when mod is given a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrIO is returned when the terminal fails, including end-of-file
	// on input. The underlying cause is wrapped alongside it.
	ErrIO = errors.New("i/o error")

	// ErrPCOutOfRange is returned when the instruction pointer or an
	// operand fetch walks past the end of memory.
	ErrPCOutOfRange = errors.New("instruction pointer out of range")

	// ErrAddressOutOfRange is returned when rmem or wmem addresses a
	// cell past the end of memory. Addresses resolve through registers,
	// and a register can hold a raw word planted there by rmem.
	ErrAddressOutOfRange = errors.New("memory address out of range")

	// ErrProgramTooLarge is returned when an image exceeds memory.
	ErrProgramTooLarge = errors.New("program too large")

	// ErrNoTerminal is returned when in or out executes with no terminal
	// attached.
	ErrNoTerminal = errors.New("no terminal attached")
)

// VMError wraps an error with the machine state that produced it.
type VMError struct {
	Err    error
	PC     uint16 // Instruction pointer at time of error
	Opcode uint16 // Opcode being executed (if known)
	Word   uint16 // Offending word or address (if applicable)
}

// Error implements the error interface.
func (e *VMError) Error() string {
	if e.Word != 0 {
		return fmt.Sprintf("vm error at pc=%d op=%s word=%d: %v",
			e.PC, OpcodeString(e.Opcode), e.Word, e.Err)
	}
	return fmt.Sprintf("vm error at pc=%d op=%s: %v",
		e.PC, OpcodeString(e.Opcode), e.Err)
}

// Unwrap returns the underlying error.
func (e *VMError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error.
func (e *VMError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewVMError creates a new VMError.
func NewVMError(err error, pc, opcode, word uint16) *VMError {
	return &VMError{
		Err:    err,
		PC:     pc,
		Opcode: opcode,
		Word:   word,
	}
}
