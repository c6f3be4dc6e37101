// Package vm implements the Synacor challenge virtual machine.
//
// The machine is a fixed 15-bit word architecture executing a
// twenty-two opcode instruction set. Every value lives in a 16-bit
// container but arithmetic wraps at 32768; the raw range above the
// word range encodes references to the eight registers.
//
// Memory model:
//   - Memory: 32768 cells of 16 bits, addressed by word index.
//     The program image occupies the low addresses; the rest is zero.
//   - Registers: eight word-sized cells, encoded in operands as 32768+r.
//   - Stack: unbounded LIFO of words, shared by push/pop and call/ret.
//
// Operands are polymorphic: a raw word below 32768 is an immediate
// literal, a raw word in [32768, 32776) names a register, and anything
// higher is illegal. Source operands resolve through the register file;
// destination operands must name a register.
//
// Execution is strictly sequential. The only blocking point is the in
// opcode, which requests one full line from the attached Terminal when
// the input queue is empty.
package vm

import (
	"context"
	"sync/atomic"
)

// Terminal is the host I/O surface the machine performs character I/O
// against. Implementations decide buffering and flushing policy.
type Terminal interface {
	// WriteChar emits one output character.
	WriteChar(c byte) error

	// ReadLine blocks until one full input line, including its trailing
	// newline, is available. It returns an error only when it cannot
	// deliver any bytes; end-of-file surfaces as io.EOF.
	ReadLine() ([]byte, error)
}

// VM is the Synacor challenge virtual machine.
type VM struct {
	// Memory, registers, and the unbounded stack
	mem   [MemorySize]uint16
	reg   [NumRegisters]uint16
	stack []uint16

	// Instruction pointer (word index into memory)
	pc uint16

	// Pending input codes, drained one per in opcode
	input []uint16

	// Host terminal
	term Terminal

	// Execution state
	steps  atomic.Uint64
	halted bool
}

// NewVM creates a new virtual machine with the given program image
// loaded at address 0. The rest of memory is zero.
func NewVM(program []uint16) (*VM, error) {
	if len(program) > MemorySize {
		return nil, ErrProgramTooLarge
	}

	vm := &VM{}
	copy(vm.mem[:], program)
	return vm, nil
}

// Run executes the loaded program until it halts, faults, or the
// context is cancelled. The machine is not reset between calls; a VM is
// built for a single run.
func (vm *VM) Run(ctx context.Context) error {
	return vm.execute(ctx)
}

// SetTerminal attaches the host terminal used by the in and out opcodes.
func (vm *VM) SetTerminal(term Terminal) {
	vm.term = term
}

// GetRegister returns the value of a register.
func (vm *VM) GetRegister(reg int) uint16 {
	if reg < 0 || reg >= NumRegisters {
		return 0
	}
	return vm.reg[reg]
}

// SetRegister sets the value of a register, reduced into the word range.
func (vm *VM) SetRegister(reg int, value uint16) {
	if reg < 0 || reg >= NumRegisters {
		return
	}
	vm.reg[reg] = value % WordModulus
}

// GetPC returns the current instruction pointer.
func (vm *VM) GetPC() uint16 {
	return vm.pc
}

// GetStepCount returns the number of instructions executed so far. It
// is safe to call from other goroutines while the machine runs.
func (vm *VM) GetStepCount() uint64 {
	return vm.steps.Load()
}

// GetStackDepth returns the current stack depth.
func (vm *VM) GetStackDepth() int {
	return len(vm.stack)
}

// Halted reports whether the program reached a clean halt.
func (vm *VM) Halted() bool {
	return vm.halted
}

// ReadWord returns the raw 16-bit cell at a memory address.
func (vm *VM) ReadWord(addr uint16) uint16 {
	if addr >= MemorySize {
		return 0
	}
	return vm.mem[addr]
}

// WriteWord stores a raw 16-bit cell at a memory address. Guest stores
// go through wmem and are always reduced words; this raw form exists
// for hosts and tests that need to place register encodings.
func (vm *VM) WriteWord(addr, value uint16) {
	if addr >= MemorySize {
		return
	}
	vm.mem[addr] = value
}

// PendingInput returns the number of queued input codes not yet
// consumed by the in opcode.
func (vm *VM) PendingInput() int {
	return len(vm.input)
}
