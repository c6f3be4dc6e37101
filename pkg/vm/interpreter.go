package vm

import (
	"context"
	"fmt"
)

// execute runs the main interpreter loop.
//
// The word at the instruction pointer is resolved through the register
// file before dispatch, so an opcode can itself be held in a register
// reference. A resolved word of 0 halts cleanly.
func (vm *VM) execute(ctx context.Context) error {
	for {
		// External interruption is the only way to stop a guest that
		// does not halt itself.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if vm.pc >= MemorySize {
			return NewVMError(ErrPCOutOfRange, vm.pc, 0, vm.pc)
		}

		raw := vm.mem[vm.pc]
		op, err := vm.resolveRaw(raw)
		if err != nil {
			return NewVMError(err, vm.pc, 0, raw)
		}

		if op == OpHalt {
			vm.halted = true
			return nil
		}

		// The operand-count table bounds the instruction window before
		// dispatch; operand fetches in step stay inside memory.
		if last := int(vm.pc) + int(OperandCount(op)); last >= MemorySize {
			return NewVMError(ErrPCOutOfRange, vm.pc, op, uint16(last))
		}

		if err := vm.step(op); err != nil {
			return err
		}
		vm.steps.Add(1)
	}
}

// resolveRaw projects a raw word to a concrete value: literals pass
// through, register references read the register file.
func (vm *VM) resolveRaw(raw uint16) (uint16, error) {
	opnd, err := DecodeOperand(raw)
	if err != nil {
		return 0, err
	}
	if opnd.Kind == OperandRegister {
		return vm.reg[opnd.Value], nil
	}
	return opnd.Value, nil
}

// operand resolves the idx-th operand word of the current instruction.
// The window bound in execute keeps the fetch inside memory.
func (vm *VM) operand(op, idx uint16) (uint16, error) {
	raw := vm.mem[vm.pc+idx]
	v, err := vm.resolveRaw(raw)
	if err != nil {
		return 0, NewVMError(err, vm.pc, op, raw)
	}
	return v, nil
}

// register requires the idx-th operand word to name a register and
// returns the register index.
func (vm *VM) register(op, idx uint16) (uint16, error) {
	raw := vm.mem[vm.pc+idx]
	opnd, err := DecodeOperand(raw)
	if err != nil {
		return 0, NewVMError(err, vm.pc, op, raw)
	}
	if opnd.Kind != OperandRegister {
		return 0, NewVMError(ErrExpectedRegister, vm.pc, op, raw)
	}
	return opnd.Value, nil
}

// step executes a single instruction.
func (vm *VM) step(op uint16) error {
	switch op {
	// ==================== Data movement ====================
	case OpSet:
		a, err := vm.register(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		vm.reg[a] = b
		vm.pc += 3

	case OpPush:
		a, err := vm.operand(op, 1)
		if err != nil {
			return err
		}
		vm.stack = append(vm.stack, a)
		vm.pc += 2

	case OpPop:
		a, err := vm.register(op, 1)
		if err != nil {
			return err
		}
		if len(vm.stack) == 0 {
			return NewVMError(ErrStackUnderflow, vm.pc, op, 0)
		}
		vm.reg[a] = vm.stack[len(vm.stack)-1]
		vm.stack = vm.stack[:len(vm.stack)-1]
		vm.pc += 2

	// ==================== Comparison ====================
	case OpEq:
		a, err := vm.register(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		c, err := vm.operand(op, 3)
		if err != nil {
			return err
		}
		if b == c {
			vm.reg[a] = 1
		} else {
			vm.reg[a] = 0
		}
		vm.pc += 4

	case OpGt:
		a, err := vm.register(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		c, err := vm.operand(op, 3)
		if err != nil {
			return err
		}
		if b > c {
			vm.reg[a] = 1
		} else {
			vm.reg[a] = 0
		}
		vm.pc += 4

	// ==================== Control flow ====================
	case OpJmp:
		a, err := vm.operand(op, 1)
		if err != nil {
			return err
		}
		vm.pc = a

	case OpJt:
		a, err := vm.operand(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		if a != 0 {
			vm.pc = b
		} else {
			vm.pc += 3
		}

	case OpJf:
		a, err := vm.operand(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		if a == 0 {
			vm.pc = b
		} else {
			vm.pc += 3
		}

	// ==================== Arithmetic ====================
	case OpAdd:
		a, err := vm.register(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		c, err := vm.operand(op, 3)
		if err != nil {
			return err
		}
		vm.reg[a] = (b + c) % WordModulus
		vm.pc += 4

	case OpMult:
		a, err := vm.register(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		c, err := vm.operand(op, 3)
		if err != nil {
			return err
		}
		// The product of two 15-bit words needs 30 bits before reduction.
		vm.reg[a] = uint16(uint32(b) * uint32(c) % WordModulus)
		vm.pc += 4

	case OpMod:
		a, err := vm.register(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		c, err := vm.operand(op, 3)
		if err != nil {
			return err
		}
		if c == 0 {
			return NewVMError(ErrDivisionByZero, vm.pc, op, 0)
		}
		vm.reg[a] = b % c
		vm.pc += 4

	// ==================== Bitwise logic ====================
	case OpAnd:
		a, err := vm.register(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		c, err := vm.operand(op, 3)
		if err != nil {
			return err
		}
		vm.reg[a] = (b & c) & MaxWord
		vm.pc += 4

	case OpOr:
		a, err := vm.register(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		c, err := vm.operand(op, 3)
		if err != nil {
			return err
		}
		vm.reg[a] = (b | c) & MaxWord
		vm.pc += 4

	case OpNot:
		a, err := vm.register(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		vm.reg[a] = ^b & MaxWord
		vm.pc += 3

	// ==================== Memory ====================
	case OpRmem:
		a, err := vm.register(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		if b >= MemorySize {
			return NewVMError(ErrAddressOutOfRange, vm.pc, op, b)
		}
		// Raw cell fetch: a stored register encoding is returned as-is,
		// never dereferenced through the register file.
		vm.reg[a] = vm.mem[b]
		vm.pc += 3

	case OpWmem:
		a, err := vm.operand(op, 1)
		if err != nil {
			return err
		}
		b, err := vm.operand(op, 2)
		if err != nil {
			return err
		}
		if a >= MemorySize {
			return NewVMError(ErrAddressOutOfRange, vm.pc, op, a)
		}
		vm.mem[a] = b
		vm.pc += 3

	// ==================== Subroutines ====================
	case OpCall:
		a, err := vm.operand(op, 1)
		if err != nil {
			return err
		}
		vm.stack = append(vm.stack, vm.pc+2)
		vm.pc = a

	case OpRet:
		if len(vm.stack) == 0 {
			return NewVMError(ErrStackUnderflow, vm.pc, op, 0)
		}
		vm.pc = vm.stack[len(vm.stack)-1]
		vm.stack = vm.stack[:len(vm.stack)-1]

	// ==================== Character I/O ====================
	case OpOut:
		a, err := vm.operand(op, 1)
		if err != nil {
			return err
		}
		if vm.term == nil {
			return NewVMError(ErrNoTerminal, vm.pc, op, 0)
		}
		if werr := vm.term.WriteChar(byte(a)); werr != nil {
			return NewVMError(fmt.Errorf("%w: %w", ErrIO, werr), vm.pc, op, a)
		}
		vm.pc += 2

	case OpIn:
		a, err := vm.register(op, 1)
		if err != nil {
			return err
		}
		if vm.term == nil {
			return NewVMError(ErrNoTerminal, vm.pc, op, 0)
		}
		if len(vm.input) == 0 {
			line, rerr := vm.term.ReadLine()
			if rerr != nil {
				return NewVMError(fmt.Errorf("%w: %w", ErrIO, rerr), vm.pc, op, 0)
			}
			for _, c := range line {
				vm.input = append(vm.input, uint16(c))
			}
		}
		if len(vm.input) == 0 {
			return NewVMError(fmt.Errorf("%w: empty read", ErrIO), vm.pc, op, 0)
		}
		vm.reg[a] = vm.input[0]
		vm.input = vm.input[1:]
		vm.pc += 2

	case OpNoop:
		vm.pc++

	default:
		return NewVMError(ErrUnknownOpcode, vm.pc, op, 0)
	}

	return nil
}
