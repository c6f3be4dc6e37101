package vm

// Opcode numbers. The word at the instruction pointer selects one of
// these after register resolution; anything else in [22, 32768) is an
// unknown opcode.
const (
	OpHalt = 0
	OpSet  = 1
	OpPush = 2
	OpPop  = 3
	OpEq   = 4
	OpGt   = 5
	OpJmp  = 6
	OpJt   = 7
	OpJf   = 8
	OpAdd  = 9
	OpMult = 10
	OpMod  = 11
	OpAnd  = 12
	OpOr   = 13
	OpNot  = 14
	OpRmem = 15
	OpWmem = 16
	OpCall = 17
	OpRet  = 18
	OpOut  = 19
	OpIn   = 20
	OpNoop = 21

	// NumOpcodes is one past the highest defined opcode.
	NumOpcodes = 22
)

// opcodeNames maps opcodes to their assembler mnemonics.
var opcodeNames = [NumOpcodes]string{
	OpHalt: "halt",
	OpSet:  "set",
	OpPush: "push",
	OpPop:  "pop",
	OpEq:   "eq",
	OpGt:   "gt",
	OpJmp:  "jmp",
	OpJt:   "jt",
	OpJf:   "jf",
	OpAdd:  "add",
	OpMult: "mult",
	OpMod:  "mod",
	OpAnd:  "and",
	OpOr:   "or",
	OpNot:  "not",
	OpRmem: "rmem",
	OpWmem: "wmem",
	OpCall: "call",
	OpRet:  "ret",
	OpOut:  "out",
	OpIn:   "in",
	OpNoop: "noop",
}

// operandCounts maps opcodes to the number of operand words that follow
// the opcode word in memory.
var operandCounts = [NumOpcodes]uint16{
	OpHalt: 0,
	OpSet:  2,
	OpPush: 1,
	OpPop:  1,
	OpEq:   3,
	OpGt:   3,
	OpJmp:  1,
	OpJt:   2,
	OpJf:   2,
	OpAdd:  3,
	OpMult: 3,
	OpMod:  3,
	OpAnd:  3,
	OpOr:   3,
	OpNot:  2,
	OpRmem: 2,
	OpWmem: 2,
	OpCall: 1,
	OpRet:  0,
	OpOut:  1,
	OpIn:   1,
	OpNoop: 0,
}

// OpcodeString returns the mnemonic for an opcode, for diagnostics.
func OpcodeString(op uint16) string {
	if op < NumOpcodes {
		return opcodeNames[op]
	}
	return "unknown"
}

// OperandCount returns the number of operand words an opcode consumes.
// Unknown opcodes consume none.
func OperandCount(op uint16) uint16 {
	if op < NumOpcodes {
		return operandCounts[op]
	}
	return 0
}
