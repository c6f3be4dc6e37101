package vm

// Architecture constants. Words are 15-bit values carried in 16-bit
// containers; the top of the numeric range encodes register references.
const (
	// NumRegisters is the number of general-purpose registers.
	NumRegisters = 8

	// MemorySize is the number of addressable memory cells.
	MemorySize = 1 << 15

	// WordModulus is the wrap-around point for all word arithmetic.
	WordModulus = 1 << 15

	// MaxWord is the largest legal literal value.
	MaxWord = WordModulus - 1

	// RegisterBase is the raw value that encodes register 0.
	RegisterBase = WordModulus

	// RegisterLimit is the first raw value with no meaning at all.
	RegisterLimit = RegisterBase + NumRegisters
)

// OperandKind discriminates the two legal interpretations of a raw word.
type OperandKind uint8

const (
	// OperandLiteral is an immediate value in [0, 32768).
	OperandLiteral OperandKind = iota

	// OperandRegister is a register reference in [32768, 32776).
	OperandRegister
)

// String returns a human-readable name for the operand kind.
func (k OperandKind) String() string {
	switch k {
	case OperandLiteral:
		return "literal"
	case OperandRegister:
		return "register"
	default:
		return "invalid"
	}
}

// Operand is a decoded instruction operand. For OperandLiteral, Value is
// the immediate itself; for OperandRegister, Value is the register index.
type Operand struct {
	Kind  OperandKind
	Value uint16
}

// DecodeOperand classifies a raw 16-bit word.
//
// Values below 32768 are literals, values in [32768, 32776) refer to
// registers 0 through 7, and anything above that range is illegal.
func DecodeOperand(raw uint16) (Operand, error) {
	switch {
	case raw < RegisterBase:
		return Operand{Kind: OperandLiteral, Value: raw}, nil
	case raw < RegisterLimit:
		return Operand{Kind: OperandRegister, Value: raw - RegisterBase}, nil
	default:
		return Operand{}, ErrIllegalWord
	}
}

// IsRegisterRef reports whether a raw word encodes a register reference.
func IsRegisterRef(raw uint16) bool {
	return raw >= RegisterBase && raw < RegisterLimit
}
