// Package decompose turns decoded instructions and live CPU state into trace entries.
package decompose

import "github.com/lunixbochs/tfd/go/models/trace"

// Decoder is the disassembler collaborator.
type Decoder interface {
	Decode(addr uint32) (*Insn, error)
}

type DecoderFunc func(addr uint32) (*Insn, error)

func (f DecoderFunc) Decode(addr uint32) (*Insn, error) { return f(addr) }

// Insn is what the decoder knows about one instruction.
type Insn struct {
	Bytes    []byte
	Operands []Operand

	CondJump bool
	Rep      bool
	Sysenter bool
}

// Operand is a decoded operand. Implicit pseudo-operands set Usage to
// UsageEflags, UsageCounter or UsageEsp; explicit operands leave it unknown.
type Operand struct {
	Type   trace.OpType
	Access trace.Access
	// bytes; memory operands may exceed MAX_OPERAND_LEN (fxsave is 512)
	Length uint16
	Usage  trace.Usage

	// register operands: an X86_REG_* enum and the byte offset inside it (1 for ah)
	Reg       int
	RegOffset uint8
	// immediates and jump targets
	Imm uint64
	// memory operands
	Mem *MemRef
}

// MemRef is the addressing expression seg:[base + index*scale + disp].
// Absent registers are X86_REG_INVALID.
type MemRef struct {
	Seg   int
	Base  int
	Index int
	Scale uint8
	Disp  int32
}
