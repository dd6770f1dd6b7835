package trace

import (
	"io"

	"github.com/pkg/errors"
)

// TP classifies why an instruction propagated taint.
type TP uint8

const (
	TP_NONE TP = iota
	TP_SRC
	TP_CJMP
	TP_MEMREAD_INDEX
	TP_MEMWRITE_INDEX
	TP_REP_COUNTER
	TP_SYSENTER
)

var tpNames = []string{"none", "src", "cjmp", "memread_index", "memwrite_index", "rep_counter", "sysenter"}

func (t TP) String() string {
	if int(t) < len(tpNames) {
		return tpNames[t]
	}
	return "unknown"
}

// Slot indexes the component row of a memory operand.
type Slot int

const (
	SlotSegment Slot = iota
	SlotBase
	SlotIndex
	SlotSegent0
	SlotSegent1
	SlotDisplacement
	SlotScale
)

// Components holds the pieces of a memory operand's effective address, one
// per slot. Empty slots are padding (type None, length 0) and are still
// written so every operand has the same number of component records.
type Components [MAX_NUM_MEMREGS]OperandVal

func (c *Components) Set(slot Slot, v OperandVal) { c[slot] = v }
func (c *Components) Get(slot Slot) *OperandVal   { return &c[slot] }
func (c *Components) Present(slot Slot) bool      { return c[slot].Type != OpNone }

// Len counts the non-padding components.
func (c *Components) Len() int {
	n := 0
	for i := range c {
		if c[i].Type != OpNone {
			n++
		}
	}
	return n
}

func (c *Components) IsTainted() bool {
	for i := range c {
		if c[i].IsTainted() {
			return true
		}
	}
	return false
}

type Operand struct {
	Val OperandVal
	Mem Components
}

func (o *Operand) Sizeof() int {
	size := o.Val.Sizeof()
	for i := range o.Mem {
		size += o.Mem[i].Sizeof()
	}
	return size
}

func (o *Operand) Pack(p []byte) int {
	n := o.Val.Pack(p)
	for i := range o.Mem {
		n += o.Mem[i].Pack(p[n:])
	}
	return n
}

func (o *Operand) Unpack(r io.Reader) (int, error) {
	total, err := o.Val.Unpack(r)
	if err != nil {
		return total, err
	}
	for i := range o.Mem {
		n, err := o.Mem[i].Unpack(r)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

var ErrTooManyOperands = errors.Errorf("instruction has more than %d operands", MAX_NUM_OPERANDS)

// Operands is the serialized operand list of an instruction, bounded at
// MAX_NUM_OPERANDS.
type Operands struct {
	ops []Operand
}

func (o *Operands) Len() int { return len(o.ops) }

func (o *Operands) At(i int) *Operand {
	return &o.ops[i]
}

// Add appends an operand and returns a pointer to the stored copy.
func (o *Operands) Add(op Operand) (*Operand, error) {
	if len(o.ops) >= MAX_NUM_OPERANDS {
		return nil, ErrTooManyOperands
	}
	o.ops = append(o.ops, op)
	return &o.ops[len(o.ops)-1], nil
}

func (o *Operands) Slice() []Operand {
	return o.ops
}

func (o *Operands) Reset() {
	o.ops = o.ops[:0]
}

// EntryHeader is one traced instruction.
type EntryHeader struct {
	Address  uint32
	Pid      uint32
	Tid      uint32
	RawBytes []byte
	TP       TP
	DF       int8
	Eflags   uint32
	CCOp     uint32
	Operands Operands

	// The stack pointer pseudo-operand. It is never written and does not
	// count towards the operand total.
	Esp OperandVal
}

const entryFixedSize = 4 + 4 + 4 + 1 + 1 + 1 + 1 + 4 + 4

func (e *EntryHeader) Validate() error {
	if len(e.RawBytes) > MAX_INSN_BYTES {
		return errors.Errorf("instruction at %#x is %d bytes", e.Address, len(e.RawBytes))
	}
	if e.Operands.Len() > MAX_NUM_OPERANDS {
		return ErrTooManyOperands
	}
	return nil
}

// IsTainted is true if any operand record, component records included, has taint.
func (e *EntryHeader) IsTainted() bool {
	for i := range e.Operands.ops {
		op := &e.Operands.ops[i]
		if op.Val.IsTainted() || op.Mem.IsTainted() {
			return true
		}
	}
	return false
}

func (e *EntryHeader) Sizeof() int {
	size := entryFixedSize + len(e.RawBytes)
	for i := range e.Operands.ops {
		size += e.Operands.ops[i].Sizeof()
	}
	return size
}

func (e *EntryHeader) Pack(p []byte) int {
	order.PutUint32(p[0:], e.Address)
	order.PutUint32(p[4:], e.Pid)
	order.PutUint32(p[8:], e.Tid)
	p[12] = uint8(len(e.RawBytes))
	p[13] = uint8(e.Operands.Len())
	p[14] = uint8(e.TP)
	p[15] = uint8(e.DF)
	order.PutUint32(p[16:], e.Eflags)
	order.PutUint32(p[20:], e.CCOp)
	n := entryFixedSize
	n += copy(p[n:], e.RawBytes)
	for i := range e.Operands.ops {
		n += e.Operands.ops[i].Pack(p[n:])
	}
	return n
}

func (e *EntryHeader) Unpack(r io.Reader) (int, error) {
	var tmp [4]byte
	n, err := io.ReadFull(r, tmp[:])
	if err != nil {
		return n, err
	}
	m, err := e.unpackAfter(order.Uint32(tmp[:]), r)
	return n + m, err
}

// unpackAfter decodes the rest of an entry once its address has been read.
func (e *EntryHeader) unpackAfter(addr uint32, r io.Reader) (int, error) {
	var tmp [entryFixedSize - 4]byte
	total, err := io.ReadFull(r, tmp[:])
	if err != nil {
		return total, err
	}
	*e = EntryHeader{
		Address: addr,
		Pid:     order.Uint32(tmp[0:]),
		Tid:     order.Uint32(tmp[4:]),
		TP:      TP(tmp[10]),
		DF:      int8(tmp[11]),
		Eflags:  order.Uint32(tmp[12:]),
		CCOp:    order.Uint32(tmp[16:]),
	}
	size, count := int(tmp[8]), int(tmp[9])
	if size > MAX_INSN_BYTES {
		return total, errors.Errorf("instruction at %#x claims %d bytes", addr, size)
	}
	if count > MAX_NUM_OPERANDS {
		return total, errors.Errorf("instruction at %#x claims %d operands", addr, count)
	}
	if size > 0 {
		e.RawBytes = make([]byte, size)
		n, err := io.ReadFull(r, e.RawBytes)
		total += n
		if err != nil {
			return total, err
		}
	}
	for i := 0; i < count; i++ {
		var op Operand
		n, err := op.Unpack(r)
		total += n
		if err != nil {
			return total, errors.Wrapf(err, "operand %d", i)
		}
		e.Operands.Add(op)
	}
	return total, nil
}
