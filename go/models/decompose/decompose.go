package decompose

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lunixbochs/tfd/go/models"
	"github.com/lunixbochs/tfd/go/models/cpu"
	"github.com/lunixbochs/tfd/go/models/taint"
	"github.com/lunixbochs/tfd/go/models/trace"
)

var order = binary.LittleEndian

// memory operands wider than an operand record are split into chunks of this size
const memChunk = 4

type Decomposer struct {
	Cpu     cpu.Cpu
	Decoder Decoder
	Taint   *taint.Builder

	// skip taint queries, every record comes out clean
	IgnoreTaint bool
	// descriptor tables for segment bases, 0 if unknown
	GdtBase uint32
	LdtBase uint32
}

func New(c cpu.Cpu, dec Decoder, engine taint.Engine, config *models.TraceConfig) *Decomposer {
	d := &Decomposer{Cpu: c, Decoder: dec, Taint: &taint.Builder{Engine: engine}}
	if config != nil {
		d.IgnoreTaint = config.IgnoreTaint
	}
	return d
}

// Decompose builds the trace entry for the instruction at addr.
func (d *Decomposer) Decompose(addr, pid, tid uint32) (*trace.EntryHeader, error) {
	insn, err := d.Decoder.Decode(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %#x", addr)
	}
	if len(insn.Bytes) > trace.MAX_INSN_BYTES {
		return nil, errors.Errorf("instruction at %#x is %d bytes", addr, len(insn.Bytes))
	}
	e := &trace.EntryHeader{
		Address:  addr,
		Pid:      pid,
		Tid:      tid,
		RawBytes: append([]byte(nil), insn.Bytes...),
		DF:       1,
	}
	eflags, err := d.Cpu.RegRead(cpu.X86_REG_EFLAGS)
	if err != nil {
		return nil, errors.Wrap(err, "reading eflags")
	}
	e.Eflags = uint32(eflags)
	if eflags&cpu.X86_EFLAGS_DF != 0 {
		e.DF = -1
	}
	// cc_op only exists on emulators with lazy flags
	if ccop, err := d.Cpu.RegRead(cpu.X86_REG_CC_OP); err == nil {
		e.CCOp = uint32(ccop)
	}

	// operand records still owed to the operands after the current one
	pending := 0
	for i := range insn.Operands {
		if insn.Operands[i].Usage != trace.UsageEsp {
			pending++
		}
	}
	for i := range insn.Operands {
		op := &insn.Operands[i]
		if op.Usage == trace.UsageEsp {
			v, err := d.regOperand(op)
			if err != nil {
				return nil, errors.Wrapf(err, "instruction at %#x", addr)
			}
			e.Esp = v
			continue
		}
		pending--
		room := trace.MAX_NUM_OPERANDS - e.Operands.Len() - pending
		outs, err := d.operand(op, room)
		if err != nil {
			return nil, errors.Wrapf(err, "instruction at %#x", addr)
		}
		for _, out := range outs {
			if _, err := e.Operands.Add(out); err != nil {
				return nil, errors.Wrapf(err, "instruction at %#x", addr)
			}
		}
	}
	if !d.IgnoreTaint {
		e.TP = classify(insn, e)
	}
	return e, nil
}

// operand decomposes op into at most room records. Only wide memory
// operands produce more than one.
func (d *Decomposer) operand(op *Operand, room int) ([]trace.Operand, error) {
	switch {
	case op.Type.IsReg():
		v, err := d.regOperand(op)
		if err != nil {
			return nil, err
		}
		return []trace.Operand{{Val: v}}, nil
	case op.Type.IsMem():
		return d.memOperand(op, room)
	}
	length := uint8(8)
	if op.Length < 8 {
		length = uint8(op.Length)
	}
	var tmp [8]byte
	order.PutUint64(tmp[:], cpu.MaskUint(int(length), op.Imm))
	return []trace.Operand{{Val: trace.OperandVal{
		Access: op.Access,
		Length: length,
		Type:   op.Type,
		Usage:  op.Usage,
		Value:  trace.ValueOf(op.Type, length, tmp[:]),
	}}}, nil
}

// regBytes reads a whole register, little-endian.
func (d *Decomposer) regBytes(reg int) ([]byte, error) {
	width := cpu.X86RegWidth(reg)
	p := make([]byte, trace.MAX_OPERAND_LEN)
	if width > 8 {
		w, ok := d.Cpu.(cpu.WideRegReader)
		if !ok {
			return nil, errors.Errorf("cannot read %d-byte register %s", width, cpu.X86RegNames[reg])
		}
		if err := w.RegReadInto(p[:width], reg); err != nil {
			return nil, errors.Wrapf(err, "reading %s", cpu.X86RegNames[reg])
		}
		return p, nil
	}
	v, err := d.Cpu.RegRead(reg)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", cpu.X86RegNames[reg])
	}
	order.PutUint64(p, v)
	return p, nil
}

func (d *Decomposer) regOperand(op *Operand) (trace.OperandVal, error) {
	if op.RegOffset >= trace.MAX_OPERAND_LEN {
		return trace.OperandVal{}, errors.Errorf("register offset %d out of range", op.RegOffset)
	}
	length := op.Length
	if rest := uint16(trace.MAX_OPERAND_LEN - op.RegOffset); length > rest {
		length = rest
	}
	p, err := d.regBytes(op.Reg)
	if err != nil {
		return trace.OperandVal{}, err
	}
	v := trace.OperandVal{
		Access: op.Access,
		Length: uint8(length),
		Type:   op.Type,
		Usage:  op.Usage,
		Addr:   trace.RegAddr(uint8(op.Reg)),
		Value:  trace.ValueOf(op.Type, uint8(length), p[op.RegOffset:]),
	}
	d.fill(&v, taint.RegLoc(op.Reg, int(op.RegOffset)))
	return v, nil
}

// fill queries taint for every byte of v starting at loc.
func (d *Decomposer) fill(v *trace.OperandVal, loc taint.Loc) {
	if d.IgnoreTaint || d.Taint == nil {
		return
	}
	n := int(v.Length)
	if n > trace.MAX_OPERAND_LEN {
		n = trace.MAX_OPERAND_LEN
	}
	v.Tainted = d.Taint.Fill(loc, v.Records[:n])
}

// component builds a register piece of an address expression.
func (d *Decomposer) component(reg int, usage trace.Usage) (trace.OperandVal, error) {
	return d.regOperand(&Operand{
		Type:   trace.OpRegister,
		Access: trace.AccessRead,
		Length: uint16(cpu.X86RegWidth(reg)),
		Usage:  usage,
		Reg:    reg,
	})
}

// descriptor reads the segment descriptor for a selector. ok is false when
// the table is unknown or unreadable.
func (d *Decomposer) descriptor(sel uint16) (addr uint32, lo, hi uint32, ok bool) {
	table := d.GdtBase
	if sel&4 != 0 {
		table = d.LdtBase
	}
	if table == 0 {
		return 0, 0, 0, false
	}
	addr = table + uint32(sel>>3)*8
	var tmp [8]byte
	if err := d.Cpu.MemReadInto(tmp[:], uint64(addr)); err != nil {
		return 0, 0, 0, false
	}
	return addr, order.Uint32(tmp[:]), order.Uint32(tmp[4:]), true
}

func descriptorBase(lo, hi uint32) uint32 {
	return lo>>16 | (hi&0xff)<<16 | hi&0xff000000
}

// components fills the address expression slots of a memory operand and
// returns the linear address it refers to.
func (d *Decomposer) components(ref *MemRef, mem *trace.Components) (uint32, error) {
	var ea uint32
	if ref.Seg != cpu.X86_REG_INVALID {
		seg, err := d.component(ref.Seg, trace.UsageMemSegment)
		if err != nil {
			return 0, err
		}
		mem.Set(trace.SlotSegment, seg)
		if addr, lo, hi, ok := d.descriptor(uint16(seg.Value.Uint32())); ok {
			if base := descriptorBase(lo, hi); base != 0 {
				ea += base
				for _, half := range []struct {
					addr, val uint32
					slot      trace.Slot
					usage     trace.Usage
				}{
					{addr, lo, trace.SlotSegent0, trace.UsageMemSegent0},
					{addr + 4, hi, trace.SlotSegent1, trace.UsageMemSegent1},
				} {
					v := trace.OperandVal{
						Access: trace.AccessRead,
						Length: 4,
						Type:   trace.OpMemLoc,
						Usage:  half.usage,
						Addr:   trace.Mem32(half.addr),
						Value:  trace.NewVal32(half.val),
					}
					d.fill(&v, taint.MemLoc(uint64(half.addr)))
					mem.Set(half.slot, v)
				}
			}
		}
	}
	if ref.Base != cpu.X86_REG_INVALID {
		base, err := d.component(ref.Base, trace.UsageMemBase)
		if err != nil {
			return 0, err
		}
		mem.Set(trace.SlotBase, base)
		ea += base.Value.Uint32()
	}
	if ref.Index != cpu.X86_REG_INVALID {
		index, err := d.component(ref.Index, trace.UsageMemIndex)
		if err != nil {
			return 0, err
		}
		mem.Set(trace.SlotIndex, index)
		scale := ref.Scale
		if scale == 0 {
			scale = 1
		}
		mem.Set(trace.SlotScale, trace.OperandVal{
			Length: 1,
			Type:   trace.OpImmediate,
			Usage:  trace.UsageMemScale,
			Value:  trace.NewVal32(uint32(scale)),
		})
		ea += index.Value.Uint32() * uint32(scale)
	}
	if ref.Disp != 0 {
		mem.Set(trace.SlotDisplacement, trace.OperandVal{
			Length: 4,
			Type:   trace.OpDisplacement,
			Usage:  trace.UsageMemDisplacement,
			Value:  trace.NewVal32(uint32(ref.Disp)),
		})
		ea += uint32(ref.Disp)
	}
	return ea, nil
}

// memOperand reads a memory operand. Operands wider than a record are split
// into memChunk-byte records, and cut off after room records (fxsave keeps
// its first 30*4 bytes at most).
func (d *Decomposer) memOperand(op *Operand, room int) ([]trace.Operand, error) {
	var mem trace.Components
	var ea uint32
	if op.Mem != nil {
		var err error
		if ea, err = d.components(op.Mem, &mem); err != nil {
			return nil, err
		}
	}
	// lea and friends: the value is the address itself
	if op.Type == trace.OpMemAddress {
		return []trace.Operand{{
			Val: trace.OperandVal{
				Access: op.Access,
				Length: 4,
				Type:   op.Type,
				Usage:  op.Usage,
				Addr:   trace.Mem32(ea),
				Value:  trace.NewVal32(ea),
			},
			Mem: mem,
		}}, nil
	}
	total := int(op.Length)
	chunk := total
	if chunk > trace.MAX_OPERAND_LEN {
		chunk = memChunk
		if room < 1 {
			room = 1
		}
		if total > room*chunk {
			total = room * chunk
		}
	}
	var ret []trace.Operand
	for off := 0; off < total || off == 0; off += chunk {
		length := chunk
		if rest := total - off; rest < length {
			length = rest
		}
		addr := uint64(ea) + uint64(off)
		p := make([]byte, length)
		// unreadable operands are recorded with a zero value
		d.Cpu.MemReadInto(p, addr)
		v := trace.OperandVal{
			Access: op.Access,
			Length: uint8(length),
			Type:   op.Type,
			Usage:  op.Usage,
			Value:  trace.ValueOf(op.Type, uint8(length), p),
		}
		if op.Type == trace.OpMemLoc64 {
			v.Addr = trace.Mem64(addr)
		} else {
			v.Addr = trace.Mem32(uint32(addr))
		}
		d.fill(&v, taint.MemLoc(addr))
		ret = append(ret, trace.Operand{Val: v, Mem: mem})
		if length == 0 {
			break
		}
	}
	return ret, nil
}

func isIndexTainted(op *trace.Operand) bool {
	return op.Mem.Get(trace.SlotBase).IsTainted() || op.Mem.Get(trace.SlotIndex).IsTainted()
}

// classify picks the first taint propagation reason that applies.
func classify(insn *Insn, e *trace.EntryHeader) trace.TP {
	ops := e.Operands.Slice()
	find := func(usage trace.Usage) *trace.Operand {
		for i := range ops {
			if ops[i].Val.Usage == usage {
				return &ops[i]
			}
		}
		return nil
	}
	for i := range ops {
		if v := &ops[i].Val; v.Usage == trace.UsageUnknown && v.Access.Reads() && v.IsTainted() {
			return trace.TP_SRC
		}
	}
	if insn.CondJump {
		if fl := find(trace.UsageEflags); fl != nil && fl.Val.IsTainted() {
			return trace.TP_CJMP
		}
	}
	for i := range ops {
		if v := &ops[i].Val; v.Type.IsMem() && v.Access.Reads() && isIndexTainted(&ops[i]) {
			return trace.TP_MEMREAD_INDEX
		}
	}
	for i := range ops {
		if v := &ops[i].Val; v.Type.IsMem() && v.Access.Writes() && isIndexTainted(&ops[i]) {
			return trace.TP_MEMWRITE_INDEX
		}
	}
	if insn.Rep {
		if c := find(trace.UsageCounter); c != nil && c.Val.IsTainted() {
			return trace.TP_REP_COUNTER
		}
	}
	if insn.Sysenter && e.IsTainted() {
		return trace.TP_SYSENTER
	}
	return trace.TP_NONE
}
