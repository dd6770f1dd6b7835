package trace

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/lunixbochs/tfd/go/models/taint"
)

var order = binary.LittleEndian

const (
	MAGIC_NUMBER   = 0xFFFFFFFF
	VERSION_NUMBER = 60
	TRAILER_BEGIN  = 0xFFFFFFFF
	TRAILER_END    = 0x41AA42BB

	MAX_NUM_OPERANDS = 30
	MAX_NUM_MEMREGS  = 7
	MAX_STRING_LEN   = 32
	MAX_OPERAND_LEN  = 16
	MAX_INSN_BYTES   = 15
)

type OpType uint8

const (
	OpNone OpType = iota
	OpRegister
	OpMemLoc
	OpImmediate
	OpJump
	OpFloatRegister
	OpMemAddress
	OpMMXRegister
	OpXMMRegister
	OpFloatControlRegister
	OpDisplacement
	OpMemLoc64
)

var opTypeNames = []string{
	"none", "reg", "mem", "imm", "jmp", "freg", "memaddr",
	"mmx", "xmm", "fctl", "disp", "mem64",
}

func (t OpType) String() string {
	if int(t) < len(opTypeNames) {
		return opTypeNames[t]
	}
	return "unknown"
}

// IsReg is true for every register-class operand type.
func (t OpType) IsReg() bool {
	switch t {
	case OpRegister, OpFloatRegister, OpMMXRegister, OpXMMRegister, OpFloatControlRegister:
		return true
	}
	return false
}

// IsMem is true for memory-indirect operand types.
func (t OpType) IsMem() bool {
	return t == OpMemLoc || t == OpMemAddress || t == OpMemLoc64
}

type Access uint8

const (
	AccessNone Access = iota
	AccessRead
	AccessReadWrite
	AccessReadCondWrite
	AccessCondRead
	AccessCondReadWrite
	AccessWrite
	AccessCondWrite
)

var accessNames = []string{"", "r", "rw", "rcw", "cr", "crcw", "w", "cw"}

func (a Access) String() string {
	if int(a) < len(accessNames) {
		return accessNames[a]
	}
	return "?"
}

func (a Access) Reads() bool {
	switch a {
	case AccessRead, AccessReadWrite, AccessReadCondWrite, AccessCondRead, AccessCondReadWrite:
		return true
	}
	return false
}

func (a Access) Writes() bool {
	switch a {
	case AccessReadWrite, AccessReadCondWrite, AccessCondReadWrite, AccessWrite, AccessCondWrite:
		return true
	}
	return false
}

// Usage tags an operand record with the role it plays.
type Usage uint8

const (
	UsageUnknown Usage = iota
	UsageEsp
	UsageCounter
	UsageMemBase
	UsageMemIndex
	UsageMemSegment
	UsageMemSegent0
	UsageMemSegent1
	UsageMemDisplacement
	UsageMemScale
	UsageEflags
)

var usageNames = []string{
	"unknown", "esp", "counter", "membase", "memindex", "memsegment",
	"memsegent0", "memsegent1", "memdisplacement", "memscale", "eflags",
}

func (u Usage) String() string {
	if int(u) < len(usageNames) {
		return usageNames[u]
	}
	return "unknown"
}

type AddrKind uint8

const (
	NoAddr AddrKind = iota
	AddrReg
	AddrMem32
	AddrMem64
)

// Address is the operand location. Which variant is valid follows from the
// operand type; the zero value is NoAddr.
type Address struct {
	Kind AddrKind
	v    uint64
}

func RegAddr(reg uint8) Address { return Address{AddrReg, uint64(reg)} }
func Mem32(addr uint32) Address { return Address{AddrMem32, uint64(addr)} }
func Mem64(addr uint64) Address { return Address{AddrMem64, addr} }

func (a Address) Raw() uint64  { return a.v }
func (a Address) Reg() uint8   { return uint8(a.v) }
func (a Address) IsNone() bool { return a.Kind == NoAddr }

func addrKind(t OpType) AddrKind {
	switch {
	case t.IsReg():
		return AddrReg
	case t == OpMemLoc || t == OpMemAddress:
		return AddrMem32
	case t == OpMemLoc64:
		return AddrMem64
	}
	return NoAddr
}

func decodeAddress(t OpType, raw uint64) Address {
	switch addrKind(t) {
	case AddrReg:
		return RegAddr(uint8(raw))
	case AddrMem32:
		return Mem32(uint32(raw))
	case AddrMem64:
		return Mem64(raw)
	}
	return Address{}
}

type ValueKind uint8

const (
	NoValue ValueKind = iota
	Val32
	Val64
	Float80
	Vec128
)

var valueWidth = [...]int{0, 4, 8, 10, 16}

// Value is the operand contents. The variant follows from the operand length,
// except FloatRegister operands which always hold an 80-bit float.
type Value struct {
	Kind ValueKind
	b    [MAX_OPERAND_LEN]byte
}

func NewVal32(v uint32) Value {
	ret := Value{Kind: Val32}
	order.PutUint32(ret.b[:], v)
	return ret
}

func NewVal64(v uint64) Value {
	ret := Value{Kind: Val64}
	order.PutUint64(ret.b[:], v)
	return ret
}

func NewFloat80(p [10]byte) Value {
	ret := Value{Kind: Float80}
	copy(ret.b[:], p[:])
	return ret
}

func NewVec128(p [16]byte) Value {
	return Value{Kind: Vec128, b: p}
}

func valueKind(t OpType, length uint8) ValueKind {
	switch {
	case t == OpFloatRegister:
		return Float80
	case length == 0:
		return NoValue
	case length <= 4:
		return Val32
	case length <= 8:
		return Val64
	case length == 10:
		return Float80
	}
	return Vec128
}

// ValueOf builds the value variant matching an operand's type and length from
// little-endian bytes. Bytes past the variant's width are dropped.
func ValueOf(t OpType, length uint8, p []byte) Value {
	ret := Value{Kind: valueKind(t, length)}
	copy(ret.b[:valueWidth[ret.Kind]], p)
	return ret
}

func (v Value) Uint32() uint32 { return order.Uint32(v.b[:]) }
func (v Value) Uint64() uint64 { return order.Uint64(v.b[:]) }

// Bytes returns the meaningful bytes of the value.
func (v Value) Bytes() []byte {
	return append([]byte(nil), v.b[:valueWidth[v.Kind]]...)
}

// OperandVal is one operand record: an explicit operand, an implicit
// pseudo-operand, or one component of a memory operand's address.
type OperandVal struct {
	Access  Access
	Length  uint8
	Tainted uint16
	Type    OpType
	Usage   Usage
	Addr    Address
	Value   Value
	Records [MAX_OPERAND_LEN]taint.Record
}

const (
	operandFixedSize = 1 + 1 + 2 + 1 + 1 + 8 + MAX_OPERAND_LEN
	taintByteSize    = 4 + 4 + 4
)

// span is how many bytes of the operand can carry taint.
func (o *OperandVal) span() int {
	if o.Length > MAX_OPERAND_LEN {
		return MAX_OPERAND_LEN
	}
	return int(o.Length)
}

func (o *OperandVal) taintedAt(i int) bool {
	return o.Tainted&(1<<uint(i)) != 0
}

// SetTaint stores the provenance of byte i and updates the taint mask.
func (o *OperandVal) SetTaint(i int, rec taint.Record) {
	o.Records[i] = rec
	if rec.Tainted() {
		o.Tainted |= 1 << uint(i)
	} else {
		o.Tainted &^= 1 << uint(i)
	}
}

func (o *OperandVal) IsTainted() bool { return o.Tainted != 0 }

func (o *OperandVal) Sizeof() int {
	size := operandFixedSize
	for i := 0; i < o.span(); i++ {
		if o.taintedAt(i) {
			size += 1 + o.Records[i].Len()*taintByteSize
		}
	}
	return size
}

func (o *OperandVal) Pack(p []byte) int {
	p[0] = uint8(o.Access)
	p[1] = o.Length
	order.PutUint16(p[2:], o.Tainted)
	p[4] = uint8(o.Type)
	p[5] = uint8(o.Usage)
	order.PutUint64(p[6:], o.Addr.v)
	copy(p[14:14+MAX_OPERAND_LEN], o.Value.b[:])
	n := operandFixedSize
	for i := 0; i < o.span(); i++ {
		if !o.taintedAt(i) {
			continue
		}
		rec := &o.Records[i]
		p[n] = uint8(rec.Len())
		n++
		for j := 0; j < rec.Len(); j++ {
			b := rec.At(j)
			order.PutUint32(p[n:], uint32(b.Source))
			order.PutUint32(p[n+4:], b.Origin)
			order.PutUint32(p[n+8:], b.Offset)
			n += taintByteSize
		}
	}
	return n
}

func (o *OperandVal) Unpack(r io.Reader) (int, error) {
	var tmp [operandFixedSize]byte
	total, err := io.ReadFull(r, tmp[:])
	if err != nil {
		return total, err
	}
	*o = OperandVal{
		Access:  Access(tmp[0]),
		Length:  tmp[1],
		Tainted: order.Uint16(tmp[2:]),
		Type:    OpType(tmp[4]),
		Usage:   Usage(tmp[5]),
	}
	o.Addr = decodeAddress(o.Type, order.Uint64(tmp[6:]))
	o.Value = ValueOf(o.Type, o.Length, tmp[14:])

	var recs [taint.MaxRecords * taintByteSize]byte
	for i := 0; i < o.span(); i++ {
		if !o.taintedAt(i) {
			continue
		}
		n, err := io.ReadFull(r, recs[:1])
		total += n
		if err != nil {
			return total, err
		}
		count := int(recs[0])
		if count > taint.MaxRecords {
			return total, errors.Errorf("byte %d has %d taint records", i, count)
		}
		n, err = io.ReadFull(r, recs[:count*taintByteSize])
		total += n
		if err != nil {
			return total, err
		}
		var list [taint.MaxRecords]taint.ByteRecord
		for j := 0; j < count; j++ {
			b := recs[j*taintByteSize:]
			list[j] = taint.ByteRecord{
				Source: taint.Source(order.Uint32(b)),
				Origin: order.Uint32(b[4:]),
				Offset: order.Uint32(b[8:]),
			}
		}
		o.Records[i] = taint.NewRecord(list[:count]...)
	}
	return total, nil
}
