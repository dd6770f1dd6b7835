package taint

import "fmt"

type LocKind uint8

const (
	LocMem LocKind = iota
	LocReg
)

// Loc names one byte of guest state: a memory byte, or byte Byte of register Reg.
type Loc struct {
	Kind LocKind
	Addr uint64
	Reg  int
	Byte int
}

func MemLoc(addr uint64) Loc    { return Loc{Kind: LocMem, Addr: addr} }
func RegLoc(reg, byte int) Loc { return Loc{Kind: LocReg, Reg: reg, Byte: byte} }

// Next returns the location n bytes further along.
func (l Loc) Next(n int) Loc {
	if l.Kind == LocMem {
		l.Addr += uint64(n)
	} else {
		l.Byte += n
	}
	return l
}

func (l Loc) String() string {
	if l.Kind == LocMem {
		return fmt.Sprintf("mem[%#x]", l.Addr)
	}
	return fmt.Sprintf("reg%d[%d]", l.Reg, l.Byte)
}

// Engine is the taint propagation engine. It reports every provenance entry
// currently attached to a byte, oldest first. A clean byte returns nil.
type Engine interface {
	Provenance(loc Loc) []ByteRecord
}

// Builder packs engine answers into fixed-size records.
type Builder struct {
	Engine Engine
	// bytes that had provenance dropped to fit MaxRecords
	Truncated uint64
}

// Record queries a single byte. When the engine reports more than
// MaxRecords entries the most recent MaxRecords are kept.
func (b *Builder) Record(loc Loc) Record {
	if b.Engine == nil {
		return Record{}
	}
	recs := b.Engine.Provenance(loc)
	if len(recs) > MaxRecords {
		b.Truncated++
	}
	return NewRecord(recs...)
}

// Fill queries len(out) consecutive bytes starting at loc and returns
// the taint mask: bit i is set iff out[i] has provenance.
// At most 16 bytes are queried.
func (b *Builder) Fill(loc Loc, out []Record) uint16 {
	var mask uint16
	for i := range out {
		if i >= 16 {
			break
		}
		out[i] = b.Record(loc.Next(i))
		if out[i].Tainted() {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// Shadow is a map-backed Engine. Taint sources and tests label bytes with it directly.
type Shadow struct {
	m map[Loc][]ByteRecord
}

func NewShadow() *Shadow {
	return &Shadow{m: make(map[Loc][]ByteRecord)}
}

func (s *Shadow) Provenance(loc Loc) []ByteRecord {
	return s.m[loc]
}

// Taint appends provenance entries to a byte.
func (s *Shadow) Taint(loc Loc, recs ...ByteRecord) {
	s.m[loc] = append(s.m[loc], recs...)
}

// TaintBuffer labels n consecutive bytes as coming from one input buffer, starting at offset.
func (s *Shadow) TaintBuffer(loc Loc, n int, source Source, origin, offset uint32) {
	for i := 0; i < n; i++ {
		s.Taint(loc.Next(i), ByteRecord{Source: source, Origin: origin, Offset: offset + uint32(i)})
	}
}

func (s *Shadow) Clear(loc Loc) {
	delete(s.m, loc)
}
