package cpu

import (
	"github.com/pkg/errors"
)

// implements register methods conforming to cpu.Cpu and cpu.WideRegReader
// registers in wide get byte storage, everything else is a masked uint64
type Regs struct {
	mask uint64
	vals map[int]uint64
	wide map[int][]byte
}

// NewRegs makes a register file. width maps an enum to its size in bytes, and may be nil.
// Registers wider than 8 bytes are only reachable through RegReadInto / RegWriteBytes.
func NewRegs(bits uint, enums []int, width func(int) int) *Regs {
	r := &Regs{
		mask: ^uint64(0) >> (64 - bits),
		vals: make(map[int]uint64),
		wide: make(map[int][]byte),
	}
	for _, e := range enums {
		if width != nil && width(e) > 8 {
			r.wide[e] = make([]byte, width(e))
		} else {
			r.vals[e] = 0
		}
	}
	return r
}

func (r *Regs) RegRead(enum int) (uint64, error) {
	if val, ok := r.vals[enum]; ok {
		return val, nil
	}
	if buf, ok := r.wide[enum]; ok {
		// low quadword
		n, _ := UnpackUint(order, 8, buf)
		return n, nil
	}
	return 0, errors.Errorf("invalid register: %d", enum)
}

func (r *Regs) RegWrite(enum int, val uint64) error {
	val &= r.mask
	if _, ok := r.vals[enum]; ok {
		r.vals[enum] = val
		return nil
	}
	if buf, ok := r.wide[enum]; ok {
		for i := range buf {
			buf[i] = 0
		}
		PackUint(order, 8, buf, val)
		return nil
	}
	return errors.Errorf("invalid register: %d", enum)
}

func (r *Regs) RegReadInto(p []byte, enum int) error {
	if buf, ok := r.wide[enum]; ok {
		for i := range p {
			p[i] = 0
		}
		copy(p, buf)
		return nil
	}
	val, err := r.RegRead(enum)
	if err != nil {
		return err
	}
	for i := range p {
		if i < 8 {
			p[i] = byte(val >> (8 * uint(i)))
		} else {
			p[i] = 0
		}
	}
	return nil
}

func (r *Regs) RegWriteBytes(enum int, p []byte) error {
	if buf, ok := r.wide[enum]; ok {
		if len(p) > len(buf) {
			return errors.Errorf("value too wide for register %d: %d > %d", enum, len(p), len(buf))
		}
		copy(buf, p)
		for i := len(p); i < len(buf); i++ {
			buf[i] = 0
		}
		return nil
	}
	if len(p) > 8 {
		return errors.Errorf("value too wide for register %d: %d > 8", enum, len(p))
	}
	var tmp [8]byte
	copy(tmp[:], p)
	val, _ := UnpackUint(order, 8, tmp[:])
	return r.RegWrite(enum, val)
}
