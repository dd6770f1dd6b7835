// Package state writes and reads memory snapshots of one guest address space.
//
// A snapshot is a header, an optional register block, then one record per
// readable page: the inclusive address range followed by the page bytes.
// Unreadable pages leave a gap. There is no trailer.
package state

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lunixbochs/tfd/go/models/cpu"
)

var order = binary.LittleEndian

const (
	STATE_MAGIC_NUMBER   = 0xFFFEFFFE
	STATE_VERSION_NUMBER = 20
	STATE_PAGE_SIZE      = 4096

	// last page scanned when kernel memory is included
	FullStopAddr = 0xFFFFE000
)

type Header struct {
	Magic   uint32
	Version uint32
}

// Regs is the i386 user_regs_struct layout.
type Regs struct {
	Ebx     uint32
	Ecx     uint32
	Edx     uint32
	Esi     uint32
	Edi     uint32
	Ebp     uint32
	Eax     uint32
	Xds     uint32
	Xes     uint32
	Xfs     uint32
	Xgs     uint32
	OrigEax uint32
	Eip     uint32
	Xcs     uint32
	Eflags  uint32
	Esp     uint32
	Xss     uint32
}

// Range is the inclusive address range of one saved page.
type Range struct {
	Begin uint32
	End   uint32
}

const rangeSize = 8

// ReadRegs captures the register block from a cpu.
func ReadRegs(c cpu.Cpu) (*Regs, error) {
	r := &Regs{}
	for _, v := range []struct {
		reg int
		dst *uint32
	}{
		{cpu.X86_REG_EAX, &r.Eax}, {cpu.X86_REG_EBX, &r.Ebx},
		{cpu.X86_REG_ECX, &r.Ecx}, {cpu.X86_REG_EDX, &r.Edx},
		{cpu.X86_REG_ESI, &r.Esi}, {cpu.X86_REG_EDI, &r.Edi},
		{cpu.X86_REG_EBP, &r.Ebp}, {cpu.X86_REG_ESP, &r.Esp},
		{cpu.X86_REG_EIP, &r.Eip}, {cpu.X86_REG_EFLAGS, &r.Eflags},
		{cpu.X86_REG_CS, &r.Xcs}, {cpu.X86_REG_DS, &r.Xds},
		{cpu.X86_REG_ES, &r.Xes}, {cpu.X86_REG_FS, &r.Xfs},
		{cpu.X86_REG_GS, &r.Xgs}, {cpu.X86_REG_SS, &r.Xss},
	} {
		val, err := c.RegRead(v.reg)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", cpu.X86RegNames[v.reg])
		}
		*v.dst = uint32(val)
	}
	return r, nil
}

// StopAddr is the last page start a scan visits.
func StopAddr(saveKernel bool, kernelBase uint32) uint32 {
	if saveKernel {
		return FullStopAddr
	}
	return kernelBase - STATE_PAGE_SIZE
}
