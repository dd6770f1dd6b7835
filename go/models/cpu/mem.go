package cpu

import (
	"encoding/binary"
	"github.com/pkg/errors"
)

// Mem is one guest address space: a MemSim page table behind the
// Cpu-facing memory methods.
type Mem struct {
	bits uint
	// pages past mask (^uint64(0) >> (64 - bits)) cannot be mapped
	mask uint64
	// fault hooks, set by Hooks.attach
	hooks *Hooks
	sim   *MemSim

	order binary.ByteOrder
}

func NewMem(bits uint, order binary.ByteOrder) *Mem {
	return &Mem{
		bits:  bits,
		mask:  ^uint64(0) >> (64 - bits),
		sim:   &MemSim{},
		order: order,
	}
}

func (m *Mem) MemMapProt(addr, size uint64, prot int) error {
	if size == 0 {
		return errors.New("empty region")
	}
	if last := PageAlign(addr+size-1) + PAGE_SIZE - 1; last&m.mask != last {
		return errors.New("region outside memory range")
	}
	m.sim.Map(addr, size, prot, false)
	return nil
}

func (m *Mem) MemProt(addr, size uint64, prot int) error {
	if mapped, _, _ := m.sim.RangeValid(addr, size, 0); !mapped {
		return errors.New("range not mapped")
	}
	m.sim.Prot(addr, size, prot)
	return nil
}

func (m *Mem) MemUnmap(addr, size uint64) error {
	if mapped, _, _ := m.sim.RangeValid(addr, size, 0); !mapped {
		return errors.New("range not mapped")
	}
	m.sim.Unmap(addr, size)
	return nil
}

// MemPageOut marks mapped pages as not resident. Reads fault until MemPageIn.
func (m *Mem) MemPageOut(addr, size uint64) error {
	if mapped, _, _ := m.sim.RangeValid(addr, size, 0); !mapped {
		return errors.New("range not mapped")
	}
	m.sim.PageOut(addr, size)
	return nil
}

func (m *Mem) MemPageIn(addr, size uint64) error {
	if mapped, _, _ := m.sim.RangeValid(addr, size, 0); !mapped {
		return errors.New("range not mapped")
	}
	m.sim.PageIn(addr, size)
	return nil
}

// Reads require PROT_READ, matching a guest page walk on a non-readable page.
func (m *Mem) MemReadInto(p []byte, addr uint64) error {
	err := m.sim.Read(addr, p, PROT_READ)
	if merr, ok := err.(*MemError); ok && m.hooks != nil {
		m.hooks.OnFault(merr.Enum, addr, len(p), 0)
	}
	return err
}

func (m *Mem) MemRead(addr, size uint64) ([]byte, error) {
	p := make([]byte, size)
	if err := m.MemReadInto(p, addr); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Mem) MemWrite(addr uint64, p []byte) error {
	return m.sim.Write(addr, p, 0)
}

func (m *Mem) ReadUint(addr uint64, size int) (uint64, error) {
	if size > 8 {
		return 0, errors.Errorf("MemReadUint size too large: %d > 8", size)
	}
	var buf [8]byte
	if err := m.MemReadInto(buf[:size], addr); err != nil {
		return 0, err
	}
	return UnpackUint(m.order, size, buf[:size])
}

func (m *Mem) WriteUint(addr uint64, size int, val uint64) error {
	var buf [8]byte
	if size > 8 {
		return errors.Errorf("MemWriteUint size too large: %d > 8", size)
	}
	if _, err := PackUint(m.order, size, buf[:], val); err != nil {
		return err
	}
	return m.MemWrite(addr, buf[:size])
}

// Mappings returns the mapped pages, sorted by address.
func (m *Mem) Mappings() Pages {
	return m.sim.Pages()
}
