package cpu

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lunixbochs/tfd/go/models"
)

var order = binary.LittleEndian

// Machine is a 32-bit x86 register file and hook dispatcher with one memory
// image per page table base. It does not execute anything: the owner drives
// it with Step. Embedders use it to replay captured state, tests use it as the CPU.
type Machine struct {
	*Regs
	*Hooks

	spaces map[uint64]*Mem
}

func NewMachine() *Machine {
	m := &Machine{
		Regs:   NewRegs(32, X86Regs(), X86RegWidth),
		spaces: make(map[uint64]*Mem),
	}
	m.Hooks = NewHooks(m, nil)
	return m
}

// Space returns the memory image for a page table base, creating it if needed.
func (m *Machine) Space(pgd uint64) *Mem {
	mem, ok := m.spaces[pgd]
	if !ok {
		mem = NewMem(32, order)
		m.Hooks.attach(mem)
		m.spaces[pgd] = mem
	}
	return mem
}

// Spaces lists every page table base with a memory image.
func (m *Machine) Spaces() []uint64 {
	ret := make([]uint64, 0, len(m.spaces))
	for pgd := range m.spaces {
		ret = append(ret, pgd)
	}
	return ret
}

func (m *Machine) current() (*Mem, error) {
	cr3, _ := m.RegRead(X86_REG_CR3)
	mem, ok := m.spaces[cr3]
	if !ok {
		return nil, errors.Errorf("no address space for cr3 %#x", cr3)
	}
	return mem, nil
}

func (m *Machine) MemReadInto(p []byte, addr uint64) error {
	mem, err := m.current()
	if err != nil {
		return err
	}
	return mem.MemReadInto(p, addr)
}

// ReadWithPgd reads from a specific address space, regardless of the active
// one. Unmapped and paged out memory fails with models.ErrPageNotResident.
func (m *Machine) ReadWithPgd(pgd, addr uint64, p []byte) error {
	mem, ok := m.spaces[pgd]
	if !ok {
		return models.Wrapf(models.ErrAddressSpaceNotFound, nil, "cr3 %#x", pgd)
	}
	// page walks do not raise guest faults
	if err := mem.sim.Read(addr, p, PROT_READ); err != nil {
		return models.Wrapf(models.ErrPageNotResident, err, "cr3 %#x", pgd)
	}
	return nil
}

// Switch makes pgd the active address space.
func (m *Machine) Switch(pgd uint64) {
	m.Space(pgd)
	m.RegWrite(X86_REG_CR3, pgd)
}

// Step moves eip to addr and dispatches code hooks, as an emulator would
// just before executing the instruction there.
func (m *Machine) Step(addr uint64, size uint32) {
	m.RegWrite(X86_REG_EIP, addr)
	m.Hooks.OnCode(addr, size)
}
