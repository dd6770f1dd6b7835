package cpu

import (
	"fmt"
	"sort"
)

type MemError struct {
	Addr uint64
	Size int
	Enum int
	// the page is mapped but paged out
	NotResident bool
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MEM_WRITE_UNMAPPED:
		reason = "unmapped write"
	case MEM_READ_UNMAPPED:
		reason = "unmapped read"
	case MEM_FETCH_UNMAPPED:
		reason = "unmapped fetch"
	case MEM_WRITE_PROT:
		reason = "protected write"
	case MEM_READ_PROT:
		reason = "protected read"
	case MEM_FETCH_PROT:
		reason = "protected exec"
	}
	if m.NotResident {
		reason += " (page not resident)"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

// MemSim is a sparse page table. Every operation works on whole pages: a
// range is widened to the pages it touches.
type MemSim struct {
	pages map[uint64]*Page
}

func (m *MemSim) each(addr, size uint64, fn func(pn uint64)) {
	first := PageAlign(addr) / PAGE_SIZE
	for i := uint64(0); i < PageCount(addr, size); i++ {
		fn(first + i)
	}
}

// Page returns the page containing addr, or nil.
func (m *MemSim) Page(addr uint64) *Page {
	return m.pages[addr/PAGE_SIZE]
}

// Map maps the pages covering addr, size with prot. Pages that are already
// mapped keep their contents unless zero is set.
func (m *MemSim) Map(addr, size uint64, prot int, zero bool) {
	if m.pages == nil {
		m.pages = make(map[uint64]*Page)
	}
	m.each(addr, size, func(pn uint64) {
		p, ok := m.pages[pn]
		if !ok || zero {
			p = &Page{Addr: pn * PAGE_SIZE, Data: make([]byte, PAGE_SIZE)}
			m.pages[pn] = p
		}
		p.Prot = prot
	})
}

func (m *MemSim) Prot(addr, size uint64, prot int) {
	m.each(addr, size, func(pn uint64) {
		if p, ok := m.pages[pn]; ok {
			p.Prot = prot
		}
	})
}

func (m *MemSim) Unmap(addr, size uint64) {
	m.each(addr, size, func(pn uint64) {
		delete(m.pages, pn)
	})
}

// PageOut evicts mapped pages. They stay mapped but every access faults
// until PageIn.
func (m *MemSim) PageOut(addr, size uint64) {
	m.each(addr, size, func(pn uint64) {
		if p, ok := m.pages[pn]; ok {
			p.pageOut()
		}
	})
}

func (m *MemSim) PageIn(addr, size uint64) {
	m.each(addr, size, func(pn uint64) {
		if p, ok := m.pages[pn]; ok {
			p.pageIn()
		}
	})
}

// RangeValid checks that every page of the range is mapped and resident, and
// that each one has the whole prot mask when prot > 0.
func (m *MemSim) RangeValid(addr, size uint64, prot int) (mapGood, resident, protGood bool) {
	mapGood, resident, protGood = true, true, true
	m.each(addr, size, func(pn uint64) {
		p, ok := m.pages[pn]
		switch {
		case !ok:
			mapGood = false
		case !p.Resident():
			resident = false
		case prot > 0 && p.Prot&prot != prot:
			protGood = false
		}
	})
	return
}

// Pages lists the mapped pages by address.
func (m *MemSim) Pages() Pages {
	ret := make(Pages, 0, len(m.pages))
	for _, p := range m.pages {
		ret = append(ret, p)
	}
	sort.Sort(ret)
	return ret
}

func (m *MemSim) check(addr uint64, size int, prot int, write bool) error {
	mapped, resident, protGood := m.RangeValid(addr, uint64(size), prot)
	unmapped, protErr := MEM_READ_UNMAPPED, MEM_READ_PROT
	if write {
		unmapped, protErr = MEM_WRITE_UNMAPPED, MEM_WRITE_PROT
	} else if prot&PROT_EXEC == PROT_EXEC {
		unmapped, protErr = MEM_FETCH_UNMAPPED, MEM_FETCH_PROT
	}
	switch {
	case !mapped:
		return &MemError{Addr: addr, Size: size, Enum: unmapped}
	case !resident:
		return &MemError{Addr: addr, Size: size, Enum: unmapped, NotResident: true}
	case !protGood:
		return &MemError{Addr: addr, Size: size, Enum: protErr}
	}
	return nil
}

// copy moves bytes between p and the pages at addr, page by page.
func (m *MemSim) copy(addr uint64, p []byte, write bool) {
	for len(p) > 0 {
		page := m.pages[addr/PAGE_SIZE]
		o := addr - page.Addr
		var n int
		if write {
			n = copy(page.Data[o:], p)
		} else {
			n = copy(p, page.Data[o:])
		}
		addr, p = addr+uint64(n), p[n:]
	}
}

// Read fails without touching p unless the whole range is readable.
func (m *MemSim) Read(addr uint64, p []byte, prot int) error {
	if err := m.check(addr, len(p), prot, false); err != nil {
		return err
	}
	m.copy(addr, p, false)
	return nil
}

func (m *MemSim) Write(addr uint64, p []byte, prot int) error {
	if err := m.check(addr, len(p), prot, true); err != nil {
		return err
	}
	m.copy(addr, p, true)
	return nil
}
