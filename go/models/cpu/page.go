package cpu

import (
	"fmt"
	"strings"
)

const PAGE_SIZE = 0x1000

// PageAlign rounds addr down to a page boundary.
func PageAlign(addr uint64) uint64 {
	return addr &^ (PAGE_SIZE - 1)
}

// PageCount returns how many pages [addr, addr+size) touches.
func PageCount(addr, size uint64) uint64 {
	if size == 0 {
		return 0
	}
	first := PageAlign(addr)
	last := PageAlign(addr + size - 1)
	return (last-first)/PAGE_SIZE + 1
}

// Page is one guest page. Data is nil while the page is paged out; the
// contents wait in swap until PageIn.
type Page struct {
	Addr uint64
	Prot int
	Data []byte

	swap []byte
}

func (p *Page) Resident() bool { return p.Data != nil }

func (p *Page) String() string {
	var prot [3]byte
	for i, c := range "rwx" {
		if p.Prot&(1<<uint(i)) != 0 {
			prot[i] = byte(c)
		} else {
			prot[i] = '-'
		}
	}
	s := fmt.Sprintf("0x%x-0x%x %s", p.Addr, p.Addr+PAGE_SIZE, prot[:])
	if !p.Resident() {
		s += " (paged out)"
	}
	return s
}

func (p *Page) pageOut() {
	if p.Data != nil {
		p.swap, p.Data = p.Data, nil
	}
}

func (p *Page) pageIn() {
	if p.Data == nil {
		p.Data, p.swap = p.swap, nil
	}
}

type Pages []*Page

func (p Pages) Len() int           { return len(p) }
func (p Pages) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p Pages) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p Pages) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}
