// Package vmi finds guest address spaces and reads their memory.
package vmi

import (
	"sync"

	"github.com/lunixbochs/tfd/go/models"
)

// Resolver maps a process id to the page table base (cr3) of its address space.
// Unknown pids fail with models.ErrAddressSpaceNotFound.
type Resolver interface {
	Pgd(pid uint32) (uint64, error)
}

// PageReader reads guest memory through a specific page table.
type PageReader interface {
	ReadWithPgd(pgd, addr uint64, p []byte) error
}

type ResolverFunc func(pid uint32) (uint64, error)

func (f ResolverFunc) Pgd(pid uint32) (uint64, error) { return f(pid) }

type PageReaderFunc func(pgd, addr uint64, p []byte) error

func (f PageReaderFunc) ReadWithPgd(pgd, addr uint64, p []byte) error { return f(pgd, addr, p) }

// Process is a guest process as the introspection layer sees it.
type Process struct {
	Pid  uint32
	Pgd  uint64
	Name string
}

// Guest is a process table fed by the embedder as processes come and go.
type Guest struct {
	sync.RWMutex
	procs map[uint32]Process
}

func NewGuest() *Guest {
	return &Guest{procs: make(map[uint32]Process)}
}

func (g *Guest) AddProcess(p Process) {
	g.Lock()
	g.procs[p.Pid] = p
	g.Unlock()
}

func (g *Guest) RemoveProcess(pid uint32) {
	g.Lock()
	delete(g.procs, pid)
	g.Unlock()
}

func (g *Guest) Process(pid uint32) (Process, bool) {
	g.RLock()
	defer g.RUnlock()
	p, ok := g.procs[pid]
	return p, ok
}

func (g *Guest) Pgd(pid uint32) (uint64, error) {
	if p, ok := g.Process(pid); ok {
		return p.Pgd, nil
	}
	return 0, models.Wrapf(models.ErrAddressSpaceNotFound, nil, "pid %d", pid)
}
