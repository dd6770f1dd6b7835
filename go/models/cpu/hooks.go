package cpu

import (
	"github.com/pkg/errors"
)

// bunch of wrapper types
// type CodeCb func(Cpu, uint64, uint32)
// type MemFaultCb func(Cpu, int, uint64, int, int64) bool

type hookInfo struct {
	htype int
	start uint64
	end   uint64
}

func (h *hookInfo) Type() int {
	return h.htype
}

func (h *hookInfo) Contains(addr uint64) bool {
	return h.start > h.end || addr >= h.start && addr <= h.end
}

type hinfo interface {
	Type() int
}

type codeHook struct {
	hookInfo
	cb func(Cpu, uint64, uint32)
}

type memFaultHook struct {
	hookInfo
	cb func(Cpu, int, uint64, int, int64) bool
}

// real code starts here
type Hooks struct {
	cpu Cpu

	code     []*codeHook
	block    []*codeHook
	memFault []*memFaultHook
}

// creates &Hooks{}, optionally attaching to a *Mem instance
func NewHooks(cpu Cpu, mem *Mem) *Hooks {
	h := &Hooks{cpu: cpu}
	h.attach(mem)
	return h
}

// mem dispatches fault hooks automatically once attached
func (h *Hooks) attach(mem *Mem) {
	if mem != nil {
		mem.hooks = h
	}
}

func (h *Hooks) HookAdd(htype int, cb interface{}, start uint64, end uint64, extra ...int) (Hook, error) {
	info := hookInfo{htype, start, end}
	var hook interface{}
	switch htype {
	case HOOK_BLOCK, HOOK_CODE:
		f, ok := cb.(func(Cpu, uint64, uint32))
		if !ok {
			return nil, errors.Errorf("bad callback type %T for code hook", cb)
		}
		hh := &codeHook{info, f}
		if htype == HOOK_BLOCK {
			h.block = append(h.block, hh)
		} else {
			h.code = append(h.code, hh)
		}
		hook = hh

	case HOOK_MEM_ERR:
		f, ok := cb.(func(Cpu, int, uint64, int, int64) bool)
		if !ok {
			return nil, errors.Errorf("bad callback type %T for fault hook", cb)
		}
		hh := &memFaultHook{info, f}
		h.memFault, hook = append(h.memFault, hh), hh

	default:
		return nil, errors.Errorf("unknown hook type: %d", htype)
	}
	return hook, nil
}

// HookDel removes a hook. Deleting a hook twice is a no-op.
func (h *Hooks) HookDel(hh Hook) error {
	info, ok := hh.(hinfo)
	if !ok {
		return errors.Errorf("not a hook: %T", hh)
	}
	switch info.Type() {
	case HOOK_BLOCK:
		h.block = delCode(h.block, hh)
	case HOOK_CODE:
		h.code = delCode(h.code, hh)
	case HOOK_MEM_ERR:
		var tmp []*memFaultHook
		for _, v := range h.memFault {
			if v != hh {
				tmp = append(tmp, v)
			}
		}
		h.memFault = tmp
	}
	return nil
}

func delCode(list []*codeHook, hh Hook) []*codeHook {
	var tmp []*codeHook
	for _, v := range list {
		if v != hh {
			tmp = append(tmp, v)
		}
	}
	return tmp
}

// Callbacks may delete hooks (including themselves), so dispatch iterates over a snapshot.
func (h *Hooks) OnBlock(addr uint64, size uint32) {
	for _, v := range append([]*codeHook(nil), h.block...) {
		if v.Contains(addr) {
			v.cb(h.cpu, addr, size)
		}
	}
}

func (h *Hooks) OnCode(addr uint64, size uint32) {
	for _, v := range append([]*codeHook(nil), h.code...) {
		if v.Contains(addr) {
			v.cb(h.cpu, addr, size)
		}
	}
}

func (h *Hooks) OnFault(access int, addr uint64, size int, val int64) bool {
	for _, v := range h.memFault {
		if v.Contains(addr) {
			if v.cb(h.cpu, access, addr, size, val) {
				return true
			}
		}
	}
	return false
}
