package state

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/tfd/go/models/cpu"
)

// Trigger is a one-shot code hook that fires when addr executes inside the
// address space rooted at pgd.
type Trigger struct {
	Addr uint64
	Pgd  uint64

	c     cpu.Cpu
	hook  cpu.Hook
	fire  func(c cpu.Cpu)
	armed bool
	fired bool
}

// Arm hooks addr. fire runs synchronously on the cpu's thread, after the
// trigger has already been disarmed.
func Arm(c cpu.Cpu, addr, pgd uint64, fire func(c cpu.Cpu)) (*Trigger, error) {
	t := &Trigger{Addr: addr, Pgd: pgd, c: c, fire: fire}
	hook, err := c.HookAdd(cpu.HOOK_CODE, func(c cpu.Cpu, addr uint64, size uint32) {
		t.hit(c)
	}, addr, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to hook %#x", addr)
	}
	t.hook = hook
	t.armed = true
	return t, nil
}

func (t *Trigger) hit(c cpu.Cpu) {
	if !t.armed {
		return
	}
	if cr3, err := c.RegRead(cpu.X86_REG_CR3); err != nil || cr3 != t.Pgd {
		return
	}
	t.Disarm()
	t.fired = true
	t.fire(c)
}

// Disarm removes the hook. It is safe to call more than once.
func (t *Trigger) Disarm() error {
	if !t.armed {
		return nil
	}
	t.armed = false
	return t.c.HookDel(t.hook)
}

func (t *Trigger) Armed() bool { return t.armed }
func (t *Trigger) Fired() bool { return t.fired }
