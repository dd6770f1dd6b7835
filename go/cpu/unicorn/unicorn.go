package unicorn

import (
	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/lunixbochs/tfd/go/models"
	"github.com/lunixbochs/tfd/go/models/cpu"
)

// register enums from cpu.X86_REG_* to unicorn. xmm and x87 registers are
// missing: the bindings only read registers up to 64 bits.
var regMap = map[int]int{
	cpu.X86_REG_EAX:    uc.X86_REG_EAX,
	cpu.X86_REG_ECX:    uc.X86_REG_ECX,
	cpu.X86_REG_EDX:    uc.X86_REG_EDX,
	cpu.X86_REG_EBX:    uc.X86_REG_EBX,
	cpu.X86_REG_ESP:    uc.X86_REG_ESP,
	cpu.X86_REG_EBP:    uc.X86_REG_EBP,
	cpu.X86_REG_ESI:    uc.X86_REG_ESI,
	cpu.X86_REG_EDI:    uc.X86_REG_EDI,
	cpu.X86_REG_EIP:    uc.X86_REG_EIP,
	cpu.X86_REG_EFLAGS: uc.X86_REG_EFLAGS,
	cpu.X86_REG_ES:     uc.X86_REG_ES,
	cpu.X86_REG_CS:     uc.X86_REG_CS,
	cpu.X86_REG_SS:     uc.X86_REG_SS,
	cpu.X86_REG_DS:     uc.X86_REG_DS,
	cpu.X86_REG_FS:     uc.X86_REG_FS,
	cpu.X86_REG_GS:     uc.X86_REG_GS,
	cpu.X86_REG_CR0:    uc.X86_REG_CR0,
	cpu.X86_REG_CR3:    uc.X86_REG_CR3,
	cpu.X86_REG_FPCW:   uc.X86_REG_FPCW,
	cpu.X86_REG_MM0:    uc.X86_REG_MM0,
	cpu.X86_REG_MM1:    uc.X86_REG_MM1,
	cpu.X86_REG_MM2:    uc.X86_REG_MM2,
	cpu.X86_REG_MM3:    uc.X86_REG_MM3,
	cpu.X86_REG_MM4:    uc.X86_REG_MM4,
	cpu.X86_REG_MM5:    uc.X86_REG_MM5,
	cpu.X86_REG_MM6:    uc.X86_REG_MM6,
	cpu.X86_REG_MM7:    uc.X86_REG_MM7,
}

type Builder struct {
	Mode int
}

func (b *Builder) New() (*UnicornCpu, error) {
	mode := b.Mode
	if mode == 0 {
		mode = uc.MODE_32
	}
	u, err := uc.NewUnicorn(uc.ARCH_X86, mode)
	if err != nil {
		return nil, errors.Wrap(err, "NewUnicorn() failed")
	}
	return &UnicornCpu{u}, nil
}

// UnicornCpu lets a unicorn x86 engine act as the capture cpu. Unicorn has a
// single flat address space, so ReadWithPgd ignores the page table base.
type UnicornCpu struct {
	uc.Unicorn
}

func (u *UnicornCpu) Backend() interface{} {
	return u.Unicorn
}

func ucReg(reg int) (int, error) {
	if r, ok := regMap[reg]; ok {
		return r, nil
	}
	return 0, errors.Errorf("register %d not available in unicorn", reg)
}

func (u *UnicornCpu) RegRead(reg int) (uint64, error) {
	r, err := ucReg(reg)
	if err != nil {
		return 0, err
	}
	return u.Unicorn.RegRead(r)
}

func (u *UnicornCpu) RegWrite(reg int, val uint64) error {
	r, err := ucReg(reg)
	if err != nil {
		return err
	}
	return u.Unicorn.RegWrite(r, val)
}

func (u *UnicornCpu) ReadWithPgd(pgd, addr uint64, p []byte) error {
	if err := u.Unicorn.MemReadInto(p, addr); err != nil {
		return models.Wrapf(models.ErrPageNotResident, err, "addr %#x", addr)
	}
	return nil
}

func (u *UnicornCpu) HookAdd(htype int, cb interface{}, start uint64, end uint64, extra ...int) (cpu.Hook, error) {
	// have to wrap all hooks to conform to Cpu interface
	var wrap interface{}
	switch htype {
	case cpu.HOOK_BLOCK, cpu.HOOK_CODE:
		cbc, ok := cb.(func(cpu.Cpu, uint64, uint32))
		if !ok {
			return nil, errors.Errorf("bad callback type %T for code hook", cb)
		}
		wrap = func(_ uc.Unicorn, addr uint64, size uint32) { cbc(u, addr, size) }

	case cpu.HOOK_MEM_ERR:
		cbc, ok := cb.(func(cpu.Cpu, int, uint64, int, int64) bool)
		if !ok {
			return nil, errors.Errorf("bad callback type %T for fault hook", cb)
		}
		wrap = func(_ uc.Unicorn, access int, addr uint64, size int, val int64) bool {
			return cbc(u, access, addr, size, val)
		}

	default:
		return nil, errors.Errorf("unknown hook type: %d", htype)
	}
	return u.Unicorn.HookAdd(htype, wrap, start, end, extra...)
}

func (u *UnicornCpu) HookDel(hh cpu.Hook) error {
	h, ok := hh.(uc.Hook)
	if !ok {
		return errors.Errorf("not a unicorn hook: %T", hh)
	}
	return u.Unicorn.HookDel(h)
}
