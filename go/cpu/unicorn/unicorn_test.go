package unicorn

import (
	"testing"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/lunixbochs/tfd/go/models"
	"github.com/lunixbochs/tfd/go/models/cpu"
	"github.com/lunixbochs/tfd/go/models/state"
)

// inc eax; inc eax; nop
var code = []byte{0x40, 0x40, 0x90}

func TestUnicornCpu(t *testing.T) {
	u, err := (&Builder{}).New()
	if err != nil {
		t.Fatal(err)
	}
	var c cpu.Cpu = u
	if err := u.MemMapProt(0x1000, 0x1000, uc.PROT_ALL); err != nil {
		t.Fatal(err)
	}
	if err := u.MemWrite(0x1000, code); err != nil {
		t.Fatal(err)
	}
	var seen []uint64
	if _, err := c.HookAdd(cpu.HOOK_CODE, func(c cpu.Cpu, addr uint64, size uint32) {
		seen = append(seen, addr)
	}, 1, 0); err != nil {
		t.Fatal(err)
	}
	// unicorn has no paging, cr3 stays 0
	trig, err := state.Arm(c, 0x1001, 0, func(c cpu.Cpu) {
		eax, _ := c.RegRead(cpu.X86_REG_EAX)
		if eax != 1 {
			t.Errorf("trigger saw eax=%d", eax)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Start(0x1000, 0x1000+uint64(len(code))); err != nil {
		t.Fatal(err)
	}
	if eax, _ := c.RegRead(cpu.X86_REG_EAX); eax != 2 {
		t.Fatalf("eax = %d", eax)
	}
	if len(seen) != 3 || seen[0] != 0x1000 {
		t.Fatalf("code hook saw %x", seen)
	}
	if !trig.Fired() || trig.Armed() {
		t.Fatal("trigger did not fire exactly once")
	}

	p := make([]byte, 2)
	if err := u.ReadWithPgd(0x1234, 0x1000, p); err != nil || p[0] != 0x40 {
		t.Fatalf("ReadWithPgd() = %x, %v", p, err)
	}
	if err := u.ReadWithPgd(0, 0x5000, p); !models.IsKind(err, models.ErrPageNotResident) {
		t.Fatalf("unmapped read returned %v", err)
	}
	if _, err := c.RegRead(cpu.X86_REG_XMM0); err == nil {
		t.Fatal("read xmm0 through unicorn")
	}
	if _, err := c.HookAdd(cpu.HOOK_CODE, func() {}, 1, 0); err == nil {
		t.Fatal("accepted a bad callback")
	}
}
