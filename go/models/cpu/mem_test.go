package cpu

import (
	"bytes"
	"encoding/binary"
	"testing"
)

var asdf = []byte("asdf")

func TestMemRange(t *testing.T) {
	mem := NewMem(16, binary.LittleEndian)
	if err := mem.MemMapProt(0xf000, 0x1000, 0); err != nil {
		t.Fatal("failed to map memory:", err)
	}
	if err := mem.MemMapProt(0xf800, 0x1000, 0); err == nil {
		t.Fatal("mapped memory outside range")
	}
	if err := mem.MemMapProt(0x1000, 0, 0); err == nil {
		t.Fatal("mapped an empty region")
	}
	if err := mem.MemWrite(0xe000, asdf); err == nil {
		t.Error("write succeeded below mapped memory")
	}
}

func TestMem32Top(t *testing.T) {
	mem := NewMem(32, binary.LittleEndian)
	if err := mem.MemMapProt(0xfffff000, 0x1000, PROT_READ); err != nil {
		t.Fatal("failed to map top page:", err)
	}
	if err := mem.MemMapProt(0xfffff000, 0x2000, PROT_READ); err == nil {
		t.Fatal("mapped memory past 4G")
	}
}

func TestMem(t *testing.T) {
	mappings := [][]uint64{
		{0x1000, 0x1000, PROT_READ | PROT_WRITE | PROT_EXEC},
		{0x2000, 0x1000, PROT_READ},
		{0x3000, 0x1000, PROT_READ | PROT_WRITE},
		{0x4000, 0x1000, PROT_READ | PROT_EXEC},
		{0x5000, 0x1000, PROT_EXEC},
	}

	mem := NewMem(16, binary.LittleEndian)
	for _, v := range mappings {
		if err := mem.MemMapProt(v[0], v[1], int(v[2])); err != nil {
			t.Fatalf("failed to map memory (%#x, %#x, %d): %v", v[0], v[1], v[2], err)
		}
	}
	// write outside bounds
	if err := mem.MemWrite(0, asdf); err == nil {
		t.Error("write succeeded below mapped memory")
	}
	if err := mem.MemWrite(0x6000, asdf); err == nil {
		t.Error("write succeeded above mapped memory")
	}
	// write inside bounds
	for _, v := range mappings {
		if err := mem.MemWrite(v[0], asdf); err != nil {
			t.Error("write failed inside mapped memory")
		}
	}
	// try to read our asdf from each readable mapping
	for _, v := range mappings {
		tmp, err := mem.MemRead(v[0], uint64(len(asdf)))
		if v[2]&PROT_READ == 0 {
			if err == nil {
				t.Errorf("read succeeded on unreadable mapping %#x", v[0])
			}
			continue
		}
		if err != nil {
			t.Error("read failed inside mapped memory")
		} else if !bytes.Equal(tmp, asdf) {
			t.Error("read returned bad value")
		}
	}
	if err := mem.MemPageOut(0x2000, 0x1000); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.MemRead(0x2000, 4); err == nil {
		t.Error("read succeeded on paged out memory")
	}
	if err := mem.MemPageIn(0x2000, 0x1000); err != nil {
		t.Fatal(err)
	}
	if tmp, err := mem.MemRead(0x2000, 4); err != nil || !bytes.Equal(tmp, asdf) {
		t.Error("paged in memory lost its contents")
	}
	if err := mem.MemPageOut(0x8000, 0x1000); err == nil {
		t.Error("paged out unmapped memory")
	}
	if len(mem.Mappings()) != len(mappings) {
		t.Errorf("Mappings() returned %d regions, expecting %d", len(mem.Mappings()), len(mappings))
	}
}

func TestMemFaultHook(t *testing.T) {
	mem, h := makeHooks()
	var faults []uint64
	if _, err := h.HookAdd(HOOK_MEM_ERR, func(_ Cpu, access int, addr uint64, size int, val int64) bool {
		faults = append(faults, addr)
		return false
	}, 1, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.MemRead(0x1000, 4); err == nil {
		t.Fatal("read of unmapped memory succeeded")
	}
	if len(faults) != 1 || faults[0] != 0x1000 {
		t.Fatalf("fault hook saw %v", faults)
	}
}

func TestMemUint(t *testing.T) {
	rawtest := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	ltable := map[int]uint64{
		1: 0x1,
		2: 0x0201,
		4: 0x04030201,
		8: 0x0807060504030201,
	}
	btable := map[int]uint64{
		1: 0x1,
		2: 0x0102,
		4: 0x01020304,
		8: 0x0102030405060708,
	}

	meml := NewMem(32, binary.LittleEndian)
	memb := NewMem(32, binary.BigEndian)

	if err := meml.MemMapProt(0x1000, 0x1000, PROT_READ|PROT_WRITE); err != nil {
		t.Fatal("failed to map memory:", err)
	}
	if err := memb.MemMapProt(0x1000, 0x1000, PROT_READ|PROT_WRITE); err != nil {
		t.Fatal("failed to map memory:", err)
	}
	if err := meml.MemWrite(0x1000, rawtest); err != nil {
		t.Error("failed to write memory:", err)
	}
	if err := memb.MemWrite(0x1000, rawtest); err != nil {
		t.Error("failed to write memory:", err)
	}
	// test reading canned values
	for size, val := range ltable {
		if n, err := meml.ReadUint(0x1000, size); err != nil {
			t.Error("failed to read uint:", err)
		} else if n != val {
			t.Error("inconsistent uint value:", n, val)
		}
	}
	for size, val := range btable {
		if n, err := memb.ReadUint(0x1000, size); err != nil {
			t.Error("failed to read uint:", err)
		} else if n != val {
			t.Error("inconsistent uint value:", n, val)
		}
	}
	// test writing, then reading canned values
	for size, val := range ltable {
		if err := meml.WriteUint(0x1000, size, val); err != nil {
			t.Error("failed to write uint:", err)
		}
		if n, err := meml.ReadUint(0x1000, size); err != nil {
			t.Error("failed to read uint:", err)
		} else if n != val {
			t.Error("inconsistent uint value:", n, val)
		}
	}
}
