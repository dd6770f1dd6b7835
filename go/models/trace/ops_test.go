package trace

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/lunixbochs/tfd/go/models/taint"
)

func taintRec(recs ...taint.ByteRecord) taint.Record {
	return taint.NewRecord(recs...)
}

// mov dword [ebx+esi*4+0x10], eax
func testEntry() *EntryHeader {
	e := &EntryHeader{
		Address:  0x401000,
		Pid:      1234,
		Tid:      1235,
		RawBytes: []byte{0x89, 0x44, 0xb3, 0x10},
		TP:       TP_MEMWRITE_INDEX,
		DF:       1,
		Eflags:   0x202,
		CCOp:     3,
	}
	dst := Operand{Val: OperandVal{
		Access: AccessWrite,
		Length: 4,
		Type:   OpMemLoc,
		Addr:   Mem32(0x7fff0010),
		Value:  NewVal32(0xdeadbeef),
	}}
	dst.Mem.Set(SlotSegment, OperandVal{Access: AccessRead, Length: 2, Type: OpRegister, Usage: UsageMemSegment, Addr: RegAddr(3), Value: NewVal32(0x23)})
	dst.Mem.Set(SlotBase, OperandVal{Access: AccessRead, Length: 4, Type: OpRegister, Usage: UsageMemBase, Addr: RegAddr(4), Value: NewVal32(0x7fff0000)})
	index := OperandVal{Access: AccessRead, Length: 4, Type: OpRegister, Usage: UsageMemIndex, Addr: RegAddr(7), Value: NewVal32(0)}
	index.SetTaint(0, taintRec(taint.ByteRecord{Source: taint.SourceNicIn, Origin: 10001, Offset: 40}))
	dst.Mem.Set(SlotIndex, index)
	dst.Mem.Set(SlotDisplacement, OperandVal{Length: 1, Type: OpImmediate, Usage: UsageMemDisplacement, Value: NewVal32(0x10)})
	dst.Mem.Set(SlotScale, OperandVal{Length: 1, Type: OpImmediate, Usage: UsageMemScale, Value: NewVal32(4)})
	e.Operands.Add(dst)

	src := Operand{Val: OperandVal{
		Access: AccessRead,
		Length: 4,
		Type:   OpRegister,
		Addr:   RegAddr(1),
		Value:  NewVal32(0xdeadbeef),
	}}
	src.Val.SetTaint(2, taintRec(
		taint.ByteRecord{Source: taint.SourceNicIn, Origin: 10001, Offset: 40},
		taint.ByteRecord{Source: taint.SourceHookApi, Origin: 0, Offset: 0},
	))
	e.Operands.Add(src)

	e.Operands.Add(Operand{Val: OperandVal{
		Access: AccessRead,
		Length: 10,
		Type:   OpFloatRegister,
		Addr:   RegAddr(188),
		Value:  NewFloat80([10]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}),
	}})
	e.Operands.Add(Operand{Val: OperandVal{
		Access: AccessReadWrite,
		Length: 16,
		Type:   OpXMMRegister,
		Addr:   RegAddr(172),
		Value:  NewVec128([16]byte{15: 0xff}),
	}})
	e.Operands.Add(Operand{Val: OperandVal{
		Access: AccessRead,
		Length: 8,
		Type:   OpMemLoc64,
		Addr:   Mem64(0x1_0000_2000),
		Value:  NewVal64(0x1122334455667788),
	}})
	return e
}

func roundTrip(t *testing.T, e *EntryHeader) *EntryHeader {
	buf := make([]byte, e.Sizeof())
	if n := e.Pack(buf); n != len(buf) {
		t.Fatalf("Pack() wrote %d bytes, Sizeof() said %d", n, len(buf))
	}
	out := &EntryHeader{}
	n, err := out.Unpack(bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) {
		t.Fatalf("Unpack() read %d bytes of %d", n, len(buf))
	}
	return out
}

func TestEntryRoundTrip(t *testing.T) {
	e := testEntry()
	out := roundTrip(t, e)
	if !reflect.DeepEqual(e, out) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", e, out)
	}
	if !out.IsTainted() {
		t.Fatal("decoded entry lost its taint")
	}
	rec := out.Operands.At(1).Val.Records[2]
	if rec.Len() != 2 || rec.At(0).Origin != 10001 || rec.At(0).Offset != 40 || rec.At(1).Source != taint.SourceHookApi {
		t.Fatalf("decoded taint record %v", rec)
	}
}

func TestEntryOperandCounts(t *testing.T) {
	for _, count := range []int{0, 1, MAX_NUM_OPERANDS} {
		e := &EntryHeader{Address: 0x1000, RawBytes: []byte{0x90}}
		for i := 0; i < count; i++ {
			op := Operand{Val: OperandVal{Access: AccessRead, Length: 4, Type: OpRegister, Addr: RegAddr(uint8(i)), Value: NewVal32(uint32(i))}}
			for s := 0; s < i%(MAX_NUM_MEMREGS+1); s++ {
				op.Mem.Set(Slot(s), OperandVal{Length: 4, Type: OpRegister, Usage: UsageMemBase, Addr: RegAddr(uint8(s)), Value: NewVal32(1)})
			}
			if _, err := e.Operands.Add(op); err != nil {
				t.Fatal(err)
			}
		}
		out := roundTrip(t, e)
		if !reflect.DeepEqual(e, out) {
			t.Fatalf("round trip mismatch with %d operands", count)
		}
		// every operand carries exactly 7 component records
		want := entryFixedSize + 1 + count*(1+MAX_NUM_MEMREGS)*operandFixedSize
		if e.Sizeof() != want {
			t.Fatalf("%d operands: Sizeof() = %d, want %d", count, e.Sizeof(), want)
		}
	}
	e := &EntryHeader{}
	for i := 0; i < MAX_NUM_OPERANDS; i++ {
		e.Operands.Add(Operand{})
	}
	if _, err := e.Operands.Add(Operand{}); err != ErrTooManyOperands {
		t.Fatalf("31st operand: %v", err)
	}
}

func TestEspNotSerialized(t *testing.T) {
	e := testEntry()
	e.Esp = OperandVal{Access: AccessRead, Length: 4, Type: OpRegister, Usage: UsageEsp, Addr: RegAddr(5), Value: NewVal32(0x7fff0000)}
	size := e.Sizeof()
	e.Esp = OperandVal{}
	if size != e.Sizeof() {
		t.Fatal("stack pointer pseudo-operand changed the entry size")
	}
	out := roundTrip(t, testEntry())
	if out.Operands.Len() != 5 || out.Esp.Type != OpNone {
		t.Fatalf("decoded %d operands, esp %+v", out.Operands.Len(), out.Esp)
	}
}

func TestValueVariants(t *testing.T) {
	tests := []struct {
		typ    OpType
		length uint8
		kind   ValueKind
	}{
		{OpImmediate, 0, NoValue},
		{OpImmediate, 1, Val32},
		{OpRegister, 4, Val32},
		{OpMemLoc, 8, Val64},
		{OpMemLoc, 10, Float80},
		{OpFloatRegister, 8, Float80},
		{OpXMMRegister, 16, Vec128},
		{OpMemLoc, 12, Vec128},
	}
	raw := bytes.Repeat([]byte{0xaa}, 16)
	for _, test := range tests {
		v := ValueOf(test.typ, test.length, raw)
		if v.Kind != test.kind {
			t.Errorf("ValueOf(%s, %d) kind %d, want %d", test.typ, test.length, v.Kind, test.kind)
		}
		if len(v.Bytes()) != valueWidth[test.kind] {
			t.Errorf("ValueOf(%s, %d) kept %d bytes", test.typ, test.length, len(v.Bytes()))
		}
	}
	for typ, kind := range map[OpType]AddrKind{
		OpRegister:             AddrReg,
		OpFloatControlRegister: AddrReg,
		OpMemLoc:               AddrMem32,
		OpMemAddress:           AddrMem32,
		OpMemLoc64:             AddrMem64,
		OpImmediate:            NoAddr,
		OpJump:                 NoAddr,
		OpDisplacement:         NoAddr,
	} {
		if a := decodeAddress(typ, 0x1_2345_6789); a.Kind != kind {
			t.Errorf("decodeAddress(%s) kind %d, want %d", typ, a.Kind, kind)
		}
	}
	if a := decodeAddress(OpMemLoc, 0x1_2345_6789); a.Raw() != 0x23456789 {
		t.Errorf("Mem32 kept %#x", a.Raw())
	}
}

func TestUnpackRejectsBadCounts(t *testing.T) {
	e := &EntryHeader{Address: 0x1000}
	e.Operands.Add(Operand{Val: OperandVal{Length: 1, Type: OpRegister}})
	e.Operands.At(0).Val.SetTaint(0, taintRec(taint.ByteRecord{}))
	buf := make([]byte, e.Sizeof())
	e.Pack(buf)
	// the taint record count follows the fixed entry and operand parts
	buf[entryFixedSize+operandFixedSize] = 4
	if _, err := (&EntryHeader{}).Unpack(bytes.NewReader(buf)); err == nil {
		t.Fatal("accepted a taint record with 4 entries")
	}
	buf[13] = MAX_NUM_OPERANDS + 1
	if _, err := (&EntryHeader{}).Unpack(bytes.NewReader(buf)); err == nil {
		t.Fatal("accepted 31 operands")
	}
}

func TestEntryJSON(t *testing.T) {
	data, err := json.Marshal(testEntry())
	if err != nil {
		t.Fatal(err)
	}
	var dict map[string]interface{}
	if err := json.Unmarshal(data, &dict); err != nil {
		t.Fatal(err)
	}
	if dict["tp"] != "memwrite_index" || dict["addr"] != "0x401000" {
		t.Fatalf("unexpected json %s", data)
	}
	ops := dict["operands"].([]interface{})
	if len(ops) != 5 {
		t.Fatalf("json has %d operands", len(ops))
	}
	mem := ops[0].(map[string]interface{})["mem"].(map[string]interface{})
	if _, ok := mem["memindex"]; !ok {
		t.Fatalf("memory operand json missing index: %s", data)
	}
}

func BenchmarkPack(b *testing.B) {
	e := testEntry()
	for i := 0; i < b.N; i++ {
		tmp := make([]byte, e.Sizeof())
		e.Pack(tmp)
	}
}

func BenchmarkUnpack(b *testing.B) {
	e := testEntry()
	tmp := make([]byte, e.Sizeof())
	e.Pack(tmp)
	r := bytes.NewReader(tmp)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Seek(0, 0)
		if _, err := (&EntryHeader{}).Unpack(r); err != nil {
			b.Fatal(err)
		}
	}
}
