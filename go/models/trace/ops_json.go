package trace

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

type msp map[string]interface{}

func (a Address) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AddrReg:
		return json.Marshal(msp{"reg": a.Reg()})
	case AddrMem32, AddrMem64:
		return json.Marshal(msp{"mem": fmt.Sprintf("%#x", a.v)})
	}
	return []byte("null"), nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case Val32:
		return json.Marshal(v.Uint32())
	case Val64:
		return json.Marshal(v.Uint64())
	case Float80, Vec128:
		return json.Marshal(hex.EncodeToString(v.Bytes()))
	}
	return []byte("null"), nil
}

func (o *OperandVal) MarshalJSON() ([]byte, error) {
	m := msp{
		"type":   o.Type.String(),
		"access": o.Access.String(),
		"length": o.Length,
		"usage":  o.Usage.String(),
		"addr":   o.Addr,
		"value":  o.Value,
	}
	if o.Tainted != 0 {
		taint := make(map[int]interface{})
		for i := 0; i < o.span(); i++ {
			if o.taintedAt(i) {
				taint[i] = o.Records[i].Records()
			}
		}
		m["tainted"] = o.Tainted
		m["taint"] = taint
	}
	return json.Marshal(m)
}

func (o *Operand) MarshalJSON() ([]byte, error) {
	val, err := o.Val.MarshalJSON()
	if err != nil || o.Mem.Len() == 0 {
		return val, err
	}
	var m msp
	if err := json.Unmarshal(val, &m); err != nil {
		return nil, err
	}
	mem := msp{}
	for i := range o.Mem {
		if o.Mem[i].Type != OpNone {
			mem[o.Mem[i].Usage.String()] = &o.Mem[i]
		}
	}
	m["mem"] = mem
	return json.Marshal(m)
}

func (e *EntryHeader) MarshalJSON() ([]byte, error) {
	ops := make([]*Operand, e.Operands.Len())
	for i := range ops {
		ops[i] = e.Operands.At(i)
	}
	return json.Marshal(msp{
		"addr":     fmt.Sprintf("%#x", e.Address),
		"pid":      e.Pid,
		"tid":      e.Tid,
		"bytes":    hex.EncodeToString(e.RawBytes),
		"tp":       e.TP.String(),
		"df":       e.DF,
		"eflags":   e.Eflags,
		"cc_op":    e.CCOp,
		"operands": ops,
	})
}
