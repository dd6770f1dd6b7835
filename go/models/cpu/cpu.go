package cpu

type Hook interface{}

// This interface abstracts the minimum functionality a capture needs from a CPU emulator.
type Cpu interface {
	// register IO
	RegRead(reg int) (uint64, error)

	// memory IO in the currently active address space
	MemReadInto(p []byte, addr uint64) error

	// hooks
	HookAdd(htype int, cb interface{}, begin, end uint64, extra ...int) (Hook, error)
	HookDel(hook Hook) error
}

// Optional interface for registers wider than 64 bits (xmm, x87).
// p is filled little-endian, len(p) bytes.
type WideRegReader interface {
	RegReadInto(p []byte, reg int) error
}
