package cpu

// x86 register enums. Operand records store these in a single byte, so they must stay below 256.
const (
	X86_REG_INVALID = iota
	X86_REG_EAX
	X86_REG_ECX
	X86_REG_EDX
	X86_REG_EBX
	X86_REG_ESP
	X86_REG_EBP
	X86_REG_ESI
	X86_REG_EDI
	X86_REG_EIP
	X86_REG_EFLAGS

	X86_REG_ES
	X86_REG_CS
	X86_REG_SS
	X86_REG_DS
	X86_REG_FS
	X86_REG_GS

	X86_REG_CR0
	X86_REG_CR3
	// emulator condition-code operation selector (QEMU CC_OP)
	X86_REG_CC_OP
	X86_REG_FPCW

	X86_REG_MM0
	X86_REG_MM1
	X86_REG_MM2
	X86_REG_MM3
	X86_REG_MM4
	X86_REG_MM5
	X86_REG_MM6
	X86_REG_MM7

	X86_REG_XMM0
	X86_REG_XMM1
	X86_REG_XMM2
	X86_REG_XMM3
	X86_REG_XMM4
	X86_REG_XMM5
	X86_REG_XMM6
	X86_REG_XMM7

	X86_REG_ST0
	X86_REG_ST1
	X86_REG_ST2
	X86_REG_ST3
	X86_REG_ST4
	X86_REG_ST5
	X86_REG_ST6
	X86_REG_ST7

	X86_REG_ENDING
)

// EFLAGS bits the capture cares about
const (
	X86_EFLAGS_DF = 1 << 10
)

var X86RegNames = map[int]string{
	X86_REG_EAX:    "eax",
	X86_REG_ECX:    "ecx",
	X86_REG_EDX:    "edx",
	X86_REG_EBX:    "ebx",
	X86_REG_ESP:    "esp",
	X86_REG_EBP:    "ebp",
	X86_REG_ESI:    "esi",
	X86_REG_EDI:    "edi",
	X86_REG_EIP:    "eip",
	X86_REG_EFLAGS: "eflags",

	X86_REG_ES: "es",
	X86_REG_CS: "cs",
	X86_REG_SS: "ss",
	X86_REG_DS: "ds",
	X86_REG_FS: "fs",
	X86_REG_GS: "gs",

	X86_REG_CR0:   "cr0",
	X86_REG_CR3:   "cr3",
	X86_REG_CC_OP: "cc_op",
	X86_REG_FPCW:  "fpcw",
}

func init() {
	for i := 0; i < 8; i++ {
		X86RegNames[X86_REG_MM0+i] = "mm" + string(rune('0'+i))
		X86RegNames[X86_REG_XMM0+i] = "xmm" + string(rune('0'+i))
		X86RegNames[X86_REG_ST0+i] = "st" + string(rune('0'+i))
	}
}

// X86Regs lists every x86 register enum, in enum order.
func X86Regs() []int {
	enums := make([]int, 0, X86_REG_ENDING-1)
	for i := X86_REG_EAX; i < X86_REG_ENDING; i++ {
		enums = append(enums, i)
	}
	return enums
}

// X86RegWidth returns a register's width in bytes.
func X86RegWidth(reg int) int {
	switch {
	case reg >= X86_REG_ES && reg <= X86_REG_GS, reg == X86_REG_FPCW:
		return 2
	case reg >= X86_REG_MM0 && reg <= X86_REG_MM7:
		return 8
	case reg >= X86_REG_XMM0 && reg <= X86_REG_XMM7:
		return 16
	case reg >= X86_REG_ST0 && reg <= X86_REG_ST7:
		return 10
	}
	return 4
}
