package trace

import "fmt"

// Stats are the running counters of a TraceWriter.
type Stats struct {
	Decoded        uint64 `json:"insn_decoded"`
	Written        uint64 `json:"insn_written"`
	WrittenTainted uint64 `json:"insn_written_tainted"`
	Operands       uint64 `json:"operands_decoded"`
}

func (s Stats) String() string {
	return fmt.Sprintf("Number of instructions decoded: %d\n"+
		"Number of operands decoded: %d\n"+
		"Number of instructions written to trace: %d\n"+
		"Number of tainted instructions written to trace: %d\n",
		s.Decoded, s.Operands, s.Written, s.WrittenTainted)
}
