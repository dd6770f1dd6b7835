// Package taint describes where tainted bytes came from.
//
// A tainted byte carries up to MaxRecords provenance entries, each naming a
// source kind, an origin (which flow, file or module of that kind) and the
// byte offset inside the originating buffer.
package taint

import "fmt"

// Source is the kind of input a tainted byte came from.
type Source uint32

const (
	SourceNicIn Source = iota
	SourceKeyboardIn
	SourceFileIn
	SourceNetworkOut
	SourceApiTimeIn
	SourceApiFileIn
	SourceApiRegistryIn
	SourceApiHostnameIn
	SourceApiFileInfoIn
	SourceApiSockInfoIn
	SourceApiStrIn
	SourceApiSysIn
	SourceHookApi
	SourceModule
)

var sourceNames = []string{
	"nic_in", "keyboard_in", "file_in", "network_out",
	"api_time_in", "api_file_in", "api_registry_in", "api_hostname_in",
	"api_file_info_in", "api_sock_info_in", "api_str_in", "api_sys_in",
	"hookapi", "module",
}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return fmt.Sprintf("source(%d)", uint32(s))
}

// Origin ranges. Network flows and injected modules get ids counted up from these bases.
const (
	OriginStartTcpNicIn = 10000
	OriginStartUdpNicIn = 11000
	OriginModule        = 20000
)

// OriginKind classifies an origin id by its reserved range.
func OriginKind(origin uint32) string {
	switch {
	case origin >= OriginModule:
		return "module"
	case origin >= OriginStartUdpNicIn:
		return "udp"
	case origin >= OriginStartTcpNicIn:
		return "tcp"
	}
	return "other"
}

// ByteRecord is one provenance entry.
type ByteRecord struct {
	Source Source `json:"source"`
	Origin uint32 `json:"origin"`
	Offset uint32 `json:"offset"`
}

func (b ByteRecord) String() string {
	return fmt.Sprintf("%s:%d@%d", b.Source, b.Origin, b.Offset)
}

// MaxRecords is the most provenance entries one byte can carry.
const MaxRecords = 3

// Record is the provenance of a single byte: a count plus fixed storage.
// Only the first Len() entries mean anything.
type Record struct {
	n    uint8
	recs [MaxRecords]ByteRecord
}

// NewRecord keeps the last MaxRecords entries of recs.
func NewRecord(recs ...ByteRecord) Record {
	var r Record
	if len(recs) > MaxRecords {
		recs = recs[len(recs)-MaxRecords:]
	}
	r.n = uint8(copy(r.recs[:], recs))
	return r
}

func (r *Record) Len() int { return int(r.n) }

func (r *Record) At(i int) ByteRecord {
	if i < 0 || i >= int(r.n) {
		panic(fmt.Sprintf("taint record index %d out of range [0:%d]", i, r.n))
	}
	return r.recs[i]
}

// Records returns a copy of the meaningful entries.
func (r *Record) Records() []ByteRecord {
	return append([]ByteRecord(nil), r.recs[:r.n]...)
}

// Add appends an entry. When the record is full the oldest entry is dropped,
// so the record always holds the most recent provenance.
func (r *Record) Add(b ByteRecord) {
	if int(r.n) < MaxRecords {
		r.recs[r.n] = b
		r.n++
		return
	}
	copy(r.recs[:], r.recs[1:])
	r.recs[MaxRecords-1] = b
}

func (r *Record) Tainted() bool { return r.n > 0 }

func (r Record) String() string {
	return fmt.Sprintf("%v", r.recs[:r.n])
}
