package trace

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/lunixbochs/tfd/go/models"
)

type TraceHeader struct {
	Magic   uint32 `json:"-"`
	Version uint32 `json:"version"`
	NProcs  int32  `json:"-"`
	GdtBase uint32 `json:"gdt_base"`
	IdtBase uint32 `json:"idt_base"`
}

type ProcRecord struct {
	// right-null-padded, truncated to MAX_STRING_LEN
	Name    string `struc:"[32]byte" json:"name"`
	Pid     uint32 `json:"pid"`
	NMods   int32  `json:"-"`
	LdtBase uint32 `json:"ldt_base"`
}

type ModuleRecord struct {
	Name string `struc:"[32]byte" json:"name"`
	Base uint32 `json:"base"`
	Size uint32 `json:"size"`
}

// Process is a process table entry and its loaded modules.
type Process struct {
	ProcRecord
	Modules []ModuleRecord `json:"modules"`
}

func fixedName(s string) string {
	if len(s) > MAX_STRING_LEN {
		return s[:MAX_STRING_LEN]
	}
	return s
}

// snappy stream identifier chunk
var snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")

type TraceWriter struct {
	w      io.WriteCloser
	zw     *snappy.Writer
	bw     *bufio.Writer
	config *models.TraceConfig
	stats  Stats
	closed bool
}

// NewWriter writes the trace header and process table to w. Entries follow
// with Append. The writer owns w and closes it on Close.
func NewWriter(w io.WriteCloser, hdr TraceHeader, procs []Process, config *models.TraceConfig) (*TraceWriter, error) {
	if config == nil {
		config = &models.TraceConfig{}
	}
	t := &TraceWriter{w: w, config: config}
	var out io.Writer = w
	if config.Compress {
		t.zw = snappy.NewBufferedWriter(w)
		out = t.zw
	} else {
		t.bw = bufio.NewWriterSize(w, 1<<20)
		out = t.bw
	}
	hdr.Magic = MAGIC_NUMBER
	hdr.Version = VERSION_NUMBER
	hdr.NProcs = int32(len(procs))
	s := &models.StrucStream{W: out, Order: order}
	if err := s.Pack(&hdr); err != nil {
		return nil, models.Wrap(models.ErrWrite, err, "packing trace header")
	}
	for _, p := range procs {
		rec := p.ProcRecord
		rec.Name = fixedName(rec.Name)
		rec.NMods = int32(len(p.Modules))
		if err := s.Pack(&rec); err != nil {
			return nil, models.Wrapf(models.ErrWrite, err, "packing process %d", rec.Pid)
		}
		for _, m := range p.Modules {
			m.Name = fixedName(m.Name)
			if err := s.Pack(&m); err != nil {
				return nil, models.Wrapf(models.ErrWrite, err, "packing module %s", m.Name)
			}
		}
	}
	return t, nil
}

func (t *TraceWriter) out() io.Writer {
	if t.zw != nil {
		return t.zw
	}
	return t.bw
}

// Append records one decoded instruction. It is always counted as decoded,
// and written only if the trace config accepts its pid and tid.
// Returns the number of bytes written.
func (t *TraceWriter) Append(e *EntryHeader) (int, error) {
	if t.closed {
		return 0, models.Wrap(models.ErrWrite, errors.New("trace is closed"), "appending entry")
	}
	if err := e.Validate(); err != nil {
		return 0, err
	}
	t.stats.Decoded++
	t.stats.Operands += uint64(e.Operands.Len())
	if !t.config.Accept(e.Pid, e.Tid) {
		return 0, nil
	}
	buf := make([]byte, e.Sizeof())
	e.Pack(buf)
	n, err := t.out().Write(buf)
	if err != nil {
		return n, models.Wrapf(models.ErrWrite, err, "writing entry at %#x", e.Address)
	}
	t.stats.Written++
	if e.IsTainted() {
		t.stats.WrittenTainted++
	}
	return n, nil
}

func (t *TraceWriter) Stats() Stats { return t.stats }
func (t *TraceWriter) ClearStats()  { t.stats = Stats{} }

// Close writes the trailer, flushes and closes the sink. Closing twice is a no-op.
func (t *TraceWriter) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	var tmp [8]byte
	order.PutUint32(tmp[:], TRAILER_BEGIN)
	order.PutUint32(tmp[4:], TRAILER_END)
	_, err := t.out().Write(tmp[:])
	if err == nil {
		if t.zw != nil {
			err = t.zw.Close()
		} else {
			err = t.bw.Flush()
		}
	}
	if cerr := t.w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return models.Wrap(models.ErrWrite, err, "closing trace")
	}
	return nil
}

type TraceReader struct {
	r      io.Reader
	Header TraceHeader
	Procs  []Process
	done   bool
}

// NewReader decodes the trace header and process table. Snappy-framed traces
// are detected and decoded transparently.
func NewReader(r io.Reader) (*TraceReader, error) {
	br := bufio.NewReader(r)
	var in io.Reader = br
	if magic, err := br.Peek(len(snappyMagic)); err == nil && bytes.Equal(magic, snappyMagic) {
		in = snappy.NewReader(br)
	}
	t := &TraceReader{r: in}
	s := &models.StrucStream{R: in, Order: order}
	if err := s.Unpack(&t.Header); err != nil {
		return nil, models.Wrap(models.ErrTruncated, err, "unpacking trace header")
	}
	if t.Header.Magic != MAGIC_NUMBER {
		return nil, errors.Errorf("invalid trace file magic %#x", t.Header.Magic)
	}
	if t.Header.Version != VERSION_NUMBER {
		return nil, errors.Errorf("unsupported trace version %d", t.Header.Version)
	}
	if t.Header.NProcs < 0 {
		return nil, errors.Errorf("invalid process count %d", t.Header.NProcs)
	}
	for i := int32(0); i < t.Header.NProcs; i++ {
		var p Process
		if err := s.Unpack(&p.ProcRecord); err != nil {
			return nil, models.Wrapf(models.ErrTruncated, err, "unpacking process %d", i)
		}
		p.Name = strings.TrimRight(p.Name, "\x00")
		if p.NMods < 0 {
			return nil, errors.Errorf("process %d has invalid module count %d", p.Pid, p.NMods)
		}
		for j := int32(0); j < p.NMods; j++ {
			var m ModuleRecord
			if err := s.Unpack(&m); err != nil {
				return nil, models.Wrapf(models.ErrTruncated, err, "unpacking module %d of process %d", j, p.Pid)
			}
			m.Name = strings.TrimRight(m.Name, "\x00")
			p.Modules = append(p.Modules, m)
		}
		t.Procs = append(t.Procs, p)
	}
	return t, nil
}

// Next returns the next entry, or io.EOF once the trailer has been read.
// A missing or damaged trailer is reported as models.ErrTruncated.
func (t *TraceReader) Next() (*EntryHeader, error) {
	if t.done {
		return nil, io.EOF
	}
	var tmp [4]byte
	if _, err := io.ReadFull(t.r, tmp[:]); err != nil {
		return nil, models.Wrap(models.ErrTruncated, err, "reading entry")
	}
	addr := order.Uint32(tmp[:])
	if addr == TRAILER_BEGIN {
		if _, err := io.ReadFull(t.r, tmp[:]); err != nil {
			return nil, models.Wrap(models.ErrTruncated, err, "reading trailer")
		}
		if end := order.Uint32(tmp[:]); end != TRAILER_END {
			return nil, models.Wrapf(models.ErrTruncated, nil, "bad trailer end %#x", end)
		}
		t.done = true
		return nil, io.EOF
	}
	e := &EntryHeader{}
	if _, err := e.unpackAfter(addr, t.r); err != nil {
		cause := errors.Cause(err)
		if cause == io.EOF || cause == io.ErrUnexpectedEOF {
			return nil, models.Wrapf(models.ErrTruncated, err, "entry at %#x", addr)
		}
		return nil, errors.Wrapf(err, "entry at %#x", addr)
	}
	return e, nil
}

// ReadAll drains the reader.
func (t *TraceReader) ReadAll() ([]*EntryHeader, error) {
	var ret []*EntryHeader
	for {
		e, err := t.Next()
		if err == io.EOF {
			return ret, nil
		} else if err != nil {
			return ret, err
		}
		ret = append(ret, e)
	}
}
