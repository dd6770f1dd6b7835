package state

import (
	"bufio"
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/lunixbochs/tfd/go/models"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type Page struct {
	Range
	Data []byte
}

type Reader struct {
	r    io.Reader
	zr   *zstd.Decoder
	Regs *Regs
}

// NewReader checks the snapshot header. The register block is not
// self-describing, so the caller says whether the snapshot has one.
func NewReader(r io.Reader, withRegs bool) (*Reader, error) {
	br := bufio.NewReader(r)
	sr := &Reader{r: br}
	if magic, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(magic, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create zstd decoder")
		}
		sr.zr, sr.r = zr, zr
	}
	s := &models.StrucStream{R: sr.r, Order: order}
	var hdr Header
	if err := s.Unpack(&hdr); err != nil {
		sr.Close()
		return nil, models.Wrap(models.ErrTruncated, err, "reading snapshot header")
	}
	if hdr.Magic != STATE_MAGIC_NUMBER {
		sr.Close()
		return nil, errors.Errorf("invalid snapshot magic %#x", hdr.Magic)
	}
	if hdr.Version != STATE_VERSION_NUMBER {
		sr.Close()
		return nil, errors.Errorf("unsupported snapshot version %d", hdr.Version)
	}
	if withRegs {
		sr.Regs = &Regs{}
		if err := s.Unpack(sr.Regs); err != nil {
			sr.Close()
			return nil, models.Wrap(models.ErrTruncated, err, "reading registers")
		}
	}
	return sr, nil
}

// Next returns the next saved page, or io.EOF after the last one.
func (r *Reader) Next() (*Page, error) {
	var tmp [rangeSize]byte
	if n, err := io.ReadFull(r.r, tmp[:]); err == io.EOF && n == 0 {
		return nil, io.EOF
	} else if err != nil {
		return nil, models.Wrap(models.ErrTruncated, err, "reading page range")
	}
	p := &Page{Range: Range{order.Uint32(tmp[:]), order.Uint32(tmp[4:])}}
	if p.End < p.Begin || p.End-p.Begin+1 != STATE_PAGE_SIZE {
		return nil, errors.Errorf("bad page range %#x-%#x", p.Begin, p.End)
	}
	p.Data = make([]byte, STATE_PAGE_SIZE)
	if _, err := io.ReadFull(r.r, p.Data); err != nil {
		return nil, models.Wrapf(models.ErrTruncated, err, "reading page %#x", p.Begin)
	}
	return p, nil
}

func (r *Reader) Close() {
	if r.zr != nil {
		r.zr.Close()
	}
}
