package state

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/lunixbochs/tfd/go/models"
	"github.com/lunixbochs/tfd/go/models/cpu"
	"github.com/lunixbochs/tfd/go/models/vmi"
)

// Stats describe one finished snapshot.
type Stats struct {
	Pages   int
	Skipped int
}

// Save writes a snapshot of the address space rooted at pgd to w. Registers
// come from c and are only needed when config.SaveRegisters is set. Pages
// that fail to read are skipped. Save does not close w.
func Save(w io.Writer, c cpu.Cpu, mem vmi.PageReader, pgd uint64, config *models.StateConfig) (stats Stats, err error) {
	if config == nil {
		config = &models.StateConfig{SaveRegisters: true, KernelBase: models.DefaultKernelBase}
	}
	out := w
	var zw *zstd.Encoder
	if config.Compress {
		if zw, err = zstd.NewWriter(w); err != nil {
			return stats, errors.Wrap(err, "failed to create zstd encoder")
		}
		out = zw
		// success closes it below
		defer func() {
			if err != nil {
				zw.Close()
			}
		}()
	}
	s := &models.StrucStream{W: out, Order: order}
	if err := s.Pack(&Header{STATE_MAGIC_NUMBER, STATE_VERSION_NUMBER}); err != nil {
		return stats, models.Wrap(models.ErrWrite, err, "writing snapshot header")
	}
	if config.SaveRegisters {
		regs, err := ReadRegs(c)
		if err != nil {
			return stats, err
		}
		if err := s.Pack(regs); err != nil {
			return stats, models.Wrap(models.ErrWrite, err, "writing registers")
		}
	}

	kernelBase := config.KernelBase
	if kernelBase == 0 {
		kernelBase = models.DefaultKernelBase
	}
	stop := uint64(StopAddr(config.SaveKernelMem, kernelBase))
	buf := make([]byte, rangeSize+STATE_PAGE_SIZE)
	page := buf[rangeSize:]
	for addr := uint64(0); addr <= stop; addr += STATE_PAGE_SIZE {
		if err := mem.ReadWithPgd(pgd, addr, page); err != nil {
			stats.Skipped++
			continue
		}
		order.PutUint32(buf, uint32(addr))
		order.PutUint32(buf[4:], uint32(addr+STATE_PAGE_SIZE-1))
		if _, err := out.Write(buf); err != nil {
			return stats, models.Wrapf(models.ErrWrite, err, "writing page %#x", addr)
		}
		stats.Pages++
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return stats, models.Wrap(models.ErrWrite, err, "flushing zstd stream")
		}
	}
	return stats, nil
}
