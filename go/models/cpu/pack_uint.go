package cpu

import (
	"encoding/binary"
	"github.com/pkg/errors"
)

// PackUint writes the low size bytes of n. Any size from 1 to 8 works,
// so odd widths like 6-byte far pointers pack correctly.
func PackUint(order binary.ByteOrder, size int, buf []byte, n uint64) ([]byte, error) {
	if size < 1 || size > 8 {
		return nil, errors.Errorf("unsupported uint size: %d", size)
	}
	if buf == nil {
		buf = make([]byte, size)
	} else if len(buf) < size {
		return nil, errors.Errorf("buffer too small (%d < %d)", len(buf), size)
	}
	big := order == binary.BigEndian
	for i := 0; i < size; i++ {
		b := byte(n >> (8 * uint(i)))
		if big {
			buf[size-1-i] = b
		} else {
			buf[i] = b
		}
	}
	return buf[:size], nil
}

func UnpackUint(order binary.ByteOrder, size int, buf []byte) (uint64, error) {
	if size < 1 || size > 8 {
		return 0, errors.Errorf("unsupported uint size: %d", size)
	}
	if len(buf) < size {
		return 0, errors.Errorf("buffer too small (%d < %d)", len(buf), size)
	}
	big := order == binary.BigEndian
	var n uint64
	for i := 0; i < size; i++ {
		var b byte
		if big {
			b = buf[size-1-i]
		} else {
			b = buf[i]
		}
		n |= uint64(b) << (8 * uint(i))
	}
	return n, nil
}

// MaskUint truncates n to size bytes.
func MaskUint(size int, n uint64) uint64 {
	if size >= 8 {
		return n
	}
	return n & (1<<(8*uint(size)) - 1)
}
