package models

import (
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"
)

// StrucStream packs or unpacks a run of structs with a fixed byte order.
// Either side may be nil if the stream only goes one way.
type StrucStream struct {
	W     io.Writer
	R     io.Reader
	Order binary.ByteOrder
}

func (s *StrucStream) Pack(vals ...interface{}) error {
	for _, v := range vals {
		if err := struc.PackWithOrder(s.W, v, s.Order); err != nil {
			return err
		}
	}
	return nil
}

func (s *StrucStream) Unpack(vals ...interface{}) error {
	for _, v := range vals {
		if err := struc.UnpackWithOrder(s.R, v, s.Order); err != nil {
			return err
		}
	}
	return nil
}

// Sizeof returns the packed size of a struct.
func Sizeof(v interface{}) int {
	n, err := struc.Sizeof(v)
	if err != nil {
		panic(err)
	}
	return n
}
