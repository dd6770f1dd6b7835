package models

import (
	"io"
	"testing"

	"github.com/pkg/errors"
)

func TestWrapKind(t *testing.T) {
	err := Wrap(ErrWrite, io.ErrShortWrite, "writing entry")
	if !IsKind(err, ErrWrite) {
		t.Fatalf("IsKind(%v, ErrWrite) = false", err)
	}
	if IsKind(err, ErrSinkOpen) {
		t.Fatal("error matched the wrong kind")
	}
	if Underlying(err) != io.ErrShortWrite {
		t.Fatalf("Underlying() = %v", Underlying(err))
	}
	if !errors.Is(err, ErrWrite) {
		t.Fatal("errors.Is should see the sentinel")
	}
	if got := err.Error(); got != "writing entry: write failed: short write" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestWrapNoCause(t *testing.T) {
	err := Wrapf(ErrAddressSpaceNotFound, nil, "pid %d", 1234)
	if !IsKind(err, ErrAddressSpaceNotFound) || Underlying(err) != nil {
		t.Fatal("bad wrap without cause")
	}
	if got := err.Error(); got != "pid 1234: address space not found" {
		t.Fatalf("unexpected message %q", got)
	}
}
