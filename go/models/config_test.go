package models

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestConfigDefaults(t *testing.T) {
	c := NewConfig()
	if c.State.KernelBase != DefaultKernelBase {
		t.Fatalf("KernelBase = %#x, expecting %#x", c.State.KernelBase, DefaultKernelBase)
	}
	if !c.State.SaveRegisters {
		t.Fatal("registers should be saved by default")
	}
	if c.Fs == nil || c.Output == nil {
		t.Fatal("Init() left Fs or Output nil")
	}
}

func TestLoadConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	yml := `
verbose: true
trace:
  tracefile: out.trace
  tid: 42
  compress: true
state:
  save_registers: false
  save_kernel_mem: true
  kernel_base: 0xc0000000
`
	if err := afero.WriteFile(fs, "tfd.yml", []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(fs, "tfd.yml")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Verbose || c.Trace.Tracefile != "out.trace" || c.Trace.Tid != 42 || !c.Trace.Compress {
		t.Fatalf("bad trace config: %+v", c.Trace)
	}
	if c.State.SaveRegisters || !c.State.SaveKernelMem || c.State.KernelBase != 0xc0000000 {
		t.Fatalf("bad state config: %+v", c.State)
	}
	if c.Fs != fs {
		t.Fatal("LoadConfig should keep the filesystem it read from")
	}
	if _, err := LoadConfig(fs, "missing.yml"); err == nil {
		t.Fatal("expected error loading a missing config")
	}
}

func TestTraceAccept(t *testing.T) {
	tc := &TraceConfig{}
	if !tc.Accept(1, 2) {
		t.Fatal("zero tid should accept every thread")
	}
	tc.Tid = 7
	if tc.Accept(1, 2) || !tc.Accept(1, 7) {
		t.Fatal("tid filter mismatch")
	}
	tc.Filter = func(pid, tid uint32) bool { return pid == 1 }
	if !tc.Accept(1, 2) || tc.Accept(3, 7) {
		t.Fatal("custom filter should override tid")
	}
}

func TestPrintf(t *testing.T) {
	var buf bytes.Buffer
	c := &Config{Output: &buf}
	c.Printf("quiet")
	if buf.Len() != 0 {
		t.Fatal("Printf wrote without Verbose")
	}
	c.Verbose = true
	c.Printf("Saving state for CR3: 0x%08x", 0xabcd0000)
	if !strings.Contains(buf.String(), "0xabcd0000") {
		t.Fatalf("unexpected log output %q", buf.String())
	}
}
