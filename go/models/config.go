package models

import (
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// linux/windows 2G/2G split
const DefaultKernelBase = 0x80000000

type TraceConfig struct {
	Tracefile string `yaml:"tracefile"`
	// only trace this thread id, 0 traces every thread
	Tid uint32 `yaml:"tid"`
	// snappy-frame everything after the file header
	Compress bool `yaml:"compress"`
	// overrides the tid filter when set
	Filter func(pid, tid uint32) bool `yaml:"-"`
	// ignore taint when decomposing operands
	IgnoreTaint bool `yaml:"ignore_taint"`
}

// Accept reports whether an instruction from pid/tid should be written.
func (t *TraceConfig) Accept(pid, tid uint32) bool {
	if t.Filter != nil {
		return t.Filter(pid, tid)
	}
	return t.Tid == 0 || t.Tid == tid
}

type StateConfig struct {
	SaveRegisters bool   `yaml:"save_registers"`
	SaveKernelMem bool   `yaml:"save_kernel_mem"`
	KernelBase    uint32 `yaml:"kernel_base"`
	// zstd-compress the whole snapshot
	Compress bool `yaml:"compress"`
}

type Config struct {
	Verbose bool      `yaml:"verbose"`
	Output  io.Writer `yaml:"-"`
	Fs      afero.Fs  `yaml:"-"`

	Trace TraceConfig `yaml:"trace"`
	State StateConfig `yaml:"state"`

	logger *log.Logger
}

func NewConfig() *Config {
	c := &Config{State: StateConfig{SaveRegisters: true}}
	c.Init()
	return c
}

// Init fills in zero-valued fields with defaults. It is safe to call more than once.
func (c *Config) Init() {
	if c.Output == nil {
		c.Output = os.Stderr
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	if c.State.KernelBase == 0 {
		c.State.KernelBase = DefaultKernelBase
	}
	if c.logger == nil {
		c.logger = log.New(c.Output, "", 0)
	}
}

// Printf logs to Output when Verbose is set.
func (c *Config) Printf(format string, args ...interface{}) {
	if !c.Verbose {
		return
	}
	c.Init()
	c.logger.Printf(format, args...)
}

// LoadConfig reads a YAML config file from fs. A nil fs reads from the host filesystem.
func LoadConfig(fs afero.Fs, path string) (*Config, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config '%s'", path)
	}
	c := &Config{State: StateConfig{SaveRegisters: true}}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config '%s'", path)
	}
	c.Fs = fs
	c.Init()
	return c, nil
}
