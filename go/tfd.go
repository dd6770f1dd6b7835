// Package tfd captures taint-annotated instruction traces and memory
// snapshots from an emulated x86 guest.
package tfd

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/lunixbochs/tfd/go/models"
	"github.com/lunixbochs/tfd/go/models/cpu"
	"github.com/lunixbochs/tfd/go/models/decompose"
	"github.com/lunixbochs/tfd/go/models/state"
	"github.com/lunixbochs/tfd/go/models/trace"
	"github.com/lunixbochs/tfd/go/models/vmi"
)

// Snapshot is the outcome of a finished state save.
type Snapshot struct {
	Path  string
	Pgd   uint64
	Stats state.Stats
	Err   error
}

// Session owns at most one open trace and, separately, at most one pending
// or running snapshot. Its methods and the hooks it installs run on the
// cpu's thread; it is not safe for concurrent use.
type Session struct {
	config   *models.Config
	cpu      cpu.Cpu
	resolver vmi.Resolver
	mem      vmi.PageReader

	trace     *trace.TraceWriter
	tracePath string

	trigger   *state.Trigger
	stateFile afero.File
	statePath string
	saving    bool
	last      *Snapshot

	hooks      []cpu.Hook
	captureErr error
}

func NewSession(config *models.Config, c cpu.Cpu, resolver vmi.Resolver, mem vmi.PageReader) *Session {
	if config == nil {
		config = models.NewConfig()
	}
	config.Init()
	return &Session{config: config, cpu: c, resolver: resolver, mem: mem}
}

func (s *Session) Config() *models.Config { return s.config }

func (s *Session) create(path string) (afero.File, error) {
	f, err := s.config.Fs.Create(path)
	if err != nil {
		return nil, models.Wrapf(models.ErrSinkOpen, err, "creating '%s'", path)
	}
	return f, nil
}

// OpenTrace creates path and writes the trace header and process table.
func (s *Session) OpenTrace(path string, hdr trace.TraceHeader, procs []trace.Process) error {
	if s.trace != nil {
		return errors.Wrapf(models.ErrSessionActive, "trace '%s' is open", s.tracePath)
	}
	f, err := s.create(path)
	if err != nil {
		return err
	}
	tw, err := trace.NewWriter(f, hdr, procs, &s.config.Trace)
	if err != nil {
		f.Close()
		return err
	}
	s.trace, s.tracePath = tw, path
	s.config.Printf("Opened trace file: %s", path)
	return nil
}

func (s *Session) TraceOpen() bool { return s.trace != nil }

// WriteInsn appends a decomposed instruction to the open trace.
func (s *Session) WriteInsn(e *trace.EntryHeader) error {
	if s.trace == nil {
		return errors.New("no trace is open")
	}
	_, err := s.trace.Append(e)
	return err
}

// TraceStats returns the counters of the open trace.
func (s *Session) TraceStats() trace.Stats {
	if s.trace == nil {
		return trace.Stats{}
	}
	return s.trace.Stats()
}

// CloseTrace detaches live capture, writes the trailer and closes the file.
// A pending capture error is returned if closing succeeds. Closing when no
// trace is open is a no-op.
func (s *Session) CloseTrace() (trace.Stats, error) {
	if s.trace == nil {
		return trace.Stats{}, nil
	}
	derr := s.Detach()
	tw := s.trace
	s.trace = nil
	stats := tw.Stats()
	err := tw.Close()
	s.config.Printf("%s", stats)
	if err == nil {
		err = derr
	}
	return stats, err
}

// Attach traces every instruction the cpu executes into the open trace.
// ids reports the pid and tid the instruction belongs to. The first capture
// error is kept and returned by Detach or CloseTrace.
func (s *Session) Attach(d *decompose.Decomposer, ids func(c cpu.Cpu) (pid, tid uint32)) error {
	if s.trace == nil {
		return errors.New("no trace is open")
	}
	if s.hooks != nil {
		return errors.Wrap(models.ErrSessionActive, "live capture is attached")
	}
	hh, err := s.cpu.HookAdd(cpu.HOOK_CODE, func(c cpu.Cpu, addr uint64, size uint32) {
		if s.trace == nil {
			return
		}
		pid, tid := ids(c)
		e, err := d.Decompose(uint32(addr), pid, tid)
		if err == nil {
			err = s.WriteInsn(e)
		}
		if err != nil && s.captureErr == nil {
			s.captureErr = err
			s.config.Printf("Trace capture failed at 0x%08x: %v", addr, err)
		}
	}, 1, 0)
	if err != nil {
		return errors.Wrap(err, "HookAdd failed")
	}
	s.hooks = append(s.hooks, hh)
	return nil
}

func (s *Session) Detach() error {
	for _, hh := range s.hooks {
		s.cpu.HookDel(hh)
	}
	s.hooks = nil
	err := s.captureErr
	s.captureErr = nil
	return err
}

func (s *Session) stateBusy() error {
	if s.trigger != nil || s.saving {
		return errors.Wrapf(models.ErrSessionActive, "state save to '%s' is pending", s.statePath)
	}
	return nil
}

func (s *Session) resolve(pid uint32) (uint64, error) {
	if s.resolver == nil {
		return 0, models.Wrapf(models.ErrAddressSpaceNotFound, nil, "pid %d: no resolver", pid)
	}
	pgd, err := s.resolver.Pgd(pid)
	if err != nil {
		if models.IsKind(err, models.ErrAddressSpaceNotFound) {
			return 0, err
		}
		return 0, models.Wrapf(models.ErrAddressSpaceNotFound, err, "pid %d", pid)
	}
	return pgd, nil
}

// save writes the snapshot and closes f, whatever the outcome.
func (s *Session) save(f afero.File, path string, pgd uint64) (state.Stats, error) {
	s.saving = true
	defer func() { s.saving = false }()
	s.config.Printf("Saving state for CR3: 0x%08x", pgd)
	stats, err := state.Save(f, s.cpu, s.mem, pgd, &s.config.State)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = models.Wrapf(models.ErrWrite, cerr, "closing '%s'", path)
	}
	s.last = &Snapshot{Path: path, Pgd: pgd, Stats: stats, Err: err}
	return stats, err
}

// SaveStateByPgd snapshots the address space rooted at pgd right away.
func (s *Session) SaveStateByPgd(pgd uint64, path string) (state.Stats, error) {
	if err := s.stateBusy(); err != nil {
		return state.Stats{}, err
	}
	f, err := s.create(path)
	if err != nil {
		return state.Stats{}, err
	}
	return s.save(f, path, pgd)
}

// SaveStateByPid snapshots the address space of pid right away. Nothing is
// created if pid does not resolve.
func (s *Session) SaveStateByPid(pid uint32, path string) (state.Stats, error) {
	if err := s.stateBusy(); err != nil {
		return state.Stats{}, err
	}
	pgd, err := s.resolve(pid)
	if err != nil {
		return state.Stats{}, err
	}
	return s.SaveStateByPgd(pgd, path)
}

// SaveStateAtAddr opens path now and snapshots pid the first time addr
// executes inside its address space. The result is available from
// LastSnapshot once the trigger has fired.
func (s *Session) SaveStateAtAddr(pid uint32, addr uint64, path string) error {
	if err := s.stateBusy(); err != nil {
		return err
	}
	pgd, err := s.resolve(pid)
	if err != nil {
		return err
	}
	f, err := s.create(path)
	if err != nil {
		return err
	}
	s.config.Printf("Hooking save state address: 0x%08x CR3: 0x%08x", addr, pgd)
	trig, err := state.Arm(s.cpu, addr, pgd, func(c cpu.Cpu) {
		s.trigger, s.stateFile = nil, nil
		if _, err := s.save(f, path, pgd); err != nil {
			s.config.Printf("Saving state to '%s' failed: %v", path, err)
		}
	})
	if err != nil {
		f.Close()
		return err
	}
	s.trigger, s.stateFile, s.statePath = trig, f, path
	return nil
}

func (s *Session) StatePending() bool { return s.trigger != nil }

// CancelState disarms a pending SaveStateAtAddr and closes its file, which
// is left empty.
func (s *Session) CancelState() error {
	if s.trigger == nil {
		return nil
	}
	err := s.trigger.Disarm()
	if cerr := s.stateFile.Close(); err == nil {
		err = cerr
	}
	s.trigger, s.stateFile = nil, nil
	return err
}

// LastSnapshot returns the most recent finished state save.
func (s *Session) LastSnapshot() (Snapshot, bool) {
	if s.last == nil {
		return Snapshot{}, false
	}
	return *s.last, true
}

// Close ends every capture the session owns.
func (s *Session) Close() error {
	err := s.CancelState()
	if _, terr := s.CloseTrace(); err == nil {
		err = terr
	}
	return err
}
