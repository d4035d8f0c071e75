package vm

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/ember/pkg/term"
	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config tunes a Runtime.
type Config struct {
	// Workers is the number of scheduler workers. Zero means GOMAXPROCS.
	Workers int
	// Reductions is the per-turn instruction budget.
	Reductions int
	// MaxProcesses caps the process table. Zero means unbounded.
	MaxProcesses int
	// LockChecking enables lock-order and deadlock detection. The detector
	// is process-global, so the most recently created Runtime decides.
	LockChecking bool
}

// Default configuration values.
const (
	DefaultReductions   = 2000
	DefaultMaxProcesses = 262144
)

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		Workers:      runtime.GOMAXPROCS(0),
		Reductions:   DefaultReductions,
		MaxProcesses: DefaultMaxProcesses,
	}
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Reductions <= 0 {
		c.Reductions = DefaultReductions
	}
	return c
}

var lockChecking = struct {
	sync.Mutex
	on bool
}{on: true} // go-deadlock starts enabled

// ConfigureLockChecking switches the deadlock detector used by runtime
// locks on or off. It affects every Runtime in the program. New calls it
// with Config.LockChecking.
func ConfigureLockChecking(on bool) {
	lockChecking.Lock()
	defer lockChecking.Unlock()
	if lockChecking.on == on {
		return
	}
	lockChecking.on = on
	if on {
		deadlock.Opts.DeadlockTimeout = 30 * time.Second
		deadlock.Opts.DisableLockOrderDetection = false
	} else {
		deadlock.Opts.DeadlockTimeout = 0
		deadlock.Opts.DisableLockOrderDetection = true
	}
}

// ---------------------------------------------------------------------------
// Exit observers
// ---------------------------------------------------------------------------

// ExitEvent describes a completed process termination.
type ExitEvent struct {
	PID       PID
	Parent    PID
	Class     term.Atom
	Reason    term.Term
	Logged    bool
	At        time.Time
	RuntimeID uuid.UUID
}

// ExitObserver is notified after a process has finished its exit cascade.
// Implementations are called on scheduler workers and must not block.
type ExitObserver interface {
	ProcessExited(ev ExitEvent)
}

// ---------------------------------------------------------------------------
// Runtime
// ---------------------------------------------------------------------------

// Runtime owns the process table, the scheduler and the module registry.
// All process-level operations go through it.
type Runtime struct {
	id        uuid.UUID
	cfg       Config
	table     *ProcessTable
	sched     *scheduler
	modules   *ModuleRegistry
	exec      Executor
	observers []ExitObserver
	log       commonlog.Logger

	live       liveSet
	spawned    atomic.Uint64
	exited     atomic.Uint64
	reductions atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	stopErr error
}

// liveSet counts spawned processes that have not finished exiting. The idle
// channel is closed whenever the count is zero.
type liveSet struct {
	mu    sync.Mutex
	n     int
	empty chan struct{}
}

func (l *liveSet) add() {
	l.mu.Lock()
	if l.n == 0 {
		l.empty = make(chan struct{})
	}
	l.n++
	l.mu.Unlock()
}

func (l *liveSet) done() {
	l.mu.Lock()
	l.n--
	if l.n == 0 {
		close(l.empty)
	}
	l.mu.Unlock()
}

func (l *liveSet) idle() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.n == 0 {
		return closedChan
	}
	return l.empty
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Option customizes a Runtime.
type Option func(*Runtime)

// WithObserver registers an exit observer.
func WithObserver(o ExitObserver) Option {
	return func(rt *Runtime) { rt.observers = append(rt.observers, o) }
}

// WithModules uses an existing module registry.
func WithModules(m *ModuleRegistry) Option {
	return func(rt *Runtime) { rt.modules = m }
}

// New creates a runtime that runs processes with exec.
func New(cfg Config, exec Executor, opts ...Option) *Runtime {
	cfg = cfg.normalized()
	ConfigureLockChecking(cfg.LockChecking)
	rt := &Runtime{
		id:      uuid.New(),
		cfg:     cfg,
		table:   NewProcessTable(cfg.MaxProcesses),
		modules: NewModuleRegistry(),
		exec:    exec,
		log:     commonlog.GetLogger("ember.vm"),
	}
	rt.sched = newScheduler(rt, cfg.Workers, cfg.Reductions)
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// ID returns the unique id of this runtime instance.
func (rt *Runtime) ID() uuid.UUID { return rt.id }

// Config returns the effective configuration.
func (rt *Runtime) Config() Config { return rt.cfg }

// Modules returns the module registry.
func (rt *Runtime) Modules() *ModuleRegistry { return rt.modules }

// Table returns the process table.
func (rt *Runtime) Table() *ProcessTable { return rt.table }

// Start launches the scheduler workers. Processes spawned before Start are
// queued and begin running once it is called.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.cancel != nil {
		return errors.New("runtime already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	rt.stopped = make(chan struct{})
	go func() {
		rt.stopErr = rt.sched.run(ctx)
		close(rt.stopped)
	}()
	rt.log.Infof("runtime %s started", rt.id)
	return nil
}

// Stop halts the workers and waits for them to return. Processes that are
// still alive stay in the table. Stopping twice is harmless.
func (rt *Runtime) Stop() error {
	rt.mu.Lock()
	cancel, stopped := rt.cancel, rt.stopped
	rt.mu.Unlock()
	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	<-stopped
	err := rt.stopErr
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Wait blocks until every spawned process has exited or ctx is done.
func (rt *Runtime) Wait(ctx context.Context) error {
	select {
	case <-rt.live.idle():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d processes: %w", rt.table.Len(), ctx.Err())
	}
}

// Lookup returns the live process for pid, or nil.
func (rt *Runtime) Lookup(pid PID) *Process { return rt.table.Get(pid) }

// Register binds name to pid.
func (rt *Runtime) Register(name term.Atom, pid PID) error { return rt.table.Register(name, pid) }

// Unregister removes a name binding.
func (rt *Runtime) Unregister(name term.Atom) bool { return rt.table.Unregister(name) }

// Whereis resolves a registered name.
func (rt *Runtime) Whereis(name term.Atom) (PID, bool) { return rt.table.Whereis(name) }

// Stats is a snapshot of runtime counters.
type Stats struct {
	Spawned    uint64
	Exited     uint64
	Live       int
	Queued     int
	Reductions uint64
}

// Stats returns the current counters.
func (rt *Runtime) Stats() Stats {
	return Stats{
		Spawned:    rt.spawned.Load(),
		Exited:     rt.exited.Load(),
		Live:       rt.table.Len(),
		Queued:     rt.sched.queue.len(),
		Reductions: rt.reductions.Load(),
	}
}

// wake makes a parked process runnable again.
func (rt *Runtime) wake(p *Process) {
	if p.state.CompareAndSwap(int32(ProcessWaiting), int32(ProcessRunnable)) {
		rt.sched.enqueue(p)
	}
}

// deliver pushes sig into target's queue and wakes it. Signals that arrive
// after target closed its queue are bounced.
func (rt *Runtime) deliver(target *Process, sig Signal) {
	if !target.signals.SendExternal(sig) {
		rt.bounce(target.PID, sig)
		return
	}
	rt.wake(target)
}

// deliverTo is deliver by PID. Signals to unknown PIDs are dropped.
func (rt *Runtime) deliverTo(pid PID, sig Signal) {
	if target := rt.table.Get(pid); target != nil {
		rt.deliver(target, sig)
	}
}
