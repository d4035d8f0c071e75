package vm

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/chazu/ember/pkg/term"
)

// ---------------------------------------------------------------------------
// Process
// ---------------------------------------------------------------------------

// ProcessState is the scheduling state of a process.
type ProcessState int32

const (
	ProcessRunnable ProcessState = iota
	ProcessRunning
	ProcessWaiting
	ProcessExiting
	ProcessExited
)

var processStateNames = [...]string{"runnable", "running", "waiting", "exiting", "exited"}

func (s ProcessState) String() string {
	if int(s) < len(processStateNames) {
		return processStateNames[s]
	}
	return "unknown"
}

// ltMonitor records a process that monitors this one.
type ltMonitor struct {
	watcher PID
	ref     term.Ref
}

type dictEntry struct {
	key   term.Term
	value term.Term
}

// Process is a lightweight isolated unit of execution. Apart from its signal
// queue and its state word, everything here belongs to the worker that is
// currently running it.
type Process struct {
	PID    PID
	Parent PID

	rt  *Runtime
	ctx *ExecutionContext

	links      map[PID]struct{}
	monitors   map[term.Ref]PID
	ltMonitors []ltMonitor
	trapExit   bool
	dict       map[string]dictEntry

	mailbox Mailbox
	signals *SignalQueue

	state      atomic.Int32
	owner      atomic.Int64
	reductions atomic.Uint64
	exitReason atomic.Value
	timer      *time.Timer
}

func newProcess(rt *Runtime, pid, parent PID, mod Module, ip int, args []term.Term) *Process {
	return &Process{
		PID:      pid,
		Parent:   parent,
		rt:       rt,
		ctx:      newExecutionContext(mod, ip, args),
		links:    make(map[PID]struct{}),
		monitors: make(map[term.Ref]PID),
		signals:  NewSignalQueue(),
	}
}

// Context returns the execution context.
func (p *Process) Context() *ExecutionContext { return p.ctx }

// Runtime returns the runtime the process belongs to.
func (p *Process) Runtime() *Runtime { return p.rt }

// State returns the scheduling state.
func (p *Process) State() ProcessState { return ProcessState(p.state.Load()) }

// Reductions returns the total number of reductions executed.
func (p *Process) Reductions() uint64 { return p.reductions.Load() }

// ExitReason returns the reason the process exited with, or nil while alive.
func (p *Process) ExitReason() term.Term {
	if r, ok := p.exitReason.Load().(reasonBox); ok {
		return r.t
	}
	return nil
}

// reasonBox keeps atomic.Value happy with terms of varying concrete type.
type reasonBox struct{ t term.Term }

// ConsumeReduction charges one reduction against the turn's budget. It
// returns false once the budget is spent, at which point the interpreter
// must yield.
func (p *Process) ConsumeReduction() bool {
	if p.ctx.Reds <= 0 {
		return false
	}
	p.ctx.Reds--
	p.reductions.Add(1)
	return true
}

// LoopReceive moves pending signals into the mailbox and returns the message
// at the save pointer. A pending exit signal is returned as an exception.
func (p *Process) LoopReceive() (term.Term, bool, *Exception) {
	if exc := p.rt.processIncoming(p); exc != nil {
		return nil, false, exc
	}
	msg, ok := p.mailbox.Peek()
	return msg, ok, nil
}

// AdvanceSavePointer skips the message at the save pointer.
func (p *Process) AdvanceSavePointer() { p.mailbox.Advance() }

// ResetSavePointer rewinds the save pointer after a receive timeout.
func (p *Process) ResetSavePointer() {
	p.mailbox.Reset()
	p.ctx.Deadline = time.Time{}
}

// RemoveMessage consumes the message at the save pointer, ending the
// current receive.
func (p *Process) RemoveMessage() (term.Term, bool) {
	p.ctx.Deadline = time.Time{}
	return p.mailbox.Remove()
}

// EnterWait records the receive deadline before the interpreter returns
// Wait. A zero deadline waits forever.
func (p *Process) EnterWait(deadline time.Time) {
	p.ctx.Deadline = deadline
}

// Mailbox exposes the mailbox to the owning worker.
func (p *Process) Mailbox() *Mailbox { return &p.mailbox }

// TrapExit reports whether exit signals are converted to messages.
func (p *Process) TrapExit() bool { return p.trapExit }

// SetTrapExit updates the trap-exit flag and returns its previous value.
func (p *Process) SetTrapExit(on bool) bool {
	old := p.trapExit
	p.trapExit = on
	return old
}

// IsLinked reports whether p holds a link to pid.
func (p *Process) IsLinked(pid PID) bool {
	_, ok := p.links[pid]
	return ok
}

// Links returns the linked PIDs in ascending order.
func (p *Process) Links() []PID {
	out := make([]PID, 0, len(p.links))
	for pid := range p.links {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MonitorCount returns the number of processes p monitors.
func (p *Process) MonitorCount() int { return len(p.monitors) }

// WatcherCount returns the number of processes monitoring p.
func (p *Process) WatcherCount() int { return len(p.ltMonitors) }

func (p *Process) removeWatcher(ref term.Ref) {
	for i, m := range p.ltMonitors {
		if m.ref == ref {
			p.ltMonitors = append(p.ltMonitors[:i], p.ltMonitors[i+1:]...)
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Process dictionary
// ---------------------------------------------------------------------------

// dictKey uses the external encoding so that terms which print alike, such
// as 1 and 1.0, stay distinct keys.
func dictKey(key term.Term) string {
	b, err := term.Encode(key)
	if err != nil {
		return key.String()
	}
	return string(b)
}

// Put stores value under key and returns the previous value or undefined.
func (p *Process) Put(key, value term.Term) term.Term {
	if p.dict == nil {
		p.dict = make(map[string]dictEntry)
	}
	k := dictKey(key)
	old, ok := p.dict[k]
	p.dict[k] = dictEntry{key: key, value: value}
	if !ok {
		return term.Undefined
	}
	return old.value
}

// Get returns the value stored under key or undefined.
func (p *Process) Get(key term.Term) term.Term {
	if e, ok := p.dict[dictKey(key)]; ok {
		return e.value
	}
	return term.Undefined
}

// Erase removes key and returns its value or undefined.
func (p *Process) Erase(key term.Term) term.Term {
	k := dictKey(key)
	e, ok := p.dict[k]
	if !ok {
		return term.Undefined
	}
	delete(p.dict, k)
	return e.value
}

// Keys returns the dictionary keys in term order.
func (p *Process) Keys() []term.Term {
	out := make([]term.Term, 0, len(p.dict))
	for _, e := range p.dict {
		out = append(out, e.key)
	}
	sort.Slice(out, func(i, j int) bool { return term.Compare(out[i], out[j]) < 0 })
	return out
}

// ---------------------------------------------------------------------------
// Receive timers
// ---------------------------------------------------------------------------

func (p *Process) armTimer(d time.Duration) {
	p.timer = time.AfterFunc(d, func() { p.rt.wake(p) })
}

func (p *Process) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
