package vm

import (
	"fmt"

	"github.com/chazu/ember/pkg/term"
	"github.com/sasha-s/go-deadlock"
)

// ---------------------------------------------------------------------------
// ProcessTable: PID allocation and lookup
// ---------------------------------------------------------------------------

// ProcessTable maps PIDs to live processes and holds the registered-name
// table. PIDs come from a monotonically increasing counter and are never
// reused, so a stale PID simply resolves to nothing.
type ProcessTable struct {
	mu       deadlock.Mutex
	next     PID
	capacity int
	reserved int
	procs    map[PID]*Process
	names    map[term.Atom]PID
	nameOf   map[PID]term.Atom
}

// NewProcessTable creates a table holding at most capacity processes.
// A capacity of zero or less means unbounded.
func NewProcessTable(capacity int) *ProcessTable {
	return &ProcessTable{
		next:     1,
		capacity: capacity,
		procs:    make(map[PID]*Process),
		names:    make(map[term.Atom]PID),
		nameOf:   make(map[PID]term.Atom),
	}
}

// Reserve allocates a fresh PID and claims a slot for it. The slot counts
// against capacity but the PID resolves to nothing until Map is called.
func (t *ProcessTable) Reserve() (PID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.capacity > 0 && len(t.procs)+t.reserved >= t.capacity {
		return 0, fmt.Errorf("reserve pid: %w (capacity %d)", ErrSystemLimit, t.capacity)
	}
	pid := t.next
	t.next++
	t.reserved++
	return pid, nil
}

// Map publishes a process under its reserved PID.
func (t *ProcessTable) Map(pid PID, p *Process) {
	t.mu.Lock()
	t.reserved--
	t.procs[pid] = p
	t.mu.Unlock()
}

// Get returns the live process for pid, or nil.
func (t *ProcessTable) Get(pid PID) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.procs[pid]
}

// Remove deletes pid and drops its registered name, if any.
func (t *ProcessTable) Remove(pid PID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, pid)
	if name, ok := t.nameOf[pid]; ok {
		delete(t.names, name)
		delete(t.nameOf, pid)
	}
}

// Len returns the number of live processes.
func (t *ProcessTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

// PIDs returns a snapshot of the live PIDs.
func (t *ProcessTable) PIDs() []PID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PID, 0, len(t.procs))
	for pid := range t.procs {
		out = append(out, pid)
	}
	return out
}

// Register binds name to a live process. A process holds at most one name.
func (t *ProcessTable) Register(name term.Atom, pid PID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.procs[pid]; !ok {
		return fmt.Errorf("register %s: %w", name, ErrNoProc)
	}
	if _, ok := t.names[name]; ok {
		return fmt.Errorf("register %s: %w", name, ErrNameTaken)
	}
	if old, ok := t.nameOf[pid]; ok {
		return fmt.Errorf("register %s: %s already registered as %s: %w", name, pid, old, ErrNameTaken)
	}
	t.names[name] = pid
	t.nameOf[pid] = name
	return nil
}

// Unregister removes a name binding. It reports whether the name existed.
func (t *ProcessTable) Unregister(name term.Atom) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pid, ok := t.names[name]
	if !ok {
		return false
	}
	delete(t.names, name)
	delete(t.nameOf, pid)
	return true
}

// Whereis resolves a registered name.
func (t *ProcessTable) Whereis(name term.Atom) (PID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pid, ok := t.names[name]
	return pid, ok
}
