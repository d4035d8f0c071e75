package vm

import (
	"fmt"

	"github.com/chazu/ember/pkg/term"
)

// SpawnFlags select the supervision relations set up at spawn time.
type SpawnFlags uint8

const (
	// SpawnLink links parent and child before the child runs.
	SpawnLink SpawnFlags = 1 << iota
	// SpawnMonitor makes the parent monitor the child.
	SpawnMonitor
)

// Spawn creates a process running module:function with args and queues it.
// parent may be nil for processes started from Go, in which case no flags
// may be given. The result is the new PID, or {PID, Ref} with SpawnMonitor.
// Failures are returned as *Exception (undef, system_limit, badarg).
func (rt *Runtime) Spawn(parent *Process, module, function term.Atom, args []term.Term, flags SpawnFlags) (term.Term, error) {
	if len(args) > MaxReg {
		return nil, Badarg()
	}
	if parent == nil && flags != 0 {
		return nil, Badarg()
	}
	mod, ok := rt.modules.Lookup(module)
	if !ok {
		return nil, WithValue(ExcUndef, term.Tuple{module, function, term.Int(len(args))})
	}
	ip, ok := mod.Entry(function, len(args))
	if !ok {
		return nil, WithValue(ExcUndef, term.Tuple{module, function, term.Int(len(args))})
	}

	pid, err := rt.table.Reserve()
	if err != nil {
		rt.log.Warningf("spawn %s:%s/%d: %v", module, function, len(args), err)
		return nil, NewException(ExcSystemLimit)
	}

	var parentPID PID
	if parent != nil {
		parentPID = parent.PID
	}
	p := newProcess(rt, pid, parentPID, mod, ip, args)

	var result term.Term = pid
	if flags&SpawnLink != 0 {
		p.links[parentPID] = struct{}{}
		parent.links[pid] = struct{}{}
	}
	if flags&SpawnMonitor != 0 {
		ref := term.MakeRef()
		parent.monitors[ref] = pid
		p.ltMonitors = append(p.ltMonitors, ltMonitor{watcher: parentPID, ref: ref})
		result = term.Tuple{pid, ref}
	}

	rt.live.add()
	rt.spawned.Add(1)
	rt.table.Map(pid, p)
	rt.sched.enqueue(p)
	rt.log.Debugf("spawned %s running %s:%s/%d", pid, module, function, len(args))
	return result, nil
}

// SpawnModule loads mod if needed and spawns a root process on it.
func (rt *Runtime) SpawnModule(mod Module, function term.Atom, args ...term.Term) (PID, error) {
	if _, ok := rt.modules.Lookup(mod.Name()); !ok {
		rt.modules.Load(mod)
	}
	res, err := rt.Spawn(nil, mod.Name(), function, args, 0)
	if err != nil {
		return 0, fmt.Errorf("spawn %s:%s: %w", mod.Name(), function, err)
	}
	return res.(PID), nil
}
