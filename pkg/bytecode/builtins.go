package bytecode

import (
	"github.com/chazu/ember/pkg/term"
	"github.com/chazu/ember/vm"
)

// Bif is a builtin function. Arguments are the first arity X registers;
// the result is written to x0. Errors should be *vm.Exception.
type Bif func(rt *vm.Runtime, p *vm.Process, args []term.Term) (term.Term, error)

type bifKey struct {
	name  term.Atom
	arity int
}

func registerStandardBifs(in *Interpreter) {
	// processes
	in.Register("self", 0, bifSelf)
	in.Register("send", 2, bifSend)
	in.Register("spawn", 3, spawnWith(0))
	in.Register("spawn_link", 3, spawnWith(vm.SpawnLink))
	in.Register("spawn_monitor", 3, spawnWith(vm.SpawnMonitor))
	in.Register("link", 1, bifLink)
	in.Register("unlink", 1, bifUnlink)
	in.Register("monitor", 2, bifMonitor)
	in.Register("demonitor", 1, bifDemonitor)
	in.Register("exit", 1, bifExit1)
	in.Register("exit", 2, bifExit2)
	in.Register("error", 1, bifError)
	in.Register("throw", 1, bifThrow)
	in.Register("process_flag", 2, bifProcessFlag)
	in.Register("register", 2, bifRegister)
	in.Register("unregister", 1, bifUnregister)
	in.Register("whereis", 1, bifWhereis)
	in.Register("make_ref", 0, bifMakeRef)

	// process dictionary
	in.Register("put", 2, bifPut)
	in.Register("get", 1, bifGet)
	in.Register("erase", 1, bifErase)
	in.Register("get_keys", 0, bifGetKeys)

	// terms
	in.Register("term_to_binary", 1, bifTermToBinary)
	in.Register("binary_to_term", 1, bifBinaryToTerm)
	in.Register("tuple_size", 1, bifTupleSize)
	in.Register("length", 1, bifLength)

	// arithmetic
	in.Register("+", 2, arith(func(a, b int64) (int64, bool) { return a + b, true }, func(a, b float64) float64 { return a + b }))
	in.Register("-", 2, arith(func(a, b int64) (int64, bool) { return a - b, true }, func(a, b float64) float64 { return a - b }))
	in.Register("*", 2, arith(func(a, b int64) (int64, bool) { return a * b, true }, func(a, b float64) float64 { return a * b }))
	in.Register("div", 2, intArith(func(a, b int64) (int64, bool) {
		if b == 0 {
			return 0, false
		}
		return a / b, true
	}))
	in.Register("rem", 2, intArith(func(a, b int64) (int64, bool) {
		if b == 0 {
			return 0, false
		}
		return a % b, true
	}))
}

// ---------------------------------------------------------------------------
// Processes
// ---------------------------------------------------------------------------

func bifSelf(_ *vm.Runtime, p *vm.Process, _ []term.Term) (term.Term, error) {
	return p.PID, nil
}

func bifSend(rt *vm.Runtime, p *vm.Process, args []term.Term) (term.Term, error) {
	return rt.SendMessage(p, args[0], args[1])
}

func spawnWith(flags vm.SpawnFlags) Bif {
	return func(rt *vm.Runtime, p *vm.Process, args []term.Term) (term.Term, error) {
		mod, ok1 := args[0].(term.Atom)
		fn, ok2 := args[1].(term.Atom)
		list, ok3 := term.ToSlice(args[2])
		if !ok1 || !ok2 || !ok3 {
			return nil, vm.Badarg()
		}
		return rt.Spawn(p, mod, fn, list, flags)
	}
}

func bifLink(rt *vm.Runtime, p *vm.Process, args []term.Term) (term.Term, error) {
	pid, ok := args[0].(term.Pid)
	if !ok {
		return nil, vm.Badarg()
	}
	if err := rt.Link(p, pid); err != nil {
		return nil, err
	}
	return term.True, nil
}

func bifUnlink(rt *vm.Runtime, p *vm.Process, args []term.Term) (term.Term, error) {
	pid, ok := args[0].(term.Pid)
	if !ok {
		return nil, vm.Badarg()
	}
	rt.Unlink(p, pid)
	return term.True, nil
}

func bifMonitor(rt *vm.Runtime, p *vm.Process, args []term.Term) (term.Term, error) {
	pid, ok := args[1].(term.Pid)
	if !term.IsAtom(args[0], vm.AtomProcess) || !ok {
		return nil, vm.Badarg()
	}
	return rt.Monitor(p, pid), nil
}

func bifDemonitor(rt *vm.Runtime, p *vm.Process, args []term.Term) (term.Term, error) {
	ref, ok := args[0].(term.Ref)
	if !ok {
		return nil, vm.Badarg()
	}
	rt.Demonitor(p, ref)
	return term.True, nil
}

func bifExit1(_ *vm.Runtime, _ *vm.Process, args []term.Term) (term.Term, error) {
	return nil, vm.ExitWith(args[0])
}

func bifExit2(rt *vm.Runtime, p *vm.Process, args []term.Term) (term.Term, error) {
	pid, ok := args[0].(term.Pid)
	if !ok {
		return nil, vm.Badarg()
	}
	rt.ExitTo(p, pid, args[1])
	return term.True, nil
}

func bifError(_ *vm.Runtime, _ *vm.Process, args []term.Term) (term.Term, error) {
	return nil, vm.ErrorWith(args[0])
}

func bifThrow(_ *vm.Runtime, _ *vm.Process, args []term.Term) (term.Term, error) {
	return nil, vm.ThrowWith(args[0])
}

func bifProcessFlag(_ *vm.Runtime, p *vm.Process, args []term.Term) (term.Term, error) {
	if !term.IsAtom(args[0], "trap_exit") {
		return nil, vm.Badarg()
	}
	on, ok := args[1].(term.Atom)
	if !ok || (on != term.True && on != term.False) {
		return nil, vm.Badarg()
	}
	return term.Bool(p.SetTrapExit(on == term.True)), nil
}

func bifRegister(rt *vm.Runtime, _ *vm.Process, args []term.Term) (term.Term, error) {
	name, ok1 := args[0].(term.Atom)
	pid, ok2 := args[1].(term.Pid)
	if !ok1 || !ok2 || name == term.Undefined {
		return nil, vm.Badarg()
	}
	if err := rt.Register(name, pid); err != nil {
		return nil, vm.Badarg()
	}
	return term.True, nil
}

func bifUnregister(rt *vm.Runtime, _ *vm.Process, args []term.Term) (term.Term, error) {
	name, ok := args[0].(term.Atom)
	if !ok || !rt.Unregister(name) {
		return nil, vm.Badarg()
	}
	return term.True, nil
}

func bifWhereis(rt *vm.Runtime, _ *vm.Process, args []term.Term) (term.Term, error) {
	name, ok := args[0].(term.Atom)
	if !ok {
		return nil, vm.Badarg()
	}
	if pid, ok := rt.Whereis(name); ok {
		return pid, nil
	}
	return term.Undefined, nil
}

func bifMakeRef(_ *vm.Runtime, _ *vm.Process, _ []term.Term) (term.Term, error) {
	return term.MakeRef(), nil
}

// ---------------------------------------------------------------------------
// Process dictionary
// ---------------------------------------------------------------------------

func bifPut(_ *vm.Runtime, p *vm.Process, args []term.Term) (term.Term, error) {
	return p.Put(args[0], args[1]), nil
}

func bifGet(_ *vm.Runtime, p *vm.Process, args []term.Term) (term.Term, error) {
	return p.Get(args[0]), nil
}

func bifErase(_ *vm.Runtime, p *vm.Process, args []term.Term) (term.Term, error) {
	return p.Erase(args[0]), nil
}

func bifGetKeys(_ *vm.Runtime, p *vm.Process, _ []term.Term) (term.Term, error) {
	return term.List(p.Keys()...), nil
}

// ---------------------------------------------------------------------------
// Terms
// ---------------------------------------------------------------------------

func bifTermToBinary(_ *vm.Runtime, _ *vm.Process, args []term.Term) (term.Term, error) {
	b, err := term.Encode(args[0])
	if err != nil {
		return nil, vm.Badarg()
	}
	return term.Binary(b), nil
}

func bifBinaryToTerm(_ *vm.Runtime, _ *vm.Process, args []term.Term) (term.Term, error) {
	b, ok := args[0].(term.Binary)
	if !ok {
		return nil, vm.Badarg()
	}
	t, err := term.Decode(b)
	if err != nil {
		return nil, vm.Badarg()
	}
	return t, nil
}

func bifTupleSize(_ *vm.Runtime, _ *vm.Process, args []term.Term) (term.Term, error) {
	t, ok := args[0].(term.Tuple)
	if !ok {
		return nil, vm.Badarg()
	}
	return term.Int(len(t)), nil
}

func bifLength(_ *vm.Runtime, _ *vm.Process, args []term.Term) (term.Term, error) {
	elems, ok := term.ToSlice(args[0])
	if !ok {
		return nil, vm.Badarg()
	}
	return term.Int(len(elems)), nil
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func arith(ints func(a, b int64) (int64, bool), floats func(a, b float64) float64) Bif {
	return func(_ *vm.Runtime, _ *vm.Process, args []term.Term) (term.Term, error) {
		if a, ok := args[0].(term.Int); ok {
			if b, ok := args[1].(term.Int); ok {
				r, _ := ints(int64(a), int64(b))
				return term.Int(r), nil
			}
		}
		a, ok1 := toFloat(args[0])
		b, ok2 := toFloat(args[1])
		if !ok1 || !ok2 {
			return nil, vm.NewException(vm.ExcBadarith)
		}
		return term.Float(floats(a, b)), nil
	}
}

func intArith(ints func(a, b int64) (int64, bool)) Bif {
	return func(_ *vm.Runtime, _ *vm.Process, args []term.Term) (term.Term, error) {
		a, ok1 := args[0].(term.Int)
		b, ok2 := args[1].(term.Int)
		if !ok1 || !ok2 {
			return nil, vm.NewException(vm.ExcBadarith)
		}
		r, ok := ints(int64(a), int64(b))
		if !ok {
			return nil, vm.NewException(vm.ExcBadarith)
		}
		return term.Int(r), nil
	}
}

func toFloat(t term.Term) (float64, bool) {
	switch v := t.(type) {
	case term.Int:
		return float64(v), true
	case term.Float:
		return float64(v), true
	}
	return 0, false
}
