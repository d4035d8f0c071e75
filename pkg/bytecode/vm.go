package bytecode

import (
	"errors"
	"fmt"
	"time"

	"github.com/chazu/ember/pkg/term"
	"github.com/chazu/ember/vm"
	"github.com/tliron/commonlog"
)

// Interpreter executes Module code on behalf of the runtime scheduler. A
// single Interpreter is shared by all workers; all per-process state lives
// in the process's execution context.
type Interpreter struct {
	bifs map[bifKey]Bif
	log  commonlog.Logger

	// Trace logs every executed instruction at debug level.
	Trace bool
}

// NewInterpreter creates an interpreter with the standard builtins.
func NewInterpreter() *Interpreter {
	in := &Interpreter{
		bifs: make(map[bifKey]Bif),
		log:  commonlog.GetLogger("ember.bytecode"),
	}
	registerStandardBifs(in)
	return in
}

// Register adds or replaces a builtin.
func (in *Interpreter) Register(name string, arity int, fn Bif) {
	in.bifs[bifKey{term.Atom(name), arity}] = fn
}

// Execute runs p until it yields, blocks in a receive or finishes.
func (in *Interpreter) Execute(rt *vm.Runtime, p *vm.Process) vm.Outcome {
	ctx := p.Context()
	mod, ok := ctx.Module.(*Module)
	if !ok {
		return in.fail(rt, p, vm.WithValue(vm.ExcInternalError, term.Atom("bad_module")))
	}

	for {
		if !p.ConsumeReduction() {
			return vm.Yield
		}
		if ctx.IP < 0 || ctx.IP >= len(mod.Code) {
			if in.raise(rt, p, vm.WithValue(vm.ExcInternalError, term.Int(ctx.IP))) {
				continue
			}
			return vm.Done
		}
		ins := mod.Code[ctx.IP]
		if in.Trace {
			in.log.Debugf("%s [%04d] %s", p.PID, ctx.IP, ins)
		}
		ctx.IP++

		out, exc := in.step(rt, p, ins)
		if exc != nil {
			if in.raise(rt, p, exc) {
				continue
			}
			return vm.Done
		}
		if out != running {
			return vm.Outcome(out)
		}
	}
}

var kindTests = map[Opcode]term.Kind{
	OpIsTuple:    term.KindTuple,
	OpIsAtom:     term.KindAtom,
	OpIsPid:      term.KindPid,
	OpIsNil:      term.KindNil,
	OpIsNonEmpty: term.KindCons,
}

// stepResult is an Outcome or running.
type stepResult int

const running stepResult = -1

func (in *Interpreter) raise(rt *vm.Runtime, p *vm.Process, exc *vm.Exception) bool {
	_, resumed := rt.HandleError(p, exc)
	return resumed
}

func (in *Interpreter) fail(rt *vm.Runtime, p *vm.Process, exc *vm.Exception) vm.Outcome {
	rt.HandleError(p, exc)
	return vm.Done
}

func (in *Interpreter) step(rt *vm.Runtime, p *vm.Process, ins Instruction) (stepResult, *vm.Exception) {
	ctx := p.Context()
	args := ins.Args

	switch ins.Op {
	// ============ Data movement ============
	case OpNop:

	case OpMove:
		v, err := load(ctx, args[0])
		if err != nil {
			return running, err
		}
		return running, store(ctx, args[1], v)

	case OpPutTuple:
		t := make(term.Tuple, len(args)-1)
		for i, a := range args[1:] {
			v, err := load(ctx, a)
			if err != nil {
				return running, err
			}
			t[i] = v
		}
		return running, store(ctx, args[0], t)

	case OpGetElement:
		v, err := load(ctx, args[0])
		if err != nil {
			return running, err
		}
		t, ok := v.(term.Tuple)
		idx := args[1].N
		if !ok || idx < 0 || idx >= len(t) {
			return running, vm.Badarg()
		}
		return running, store(ctx, args[2], t[idx])

	case OpPutList:
		h, err := load(ctx, args[0])
		if err != nil {
			return running, err
		}
		tl, err := load(ctx, args[1])
		if err != nil {
			return running, err
		}
		return running, store(ctx, args[2], &term.Cons{Head: h, Tail: tl})

	case OpGetList:
		v, err := load(ctx, args[0])
		if err != nil {
			return running, err
		}
		c, ok := v.(*term.Cons)
		if !ok {
			return running, vm.Badarg()
		}
		if err := store(ctx, args[1], c.Head); err != nil {
			return running, err
		}
		return running, store(ctx, args[2], c.Tail)

	// ============ Control flow ============
	case OpJump:
		ctx.IP = args[0].N

	case OpCall:
		ctx.CP = ctx.IP
		ctx.IP = args[0].N

	case OpReturn:
		if ctx.CP < 0 {
			return stepResult(vm.Done), nil
		}
		ctx.IP = ctx.CP
		ctx.CP = -1

	case OpAllocate:
		ctx.Allocate(args[0].N)

	case OpDeallocate:
		if !ctx.Deallocate(args[0].N) {
			return running, vm.WithValue(vm.ExcInternalError, term.Atom("bad_frame"))
		}

	case OpCallBif:
		return in.callBif(rt, p, args[0].T, args[1].N)

	// ============ Tests ============
	case OpIsEq, OpIsNe, OpIsLt, OpIsGe:
		a, err := load(ctx, args[1])
		if err != nil {
			return running, err
		}
		b, err := load(ctx, args[2])
		if err != nil {
			return running, err
		}
		var pass bool
		switch ins.Op {
		case OpIsEq:
			pass = term.Equal(a, b)
		case OpIsNe:
			pass = !term.Equal(a, b)
		case OpIsLt:
			pass = term.Compare(a, b) < 0
		case OpIsGe:
			pass = term.Compare(a, b) >= 0
		}
		if !pass {
			ctx.IP = args[0].N
		}

	case OpIsTuple, OpIsAtom, OpIsPid, OpIsNil, OpIsNonEmpty:
		v, err := load(ctx, args[1])
		if err != nil {
			return running, err
		}
		if term.KindOf(v) != kindTests[ins.Op] {
			ctx.IP = args[0].N
		}

	case OpTestArity:
		v, err := load(ctx, args[1])
		if err != nil {
			return running, err
		}
		if t, ok := v.(term.Tuple); !ok || len(t) != args[2].N {
			ctx.IP = args[0].N
		}

	// ============ Exceptions ============
	case OpTry:
		if !ctx.PushCatch(args[0].N, args[1].N) {
			return running, vm.WithValue(vm.ExcInternalError, term.Atom("bad_catch"))
		}

	case OpTryEnd:
		if !ctx.PopCatch(args[0].N) {
			return running, vm.WithValue(vm.ExcInternalError, term.Atom("bad_catch"))
		}

	case OpTryCase:
		if !ctx.PopCatch(args[0].N) {
			return running, vm.WithValue(vm.ExcInternalError, term.Atom("bad_catch"))
		}
		ctx.X[0], ctx.X[1], ctx.X[2] = ctx.X[1], ctx.X[2], ctx.X[3]

	case OpRaise:
		class, err := load(ctx, args[0])
		if err != nil {
			return running, err
		}
		value, err := load(ctx, args[1])
		if err != nil {
			return running, err
		}
		return running, raiseClass(class, value)

	// ============ Messages ============
	case OpSend:
		msg, err := rt.SendMessage(p, ctx.X[0], ctx.X[1])
		if err != nil {
			return running, asException(err)
		}
		ctx.X[0] = msg

	case OpLoopRec:
		msg, ok, exc := p.LoopReceive()
		if exc != nil {
			return running, exc
		}
		if !ok {
			ctx.IP = args[0].N
			return running, nil
		}
		return running, store(ctx, args[1], msg)

	case OpLoopRecEnd:
		p.AdvanceSavePointer()
		ctx.IP = args[0].N

	case OpRemoveMessage:
		p.RemoveMessage()

	case OpWait:
		ctx.IP = args[0].N
		p.EnterWait(time.Time{})
		return stepResult(vm.Wait), nil

	case OpWaitTimeout:
		return in.waitTimeout(p, args)

	case OpTimeout:
		p.ResetSavePointer()

	default:
		return running, vm.WithValue(vm.ExcInternalError, term.Atom(ins.Op.String()))
	}
	return running, nil
}

// maxTimeout is the largest receive timeout in milliseconds.
const maxTimeout = 1<<32 - 1

// waitTimeout arms the receive deadline on first entry and falls through to
// the following TIMEOUT once it has passed.
func (in *Interpreter) waitTimeout(p *vm.Process, args []Operand) (stepResult, *vm.Exception) {
	ctx := p.Context()
	if ctx.Deadline.IsZero() {
		t, err := load(ctx, args[1])
		if err != nil {
			return running, err
		}
		if term.IsAtom(t, "infinity") {
			ctx.IP = args[0].N
			p.EnterWait(time.Time{})
			return stepResult(vm.Wait), nil
		}
		ms, ok := t.(term.Int)
		if !ok || ms < 0 || ms > maxTimeout {
			return running, vm.WithValue(vm.ExcTimeoutValue, t)
		}
		if ms == 0 {
			return running, nil
		}
		ctx.Deadline = time.Now().Add(time.Duration(ms) * time.Millisecond)
	}
	if !time.Now().Before(ctx.Deadline) {
		return running, nil
	}
	ctx.IP = args[0].N
	p.EnterWait(ctx.Deadline)
	return stepResult(vm.Wait), nil
}

func (in *Interpreter) callBif(rt *vm.Runtime, p *vm.Process, name term.Term, arity int) (stepResult, *vm.Exception) {
	atom, _ := name.(term.Atom)
	fn, ok := in.bifs[bifKey{atom, arity}]
	if !ok {
		return running, vm.WithValue(vm.ExcUndef, term.Tuple{term.Atom("erlang"), name, term.Int(arity)})
	}
	ctx := p.Context()
	res, err := fn(rt, p, ctx.X[:arity])
	if err != nil {
		return running, asException(err)
	}
	ctx.X[0] = res
	return running, nil
}

// asException converts a builtin error into an exception. Plain Go errors
// become badarg.
func asException(err error) *vm.Exception {
	var exc *vm.Exception
	if errors.As(err, &exc) {
		return exc
	}
	return vm.WithValue(vm.ExcBadarg, term.Binary(err.Error()))
}

func raiseClass(class, value term.Term) *vm.Exception {
	switch {
	case term.IsAtom(class, vm.AtomError):
		return vm.ErrorWith(value)
	case term.IsAtom(class, vm.AtomExit):
		return vm.ExitWith(value)
	case term.IsAtom(class, vm.AtomThrow):
		return vm.ThrowWith(value)
	}
	return vm.Badarg()
}

func load(ctx *vm.ExecutionContext, o Operand) (term.Term, *vm.Exception) {
	switch o.Kind {
	case KindX:
		if o.N < 0 || o.N >= vm.MaxReg {
			return nil, badOperand(o)
		}
		return ctx.X[o.N], nil
	case KindY:
		v, ok := ctx.Y(o.N)
		if !ok {
			return nil, badOperand(o)
		}
		return v, nil
	case KindConst:
		return o.T, nil
	case KindInt:
		return term.Int(o.N), nil
	}
	return nil, badOperand(o)
}

func store(ctx *vm.ExecutionContext, o Operand, v term.Term) *vm.Exception {
	switch o.Kind {
	case KindX:
		if o.N < 0 || o.N >= vm.MaxReg {
			return badOperand(o)
		}
		ctx.X[o.N] = v
		return nil
	case KindY:
		if !ctx.SetY(o.N, v) {
			return badOperand(o)
		}
		return nil
	}
	return badOperand(o)
}

func badOperand(o Operand) *vm.Exception {
	return vm.WithValue(vm.ExcInternalError, term.Binary(fmt.Sprintf("bad operand %s", o)))
}
