package vm

import (
	"testing"

	"github.com/chazu/ember/pkg/term"
)

func TestAllocateDeallocateRestoresCP(t *testing.T) {
	ctx := newExecutionContext(nil, 0, nil)
	ctx.CP = 17
	ctx.Allocate(2)
	ctx.CP = -1
	if !ctx.SetY(1, term.Int(5)) {
		t.Fatal("SetY failed")
	}
	if v, ok := ctx.Y(1); !ok || !term.Equal(v, term.Int(5)) {
		t.Errorf("Y(1) = %v, %v", v, ok)
	}
	if _, ok := ctx.Y(2); ok {
		t.Error("Y(2) should hit the CP slot")
	}
	if !ctx.Deallocate(2) {
		t.Fatal("Deallocate failed")
	}
	if ctx.CP != 17 || len(ctx.Stack) != 0 {
		t.Errorf("CP = %d, stack = %d, want 17 and empty", ctx.CP, len(ctx.Stack))
	}
}

func TestArgsLoadIntoRegisters(t *testing.T) {
	ctx := newExecutionContext(nil, 3, []term.Term{term.Atom("a"), term.Int(1)})
	if !term.Equal(ctx.X[1], term.Int(1)) || !term.Equal(ctx.X[2], term.Nil{}) {
		t.Errorf("registers = %v", ctx.X[:3])
	}
	if ctx.IP != 3 || ctx.CP != -1 {
		t.Errorf("IP = %d CP = %d", ctx.IP, ctx.CP)
	}
}

func TestUnwindToInnermostCatch(t *testing.T) {
	ctx := newExecutionContext(nil, 0, nil)
	ctx.Allocate(1)
	ctx.PushCatch(0, 100)
	outerDepth := len(ctx.Stack)
	ctx.Allocate(1)
	ctx.PushCatch(0, 200)
	innerDepth := len(ctx.Stack)
	ctx.Allocate(3)

	addr, ok := ctx.unwindToCatch()
	if !ok || addr != 200 {
		t.Fatalf("unwind = %d, %v, want 200", addr, ok)
	}
	if len(ctx.Stack) != innerDepth {
		t.Errorf("stack depth = %d, want %d", len(ctx.Stack), innerDepth)
	}

	ctx.PopCatch(0)
	ctx.Deallocate(1)
	addr, ok = ctx.unwindToCatch()
	if !ok || addr != 100 || len(ctx.Stack) != outerDepth {
		t.Errorf("outer unwind = %d, %v, depth %d", addr, ok, len(ctx.Stack))
	}
	if ctx.Catches != 1 {
		t.Errorf("Catches = %d, want 1", ctx.Catches)
	}
}

func TestTraceListsContinuations(t *testing.T) {
	ctx := newExecutionContext(nil, 9, nil)
	ctx.CP = 4
	ctx.Allocate(0)
	ctx.CP = 6
	elems, ok := term.ToSlice(ctx.trace())
	if !ok || len(elems) != 3 {
		t.Fatalf("trace = %v", elems)
	}
	if !term.Equal(elems[0], term.Int(9)) || !term.Equal(elems[1], term.Int(6)) || !term.Equal(elems[2], term.Int(4)) {
		t.Errorf("trace = %v, want [9,6,4]", elems)
	}
}
