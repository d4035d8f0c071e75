package vm

import (
	"time"

	"github.com/chazu/ember/pkg/term"
)

// MaxReg is the size of the X register file.
const MaxReg = 16

// maxTraceDepth bounds the number of frames captured in a stack trace.
const maxTraceDepth = 8

// SlotKind tags a frame stack slot.
type SlotKind uint8

const (
	SlotTerm SlotKind = iota
	SlotCP
	SlotCatch
)

// StackSlot is one entry of the frame stack: a term (Y register), a saved
// continuation pointer, or a catch marker.
type StackSlot struct {
	Kind SlotKind
	Term term.Term
	// Addr is the continuation for SlotCP and the handler for SlotCatch.
	Addr int
	// Depth is the stack length recorded when the catch was installed.
	Depth int
}

// ExecutionContext is the interpreter state of a process. It is only ever
// touched by the worker currently running the process.
type ExecutionContext struct {
	X       [MaxReg]term.Term
	Stack   []StackSlot
	Catches int
	IP      int
	CP      int
	Module  Module

	// Reds is the remaining reduction budget of the current turn.
	Reds int
	// Deadline is the receive timeout of the current receive, zero if none.
	Deadline time.Time
}

func newExecutionContext(mod Module, ip int, args []term.Term) *ExecutionContext {
	ctx := &ExecutionContext{IP: ip, CP: -1, Module: mod}
	for i := range ctx.X {
		ctx.X[i] = term.Nil{}
	}
	copy(ctx.X[:], args)
	return ctx
}

// Push pushes a term slot.
func (c *ExecutionContext) Push(t term.Term) {
	c.Stack = append(c.Stack, StackSlot{Kind: SlotTerm, Term: t})
}

// Allocate opens a frame: the current CP followed by n Y slots.
func (c *ExecutionContext) Allocate(n int) {
	c.Stack = append(c.Stack, StackSlot{Kind: SlotCP, Addr: c.CP})
	for i := 0; i < n; i++ {
		c.Push(term.Nil{})
	}
}

// Deallocate drops n Y slots and restores CP from the frame's saved slot.
func (c *ExecutionContext) Deallocate(n int) bool {
	top := len(c.Stack) - n - 1
	if top < 0 || c.Stack[top].Kind != SlotCP {
		return false
	}
	c.CP = c.Stack[top].Addr
	clear(c.Stack[top:])
	c.Stack = c.Stack[:top]
	return true
}

// Y returns Y register i, counted from the top of the stack.
func (c *ExecutionContext) Y(i int) (term.Term, bool) {
	idx := len(c.Stack) - 1 - i
	if i < 0 || idx < 0 || c.Stack[idx].Kind == SlotCP {
		return nil, false
	}
	if c.Stack[idx].Term == nil {
		return term.Nil{}, true
	}
	return c.Stack[idx].Term, true
}

// SetY overwrites Y register i with a term slot.
func (c *ExecutionContext) SetY(i int, t term.Term) bool {
	idx := len(c.Stack) - 1 - i
	if i < 0 || idx < 0 || c.Stack[idx].Kind == SlotCP {
		return false
	}
	c.Stack[idx] = StackSlot{Kind: SlotTerm, Term: t}
	return true
}

// PushCatch stores a catch marker for handler in Y register y and bumps the
// catch count.
func (c *ExecutionContext) PushCatch(y, handler int) bool {
	idx := len(c.Stack) - 1 - y
	if y < 0 || idx < 0 || c.Stack[idx].Kind == SlotCP {
		return false
	}
	c.Stack[idx] = StackSlot{Kind: SlotCatch, Addr: handler, Depth: len(c.Stack)}
	c.Catches++
	return true
}

// PopCatch clears the catch marker in Y register y.
func (c *ExecutionContext) PopCatch(y int) bool {
	idx := len(c.Stack) - 1 - y
	if y < 0 || idx < 0 || c.Stack[idx].Kind != SlotCatch {
		return false
	}
	c.Stack[idx] = StackSlot{Kind: SlotTerm, Term: term.Nil{}}
	c.Catches--
	return true
}

// unwindToCatch finds the innermost catch marker, truncates the stack to
// the depth recorded when it was installed and returns its handler.
func (c *ExecutionContext) unwindToCatch() (int, bool) {
	for i := len(c.Stack) - 1; i >= 0; i-- {
		slot := c.Stack[i]
		if slot.Kind != SlotCatch {
			continue
		}
		if slot.Depth < len(c.Stack) {
			clear(c.Stack[slot.Depth:])
			c.Stack = c.Stack[:slot.Depth]
		}
		return slot.Addr, true
	}
	return 0, false
}

// trace returns the current IP followed by the saved continuation pointers,
// innermost first.
func (c *ExecutionContext) trace() term.Term {
	addrs := []term.Term{term.Int(c.IP)}
	if c.CP >= 0 {
		addrs = append(addrs, term.Int(c.CP))
	}
	for i := len(c.Stack) - 1; i >= 0 && len(addrs) < maxTraceDepth; i-- {
		if c.Stack[i].Kind == SlotCP && c.Stack[i].Addr >= 0 {
			addrs = append(addrs, term.Int(c.Stack[i].Addr))
		}
	}
	return term.List(addrs...)
}
