package bytecode

import (
	"fmt"
	"sort"

	"github.com/chazu/ember/pkg/term"
)

// OperandKind tags an instruction operand.
type OperandKind uint8

const (
	KindX     OperandKind = iota // X register
	KindY                        // Y register (frame slot)
	KindConst                    // literal term
	KindLabel                    // code address (label id before Build)
	KindInt                      // raw integer
)

// Operand is one instruction argument.
type Operand struct {
	Kind OperandKind
	N    int
	T    term.Term
}

// X returns an X register operand.
func X(n int) Operand { return Operand{Kind: KindX, N: n} }

// Y returns a Y register operand.
func Y(n int) Operand { return Operand{Kind: KindY, N: n} }

// C returns a literal operand.
func C(t term.Term) Operand { return Operand{Kind: KindConst, T: t} }

// A returns an atom literal operand.
func A(name string) Operand { return C(term.Atom(name)) }

// I returns a raw integer operand.
func I(n int) Operand { return Operand{Kind: KindInt, N: n} }

// L returns a label operand.
func L(l Label) Operand { return Operand{Kind: KindLabel, N: int(l)} }

// String formats the operand for listings.
func (o Operand) String() string {
	switch o.Kind {
	case KindX:
		return fmt.Sprintf("x%d", o.N)
	case KindY:
		return fmt.Sprintf("y%d", o.N)
	case KindConst:
		return o.T.String()
	case KindLabel:
		return fmt.Sprintf("@%04d", o.N)
	default:
		return fmt.Sprintf("%d", o.N)
	}
}

// Instruction is a decoded instruction.
type Instruction struct {
	Op   Opcode
	Args []Operand
}

type funKey struct {
	name  term.Atom
	arity int
}

// Export is an entry point of a module.
type Export struct {
	Name  term.Atom
	Arity int
	Addr  int
}

// Module is assembled code plus its exported entry points. It implements
// vm.Module.
type Module struct {
	name    term.Atom
	Code    []Instruction
	exports map[funKey]int
}

// Name returns the module name.
func (m *Module) Name() term.Atom { return m.name }

// Entry resolves an exported function to its start address.
func (m *Module) Entry(fn term.Atom, arity int) (int, bool) {
	addr, ok := m.exports[funKey{fn, arity}]
	return addr, ok
}

// Exports returns the entry points sorted by address.
func (m *Module) Exports() []Export {
	out := make([]Export, 0, len(m.exports))
	for k, addr := range m.exports {
		out = append(out, Export{Name: k.name, Arity: k.arity, Addr: addr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

// Label is a forward-referencable code position.
type Label int

// Builder assembles a Module. Labels may be referenced before they are
// bound; Build resolves them to addresses.
type Builder struct {
	name    term.Atom
	code    []Instruction
	labels  []int
	exports map[funKey]int
	err     error
}

// NewBuilder starts a module named name.
func NewBuilder(name string) *Builder {
	return &Builder{name: term.Atom(name), exports: make(map[funKey]int)}
}

// Function exports name/arity at the current position.
func (b *Builder) Function(name string, arity int) *Builder {
	k := funKey{term.Atom(name), arity}
	if _, dup := b.exports[k]; dup && b.err == nil {
		b.err = fmt.Errorf("duplicate export %s/%d", name, arity)
	}
	b.exports[k] = len(b.code)
	return b
}

// NewLabel allocates an unbound label.
func (b *Builder) NewLabel() Label {
	b.labels = append(b.labels, -1)
	return Label(len(b.labels) - 1)
}

// Bind binds l to the current position.
func (b *Builder) Bind(l Label) *Builder {
	if b.labels[l] >= 0 && b.err == nil {
		b.err = fmt.Errorf("label %d bound twice", l)
	}
	b.labels[l] = len(b.code)
	return b
}

// Here allocates a label bound to the current position.
func (b *Builder) Here() Label {
	l := b.NewLabel()
	b.Bind(l)
	return l
}

// Emit appends an instruction and returns its address.
func (b *Builder) Emit(op Opcode, args ...Operand) int {
	info := GetOpcodeInfo(op)
	if info.Operands >= 0 && len(args) != info.Operands && b.err == nil {
		b.err = fmt.Errorf("%s at %d: got %d operands, want %d", info.Name, len(b.code), len(args), info.Operands)
	}
	addr := len(b.code)
	b.code = append(b.code, Instruction{Op: op, Args: args})
	return addr
}

// CurrentOffset returns the address of the next instruction.
func (b *Builder) CurrentOffset() int { return len(b.code) }

// Build resolves labels and returns the module.
func (b *Builder) Build() (*Module, error) {
	if b.err != nil {
		return nil, fmt.Errorf("module %s: %w", b.name, b.err)
	}
	code := make([]Instruction, len(b.code))
	for i, ins := range b.code {
		args := make([]Operand, len(ins.Args))
		for j, a := range ins.Args {
			if a.Kind == KindLabel {
				if a.N < 0 || a.N >= len(b.labels) || b.labels[a.N] < 0 {
					return nil, fmt.Errorf("module %s: unbound label %d at %d", b.name, a.N, i)
				}
				a.N = b.labels[a.N]
			}
			args[j] = a
		}
		code[i] = Instruction{Op: ins.Op, Args: args}
	}
	exports := make(map[funKey]int, len(b.exports))
	for k, v := range b.exports {
		exports[k] = v
	}
	return &Module{name: b.name, Code: code, exports: exports}, nil
}

// MustBuild is Build for statically known programs.
func (b *Builder) MustBuild() *Module {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}
