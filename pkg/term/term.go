// Package term defines the values manipulated by ember processes.
//
// Terms form a closed sum type: every concrete kind lives in this package
// and implements the unexported marker method. Terms are immutable once
// constructed; tuples and binaries must not be mutated after they have been
// sent to another process.
package term

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Term is any value a process can hold in a register, on its stack or in a
// message.
type Term interface {
	fmt.Stringer
	kind() Kind
}

// Kind identifies the concrete type of a Term. The numeric order of kinds is
// the cross-type term order used by Compare.
type Kind uint8

const (
	KindInt Kind = iota
	KindFloat
	KindAtom
	KindRef
	KindPid
	KindTuple
	KindNil
	KindCons
	KindBinary
)

var kindNames = [...]string{
	KindInt:    "integer",
	KindFloat:  "float",
	KindAtom:   "atom",
	KindRef:    "reference",
	KindPid:    "pid",
	KindTuple:  "tuple",
	KindNil:    "nil",
	KindCons:   "list",
	KindBinary: "binary",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// KindOf returns the kind of t.
func KindOf(t Term) Kind { return t.kind() }

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

// Int is a signed integer term.
type Int int64

// Float is a floating point term.
type Float float64

// Atom is an interned symbolic constant.
type Atom string

// Pid identifies a process. Pids are never reused within a runtime.
type Pid uint64

// Ref is a unique reference, used to identify monitors and replies.
type Ref uuid.UUID

// Nil is the empty list.
type Nil struct{}

// Binary is an immutable byte sequence.
type Binary []byte

// MakeRef returns a new unique reference.
func MakeRef() Ref { return Ref(uuid.New()) }

func (Int) kind() Kind    { return KindInt }
func (Float) kind() Kind  { return KindFloat }
func (Atom) kind() Kind   { return KindAtom }
func (Pid) kind() Kind    { return KindPid }
func (Ref) kind() Kind    { return KindRef }
func (Nil) kind() Kind    { return KindNil }
func (Binary) kind() Kind { return KindBinary }

func (i Int) String() string   { return strconv.FormatInt(int64(i), 10) }
func (f Float) String() string { return strconv.FormatFloat(float64(f), 'g', -1, 64) }
func (p Pid) String() string   { return fmt.Sprintf("<0.%d.0>", uint64(p)) }
func (r Ref) String() string   { return "#Ref<" + uuid.UUID(r).String() + ">" }
func (Nil) String() string     { return "[]" }

// String prints the atom, quoting it when it is not a plain lowercase name.
func (a Atom) String() string {
	if isPlainAtom(string(a)) {
		return string(a)
	}
	return "'" + strings.ReplaceAll(string(a), "'", "\\'") + "'"
}

func isPlainAtom(s string) bool {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '@':
		default:
			return false
		}
	}
	return true
}

func (b Binary) String() string {
	var sb strings.Builder
	sb.WriteString("<<")
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(c)))
	}
	sb.WriteString(">>")
	return sb.String()
}

// Well-known atoms.
const (
	True      Atom = "true"
	False     Atom = "false"
	Ok        Atom = "ok"
	Undefined Atom = "undefined"
)

// Bool converts a Go bool to the true/false atom.
func Bool(b bool) Atom {
	if b {
		return True
	}
	return False
}

// ---------------------------------------------------------------------------
// Compound terms
// ---------------------------------------------------------------------------

// Tuple is a fixed-size sequence of terms.
type Tuple []Term

// Cons is a list cell. Proper lists end in Nil.
type Cons struct {
	Head Term
	Tail Term
}

func (Tuple) kind() Kind { return KindTuple }
func (*Cons) kind() Kind { return KindCons }

func (t Tuple) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, e := range t {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(e.String())
	}
	sb.WriteByte('}')
	return sb.String()
}

func (c *Cons) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	var cur Term = c
	first := true
	for {
		cell, ok := cur.(*Cons)
		if !ok {
			break
		}
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(cell.Head.String())
		cur = cell.Tail
	}
	if _, ok := cur.(Nil); !ok {
		sb.WriteByte('|')
		sb.WriteString(cur.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

// List builds a proper list from elems.
func List(elems ...Term) Term {
	var l Term = Nil{}
	for i := len(elems) - 1; i >= 0; i-- {
		l = &Cons{Head: elems[i], Tail: l}
	}
	return l
}

// ToSlice returns the elements of a proper list. ok is false for anything
// that is not a proper list.
func ToSlice(t Term) (elems []Term, ok bool) {
	for {
		switch v := t.(type) {
		case Nil:
			return elems, true
		case *Cons:
			elems = append(elems, v.Head)
			t = v.Tail
		default:
			return nil, false
		}
	}
}

// IsAtom reports whether t is the atom a.
func IsAtom(t Term, a Atom) bool {
	v, ok := t.(Atom)
	return ok && v == a
}
