package term

import (
	"bytes"
	"cmp"
)

// Equal reports whether a and b are exactly equal. Integers and floats are
// never equal to each other.
func Equal(a, b Term) bool {
	if a.kind() != b.kind() {
		return false
	}
	switch x := a.(type) {
	case Int:
		return x == b.(Int)
	case Float:
		return x == b.(Float)
	case Atom:
		return x == b.(Atom)
	case Pid:
		return x == b.(Pid)
	case Ref:
		return x == b.(Ref)
	case Nil:
		return true
	case Binary:
		return bytes.Equal(x, b.(Binary))
	case Tuple:
		y := b.(Tuple)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Cons:
		var l, r Term = x, b
		for {
			lc, lok := l.(*Cons)
			rc, rok := r.(*Cons)
			if !lok || !rok {
				return Equal(l, r)
			}
			if !Equal(lc.Head, rc.Head) {
				return false
			}
			l, r = lc.Tail, rc.Tail
		}
	}
	return false
}

// Compare orders two terms, returning -1, 0 or 1. Numbers compare by value
// across integer and float; other kinds follow
// number < atom < reference < pid < tuple < nil < list < binary.
func Compare(a, b Term) int {
	if c, ok := compareNumbers(a, b); ok {
		return c
	}
	ka, kb := rank(a.kind()), rank(b.kind())
	if ka != kb {
		return cmp.Compare(ka, kb)
	}
	switch x := a.(type) {
	case Atom:
		return cmp.Compare(x, b.(Atom))
	case Pid:
		return cmp.Compare(x, b.(Pid))
	case Ref:
		y := b.(Ref)
		return bytes.Compare(x[:], y[:])
	case Nil:
		return 0
	case Binary:
		return bytes.Compare(x, b.(Binary))
	case Tuple:
		y := b.(Tuple)
		if len(x) != len(y) {
			return cmp.Compare(len(x), len(y))
		}
		for i := range x {
			if c := Compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return 0
	case *Cons:
		var l, r Term = x, b
		for {
			lc, lok := l.(*Cons)
			rc, rok := r.(*Cons)
			if !lok || !rok {
				return Compare(l, r)
			}
			if c := Compare(lc.Head, rc.Head); c != 0 {
				return c
			}
			l, r = lc.Tail, rc.Tail
		}
	}
	return 0
}

func rank(k Kind) int {
	if k == KindFloat {
		return int(KindInt)
	}
	return int(k)
}

func compareNumbers(a, b Term) (int, bool) {
	switch x := a.(type) {
	case Int:
		switch y := b.(type) {
		case Int:
			return cmp.Compare(x, y), true
		case Float:
			return cmp.Compare(float64(x), float64(y)), true
		}
	case Float:
		switch y := b.(type) {
		case Int:
			return cmp.Compare(float64(x), float64(y)), true
		case Float:
			return cmp.Compare(x, y), true
		}
	}
	return 0, false
}
