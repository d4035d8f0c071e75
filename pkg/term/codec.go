package term

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// wireTerm is the CBOR representation of a term. Lists are flattened into
// their elements plus an optional improper tail.
type wireTerm struct {
	K Kind       `cbor:"k"`
	I int64      `cbor:"i,omitempty"`
	U uint64     `cbor:"u,omitempty"`
	F float64    `cbor:"f,omitempty"`
	S string     `cbor:"s,omitempty"`
	B []byte     `cbor:"b,omitempty"`
	E []wireTerm `cbor:"e,omitempty"`
	T *wireTerm  `cbor:"t,omitempty"`
}

// MaxNestedLevels bounds the CBOR nesting depth accepted by Decode and
// produced by Encode. Every tuple or list level costs two CBOR levels (the
// term map plus its element array).
const MaxNestedLevels = 65535

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("term: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{MaxNestedLevels: MaxNestedLevels}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("term: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

var (
	// ErrBadEncoding is returned by Decode for well-formed CBOR that does
	// not describe a term.
	ErrBadEncoding = errors.New("term: bad external encoding")
	// ErrTooDeep is returned by Encode for terms nested beyond
	// MaxNestedLevels.
	ErrTooDeep = errors.New("term: nested too deeply to encode")
)

// Encode serializes t to its canonical external (CBOR) form.
func Encode(t Term) ([]byte, error) {
	w, depth := toWire(t)
	if depth > MaxNestedLevels {
		return nil, fmt.Errorf("%w: %d levels", ErrTooDeep, depth)
	}
	return cborEncMode.Marshal(w)
}

// Decode parses the external form produced by Encode.
func Decode(data []byte) (Term, error) {
	var w wireTerm
	if err := cborDecMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("term: decode: %w", err)
	}
	return fromWire(&w)
}

// toWire converts t and reports the CBOR nesting depth of the result.
func toWire(t Term) (wireTerm, int) {
	switch v := t.(type) {
	case Int:
		return wireTerm{K: KindInt, I: int64(v)}, 1
	case Float:
		return wireTerm{K: KindFloat, F: float64(v)}, 1
	case Atom:
		return wireTerm{K: KindAtom, S: string(v)}, 1
	case Pid:
		return wireTerm{K: KindPid, U: uint64(v)}, 1
	case Ref:
		return wireTerm{K: KindRef, B: v[:]}, 1
	case Nil:
		return wireTerm{K: KindNil}, 1
	case Binary:
		return wireTerm{K: KindBinary, B: []byte(v)}, 1
	case Tuple:
		w := wireTerm{K: KindTuple, E: make([]wireTerm, len(v))}
		depth := 1
		for i, e := range v {
			var d int
			w.E[i], d = toWire(e)
			depth = max(depth, d+2)
		}
		return w, depth
	case *Cons:
		w := wireTerm{K: KindCons}
		depth := 1
		var cur Term = v
		for {
			c, ok := cur.(*Cons)
			if !ok {
				break
			}
			e, d := toWire(c.Head)
			w.E = append(w.E, e)
			depth = max(depth, d+2)
			cur = c.Tail
		}
		if _, ok := cur.(Nil); !ok {
			tail, d := toWire(cur)
			w.T = &tail
			depth = max(depth, d+1)
		}
		return w, depth
	}
	panic(fmt.Sprintf("term: cannot encode %T", t))
}

func fromWire(w *wireTerm) (Term, error) {
	switch w.K {
	case KindInt:
		return Int(w.I), nil
	case KindFloat:
		return Float(w.F), nil
	case KindAtom:
		return Atom(w.S), nil
	case KindPid:
		return Pid(w.U), nil
	case KindRef:
		id, err := uuid.FromBytes(w.B)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
		}
		return Ref(id), nil
	case KindNil:
		return Nil{}, nil
	case KindBinary:
		return Binary(w.B), nil
	case KindTuple:
		t := make(Tuple, len(w.E))
		for i := range w.E {
			e, err := fromWire(&w.E[i])
			if err != nil {
				return nil, err
			}
			t[i] = e
		}
		return t, nil
	case KindCons:
		if len(w.E) == 0 {
			return nil, fmt.Errorf("%w: empty list cell", ErrBadEncoding)
		}
		var tail Term = Nil{}
		if w.T != nil {
			var err error
			if tail, err = fromWire(w.T); err != nil {
				return nil, err
			}
		}
		for i := len(w.E) - 1; i >= 0; i-- {
			h, err := fromWire(&w.E[i])
			if err != nil {
				return nil, err
			}
			tail = &Cons{Head: h, Tail: tail}
		}
		return tail, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %d", ErrBadEncoding, w.K)
}
