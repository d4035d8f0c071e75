package vm

import (
	"fmt"

	"github.com/chazu/ember/pkg/term"
)

// ---------------------------------------------------------------------------
// Exception reasons
// ---------------------------------------------------------------------------

// Reason packs the exception class, the handling flags and a short-hand
// error code into one word. The error descriptor term for a code is built
// lazily when the exception is handled.
type Reason uint32

const (
	// Classes occupy the low two bits.
	ExtError Reason = 0b00
	ExtExit  Reason = 0b01
	ExtThrow Reason = 0b10

	extClassBits Reason = 0b11

	exfOffset = 2
	exfBits   = 7

	// ExfPanic makes the exception ignore catch frames.
	ExfPanic Reason = 1 << (0 + exfOffset)
	// ExfThrown marks a non-local return raised by throw/1.
	ExfThrown Reason = 1 << (1 + exfOffset)
	// ExfLog requests a log line when the exception terminates the process.
	ExfLog Reason = 1 << (2 + exfOffset)
	// ExfNative marks exceptions raised inside a builtin.
	ExfNative Reason = 1 << (3 + exfOffset)
	// ExfSaveTrace requests a stack trace capture.
	ExfSaveTrace Reason = 1 << (4 + exfOffset)
	// ExfArgList marks an exception carrying an argument list.
	ExfArgList Reason = 1 << (5 + exfOffset)

	exfPrimary = ExfPanic | ExfThrown | ExfLog | ExfNative

	excOffset = exfOffset + exfBits
	excBits   = 5

	excCodeBits Reason = ((1 << excBits) - 1) << excOffset
)

// Primary exception reasons.
const (
	ExcPrimary Reason = ExfSaveTrace
	ExcError   Reason = ExcPrimary | ExtError | ExfLog
	ExcExit    Reason = ExcPrimary | ExtExit
	ExcThrown  Reason = ExcPrimary | ExtThrow | ExfThrown
	ExcError2  Reason = ExcError | ExfArgList
)

// Short-hand error codes.
const (
	ExcNormal         Reason = 1<<excOffset | ExcExit
	ExcInternalError  Reason = 2<<excOffset | ExcError | ExfPanic
	ExcBadarg         Reason = 3<<excOffset | ExcError
	ExcBadarith       Reason = 4<<excOffset | ExcError
	ExcBadmatch       Reason = 5<<excOffset | ExcError
	ExcFunctionClause Reason = 6<<excOffset | ExcError
	ExcCaseClause     Reason = 7<<excOffset | ExcError
	ExcIfClause       Reason = 8<<excOffset | ExcError
	ExcUndef          Reason = 9<<excOffset | ExcError
	ExcBadfun         Reason = 10<<excOffset | ExcError
	ExcBadarity       Reason = 11<<excOffset | ExcError
	ExcTimeoutValue   Reason = 12<<excOffset | ExcError
	ExcNoproc         Reason = 13<<excOffset | ExcError
	ExcNotalive       Reason = 14<<excOffset | ExcError
	ExcSystemLimit    Reason = 15<<excOffset | ExcError
	ExcTryClause      Reason = 16<<excOffset | ExcError
	ExcNotsup         Reason = 17<<excOffset | ExcError
	ExcBadmap         Reason = 18<<excOffset | ExcError
	ExcBadkey         Reason = 19<<excOffset | ExcError
)

// Atoms used by the fault-propagation engine.
const (
	AtomError   term.Atom = "error"
	AtomExit    term.Atom = "exit"
	AtomThrow   term.Atom = "throw"
	AtomNormal  term.Atom = "normal"
	AtomKill    term.Atom = "kill"
	AtomKilled  term.Atom = "killed"
	AtomNoproc  term.Atom = "noproc"
	AtomNocatch term.Atom = "nocatch"
	AtomEXIT    term.Atom = "EXIT"
	AtomDOWN    term.Atom = "DOWN"
	AtomProcess term.Atom = "process"
)

var classAtoms = [...]term.Atom{
	ExtError: AtomError,
	ExtExit:  AtomExit,
	ExtThrow: AtomThrow,
	// unused class bits are treated as error
	extClassBits: AtomError,
}

// errorDescriptors maps an error code to its descriptor atom.
var errorDescriptors = [...]term.Atom{
	"internal_error",
	"normal",
	"internal_error",
	"badarg",
	"badarith",
	"badmatch",
	"function_clause",
	"case_clause",
	"if_clause",
	"undef",
	"badfun",
	"badarity",
	"timeout_value",
	"noproc",
	"notalive",
	"system_limit",
	"try_clause",
	"notsup",
	"badmap",
	"badkey",
}

// Class returns the class bits.
func (r Reason) Class() Reason { return r & extClassBits }

// Code returns the short-hand error code, 0 for primary exceptions.
func (r Reason) Code() int { return int((r & excCodeBits) >> excOffset) }

// Primary strips the error code and transient flags, keeping only the class
// and the primary flags.
func (r Reason) Primary() Reason { return r & (exfPrimary | extClassBits) }

// Has reports whether all bits of flag are set.
func (r Reason) Has(flag Reason) bool { return r&flag == flag }

// ClassAtom returns error, exit or throw.
func (r Reason) ClassAtom() term.Atom { return classAtoms[r.Class()] }

// ---------------------------------------------------------------------------
// Exception
// ---------------------------------------------------------------------------

// Exception is a language-level fault: a reason word, the raised value and a
// stack trace term. It implements error so builtins can return it directly.
type Exception struct {
	Reason Reason
	Value  term.Term
	Trace  term.Term
}

// NewException returns an exception carrying only a reason.
func NewException(reason Reason) *Exception {
	return &Exception{Reason: reason, Value: term.Nil{}, Trace: term.Nil{}}
}

// WithValue returns an exception carrying a reason and a value.
func WithValue(reason Reason, value term.Term) *Exception {
	return &Exception{Reason: reason, Value: value, Trace: term.Nil{}}
}

// Badarg is the exception raised by builtins given an unusable argument.
func Badarg() *Exception { return NewException(ExcBadarg) }

// ExitWith raises exit(Reason).
func ExitWith(reason term.Term) *Exception { return WithValue(ExcExit, reason) }

// ErrorWith raises error(Reason).
func ErrorWith(reason term.Term) *Exception { return WithValue(ExcError, reason) }

// ThrowWith raises throw(Value).
func ThrowWith(value term.Term) *Exception { return WithValue(ExcThrown, value) }

// ExpandedValue builds the error descriptor for the exception's code.
// Codes whose descriptor carries the offending value are wrapped as
// {Atom, Value}; other codes are replaced by their atom and primary
// exceptions pass the value through.
func (e *Exception) ExpandedValue() term.Term {
	code := e.Reason.Code()
	switch code {
	case 0:
		return e.Value
	case 5, 7, 10, 11, 16, 18, 19:
		return term.Tuple{errorDescriptors[code], e.Value}
	}
	if code < len(errorDescriptors) {
		return errorDescriptors[code]
	}
	return errorDescriptors[0]
}

// Error implements error.
func (e *Exception) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason.ClassAtom(), e.ExpandedValue())
}
