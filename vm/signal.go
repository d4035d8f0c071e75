package vm

import "github.com/chazu/ember/pkg/term"

// PID identifies a process within a Runtime.
type PID = term.Pid

// ExitKind distinguishes exit signals produced by a link cascade from those
// sent explicitly with exit/2.
type ExitKind uint8

const (
	// ExitLinked is sent to every linked process when a process terminates.
	ExitLinked ExitKind = iota
	// ExitSignal is sent by exit/2 and does not require a link.
	ExitSignal
)

func (k ExitKind) String() string {
	if k == ExitLinked {
		return "linked"
	}
	return "signal"
}

// Signal is anything that can be delivered through a SignalQueue.
type Signal interface {
	// Sender returns the PID of the process that emitted the signal.
	Sender() PID
}

// MessageSignal carries a user message.
type MessageSignal struct {
	From  PID
	Value term.Term
}

// ExitSignalMsg notifies a process that From is exiting (or wants it to).
type ExitSignalMsg struct {
	From   PID
	Reason term.Term
	Kind   ExitKind
}

// LinkSignal asks the receiver to add From to its link set.
type LinkSignal struct {
	From PID
}

// UnlinkSignal asks the receiver to remove From from its link set.
type UnlinkSignal struct {
	From PID
}

// MonitorSignal tells the receiver that From now watches it under Ref.
type MonitorSignal struct {
	From PID
	Ref  term.Ref
}

// DemonitorSignal removes a monitor previously installed with Ref.
type DemonitorSignal struct {
	From PID
	Ref  term.Ref
}

// MonitorDownSignal reports that the watched process From has terminated.
type MonitorDownSignal struct {
	From   PID
	Ref    term.Ref
	Reason term.Term
}

func (s MessageSignal) Sender() PID     { return s.From }
func (s ExitSignalMsg) Sender() PID     { return s.From }
func (s LinkSignal) Sender() PID        { return s.From }
func (s UnlinkSignal) Sender() PID      { return s.From }
func (s MonitorSignal) Sender() PID     { return s.From }
func (s DemonitorSignal) Sender() PID   { return s.From }
func (s MonitorDownSignal) Sender() PID { return s.From }
