package vm

import (
	"github.com/chazu/ember/pkg/term"
)

// senderPID returns p's PID, or zero for sends originating outside any
// process.
func senderPID(p *Process) PID {
	if p == nil {
		return 0
	}
	return p.PID
}

// SendMessage delivers msg to dest, which is a PID or a registered name.
// Sending to a dead PID is silently dropped; an unregistered name or any
// other destination raises badarg. The message is returned as the result.
func (rt *Runtime) SendMessage(sender *Process, dest, msg term.Term) (term.Term, error) {
	var pid PID
	switch d := dest.(type) {
	case term.Pid:
		pid = d
	case term.Atom:
		resolved, ok := rt.table.Whereis(d)
		if !ok {
			return nil, Badarg()
		}
		pid = resolved
	default:
		return nil, Badarg()
	}

	if sender != nil && pid == sender.PID {
		sender.mailbox.Send(msg)
		return msg, nil
	}
	rt.deliverTo(pid, MessageSignal{From: senderPID(sender), Value: msg})
	return msg, nil
}

// Link creates a link between p and pid. Linking to a process that does not
// exist raises noproc.
func (rt *Runtime) Link(p *Process, pid PID) error {
	if pid == p.PID {
		return nil
	}
	target := rt.table.Get(pid)
	if target == nil {
		return WithValue(ExcNoproc, pid)
	}
	p.links[pid] = struct{}{}
	rt.deliver(target, LinkSignal{From: p.PID})
	return nil
}

// Unlink removes the link between p and pid, if any.
func (rt *Runtime) Unlink(p *Process, pid PID) {
	if _, ok := p.links[pid]; !ok {
		return
	}
	delete(p.links, pid)
	rt.deliverTo(pid, UnlinkSignal{From: p.PID})
}

// Monitor makes p watch pid and returns the monitor reference. Monitoring a
// process that does not exist delivers an immediate DOWN with noproc.
func (rt *Runtime) Monitor(p *Process, pid PID) term.Ref {
	ref := term.MakeRef()
	target := rt.table.Get(pid)
	if target == nil {
		p.mailbox.Send(term.Tuple{AtomDOWN, ref, AtomProcess, pid, AtomNoproc})
		return ref
	}
	p.monitors[ref] = pid
	rt.deliver(target, MonitorSignal{From: p.PID, Ref: ref})
	return ref
}

// Demonitor removes a monitor. A DOWN notification already in flight for
// ref is discarded when it arrives. It reports whether ref was active.
func (rt *Runtime) Demonitor(p *Process, ref term.Ref) bool {
	pid, ok := p.monitors[ref]
	if !ok {
		return false
	}
	delete(p.monitors, ref)
	rt.deliverTo(pid, DemonitorSignal{From: p.PID, Ref: ref})
	return true
}

// ExitTo sends an explicit exit signal with reason to pid. from may be nil
// for signals sent from outside any process.
func (rt *Runtime) ExitTo(from *Process, pid PID, reason term.Term) {
	rt.deliverTo(pid, ExitSignalMsg{From: senderPID(from), Reason: reason, Kind: ExitSignal})
}
