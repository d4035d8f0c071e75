package vm

import (
	"time"

	"github.com/chazu/ember/pkg/term"
)

// ---------------------------------------------------------------------------
// Incoming signal classification
// ---------------------------------------------------------------------------

// processIncoming drains the signal queue: messages go to the mailbox,
// supervision signals update local bookkeeping. An exit signal that must
// terminate the process stops the drain and is returned as an exception;
// anything still queued is handled on a later call.
func (rt *Runtime) processIncoming(p *Process) *Exception {
	for {
		sig, ok := p.signals.Receive()
		if !ok {
			return nil
		}
		switch s := sig.(type) {
		case MessageSignal:
			p.mailbox.Send(s.Value)
		case ExitSignalMsg:
			if exc := rt.handleExitSignal(p, s); exc != nil {
				return exc
			}
		case LinkSignal:
			p.links[s.From] = struct{}{}
		case UnlinkSignal:
			delete(p.links, s.From)
		case MonitorSignal:
			p.ltMonitors = append(p.ltMonitors, ltMonitor{watcher: s.From, ref: s.Ref})
		case DemonitorSignal:
			p.removeWatcher(s.Ref)
		case MonitorDownSignal:
			if _, ok := p.monitors[s.Ref]; !ok {
				// demonitored before the notification arrived
				continue
			}
			delete(p.monitors, s.Ref)
			p.mailbox.Send(term.Tuple{AtomDOWN, s.Ref, AtomProcess, s.From, s.Reason})
		}
	}
}

// handleExitSignal applies an exit signal to p. It returns the exception
// that terminates p, or nil when the signal was ignored or turned into a
// message.
func (rt *Runtime) handleExitSignal(p *Process, s ExitSignalMsg) *Exception {
	if s.Kind == ExitLinked {
		if _, ok := p.links[s.From]; !ok {
			return nil
		}
		delete(p.links, s.From)
	}

	if term.IsAtom(s.Reason, AtomKill) {
		p.ctx.Catches = 0
		return WithValue(ExcExit|ExfPanic, AtomKilled)
	}
	normal := term.IsAtom(s.Reason, AtomNormal)
	if normal && s.Kind == ExitLinked {
		// a linked process finishing normally is not an event, even when trapping
		return nil
	}
	if p.trapExit {
		p.mailbox.Send(term.Tuple{AtomEXIT, s.From, s.Reason})
		return nil
	}
	if normal {
		return nil
	}
	p.ctx.Catches = 0
	return ExitWith(s.Reason)
}

// ---------------------------------------------------------------------------
// Exception dispatch
// ---------------------------------------------------------------------------

// HandleError routes exc through p's catch frames. When a catch is found the
// stack is unwound to it, X1..X3 hold class, value and trace, and the handler
// address is returned with resumed set. Otherwise the process is terminated
// and resumed is false.
func (rt *Runtime) HandleError(p *Process, exc *Exception) (ip int, resumed bool) {
	ctx := p.ctx

	if exc.Reason.Has(ExfThrown) && ctx.Catches <= 0 {
		exc.Value = term.Tuple{AtomNocatch, exc.Value}
		exc.Reason = ExcError
	}
	if exc.Reason.Has(ExfSaveTrace) {
		exc.Trace = ctx.trace()
	}
	exc.Value = exc.ExpandedValue()
	exc.Reason = exc.Reason.Primary()

	if ctx.Catches > 0 && !exc.Reason.Has(ExfPanic) {
		ctx.X[1] = exc.Reason.ClassAtom()
		ctx.X[2] = exc.Value
		ctx.X[3] = exc.Trace
		if addr, ok := ctx.unwindToCatch(); ok {
			ctx.CP = -1
			ctx.IP = addr
			return addr, true
		}
		rt.log.Errorf("process %s: catch count %d but no catch frame", p.PID, ctx.Catches)
		exc = &Exception{Reason: ExcInternalError.Primary(), Value: term.Atom("internal_error"), Trace: exc.Trace}
	}

	rt.terminate(p, exc)
	return -1, false
}

// terminate ends p because of an unhandled exception.
func (rt *Runtime) terminate(p *Process, exc *Exception) {
	if exc.Reason.Has(ExfLog) {
		rt.log.Errorf("Error in process %s with exit value: %s", p.PID, exc.Value)
	}
	rt.exit(p, exc.Value, exc)
}

// exit runs the termination cascade. Every outbound signal is enqueued
// before the table entry is removed, so a process that can still be looked
// up has not finished notifying its links and watchers.
func (rt *Runtime) exit(p *Process, reason term.Term, exc *Exception) {
	if p.State() >= ProcessExiting {
		return
	}
	p.state.Store(int32(ProcessExiting))
	p.stopTimer()

	rt.absorbControlSignals(p)

	for pid := range p.links {
		rt.deliverTo(pid, ExitSignalMsg{From: p.PID, Reason: reason, Kind: ExitLinked})
	}
	for ref, pid := range p.monitors {
		rt.deliverTo(pid, DemonitorSignal{From: p.PID, Ref: ref})
	}
	for _, m := range p.ltMonitors {
		rt.deliverTo(m.watcher, MonitorDownSignal{From: p.PID, Ref: m.ref, Reason: reason})
	}

	rt.table.Remove(p.PID)

	for _, sig := range p.signals.Close() {
		rt.bounce(p.PID, sig)
	}

	p.exitReason.Store(reasonBox{reason})
	p.state.Store(int32(ProcessExited))
	rt.exited.Add(1)
	rt.log.Debugf("process %s exited: %s", p.PID, reason)

	ev := ExitEvent{
		PID:       p.PID,
		Parent:    p.Parent,
		Reason:    reason,
		Class:     AtomExit,
		Logged:    false,
		At:        time.Now(),
		RuntimeID: rt.id,
	}
	if exc != nil {
		ev.Class = exc.Reason.ClassAtom()
		ev.Logged = exc.Reason.Has(ExfLog)
	}
	for _, o := range rt.observers {
		o.ProcessExited(ev)
	}
	rt.live.done()
}

// absorbControlSignals applies supervision signals that arrived before the
// process started exiting, so late linkers and watchers are notified too.
func (rt *Runtime) absorbControlSignals(p *Process) {
	for {
		sig, ok := p.signals.Receive()
		if !ok {
			return
		}
		switch s := sig.(type) {
		case LinkSignal:
			p.links[s.From] = struct{}{}
		case UnlinkSignal:
			delete(p.links, s.From)
		case MonitorSignal:
			p.ltMonitors = append(p.ltMonitors, ltMonitor{watcher: s.From, ref: s.Ref})
		case DemonitorSignal:
			p.removeWatcher(s.Ref)
		}
	}
}

// bounce answers a signal that reached a process after it terminated.
func (rt *Runtime) bounce(dead PID, sig Signal) {
	switch s := sig.(type) {
	case LinkSignal:
		rt.deliverTo(s.From, ExitSignalMsg{From: dead, Reason: AtomNoproc, Kind: ExitLinked})
	case MonitorSignal:
		rt.deliverTo(s.From, MonitorDownSignal{From: dead, Ref: s.Ref, Reason: AtomNoproc})
	}
}
