package vm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chazu/ember/pkg/term"
)

// testModule resolves function names to fixed entry addresses. The script
// executor uses the entry address to pick the Go function that plays the
// process.
type testModule struct {
	name term.Atom
	fns  map[term.Atom]int
}

func (m testModule) Name() term.Atom { return m.name }

func (m testModule) Entry(fn term.Atom, _ int) (int, bool) {
	ip, ok := m.fns[fn]
	return ip, ok
}

type script map[int]func(rt *Runtime, p *Process) Outcome

func (s script) Execute(rt *Runtime, p *Process) Outcome {
	return s[p.ctx.IP](rt, p)
}

// exitRecorder collects exit events and lets tests block on a given PID.
type exitRecorder struct {
	mu     sync.Mutex
	events map[PID]ExitEvent
	order  []PID
	wake   chan struct{}
}

func newExitRecorder() *exitRecorder {
	return &exitRecorder{events: make(map[PID]ExitEvent), wake: make(chan struct{})}
}

func (r *exitRecorder) ProcessExited(ev ExitEvent) {
	r.mu.Lock()
	r.events[ev.PID] = ev
	r.order = append(r.order, ev.PID)
	close(r.wake)
	r.wake = make(chan struct{})
	r.mu.Unlock()
}

func (r *exitRecorder) wait(t *testing.T, pid PID) ExitEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		r.mu.Lock()
		ev, ok := r.events[pid]
		ch := r.wake
		r.mu.Unlock()
		if ok {
			return ev
		}
		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("process %s did not exit", pid)
		}
	}
}

// newTestRuntime builds a stopped runtime running s.
func newTestRuntime(t *testing.T, cfg Config, s script, names map[term.Atom]int) (*Runtime, *exitRecorder) {
	t.Helper()
	rec := newExitRecorder()
	rt := New(cfg, s, WithObserver(rec))
	rt.Modules().Load(testModule{name: "t", fns: names})
	return rt, rec
}

func startTestRuntime(t *testing.T, rt *Runtime) {
	t.Helper()
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { rt.Stop() })
}

func spawnRoot(t *testing.T, rt *Runtime, fn term.Atom, args ...term.Term) PID {
	t.Helper()
	res, err := rt.Spawn(nil, "t", fn, args, 0)
	if err != nil {
		t.Fatalf("Spawn %s failed: %v", fn, err)
	}
	return res.(PID)
}

// idle is a script step that waits forever.
func idle(_ *Runtime, _ *Process) Outcome { return Wait }
