package vm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chazu/ember/pkg/term"
	"github.com/sasha-s/go-deadlock"
)

type received struct {
	msg      term.Term
	monitors int
}

// forwarder drains the mailbox into out and waits for more.
func forwarder(out chan<- received) func(rt *Runtime, p *Process) Outcome {
	return func(rt *Runtime, p *Process) Outcome {
		for {
			msg, ok, exc := p.LoopReceive()
			if exc != nil {
				rt.HandleError(p, exc)
				return Done
			}
			if !ok {
				return Wait
			}
			p.RemoveMessage()
			out <- received{msg: msg, monitors: p.MonitorCount()}
		}
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for value")
		panic("unreachable")
	}
}

func TestLinkedErrorTakesDownParent(t *testing.T) {
	children := make(chan PID, 1)
	s := script{
		0: func(rt *Runtime, p *Process) Outcome {
			res, err := rt.Spawn(p, "t", "child", nil, SpawnLink)
			if err != nil {
				panic(err)
			}
			children <- res.(PID)
			p.ctx.IP = 1
			return Wait
		},
		1: idle,
		10: func(rt *Runtime, p *Process) Outcome {
			rt.HandleError(p, ErrorWith(term.Atom("v")))
			return Done
		},
	}
	rt, rec := newTestRuntime(t, Config{Workers: 2, Reductions: 100}, s, map[term.Atom]int{"parent": 0, "child": 10})
	startTestRuntime(t, rt)

	parent := spawnRoot(t, rt, "parent")
	child := recv(t, children)

	cev := rec.wait(t, child)
	if cev.Class != AtomError || !term.IsAtom(cev.Reason, "v") || !cev.Logged {
		t.Errorf("child exit = %v %v logged=%v", cev.Class, cev.Reason, cev.Logged)
	}
	pev := rec.wait(t, parent)
	if pev.Class != AtomExit || !term.IsAtom(pev.Reason, "v") {
		t.Errorf("parent exit = %v %v, want exit v", pev.Class, pev.Reason)
	}
	if n := rt.Table().Len(); n != 0 {
		t.Errorf("table has %d processes, want 0", n)
	}
}

func TestTrappedNormalExitLeavesMailboxEmpty(t *testing.T) {
	children := make(chan PID, 1)
	got := make(chan received, 4)
	s := script{
		0: func(rt *Runtime, p *Process) Outcome {
			p.SetTrapExit(true)
			res, err := rt.Spawn(p, "t", "child", nil, SpawnLink)
			if err != nil {
				panic(err)
			}
			children <- res.(PID)
			p.ctx.IP = 1
			return Wait
		},
		1:  forwarder(got),
		10: func(*Runtime, *Process) Outcome { return Done },
	}
	rt, rec := newTestRuntime(t, Config{Workers: 2, Reductions: 100}, s, map[term.Atom]int{"parent": 0, "child": 10})
	startTestRuntime(t, rt)

	parent := spawnRoot(t, rt, "parent")
	child := recv(t, children)
	if ev := rec.wait(t, child); !term.IsAtom(ev.Reason, "normal") {
		t.Fatalf("child exit = %v, want normal", ev.Reason)
	}

	// The child's exit signal is queued before its exit event fires, so
	// check arrives after it.
	rt.SendMessage(nil, parent, term.Atom("check"))
	if r := recv(t, got); !term.IsAtom(r.msg, "check") {
		t.Errorf("first message = %v, want check", r.msg)
	}
}

func TestMonitorDeliversSingleDown(t *testing.T) {
	got := make(chan received, 4)
	refs := make(chan term.Ref, 1)
	s := script{
		0: func(rt *Runtime, p *Process) Outcome {
			refs <- rt.Monitor(p, p.ctx.X[0].(PID))
			p.ctx.IP = 1
			return Yield
		},
		1:  forwarder(got),
		10: idle,
	}
	rt, rec := newTestRuntime(t, Config{Workers: 2, Reductions: 100}, s, map[term.Atom]int{"watch": 0, "target": 10})
	startTestRuntime(t, rt)

	target := spawnRoot(t, rt, "target")
	watcher := spawnRoot(t, rt, "watch", target)
	ref := recv(t, refs)

	rt.ExitTo(nil, target, term.Atom("bye"))
	rec.wait(t, target)

	r := recv(t, got)
	want := term.Tuple{AtomDOWN, ref, AtomProcess, target, term.Atom("bye")}
	if !term.Equal(r.msg, want) {
		t.Errorf("message = %v, want %v", r.msg, want)
	}
	if r.monitors != 0 {
		t.Errorf("watcher still holds %d monitors", r.monitors)
	}

	rt.SendMessage(nil, watcher, term.Atom("check"))
	if r := recv(t, got); !term.IsAtom(r.msg, "check") {
		t.Errorf("second message = %v, want check", r.msg)
	}
}

func TestDemonitorSuppressesDown(t *testing.T) {
	got := make(chan received, 4)
	ready := make(chan struct{})
	s := script{
		0: func(rt *Runtime, p *Process) Outcome {
			ref := rt.Monitor(p, p.ctx.X[0].(PID))
			if !rt.Demonitor(p, ref) {
				panic("monitor not active")
			}
			close(ready)
			p.ctx.IP = 1
			return Yield
		},
		1:  forwarder(got),
		10: idle,
	}
	rt, rec := newTestRuntime(t, Config{Workers: 2, Reductions: 100}, s, map[term.Atom]int{"watch": 0, "target": 10})
	startTestRuntime(t, rt)

	target := spawnRoot(t, rt, "target")
	watcher := spawnRoot(t, rt, "watch", target)
	recv(t, ready)

	rt.ExitTo(nil, target, AtomKill)
	if ev := rec.wait(t, target); !term.IsAtom(ev.Reason, "killed") {
		t.Errorf("target exit = %v, want killed", ev.Reason)
	}

	rt.SendMessage(nil, watcher, term.Atom("check"))
	if r := recv(t, got); !term.IsAtom(r.msg, "check") {
		t.Errorf("first message = %v, want check", r.msg)
	}
}

func TestSpawnSystemLimit(t *testing.T) {
	rt, rec := newTestRuntime(t, Config{Workers: 1, Reductions: 100, MaxProcesses: 2}, script{0: idle}, map[term.Atom]int{"idle": 0})
	startTestRuntime(t, rt)

	first := spawnRoot(t, rt, "idle")
	spawnRoot(t, rt, "idle")

	_, err := rt.Spawn(nil, "t", "idle", nil, 0)
	var exc *Exception
	if !errors.As(err, &exc) || exc.Reason.Code() != ExcSystemLimit.Code() {
		t.Fatalf("third Spawn = %v, want system_limit", err)
	}

	rt.ExitTo(nil, first, AtomKill)
	rec.wait(t, first)
	if _, err := rt.Spawn(nil, "t", "idle", nil, 0); err != nil {
		t.Errorf("Spawn after exit failed: %v", err)
	}
}

func TestSpawnUndefinedFunction(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{}, script{0: idle}, map[term.Atom]int{"idle": 0})

	_, err := rt.Spawn(nil, "t", "missing", []term.Term{term.Int(1)}, 0)
	var exc *Exception
	if !errors.As(err, &exc) || exc.Reason.Code() != ExcUndef.Code() {
		t.Fatalf("Spawn = %v, want undef", err)
	}
	want := term.Tuple{term.Atom("t"), term.Atom("missing"), term.Int(1)}
	if !term.Equal(exc.Value, want) {
		t.Errorf("undef value = %v, want %v", exc.Value, want)
	}
	if st := rt.Stats(); st.Spawned != 0 || st.Live != 0 {
		t.Errorf("stats = %+v, want nothing spawned", st)
	}
}

func TestBudgetExhaustionYields(t *testing.T) {
	counts := make(chan int, 8)
	s := script{
		0: func(_ *Runtime, p *Process) Outcome {
			n := 0
			for p.ConsumeReduction() {
				n++
			}
			select {
			case counts <- n:
			default:
			}
			return Yield
		},
		10: func(*Runtime, *Process) Outcome { return Done },
	}
	rt, rec := newTestRuntime(t, Config{Workers: 1, Reductions: 25}, s, map[term.Atom]int{"spin": 0, "other": 10})
	startTestRuntime(t, rt)

	spin := spawnRoot(t, rt, "spin")
	other := spawnRoot(t, rt, "other")

	for i := 0; i < 2; i++ {
		if n := recv(t, counts); n != 25 {
			t.Errorf("turn %d consumed %d reductions, want 25", i, n)
		}
	}
	if ev := rec.wait(t, other); !term.IsAtom(ev.Reason, "normal") {
		t.Errorf("other exit = %v, want normal", ev.Reason)
	}

	rt.ExitTo(nil, spin, AtomKill)
	if ev := rec.wait(t, spin); !term.IsAtom(ev.Reason, "killed") {
		t.Errorf("spin exit = %v, want killed", ev.Reason)
	}
	if st := rt.Stats(); st.Reductions < 50 {
		t.Errorf("Reductions = %d, want at least 50", st.Reductions)
	}
}

func TestSendWakesWaitingProcess(t *testing.T) {
	got := make(chan received, 4)
	rt, _ := newTestRuntime(t, Config{Workers: 2, Reductions: 100}, script{0: forwarder(got)}, map[term.Atom]int{"fwd": 0})
	startTestRuntime(t, rt)

	pid := spawnRoot(t, rt, "fwd")
	time.Sleep(10 * time.Millisecond)
	if _, err := rt.SendMessage(nil, pid, term.Atom("hello")); err != nil {
		t.Fatal(err)
	}
	if r := recv(t, got); !term.IsAtom(r.msg, "hello") {
		t.Errorf("message = %v, want hello", r.msg)
	}

	if err := rt.Register("srv", pid); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.SendMessage(nil, term.Atom("srv"), term.Int(7)); err != nil {
		t.Fatal(err)
	}
	if r := recv(t, got); !term.Equal(r.msg, term.Int(7)) {
		t.Errorf("message = %v, want 7", r.msg)
	}

	_, err := rt.SendMessage(nil, term.Atom("nobody"), term.Int(1))
	var exc *Exception
	if !errors.As(err, &exc) || exc.Reason.Code() != ExcBadarg.Code() {
		t.Errorf("send to unknown name = %v, want badarg", err)
	}
}

func TestConcurrentSendersKeepOrder(t *testing.T) {
	got := make(chan received, 256)
	s := script{
		0: forwarder(got),
		10: func(rt *Runtime, p *Process) Outcome {
			for i := 1; i <= 100; i++ {
				rt.SendMessage(p, p.ctx.X[0], term.Tuple{p.ctx.X[1], term.Int(i)})
			}
			return Done
		},
	}
	rt, _ := newTestRuntime(t, Config{Workers: 4, Reductions: 1000}, s, map[term.Atom]int{"collect": 0, "send": 10})
	startTestRuntime(t, rt)

	collector := spawnRoot(t, rt, "collect")
	spawnRoot(t, rt, "send", collector, term.Atom("a"))
	spawnRoot(t, rt, "send", collector, term.Atom("b"))

	next := map[term.Atom]int64{"a": 1, "b": 1}
	for i := 0; i < 200; i++ {
		r := recv(t, got)
		tup := r.msg.(term.Tuple)
		tag, n := tup[0].(term.Atom), tup[1].(term.Int)
		if int64(n) != next[tag] {
			t.Fatalf("sender %s: got %d, want %d", tag, n, next[tag])
		}
		next[tag]++
	}
}

func TestSelfSendIsImmediatelyVisible(t *testing.T) {
	got := make(chan received, 1)
	s := script{
		0: func(rt *Runtime, p *Process) Outcome {
			rt.SendMessage(p, p.PID, term.Atom("me"))
			msg, ok, _ := p.LoopReceive()
			if !ok {
				msg = term.Atom("nothing")
			}
			got <- received{msg: msg}
			return Done
		},
	}
	rt, _ := newTestRuntime(t, Config{Workers: 1}, s, map[term.Atom]int{"self": 0})
	startTestRuntime(t, rt)

	spawnRoot(t, rt, "self")
	if r := recv(t, got); !term.IsAtom(r.msg, "me") {
		t.Errorf("received %v, want me", r.msg)
	}
}

func TestReceiveDeadlineWakesProcess(t *testing.T) {
	s := script{
		0: func(_ *Runtime, p *Process) Outcome {
			if _, ok, _ := p.LoopReceive(); ok {
				panic("unexpected message")
			}
			if p.ctx.Deadline.IsZero() {
				p.EnterWait(time.Now().Add(30 * time.Millisecond))
				return Wait
			}
			if time.Now().Before(p.ctx.Deadline) {
				return Wait
			}
			p.ResetSavePointer()
			return Done
		},
	}
	rt, rec := newTestRuntime(t, Config{Workers: 1}, s, map[term.Atom]int{"sleep": 0})
	startTestRuntime(t, rt)

	start := time.Now()
	pid := spawnRoot(t, rt, "sleep")
	ev := rec.wait(t, pid)
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("woke after %v, want at least 30ms", elapsed)
	}
	if !term.IsAtom(ev.Reason, "normal") {
		t.Errorf("exit = %v, want normal", ev.Reason)
	}
}

func TestExecutorPanicIsolated(t *testing.T) {
	got := make(chan received, 1)
	s := script{
		0:  func(*Runtime, *Process) Outcome { panic("boom") },
		10: forwarder(got),
	}
	rt, rec := newTestRuntime(t, Config{Workers: 1}, s, map[term.Atom]int{"bad": 0, "good": 10})
	startTestRuntime(t, rt)

	good := spawnRoot(t, rt, "good")
	bad := spawnRoot(t, rt, "bad")

	ev := rec.wait(t, bad)
	if ev.Class != AtomError || !term.IsAtom(ev.Reason, "internal_error") || !ev.Logged {
		t.Errorf("exit = %v %v logged=%v, want logged error internal_error", ev.Class, ev.Reason, ev.Logged)
	}

	rt.SendMessage(nil, good, term.Atom("still here"))
	if r := recv(t, got); !term.IsAtom(r.msg, "still here") {
		t.Errorf("message = %v", r.msg)
	}
}

func TestRuntimeLifecycle(t *testing.T) {
	s := script{
		0:  func(*Runtime, *Process) Outcome { return Done },
		10: idle,
	}
	rt, _ := newTestRuntime(t, Config{Workers: 1}, s, map[term.Atom]int{"quick": 0, "idle": 10})

	if err := rt.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop before Start = %v, want ErrNotRunning", err)
	}

	spawnRoot(t, rt, "quick")
	startTestRuntime(t, rt)
	if err := rt.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Wait(ctx); err != nil {
		t.Fatalf("Wait = %v", err)
	}

	spawnRoot(t, rt, "idle")
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if err := rt.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait with idle process = %v, want deadline exceeded", err)
	}

	st := rt.Stats()
	if st.Spawned != 2 || st.Exited != 1 || st.Live != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestWaitAfterTimeoutSeesLaterExit(t *testing.T) {
	s := script{0: idle}
	rt, rec := newTestRuntime(t, Config{Workers: 1}, s, map[term.Atom]int{"idle": 0})
	startTestRuntime(t, rt)

	pid := spawnRoot(t, rt, "idle")
	for i := 0; i < 3; i++ {
		short, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		err := rt.Wait(short)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Wait = %v, want deadline exceeded", err)
		}
	}

	rt.ExitTo(nil, pid, AtomKill)
	rec.wait(t, pid)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Wait(ctx); err != nil {
		t.Errorf("Wait after exit = %v", err)
	}
}

func TestLiveSetIdle(t *testing.T) {
	var l liveSet
	select {
	case <-l.idle():
	default:
		t.Fatal("empty set should be idle")
	}
	l.add()
	l.add()
	ch := l.idle()
	l.done()
	select {
	case <-ch:
		t.Fatal("set with one process reported idle")
	default:
	}
	l.done()
	select {
	case <-ch:
	default:
		t.Error("idle channel not closed after last exit")
	}
}

func TestNewAppliesLockChecking(t *testing.T) {
	defer ConfigureLockChecking(false)

	New(Config{LockChecking: true}, script{})
	if deadlock.Opts.DisableLockOrderDetection || deadlock.Opts.DeadlockTimeout == 0 {
		t.Error("lock checking requested but detector is off")
	}
	New(Config{LockChecking: false}, script{})
	if !deadlock.Opts.DisableLockOrderDetection || deadlock.Opts.DeadlockTimeout != 0 {
		t.Error("lock checking disabled but detector is on")
	}
}
