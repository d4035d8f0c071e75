package vm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/ember/pkg/term"
	"github.com/petermattis/goid"
	"github.com/sasha-s/go-deadlock"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

// Outcome is what an Executor reports at the end of a turn.
type Outcome int

const (
	// Yield means the reduction budget ran out; the process stays runnable.
	Yield Outcome = iota
	// Wait means the process is blocked in a receive.
	Wait
	// Done means the process finished or was terminated.
	Done
)

func (o Outcome) String() string {
	switch o {
	case Yield:
		return "yield"
	case Wait:
		return "wait"
	case Done:
		return "done"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Executor runs a process until it yields, waits or finishes.
type Executor interface {
	Execute(rt *Runtime, p *Process) Outcome
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(rt *Runtime, p *Process) Outcome

// Execute calls f.
func (f ExecutorFunc) Execute(rt *Runtime, p *Process) Outcome { return f(rt, p) }

// ---------------------------------------------------------------------------
// Run queue
// ---------------------------------------------------------------------------

type runQueue struct {
	mu     deadlock.Mutex
	cond   *sync.Cond
	items  []*Process
	closed bool
}

func newRunQueue() *runQueue {
	q := &runQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *runQueue) push(p *Process) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until a process is available or the queue is closed.
func (q *runQueue) pop() (*Process, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return p, true
}

func (q *runQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *runQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

// scheduler multiplexes runnable processes onto a fixed set of workers.
type scheduler struct {
	rt      *Runtime
	queue   *runQueue
	workers int
	budget  int
	log     commonlog.Logger
}

func newScheduler(rt *Runtime, workers, budget int) *scheduler {
	return &scheduler{
		rt:      rt,
		queue:   newRunQueue(),
		workers: workers,
		budget:  budget,
		log:     commonlog.GetLogger("ember.scheduler"),
	}
}

// run starts the workers and blocks until ctx is cancelled.
func (s *scheduler) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		id := i
		g.Go(func() error {
			s.work(id)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.queue.close()
		return nil
	})
	s.log.Infof("scheduler started with %d workers, budget %d", s.workers, s.budget)
	err := g.Wait()
	s.log.Infof("scheduler stopped")
	return err
}

func (s *scheduler) enqueue(p *Process) { s.queue.push(p) }

func (s *scheduler) work(id int) {
	for {
		p, ok := s.queue.pop()
		if !ok {
			return
		}
		s.turn(p)
	}
}

// turn runs one scheduling slice of p.
func (s *scheduler) turn(p *Process) {
	if !p.state.CompareAndSwap(int32(ProcessRunnable), int32(ProcessRunning)) {
		// stale queue entry
		return
	}
	gid := goid.Get()
	if prev := p.owner.Swap(gid); prev != 0 {
		panic(fmt.Sprintf("vm: process %s is already running on goroutine %d", p.PID, prev))
	}

	p.stopTimer()
	ctx := p.ctx
	ctx.Reds = s.budget

	var out Outcome
	if exc := s.rt.processIncoming(p); exc != nil {
		if _, resumed := s.rt.HandleError(p, exc); resumed {
			out = s.execute(p)
		} else {
			out = Done
		}
	} else {
		out = s.execute(p)
	}
	s.rt.reductions.Add(uint64(s.budget - max(ctx.Reds, 0)))

	if out == Done && p.State() < ProcessExiting {
		s.rt.exit(p, AtomNormal, nil)
	}
	p.owner.Store(0)

	switch out {
	case Yield:
		p.state.Store(int32(ProcessRunnable))
		s.queue.push(p)
	case Wait:
		s.park(p)
	}
}

// execute calls the executor, converting a Go panic into an internal error
// that terminates only this process.
func (s *scheduler) execute(p *Process) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("process %s: executor panic: %v", p.PID, r)
			exc := WithValue(ExcInternalError, term.Binary(fmt.Sprint(r)))
			s.rt.HandleError(p, exc)
			out = Done
		}
	}()
	return s.rt.exec.Execute(s.rt, p)
}

// park blocks p until a signal arrives or its receive deadline passes.
// Wakers CAS Waiting -> Runnable, so whichever side observes the other's
// write first re-enqueues the process exactly once.
func (s *scheduler) park(p *Process) {
	if p.signals.pendingInternal() {
		p.state.Store(int32(ProcessRunnable))
		s.queue.push(p)
		return
	}
	deadline := p.ctx.Deadline
	if !deadline.IsZero() {
		p.armTimer(time.Until(deadline))
	}
	p.state.Store(int32(ProcessWaiting))

	if p.signals.pendingExternal() || (!deadline.IsZero() && !time.Now().Before(deadline)) {
		s.rt.wake(p)
	}
}
