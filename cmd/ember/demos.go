package main

import (
	"fmt"
	"sort"
	"strings"

	bc "github.com/chazu/ember/pkg/bytecode"
	"github.com/chazu/ember/pkg/term"
)

// demo is a runnable sample program.
type demo struct {
	name  string
	help  string
	build func() *bc.Module
	args  func(n, m int) []term.Term
}

var demos = map[string]demo{
	"ring": {
		name:  "ring",
		help:  "pass a token m times around a ring of n processes",
		build: ringModule,
		args:  func(n, m int) []term.Term { return []term.Term{term.Int(n), term.Int(m)} },
	},
	"fanout": {
		name:  "fanout",
		help:  "spawn n monitored workers that each sum 1..m and collect their DOWN messages",
		build: fanoutModule,
		args:  func(n, m int) []term.Term { return []term.Term{term.Int(n), term.Int(m)} },
	},
	"crash": {
		name:  "crash",
		help:  "catch an error in a child, then let a linked chain of n processes collapse",
		build: crashModule,
		args:  func(n, _ int) []term.Term { return []term.Term{term.Int(n)} },
	},
}

func demoNames() string {
	names := make([]string, 0, len(demos))
	for name := range demos {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func lookupDemo(name string) (demo, error) {
	d, ok := demos[name]
	if !ok {
		return demo{}, fmt.Errorf("unknown demo %q (have %s)", name, demoNames())
	}
	return d, nil
}

var nilList = bc.C(term.Nil{})

// ringModule builds ring:run/2 and ring:node/1. run spawns n nodes, each
// pointing at the previously spawned one, sends the token to the last and
// then joins the ring itself. A node forwards token-1; the node that sees 0
// forwards 0 once more and returns, so the whole ring winds down.
func ringModule() *bc.Module {
	b := bc.NewBuilder("ring")
	node := b.NewLabel()

	// run(N, M): y0 = nodes left to spawn, y1 = previous pid, y2 = token
	b.Function("run", 2)
	b.Emit(bc.OpAllocate, bc.I(3))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(0))
	b.Emit(bc.OpMove, bc.X(1), bc.Y(2))
	b.Emit(bc.OpCallBif, bc.A("self"), bc.I(0))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(1))
	spawnLoop, spawned := b.Here(), b.NewLabel()
	b.Emit(bc.OpIsNe, bc.L(spawned), bc.Y(0), bc.C(term.Int(0)))
	b.Emit(bc.OpPutList, bc.Y(1), nilList, bc.X(2))
	b.Emit(bc.OpMove, bc.A("ring"), bc.X(0))
	b.Emit(bc.OpMove, bc.A("node"), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("spawn"), bc.I(3))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(1))
	b.Emit(bc.OpMove, bc.Y(0), bc.X(0))
	b.Emit(bc.OpMove, bc.C(term.Int(1)), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("-"), bc.I(2))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(0))
	b.Emit(bc.OpJump, bc.L(spawnLoop))
	b.Bind(spawned)
	b.Emit(bc.OpMove, bc.Y(1), bc.X(0))
	b.Emit(bc.OpMove, bc.Y(2), bc.X(1))
	b.Emit(bc.OpSend)
	b.Emit(bc.OpMove, bc.Y(1), bc.X(0))
	b.Emit(bc.OpDeallocate, bc.I(3))
	b.Emit(bc.OpJump, bc.L(node))

	// node(Next): y0 = next pid
	b.Function("node", 1)
	b.Bind(node)
	b.Emit(bc.OpAllocate, bc.I(1))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(0))
	loop, wait, last := b.Here(), b.NewLabel(), b.NewLabel()
	b.Emit(bc.OpLoopRec, bc.L(wait), bc.X(0))
	b.Emit(bc.OpRemoveMessage)
	b.Emit(bc.OpIsNe, bc.L(last), bc.X(0), bc.C(term.Int(0)))
	b.Emit(bc.OpMove, bc.C(term.Int(1)), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("-"), bc.I(2))
	b.Emit(bc.OpMove, bc.X(0), bc.X(1))
	b.Emit(bc.OpMove, bc.Y(0), bc.X(0))
	b.Emit(bc.OpSend)
	b.Emit(bc.OpJump, bc.L(loop))
	b.Bind(last)
	b.Emit(bc.OpMove, bc.Y(0), bc.X(0))
	b.Emit(bc.OpMove, bc.C(term.Int(0)), bc.X(1))
	b.Emit(bc.OpSend)
	b.Emit(bc.OpDeallocate, bc.I(1))
	b.Emit(bc.OpReturn)
	b.Bind(wait)
	b.Emit(bc.OpWait, bc.L(loop))

	return b.MustBuild()
}

// fanoutModule builds fanout:run/2 and fanout:worker/1. Workers exit with
// {done, Sum}; run adds up the sums carried by the DOWN messages and exits
// with {total, Total}.
func fanoutModule() *bc.Module {
	b := bc.NewBuilder("fanout")

	// run(N, K): y0 = workers left to spawn, y1 = K, y2 = outstanding, y3 = total
	b.Function("run", 2)
	b.Emit(bc.OpAllocate, bc.I(4))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(0))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(2))
	b.Emit(bc.OpMove, bc.X(1), bc.Y(1))
	b.Emit(bc.OpMove, bc.C(term.Int(0)), bc.Y(3))
	spawnLoop, collect := b.Here(), b.NewLabel()
	b.Emit(bc.OpIsNe, bc.L(collect), bc.Y(0), bc.C(term.Int(0)))
	b.Emit(bc.OpPutList, bc.Y(1), nilList, bc.X(2))
	b.Emit(bc.OpMove, bc.A("fanout"), bc.X(0))
	b.Emit(bc.OpMove, bc.A("worker"), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("spawn_monitor"), bc.I(3))
	b.Emit(bc.OpMove, bc.Y(0), bc.X(0))
	b.Emit(bc.OpMove, bc.C(term.Int(1)), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("-"), bc.I(2))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(0))
	b.Emit(bc.OpJump, bc.L(spawnLoop))

	b.Bind(collect)
	finish, recv, skip, wait := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Emit(bc.OpIsNe, bc.L(finish), bc.Y(2), bc.C(term.Int(0)))
	b.Bind(recv)
	b.Emit(bc.OpLoopRec, bc.L(wait), bc.X(0))
	b.Emit(bc.OpTestArity, bc.L(skip), bc.X(0), bc.I(5))
	b.Emit(bc.OpGetElement, bc.X(0), bc.I(4), bc.X(1))
	b.Emit(bc.OpGetElement, bc.X(1), bc.I(1), bc.X(1))
	b.Emit(bc.OpRemoveMessage)
	b.Emit(bc.OpMove, bc.Y(3), bc.X(0))
	b.Emit(bc.OpCallBif, bc.A("+"), bc.I(2))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(3))
	b.Emit(bc.OpMove, bc.Y(2), bc.X(0))
	b.Emit(bc.OpMove, bc.C(term.Int(1)), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("-"), bc.I(2))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(2))
	b.Emit(bc.OpJump, bc.L(collect))
	b.Bind(skip)
	b.Emit(bc.OpLoopRecEnd, bc.L(recv))
	b.Bind(wait)
	b.Emit(bc.OpWait, bc.L(recv))
	b.Bind(finish)
	b.Emit(bc.OpPutTuple, bc.X(0), bc.A("total"), bc.Y(3))
	b.Emit(bc.OpDeallocate, bc.I(4))
	b.Emit(bc.OpCallBif, bc.A("exit"), bc.I(1))

	// worker(K): y0 = counter, y1 = sum
	b.Function("worker", 1)
	b.Emit(bc.OpAllocate, bc.I(2))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(0))
	b.Emit(bc.OpMove, bc.C(term.Int(0)), bc.Y(1))
	sum, done := b.Here(), b.NewLabel()
	b.Emit(bc.OpIsNe, bc.L(done), bc.Y(0), bc.C(term.Int(0)))
	b.Emit(bc.OpMove, bc.Y(1), bc.X(0))
	b.Emit(bc.OpMove, bc.Y(0), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("+"), bc.I(2))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(1))
	b.Emit(bc.OpMove, bc.Y(0), bc.X(0))
	b.Emit(bc.OpMove, bc.C(term.Int(1)), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("-"), bc.I(2))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(0))
	b.Emit(bc.OpJump, bc.L(sum))
	b.Bind(done)
	b.Emit(bc.OpPutTuple, bc.X(0), bc.A("done"), bc.Y(1))
	b.Emit(bc.OpDeallocate, bc.I(2))
	b.Emit(bc.OpCallBif, bc.A("exit"), bc.I(1))

	return b.MustBuild()
}

// crashModule builds crash:run/1, crash:guarded/0 and crash:chain/1. run
// traps exits, collects the result of a child that catches its own
// badarith, then spawns a linked chain whose deepest member raises boom.
// It exits with {done, Guarded, Cascade}.
func crashModule() *bc.Module {
	b := bc.NewBuilder("crash")

	// run(Depth): y0 = depth, later the cascade reason
	b.Function("run", 1)
	b.Emit(bc.OpAllocate, bc.I(1))
	b.Emit(bc.OpMove, bc.X(0), bc.Y(0))
	b.Emit(bc.OpMove, bc.A("trap_exit"), bc.X(0))
	b.Emit(bc.OpMove, bc.A("true"), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("process_flag"), bc.I(2))
	b.Emit(bc.OpMove, bc.A("crash"), bc.X(0))
	b.Emit(bc.OpMove, bc.A("guarded"), bc.X(1))
	b.Emit(bc.OpMove, nilList, bc.X(2))
	b.Emit(bc.OpCallBif, bc.A("spawn_link"), bc.I(3))
	recv1, wait1 := b.Here(), b.NewLabel()
	b.Emit(bc.OpLoopRec, bc.L(wait1), bc.X(0))
	b.Emit(bc.OpRemoveMessage)
	b.Emit(bc.OpGetElement, bc.X(0), bc.I(2), bc.X(1))
	b.Emit(bc.OpMove, bc.A("guarded"), bc.X(0))
	b.Emit(bc.OpCallBif, bc.A("put"), bc.I(2))

	b.Emit(bc.OpPutList, bc.Y(0), nilList, bc.X(2))
	b.Emit(bc.OpMove, bc.A("crash"), bc.X(0))
	b.Emit(bc.OpMove, bc.A("chain"), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("spawn_link"), bc.I(3))
	recv2, wait2 := b.Here(), b.NewLabel()
	b.Emit(bc.OpLoopRec, bc.L(wait2), bc.X(0))
	b.Emit(bc.OpRemoveMessage)
	b.Emit(bc.OpGetElement, bc.X(0), bc.I(2), bc.Y(0))
	b.Emit(bc.OpMove, bc.A("guarded"), bc.X(0))
	b.Emit(bc.OpCallBif, bc.A("get"), bc.I(1))
	b.Emit(bc.OpPutTuple, bc.X(0), bc.A("done"), bc.X(0), bc.Y(0))
	b.Emit(bc.OpDeallocate, bc.I(1))
	b.Emit(bc.OpCallBif, bc.A("exit"), bc.I(1))
	b.Bind(wait1)
	b.Emit(bc.OpWait, bc.L(recv1))
	b.Bind(wait2)
	b.Emit(bc.OpWait, bc.L(recv2))

	// guarded(): catch the badarith from 1 div 0 and exit with {caught, Reason}
	b.Function("guarded", 0)
	handler := b.NewLabel()
	b.Emit(bc.OpAllocate, bc.I(1))
	b.Emit(bc.OpTry, bc.Y(0), bc.L(handler))
	b.Emit(bc.OpMove, bc.C(term.Int(1)), bc.X(0))
	b.Emit(bc.OpMove, bc.C(term.Int(0)), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("div"), bc.I(2))
	b.Emit(bc.OpTryEnd, bc.Y(0))
	b.Emit(bc.OpDeallocate, bc.I(1))
	b.Emit(bc.OpReturn)
	b.Bind(handler)
	b.Emit(bc.OpTryCase, bc.Y(0))
	b.Emit(bc.OpPutTuple, bc.X(0), bc.A("caught"), bc.X(1))
	b.Emit(bc.OpDeallocate, bc.I(1))
	b.Emit(bc.OpCallBif, bc.A("exit"), bc.I(1))

	// chain(Depth): link a deeper link, or raise boom at the bottom
	b.Function("chain", 1)
	bottom := b.NewLabel()
	b.Emit(bc.OpIsNe, bc.L(bottom), bc.X(0), bc.C(term.Int(0)))
	b.Emit(bc.OpMove, bc.C(term.Int(1)), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("-"), bc.I(2))
	b.Emit(bc.OpPutList, bc.X(0), nilList, bc.X(2))
	b.Emit(bc.OpMove, bc.A("crash"), bc.X(0))
	b.Emit(bc.OpMove, bc.A("chain"), bc.X(1))
	b.Emit(bc.OpCallBif, bc.A("spawn_link"), bc.I(3))
	idle, idleWait := b.Here(), b.NewLabel()
	b.Emit(bc.OpLoopRec, bc.L(idleWait), bc.X(0))
	b.Emit(bc.OpRemoveMessage)
	b.Emit(bc.OpJump, bc.L(idle))
	b.Bind(idleWait)
	b.Emit(bc.OpWait, bc.L(idle))
	b.Bind(bottom)
	b.Emit(bc.OpMove, bc.A("boom"), bc.X(0))
	b.Emit(bc.OpCallBif, bc.A("error"), bc.I(1))

	return b.MustBuild()
}
