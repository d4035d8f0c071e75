package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chazu/ember/pkg/bytecode"
	"github.com/chazu/ember/pkg/term"
	"github.com/chazu/ember/vm"
)

func runDemo(t *testing.T, name string, n, m int) (term.Term, vm.Stats) {
	t.Helper()
	d, err := lookupDemo(name)
	if err != nil {
		t.Fatal(err)
	}
	root := &rootWatcher{}
	rt := vm.New(vm.Config{Workers: 4, Reductions: 200}, bytecode.NewInterpreter(), vm.WithObserver(root))
	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer rt.Stop()

	if _, err := rt.SpawnModule(d.build(), "run", d.args(n, m)...); err != nil {
		t.Fatalf("spawn %s: %v", name, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Wait(ctx); err != nil {
		t.Fatalf("%s did not finish: %v", name, err)
	}
	reason, ok := root.reason()
	if !ok {
		t.Fatalf("%s: root exit not observed", name)
	}
	return reason, rt.Stats()
}

func TestRingDemo(t *testing.T) {
	reason, st := runDemo(t, "ring", 10, 100)
	if !term.IsAtom(reason, "normal") {
		t.Errorf("exit = %v, want normal", reason)
	}
	if st.Spawned != 11 || st.Live != 0 {
		t.Errorf("stats = %+v, want 11 spawned and none live", st)
	}
}

func TestFanoutDemo(t *testing.T) {
	reason, st := runDemo(t, "fanout", 4, 1000)
	want := term.Tuple{term.Atom("total"), term.Int(4 * 500500)}
	if !term.Equal(reason, want) {
		t.Errorf("exit = %v, want %v", reason, want)
	}
	if st.Spawned != 5 {
		t.Errorf("Spawned = %d, want 5", st.Spawned)
	}
}

func TestCrashDemo(t *testing.T) {
	reason, st := runDemo(t, "crash", 3, 0)
	want := term.Tuple{
		term.Atom("done"),
		term.Tuple{term.Atom("caught"), term.Atom("badarith")},
		term.Atom("boom"),
	}
	if !term.Equal(reason, want) {
		t.Errorf("exit = %v, want %v", reason, want)
	}
	// root, guarded and chain(3)..chain(0)
	if st.Spawned != 6 || st.Live != 0 {
		t.Errorf("stats = %+v, want 6 spawned and none live", st)
	}
}

func TestLookupDemoUnknown(t *testing.T) {
	_, err := lookupDemo("nope")
	if err == nil || !strings.Contains(err.Error(), "crash, fanout, ring") {
		t.Errorf("lookupDemo = %v", err)
	}
}

func TestDemosDisassemble(t *testing.T) {
	for name, d := range demos {
		out := d.build().Disassemble()
		if !strings.Contains(out, "; === "+name+" ===") {
			t.Errorf("%s listing missing header:\n%s", name, out)
		}
	}
}
