// Ember CLI - runs a sample program on the process runtime
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/ember/manifest"
	"github.com/chazu/ember/pkg/bytecode"
	"github.com/chazu/ember/pkg/term"
	"github.com/chazu/ember/vm"
	"github.com/chazu/ember/vm/journal"
)

type options struct {
	demo        string
	n, m        int
	dir         string
	workers     int
	reductions  int
	verbosity   int
	journalPath string
	timeout     time.Duration
	disasm      bool
	trace       bool
	lockCheck   bool
}

func main() {
	var o options
	flag.StringVar(&o.demo, "demo", "ring", "Demo to run: "+demoNames())
	flag.IntVar(&o.n, "n", 100, "Process count (ring size, worker count, chain depth)")
	flag.IntVar(&o.m, "m", 1000, "Work size (ring token, per-worker sum bound)")
	flag.StringVar(&o.dir, "C", ".", "Directory to search for ember.toml")
	flag.IntVar(&o.workers, "workers", 0, "Scheduler workers (overrides ember.toml)")
	flag.IntVar(&o.reductions, "reductions", 0, "Reduction budget per turn (overrides ember.toml)")
	flag.IntVar(&o.verbosity, "v", 0, "Log verbosity (overrides ember.toml)")
	flag.StringVar(&o.journalPath, "journal", "", "Record process exits in this SQLite file")
	flag.DurationVar(&o.timeout, "timeout", 30*time.Second, "Give up waiting for the demo after this long")
	flag.BoolVar(&o.disasm, "disasm", false, "Print the demo module and exit")
	flag.BoolVar(&o.trace, "trace", false, "Log every executed instruction (needs -v 2)")
	flag.BoolVar(&o.lockCheck, "lock-checking", false, "Enable lock order and deadlock detection")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ember [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a built-in demo program on the process runtime.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nDemos:\n")
		for _, name := range []string{"ring", "fanout", "crash"} {
			fmt.Fprintf(os.Stderr, "  %-8s %s\n", name, demos[name].help)
		}
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ember -demo ring -n 1000 -m 100000\n")
		fmt.Fprintf(os.Stderr, "  ember -demo crash -n 5 -v 1\n")
		fmt.Fprintf(os.Stderr, "  ember -demo fanout -disasm\n")
	}
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	d, err := lookupDemo(o.demo)
	if err != nil {
		return err
	}
	mod := d.build()
	if o.disasm {
		fmt.Print(mod.Disassemble())
		return nil
	}

	m, err := loadManifest(o)
	if err != nil {
		return err
	}
	commonlog.Configure(m.Log.Verbosity, m.LogPath())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := &rootWatcher{}
	opts := []vm.Option{vm.WithObserver(root)}

	var (
		jrn         *journal.Journal
		journalDone chan error
		jctx        context.Context
		jcancel     context.CancelFunc
	)
	if path := m.JournalPath(); path != "" {
		jrn, err = journal.Open(ctx, path, m.Journal.Buffer)
		if err != nil {
			return err
		}
		defer jrn.Close()
		jctx, jcancel = context.WithCancel(ctx)
		defer jcancel()
		journalDone = make(chan error, 1)
		go func() { journalDone <- jrn.Run(jctx) }()
		opts = append(opts, vm.WithObserver(jrn))
	}

	interp := bytecode.NewInterpreter()
	interp.Trace = o.trace
	rt := vm.New(m.RuntimeConfig(), interp, opts...)
	rt.Modules().Load(mod)

	start := time.Now()
	if err := rt.Start(ctx); err != nil {
		return err
	}
	if _, err := rt.SpawnModule(mod, "run", d.args(o.n, o.m)...); err != nil {
		rt.Stop()
		return err
	}

	wctx, wcancel := context.WithTimeout(ctx, o.timeout)
	defer wcancel()
	waitErr := rt.Wait(wctx)
	elapsed := time.Since(start)
	if err := rt.Stop(); err != nil {
		return err
	}

	if reason, ok := root.reason(); ok {
		fmt.Printf("%s:run exited: %s\n", d.name, reason)
	}
	printStats(rt.Stats(), elapsed)

	if jrn != nil {
		jcancel()
		if err := <-journalDone; err != nil {
			return err
		}
		if err := printJournal(ctx, jrn, rt); err != nil {
			return err
		}
	}
	return waitErr
}

// loadManifest finds ember.toml (or uses defaults) and applies flag
// overrides.
func loadManifest(o options) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(o.dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			m.Scheduler.Workers = o.workers
		case "reductions":
			m.Scheduler.Reductions = o.reductions
		case "v":
			m.Log.Verbosity = o.verbosity
		case "journal":
			m.Journal.Path = o.journalPath
		case "lock-checking":
			m.Debug.LockChecking = o.lockCheck
		}
	})
	return m, nil
}

func printStats(st vm.Stats, elapsed time.Duration) {
	fmt.Printf("processes: %s spawned, %s exited, %s live\n",
		humanize.Comma(int64(st.Spawned)), humanize.Comma(int64(st.Exited)), humanize.Comma(int64(st.Live)))
	fmt.Printf("reductions: %s in %s", humanize.Comma(int64(st.Reductions)), elapsed.Round(time.Microsecond))
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Printf(" (%s/s)", humanize.SIWithDigits(float64(st.Reductions)/secs, 1, ""))
	}
	fmt.Println()
}

func printJournal(ctx context.Context, j *journal.Journal, rt *vm.Runtime) error {
	counts, err := j.CountByClass(ctx, rt.ID())
	if err != nil {
		return err
	}
	fmt.Printf("journal: %s exits recorded (%s dropped); error=%d exit=%d throw=%d\n",
		humanize.Comma(int64(j.Written())), humanize.Comma(int64(j.Dropped())),
		counts[vm.AtomError], counts[vm.AtomExit], counts[vm.AtomThrow])
	recent, err := j.Recent(ctx, 5)
	if err != nil {
		return err
	}
	for _, e := range recent {
		fmt.Printf("  %s %-5s %s (%s)\n", e.PID, e.Class, e.Reason, humanize.Time(e.At))
	}
	return nil
}

// rootWatcher remembers the exit of the demo's root process, the only one
// spawned from Go and therefore without a parent.
type rootWatcher struct {
	mu sync.Mutex
	ev *vm.ExitEvent
}

func (w *rootWatcher) ProcessExited(ev vm.ExitEvent) {
	if ev.Parent != 0 {
		return
	}
	w.mu.Lock()
	w.ev = &ev
	w.mu.Unlock()
}

func (w *rootWatcher) reason() (term.Term, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ev == nil {
		return nil, false
	}
	return w.ev.Reason, true
}
