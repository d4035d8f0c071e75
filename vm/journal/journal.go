// Package journal records process exits in a SQLite database so crash
// cascades can be inspected after the runtime has stopped.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/ember/pkg/term"
	"github.com/chazu/ember/vm"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DefaultBuffer is the event buffer size used when Open is given zero.
const DefaultBuffer = 256

// Entry is one recorded process exit.
type Entry struct {
	ID        int64
	RuntimeID uuid.UUID
	PID       term.Pid
	Parent    term.Pid
	Class     term.Atom
	Reason    term.Term
	Logged    bool
	At        time.Time
}

// Journal is a vm.ExitObserver that persists exit events. ProcessExited
// never blocks the scheduler: events go through a buffered channel drained
// by Run, and events that do not fit are counted as dropped.
type Journal struct {
	db      *sql.DB
	events  chan vm.ExitEvent
	dropped atomic.Uint64
	written atomic.Uint64
	log     commonlog.Logger
}

// Open opens (and creates if needed) the journal database at path.
func Open(ctx context.Context, path string, buffer int) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(pctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Journal{
		db:     db,
		events: make(chan vm.ExitEvent, buffer),
		log:    commonlog.GetLogger("ember.journal"),
	}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_exit (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  runtime_id  TEXT NOT NULL,
  pid         INTEGER NOT NULL,
  parent      INTEGER NOT NULL,
  class       TEXT NOT NULL,
  reason      BLOB NOT NULL,
  reason_text TEXT NOT NULL,
  logged      INTEGER NOT NULL DEFAULT 0,
  exited_at   TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS process_exit_runtime_pid_idx ON process_exit(runtime_id, pid);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap journal: %w", err)
		}
	}
	return nil
}

// ProcessExited implements vm.ExitObserver.
func (j *Journal) ProcessExited(ev vm.ExitEvent) {
	select {
	case j.events <- ev:
	default:
		if j.dropped.Add(1) == 1 {
			j.log.Warningf("journal buffer full, dropping exit events")
		}
	}
}

// writeTimeout bounds a single insert. Writes are detached from the Run
// context so that events already buffered at cancellation are still stored.
const writeTimeout = 5 * time.Second

// Run writes buffered events until ctx is done, then flushes what is still
// buffered and returns.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-j.events:
			j.write(ctx, ev)
		case <-ctx.Done():
			return j.flush(ctx)
		}
	}
}

func (j *Journal) flush(ctx context.Context) error {
	for {
		select {
		case ev := <-j.events:
			j.write(ctx, ev)
		default:
			return nil
		}
	}
}

func (j *Journal) write(ctx context.Context, ev vm.ExitEvent) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := j.Record(wctx, ev); err != nil {
		j.log.Errorf("journal: %v", err)
	}
}

// Record inserts ev synchronously.
func (j *Journal) Record(ctx context.Context, ev vm.ExitEvent) error {
	reason, err := term.Encode(ev.Reason)
	if err != nil {
		return fmt.Errorf("encode exit reason of %s: %w", ev.PID, err)
	}
	logged := 0
	if ev.Logged {
		logged = 1
	}
	_, err = j.db.ExecContext(ctx, `
INSERT INTO process_exit (runtime_id, pid, parent, class, reason, reason_text, logged, exited_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`, ev.RuntimeID.String(), int64(ev.PID), int64(ev.Parent), string(ev.Class), reason, ev.Reason.String(), logged,
		ev.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert exit of %s: %w", ev.PID, err)
	}
	j.written.Add(1)
	return nil
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, runtime_id, pid, parent, class, reason, logged, exited_at
FROM process_exit
ORDER BY id DESC
LIMIT ?;
`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent exits: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exit rows: %w", err)
	}
	return entries, nil
}

// CountByClass returns how many exits of each class were recorded for a
// runtime instance.
func (j *Journal) CountByClass(ctx context.Context, runtimeID uuid.UUID) (map[term.Atom]int, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT class, COUNT(*) FROM process_exit WHERE runtime_id = ? GROUP BY class;
`, runtimeID.String())
	if err != nil {
		return nil, fmt.Errorf("count exits: %w", err)
	}
	defer rows.Close()

	counts := make(map[term.Atom]int)
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, fmt.Errorf("scan exit count: %w", err)
		}
		counts[term.Atom(class)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exit counts: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e         Entry
		runtimeID string
		pid       int64
		parent    int64
		class     string
		reason    []byte
		logged    int
		exitedAt  string
	)
	if err := row.Scan(&e.ID, &runtimeID, &pid, &parent, &class, &reason, &logged, &exitedAt); err != nil {
		return Entry{}, fmt.Errorf("scan exit row: %w", err)
	}
	var err error
	if e.RuntimeID, err = uuid.Parse(runtimeID); err != nil {
		return Entry{}, fmt.Errorf("exit row %d: runtime id: %w", e.ID, err)
	}
	if e.Reason, err = term.Decode(reason); err != nil {
		return Entry{}, fmt.Errorf("exit row %d: %w", e.ID, err)
	}
	if e.At, err = time.Parse(time.RFC3339Nano, exitedAt); err != nil {
		return Entry{}, fmt.Errorf("exit row %d: timestamp: %w", e.ID, err)
	}
	e.PID = term.Pid(pid)
	e.Parent = term.Pid(parent)
	e.Class = term.Atom(class)
	e.Logged = logged != 0
	return e, nil
}

// Dropped returns the number of events discarded because the buffer was full.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Written returns the number of events stored.
func (j *Journal) Written() uint64 { return j.written.Load() }

// Close closes the database. Run must have returned.
func (j *Journal) Close() error { return j.db.Close() }
