package vm

import "errors"

var (
	// ErrSystemLimit is returned when the process table is full.
	ErrSystemLimit = errors.New("process table full")
	// ErrNoProc is returned when a PID or name does not resolve to a live process.
	ErrNoProc = errors.New("no such process")
	// ErrNotRunning is returned by operations that need a started runtime.
	ErrNotRunning = errors.New("runtime not running")
	// ErrNameTaken is returned when registering a name that is already in use.
	ErrNameTaken = errors.New("name already registered")
)
