// Package vm implements the ember process runtime.
//
// This package contains:
//   - the process table (PID allocation, registered names)
//   - per-process signal queues and mailboxes
//   - the process structure with its execution context and supervision state
//   - the cooperative scheduler that multiplexes processes onto workers
//   - the fault-propagation engine (exception dispatch, exit cascades)
//
// The instruction set itself lives outside this package. An interpreter
// plugs in through the Executor interface and drives a Process forward,
// calling back into the runtime for message receive, sends, spawns and
// error handling.
package vm
