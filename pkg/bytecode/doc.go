// Package bytecode provides a register machine that runs ember processes.
//
// The instruction set is modeled on a classic actor VM: a small file of X
// registers for arguments and temporaries, a frame stack of Y slots for
// values that must survive calls, and dedicated instructions for selective
// receive and exception handling.
//
// # Architecture Overview
//
//   - Opcodes: instructions grouped into data movement, control flow, tests,
//     exceptions and messages (see opcodes.go for the ranges)
//
//   - Module: assembled code plus exported entry points. Modules are built
//     with a Builder, which resolves forward labels, and implement vm.Module
//     so the runtime can spawn processes on them
//
//   - Interpreter: implements vm.Executor. Each instruction costs one
//     reduction; when the turn's budget is spent the interpreter yields back
//     to the scheduler
//
// # Receive Loops
//
// A receive compiles to a loop over the mailbox's save pointer:
//
//	loop:  LOOP_REC     wait, x0       ; peek or jump to wait when exhausted
//	       IS_EQ        next, x0, ping ; pattern test
//	       REMOVE_MESSAGE
//	       ...
//	next:  LOOP_REC_END loop           ; skip message, try the next one
//	wait:  WAIT_TIMEOUT loop, 100      ; block, or fall through on timeout
//	       TIMEOUT
//
// # Exceptions
//
// TRY stores a catch marker in a Y slot. When a builtin or instruction raises,
// the interpreter hands the exception to the runtime, which either resumes at
// the innermost handler (with class, value and trace in x1..x3) or
// terminates the process. TRY_CASE shifts those into x0..x2.
package bytecode
