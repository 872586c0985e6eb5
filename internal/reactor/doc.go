// Package reactor runs the transfer event loop of one worker group.
//
// A Reactor owns a fixed table of slots. Each slot is bound to one backend
// SOCKS address for its whole life, so every transfer a slot performs goes
// through that backend. One iteration of the loop is:
//
//	admit  take tasks from the shared queue while a slot is free
//	drive  collect transfers that finished, without blocking
//	reap   close the output file, record the result, free the slot, TaskDone
//	wait   block until a transfer finishes, the queue changes, the poll
//	       interval elapses or the context is cancelled
//
// Every admitted task is reaped exactly once and acknowledged with TaskDone
// whether it succeeded or not. Response bodies are appended to the task's
// output file, which is never truncated.
//
// Failures are classified into kinds (timeout, connect, redirect_limit,
// protocol, output, canceled), logged and recorded. They never stop the
// loop and are never retried.
package reactor
