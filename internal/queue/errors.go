package queue

import "errors"

// Queue errors.
//
// Design decision: ErrTaskDoneUnderflow is a protocol error rather than a
// recoverable condition. It means some consumer acknowledged more tasks than
// it received, so the outstanding count can no longer be trusted. Callers
// are expected to abort instead of clamping the counter to zero.
var (
	// ErrClosed is returned by Put and Get after Close has been called
	// and, for Get, the queue has been drained.
	ErrClosed = errors.New("task queue is closed")

	// ErrTaskDoneUnderflow is returned when TaskDone is called more times
	// than tasks have been handed out by Get/TryGet.
	ErrTaskDoneUnderflow = errors.New("task queue protocol error: TaskDone called more times than Get")
)
