// Package queue provides the shared task queue that worker groups drain.
//
// TaskQueue is an unbounded multi-producer/multi-consumer FIFO of model.Task
// values with completion tracking:
//
//	outstanding = enqueued - done
//
// Producers call Join to block until every enqueued task has been
// acknowledged with TaskDone, regardless of whether its transfer
// succeeded. This is the only synchronization point between the
// orchestrator and the worker groups besides backend readiness.
//
// # Wake-ups
//
// Consumers that multiplex several event sources (the transfer reactor)
// cannot block inside Get. They use TryGet together with Changed, which
// returns a channel that is closed on the next state change:
//
//	changed := q.Changed()
//	for task, ok := q.TryGet(); ok; task, ok = q.TryGet() {
//	    // admit task
//	}
//	select {
//	case <-changed:
//	case <-timer.C:
//	}
//
// Taking the channel before polling means a Put that races with the poll
// is never missed.
package queue
