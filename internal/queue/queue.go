package queue

import (
	"context"
	"sync"

	"github.com/nao1215/torcrawl/internal/model"
)

// Stats is a point-in-time view of the queue counters.
type Stats struct {
	// Enqueued is the number of tasks ever accepted by Put.
	Enqueued int

	// Dequeued is the number of tasks handed out by Get or TryGet.
	Dequeued int

	// Done is the number of TaskDone acknowledgments.
	Done int

	// Pending is the number of tasks waiting to be handed out.
	Pending int
}

// Outstanding returns enqueued minus done.
func (s Stats) Outstanding() int {
	return s.Enqueued - s.Done
}

// TaskQueue is an unbounded FIFO of tasks with join semantics.
//
// Design decision: We use a mutex-guarded slice plus a broadcast channel
// instead of a buffered Go channel. A channel would need a fixed capacity,
// cannot report how many items it holds across consumers, and offers no way
// to wait for "all acknowledged". The broadcast channel is closed and
// replaced on every state change, which gives Get, Join and external event
// loops a single wake-up primitive.
type TaskQueue struct {
	mu sync.Mutex

	// items holds pending tasks. head indexes the next task to hand out so
	// dequeuing does not shift the slice.
	items []model.Task
	head  int

	enqueued int
	dequeued int
	done     int
	closed   bool

	// changed is closed on the next state change and then replaced.
	changed chan struct{}
}

// New creates an empty TaskQueue.
func New() *TaskQueue {
	return &TaskQueue{
		items:   make([]model.Task, 0),
		changed: make(chan struct{}),
	}
}

// broadcastLocked wakes every waiter. The caller must hold q.mu.
func (q *TaskQueue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Put appends a task and increments the outstanding count. It never blocks.
func (q *TaskQueue) Put(task model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.items = append(q.items, task)
	q.enqueued++
	q.broadcastLocked()
	return nil
}

// PutAll appends every task in order. It stops at the first error.
func (q *TaskQueue) PutAll(tasks []model.Task) error {
	for _, task := range tasks {
		if err := q.Put(task); err != nil {
			return err
		}
	}
	return nil
}

// popLocked removes the head task. The caller must hold q.mu and have
// checked that a task is pending.
func (q *TaskQueue) popLocked() model.Task {
	task := q.items[q.head]
	q.items[q.head] = model.Task{}
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.items) {
		q.items = append(q.items[:0:0], q.items[q.head:]...)
		q.head = 0
	}

	q.dequeued++
	q.broadcastLocked()
	return task
}

// pendingLocked returns the number of tasks not yet handed out.
func (q *TaskQueue) pendingLocked() int {
	return len(q.items) - q.head
}

// Get removes and returns the next task. It blocks while the queue is empty
// until a task arrives, the queue is closed and drained (ErrClosed), or ctx
// is done.
func (q *TaskQueue) Get(ctx context.Context) (model.Task, error) {
	for {
		q.mu.Lock()
		if q.pendingLocked() > 0 {
			task := q.popLocked()
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return model.Task{}, ErrClosed
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return model.Task{}, ctx.Err()
		}
	}
}

// TryGet removes and returns the next task without blocking.
// The second return value is false when no task is pending.
func (q *TaskQueue) TryGet() (model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pendingLocked() == 0 {
		return model.Task{}, false
	}
	return q.popLocked(), true
}

// TaskDone acknowledges one task handed out by Get or TryGet.
// It must be called exactly once per handed-out task, whatever the outcome
// of the work. Calling it more often returns ErrTaskDoneUnderflow and leaves
// the counters unchanged.
func (q *TaskQueue) TaskDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.done >= q.dequeued {
		return ErrTaskDoneUnderflow
	}

	q.done++
	q.broadcastLocked()
	return nil
}

// Join blocks until every enqueued task has been acknowledged, or ctx is done.
// It returns immediately when nothing is outstanding.
func (q *TaskQueue) Join(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.enqueued == q.done {
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the queue from accepting new tasks. Pending tasks can still be
// taken; once they are gone Get returns ErrClosed. Close is idempotent.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

// Changed returns a channel that is closed on the next state change.
func (q *TaskQueue) Changed() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}

// Len returns the number of tasks waiting to be handed out.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

// Outstanding returns the number of enqueued tasks not yet acknowledged.
func (q *TaskQueue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueued - q.done
}

// Stats returns a snapshot of the queue counters.
func (q *TaskQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Done:     q.done,
		Pending:  q.pendingLocked(),
	}
}
