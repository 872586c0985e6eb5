package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/torcrawl/internal/model"
)

func task(i int) model.Task {
	return model.NewTask(fmt.Sprintf("http://example.com/%d", i), model.OutputPathFor("out", i))
}

// TestTaskQueue_FIFO tests that tasks come out in enqueue order.
func TestTaskQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := New()
	for i := 1; i <= 200; i++ {
		if err := q.Put(task(i)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	for i := 1; i <= 200; i++ {
		got, ok := q.TryGet()
		if !ok {
			t.Fatalf("expected task %d, queue was empty", i)
		}
		if got != task(i) {
			t.Fatalf("expected %v, got %v", task(i), got)
		}
	}

	if _, ok := q.TryGet(); ok {
		t.Error("expected empty queue")
	}
}

// TestTaskQueue_Outstanding tests the outstanding = enqueued - done invariant.
func TestTaskQueue_Outstanding(t *testing.T) {
	t.Parallel()

	q := New()
	if err := q.PutAll([]model.Task{task(1), task(2), task(3)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := q.Outstanding(); got != 3 {
		t.Errorf("expected 3 outstanding, got %d", got)
	}

	if _, ok := q.TryGet(); !ok {
		t.Fatal("expected a task")
	}
	if got := q.Outstanding(); got != 3 {
		t.Errorf("expected dequeue to leave outstanding at 3, got %d", got)
	}

	if err := q.TaskDone(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := q.Stats()
	if stats.Enqueued != 3 || stats.Dequeued != 1 || stats.Done != 1 || stats.Pending != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Outstanding() != 2 || q.Outstanding() != 2 {
		t.Errorf("expected 2 outstanding, got %d", stats.Outstanding())
	}
}

// TestTaskQueue_TaskDoneUnderflow tests that over-acknowledging fails loudly.
func TestTaskQueue_TaskDoneUnderflow(t *testing.T) {
	t.Parallel()

	t.Run("on empty queue", func(t *testing.T) {
		t.Parallel()

		q := New()
		if err := q.TaskDone(); !errors.Is(err, ErrTaskDoneUnderflow) {
			t.Errorf("expected ErrTaskDoneUnderflow, got %v", err)
		}
	})

	t.Run("enqueued but not handed out", func(t *testing.T) {
		t.Parallel()

		q := New()
		_ = q.Put(task(1))
		if err := q.TaskDone(); !errors.Is(err, ErrTaskDoneUnderflow) {
			t.Errorf("expected ErrTaskDoneUnderflow, got %v", err)
		}
		if got := q.Outstanding(); got != 1 {
			t.Errorf("expected counters untouched, outstanding %d", got)
		}
	})

	t.Run("second ack for one task", func(t *testing.T) {
		t.Parallel()

		q := New()
		_ = q.Put(task(1))
		q.TryGet()
		if err := q.TaskDone(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := q.TaskDone(); !errors.Is(err, ErrTaskDoneUnderflow) {
			t.Errorf("expected ErrTaskDoneUnderflow, got %v", err)
		}
		if got := q.Stats().Done; got != 1 {
			t.Errorf("expected done to stay 1, got %d", got)
		}
	})
}

// TestTaskQueue_Get tests the blocking Get.
func TestTaskQueue_Get(t *testing.T) {
	t.Parallel()

	t.Run("blocks until a task arrives", func(t *testing.T) {
		t.Parallel()

		q := New()
		result := make(chan model.Task, 1)
		go func() {
			got, err := q.Get(context.Background())
			if err == nil {
				result <- got
			}
		}()

		select {
		case <-result:
			t.Fatal("Get returned before any task was put")
		case <-time.After(50 * time.Millisecond):
		}

		_ = q.Put(task(7))

		select {
		case got := <-result:
			if got != task(7) {
				t.Errorf("expected %v, got %v", task(7), got)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Get did not wake up after Put")
		}
	})

	t.Run("returns ErrClosed once closed and drained", func(t *testing.T) {
		t.Parallel()

		q := New()
		_ = q.Put(task(1))
		q.Close()

		if _, err := q.Get(context.Background()); err != nil {
			t.Fatalf("expected pending task after close, got %v", err)
		}
		if _, err := q.Get(context.Background()); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		if err := q.Put(task(2)); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed from Put, got %v", err)
		}
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		t.Parallel()

		q := New()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		if _, err := q.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

// TestTaskQueue_Join tests that Join returns iff every task is acknowledged.
func TestTaskQueue_Join(t *testing.T) {
	t.Parallel()

	t.Run("empty queue returns immediately", func(t *testing.T) {
		t.Parallel()

		q := New()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := q.Join(ctx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("blocks while a task is unacknowledged", func(t *testing.T) {
		t.Parallel()

		q := New()
		_ = q.Put(task(1))
		q.TryGet()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if err := q.Join(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected Join to block, got %v", err)
		}
	})

	t.Run("many consumers drain and join", func(t *testing.T) {
		t.Parallel()

		const numTasks = 500
		const numConsumers = 8

		q := New()
		for i := range numTasks {
			_ = q.Put(task(i))
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		seen := make(map[model.Task]int)
		var wg sync.WaitGroup
		for range numConsumers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					got, err := q.Get(ctx)
					if err != nil {
						return
					}
					mu.Lock()
					seen[got]++
					mu.Unlock()
					if err := q.TaskDone(); err != nil {
						t.Errorf("unexpected error: %v", err)
					}
				}
			}()
		}

		joinCtx, joinCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer joinCancel()
		if err := q.Join(joinCtx); err != nil {
			t.Fatalf("join failed: %v", err)
		}
		cancel()
		wg.Wait()

		if len(seen) != numTasks {
			t.Fatalf("expected %d distinct tasks, got %d", numTasks, len(seen))
		}
		for tk, n := range seen {
			if n != 1 {
				t.Errorf("task %v handed out %d times", tk, n)
			}
		}
		if q.Outstanding() != 0 {
			t.Errorf("expected 0 outstanding, got %d", q.Outstanding())
		}
	})
}

// TestTaskQueue_Changed tests the broadcast wake-up channel.
func TestTaskQueue_Changed(t *testing.T) {
	t.Parallel()

	q := New()
	changed := q.Changed()

	select {
	case <-changed:
		t.Fatal("expected channel to be open before any change")
	default:
	}

	_ = q.Put(task(1))

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("expected Put to close the changed channel")
	}

	next := q.Changed()
	q.Close()
	q.Close()

	select {
	case <-next:
	case <-time.After(time.Second):
		t.Fatal("expected Close to close the changed channel")
	}
}
