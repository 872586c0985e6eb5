package reactor

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/nao1215/torcrawl/internal/config"
	"github.com/nao1215/torcrawl/internal/model"
	"github.com/nao1215/torcrawl/internal/queue"
	"github.com/nao1215/torcrawl/internal/tor"
)

// Slot binds one transfer slot to one backend SOCKS address.
type Slot struct {
	ID        int
	SocksAddr string
}

// Recorder receives the result of every finished transfer. Record is called
// from the reactor goroutine and should not block for long.
type Recorder interface {
	Record(model.TransferResult)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(model.TransferResult)

// Record calls f(r).
func (f RecorderFunc) Record(r model.TransferResult) {
	f(r)
}

// Snapshot is a point-in-time view of the slot table.
type Snapshot struct {
	Free   int
	Active int
	Total  int
}

// slotState is the reactor-owned state of one slot.
type slotState struct {
	slot   Slot
	client *tor.Client

	// The fields below are set while the slot is active.
	task      model.Task
	file      *os.File
	cancel    context.CancelFunc
	startedAt time.Time
}

// completion is posted by a transfer goroutine when it ends.
type completion struct {
	slot int
	res  fetchResult
}

type fetchResult struct {
	effectiveURL string
	statusCode   int
	written      int64
	digest       string
	err          error
}

// Reactor drives the tasks of a shared queue through a fixed set of slots.
//
// Each loop iteration admits tasks into free slots, drains finished
// transfers without blocking, reaps them (close file, record, free slot,
// mark done) and then waits for a completion, a queue change, the poll
// timer or cancellation.
//
// Design decision: The loop is the only goroutine that touches the slot
// table. Transfers run on their own goroutines and report back over a
// buffered channel sized to the slot count, so a finished transfer never
// blocks and a slot is only reused after the loop has reaped it.
type Reactor struct {
	group        int
	queue        *queue.TaskQueue
	slots        []*slotState
	recorder     Recorder
	logger       *slog.Logger
	pollInterval time.Duration
	clientOpts   []tor.ClientOption

	completions chan completion

	// stopping is set once the loop starts aborting transfers.
	stopping bool

	// mu guards free and active for Snapshot.
	mu     sync.Mutex
	free   []int
	active int
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithGroupIndex sets the worker group index reported in results and logs.
func WithGroupIndex(g int) Option {
	return func(r *Reactor) {
		r.group = g
	}
}

// WithRecorder sets where transfer results go.
func WithRecorder(rec Recorder) Option {
	return func(r *Reactor) {
		r.recorder = rec
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reactor) {
		r.logger = logger
	}
}

// WithPollInterval sets the idle wait of the loop.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reactor) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithClientOptions sets the transfer policy applied to every slot's client.
func WithClientOptions(opts ...tor.ClientOption) Option {
	return func(r *Reactor) {
		r.clientOpts = append(r.clientOpts, opts...)
	}
}

// New creates a reactor over slots that drains q.
func New(q *queue.TaskQueue, slots []Slot, opts ...Option) (*Reactor, error) {
	if q == nil {
		return nil, ErrNilQueue
	}
	if len(slots) == 0 {
		return nil, ErrNoSlots
	}

	r := &Reactor{
		queue:        q,
		pollInterval: config.DefaultPollInterval,
		completions:  make(chan completion, len(slots)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.recorder == nil {
		r.recorder = RecorderFunc(func(model.TransferResult) {})
	}
	r.logger = r.logger.With("group", r.group)

	r.slots = make([]*slotState, len(slots))
	r.free = make([]int, 0, len(slots))
	for i, s := range slots {
		client, err := tor.NewClient(s.SocksAddr, r.clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", s.ID, err)
		}
		r.slots[i] = &slotState{slot: s, client: client}
		r.free = append(r.free, i)
	}

	return r, nil
}

// Snapshot returns the current number of free and active slots.
func (r *Reactor) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Free: len(r.free), Active: r.active, Total: len(r.slots)}
}

// Run executes the loop until ctx is cancelled. Transfers still running at
// that point are aborted and recorded as cancelled failures.
//
// Run returns nil after cancellation. The only error it returns is a queue
// protocol violation (queue.ErrTaskDoneUnderflow), which means task
// accounting can no longer be trusted.
func (r *Reactor) Run(ctx context.Context) error {
	defer func() {
		for _, s := range r.slots {
			s.client.CloseIdleConnections()
		}
	}()

	for {
		// Subscribe before admission so a put racing with it still wakes us.
		changed := r.queue.Changed()

		if ctx.Err() != nil {
			return r.shutdown()
		}

		if err := r.admit(ctx); err != nil {
			return r.fail(err)
		}
		if err := r.drain(); err != nil {
			return r.fail(err)
		}

		// With every slot busy only a completion can make progress.
		if r.Snapshot().Free == 0 {
			changed = nil
		}

		timer := time.NewTimer(r.pollInterval)
		select {
		case c := <-r.completions:
			timer.Stop()
			if err := r.reap(c); err != nil {
				return r.fail(err)
			}
		case <-changed:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return r.shutdown()
		}
	}
}

// admit fills free slots from the queue.
func (r *Reactor) admit(ctx context.Context) error {
	for {
		idx, ok := r.popFree()
		if !ok {
			return nil
		}
		task, ok := r.queue.TryGet()
		if !ok {
			r.pushFree(idx)
			return nil
		}
		if err := r.start(ctx, idx, task); err != nil {
			return err
		}
	}
}

// start opens the output file and launches the transfer. An output file
// that cannot be opened completes the task at once as a failure.
func (r *Reactor) start(ctx context.Context, idx int, task model.Task) error {
	s := r.slots[idx]
	s.task = task
	s.startedAt = time.Now()

	file, err := OpenOutput(task.OutputPath)
	if err != nil {
		return r.reap(completion{slot: idx, res: fetchResult{err: &outputError{op: "open", err: err}}})
	}
	s.file = file

	tctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	r.logger.Debug("transfer started", "slot", s.slot.ID, "socks", s.slot.SocksAddr, "url", task.URL, "file", task.OutputPath)

	go func() {
		res := fetch(tctx, s.client, task.URL, file)
		r.completions <- completion{slot: idx, res: res}
	}()
	return nil
}

// drain reaps every completion that is already available.
func (r *Reactor) drain() error {
	for {
		select {
		case c := <-r.completions:
			if err := r.reap(c); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// reap finishes one transfer: close the file, record, free the slot and
// mark the task done. Content written before a failure is kept.
func (r *Reactor) reap(c completion) error {
	s := r.slots[c.slot]
	res := c.res

	if s.cancel != nil {
		s.cancel()
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && res.err == nil {
			res.err = &outputError{op: "close", err: err}
		}
	}

	result := model.TransferResult{
		Task:         s.task,
		GroupIndex:   r.group,
		SlotID:       s.slot.ID,
		SocksAddr:    s.slot.SocksAddr,
		EffectiveURL: res.effectiveURL,
		StatusCode:   res.statusCode,
		BytesWritten: res.written,
		StartedAt:    s.startedAt,
		FinishedAt:   time.Now(),
	}

	if res.err != nil {
		terr := newTransferError(s.task.URL, res.err)
		if r.stopping && terr.Kind != KindOutput {
			terr.Kind = KindCanceled
		}
		result.Outcome = model.OutcomeFailure
		result.ErrorKind = terr.Kind
		result.Error = terr.Err.Error()
		r.logger.Warn("transfer failed",
			"slot", s.slot.ID,
			"file", s.task.OutputPath,
			"url", s.task.URL,
			"kind", terr.Kind,
			"error", terr.Err,
		)
	} else {
		result.Outcome = model.OutcomeSuccess
		result.BodySHA3 = res.digest
		r.logger.Info("transfer succeeded",
			"slot", s.slot.ID,
			"file", s.task.OutputPath,
			"url", s.task.URL,
			"effective_url", res.effectiveURL,
			"status", res.statusCode,
			"bytes", res.written,
			"sha3", res.digest,
		)
	}

	r.recorder.Record(result)

	s.task, s.file, s.cancel = model.Task{}, nil, nil
	r.release(c.slot)

	if err := r.queue.TaskDone(); err != nil {
		return fmt.Errorf("group %d slot %d: %w", r.group, s.slot.ID, err)
	}
	return nil
}

// shutdown aborts running transfers and reaps them.
func (r *Reactor) shutdown() error {
	var errs []error
	r.stopping = true
	for _, s := range r.slots {
		if s.cancel != nil {
			s.cancel()
		}
	}
	for r.Snapshot().Active > 0 {
		if err := r.reap(<-r.completions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fail aborts running transfers after a fatal error and returns it.
func (r *Reactor) fail(err error) error {
	r.logger.Error("reactor stopped", "error", err)
	if shutdownErr := r.shutdown(); shutdownErr != nil {
		return errors.Join(err, shutdownErr)
	}
	return err
}

func (r *Reactor) popFree() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.free)
	if n == 0 {
		return 0, false
	}
	idx := r.free[n-1]
	r.free = r.free[:n-1]
	r.active++
	return idx, true
}

// pushFree returns a slot that was popped but never used.
func (r *Reactor) pushFree(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.free = append(r.free, idx)
	r.active--
}

// release returns a reaped slot to the free list.
func (r *Reactor) release(idx int) {
	r.pushFree(idx)
}

// OpenOutput opens path for appending, creating it and its directory.
// Existing content is kept, so a re-run appends to earlier output.
func OpenOutput(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // output paths come from the task list
}

// fileWriter tags write failures as output errors.
type fileWriter struct {
	w io.Writer
}

func (fw fileWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		return n, &outputError{op: "write", err: err}
	}
	return n, nil
}

// fetch runs one transfer and appends the body to w.
func fetch(ctx context.Context, client *tor.Client, url string, w io.Writer) fetchResult {
	resp, err := client.Get(ctx, url)
	if err != nil {
		return fetchResult{err: err}
	}
	defer resp.Body.Close()

	return copyBody(resp, w)
}

func copyBody(resp *http.Response, w io.Writer) fetchResult {
	hash := sha3.New256()
	n, err := io.Copy(io.MultiWriter(fileWriter{w: w}, hash), resp.Body)

	return fetchResult{
		effectiveURL: resp.Request.URL.String(),
		statusCode:   resp.StatusCode,
		written:      n,
		digest:       hex.EncodeToString(hash.Sum(nil)),
		err:          err,
	}
}
