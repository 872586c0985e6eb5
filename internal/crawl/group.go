package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/torcrawl/internal/queue"
	"github.com/nao1215/torcrawl/internal/reactor"
	"github.com/nao1215/torcrawl/internal/tor"
)

// WorkerGroup hosts exactly one reactor over a contiguous range of
// backends. Slot i of the group is bound to the group's i-th backend for
// the group's whole life.
type WorkerGroup struct {
	Index    int
	Backends []*tor.Backend

	reactor *reactor.Reactor
	logger  *slog.Logger
}

// NewWorkerGroup builds group index over backends, draining q.
func NewWorkerGroup(index int, backends []*tor.Backend, q *queue.TaskQueue, logger *slog.Logger, opts ...reactor.Option) (*WorkerGroup, error) {
	if logger == nil {
		logger = slog.Default()
	}

	slots := make([]reactor.Slot, len(backends))
	for i, b := range backends {
		if b.State() != tor.StateReady {
			return nil, fmt.Errorf("group %d: %s: %w", index, b, ErrBackendNotReady)
		}
		slots[i] = reactor.Slot{ID: i, SocksAddr: b.SocksAddr()}
	}

	opts = append(opts,
		reactor.WithGroupIndex(index),
		reactor.WithLogger(logger),
	)
	r, err := reactor.New(q, slots, opts...)
	if err != nil {
		return nil, fmt.Errorf("group %d: %w", index, err)
	}

	return &WorkerGroup{
		Index:    index,
		Backends: backends,
		reactor:  r,
		logger:   logger.With("group", index),
	}, nil
}

// SocksPorts returns the SOCKS ports owned by the group.
func (g *WorkerGroup) SocksPorts() []int {
	ports := make([]int, len(g.Backends))
	for i, b := range g.Backends {
		ports[i] = b.SocksPort
	}
	return ports
}

// Snapshot returns the group's slot accounting.
func (g *WorkerGroup) Snapshot() reactor.Snapshot {
	return g.reactor.Snapshot()
}

// Run drives the group's reactor until ctx is cancelled.
func (g *WorkerGroup) Run(ctx context.Context) error {
	start := time.Now()
	g.logger.Debug("worker group started", "socks_ports", g.SocksPorts())

	err := g.reactor.Run(ctx)

	g.logger.Debug("worker group stopped", "elapsed", time.Since(start), "error", err)
	return err
}
