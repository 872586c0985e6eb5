package crawl

import (
	"errors"
	"slices"
	"testing"

	"github.com/nao1215/torcrawl/internal/queue"
	"github.com/nao1215/torcrawl/internal/reactor"
	"github.com/nao1215/torcrawl/internal/tor"
)

func readyBackend(t *testing.T, index, socksPort int) *tor.Backend {
	t.Helper()

	b := tor.NewBackend(index, "127.0.0.1", socksPort, socksPort+100, t.TempDir())
	if err := b.Transition(tor.StateReady); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNewWorkerGroup(t *testing.T) {
	t.Parallel()

	backends := []*tor.Backend{readyBackend(t, 3, 8003), readyBackend(t, 4, 8004), readyBackend(t, 5, 8005)}
	g, err := NewWorkerGroup(1, backends, queue.New(), quietLogger())
	if err != nil {
		t.Fatalf("NewWorkerGroup() error = %v", err)
	}
	if g.Index != 1 {
		t.Errorf("Index = %d", g.Index)
	}
	if got := g.SocksPorts(); !slices.Equal(got, []int{8003, 8004, 8005}) {
		t.Errorf("SocksPorts() = %v", got)
	}
	if got := g.Snapshot(); got != (reactor.Snapshot{Free: 3, Active: 0, Total: 3}) {
		t.Errorf("Snapshot() = %+v", got)
	}
}

func TestNewWorkerGroup_Errors(t *testing.T) {
	t.Parallel()

	t.Run("backend not ready", func(t *testing.T) {
		t.Parallel()

		launching := tor.NewBackend(0, "127.0.0.1", 8000, 8001, t.TempDir())
		_, err := NewWorkerGroup(0, []*tor.Backend{launching}, queue.New(), quietLogger())
		if !errors.Is(err, ErrBackendNotReady) {
			t.Errorf("expected ErrBackendNotReady, got %v", err)
		}
	})

	t.Run("no backends", func(t *testing.T) {
		t.Parallel()

		_, err := NewWorkerGroup(0, nil, queue.New(), quietLogger())
		if !errors.Is(err, reactor.ErrNoSlots) {
			t.Errorf("expected ErrNoSlots, got %v", err)
		}
	})
}
