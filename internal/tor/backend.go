package tor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/nao1215/tornago"
)

// BackendState is the lifecycle state of one proxy backend.
type BackendState int

const (
	// StateLaunching means the process has been requested but is not usable yet.
	StateLaunching BackendState = iota
	// StateReady means both ports accept connections (and bootstrap finished
	// when bootstrap waiting is enabled).
	StateReady
	// StateTerminating means a kill has been issued and the process has not
	// been reaped yet.
	StateTerminating
	// StateDead means the process is gone, or never started.
	StateDead
)

// String returns the lower-case state name.
func (s BackendState) String() string {
	switch s {
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateTerminating:
		return "terminating"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// validTransitions lists the allowed next states for each state.
var validTransitions = map[BackendState][]BackendState{
	StateLaunching:   {StateReady, StateDead},
	StateReady:       {StateTerminating},
	StateTerminating: {StateDead},
}

// Backend is one Tor daemon bound to a SOCKS port, a control port and its
// own data directory. It is owned by the Supervisor that launched it.
//
// Design decision: The state is an explicit machine guarded by a mutex with a
// broadcast channel, so Kill can wait on a backend another goroutine is
// already terminating instead of issuing a second kill.
type Backend struct {
	// Index is the backend's position in the fleet, starting at 0.
	Index int

	// SocksPort is the port Tor accepts SOCKS connections on.
	SocksPort int

	// ControlPort is the Tor control port.
	ControlPort int

	// DataDir is the Tor DataDirectory. It is created when absent and never
	// removed, so later runs reuse the cached consensus.
	DataDir string

	// Host is the interface both ports listen on.
	Host string

	mu      sync.Mutex
	state   BackendState
	changed chan struct{}
	process *tornago.TorProcess
	pid     int
}

// NewBackend returns a backend in the Launching state.
func NewBackend(index int, host string, socksPort, controlPort int, dataDir string) *Backend {
	return &Backend{
		Index:       index,
		Host:        host,
		SocksPort:   socksPort,
		ControlPort: controlPort,
		DataDir:     dataDir,
		state:       StateLaunching,
		changed:     make(chan struct{}),
	}
}

// SocksAddr returns the "host:port" SOCKS address.
func (b *Backend) SocksAddr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.SocksPort))
}

// ControlAddr returns the "host:port" control address.
func (b *Backend) ControlAddr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.ControlPort))
}

// State returns the current lifecycle state.
func (b *Backend) State() BackendState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PID returns the process id of the daemon, or 0 if it never started.
func (b *Backend) PID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pid
}

// Transition moves the backend to the given state.
// It returns ErrInvalidTransition when the move is not allowed.
func (b *Backend) Transition(to BackendState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transitionLocked(to)
}

func (b *Backend) transitionLocked(to BackendState) error {
	for _, next := range validTransitions[b.state] {
		if next == to {
			b.state = to
			close(b.changed)
			b.changed = make(chan struct{})
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (backend %d)", ErrInvalidTransition, b.state, to, b.Index)
}

// WaitFor blocks until the backend reaches state or ctx ends.
func (b *Backend) WaitFor(ctx context.Context, state BackendState) error {
	for {
		b.mu.Lock()
		current, changed := b.state, b.changed
		b.mu.Unlock()

		if current == state {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// attach records the running process.
func (b *Backend) attach(proc *tornago.TorProcess) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.process = proc
	b.pid = proc.PID()
}

// beginTermination moves a Ready backend to Terminating and hands over its
// process. ok is false when another caller already owns the termination or
// the backend is not Ready.
func (b *Backend) beginTermination() (proc *tornago.TorProcess, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateReady {
		return nil, false
	}
	if err := b.transitionLocked(StateTerminating); err != nil {
		return nil, false
	}
	proc = b.process
	b.process = nil
	return proc, true
}

// String returns a short description for logs.
func (b *Backend) String() string {
	return fmt.Sprintf("backend %d (socks %s, %s)", b.Index, b.SocksAddr(), b.State())
}
