package tor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/tornago"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/torcrawl/internal/config"
)

const (
	// defaultListenHost is the interface Tor's SOCKS and control ports bind to.
	defaultListenHost = "127.0.0.1"

	// defaultBootstrapPoll is how often the control port is asked for
	// bootstrap progress.
	defaultBootstrapPoll = time.Second

	// controlDialTimeout bounds each control-port command.
	controlDialTimeout = 10 * time.Second

	// cookieFileName is the cookie file tornago configures in the data dir.
	cookieFileName = "control_auth_cookie"

	// noticeLogName and errorLogName are the per-backend Tor log files.
	noticeLogName = "tor_notice_log.txt"
	errorLogName  = "tor_error_log.txt"
)

// Supervisor launches and kills a fleet of Tor daemons through tornago.
//
// Design decision: Every backend gets a fixed, predictable SOCKS port
// (base + i) rather than ":0". Worker groups are bound to contiguous port
// ranges, and predictable ports keep the per-port data directories stable
// across runs so Tor can reuse its cached directory information.
type Supervisor struct {
	// torBinary is the tor executable name or path.
	torBinary string

	// dataRoot holds one tor_s<socks>c<control> directory per backend.
	dataRoot string

	// host is the listen interface for both ports.
	host string

	// startupTimeout bounds both the port wait and the bootstrap wait.
	startupTimeout time.Duration

	// waitBootstrap enables polling the control port for PROGRESS=100.
	waitBootstrap bool

	// bootstrapPoll is the interval between bootstrap queries.
	bootstrapPoll time.Duration

	// trackHostExitsExpire is passed as TrackHostExitsExpire.
	trackHostExitsExpire time.Duration

	// logger receives supervisor logs and, through tornago's adapter, the
	// daemon launch logs.
	logger *slog.Logger
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithTorBinary sets the tor executable.
func WithTorBinary(path string) SupervisorOption {
	return func(s *Supervisor) {
		if path != "" {
			s.torBinary = path
		}
	}
}

// WithDataRoot sets the directory holding the per-backend data directories.
func WithDataRoot(dir string) SupervisorOption {
	return func(s *Supervisor) {
		s.dataRoot = dir
	}
}

// WithListenHost sets the interface the SOCKS and control ports bind to.
func WithListenHost(host string) SupervisorOption {
	return func(s *Supervisor) {
		if host != "" {
			s.host = host
		}
	}
}

// WithStartupTimeout sets the maximum time to wait for one backend to become Ready.
func WithStartupTimeout(timeout time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if timeout > 0 {
			s.startupTimeout = timeout
		}
	}
}

// WithBootstrapWait enables or disables waiting for "Bootstrapped 100%".
func WithBootstrapWait(wait bool) SupervisorOption {
	return func(s *Supervisor) {
		s.waitBootstrap = wait
	}
}

// WithBootstrapPollInterval sets how often bootstrap progress is queried.
func WithBootstrapPollInterval(interval time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if interval > 0 {
			s.bootstrapPoll = interval
		}
	}
}

// WithTrackHostExitsExpire sets how long Tor keeps reusing an exit per host.
func WithTrackHostExitsExpire(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.trackHostExitsExpire = d
		}
	}
}

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// NewSupervisor creates a Supervisor. Nothing is launched until Launch.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		torBinary:            config.DefaultTorBinary,
		dataRoot:             config.XDGTorDataDir(),
		host:                 defaultListenHost,
		startupTimeout:       config.DefaultTorStartupTimeout,
		waitBootstrap:        true,
		bootstrapPoll:        defaultBootstrapPoll,
		trackHostExitsExpire: config.DefaultTrackHostExitsExpire,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

// Launch starts n backends concurrently. Backend i listens for SOCKS on
// baseSocksPort+i and for control connections on baseSocksPort+n+i.
//
// Launch returns once every backend is either Ready or Dead. The returned
// slice always holds all n backends so the caller can Kill the ones that did
// start. When any backend failed, the error joins one *BackendLaunchError per
// failure, ordered by index.
func (s *Supervisor) Launch(ctx context.Context, n, baseSocksPort int) ([]*Backend, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBackendCount, n)
	}

	baseControlPort := baseSocksPort + n
	backends := make([]*Backend, n)
	for i := range n {
		socks, control := baseSocksPort+i, baseControlPort+i
		backends[i] = NewBackend(i, s.host, socks, control, config.BackendDataDir(s.dataRoot, socks, control))
	}

	s.logger.Info("launching proxy backends",
		"count", n,
		"base_socks_port", baseSocksPort,
		"base_control_port", baseControlPort,
	)

	var (
		mu       sync.Mutex
		failures []*BackendLaunchError
	)

	var g errgroup.Group
	for _, b := range backends {
		g.Go(func() error {
			err := s.launchOne(ctx, b)
			if err == nil {
				return nil
			}
			_ = b.Transition(StateDead) //nolint:errcheck // Launching -> Dead is always valid here
			s.logger.Error("proxy backend failed to launch",
				"backend", b.Index,
				"socks", b.SocksAddr(),
				"error", err,
			)
			mu.Lock()
			failures = append(failures, &BackendLaunchError{
				Index:       b.Index,
				SocksPort:   b.SocksPort,
				ControlPort: b.ControlPort,
				Err:         err,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers report through failures

	if len(failures) == 0 {
		return backends, nil
	}

	slices.SortFunc(failures, func(a, b *BackendLaunchError) int { return a.Index - b.Index })
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return backends, errors.Join(errs...)
}

// launchOne starts one daemon and moves it to Ready.
func (s *Supervisor) launchOne(ctx context.Context, b *Backend) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorBinary(s.torBinary),
		tornago.WithTorSocksAddr(b.SocksAddr()),
		tornago.WithTorControlAddr(b.ControlAddr()),
		tornago.WithTorDataDir(b.DataDir),
		tornago.WithTorStartupTimeout(s.startupTimeout),
		tornago.WithTorExtraArgs(s.extraArgs(b)...),
		tornago.WithTorLogger(tornago.NewSlogAdapter(s.logger.With("backend", b.Index))),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	// StartTorDaemon blocks until both ports accept TCP or the startup
	// timeout elapses.
	proc, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return fmt.Errorf("failed to start tor daemon: %w", err)
	}

	// Check if context was cancelled during startup
	if err := ctx.Err(); err != nil {
		_ = stopProcess(proc) //nolint:errcheck // Best effort cleanup
		return err
	}
	b.attach(proc)

	if s.waitBootstrap {
		if err := s.waitBootstrapped(ctx, b); err != nil {
			_ = stopProcess(proc) //nolint:errcheck // Best effort cleanup
			return err
		}
	}

	if err := b.Transition(StateReady); err != nil {
		_ = stopProcess(proc) //nolint:errcheck // Best effort cleanup
		return err
	}

	s.logger.Info("proxy backend ready",
		"backend", b.Index,
		"pid", proc.PID(),
		"socks", b.SocksAddr(),
		"data_dir", b.DataDir,
	)
	return nil
}

// extraArgs returns the torrc options tornago does not set itself.
func (s *Supervisor) extraArgs(b *Backend) []string {
	return []string{
		"--TrackHostExits", ".",
		"--TrackHostExitsExpire", strconv.Itoa(int(s.trackHostExitsExpire / time.Second)),
		"--Log", "notice file " + filepath.Join(b.DataDir, noticeLogName),
		"--Log", "err file " + filepath.Join(b.DataDir, errorLogName),
	}
}

// waitBootstrapped polls status/bootstrap-phase until Tor reports PROGRESS=100.
func (s *Supervisor) waitBootstrapped(ctx context.Context, b *Backend) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.startupTimeout)
	defer cancel()

	auth := tornago.ControlAuthFromCookie(filepath.Join(b.DataDir, cookieFileName))
	ctrl, err := tornago.NewControlClient(b.ControlAddr(), auth, controlDialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to control port: %w", err)
	}
	defer ctrl.Close()

	ticker := time.NewTicker(s.bootstrapPoll)
	defer ticker.Stop()

	progress := 0
	for {
		phase, err := ctrl.GetInfo(waitCtx, "status/bootstrap-phase")
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The control socket deadline follows waitCtx, so the last poll
			// usually fails on I/O before the select sees the timeout.
			if waitCtx.Err() != nil {
				return fmt.Errorf("%w: backend %d stopped at %d%%", ErrBootstrapIncomplete, b.Index, progress)
			}
			return fmt.Errorf("failed to query bootstrap phase: %w", err)
		}

		progress = BootstrapProgress(phase)
		s.logger.Debug("bootstrap progress", "backend", b.Index, "progress", progress)
		if progress >= 100 {
			return nil
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: backend %d stopped at %d%%", ErrBootstrapIncomplete, b.Index, progress)
		}
	}
}

// BootstrapProgress extracts the PROGRESS value from a bootstrap-phase
// status line such as
// `NOTICE BOOTSTRAP PROGRESS=100 TAG=done SUMMARY="Done"`.
// It returns 0 when the value is missing or malformed.
func BootstrapProgress(phase string) int {
	for field := range strings.FieldsSeq(phase) {
		value, found := strings.CutPrefix(field, "PROGRESS=")
		if !found {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// Kill terminates every backend concurrently and returns once each process
// has been reaped. Dead backends are skipped and backends another caller is
// terminating are waited on, so Kill may be called more than once.
func (s *Supervisor) Kill(ctx context.Context, backends []*Backend) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	for _, b := range backends {
		if b == nil {
			continue
		}
		g.Go(func() error {
			if err := s.killOne(ctx, b); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers report through errs

	return errors.Join(errs...)
}

// killOne terminates a single backend.
func (s *Supervisor) killOne(ctx context.Context, b *Backend) error {
	proc, owner := b.beginTermination()
	if !owner {
		switch state := b.State(); state {
		case StateDead:
			return nil
		case StateTerminating:
			return b.WaitFor(ctx, StateDead)
		default:
			return fmt.Errorf("%w: cannot kill %s backend %d", ErrInvalidTransition, state, b.Index)
		}
	}

	stopErr := stopProcess(proc)
	if err := b.Transition(StateDead); err != nil {
		return errors.Join(stopErr, err)
	}
	if stopErr != nil {
		return fmt.Errorf("failed to stop backend %d: %w", b.Index, stopErr)
	}

	s.logger.Info("proxy backend stopped", "backend", b.Index, "socks", b.SocksAddr())
	return nil
}

// stopProcess kills proc and waits for it. A non-zero exit caused by the
// kill itself is expected and not reported.
func stopProcess(proc *tornago.TorProcess) error {
	err := proc.Stop()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
