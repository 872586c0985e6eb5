package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/torcrawl/internal/config"
	"github.com/nao1215/torcrawl/internal/model"
	"github.com/nao1215/torcrawl/internal/queue"
	"github.com/nao1215/torcrawl/internal/reactor"
	"github.com/nao1215/torcrawl/internal/tor"
)

// BackendSupervisor launches and kills the proxy backends of a crawl.
// *tor.Supervisor implements it.
type BackendSupervisor interface {
	Launch(ctx context.Context, n, baseSocksPort int) ([]*tor.Backend, error)
	Kill(ctx context.Context, backends []*tor.Backend) error
}

// Orchestrator runs crawls: it brings the backend fleet up, runs one worker
// group per SlotsPerGroup backends over a shared queue, waits for the queue
// to drain and tears the fleet down.
type Orchestrator struct {
	cfg        *config.Config
	supervisor BackendSupervisor
	logger     *slog.Logger
	recorders  []reactor.Recorder
	crawlID    string

	backends int
	groups   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSupervisor replaces the Tor supervisor built from the configuration.
func WithSupervisor(s BackendSupervisor) Option {
	return func(o *Orchestrator) {
		o.supervisor = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithRecorder adds a recorder that receives every transfer result in
// addition to the crawl summary. It is called from all worker groups
// concurrently.
func WithRecorder(r reactor.Recorder) Option {
	return func(o *Orchestrator) {
		o.recorders = append(o.recorders, r)
	}
}

// WithCrawlID sets the identifier of the next crawl. A random UUID is used
// otherwise.
func WithCrawlID(id string) Option {
	return func(o *Orchestrator) {
		o.crawlID = id
	}
}

// New validates cfg and creates an orchestrator.
//
// Design decision: The backend count is rounded down here, not in Crawl, so
// a bad configuration fails before anything is launched and the adjustment
// is logged once.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", config.ErrInvalidConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		backends: cfg.AdjustedBackends(),
		groups:   cfg.Groups(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.supervisor == nil {
		o.supervisor = tor.NewSupervisor(
			tor.WithTorBinary(cfg.TorBinary),
			tor.WithDataRoot(cfg.TorDataDir),
			tor.WithStartupTimeout(cfg.TorStartupTimeout),
			tor.WithBootstrapWait(cfg.WaitBootstrap),
			tor.WithTrackHostExitsExpire(cfg.TrackHostExitsExpire),
			tor.WithSupervisorLogger(o.logger),
		)
	}
	if o.crawlID == "" {
		o.crawlID = uuid.NewString()
	}

	if o.backends != cfg.NumBackends {
		o.logger.Warn("backend count rounded down to a multiple of slots per group",
			"requested", cfg.NumBackends,
			"adjusted", o.backends,
			"slots_per_group", cfg.SlotsPerGroup,
		)
	}

	return o, nil
}

// Backends returns the number of backends a crawl launches.
func (o *Orchestrator) Backends() int {
	return o.backends
}

// Groups returns the number of worker groups a crawl runs.
func (o *Orchestrator) Groups() int {
	return o.groups
}

// CrawlID returns the identifier used for the next crawl.
func (o *Orchestrator) CrawlID() string {
	return o.crawlID
}

// Crawl drains q through the backend fleet and returns the crawl summary.
//
// An empty queue returns at once without launching anything. Otherwise the
// fleet is always killed before Crawl returns, including after a partial
// launch failure or cancellation of ctx. Failed transfers do not make Crawl
// fail; they are counted in the summary.
func (o *Orchestrator) Crawl(ctx context.Context, q *queue.TaskQueue) (summary *model.CrawlSummary, err error) {
	if q == nil {
		return nil, ErrNilQueue
	}

	summary = model.NewCrawlSummary(o.crawlID)
	summary.Backends = o.backends
	summary.Groups = o.groups
	summary.SlotsPerGroup = o.cfg.SlotsPerGroup
	summary.Tasks = q.Outstanding()
	defer summary.Finish()

	if summary.Tasks == 0 {
		o.logger.Info("task queue is empty, nothing to crawl", "crawl_id", o.crawlID)
		return summary, nil
	}

	if err := os.MkdirAll(o.cfg.OutputDir, 0o750); err != nil {
		return summary, fmt.Errorf("failed to create output directory: %w", err)
	}

	o.logger.Info("launching backends",
		"crawl_id", o.crawlID,
		"backends", o.backends,
		"base_socks_port", o.cfg.BaseSocksPort,
	)
	backends, launchErr := o.supervisor.Launch(ctx, o.backends, o.cfg.BaseSocksPort)
	defer func() {
		// Teardown must run even when ctx is already cancelled.
		if killErr := o.supervisor.Kill(context.WithoutCancel(ctx), backends); killErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to kill backends: %w", killErr))
		}
		o.logger.Info("backends stopped", "crawl_id", o.crawlID, "backends", len(backends))
	}()
	if launchErr != nil {
		return summary, fmt.Errorf("failed to launch backends: %w", launchErr)
	}
	if len(backends) != o.backends {
		return summary, fmt.Errorf("%w: got %d, want %d", ErrBackendCountMismatch, len(backends), o.backends)
	}

	groups, err := o.buildGroups(backends, q, summary)
	if err != nil {
		return summary, err
	}

	return summary, o.run(ctx, q, groups)
}

// buildGroups splits backends into worker groups: group g owns backends
// [g*K, (g+1)*K).
func (o *Orchestrator) buildGroups(backends []*tor.Backend, q *queue.TaskQueue, summary *model.CrawlSummary) ([]*WorkerGroup, error) {
	k := o.cfg.SlotsPerGroup
	recorder := o.recorder(summary)
	clientOpts := o.clientOptions()

	groups := make([]*WorkerGroup, 0, o.groups)
	for g := range o.groups {
		group, err := NewWorkerGroup(g, backends[g*k:(g+1)*k], q, o.logger,
			reactor.WithRecorder(recorder),
			reactor.WithPollInterval(o.cfg.PollInterval),
			reactor.WithClientOptions(clientOpts...),
		)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// run starts the groups, waits for the queue to drain and stops them.
func (o *Orchestrator) run(ctx context.Context, q *queue.TaskQueue, groups []*WorkerGroup) error {
	groupCtx, stop := context.WithCancel(ctx)
	defer stop()

	eg, egCtx := errgroup.WithContext(groupCtx)
	for _, g := range groups {
		eg.Go(func() error {
			return g.Run(egCtx)
		})
	}

	o.logger.Info("crawl started", "crawl_id", o.crawlID, "groups", len(groups), "tasks", q.Outstanding())

	// A group that fails fatally cancels egCtx, which also ends the join.
	joinErr := q.Join(egCtx)
	stop()
	groupErr := eg.Wait()

	switch {
	case groupErr != nil:
		return fmt.Errorf("worker group failed: %w", groupErr)
	case joinErr != nil:
		return fmt.Errorf("crawl interrupted with %d tasks outstanding: %w", q.Outstanding(), joinErr)
	}

	o.logger.Info("task queue drained", "crawl_id", o.crawlID)
	return nil
}

// recorder fans results out to the summary and the extra recorders.
func (o *Orchestrator) recorder(summary *model.CrawlSummary) reactor.Recorder {
	return reactor.RecorderFunc(func(r model.TransferResult) {
		summary.Add(r)
		for _, rec := range o.recorders {
			rec.Record(r)
		}
	})
}

// clientOptions maps the transfer policy of the configuration to client
// options shared by every slot.
func (o *Orchestrator) clientOptions() []tor.ClientOption {
	opts := []tor.ClientOption{
		tor.WithConnectTimeout(o.cfg.ConnectTimeout),
		tor.WithTimeout(o.cfg.TransferTimeout),
		tor.WithMaxRedirects(o.cfg.MaxRedirects),
		tor.WithUserAgent(o.cfg.UserAgent),
		tor.WithInsecureTLS(o.cfg.InsecureTLS),
	}
	if o.cfg.Sites != nil {
		opts = append(opts, tor.WithSiteSettings(o.cfg.Sites.GetSiteConfig))
	}
	return opts
}
