package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/torcrawl/internal/config"
	"github.com/nao1215/torcrawl/internal/crawl"
	"github.com/nao1215/torcrawl/internal/database"
	"github.com/nao1215/torcrawl/internal/log"
	"github.com/nao1215/torcrawl/internal/model"
	"github.com/nao1215/torcrawl/internal/queue"
	"github.com/nao1215/torcrawl/internal/reactor"
	"github.com/nao1215/torcrawl/internal/report"
	"github.com/nao1215/torcrawl/internal/tasklist"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Download URLs in parallel through a fleet of Tor daemons",
		Long: `Crawl launches a fleet of Tor daemons and downloads every URL through them.

Backends are split into worker groups of --slots backends each. Every slot of
a group is bound to its own backend, so a group runs --slots transfers at once,
each over a different Tor circuit. All groups pull from one shared queue.

The body of the n-th URL is written to doc_NNN.txt in the output directory.
Files are opened in append mode: re-running a crawl into the same directory
appends to existing files.

Failed transfers are not retried. List them with 'torcrawl results --failed-urls'
and feed them back with --list.

Examples:
  # Crawl two URLs with the default fleet (3 backends, 3 slots per group)
  torcrawl crawl http://example.com/ https://example.org/

  # Crawl a URL list with 9 backends in 3 groups
  torcrawl crawl --list urls.txt --backends 9 --slots 3

  # Retry the failures of the previous crawl into a new directory
  torcrawl results --failed-urls > retry.txt
  torcrawl crawl --list retry.txt --output-dir retry

  # Write a Markdown report
  torcrawl crawl --list urls.txt --markdown --report report.md`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Fleet flags
	cmd.Flags().IntP("backends", "n", config.DefaultNumBackends,
		"Number of Tor daemons to launch (rounded down to a multiple of --slots)")
	cmd.Flags().IntP("slots", "s", config.DefaultSlotsPerGroup,
		"Concurrent transfers per worker group")
	cmd.Flags().IntP("base-port", "P", config.DefaultBaseSocksPort,
		"SOCKS port of the first backend")

	// Task flags
	cmd.Flags().StringP("list", "l", "",
		"File with one URL per line ('#' starts a comment)")
	cmd.Flags().StringP("output-dir", "o", config.DefaultOutputDir,
		"Directory receiving one file per URL")

	// Transfer flags
	cmd.Flags().Duration("connect-timeout", config.DefaultConnectTimeout,
		"Timeout for connecting through the proxy")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTransferTimeout,
		"Timeout for a whole transfer, redirects included")
	cmd.Flags().Int("max-redirects", config.DefaultMaxRedirects,
		"Redirects followed before a transfer fails")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header sent with every request")
	cmd.Flags().Bool("insecure", false,
		"Skip TLS certificate verification for https URLs")

	// Tor flags
	cmd.Flags().String("tor-binary", config.DefaultTorBinary,
		"Tor executable name or path")
	cmd.Flags().String("tor-data-dir", "",
		"Root of the per-backend Tor data directories (default: XDG data directory)")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for one Tor daemon to become ready")
	cmd.Flags().Bool("no-bootstrap-wait", false,
		"Start crawling as soon as the ports are open instead of waiting for 100% bootstrap")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .torcrawl in current or home directory)")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("report", "r", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().Bool("no-db", false,
		"Do not record the crawl in the results database")
	cmd.Flags().String("db-dir", "",
		"Directory of the results database (default: XDG data directory)")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildCrawlConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := log.NewSecureLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle interrupt signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, stopping backends...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runCrawl(ctx, cfg, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// buildCrawlConfig creates a Config from defaults, the config file and
// cobra command flags, in that order of precedence.
func buildCrawlConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	cfg.ConfigFilePath, err = flags.GetString("config")
	if err != nil {
		return nil, err
	}

	// If user explicitly specified a config file path, error if not found.
	// If no path specified, silently use empty config if no file found.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		file.Apply(cfg)
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	default:
		cfg.Sites = &config.File{Sites: make(map[string]config.SiteConfig)}
	}

	// Only flags set on the command line override the config file.
	intFlags := map[string]*int{
		"backends":      &cfg.NumBackends,
		"slots":         &cfg.SlotsPerGroup,
		"base-port":     &cfg.BaseSocksPort,
		"max-redirects": &cfg.MaxRedirects,
	}
	for name, dst := range intFlags {
		if flags.Changed(name) {
			if *dst, err = flags.GetInt(name); err != nil {
				return nil, err
			}
		}
	}

	durationFlags := map[string]*time.Duration{
		"connect-timeout": &cfg.ConnectTimeout,
		"timeout":         &cfg.TransferTimeout,
		"tor-timeout":     &cfg.TorStartupTimeout,
	}
	for name, dst := range durationFlags {
		if flags.Changed(name) {
			if *dst, err = flags.GetDuration(name); err != nil {
				return nil, err
			}
		}
	}

	stringFlags := map[string]*string{
		"output-dir":   &cfg.OutputDir,
		"user-agent":   &cfg.UserAgent,
		"tor-binary":   &cfg.TorBinary,
		"tor-data-dir": &cfg.TorDataDir,
		"db-dir":       &cfg.DBDir,
	}
	for name, dst := range stringFlags {
		if flags.Changed(name) {
			if *dst, err = flags.GetString(name); err != nil {
				return nil, err
			}
		}
	}

	if flags.Changed("no-bootstrap-wait") {
		noWait, err := flags.GetBool("no-bootstrap-wait")
		if err != nil {
			return nil, err
		}
		cfg.WaitBootstrap = !noWait
	}

	if cfg.InsecureTLS, err = flags.GetBool("insecure"); err != nil {
		return nil, err
	}
	if cfg.ListFile, err = flags.GetString("list"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("report"); err != nil {
		return nil, err
	}

	noDB, err := flags.GetBool("no-db")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noDB

	cfg.Verbose = getVerboseFlag(cmd)
	cfg.Targets = args

	return cfg, nil
}

// collectURLs returns the positional URLs followed by the URLs of the list
// file. Every URL is validated before anything is launched.
func collectURLs(cfg *config.Config) ([]string, error) {
	urls := make([]string, 0, len(cfg.Targets))
	for _, target := range cfg.Targets {
		if err := tasklist.Validate(target); err != nil {
			return nil, err
		}
		urls = append(urls, target)
	}

	if cfg.ListFile != "" {
		listed, err := tasklist.LoadFile(cfg.ListFile)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.ListFile, err)
		}
		urls = append(urls, listed...)
	}

	return urls, nil
}

// buildQueue creates the task queue for cfg. An explicitly given list file
// that holds no URL yields an empty queue, which makes the crawl a no-op.
func buildQueue(cfg *config.Config) (*queue.TaskQueue, error) {
	if len(cfg.Targets) == 0 && cfg.ListFile == "" {
		return nil, errors.New("no URLs provided (specify URLs as arguments or use --list)")
	}

	urls, err := collectURLs(cfg)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return queue.New(), nil
	}
	return tasklist.Enqueue(urls, cfg.OutputDir)
}

// runCrawl executes the crawl and writes its report.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) error {
	q, err := buildQueue(cfg)
	if err != nil {
		return err
	}

	crawlID := uuid.NewString()
	opts := []crawl.Option{
		crawl.WithLogger(logger),
		crawl.WithCrawlID(crawlID),
	}

	var db *database.CrawlDB
	var recorder *database.TransferRecorder
	// An empty list launches nothing, so there is no run to record.
	if cfg.SaveToDB && q.Outstanding() > 0 {
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		// Transfers reaped during shutdown are still recorded.
		recorder = db.NewTransferRecorder(context.WithoutCancel(ctx), crawlID, logger)
		opts = append(opts, crawl.WithRecorder(reactor.RecorderFunc(recorder.Record)))
		logger.Info("database opened", "path", db.Path())
	}

	orchestrator, err := crawl.New(cfg, opts...)
	if err != nil {
		return err
	}

	if db != nil {
		if err := saveCrawlStart(ctx, db, orchestrator, cfg.SlotsPerGroup, q); err != nil {
			return err
		}
	}

	fmt.Fprintf(stderr, "Launching %d Tor backend(s) in %d worker group(s) for %d URL(s)...\n",
		orchestrator.Backends(), orchestrator.Groups(), q.Outstanding())
	if cfg.WaitBootstrap {
		fmt.Fprintf(stderr, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n")
	}

	startTime := time.Now()
	summary, crawlErr := orchestrator.Crawl(ctx, q)
	if summary == nil {
		return crawlErr
	}
	fmt.Fprintf(stderr, "Crawl %s finished in %s\n\n", crawlID, time.Since(startTime).Round(time.Millisecond))

	if db != nil {
		if err := db.SaveCrawl(context.WithoutCancel(ctx), summary); err != nil {
			logger.Error("failed to save crawl", "crawl_id", crawlID, "error", err)
		}
		if err := recorder.Err(); err != nil {
			logger.Warn("some transfers were not recorded", "crawl_id", crawlID, "error", err)
		}
	}

	if err := outputReport(cfg, summary, stdout); err != nil {
		logger.Error("report failed", "crawl_id", crawlID, "error", err)
		crawlErr = errors.Join(crawlErr, err)
	}

	return crawlErr
}

// saveCrawlStart records the crawl row before any transfer is recorded.
func saveCrawlStart(ctx context.Context, db *database.CrawlDB, o *crawl.Orchestrator, slotsPerGroup int, q *queue.TaskQueue) error {
	s := model.NewCrawlSummary(o.CrawlID())
	s.Backends = o.Backends()
	s.Groups = o.Groups()
	s.SlotsPerGroup = slotsPerGroup
	s.Tasks = q.Outstanding()
	if err := db.SaveCrawl(ctx, s); err != nil {
		return fmt.Errorf("failed to record crawl: %w", err)
	}
	return nil
}

// outputReport writes the summary in the requested format to the report
// file, or to stdout when no file is configured.
func outputReport(cfg *config.Config, summary *model.CrawlSummary, stdout io.Writer) error {
	output := stdout
	if cfg.ReportFile != "" {
		f, err := createReportFile(cfg.ReportFile)
		if err != nil {
			return err
		}
		defer f.Close()
		output = f
	}

	_, err := newReportWriter(cfg.JSONReport, cfg.MarkdownReport, cfg.Verbose, output).Write(summary)
	return err
}

// newReportWriter selects the report writer for the output flags.
func newReportWriter(jsonOutput, markdownOutput, verbose bool, output io.Writer) report.Writer {
	switch {
	case jsonOutput:
		return report.NewJSONWriter(output, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case markdownOutput:
		return report.NewMarkdownWriter(output)
	default:
		return report.NewSimpleWriter(output, report.WithVerbose(verbose))
	}
}

// createReportFile creates or truncates path, creating parent directories.
// Reports list URLs that may be sensitive, so the file is owner-only.
func createReportFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // path is given by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}
	return f, nil
}
