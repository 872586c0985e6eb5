package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// Transfer limits follow the values the crawler has always used against the
// Tor network; they are generous because every hop adds latency.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "torcrawl"

	// DefaultNumBackends is the number of Tor daemons launched by default.
	DefaultNumBackends = 3

	// DefaultSlotsPerGroup is the number of concurrent transfers per worker group.
	// Each slot is bound to exactly one backend, so a group of 3 slots
	// consumes 3 backends.
	DefaultSlotsPerGroup = 3

	// DefaultBaseSocksPort is the first SOCKS port. Backend i listens on
	// DefaultBaseSocksPort+i and its control port sits after the last SOCKS port.
	DefaultBaseSocksPort = 8000

	// DefaultOutputDir is the directory where response bodies are written.
	DefaultOutputDir = "results"

	// DefaultConnectTimeout bounds establishing a connection through the proxy,
	// including the SOCKS handshake and the remote connect.
	DefaultConnectTimeout = 60 * time.Second

	// DefaultTransferTimeout bounds a whole transfer, redirects and body included.
	// It caps how long one unresponsive target can occupy a slot.
	DefaultTransferTimeout = 300 * time.Second

	// DefaultMaxRedirects is the number of redirects followed before a
	// transfer fails with a redirect-limit error.
	DefaultMaxRedirects = 5

	// DefaultPollInterval is the reactor's idle wait. A poll that times out
	// with no activity is normal and simply re-enters admission.
	DefaultPollInterval = 1 * time.Second

	// DefaultTorBinary is the Tor executable looked up in PATH.
	DefaultTorBinary = "tor"

	// DefaultTorStartupTimeout is the maximum time to wait for one Tor daemon
	// to open its ports and finish bootstrapping.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultTrackHostExitsExpire keeps the same exit relay for a destination
	// for 30 minutes, so a burst of tasks to one host shares an apparent origin.
	DefaultTrackHostExitsExpire = 30 * time.Minute

	// DefaultUserAgent identifies torcrawl in HTTP requests.
	DefaultUserAgent = "torcrawl/1.0 (+https://github.com/nao1215/torcrawl)"

	// maxPort is the highest valid TCP port.
	maxPort = 65535
)

// Config holds all configuration options for torcrawl.
// This struct is populated from defaults, the optional config file and CLI
// flags, in that order, and passed through the application explicitly.
//
// Design decision: We keep a single flat struct like the rest of the
// application's configuration. Engine parameters, Tor launch parameters and
// report options are few enough that nesting would only add indirection.
type Config struct {
	// NumBackends is the number of Tor daemons to launch. It is rounded down
	// to a multiple of SlotsPerGroup before launch (see AdjustedBackends).
	NumBackends int

	// SlotsPerGroup is the number of transfer slots per worker group.
	SlotsPerGroup int

	// BaseSocksPort is the SOCKS port of backend 0. Control ports start at
	// BaseSocksPort + AdjustedBackends().
	BaseSocksPort int

	// OutputDir is the directory that receives one file per task.
	OutputDir string

	// Targets are URLs given on the command line.
	Targets []string

	// ListFile is a file with one URL per line.
	ListFile string

	// ConnectTimeout bounds connection establishment through the proxy.
	ConnectTimeout time.Duration

	// TransferTimeout bounds an entire transfer.
	TransferTimeout time.Duration

	// MaxRedirects is the redirect limit per transfer.
	MaxRedirects int

	// PollInterval is the reactor's bounded idle wait.
	PollInterval time.Duration

	// TorBinary is the tor executable name or path.
	TorBinary string

	// TorDataDir is the root under which each backend gets its own
	// tor_s<socks>c<control> data directory. The directories are kept between
	// runs so Tor can reuse its cached consensus and descriptors.
	TorDataDir string

	// TorStartupTimeout is the readiness deadline for each backend.
	TorStartupTimeout time.Duration

	// WaitBootstrap makes the supervisor wait until each backend reports
	// 100% bootstrap on its control port, not just open ports.
	WaitBootstrap bool

	// TrackHostExitsExpire is passed to Tor's TrackHostExitsExpire option.
	TrackHostExitsExpire time.Duration

	// UserAgent is the default User-Agent header. Site configs may override it.
	UserAgent string

	// InsecureTLS disables certificate verification for https targets.
	InsecureTLS bool

	// Verbose enables detailed log output using slog.LevelDebug.
	Verbose bool

	// ConfigFilePath is the path to the configuration file.
	// If empty, .torcrawl is searched in the current and home directories.
	ConfigFilePath string

	// Sites holds per-site request settings loaded from the config file.
	Sites *File

	// JSONReport selects the JSON crawl report. Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport selects the Markdown crawl report.
	MarkdownReport bool

	// ReportFile is the output path for the report; stdout when empty.
	ReportFile string

	// DBDir is the directory holding the results database.
	// Defaults to the XDG data directory (~/.local/share/torcrawl on Linux).
	DBDir string

	// SaveToDB records every transfer in the results database.
	SaveToDB bool
}

// NewConfig creates a new Config with default values.
//
// Design decision: We use a constructor function instead of relying on
// zero values because most defaults are non-zero (ports, timeouts, counts).
// This also serves as documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		NumBackends:          DefaultNumBackends,
		SlotsPerGroup:        DefaultSlotsPerGroup,
		BaseSocksPort:        DefaultBaseSocksPort,
		OutputDir:            DefaultOutputDir,
		ConnectTimeout:       DefaultConnectTimeout,
		TransferTimeout:      DefaultTransferTimeout,
		MaxRedirects:         DefaultMaxRedirects,
		PollInterval:         DefaultPollInterval,
		TorBinary:            DefaultTorBinary,
		TorDataDir:           XDGTorDataDir(),
		TorStartupTimeout:    DefaultTorStartupTimeout,
		WaitBootstrap:        true,
		TrackHostExitsExpire: DefaultTrackHostExitsExpire,
		UserAgent:            DefaultUserAgent,
		DBDir:                XDGDataDir(),
		SaveToDB:             true,
	}
}

// XDGDataDir returns the XDG data directory for torcrawl.
// On Linux: ~/.local/share/torcrawl
// On macOS: ~/Library/Application Support/torcrawl
// On Windows: %LOCALAPPDATA%\torcrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for torcrawl.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGTorDataDir returns the default root for per-backend Tor data directories.
func XDGTorDataDir() string {
	return filepath.Join(XDGDataDir(), "tor")
}

// AdjustedBackends returns NumBackends rounded down to the nearest multiple
// of SlotsPerGroup, so every worker group gets the same number of slots.
// It returns NumBackends unchanged when SlotsPerGroup is not positive.
func (c *Config) AdjustedBackends() int {
	if c.SlotsPerGroup <= 0 {
		return c.NumBackends
	}
	return c.NumBackends - c.NumBackends%c.SlotsPerGroup
}

// Groups returns the number of worker groups that fit in AdjustedBackends.
func (c *Config) Groups() int {
	if c.SlotsPerGroup <= 0 {
		return 0
	}
	return c.AdjustedBackends() / c.SlotsPerGroup
}

// BaseControlPort returns the control port of backend 0. Control ports are
// laid out right after the last SOCKS port.
func (c *Config) BaseControlPort() int {
	return c.BaseSocksPort + c.AdjustedBackends()
}

// BackendDataDir returns the data directory for the backend with the given
// ports. The name depends on both ports, so concurrent backends never share
// a directory.
func BackendDataDir(root string, socksPort, controlPort int) string {
	return filepath.Join(root, fmt.Sprintf("tor_s%dc%d", socksPort, controlPort))
}

// Validate checks if the configuration is valid.
// Every returned error wraps ErrInvalidConfiguration and the specific
// sentinel describing the problem, so callers can match either.
//
// Design decision: We validate at the config level rather than at each
// point of use to fail fast, before any Tor process is launched.
// We return the first error found because fixing one often makes the
// others irrelevant.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.SlotsPerGroup <= 0 {
		return ErrInvalidSlotsPerGroup
	}

	if c.NumBackends <= 0 {
		return ErrInvalidBackendCount
	}

	// Rounding down would otherwise leave zero worker groups
	if c.SlotsPerGroup > c.NumBackends {
		return ErrSlotsExceedBackends
	}

	// Both the SOCKS and the control port ranges must fit below 65536
	if c.BaseSocksPort <= 0 || c.BaseSocksPort+2*c.NumBackends-1 > maxPort {
		return ErrInvalidBasePort
	}

	if c.OutputDir == "" {
		return ErrNoOutputDir
	}

	if c.ConnectTimeout <= 0 || c.TransferTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.MaxRedirects < 0 {
		return ErrInvalidMaxRedirects
	}

	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	if c.TorStartupTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	return nil
}
