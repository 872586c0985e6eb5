package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate(), always wrapped together
// with ErrInvalidConfiguration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrInvalidConfiguration is wrapped by every validation error.
	// It marks a failure that happens before anything is launched.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidSlotsPerGroup is returned when the slot count per group is not positive.
	ErrInvalidSlotsPerGroup = errors.New("invalid slots per group: must be positive")

	// ErrInvalidBackendCount is returned when the number of backends is not positive.
	ErrInvalidBackendCount = errors.New("invalid backend count: must be positive")

	// ErrSlotsExceedBackends is returned when a single worker group would need
	// more backends than are configured.
	ErrSlotsExceedBackends = errors.New("slots per group exceeds the number of backends")

	// ErrInvalidBasePort is returned when the SOCKS and control port ranges
	// do not fit in 1-65535.
	ErrInvalidBasePort = errors.New("invalid base SOCKS port: SOCKS and control port ranges must fit in 1-65535")

	// ErrNoOutputDir is returned when no output directory is configured.
	ErrNoOutputDir = errors.New("no output directory specified")

	// ErrInvalidTimeout is returned when a timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidMaxRedirects is returned when the redirect limit is negative.
	ErrInvalidMaxRedirects = errors.New("invalid redirect limit: must be non-negative")

	// ErrInvalidPollInterval is returned when the reactor poll interval is not positive.
	ErrInvalidPollInterval = errors.New("invalid poll interval: must be positive")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)
