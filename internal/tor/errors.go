package tor

import (
	"errors"
	"fmt"
)

// Proxy connectivity errors.
// These errors are returned when there are problems connecting to or through
// a SOCKS proxy.
//
// Design decision: We define specific error types rather than wrapping all errors
// generically. This allows callers to handle different failure modes appropriately
// (e.g., report a timeout differently from a wrong proxy type).
var (
	// ErrProxyNotTor is returned when the configured proxy address responds
	// but is not a SOCKS5 proxy.
	ErrProxyNotTor = errors.New("proxy is not a Tor SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when we cannot establish a TCP connection
	// to the proxy address. This usually means Tor is not running or the address
	// is incorrect.
	ErrProxyCannotConnect = errors.New("cannot connect to Tor proxy")

	// ErrProxyTimeout is returned when the connection to the proxy times out.
	ErrProxyTimeout = errors.New("timeout connecting to Tor proxy")

	// ErrInvalidProxyAddress is returned when the proxy address format is invalid.
	// Expected format is "host:port".
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrRedirectLimitExceeded is returned by a transfer client when a response
	// chain exceeds the configured redirect limit.
	ErrRedirectLimitExceeded = errors.New("redirect limit exceeded")
)

// Backend lifecycle errors.
var (
	// ErrBackendLaunch is matched by every *BackendLaunchError.
	ErrBackendLaunch = errors.New("proxy backend failed to launch")

	// ErrInvalidTransition is returned when a backend is asked to move to a
	// state that is not reachable from its current state.
	ErrInvalidTransition = errors.New("invalid backend state transition")

	// ErrBootstrapIncomplete is returned when a backend's control port never
	// reports a finished bootstrap within the startup timeout.
	ErrBootstrapIncomplete = errors.New("tor bootstrap did not complete")

	// ErrInvalidBackendCount is returned by Launch when asked for zero backends.
	ErrInvalidBackendCount = errors.New("backend count must be positive")
)

// BackendLaunchError describes one backend that did not reach the Ready state.
// Launch joins one of these per failed backend with errors.Join.
type BackendLaunchError struct {
	Index       int
	SocksPort   int
	ControlPort int
	Err         error
}

// Error implements error.
func (e *BackendLaunchError) Error() string {
	return fmt.Sprintf("backend %d (socks %d, control %d): %v", e.Index, e.SocksPort, e.ControlPort, e.Err)
}

// Unwrap returns the underlying cause.
func (e *BackendLaunchError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrBackendLaunch.
func (e *BackendLaunchError) Is(target error) bool {
	return target == ErrBackendLaunch
}

// ProxyStatus represents the result of checking a SOCKS proxy connection.
// This enum allows for easy status reporting and programmatic handling
// of different proxy states.
type ProxyStatus int

const (
	// ProxyStatusOK indicates the proxy is a working SOCKS5 proxy.
	ProxyStatusOK ProxyStatus = iota

	// ProxyStatusWrongType indicates the connection succeeded but the peer
	// does not speak SOCKS5 without authentication.
	ProxyStatusWrongType

	// ProxyStatusCannotConnect indicates we could not establish a connection.
	// Tor may not be running or the address may be wrong.
	ProxyStatusCannotConnect

	// ProxyStatusTimeout indicates the connection attempt timed out.
	ProxyStatusTimeout
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not Tor)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error returns the appropriate error for this status, or nil if OK.
func (s ProxyStatus) Error() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyNotTor
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}
