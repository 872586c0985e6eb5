package reactor

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/nao1215/torcrawl/internal/tor"
)

// Failure kinds recorded for failed transfers.
const (
	// KindTimeout covers the connect timeout and the total transfer timeout.
	KindTimeout = "timeout"
	// KindConnect means the proxy or the target could not be reached.
	KindConnect = "connect"
	// KindRedirectLimit means the redirect chain exceeded the limit.
	KindRedirectLimit = "redirect_limit"
	// KindProtocol covers malformed responses, TLS failures and resets.
	KindProtocol = "protocol"
	// KindOutput means the output file could not be opened, written or closed.
	KindOutput = "output"
	// KindCanceled means the crawl was cancelled while the transfer ran.
	KindCanceled = "canceled"
)

// Construction errors.
var (
	// ErrNoSlots is returned by New when no slots are given.
	ErrNoSlots = errors.New("reactor needs at least one transfer slot")

	// ErrNilQueue is returned by New when no queue is given.
	ErrNilQueue = errors.New("reactor needs a task queue")
)

// TransferError describes a failed transfer. It is recorded and logged, and
// never stops the reactor.
type TransferError struct {
	Kind string
	URL  string
	Err  error
}

// Error implements error.
func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// outputError marks failures of the local output file.
type outputError struct {
	op  string
	err error
}

func (e *outputError) Error() string {
	return e.op + " output: " + e.err.Error()
}

func (e *outputError) Unwrap() error {
	return e.err
}

// newTransferError classifies err for url.
func newTransferError(url string, err error) *TransferError {
	return &TransferError{Kind: Classify(err), URL: url, Err: err}
}

// Classify maps a transfer error to one of the failure kinds.
func Classify(err error) string {
	var outErr *outputError
	var dialErr *tor.DialError
	var netErr net.Error

	switch {
	case err == nil:
		return ""
	case errors.As(err, &outErr):
		return KindOutput
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, tor.ErrRedirectLimitExceeded):
		return KindRedirectLimit
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	case errors.As(err, &dialErr):
		return KindConnect
	default:
		return KindProtocol
	}
}
