package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outcome is the terminal state of a transfer.
//
// Design decision: Only two outcomes exist at the queue level. Success and
// failure both free the slot and mark the task done; the distinction only
// matters for accounting and reports.
type Outcome int

const (
	// OutcomeSuccess means the response body was received completely.
	// The HTTP status code is informational; a 404 body is still a success.
	OutcomeSuccess Outcome = iota

	// OutcomeFailure means the transfer ended with an error. Whatever was
	// written to the output file before the error is kept.
	OutcomeFailure
)

// String returns the lower-case name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// ParseOutcome converts a string produced by Outcome.String back into an Outcome.
// The second return value is false when the string is not a known outcome.
func ParseOutcome(s string) (Outcome, bool) {
	switch s {
	case "success":
		return OutcomeSuccess, true
	case "failure":
		return OutcomeFailure, true
	default:
		return OutcomeFailure, false
	}
}

// MarshalJSON encodes the outcome as its string name.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes an outcome from its string name.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, ok := ParseOutcome(s)
	if !ok {
		return fmt.Errorf("unknown outcome %q", s)
	}
	*o = parsed
	return nil
}

// TransferResult records how one task ended.
type TransferResult struct {
	// Task is the task that was executed.
	Task Task `json:"task"`

	// Outcome is success or failure.
	Outcome Outcome `json:"outcome"`

	// GroupIndex is the worker group whose reactor ran the transfer.
	GroupIndex int `json:"groupIndex"`

	// SlotID identifies the transfer slot within its group.
	SlotID int `json:"slotId"`

	// SocksAddr is the backend SOCKS endpoint the slot is bound to.
	SocksAddr string `json:"socksAddr"`

	// EffectiveURL is the final URL after redirects (success only).
	EffectiveURL string `json:"effectiveUrl,omitempty"`

	// StatusCode is the final HTTP status code, 0 if no response arrived.
	StatusCode int `json:"statusCode,omitempty"`

	// BytesWritten is the number of body bytes appended to the output file.
	// For failures this is the size of the partial content.
	BytesWritten int64 `json:"bytesWritten"`

	// BodySHA3 is the hex SHA3-256 digest of the bytes written.
	BodySHA3 string `json:"bodySha3,omitempty"`

	// ErrorKind classifies a failure (timeout, connect, redirect_limit, ...).
	ErrorKind string `json:"errorKind,omitempty"`

	// Error is the failure message.
	Error string `json:"error,omitempty"`

	// StartedAt is when the slot was admitted for this task.
	StartedAt time.Time `json:"startedAt"`

	// FinishedAt is when the transfer reached its terminal state.
	FinishedAt time.Time `json:"finishedAt"`
}

// Duration returns how long the transfer occupied its slot.
func (r TransferResult) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the transfer completed successfully.
func (r TransferResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}
