package crawl

import "errors"

var (
	// ErrNilQueue is returned by Crawl when no task queue is given.
	ErrNilQueue = errors.New("crawl needs a task queue")

	// ErrBackendNotReady is returned when a worker group is built over a
	// backend that is not in the ready state.
	ErrBackendNotReady = errors.New("backend is not ready")

	// ErrBackendCountMismatch is returned when the supervisor hands back a
	// different number of backends than requested.
	ErrBackendCountMismatch = errors.New("supervisor returned an unexpected number of backends")
)
