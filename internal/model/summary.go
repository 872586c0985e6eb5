package model

import (
	"sort"
	"sync"
	"time"
)

// CrawlSummary aggregates the results of one crawl run.
// It is safe for concurrent use: every worker group records into the same
// summary while the crawl is running.
type CrawlSummary struct {
	// ID is the crawl run identifier (a UUID).
	ID string `json:"id"`

	// StartedAt is when the crawl started.
	StartedAt time.Time `json:"startedAt"`

	// FinishedAt is when teardown completed. Zero while the crawl is running.
	FinishedAt time.Time `json:"finishedAt,omitzero"`

	// Backends is the number of proxy backends after rounding down.
	Backends int `json:"backends"`

	// Groups is the number of worker groups.
	Groups int `json:"groups"`

	// SlotsPerGroup is the number of transfer slots per group.
	SlotsPerGroup int `json:"slotsPerGroup"`

	// Tasks is the number of tasks enqueued for this crawl.
	Tasks int `json:"tasks"`

	// Succeeded is the number of successful transfers.
	Succeeded int `json:"succeeded"`

	// Failed is the number of failed transfers.
	Failed int `json:"failed"`

	// BytesWritten is the total number of body bytes written to output files.
	BytesWritten int64 `json:"bytesWritten"`

	// FailuresByKind counts failures per error kind.
	FailuresByKind map[string]int `json:"failuresByKind,omitempty"`

	// Failures lists every failed transfer, for an operator retry pass.
	Failures []TransferResult `json:"failures,omitempty"`

	mu sync.Mutex
}

// NewCrawlSummary creates an empty summary for the given crawl ID.
func NewCrawlSummary(id string) *CrawlSummary {
	return &CrawlSummary{
		ID:             id,
		StartedAt:      time.Now(),
		FailuresByKind: make(map[string]int),
		Failures:       make([]TransferResult, 0),
	}
}

// Add records one transfer result.
func (s *CrawlSummary) Add(r TransferResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.BytesWritten += r.BytesWritten
	if r.Succeeded() {
		s.Succeeded++
		return
	}

	s.Failed++
	if s.FailuresByKind == nil {
		s.FailuresByKind = make(map[string]int)
	}
	s.FailuresByKind[r.ErrorKind]++
	s.Failures = append(s.Failures, r)
}

// Completed returns the number of tasks that reached a terminal state.
func (s *CrawlSummary) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Succeeded + s.Failed
}

// Finish marks the crawl as finished.
func (s *CrawlSummary) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishedAt = time.Now()
}

// Duration returns the wall-clock duration of the crawl.
// For a running crawl it returns the time elapsed so far.
func (s *CrawlSummary) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// FailureKinds returns the failure kinds sorted by descending count,
// ties broken alphabetically. Report writers use this for stable output.
func (s *CrawlSummary) FailureKinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds := make([]string, 0, len(s.FailuresByKind))
	for kind := range s.FailuresByKind {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool {
		ci, cj := s.FailuresByKind[kinds[i]], s.FailuresByKind[kinds[j]]
		if ci != cj {
			return ci > cj
		}
		return kinds[i] < kinds[j]
	})
	return kinds
}

// FailedURLs returns the URLs of all failed transfers in record order.
func (s *CrawlSummary) FailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := make([]string, len(s.Failures))
	for i, f := range s.Failures {
		urls[i] = f.Task.URL
	}
	return urls
}
