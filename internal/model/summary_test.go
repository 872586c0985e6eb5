package model

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestOutcome tests Outcome string conversion in both directions.
func TestOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeSuccess, "success"},
		{OutcomeFailure, "failure"},
		{Outcome(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			if got := tt.outcome.String(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	t.Run("parse round trip", func(t *testing.T) {
		t.Parallel()
		for _, o := range []Outcome{OutcomeSuccess, OutcomeFailure} {
			parsed, ok := ParseOutcome(o.String())
			if !ok || parsed != o {
				t.Errorf("expected %v, got %v (ok=%v)", o, parsed, ok)
			}
		}
		if _, ok := ParseOutcome("bogus"); ok {
			t.Error("expected bogus outcome to be rejected")
		}
	})

	t.Run("marshals as string", func(t *testing.T) {
		t.Parallel()
		data, err := json.Marshal(TransferResult{Outcome: OutcomeFailure})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(string(data), `"outcome":"failure"`) {
			t.Errorf("expected outcome encoded as string, got %s", data)
		}

		var decoded TransferResult
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if decoded.Outcome != OutcomeFailure {
			t.Errorf("expected failure after decode, got %v", decoded.Outcome)
		}
	})

	t.Run("rejects unknown outcome", func(t *testing.T) {
		t.Parallel()
		var o Outcome
		if err := json.Unmarshal([]byte(`"maybe"`), &o); err == nil {
			t.Error("expected error for unknown outcome")
		}
	})
}

// TestTransferResultDuration tests slot occupancy computation.
func TestTransferResultDuration(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := TransferResult{StartedAt: start, FinishedAt: start.Add(3 * time.Second)}
	if got := r.Duration(); got != 3*time.Second {
		t.Errorf("expected 3s, got %v", got)
	}

	r = TransferResult{StartedAt: start, FinishedAt: start.Add(-time.Second)}
	if got := r.Duration(); got != 0 {
		t.Errorf("expected 0 for inverted timestamps, got %v", got)
	}
}

// TestCrawlSummary tests result aggregation.
func TestCrawlSummary(t *testing.T) {
	t.Parallel()

	t.Run("counts outcomes and bytes", func(t *testing.T) {
		t.Parallel()

		s := NewCrawlSummary("crawl-1")
		s.Add(TransferResult{Outcome: OutcomeSuccess, BytesWritten: 10})
		s.Add(TransferResult{Outcome: OutcomeSuccess, BytesWritten: 5})
		s.Add(TransferResult{
			Task:         NewTask("http://unreachable.invalid/", "doc_003.txt"),
			Outcome:      OutcomeFailure,
			ErrorKind:    "connect",
			BytesWritten: 2,
		})

		if s.Succeeded != 2 {
			t.Errorf("expected 2 successes, got %d", s.Succeeded)
		}
		if s.Failed != 1 {
			t.Errorf("expected 1 failure, got %d", s.Failed)
		}
		if s.BytesWritten != 17 {
			t.Errorf("expected 17 bytes, got %d", s.BytesWritten)
		}
		if s.Completed() != 3 {
			t.Errorf("expected 3 completed, got %d", s.Completed())
		}
		urls := s.FailedURLs()
		if len(urls) != 1 || urls[0] != "http://unreachable.invalid/" {
			t.Errorf("unexpected failed URLs %v", urls)
		}
	})

	t.Run("orders failure kinds by count", func(t *testing.T) {
		t.Parallel()

		s := NewCrawlSummary("crawl-2")
		for _, kind := range []string{"timeout", "connect", "connect", "protocol", "timeout", "connect"} {
			s.Add(TransferResult{Outcome: OutcomeFailure, ErrorKind: kind})
		}

		got := s.FailureKinds()
		want := []string{"connect", "timeout", "protocol"}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("position %d: expected %q, got %q", i, want[i], got[i])
			}
		}
	})

	t.Run("safe for concurrent recording", func(t *testing.T) {
		t.Parallel()

		s := NewCrawlSummary("crawl-3")
		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcome := OutcomeSuccess
				if i%2 == 0 {
					outcome = OutcomeFailure
				}
				s.Add(TransferResult{Outcome: outcome, ErrorKind: "timeout", BytesWritten: 1})
			}()
		}
		wg.Wait()

		if s.Completed() != 50 {
			t.Errorf("expected 50 completed, got %d", s.Completed())
		}
		if s.BytesWritten != 50 {
			t.Errorf("expected 50 bytes, got %d", s.BytesWritten)
		}
	})

	t.Run("finish freezes duration", func(t *testing.T) {
		t.Parallel()

		s := NewCrawlSummary("crawl-4")
		s.Finish()
		d1 := s.Duration()
		time.Sleep(5 * time.Millisecond)
		if d2 := s.Duration(); d2 != d1 {
			t.Errorf("expected duration to stay %v after finish, got %v", d1, d2)
		}
	})
}
