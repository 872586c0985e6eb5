package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/torcrawl/internal/model"
)

// createTestSummary creates a finished summary with one success and
// two failures of different kinds.
func createTestSummary() *model.CrawlSummary {
	s := model.NewCrawlSummary("0b9d8c1e-7a5f-4c1e-9a51-3f1c2d4e5f60")
	s.StartedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.Backends = 4
	s.Groups = 2
	s.SlotsPerGroup = 2
	s.Tasks = 3

	s.Add(model.TransferResult{
		Task:         model.NewTask("http://example.com/a", "results/doc_001.txt"),
		Outcome:      model.OutcomeSuccess,
		StatusCode:   200,
		BytesWritten: 100,
	})
	s.Add(model.TransferResult{
		Task:         model.NewTask("http://example.com/b", "results/doc_002.txt"),
		Outcome:      model.OutcomeFailure,
		BytesWritten: 20,
		ErrorKind:    "timeout",
		Error:        "context deadline exceeded",
	})
	s.Add(model.TransferResult{
		Task:      model.NewTask("http://example.com/c", "results/doc_003.txt"),
		Outcome:   model.OutcomeFailure,
		ErrorKind: "redirect_limit",
		Error:     "stopped after 20 redirects",
	})
	s.FinishedAt = s.StartedAt.Add(1500 * time.Millisecond)
	return s
}

// createCleanSummary creates a finished summary where every transfer succeeded.
func createCleanSummary() *model.CrawlSummary {
	s := model.NewCrawlSummary("clean")
	s.Tasks = 1
	s.Add(model.TransferResult{
		Task:         model.NewTask("http://example.com/", "results/doc_001.txt"),
		Outcome:      model.OutcomeSuccess,
		BytesWritten: 10,
	})
	s.Finish()
	return s
}

// TestSimpleWriter tests the human-readable report writer.
func TestSimpleWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes report header", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewSimpleWriter(&buf)

		n, err := w.Write(createTestSummary())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != buf.Len() {
			t.Errorf("expected %d bytes reported, got %d", buf.Len(), n)
		}

		output := buf.String()
		for _, want := range []string{
			"TORCRAWL REPORT",
			"0b9d8c1e-7a5f-4c1e-9a51-3f1c2d4e5f60",
			"4 (2 groups x 2 slots)",
			"1.5s",
			"completed with failures",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("writes counters", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{"TASKS:      3", "SUCCEEDED:  1", "FAILED:     2", "BYTES:      120"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("writes failure kinds", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		if !strings.Contains(output, "[Redirect Limit] 1") {
			t.Error("expected output to contain redirect limit count")
		}
		if !strings.Contains(output, "[Timeout] 1") {
			t.Error("expected output to contain timeout count")
		}
		if strings.Contains(output, "http://example.com/b") {
			t.Error("non-verbose output should not list failed URLs")
		}
	})

	t.Run("verbose mode lists failed transfers", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf, WithVerbose(true)).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{
			"http://example.com/b",
			"results/doc_002.txt (20 bytes kept)",
			"context deadline exceeded",
			"http://example.com/c",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
		if strings.Contains(output, "http://example.com/a") {
			t.Error("successful transfers should not be listed")
		}
	})

	t.Run("omits failure section when clean", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(createCleanSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		if strings.Contains(output, "FAILURES") {
			t.Error("expected no failure section")
		}
		if !strings.Contains(output, "Status:         completed\n") {
			t.Error("expected completed status")
		}
	})
}

// TestJSONWriter tests the JSON report writer.
func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes valid compact JSON", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		if !strings.HasSuffix(output, "\n") {
			t.Error("expected trailing newline")
		}
		if strings.Count(output, "\n") != 1 {
			t.Error("expected compact single-line output")
		}

		var decoded map[string]any
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if decoded["id"] != "0b9d8c1e-7a5f-4c1e-9a51-3f1c2d4e5f60" {
			t.Errorf("unexpected id: %v", decoded["id"])
		}
		if decoded["failed"] != float64(2) {
			t.Errorf("expected failed=2, got %v", decoded["failed"])
		}
		kinds, ok := decoded["failuresByKind"].(map[string]any)
		if !ok || kinds["timeout"] != float64(1) {
			t.Errorf("unexpected failuresByKind: %v", decoded["failuresByKind"])
		}
	})

	t.Run("pretty print indents output", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithPrettyPrint()).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n  \"id\"") {
			t.Error("expected two-space indentation")
		}
	})

	t.Run("custom indent", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithIndent("", "\t")).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n\t\"id\"") {
			t.Error("expected tab indentation")
		}
	})

	t.Run("version wraps summary", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithVersion("v1.2.3")).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var decoded JSONReport
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if decoded.Version != "v1.2.3" {
			t.Errorf("expected version v1.2.3, got %q", decoded.Version)
		}
		if decoded.Status != "completed with failures" {
			t.Errorf("unexpected status %q", decoded.Status)
		}
		if decoded.DurationSeconds != 1.5 {
			t.Errorf("expected 1.5 seconds, got %v", decoded.DurationSeconds)
		}
		if decoded.Summary == nil || decoded.Summary.Succeeded != 1 {
			t.Errorf("unexpected summary: %+v", decoded.Summary)
		}
	})
}

// TestMarkdownWriter tests the Markdown report writer.
func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes header table", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{
			"# torcrawl Report",
			"`0b9d8c1e-7a5f-4c1e-9a51-3f1c2d4e5f60`",
			"2 x 2 slots",
			"## Transfers",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("writes pie chart of outcomes", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		if !strings.Contains(output, "```mermaid") {
			t.Error("expected mermaid code block")
		}
		for _, want := range []string{"Transfer Outcomes", "Succeeded", "Redirect Limit", "Timeout"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected pie chart to contain %q", want)
			}
		}
	})

	t.Run("writes failures table", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		if !strings.Contains(output, "## Failures") {
			t.Error("expected failures section")
		}
		if !strings.Contains(output, "`results/doc_003.txt`") {
			t.Error("expected failed output path")
		}
		if !strings.Contains(output, "[!IMPORTANT]") {
			t.Error("expected important alert for partial failures")
		}
	})

	t.Run("alerts match outcome", func(t *testing.T) {
		t.Parallel()

		allFailed := model.NewCrawlSummary("failed")
		allFailed.Tasks = 1
		allFailed.Add(model.TransferResult{Outcome: model.OutcomeFailure, ErrorKind: "connect"})
		allFailed.Finish()

		interrupted := model.NewCrawlSummary("interrupted")
		interrupted.Tasks = 5
		interrupted.Add(model.TransferResult{Outcome: model.OutcomeSuccess})
		interrupted.Finish()

		empty := model.NewCrawlSummary("empty")
		empty.Finish()

		tests := []struct {
			name    string
			summary *model.CrawlSummary
			want    string
		}{
			{name: "clean", summary: createCleanSummary(), want: "[!TIP]"},
			{name: "all failed", summary: allFailed, want: "[!CAUTION]"},
			{name: "interrupted", summary: interrupted, want: "[!WARNING]"},
			{name: "empty", summary: empty, want: "[!NOTE]"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				var buf bytes.Buffer
				if _, err := NewMarkdownWriter(&buf).Write(tt.summary); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !strings.Contains(buf.String(), tt.want) {
					t.Errorf("expected %s alert", tt.want)
				}
			})
		}
	})

	t.Run("omits pie chart when nothing completed", func(t *testing.T) {
		t.Parallel()

		s := model.NewCrawlSummary("empty")
		s.Finish()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(s); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(buf.String(), "```mermaid") {
			t.Error("expected no pie chart")
		}
	})
}

// failingWriter is a Writer that always fails.
type failingWriter struct{ err error }

func (f failingWriter) Write(*model.CrawlSummary) (int, error) { return 0, f.err }

// TestMultiWriter tests writing to several writers.
func TestMultiWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes to all writers", func(t *testing.T) {
		t.Parallel()

		var text, js bytes.Buffer
		w := NewMultiWriter(NewSimpleWriter(&text), NewJSONWriter(&js))

		n, err := w.Write(createTestSummary())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != text.Len()+js.Len() {
			t.Errorf("expected %d total bytes, got %d", text.Len()+js.Len(), n)
		}
		if text.Len() == 0 || js.Len() == 0 {
			t.Error("expected both writers to receive output")
		}
	})

	t.Run("stops on first error", func(t *testing.T) {
		t.Parallel()

		wantErr := errors.New("disk full")
		var after bytes.Buffer
		w := NewMultiWriter(failingWriter{err: wantErr}, NewSimpleWriter(&after))

		_, err := w.Write(createTestSummary())
		if !errors.Is(err, wantErr) {
			t.Errorf("expected %v, got %v", wantErr, err)
		}
		if after.Len() != 0 {
			t.Error("expected later writers to be skipped")
		}
	})
}

// TestKindLabel tests failure kind display labels.
func TestKindLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind string
		want string
	}{
		{kind: "timeout", want: "Timeout"},
		{kind: "redirect_limit", want: "Redirect Limit"},
		{kind: "connect", want: "Connect"},
		{kind: "", want: "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			if got := KindLabel(tt.kind); got != tt.want {
				t.Errorf("KindLabel(%q) = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}

// TestTruncateString tests string truncation.
func TestTruncateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "short string unchanged", input: "abc", maxLen: 10, want: "abc"},
		{name: "long string truncated", input: "abcdefghij", maxLen: 8, want: "abcde..."},
		{name: "tiny limit", input: "abcdef", maxLen: 2, want: "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := truncateString(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("truncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}
