package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/torcrawl/internal/model"
)

// SimpleWriter outputs human-readable text reports.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors because it works in all terminals and is easy to pipe to
// files or other tools.
type SimpleWriter struct {
	baseWriter

	// verbose lists every failed transfer with its error message.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the summary in human-readable format.
func (w *SimpleWriter) Write(s *model.CrawlSummary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, s)
	w.writeCounts(&sb, s)
	w.writeFailures(&sb, s)
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

// writeHeader writes the crawl identity and layout.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, s *model.CrawlSummary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                         TORCRAWL REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Crawl ID:       %s\n", s.ID)
	fmt.Fprintf(sb, "Started:        %s\n", s.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Duration:       %s\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(sb, "Backends:       %d (%d groups x %d slots)\n", s.Backends, s.Groups, s.SlotsPerGroup)
	fmt.Fprintf(sb, "Status:         %s\n", status(s))
	sb.WriteString("\n")
}

// writeCounts writes the outcome counters.
func (w *SimpleWriter) writeCounts(sb *strings.Builder, s *model.CrawlSummary) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("TRANSFERS\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "  TASKS:      %d\n", s.Tasks)
	fmt.Fprintf(sb, "  SUCCEEDED:  %d\n", s.Succeeded)
	fmt.Fprintf(sb, "  FAILED:     %d\n", s.Failed)
	fmt.Fprintf(sb, "  BYTES:      %d\n", s.BytesWritten)
	sb.WriteString("\n")
}

// writeFailures writes failure counts per kind and, when verbose, every
// failed transfer.
func (w *SimpleWriter) writeFailures(sb *strings.Builder, s *model.CrawlSummary) {
	if s.Failed == 0 {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("FAILURES\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	for _, kind := range s.FailureKinds() {
		fmt.Fprintf(sb, "  [%s] %d\n", KindLabel(kind), s.FailuresByKind[kind])
	}
	sb.WriteString("\n")

	if !w.verbose {
		return
	}
	for _, f := range s.Failures {
		fmt.Fprintf(sb, "  * %s\n", f.Task.URL)
		fmt.Fprintf(sb, "    File:  %s (%d bytes kept)\n", f.Task.OutputPath, f.BytesWritten)
		fmt.Fprintf(sb, "    Kind:  %s\n", f.ErrorKind)
		if f.Error != "" {
			fmt.Fprintf(sb, "    Error: %s\n", f.Error)
		}
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Failed URLs can be listed with: torcrawl results --failed-urls\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
