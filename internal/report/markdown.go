package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/torcrawl/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(s *model.CrawlSummary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, s)
	w.writeOutcomes(md, s)
	w.writeFailures(md, s)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the crawl identity and layout.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, s *model.CrawlSummary) {
	md.H1("torcrawl Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Crawl ID", "`" + s.ID + "`"},
			{"Started", s.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", s.Duration().Round(time.Millisecond).String()},
			{"Backends", strconv.Itoa(s.Backends)},
			{"Worker Groups", strconv.Itoa(s.Groups) + " x " + strconv.Itoa(s.SlotsPerGroup) + " slots"},
			{"Status", status(s)},
		},
	})
	md.PlainText("")
}

// writeOutcomes writes the outcome table, a pie chart and an alert.
func (w *MarkdownWriter) writeOutcomes(md *markdown.Markdown, s *model.CrawlSummary) {
	md.H2("Transfers")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"✅ Succeeded", strconv.Itoa(s.Succeeded)},
			{"❌ Failed", strconv.Itoa(s.Failed)},
			{"**Tasks**", "**" + strconv.Itoa(s.Tasks) + "**"},
			{"Bytes written", strconv.FormatInt(s.BytesWritten, 10)},
		},
	})
	md.PlainText("")

	if s.Completed() > 0 {
		w.writePieChart(md, s)
	}

	switch {
	case s.Completed() < s.Tasks && !s.FinishedAt.IsZero():
		md.Warningf("Crawl was interrupted: %d of %d task(s) never completed.", s.Tasks-s.Completed(), s.Tasks)
	case s.Failed > 0 && s.Succeeded == 0:
		md.Cautionf("Every transfer failed. Check that the Tor backends can reach the targets.")
	case s.Failed > 0:
		md.Importantf("%d transfer(s) failed. Partial content was kept in their output files.", s.Failed)
	case s.Tasks == 0:
		md.Note("The task list was empty; no backend was launched.")
	default:
		md.Tip("All transfers succeeded.")
	}
	md.PlainText("")
}

// writePieChart writes a mermaid pie chart of successes and failure kinds.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, s *model.CrawlSummary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Transfer Outcomes"),
		piechart.WithShowData(true),
	)

	if s.Succeeded > 0 {
		chart.LabelAndIntValue("Succeeded", uint64(s.Succeeded))
	}
	for _, kind := range s.FailureKinds() {
		chart.LabelAndIntValue(KindLabel(kind), uint64(s.FailuresByKind[kind]))
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeFailures writes a table of failed transfers.
func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, s *model.CrawlSummary) {
	if len(s.Failures) == 0 {
		return
	}

	md.H2("Failures")
	md.PlainText("")

	rows := make([][]string, len(s.Failures))
	for i, f := range s.Failures {
		msg := f.Error
		if msg == "" {
			msg = "-"
		}
		rows[i] = []string{
			truncateString(f.Task.URL, 60),
			"`" + f.Task.OutputPath + "`",
			KindLabel(f.ErrorKind),
			truncateString(msg, 60),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"URL", "File", "Kind", "Error"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by torcrawl*")
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
