package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nao1215/torcrawl/internal/config"
	"github.com/nao1215/torcrawl/internal/database"
	"github.com/nao1215/torcrawl/internal/model"
	"github.com/spf13/cobra"
)

// errNoResults is returned when the results database holds no crawl yet.
var errNoResults = errors.New("no crawl results found (run 'torcrawl crawl' first)")

// NewResultsCmd creates the results command.
func NewResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results [crawl-id]",
		Short: "Show the results of a previous crawl",
		Long: `Results shows the summary of a recorded crawl.

Without an argument the most recent crawl is shown. Every crawl records its
transfers in the results database, so failed URLs can be printed one per
line and fed back to 'torcrawl crawl --list' for an operator retry pass.

Examples:
  # Summary of the latest crawl
  torcrawl results

  # List recorded crawls
  torcrawl results --list-crawls

  # Print the failed URLs of a crawl
  torcrawl results --failed-urls 0b9d8c1e-7a5f-4c1e-9a51-3f1c2d4e5f60

  # JSON summary of the latest crawl
  torcrawl results --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runResultsCmd,
	}

	cmd.Flags().Bool("failed-urls", false,
		"Print the URLs of failed transfers, one per line")
	cmd.Flags().Bool("list-crawls", false,
		"List recorded crawls, newest first")
	cmd.Flags().Int("limit", 20,
		"Maximum number of crawls listed by --list-crawls (0 for all)")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON summary (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown summary (mutually exclusive with --json)")
	cmd.Flags().String("db-dir", "",
		"Directory of the results database (default: XDG data directory)")

	return cmd
}

// runResultsCmd executes the results command.
func runResultsCmd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	failedURLs, err := flags.GetBool("failed-urls")
	if err != nil {
		return err
	}
	listCrawls, err := flags.GetBool("list-crawls")
	if err != nil {
		return err
	}
	limit, err := flags.GetInt("limit")
	if err != nil {
		return err
	}
	jsonOutput, err := flags.GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := flags.GetBool("markdown")
	if err != nil {
		return err
	}
	dbDir, err := flags.GetString("db-dir")
	if err != nil {
		return err
	}

	// Validate flags before opening the database
	if jsonOutput && markdownOutput {
		return config.ErrConflictingReportFormats
	}
	if listCrawls && (failedURLs || len(args) > 0) {
		return errors.New("--list-crawls cannot be combined with a crawl ID or --failed-urls")
	}
	if dbDir == "" {
		dbDir = config.XDGDataDir()
	}

	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	db, err := database.Open(dbDir, opts)
	if errors.Is(err, os.ErrNotExist) {
		return errNoResults
	}
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if listCrawls {
		return listRecordedCrawls(ctx, db, limit, out)
	}

	summary, err := findCrawl(ctx, db, args)
	if err != nil {
		return err
	}

	if failedURLs {
		for _, url := range summary.FailedURLs() {
			fmt.Fprintln(out, url)
		}
		return nil
	}

	_, err = newReportWriter(jsonOutput, markdownOutput, getVerboseFlag(cmd), out).Write(summary)
	return err
}

// findCrawl returns the crawl named by args, or the latest crawl.
func findCrawl(ctx context.Context, db *database.CrawlDB, args []string) (*model.CrawlSummary, error) {
	if len(args) == 0 {
		summary, err := db.LatestCrawl(ctx)
		if err != nil {
			return nil, err
		}
		if summary == nil {
			return nil, errNoResults
		}
		return summary, nil
	}

	summary, err := db.GetCrawl(ctx, args[0])
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, fmt.Errorf("crawl not found: %s (use --list-crawls to see recorded crawls)", args[0])
	}
	return summary, nil
}

// listRecordedCrawls prints one line per recorded crawl.
func listRecordedCrawls(ctx context.Context, db *database.CrawlDB, limit int, out io.Writer) error {
	records, err := db.ListCrawls(ctx, limit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No crawls found in the database.")
		fmt.Fprintln(out, "\nUse 'torcrawl crawl <url>...' to start a crawl.")
		return nil
	}

	fmt.Fprintf(out, "Recorded crawls (%d):\n\n", len(records))
	fmt.Fprintf(out, "  %-36s  %-20s  %-10s  %-8s  %s\n", "ID", "Started", "Duration", "Tasks", "Succeeded/Failed")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 96))

	for _, rec := range records {
		duration := "-"
		if !rec.FinishedAt.IsZero() {
			duration = rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(out, "  %-36s  %-20s  %-10s  %-8d  %d/%d\n",
			rec.ID,
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			rec.Tasks,
			rec.Succeeded,
			rec.Failed,
		)
	}

	fmt.Fprintln(out, "\nUse 'torcrawl results <id>' to see the summary of a crawl.")
	fmt.Fprintln(out, "Use 'torcrawl results --failed-urls <id>' to list its failed URLs.")

	return nil
}
