package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/torcrawl/internal/model"
)

// FileName is the name of the results database inside the database directory.
const FileName = "torcrawl.db"

// CrawlDB provides SQLite-based storage for crawl runs and their transfers.
//
// Design decision: We use a single database file for all crawls rather than
// one file per run. `torcrawl results` can then list runs and pick the
// latest one without scanning directories.
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	// This is recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a CrawlDB in dbDir.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error
// wrapping os.ErrNotExist is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); err != nil {
			return nil, fmt.Errorf("results database %s: %w", dbPath, err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer. Worker groups record concurrently,
	// so every statement goes through a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// createTables creates the database schema if it doesn't exist.
func (cdb *CrawlDB) createTables() error {
	schema := `
	-- One row per crawl run
	CREATE TABLE IF NOT EXISTS crawls (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		backends INTEGER NOT NULL,
		groups_count INTEGER NOT NULL,
		slots_per_group INTEGER NOT NULL,
		tasks INTEGER NOT NULL,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		bytes_written INTEGER NOT NULL DEFAULT 0,
		failures_by_kind TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_crawls_started ON crawls(started_at);

	-- One row per finished transfer
	CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crawl_id TEXT NOT NULL REFERENCES crawls(id),
		url TEXT NOT NULL,
		output_path TEXT NOT NULL,
		outcome TEXT NOT NULL,
		group_index INTEGER NOT NULL,
		slot_id INTEGER NOT NULL,
		socks_addr TEXT NOT NULL,
		effective_url TEXT,
		status_code INTEGER,
		bytes_written INTEGER NOT NULL DEFAULT 0,
		body_sha3 TEXT,
		error_kind TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_crawl ON transfers(crawl_id);
	CREATE INDEX IF NOT EXISTS idx_transfers_outcome ON transfers(crawl_id, outcome);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// SaveCrawl inserts or updates the row of a crawl run. It is called once
// when the crawl starts and again with the final counters.
func (cdb *CrawlDB) SaveCrawl(ctx context.Context, s *model.CrawlSummary) error {
	kindsJSON, err := json.Marshal(s.FailuresByKind)
	if err != nil {
		return fmt.Errorf("failed to serialize failure kinds: %w", err)
	}

	var finished sql.NullString
	if !s.FinishedAt.IsZero() {
		finished = sql.NullString{String: formatTimestamp(s.FinishedAt), Valid: true}
	}

	query := `
	INSERT INTO crawls (id, started_at, finished_at, backends, groups_count, slots_per_group,
		tasks, succeeded, failed, bytes_written, failures_by_kind)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		finished_at = excluded.finished_at,
		tasks = excluded.tasks,
		succeeded = excluded.succeeded,
		failed = excluded.failed,
		bytes_written = excluded.bytes_written,
		failures_by_kind = excluded.failures_by_kind
	`

	_, err = cdb.db.ExecContext(ctx, query,
		s.ID,
		formatTimestamp(s.StartedAt),
		finished,
		s.Backends,
		s.Groups,
		s.SlotsPerGroup,
		s.Tasks,
		s.Succeeded,
		s.Failed,
		s.BytesWritten,
		string(kindsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save crawl %s: %w", s.ID, err)
	}
	return nil
}

// InsertTransfer stores one transfer result of a crawl.
func (cdb *CrawlDB) InsertTransfer(ctx context.Context, crawlID string, r model.TransferResult) error {
	query := `
	INSERT INTO transfers (crawl_id, url, output_path, outcome, group_index, slot_id, socks_addr,
		effective_url, status_code, bytes_written, body_sha3, error_kind, error, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := cdb.db.ExecContext(ctx, query,
		crawlID,
		r.Task.URL,
		r.Task.OutputPath,
		r.Outcome.String(),
		r.GroupIndex,
		r.SlotID,
		r.SocksAddr,
		r.EffectiveURL,
		r.StatusCode,
		r.BytesWritten,
		r.BodySHA3,
		r.ErrorKind,
		r.Error,
		formatTimestamp(r.StartedAt),
		formatTimestamp(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer %s: %w", r.Task.URL, err)
	}
	return nil
}

// CrawlRecord is the stored row of a crawl run.
type CrawlRecord struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	Backends       int
	Groups         int
	SlotsPerGroup  int
	Tasks          int
	Succeeded      int
	Failed         int
	BytesWritten   int64
	FailuresByKind map[string]int
}

// Summary converts the record into a crawl summary without failures.
func (r *CrawlRecord) Summary() *model.CrawlSummary {
	s := model.NewCrawlSummary(r.ID)
	s.StartedAt = r.StartedAt
	s.FinishedAt = r.FinishedAt
	s.Backends = r.Backends
	s.Groups = r.Groups
	s.SlotsPerGroup = r.SlotsPerGroup
	s.Tasks = r.Tasks
	s.Succeeded = r.Succeeded
	s.Failed = r.Failed
	s.BytesWritten = r.BytesWritten
	if r.FailuresByKind != nil {
		s.FailuresByKind = r.FailuresByKind
	}
	return s
}

const crawlColumns = `id, started_at, finished_at, backends, groups_count, slots_per_group,
	tasks, succeeded, failed, bytes_written, failures_by_kind`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCrawl(row rowScanner) (*CrawlRecord, error) {
	var rec CrawlRecord
	var started string
	var finished, kindsJSON sql.NullString

	if err := row.Scan(
		&rec.ID,
		&started,
		&finished,
		&rec.Backends,
		&rec.Groups,
		&rec.SlotsPerGroup,
		&rec.Tasks,
		&rec.Succeeded,
		&rec.Failed,
		&rec.BytesWritten,
		&kindsJSON,
	); err != nil {
		return nil, err
	}

	rec.StartedAt = parseTimestamp(started)
	if finished.Valid {
		rec.FinishedAt = parseTimestamp(finished.String)
	}
	if kindsJSON.Valid && kindsJSON.String != "" && kindsJSON.String != "null" {
		if err := json.Unmarshal([]byte(kindsJSON.String), &rec.FailuresByKind); err != nil {
			rec.FailuresByKind = make(map[string]int)
		}
	}
	return &rec, nil
}

// ListCrawls returns the most recent crawl runs, newest first.
// A limit of zero or less returns every run.
func (cdb *CrawlDB) ListCrawls(ctx context.Context, limit int) ([]CrawlRecord, error) {
	query := `SELECT ` + crawlColumns + ` FROM crawls ORDER BY started_at DESC`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawls: %w", err)
	}
	defer rows.Close()

	var records []CrawlRecord
	for rows.Next() {
		rec, err := scanCrawl(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crawl: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// GetCrawl returns the summary of crawl id, including its failed
// transfers. It returns nil, nil when the crawl does not exist.
func (cdb *CrawlDB) GetCrawl(ctx context.Context, id string) (*model.CrawlSummary, error) {
	query := `SELECT ` + crawlColumns + ` FROM crawls WHERE id = ?`
	rec, err := scanCrawl(cdb.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl %s: %w", id, err)
	}
	return cdb.withFailures(ctx, rec)
}

// LatestCrawl returns the summary of the most recently started crawl, or
// nil, nil when no crawl was recorded yet.
func (cdb *CrawlDB) LatestCrawl(ctx context.Context) (*model.CrawlSummary, error) {
	query := `SELECT ` + crawlColumns + ` FROM crawls ORDER BY started_at DESC LIMIT 1`
	rec, err := scanCrawl(cdb.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest crawl: %w", err)
	}
	return cdb.withFailures(ctx, rec)
}

func (cdb *CrawlDB) withFailures(ctx context.Context, rec *CrawlRecord) (*model.CrawlSummary, error) {
	s := rec.Summary()
	failures, err := cdb.ListTransfers(ctx, rec.ID, true)
	if err != nil {
		return nil, err
	}
	s.Failures = failures
	return s, nil
}

// ListTransfers returns the transfers of a crawl in the order they finished.
// With failedOnly set only failed transfers are returned.
func (cdb *CrawlDB) ListTransfers(ctx context.Context, crawlID string, failedOnly bool) ([]model.TransferResult, error) {
	query := `
	SELECT url, output_path, outcome, group_index, slot_id, socks_addr, effective_url,
		status_code, bytes_written, body_sha3, error_kind, error, started_at, finished_at
	FROM transfers
	WHERE crawl_id = ?
	`
	args := []any{crawlID}
	if failedOnly {
		query += " AND outcome = ?"
		args = append(args, model.OutcomeFailure.String())
	}
	query += " ORDER BY id"

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	results := make([]model.TransferResult, 0)
	for rows.Next() {
		var r model.TransferResult
		var outcome, started, finished string
		var effective, digest, kind, msg sql.NullString
		var status sql.NullInt64

		if err := rows.Scan(
			&r.Task.URL,
			&r.Task.OutputPath,
			&outcome,
			&r.GroupIndex,
			&r.SlotID,
			&r.SocksAddr,
			&effective,
			&status,
			&r.BytesWritten,
			&digest,
			&kind,
			&msg,
			&started,
			&finished,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}

		r.Outcome, _ = model.ParseOutcome(outcome)
		r.EffectiveURL = effective.String
		r.StatusCode = int(status.Int64)
		r.BodySHA3 = digest.String
		r.ErrorKind = kind.String
		r.Error = msg.String
		r.StartedAt = parseTimestamp(started)
		r.FinishedAt = parseTimestamp(finished)
		results = append(results, r)
	}
	return results, rows.Err()
}

// TransferRecorder stores transfer results of one crawl as they arrive.
// Record satisfies the reactor's Recorder interface and is safe for
// concurrent use by all worker groups.
//
// Design decision: A failed insert is logged and remembered instead of
// stopping the crawl. The files on disk are the primary output; the
// database is bookkeeping.
type TransferRecorder struct {
	db      *CrawlDB
	ctx     context.Context
	crawlID string
	logger  *slog.Logger

	mu   sync.Mutex
	errs []error
}

// NewTransferRecorder returns a recorder for crawl crawlID.
func (cdb *CrawlDB) NewTransferRecorder(ctx context.Context, crawlID string, logger *slog.Logger) *TransferRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransferRecorder{db: cdb, ctx: ctx, crawlID: crawlID, logger: logger}
}

// Record stores r.
func (tr *TransferRecorder) Record(r model.TransferResult) {
	if err := tr.db.InsertTransfer(tr.ctx, tr.crawlID, r); err != nil {
		tr.logger.Warn("failed to record transfer", "url", r.Task.URL, "error", err)
		tr.mu.Lock()
		tr.errs = append(tr.errs, err)
		tr.mu.Unlock()
	}
}

// Err returns the insert errors seen so far, joined.
func (tr *TransferRecorder) Err() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return errors.Join(tr.errs...)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,          // Format written by formatTimestamp
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// timestampLayout keeps a fixed width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
