package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Database handles all database operations for the crawler's persisted
// tables. SQLite only supports one writer, so the connection pool is capped
// at one and mu additionally serializes reads against in-flight writes,
// matching the teacher's own access pattern.
type Database struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDatabase opens (and does not yet initialize) a SQLite database at path.
func NewDatabase(path string) (*Database, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_synchronous=NORMAL&_cache_size=10000&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &Database{db: db}, nil
}

// Initialize creates the schema if it does not already exist.
func (d *Database) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// --- Site operations ---

// EnabledSites lists enabled sites, optionally restricted to one site_id
// and/or customer_id (0 means unrestricted), for the multi-site scheduler's
// --siteid/--custid CLI flags.
func (d *Database) EnabledSites(ctx context.Context, siteID, customerID int64) ([]Site, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query := `SELECT site_id, customer_id, url, enabled FROM sites WHERE enabled = 1`
	var args []any
	if siteID != 0 {
		query += ` AND site_id = ?`
		args = append(args, siteID)
	}
	if customerID != 0 {
		query += ` AND customer_id = ?`
		args = append(args, customerID)
	}
	query += ` ORDER BY site_id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var s Site
		if err := rows.Scan(&s.SiteID, &s.CustomerID, &s.URL, &s.Enabled); err != nil {
			return nil, err
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

// --- Crawl job operations (sitejob.Store) ---

// InsertJob creates the CrawlJob row for a new site job run.
func (d *Database) InsertJob(ctx context.Context, siteID int64, seedURL string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	jobID := uuid.NewString()

	var customerID int64
	if err := d.db.QueryRowContext(ctx, `SELECT customer_id FROM sites WHERE site_id = ?`, siteID).Scan(&customerID); err != nil {
		return "", fmt.Errorf("look up customer for site %d: %w", siteID, err)
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO crawl_jobs (job_id, site_id, customer_id, start_url, status, started_at)
		VALUES (?, ?, ?, ?, 'running', CURRENT_TIMESTAMP)
	`, jobID, siteID, customerID, seedURL)
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// CompleteJob marks a job completed.
func (d *Database) CompleteJob(ctx context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx, `
		UPDATE crawl_jobs
		SET status = 'completed', completed_at = CURRENT_TIMESTAMP,
		    pages_crawled = (SELECT COUNT(*) FROM crawl_pages WHERE job_id = ?)
		WHERE job_id = ?
	`, jobID, jobID)
	return err
}

// FailJob marks a job failed with reason's message.
func (d *Database) FailJob(ctx context.Context, jobID string, reason error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	_, err := d.db.ExecContext(ctx, `
		UPDATE crawl_jobs
		SET status = 'failed', completed_at = CURRENT_TIMESTAMP, error_msg = ?
		WHERE job_id = ?
	`, msg, jobID)
	return err
}

// --- Per-page persistence (worker.Store) ---

// SaveCrawlPageRow inserts or refreshes a crawl_pages row. ON CONFLICT
// covers a URL reached twice within one job (e.g. via two parents) without
// violating (job_id, url) uniqueness.
func (d *Database) SaveCrawlPageRow(ctx context.Context, p CrawlPageRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO crawl_pages (job_id, site_id, url, parent_url, status_code, content_type, content_length, response_time_ms, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, url) DO UPDATE SET
			status_code = excluded.status_code,
			content_type = excluded.content_type,
			content_length = excluded.content_length,
			response_time_ms = excluded.response_time_ms,
			fetched_at = excluded.fetched_at
	`, p.JobID, p.SiteID, p.URL, p.ParentURL, p.StatusCode, p.ContentType, p.ContentLength, p.ResponseTimeMs, p.FetchedAt)
	return err
}

// SaveBaselineRow inserts or refreshes a baselines row.
func (d *Database) SaveBaselineRow(ctx context.Context, b BaselineRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tagPaths := marshalStrings(b.TagPaths)
	scriptSrcs := marshalStrings(b.ScriptSrcs)

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO baselines (site_id, url, html_hash, structural_hash, norm_version, snapshot_path, tag_paths, script_srcs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(site_id, url, norm_version) DO UPDATE SET
			html_hash = excluded.html_hash,
			structural_hash = excluded.structural_hash,
			snapshot_path = excluded.snapshot_path,
			tag_paths = excluded.tag_paths,
			script_srcs = excluded.script_srcs,
			updated_at = CURRENT_TIMESTAMP
	`, b.SiteID, b.URL, b.HTMLHash, b.StructuralHash, b.NormVersion, b.SnapshotPath, tagPaths, scriptSrcs)
	return err
}

// LoadBaselineRow looks up the active baseline for (siteID, url, normVersion).
func (d *Database) LoadBaselineRow(ctx context.Context, siteID int64, url, normVersion string) (*BaselineRow, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var b BaselineRow
	var tagPaths, scriptSrcs string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, site_id, url, html_hash, structural_hash, norm_version, snapshot_path, tag_paths, script_srcs, created_at, updated_at
		FROM baselines WHERE site_id = ? AND url = ? AND norm_version = ?
	`, siteID, url, normVersion).Scan(
		&b.ID, &b.SiteID, &b.URL, &b.HTMLHash, &b.StructuralHash, &b.NormVersion, &b.SnapshotPath, &tagPaths, &scriptSrcs, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	b.TagPaths = unmarshalStrings(tagPaths)
	b.ScriptSrcs = unmarshalStrings(scriptSrcs)
	return &b, true, nil
}

// marshalStrings encodes a string slice as a JSON array, defaulting to "[]"
// for nil input or a marshal failure (neither of which happens in practice
// for a []string, but SaveBaselineRow has no other error path to surface it).
func marshalStrings(ss []string) string {
	if ss == nil {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(s string) []string {
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil
	}
	return ss
}

// SaveDiffEvidence inserts a diff_evidence row for a non-CLEAN verdict.
// diffSummary's shape is the caller's choice; it is stored verbatim as JSON.
func (d *Database) SaveDiffEvidence(ctx context.Context, e DiffEvidenceRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO diff_evidence (site_id, url, baseline_hash, observed_hash, diff_summary, severity, status, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, e.SiteID, e.URL, e.BaselineHash, e.ObservedHash, e.DiffSummary, e.Severity, e.Status)
	return err
}

// MarshalDiffSummary is a small helper so callers don't each reach for
// encoding/json directly when building a DiffEvidenceRow.
func MarshalDiffSummary(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// PagesCrawled returns a job's running crawl_pages count.
func (d *Database) PagesCrawled(ctx context.Context, jobID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crawl_pages WHERE job_id = ?`, jobID).Scan(&n)
	return n, err
}

// --- Report queries (internal/report's xlsx export) ---

// JobByID loads one crawl_jobs row, for the report's job metadata sheet.
func (d *Database) JobByID(ctx context.Context, jobID string) (*CrawlJob, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var j CrawlJob
	var errMsg sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT job_id, site_id, customer_id, start_url, status, pages_crawled, started_at, completed_at, error_msg
		FROM crawl_jobs WHERE job_id = ?
	`, jobID).Scan(&j.JobID, &j.SiteID, &j.CustomerID, &j.StartURL, &j.Status, &j.PagesCrawled,
		&j.StartedAt, &j.CompletedAt, &errMsg)
	if err != nil {
		return nil, err
	}
	j.ErrorMsg = errMsg.String
	return &j, nil
}

// CrawlPagesForJob lists every crawl_pages row a job produced, ordered by
// fetch time.
func (d *Database) CrawlPagesForJob(ctx context.Context, jobID string) ([]CrawlPageRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, job_id, site_id, url, parent_url, status_code, content_type, content_length, response_time_ms, fetched_at
		FROM crawl_pages WHERE job_id = ? ORDER BY fetched_at
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CrawlPageRow
	for rows.Next() {
		var p CrawlPageRow
		if err := rows.Scan(&p.ID, &p.JobID, &p.SiteID, &p.URL, &p.ParentURL, &p.StatusCode,
			&p.ContentType, &p.ContentLength, &p.ResponseTimeMs, &p.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DiffEvidenceForSite lists every diff_evidence row recorded for a site,
// most recent first.
func (d *Database) DiffEvidenceForSite(ctx context.Context, siteID int64) ([]DiffEvidenceRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, site_id, url, baseline_hash, observed_hash, diff_summary, severity, status, detected_at, closed_at
		FROM diff_evidence WHERE site_id = ? ORDER BY detected_at DESC
	`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DiffEvidenceRow
	for rows.Next() {
		var e DiffEvidenceRow
		if err := rows.Scan(&e.ID, &e.SiteID, &e.URL, &e.BaselineHash, &e.ObservedHash,
			&e.DiffSummary, &e.Severity, &e.Status, &e.DetectedAt, &e.ClosedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
