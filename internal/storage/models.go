// Package storage adapts the five §6 tables (sites, crawl_jobs, crawl_pages,
// baselines, diff_evidence) plus the baseline snapshot filesystem layout to
// the worker and site job runner's Store interfaces.
package storage

import "time"

// Site mirrors the sites table. Created/edited externally; read-only here.
type Site struct {
	SiteID     int64  `json:"site_id"`
	CustomerID int64  `json:"customer_id"`
	URL        string `json:"url"`
	Enabled    bool   `json:"enabled"`
}

// CrawlJob mirrors the crawl_jobs table, one row per site job run.
type CrawlJob struct {
	JobID        string     `json:"job_id"`
	SiteID       int64      `json:"site_id"`
	CustomerID   int64      `json:"customer_id"`
	StartURL     string     `json:"start_url"`
	Status       string     `json:"status"` // running, completed, failed
	PagesCrawled int        `json:"pages_crawled"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMsg     string     `json:"error_msg,omitempty"`
}

// CrawlPageRow mirrors the crawl_pages table, CRAWL mode's output.
type CrawlPageRow struct {
	ID              int64     `json:"id"`
	JobID           string    `json:"job_id"`
	SiteID          int64     `json:"site_id"`
	URL             string    `json:"url"`
	ParentURL       string    `json:"parent_url,omitempty"`
	StatusCode      int       `json:"status_code"`
	ContentType     string    `json:"content_type,omitempty"`
	ContentLength   int64     `json:"content_length"`
	ResponseTimeMs  int64     `json:"response_time_ms"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// BaselineRow mirrors the baselines table, BASELINE mode's output. The
// normalized text itself is not a column: it lives on disk at
// SnapshotPath, written by SnapshotWriter. TagPaths/ScriptSrcs are the
// fingerprint slices compare.Compare needs for its structural and
// script-diff indicators; they don't survive a round trip through the
// snapshot file, so they're carried here instead.
type BaselineRow struct {
	ID             int64     `json:"id"`
	SiteID         int64     `json:"site_id"`
	URL            string    `json:"url"`
	HTMLHash       string    `json:"html_hash"`
	StructuralHash string    `json:"structural_hash"`
	NormVersion    string    `json:"norm_version"`
	SnapshotPath   string    `json:"snapshot_path"`
	TagPaths       []string  `json:"tag_paths"`
	ScriptSrcs     []string  `json:"script_srcs"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DiffEvidenceRow mirrors the diff_evidence table, COMPARE mode's output for
// every non-CLEAN verdict.
type DiffEvidenceRow struct {
	ID            int64      `json:"id"`
	SiteID        int64      `json:"site_id"`
	URL           string     `json:"url"`
	BaselineHash  string     `json:"baseline_hash,omitempty"`
	ObservedHash  string     `json:"observed_hash,omitempty"`
	DiffSummary   string     `json:"diff_summary"` // JSON
	Severity      string     `json:"severity"`
	Status        string     `json:"status"`
	DetectedAt    time.Time  `json:"detected_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}
