package storage

// Schema contains SQL statements to create the five tables §6 names as
// contractual: sites, crawl_jobs, crawl_pages, baselines, diff_evidence.
const Schema = `
-- Sites table: customer-owned seed domains. Read-only to the core; rows are
-- created/edited by the external site manager.
CREATE TABLE IF NOT EXISTS sites (
    site_id INTEGER PRIMARY KEY AUTOINCREMENT,
    customer_id INTEGER NOT NULL,
    url TEXT NOT NULL,
    enabled BOOLEAN NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_sites_customer ON sites(customer_id);
CREATE INDEX IF NOT EXISTS idx_sites_enabled ON sites(enabled);

-- Crawl jobs table: one row per site job runner invocation.
CREATE TABLE IF NOT EXISTS crawl_jobs (
    job_id TEXT PRIMARY KEY,
    site_id INTEGER NOT NULL REFERENCES sites(site_id),
    customer_id INTEGER NOT NULL,
    start_url TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'running',
    pages_crawled INTEGER NOT NULL DEFAULT 0,
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME,
    error_msg TEXT
);

CREATE INDEX IF NOT EXISTS idx_crawl_jobs_site ON crawl_jobs(site_id);
CREATE INDEX IF NOT EXISTS idx_crawl_jobs_status ON crawl_jobs(status);

-- Crawl pages table: one row per fetched URL per job, CRAWL mode's output.
CREATE TABLE IF NOT EXISTS crawl_pages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL REFERENCES crawl_jobs(job_id),
    site_id INTEGER NOT NULL,
    url TEXT NOT NULL,
    parent_url TEXT,
    status_code INTEGER,
    content_type TEXT,
    content_length INTEGER,
    response_time_ms INTEGER,
    fetched_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(job_id, url)
);

CREATE INDEX IF NOT EXISTS idx_crawl_pages_site ON crawl_pages(site_id);
CREATE INDEX IF NOT EXISTS idx_crawl_pages_job ON crawl_pages(job_id);

-- Baselines table: BASELINE mode's per-URL semantic snapshot pointer. The
-- snapshot body itself lives on disk; snapshot_path is the pointer.
-- tag_paths/script_srcs are JSON arrays: the structural fingerprint and
-- script identity hashes compare.Compare needs, which don't survive a
-- round trip through the snapshot file (that file holds normalized text,
-- not the tag tree the fingerprint was taken from). Additive to §6's
-- contractual column list, not a replacement for any of it.
CREATE TABLE IF NOT EXISTS baselines (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id INTEGER NOT NULL,
    url TEXT NOT NULL,
    html_hash TEXT NOT NULL,
    structural_hash TEXT NOT NULL,
    norm_version TEXT NOT NULL,
    snapshot_path TEXT NOT NULL,
    tag_paths TEXT NOT NULL DEFAULT '[]',
    script_srcs TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(site_id, url, norm_version)
);

CREATE INDEX IF NOT EXISTS idx_baselines_site ON baselines(site_id);

-- Diff evidence table: COMPARE mode's verdict output, one row per detected
-- deviation (CLEAN verdicts are not written here).
CREATE TABLE IF NOT EXISTS diff_evidence (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id INTEGER NOT NULL,
    url TEXT NOT NULL,
    baseline_hash TEXT,
    observed_hash TEXT,
    diff_summary TEXT,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    detected_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    closed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_diff_evidence_site ON diff_evidence(site_id);
CREATE INDEX IF NOT EXISTS idx_diff_evidence_status ON diff_evidence(status);
`
