// Package config defines the crawler's environment-driven configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode selects what the worker's mode dispatch step (§4.3 step 8) does with
// a fetched page.
type Mode string

const (
	ModeCrawl    Mode = "CRAWL"
	ModeBaseline Mode = "BASELINE"
	ModeCompare  Mode = "COMPARE"
)

// Config holds every environment-tunable knob of a crawl run. Nothing here
// is a package-level var; one Config is built in cmd/ and passed explicitly
// down the site-runner -> worker construction chain.
type Config struct {
	CrawlMode Mode `yaml:"crawl_mode"`

	MinWorkers       int `yaml:"min_workers"`
	MaxWorkers       int `yaml:"max_workers"`
	MaxParallelSites int `yaml:"max_parallel_sites"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	CrawlDelay     time.Duration `yaml:"crawl_delay"`

	JSGotoTimeout    time.Duration `yaml:"js_goto_timeout"`
	JSWaitTimeout    time.Duration `yaml:"js_wait_timeout"`
	JSStabilityTime  time.Duration `yaml:"js_stability_time"`

	DBPoolSize  int           `yaml:"db_pool_size"`
	DBSemaphore time.Duration `yaml:"db_semaphore"`

	UserAgent string `yaml:"user_agent"`

	// DSN for the relational store (connection parameters per §6): the
	// SQLite database path that cmd/sentinel passes to storage.NewDatabase.
	DBDSN string `yaml:"db_dsn"`

	// BaselineDir is the root of the filesystem baseline snapshot layout
	// (§6): baselines/{customer_id}/{site_folder_id}/...
	BaselineDir string `yaml:"baseline_dir"`
}

// Default returns a Config populated with spec defaults.
func Default() *Config {
	return &Config{
		CrawlMode:        ModeCrawl,
		MinWorkers:       5,
		MaxWorkers:       50,
		MaxParallelSites: 3,
		RequestTimeout:   20 * time.Second,
		CrawlDelay:       time.Second,
		JSGotoTimeout:    30 * time.Second,
		JSWaitTimeout:    8 * time.Second,
		JSStabilityTime:  5 * time.Second,
		DBPoolSize:       10,
		DBSemaphore:      10 * time.Second,
		UserAgent:        "SitewardenCrawler/1.0 (+defacement-monitor)",
		BaselineDir:      "baselines",
	}
}

// Load builds a Config from, in priority order: an optional YAML site/config
// file at path (skipped if path is empty or missing), then environment
// variables loaded via .env/.env.local, then real process environment
// variables (highest priority). Matches the teacher's Load/Validate pattern,
// re-targeted at this spec's env surface.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	cfg := Default()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("CRAWL_MODE"); v != "" {
		c.CrawlMode = Mode(strings.ToUpper(v))
	}
	setInt(&c.MinWorkers, "MIN_WORKERS")
	setInt(&c.MaxWorkers, "MAX_WORKERS")
	setInt(&c.MaxParallelSites, "MAX_PARALLEL_SITES")
	setDuration(&c.RequestTimeout, "REQUEST_TIMEOUT")
	setDuration(&c.CrawlDelay, "CRAWL_DELAY")
	setDuration(&c.JSGotoTimeout, "JS_GOTO_TIMEOUT")
	setDuration(&c.JSWaitTimeout, "JS_WAIT_TIMEOUT")
	setDuration(&c.JSStabilityTime, "JS_STABILITY_TIME")
	setInt(&c.DBPoolSize, "DB_POOL_SIZE")
	setDuration(&c.DBSemaphore, "DB_SEMAPHORE")
	if v := os.Getenv("DB_DSN"); v != "" {
		c.DBDSN = v
	}
	if v := os.Getenv("BASELINE_DIR"); v != "" {
		c.BaselineDir = v
	}
}

// setInt and setDuration accept bare seconds ("20") or Go duration strings
// ("20s") for the duration case, matching how the §6 env vars are quoted
// ("REQUEST_TIMEOUT (20 s)").
func setInt(dst *int, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setDuration(dst *time.Duration, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
	}
}

// Validate clamps out-of-range worker counts, parallel-site count and
// request timeout rather than failing; a DB pool size outside [1,32] or an
// unknown crawl mode is an error.
func (c *Config) Validate() error {
	if c.MinWorkers < 1 {
		c.MinWorkers = 1
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.MaxParallelSites < 1 {
		c.MaxParallelSites = 1
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 20 * time.Second
	}
	if c.DBPoolSize < 1 || c.DBPoolSize > 32 {
		return fmt.Errorf("db_pool_size must be in [1,32], got %d", c.DBPoolSize)
	}
	switch c.CrawlMode {
	case ModeCrawl, ModeBaseline, ModeCompare:
	default:
		return fmt.Errorf("crawl_mode must be one of CRAWL, BASELINE, COMPARE, got %q", c.CrawlMode)
	}
	return nil
}

// Clone returns a deep copy (Config has no reference fields today, but this
// keeps the teacher's Clone idiom available as the struct grows).
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// SiteList is the optional local/offline sites YAML used when no relational
// store is wired (AMBIENT STACK, configuration).
type SiteList struct {
	Sites []SiteEntry `yaml:"sites"`
}

// SiteEntry mirrors the persisted sites table's contractual columns (§6).
type SiteEntry struct {
	SiteID     int    `yaml:"site_id"`
	CustomerID int    `yaml:"customer_id"`
	URL        string `yaml:"url"`
	Enabled    bool   `yaml:"enabled"`
}

// LoadSiteList reads a YAML site list from path.
func LoadSiteList(path string) (*SiteList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site list %s: %w", path, err)
	}
	var list SiteList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse site list %s: %w", path, err)
	}
	return &list, nil
}
