// Package main is the entry point for the sentinel defacement-detection
// crawler. It wires config, storage, the fetch/render/worker stack and the
// multi-site scheduler together, then drives one run to completion.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sitewarden/crawler/internal/config"
	"github.com/sitewarden/crawler/internal/fetchclient"
	"github.com/sitewarden/crawler/internal/frontier"
	"github.com/sitewarden/crawler/internal/logging"
	"github.com/sitewarden/crawler/internal/orchestrator"
	"github.com/sitewarden/crawler/internal/ratelimit"
	"github.com/sitewarden/crawler/internal/render"
	"github.com/sitewarden/crawler/internal/report"
	"github.com/sitewarden/crawler/internal/sitejob"
	"github.com/sitewarden/crawler/internal/storage"
	"github.com/sitewarden/crawler/internal/worker"
)

// exitConfigError is returned to the shell when flags/env produce an
// invalid configuration (§6: "2 on configuration error").
const exitConfigError = 2

func main() {
	os.Exit(run())
}

func run() int {
	var (
		siteID           = flag.Int64("siteid", 0, "restrict the run to one site (0 = unrestricted)")
		custID           = flag.Int64("custid", 0, "restrict the run to one customer (0 = unrestricted)")
		parallel         = flag.Bool("parallel", false, "run multiple sites concurrently")
		maxParallelSites = flag.Int("max_parallel_sites", 0, "override MAX_PARALLEL_SITES (0 = use config)")
		configPath       = flag.String("config", "", "optional YAML config file path")
		env              = flag.String("env", "production", "logging environment: dev for console output, anything else for JSON")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}
	if *maxParallelSites > 0 {
		cfg.MaxParallelSites = *maxParallelSites
	}
	if !*parallel {
		cfg.MaxParallelSites = 1
	}

	log, err := logging.New(*env, "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		return exitConfigError
	}
	defer log.Sync()

	db, err := storage.NewDatabase(cfg.DBDSN)
	if err != nil {
		log.Error("open database", zap.Error(err))
		return exitConfigError
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		log.Error("initialize schema", zap.Error(err))
		return exitConfigError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("received interrupt, stopping")
		cancel()
	}()

	stream := report.NewStream()
	stream.Phase(fmt.Sprintf("%s run starting", cfg.CrawlMode))

	app := &application{
		cfg:    cfg,
		db:     db,
		log:    log,
		stream: stream,
	}

	sched := &orchestrator.Scheduler{
		MaxParallelSites: cfg.MaxParallelSites,
		Sites:            db,
		RunSite:          app.runSite,
		Log:              log,
	}

	result, err := sched.Run(ctx, *siteID, *custID)
	if err != nil {
		log.Error("scheduler run", zap.Error(err))
		return exitConfigError
	}

	fmt.Printf("\n%d sites: %d completed, %d failed\n", result.Total, result.Completed, result.Failed)
	if result.AnyFailed() {
		return 1
	}
	return 0
}

// application holds the dependencies shared by every site job this process
// runs (config, database, logger, report stream), built once and reused
// across sites. The fetch/render stack is not part of it: runSite builds a
// fresh Fetcher, render pool and render cache for each site.
type application struct {
	cfg    *config.Config
	db     *storage.Database
	log    *zap.Logger
	stream *report.Stream
}

// runSite builds one site's fetch/render/worker stack and runs it to
// completion through sitejob.Runner. It implements orchestrator.SiteRunner.
func (a *application) runSite(ctx context.Context, site storage.Site) error {
	jobLog := logging.Job(a.log, "", site.URL)

	snapshots := storage.NewSnapshotWriter(a.cfg.BaselineDir)
	store := &storage.PageStore{
		DB:          a.db,
		Snapshots:   snapshots,
		CustomerID:  site.CustomerID,
		NormVersion: "v1",
	}

	fetcher := fetchclient.New(a.cfg.RequestTimeout, a.cfg.UserAgent)
	renderPool := render.NewPool(2, a.cfg.UserAgent)
	defer renderPool.Close()
	renderCache := render.NewCache(500, 10*time.Minute)
	renderPolicy := render.DefaultPolicy()
	renderPolicy.GotoTimeout = a.cfg.JSGotoTimeout
	renderPolicy.StabilityWait = a.cfg.JSStabilityTime
	renderPolicy.HydrationWait = a.cfg.JSWaitTimeout

	globalLimiter := ratelimit.NewGlobalLimiter(0, 1)
	siteNeedsJS := &atomic.Bool{}

	newWorker := func(id int, fr *frontier.Frontier, jobID string) *worker.Worker {
		return &worker.Worker{
			ID:           id,
			SiteID:       site.SiteID,
			JobID:        jobID,
			Mode:         worker.Mode(a.cfg.CrawlMode),
			NormVersion:  "v1",
			Frontier:     fr,
			Fetcher:      fetcher,
			RenderPool:   renderPool,
			RenderCache:  renderCache,
			RenderPolicy: renderPolicy,
			Limiter:      ratelimit.NewHostLimiter(a.cfg.CrawlDelay, globalLimiter),
			Store:        store,
			Log:          jobLog,
			SiteNeedsJS:  siteNeedsJS,
		}
	}

	runner := &sitejob.Runner{
		Config: sitejob.Config{
			MinWorkers:         a.cfg.MinWorkers,
			MaxWorkers:         a.cfg.MaxWorkers,
			TickInterval:       2 * time.Second,
			IdleTerminateAfter: 5 * time.Second,
			FrontierCapacity:   frontier.DefaultCapacity,
		},
		Store:     a.db,
		NewWorker: newWorker,
		Log:       jobLog,
		OnBlocked: a.stream.BlockedReport,
	}

	a.stream.Phase(fmt.Sprintf("site %d: %s", site.SiteID, site.URL))
	start := time.Now()
	err := runner.Run(ctx, site.SiteID, site.URL)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	a.stream.JobResult(site.URL, status, 0, time.Since(start))
	return err
}
