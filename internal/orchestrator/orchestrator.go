// Package orchestrator implements the multi-site scheduler (§4.9): it caps
// how many site job runners run concurrently and composes them over the
// filtered list of enabled sites. It has no awareness of URLs; that is the
// site job runner's job, one layer down.
package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sitewarden/crawler/internal/storage"
)

// SiteSource lists the sites a run should cover, already filtered by the
// CLI's --siteid/--custid restriction.
type SiteSource interface {
	EnabledSites(ctx context.Context, siteID, customerID int64) ([]storage.Site, error)
}

// SiteRunner runs one site to completion. Implemented by sitejob.Runner.Run
// bound to a particular seed/job construction; kept as a function type here
// so this package never imports internal/sitejob's worker-pool internals.
type SiteRunner func(ctx context.Context, site storage.Site) error

// Scheduler caps concurrent site job runners at MaxParallelSites via a
// counting semaphore, matching §4.9's "simple counting semaphore" note
// literally rather than a worker-pool abstraction.
type Scheduler struct {
	MaxParallelSites int
	Sites            SiteSource
	RunSite          SiteRunner
	Log              *zap.Logger
}

// Result aggregates one Run's outcome per site.
type Result struct {
	Total     int
	Completed int
	Failed    int
	Errors    map[int64]error // keyed by site_id, one entry per failed site
}

// AnyFailed reports whether at least one site job failed, the signal
// cmd/sentinel's exit-code-1 case checks for.
func (r *Result) AnyFailed() bool {
	return r.Failed > 0
}

// Run lists enabled sites (restricted to siteID/customerID when non-zero,
// 0 meaning unrestricted) and runs up to MaxParallelSites of them
// concurrently. One site's failure does not cancel or affect the others.
func (s *Scheduler) Run(ctx context.Context, siteID, customerID int64) (*Result, error) {
	sites, err := s.Sites.EnabledSites(ctx, siteID, customerID)
	if err != nil {
		return nil, err
	}

	limit := s.MaxParallelSites
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	result := &Result{Total: len(sites), Errors: make(map[int64]error)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, site := range sites {
		site := site
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.RunSite(ctx, site)

			mu.Lock()
			if err != nil {
				result.Failed++
				result.Errors[site.SiteID] = err
				if s.Log != nil {
					s.Log.Warn("site job failed", zap.Int64("site_id", site.SiteID), zap.Error(err))
				}
			} else {
				result.Completed++
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
	return result, nil
}
