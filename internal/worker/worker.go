// Package worker implements the per-URL processing sequence (§4.3): the
// single place that ties the canonicalizer, fetcher, render helper,
// fingerprint engine and comparator together under one Frontier task.
package worker

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sitewarden/crawler/internal/compare"
	"github.com/sitewarden/crawler/internal/crawlerr"
	"github.com/sitewarden/crawler/internal/fetchclient"
	"github.com/sitewarden/crawler/internal/fingerprint"
	"github.com/sitewarden/crawler/internal/frontier"
	"github.com/sitewarden/crawler/internal/ratelimit"
	"github.com/sitewarden/crawler/internal/render"
)

// Mode selects what step 8 (mode dispatch) does with a successfully
// rendered page.
type Mode string

const (
	ModeCrawl    Mode = "CRAWL"
	ModeBaseline Mode = "BASELINE"
	ModeCompare  Mode = "COMPARE"
)

// CrawlPage is a single CRAWL-mode page record, handed to Store.
type CrawlPage struct {
	SiteID         int64
	JobID          string
	CanonicalURL   string
	ParentURL      string
	StatusCode     int
	ContentType    string
	ContentLength  int64
	ResponseTimeMs int64
	ContentHash    string
	StructuralHash string
	FetchedAt      time.Time
}

// PageVersion is a BASELINE-mode snapshot, handed to Store.
type PageVersion struct {
	SiteID         int64
	CanonicalURL   string
	NormalizedText string
	ContentHash    string
	StructuralHash string
	TagPaths       []string
	ScriptSrcs     []string
	NormVersion    string
	CreatedAt      time.Time
}

// Verdict is a COMPARE-mode result, handed to Store.
type Verdict struct {
	SiteID        int64
	JobID         string
	CanonicalURL  string
	BaselineID    int64
	BaselineHash  string
	ObservedHash  string
	compare.Verdict
	DetectedAt time.Time
}

// Store is the persistence boundary the worker writes through. Implemented
// by internal/storage; kept as an interface here so this package never
// imports the database driver.
type Store interface {
	SaveCrawlPage(ctx context.Context, page CrawlPage) error
	SaveBaseline(ctx context.Context, pv PageVersion) error
	LoadBaseline(ctx context.Context, siteID int64, canonicalURL string) (*PageVersion, bool, error)
	SaveVerdict(ctx context.Context, v Verdict) error
}

// Worker ties every leaf subsystem together behind one Frontier task. A
// Worker owns no URL outside Process: the Frontier's in_progress set is the
// single source of truth for "who's working on what."
type Worker struct {
	ID           int
	SiteID       int64
	JobID        string
	Mode         Mode
	NormVersion  string
	ComparePolicy compare.Policy

	Frontier    *frontier.Frontier
	Fetcher     *fetchclient.Fetcher
	RenderPool  *render.Pool
	RenderCache *render.Cache
	RenderPolicy render.Policy
	Limiter     *ratelimit.HostLimiter
	Store       Store
	Log         *zap.Logger

	// SiteNeedsJS is shared across every worker on the same site job: once
	// one worker discovers this site is a SPA, every later worker skips the
	// plain Fetcher round-trip and renders directly.
	SiteNeedsJS *atomic.Bool
}

// Process runs the §4.3 sequence for a single dequeued task end to end.
// Block classification happens once, at Frontier.Enqueue time (see
// DESIGN.md): a blocked URL never reaches the queue, so Process never sees
// one and step 2 of the spec's sequence has nothing left to do here.
func (w *Worker) Process(ctx context.Context, task *frontier.Task) {
	log := w.Log.With(zap.String("url", task.CanonicalURL), zap.Int("worker", w.ID))

	host, err := hostOf(task.CanonicalURL)
	if err != nil {
		log.Warn("unparseable canonical url", zap.Error(err))
		w.Frontier.MarkFailed(task.CanonicalURL)
		return
	}

	if err := w.Limiter.Wait(ctx, host); err != nil {
		log.Debug("crawl delay wait aborted", zap.Error(err))
		w.Frontier.MarkFailed(task.CanonicalURL)
		return
	}

	fetched, err := w.fetchOrRender(ctx, task.CanonicalURL, log)
	if err != nil {
		log.Info("fetch/render failed", zap.Error(err))
		w.recordFetchFailure(ctx, task, fetched, log)
		w.Frontier.MarkFailed(task.CanonicalURL)
		return
	}

	doc, err := fingerprint.SemanticNormalize(fetched.body)
	if err != nil {
		log.Warn("normalize failed", zap.Error(err))
		w.Frontier.MarkFailed(task.CanonicalURL)
		return
	}

	contentHash := fingerprint.ContentHash(doc.Text)
	structuralHash := fingerprint.StructuralHash(doc.TagPaths)

	if err := w.dispatch(ctx, task, fetched, doc, contentHash, structuralHash, log); err != nil {
		log.Warn("mode dispatch failed", zap.Error(err))
		w.Frontier.MarkFailed(task.CanonicalURL)
		return
	}

	w.parseAndEnqueueLinks(fetched.body, task, log)

	w.Frontier.MarkDone(task.CanonicalURL)
}

// fetchResult carries the page body plus the response metadata §6's
// crawl_pages table wants, regardless of whether it came from the plain
// Fetcher or a headless render.
type fetchResult struct {
	body           string
	statusCode     int
	contentType    string
	contentLength  int64
	responseTimeMs int64
}

// recordFetchFailure persists §7's "recorded as CrawlPage with the code" rule
// for CRAWL mode: a failed fetch still gets a crawl_pages row, carrying
// whatever status/content metadata fetchOrRender recovered before it failed,
// so a 404/500/timeout page is visible in the job's results instead of
// silently vanishing. Other modes have no CrawlPage table to write and are
// left to MarkFailed alone.
func (w *Worker) recordFetchFailure(ctx context.Context, task *frontier.Task, fetched fetchResult, log *zap.Logger) {
	if w.Mode != ModeCrawl {
		return
	}
	err := w.Store.SaveCrawlPage(ctx, CrawlPage{
		SiteID:         w.SiteID,
		JobID:          w.JobID,
		CanonicalURL:   task.CanonicalURL,
		ParentURL:      task.ParentURL,
		StatusCode:     fetched.statusCode,
		ContentType:    fetched.contentType,
		ContentLength:  fetched.contentLength,
		ResponseTimeMs: fetched.responseTimeMs,
		FetchedAt:      time.Now(),
	})
	if err != nil {
		log.Warn("save failed crawl page", zap.Error(err))
	}
}

// fetchOrRender implements steps 4-5: fetch via the Fetcher unless the site
// is already known to be a SPA, then render if the fetched body (or the
// SPA hint) says JS rendering is required.
func (w *Worker) fetchOrRender(ctx context.Context, canonicalURL string, log *zap.Logger) (fetchResult, error) {
	if w.SiteNeedsJS != nil && w.SiteNeedsJS.Load() {
		return w.renderWithCache(ctx, canonicalURL, log)
	}

	res := w.Fetcher.Fetch(ctx, canonicalURL)
	if res.Classification != fetchclient.ClassOK {
		failed := fetchResult{
			statusCode:     res.StatusCode,
			contentType:    res.ContentType,
			responseTimeMs: res.ElapsedMs,
		}
		if res.Err != nil {
			return failed, res.Err
		}
		return failed, crawlerr.New(crawlerr.FetchIgnored, canonicalURL, nil)
	}

	body := string(res.Body)
	fetched := fetchResult{
		body:           body,
		statusCode:     res.StatusCode,
		contentType:    res.ContentType,
		contentLength:  int64(len(res.Body)),
		responseTimeMs: res.ElapsedMs,
	}
	if !render.NeedsJSRendering(body) {
		return fetched, nil
	}

	if w.SiteNeedsJS != nil {
		w.SiteNeedsJS.Store(true)
	}

	rendered, err := w.renderWithCache(ctx, canonicalURL, log)
	if err != nil {
		// Step 5: on render failure, fall back to the partial body step 4
		// already produced rather than discarding the page outright.
		log.Info("render fallback to fetched body", zap.Error(err))
		return fetched, nil
	}
	return rendered, nil
}

func (w *Worker) renderWithCache(ctx context.Context, canonicalURL string, log *zap.Logger) (fetchResult, error) {
	key := render.Key(canonicalURL)
	if entry, ok := w.RenderCache.Get(key); ok {
		return fetchResult{
			body:        entry.Body,
			statusCode:  200,
			contentType: "text/html",
			contentLength: int64(len(entry.Body)),
		}, nil
	}

	artifact, err := w.RenderPool.Render(ctx, canonicalURL, w.RenderPolicy)
	if err != nil {
		return fetchResult{}, err
	}

	w.RenderCache.Put(key, &render.CacheEntry{Body: artifact.Body, InsertedAt: time.Now()})
	return fetchResult{
		body:           artifact.Body,
		statusCode:     200,
		contentType:    "text/html",
		contentLength:  int64(len(artifact.Body)),
		responseTimeMs: artifact.ElapsedMs,
	}, nil
}

// dispatch implements step 8.
func (w *Worker) dispatch(ctx context.Context, task *frontier.Task, fetched fetchResult, doc *fingerprint.Document, contentHash, structuralHash string, log *zap.Logger) error {
	switch w.Mode {
	case ModeCrawl:
		return w.Store.SaveCrawlPage(ctx, CrawlPage{
			SiteID:         w.SiteID,
			JobID:          w.JobID,
			CanonicalURL:   task.CanonicalURL,
			ParentURL:      task.ParentURL,
			StatusCode:     fetched.statusCode,
			ContentType:    fetched.contentType,
			ContentLength:  fetched.contentLength,
			ResponseTimeMs: fetched.responseTimeMs,
			ContentHash:    contentHash,
			StructuralHash: structuralHash,
			FetchedAt:      time.Now(),
		})

	case ModeBaseline:
		return w.Store.SaveBaseline(ctx, PageVersion{
			SiteID:         w.SiteID,
			CanonicalURL:   task.CanonicalURL,
			NormalizedText: doc.Text,
			ContentHash:    contentHash,
			StructuralHash: structuralHash,
			TagPaths:       doc.TagPaths,
			ScriptSrcs:     doc.ScriptHashes,
			NormVersion:    w.NormVersion,
			CreatedAt:      time.Now(),
		})

	case ModeCompare:
		baseline, found, err := w.Store.LoadBaseline(ctx, w.SiteID, task.CanonicalURL)
		if err != nil {
			return err
		}
		if !found {
			// §7 NO_BASELINE: persist a FAILED/NONE verdict rather than
			// treating a missing baseline as a worker error.
			log.Info("no baseline for compare", zap.String("url", task.CanonicalURL))
			return w.Store.SaveVerdict(ctx, Verdict{
				SiteID:       w.SiteID,
				JobID:        w.JobID,
				CanonicalURL: task.CanonicalURL,
				ObservedHash: contentHash,
				Verdict: compare.Verdict{
					Status:     compare.StatusFailed,
					Severity:   compare.SeverityNone,
					Indicators: []compare.Indicator{compare.IndicatorNoBaseline},
				},
				DetectedAt: time.Now(),
			})
		}

		live := compare.Page{
			NormalizedText: doc.Text,
			ContentHash:    contentHash,
			StructuralHash: structuralHash,
			TagPaths:       doc.TagPaths,
			ScriptSrcs:     doc.ScriptHashes,
			NormVersion:    w.NormVersion,
		}
		base := compare.Page{
			NormalizedText: baseline.NormalizedText,
			ContentHash:    baseline.ContentHash,
			StructuralHash: baseline.StructuralHash,
			TagPaths:       baseline.TagPaths,
			ScriptSrcs:     baseline.ScriptSrcs,
			NormVersion:    baseline.NormVersion,
		}

		verdict := compare.Compare(live, base, w.ComparePolicy)
		log.Info("verdict", zap.String("status", string(verdict.Status)), zap.String("severity", string(verdict.Severity)))

		return w.Store.SaveVerdict(ctx, Verdict{
			SiteID:       w.SiteID,
			JobID:        w.JobID,
			CanonicalURL: task.CanonicalURL,
			BaselineHash: baseline.ContentHash,
			ObservedHash: contentHash,
			Verdict:      verdict,
			DetectedAt:   time.Now(),
		})
	}
	return nil
}

// parseAndEnqueueLinks implements step 9. Rejected links are expected
// traffic, not worker errors: Enqueue drops out-of-scope, invalid,
// duplicate and blocked links without an error, and a full queue is logged
// at debug and otherwise ignored.
func (w *Worker) parseAndEnqueueLinks(body string, task *frontier.Task, log *zap.Logger) {
	links, err := fingerprint.ExtractURLs(body, task.CanonicalURL)
	if err != nil {
		log.Debug("link extraction failed", zap.Error(err))
		return
	}

	for _, link := range links {
		if _, err := w.Frontier.Enqueue(link, task.CanonicalURL, task.Depth+1); err != nil {
			log.Debug("enqueue skipped", zap.String("link", link), zap.Error(err))
		}
	}
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}
