// Package render implements the headless Render helper (§4.5): a bounded
// pool of browser contexts behind an in-memory LRU/TTL cache.
package render

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/sitewarden/crawler/internal/crawlerr"
)

// WaitUntil selects the render policy's settle trigger.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "network_idle"
)

// Policy configures a single render call (§4.5).
type Policy struct {
	WaitUntil        WaitUntil
	GotoTimeout      time.Duration
	StabilityWait    time.Duration
	HydrationWait    time.Duration
	ViewportW        int
	ViewportH        int
}

// DefaultPolicy returns the §4.5 default policy.
func DefaultPolicy() Policy {
	return Policy{
		WaitUntil:     WaitNetworkIdle,
		GotoTimeout:   30 * time.Second,
		StabilityWait: 5 * time.Second,
		HydrationWait: 8 * time.Second,
		ViewportW:     1920,
		ViewportH:     1080,
	}
}

// Artifact is the RenderedArtifact the helper returns on success.
type Artifact struct {
	Body     string
	Warnings []string
	ElapsedMs int64
}

// Pool is a bounded pool of isolated headless browser contexts. Each render
// task runs in a fresh context: no persistent cookies, no localStorage, no
// session reuse across calls.
type Pool struct {
	allocator context.Context
	cancel    context.CancelFunc
	sem       chan struct{}
	userAgent string
}

// NewPool builds a Pool with size concurrent browser contexts.
func NewPool(size int, userAgent string) *Pool {
	if size < 1 {
		size = 1
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("mute-audio", true),
		chromedp.UserAgent(userAgent),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Pool{
		allocator: allocCtx,
		cancel:    cancel,
		sem:       make(chan struct{}, size),
		userAgent: userAgent,
	}
}

// Close shuts the allocator down.
func (p *Pool) Close() {
	p.cancel()
}

// Render renders canonicalURL under policy, blocking until a pool slot is
// free. It always constructs a fresh chromedp context, never reusing
// cookies/session state across calls.
func (p *Pool) Render(ctx context.Context, rawURL string, policy Policy) (*Artifact, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, crawlerr.New(crawlerr.RenderFailed, rawURL, ctx.Err())
	}
	defer func() { <-p.sem }()

	start := time.Now()

	browserCtx, browserCancel := chromedp.NewContext(p.allocator)
	defer browserCancel()

	timeoutCtx, timeoutCancel := context.WithTimeout(browserCtx, policy.GotoTimeout)
	defer timeoutCancel()

	var html string
	actions := []chromedp.Action{
		chromedp.EmulateViewport(int64(policy.ViewportW), int64(policy.ViewportH)),
		chromedp.Navigate(rawURL),
	}

	switch policy.WaitUntil {
	case WaitLoad, WaitDOMContentLoaded:
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	default: // WaitNetworkIdle
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery), chromedp.Sleep(policy.StabilityWait))
	}

	actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))

	err := chromedp.Run(timeoutCtx, actions...)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if timeoutCtx.Err() != nil {
			return nil, crawlerr.New(crawlerr.RenderTimeout, rawURL, err)
		}
		return nil, crawlerr.New(crawlerr.RenderFailed, rawURL, err)
	}

	return &Artifact{Body: html, ElapsedMs: elapsed}, nil
}

// spaMarkers are the known SPA-root indicators checked by NeedsJSRendering.
var spaMarkers = []string{
	`id="root"`,
	`id="app"`,
	`ng-app`,
	`data-reactroot`,
}

// contentTags indicate a body already carries real content rather than an
// empty shell awaiting client-side hydration.
var contentTags = []string{"<a ", "<p", "<main", "<article", "<section"}

// NeedsJSRendering is the §4.3 step-4 heuristic: SPA root markers, or a
// <body> with none of the usual content-bearing tags. Semantics carried
// forward from the original system's equivalent heuristic.
func NeedsJSRendering(html string) bool {
	if html == "" {
		return true
	}
	lower := strings.ToLower(html)

	for _, marker := range spaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	bodyStart := strings.Index(lower, "<body")
	if bodyStart == -1 {
		return false
	}
	body := lower[bodyStart:]

	for _, tag := range contentTags {
		if strings.Contains(body, tag) {
			return false
		}
	}
	return true
}
