package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitewarden/crawler/internal/compare"
	"github.com/sitewarden/crawler/internal/fetchclient"
	"github.com/sitewarden/crawler/internal/frontier"
	"github.com/sitewarden/crawler/internal/ratelimit"
)

type fakeStore struct {
	crawlPages []CrawlPage
	baselines  []PageVersion
	verdicts   []Verdict
	baseline   *PageVersion
}

func (f *fakeStore) SaveCrawlPage(ctx context.Context, page CrawlPage) error {
	f.crawlPages = append(f.crawlPages, page)
	return nil
}

func (f *fakeStore) SaveBaseline(ctx context.Context, pv PageVersion) error {
	f.baselines = append(f.baselines, pv)
	return nil
}

func (f *fakeStore) LoadBaseline(ctx context.Context, siteID int64, canonicalURL string) (*PageVersion, bool, error) {
	if f.baseline == nil {
		return nil, false, nil
	}
	return f.baseline, true, nil
}

func (f *fakeStore) SaveVerdict(ctx context.Context, v Verdict) error {
	f.verdicts = append(f.verdicts, v)
	return nil
}

func newTestWorker(t *testing.T, mode Mode, store *fakeStore, seedHost string) (*Worker, *frontier.Frontier) {
	logger := zap.NewNop()
	fr := frontier.New(seedHost, 100)
	return &Worker{
		ID:          1,
		SiteID:      1,
		JobID:       "job-1",
		Mode:        mode,
		NormVersion: "v1",
		Frontier:    fr,
		Fetcher:     fetchclient.New(5*time.Second, "sentinel-test"),
		Limiter:     ratelimit.NewHostLimiter(0, nil),
		Store:       store,
		Log:         logger,
	}, fr
}

func TestProcess_CrawlModePersistsPageAndEnqueuesLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>hello there</p><a href="/next">next</a></body></html>`))
	}))
	defer srv.Close()

	store := &fakeStore{}
	host := srv.Listener.Addr().String()
	wk, fr := newTestWorker(t, ModeCrawl, store, host)

	task := &frontier.Task{CanonicalURL: srv.URL, Depth: 0}
	wk.Process(context.Background(), task)

	require.Len(t, store.crawlPages, 1)
	assert.NotEmpty(t, store.crawlPages[0].ContentHash)
	assert.Equal(t, 1, fr.PendingCount(), "the discovered /next link should have been enqueued")
}

func TestProcess_CrawlModePersistsPageOnFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := &fakeStore{}
	host := srv.Listener.Addr().String()
	wk, fr := newTestWorker(t, ModeCrawl, store, host)

	task := &frontier.Task{CanonicalURL: srv.URL, Depth: 0}
	wk.Process(context.Background(), task)

	require.Len(t, store.crawlPages, 1)
	assert.Equal(t, 404, store.crawlPages[0].StatusCode)
	assert.Equal(t, frontier.Stats{Queued: 0, InProgress: 0, Visited: 1}, fr.Stats())
}

func TestProcess_BaselineModePersistsPageVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>about our company</p></body></html>`))
	}))
	defer srv.Close()

	store := &fakeStore{}
	host := srv.Listener.Addr().String()
	wk, _ := newTestWorker(t, ModeBaseline, store, host)

	task := &frontier.Task{CanonicalURL: srv.URL, Depth: 0}
	wk.Process(context.Background(), task)

	require.Len(t, store.baselines, 1)
	assert.Equal(t, "about our company", store.baselines[0].NormalizedText)
	assert.Equal(t, "v1", store.baselines[0].NormVersion)
}

func TestProcess_CompareModeRunsComparatorAndSavesVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>about our company</p></body></html>`))
	}))
	defer srv.Close()

	store := &fakeStore{baseline: &PageVersion{
		NormalizedText: "about our company",
		ContentHash:    "will not match without normalize, but hash equality drives CLEAN",
		NormVersion:    "v1",
	}}
	host := srv.Listener.Addr().String()
	wk, _ := newTestWorker(t, ModeCompare, store, host)
	wk.ComparePolicy = compare.Policy{NoiseFloor: 0.05}

	task := &frontier.Task{CanonicalURL: srv.URL, Depth: 0}
	wk.Process(context.Background(), task)

	require.Len(t, store.verdicts, 1)
	assert.Equal(t, compare.StatusClean, store.verdicts[0].Status)
}

func TestProcess_NoBaselineSavesFailedVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>page</p></body></html>`))
	}))
	defer srv.Close()

	store := &fakeStore{}
	host := srv.Listener.Addr().String()
	wk, fr := newTestWorker(t, ModeCompare, store, host)

	task := &frontier.Task{CanonicalURL: srv.URL, Depth: 0}
	wk.Process(context.Background(), task)

	require.Len(t, store.verdicts, 1)
	assert.Equal(t, compare.StatusFailed, store.verdicts[0].Status)
	assert.Equal(t, compare.SeverityNone, store.verdicts[0].Severity)
	assert.Contains(t, store.verdicts[0].Indicators, compare.IndicatorNoBaseline)
	assert.Equal(t, frontier.Stats{Queued: 0, InProgress: 0, Visited: 1}, fr.Stats())
}
