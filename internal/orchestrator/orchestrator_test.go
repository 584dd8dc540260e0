package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewarden/crawler/internal/storage"
)

type fakeSiteSource struct {
	sites []storage.Site
}

func (f *fakeSiteSource) EnabledSites(ctx context.Context, siteID, customerID int64) ([]storage.Site, error) {
	return f.sites, nil
}

func sites(n int) []storage.Site {
	out := make([]storage.Site, n)
	for i := range out {
		out[i] = storage.Site{SiteID: int64(i + 1), CustomerID: 1, URL: "https://a.test/", Enabled: true}
	}
	return out
}

func TestScheduler_Run_RunsAllSitesAndCountsSuccesses(t *testing.T) {
	sched := &Scheduler{
		MaxParallelSites: 2,
		Sites:            &fakeSiteSource{sites: sites(5)},
		RunSite: func(ctx context.Context, site storage.Site) error {
			return nil
		},
	}

	result, err := sched.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 5, result.Completed)
	assert.Equal(t, 0, result.Failed)
	assert.False(t, result.AnyFailed())
}

func TestScheduler_Run_IsolatesPerSiteFailures(t *testing.T) {
	sched := &Scheduler{
		MaxParallelSites: 3,
		Sites:            &fakeSiteSource{sites: sites(4)},
		RunSite: func(ctx context.Context, site storage.Site) error {
			if site.SiteID == 2 {
				return errors.New("boom")
			}
			return nil
		},
	}

	result, err := sched.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, result.AnyFailed())
	require.Contains(t, result.Errors, int64(2))
	assert.EqualError(t, result.Errors[2], "boom")
}

func TestScheduler_Run_CapsConcurrencyAtMaxParallelSites(t *testing.T) {
	var inFlight atomic.Int32
	var maxSeen atomic.Int32
	var mu sync.Mutex

	sched := &Scheduler{
		MaxParallelSites: 2,
		Sites:            &fakeSiteSource{sites: sites(6)},
		RunSite: func(ctx context.Context, site storage.Site) error {
			n := inFlight.Add(1)
			mu.Lock()
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		},
	}

	_, err := sched.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
}

func TestScheduler_Run_DefaultsBelowOneToOne(t *testing.T) {
	sched := &Scheduler{
		MaxParallelSites: 0,
		Sites:            &fakeSiteSource{sites: sites(1)},
		RunSite: func(ctx context.Context, site storage.Site) error {
			return nil
		},
	}

	result, err := sched.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
}
