package coordinator

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/crawlfleet/internal/crawltracker"
	"github.com/Caia-Tech/crawlfleet/internal/queue"
	"github.com/Caia-Tech/crawlfleet/internal/robots"
	"github.com/Caia-Tech/crawlfleet/internal/semaphore"
	"github.com/Caia-Tech/crawlfleet/internal/store/memstore"
	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
	"github.com/Caia-Tech/crawlfleet/pkg/tenant"
)

// allowAllFetcher simulates every robots.txt fetch failing (404), the
// "robots unavailable, allow everything" path.
type allowAllFetcher struct{}

func (allowAllFetcher) Fetch(_ context.Context, _ string) (int, []byte, error) {
	return http.StatusNotFound, nil, nil
}

// denyFetcher serves a robots.txt that disallows everything.
type denyFetcher struct{}

func (denyFetcher) Fetch(_ context.Context, _ string) (int, []byte, error) {
	return http.StatusOK, []byte("User-agent: *\nDisallow: /\n"), nil
}

type fakeDispatcher struct {
	calls int
	fail  bool
}

func (d *fakeDispatcher) Dispatch(_ context.Context, job jobs.ScrapeJobDescriptor) (jobs.ScrapeResult, error) {
	d.calls++
	if d.fail {
		return jobs.ScrapeResult{}, jobs.NewError(jobs.ErrScrapeSiteError, "simulated failure")
	}
	return jobs.ScrapeResult{JobID: job.JobID, Success: true, Data: map[string]any{"url": job.URL}}, nil
}

func newTestCoordinator(t *testing.T, fetcher robots.Fetcher, dispatcher ScraperDispatcher) *Coordinator {
	t.Helper()
	st := memstore.New()
	tenants := tenant.NewStaticProvider(tenant.View{TenantID: "t1", ConcurrencyLimit: 5, CreditsAvailable: 1000})
	sem := semaphore.New(st, time.Second)
	tracker := crawltracker.New(st)
	q := queue.New(st, sem, tracker)
	resolver := robots.New(st, fetcher)
	return New(st, tenants, sem, q, tracker, resolver, nil, dispatcher)
}

func TestScrapeHappyPath(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	c := newTestCoordinator(t, allowAllFetcher{}, dispatcher)

	result, err := c.Scrape(context.Background(), jobs.ScrapeJobDescriptor{
		TenantID:  "t1",
		URL:       "https://example.com/page",
		TimeoutMs: 5000,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, dispatcher.calls)
}

func TestScrapeDeniedByRobots(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	c := newTestCoordinator(t, denyFetcher{}, dispatcher)

	_, err := c.Scrape(context.Background(), jobs.ScrapeJobDescriptor{
		TenantID:  "t1",
		URL:       "https://example.com/page",
		TimeoutMs: 5000,
	})
	require.Error(t, err)
	jerr := jobs.AsError(err)
	require.NotNil(t, jerr)
	assert.Equal(t, jobs.ErrCrawlDenial, jerr.Code)
	assert.Equal(t, 0, dispatcher.calls)
}

func TestScrapeUnknownTenant(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	c := newTestCoordinator(t, allowAllFetcher{}, dispatcher)

	_, err := c.Scrape(context.Background(), jobs.ScrapeJobDescriptor{
		TenantID:  "ghost",
		URL:       "https://example.com",
		TimeoutMs: 5000,
	})
	require.Error(t, err)
	jerr := jobs.AsError(err)
	require.NotNil(t, jerr)
	assert.Equal(t, jobs.ErrBadRequest, jerr.Code)
}

// TestCrawlKickoffDrainSeal exercises the full crawl lifecycle
// end-to-end against memstore: kickoff seeds a single-URL crawl (no
// sitemap traverser wired), drain dispatches it, and the crawl must
// seal once its one job reports done.
func TestCrawlKickoffDrainSeal(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	c := newTestCoordinator(t, allowAllFetcher{}, dispatcher)
	ctx := context.Background()

	crawl := jobs.Crawl{
		CrawlID:   jobs.NewJobID(),
		TenantID:  "t1",
		OriginURL: "https://example.com",
	}
	require.NoError(t, c.KickoffCrawl(ctx, crawl))

	status, err := c.Status(ctx, crawl.CrawlID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Total)
	assert.Equal(t, jobs.CrawlStateScraping, status.Status)

	result, err := c.DrainCrawl(ctx, crawl.CrawlID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Dispatched)
	assert.True(t, result.Finished)
	assert.Equal(t, 1, dispatcher.calls)

	status, err = c.Status(ctx, crawl.CrawlID)
	require.NoError(t, err)
	assert.Equal(t, jobs.CrawlStateCompleted, status.Status)
	assert.Equal(t, 1, status.CreditsUsed)
}

func TestCrawlKickoffBlockedByRobots(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	c := newTestCoordinator(t, denyFetcher{}, dispatcher)
	ctx := context.Background()

	crawl := jobs.Crawl{
		CrawlID:   jobs.NewJobID(),
		TenantID:  "t1",
		OriginURL: "https://example.com",
	}
	require.NoError(t, c.KickoffCrawl(ctx, crawl))

	status, err := c.Status(ctx, crawl.CrawlID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Total)
	assert.Contains(t, status.RobotsBlocked, "https://example.com")
}
