package crawltracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/crawlfleet/internal/store/memstore"
	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
)

// TestScenario3CrawlDedup is spec.md §8 scenario 3.
func TestScenario3CrawlDedup(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	tr := New(st)

	crawl := jobs.Crawl{CrawlID: "c1", TenantID: "t1", CrawlerOptions: jobs.CrawlerOptions{Limit: 100}}
	require.NoError(t, tr.Init(ctx, crawl))

	accepted, err := tr.LockURL(ctx, crawl, "https://x.com/a#frag")
	require.NoError(t, err)
	assert.True(t, accepted)

	accepted, err = tr.LockURL(ctx, crawl, "https://x.com/a")
	require.NoError(t, err)
	assert.False(t, accepted)

	dedupCrawl := crawl
	dedupCrawl.CrawlerOptions.DeduplicateSimilarURLs = true
	accepted, err = tr.LockURL(ctx, dedupCrawl, "http://www.x.com/a/index.html")
	require.NoError(t, err)
	assert.False(t, accepted, "permutation of /a already visited")
}

// TestScenario6CrawlStatusRollup is spec.md §8 scenario 6.
func TestScenario6CrawlStatusRollup(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	tr := New(st)

	crawl := jobs.Crawl{CrawlID: "c2", TenantID: "t1", CrawlerOptions: jobs.CrawlerOptions{Limit: 100}}
	require.NoError(t, tr.Init(ctx, crawl))

	require.NoError(t, tr.AddJobsBatch(ctx, crawl.CrawlID, []string{"j1", "j2", "j3"}))
	require.NoError(t, tr.MarkKickoffFinished(ctx, crawl.CrawlID))

	require.NoError(t, tr.MarkDone(ctx, crawl.CrawlID, "j1", true))
	require.NoError(t, tr.MarkDone(ctx, crawl.CrawlID, "j2", true))

	status, err := tr.Status(ctx, crawl)
	require.NoError(t, err)
	assert.Equal(t, jobs.CrawlStateScraping, status.Status)
	assert.Equal(t, 2, status.Completed)
	assert.Equal(t, 3, status.Total)

	require.NoError(t, tr.MarkDone(ctx, crawl.CrawlID, "j3", false))

	finished, err := tr.IsFinished(ctx, crawl.CrawlID)
	require.NoError(t, err)
	require.True(t, finished)
	require.NoError(t, tr.Seal(ctx, crawl.CrawlID, crawl.TenantID))

	status, err = tr.Status(ctx, crawl)
	require.NoError(t, err)
	assert.Equal(t, jobs.CrawlStateCompleted, status.Status)
	assert.Equal(t, 2, status.CreditsUsed)
}

func TestMarkDoneIgnoredAfterSeal(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	tr := New(st)

	crawl := jobs.Crawl{CrawlID: "c3", TenantID: "t1"}
	require.NoError(t, tr.Init(ctx, crawl))
	require.NoError(t, tr.AddJob(ctx, crawl.CrawlID, "j1"))
	require.NoError(t, tr.MarkKickoffFinished(ctx, crawl.CrawlID))
	require.NoError(t, tr.MarkDone(ctx, crawl.CrawlID, "j1", true))
	require.NoError(t, tr.Seal(ctx, crawl.CrawlID, crawl.TenantID))

	require.NoError(t, tr.MarkDone(ctx, crawl.CrawlID, "j2", true))

	done, err := st.SetMembers(ctx, "crawl:c3:jobs_done")
	require.NoError(t, err)
	assert.Len(t, done, 1, "post-seal markDone must be ignored")
}
