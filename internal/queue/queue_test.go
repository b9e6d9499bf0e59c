package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/crawlfleet/internal/semaphore"
	"github.com/Caia-Tech/crawlfleet/internal/store/memstore"
	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
	"time"
)

type fakeCrawlLookup struct {
	crawls map[string]jobs.Crawl
}

func (f *fakeCrawlLookup) GetCrawl(_ context.Context, id string) (jobs.Crawl, error) {
	return f.crawls[id], nil
}

type fakeReadyQueue struct {
	inserted []jobs.QueuedJob
	presentIDs map[string]bool
}

func (f *fakeReadyQueue) InsertReady(_ context.Context, job jobs.QueuedJob) (bool, error) {
	if f.presentIDs[job.JobID] {
		return true, nil
	}
	f.inserted = append(f.inserted, job)
	return false, nil
}

// TestEnqueuePromoteRoundTrip is spec.md §8's round-trip law:
// enqueue-then-promote with sufficient capacity returns the exact
// payload enqueued.
func TestEnqueuePromoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sem := semaphore.New(st, time.Minute)
	lookup := &fakeCrawlLookup{crawls: map[string]jobs.Crawl{}}
	q := New(st, sem, lookup)

	job := jobs.QueuedJob{JobID: "j1", TenantID: "T", Priority: 5, Payload: map[string]any{"url": "https://x.com"}}
	require.NoError(t, q.Enqueue(ctx, job, 60000))

	promoted, ok, err := q.PromoteNext(ctx, "T")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "j1", promoted.JobID)
	assert.Equal(t, 5, promoted.Priority)

	_, ok, err = q.PromoteNext(ctx, "T")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPromoteNextRespectsCrawlSubConcurrency(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sem := semaphore.New(st, time.Minute)
	lookup := &fakeCrawlLookup{crawls: map[string]jobs.Crawl{
		"c1": {CrawlID: "c1", CrawlerOptions: jobs.CrawlerOptions{Delay: 1}},
	}}
	q := New(st, sem, lookup)

	job := jobs.QueuedJob{JobID: "j1", TenantID: "T", CrawlID: "c1"}
	require.NoError(t, q.Enqueue(ctx, job, 60000))

	require.NoError(t, st.ZAdd(ctx, "sem:crawl:c1", 9999999999999, "someholder"))

	_, ok, err := q.PromoteNext(ctx, "T")
	require.NoError(t, err)
	assert.False(t, ok, "delay>0 crawl caps concurrency at 1, already occupied")
}

func TestOnJobDonePromotesUpToLimit(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sem := semaphore.New(st, time.Minute)
	lookup := &fakeCrawlLookup{crawls: map[string]jobs.Crawl{}}
	q := New(st, sem, lookup)

	require.NoError(t, q.Enqueue(ctx, jobs.QueuedJob{JobID: "waiting1", TenantID: "T"}, 60000))
	ready := &fakeReadyQueue{presentIDs: map[string]bool{}}

	q.OnJobDone(ctx, "T", "activeHolder", "", 1, ready)

	require.Len(t, ready.inserted, 1)
	assert.Equal(t, "waiting1", ready.inserted[0].JobID)
}
