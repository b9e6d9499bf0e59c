package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/crawlfleet/internal/sitemap"
	"github.com/Caia-Tech/crawlfleet/internal/store"
	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
)

// drainBatchSize bounds how many queued jobs one DrainCrawl call
// dispatches before returning, so a Temporal activity heartbeats
// instead of running unboundedly long.
const drainBatchSize = 25

// KickoffCrawl implements spec.md §4.I's crawl kickoff phase: create
// the crawl record, resolve robots.txt, seed sitemap URLs as child
// jobs (respecting lockURL dedup), enqueue them, then mark kickoff
// finished so isFinished can observe completion.
func (c *Coordinator) KickoffCrawl(ctx context.Context, crawl jobs.Crawl) error {
	if crawl.CrawlID == "" {
		crawl.CrawlID = jobs.NewJobID()
	}

	view, err := c.tenants.GetTenant(ctx, crawl.TenantID)
	if err != nil {
		return jobs.NewError(jobs.ErrBadRequest, "coordinator: unknown tenant")
	}

	// Resolve robots.txt (and any crawl-delay it names) before the
	// record is persisted, so the stored CrawlerOptions.Delay that
	// queue.qualifies() later reads reflects the real site policy
	// rather than whatever the caller passed in.
	allowed := true
	if c.robots != nil {
		evaluator := c.robots.Resolve(ctx, crawl.OriginURL, crawl.CrawlerOptions.IgnoreRobotsTxt || view.IgnoreRobots())
		allowed = evaluator.IsAllowed(crawl.OriginURL, defaultUserAgent)
		if delay := evaluator.GetCrawlDelay(defaultUserAgent); delay > 0 {
			crawl.CrawlerOptions.Delay = delay.Seconds()
		}
	}

	if err := c.tracker.Init(ctx, crawl); err != nil {
		return err
	}

	if !allowed {
		_ = c.tracker.RecordRobotsBlocked(ctx, crawl.CrawlID, crawl.OriginURL)
		return c.tracker.MarkKickoffFinished(ctx, crawl.CrawlID)
	}

	var seeds []string
	var mu sync.Mutex
	if c.sitemap != nil {
		c.sitemap.TryGetSitemap(ctx, crawl.OriginURL, func(_ context.Context, urls []string) error {
			mu.Lock()
			seeds = append(seeds, urls...)
			mu.Unlock()
			return nil
		}, sitemap.Options{IncludeSubdomains: crawl.CrawlerOptions.IncludeSubdomains})
	}
	if len(seeds) == 0 {
		seeds = []string{crawl.OriginURL}
	}

	var jobIDs []string
	for _, seed := range seeds {
		accepted, err := c.tracker.LockURL(ctx, crawl, seed)
		if err != nil {
			log.Warn().Err(err).Str("crawlId", crawl.CrawlID).Msg("coordinator: lockURL failed during kickoff")
			continue
		}
		if !accepted {
			continue
		}

		jobID := jobs.NewJobID()
		descriptor := jobs.ScrapeJobDescriptor{
			JobID:     jobID,
			TenantID:  crawl.TenantID,
			URL:       seed,
			CrawlID:   crawl.CrawlID,
			Options:   crawl.ScrapeOptions,
			TimeoutMs: defaultScrapeTimeout.Milliseconds(),
		}
		payload := map[string]any{"descriptor": descriptor}
		if err := c.queue.Enqueue(ctx, jobs.QueuedJob{
			JobID:      jobID,
			TenantID:   crawl.TenantID,
			CrawlID:    crawl.CrawlID,
			Payload:    payload,
			Listenable: true,
		}, defaultScrapeTimeout.Milliseconds()); err != nil {
			log.Warn().Err(err).Str("jobId", jobID).Msg("coordinator: enqueue failed during kickoff")
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}

	if err := c.tracker.AddJobsBatch(ctx, crawl.CrawlID, jobIDs); err != nil {
		return err
	}
	return c.tracker.MarkKickoffFinished(ctx, crawl.CrawlID)
}

// DrainResult reports one DrainCrawl batch's outcome.
type DrainResult struct {
	Dispatched int
	Finished   bool
}

// DrainCrawl promotes and dispatches up to drainBatchSize of this
// crawl's queued jobs from its tenant's queue, synchronously (no
// Temporal worker required for self-hosted/dev deployments), then
// reports whether the crawl is now finished. The batch stops at the
// first promoted job that belongs to another crawl; that job goes back
// into the queue.
func (c *Coordinator) DrainCrawl(ctx context.Context, crawlID string) (DrainResult, error) {
	crawl, err := c.tracker.GetCrawl(ctx, crawlID)
	if err != nil {
		return DrainResult{}, err
	}

	view, err := c.tenants.GetTenant(ctx, crawl.TenantID)
	if err != nil {
		return DrainResult{}, jobs.NewError(jobs.ErrBadRequest, "coordinator: unknown tenant")
	}

	dispatched := 0
	for i := 0; i < drainBatchSize; i++ {
		job, ok, err := c.queue.PromoteNext(ctx, crawl.TenantID)
		if err != nil {
			return DrainResult{Dispatched: dispatched}, err
		}
		if !ok {
			break
		}
		if job.CrawlID != crawlID {
			// PromoteNext already removed another crawl's job from the
			// tenant queue; put it back with its remaining deadline so
			// that crawl's own drain loop dispatches it.
			remaining := job.DeadlineEpochMs - time.Now().UnixMilli()
			if err := c.queue.Enqueue(ctx, job, remaining); err != nil {
				log.Warn().Err(err).Str("jobId", job.JobID).Msg("coordinator: re-enqueue of foreign crawl job failed")
			}
			break
		}

		descriptor := jobs.ScrapeJobDescriptor{JobID: job.JobID, TenantID: job.TenantID, CrawlID: job.CrawlID}
		if raw, ok := job.Payload["descriptor"]; ok {
			if encoded, err := json.Marshal(raw); err == nil {
				_ = json.Unmarshal(encoded, &descriptor)
			}
		}

		// Hold a crawl-scoped lease for the duration of the dispatch so
		// PromoteNext's qualifies() check (spec.md §4.C sub-concurrency
		// rule) sees this job as occupying one of the crawl's slots.
		if err := c.store.ZAdd(ctx, store.CrawlSemaphoreKey(crawlID), float64(time.Now().UnixMilli()), job.JobID); err != nil {
			log.Warn().Err(err).Str("jobId", job.JobID).Msg("coordinator: crawl lease acquire failed")
		}

		// spec.md §4.C: once a crawl has a politeness delay, wait it out
		// after acquiring the crawl lease and before dispatching, so the
		// lease (and the sub-concurrency cap it enforces via
		// queue.qualifies()) covers the whole per-URL gap rather than
		// just the fetch itself.
		if crawl.CrawlerOptions.Delay > 0 {
			select {
			case <-time.After(time.Duration(crawl.CrawlerOptions.Delay * float64(time.Second))):
			case <-ctx.Done():
				if _, err := c.store.ZRem(ctx, store.CrawlSemaphoreKey(crawlID), job.JobID); err != nil {
					log.Warn().Err(err).Str("jobId", job.JobID).Msg("coordinator: crawl lease release failed")
				}
				return DrainResult{Dispatched: dispatched}, ctx.Err()
			}
		}

		_, dispatchErr := c.sem.WithSemaphore(ctx, job.TenantID, job.JobID, view.ConcurrencyLimit, defaultScrapeTimeout, func(workCtx context.Context, _ bool) (any, error) {
			return c.dispatcher.Dispatch(workCtx, descriptor)
		})

		if _, err := c.store.ZRem(ctx, store.CrawlSemaphoreKey(crawlID), job.JobID); err != nil {
			log.Warn().Err(err).Str("jobId", job.JobID).Msg("coordinator: crawl lease release failed")
		}

		success := dispatchErr == nil
		if dispatchErr != nil {
			log.Warn().Err(dispatchErr).Str("jobId", job.JobID).Msg("coordinator: crawl child job dispatch failed")
		}

		if err := c.tracker.MarkDone(ctx, crawlID, job.JobID, success); err != nil {
			return DrainResult{Dispatched: dispatched}, err
		}
		dispatched++
	}

	finished, err := c.tracker.IsFinished(ctx, crawlID)
	if err != nil {
		return DrainResult{Dispatched: dispatched}, err
	}
	if finished {
		if err := c.tracker.Seal(ctx, crawlID, crawl.TenantID); err != nil {
			return DrainResult{Dispatched: dispatched}, err
		}
	}
	return DrainResult{Dispatched: dispatched, Finished: finished}, nil
}

// Status returns the crawl's current aggregated status (spec.md §4.D
// status / §6 GET /crawl/{id}).
func (c *Coordinator) Status(ctx context.Context, crawlID string) (jobs.CrawlStatus, error) {
	crawl, err := c.tracker.GetCrawl(ctx, crawlID)
	if err != nil {
		return jobs.CrawlStatus{}, err
	}
	return c.tracker.Status(ctx, crawl)
}
