// Package coordinator implements the job lifecycle coordinator
// (spec.md §4.I): the per-request scrape path (normalize → semaphore
// → dispatch → typed-error mapping) and crawl kickoff → drain → seal
// orchestration. Crawl orchestration is modeled as a
// go.temporal.io/sdk/workflow, adapted from the teacher's
// DocumentIngestionWorkflow in
// internal/temporal/workflows/ingestion.go: where that workflow runs
// fetch→extract→embed→store→index→merge as a single activity chain,
// CrawlWorkflow runs init→robots→sitemap-seed→enqueue as its kickoff
// phase, then loops a DrainCrawl activity (promote/dispatch/markDone)
// until isFinished; DrainCrawl seals the crawl once it is finished.
package coordinator

import (
	"context"
	"time"

	"github.com/Caia-Tech/crawlfleet/internal/crawltracker"
	"github.com/Caia-Tech/crawlfleet/internal/queue"
	"github.com/Caia-Tech/crawlfleet/internal/robots"
	"github.com/Caia-Tech/crawlfleet/internal/semaphore"
	"github.com/Caia-Tech/crawlfleet/internal/sitemap"
	"github.com/Caia-Tech/crawlfleet/internal/store"
	"github.com/Caia-Tech/crawlfleet/internal/urlnorm"
	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
	"github.com/Caia-Tech/crawlfleet/pkg/tenant"
)

// ScraperDispatcher is the narrow "run one scrape job" capability
// (spec.md §4.I point 4, spec.md §1's out-of-scope "scraping engines
// themselves"). internal/scrapeengine provides the default
// implementation.
type ScraperDispatcher interface {
	Dispatch(ctx context.Context, job jobs.ScrapeJobDescriptor) (jobs.ScrapeResult, error)
}

// Coordinator ties the admission/fairness/lifecycle components
// together behind the two public operations spec.md §4.I names:
// Scrape (single job, synchronous) and KickoffCrawl/DrainCrawl
// (multi-job, asynchronous, Temporal-orchestrated).
type Coordinator struct {
	store      store.Store
	tenants    tenant.Provider
	sem        *semaphore.Semaphore
	queue      *queue.Queue
	tracker    *crawltracker.Tracker
	robots     *robots.Resolver
	sitemap    *sitemap.Traverser
	dispatcher ScraperDispatcher
}

// New builds a Coordinator.
func New(st store.Store, tenants tenant.Provider, sem *semaphore.Semaphore, q *queue.Queue, tracker *crawltracker.Tracker, robotsResolver *robots.Resolver, sitemapTraverser *sitemap.Traverser, dispatcher ScraperDispatcher) *Coordinator {
	return &Coordinator{
		store:      st,
		tenants:    tenants,
		sem:        sem,
		queue:      q,
		tracker:    tracker,
		robots:     robotsResolver,
		sitemap:    sitemapTraverser,
		dispatcher: dispatcher,
	}
}

// Scrape implements spec.md §4.I points 1-5 for a single, non-crawl
// job: normalize the URL, resolve the tenant, acquire a concurrency
// lease, dispatch, and map any error through the §7 taxonomy. Temporal
// is reserved for multi-step crawl orchestration (point 6 on), exactly
// where the teacher reserves it for document ingestion rather than a
// single-file health check.
func (c *Coordinator) Scrape(ctx context.Context, req jobs.ScrapeJobDescriptor) (jobs.ScrapeResult, error) {
	if req.JobID == "" {
		req.JobID = jobs.NewJobID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if err := req.Validate(); err != nil {
		return jobs.ScrapeResult{}, jobs.NewError(jobs.ErrBadRequest, err.Error())
	}

	view, err := c.tenants.GetTenant(ctx, req.TenantID)
	if err != nil {
		return jobs.ScrapeResult{}, jobs.NewError(jobs.ErrBadRequest, "coordinator: unknown tenant")
	}

	normalized, err := urlnorm.Normalize(req.URL, urlnorm.Options{})
	if err != nil {
		return jobs.ScrapeResult{}, jobs.NewError(jobs.ErrBadRequest, "coordinator: invalid url")
	}
	req.NormalizedURL = normalized

	if c.robots != nil {
		evaluator := c.robots.Resolve(ctx, normalized, view.IgnoreRobots())
		if !evaluator.IsAllowed(normalized, defaultUserAgent) {
			return jobs.ScrapeResult{}, jobs.NewError(jobs.ErrCrawlDenial, "coordinator: url disallowed by robots.txt")
		}
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultScrapeTimeout
	}

	result, err := c.sem.WithSemaphore(ctx, req.TenantID, req.JobID, view.ConcurrencyLimit, timeout, func(workCtx context.Context, limited bool) (any, error) {
		return c.dispatcher.Dispatch(workCtx, req)
	})
	if err != nil {
		return jobs.ScrapeResult{}, err
	}

	scrapeResult, ok := result.(jobs.ScrapeResult)
	if !ok {
		return jobs.ScrapeResult{}, jobs.NewError(jobs.ErrUnknown, "coordinator: dispatcher returned an unexpected result type")
	}
	return scrapeResult, nil
}

const (
	defaultUserAgent     = "crawlfleet"
	defaultScrapeTimeout = 60 * time.Second
)
