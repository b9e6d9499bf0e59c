// Package queue implements the per-tenant waiting queue (spec.md
// §4.C): jobs that failed admission wait here, ordered by deadline,
// until scan-and-promote finds room. The dispatch idea is generalized
// from the teacher's internal/procurement/scraping/crawler.go
// jobQueue chan *CrawlJob worker-pool pattern — channels can't cross
// process boundaries, which is exactly why this is backed by
// internal/store's sorted sets instead.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Caia-Tech/crawlfleet/internal/semaphore"
	"github.com/Caia-Tech/crawlfleet/internal/store"
	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
)

const (
	scanCount        = 20
	promoteWarnIters = 15
	promoteMaxIters  = 100
	onJobDoneMaxTries = 10

	// rescanRate paces promoteNext's scan-again loop so a contended
	// tenant queue doesn't spin the store with back-to-back ZScans.
	rescanRate  = 10 // per second
	rescanBurst = 3
)

// CrawlLookup resolves a crawl record for the sub-concurrency rule
// (spec.md §4.C). internal/crawltracker implements this.
type CrawlLookup interface {
	GetCrawl(ctx context.Context, crawlID string) (jobs.Crawl, error)
}

// Queue is the tenant waiting-queue gateway.
type Queue struct {
	store   store.Store
	sem     *semaphore.Semaphore
	crawls  CrawlLookup
	limiter *rate.Limiter
}

// New builds a Queue. sem is used to check crawl-lease capacity for
// the sub-concurrency rule; crawls resolves crawl records by id.
func New(st store.Store, sem *semaphore.Semaphore, crawls CrawlLookup) *Queue {
	return &Queue{store: st, sem: sem, crawls: crawls, limiter: rate.NewLimiter(rescanRate, rescanBurst)}
}

// Enqueue adds a job to the tenant's waiting queue with a deadline
// timeoutMs in the future, and registers the tenant in the global
// tenants_with_queues set.
func (q *Queue) Enqueue(ctx context.Context, job jobs.QueuedJob, timeoutMs int64) error {
	job.DeadlineEpochMs = time.Now().UnixMilli() + timeoutMs
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.store.ZAdd(ctx, store.QueueKey(job.TenantID), float64(job.DeadlineEpochMs), string(payload)); err != nil {
		return err
	}
	_, err = q.store.SetAdd(ctx, store.TenantsWithQueuesKey(), job.TenantID)
	return err
}

// PromoteNext scans the tenant's waiting queue for the first candidate
// that qualifies under the crawl sub-concurrency rule and atomically
// removes it. Returns (job, false, nil) if nothing currently qualifies.
func (q *Queue) PromoteNext(ctx context.Context, tenantID string) (jobs.QueuedJob, bool, error) {
	var cursor uint64
	iterations := 0

	for {
		iterations++
		if iterations > promoteMaxIters {
			log.Warn().Str("tenantId", tenantID).Msg("queue: promoteNext bailed after max iterations")
			return jobs.QueuedJob{}, false, nil
		}
		if iterations == promoteWarnIters {
			log.Warn().Str("tenantId", tenantID).Int("iterations", iterations).Msg("queue: promoteNext taking many iterations")
		}

		next, members, err := q.store.ZScan(ctx, store.QueueKey(tenantID), cursor, scanCount)
		if err != nil {
			return jobs.QueuedJob{}, false, err
		}
		if len(members) == 0 && next == 0 {
			return jobs.QueuedJob{}, false, nil
		}

		for _, m := range members {
			var job jobs.QueuedJob
			if err := json.Unmarshal([]byte(m.Member), &job); err != nil {
				log.Warn().Err(err).Msg("queue: skipping corrupt queue entry")
				continue
			}

			qualifies, err := q.qualifies(ctx, job)
			if err != nil {
				return jobs.QueuedJob{}, false, err
			}
			if !qualifies {
				continue
			}

			removed, err := q.store.ZRem(ctx, store.QueueKey(tenantID), m.Member)
			if err != nil {
				return jobs.QueuedJob{}, false, err
			}
			if removed == 0 {
				// another worker won the race; keep scanning
				continue
			}
			return job, true, nil
		}

		cursor = next
		if cursor == 0 {
			return jobs.QueuedJob{}, false, nil
		}

		if err := q.limiter.Wait(ctx); err != nil {
			return jobs.QueuedJob{}, false, err
		}
	}
}

// qualifies applies spec.md §4.C's crawl sub-concurrency rule: a
// candidate with no crawlId always qualifies; one with a crawlId
// qualifies only if the crawl's active lease count is under its
// effective concurrency cap.
func (q *Queue) qualifies(ctx context.Context, job jobs.QueuedJob) (bool, error) {
	if job.CrawlID == "" {
		return true, nil
	}
	crawl, err := q.crawls.GetCrawl(ctx, job.CrawlID)
	if err != nil {
		return false, err
	}

	effectiveCap := crawl.MaxConcurrency
	if crawl.CrawlerOptions.Delay > 0 {
		effectiveCap = 1
	}
	if effectiveCap <= 0 {
		return true, nil // unbounded
	}

	active, err := q.store.ZCard(ctx, store.CrawlSemaphoreKey(job.CrawlID))
	if err != nil {
		return false, err
	}
	return active < effectiveCap, nil
}

// ReadyQueueInserter inserts a promoted job into the active dispatch
// path, preserving its priority. internal/coordinator implements this
// over whatever in-process or distributed ready queue it runs.
type ReadyQueueInserter interface {
	InsertReady(ctx context.Context, job jobs.QueuedJob) (alreadyPresent bool, err error)
}

// OnJobDone implements spec.md §4.C's onJobDone hook: release the
// tenant (and crawl, if any) lease, then attempt up to 10 promotions
// while the tenant has spare capacity.
func (q *Queue) OnJobDone(ctx context.Context, tenantID, holderID, crawlID string, limit int, ready ReadyQueueInserter) {
	q.sem.Release(ctx, tenantID, holderID)
	if crawlID != "" {
		if _, err := q.store.ZRem(ctx, store.CrawlSemaphoreKey(crawlID), holderID); err != nil {
			log.Warn().Err(err).Str("crawlId", crawlID).Msg("queue: crawl lease release failed")
		}
	}

	for i := 0; i < onJobDoneMaxTries; i++ {
		active, err := q.store.ZCard(ctx, store.SemaphoreKey(tenantID))
		if err != nil {
			log.Warn().Err(err).Msg("queue: onJobDone active-count check failed")
			return
		}
		if active >= limit {
			return
		}

		job, ok, err := q.PromoteNext(ctx, tenantID)
		if err != nil {
			log.Warn().Err(err).Msg("queue: onJobDone promoteNext failed")
			return
		}
		if !ok {
			return
		}

		alreadyPresent, err := ready.InsertReady(ctx, job)
		if err != nil {
			log.Warn().Err(err).Str("jobId", job.JobID).Msg("queue: onJobDone insert failed")
			return
		}
		if alreadyPresent {
			log.Warn().Str("jobId", job.JobID).Msg("queue: promoted job already in ready queue")
			continue
		}
	}
}
