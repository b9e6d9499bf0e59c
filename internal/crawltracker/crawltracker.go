// Package crawltracker implements the crawl group bookkeeping
// component (spec.md §4.D): visited-URL dedup, job/jobs_done
// tracking, kickoff/seal lifecycle, and status rollup. LockURL (on a
// newly visited URL), MarkDone and Seal publish a lifecycle event over
// the coordination store's pub/sub; the other mutating operations
// publish nothing. This is a pattern adapted from the teacher's
// internal/pipeline/eventbus.go publish/subscribe shape (there:
// document lifecycle events for downstream consumers; here: crawl
// lifecycle events so a GET /crawl/{id} long-poll can observe
// progress without re-reading state).
package crawltracker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/crawlfleet/internal/store"
	"github.com/Caia-Tech/crawlfleet/internal/urlnorm"
	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
)

const defaultTTL = 24 * time.Hour

// Event names published over store.CrawlEventsChannel.
const (
	EventVisited = "crawl.visited"
	EventJobDone = "crawl.jobDone"
	EventSealed  = "crawl.sealed"
)

// Event is the payload published by LockURL, MarkDone and Seal.
type Event struct {
	Name    string `json:"name"`
	CrawlID string `json:"crawlId"`
	JobID   string `json:"jobId,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Tracker is the crawl group tracker.
type Tracker struct {
	store store.Store
	ttl   time.Duration
}

// New builds a Tracker.
func New(st store.Store) *Tracker {
	return &Tracker{store: st, ttl: defaultTTL}
}

func (t *Tracker) publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := t.store.PubSub().Publish(ctx, store.CrawlEventsChannel(ev.CrawlID), string(payload)); err != nil {
		log.Debug().Err(err).Str("crawlId", ev.CrawlID).Msg("crawltracker: event publish failed")
	}
}

// Init creates the crawl record at kickoff and registers it under its
// tenant's active-crawls set.
func (t *Tracker) Init(ctx context.Context, crawl jobs.Crawl) error {
	payload, err := json.Marshal(crawl)
	if err != nil {
		return err
	}
	if err := t.store.Set(ctx, store.CrawlKey(crawl.CrawlID), string(payload), t.ttl); err != nil {
		return err
	}
	_, err = t.store.SetAdd(ctx, store.CrawlsByTenantKey(crawl.TenantID), crawl.CrawlID)
	return err
}

// GetCrawl loads and refreshes the TTL of a crawl record.
func (t *Tracker) GetCrawl(ctx context.Context, crawlID string) (jobs.Crawl, error) {
	raw, ok, err := t.store.Get(ctx, store.CrawlKey(crawlID))
	if err != nil {
		return jobs.Crawl{}, err
	}
	if !ok {
		return jobs.Crawl{}, ErrCrawlNotFound
	}
	var crawl jobs.Crawl
	if err := json.Unmarshal([]byte(raw), &crawl); err != nil {
		return jobs.Crawl{}, err
	}
	_ = t.store.Expire(ctx, store.CrawlKey(crawlID), t.ttl)
	return crawl, nil
}

// LockURL implements spec.md §4.D lockURL: normalize, optionally add
// every permutation, accept iff new (and under the visited_unique
// limit).
func (t *Tracker) LockURL(ctx context.Context, crawl jobs.Crawl, rawURL string) (bool, error) {
	normalized, err := urlnorm.Normalize(rawURL, urlnorm.Options{IgnoreQueryParameters: crawl.CrawlerOptions.IgnoreQueryParameters})
	if err != nil {
		return false, err
	}

	uniqueCard, err := t.store.SetCard(ctx, store.CrawlVisitedUniqueKey(crawl.CrawlID))
	if err != nil {
		return false, err
	}
	if crawl.CrawlerOptions.Limit > 0 && uniqueCard >= crawl.CrawlerOptions.Limit {
		return false, nil
	}

	visitedKey := store.CrawlVisitedKey(crawl.CrawlID)
	accepted := false

	if crawl.CrawlerOptions.DeduplicateSimilarURLs {
		perms, err := urlnorm.Permutations(normalized)
		if err != nil {
			return false, err
		}
		allNew := true
		for _, p := range perms {
			contains, err := t.store.SetContains(ctx, visitedKey, p)
			if err != nil {
				return false, err
			}
			if contains {
				allNew = false
				break
			}
		}
		if !allNew {
			return false, nil
		}
		if _, err := t.store.SetAdd(ctx, visitedKey, perms...); err != nil {
			return false, err
		}
		accepted = true
	} else {
		added, err := t.store.SetAdd(ctx, visitedKey, normalized)
		if err != nil {
			return false, err
		}
		accepted = added > 0
	}

	if !accepted {
		return false, nil
	}

	if _, err := t.store.SetAdd(ctx, store.CrawlVisitedUniqueKey(crawl.CrawlID), normalized); err != nil {
		return false, err
	}
	_ = t.store.Expire(ctx, visitedKey, t.ttl)
	_ = t.store.Expire(ctx, store.CrawlVisitedUniqueKey(crawl.CrawlID), t.ttl)

	t.publish(ctx, Event{Name: EventVisited, CrawlID: crawl.CrawlID, URL: normalized})
	return true, nil
}

// AddJob registers a child job under the crawl.
func (t *Tracker) AddJob(ctx context.Context, crawlID, jobID string) error {
	_, err := t.store.SetAdd(ctx, store.CrawlJobsKey(crawlID), jobID)
	return err
}

// AddJobsBatch registers multiple child jobs at once.
func (t *Tracker) AddJobsBatch(ctx context.Context, crawlID string, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	_, err := t.store.SetAdd(ctx, store.CrawlJobsKey(crawlID), jobIDs...)
	return err
}

// MarkKickoffFinished records that the initial fan-out completed.
func (t *Tracker) MarkKickoffFinished(ctx context.Context, crawlID string) error {
	return t.store.Set(ctx, store.CrawlKickoffFinishKey(crawlID), "yes", t.ttl)
}

// MarkDone implements spec.md §4.D markDone: add to jobs_done; append
// to jobs_done_ordered on success, else evict any stale ordered entry.
// Ignored (logged) if the crawl has already been sealed.
func (t *Tracker) MarkDone(ctx context.Context, crawlID, jobID string, success bool) error {
	sealed, err := t.sealed(ctx, crawlID)
	if err != nil {
		return err
	}
	if sealed {
		log.Warn().Str("crawlId", crawlID).Str("jobId", jobID).Msg("crawltracker: markDone after seal ignored")
		return nil
	}

	if _, err := t.store.SetAdd(ctx, store.CrawlJobsDoneKey(crawlID), jobID); err != nil {
		return err
	}
	if success {
		if err := t.store.ListPush(ctx, store.CrawlJobsDoneOrderedKey(crawlID), jobID); err != nil {
			return err
		}
	} else {
		if _, err := t.store.ListRem(ctx, store.CrawlJobsDoneOrderedKey(crawlID), jobID); err != nil {
			return err
		}
	}

	for _, k := range []string{
		store.CrawlKey(crawlID), store.CrawlJobsKey(crawlID), store.CrawlJobsDoneKey(crawlID),
		store.CrawlJobsDoneOrderedKey(crawlID),
	} {
		_ = t.store.Expire(ctx, k, t.ttl)
	}

	t.publish(ctx, Event{Name: EventJobDone, CrawlID: crawlID, JobID: jobID})
	return nil
}

// RecordRobotsBlocked records a URL denied by robots.txt, surfaced as
// a client-visible warning on the status endpoint.
func (t *Tracker) RecordRobotsBlocked(ctx context.Context, crawlID, url string) error {
	_, err := t.store.SetAdd(ctx, store.CrawlRobotsBlockedKey(crawlID), url)
	return err
}

// GetOrderedDone returns a page of the ordered-done list.
func (t *Tracker) GetOrderedDone(ctx context.Context, crawlID string, start, stop int) ([]string, error) {
	return t.store.ListRange(ctx, store.CrawlJobsDoneOrderedKey(crawlID), start, stop)
}

// IsFinished implements spec.md §4.D isFinished: jobs_done == jobs and
// kickoff:finish is present.
func (t *Tracker) IsFinished(ctx context.Context, crawlID string) (bool, error) {
	_, kickoffDone, err := t.store.Get(ctx, store.CrawlKickoffFinishKey(crawlID))
	if err != nil {
		return false, err
	}
	if !kickoffDone {
		return false, nil
	}
	jobsCard, err := t.store.SetCard(ctx, store.CrawlJobsKey(crawlID))
	if err != nil {
		return false, err
	}
	doneCard, err := t.store.SetCard(ctx, store.CrawlJobsDoneKey(crawlID))
	if err != nil {
		return false, err
	}
	return jobsCard == doneCard, nil
}

func (t *Tracker) sealed(ctx context.Context, crawlID string) (bool, error) {
	_, ok, err := t.store.Get(ctx, store.CrawlFinishKey(crawlID))
	return ok, err
}

// Seal implements spec.md §4.D seal: irreversible completion. Removes
// the crawl from its tenant's active set and deletes the visited sets
// to save memory (jobs/jobs_done/robots_blocked survive for the
// status endpoint).
func (t *Tracker) Seal(ctx context.Context, crawlID, tenantID string) error {
	if err := t.store.Set(ctx, store.CrawlFinishKey(crawlID), "yes", t.ttl); err != nil {
		return err
	}
	if _, err := t.store.SetRem(ctx, store.CrawlsByTenantKey(tenantID), crawlID); err != nil {
		return err
	}
	_ = t.store.Del(ctx, store.CrawlVisitedKey(crawlID))
	_ = t.store.Del(ctx, store.CrawlVisitedUniqueKey(crawlID))

	t.publish(ctx, Event{Name: EventSealed, CrawlID: crawlID})
	return nil
}

// Status implements spec.md §4.D status: aggregate completed/active/
// queued/backlog/cancelled from the crawl's jobs and jobs_done sets,
// ordered-done list, robots-blocked set and lease set, the tenant
// queue, and IsFinished.
func (t *Tracker) Status(ctx context.Context, crawl jobs.Crawl) (jobs.CrawlStatus, error) {
	total, err := t.store.SetCard(ctx, store.CrawlJobsKey(crawl.CrawlID))
	if err != nil {
		return jobs.CrawlStatus{}, err
	}
	doneIDs, err := t.store.SetMembers(ctx, store.CrawlJobsDoneKey(crawl.CrawlID))
	if err != nil {
		return jobs.CrawlStatus{}, err
	}
	orderedDone, err := t.store.ListLen(ctx, store.CrawlJobsDoneOrderedKey(crawl.CrawlID))
	if err != nil {
		return jobs.CrawlStatus{}, err
	}
	robotsBlocked, err := t.store.SetMembers(ctx, store.CrawlRobotsBlockedKey(crawl.CrawlID))
	if err != nil {
		return jobs.CrawlStatus{}, err
	}

	finished, err := t.IsFinished(ctx, crawl.CrawlID)
	if err != nil {
		return jobs.CrawlStatus{}, err
	}

	status := jobs.CrawlStateScraping
	switch {
	case crawl.Cancelled:
		status = jobs.CrawlStateCancelled
	case finished:
		status = jobs.CrawlStateCompleted
	}

	// The §6 wire contract only needs {scraping, cancelled, completed}
	// (scenario 6 asserts the literal string "scraping" for a
	// partially-done crawl), so those three collapse spec.md §4.D's
	// finer {completed, active, queued, backlog, cancelled} rollup into
	// one "scraping" bucket. Log the finer breakdown instead of losing
	// it outright, so an operator watching logs can tell a crawl stuck
	// on admission (large backlog) from one still actively dispatching.
	if status == jobs.CrawlStateScraping {
		active, err := t.store.ZCard(ctx, store.CrawlSemaphoreKey(crawl.CrawlID))
		if err != nil {
			active = 0
		}
		queued, err := t.store.ZCard(ctx, store.QueueKey(crawl.TenantID))
		if err != nil {
			queued = 0
		}
		backlog := total - len(doneIDs) - active
		if backlog < 0 {
			backlog = 0
		}
		log.Debug().
			Str("crawlId", crawl.CrawlID).
			Int("active", active).
			Int("queued", queued).
			Int("backlog", backlog).
			Msg("crawltracker: status rollup")
	}

	return jobs.CrawlStatus{
		Status:        status,
		Completed:     len(doneIDs),
		Total:         total,
		CreditsUsed:   orderedDone,
		RobotsBlocked: robotsBlocked,
	}, nil
}

// ErrCrawlNotFound is returned by GetCrawl for an unknown or expired
// crawl id (spec.md §6: "404 Job not found" / "404 Job expired").
var ErrCrawlNotFound = crawlNotFoundErr{}

type crawlNotFoundErr struct{}

func (crawlNotFoundErr) Error() string { return "crawltracker: crawl not found" }
