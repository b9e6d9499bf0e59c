// Package jobs holds the entity structs of the job admission and
// lifecycle engine's data model (spec.md §3): scrape job descriptors,
// active leases, queued jobs, crawl records, and map results.
package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewJobID mints a time-ordered job id. The teacher only ever called
// uuid.New() (v4); v7 keeps ids sortable by creation time, which the
// ordered-done list and queue pagination both benefit from.
func NewJobID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ScrapeJobDescriptor is immutable once submitted (spec.md §3).
type ScrapeJobDescriptor struct {
	JobID         string         `json:"jobId"`
	TenantID      string         `json:"tenantId"`
	URL           string         `json:"url"`
	NormalizedURL string         `json:"normalizedUrl"`
	Priority      int            `json:"priority"` // smaller = earlier
	CreatedAt     time.Time      `json:"createdAt"`
	Options       map[string]any `json:"options,omitempty"`
	CrawlID       string         `json:"crawlId,omitempty"`
	TimeoutMs     int64          `json:"timeoutMs"`
}

// Validate checks the required fields of a scrape job descriptor.
func (j *ScrapeJobDescriptor) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("jobs: jobId cannot be empty")
	}
	if j.TenantID == "" {
		return fmt.Errorf("jobs: tenantId cannot be empty")
	}
	if j.URL == "" {
		return fmt.Errorf("jobs: url cannot be empty")
	}
	if j.TimeoutMs <= 0 {
		return fmt.Errorf("jobs: timeoutMs must be positive")
	}
	return nil
}

// ActiveLease is a time-bounded grant to occupy one concurrency slot
// (spec.md §3). The semaphore package is the only owner of this type's
// lifecycle; other packages only read it for introspection.
type ActiveLease struct {
	TenantID        string `json:"tenantId"`
	HolderID        string `json:"holderId"`
	ExpiresAtEpochMs int64  `json:"expiresAtEpochMs"`
}

// QueuedJob is a job that failed admission and waits in a per-tenant
// ordered set keyed by DeadlineEpochMs (spec.md §3).
type QueuedJob struct {
	JobID           string         `json:"jobId"`
	TenantID        string         `json:"tenantId"`
	CrawlID         string         `json:"crawlId,omitempty"`
	Priority        int            `json:"priority"`
	Payload         map[string]any `json:"payload,omitempty"`
	DeadlineEpochMs int64          `json:"deadlineEpochMs"`
	Listenable      bool           `json:"listenable"`
}

// CrawlerOptions configures a crawl's discovery behavior.
type CrawlerOptions struct {
	Limit                  int     `json:"limit"`
	Delay                  float64 `json:"delay,omitempty"` // seconds, per-URL politeness delay
	DeduplicateSimilarURLs bool    `json:"deduplicateSimilarURLs"`
	IncludeSubdomains      bool    `json:"includeSubdomains"`
	IgnoreRobotsTxt        bool    `json:"ignoreRobotsTxt"`
	IgnoreQueryParameters  bool    `json:"ignoreQueryParameters"`
}

// Crawl is the coordination record for one crawl group (spec.md §3).
// Created at kickoff, sealed once kickoffFinished and all child jobs
// have reported done. Owned by internal/coordinator but mutated by any
// worker reporting job completion.
type Crawl struct {
	CrawlID           string         `json:"crawlId"`
	TenantID          string         `json:"tenantId"`
	OriginURL         string         `json:"originUrl"`
	CrawlerOptions    CrawlerOptions `json:"crawlerOptions"`
	ScrapeOptions     map[string]any `json:"scrapeOptions,omitempty"`
	CreatedAtEpochMs  int64          `json:"createdAtEpochMs"`
	Cancelled         bool           `json:"cancelled"`
	RobotsTxt         string         `json:"robotsTxt,omitempty"`
	MaxConcurrency    int            `json:"maxConcurrency,omitempty"` // 0 == unbounded
	ZeroDataRetention bool           `json:"zeroDataRetention"`
}

// CrawlStatus is the aggregated view returned by crawltracker.Status.
type CrawlStatus struct {
	Status       string   `json:"status"` // "scraping" | "cancelled" | "completed"
	Completed    int      `json:"completed"`
	Total        int      `json:"total"`
	CreditsUsed  int      `json:"creditsUsed"`
	Warning      string   `json:"warning,omitempty"`
	RobotsBlocked []string `json:"robotsBlocked,omitempty"`
}

const (
	CrawlStateScraping  = "scraping"
	CrawlStateCancelled = "cancelled"
	CrawlStateCompleted = "completed"
)

// MapResult is one entry in a getMapResults response (spec.md §3),
// deduplicated by URL with titled entries winning collisions.
type MapResult struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// ScrapeResult is the opaque payload a scrape engine returns. The core
// never inspects its body — spec.md §1 treats scrape results as
// opaque payloads keyed by job id.
type ScrapeResult struct {
	JobID   string         `json:"jobId"`
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
}
