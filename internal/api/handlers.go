// Package api implements spec.md §6's HTTP surface: /scrape, /crawl,
// GET /crawl/{id}, /map, and the /debug/semaphore and /debug/queue
// introspection routes. Grounded on the teacher's internal/api/
// handlers.go Handlers struct plus fiber BodyParser/Status(...).JSON(...)
// idiom, generalized from document ingestion to job admission.
package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/client"

	"github.com/Caia-Tech/crawlfleet/internal/coordinator"
	"github.com/Caia-Tech/crawlfleet/internal/mappipeline"
	"github.com/Caia-Tech/crawlfleet/internal/store"
	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
)

// crawlTaskQueue is the Temporal task queue CrawlWorkflow is started
// against and the worker in cmd/server registers its activities under.
const crawlTaskQueue = "crawlfleet-crawls"

// Handlers holds the dependencies every route needs. temporal is nil
// in self-hosted mode, where crawls run through the Coordinator's
// synchronous KickoffCrawl/DrainCrawl methods instead of a workflow.
type Handlers struct {
	coordinator *coordinator.Coordinator
	mappipeline *mappipeline.Pipeline
	store       store.Store
	temporal    client.Client
}

// NewHandlers builds a Handlers.
func NewHandlers(c *coordinator.Coordinator, mp *mappipeline.Pipeline, st store.Store, temporal client.Client) *Handlers {
	return &Handlers{coordinator: c, mappipeline: mp, store: st, temporal: temporal}
}

// Health reports service liveness.
func (h *Handlers) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"service":   "crawlfleet",
		"timestamp": time.Now().UTC(),
	})
}

// ScrapeRequest is POST /scrape's body (spec.md §6).
type ScrapeRequest struct {
	TenantID  string         `json:"tenantId" validate:"required"`
	URL       string         `json:"url" validate:"required,url"`
	Options   map[string]any `json:"options,omitempty"`
	TimeoutMs int64          `json:"timeoutMs,omitempty"`
}

// Scrape runs a single job synchronously and returns its result or a
// typed error (spec.md §4.I points 1-5, §7's taxonomy).
func (h *Handlers) Scrape(c *fiber.Ctx) error {
	var req ScrapeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body", "details": err.Error()})
	}
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.URL) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tenantId and url are required"})
	}
	timeoutMs := req.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 60000
	}

	result, err := h.coordinator.Scrape(c.Context(), jobs.ScrapeJobDescriptor{
		TenantID:  req.TenantID,
		URL:       req.URL,
		Options:   req.Options,
		TimeoutMs: timeoutMs,
	})
	if err != nil {
		return writeJobError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": result})
}

// CrawlRequest is POST /crawl's body (spec.md §6).
type CrawlRequest struct {
	TenantID       string             `json:"tenantId" validate:"required"`
	URL            string             `json:"url" validate:"required,url"`
	CrawlerOptions jobs.CrawlerOptions `json:"crawlerOptions,omitempty"`
	ScrapeOptions  map[string]any     `json:"scrapeOptions,omitempty"`
	MaxConcurrency int                `json:"maxConcurrency,omitempty"`
}

// CrawlResponse is POST /crawl's response.
type CrawlResponse struct {
	CrawlID string `json:"crawlId"`
}

// Crawl starts a crawl (spec.md §4.I point 6 on): kicked off through a
// Temporal workflow when a Temporal client is wired, falling back to a
// direct synchronous kickoff plus a backgrounded drain loop for
// self-hosted deployments with no Temporal worker running.
func (h *Handlers) Crawl(c *fiber.Ctx) error {
	var req CrawlRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body", "details": err.Error()})
	}
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.URL) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tenantId and url are required"})
	}

	crawl := jobs.Crawl{
		CrawlID:        jobs.NewJobID(),
		TenantID:       req.TenantID,
		OriginURL:      req.URL,
		CrawlerOptions: req.CrawlerOptions,
		ScrapeOptions:  req.ScrapeOptions,
		MaxConcurrency: req.MaxConcurrency,
		CreatedAtEpochMs: time.Now().UnixMilli(),
	}

	if h.temporal != nil {
		_, err := h.temporal.ExecuteWorkflow(c.Context(), client.StartWorkflowOptions{
			ID:        "crawl-" + crawl.CrawlID,
			TaskQueue: crawlTaskQueue,
		}, coordinator.CrawlWorkflow, crawl)
		if err != nil {
			log.Warn().Err(err).Str("crawlId", crawl.CrawlID).Msg("api: failed to start crawl workflow")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to start crawl"})
		}
		return c.Status(fiber.StatusAccepted).JSON(CrawlResponse{CrawlID: crawl.CrawlID})
	}

	if err := h.coordinator.KickoffCrawl(c.Context(), crawl); err != nil {
		return writeJobError(c, err)
	}
	go h.drainUntilFinished(crawl.CrawlID)
	return c.Status(fiber.StatusAccepted).JSON(CrawlResponse{CrawlID: crawl.CrawlID})
}

// drainUntilFinished repeatedly drains a self-hosted crawl in the
// background until it reports finished, standing in for the Temporal
// worker's activity loop when no Temporal client is configured.
func (h *Handlers) drainUntilFinished(crawlID string) {
	ctx := context.Background()
	for {
		result, err := h.coordinator.DrainCrawl(ctx, crawlID)
		if err != nil {
			log.Warn().Err(err).Str("crawlId", crawlID).Msg("api: background drain failed")
			return
		}
		if result.Finished {
			return
		}
		if result.Dispatched == 0 {
			time.Sleep(2 * time.Second)
		}
	}
}

// GetCrawl implements GET /crawl/{id} (spec.md §6, §4.D status).
func (h *Handlers) GetCrawl(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "crawl id is required"})
	}
	status, err := h.coordinator.Status(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "crawl not found", "crawlId": id})
	}
	return c.JSON(status)
}

// MapRequest is POST /map's body (spec.md §4.H).
type MapRequest struct {
	URL                string `json:"url" validate:"required,url"`
	Search             string `json:"search,omitempty"`
	Limit              int    `json:"limit,omitempty"`
	Sitemap            string `json:"sitemap,omitempty"`
	IncludeSubdomains  bool   `json:"includeSubdomains,omitempty"`
	AllowExternalLinks bool   `json:"allowExternalLinks,omitempty"`
	FilterByPath       bool   `json:"filterByPath,omitempty"`
	UseIndex           bool   `json:"useIndex,omitempty"`
	IgnoreRobotsTxt    bool   `json:"ignoreRobotsTxt,omitempty"`
}

// Map implements POST /map (spec.md §4.H's getMapResults).
func (h *Handlers) Map(c *fiber.Ctx) error {
	var req MapRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body", "details": err.Error()})
	}
	if strings.TrimSpace(req.URL) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url is required"})
	}
	if h.mappipeline == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "map pipeline not configured"})
	}

	resp, err := h.mappipeline.GetMapResults(c.Context(), mappipeline.Request{
		URL:                req.URL,
		Search:             req.Search,
		Limit:              req.Limit,
		Sitemap:            req.Sitemap,
		IncludeSubdomains:  req.IncludeSubdomains,
		AllowExternalLinks: req.AllowExternalLinks,
		FilterByPath:       req.FilterByPath,
		UseIndex:           req.UseIndex,
		IgnoreRobotsTxt:    req.IgnoreRobotsTxt,
	}, jobs.NewJobID())
	if err != nil {
		return writeJobError(c, err)
	}
	return c.JSON(resp)
}

// writeJobError maps a pkg/jobs transportable error onto its spec.md
// §6 response shape, which varies by status rather than being uniform:
// a 200/408 "well-formed request, not fetchable/timed out" result still
// carries `success:false` plus the wire code; a 403 robots denial is
// just `{error}`; everything else (500-class) is `{code,error}`.
func writeJobError(c *fiber.Ctx, err error) error {
	jerr := jobs.AsError(err)
	switch jerr.Status {
	case fiber.StatusOK, fiber.StatusRequestTimeout:
		return c.Status(jerr.Status).JSON(fiber.Map{"success": false, "code": jerr.Code})
	case fiber.StatusForbidden:
		return c.Status(jerr.Status).JSON(fiber.Map{"error": jerr.Message})
	default:
		return c.Status(jerr.Status).JSON(fiber.Map{"code": jerr.Code, "error": jerr.Message})
	}
}
