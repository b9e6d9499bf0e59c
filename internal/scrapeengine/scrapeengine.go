// Package scrapeengine provides the default, dev/self-hosted fetch
// engine that internal/robots, internal/sitemap, and
// internal/mappipeline/searchengine's narrow Fetcher interfaces are
// wired against out of the box. Per spec.md §1 the scraping engines
// themselves are a narrow, out-of-scope interface the core calls
// through (coordinator.ScraperDispatcher); this package is the
// reference implementation of that interface, the same role
// internal/mappipeline/searchengine plays for SearchProvider.
//
// Grounded on internal/procurement/scraping/compliance.go's
// fetch-with-user-agent pattern and rate_limiter.go's per-source
// pacing, generalized here to per-host pacing via pkg/ratelimit.
package scrapeengine

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
	"github.com/Caia-Tech/crawlfleet/pkg/ratelimit"
)

const (
	defaultUserAgent = "crawlfleet/1.0 (+https://github.com/Caia-Tech/crawlfleet)"
	maxBodyBytes     = 10 << 20 // 10MiB
)

// Engine is an HTTP-backed fetcher with per-host politeness pacing.
// It satisfies internal/robots.Fetcher, internal/sitemap.Fetcher, and
// internal/mappipeline/searchengine.PageFetcher structurally — all
// three want the same Fetch(ctx, url) (status, body, err) shape.
type Engine struct {
	client    *http.Client
	limiter   *ratelimit.HostLimiter
	userAgent string
}

// Option configures an Engine.
type Option func(*Engine)

// WithUserAgent overrides the default crawlfleet user agent string.
func WithUserAgent(ua string) Option {
	return func(e *Engine) { e.userAgent = ua }
}

// WithHTTPClient overrides the default *http.Client (e.g. to set a
// custom transport or timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// New builds a default scraping Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   ratelimit.NewHostLimiter(),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetCrawlDelay overrides the politeness interval for host, e.g. from
// a robots.txt Crawl-Delay directive resolved by internal/robots.
func (e *Engine) SetCrawlDelay(host string, delay time.Duration) {
	e.limiter.SetInterval(host, delay)
}

// Fetch retrieves rawURL, pacing requests per host and capping
// response bodies at maxBodyBytes. It satisfies every Fetcher
// interface in this module that narrows to this exact signature.
func (e *Engine) Fetch(ctx context.Context, rawURL string) (int, []byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, nil, err
	}

	if err := e.limiter.Wait(ctx, u.Hostname()); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		e.limiter.RecordError(u.Hostname())
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		e.limiter.RecordError(u.Hostname())
		return resp.StatusCode, nil, err
	}

	if resp.StatusCode >= 500 {
		e.limiter.RecordError(u.Hostname())
	} else {
		e.limiter.RecordSuccess(u.Hostname())
	}

	return resp.StatusCode, body, nil
}

// Dispatch is the default coordinator.ScraperDispatcher implementation
// (spec.md §4.I point 4): fetch the job's URL and hand the raw body
// back as an opaque payload. The core never interprets Data's
// contents — spec.md §1 treats scrape results as opaque, keyed by
// job id; extraction/markdown conversion is a separate, out-of-scope
// concern.
func (e *Engine) Dispatch(ctx context.Context, job jobs.ScrapeJobDescriptor) (jobs.ScrapeResult, error) {
	target := job.NormalizedURL
	if target == "" {
		target = job.URL
	}

	status, body, err := e.Fetch(ctx, target)
	if err != nil {
		log.Warn().Err(err).Str("jobId", job.JobID).Str("url", target).Msg("scrapeengine: fetch failed")
		return jobs.ScrapeResult{}, mapFetchError(err)
	}
	if status >= 400 {
		return jobs.ScrapeResult{}, jobs.NewError(jobs.ErrScrapeSiteError, "scrapeengine: site returned an error status")
	}

	return jobs.ScrapeResult{
		JobID:   job.JobID,
		Success: true,
		Data: map[string]any{
			"statusCode": status,
			"bodySize":   len(body),
			"body":       string(body),
		},
	}, nil
}

func mapFetchError(err error) error {
	if urlErr, ok := err.(*url.Error); ok {
		if urlErr.Timeout() {
			return jobs.NewError(jobs.ErrScrapeTimeout, "scrapeengine: request timed out")
		}
	}
	return jobs.NewError(jobs.ErrScrapeSiteError, err.Error())
}
