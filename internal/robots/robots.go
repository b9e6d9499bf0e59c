// Package robots implements robots.txt policy evaluation (spec.md
// §4.F): isAllowed/getCrawlDelay/getSitemaps, per-host caching, and
// the ignore-robots override. Parsing and evaluation delegate to
// github.com/temoto/robotstxt (an existing *indirect* teacher
// dependency, promoted to direct use) instead of the hand-rolled
// line-by-line parser in
// internal/procurement/scraping/compliance.go's ComplianceEngine. The
// "cache robots data by domain with a TTL" and "assume allowed on
// fetch failure, log at debug" structure survives from that file's
// checkRobotsCompliance, adapted from an in-process map to
// internal/store so the cache is consistent across processes.
package robots

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"

	"github.com/Caia-Tech/crawlfleet/internal/store"
)

const cacheTTL = time.Hour

// Fetcher fetches a URL's body through the scraping engine rather
// than direct HTTP — spec.md §4.F: "the engine handles TLS/stealth."
// internal/scrapeengine provides the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (status int, body []byte, err error)
}

// Evaluator answers robots.txt policy questions for one host.
type Evaluator struct {
	host            string
	data            *robotstxt.RobotsData // nil means "unavailable, allow all"
	ignoreRobotsTxt bool
}

// IsAllowed tests a URL path against both the configured and the
// alternate-casing form of the user agent (spec.md §4.F).
func (e *Evaluator) IsAllowed(rawURL, userAgent string) bool {
	if e.ignoreRobotsTxt || e.data == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, agent := range agentCasings(userAgent) {
		group := e.data.FindGroup(agent)
		if group != nil {
			return group.Test(path)
		}
	}
	return true
}

// GetCrawlDelay returns the crawl-delay directive as a time.Duration,
// or 0 if none was specified.
func (e *Evaluator) GetCrawlDelay(userAgent string) time.Duration {
	if e.data == nil {
		return 0
	}
	for _, agent := range agentCasings(userAgent) {
		group := e.data.FindGroup(agent)
		if group != nil && group.CrawlDelay > 0 {
			return group.CrawlDelay
		}
	}
	return 0
}

// GetSitemaps returns the Sitemap: directives discovered in robots.txt.
func (e *Evaluator) GetSitemaps() []string {
	if e.data == nil {
		return nil
	}
	return e.data.Sitemaps
}

// agentCasings returns the user-agent name plus the common alternate
// brand casing it might be published under, per spec.md §4.F/§6:
// "evaluator recognizes both common brand casings of the user-agent."
func agentCasings(userAgent string) []string {
	if userAgent == "" {
		return []string{"*"}
	}
	lower := strings.ToLower(userAgent)
	title := strings.ToUpper(lower[:1]) + lower[1:]
	if userAgent == lower {
		return []string{userAgent, title}
	}
	return []string{userAgent, lower}
}

// Resolver fetches, parses, and caches robots.txt evaluators per host.
type Resolver struct {
	store   store.Store
	fetcher Fetcher
}

// New builds a Resolver.
func New(st store.Store, fetcher Fetcher) *Resolver {
	return &Resolver{store: st, fetcher: fetcher}
}

// Resolve returns the Evaluator for a URL's host, consulting the
// store-backed cache first. ignoreRobotsTxt short-circuits without a
// fetch, per spec.md §4.F: "either by request or tenant flag, every
// URL is allowed."
func (r *Resolver) Resolve(ctx context.Context, rawURL string, ignoreRobotsTxt bool) *Evaluator {
	if ignoreRobotsTxt {
		return &Evaluator{ignoreRobotsTxt: true}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return &Evaluator{}
	}
	host := strings.ToLower(u.Hostname())

	if cached, ok := r.fromCache(ctx, host); ok {
		return cached
	}

	robotsURL := (&url.URL{Scheme: schemeOrHTTPS(u.Scheme), Host: u.Host, Path: "/robots.txt"}).String()
	status, body, err := r.fetcher.Fetch(ctx, robotsURL)
	if err != nil || status != http.StatusOK {
		log.Debug().Err(err).Str("host", host).Int("status", status).Msg("robots: unavailable, allow all")
		r.storeCache(ctx, host, nil)
		return &Evaluator{host: host}
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		log.Debug().Err(err).Str("host", host).Msg("robots: parse failed, allow all")
		r.storeCache(ctx, host, nil)
		return &Evaluator{host: host}
	}

	r.storeCache(ctx, host, body)
	return &Evaluator{host: host, data: data}
}

// defaultUserAgent is the agent name used wherever a caller doesn't
// need to test a specific one — internal/mappipeline's Allowed check
// only cares whether the sitemap path is reachable at all.
const defaultUserAgent = "crawlfleet"

// Allowed adapts Resolve+IsAllowed to internal/mappipeline's narrower
// RobotsResolver interface (spec.md §4.H point 1's "respects robots.txt
// before following the sitemap").
func (r *Resolver) Allowed(ctx context.Context, rawURL string, ignoreRobotsTxt bool) bool {
	return r.Resolve(ctx, rawURL, ignoreRobotsTxt).IsAllowed(rawURL, defaultUserAgent)
}

func (r *Resolver) fromCache(ctx context.Context, host string) (*Evaluator, bool) {
	raw, ok, err := r.store.Get(ctx, store.RobotsCacheKey(host))
	if err != nil || !ok {
		return nil, false
	}
	if raw == "" {
		return &Evaluator{host: host}, true // cached "unavailable"
	}
	data, err := robotstxt.FromBytes([]byte(raw))
	if err != nil {
		return nil, false
	}
	return &Evaluator{host: host, data: data}, true
}

func (r *Resolver) storeCache(ctx context.Context, host string, body []byte) {
	if err := r.store.Set(ctx, store.RobotsCacheKey(host), string(body), cacheTTL); err != nil {
		log.Debug().Err(err).Str("host", host).Msg("robots: cache write failed")
	}
}

func schemeOrHTTPS(scheme string) string {
	if scheme == "" {
		return "https"
	}
	return scheme
}
