// Package mappipeline implements the map pipeline (spec.md §4.H):
// fan-out over {sitemap, search, index}, dedup, path/subdomain
// filtering, and cosine re-ranking. The external search and domain
// index are narrow interfaces per spec.md §1's "out of scope,
// referenced only by capability" rule.
package mappipeline

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/crawlfleet/internal/sitemap"
	"github.com/Caia-Tech/crawlfleet/internal/store"
	"github.com/Caia-Tech/crawlfleet/internal/urlnorm"
	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
)

const (
	maxMapLimit    = 5000
	indexFreshness = 14 * 24 * time.Hour
	searchCacheTTL = 48 * time.Hour
)

// SearchProvider queries an external search service (spec.md §1: out
// of scope, narrow interface). internal/mappipeline/searchengine
// provides a goquery-based default implementation.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]jobs.MapResult, error)
}

// IndexProvider queries the domain index at the per-hostname and
// per-path-prefix split levels (spec.md §4.H point 3b).
type IndexProvider interface {
	QueryIndex(ctx context.Context, host, pathPrefix string, freshness time.Duration) ([]jobs.MapResult, error)
}

// RedirectResolver resolves the final URL/hostname a request lands on
// (spec.md §4.H point 1). The production implementation follows HTTP
// redirects through the scraping engine.
type RedirectResolver interface {
	ResolveRedirect(ctx context.Context, origin string) (string, error)
}

// Request is getMapResults' input (spec.md §4.H).
type Request struct {
	URL                string
	Search             string
	Limit              int
	Sitemap            string // "", "only", "include"
	IncludeSubdomains  bool
	AllowExternalLinks bool
	FilterByPath       bool
	UseIndex           bool
	IgnoreRobotsTxt    bool
}

// Response is getMapResults' output.
type Response struct {
	Links       []string         `json:"links"`
	MapResults  []jobs.MapResult `json:"mapResults"`
	JobID       string           `json:"jobId"`
	TimeTakenMs int64            `json:"timeTakenMs"`
	Warning     string           `json:"warning,omitempty"`
}

// RobotsResolver is the narrow robots capability the pipeline needs:
// just enough to decide whether it may crawl the sitemap at all.
type RobotsResolver interface {
	Allowed(ctx context.Context, url string, ignoreRobotsTxt bool) bool
}

// Embedder produces a fixed-dimension embedding for cosine re-ranking
// (spec.md §4.H point 6). internal/mappipeline/rerank.go adapts
// pkg/embedder.Engine to this interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Similarity(a, b []float32) float32
}

// Pipeline implements spec.md §4.H's getMapResults algorithm.
type Pipeline struct {
	store     store.Store
	sitemap   *sitemap.Traverser
	search    SearchProvider
	index     IndexProvider
	redirects RedirectResolver
	robots    RobotsResolver
	embedder  Embedder
}

// New builds a Pipeline. Any narrow-interface collaborator may be nil
// if the deployment doesn't wire it; absent collaborators simply
// contribute nothing to the merged result set.
func New(st store.Store, trav *sitemap.Traverser, search SearchProvider, index IndexProvider, redirects RedirectResolver, robots RobotsResolver, embedder Embedder) *Pipeline {
	return &Pipeline{store: st, sitemap: trav, search: search, index: index, redirects: redirects, robots: robots, embedder: embedder}
}

// GetMapResults runs spec.md §4.H's algorithm end to end.
func (p *Pipeline) GetMapResults(ctx context.Context, req Request, jobID string) (Response, error) {
	start := time.Now()
	limit := req.Limit
	if limit <= 0 || limit > maxMapLimit {
		limit = maxMapLimit
	}

	originURL := req.URL
	if p.redirects != nil {
		if resolved, err := p.redirects.ResolveRedirect(ctx, req.URL); err == nil && resolved != "" {
			originURL = resolved
		}
	}

	u, err := url.Parse(originURL)
	if err != nil {
		return Response{}, jobs.NewError(jobs.ErrBadRequest, "map: invalid url")
	}

	if req.Sitemap == "only" {
		results := p.collectSitemap(ctx, originURL, req)
		if len(results) == 0 {
			return Response{}, jobs.NewError(jobs.ErrScrapeSitemapError, "map: sitemap produced no results")
		}
		return p.finalize(results, req, jobID, start, originURL), nil
	}

	var mu sync.Mutex
	var merged []jobs.MapResult
	var wg sync.WaitGroup
	ranAnySource := false
	sourcesEmpty := struct {
		search, index, sitemapOK bool
	}{true, true, req.Sitemap != "include"}

	if p.search != nil {
		ranAnySource = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := p.searchWithCache(ctx, u.Hostname(), req.Search, limit)
			if err != nil {
				log.Warn().Err(err).Msg("mappipeline: search failed, continuing")
				return
			}
			mu.Lock()
			merged = append(merged, results...)
			sourcesEmpty.search = len(results) == 0
			mu.Unlock()
		}()
	}

	if p.index != nil && req.UseIndex {
		ranAnySource = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := p.index.QueryIndex(ctx, u.Hostname(), u.Path, indexFreshness)
			if err != nil {
				log.Warn().Err(err).Msg("mappipeline: index query failed, continuing")
				return
			}
			mu.Lock()
			merged = append(merged, results...)
			sourcesEmpty.index = len(results) == 0
			mu.Unlock()
		}()
	}

	if req.Sitemap == "include" {
		ranAnySource = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			results := p.collectSitemap(ctx, originURL, req)
			mu.Lock()
			merged = append(merged, results...)
			sourcesEmpty.sitemapOK = len(results) == 0
			mu.Unlock()
		}()
	}

	wg.Wait()

	// req.Sitemap == "only" already returned above, so by this point
	// sourcesEmpty.sitemapOK only tracks the "include" case (or defaults
	// true when sitemap wasn't requested at all) — this just catches
	// "every source that ran came back empty", and only when at least
	// one source ran at all (no configured search/index and no sitemap
	// request is a valid plain map call, not a failure).
	if ranAnySource && sourcesEmpty.search && sourcesEmpty.index && sourcesEmpty.sitemapOK {
		return Response{}, jobs.NewError(jobs.ErrScrapeSitemapError, "map: all sources returned empty")
	}

	return p.finalize(merged, req, jobID, start, originURL), nil
}

func (p *Pipeline) collectSitemap(ctx context.Context, originURL string, req Request) []jobs.MapResult {
	if p.sitemap == nil {
		return nil
	}
	if p.robots != nil && !p.robots.Allowed(ctx, originURL, req.IgnoreRobotsTxt) {
		return nil
	}
	var results []jobs.MapResult
	var mu sync.Mutex
	p.sitemap.TryGetSitemap(ctx, originURL, func(_ context.Context, urls []string) error {
		mu.Lock()
		for _, u := range urls {
			results = append(results, jobs.MapResult{URL: u})
		}
		mu.Unlock()
		return nil
	}, sitemap.Options{IncludeSubdomains: req.IncludeSubdomains})
	return results
}

func (p *Pipeline) searchWithCache(ctx context.Context, host, query string, limit int) ([]jobs.MapResult, error) {
	searchQuery := "site:" + host
	if query != "" {
		searchQuery += " " + query
	}

	cacheKey := store.FireEngineMapKey(searchQuery)
	if cached, ok, err := p.store.Get(ctx, cacheKey); err == nil && ok {
		var results []jobs.MapResult
		if json.Unmarshal([]byte(cached), &results) == nil {
			return results, nil
		}
	}

	results, err := p.search.Search(ctx, searchQuery, limit)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(results); err == nil {
		_ = p.store.Set(ctx, cacheKey, string(payload), searchCacheTTL)
	}
	return results, nil
}

// finalize implements spec.md §4.H points 4-8: dedup, trim, re-rank,
// filter, dedup again.
func (p *Pipeline) finalize(results []jobs.MapResult, req Request, jobID string, start time.Time, originURL string) Response {
	deduped := dedupeByURL(results)

	limit := req.Limit
	if limit <= 0 || limit > maxMapLimit {
		limit = maxMapLimit
	}
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}

	if req.Search != "" && p.embedder != nil {
		deduped = p.rerank(context.Background(), req.Search, deduped)
	}

	filtered := p.filter(deduped, req, originURL)
	filtered = dedupeByURL(filtered)

	links := make([]string, len(filtered))
	for i, r := range filtered {
		links[i] = r.URL
	}

	resp := Response{
		Links:       links,
		MapResults:  filtered,
		JobID:       jobID,
		TimeTakenMs: time.Since(start).Milliseconds(),
	}

	if limit <= 1 && hasSignificantPath(originURL) {
		if base, err := urlnorm.ExtractBaseDomain(originURL); err == nil {
			resp.Warning = "try mapping base domain: " + base
		}
	}

	return resp
}

// dedupeByURL implements spec.md §4.H point 4: on duplicates, the
// entry carrying a title wins.
func dedupeByURL(results []jobs.MapResult) []jobs.MapResult {
	byURL := make(map[string]jobs.MapResult, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		existing, ok := byURL[r.URL]
		if !ok {
			byURL[r.URL] = r
			order = append(order, r.URL)
			continue
		}
		if existing.Title == "" && r.Title != "" {
			byURL[r.URL] = r
		}
	}
	out := make([]jobs.MapResult, 0, len(order))
	for _, u := range order {
		out = append(out, byURL[u])
	}
	return out
}

func (p *Pipeline) filter(results []jobs.MapResult, req Request, originURL string) []jobs.MapResult {
	var out []jobs.MapResult
	significantPath := hasSignificantPath(originURL)
	for _, r := range results {
		if !urlnorm.SameDomain(r.URL, originURL) && !req.AllowExternalLinks {
			continue
		}
		if !req.IncludeSubdomains && !urlnorm.SameSubdomain(r.URL, originURL) && !req.AllowExternalLinks {
			continue
		}
		if req.FilterByPath && !req.AllowExternalLinks && significantPath && !pathPrefixMatch(r.URL, originURL) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func hasSignificantPath(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Path != "" && u.Path != "/"
}

func pathPrefixMatch(candidate, origin string) bool {
	cu, err1 := url.Parse(candidate)
	ou, err2 := url.Parse(origin)
	if err1 != nil || err2 != nil {
		return false
	}
	return strings.HasPrefix(cu.Path, ou.Path)
}
