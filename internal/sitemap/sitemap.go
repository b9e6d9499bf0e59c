// Package sitemap implements the recursive, size-bounded, cycle-safe
// sitemap traverser (spec.md §4.G). XML parsing uses the standard
// library encoding/xml and gzip decoding uses compress/gzip — no pack
// example carries a sitemap-specific parsing library, so this is a
// justified stdlib use (see DESIGN.md). The concurrent child-sitemap
// fan-out is a worker-bounded sync.WaitGroup, grounded on the
// teacher's internal/procurement/scraping/crawler.go
// DistributedCrawler worker-pool shape.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/crawlfleet/internal/urlnorm"
)

const (
	maxVisitedSitemaps = 100
	defaultBudget      = 120 * time.Second
	maxFanOut          = 8
)

// Fetcher fetches a sitemap body. internal/scrapeengine provides the
// production implementation; tests provide a fake.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (status int, body []byte, err error)
}

// URLHandler is invoked with each batch of content URLs discovered in
// a <urlset> sitemap. Callers apply spec.md §4.D filtering/addition.
type URLHandler func(ctx context.Context, urls []string) error

// Options configures a traversal.
type Options struct {
	Budget            time.Duration // wall-clock budget, default 120s
	IncludeSubdomains bool
}

type urlsetXML struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndexXML struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// Traverser walks a sitemap tree bounded by a visited-sitemap cap.
type Traverser struct {
	fetcher Fetcher
}

// New builds a Traverser.
func New(fetcher Fetcher) *Traverser {
	return &Traverser{fetcher: fetcher}
}

type traversalState struct {
	mu      sync.Mutex
	visited map[string]struct{}
	count   int
	sem     chan struct{}
	handler URLHandler
	deadline time.Time
}

// TryGetSitemap implements spec.md §4.G's tryGetSitemap: recursive
// traversal bounded by a 100-entry visited-sitemap cap, returning a
// partial count (never an error) on timeout or 404.
func (t *Traverser) TryGetSitemap(ctx context.Context, originURL string, handler URLHandler, opts Options) int {
	budget := opts.Budget
	if budget <= 0 {
		budget = defaultBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	state := &traversalState{
		visited:  make(map[string]struct{}),
		sem:      make(chan struct{}, maxFanOut),
		handler:  handler,
		deadline: time.Now().Add(budget),
	}

	seedURLs := []string{strings.TrimSuffix(originURL, "/") + "/sitemap.xml"}
	if base, err := urlnorm.ExtractBaseDomain(originURL); err == nil {
		if u, err := url.Parse(originURL); err == nil && opts.IncludeSubdomains && u.Hostname() != base {
			seedURLs = append(seedURLs, "https://"+base+"/sitemap.xml")
		}
	}

	var wg sync.WaitGroup
	for _, seed := range seedURLs {
		wg.Add(1)
		go t.walk(ctx, seed, state, &wg)
	}
	wg.Wait()

	return state.count
}

func (t *Traverser) walk(ctx context.Context, sitemapURL string, state *traversalState, wg *sync.WaitGroup) {
	defer wg.Done()

	if ctx.Err() != nil {
		log.Warn().Str("sitemap", sitemapURL).Msg("sitemap: traversal budget exceeded, returning partial count")
		return
	}

	state.mu.Lock()
	if _, seen := state.visited[sitemapURL]; seen || len(state.visited) >= maxVisitedSitemaps {
		state.mu.Unlock()
		return
	}
	state.visited[sitemapURL] = struct{}{}
	state.mu.Unlock()

	select {
	case state.sem <- struct{}{}:
	case <-ctx.Done():
		log.Warn().Str("sitemap", sitemapURL).Msg("sitemap: traversal budget exceeded waiting for a fetch slot")
		return
	}
	status, body, err := t.fetcher.Fetch(ctx, sitemapURL)
	<-state.sem
	if err != nil {
		return
	}
	if status == http.StatusNotFound || status >= 300 {
		return // silent per spec.md §4.G point: "On 404/non-2xx, return 0 silently"
	}

	if strings.HasSuffix(sitemapURL, ".gz") {
		body, err = decodeGzip(body)
		if err != nil {
			log.Warn().Err(err).Str("sitemap", sitemapURL).Msg("sitemap: gzip decode failed")
			return
		}
	}

	var index sitemapIndexXML
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var children []string
		for _, s := range index.Sitemaps {
			children = append(children, s.Loc)
		}
		t.recurse(ctx, children, state)
		return
	}

	var urlset urlsetXML
	if err := xml.Unmarshal(body, &urlset); err != nil {
		return
	}
	urls := make([]string, 0, len(urlset.URLs))
	for _, u := range urlset.URLs {
		if u.Loc != "" {
			urls = append(urls, u.Loc)
		}
	}
	if len(urls) == 0 {
		return
	}

	if err := state.handler(ctx, urls); err != nil {
		log.Warn().Err(err).Str("sitemap", sitemapURL).Msg("sitemap: url handler failed")
		return
	}
	state.mu.Lock()
	state.count += len(urls)
	state.mu.Unlock()
}

// recurse fans a sitemap index's children out onto goroutines. The
// fetch semaphore is acquired inside walk, around the fetch itself,
// never here — holding a slot across the recursive call would let a
// level-N goroutine block forever waiting for a slot its own
// level-(N+1) children are holding (hold-and-wait), which a cyclic or
// wide sitemap-index graph can turn into a permanent deadlock no
// context deadline can unstick, since the deadline is only checked
// before a slot acquire, not while every slot is wedged one level down.
func (t *Traverser) recurse(ctx context.Context, children []string, state *traversalState) {
	var wg sync.WaitGroup
	for _, child := range children {
		wg.Add(1)
		go t.walk(ctx, child, state, &wg)
	}
	wg.Wait()
}

func decodeGzip(body []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
