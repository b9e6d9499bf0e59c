// Package searchengine provides a default, dev/self-hosted
// SearchProvider implementation that parses a search result page with
// goquery — grounded on the teacher's former ethical/expanded mass
// scraper commands, which used goquery to pull links out of fetched
// HTML. Production deployments are expected to wire a real external
// search API behind the same mappipeline.SearchProvider interface.
package searchengine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
)

// PageFetcher fetches a rendered results page. internal/scrapeengine
// provides the production implementation so fetches go through the
// same engine discipline as everything else (spec.md §4.F: "through
// the scraping engine, not direct HTTP").
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (status int, body []byte, err error)
}

// Engine is a goquery-backed SearchProvider querying a single search
// endpoint template, e.g. "https://html.duckduckgo.com/html/?q=%s".
type Engine struct {
	fetcher      PageFetcher
	endpointTmpl string
}

// New builds a search Engine against the given query endpoint
// template (one %s placeholder for the URL-escaped query).
func New(fetcher PageFetcher, endpointTmpl string) *Engine {
	return &Engine{fetcher: fetcher, endpointTmpl: endpointTmpl}
}

func (e *Engine) Search(ctx context.Context, query string, limit int) ([]jobs.MapResult, error) {
	endpoint := fmt.Sprintf(e.endpointTmpl, url.QueryEscape(query))
	status, body, err := e.fetcher.Fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("searchengine: endpoint returned status %d", status)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	var results []jobs.MapResult
	doc.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(results) >= limit {
			return false
		}
		href, ok := sel.Attr("href")
		if !ok || !strings.HasPrefix(href, "http") {
			return true
		}
		title := strings.TrimSpace(sel.Text())
		results = append(results, jobs.MapResult{URL: href, Title: title})
		return true
	})

	return results, nil
}
