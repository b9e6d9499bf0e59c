package robots

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/crawlfleet/internal/store/memstore"
)

type fakeFetcher struct {
	status int
	body   []byte
	err    error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) (int, []byte, error) {
	return f.status, f.body, f.err
}

func TestResolveAllowsAndDisallows(t *testing.T) {
	ctx := context.Background()
	body := []byte("User-agent: *\nDisallow: /private\nAllow: /\nCrawl-delay: 2\nSitemap: https://example.com/sitemap.xml\n")
	r := New(memstore.New(), &fakeFetcher{status: http.StatusOK, body: body})

	eval := r.Resolve(ctx, "https://example.com/public", false)
	assert.True(t, eval.IsAllowed("https://example.com/public", "crawlfleet"))
	assert.False(t, eval.IsAllowed("https://example.com/private/x", "crawlfleet"))
	assert.Equal(t, []string{"https://example.com/sitemap.xml"}, eval.GetSitemaps())
}

func TestResolveAllowAllOnFetchFailure(t *testing.T) {
	ctx := context.Background()
	r := New(memstore.New(), &fakeFetcher{status: http.StatusNotFound})

	eval := r.Resolve(ctx, "https://example.com/anything", false)
	assert.True(t, eval.IsAllowed("https://example.com/anything", "crawlfleet"))
}

func TestResolveIgnoreRobotsOverride(t *testing.T) {
	ctx := context.Background()
	body := []byte("User-agent: *\nDisallow: /\n")
	r := New(memstore.New(), &fakeFetcher{status: http.StatusOK, body: body})

	eval := r.Resolve(ctx, "https://example.com/x", true)
	assert.True(t, eval.IsAllowed("https://example.com/x", "crawlfleet"))
}

func TestResolveUsesCache(t *testing.T) {
	ctx := context.Background()
	calls := 0
	body := []byte("User-agent: *\nAllow: /\n")
	fetcher := &countingFetcher{status: http.StatusOK, body: body, calls: &calls}
	r := New(memstore.New(), fetcher)

	r.Resolve(ctx, "https://example.com/a", false)
	r.Resolve(ctx, "https://example.com/b", false)
	require.Equal(t, 1, calls)
}

type countingFetcher struct {
	status int
	body   []byte
	calls  *int
}

func (f *countingFetcher) Fetch(_ context.Context, _ string) (int, []byte, error) {
	*f.calls++
	return f.status, f.body, nil
}
