package sitemap

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	bodies map[string][]byte
	calls  int
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) (int, []byte, error) {
	f.calls++
	body, ok := f.bodies[url]
	if !ok {
		return http.StatusNotFound, nil, nil
	}
	return http.StatusOK, body, nil
}

// TestScenario4SitemapCycle is spec.md §8 scenario 4: a root sitemap
// that references itself must visit exactly one sitemap and return 0
// new URLs.
func TestScenario4SitemapCycle(t *testing.T) {
	ctx := context.Background()
	selfReferencing := []byte(`<?xml version="1.0"?><sitemapindex><sitemap><loc>https://example.com/sitemap.xml</loc></sitemap></sitemapindex>`)
	fetcher := &scriptedFetcher{bodies: map[string][]byte{
		"https://example.com/sitemap.xml": selfReferencing,
	}}
	tr := New(fetcher)

	var collected []string
	count := tr.TryGetSitemap(ctx, "https://example.com", func(_ context.Context, urls []string) error {
		collected = append(collected, urls...)
		return nil
	}, Options{})

	assert.Equal(t, 0, count)
	assert.Empty(t, collected)
	assert.Equal(t, 1, fetcher.calls)
}

func TestTryGetSitemapCollectsURLs(t *testing.T) {
	ctx := context.Background()
	urlset := []byte(`<?xml version="1.0"?><urlset><url><loc>https://example.com/a</loc></url><url><loc>https://example.com/b</loc></url></urlset>`)
	fetcher := &scriptedFetcher{bodies: map[string][]byte{
		"https://example.com/sitemap.xml": urlset,
	}}
	tr := New(fetcher)

	var collected []string
	count := tr.TryGetSitemap(ctx, "https://example.com", func(_ context.Context, urls []string) error {
		collected = append(collected, urls...)
		return nil
	}, Options{})

	require.Equal(t, 2, count)
	assert.ElementsMatch(t, []string{"https://example.com/a", "https://example.com/b"}, collected)
}

// TestWideIndexFanOutDoesNotDeadlock guards against a hold-and-wait
// deadlock: a sitemap index with >= maxFanOut index-type children, each
// of which itself recurses into a grandchild, used to wedge every fetch
// slot one level down (the level-1 goroutines holding all maxFanOut
// slots while blocked acquiring a slot for their own child). A shared
// fetch semaphore acquired only around the fetch call, not across the
// recursive call, can't deadlock this way; this test fails by timing
// out (not by a wrong count) if that regresses.
func TestWideIndexFanOutDoesNotDeadlock(t *testing.T) {
	ctx := context.Background()
	bodies := map[string][]byte{}

	var rootChildren string
	for i := 0; i < maxFanOut+2; i++ {
		level1 := fmt.Sprintf("https://example.com/level1-%d.xml", i)
		level2 := fmt.Sprintf("https://example.com/level2-%d.xml", i)
		rootChildren += fmt.Sprintf("<sitemap><loc>%s</loc></sitemap>", level1)
		bodies[level1] = []byte(fmt.Sprintf(`<?xml version="1.0"?><sitemapindex><sitemap><loc>%s</loc></sitemap></sitemapindex>`, level2))
		bodies[level2] = []byte(fmt.Sprintf(`<?xml version="1.0"?><urlset><url><loc>https://example.com/page-%d</loc></url></urlset>`, i))
	}
	bodies["https://example.com/sitemap.xml"] = []byte(`<?xml version="1.0"?><sitemapindex>` + rootChildren + `</sitemapindex>`)

	fetcher := &scriptedFetcher{bodies: bodies}
	tr := New(fetcher)

	done := make(chan int, 1)
	go func() {
		count := tr.TryGetSitemap(ctx, "https://example.com", func(_ context.Context, urls []string) error {
			return nil
		}, Options{Budget: 5 * time.Second})
		done <- count
	}()

	select {
	case count := <-done:
		assert.Equal(t, maxFanOut+2, count)
	case <-time.After(10 * time.Second):
		t.Fatal("TryGetSitemap deadlocked on a wide index fan-out instead of completing within its budget")
	}
}

func TestTryGetSitemap404IsSilent(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{bodies: map[string][]byte{}}
	tr := New(fetcher)

	count := tr.TryGetSitemap(ctx, "https://example.com", func(_ context.Context, _ []string) error {
		return nil
	}, Options{})
	assert.Equal(t, 0, count)
}
