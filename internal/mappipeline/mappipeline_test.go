package mappipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/crawlfleet/internal/store/memstore"
	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
)

type fakeSearchProvider struct {
	results []jobs.MapResult
}

func (f *fakeSearchProvider) Search(_ context.Context, _ string, _ int) ([]jobs.MapResult, error) {
	return f.results, nil
}

// bagOfWordsEmbedder is a minimal deterministic embedder for tests:
// one dimension per known token, counting occurrences.
type bagOfWordsEmbedder struct {
	vocab []string
}

func (e *bagOfWordsEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(e.vocab))
	words := strings.Fields(strings.ToLower(text))
	for _, w := range words {
		for i, v := range e.vocab {
			if w == v {
				vec[i]++
			}
		}
	}
	return vec, nil
}

func (e *bagOfWordsEmbedder) Similarity(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrt32(normA) * sqrt32(normB))
}

func sqrt32(f float32) float32 {
	x := float64(f)
	for i := 0; i < 40 && x > 0; i++ {
		x = 0.5 * (x + float64(f)/x)
	}
	return float32(x)
}

// TestScenario5MapCosineRerank is spec.md §8 scenario 5: with a
// search query, the most relevant URL is ranked first.
func TestScenario5MapCosineRerank(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	candidates := []jobs.MapResult{
		{URL: "https://docs.example.com/guide", Title: "Guide", Description: "getting started guide"},
		{URL: "https://docs.example.com/api", Title: "API", Description: "api reference documentation"},
		{URL: "https://docs.example.com/blog", Title: "Blog", Description: "latest blog posts"},
	}
	search := &fakeSearchProvider{results: candidates}
	vocab := []string{"api", "reference", "guide", "blog", "documentation", "getting", "started", "latest", "posts", "docs.example.com/guide", "docs.example.com/api", "docs.example.com/blog"}
	embedder := &bagOfWordsEmbedder{vocab: vocab}

	p := New(st, nil, search, nil, nil, nil, embedder)

	resp, err := p.GetMapResults(ctx, Request{
		URL:    "https://docs.example.com",
		Search: "api reference",
		Limit:  10,
	}, "job1")
	require.NoError(t, err)
	require.NotEmpty(t, resp.MapResults)
	assert.Equal(t, "https://docs.example.com/api", resp.MapResults[0].URL)
}

func TestDedupeByURLKeepsTitled(t *testing.T) {
	results := []jobs.MapResult{
		{URL: "https://x.com/a"},
		{URL: "https://x.com/a", Title: "A page"},
	}
	out := dedupeByURL(results)
	require.Len(t, out, 1)
	assert.Equal(t, "A page", out[0].Title)
}
