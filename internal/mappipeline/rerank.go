package mappipeline

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
)

// rerank implements spec.md §4.H point 6: re-rank by cosine similarity
// between the lowercased query and each URL's url+title+description.
func (p *Pipeline) rerank(ctx context.Context, query string, results []jobs.MapResult) []jobs.MapResult {
	queryVec, err := p.embedder.Embed(ctx, strings.ToLower(query))
	if err != nil {
		log.Warn().Err(err).Msg("mappipeline: rerank embedding failed, returning unranked")
		return results
	}

	type scored struct {
		result jobs.MapResult
		score  float32
	}
	scoredResults := make([]scored, len(results))
	for i, r := range results {
		text := strings.ToLower(r.URL + " " + r.Title + " " + r.Description)
		vec, err := p.embedder.Embed(ctx, text)
		if err != nil {
			scoredResults[i] = scored{result: r, score: -1}
			continue
		}
		scoredResults[i] = scored{result: r, score: p.embedder.Similarity(queryVec, vec)}
	}

	sort.SliceStable(scoredResults, func(i, j int) bool {
		return scoredResults[i].score > scoredResults[j].score
	})

	out := make([]jobs.MapResult, len(scoredResults))
	for i, s := range scoredResults {
		out[i] = s.result
	}
	return out
}

// EmbedderAdapter adapts pkg/embedder.Engine to the mappipeline.Embedder
// interface, grounded directly on the teacher's
// pkg/embedder/advanced.go AdvancedEmbedder.Generate + CosineSimilarity
// (hashing-based embedding, no external model dependency).
type EmbedderAdapter struct {
	engine EmbedEngine
}

// EmbedEngine is the narrow slice of pkg/embedder.Engine this adapter
// needs, kept here so mappipeline doesn't import pkg/embedder's
// concrete type directly.
type EmbedEngine interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedderAdapter wraps an EmbedEngine (e.g. *embedder.Engine) as
// a mappipeline.Embedder.
func NewEmbedderAdapter(engine EmbedEngine) *EmbedderAdapter {
	return &EmbedderAdapter{engine: engine}
}

func (a *EmbedderAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	return a.engine.Generate(ctx, text)
}

func (a *EmbedderAdapter) Similarity(x, y []float32) float32 {
	return cosineSimilarity(x, y)
}

// cosineSimilarity returns the cosine similarity of a and b, or 0 when
// their lengths differ or either is empty or all zeros.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
