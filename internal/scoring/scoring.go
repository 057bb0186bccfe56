// Package scoring provides the pure ranking functions used by the
// retrieval path: exponential recency decay, the hybrid
// similarity/recency/importance score, cosine similarity, the lexical
// keyword-overlap fallback, and the token-cost estimate used for
// result budgeting. Everything here is side-effect free.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/chirino/recall-service/internal/config"
	"github.com/chirino/recall-service/internal/memtext"
)

// Recency maps an age to a score in [0,1] with exponential half-life
// decay: a zero age scores 1, and the score halves for every halfLife
// elapsed.
func Recency(age time.Duration, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		halfLife = 24 * time.Hour
	}
	if age < 0 {
		age = 0
	}
	decay := math.Exp(-math.Ln2 * age.Hours() / halfLife.Hours())
	return clamp01(decay)
}

// Age returns the freshness age of a memory: the smaller of the time
// since creation and the time since last access, so a memory counts as
// fresh if it was either newly created or newly touched.
func Age(now, createdAt, lastAccessedAt time.Time) time.Duration {
	createdAge := now.Sub(createdAt)
	accessAge := createdAge
	if !lastAccessedAt.IsZero() {
		accessAge = now.Sub(lastAccessedAt)
	}
	if accessAge < createdAge {
		return accessAge
	}
	return createdAge
}

// HybridScore is the result of combining similarity, recency, and
// importance into one ranking score.
type HybridScore struct {
	Final      float64
	Recency    float64
	Similarity float64
}

// Hybrid combines a similarity score, a freshness age, and an importance
// score into one weighted ranking score. Similarity and importance are
// clamped to [0,1] before weighting.
func Hybrid(similarity float64, age time.Duration, importance float64, halfLife time.Duration, w config.ScoringWeights) HybridScore {
	sim := clamp01(similarity)
	rec := Recency(age, halfLife)
	return HybridScore{
		Final:      w.Similarity*sim + w.Recency*rec + w.Importance*clamp01(importance),
		Recency:    rec,
		Similarity: sim,
	}
}

// Cosine returns the cosine similarity of a and b, or 0 when either
// vector is empty, the lengths differ, or either has zero norm.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// KeywordOverlap is the lexical fallback similarity: the fraction of
// normalized, whitespace-tokenized query terms that appear as
// substrings of the normalized memory text. Result in [0,1].
func KeywordOverlap(text, query string) float64 {
	tokens := strings.Fields(strings.ToLower(memtext.Normalize(query)))
	if len(tokens) == 0 {
		return 0
	}
	haystack := strings.ToLower(memtext.Normalize(text))
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// EstimateTokens estimates the token cost of text as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
