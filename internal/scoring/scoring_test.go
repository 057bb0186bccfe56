package scoring

import (
	"testing"
	"time"

	"github.com/chirino/recall-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const halfLife = 24 * time.Hour

func TestRecency_ZeroAgeIsOne(t *testing.T) {
	assert.Equal(t, 1.0, Recency(0, halfLife))
}

func TestRecency_HalfLifeHalves(t *testing.T) {
	assert.InDelta(t, 0.5, Recency(halfLife, halfLife), 1e-9)
	assert.InDelta(t, 0.25, Recency(2*halfLife, halfLife), 1e-9)
}

func TestRecency_MonotonicallyNonIncreasing(t *testing.T) {
	prev := Recency(0, halfLife)
	for age := time.Hour; age <= 100*time.Hour; age += time.Hour {
		cur := Recency(age, halfLife)
		require.LessOrEqual(t, cur, prev, "age=%s", age)
		prev = cur
	}
}

func TestRecency_NegativeAgeClamped(t *testing.T) {
	assert.Equal(t, 1.0, Recency(-time.Hour, halfLife))
}

func TestAge_UsesFresherOfCreationAndAccess(t *testing.T) {
	now := time.Now()
	created := now.Add(-48 * time.Hour)
	accessed := now.Add(-time.Hour)
	assert.Equal(t, time.Hour, Age(now, created, accessed))

	// Never accessed: falls back to creation age.
	assert.Equal(t, 48*time.Hour, Age(now, created, time.Time{}))
}

func TestCosine(t *testing.T) {
	a := []float32{1, 2, 3}

	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine(a, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine(a, []float32{0, 0, 0}))
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-9)
	assert.InDelta(t, -1.0, Cosine(a, []float32{-1, -2, -3}), 1e-9)

	// Symmetric.
	b := []float32{3, 1, 2}
	assert.InDelta(t, Cosine(a, b), Cosine(b, a), 1e-12)
}

func TestHybrid_WeightsApplied(t *testing.T) {
	w := config.ScoringWeights{Similarity: 0.5, Recency: 0.2, Importance: 0.3}
	got := Hybrid(0.8, 0, 0.5, halfLife, w)
	assert.InDelta(t, 0.5*0.8+0.2*1.0+0.3*0.5, got.Final, 1e-9)
	assert.Equal(t, 0.8, got.Similarity)
	assert.Equal(t, 1.0, got.Recency)
}

func TestHybrid_ClampsInputs(t *testing.T) {
	w := config.ScoringWeights{Similarity: 1, Recency: 0, Importance: 1}
	got := Hybrid(-0.5, 0, 1.7, halfLife, w)
	assert.Equal(t, 0.0, got.Similarity)
	assert.InDelta(t, 1.0, got.Final, 1e-9) // clamped importance only
}

func TestKeywordOverlap(t *testing.T) {
	assert.Equal(t, 1.0, KeywordOverlap("I bought an iPhone yesterday", "iphone bought"))
	assert.Equal(t, 0.5, KeywordOverlap("I bought an iPhone", "iphone pixel"))
	assert.Equal(t, 0.0, KeywordOverlap("some text", ""))
	assert.Equal(t, 0.0, KeywordOverlap("", "query terms"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 300, EstimateTokens(make4(1200)))
}

func make4(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
