// Package service implements the memory recall engine: the write path
// with its duplicate guard, the token-budgeted retrieval path with its
// low-confidence fallback, session summaries, and the pruning policy.
// All durable state lives behind the store port; the engine itself is
// stateless between invocations.
package service

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/recall-service/internal/config"
	"github.com/chirino/recall-service/internal/memtext"
	"github.com/chirino/recall-service/internal/model"
	"github.com/chirino/recall-service/internal/registry/cache"
	"github.com/chirino/recall-service/internal/registry/embed"
	"github.com/chirino/recall-service/internal/registry/store"
	"github.com/chirino/recall-service/internal/scoring"
	"github.com/google/uuid"
)

// Engine orchestrates memory writes, retrieval, summaries, and pruning.
type Engine struct {
	store    store.MemoryStore
	embedder embed.Embedder
	cache    cache.SessionCache
	cfg      *config.Config

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates an Engine. embedder and sessionCache may be nil.
func NewEngine(st store.MemoryStore, embedder embed.Embedder, sessionCache cache.SessionCache, cfg *config.Config) *Engine {
	return &Engine{
		store:    st,
		embedder: embedder,
		cache:    sessionCache,
		cfg:      cfg,
		now:      time.Now,
	}
}

// StoreRequest is a write-path request.
type StoreRequest struct {
	SessionID      string
	ExternalID     *string
	Text           string
	Metadata       map[string]interface{}
	ImportanceHint memtext.ImportanceHint
}

// StoreResult is the write-path response. When Deduplicated is true the
// request was merged into an existing near-identical memory instead of
// creating a new one.
type StoreResult struct {
	ID              uuid.UUID `json:"id"`
	SessionID       string    `json:"sessionId"`
	ImportanceScore float64   `json:"importanceScore"`
	CreatedAt       time.Time `json:"createdAt"`
	Deduplicated    bool      `json:"deduplicated,omitempty"`
}

// StoreMemory normalizes and persists a new memory for the session,
// lazily creating the session. When the embedding provider is enabled,
// a near-duplicate written within the duplicate window is merged by
// touching its access time instead of inserting a new row.
func (e *Engine) StoreMemory(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	if req.SessionID == "" {
		return nil, &store.ValidationError{Field: "sessionId", Message: "must not be empty"}
	}
	if !req.ImportanceHint.Valid() {
		return nil, &store.ValidationError{Field: "importanceHint", Message: "must be one of low, medium, high"}
	}

	normalized := memtext.Normalize(memtext.Truncate(req.Text, e.cfg.MaxTextLength))
	if normalized == "" {
		return nil, &store.ValidationError{Field: "text", Message: "must not be empty"}
	}
	compressed := memtext.Compress(normalized, e.cfg.CompressLength)
	importance := memtext.EstimateImportance(normalized, req.ImportanceHint, e.cfg.MaxTextLength)

	if _, err := e.store.UpsertSession(ctx, req.SessionID, req.ExternalID); err != nil {
		return nil, err
	}

	embedding, err := e.embedText(ctx, normalized, true)
	if err != nil {
		return nil, err
	}

	// Duplicate guard: best-effort space saving, skipped without a vector.
	// The check-then-insert sequence may race with a concurrent write; at
	// worst a duplicate slips through.
	if len(embedding) > 0 {
		dupID, err := e.store.FindDuplicate(ctx, req.SessionID, embedding, e.cfg.DuplicateWindow, e.cfg.DuplicateThreshold)
		if err != nil {
			return nil, err
		}
		if dupID != nil {
			existing, err := e.store.FindMemory(ctx, *dupID)
			var notFound *store.NotFoundError
			if err != nil && !errors.As(err, &notFound) {
				return nil, err
			}
			if err == nil && existing != nil {
				now := e.now()
				if err := e.store.UpdateLastAccessed(ctx, []uuid.UUID{existing.ID}, now); err != nil {
					return nil, err
				}
				e.invalidateSummary(ctx, req.SessionID)
				log.Debug("Merged duplicate memory", "session", req.SessionID, "memory", existing.ID)
				return &StoreResult{
					ID:              existing.ID,
					SessionID:       existing.SessionID,
					ImportanceScore: existing.ImportanceScore,
					CreatedAt:       existing.CreatedAt,
					Deduplicated:    true,
				}, nil
			}
			// The candidate vanished between lookup and read; fall through
			// to a plain insert.
		}
	}

	created, err := e.store.CreateMemory(ctx, store.MemoryCreateInput{
		SessionID:       req.SessionID,
		Text:            normalized,
		CompressedText:  compressed,
		Embedding:       embedding,
		ImportanceScore: importance,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	e.invalidateSummary(ctx, req.SessionID)

	return &StoreResult{
		ID:              created.ID,
		SessionID:       created.SessionID,
		ImportanceScore: created.ImportanceScore,
		CreatedAt:       created.CreatedAt,
	}, nil
}

// RetrieveRequest is a read-path request. Zero values fall back to the
// configured defaults; MinScore is a pointer so callers can request an
// explicit floor of 0.
type RetrieveRequest struct {
	SessionID string
	Query     string
	Limit     int
	MinScore  *float64
	MaxTokens int
	Metadata  map[string]interface{}
}

// RetrievedMemory is one ranked retrieval result.
type RetrievedMemory struct {
	ID              uuid.UUID              `json:"id"`
	Text            string                 `json:"text"`
	CompressedText  string                 `json:"compressedText"`
	Similarity      float64                `json:"similarity"`
	ImportanceScore float64                `json:"importanceScore"`
	CreatedAt       time.Time              `json:"createdAt"`
	LastAccessedAt  time.Time              `json:"lastAccessedAt"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	LowConfidence   bool                   `json:"lowConfidence,omitempty"`
}

// RetrieveResult is the read-path response.
type RetrieveResult struct {
	SessionID  string            `json:"sessionId"`
	Query      string            `json:"query"`
	TokenUsage int               `json:"tokenUsage"`
	Results    []RetrievedMemory `json:"results"`
}

type scoredMemory struct {
	memory     model.Memory
	similarity float64
	final      float64
}

// Retrieve returns the memories of the session most relevant to the
// query, ranked by the hybrid score and packed under the token budget.
// Returned memories get their access time stamped in one bulk update.
func (e *Engine) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	session, err := e.store.FindSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, &store.NotFoundError{Resource: "session", ID: req.SessionID}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultResultLimit
	}
	minScore := e.cfg.MinSimilarity
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	budget := req.MaxTokens
	if budget <= 0 {
		budget = e.cfg.DefaultTokenBudget
	}

	query := memtext.Normalize(req.Query)
	queryVec, err := e.embedText(ctx, query, false)
	if err != nil {
		return nil, err
	}

	scored, err := e.fetchAndScore(ctx, req.SessionID, query, queryVec, req.Metadata)
	if err != nil {
		return nil, err
	}

	// Similarity floor with low-confidence fallback: when nothing clears
	// the floor but candidates exist, keep exactly the single best one
	// and flag the response.
	kept := make([]scoredMemory, 0, len(scored))
	for _, s := range scored {
		if s.similarity >= minScore {
			kept = append(kept, s)
		}
	}
	lowConfidence := false
	if len(kept) == 0 && len(scored) > 0 {
		best := scored[0]
		for _, s := range scored[1:] {
			if s.final > best.final {
				best = s
			}
		}
		kept = []scoredMemory{best}
		lowConfidence = true
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].final != kept[j].final {
			return kept[i].final > kept[j].final
		}
		return kept[i].memory.ID.String() < kept[j].memory.ID.String()
	})

	// Token budgeting: walk the ranked list and stop at the first
	// candidate that would exceed the budget. Never include partially.
	tokenUsage := 0
	packed := make([]scoredMemory, 0, len(kept))
	for _, s := range kept {
		cost := scoring.EstimateTokens(s.memory.Text)
		if tokenUsage+cost > budget {
			break
		}
		tokenUsage += cost
		packed = append(packed, s)
	}
	if len(packed) > limit {
		packed = packed[:limit]
		tokenUsage = 0
		for _, s := range packed {
			tokenUsage += scoring.EstimateTokens(s.memory.Text)
		}
	}

	now := e.now()
	results := make([]RetrievedMemory, 0, len(packed))
	ids := make([]uuid.UUID, 0, len(packed))
	for _, s := range packed {
		ids = append(ids, s.memory.ID)
		results = append(results, RetrievedMemory{
			ID:              s.memory.ID,
			Text:            s.memory.Text,
			CompressedText:  s.memory.CompressedText,
			Similarity:      s.similarity,
			ImportanceScore: s.memory.ImportanceScore,
			CreatedAt:       s.memory.CreatedAt,
			LastAccessedAt:  now,
			Metadata:        s.memory.Metadata,
			LowConfidence:   lowConfidence,
		})
	}

	if len(ids) > 0 {
		if err := e.store.UpdateLastAccessed(ctx, ids, now); err != nil {
			return nil, err
		}
		e.invalidateSummary(ctx, req.SessionID)
	}

	return &RetrieveResult{
		SessionID:  req.SessionID,
		Query:      req.Query,
		TokenUsage: tokenUsage,
		Results:    results,
	}, nil
}

// fetchAndScore over-fetches candidates and assigns each a similarity
// and hybrid final score. With a query vector the store's similarity
// ranking is used; otherwise candidates come importance/recency ordered
// and similarity is the keyword-overlap fallback. Candidates failing
// the metadata equality filter are dropped outright.
func (e *Engine) fetchAndScore(ctx context.Context, sessionID, query string, queryVec []float32, filter map[string]interface{}) ([]scoredMemory, error) {
	now := e.now()
	var scored []scoredMemory

	appendCandidate := func(m model.Memory, similarity float64) {
		if !metadataMatches(m.Metadata, filter) {
			return
		}
		h := scoring.Hybrid(similarity, scoring.Age(now, m.CreatedAt, m.LastAccessedAt), m.ImportanceScore, e.cfg.RecencyHalfLife, e.cfg.Weights)
		scored = append(scored, scoredMemory{memory: m, similarity: h.Similarity, final: h.Final})
	}

	if len(queryVec) > 0 {
		// Fetch with a -1 floor (the cosine minimum) so the low-confidence
		// fallback can still see every candidate, negative similarity included.
		candidates, err := e.store.FindSimilar(ctx, sessionID, queryVec, e.cfg.CandidateLimit, -1)
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			appendCandidate(c.Memory, c.Similarity)
		}
		return scored, nil
	}

	candidates, err := e.store.ListActiveBySession(ctx, sessionID, e.cfg.CandidateLimit)
	if err != nil {
		return nil, err
	}
	for _, m := range candidates {
		appendCandidate(m, scoring.KeywordOverlap(m.Text, query))
	}
	return scored, nil
}

// metadataMatches reports whether every filter key is present in md
// with an exactly equal value. An empty filter matches everything.
func metadataMatches(md, filter map[string]interface{}) bool {
	if len(filter) == 0 {
		return true
	}
	for k, want := range filter {
		got, ok := md[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// embedText returns the embedding for text, or nil when the provider is
// disabled or failing and embeddings are not required. During storage
// and retrieval alike, provider failures degrade gracefully unless
// RequireEmbeddings is set.
func (e *Engine) embedText(ctx context.Context, text string, storing bool) ([]float32, error) {
	if e.embedder == nil || !e.embedder.Enabled() {
		if e.cfg.RequireEmbeddings {
			return nil, &store.EmbeddingsUnavailableError{Reason: "embedding provider is disabled"}
		}
		return nil, nil
	}
	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()
	vec, err := e.embedder.Embed(embedCtx, text)
	if err != nil {
		if e.cfg.RequireEmbeddings {
			return nil, &store.EmbeddingsUnavailableError{Reason: err.Error()}
		}
		op := "retrieval"
		if storing {
			op = "storage"
		}
		log.Warn("Embedding failed; continuing without a vector", "op", op, "err", err)
		return nil, nil
	}
	return vec, nil
}

// Clear soft-deletes the session's memories; when ids is non-empty only
// those are cleared. Returns the number of memories cleared.
func (e *Engine) Clear(ctx context.Context, sessionID string, ids []uuid.UUID) (int64, error) {
	if sessionID == "" {
		return 0, &store.ValidationError{Field: "sessionId", Message: "must not be empty"}
	}
	cleared, err := e.store.SoftDelete(ctx, sessionID, ids)
	if err != nil {
		return 0, err
	}
	e.invalidateSummary(ctx, sessionID)
	return cleared, nil
}

// SessionSummary returns the session with its active memory count and
// latest access time. Summaries are served from the session cache when
// one is configured.
func (e *Engine) SessionSummary(ctx context.Context, sessionID string) (*cache.SessionSummary, error) {
	if e.cache != nil && e.cache.Available() {
		if summary, err := e.cache.Get(ctx, sessionID); err == nil && summary != nil {
			return summary, nil
		}
	}

	session, err := e.store.FindSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	count, err := e.store.CountActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	latest, err := e.store.LatestAccessed(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	summary := &cache.SessionSummary{
		ID:             session.ID,
		ExternalID:     session.ExternalID,
		CreatedAt:      session.CreatedAt,
		UpdatedAt:      session.UpdatedAt,
		MemoryCount:    count,
		LastAccessedAt: latest,
	}
	if e.cache != nil && e.cache.Available() {
		if err := e.cache.Set(ctx, sessionID, *summary, e.cfg.SessionCacheTTL); err != nil {
			log.Warn("Failed to cache session summary", "session", sessionID, "err", err)
		}
	}
	return summary, nil
}

func (e *Engine) invalidateSummary(ctx context.Context, sessionID string) {
	if e.cache == nil || !e.cache.Available() {
		return
	}
	if err := e.cache.Remove(ctx, sessionID); err != nil {
		log.Warn("Failed to invalidate session summary cache", "session", sessionID, "err", err)
	}
}
