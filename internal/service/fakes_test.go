package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chirino/recall-service/internal/model"
	"github.com/chirino/recall-service/internal/registry/store"
	"github.com/chirino/recall-service/internal/scoring"
	"github.com/google/uuid"
)

// fakeStore is an in-memory MemoryStore with the same visible semantics
// as the real backends: soft-deleted rows are excluded from every read,
// search, and count operation.
type fakeStore struct {
	mu       sync.Mutex
	memories []model.Memory
	sessions map[string]model.Session

	// findMemoryErr, when set, is returned by every FindMemory call to
	// simulate a backend outage.
	findMemoryErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[string]model.Session{}}
}

func (f *fakeStore) CreateMemory(_ context.Context, input store.MemoryCreateInput) (*model.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	m := model.Memory{
		ID:              uuid.New(),
		SessionID:       input.SessionID,
		Text:            input.Text,
		CompressedText:  input.CompressedText,
		Embedding:       input.Embedding,
		ImportanceScore: input.ImportanceScore,
		Metadata:        input.Metadata,
		CreatedAt:       now,
		LastAccessedAt:  now,
	}
	f.memories = append(f.memories, m)
	return &m, nil
}

func (f *fakeStore) FindMemory(_ context.Context, id uuid.UUID) (*model.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findMemoryErr != nil {
		return nil, f.findMemoryErr
	}
	for _, m := range f.memories {
		if m.ID == id && !m.IsDeleted {
			cp := m
			return &cp, nil
		}
	}
	return nil, &store.NotFoundError{Resource: "memory", ID: id.String()}
}

func (f *fakeStore) FindSimilar(_ context.Context, sessionID string, embedding []float32, limit int, minScore float64) ([]store.MemoryWithSimilarity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.MemoryWithSimilarity
	for _, m := range f.memories {
		if m.SessionID != sessionID || m.IsDeleted {
			continue
		}
		sim := scoring.Cosine(embedding, m.Embedding)
		if sim >= minScore {
			out = append(out, store.MemoryWithSimilarity{Memory: m, Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) FindDuplicate(_ context.Context, sessionID string, embedding []float32, window time.Duration, threshold float64) (*uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var best *model.Memory
	bestSim := threshold
	for i, m := range f.memories {
		if m.SessionID != sessionID || m.IsDeleted || m.CreatedAt.Before(cutoff) {
			continue
		}
		if sim := scoring.Cosine(embedding, m.Embedding); sim > bestSim {
			best = &f.memories[i]
			bestSim = sim
		}
	}
	if best == nil {
		return nil, nil
	}
	id := best.ID
	return &id, nil
}

func (f *fakeStore) ListActiveBySession(_ context.Context, sessionID string, limit int) ([]model.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Memory
	for _, m := range f.memories {
		if m.SessionID == sessionID && !m.IsDeleted {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ImportanceScore != out[j].ImportanceScore {
			return out[i].ImportanceScore > out[j].ImportanceScore
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) UpdateLastAccessed(_ context.Context, ids []uuid.UUID, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	for i := range f.memories {
		if want[f.memories[i].ID] {
			f.memories[i].LastAccessedAt = ts
		}
	}
	return nil
}

func (f *fakeStore) SoftDelete(_ context.Context, sessionID string, ids []uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for i := range f.memories {
		m := &f.memories[i]
		if m.SessionID != sessionID || m.IsDeleted {
			continue
		}
		if len(ids) > 0 && !want[m.ID] {
			continue
		}
		m.IsDeleted = true
		n++
	}
	return n, nil
}

func (f *fakeStore) SoftDeleteByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for i := range f.memories {
		m := &f.memories[i]
		if want[m.ID] && !m.IsDeleted {
			m.IsDeleted = true
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) FindPrunable(_ context.Context, q store.PrunableQuery) ([]model.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Memory
	for _, m := range f.memories {
		if m.IsDeleted {
			continue
		}
		if m.CreatedAt.Before(q.CreatedBefore) && m.LastAccessedAt.Before(q.LastAccessedBefore) && m.ImportanceScore <= q.MaxImportance {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ImportanceScore != out[j].ImportanceScore {
			return out[i].ImportanceScore < out[j].ImportanceScore
		}
		return out[i].LastAccessedAt.Before(out[j].LastAccessedAt)
	})
	if q.Take > 0 && len(out) > q.Take {
		out = out[:q.Take]
	}
	return out, nil
}

func (f *fakeStore) CountActive(_ context.Context, sessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.memories {
		if m.SessionID == sessionID && !m.IsDeleted {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) LatestAccessed(_ context.Context, sessionID string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *time.Time
	for _, m := range f.memories {
		if m.SessionID != sessionID || m.IsDeleted {
			continue
		}
		t := m.LastAccessedAt
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest, nil
}

func (f *fakeStore) FindSession(_ context.Context, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		cp := s
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertSession(_ context.Context, id string, externalID *string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		cp := s
		return &cp, nil
	}
	now := time.Now()
	s := model.Session{ID: id, ExternalID: externalID, CreatedAt: now, UpdatedAt: now}
	f.sessions[id] = s
	return &s, nil
}

func (f *fakeStore) Ping(_ context.Context) error { return nil }

// setTimestamps rewrites a memory's timestamps for aging scenarios.
func (f *fakeStore) setTimestamps(id uuid.UUID, createdAt, lastAccessedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.memories {
		if f.memories[i].ID == id {
			f.memories[i].CreatedAt = createdAt
			f.memories[i].LastAccessedAt = lastAccessedAt
		}
	}
}

// setEmbedding overrides a stored memory's vector directly.
func (f *fakeStore) setEmbedding(id uuid.UUID, vec []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.memories {
		if f.memories[i].ID == id {
			f.memories[i].Embedding = vec
		}
	}
}

var _ store.MemoryStore = (*fakeStore)(nil)

// fakeEmbedder returns a fixed vector per text, or a configured error.
type fakeEmbedder struct {
	enabled bool
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Enabled() bool     { return f.enabled }
func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Dimension() int    { return 3 }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return nil, fmt.Errorf("no fake vector for %q", text)
}
