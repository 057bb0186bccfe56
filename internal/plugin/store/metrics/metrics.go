package metrics

import (
	"context"
	"time"

	"github.com/chirino/recall-service/internal/model"
	"github.com/chirino/recall-service/internal/registry/store"
	"github.com/chirino/recall-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a MemoryStore that records StoreLatency for every operation.
func Wrap(inner store.MemoryStore) store.MemoryStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.MemoryStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (m *metricsStore) CreateMemory(ctx context.Context, input store.MemoryCreateInput) (*model.Memory, error) {
	defer observe("create_memory", time.Now())
	return m.inner.CreateMemory(ctx, input)
}

func (m *metricsStore) FindMemory(ctx context.Context, id uuid.UUID) (*model.Memory, error) {
	defer observe("find_memory", time.Now())
	return m.inner.FindMemory(ctx, id)
}

func (m *metricsStore) FindSimilar(ctx context.Context, sessionID string, embedding []float32, limit int, minScore float64) ([]store.MemoryWithSimilarity, error) {
	defer observe("find_similar", time.Now())
	return m.inner.FindSimilar(ctx, sessionID, embedding, limit, minScore)
}

func (m *metricsStore) FindDuplicate(ctx context.Context, sessionID string, embedding []float32, window time.Duration, threshold float64) (*uuid.UUID, error) {
	defer observe("find_duplicate", time.Now())
	return m.inner.FindDuplicate(ctx, sessionID, embedding, window, threshold)
}

func (m *metricsStore) ListActiveBySession(ctx context.Context, sessionID string, limit int) ([]model.Memory, error) {
	defer observe("list_active", time.Now())
	return m.inner.ListActiveBySession(ctx, sessionID, limit)
}

func (m *metricsStore) UpdateLastAccessed(ctx context.Context, ids []uuid.UUID, ts time.Time) error {
	defer observe("update_last_accessed", time.Now())
	return m.inner.UpdateLastAccessed(ctx, ids, ts)
}

func (m *metricsStore) SoftDelete(ctx context.Context, sessionID string, ids []uuid.UUID) (int64, error) {
	defer observe("soft_delete", time.Now())
	return m.inner.SoftDelete(ctx, sessionID, ids)
}

func (m *metricsStore) SoftDeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	defer observe("soft_delete_by_ids", time.Now())
	return m.inner.SoftDeleteByIDs(ctx, ids)
}

func (m *metricsStore) FindPrunable(ctx context.Context, q store.PrunableQuery) ([]model.Memory, error) {
	defer observe("find_prunable", time.Now())
	return m.inner.FindPrunable(ctx, q)
}

func (m *metricsStore) CountActive(ctx context.Context, sessionID string) (int64, error) {
	defer observe("count_active", time.Now())
	return m.inner.CountActive(ctx, sessionID)
}

func (m *metricsStore) LatestAccessed(ctx context.Context, sessionID string) (*time.Time, error) {
	defer observe("latest_accessed", time.Now())
	return m.inner.LatestAccessed(ctx, sessionID)
}

func (m *metricsStore) FindSession(ctx context.Context, id string) (*model.Session, error) {
	defer observe("find_session", time.Now())
	return m.inner.FindSession(ctx, id)
}

func (m *metricsStore) UpsertSession(ctx context.Context, id string, externalID *string) (*model.Session, error) {
	defer observe("upsert_session", time.Now())
	return m.inner.UpsertSession(ctx, id, externalID)
}

func (m *metricsStore) Ping(ctx context.Context) error {
	defer observe("ping", time.Now())
	return m.inner.Ping(ctx)
}
