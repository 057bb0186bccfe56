package admin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/recall-service/internal/config"
	"github.com/chirino/recall-service/internal/model"
	"github.com/chirino/recall-service/internal/plugin/route/admin"
	registrystore "github.com/chirino/recall-service/internal/registry/store"
	"github.com/chirino/recall-service/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// pruneSpyStore records the prunable query the engine builds so tests
// can assert which thresholds reached the store.
type pruneSpyStore struct {
	lastQuery *registrystore.PrunableQuery
}

func (s *pruneSpyStore) FindPrunable(_ context.Context, q registrystore.PrunableQuery) ([]model.Memory, error) {
	s.lastQuery = &q
	return nil, nil
}

func (s *pruneSpyStore) CreateMemory(_ context.Context, _ registrystore.MemoryCreateInput) (*model.Memory, error) {
	return nil, nil
}

func (s *pruneSpyStore) FindMemory(_ context.Context, id uuid.UUID) (*model.Memory, error) {
	return nil, &registrystore.NotFoundError{Resource: "memory", ID: id.String()}
}

func (s *pruneSpyStore) FindSimilar(_ context.Context, _ string, _ []float32, _ int, _ float64) ([]registrystore.MemoryWithSimilarity, error) {
	return nil, nil
}

func (s *pruneSpyStore) FindDuplicate(_ context.Context, _ string, _ []float32, _ time.Duration, _ float64) (*uuid.UUID, error) {
	return nil, nil
}

func (s *pruneSpyStore) ListActiveBySession(_ context.Context, _ string, _ int) ([]model.Memory, error) {
	return nil, nil
}

func (s *pruneSpyStore) UpdateLastAccessed(_ context.Context, _ []uuid.UUID, _ time.Time) error {
	return nil
}

func (s *pruneSpyStore) SoftDelete(_ context.Context, _ string, _ []uuid.UUID) (int64, error) {
	return 0, nil
}

func (s *pruneSpyStore) SoftDeleteByIDs(_ context.Context, _ []uuid.UUID) (int64, error) {
	return 0, nil
}

func (s *pruneSpyStore) CountActive(_ context.Context, _ string) (int64, error) { return 0, nil }

func (s *pruneSpyStore) LatestAccessed(_ context.Context, _ string) (*time.Time, error) {
	return nil, nil
}

func (s *pruneSpyStore) FindSession(_ context.Context, _ string) (*model.Session, error) {
	return nil, nil
}

func (s *pruneSpyStore) UpsertSession(_ context.Context, id string, externalID *string) (*model.Session, error) {
	now := time.Now().UTC()
	return &model.Session{ID: id, ExternalID: externalID, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *pruneSpyStore) Ping(_ context.Context) error { return nil }

var _ registrystore.MemoryStore = (*pruneSpyStore)(nil)

func setupAdminRouter(t *testing.T) (*gin.Engine, *pruneSpyStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := &pruneSpyStore{}
	cfg := config.DefaultConfig()
	engine := service.NewEngine(st, nil, nil, &cfg)
	r := gin.New()
	passthrough := func(c *gin.Context) { c.Next() }
	admin.MountAdminRoutes(r, engine, &cfg, passthrough, passthrough)
	return r, st
}

func postPrune(t *testing.T, r *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/prune", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPruneEndpoint_DefaultsWhenBodyOmitsFields(t *testing.T) {
	r, st := setupAdminRouter(t)

	w := postPrune(t, r, map[string]interface{}{})
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, st.lastQuery)
	require.Equal(t, 0.3, st.lastQuery.MaxImportance)
	require.Equal(t, 500, st.lastQuery.Take)
}

func TestPruneEndpoint_ExplicitZeroThresholdHonored(t *testing.T) {
	r, st := setupAdminRouter(t)

	w := postPrune(t, r, map[string]interface{}{"importanceThreshold": 0})
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, st.lastQuery)
	require.Equal(t, 0.0, st.lastQuery.MaxImportance)
}

func TestPruneEndpoint_OverridesApplied(t *testing.T) {
	r, st := setupAdminRouter(t)

	w := postPrune(t, r, map[string]interface{}{
		"maxAgeDays":          10,
		"inactiveDays":        5,
		"importanceThreshold": 0.9,
		"take":                7,
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, st.lastQuery)
	require.Equal(t, 0.9, st.lastQuery.MaxImportance)
	require.Equal(t, 7, st.lastQuery.Take)
}
