package memories_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chirino/recall-service/internal/config"
	"github.com/chirino/recall-service/internal/model"
	"github.com/chirino/recall-service/internal/plugin/route/memories"
	registrystore "github.com/chirino/recall-service/internal/registry/store"
	"github.com/chirino/recall-service/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	memories map[uuid.UUID]*model.Memory
	sessions map[string]*model.Session
}

func newMemStore() *memStore {
	return &memStore{
		memories: map[uuid.UUID]*model.Memory{},
		sessions: map[string]*model.Session{},
	}
}

func (s *memStore) CreateMemory(_ context.Context, input registrystore.MemoryCreateInput) (*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	m := &model.Memory{
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
	s.memories[m.ID] = m
	return m, nil
}

func (s *memStore) FindMemory(_ context.Context, id uuid.UUID) (*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok || m.IsDeleted {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id.String()}
	}
	return m, nil
}

func (s *memStore) FindSimilar(_ context.Context, _ string, _ []float32, _ int, _ float64) ([]registrystore.MemoryWithSimilarity, error) {
	return nil, nil
}

func (s *memStore) FindDuplicate(_ context.Context, _ string, _ []float32, _ time.Duration, _ float64) (*uuid.UUID, error) {
	return nil, nil
}

func (s *memStore) ListActiveBySession(_ context.Context, sessionID string, limit int) ([]model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Memory{}
	for _, m := range s.memories {
		if m.SessionID == sessionID && !m.IsDeleted {
			out = append(out, *m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) UpdateLastAccessed(_ context.Context, ids []uuid.UUID, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if m, ok := s.memories[id]; ok {
			m.LastAccessedAt = ts
		}
	}
	return nil
}

func (s *memStore) SoftDelete(_ context.Context, sessionID string, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.memories {
		if m.SessionID != sessionID || m.IsDeleted {
			continue
		}
		if len(ids) > 0 && !containsID(ids, m.ID) {
			continue
		}
		m.IsDeleted = true
		n++
	}
	return n, nil
}

func (s *memStore) SoftDeleteByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if m, ok := s.memories[id]; ok && !m.IsDeleted {
			m.IsDeleted = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) FindPrunable(_ context.Context, _ registrystore.PrunableQuery) ([]model.Memory, error) {
	return nil, nil
}

func (s *memStore) CountActive(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.memories {
		if m.SessionID == sessionID && !m.IsDeleted {
			n++
		}
	}
	return n, nil
}

func (s *memStore) LatestAccessed(_ context.Context, sessionID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for _, m := range s.memories {
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

func (s *memStore) FindSession(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id], nil
}

func (s *memStore) UpsertSession(_ context.Context, id string, externalID *string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	now := time.Now().UTC()
	sess := &model.Session{ID: id, ExternalID: externalID, CreatedAt: now, UpdatedAt: now}
	s.sessions[id] = sess
	return sess, nil
}

func (s *memStore) Ping(_ context.Context) error { return nil }

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func setupRouter(t *testing.T) (*gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := newMemStore()
	cfg := config.DefaultConfig()
	engine := service.NewEngine(st, nil, nil, &cfg)
	r := gin.New()
	passthrough := func(c *gin.Context) { c.Next() }
	memories.MountRoutes(r, engine, &cfg, passthrough)
	return r, st
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStoreMemoryEndpoint(t *testing.T) {
	r, _ := setupRouter(t)

	w := postJSON(t, r, "/api/memory", map[string]interface{}{
		"sessionId": "sess-1",
		"text":      "deploys happen every Friday at noon",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp service.StoreResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "sess-1", resp.SessionID)
	require.NotEqual(t, uuid.Nil, resp.ID)
	require.Greater(t, resp.ImportanceScore, 0.0)
}

func TestStoreMemoryEndpoint_LegacyAliases(t *testing.T) {
	r, _ := setupRouter(t)

	w := postJSON(t, r, "/api/memory", map[string]interface{}{
		"agentId": "agent-7",
		"content": "remember the agent alias fields",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp service.StoreResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "agent-7", resp.SessionID)
}

func TestStoreMemoryEndpoint_ValidationError(t *testing.T) {
	r, _ := setupRouter(t)

	w := postJSON(t, r, "/api/memory", map[string]interface{}{
		"sessionId": "sess-1",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "VALIDATION_ERROR", resp["code"])
	require.Contains(t, resp["error"], "text")
}

func TestSearchEndpoint_UnknownSession(t *testing.T) {
	r, _ := setupRouter(t)

	w := postJSON(t, r, "/api/memory/search", map[string]interface{}{
		"sessionId": "missing",
		"query":     "anything",
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "SESSION_NOT_FOUND", resp["code"])
}

func TestSearchEndpoint_LexicalRoundTrip(t *testing.T) {
	r, _ := setupRouter(t)

	w := postJSON(t, r, "/api/memory", map[string]interface{}{
		"sessionId": "sess-1",
		"text":      "the database password rotates monthly",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, r, "/api/memory/search", map[string]interface{}{
		"sessionId": "sess-1",
		"query":     "database password",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp service.RetrieveResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	require.Equal(t, "the database password rotates monthly", resp.Results[0].Text)
	require.Greater(t, resp.TokenUsage, 0)
}

func TestClearEndpoint(t *testing.T) {
	r, _ := setupRouter(t)

	w := postJSON(t, r, "/api/memory", map[string]interface{}{
		"sessionId": "sess-1",
		"text":      "ephemeral note",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, r, "/api/memory/clear", map[string]interface{}{
		"sessionId": "sess-1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, int64(1), resp["cleared"])
}

func TestClearEndpoint_InvalidMemoryID(t *testing.T) {
	r, _ := setupRouter(t)

	w := postJSON(t, r, "/api/memory/clear", map[string]interface{}{
		"sessionId": "sess-1",
		"memoryIds": []string{"not-a-uuid"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "VALIDATION_ERROR", resp["code"])
}

func TestSessionEndpoint(t *testing.T) {
	r, _ := setupRouter(t)

	w := postJSON(t, r, "/api/memory", map[string]interface{}{
		"sessionId": "sess-1",
		"text":      "summary fodder",
	})
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, "sess-1", summary["id"])
	require.Equal(t, float64(1), summary["memoryCount"])
}

func TestSessionEndpoint_Missing(t *testing.T) {
	r, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "SESSION_NOT_FOUND", resp["code"])
}
