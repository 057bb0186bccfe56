package memories

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/recall-service/internal/config"
	"github.com/chirino/recall-service/internal/memtext"
	registrystore "github.com/chirino/recall-service/internal/registry/store"
	"github.com/chirino/recall-service/internal/security"
	"github.com/chirino/recall-service/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts the memory REST endpoints on the given router.
func MountRoutes(r *gin.Engine, engine *service.Engine, cfg *config.Config, auth gin.HandlerFunc) {
	if engine == nil {
		return
	}
	g := r.Group("/api", auth)

	g.POST("/memory", func(c *gin.Context) { storeMemory(c, engine) })
	g.POST("/memory/search", func(c *gin.Context) { searchMemories(c, engine) })
	g.POST("/memory/clear", func(c *gin.Context) { clearMemories(c, engine) })
	g.GET("/sessions/:id", func(c *gin.Context) { getSession(c, engine) })
}

type storeMemoryRequest struct {
	SessionID      string                 `json:"sessionId"`
	AgentID        string                 `json:"agentId"`
	ExternalID     *string                `json:"externalId"`
	Text           string                 `json:"text"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata"`
	ImportanceHint string                 `json:"importanceHint"`
}

func storeMemory(c *gin.Context, engine *service.Engine) {
	var req storeMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": err.Error()})
		return
	}

	// agentId and content are legacy aliases kept for older clients.
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = req.AgentID
	}
	text := req.Text
	if text == "" {
		text = req.Content
	}

	result, err := engine.StoreMemory(c.Request.Context(), service.StoreRequest{
		SessionID:      sessionID,
		ExternalID:     req.ExternalID,
		Text:           text,
		Metadata:       req.Metadata,
		ImportanceHint: memtext.ImportanceHint(req.ImportanceHint),
	})
	if err != nil {
		handleError(c, err)
		return
	}

	if security.MemoriesStoredTotal != nil {
		outcome := "created"
		if result.Deduplicated {
			outcome = "merged"
		}
		security.MemoriesStoredTotal.WithLabelValues(outcome).Inc()
	}
	c.JSON(http.StatusOK, result)
}

type searchMemoriesRequest struct {
	SessionID string                 `json:"sessionId"`
	AgentID   string                 `json:"agentId"`
	Query     string                 `json:"query"`
	Limit     int                    `json:"limit"`
	MinScore  *float64               `json:"minScore"`
	MaxTokens int                    `json:"maxTokens"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func searchMemories(c *gin.Context, engine *service.Engine) {
	var req searchMemoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": err.Error()})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = req.AgentID
	}

	result, err := engine.Retrieve(c.Request.Context(), service.RetrieveRequest{
		SessionID: sessionID,
		Query:     req.Query,
		Limit:     req.Limit,
		MinScore:  req.MinScore,
		MaxTokens: req.MaxTokens,
		Metadata:  req.Metadata,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	if security.RetrievalResults != nil {
		security.RetrievalResults.Observe(float64(len(result.Results)))
	}
	c.JSON(http.StatusOK, result)
}

type clearMemoriesRequest struct {
	SessionID string   `json:"sessionId"`
	AgentID   string   `json:"agentId"`
	MemoryIDs []string `json:"memoryIds"`
}

func clearMemories(c *gin.Context, engine *service.Engine) {
	var req clearMemoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": err.Error()})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = req.AgentID
	}

	ids := make([]uuid.UUID, 0, len(req.MemoryIDs))
	for _, raw := range req.MemoryIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": "invalid memory ID: " + raw})
			return
		}
		ids = append(ids, id)
	}

	cleared, err := engine.Clear(c.Request.Context(), sessionID, ids)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

func getSession(c *gin.Context, engine *service.Engine) {
	summary, err := engine.SessionSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func handleError(c *gin.Context, err error) {
	var validation *registrystore.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": validation.Error()})
		return
	}
	var notFound *registrystore.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": notFound.Code(), "error": notFound.Error()})
		return
	}
	var embeddings *registrystore.EmbeddingsUnavailableError
	if errors.As(err, &embeddings) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "EMBEDDINGS_UNAVAILABLE", "error": embeddings.Error()})
		return
	}
	var unavailable *registrystore.UnavailableError
	if errors.As(err, &unavailable) {
		log.Error("store unavailable", "op", unavailable.Op, "err", unavailable.Err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "STORE_UNAVAILABLE", "error": "memory store is unavailable"})
		return
	}
	log.Error("memory route error", "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": "internal server error"})
}
