package admin

import (
	"net/http"

	"github.com/chirino/recall-service/internal/config"
	"github.com/chirino/recall-service/internal/security"
	"github.com/chirino/recall-service/internal/service"
	"github.com/gin-gonic/gin"
)

// MountAdminRoutes mounts operator endpoints for the memory lifecycle.
func MountAdminRoutes(r *gin.Engine, engine *service.Engine, cfg *config.Config, auth gin.HandlerFunc, requireAdmin gin.HandlerFunc) {
	if engine == nil {
		return
	}
	g := r.Group("/api/admin", auth, requireAdmin)

	g.POST("/prune", func(c *gin.Context) { runPrune(c, engine) })
}

// Pointer fields distinguish "not supplied" from an explicit zero, so a
// caller asking for importanceThreshold 0 is honored rather than
// falling back to the configured default.
type pruneRequest struct {
	MaxAgeDays          *int     `json:"maxAgeDays"`
	InactiveDays        *int     `json:"inactiveDays"`
	ImportanceThreshold *float64 `json:"importanceThreshold"`
	Take                *int     `json:"take"`
}

func runPrune(c *gin.Context, engine *service.Engine) {
	req := pruneRequest{}
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": err.Error()})
			return
		}
	}

	result, err := engine.Prune(c.Request.Context(), service.PruneOptions{
		MaxAgeDays:          req.MaxAgeDays,
		InactiveDays:        req.InactiveDays,
		ImportanceThreshold: req.ImportanceThreshold,
		Take:                req.Take,
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "STORE_UNAVAILABLE", "error": "memory store is unavailable"})
		return
	}

	if security.MemoriesPrunedTotal != nil {
		security.MemoriesPrunedTotal.Add(float64(result.Pruned))
	}
	c.JSON(http.StatusOK, result)
}
