package alert

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the alert review queue.
type Handler struct {
	store Store
	nowFn func() time.Time
}

// NewHandler creates a new alert handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store, nowFn: time.Now}
}

// RegisterRoutes sets up alert routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:id/alerts", h.ListAlerts)
	r.POST("/alerts/:id/resolve", h.ResolveAlert)
}

// ListAlerts handles GET /v1/accounts/:id/alerts
//
// Query params: unresolved_only=true to hide reviewed alerts, limit (default 50).
func (h *Handler) ListAlerts(c *gin.Context) {
	unresolvedOnly := c.Query("unresolved_only") == "true"
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	alerts, err := h.store.ListByAccount(c.Request.Context(), c.Param("id"), unresolvedOnly, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// ResolveAlert handles POST /v1/alerts/:id/resolve
//
// Resolving an already-resolved alert is a no-op that returns the alert
// unchanged, so reviewers racing on the same queue don't see errors.
func (h *Handler) ResolveAlert(c *gin.Context) {
	a, err := h.store.Resolve(c.Request.Context(), c.Param("id"), h.nowFn())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Alert not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alert": a})
}
