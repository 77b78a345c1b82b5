package baseline

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moneysq/walletguard/internal/money"
)

// Handler provides HTTP endpoints for reading behavioral baselines.
type Handler struct {
	updater *Updater
}

// NewHandler creates a new baseline handler.
func NewHandler(updater *Updater) *Handler {
	return &Handler{updater: updater}
}

// RegisterRoutes sets up baseline routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:id/baseline", h.GetBaseline)
}

// GetBaseline handles GET /v1/accounts/:id/baseline
//
// Accounts with no settled history get the default profile back with
// sample_count 0, not a 404; callers can always render a baseline.
func (h *Handler) GetBaseline(c *gin.Context) {
	b, err := h.updater.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"baseline": gin.H{
		"account_id":          b.AccountID,
		"avg_amount":          money.Format(b.AvgAmount),
		"max_amount":          money.Format(b.MaxAmount),
		"typical_daily_count": b.TypicalDailyCount,
		"active_hour_start":   b.ActiveHourStart,
		"active_hour_end":     b.ActiveHourEnd,
		"avg_txns_per_10min":  b.AvgTxnsPer10Min,
		"sample_count":        b.SampleCount,
		"updated_at":          b.UpdatedAt,
	}})
}
