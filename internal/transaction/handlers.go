package transaction

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moneysq/walletguard/internal/account"
	"github.com/moneysq/walletguard/internal/fraud"
	"github.com/moneysq/walletguard/internal/money"
	"github.com/moneysq/walletguard/internal/validation"
)

// Handler provides HTTP endpoints for transaction submission and
// confirmation.
type Handler struct {
	service *Service
}

// NewHandler creates a new transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up transaction routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/accounts/:id/transactions", h.Submit)
	r.GET("/accounts/:id/transactions", h.History)
	r.GET("/transactions/:id", h.GetTransaction)
	r.POST("/transactions/:id/confirm", h.Confirm)
	r.POST("/transactions/:id/timeout", h.Timeout)
}

// Submit handles POST /v1/accounts/:id/transactions
func (h *Handler) Submit(c *gin.Context) {
	var req struct {
		Direction         string `json:"direction"`
		Recipient         string `json:"recipient"`
		Amount            string `json:"amount" binding:"required"`
		DeviceFingerprint string `json:"device_fingerprint"`
		Location          string `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if verrs := validation.Validate(
		validation.MaxLength("recipient", req.Recipient, 100),
		validation.MaxLength("device_fingerprint", req.DeviceFingerprint, 256),
		validation.MaxLength("location", req.Location, 100),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": verrs.Error(),
		})
		return
	}

	amount, ok := money.Parse(req.Amount)
	if !ok || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must be a positive decimal",
		})
		return
	}
	if req.Direction == "" {
		req.Direction = string(DirectionDebit)
	}

	txn, verdict, err := h.service.Submit(c.Request.Context(), SubmitRequest{
		AccountID:         c.Param("id"),
		Direction:         Direction(req.Direction),
		Recipient:         req.Recipient,
		Amount:            amount,
		DeviceFingerprint: req.DeviceFingerprint,
		Location:          req.Location,
	})
	if err != nil && txn == nil {
		respondTxnErr(c, err)
		return
	}

	// A blocked transaction is still a resolved submission: the caller gets
	// the record plus the verdict, with the status code carrying the outcome.
	resp := gin.H{"transaction": txnView(txn)}
	if verdict != nil {
		resp["verdict"] = verdictView(verdict)
	}
	switch txn.Status {
	case StatusCompleted:
		c.JSON(http.StatusCreated, resp)
	case StatusPending:
		c.JSON(http.StatusAccepted, resp)
	case StatusBlocked:
		if txn.BlockedReason == "insufficient_balance" {
			resp["error"] = "insufficient_balance"
			c.JSON(http.StatusUnprocessableEntity, resp)
			return
		}
		resp["error"] = "transaction_blocked"
		c.JSON(http.StatusForbidden, resp)
	default:
		c.JSON(http.StatusOK, resp)
	}
}

// Confirm handles POST /v1/transactions/:id/confirm
func (h *Handler) Confirm(c *gin.Context) {
	var req struct {
		Confirmed *bool `json:"confirmed" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "confirmed is required",
		})
		return
	}

	txn, err := h.service.Confirm(c.Request.Context(), c.Param("id"), *req.Confirmed)
	if err != nil && txn == nil {
		respondTxnErr(c, err)
		return
	}
	if err != nil && errors.Is(err, account.ErrInsufficientBalance) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":       "insufficient_balance",
			"message":     err.Error(),
			"transaction": txnView(txn),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txnView(txn)})
}

// Timeout handles POST /v1/transactions/:id/timeout
//
// Manual trigger for the confirmation-timeout transition, mostly useful for
// operators and integration tests. The background sweep performs the same
// resolution on its own.
func (h *Handler) Timeout(c *gin.Context) {
	txn, err := h.service.OnTimeout(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondTxnErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txnView(txn)})
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	txn, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondTxnErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txnView(txn)})
}

// History handles GET /v1/accounts/:id/transactions
func (h *Handler) History(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, ok := parsePositive(v); ok {
			limit = n
		}
	}
	txns, err := h.service.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondTxnErr(c, err)
		return
	}
	views := make([]gin.H, 0, len(txns))
	for _, t := range txns {
		views = append(views, txnView(t))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": views, "count": len(views)})
}

func txnView(t *Transaction) gin.H {
	view := gin.H{
		"id":                    t.ID,
		"account_id":            t.AccountID,
		"direction":             t.Direction,
		"amount":                money.Format(t.Amount),
		"status":                t.Status,
		"anomaly_score":         t.AnomalyScore,
		"risk_level":            t.RiskLevel,
		"requires_confirmation": t.RequiresConfirmation,
		"created_at":            t.CreatedAt,
	}
	if t.Recipient != "" {
		view["recipient"] = t.Recipient
	}
	if t.Location != "" {
		view["location"] = t.Location
	}
	if len(t.RiskFactors) > 0 {
		view["risk_factors"] = t.RiskFactors
	}
	if t.BlockedReason != "" {
		view["blocked_reason"] = t.BlockedReason
	}
	if t.ConfirmBy != nil {
		view["confirm_by"] = t.ConfirmBy
	}
	if t.ConfirmedAt != nil {
		view["confirmed_at"] = t.ConfirmedAt
	}
	if t.SettledAt != nil {
		view["settled_at"] = t.SettledAt
	}
	return view
}

func verdictView(v *fraud.Verdict) gin.H {
	hits := make([]gin.H, 0, len(v.Hits))
	for _, h := range v.Hits {
		hits = append(hits, gin.H{
			"rule":   h.Rule,
			"weight": h.Weight,
			"reason": h.Reason,
		})
	}
	return gin.H{
		"score":                 v.Score,
		"level":                 v.Level,
		"outcome":               v.Outcome,
		"requires_confirmation": v.RequiresConfirmation,
		"risk_factors":          hits,
	}
}

func respondTxnErr(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": verr.Error(),
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, account.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Not found",
		})
	case errors.Is(err, ErrConfirmationPending):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "confirmation_pending",
			"message": "Account already has a transaction pending confirmation",
		})
	case errors.Is(err, account.ErrFrozen):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "account_frozen",
			"message": "Account is frozen",
		})
	case errors.Is(err, account.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "insufficient_balance",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}

func parsePositive(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 1000 {
			return 1000, true
		}
	}
	return n, n > 0
}
