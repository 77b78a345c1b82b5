package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moneysq/walletguard/internal/alert"
	"github.com/moneysq/walletguard/internal/geo"
	"github.com/moneysq/walletguard/internal/money"
	"github.com/moneysq/walletguard/internal/validation"
)

// Handler provides HTTP endpoints for account management. Manual freeze
// and unfreeze go through the alert recorder so operator actions show up
// in the same review queue as fraud signals.
type Handler struct {
	service *Service
	alerts  *alert.Recorder
}

// NewHandler creates a new account handler.
func NewHandler(service *Service, alerts *alert.Recorder) *Handler {
	return &Handler{service: service, alerts: alerts}
}

// RegisterRoutes sets up account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/accounts", h.CreateAccount)
	r.GET("/accounts/:id", h.GetAccount)
	r.GET("/accounts/:id/balance", h.GetBalance)
	r.POST("/accounts/:id/freeze", h.FreezeAccount)
	r.POST("/accounts/:id/unfreeze", h.UnfreezeAccount)
	r.GET("/accounts/:id/devices", h.ListDevices)
	r.POST("/accounts/:id/devices", h.RegisterDevice)
	r.GET("/accounts/:id/locations", h.ListLocations)
	r.POST("/accounts/:id/locations", h.RegisterLocation)
}

// CreateAccount handles POST /v1/accounts
func (h *Handler) CreateAccount(c *gin.Context) {
	var req struct {
		Name             string  `json:"name"`
		InitialBalance   string  `json:"initial_balance"`
		AllowedStartHour int     `json:"allowed_start_hour"`
		AllowedEndHour   int     `json:"allowed_end_hour"`
		MaxTxnAmount     string  `json:"max_txn_amount"`
		SoftVelocityMax  int     `json:"soft_velocity_max"`
		HardVelocityMax  int     `json:"hard_velocity_max"`
		FreezeMinutes    int     `json:"freeze_minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	req.Name = validation.SanitizeString(req.Name, validation.MaxStringLength)
	if verrs := validation.Validate(
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, 100),
		validation.ValidHourRange("allowed_hours", req.AllowedStartHour, req.AllowedEndHour),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": verrs.Error(),
		})
		return
	}

	balance, ok := money.Parse(req.InitialBalance)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "initial_balance must be a non-negative decimal",
		})
		return
	}
	maxTxn, ok := money.Parse(req.MaxTxnAmount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "max_txn_amount must be a non-negative decimal",
		})
		return
	}

	a, err := h.service.Create(c.Request.Context(), CreateParams{
		Name:             req.Name,
		InitialBalance:   balance,
		AllowedStartHour: req.AllowedStartHour,
		AllowedEndHour:   req.AllowedEndHour,
		MaxTxnAmount:     maxTxn,
		SoftVelocityMax:  req.SoftVelocityMax,
		HardVelocityMax:  req.HardVelocityMax,
		FreezeDuration:   time.Duration(req.FreezeMinutes) * time.Minute,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"account": accountView(a)})
}

// GetAccount handles GET /v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondAccountErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": accountView(a)})
}

// GetBalance handles GET /v1/accounts/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondAccountErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": a.ID,
		"balance":    money.Format(a.Balance),
		"status":     a.Status,
	})
}

// FreezeAccount handles POST /v1/accounts/:id/freeze
func (h *Handler) FreezeAccount(c *gin.Context) {
	var req struct {
		DurationMinutes int    `json:"duration_minutes"`
		Reason          string `json:"reason"`
	}
	// Body is optional; an empty freeze uses the account's configured duration.
	_ = c.ShouldBindJSON(&req)

	if req.Reason == "" {
		req.Reason = "manual_freeze"
	}
	a, err := h.service.Freeze(c.Request.Context(), c.Param("id"),
		time.Duration(req.DurationMinutes)*time.Minute, req.Reason)
	if err != nil {
		respondAccountErr(c, err)
		return
	}
	if h.alerts != nil && a.FreezeUntil != nil {
		h.alerts.RecordFreeze(c.Request.Context(), a.ID, "", true, *a.FreezeUntil)
	}
	c.JSON(http.StatusOK, gin.H{"account": accountView(a)})
}

// UnfreezeAccount handles POST /v1/accounts/:id/unfreeze
func (h *Handler) UnfreezeAccount(c *gin.Context) {
	a, err := h.service.Unfreeze(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondAccountErr(c, err)
		return
	}
	if h.alerts != nil {
		h.alerts.RecordUnfreeze(c.Request.Context(), a.ID)
	}
	c.JSON(http.StatusOK, gin.H{"account": accountView(a)})
}

// ListDevices handles GET /v1/accounts/:id/devices
func (h *Handler) ListDevices(c *gin.Context) {
	devices, err := h.service.Devices(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondAccountErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

// RegisterDevice handles POST /v1/accounts/:id/devices
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req struct {
		Fingerprint string `json:"fingerprint" binding:"required"`
		Label       string `json:"label"`
		Trusted     bool   `json:"trusted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	d, err := h.service.RegisterDevice(c.Request.Context(), c.Param("id"),
		req.Fingerprint, req.Label, req.Trusted)
	if err != nil {
		respondAccountErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"device": d})
}

// ListLocations handles GET /v1/accounts/:id/locations
func (h *Handler) ListLocations(c *gin.Context) {
	locations, err := h.service.Locations(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondAccountErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": locations, "count": len(locations)})
}

// RegisterLocation handles POST /v1/accounts/:id/locations
func (h *Handler) RegisterLocation(c *gin.Context) {
	var req struct {
		Name    string   `json:"name" binding:"required"`
		Lat     *float64 `json:"lat"`
		Lon     *float64 `json:"lon"`
		Trusted bool     `json:"trusted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	loc := KnownLocation{Name: req.Name, Trusted: req.Trusted}
	if req.Lat != nil && req.Lon != nil {
		loc.Coords = &geo.Coords{Lat: *req.Lat, Lon: *req.Lon}
	}
	l, err := h.service.RegisterLocation(c.Request.Context(), c.Param("id"), loc)
	if err != nil {
		respondAccountErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"location": l})
}

func accountView(a *Account) gin.H {
	view := gin.H{
		"id":                 a.ID,
		"name":               a.Name,
		"balance":            money.Format(a.Balance),
		"status":             a.Status,
		"allowed_start_hour": a.AllowedStartHour,
		"allowed_end_hour":   a.AllowedEndHour,
		"max_txn_amount":     money.Format(a.MaxTxnAmount),
		"soft_velocity_max":  a.SoftVelocityMax,
		"hard_velocity_max":  a.HardVelocityMax,
		"freeze_minutes":     int(a.FreezeDuration.Minutes()),
		"created_at":         a.CreatedAt,
	}
	if a.FreezeUntil != nil {
		view["freeze_until"] = a.FreezeUntil
	}
	return view
}

func respondAccountErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Account not found",
		})
	case errors.Is(err, ErrInsufficientBalance):
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
