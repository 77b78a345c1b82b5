// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/moneysq/walletguard/internal/account"
	"github.com/moneysq/walletguard/internal/alert"
	"github.com/moneysq/walletguard/internal/baseline"
	"github.com/moneysq/walletguard/internal/config"
	"github.com/moneysq/walletguard/internal/fraud"
	"github.com/moneysq/walletguard/internal/health"
	"github.com/moneysq/walletguard/internal/idgen"
	"github.com/moneysq/walletguard/internal/logging"
	"github.com/moneysq/walletguard/internal/metrics"
	"github.com/moneysq/walletguard/internal/ratelimit"
	"github.com/moneysq/walletguard/internal/realtime"
	"github.com/moneysq/walletguard/internal/security"
	"github.com/moneysq/walletguard/internal/transaction"
	"github.com/moneysq/walletguard/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	accountService     *account.Service
	baselineUpdater    *baseline.Updater
	alertRecorder      *alert.Recorder
	alertStore         alert.Store
	transactionService *transaction.Service
	transactionTimer   *transaction.Timer
	recomputeTimer     *baseline.RecomputeTimer
	realtimeHub        *realtime.Hub
	rateLimiter        *ratelimit.Limiter
	healthChecks       *health.Registry

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, "json"),
		healthChecks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		accountStore  account.Store
		baselineStore baseline.Store
		alertStore    alert.Store
		txnStore      transaction.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		accountPG := account.NewPostgresStore(db)
		if err := accountPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate account store", "error", err)
		}
		accountStore = accountPG

		baselinePG := baseline.NewPostgresStore(db)
		if err := baselinePG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate baseline store", "error", err)
		}
		baselineStore = baselinePG

		alertPG := alert.NewPostgresStore(db)
		if err := alertPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate alert store", "error", err)
		}
		alertStore = alertPG

		txnPG := transaction.NewPostgresStore(db)
		if err := txnPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate transaction store", "error", err)
		}
		txnStore = txnPG

		s.healthChecks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		accountStore = account.NewMemoryStore()
		baselineStore = baseline.NewMemoryStore()
		alertStore = alert.NewMemoryStore()
		txnStore = transaction.NewMemoryStore()
	}
	s.alertStore = alertStore

	// Account freeze/recognition service
	s.accountService = account.NewService(accountStore,
		account.WithLogger(s.logger),
		account.WithDefaults(cfg.DefaultFreezeDuration, cfg.SoftVelocityThreshold, cfg.HardVelocityThreshold),
	)

	// Behavioral baselines: incremental updates on settlement plus the
	// hourly full recompute from settled history
	s.baselineUpdater = baseline.NewUpdater(baselineStore, baseline.WithLogger(s.logger))
	s.recomputeTimer = baseline.NewRecomputeTimer(baselineStore, txnStore, s.logger)

	// Alert recorder, optionally mirroring to an external webhook
	alertOpts := []alert.RecorderOption{alert.WithLogger(s.logger)}
	if cfg.AlertWebhookURL != "" {
		if err := security.ValidateEndpointURL(cfg.AlertWebhookURL); err != nil {
			return nil, fmt.Errorf("invalid alert webhook URL: %w", err)
		}
		alertOpts = append(alertOpts, alert.WithWebhook(cfg.AlertWebhookURL))
		s.logger.Info("alert webhook enabled", "url", cfg.AlertWebhookURL)
	}
	s.alertRecorder = alert.NewRecorder(alertStore, alertOpts...)

	// Fraud engine with configured thresholds
	engine := fraud.NewEngine(fraud.DefaultRules(cfg.MaxTravelSpeedKmh)...).
		WithThresholds(cfg.RiskLowThreshold, cfg.RiskMediumThreshold)

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Transaction state machine
	s.transactionService = transaction.NewService(
		txnStore, s.accountService, s.baselineUpdater, engine, s.alertRecorder,
		transaction.WithLogger(s.logger),
		transaction.WithConfirmationTimeout(cfg.ConfirmationTimeout),
		transaction.WithNotifier(realtime.NewNotifier(s.realtimeHub)),
	)
	s.transactionTimer = transaction.NewTimer(s.transactionService, txnStore, s.logger)
	s.logger.Info("fraud scoring enabled",
		"soft_velocity", cfg.SoftVelocityThreshold,
		"hard_velocity", cfg.HardVelocityThreshold,
		"confirmation_timeout", cfg.ConfirmationTimeout)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group. Malformed resource IDs are rejected before any handler runs.
	v1 := s.router.Group("/v1")
	v1.Use(validation.IDParamMiddleware())

	account.NewHandler(s.accountService, s.alertRecorder).RegisterRoutes(v1)
	transaction.NewHandler(s.transactionService).RegisterRoutes(v1)
	baseline.NewHandler(s.baselineUpdater).RegisterRoutes(v1)
	alert.NewHandler(s.alertStore).RegisterRoutes(v1)

	v1.GET("/stats", s.statsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthChecks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "walletguard",
		"description": "Fraud scoring and account protection for wallet transactions",
		"version":     "0.1.0",
	})
}

// statsHandler returns live engine statistics: streaming hub counters plus
// the configured scoring thresholds.
func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"realtime": s.realtimeHub.Stats(),
		"scoring": gin.H{
			"risk_low_threshold":      s.cfg.RiskLowThreshold,
			"risk_medium_threshold":   s.cfg.RiskMediumThreshold,
			"soft_velocity_threshold": s.cfg.SoftVelocityThreshold,
			"hard_velocity_threshold": s.cfg.HardVelocityThreshold,
			"confirmation_timeout":    s.cfg.ConfirmationTimeout.String(),
			"max_travel_speed_kmh":    s.cfg.MaxTravelSpeedKmh,
		},
		"sweeps": gin.H{
			"confirmation_timer_running": s.transactionTimer.Running(),
			"baseline_recompute_running": s.recomputeTimer.Running(),
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start confirmation-timeout sweep
	go s.transactionTimer.Start(runCtx)

	// Start baseline recompute loop
	go s.recomputeTimer.Start(runCtx)

	// DB stats collector for Prometheus gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeps)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop confirmation sweep
	if s.transactionTimer != nil {
		s.transactionTimer.Stop()
		s.logger.Info("confirmation sweep stopped")
	}

	// Stop baseline recompute loop
	if s.recomputeTimer != nil {
		s.recomputeTimer.Stop()
		s.logger.Info("baseline recompute stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

