// Package server wires the services together and runs the HTTP API.
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
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbande/biskato/internal/config"
	"github.com/mbande/biskato/internal/health"
	"github.com/mbande/biskato/internal/idgen"
	"github.com/mbande/biskato/internal/ledger"
	"github.com/mbande/biskato/internal/listings"
	"github.com/mbande/biskato/internal/logging"
	"github.com/mbande/biskato/internal/metrics"
	"github.com/mbande/biskato/internal/notify"
	"github.com/mbande/biskato/internal/orders"
	"github.com/mbande/biskato/internal/outbox"
	"github.com/mbande/biskato/internal/ratelimit"
	"github.com/mbande/biskato/internal/realtime"
	"github.com/mbande/biskato/internal/receipts"
	"github.com/mbande/biskato/internal/reconciliation"
	"github.com/mbande/biskato/internal/security"
	"github.com/mbande/biskato/internal/traces"
	"github.com/mbande/biskato/internal/validation"
	"github.com/mbande/biskato/internal/wallet"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies.
type Server struct {
	cfg *config.Config

	listings    *listings.Service
	orders      *orders.Service
	orderStore  orders.Store
	wallets     *wallet.Wallets
	ledger      *ledger.Ledger
	receipts    *receipts.Service
	notify      *notify.Service
	outbox      *outbox.Outbox
	relay       *outbox.Relay
	realtimeHub *realtime.Hub

	autoReleaseTimer *orders.Timer
	reconcileRunner  *reconciliation.Runner
	reconcileTimer   *reconciliation.Timer

	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	shutdownTraces func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, cfg.LogFormat),
		healthReg: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	var (
		listingStore listings.Store
		orderStore   orders.Store
		walletStore  wallet.Store
		ledgerStore  ledger.Store
		receiptStore receipts.Store
		outboxStore  outbox.Store
		notifyStore  notify.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pgListings := listings.NewPostgresStore(db)
		pgOrders := orders.NewPostgresStore(db)
		pgWallet := wallet.NewPostgresStore(db)
		pgLedger := ledger.NewPostgresStore(db)
		pgReceipts := receipts.NewPostgresStore(db)
		pgOutbox := outbox.NewPostgresStore(db)
		pgNotify := notify.NewPostgresStore(db)

		for name, migrate := range map[string]func(context.Context) error{
			"listings":      pgListings.Migrate,
			"orders":        pgOrders.Migrate,
			"wallet":        pgWallet.Migrate,
			"ledger":        pgLedger.Migrate,
			"receipts":      pgReceipts.Migrate,
			"outbox":        pgOutbox.Migrate,
			"notifications": pgNotify.Migrate,
		} {
			if err := migrate(ctx); err != nil {
				return nil, fmt.Errorf("failed to migrate %s store: %w", name, err)
			}
		}

		listingStore, orderStore, walletStore = pgListings, pgOrders, pgWallet
		ledgerStore, receiptStore, outboxStore, notifyStore = pgLedger, pgReceipts, pgOutbox, pgNotify

		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		listingStore = listings.NewMemoryStore()
		orderStore = orders.NewMemoryStore()
		walletStore = wallet.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		receiptStore = receipts.NewMemoryStore()
		outboxStore = outbox.NewMemoryStore()
		notifyStore = notify.NewMemoryStore()
	}
	s.orderStore = orderStore

	// Realtime hub first so notifications can broadcast
	s.realtimeHub = realtime.NewHub(s.logger)

	s.listings = listings.NewService(listingStore)
	s.wallets = wallet.New(walletStore)
	s.ledger = ledger.New(ledgerStore)
	s.notify = notify.NewService(notifyStore, s.logger).WithBroadcaster(s.realtimeHub)
	s.outbox = outbox.New(outboxStore)

	var signer *receipts.Signer
	if cfg.ReceiptSigningKey != "" {
		signer = receipts.NewSigner(cfg.ReceiptSigningKey)
		s.logger.Info("receipt signing enabled")
	} else {
		s.logger.Warn("receipt signing disabled (RECEIPT_SIGNING_KEY not set)")
	}
	s.receipts = receipts.NewService(receiptStore, signer)

	s.orders = orders.NewService(orderStore, &walletSettler{s.wallets}, &listingsCatalog{s.listings}).
		WithEventSink(&outboxSink{s.outbox}).
		WithAmountBounds(cfg.MinOrderAmount, cfg.MaxOrderAmount)

	// Outbox relay with the three consumers
	s.relay = outbox.NewRelay(outboxStore, s.logger).WithInterval(cfg.OutboxInterval)
	s.relay.Register(&ledgerWriter{s.ledger})
	s.relay.Register(&receiptIssuer{s.receipts})
	s.relay.Register(&notifier{s.notify})
	s.healthReg.Register("outbox_relay", func(ctx context.Context) health.Status {
		return health.Status{Name: "outbox_relay", Healthy: s.relay.Running()}
	})

	// Auto-release sweep for stale delivered orders
	s.autoReleaseTimer = orders.NewTimer(s.orders, orderStore, cfg.AutoReleaseWindow, s.logger)

	// Conservation audit
	s.reconcileRunner = reconciliation.NewRunner(
		&settledOrderSource{orderStore},
		s.ledger,
		&holdTotalsSource{walletStore},
	)
	s.reconcileTimer = reconciliation.NewTimer(s.reconcileRunner, cfg.ReconcileInterval, s.logger)

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

	// CORS
	origins := []string{"*"}
	if s.cfg.AllowedOrigins != "" {
		origins = splitOrigins(s.cfg.AllowedOrigins)
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
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

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

	// WebSocket for real-time order and notification events
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")

	listingsHandler := listings.NewHandler(s.listings)
	ordersHandler := orders.NewHandler(s.orders)
	walletHandler := wallet.NewHandler(s.wallets)
	ledgerHandler := ledger.NewHandler(s.ledger)
	receiptsHandler := receipts.NewHandler(s.receipts)

	// PUBLIC ROUTES - browsing and receipt verification need no identity
	listingsHandler.RegisterRoutes(v1)
	receiptsHandler.RegisterRoutes(v1)

	// PROTECTED ROUTES - identity comes from the gateway's X-User-ID header
	protected := v1.Group("")
	protected.Use(identityMiddleware())
	{
		listingsHandler.RegisterProtectedRoutes(protected)
		ordersHandler.RegisterProtectedRoutes(protected)
		walletHandler.RegisterProtectedRoutes(protected)
		ledgerHandler.RegisterProtectedRoutes(protected)
		receiptsHandler.RegisterProtectedRoutes(protected)
		s.notify.RegisterProtectedRoutes(protected)
	}

	// ADMIN ROUTES - payment gateway callbacks and operator tooling
	admin := v1.Group("/admin")
	admin.Use(adminMiddleware(s.cfg.AdminSecret, s.cfg.IsDevelopment()))
	{
		ordersHandler.RegisterAdminRoutes(admin)
		ledgerHandler.RegisterAdminRoutes(admin)
		s.outbox.RegisterAdminRoutes(admin)
		admin.POST("/reconcile", s.reconcileHandler)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

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
		"name":        "Biskato",
		"description": "Escrow-backed marketplace for informal work",
		"version":     "0.1.0",
		"currency":    "Kz",
	})
}

// reconcileHandler runs the conservation audit on demand.
func (s *Server) reconcileHandler(c *gin.Context) {
	result, err := s.reconcileRunner.RunAll(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("manual reconciliation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "reconciliation failed",
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no endpoint is configured)
	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Background workers
	go s.realtimeHub.Run(runCtx)
	s.relay.Start()
	go s.autoReleaseTimer.Start(runCtx)
	go s.reconcileTimer.Start(runCtx)

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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timers)
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

	s.relay.Stop()
	s.autoReleaseTimer.Stop()
	s.reconcileTimer.Stop()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

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

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
