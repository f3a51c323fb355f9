package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"futures-agent/internal/auth"
	"futures-agent/internal/circuit"
	"futures-agent/internal/command"
	"futures-agent/internal/events"
	"futures-agent/internal/metrics"
	"futures-agent/internal/state"
)

// SnapshotSource serves the last persisted cycle snapshot
type SnapshotSource interface {
	Latest() (state.Snapshot, error)
}

// BreakerControl is the operator side of the circuit breaker
type BreakerControl interface {
	Reset(operator string) bool
	GetStats() circuit.Stats
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
	ServeMetrics   bool
}

// Deps are the collaborators the API reads from and writes to. Auth is
// required; Breaker and Bus may be nil.
type Deps struct {
	Snapshots SnapshotSource
	Commands  command.Submitter
	Breaker   BreakerControl
	Auth      *auth.Service
	Bus       *events.EventBus
	Logger    zerolog.Logger
}

// RateLimiter keeps one token bucket per client key
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows limit requests per window with the given burst
func NewRateLimiter(limit int, window time.Duration, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(limit) / window.Seconds()),
		burst:    burst,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	r.mu.Unlock()
	return l.Allow()
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	deps       Deps
	hub        *WSHub
	loginLimit *RateLimiter
	logger     zerolog.Logger
	started    time.Time
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger.With().Str("component", "API").Logger()
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowedOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:     router,
		config:     config,
		deps:       deps,
		hub:        NewWSHub(logger),
		loginLimit: NewRateLimiter(10, time.Minute, 5),
		logger:     logger,
		started:    time.Now(),
	}
	if deps.Bus != nil {
		s.hub.Attach(deps.Bus)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.config.ServeMetrics {
		s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	api := s.router.Group("/api")
	api.POST("/auth/login", s.rateLimitLogin(), s.deps.Auth.HandleLogin)

	protected := api.Group("", auth.Middleware(s.deps.Auth.JWT()))
	protected.GET("/status", s.handleStatus)
	protected.GET("/positions", s.handlePositions)
	protected.GET("/scan", s.handleScan)
	protected.GET("/blacklist", s.handleBlacklist)
	protected.GET("/circuit-breaker", s.handleBreakerStatus)
	protected.GET("/ws", s.handleWebSocket)

	operator := protected.Group("", auth.RequireOperator())
	operator.POST("/commands/close-all", s.handleCloseAll)
	operator.POST("/circuit-breaker/reset", s.handleBreakerReset)
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown
func (s *Server) Start() error {
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.hub.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) rateLimitLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.loginLimit.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMITED",
				"message": "too many login attempts, try again later",
			})
			return
		}
		c.Next()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("Request")
	}
}
