package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"dex-trading-bot/internal/auth"
	"dex-trading-bot/internal/circuit"
	"dex-trading-bot/internal/metrics"
	"dex-trading-bot/internal/order"
	"dex-trading-bot/internal/risk"
	"dex-trading-bot/internal/strategy"
)

// RiskController is the slice of the risk engine the admin API drives
type RiskController interface {
	GetMetrics() risk.RiskMetrics
	ResetCircuitBreaker(reason circuit.Reason)
	ResetAllCircuitBreakers()
	TriggerEmergencyStop(reason string)
	ResetEmergencyStop()
	EnableSystem()
	DisableSystem()
}

// StrategyController exposes strategy toggles and weights
type StrategyController interface {
	Statuses() []strategy.Status
	EnableStrategy(name string, enabled bool) error
	SetStrategyWeight(name string, weight float64) error
}

// OrderController exposes the order table
type OrderController interface {
	Orders() []order.Order
	GetOrder(signature string) (order.Order, error)
	CancelOrder(signature string) error
	ExitOrder(ctx context.Context, signature string, exitType order.ExitType) error
}

// HealthChecker reports backing store health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	ProductionMode bool          `json:"production_mode" mapstructure:"production_mode"`
	AllowOrigins   []string      `json:"allow_origins" mapstructure:"allow_origins"`
	ExitTimeout    time.Duration `json:"exit_timeout" mapstructure:"exit_timeout"`
}

// Deps are the components served by the API. Health may be nil.
type Deps struct {
	Risk       RiskController
	Strategies StrategyController
	Orders     OrderController
	Health     HealthChecker
	JWT        *auth.JWTManager // nil disables authentication
}

// Server represents the HTTP admin API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	deps       Deps
	logger     zerolog.Logger
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Deps, logger zerolog.Logger) (*Server, error) {
	if deps.Risk == nil || deps.Strategies == nil || deps.Orders == nil {
		return nil, errors.New("api server requires risk, strategy and order controllers")
	}
	if config.ExitTimeout <= 0 {
		config.ExitTimeout = 30 * time.Second
	}

	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router: router,
		config: config,
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: config.ExitTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler exposes the router, used by tests and embedding servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.router.Group("/api")
	if s.deps.JWT != nil {
		api.Use(auth.Middleware(s.deps.JWT))
	}
	admin := api.Group("")
	if s.deps.JWT != nil {
		admin.Use(auth.RequireAdmin())
	}

	api.GET("/risk/metrics", s.handleRiskMetrics)
	api.GET("/strategies", s.handleGetStrategies)
	api.GET("/orders", s.handleGetOrders)
	api.GET("/orders/:signature", s.handleGetOrder)

	admin.POST("/risk/breakers/reset", s.handleResetAllBreakers)
	admin.POST("/risk/breakers/:reason/reset", s.handleResetBreaker)
	admin.POST("/risk/emergency-stop", s.handleEmergencyStop)
	admin.DELETE("/risk/emergency-stop", s.handleResetEmergencyStop)
	admin.POST("/system/enable", s.handleEnableSystem)
	admin.POST("/system/disable", s.handleDisableSystem)
	admin.POST("/strategies/:name/toggle", s.handleToggleStrategy)
	admin.PUT("/strategies/:name/weight", s.handleSetWeight)
	admin.POST("/orders/:signature/cancel", s.handleCancelOrder)
	admin.POST("/orders/:signature/exit", s.handleExitOrder)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Bool("auth", s.deps.JWT != nil).Msg("Starting admin API")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down admin API")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	m := s.deps.Risk.GetMetrics()
	body := gin.H{
		"status":         "healthy",
		"system_enabled": m.SystemEnabled,
		"emergency_stop": m.EmergencyStopActive,
		"timestamp":      time.Now().UTC(),
	}

	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			body["status"] = "unhealthy"
			body["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}
	c.JSON(http.StatusOK, body)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
