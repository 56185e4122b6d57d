package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/config"
	"github.com/aman-churiwal/fx-gateway/internal/handler"
	"github.com/aman-churiwal/fx-gateway/internal/metrics"
	"github.com/aman-churiwal/fx-gateway/internal/middleware"
	"github.com/aman-churiwal/fx-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the HTTP layer is built from. main constructs
// them; tests may substitute fakes.
type Deps struct {
	Tenants   middleware.TenantAuthenticator
	Stats     TenantStats
	Admin     middleware.TokenValidator
	Rates     *handler.RatesHandler
	TenantAPI *handler.TenantHandler
	Analytics *handler.AnalyticsHandler
	System    *handler.SystemHandler
	Health    *handler.HealthHandler
	PublicRL  ratelimit.Limiter
	LogSink   *middleware.RequestLogSink
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

type TenantStats interface {
	CountByPlan(ctx context.Context) (map[string]int64, error)
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	deps       Deps
	logger     *slog.Logger
	httpServer *http.Server
	startTime  time.Time
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:    gin.New(),
		config:    cfg,
		deps:      deps,
		logger:    logger.With("component", "http"),
		startTime: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	if s.deps.Metrics != nil {
		s.router.Use(middleware.Metrics(s.deps.Metrics))
	}
	if s.deps.LogSink != nil {
		s.router.Use(s.deps.LogSink.Middleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.deps.Health.Health)
	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	public := s.router.Group("/")
	if s.deps.PublicRL != nil {
		public.Use(middleware.PublicRateLimit(s.deps.PublicRL, s.logger))
	}
	public.GET("/rates", s.deps.Rates.Latest)

	metered := s.router.Group("/", middleware.TenantAuth(s.deps.Tenants))
	{
		metered.GET("/convert", s.deps.Rates.Convert)
		metered.GET("/convert-historical", s.deps.Rates.ConvertHistorical)
		metered.GET("/convert-range", s.deps.Rates.ConvertRange)
		metered.GET("/usage", s.deps.Rates.Usage)
	}

	admin := s.router.Group("/admin", middleware.RequireAdmin(s.deps.Admin))
	{
		admin.GET("/status", s.adminStatus)

		admin.POST("/tenants", s.deps.TenantAPI.Create)
		admin.GET("/tenants", s.deps.TenantAPI.List)
		admin.GET("/tenants/:id", s.deps.TenantAPI.Get)
		admin.PATCH("/tenants/:id", s.deps.TenantAPI.Update)
		admin.DELETE("/tenants/:id", s.deps.TenantAPI.Delete)
		admin.GET("/plans", s.deps.TenantAPI.Plans)

		admin.GET("/analytics", s.deps.Analytics.GetSummary)
		admin.GET("/analytics/timeseries", s.deps.Analytics.GetTimeSeries)
		admin.GET("/logs", s.deps.Analytics.GetLogs)

		admin.GET("/system/breaker", s.deps.System.CircuitBreakerStatus)
		admin.POST("/system/breaker/reset", s.deps.System.ResetCircuitBreaker)
		admin.GET("/system/poller", s.deps.System.PollerStatus)
		admin.POST("/system/poller/run", s.deps.System.RunPoller)
	}
}

func (s *Server) adminStatus(c *gin.Context) {
	status := gin.H{
		"gateway":     "running",
		"environment": s.config.Server.Environment,
		"pairs":       len(s.config.Poller.Pairs()),
		"uptime":      time.Since(s.startTime).Seconds(),
		"timestamp":   time.Now().Unix(),
	}

	if s.deps.Stats != nil {
		byPlan, err := s.deps.Stats.CountByPlan(c.Request.Context())
		if err != nil {
			s.logger.Warn("failed to count tenants", "error", err)
		} else {
			status["tenants_by_plan"] = byPlan
		}
	}

	c.JSON(http.StatusOK, status)
}

// Run serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Run() error {
	s.logger.Info("starting fx gateway", "addr", s.httpServer.Addr, "environment", s.config.Server.Environment)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
