package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/transit-tracker/internal/infra/config"
	"github.com/arklim/transit-tracker/internal/transport/http/handlers"
	"github.com/arklim/transit-tracker/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Auth     handlers.AuthUseCase
	Lockout  *middleware.LockoutGuard
	Metrics  *middleware.HTTPMetrics
	Denylist handlers.DenylistState
	Database DatabaseChecker
	Cache    CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config != nil && deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}

	healthOptions := make([]handlers.HealthOption, 0, 3)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	if deps.Denylist != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("denylist", handlers.DenylistReadiness(deps.Denylist)))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Auth == nil {
		return r
	}

	guard := deps.Lockout
	if guard == nil {
		guard = middleware.NewLockoutGuard(nil, logger)
	}

	api := r.Group("/api/v1")
	{
		handlers.NewAuthHandler(deps.Auth, nil).RegisterRoutes(api.Group("/auth"), guard)
		handlers.NewUserHandler(deps.Auth).RegisterRoutes(api.Group("/users"))
	}

	return r
}
