package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/arklim/transit-tracker/internal/core/port"
	"github.com/arklim/transit-tracker/internal/infra/clock"
	"github.com/arklim/transit-tracker/internal/infra/config"
	"github.com/arklim/transit-tracker/internal/infra/database"
	"github.com/arklim/transit-tracker/internal/infra/logger"
	redisinfra "github.com/arklim/transit-tracker/internal/infra/redis"
	"github.com/arklim/transit-tracker/internal/infra/security"
	"github.com/arklim/transit-tracker/internal/infra/telemetry"
	postgresrepo "github.com/arklim/transit-tracker/internal/repository/postgres"
	redisrepo "github.com/arklim/transit-tracker/internal/repository/redis"
	"github.com/arklim/transit-tracker/internal/transport/http/middleware"
	"github.com/arklim/transit-tracker/internal/transport/http/routes"
	"github.com/arklim/transit-tracker/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Application owns every long-lived component of the service.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	tracer   *telemetry.TracerProvider
	lockout  *security.LockoutTracker
	denylist *security.TokenDenylist
}

// New builds the application graph. The denylist starts loading from its store
// before New returns; requests that consult it wait for that load.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	app := &Application{cfg: cfg, logger: log, tracer: tracer}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	app.pool = pool
	repos := postgresrepo.NewRepositories(pool)

	if cfg.Redis.Enabled || cfg.Security.Denylist.Backend == config.DenylistBackendRedis {
		redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		app.redis = redisClient
	}

	var store port.DeniedTokenStore = repos.DeniedTokens
	if cfg.Security.Denylist.Backend == config.DenylistBackendRedis {
		store = redisrepo.NewDeniedTokenRepository(app.redis.Client(), cfg.Security.Denylist.RedisKey)
	}

	metrics, err := telemetry.NewSecurityMetrics(telemetry.SecurityMetricsOptions{})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("init security metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	clk := clock.New()

	app.denylist, err = security.NewTokenDenylist(store, security.DenylistOptions{
		SweepInterval: cfg.Security.Denylist.SweepInterval,
		LoadTimeout:   cfg.Security.Denylist.LoadTimeout,
		StoreTimeout:  cfg.Security.Denylist.StoreTimeout,
	},
		security.WithDenylistClock(clk),
		security.WithDenylistLogger(log),
		security.WithDenylistMetrics(metrics),
	)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("init token denylist: %w", err)
	}

	app.lockout, err = security.NewLockoutTracker(security.LockoutOptions{
		MaxAttempts:         cfg.Security.Lockout.MaxAttempts,
		InitialDuration:     cfg.Security.Lockout.InitialDuration,
		IncrementalDuration: cfg.Security.Lockout.IncrementalDuration,
		ResetInterval:       cfg.Security.Lockout.ResetInterval,
		SweepInterval:       cfg.Security.Lockout.SweepInterval,
	},
		security.WithLockoutClock(clk),
		security.WithLockoutLogger(log),
		security.WithLockoutMetrics(metrics),
	)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("init lockout tracker: %w", err)
	}

	authService, err := buildAuthService(cfg, repos, app.denylist, clk, log)
	if err != nil {
		app.close()
		return nil, err
	}

	deps := routes.Dependencies{
		Config:   cfg,
		Logger:   log,
		Auth:     authService,
		Lockout:  middleware.NewLockoutGuard(app.lockout, log),
		Metrics:  httpMetrics,
		Denylist: app.denylist,
		Database: pool,
	}
	if app.redis != nil {
		deps.Cache = app.redis
	}
	app.engine = routes.Register(deps)

	return app, nil
}

func buildAuthService(cfg *config.AppConfig, repos *postgresrepo.Repositories, denylist port.TokenDenylist, clk clockwork.Clock, log *zap.Logger) (*usecase.AuthService, error) {
	argonCfg := security.DefaultArgon2Config()
	if cfg.Password.Memory > 0 {
		argonCfg.Memory = cfg.Password.Memory
	}
	if cfg.Password.Iterations > 0 {
		argonCfg.Iterations = cfg.Password.Iterations
	}
	if cfg.Password.Parallelism > 0 {
		argonCfg.Parallelism = cfg.Password.Parallelism
	}
	hasher, err := security.NewArgon2Hasher(argonCfg)
	if err != nil {
		return nil, fmt.Errorf("init password hasher: %w", err)
	}

	policy, err := security.NewPasswordPolicy(cfg.Password.MinLength, cfg.Password.MinScore)
	if err != nil {
		return nil, fmt.Errorf("init password policy: %w", err)
	}

	tokens, err := security.NewJWTManager(security.JWTOptions{
		Secret:     cfg.JWT.Secret,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTokenTTL,
		RefreshTTL: cfg.JWT.RefreshTokenTTL,
	}, clk)
	if err != nil {
		return nil, fmt.Errorf("init jwt manager: %w", err)
	}

	authService, err := usecase.NewAuthService(repos.Users, hasher, policy, tokens, denylist, clk, log)
	if err != nil {
		return nil, fmt.Errorf("init auth service: %w", err)
	}
	return authService, nil
}

// Run serves HTTP and drives both sweep loops until ctx is cancelled. On shutdown it
// stops the server, waits for in-flight sweep passes, then releases every resource.
func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	loopCtx, stopLoops := context.WithCancel(ctx)
	var loops sync.WaitGroup
	a.startLoop(loopCtx, &loops, "lockout", a.lockout.Run)
	a.startLoop(loopCtx, &loops, "denylist", a.denylist.Run)
	defer func() {
		stopLoops()
		loops.Wait()
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting transit tracker API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("denylist_backend", a.cfg.Security.Denylist.Backend),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) startLoop(ctx context.Context, wg *sync.WaitGroup, name string, run func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := run(ctx); err != nil {
			a.logger.Error("sweep loop exited", zap.String("cache", name), zap.Error(err))
		}
	}()
}

func (a *Application) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to flush traces", zap.Error(err))
	}
	_ = a.logger.Sync()
}
