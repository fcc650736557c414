package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gatehouse/gatehouse/internal/app"
	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/engine"
	"github.com/gatehouse/gatehouse/internal/identity"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/platform/cache"
	"github.com/gatehouse/gatehouse/internal/platform/db"
	"github.com/gatehouse/gatehouse/internal/policy"
	"github.com/gatehouse/gatehouse/internal/rbac"
	"github.com/gatehouse/gatehouse/internal/routemap"
	"github.com/gatehouse/gatehouse/internal/shared"
	"github.com/gatehouse/gatehouse/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "gatehouse_session", cfg.SessionTTL, cfg.IsProduction())

	metrics := observability.NewMetrics()

	auditRepo := audit.NewRepository(dbpool)
	auditRecorder := audit.NewRecorder(auditRepo)
	changeLog := audit.NewChangeLog(auditRecorder, logger, metrics)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService)

	roleCache := engine.NewRedisRoleCache(redisClient, cfg.RoleCacheTTL, logger)

	identityRepo := identity.NewRepository(dbpool)
	identityService := identity.NewService(identityRepo, changeLog, roleCache)
	identityHandler := identity.NewHandler(logger, identityService)

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo, changeLog)
	rbacHandler := rbac.NewHandler(logger, rbacService)

	policyRepo := policy.NewRepository(dbpool)
	policyService := policy.NewService(policyRepo, changeLog)
	policyHandler := policy.NewHandler(logger, policyService)

	routeRepo := routemap.NewRepository(dbpool)
	routeService := routemap.NewService(routeRepo, changeLog)
	routeHandler := routemap.NewHandler(logger, routeService)

	if err := routeService.CheckAll(ctx); err != nil {
		logger.Error("route map validation", slog.Any("error", err))
		os.Exit(1)
	}

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(identityRepo, authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	accessEngine := engine.New(
		identityService,
		rbacService,
		policyService,
		routeService,
		auditRecorder,
		roleCache,
		metrics,
		logger,
		engine.Options{LookupTimeout: cfg.LookupTimeout},
	)
	guard := engine.Guard{Engine: accessEngine, Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		AuthHandler:     authHandler,
		IdentityHandler: identityHandler,
		RBACHandler:     rbacHandler,
		PolicyHandler:   policyHandler,
		RouteMapHandler: routeHandler,
		AuditHandler:    auditHandler,
		JobHandler:      jobHandler,
		Guard:           guard,
		Pool:            dbpool,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
