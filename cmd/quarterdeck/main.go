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

	"github.com/quarterdeck-app/quarterdeck/internal/app"
	"github.com/quarterdeck-app/quarterdeck/internal/audit"
	"github.com/quarterdeck-app/quarterdeck/internal/auth"
	"github.com/quarterdeck-app/quarterdeck/internal/authz"
	"github.com/quarterdeck-app/quarterdeck/internal/observability"
	"github.com/quarterdeck-app/quarterdeck/internal/platform/cache"
	"github.com/quarterdeck-app/quarterdeck/internal/platform/db"
	"github.com/quarterdeck-app/quarterdeck/internal/shared"
	"github.com/quarterdeck-app/quarterdeck/internal/users"
	"github.com/quarterdeck-app/quarterdeck/internal/view"
	"github.com/quarterdeck-app/quarterdeck/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
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

	sessionManager := shared.NewSessionManager(redisClient, "quarterdeck_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	mailClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := mailClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, mailClient, logger)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager)

	auditRecorder := audit.NewRecorder(dbpool, logger)
	metrics := observability.NewMetrics()

	registry := authz.DefaultRegistry()
	evaluator := authz.NewEvaluator(registry)
	resolver := auth.NewSessionResolver(authRepo, cfg.SessionTTL)
	guard := authz.NewGuard(authz.GuardConfig{
		Evaluator: evaluator,
		Resolver:  resolver,
		Recorder:  auditRecorder,
		Observer:  metrics,
		Logger:    logger,
	})

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, guard, auditRecorder)
	usersHandler := users.NewHandler(logger, usersService, templates, csrfManager)

	auditRepo := audit.NewRepository(dbpool)
	auditService := audit.NewService(auditRepo, auditRecorder, guard)
	auditHandler := audit.NewHandler(logger, auditService, templates, csrfManager)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Guard:          guard,
		AuthHandler:    authHandler,
		UsersHandler:   usersHandler,
		AuditHandler:   auditHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
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
