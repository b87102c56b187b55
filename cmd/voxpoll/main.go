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
	"github.com/redis/go-redis/v9"

	"github.com/voxpoll/voxpoll/internal/app"
	"github.com/voxpoll/voxpoll/internal/auth"
	"github.com/voxpoll/voxpoll/internal/observability"
	"github.com/voxpoll/voxpoll/internal/polls"
	"github.com/voxpoll/voxpoll/internal/platform/db"
	"github.com/voxpoll/voxpoll/internal/rbac"
	"github.com/voxpoll/voxpoll/jobs"
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

	if cfg.AutoMigrate {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(rbacRepo, rbac.ServiceConfig{
		FilterExpiredRoles: cfg.FilterExpiredRoles,
	})
	rbacMW := rbac.Middleware{Service: rbacService, Logger: logger}

	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, rbacService, tokens,
		auth.PasswordPolicy{MinLength: cfg.PasswordMinLength}, logger, metrics)
	authHandler := auth.NewHandler(logger, authService)

	rbacHandler := rbac.NewHandler(logger, rbacService, rbacMW)

	pollRepo := polls.NewRepository(pool)
	pollService := polls.NewService(pollRepo, logger)
	pollHandler := polls.NewHandler(logger, pollService, rbacMW)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		TokenIssuer:  tokens,
		AuthHandler:  authHandler,
		RBACHandler:  rbacHandler,
		PollsHandler: pollHandler,
		JobHandler:   jobHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", slog.Any("error", err))
	}
	logger.Info("server stopped")
}
