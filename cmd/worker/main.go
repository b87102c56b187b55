package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/voxpoll/voxpoll/internal/app"
	"github.com/voxpoll/voxpoll/internal/platform/db"
	"github.com/voxpoll/voxpoll/internal/rbac"
	"github.com/voxpoll/voxpoll/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rbacService := rbac.NewService(rbac.NewRepository(pool), rbac.ServiceConfig{
		FilterExpiredRoles: cfg.FilterExpiredRoles,
	})

	pollSweepTask, err := jobs.NewPollStatusSweepTask(jobs.SweepPayload{Reason: "cron"})
	if err != nil {
		logger.Error("build poll sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	roleSweepTask, err := jobs.NewRoleExpirySweepTask(jobs.SweepPayload{Reason: "cron"})
	if err != nil {
		logger.Error("build role sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPollStatusSweep, Handler: func(ctx context.Context, t *asynq.Task) error {
				return jobs.SweepPollStatuses(ctx, pool, logger)
			}},
			{Type: jobs.TaskRoleExpirySweep, Handler: func(ctx context.Context, t *asynq.Task) error {
				return jobs.SweepExpiredRoles(ctx, rbacService, logger)
			}},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: pollSweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "10 * * * *", Task: roleSweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
