package jobs

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SweepPollStatuses moves scheduled drafts into active and overdue active
// polls into expired. Both statements are idempotent.
func SweepPollStatuses(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return nil
	}
	activated, err := pool.Exec(ctx, `
		UPDATE polls SET status = 'active', updated_at = now()
		WHERE status = 'draft' AND starts_at IS NOT NULL AND starts_at <= now()`)
	if err != nil {
		if logger != nil {
			logger.Error("activate scheduled polls", slog.Any("error", err))
		}
		return err
	}
	expired, err := pool.Exec(ctx, `
		UPDATE polls SET status = 'expired', updated_at = now()
		WHERE status = 'active' AND ends_at IS NOT NULL AND ends_at < now()`)
	if err != nil {
		if logger != nil {
			logger.Error("expire overdue polls", slog.Any("error", err))
		}
		return err
	}
	if logger != nil {
		logger.Info("poll status sweep",
			slog.Int64("activated", activated.RowsAffected()),
			slog.Int64("expired", expired.RowsAffected()))
	}
	return nil
}
