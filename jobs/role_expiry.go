package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxpoll/voxpoll/internal/rbac"
)

// SweepExpiredRoles deactivates user role assignments whose expiry has passed.
func SweepExpiredRoles(ctx context.Context, svc *rbac.Service, logger *slog.Logger) error {
	if svc == nil {
		return nil
	}
	n, err := svc.DeactivateExpiredRoles(ctx, time.Now().UTC())
	if err != nil {
		if logger != nil {
			logger.Error("role expiry sweep", slog.Any("error", err))
		}
		return err
	}
	if logger != nil {
		logger.Info("role expiry sweep", slog.Int64("deactivated", n))
	}
	return nil
}
