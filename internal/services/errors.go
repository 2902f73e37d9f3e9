package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BradenHooton/warden/internal/models"
)

// storeFailure logs a store error and collapses it to ErrUnavailable. Timeouts
// and cancellations log at warn level, anything else at error level. Callers
// handle ErrNotFound and ErrConflict before reaching here.
func storeFailure(ctx context.Context, logger *slog.Logger, op string, err error) error {
	if errors.Is(err, models.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		logger.WarnContext(ctx, "store unavailable", slog.String("op", op), slog.Any("error", err))
		return models.ErrUnavailable
	}

	logger.ErrorContext(ctx, "store operation failed", slog.String("op", op), slog.Any("error", err))
	return models.ErrUnavailable
}
