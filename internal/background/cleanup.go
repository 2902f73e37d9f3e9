package background

import (
	"context"
	"log/slog"
	"time"
)

const sweepTimeout = 30 * time.Second

// ExpiredTokenPurger drops denylist entries whose token has expired
type ExpiredTokenPurger interface {
	CleanupExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// FailureWindowSweeper resets failure counters whose window has lapsed
type FailureWindowSweeper interface {
	SweepStaleFailureWindows(ctx context.Context, now time.Time, window time.Duration) (int64, error)
}

// AuditPruner deletes audit records older than a cutoff
type AuditPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupConfig controls the periodic sweep. A zero AuditRetention keeps
// audit records forever; a nil AuditPruner does the same.
type CleanupConfig struct {
	Interval       time.Duration
	LockoutWindow  time.Duration
	AuditRetention time.Duration
}

// CleanupManager periodically purges expired denylist entries, resets stale
// lockout windows and prunes old audit records. Reads never depend on it:
// every expiry is also checked at read time.
type CleanupManager struct {
	denylist ExpiredTokenPurger
	users    FailureWindowSweeper
	audit    AuditPruner
	cfg      CleanupConfig
	logger   *slog.Logger
	now      func() time.Time
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	denylist ExpiredTokenPurger,
	users FailureWindowSweeper,
	audit AuditPruner,
	cfg CleanupConfig,
	logger *slog.Logger,
) *CleanupManager {
	return &CleanupManager{
		denylist: denylist,
		users:    users,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep immediately and then on every interval until Stop is
// called or ctx is done
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.cfg.Interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep. Each step is independent; a failing step
// is logged and the rest still run.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	now := cm.now()

	if cm.denylist != nil {
		cm.step(cleanupCtx, "expired_tokens", func(ctx context.Context) (int64, error) {
			return cm.denylist.CleanupExpiredTokens(ctx, now)
		})
	}

	if cm.users != nil && cm.cfg.LockoutWindow > 0 {
		cm.step(cleanupCtx, "stale_failure_windows", func(ctx context.Context) (int64, error) {
			return cm.users.SweepStaleFailureWindows(ctx, now, cm.cfg.LockoutWindow)
		})
	}

	if cm.audit != nil && cm.cfg.AuditRetention > 0 {
		cm.step(cleanupCtx, "audit_logs", func(ctx context.Context) (int64, error) {
			return cm.audit.DeleteOlderThan(ctx, now.Add(-cm.cfg.AuditRetention))
		})
	}
}

func (cm *CleanupManager) step(ctx context.Context, name string, run func(context.Context) (int64, error)) {
	rows, err := run(ctx)
	if err != nil {
		cm.logger.ErrorContext(ctx, "cleanup step failed",
			slog.String("step", name),
			slog.Any("error", err),
		)
		return
	}

	if rows > 0 {
		cm.logger.InfoContext(ctx, "cleanup step completed",
			slog.String("step", name),
			slog.Int64("rows_affected", rows),
		)
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
