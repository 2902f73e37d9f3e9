package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// LockoutPolicy bounds credential guessing per identity
type LockoutPolicy struct {
	MaxAttempts int
	Window      time.Duration
	Duration    time.Duration
}

// FailureOutcome is what the caller learns from a recorded failure
type FailureOutcome struct {
	Attempts    int
	Remaining   int
	Locked      bool
	LockedUntil *time.Time
}

// LockoutService counts failed logins on the identity row itself. The
// increment is a single atomic UPDATE, so concurrent failures never lose counts.
type LockoutService struct {
	repo   UserRepository
	status *AccountStatusService
	mailer Mailer
	audit  Auditor
	policy LockoutPolicy
	logger *slog.Logger
	now    func() time.Time
}

func NewLockoutService(repo UserRepository, status *AccountStatusService, mailer Mailer, audit Auditor, policy LockoutPolicy, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		repo:   repo,
		status: status,
		mailer: mailer,
		audit:  audit,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// RecordFailure counts one failed attempt. Reaching MaxAttempts inside the
// window locks the identity for Duration.
func (s *LockoutService) RecordFailure(ctx context.Context, user *models.User, meta models.RequestMeta) (*FailureOutcome, error) {
	now := s.now()

	count, err := s.repo.IncrementFailedAttempts(ctx, user.ID, now, s.policy.Window)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "increment_failed_attempts", err)
	}

	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventLoginFailure,
		SubjectID: user.ID,
		Success:   false,
		Details: requestDetails(meta).
			With("reason", "invalid_credentials").
			With("attempts", count.Attempts),
	})

	if count.Attempts < s.policy.MaxAttempts {
		return &FailureOutcome{
			Attempts:  count.Attempts,
			Remaining: s.policy.MaxAttempts - count.Attempts,
		}, nil
	}

	until := now.Add(s.policy.Duration)
	locked, err := s.status.lockForFailures(ctx, user.ID, until)
	if errors.Is(err, models.ErrNotFound) {
		// a concurrent attempt locked it first
		current, err := s.repo.GetByID(ctx, user.ID)
		if err != nil {
			return nil, storeFailure(ctx, s.logger, "reload_user", err)
		}
		return &FailureOutcome{
			Attempts:    count.Attempts,
			Locked:      current.Status == models.StatusLocked,
			LockedUntil: current.LockedUntil,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventAccountLocked,
		SubjectID: user.ID,
		Success:   true,
		Details: requestDetails(meta).
			With("attempts", count.Attempts).
			With("locked_until", until.UTC()),
	})
	s.logger.WarnContext(ctx, "account locked after failed login attempts",
		slog.String("user_id", user.ID),
		slog.Int("attempts", count.Attempts),
	)

	dispatch(ctx, s.logger, "account_locked", func() error {
		return s.mailer.SendAccountLockedNotice(ctx, locked.Email, locked.StatusReason, locked.LockedUntil)
	})

	return &FailureOutcome{
		Attempts:    count.Attempts,
		Locked:      true,
		LockedUntil: locked.LockedUntil,
	}, nil
}

// RecordSuccess clears the failure counter unconditionally
func (s *LockoutService) RecordSuccess(ctx context.Context, user *models.User) error {
	if err := s.repo.ResetFailedAttempts(ctx, user.ID, s.now()); err != nil {
		return storeFailure(ctx, s.logger, "reset_failed_attempts", err)
	}
	return nil
}

func requestDetails(meta models.RequestMeta) models.AuditDetails {
	details := models.AuditDetails{}
	if meta.IPAddress != "" {
		details["ip_address"] = meta.IPAddress
	}
	if meta.UserAgent != "" {
		details["user_agent"] = meta.UserAgent
	}
	return details
}
