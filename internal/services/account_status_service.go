package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// AccountStatusService owns the account lifecycle. Status is only ever
// written through this service.
type AccountStatusService struct {
	repo   UserRepository
	audit  Auditor
	logger *slog.Logger
	now    func() time.Time
}

func NewAccountStatusService(repo UserRepository, audit Auditor, logger *slog.Logger) *AccountStatusService {
	return &AccountStatusService{
		repo:   repo,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate lifts a temporary lock whose expiry has passed. The unlock is
// silent: no notice and no audit event. Any other identity is returned as is.
func (s *AccountStatusService) Evaluate(ctx context.Context, user *models.User) (*models.User, error) {
	now := s.now()
	if !user.LockExpired(now) {
		return user, nil
	}

	unlocked, err := s.repo.AutoUnlock(ctx, user.ID, now)
	if err == nil {
		s.logger.InfoContext(ctx, "lock expired, account reactivated", slog.String("user_id", user.ID))
		return unlocked, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, storeFailure(ctx, s.logger, "auto_unlock", err)
	}

	// someone else changed the row first, use what they wrote
	current, err := s.repo.GetByID(ctx, user.ID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "reload_user", err)
	}
	return current, nil
}

// Transition moves an identity to status, recording reason and actor. An
// Active target resets the failure counter and lock expiry in the same write.
// lockedUntil only applies to Locked targets; nil locks until manually lifted.
func (s *AccountStatusService) Transition(ctx context.Context, userID string, status models.AccountStatus, reason, actorID string, lockedUntil *time.Time) (*models.User, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidStatus, status)
	}
	return s.apply(ctx, userID, models.StatusChange{
		Status:      status,
		Reason:      reason,
		ActorID:     actorID,
		LockedUntil: lockedUntil,
		At:          s.now(),
	}, "")
}

// lockForFailures locks an identity that is still Active. It reports
// ErrNotFound when the identity was no longer Active.
func (s *AccountStatusService) lockForFailures(ctx context.Context, userID string, until time.Time) (*models.User, error) {
	return s.apply(ctx, userID, models.StatusChange{
		Status:      models.StatusLocked,
		Reason:      "too many failed login attempts",
		LockedUntil: &until,
		At:          s.now(),
	}, models.StatusActive)
}

func (s *AccountStatusService) apply(ctx context.Context, userID string, change models.StatusChange, expected models.AccountStatus) (*models.User, error) {
	previous, user, err := s.repo.ApplyStatus(ctx, userID, change, expected)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, storeFailure(ctx, s.logger, "apply_status", err)
	}

	details := models.AuditDetails{
		"old_status": string(previous),
		"new_status": string(change.Status),
		"reason":     change.Reason,
	}
	if change.LockedUntil != nil && change.Status == models.StatusLocked {
		details["locked_until"] = change.LockedUntil.UTC()
	}
	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventStatusChange,
		ActorID:   change.ActorID,
		SubjectID: userID,
		Success:   true,
		Details:   details,
	})

	s.logger.InfoContext(ctx, "account status changed",
		slog.String("user_id", userID),
		slog.String("old_status", string(previous)),
		slog.String("new_status", string(change.Status)),
	)
	return user, nil
}

// CheckAccess is the guard every session issuance and authenticated request
// passes through. Only Active identities get through.
func CheckAccess(user *models.User, now time.Time) error {
	switch user.Status {
	case models.StatusActive:
		return nil
	case models.StatusLocked:
		return &models.AccountLockedError{Until: user.LockedUntil, Now: now}
	case models.StatusSuspended:
		return models.ErrAccountSuspended
	case models.StatusTerminated:
		return models.ErrAccountTerminated
	case models.StatusInactive:
		return models.ErrAccountInactive
	}
	return fmt.Errorf("%w: %q", models.ErrInvalidStatus, user.Status)
}
