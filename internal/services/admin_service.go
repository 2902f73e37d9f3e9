package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// AdminService carries out administrator status actions
type AdminService struct {
	repo         UserRepository
	status       *AccountStatusService
	mailer       Mailer
	audit        *AuditService
	storeTimeout time.Duration
	logger       *slog.Logger
}

func NewAdminService(repo UserRepository, status *AccountStatusService, mailer Mailer, audit *AuditService, storeTimeout time.Duration, logger *slog.Logger) *AdminService {
	return &AdminService{
		repo:         repo,
		status:       status,
		mailer:       mailer,
		audit:        audit,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// Lock locks an identity until an administrator unlocks it
func (s *AdminService) Lock(ctx context.Context, actorID, userID, reason string) error {
	user, err := s.transition(ctx, actorID, userID, models.StatusLocked, reason)
	if err != nil {
		return err
	}
	dispatch(ctx, s.logger, "account_locked", func() error {
		return s.mailer.SendAccountLockedNotice(ctx, user.Email, user.StatusReason, nil)
	})
	return nil
}

// Unlock reactivates a locked identity and resets its failure counter
func (s *AdminService) Unlock(ctx context.Context, actorID, userID, reason string) error {
	user, err := s.transition(ctx, actorID, userID, models.StatusActive, reason)
	if err != nil {
		return err
	}
	dispatch(ctx, s.logger, "account_unlocked", func() error {
		return s.mailer.SendAccountUnlockedNotice(ctx, user.Email)
	})
	return nil
}

func (s *AdminService) Suspend(ctx context.Context, actorID, userID, reason string) error {
	_, err := s.transition(ctx, actorID, userID, models.StatusSuspended, reason)
	return err
}

func (s *AdminService) Terminate(ctx context.Context, actorID, userID, reason string) error {
	_, err := s.transition(ctx, actorID, userID, models.StatusTerminated, reason)
	return err
}

// Reactivate returns a suspended, inactive or locked identity to Active
func (s *AdminService) Reactivate(ctx context.Context, actorID, userID, reason string) error {
	_, err := s.transition(ctx, actorID, userID, models.StatusActive, reason)
	return err
}

// AuditTrail returns recent audit events about an identity
func (s *AdminService) AuditTrail(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	if _, err := s.repo.GetByID(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, storeFailure(ctx, s.logger, "get_user_by_id", err)
	}

	logs, err := s.audit.SubjectTrail(ctx, userID, limit, offset)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "list_audit_logs", err)
	}
	return logs, nil
}

func (s *AdminService) transition(ctx context.Context, actorID, userID string, status models.AccountStatus, reason string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	// an administrator cannot shut themselves out
	if actorID == userID && status != models.StatusActive {
		return nil, fmt.Errorf("%w: cannot change your own account status", models.ErrForbidden)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "administrator action"
	}

	user, err := s.status.Transition(ctx, userID, status, reason, actorID, nil)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "admin status action",
		slog.String("actor_id", actorID),
		slog.String("user_id", userID),
		slog.String("status", string(status)),
	)
	return user, nil
}

func (s *AdminService) timeout() time.Duration {
	if s.storeTimeout <= 0 {
		return 5 * time.Second
	}
	return s.storeTimeout
}
