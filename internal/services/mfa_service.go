package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
)

// MFAPolicy configures enrollment and the second-factor attempt cap.
// MaxAttempts codes may be tried per identity within AttemptWindow; an
// accepted code resets the count.
type MFAPolicy struct {
	BackupCodeCount int
	MaxAttempts     int
	AttemptWindow   time.Duration
}

// MFAService manages TOTP enrollment and the second step of an MFA login
type MFAService struct {
	repo   UserRepository
	totp   *auth.TOTPManager
	audit  Auditor
	policy MFAPolicy
	logger *slog.Logger
	now    func() time.Time
}

func NewMFAService(repo UserRepository, totp *auth.TOTPManager, audit Auditor, policy MFAPolicy, logger *slog.Logger) *MFAService {
	return &MFAService{
		repo:   repo,
		totp:   totp,
		audit:  audit,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Setup generates a pending secret and backup codes. Any active secret stays
// in force until Activate succeeds. The plaintext is returned once.
func (s *MFAService) Setup(ctx context.Context, user *models.User) (*models.MFAEnrollment, error) {
	enrollment, err := s.totp.GenerateEnrollment(user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate enrollment: %w", err)
	}

	codes, err := s.totp.GenerateBackupCodes(s.policy.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	hashed := make([]string, len(codes))
	for i, code := range codes {
		hashed[i] = auth.HashCode(code)
	}

	err = s.repo.SetPendingMFA(ctx, user.ID, models.PendingMFA{
		SecretEncrypted: enrollment.SecretEncrypted,
		SecretNonce:     enrollment.Nonce,
		BackupCodes:     hashed,
	}, s.now())
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "set_pending_mfa", err)
	}

	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventMFASetup,
		ActorID:   user.ID,
		SubjectID: user.ID,
		Success:   true,
	})

	return &models.MFAEnrollment{
		Secret:      enrollment.Secret,
		OTPAuthURL:  enrollment.URL,
		QRCode:      enrollment.QRCodeDataURL,
		BackupCodes: codes,
	}, nil
}

// Activate checks code against the pending secret and, on success, makes the
// pending secret and backup codes the active ones
func (s *MFAService) Activate(ctx context.Context, user *models.User, code string) error {
	if !user.HasPendingMFA() {
		return models.ErrInvalidMFACode
	}

	secret, err := s.totp.DecryptSecret(user.MFAPendingSecretEncrypted, user.MFAPendingSecretNonce)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to decrypt pending mfa secret",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return models.ErrInvalidMFACode
	}

	if !s.totp.ValidateCode(string(secret), strings.TrimSpace(code), s.now()) {
		s.recordFailure(ctx, user, models.AuditEventMFAActivate)
		return models.ErrInvalidMFACode
	}

	_, err = s.repo.ActivateMFA(ctx, user.ID, user.MFAPendingSecretEncrypted, s.now())
	if errors.Is(err, models.ErrNotFound) {
		// a newer setup replaced the pending secret
		return models.ErrInvalidMFACode
	}
	if err != nil {
		return storeFailure(ctx, s.logger, "activate_mfa", err)
	}

	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventMFAActivate,
		ActorID:   user.ID,
		SubjectID: user.ID,
		Success:   true,
	})
	return nil
}

// VerifyLoginChallenge accepts either a current TOTP code or one unused
// backup code. A TOTP code is rejected if another was accepted within the
// replay window; a backup code is removed when used. Once MaxAttempts codes
// fail within the window every attempt gets ErrTooManyAttempts until the
// window runs out.
func (s *MFAService) VerifyLoginChallenge(ctx context.Context, user *models.User, code string) error {
	if !user.MFAEnabled {
		return models.ErrInvalidMFACode
	}

	count, err := s.repo.ReserveMFAAttempt(ctx, user.ID, s.now(), s.policy.AttemptWindow, s.policy.MaxAttempts)
	if errors.Is(err, models.ErrNotFound) {
		s.logger.WarnContext(ctx, "mfa attempt refused, limit reached", slog.String("user_id", user.ID))
		return models.ErrTooManyAttempts
	}
	if err != nil {
		return storeFailure(ctx, s.logger, "reserve_mfa_attempt", err)
	}

	code = strings.TrimSpace(code)
	if isTOTPCode(code) {
		err = s.verifyTOTP(ctx, user, code)
	} else {
		err = s.consumeBackupCode(ctx, user, code)
	}

	if errors.Is(err, models.ErrInvalidMFACode) && count.Attempts >= s.policy.MaxAttempts {
		s.logger.WarnContext(ctx, "mfa attempts exhausted",
			slog.String("user_id", user.ID),
			slog.Int("attempts", count.Attempts))
		s.audit.Record(ctx, AuditEvent{
			Kind:      models.AuditEventMFAExhausted,
			SubjectID: user.ID,
			Success:   false,
			Details:   models.AuditDetails{"attempts": count.Attempts},
		})
		return models.ErrTooManyAttempts
	}
	return err
}

func (s *MFAService) verifyTOTP(ctx context.Context, user *models.User, code string) error {
	secret, err := s.totp.DecryptSecret(user.MFASecretEncrypted, user.MFASecretNonce)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to decrypt mfa secret",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return models.ErrInvalidMFACode
	}

	now := s.now()
	if !s.totp.ValidateCode(string(secret), code, now) {
		s.recordFailure(ctx, user, models.AuditEventMFAVerify)
		return models.ErrInvalidMFACode
	}

	applied, err := s.repo.TouchMFAUse(ctx, user.ID, now, now.Add(-auth.TOTPReplayWindow))
	if err != nil {
		return storeFailure(ctx, s.logger, "touch_mfa_use", err)
	}
	if !applied {
		s.logger.WarnContext(ctx, "totp code replay rejected", slog.String("user_id", user.ID))
		s.recordFailure(ctx, user, models.AuditEventMFAVerify)
		return models.ErrInvalidMFACode
	}

	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventMFAVerify,
		ActorID:   user.ID,
		SubjectID: user.ID,
		Success:   true,
		Details:   models.AuditDetails{"method": "totp"},
	})
	return nil
}

func (s *MFAService) consumeBackupCode(ctx context.Context, user *models.User, code string) error {
	normalized := normalizeBackupCode(code)
	if normalized == "" {
		return models.ErrInvalidMFACode
	}

	updated, err := s.repo.ConsumeBackupCode(ctx, user.ID, auth.HashCode(normalized), s.now())
	if errors.Is(err, models.ErrNotFound) {
		s.recordFailure(ctx, user, models.AuditEventMFABackupCodeUsed)
		return models.ErrInvalidMFACode
	}
	if err != nil {
		return storeFailure(ctx, s.logger, "consume_backup_code", err)
	}

	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventMFABackupCodeUsed,
		ActorID:   user.ID,
		SubjectID: user.ID,
		Success:   true,
		Details:   models.AuditDetails{"backup_codes_remaining": len(updated.MFABackupCodes)},
	})
	return nil
}

// Disable clears every MFA field, pending enrollment included
func (s *MFAService) Disable(ctx context.Context, user *models.User) error {
	if err := s.repo.DisableMFA(ctx, user.ID, s.now()); err != nil {
		return storeFailure(ctx, s.logger, "disable_mfa", err)
	}

	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventMFADisable,
		ActorID:   user.ID,
		SubjectID: user.ID,
		Success:   true,
	})
	return nil
}

// Status reports MFA state without touching the store
func (s *MFAService) Status(user *models.User) *models.MFAStatus {
	return &models.MFAStatus{
		MFAEnabled:           user.MFAEnabled,
		PendingActivation:    user.HasPendingMFA(),
		BackupCodesRemaining: len(user.MFABackupCodes),
	}
}

func (s *MFAService) recordFailure(ctx context.Context, user *models.User, kind string) {
	s.audit.Record(ctx, AuditEvent{
		Kind:      kind,
		SubjectID: user.ID,
		Success:   false,
		Details:   models.AuditDetails{"reason": "invalid_code"},
	})
}

func isTOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizeBackupCode accepts codes typed in lower case or split with dashes or spaces
func normalizeBackupCode(code string) string {
	code = strings.ToUpper(code)
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, code)
}
