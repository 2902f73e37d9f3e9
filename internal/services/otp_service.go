package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
)

// OTPPolicy configures one-time codes. MaxAttempts bounds the guesses a
// single code accepts before it is discarded.
type OTPPolicy struct {
	TTL            time.Duration
	ResendCooldown time.Duration
	Length         int
	MaxAttempts    int
}

// OTPService issues and consumes the email-verification and password-reset
// codes. Only SHA-256 digests of codes are stored.
type OTPService struct {
	repo   UserRepository
	mailer Mailer
	audit  Auditor
	policy OTPPolicy
	logger *slog.Logger
	now    func() time.Time
}

func NewOTPService(repo UserRepository, mailer Mailer, audit Auditor, policy OTPPolicy, logger *slog.Logger) *OTPService {
	return &OTPService{
		repo:   repo,
		mailer: mailer,
		audit:  audit,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Issue stores a fresh code on channel and mails it. With rateLimited set, a
// code issued less than ResendCooldown ago blocks the new one with ErrTooSoon.
// Mail failures are logged, not returned.
func (s *OTPService) Issue(ctx context.Context, user *models.User, channel models.OTPChannel, rateLimited bool) error {
	if channel == models.OTPChannelEmailVerification && user.EmailVerified {
		return models.ErrAlreadyVerified
	}

	now := s.now()

	var latestPrevExpiry *time.Time
	if rateLimited {
		if _, expiresAt := user.CodeFor(channel); expiresAt != nil {
			issuedAt := expiresAt.Add(-s.policy.TTL)
			if now.Sub(issuedAt) < s.policy.ResendCooldown {
				return models.ErrTooSoon
			}
		}
		// guards the same rule against a concurrent issue
		cutoff := now.Add(s.policy.TTL - s.policy.ResendCooldown)
		latestPrevExpiry = &cutoff
	}

	code, err := generateNumericCode(s.policy.Length)
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}
	expiresAt := now.Add(s.policy.TTL)

	applied, err := s.repo.SetOTP(ctx, user.ID, channel, auth.HashCode(code), expiresAt, latestPrevExpiry, now)
	if err != nil {
		return storeFailure(ctx, s.logger, "set_otp", err)
	}
	if !applied {
		return models.ErrTooSoon
	}

	dispatch(ctx, s.logger, string(channel), func() error {
		if channel == models.OTPChannelPasswordReset {
			return s.mailer.SendPasswordResetCode(ctx, user.Email, code, expiresAt)
		}
		return s.mailer.SendVerificationCode(ctx, user.Email, code, expiresAt)
	})

	s.logger.InfoContext(ctx, "otp issued",
		slog.String("user_id", user.ID),
		slog.String("channel", string(channel)),
	)
	return nil
}

// VerifyEmail consumes a live email-verification code and marks the address
// verified. The code is cleared, so it works exactly once.
func (s *OTPService) VerifyEmail(ctx context.Context, user *models.User, code string) (*models.User, error) {
	if user.EmailVerified {
		return nil, models.ErrAlreadyVerified
	}

	attempts, err := s.spendAttempt(ctx, user, models.OTPChannelEmailVerification)
	if err != nil {
		return nil, err
	}

	verified, err := s.repo.ConsumeEmailOTP(ctx, user.ID, auth.HashCode(code), s.now())
	if errors.Is(err, models.ErrNotFound) {
		return nil, s.missed(ctx, user, models.OTPChannelEmailVerification, attempts)
	}
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "consume_email_otp", err)
	}

	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventEmailVerified,
		ActorID:   user.ID,
		SubjectID: user.ID,
		Success:   true,
	})
	dispatch(ctx, s.logger, "welcome", func() error {
		return s.mailer.SendWelcomeNotice(ctx, verified.Email)
	})
	return verified, nil
}

// ResetPassword consumes a live password-reset code and installs
// newPasswordHash in the same write
func (s *OTPService) ResetPassword(ctx context.Context, user *models.User, code, newPasswordHash string) (*models.User, error) {
	attempts, err := s.spendAttempt(ctx, user, models.OTPChannelPasswordReset)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.ConsumePasswordResetOTP(ctx, user.ID, auth.HashCode(code), newPasswordHash, s.now())
	if errors.Is(err, models.ErrNotFound) {
		return nil, s.missed(ctx, user, models.OTPChannelPasswordReset, attempts)
	}
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "consume_password_reset_otp", err)
	}

	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventPasswordReset,
		ActorID:   user.ID,
		SubjectID: user.ID,
		Success:   true,
	})
	dispatch(ctx, s.logger, "password_changed", func() error {
		return s.mailer.SendPasswordChangedNotice(ctx, updated.Email)
	})
	return updated, nil
}

// spendAttempt takes one guess from the code's budget. A missing or exhausted
// code reads as ErrInvalidOrExpiredOTP.
func (s *OTPService) spendAttempt(ctx context.Context, user *models.User, channel models.OTPChannel) (int, error) {
	attempts, err := s.repo.ReserveOTPAttempt(ctx, user.ID, channel, s.policy.MaxAttempts, s.now())
	if errors.Is(err, models.ErrNotFound) {
		return 0, models.ErrInvalidOrExpiredOTP
	}
	if err != nil {
		return 0, storeFailure(ctx, s.logger, "reserve_otp_attempt", err)
	}
	return attempts, nil
}

// missed answers a wrong or expired code, discarding the code once its last
// guess is spent
func (s *OTPService) missed(ctx context.Context, user *models.User, channel models.OTPChannel, attempts int) error {
	if attempts < s.policy.MaxAttempts {
		return models.ErrInvalidOrExpiredOTP
	}

	if err := s.repo.BurnExhaustedOTP(ctx, user.ID, channel, s.policy.MaxAttempts, s.now()); err != nil {
		// the spent budget already blocks further guesses
		s.logger.WarnContext(ctx, "failed to discard exhausted code",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	s.logger.WarnContext(ctx, "otp attempts exhausted",
		slog.String("user_id", user.ID),
		slog.String("channel", string(channel)),
	)
	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventOTPExhausted,
		SubjectID: user.ID,
		Success:   false,
		Details:   models.AuditDetails{"channel": string(channel), "attempts": attempts},
	})
	return models.ErrInvalidOrExpiredOTP
}

// Status reports whether an email-verification code is outstanding and live.
// It never consumes the code.
func (s *OTPService) Status(user *models.User) *models.OTPStatus {
	hash, expiresAt := user.CodeFor(models.OTPChannelEmailVerification)
	if hash == "" || expiresAt == nil || s.now().After(*expiresAt) {
		return &models.OTPStatus{Valid: false}
	}
	return &models.OTPStatus{Valid: true, ExpiresAt: expiresAt}
}

// generateNumericCode returns length uniformly random decimal digits
func generateNumericCode(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
