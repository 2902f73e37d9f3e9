package services

import (
	"context"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// UserRepository is the identity store the services depend on. Every write is
// an atomic single-row read-modify-write.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)

	IncrementFailedAttempts(ctx context.Context, id string, now time.Time, window time.Duration) (*models.FailureCount, error)
	ResetFailedAttempts(ctx context.Context, id string, now time.Time) error
	ApplyStatus(ctx context.Context, id string, change models.StatusChange, expected models.AccountStatus) (models.AccountStatus, *models.User, error)
	AutoUnlock(ctx context.Context, id string, now time.Time) (*models.User, error)

	SetOTP(ctx context.Context, id string, channel models.OTPChannel, codeHash string, expiresAt time.Time, latestPrevExpiry *time.Time, now time.Time) (bool, error)
	ReserveOTPAttempt(ctx context.Context, id string, channel models.OTPChannel, maxAttempts int, now time.Time) (int, error)
	BurnExhaustedOTP(ctx context.Context, id string, channel models.OTPChannel, maxAttempts int, now time.Time) error
	ConsumeEmailOTP(ctx context.Context, id, codeHash string, now time.Time) (*models.User, error)
	ConsumePasswordResetOTP(ctx context.Context, id, codeHash, newPasswordHash string, now time.Time) (*models.User, error)

	SetPendingMFA(ctx context.Context, id string, pending models.PendingMFA, now time.Time) error
	ActivateMFA(ctx context.Context, id string, pendingCiphertext []byte, now time.Time) (*models.User, error)
	ReserveMFAAttempt(ctx context.Context, id string, now time.Time, window time.Duration, maxAttempts int) (*models.FailureCount, error)
	ConsumeBackupCode(ctx context.Context, id, codeHash string, now time.Time) (*models.User, error)
	TouchMFAUse(ctx context.Context, id string, now, notUsedSince time.Time) (bool, error)
	DisableMFA(ctx context.Context, id string, now time.Time) error
}

// TokenRevocationRepository is the token denylist
type TokenRevocationRepository interface {
	RevokeToken(ctx context.Context, entry models.RevokedToken) (bool, error)
	IsTokenRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error)
}

// AuditLogRepository persists audit events
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
	ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*models.AuditLog, error)
}

// Auditor is the audit sink. Recording never fails the caller.
type Auditor interface {
	Record(ctx context.Context, event AuditEvent)
}

// PasswordHasher is satisfied by pkg/auth.Hasher
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) bool
	CompareDummy(password string)
}
