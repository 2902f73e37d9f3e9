package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// UserRepository is the durable identity store. Every mutation is a single
// UPDATE ... RETURNING so each one is an atomic read-modify-write on the row.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

const userColumns = `id, email, name, password_hash, role,
	status, status_reason, status_changed_at, status_changed_by,
	failed_login_attempts, failure_window_started_at, locked_until,
	email_verified, otp_code_hash, otp_expires_at, otp_failed_attempts,
	password_reset_otp_hash, password_reset_otp_expires_at, password_reset_otp_failed_attempts,
	mfa_enabled, mfa_secret_encrypted, mfa_secret_nonce, mfa_backup_codes,
	mfa_pending_secret_encrypted, mfa_pending_secret_nonce, mfa_pending_backup_codes, mfa_last_used_at,
	mfa_failed_attempts, mfa_failure_window_started_at,
	password_changed_at, created_at, updated_at`

// rowScanner interface for scanning user rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...any) error
}

func userScanTargets(user *models.User) []any {
	return []any{
		&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Role,
		&user.Status, &user.StatusReason, &user.StatusChangedAt, &user.StatusChangedBy,
		&user.FailedLoginAttempts, &user.FailureWindowStartedAt, &user.LockedUntil,
		&user.EmailVerified, &user.OTPCodeHash, &user.OTPExpiresAt, &user.OTPFailedAttempts,
		&user.PasswordResetOTPHash, &user.PasswordResetOTPExpiresAt, &user.PasswordResetOTPFailedAttempts,
		&user.MFAEnabled, &user.MFASecretEncrypted, &user.MFASecretNonce, pq.Array(&user.MFABackupCodes),
		&user.MFAPendingSecretEncrypted, &user.MFAPendingSecretNonce, pq.Array(&user.MFAPendingBackupCodes), &user.MFALastUsedAt,
		&user.MFAFailedAttempts, &user.MFAFailureWindowStartedAt,
		&user.PasswordChangedAt, &user.CreatedAt, &user.UpdatedAt,
	}
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	if err := scanner.Scan(userScanTargets(&user)...); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &user, nil
}

func nonNil(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	return codes
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail matches case-insensitively
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

// Create inserts a new identity. A duplicate email yields ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = models.RoleStudent
	}
	if user.Status == "" {
		user.Status = models.StatusActive
	}

	query := `
		INSERT INTO users (id, email, name, password_hash, role, status, email_verified, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.Name, user.PasswordHash, user.Role, user.Status,
		user.EmailVerified, user.PasswordChangedAt, user.CreatedAt, user.UpdatedAt,
	))
}

// IncrementFailedAttempts bumps the failure counter, restarting it at 1 when
// no window is open or the open window started at or before now-window.
func (r *UserRepository) IncrementFailedAttempts(ctx context.Context, id string, now time.Time, window time.Duration) (*models.FailureCount, error) {
	query := `
		UPDATE users SET
			failed_login_attempts = CASE
				WHEN failure_window_started_at IS NULL OR failure_window_started_at <= $3 THEN 1
				ELSE failed_login_attempts + 1
			END,
			failure_window_started_at = CASE
				WHEN failure_window_started_at IS NULL OR failure_window_started_at <= $3 THEN $2
				ELSE failure_window_started_at
			END,
			updated_at = $2
		WHERE id = $1
		RETURNING failed_login_attempts, failure_window_started_at
	`

	var fc models.FailureCount
	err := r.pool.QueryRow(ctx, query, id, now, now.Add(-window)).Scan(&fc.Attempts, &fc.WindowStartedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &fc, nil
}

// ApplyStatus writes a status transition and its breadcrumbs in one statement.
// Active clears the failure counter and lock expiry; Locked sets the expiry from
// the change; every other status clears the expiry. When expected is non-empty
// the write only happens if the current status matches, otherwise ErrNotFound.
// Returns the status held before the write.
func (r *UserRepository) ApplyStatus(ctx context.Context, id string, change models.StatusChange, expected models.AccountStatus) (models.AccountStatus, *models.User, error) {
	query := `
		WITH prev AS (
			SELECT id AS prev_id, status AS prev_status FROM users WHERE id = $1 FOR UPDATE
		)
		UPDATE users SET
			status = $2,
			status_reason = $3,
			status_changed_at = $4,
			status_changed_by = $5,
			locked_until = CASE WHEN $2 = 'locked' THEN $6::timestamptz ELSE NULL END,
			failed_login_attempts = CASE WHEN $2 = 'active' THEN 0 ELSE failed_login_attempts END,
			failure_window_started_at = CASE WHEN $2 = 'active' THEN NULL ELSE failure_window_started_at END,
			updated_at = $4
		FROM prev
		WHERE users.id = prev.prev_id AND ($7 = '' OR prev.prev_status = $7)
		RETURNING prev.prev_status, ` + userColumns

	var (
		previous models.AccountStatus
		user     models.User
	)
	targets := append([]any{&previous}, userScanTargets(&user)...)

	err := r.pool.QueryRow(ctx, query,
		id, string(change.Status), change.Reason, change.At, change.ActorID, change.LockedUntil, string(expected),
	).Scan(targets...)
	if err != nil {
		return "", nil, database.MapPostgresError(err)
	}
	return previous, &user, nil
}

// AutoUnlock reactivates an identity whose temporary lock expired at or before now.
// ErrNotFound means the row was not in an expired-lock state.
func (r *UserRepository) AutoUnlock(ctx context.Context, id string, now time.Time) (*models.User, error) {
	query := `
		UPDATE users SET
			status = 'active',
			status_reason = 'lock expired',
			status_changed_at = $2,
			status_changed_by = '',
			failed_login_attempts = 0,
			failure_window_started_at = NULL,
			locked_until = NULL,
			updated_at = $2
		WHERE id = $1 AND status = 'locked' AND locked_until IS NOT NULL AND locked_until <= $2
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query, id, now))
}

// ResetFailedAttempts clears the counter. A lock expiry is only kept while the row is locked.
func (r *UserRepository) ResetFailedAttempts(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE users SET
			failed_login_attempts = 0,
			failure_window_started_at = NULL,
			locked_until = CASE WHEN status = 'locked' THEN locked_until ELSE NULL END,
			updated_at = $2
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

type otpColumnSet struct {
	hash, expires, attempts string
}

func otpColumns(channel models.OTPChannel) (otpColumnSet, error) {
	switch channel {
	case models.OTPChannelEmailVerification:
		return otpColumnSet{"otp_code_hash", "otp_expires_at", "otp_failed_attempts"}, nil
	case models.OTPChannelPasswordReset:
		return otpColumnSet{"password_reset_otp_hash", "password_reset_otp_expires_at", "password_reset_otp_failed_attempts"}, nil
	}
	return otpColumnSet{}, fmt.Errorf("unknown otp channel %q: %w", channel, models.ErrBadRequest)
}

// SetOTP stores a code hash and expiry on a channel. When latestPrevExpiry is
// non-nil the write only happens if no code exists or the existing expiry is
// at or before it; applied reports whether the row was written. A new code
// starts with a fresh attempt budget.
func (r *UserRepository) SetOTP(ctx context.Context, id string, channel models.OTPChannel, codeHash string, expiresAt time.Time, latestPrevExpiry *time.Time, now time.Time) (bool, error) {
	cols, err := otpColumns(channel)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		UPDATE users SET %[1]s = $2, %[2]s = $3, %[3]s = 0, updated_at = $5
		WHERE id = $1 AND ($4::timestamptz IS NULL OR %[2]s IS NULL OR %[2]s <= $4::timestamptz)
	`, cols.hash, cols.expires, cols.attempts)

	result, err := r.pool.Exec(ctx, query, id, codeHash, expiresAt, latestPrevExpiry, now)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() == 1, nil
}

// ReserveOTPAttempt spends one guess against the channel's outstanding code
// and returns how many have been spent. ErrNotFound means there is no code or
// its budget of maxAttempts is used up.
func (r *UserRepository) ReserveOTPAttempt(ctx context.Context, id string, channel models.OTPChannel, maxAttempts int, now time.Time) (int, error) {
	cols, err := otpColumns(channel)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
		UPDATE users SET %[2]s = %[2]s + 1, updated_at = $3
		WHERE id = $1 AND %[1]s <> '' AND %[2]s < $2
		RETURNING %[2]s
	`, cols.hash, cols.attempts)

	var attempts int
	if err := r.pool.QueryRow(ctx, query, id, maxAttempts, now).Scan(&attempts); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return attempts, nil
}

// BurnExhaustedOTP discards the channel's code once maxAttempts guesses were
// spent on it. A code issued since then has a reset counter and is kept.
func (r *UserRepository) BurnExhaustedOTP(ctx context.Context, id string, channel models.OTPChannel, maxAttempts int, now time.Time) error {
	cols, err := otpColumns(channel)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE users SET %[1]s = '', %[2]s = NULL, updated_at = $3
		WHERE id = $1 AND %[3]s >= $2
	`, cols.hash, cols.expires, cols.attempts)

	if _, err := r.pool.Exec(ctx, query, id, maxAttempts, now); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// ConsumeEmailOTP marks the email verified if the stored code matches and is
// live at now, clearing the channel. ErrNotFound means no live matching code.
func (r *UserRepository) ConsumeEmailOTP(ctx context.Context, id, codeHash string, now time.Time) (*models.User, error) {
	query := `
		UPDATE users SET
			email_verified = TRUE,
			otp_code_hash = '',
			otp_expires_at = NULL,
			otp_failed_attempts = 0,
			updated_at = $3
		WHERE id = $1 AND otp_code_hash <> '' AND otp_code_hash = $2 AND otp_expires_at >= $3
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query, id, codeHash, now))
}

// ConsumePasswordResetOTP rotates the password hash if the reset code matches
// and is live at now, clearing the channel in the same write.
func (r *UserRepository) ConsumePasswordResetOTP(ctx context.Context, id, codeHash, newPasswordHash string, now time.Time) (*models.User, error) {
	query := `
		UPDATE users SET
			password_hash = $3,
			password_changed_at = $4,
			password_reset_otp_hash = '',
			password_reset_otp_expires_at = NULL,
			password_reset_otp_failed_attempts = 0,
			updated_at = $4
		WHERE id = $1 AND password_reset_otp_hash <> '' AND password_reset_otp_hash = $2
			AND password_reset_otp_expires_at >= $4
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query, id, codeHash, newPasswordHash, now))
}

// SetPendingMFA replaces any pending enrollment. The active secret is untouched.
func (r *UserRepository) SetPendingMFA(ctx context.Context, id string, pending models.PendingMFA, now time.Time) error {
	query := `
		UPDATE users SET
			mfa_pending_secret_encrypted = $2,
			mfa_pending_secret_nonce = $3,
			mfa_pending_backup_codes = $4,
			updated_at = $5
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, pending.SecretEncrypted, pending.SecretNonce, pq.Array(nonNil(pending.BackupCodes)), now)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ActivateMFA promotes the pending enrollment, provided it is still the one
// identified by pendingCiphertext.
func (r *UserRepository) ActivateMFA(ctx context.Context, id string, pendingCiphertext []byte, now time.Time) (*models.User, error) {
	query := `
		UPDATE users SET
			mfa_enabled = TRUE,
			mfa_secret_encrypted = mfa_pending_secret_encrypted,
			mfa_secret_nonce = mfa_pending_secret_nonce,
			mfa_backup_codes = mfa_pending_backup_codes,
			mfa_pending_secret_encrypted = NULL,
			mfa_pending_secret_nonce = NULL,
			mfa_pending_backup_codes = '{}',
			mfa_last_used_at = NULL,
			mfa_failed_attempts = 0,
			mfa_failure_window_started_at = NULL,
			updated_at = $3
		WHERE id = $1 AND mfa_pending_secret_encrypted = $2
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query, id, pendingCiphertext, now))
}

// ReserveMFAAttempt spends one second-factor attempt in the current window,
// opening a new window when none is open or the open one started at or
// before now-window. ErrNotFound means maxAttempts were already spent in the
// open window. A successful verification resets the counter.
func (r *UserRepository) ReserveMFAAttempt(ctx context.Context, id string, now time.Time, window time.Duration, maxAttempts int) (*models.FailureCount, error) {
	query := `
		UPDATE users SET
			mfa_failed_attempts = CASE
				WHEN mfa_failure_window_started_at IS NULL OR mfa_failure_window_started_at <= $3 THEN 1
				ELSE mfa_failed_attempts + 1
			END,
			mfa_failure_window_started_at = CASE
				WHEN mfa_failure_window_started_at IS NULL OR mfa_failure_window_started_at <= $3 THEN $2
				ELSE mfa_failure_window_started_at
			END,
			updated_at = $2
		WHERE id = $1 AND (
			mfa_failure_window_started_at IS NULL OR mfa_failure_window_started_at <= $3 OR mfa_failed_attempts < $4
		)
		RETURNING mfa_failed_attempts, mfa_failure_window_started_at
	`

	var fc models.FailureCount
	err := r.pool.QueryRow(ctx, query, id, now, now.Add(-window), maxAttempts).Scan(&fc.Attempts, &fc.WindowStartedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &fc, nil
}

// ConsumeBackupCode removes one hashed backup code. ErrNotFound means the code
// was not in the set, so a code can satisfy at most one caller.
func (r *UserRepository) ConsumeBackupCode(ctx context.Context, id, codeHash string, now time.Time) (*models.User, error) {
	query := `
		UPDATE users SET
			mfa_backup_codes = array_remove(mfa_backup_codes, $2),
			mfa_failed_attempts = 0,
			mfa_failure_window_started_at = NULL,
			updated_at = $3
		WHERE id = $1 AND mfa_enabled AND $2 = ANY(mfa_backup_codes)
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query, id, codeHash, now))
}

// TouchMFAUse records an accepted TOTP code unless another was accepted after
// notUsedSince; applied is false on replay.
func (r *UserRepository) TouchMFAUse(ctx context.Context, id string, now, notUsedSince time.Time) (bool, error) {
	query := `
		UPDATE users SET
			mfa_last_used_at = $2,
			mfa_failed_attempts = 0,
			mfa_failure_window_started_at = NULL,
			updated_at = $2
		WHERE id = $1 AND (mfa_last_used_at IS NULL OR mfa_last_used_at <= $3)
	`

	result, err := r.pool.Exec(ctx, query, id, now, notUsedSince)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *UserRepository) DisableMFA(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE users SET
			mfa_enabled = FALSE,
			mfa_secret_encrypted = NULL,
			mfa_secret_nonce = NULL,
			mfa_backup_codes = '{}',
			mfa_pending_secret_encrypted = NULL,
			mfa_pending_secret_nonce = NULL,
			mfa_pending_backup_codes = '{}',
			mfa_last_used_at = NULL,
			mfa_failed_attempts = 0,
			mfa_failure_window_started_at = NULL,
			updated_at = $2
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SweepStaleFailureWindows resets counters whose window elapsed on rows that are not locked
func (r *UserRepository) SweepStaleFailureWindows(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	query := `
		UPDATE users SET failed_login_attempts = 0, failure_window_started_at = NULL, updated_at = $1
		WHERE status <> 'locked' AND failure_window_started_at IS NOT NULL AND failure_window_started_at <= $2
	`

	result, err := r.pool.Exec(ctx, query, now, now.Add(-window))
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
