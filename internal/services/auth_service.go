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
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// AuthServiceDeps groups the collaborators of AuthService
type AuthServiceDeps struct {
	Users        UserRepository
	Status       *AccountStatusService
	Lockout      *LockoutService
	Tokens       *TokenService
	OTP          *OTPService
	MFA          *MFAService
	Hasher       PasswordHasher
	Audit        Auditor
	Timing       *auth.TimingDelay
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// AuthService is the entry point for every authentication flow. It sequences
// the status machine, lockout tracker, token authority, OTP and MFA engines.
type AuthService struct {
	repo         UserRepository
	status       *AccountStatusService
	lockout      *LockoutService
	tokens       *TokenService
	otp          *OTPService
	mfa          *MFAService
	hasher       PasswordHasher
	audit        Auditor
	timing       *auth.TimingDelay
	storeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(deps AuthServiceDeps) *AuthService {
	return &AuthService{
		repo:         deps.Users,
		status:       deps.Status,
		lockout:      deps.Lockout,
		tokens:       deps.Tokens,
		otp:          deps.OTP,
		mfa:          deps.MFA,
		hasher:       deps.Hasher,
		audit:        deps.Audit,
		timing:       deps.Timing,
		storeTimeout: deps.StoreTimeout,
		logger:       deps.Logger,
		now:          time.Now,
	}
}

func (s *AuthService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// findByEmail returns (nil, nil) for an unknown email
func (s *AuthService) findByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "get_user_by_email", err)
	}
	return user, nil
}

func (s *AuthService) findByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, storeFailure(ctx, s.logger, "get_user_by_id", err)
	}
	return user, nil
}

// Register creates an Active, unverified identity and mails its first
// verification code. Self-registration cannot request the admin role.
func (s *AuthService) Register(ctx context.Context, name, email, password, role string) (*models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if role == "" {
		role = models.RoleStudent
	}
	if role == models.RoleAdmin {
		return nil, fmt.Errorf("%w: role %q cannot be self-assigned", models.ErrForbidden, role)
	}
	if !models.IsValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrBadRequest, role)
	}
	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, &models.User{
		Email:        normalizeEmail(email),
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         role,
		Status:       models.StatusActive,
	})
	if errors.Is(err, models.ErrConflict) {
		return nil, models.ErrEmailInUse
	}
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "create_user", err)
	}

	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventRegister,
		ActorID:   user.ID,
		SubjectID: user.ID,
		Success:   true,
		Details:   models.AuditDetails{"email": user.Email, "role": user.Role},
	})

	if err := s.otp.Issue(ctx, user, models.OTPChannelEmailVerification, false); err != nil {
		s.logger.WarnContext(ctx, "failed to issue initial verification code",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	return user, nil
}

// Login checks credentials and returns either a session pair or, for MFA
// identities, a temp-token challenge. Unknown emails and wrong passwords both
// yield ErrInvalidCredentials after the same padded delay.
func (s *AuthService) Login(ctx context.Context, email, password string, meta models.RequestMeta) (*models.LoginResult, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.login(ctx, email, password, meta)
	s.timing.WaitFrom(start, err == nil)
	return result, err
}

func (s *AuthService) login(ctx context.Context, email, password string, meta models.RequestMeta) (*models.LoginResult, error) {
	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.hasher.CompareDummy(password)
		s.audit.Record(ctx, AuditEvent{
			Kind:    models.AuditEventLoginFailure,
			Success: false,
			Details: requestDetails(meta).
				With("email", normalizeEmail(email)).
				With("reason", "invalid_credentials"),
		})
		return nil, models.ErrInvalidCredentials
	}

	user, err = s.status.Evaluate(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := CheckAccess(user, s.now()); err != nil {
		s.audit.Record(ctx, AuditEvent{
			Kind:      models.AuditEventLoginFailure,
			SubjectID: user.ID,
			Success:   false,
			Details:   requestDetails(meta).With("reason", string(user.Status)),
		})
		return nil, err
	}

	if !s.hasher.Compare(user.PasswordHash, password) {
		outcome, err := s.lockout.RecordFailure(ctx, user, meta)
		if err != nil {
			return nil, err
		}
		if outcome.Locked {
			return nil, &models.AccountLockedError{Until: outcome.LockedUntil, Now: s.now()}
		}
		return nil, models.ErrInvalidCredentials
	}

	if err := s.lockout.RecordSuccess(ctx, user); err != nil {
		return nil, err
	}

	if !user.EmailVerified {
		s.audit.Record(ctx, AuditEvent{
			Kind:      models.AuditEventLoginFailure,
			SubjectID: user.ID,
			Success:   false,
			Details:   requestDetails(meta).With("reason", "email_not_verified"),
		})
		return nil, models.ErrEmailNotVerified
	}

	if user.MFAEnabled {
		challenge, err := s.tokens.IssueMFAChallenge(user)
		if err != nil {
			return nil, err
		}
		s.audit.Record(ctx, AuditEvent{
			Kind:      models.AuditEventLoginMFAChallenge,
			SubjectID: user.ID,
			Success:   true,
			Details:   requestDetails(meta),
		})
		return &models.LoginResult{Challenge: challenge}, nil
	}

	pair, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventLoginSuccess,
		ActorID:   user.ID,
		SubjectID: user.ID,
		Success:   true,
		Details:   requestDetails(meta),
	})
	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))
	return &models.LoginResult{Session: pair}, nil
}

// Refresh rotates a refresh token into a new session pair. The identity must
// still be allowed in and the token must predate no password change.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.SessionPair, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pair, user, err := s.tokens.Refresh(ctx, refreshToken, s.sessionSubject)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventTokenRefresh,
		ActorID:   user.ID,
		SubjectID: user.ID,
		Success:   true,
	})
	return pair, nil
}

// Authenticate is the per-request gate: verified access token, not revoked,
// identity allowed in, token newer than the last password change. The
// returned claims carry the stored role.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.TokenClaims, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	claims, err := s.tokens.Verify(ctx, accessToken, models.TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	user, err := s.sessionSubject(ctx, claims)
	if err != nil {
		return nil, err
	}

	claims.Role = user.Role
	claims.Email = user.Email
	return claims, nil
}

// sessionSubject loads the identity behind verified session claims and
// applies the status guard and password-change cutoff
func (s *AuthService) sessionSubject(ctx context.Context, claims *models.TokenClaims) (*models.User, error) {
	user, err := s.findByID(ctx, claims.UserID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	user, err = s.status.Evaluate(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := CheckAccess(user, s.now()); err != nil {
		return nil, err
	}
	if issuedBeforePasswordChange(claims, user) {
		return nil, models.ErrInvalidToken
	}
	return user, nil
}

// issuedBeforePasswordChange compares at second precision, the resolution of iat
func issuedBeforePasswordChange(claims *models.TokenClaims, user *models.User) bool {
	if user.PasswordChangedAt == nil || claims.IssuedAt == nil {
		return false
	}
	return claims.IssuedAt.Time.Before(user.PasswordChangedAt.Truncate(time.Second))
}

// Logout revokes the access token and, when given, the refresh token. It
// always succeeds. Expired tokens are still revoked; tokens without a valid
// signature are ignored and never reach the audit trail.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var subject string
	for _, token := range []string{accessToken, refreshToken} {
		if token == "" {
			continue
		}
		claims, err := s.tokens.Revoke(ctx, token, "logout")
		if err != nil {
			s.logger.DebugContext(ctx, "logout token not revoked", slog.Any("error", err))
			continue
		}
		subject = claims.UserID
	}

	if subject != "" {
		s.audit.Record(ctx, AuditEvent{
			Kind:      models.AuditEventLogout,
			ActorID:   subject,
			SubjectID: subject,
			Success:   true,
		})
	}
	return nil
}

// SendOTP mails a new email-verification code, subject to the resend
// cooldown. Unknown emails succeed silently.
func (s *AuthService) SendOTP(ctx context.Context, email string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.findByEmail(ctx, email)
	if err != nil || user == nil {
		return err
	}
	return s.otp.Issue(ctx, user, models.OTPChannelEmailVerification, true)
}

// ResendOTP is SendOTP for a caller that already received a code
func (s *AuthService) ResendOTP(ctx context.Context, email string) error {
	return s.SendOTP(ctx, email)
}

// VerifyOTP consumes an email-verification code
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return models.ErrInvalidOrExpiredOTP
	}

	_, err = s.otp.VerifyEmail(ctx, user, code)
	return err
}

// OTPStatus reports whether a live email-verification code is outstanding
func (s *AuthService) OTPStatus(ctx context.Context, email string) (*models.OTPStatus, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return &models.OTPStatus{Valid: false}, nil
	}
	return s.otp.Status(user), nil
}

// ForgotPassword mails a password-reset code. It reports success for unknown
// emails, blocked identities and cooldown hits alike.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.findByEmail(ctx, email)
	if err != nil || user == nil {
		return err
	}

	switch user.Status {
	case models.StatusSuspended, models.StatusTerminated:
		s.logger.InfoContext(ctx, "password reset skipped for blocked account", slog.String("user_id", user.ID))
		return nil
	}

	err = s.otp.Issue(ctx, user, models.OTPChannelPasswordReset, true)
	if errors.Is(err, models.ErrTooSoon) {
		s.logger.InfoContext(ctx, "password reset code requested within cooldown", slog.String("user_id", user.ID))
		return nil
	}
	return err
}

// ResetPassword installs newPassword if code is the live reset code. Tokens
// issued before the change stop working.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return models.ErrInvalidOrExpiredOTP
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if _, err := s.otp.ResetPassword(ctx, user, code, hash); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password reset", slog.String("user_id", user.ID))
	return nil
}

// Me returns the identity behind an authenticated request
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.findByID(ctx, userID)
}

// MFASetup starts a new enrollment for an authenticated identity
func (s *AuthService) MFASetup(ctx context.Context, userID string) (*models.MFAEnrollment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.findByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.mfa.Setup(ctx, user)
}

// MFAActivate confirms the pending enrollment with a code from the authenticator
func (s *AuthService) MFAActivate(ctx context.Context, userID, code string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.findByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.mfa.Activate(ctx, user, code)
}

// MFAStatus reports MFA state for an authenticated identity
func (s *AuthService) MFAStatus(ctx context.Context, userID string) (*models.MFAStatus, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.findByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.mfa.Status(user), nil
}

// MFAVerifyLogin completes an MFA login. The temp token is single use: it is
// consumed once the code checks out, or revoked once the identity runs out
// of attempts.
func (s *AuthService) MFAVerifyLogin(ctx context.Context, tempToken, code string, meta models.RequestMeta) (*models.SessionPair, error) {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pair, err := s.mfaVerifyLogin(ctx, tempToken, code, meta)
	s.timing.WaitFrom(start, err == nil)
	return pair, err
}

func (s *AuthService) mfaVerifyLogin(ctx context.Context, tempToken, code string, meta models.RequestMeta) (*models.SessionPair, error) {
	claims, err := s.tokens.Verify(ctx, tempToken, models.TokenTypeMFA)
	if err != nil {
		return nil, err
	}

	user, err := s.findByID(ctx, claims.UserID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	user, err = s.status.Evaluate(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := CheckAccess(user, s.now()); err != nil {
		return nil, err
	}

	if err := s.mfa.VerifyLoginChallenge(ctx, user, code); err != nil {
		if errors.Is(err, models.ErrTooManyAttempts) {
			s.spendChallenge(ctx, tempToken, claims)
		}
		return nil, err
	}

	if _, err := s.tokens.consume(ctx, tempToken, models.TokenTypeMFA, "mfa_completed"); err != nil {
		return nil, err
	}

	pair, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, AuditEvent{
		Kind:      models.AuditEventLoginSuccess,
		ActorID:   user.ID,
		SubjectID: user.ID,
		Success:   true,
		Details:   requestDetails(meta).With("mfa", true),
	})
	return pair, nil
}

// spendChallenge denylists a temp token that ran out of attempts
func (s *AuthService) spendChallenge(ctx context.Context, tempToken string, claims *models.TokenClaims) {
	if _, err := s.tokens.revoke(ctx, tempToken, claims, "mfa_attempts_exhausted"); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke exhausted mfa token",
			slog.String("user_id", claims.UserID),
			slog.Any("error", err))
	}
}

// MFADisable turns MFA off after re-checking the password
func (s *AuthService) MFADisable(ctx context.Context, userID, password string) error {
	start := time.Now()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.findByID(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Compare(user.PasswordHash, password) {
		s.timing.WaitFrom(start, false)
		s.logger.WarnContext(ctx, "mfa disable rejected", slog.String("user_id", user.ID),
			slog.String("email", pkglogger.SanitizedEmail(user.Email)))
		return models.ErrInvalidCredentials
	}
	return s.mfa.Disable(ctx, user)
}
