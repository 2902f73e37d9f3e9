package services

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword  = "Correct-Horse-42"
	testJWTSecret = "test-secret-32-characters-long!!"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ── clock ─────────────────────────────────────────────────────────────────────

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// otherCode returns a code of the same length that differs from code
func otherCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}

// ── in-memory user store ──────────────────────────────────────────────────────

// memUserStore mirrors the single-statement semantics of the Postgres
// repository. Each method holds the mutex for its whole read-modify-write.
type memUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User
	fail  error
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]*models.User)}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.StatusChangedAt = cloneTime(u.StatusChangedAt)
	c.FailureWindowStartedAt = cloneTime(u.FailureWindowStartedAt)
	c.LockedUntil = cloneTime(u.LockedUntil)
	c.OTPExpiresAt = cloneTime(u.OTPExpiresAt)
	c.PasswordResetOTPExpiresAt = cloneTime(u.PasswordResetOTPExpiresAt)
	c.MFALastUsedAt = cloneTime(u.MFALastUsedAt)
	c.MFAFailureWindowStartedAt = cloneTime(u.MFAFailureWindowStartedAt)
	c.PasswordChangedAt = cloneTime(u.PasswordChangedAt)
	c.MFASecretEncrypted = slices.Clone(u.MFASecretEncrypted)
	c.MFASecretNonce = slices.Clone(u.MFASecretNonce)
	c.MFABackupCodes = slices.Clone(u.MFABackupCodes)
	c.MFAPendingSecretEncrypted = slices.Clone(u.MFAPendingSecretEncrypted)
	c.MFAPendingSecretNonce = slices.Clone(u.MFAPendingSecretNonce)
	c.MFAPendingBackupCodes = slices.Clone(u.MFAPendingBackupCodes)
	return &c
}

// put stores a copy of u, assigning an id when missing
func (m *memUserStore) put(u *models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	m.users[u.ID] = cloneUser(u)
	return cloneUser(u)
}

// get returns a copy of the stored row for assertions
func (m *memUserStore) get(id string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneUser(m.users[id])
}

func (m *memUserStore) update(id string, fn func(u *models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !fn(u) {
		return nil, models.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *memUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *memUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memUserStore) Create(_ context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return nil, models.ErrConflict
		}
	}
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (m *memUserStore) IncrementFailedAttempts(_ context.Context, id string, now time.Time, window time.Duration) (*models.FailureCount, error) {
	u, err := m.update(id, func(u *models.User) bool {
		if u.FailureWindowStartedAt == nil || !u.FailureWindowStartedAt.After(now.Add(-window)) {
			u.FailedLoginAttempts = 1
			u.FailureWindowStartedAt = &now
		} else {
			u.FailedLoginAttempts++
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return &models.FailureCount{Attempts: u.FailedLoginAttempts, WindowStartedAt: *u.FailureWindowStartedAt}, nil
}

func (m *memUserStore) ResetFailedAttempts(_ context.Context, id string, _ time.Time) error {
	_, err := m.update(id, func(u *models.User) bool {
		u.FailedLoginAttempts = 0
		u.FailureWindowStartedAt = nil
		if u.Status != models.StatusLocked {
			u.LockedUntil = nil
		}
		return true
	})
	return err
}

func (m *memUserStore) ApplyStatus(_ context.Context, id string, change models.StatusChange, expected models.AccountStatus) (models.AccountStatus, *models.User, error) {
	var previous models.AccountStatus
	u, err := m.update(id, func(u *models.User) bool {
		if expected != "" && u.Status != expected {
			return false
		}
		previous = u.Status
		at := change.At
		u.Status = change.Status
		u.StatusReason = change.Reason
		u.StatusChangedAt = &at
		u.StatusChangedBy = change.ActorID
		u.LockedUntil = nil
		if change.Status == models.StatusLocked {
			u.LockedUntil = cloneTime(change.LockedUntil)
		}
		if change.Status == models.StatusActive {
			u.FailedLoginAttempts = 0
			u.FailureWindowStartedAt = nil
		}
		return true
	})
	if err != nil {
		return "", nil, err
	}
	return previous, u, nil
}

func (m *memUserStore) AutoUnlock(_ context.Context, id string, now time.Time) (*models.User, error) {
	return m.update(id, func(u *models.User) bool {
		if !u.LockExpired(now) {
			return false
		}
		u.Status = models.StatusActive
		u.StatusReason = "lock expired"
		u.StatusChangedAt = &now
		u.StatusChangedBy = ""
		u.FailedLoginAttempts = 0
		u.FailureWindowStartedAt = nil
		u.LockedUntil = nil
		return true
	})
}

func (m *memUserStore) SetOTP(_ context.Context, id string, channel models.OTPChannel, codeHash string, expiresAt time.Time, latestPrevExpiry *time.Time, _ time.Time) (bool, error) {
	_, err := m.update(id, func(u *models.User) bool {
		_, prev := u.CodeFor(channel)
		if latestPrevExpiry != nil && prev != nil && prev.After(*latestPrevExpiry) {
			return false
		}
		if channel == models.OTPChannelPasswordReset {
			u.PasswordResetOTPHash, u.PasswordResetOTPExpiresAt, u.PasswordResetOTPFailedAttempts = codeHash, &expiresAt, 0
		} else {
			u.OTPCodeHash, u.OTPExpiresAt, u.OTPFailedAttempts = codeHash, &expiresAt, 0
		}
		return true
	})
	if err == models.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (m *memUserStore) ReserveOTPAttempt(_ context.Context, id string, channel models.OTPChannel, maxAttempts int, _ time.Time) (int, error) {
	var attempts int
	_, err := m.update(id, func(u *models.User) bool {
		counter := &u.OTPFailedAttempts
		if channel == models.OTPChannelPasswordReset {
			counter = &u.PasswordResetOTPFailedAttempts
		}
		if hash, _ := u.CodeFor(channel); hash == "" || *counter >= maxAttempts {
			return false
		}
		*counter++
		attempts = *counter
		return true
	})
	return attempts, err
}

func (m *memUserStore) BurnExhaustedOTP(_ context.Context, id string, channel models.OTPChannel, maxAttempts int, _ time.Time) error {
	_, err := m.update(id, func(u *models.User) bool {
		if channel == models.OTPChannelPasswordReset {
			if u.PasswordResetOTPFailedAttempts >= maxAttempts {
				u.PasswordResetOTPHash, u.PasswordResetOTPExpiresAt = "", nil
			}
		} else if u.OTPFailedAttempts >= maxAttempts {
			u.OTPCodeHash, u.OTPExpiresAt = "", nil
		}
		return true
	})
	return err
}

func (m *memUserStore) ConsumeEmailOTP(_ context.Context, id, codeHash string, now time.Time) (*models.User, error) {
	return m.update(id, func(u *models.User) bool {
		if u.OTPCodeHash == "" || u.OTPCodeHash != codeHash || u.OTPExpiresAt == nil || now.After(*u.OTPExpiresAt) {
			return false
		}
		u.EmailVerified = true
		u.OTPCodeHash, u.OTPExpiresAt, u.OTPFailedAttempts = "", nil, 0
		return true
	})
}

func (m *memUserStore) ConsumePasswordResetOTP(_ context.Context, id, codeHash, newPasswordHash string, now time.Time) (*models.User, error) {
	return m.update(id, func(u *models.User) bool {
		if u.PasswordResetOTPHash == "" || u.PasswordResetOTPHash != codeHash ||
			u.PasswordResetOTPExpiresAt == nil || now.After(*u.PasswordResetOTPExpiresAt) {
			return false
		}
		u.PasswordHash = newPasswordHash
		u.PasswordChangedAt = &now
		u.PasswordResetOTPHash, u.PasswordResetOTPExpiresAt, u.PasswordResetOTPFailedAttempts = "", nil, 0
		return true
	})
}

func (m *memUserStore) SetPendingMFA(_ context.Context, id string, pending models.PendingMFA, _ time.Time) error {
	_, err := m.update(id, func(u *models.User) bool {
		u.MFAPendingSecretEncrypted = slices.Clone(pending.SecretEncrypted)
		u.MFAPendingSecretNonce = slices.Clone(pending.SecretNonce)
		u.MFAPendingBackupCodes = slices.Clone(pending.BackupCodes)
		return true
	})
	return err
}

func (m *memUserStore) ActivateMFA(_ context.Context, id string, pendingCiphertext []byte, _ time.Time) (*models.User, error) {
	return m.update(id, func(u *models.User) bool {
		if len(u.MFAPendingSecretEncrypted) == 0 || !bytes.Equal(u.MFAPendingSecretEncrypted, pendingCiphertext) {
			return false
		}
		u.MFAEnabled = true
		u.MFASecretEncrypted, u.MFASecretNonce = u.MFAPendingSecretEncrypted, u.MFAPendingSecretNonce
		u.MFABackupCodes = u.MFAPendingBackupCodes
		u.MFAPendingSecretEncrypted, u.MFAPendingSecretNonce, u.MFAPendingBackupCodes = nil, nil, nil
		u.MFALastUsedAt = nil
		u.MFAFailedAttempts, u.MFAFailureWindowStartedAt = 0, nil
		return true
	})
}

func (m *memUserStore) ReserveMFAAttempt(_ context.Context, id string, now time.Time, window time.Duration, maxAttempts int) (*models.FailureCount, error) {
	u, err := m.update(id, func(u *models.User) bool {
		if u.MFAFailureWindowStartedAt == nil || !u.MFAFailureWindowStartedAt.After(now.Add(-window)) {
			u.MFAFailedAttempts = 1
			u.MFAFailureWindowStartedAt = &now
			return true
		}
		if u.MFAFailedAttempts >= maxAttempts {
			return false
		}
		u.MFAFailedAttempts++
		return true
	})
	if err != nil {
		return nil, err
	}
	return &models.FailureCount{Attempts: u.MFAFailedAttempts, WindowStartedAt: *u.MFAFailureWindowStartedAt}, nil
}

func (m *memUserStore) ConsumeBackupCode(_ context.Context, id, codeHash string, _ time.Time) (*models.User, error) {
	return m.update(id, func(u *models.User) bool {
		i := slices.Index(u.MFABackupCodes, codeHash)
		if !u.MFAEnabled || i < 0 {
			return false
		}
		u.MFABackupCodes = slices.Delete(u.MFABackupCodes, i, i+1)
		u.MFAFailedAttempts, u.MFAFailureWindowStartedAt = 0, nil
		return true
	})
}

func (m *memUserStore) TouchMFAUse(_ context.Context, id string, now, notUsedSince time.Time) (bool, error) {
	_, err := m.update(id, func(u *models.User) bool {
		if u.MFALastUsedAt != nil && u.MFALastUsedAt.After(notUsedSince) {
			return false
		}
		u.MFALastUsedAt = &now
		u.MFAFailedAttempts, u.MFAFailureWindowStartedAt = 0, nil
		return true
	})
	if err == models.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (m *memUserStore) DisableMFA(_ context.Context, id string, _ time.Time) error {
	_, err := m.update(id, func(u *models.User) bool {
		u.MFAEnabled = false
		u.MFASecretEncrypted, u.MFASecretNonce, u.MFABackupCodes = nil, nil, nil
		u.MFAPendingSecretEncrypted, u.MFAPendingSecretNonce, u.MFAPendingBackupCodes = nil, nil, nil
		u.MFALastUsedAt = nil
		u.MFAFailedAttempts, u.MFAFailureWindowStartedAt = 0, nil
		return true
	})
	return err
}

// ── denylist ──────────────────────────────────────────────────────────────────

type memDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	fail    error
}

func newMemDenylist() *memDenylist {
	return &memDenylist{entries: make(map[string]time.Time)}
}

func (d *memDenylist) RevokeToken(_ context.Context, entry models.RevokedToken) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return false, d.fail
	}
	if _, ok := d.entries[entry.TokenHash]; ok {
		return false, nil
	}
	d.entries[entry.TokenHash] = entry.ExpiresAt
	return true, nil
}

func (d *memDenylist) IsTokenRevoked(_ context.Context, tokenHash string, now time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return false, d.fail
	}
	exp, ok := d.entries[tokenHash]
	return ok && now.Before(exp), nil
}

// ── mocks ─────────────────────────────────────────────────────────────────────

// MockTokenRevocationRepository implements TokenRevocationRepository for testing
type MockTokenRevocationRepository struct {
	RevokeTokenFunc    func(ctx context.Context, entry models.RevokedToken) (bool, error)
	IsTokenRevokedFunc func(ctx context.Context, tokenHash string, now time.Time) (bool, error)
}

func (m *MockTokenRevocationRepository) RevokeToken(ctx context.Context, entry models.RevokedToken) (bool, error) {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, entry)
	}
	return true, nil
}

func (m *MockTokenRevocationRepository) IsTokenRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	if m.IsTokenRevokedFunc != nil {
		return m.IsTokenRevokedFunc(ctx, tokenHash, now)
	}
	return false, nil
}

// MockAuditLogRepository implements AuditLogRepository for testing
type MockAuditLogRepository struct {
	CreateFunc        func(ctx context.Context, log *models.AuditLog) error
	ListBySubjectFunc func(ctx context.Context, subjectID string, limit, offset int) ([]*models.AuditLog, error)
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	return nil
}

func (m *MockAuditLogRepository) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*models.AuditLog, error) {
	if m.ListBySubjectFunc != nil {
		return m.ListBySubjectFunc(ctx, subjectID, limit, offset)
	}
	return []*models.AuditLog{}, nil
}

// recordingAuditor keeps every event for assertions
type recordingAuditor struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAuditor) Record(_ context.Context, event AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAuditor) kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Kind
	}
	return out
}

type sentMail struct {
	Kind  string
	Email string
	Code  string
}

// MockMailer records deliveries; FailWith makes every send fail
type MockMailer struct {
	mu       sync.Mutex
	Sent     []sentMail
	FailWith error
}

func (m *MockMailer) record(kind, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, sentMail{Kind: kind, Email: email, Code: code})
	return m.FailWith
}

func (m *MockMailer) SendVerificationCode(_ context.Context, email, code string, _ time.Time) error {
	return m.record("verification_code", email, code)
}

func (m *MockMailer) SendPasswordResetCode(_ context.Context, email, code string, _ time.Time) error {
	return m.record("password_reset_code", email, code)
}

func (m *MockMailer) SendAccountLockedNotice(_ context.Context, email, _ string, _ *time.Time) error {
	return m.record("account_locked", email, "")
}

func (m *MockMailer) SendAccountUnlockedNotice(_ context.Context, email string) error {
	return m.record("account_unlocked", email, "")
}

func (m *MockMailer) SendPasswordChangedNotice(_ context.Context, email string) error {
	return m.record("password_changed", email, "")
}

func (m *MockMailer) SendWelcomeNotice(_ context.Context, email string) error {
	return m.record("welcome", email, "")
}

// lastCode returns the most recent code mailed with kind
func (m *MockMailer) lastCode(kind string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Sent) - 1; i >= 0; i-- {
		if m.Sent[i].Kind == kind {
			return m.Sent[i].Code
		}
	}
	return ""
}

func (m *MockMailer) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// ── service graph ─────────────────────────────────────────────────────────────

type testStack struct {
	clock    *testClock
	store    *memUserStore
	denylist *memDenylist
	mailer   *MockMailer
	audit    *recordingAuditor
	hasher   *pkgauth.Hasher
	tm       *auth.TokenManager
	totp     *auth.TOTPManager

	status  *AccountStatusService
	lockout *LockoutService
	tokens  *TokenService
	otp     *OTPService
	mfa     *MFAService
	auth    *AuthService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	s := &testStack{
		clock:    newTestClock(),
		store:    newMemUserStore(),
		denylist: newMemDenylist(),
		mailer:   &MockMailer{},
		audit:    &recordingAuditor{},
		hasher:   pkgauth.NewHasher(bcrypt.MinCost),
	}
	logger := discardLogger()

	s.tm = auth.NewTokenManager(testJWTSecret, time.Hour, 7*24*time.Hour, 5*time.Minute).WithClock(s.clock.Now)
	totp, err := auth.NewTOTPManager(testEncryptionKey, "Warden")
	require.NoError(t, err)
	s.totp = totp

	s.status = NewAccountStatusService(s.store, s.audit, logger)
	s.status.now = s.clock.Now

	s.lockout = NewLockoutService(s.store, s.status, s.mailer, s.audit, LockoutPolicy{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		Duration:    30 * time.Minute,
	}, logger)
	s.lockout.now = s.clock.Now

	s.tokens = NewTokenService(s.tm, s.denylist, logger)
	s.tokens.now = s.clock.Now

	s.otp = NewOTPService(s.store, s.mailer, s.audit, OTPPolicy{
		TTL:            10 * time.Minute,
		ResendCooldown: 2 * time.Minute,
		Length:         6,
		MaxAttempts:    5,
	}, logger)
	s.otp.now = s.clock.Now

	s.mfa = NewMFAService(s.store, s.totp, s.audit, MFAPolicy{
		BackupCodeCount: 8,
		MaxAttempts:     5,
		AttemptWindow:   15 * time.Minute,
	}, logger)
	s.mfa.now = s.clock.Now

	s.auth = NewAuthService(AuthServiceDeps{
		Users:        s.store,
		Status:       s.status,
		Lockout:      s.lockout,
		Tokens:       s.tokens,
		OTP:          s.otp,
		MFA:          s.mfa,
		Hasher:       s.hasher,
		Audit:        s.audit,
		StoreTimeout: time.Second,
		Logger:       logger,
	})
	s.auth.now = s.clock.Now

	return s
}

// seedUser stores a verified, Active identity with testPassword
func (s *testStack) seedUser(t *testing.T, email string) *models.User {
	t.Helper()
	hash, err := s.hasher.Hash(testPassword)
	require.NoError(t, err)
	return s.store.put(&models.User{
		Email:         email,
		Name:          "Test User",
		PasswordHash:  hash,
		Role:          models.RoleStudent,
		Status:        models.StatusActive,
		EmailVerified: true,
	})
}
