//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/handlers"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/services"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

// SentEmail is one captured message. Code is set for verification and reset mail.
type SentEmail struct {
	Kind string
	To   string
	Code string
}

// CapturingMailer records every message instead of sending it
type CapturingMailer struct {
	mu   sync.Mutex
	sent []SentEmail
}

func (m *CapturingMailer) record(kind, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentEmail{Kind: kind, To: to, Code: code})
	return nil
}

func (m *CapturingMailer) SendVerificationCode(_ context.Context, email, code string, _ time.Time) error {
	return m.record("verification_code", email, code)
}

func (m *CapturingMailer) SendPasswordResetCode(_ context.Context, email, code string, _ time.Time) error {
	return m.record("password_reset_code", email, code)
}

func (m *CapturingMailer) SendAccountLockedNotice(_ context.Context, email, _ string, _ *time.Time) error {
	return m.record("account_locked", email, "")
}

func (m *CapturingMailer) SendAccountUnlockedNotice(_ context.Context, email string) error {
	return m.record("account_unlocked", email, "")
}

func (m *CapturingMailer) SendPasswordChangedNotice(_ context.Context, email string) error {
	return m.record("password_changed", email, "")
}

func (m *CapturingMailer) SendWelcomeNotice(_ context.Context, email string) error {
	return m.record("welcome", email, "")
}

// LastCode returns the most recent code of kind mailed to email
func (m *CapturingMailer) LastCode(kind, email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind && m.sent[i].To == email {
			return m.sent[i].Code
		}
	}
	return ""
}

// Count returns how many messages of kind were mailed to email
func (m *CapturingMailer) Count(kind, email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.Kind == kind && s.To == email {
			n++
		}
	}
	return n
}

// TestServer wraps httptest.Server with the full service graph on a real database
type TestServer struct {
	Server *httptest.Server
	Users  *repositories.UserRepository
	Mailer *CapturingMailer
}

// NewTestServer wires every service the way cmd/api does, with mail captured
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	userRepo := repositories.NewUserRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)
	denylist := repositories.NewTokenRevocationRepository(db)
	mailer := &CapturingMailer{}

	tokenManager := auth.NewTokenManager("test-secret-32-characters-long-for-testing", 15*time.Minute, 7*24*time.Hour, 5*time.Minute)
	totpManager, err := auth.NewTOTPManager([]byte(testEncryptionKey), "WardenTest")
	if err != nil {
		panic(err)
	}

	auditService := services.NewAuditService(auditRepo, pkglogger.NewAuditLogger(logger), logger)
	statusService := services.NewAccountStatusService(userRepo, auditService, logger)
	lockoutService := services.NewLockoutService(userRepo, statusService, mailer, auditService, services.LockoutPolicy{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		Duration:    30 * time.Minute,
	}, logger)
	otpService := services.NewOTPService(userRepo, mailer, auditService, services.OTPPolicy{
		TTL:            10 * time.Minute,
		ResendCooldown: 2 * time.Minute,
		Length:         6,
		MaxAttempts:    5,
	}, logger)

	mfaService := services.NewMFAService(userRepo, totpManager, auditService, services.MFAPolicy{
		BackupCodeCount: 8,
		MaxAttempts:     5,
		AttemptWindow:   15 * time.Minute,
	}, logger)

	authService := services.NewAuthService(services.AuthServiceDeps{
		Users:        userRepo,
		Status:       statusService,
		Lockout:      lockoutService,
		Tokens:       services.NewTokenService(tokenManager, denylist, logger),
		OTP:          otpService,
		MFA:          mfaService,
		Hasher:       pkgauth.NewHasher(4),
		Audit:        auditService,
		StoreTimeout: 5 * time.Second,
		Logger:       logger,
	})
	adminService := services.NewAdminService(userRepo, statusService, mailer, auditService, 5*time.Second, logger)

	ipConfig := pkghttp.NewIPConfig(nil)
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(r, routes.Handlers{
		Auth:   handlers.NewAuthHandler(authService, ipConfig, logger),
		MFA:    handlers.NewMFAHandler(authService, ipConfig, logger),
		Admin:  handlers.NewAdminHandler(adminService, logger),
		Health: handlers.NewHealthHandler(map[string]handlers.HealthChecker{"database": db}, logger),
	}, authService, middlewareCustom.RateLimitConfig{
		CredentialPerMinute:    1000,
		CodePerMinute:          1000,
		AuthenticatedPerMinute: 1000,
	}, ipConfig)

	return &TestServer{
		Server: httptest.NewServer(r),
		Users:  userRepo,
		Mailer: mailer,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server. A non-empty token is sent as a bearer token.
func (ts *TestServer) Request(method, path, token string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return http.DefaultClient.Do(req)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
