package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:41000"
	return req
}

// WithAuthContext adds session claims to the request context
func WithAuthContext(req *http.Request, userID, role string) *http.Request {
	return req.WithContext(auth.WithClaims(req.Context(), &models.TokenClaims{
		UserID: userID,
		Email:  "alice@example.com",
		Role:   role,
		Type:   models.TokenTypeAccess,
	}))
}

// WithURLParam sets a chi route parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc       func(ctx context.Context, name, email, password, role string) (*models.User, error)
	LoginFunc          func(ctx context.Context, email, password string, meta models.RequestMeta) (*models.LoginResult, error)
	RefreshFunc        func(ctx context.Context, refreshToken string) (*models.SessionPair, error)
	LogoutFunc         func(ctx context.Context, accessToken, refreshToken string) error
	SendOTPFunc        func(ctx context.Context, email string) error
	ResendOTPFunc      func(ctx context.Context, email string) error
	VerifyOTPFunc      func(ctx context.Context, email, code string) error
	OTPStatusFunc      func(ctx context.Context, email string) (*models.OTPStatus, error)
	ForgotPasswordFunc func(ctx context.Context, email string) error
	ResetPasswordFunc  func(ctx context.Context, email, code, newPassword string) error
	MeFunc             func(ctx context.Context, userID string) (*models.User, error)
}

func (m *MockAuthService) Register(ctx context.Context, name, email, password, role string) (*models.User, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrEmailInUse
	}
	return m.RegisterFunc(ctx, name, email, password, role)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string, meta models.RequestMeta) (*models.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, email, password, meta)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*models.SessionPair, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrInvalidToken
	}
	return m.RefreshFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, accessToken, refreshToken)
}

func (m *MockAuthService) SendOTP(ctx context.Context, email string) error {
	if m.SendOTPFunc == nil {
		return nil
	}
	return m.SendOTPFunc(ctx, email)
}

func (m *MockAuthService) ResendOTP(ctx context.Context, email string) error {
	if m.ResendOTPFunc == nil {
		return nil
	}
	return m.ResendOTPFunc(ctx, email)
}

func (m *MockAuthService) VerifyOTP(ctx context.Context, email, code string) error {
	if m.VerifyOTPFunc == nil {
		return nil
	}
	return m.VerifyOTPFunc(ctx, email, code)
}

func (m *MockAuthService) OTPStatus(ctx context.Context, email string) (*models.OTPStatus, error) {
	if m.OTPStatusFunc == nil {
		return &models.OTPStatus{}, nil
	}
	return m.OTPStatusFunc(ctx, email)
}

func (m *MockAuthService) ForgotPassword(ctx context.Context, email string) error {
	if m.ForgotPasswordFunc == nil {
		return nil
	}
	return m.ForgotPasswordFunc(ctx, email)
}

func (m *MockAuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if m.ResetPasswordFunc == nil {
		return nil
	}
	return m.ResetPasswordFunc(ctx, email, code, newPassword)
}

func (m *MockAuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	if m.MeFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.MeFunc(ctx, userID)
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	MFASetupFunc       func(ctx context.Context, userID string) (*models.MFAEnrollment, error)
	MFAActivateFunc    func(ctx context.Context, userID, code string) error
	MFAStatusFunc      func(ctx context.Context, userID string) (*models.MFAStatus, error)
	MFAVerifyLoginFunc func(ctx context.Context, tempToken, code string, meta models.RequestMeta) (*models.SessionPair, error)
	MFADisableFunc     func(ctx context.Context, userID, password string) error
}

func (m *MockMFAService) MFASetup(ctx context.Context, userID string) (*models.MFAEnrollment, error) {
	if m.MFASetupFunc == nil {
		return &models.MFAEnrollment{}, nil
	}
	return m.MFASetupFunc(ctx, userID)
}

func (m *MockMFAService) MFAActivate(ctx context.Context, userID, code string) error {
	if m.MFAActivateFunc == nil {
		return nil
	}
	return m.MFAActivateFunc(ctx, userID, code)
}

func (m *MockMFAService) MFAStatus(ctx context.Context, userID string) (*models.MFAStatus, error) {
	if m.MFAStatusFunc == nil {
		return &models.MFAStatus{}, nil
	}
	return m.MFAStatusFunc(ctx, userID)
}

func (m *MockMFAService) MFAVerifyLogin(ctx context.Context, tempToken, code string, meta models.RequestMeta) (*models.SessionPair, error) {
	if m.MFAVerifyLoginFunc == nil {
		return nil, models.ErrInvalidToken
	}
	return m.MFAVerifyLoginFunc(ctx, tempToken, code, meta)
}

func (m *MockMFAService) MFADisable(ctx context.Context, userID, password string) error {
	if m.MFADisableFunc == nil {
		return nil
	}
	return m.MFADisableFunc(ctx, userID, password)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	LockFunc       func(ctx context.Context, actorID, userID, reason string) error
	UnlockFunc     func(ctx context.Context, actorID, userID, reason string) error
	SuspendFunc    func(ctx context.Context, actorID, userID, reason string) error
	TerminateFunc  func(ctx context.Context, actorID, userID, reason string) error
	ReactivateFunc func(ctx context.Context, actorID, userID, reason string) error
	AuditTrailFunc func(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
}

func runAction(ctx context.Context, fn func(ctx context.Context, actorID, userID, reason string) error, actorID, userID, reason string) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, actorID, userID, reason)
}

func (m *MockAdminService) Lock(ctx context.Context, actorID, userID, reason string) error {
	return runAction(ctx, m.LockFunc, actorID, userID, reason)
}

func (m *MockAdminService) Unlock(ctx context.Context, actorID, userID, reason string) error {
	return runAction(ctx, m.UnlockFunc, actorID, userID, reason)
}

func (m *MockAdminService) Suspend(ctx context.Context, actorID, userID, reason string) error {
	return runAction(ctx, m.SuspendFunc, actorID, userID, reason)
}

func (m *MockAdminService) Terminate(ctx context.Context, actorID, userID, reason string) error {
	return runAction(ctx, m.TerminateFunc, actorID, userID, reason)
}

func (m *MockAdminService) Reactivate(ctx context.Context, actorID, userID, reason string) error {
	return runAction(ctx, m.ReactivateFunc, actorID, userID, reason)
}

func (m *MockAdminService) AuditTrail(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	if m.AuditTrailFunc == nil {
		return []*models.AuditLog{}, nil
	}
	return m.AuditTrailFunc(ctx, userID, limit, offset)
}
