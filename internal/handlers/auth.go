package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, name, email, password, role string) (*models.User, error)
	Login(ctx context.Context, email, password string, meta models.RequestMeta) (*models.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*models.SessionPair, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	SendOTP(ctx context.Context, email string) error
	ResendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) error
	OTPStatus(ctx context.Context, email string) (*models.OTPStatus, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	Me(ctx context.Context, userID string) (*models.User, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

func (h *AuthHandler) requestMeta(r *http.Request) models.RequestMeta {
	return models.RequestMeta{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	}
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.service.Register(r.Context(), strings.TrimSpace(req.Name), req.Email, req.Password, req.Role)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, RegisterResponse{UserID: user.ID})
}

// Login handles POST /auth/login. The body is either a session pair or an
// MFA challenge carrying a temp token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, h.requestMeta(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if result.Challenge != nil {
		pkghttp.WriteJSON(w, http.StatusOK, result.Challenge)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, result.Session)
}

// RefreshToken handles POST /auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

// Logout handles POST /auth/logout. It always answers 204, whatever the
// state of the presented tokens.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken, _ := auth.BearerToken(r)

	var req LogoutRequest
	if r.ContentLength != 0 {
		// a malformed body only loses the refresh token
		_ = decodeJSON(w, r, &req)
	}

	_ = h.service.Logout(r.Context(), accessToken, req.RefreshToken)
	w.WriteHeader(http.StatusNoContent)
}

// SendOTP handles POST /auth/otp/send. Unknown emails get the same answer.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	h.sendCode(w, r, h.service.SendOTP)
}

// ResendOTP handles POST /auth/otp/resend
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	h.sendCode(w, r, h.service.ResendOTP)
}

func (h *AuthHandler) sendCode(w http.ResponseWriter, r *http.Request, send func(context.Context, string) error) {
	var req EmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := send(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If an account exists with this email, a verification code has been sent.",
	})
}

// VerifyOTP handles POST /auth/otp/verify
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.VerifyOTP(r.Context(), req.Email, req.Code); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Email verified successfully. Please log in."})
}

// OTPStatus handles GET /auth/otp/status?email=
func (h *AuthHandler) OTPStatus(w http.ResponseWriter, r *http.Request) {
	req := EmailRequest{Email: r.URL.Query().Get("email")}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	status, err := h.service.OTPStatus(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// ForgotPassword handles POST /auth/password/forgot
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If an account exists with this email, a password reset code has been sent.",
	})
}

// ResetPassword handles POST /auth/password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password updated. Please log in."})
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, err := h.service.Me(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, newUserResponse(user))
}
