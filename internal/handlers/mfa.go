package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// MFAServiceInterface is the MFA surface of the auth service
type MFAServiceInterface interface {
	MFASetup(ctx context.Context, userID string) (*models.MFAEnrollment, error)
	MFAActivate(ctx context.Context, userID, code string) error
	MFAStatus(ctx context.Context, userID string) (*models.MFAStatus, error)
	MFAVerifyLogin(ctx context.Context, tempToken, code string, meta models.RequestMeta) (*models.SessionPair, error)
	MFADisable(ctx context.Context, userID, password string) error
}

// MFAHandler handles MFA enrollment and the second login step
type MFAHandler struct {
	service  MFAServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewMFAHandler(service MFAServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Setup handles POST /auth/mfa/setup. The secret and backup codes in the
// response are never shown again.
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	enrollment, err := h.service.MFASetup(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, enrollment)
}

// Activate handles POST /auth/mfa/activate
func (h *MFAHandler) Activate(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req MFACodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.MFAActivate(r.Context(), claims.UserID, req.Code); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "MFA enabled"})
}

// Status handles GET /auth/mfa/status
func (h *MFAHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	status, err := h.service.MFAStatus(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// VerifyLogin handles POST /auth/mfa/verify-login. It is not behind the gate:
// the temp token in the body is the credential.
func (h *MFAHandler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req MFAVerifyLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	meta := models.RequestMeta{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	}
	pair, err := h.service.MFAVerifyLogin(r.Context(), req.TempToken, req.Code, meta)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

// Disable handles POST /auth/mfa/disable
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req MFADisableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.MFADisable(r.Context(), claims.UserID, req.Password); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "MFA disabled"})
}
