package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AdminServiceInterface defines the administrator status actions
type AdminServiceInterface interface {
	Lock(ctx context.Context, actorID, userID, reason string) error
	Unlock(ctx context.Context, actorID, userID, reason string) error
	Suspend(ctx context.Context, actorID, userID, reason string) error
	Terminate(ctx context.Context, actorID, userID, reason string) error
	Reactivate(ctx context.Context, actorID, userID, reason string) error
	AuditTrail(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
}

// AdminHandler handles administrator HTTP requests. Routes are mounted
// behind the gate and RequireRoles(admin).
type AdminHandler struct {
	service AdminServiceInterface
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

type statusAction func(ctx context.Context, actorID, userID, reason string) error

func (h *AdminHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.service.Lock, "account locked")
}

func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.service.Unlock, "account unlocked")
}

func (h *AdminHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.service.Suspend, "account suspended")
}

func (h *AdminHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.service.Terminate, "account terminated")
}

func (h *AdminHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.service.Reactivate, "account reactivated")
}

func (h *AdminHandler) apply(w http.ResponseWriter, r *http.Request, action statusAction, done string) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req StatusActionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}

	if err := action(r.Context(), claims.UserID, userID, req.Reason); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: done})
}

// AuditTrail handles GET /admin/users/{id}/audit?limit=&offset=
func (h *AdminHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	offset := 0
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	logs, err := h.service.AuditTrail(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := AuditTrailResponse{
		Logs:   make([]AuditLogResponse, 0, len(logs)),
		Limit:  limit,
		Offset: offset,
	}
	for _, l := range logs {
		resp.Logs = append(resp.Logs, newAuditLogResponse(l))
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		pkghttp.WriteBadRequest(w, "invalid user id")
		return "", false
	}
	return id, true
}
