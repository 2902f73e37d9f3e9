package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// writeServiceError maps a service error onto the HTTP error envelope.
// Credential and token failures share one generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var locked *models.AccountLockedError
	switch {
	case errors.As(err, &locked):
		details := "contact an administrator"
		if locked.Until != nil {
			details = fmt.Sprintf("try again in %d minutes", locked.RemainingMinutes())
		}
		pkghttp.WriteLocked(w, models.ErrAccountLocked.Error(), details)

	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, models.ErrInvalidCredentials.Error())
	case errors.Is(err, models.ErrInvalidToken):
		pkghttp.WriteUnauthorized(w, models.ErrInvalidToken.Error())
	case errors.Is(err, models.ErrInvalidMFACode):
		pkghttp.WriteUnauthorized(w, models.ErrInvalidMFACode.Error())

	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteLocked(w, models.ErrAccountLocked.Error(), "")
	case errors.Is(err, models.ErrAccountSuspended):
		pkghttp.WriteForbidden(w, models.ErrAccountSuspended.Error())
	case errors.Is(err, models.ErrAccountTerminated):
		pkghttp.WriteForbidden(w, models.ErrAccountTerminated.Error())
	case errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteForbidden(w, models.ErrAccountInactive.Error())
	case errors.Is(err, models.ErrEmailNotVerified):
		pkghttp.WriteForbidden(w, models.ErrEmailNotVerified.Error())
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, err.Error())

	case errors.Is(err, models.ErrTooSoon):
		pkghttp.WriteTooManyRequests(w, models.ErrTooSoon.Error())
	case errors.Is(err, models.ErrTooManyAttempts):
		pkghttp.WriteTooManyRequests(w, models.ErrTooManyAttempts.Error())
	case errors.Is(err, models.ErrEmailInUse):
		pkghttp.WriteConflict(w, models.ErrEmailInUse.Error())
	case errors.Is(err, models.ErrInvalidOrExpiredOTP):
		pkghttp.WriteBadRequest(w, models.ErrInvalidOrExpiredOTP.Error())
	case errors.Is(err, models.ErrAlreadyVerified):
		pkghttp.WriteBadRequest(w, models.ErrAlreadyVerified.Error())
	case errors.Is(err, models.ErrBadRequest), errors.Is(err, models.ErrInvalidStatus):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "user not found")

	case errors.Is(err, models.ErrUnavailable):
		pkghttp.WriteServiceUnavailable(w, "service temporarily unavailable, try again later")
	default:
		logger.ErrorContext(r.Context(), "unhandled service error",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
