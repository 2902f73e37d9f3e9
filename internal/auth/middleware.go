package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

type contextKey string

// UserContextKey is the key for storing user claims in context
const UserContextKey contextKey = "user"

// SessionAuthenticator runs the full request gate for an access token:
// signature and expiry, token type, denylist, account status.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.TokenClaims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate rejects requests that do not carry a live session access token
// and injects the verified claims into the request context
func Authenticate(gate SessionAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing or malformed authorization header")
				return
			}

			claims, err := gate.Authenticate(r.Context(), token)
			if err != nil {
				writeGateError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRoles lets the request through when the caller's role is one of roles
func RequireRoles(roles ...string) func(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}
			if !allowed[claims.Role] {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeGateError(w http.ResponseWriter, err error) {
	var locked *models.AccountLockedError
	switch {
	case errors.As(err, &locked):
		details := "contact an administrator"
		if locked.Until != nil {
			details = fmt.Sprintf("try again in %d minutes", locked.RemainingMinutes())
		}
		pkghttp.WriteLocked(w, models.ErrAccountLocked.Error(), details)
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteLocked(w, models.ErrAccountLocked.Error(), "")
	case errors.Is(err, models.ErrAccountSuspended),
		errors.Is(err, models.ErrAccountTerminated),
		errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteForbidden(w, err.Error())
	case errors.Is(err, models.ErrUnavailable):
		pkghttp.WriteServiceUnavailable(w, "unable to verify session, try again later")
	default:
		pkghttp.WriteUnauthorized(w, models.ErrInvalidToken.Error())
	}
}

// WithClaims stores claims in ctx
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
