package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds per-minute request budgets for each route class
type RateLimitConfig struct {
	CredentialPerMinute    int // login, refresh, mfa verify-login
	CodePerMinute          int // otp send/resend/verify, password forgot/reset, register
	AuthenticatedPerMinute int // per identity, behind the gate
}

// DefaultRateLimitConfig returns the budgets used when none are configured
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		CredentialPerMinute:    10,
		CodePerMinute:          5,
		AuthenticatedPerMinute: 60,
	}
}

func writeRateLimited(w http.ResponseWriter, _ *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Rate limit exceeded. Please try again later.")
}

// RateLimitByIP limits requests per client IP. The IP is resolved through the
// trusted proxy list, so a spoofed X-Forwarded-For cannot reset the budget.
func RateLimitByIP(requestsPerMinute int, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(writeRateLimited),
	)
}

// RateLimitByUserID limits authenticated requests per identity and falls
// back to the client IP when no claims are present
func RateLimitByUserID(requestsPerMinute int, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
				return "user:" + claims.UserID, nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(writeRateLimited),
	)
}
