package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitByIP_BlocksAfterBudget(t *testing.T) {
	handler := RateLimitByIP(3, pkghttp.NewIPConfig(nil))(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "198.51.100.4:5000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "198.51.100.4:5000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	// another client keeps its own budget
	req = httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "198.51.100.5:5000"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitByIP_IgnoresSpoofedForwardedFor(t *testing.T) {
	handler := RateLimitByIP(1, pkghttp.NewIPConfig(nil))(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	first.RemoteAddr = "198.51.100.4:5000"
	first.Header.Set("X-Forwarded-For", "10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	second.RemoteAddr = "198.51.100.4:5000"
	second.Header.Set("X-Forwarded-For", "10.0.0.2")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, second)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitByIP_TrustedProxy(t *testing.T) {
	handler := RateLimitByIP(1, pkghttp.NewIPConfig([]string{"10.0.0.0/8"}))(okHandler())

	for _, client := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.1.2.3:443"
		req.Header.Set("X-Forwarded-For", client)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, client)
	}
}

func TestRateLimitByUserID(t *testing.T) {
	handler := RateLimitByUserID(1, pkghttp.NewIPConfig(nil))(okHandler())

	withUser := func(id string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/auth/mfa/setup", nil)
		req.RemoteAddr = "198.51.100.4:5000"
		return req.WithContext(auth.WithClaims(context.Background(), &models.TokenClaims{UserID: id, Type: models.TokenTypeAccess}))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withUser("user-1"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, withUser("user-1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// same address, different identity
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, withUser("user-2"))
	assert.Equal(t, http.StatusOK, w.Code)
}
