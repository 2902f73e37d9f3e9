package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	handler := CORS(DefaultCORSConfig([]string{"https://app.example.com"}))(okHandler())

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
	}{
		{name: "allowed origin", method: http.MethodPost, origin: "https://app.example.com", wantStatus: http.StatusOK, wantAllow: "https://app.example.com"},
		{name: "unknown origin", method: http.MethodPost, origin: "https://evil.example.com", wantStatus: http.StatusOK},
		{name: "no origin", method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "allowed preflight", method: http.MethodOptions, origin: "https://app.example.com", preflight: true, wantStatus: http.StatusNoContent, wantAllow: "https://app.example.com"},
		{name: "rejected preflight", method: http.MethodOptions, origin: "https://evil.example.com", preflight: true, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/auth/login", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}
