package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// HealthChecker is a backing store that can report its own health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports whether every backing store answers
type HealthHandler struct {
	checks map[string]HealthChecker
	logger *slog.Logger
}

func NewHealthHandler(checks map[string]HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	for name, check := range h.checks {
		if err := check.HealthCheck(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", slog.String("check", name), slog.Any("error", err))
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	pkghttp.WriteJSON(w, status, resp)
}
