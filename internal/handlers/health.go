package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pliu/letschat/internal/apperr"
	"github.com/pliu/letschat/internal/response"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	// Checks maps a component name to its health check.
	Checks map[string]Pinger
	Log    *slog.Logger
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	healthy := true
	for name, p := range h.Checks {
		if err := p.Ping(ctx); err != nil {
			h.Log.Warn("health check failed", "component", name, "err", err)
			status[name] = "down"
			healthy = false
			continue
		}
		status[name] = "up"
	}

	if !healthy {
		response.Error(w, nil, apperr.New(apperr.CodeUnavailable, "service unavailable"))
		return
	}
	response.JSON(w, http.StatusOK, status)
}
