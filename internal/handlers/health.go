package handlers

import (
	"context"
	"net/http"
	"time"

	"bedsync/internal/common/logging"
)

type healthResponse struct {
	Status     string            `json:"status"`
	Authorized bool              `json:"authorized"`
	BedState   string            `json:"bed_state"`
	ChangedAt  *time.Time        `json:"changed_at,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// Health reports liveness, whether an account is linked and the current
// bed state. A failing component turns the response into a 503.
// @Summary Health check
// @Success 200 {object} healthResponse
// @Failure 503 {object} healthResponse
// @Router /health [get]
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	snapshot := h.detector.Snapshot()
	resp := healthResponse{
		Status:     "ok",
		Authorized: h.tokens.Authorized(ctx),
		BedState:   snapshot.State.String(),
	}
	if !snapshot.ChangedAt.IsZero() {
		changedAt := snapshot.ChangedAt
		resp.ChangedAt = &changedAt
	}

	status := http.StatusOK
	if len(h.checks) > 0 {
		resp.Components = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				h.logger.Error("Health check failed", err, logging.String("check", name))
				resp.Components[name] = "error"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	h.sendJSONStatus(w, status, resp)
}
