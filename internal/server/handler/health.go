package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves GET /api/health.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	now       func() time.Time
	inFlight  func() int
	notify    bool
}

// NewHealthHandler creates a HealthHandler for an agent running in mode.
func NewHealthHandler(mode string, startedAt time.Time) *HealthHandler {
	return &HealthHandler{mode: mode, startedAt: startedAt, now: time.Now}
}

// WithInFlight reports the number of executing orders from f.
func (h *HealthHandler) WithInFlight(f func() int) *HealthHandler {
	h.inFlight = f
	return h
}

// WithNotifications reports whether alert senders are configured.
func (h *HealthHandler) WithNotifications(enabled bool) *HealthHandler {
	h.notify = enabled
	return h
}

// HealthCheck reports liveness and the running mode.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	body := map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(now.Sub(h.startedAt).Seconds()),
		"notifications":  h.notify,
		"timestamp":      now.UTC().Format(time.RFC3339),
	}
	if h.inFlight != nil {
		body["in_flight_orders"] = h.inFlight()
	}
	writeJSON(w, http.StatusOK, body)
}
