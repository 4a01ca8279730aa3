package handlers

import (
	"net/http"
	"time"

	"github.com/marmos91/echoport/pkg/server"
)

// HealthHandler handles the unauthenticated health endpoints.
type HealthHandler struct {
	srv       ServerControl
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(srv ServerControl) *HealthHandler {
	return &HealthHandler{srv: srv, startTime: time.Now()}
}

// Liveness handles GET /health. It succeeds while the process is up,
// whatever the server phase.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	WriteJSONOK(w, healthyResponse(map[string]any{
		"service":    "echoport",
		"phase":      h.srv.Phase().String(),
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

// Readiness handles GET /health/ready. It returns 200 only while the server
// is running; starting, draining and restarting report 503.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	st := h.srv.Status()
	data := map[string]any{
		"phase":       st.Phase,
		"cycle":       st.Cycle,
		"address":     st.Address,
		"connections": st.Connections,
	}
	if h.srv.Phase() != server.PhaseRunning {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse("server is "+st.Phase, data))
		return
	}
	WriteJSONOK(w, healthyResponse(data))
}
