package handlers

import (
	"errors"
	"net/http"

	"github.com/marmos91/echoport/internal/logger"
	"github.com/marmos91/echoport/pkg/server"
)

// ServerHandler serves the status and lifecycle endpoints.
type ServerHandler struct {
	srv ServerControl
}

// NewServerHandler creates a new server handler.
func NewServerHandler(srv ServerControl) *ServerHandler {
	return &ServerHandler{srv: srv}
}

// ActionResponse acknowledges a lifecycle request.
type ActionResponse struct {
	Action string        `json:"action"`
	Status server.Status `json:"status"`
}

// Status handles GET /api/v1/status.
func (h *ServerHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, h.srv.Status())
}

// Connections handles GET /api/v1/connections.
func (h *ServerHandler) Connections(w http.ResponseWriter, r *http.Request) {
	conns := h.srv.Connections()
	if conns == nil {
		conns = []server.ConnectionInfo{}
	}
	WriteJSONOK(w, conns)
}

// Restart handles POST /api/v1/restart. The current cycle is drained and a
// new one listens on the same port; the response does not wait for it.
func (h *ServerHandler) Restart(w http.ResponseWriter, r *http.Request) {
	if err := h.srv.Restart(); err != nil {
		if errors.Is(err, server.ErrNotRunning) {
			Conflict(w, "server is "+h.srv.Phase().String()+"; only a running server can restart")
			return
		}
		InternalServerError(w, err.Error())
		return
	}
	logger.Info("Restart requested through the control API", "remote_addr", r.RemoteAddr)
	WriteJSON(w, http.StatusAccepted, ActionResponse{Action: "restart", Status: h.srv.Status()})
}

// Shutdown handles POST /api/v1/shutdown.
func (h *ServerHandler) Shutdown(w http.ResponseWriter, r *http.Request) {
	logger.Info("Shutdown requested through the control API", "remote_addr", r.RemoteAddr)
	st := h.srv.Status()
	h.srv.Terminate()
	WriteJSON(w, http.StatusAccepted, ActionResponse{Action: "shutdown", Status: st})
}
