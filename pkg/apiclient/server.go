package apiclient

import (
	"time"

	"github.com/marmos91/echoport/pkg/server"
)

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ActionResponse acknowledges a restart or shutdown request.
type ActionResponse struct {
	Action string        `json:"action"`
	Status server.Status `json:"status"`
}

// Health calls GET /health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get("/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ready calls GET /health/ready. A server that is not running returns an
// *APIError for which IsUnavailable is true.
func (c *Client) Ready() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get("/health/ready", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the server status snapshot.
func (c *Client) Status() (*server.Status, error) {
	var st server.Status
	if err := c.get("/api/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Connections lists the live connections.
func (c *Client) Connections() ([]server.ConnectionInfo, error) {
	var conns []server.ConnectionInfo
	if err := c.get("/api/v1/connections", &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

// Restart asks the server to drain and start a new serve cycle.
// Requires an admin token.
func (c *Client) Restart() (*ActionResponse, error) {
	var resp ActionResponse
	if err := c.post("/api/v1/restart", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the server to terminate. Requires an admin token.
func (c *Client) Shutdown() (*ActionResponse, error) {
	var resp ActionResponse
	if err := c.post("/api/v1/shutdown", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
