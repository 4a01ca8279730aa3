package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/echoport/pkg/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	mu         sync.Mutex
	phase      server.Phase
	cycle      int
	conns      []server.ConnectionInfo
	restarts   int
	terminated bool
	restartErr error
}

func (f *fakeServer) Phase() server.Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *fakeServer) Status() server.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return server.Status{
		Phase:       f.phase.String(),
		Cycle:       f.cycle,
		Address:     "127.0.0.1:5001",
		Connections: len(f.conns),
	}
}

func (f *fakeServer) Connections() []server.ConnectionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns
}

func (f *fakeServer) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restartErr != nil {
		return f.restartErr
	}
	f.restarts++
	return nil
}

func (f *fakeServer) Terminate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
}

func TestLiveness(t *testing.T) {
	for _, phase := range []server.Phase{server.PhaseStarting, server.PhaseRunning, server.PhaseDraining} {
		t.Run(phase.String(), func(t *testing.T) {
			h := NewHealthHandler(&fakeServer{phase: phase})
			w := httptest.NewRecorder()
			h.Liveness(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, http.StatusOK, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, "healthy", resp.Status)
			data, ok := resp.Data.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "echoport", data["service"])
			assert.Equal(t, phase.String(), data["phase"])
		})
	}
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		phase server.Phase
		code  int
	}{
		{server.PhaseIdle, http.StatusServiceUnavailable},
		{server.PhaseStarting, http.StatusServiceUnavailable},
		{server.PhaseRunning, http.StatusOK},
		{server.PhaseDraining, http.StatusServiceUnavailable},
		{server.PhaseRestarting, http.StatusServiceUnavailable},
		{server.PhaseStopped, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			h := NewHealthHandler(&fakeServer{phase: tt.phase, cycle: 1})
			w := httptest.NewRecorder()
			h.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.code, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			if tt.code == http.StatusOK {
				assert.Equal(t, "healthy", resp.Status)
			} else {
				assert.Equal(t, "unhealthy", resp.Status)
				assert.Contains(t, resp.Error, tt.phase.String())
			}
		})
	}
}

func TestStatusAndConnections(t *testing.T) {
	since := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	srv := &fakeServer{
		phase: server.PhaseRunning,
		cycle: 2,
		conns: []server.ConnectionInfo{{Key: 7, ID: "abc", Remote: "10.0.0.1:4000", State: "reading", Since: since}},
	}
	h := NewServerHandler(srv)

	w := httptest.NewRecorder()
	h.Status(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var st server.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, "running", st.Phase)
	assert.Equal(t, 2, st.Cycle)
	assert.Equal(t, 1, st.Connections)

	w = httptest.NewRecorder()
	h.Connections(w, httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var conns []server.ConnectionInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&conns))
	require.Len(t, conns, 1)
	assert.Equal(t, uint64(7), conns[0].Key)
	assert.True(t, since.Equal(conns[0].Since))
}

func TestConnections_EmptyIsArray(t *testing.T) {
	h := NewServerHandler(&fakeServer{phase: server.PhaseRunning})
	w := httptest.NewRecorder()
	h.Connections(w, httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil))

	assert.JSONEq(t, "[]", w.Body.String())
}

func TestRestart(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		srv := &fakeServer{phase: server.PhaseRunning}
		w := httptest.NewRecorder()
		NewServerHandler(srv).Restart(w, httptest.NewRequest(http.MethodPost, "/api/v1/restart", nil))

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, 1, srv.restarts)
	})

	t.Run("not running", func(t *testing.T) {
		srv := &fakeServer{phase: server.PhaseDraining, restartErr: server.ErrNotRunning}
		w := httptest.NewRecorder()
		NewServerHandler(srv).Restart(w, httptest.NewRequest(http.MethodPost, "/api/v1/restart", nil))

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, ContentTypeProblemJSON, w.Header().Get("Content-Type"))
		var p Problem
		require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
		assert.Equal(t, http.StatusConflict, p.Status)
		assert.Contains(t, p.Detail, "draining")
	})
}

func TestShutdown(t *testing.T) {
	srv := &fakeServer{phase: server.PhaseRunning}
	w := httptest.NewRecorder()
	NewServerHandler(srv).Shutdown(w, httptest.NewRequest(http.MethodPost, "/api/v1/shutdown", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, srv.terminated)

	var resp ActionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "shutdown", resp.Action)
}
