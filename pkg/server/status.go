package server

import "time"

// Phase is the lifecycle state of the server.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseDraining
	PhaseRestarting
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseRestarting:
		return "restarting"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of the server.
type Status struct {
	Phase          string    `json:"phase" yaml:"phase"`
	Cycle          int       `json:"cycle" yaml:"cycle"`
	CycleID        string    `json:"cycle_id,omitempty" yaml:"cycle_id,omitempty"`
	Address        string    `json:"address,omitempty" yaml:"address,omitempty"`
	Driver         string    `json:"driver" yaml:"driver"`
	AcceptMode     string    `json:"accept_mode" yaml:"accept_mode"`
	PendingAccepts int       `json:"pending_accepts" yaml:"pending_accepts"`
	Workers        int       `json:"workers" yaml:"workers"`
	Connections    int       `json:"connections" yaml:"connections"`
	Accepted       int64     `json:"accepted" yaml:"accepted"`
	Closed         int64     `json:"closed" yaml:"closed"`
	Rejected       int64     `json:"rejected" yaml:"rejected"`
	BytesEchoed    int64     `json:"bytes_echoed" yaml:"bytes_echoed"`
	Completions    int64     `json:"completions" yaml:"completions"`
	StartedAt      time.Time `json:"started_at,omitzero" yaml:"started_at,omitempty"`
}

// ConnectionInfo describes one live connection.
type ConnectionInfo struct {
	Key         uint64    `json:"key" yaml:"key"`
	ID          string    `json:"id" yaml:"id"`
	Remote      string    `json:"remote" yaml:"remote"`
	State       string    `json:"state" yaml:"state"`
	Since       time.Time `json:"since" yaml:"since"`
	BytesEchoed int64     `json:"bytes_echoed" yaml:"bytes_echoed"`
}
