package handlers

import "github.com/marmos91/echoport/pkg/server"

// ServerControl is the part of the echo server the API drives.
// *server.Server implements it.
type ServerControl interface {
	Phase() server.Phase
	Status() server.Status
	Connections() []server.ConnectionInfo
	Restart() error
	Terminate()
}
