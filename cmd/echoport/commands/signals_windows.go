//go:build windows

package commands

import (
	"os"
	"os/signal"
	"syscall"
)

// notifySignals subscribes to console interrupt and close events. Windows has
// no soft-break signal; restarts go through the control API.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}

func isRestartSignal(os.Signal) bool {
	return false
}
