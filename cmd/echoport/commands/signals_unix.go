//go:build !windows

package commands

import (
	"os"
	"os/signal"
	"syscall"
)

// notifySignals subscribes to terminate (SIGINT, SIGTERM) and soft-break
// (SIGHUP) signals.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
}

func isRestartSignal(sig os.Signal) bool {
	return sig == syscall.SIGHUP
}
