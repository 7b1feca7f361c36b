//go:build !windows

package commands

import (
	"os"
	"os/signal"
	"syscall"
)

var signalActions = map[os.Signal]string{
	syscall.SIGUSR1: "pause",
	syscall.SIGUSR2: "resume",
}

// notifyControlSignals subscribes to cancel, pause and resume signals.
func notifyControlSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	return ch, func() { signal.Stop(ch) }
}
