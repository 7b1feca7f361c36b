//go:build windows

package commands

import (
	"os"
	"os/signal"
)

// Windows has no SIGUSR1/2; pause and resume go through the HTTP server.
var signalActions = map[os.Signal]string{}

// notifyControlSignals subscribes to the cancel signal.
func notifyControlSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, os.Interrupt)
	return ch, func() { signal.Stop(ch) }
}
