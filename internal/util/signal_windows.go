//go:build windows

package util

import "os"

// ShutdownSignals returns the signals that should trigger graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
