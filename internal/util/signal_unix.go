//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals returns the signals that trigger graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// GracefulSignal asks a child process to stop cleanly. FFmpeg finalizes
// its output on SIGINT, so the artifact stays playable.
func GracefulSignal(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}
