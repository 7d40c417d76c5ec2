//go:build unix || darwin || linux
// +build unix darwin linux

package executor

import (
	"syscall"
)

// sendTermSignal asks the trainer to shut down gracefully. Lightning traps
// SIGTERM and saves last.ckpt before exiting, so this always precedes a kill.
func sendTermSignal(proc processHandle) error {
	if proc == nil {
		return nil
	}
	return proc.Signal(syscall.SIGTERM)
}
